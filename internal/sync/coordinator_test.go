package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursedex/coursedex/internal/course"
	"github.com/coursedex/coursedex/internal/embed"
	"github.com/coursedex/coursedex/internal/store"
	"github.com/coursedex/coursedex/internal/vector"
)

type harness struct {
	kv       *store.SQLiteKV
	courses  *store.CourseStore
	index    *vector.Index
	embedder embed.Embedder
	coord    *Coordinator
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	kv, err := store.NewSQLiteKV(filepath.Join(t.TempDir(), "courses.db"), store.SQLiteOptions{
		SecondaryIndexes: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	index, err := vector.NewIndex(vector.DefaultConfig(64))
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	embedder := embed.NewStaticEmbedder(64)
	courses := store.NewCourseStore(kv)

	return &harness{
		kv:       kv,
		courses:  courses,
		index:    index,
		embedder: embedder,
		coord:    NewCoordinator(courses, kv, index, embedder, cfg),
	}
}

func storedCourse(id, title string) *course.Course {
	return &course.Course{
		ID:       id,
		Title:    title,
		Platform: course.PlatformEdx,
		Subjects: []string{"Computer Science"},
	}
}

func TestBackfill_SyncsAllCourses(t *testing.T) {
	// Given: 12 stored courses and an empty index
	h := newHarness(t, Config{Workers: 2, PageSize: 5})
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		require.NoError(t, h.courses.Upsert(ctx, storedCourse(fmt.Sprintf("c%02d", i), "Course")))
	}

	// When: I backfill
	report, err := h.coord.Backfill(ctx)
	require.NoError(t, err)

	// Then: every course has exactly one index document
	assert.Equal(t, 12, report.Synced)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 3, report.Pages)
	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.Resumed)
	assert.Equal(t, 12, h.index.Count())
	assert.Empty(t, h.index.DuplicateIDs())

	// And: the checkpoint is cleared
	cursor, serr := h.kv.GetState(ctx, stateCursor)
	require.NoError(t, serr)
	assert.Empty(t, cursor)
}

func TestBackfill_RescrapeKeepsOneDocument(t *testing.T) {
	// Given: two raw records sharing id "abc" with different titles,
	// simulating a re-scrape
	h := newHarness(t, Config{Workers: 2, PageSize: 10})
	ctx := context.Background()

	raws := []map[string]any{
		{"uuid": "abc", "title": "Old Python Course", "subject": []any{"CS"}},
		{"uuid": "abc", "title": "New Python Course", "subject": []any{"CS"}},
	}
	stored, dropped, err := h.coord.IngestRaw(ctx, raws, course.PlatformEdx)
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
	assert.Equal(t, 0, dropped)

	// Then: the store holds the second title
	got, err := h.courses.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "New Python Course", got.Title)

	// When: I backfill twice in a row
	_, err = h.coord.Backfill(ctx)
	require.NoError(t, err)
	_, err = h.coord.Backfill(ctx)
	require.NoError(t, err)

	// Then: exactly one document exists for "abc"
	assert.Equal(t, 1, h.index.Count())
	assert.Empty(t, h.index.DuplicateIDs())
}

func TestBackfill_SkipsFailingRecordAndContinues(t *testing.T) {
	// Given: one course with no embeddable text among good ones
	h := newHarness(t, Config{Workers: 2, PageSize: 10})
	ctx := context.Background()

	require.NoError(t, h.courses.Upsert(ctx, storedCourse("a", "Good Course")))
	require.NoError(t, h.kv.PutItem(ctx, &course.Course{ID: "b"}, nil))
	require.NoError(t, h.courses.Upsert(ctx, storedCourse("c", "Another Good Course")))

	// When: I backfill
	report, err := h.coord.Backfill(ctx)

	// Then: the bad record is skipped, the run completes
	require.NoError(t, err)
	assert.Equal(t, 2, report.Synced)
	assert.Equal(t, 1, report.Skipped)
	assert.True(t, h.index.Contains("a"))
	assert.False(t, h.index.Contains("b"))
	assert.True(t, h.index.Contains("c"))
}

func TestBackfill_ResumesFromCheckpoint(t *testing.T) {
	// Given: 10 courses and a checkpoint pointing past the first five
	h := newHarness(t, Config{Workers: 1, PageSize: 5})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, h.courses.Upsert(ctx, storedCourse(fmt.Sprintf("c%02d", i), "Course")))
	}
	require.NoError(t, h.kv.SetState(ctx, stateCursor, "c04"))
	require.NoError(t, h.kv.SetState(ctx, stateRunID, "run-1"))
	require.NoError(t, h.kv.SetState(ctx, stateModel, h.embedder.ModelName()))

	// When: I backfill
	report, err := h.coord.Backfill(ctx)
	require.NoError(t, err)

	// Then: the run resumed and only processed the remaining courses
	assert.True(t, report.Resumed)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 5, report.Synced)
	assert.False(t, h.index.Contains("c00"))
	assert.True(t, h.index.Contains("c05"))
}

func TestBackfill_DiscardsCheckpointFromOtherModel(t *testing.T) {
	// Given: a checkpoint written under a different embedding model
	h := newHarness(t, Config{Workers: 1, PageSize: 5})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, h.courses.Upsert(ctx, storedCourse(fmt.Sprintf("c%d", i), "Course")))
	}
	require.NoError(t, h.kv.SetState(ctx, stateCursor, "c2"))
	require.NoError(t, h.kv.SetState(ctx, stateModel, "some-other-model"))

	// When: I backfill
	report, err := h.coord.Backfill(ctx)
	require.NoError(t, err)

	// Then: the stale checkpoint is discarded and everything is synced
	assert.False(t, report.Resumed)
	assert.Equal(t, 4, report.Synced)
	assert.True(t, h.index.Contains("c0"))
}

func TestResyncOne_DeleteThenInsert(t *testing.T) {
	// Given: "abc" indexed twice through direct inserts
	h := newHarness(t, Config{})
	ctx := context.Background()
	vec, err := h.embedder.Embed(ctx, "stale text")
	require.NoError(t, err)
	_, err = h.index.Insert(vector.Document{ID: "abc"}, vec)
	require.NoError(t, err)
	_, err = h.index.Insert(vector.Document{ID: "abc"}, vec)
	require.NoError(t, err)

	// When: I resync the course
	err = h.coord.ResyncOne(ctx, storedCourse("abc", "Fresh Title"))
	require.NoError(t, err)

	// Then: exactly one document remains
	assert.Equal(t, 1, h.index.Count())
	assert.Empty(t, h.index.DuplicateIDs())
}

func TestResyncOne_WritesDenormalizedPayload(t *testing.T) {
	// Given: a course with filter fields
	h := newHarness(t, Config{})
	ctx := context.Background()
	crs := storedCourse("abc", "Python Basics")
	crs.Level = "Introductory"
	crs.Partners = []string{"MITx", "HarvardX"}
	crs.Skills = []string{"python", "testing"}

	// When: I resync it
	require.NoError(t, h.coord.ResyncOne(ctx, crs))

	// Then: the index document answers with the denormalized fields,
	// no store lookup needed
	vec, err := h.embedder.Embed(ctx, BuildText(crs))
	require.NoError(t, err)
	results, err := h.index.Search(vec, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	d := results[0].Document
	assert.Equal(t, "Python Basics", d.Title)
	assert.Equal(t, "Computer Science", d.SubjectPrimary)
	assert.Equal(t, "MITx", d.PartnerPrimary)
	assert.Equal(t, "Introductory", d.Level)
	assert.Equal(t, "python, testing", d.Skills)
	assert.Equal(t, "edx", d.Platform)
}

func TestIngestRaw_DropsUnmappableRecords(t *testing.T) {
	// Given: a batch where one record has no identifier
	h := newHarness(t, Config{})
	ctx := context.Background()

	raws := []map[string]any{
		{"uuid": "a", "title": "Course A"},
		{"title": "No ID"},
		{"uuid": "b", "title": "Course B"},
	}

	// When: I ingest
	stored, dropped, err := h.coord.IngestRaw(ctx, raws, course.PlatformEdx)

	// Then: the bad record is dropped, the rest land
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	assert.Equal(t, 1, dropped)

	n, cerr := h.courses.Count(ctx)
	require.NoError(t, cerr)
	assert.Equal(t, 2, n)
}

func TestAudit_DetectsAndRepairsDrift(t *testing.T) {
	// Given: a store and index that disagree three ways
	h := newHarness(t, Config{PageSize: 10})
	ctx := context.Background()

	require.NoError(t, h.courses.Upsert(ctx, storedCourse("in-both", "Course")))
	require.NoError(t, h.courses.Upsert(ctx, storedCourse("store-only", "Course")))

	vec, err := h.embedder.Embed(ctx, "text")
	require.NoError(t, err)
	_, err = h.index.Insert(vector.Document{ID: "in-both"}, vec)
	require.NoError(t, err)
	_, err = h.index.Insert(vector.Document{ID: "in-both"}, vec) // duplicate
	require.NoError(t, err)
	_, err = h.index.Insert(vector.Document{ID: "index-only"}, vec)
	require.NoError(t, err)

	// When: I audit without repair
	report, err := h.coord.Audit(ctx, false)
	require.NoError(t, err)

	// Then: every kind of drift is reported
	assert.False(t, report.Consistent())
	assert.Equal(t, 2, report.StoreCount)
	assert.Equal(t, 3, report.IndexDocuments)
	assert.Equal(t, map[string]int{"in-both": 2}, report.Duplicates)
	assert.Equal(t, []string{"store-only"}, report.MissingFromIndex)
	assert.Equal(t, []string{"index-only"}, report.OrphanedInIndex)
	assert.Equal(t, 0, report.Repaired)

	// When: I audit with repair
	report, err = h.coord.Audit(ctx, true)
	require.NoError(t, err)

	// Then: the duplicate is collapsed; missing and orphaned remain
	// for backfill and manual cleanup respectively
	assert.Equal(t, 1, report.Repaired)
	assert.Empty(t, report.Duplicates)
	assert.Equal(t, 2, report.IndexDocuments)
}

func TestCollectStats(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.courses.Upsert(ctx, storedCourse("a", "Course")))
	vec, err := h.embedder.Embed(ctx, "text")
	require.NoError(t, err)
	_, err = h.index.Insert(vector.Document{ID: "a"}, vec)
	require.NoError(t, err)
	_, err = h.index.Insert(vector.Document{ID: "a"}, vec)
	require.NoError(t, err)

	stats, err := h.coord.CollectStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.StoreCount)
	assert.Equal(t, 2, stats.IndexDocuments)
	assert.Equal(t, 1, stats.IndexUniqueIDs)
	assert.Equal(t, 1, stats.DuplicateIDs)
}
