package vector

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dexerrors "github.com/coursedex/coursedex/internal/errors"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := NewIndex(DefaultConfig(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func doc(id string) Document {
	return Document{
		ID:             id,
		Title:          "Course " + id,
		SubjectPrimary: "Computer Science",
		PartnerPrimary: "MITx",
		Platform:       "edx",
	}
}

func TestIndex_InsertAndSearch(t *testing.T) {
	// Given: three documents
	ix := newTestIndex(t)
	_, err := ix.Insert(doc("a"), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	_, err = ix.Insert(doc("b"), []float32{0, 1, 0, 0})
	require.NoError(t, err)
	_, err = ix.Insert(doc("c"), []float32{0.9, 0.1, 0, 0})
	require.NoError(t, err)

	// When: I search near "a" with k=2
	results, err := ix.Search([]float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)

	// Then: "a" first, "c" second, scores descending
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Greater(t, results[0].Score, float32(0.99))
}

func TestIndex_SearchReturnsDocumentPayload(t *testing.T) {
	// Given: a document with denormalized filter fields
	ix := newTestIndex(t)
	d := Document{
		ID:             "a",
		Title:          "Machine Learning",
		SubjectPrimary: "Data Science",
		PartnerPrimary: "HarvardX",
		Level:          "Advanced",
		Skills:         "python, statistics",
		Platform:       "edx",
	}
	_, err := ix.Insert(d, []float32{1, 0, 0, 0})
	require.NoError(t, err)

	// When: I search
	results, err := ix.Search([]float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Then: the hit carries the payload, no store lookup needed
	assert.Equal(t, d, results[0].Document)

	// And: the payload survives save and load
	path := filepath.Join(t.TempDir(), "courses.hnsw")
	require.NoError(t, ix.Save(path))
	loaded, err := Load(path, DefaultConfig(4))
	require.NoError(t, err)
	defer func() { _ = loaded.Close() }()

	results, err = loaded.Search([]float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, d, results[0].Document)
}

func TestIndex_DimensionMismatchIsFatal(t *testing.T) {
	ix := newTestIndex(t)

	// When: I insert a vector of the wrong width
	_, err := ix.Insert(doc("a"), []float32{1, 0})

	// Then: the insert fails fatally
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeDimensionMismatch, dexerrors.GetCode(err))
	assert.True(t, dexerrors.IsFatal(err))

	// And: so does a query of the wrong width
	_, err = ix.Search([]float32{1, 0}, 1)
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeDimensionMismatch, dexerrors.GetCode(err))
}

func TestIndex_InsertPermitsDuplicates(t *testing.T) {
	// Given: the same id inserted twice
	ix := newTestIndex(t)
	h1, err := ix.Insert(doc("a"), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	h2, err := ix.Insert(doc("a"), []float32{0.8, 0.2, 0, 0})
	require.NoError(t, err)

	// Then: both documents exist under distinct, increasing handles
	assert.Less(t, h1, h2)
	assert.Equal(t, 2, ix.Count())
	assert.Equal(t, 1, ix.UniqueIDs())

	// And: a search can return the same id twice
	results, err := ix.Search([]float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "a", results[1].ID)
}

func TestIndex_DeleteAllRemovesEveryDocument(t *testing.T) {
	// Given: "a" indexed twice, "b" once
	ix := newTestIndex(t)
	for _, v := range [][]float32{{1, 0, 0, 0}, {0.9, 0.1, 0, 0}} {
		_, err := ix.Insert(doc("a"), v)
		require.NoError(t, err)
	}
	_, err := ix.Insert(doc("b"), []float32{0, 1, 0, 0})
	require.NoError(t, err)

	// When: I delete all documents for "a"
	removed := ix.DeleteAll("a")

	// Then: both copies are gone and "b" survives
	assert.Equal(t, 2, removed)
	assert.False(t, ix.Contains("a"))
	assert.True(t, ix.Contains("b"))
	assert.Equal(t, 1, ix.Count())

	// And: searches never surface the orphaned nodes
	results, serr := ix.Search([]float32{1, 0, 0, 0}, 3)
	require.NoError(t, serr)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)

	// And: deleting an absent id is a no-op
	assert.Equal(t, 0, ix.DeleteAll("a"))
}

func TestIndex_DuplicateAuditAndRepair(t *testing.T) {
	// Given: "a" indexed three times, "b" once
	ix := newTestIndex(t)
	var first uint64
	for i, v := range [][]float32{{1, 0, 0, 0}, {0.9, 0.1, 0, 0}, {0.8, 0.2, 0, 0}} {
		h, err := ix.Insert(doc("a"), v)
		require.NoError(t, err)
		if i == 0 {
			first = h
		}
	}
	_, err := ix.Insert(doc("b"), []float32{0, 1, 0, 0})
	require.NoError(t, err)

	// When: I audit for duplicates
	dups := ix.DuplicateIDs()

	// Then: only "a" is reported, with its document count
	assert.Equal(t, map[string]int{"a": 3}, dups)

	// When: I repair
	removed := ix.RepairDuplicates()

	// Then: the two newer documents are removed, the oldest survives
	assert.Equal(t, 2, removed)
	assert.Empty(t, ix.DuplicateIDs())
	assert.Equal(t, 2, ix.Count())

	results, serr := ix.Search([]float32{1, 0, 0, 0}, 1)
	require.NoError(t, serr)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, first, results[0].Handle)
}

func TestIndex_SearchShorterThanK(t *testing.T) {
	// Given: two documents
	ix := newTestIndex(t)
	_, err := ix.Insert(doc("a"), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	_, err = ix.Insert(doc("b"), []float32{0, 1, 0, 0})
	require.NoError(t, err)

	// When: I ask for 10
	results, err := ix.Search([]float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)

	// Then: I get what exists
	assert.Len(t, results, 2)
}

func TestIndex_SearchEmptyIndex(t *testing.T) {
	ix := newTestIndex(t)

	results, err := ix.Search([]float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndex_SaveAndLoad(t *testing.T) {
	// Given: an index with a duplicate and a deletion
	ix := newTestIndex(t)
	_, err := ix.Insert(doc("a"), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	_, err = ix.Insert(doc("a"), []float32{0.9, 0.1, 0, 0})
	require.NoError(t, err)
	_, err = ix.Insert(doc("b"), []float32{0, 1, 0, 0})
	require.NoError(t, err)
	ix.DeleteAll("b")

	path := filepath.Join(t.TempDir(), "courses.hnsw")

	// When: I save and load it back
	require.NoError(t, ix.Save(path))
	loaded, err := Load(path, DefaultConfig(4))
	require.NoError(t, err)
	defer func() { _ = loaded.Close() }()

	// Then: the duplicate survives the round trip, the deletion holds
	assert.Equal(t, 2, loaded.Count())
	assert.Equal(t, map[string]int{"a": 2}, loaded.DuplicateIDs())
	assert.False(t, loaded.Contains("b"))

	results, serr := loaded.Search([]float32{1, 0, 0, 0}, 2)
	require.NoError(t, serr)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
}

func TestIndex_LoadRejectsMismatchedDimensions(t *testing.T) {
	// Given: a saved 4-dimensional index
	ix := newTestIndex(t)
	_, err := ix.Insert(doc("a"), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "courses.hnsw")
	require.NoError(t, ix.Save(path))

	// When: I load it expecting 8 dimensions
	_, err = Load(path, DefaultConfig(8))

	// Then: the load fails fatally instead of serving wrong-shaped vectors
	require.Error(t, err)
	assert.Equal(t, dexerrors.ErrCodeDimensionMismatch, dexerrors.GetCode(err))
}

func TestIndex_LoadOrNewFreshStart(t *testing.T) {
	// Given: a path with no saved index
	path := filepath.Join(t.TempDir(), "courses.hnsw")

	// When: I LoadOrNew
	ix, err := LoadOrNew(path, DefaultConfig(4))
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	// Then: I get an empty index
	assert.Equal(t, 0, ix.Count())
	assert.Equal(t, 4, ix.Dimensions())
}
