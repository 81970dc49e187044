package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/coursedex/coursedex/internal/course"
	"github.com/coursedex/coursedex/internal/embed"
	dexerrors "github.com/coursedex/coursedex/internal/errors"
	"github.com/coursedex/coursedex/internal/store"
	"github.com/coursedex/coursedex/internal/vector"
)

// Checkpoint state keys in the store's state table.
const (
	stateCursor = "backfill:cursor"
	stateRunID  = "backfill:run_id"
	stateModel  = "backfill:model"
)

// Config tunes a Coordinator.
type Config struct {
	// Workers bounds the per-page resync pool.
	Workers int

	// PageSize is the scan page size.
	PageSize int

	// LockPath is the cross-process lock file guarding backfills.
	// Empty disables locking.
	LockPath string

	// IndexPath, when set, persists the vector index after every page
	// and at the end of a run, so a resumed run starts from the last
	// checkpointed page instead of an empty index.
	IndexPath string
}

// Coordinator reconciles the course store with the vector index.
type Coordinator struct {
	courses  *store.CourseStore
	state    store.StateStore
	index    *vector.Index
	embedder embed.Embedder
	cfg      Config
}

// Report summarizes a backfill run.
type Report struct {
	RunID    string
	Resumed  bool
	Pages    int
	Synced   int
	Skipped  int
	Duration time.Duration
}

// NewCoordinator wires a coordinator over the given components.
func NewCoordinator(courses *store.CourseStore, state store.StateStore, index *vector.Index, embedder embed.Embedder, cfg Config) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	return &Coordinator{
		courses:  courses,
		state:    state,
		index:    index,
		embedder: embedder,
		cfg:      cfg,
	}
}

// Backfill re-embeds and resyncs every stored course into the vector
// index. One record's failure is logged and skipped, never fatal to the
// run; fatal errors (dimension mismatch, missing index) abort it. The
// scan cursor is checkpointed after each page so an interrupted run
// resumes where it stopped, and a checkpoint written under a different
// embedding model is discarded rather than resumed.
func (c *Coordinator) Backfill(ctx context.Context) (*Report, error) {
	if c.cfg.LockPath != "" {
		lock := flock.New(c.cfg.LockPath)
		acquired, err := lock.TryLock()
		if err != nil {
			return nil, dexerrors.New(dexerrors.ErrCodeStoreIO, "acquire backfill lock", err)
		}
		if !acquired {
			return nil, dexerrors.New(dexerrors.ErrCodeStoreLocked, "another backfill is running", nil)
		}
		defer func() { _ = lock.Unlock() }()
	}

	start := time.Now()
	report := &Report{}

	cursor, err := c.loadCheckpoint(ctx, report)
	if err != nil {
		return nil, err
	}

	slog.Info("backfill_started",
		slog.String("run_id", report.RunID),
		slog.Bool("resumed", report.Resumed),
		slog.String("model", c.embedder.ModelName()))

	var synced, skipped atomic.Int64

	err = c.courses.ScanFrom(ctx, cursor, c.cfg.PageSize, nil, func(page []*course.Course, next string) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.Workers)

		for _, crs := range page {
			g.Go(func() error {
				if err := c.ResyncOne(gctx, crs); err != nil {
					if dexerrors.IsFatal(err) || gctx.Err() != nil {
						return err
					}
					skipped.Add(1)
					slog.Warn("backfill_record_skipped",
						slog.String("id", crs.ID),
						slog.String("error", err.Error()))
					return nil
				}
				synced.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		report.Pages++
		return c.checkpoint(ctx, next, report.RunID)
	})

	report.Synced = int(synced.Load())
	report.Skipped = int(skipped.Load())
	report.Duration = time.Since(start)

	if err != nil {
		slog.Error("backfill_aborted",
			slog.String("run_id", report.RunID),
			slog.Int("synced", report.Synced),
			slog.String("error", err.Error()))
		return report, err
	}

	if err := c.clearCheckpoint(ctx); err != nil {
		return report, err
	}
	if err := c.saveIndex(); err != nil {
		return report, err
	}

	slog.Info("backfill_finished",
		slog.String("run_id", report.RunID),
		slog.Int("pages", report.Pages),
		slog.Int("synced", report.Synced),
		slog.Int("skipped", report.Skipped),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// ResyncOne brings the index's view of one course up to date. The
// delete-then-insert order is mandatory: insert never replaces, so
// deleting first is what keeps the index at one document per id.
func (c *Coordinator) ResyncOne(ctx context.Context, crs *course.Course) error {
	text := BuildText(crs)
	if text == "" {
		return dexerrors.InvalidRecord(fmt.Sprintf("course %s has no embeddable text", crs.ID))
	}

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}

	c.index.DeleteAll(crs.ID)
	_, err = c.index.Insert(documentFor(crs), vec)
	return err
}

// documentFor denormalizes the filter fields the index serves without
// a store lookup.
func documentFor(crs *course.Course) vector.Document {
	return vector.Document{
		ID:             crs.ID,
		Title:          crs.Title,
		SubjectPrimary: crs.SubjectPrimary(),
		PartnerPrimary: crs.PartnerPrimary(),
		Level:          crs.Level,
		Skills:         strings.Join(crs.Skills, ", "),
		Platform:       string(crs.Platform),
		LastUpdated:    crs.UpdatedAt,
	}
}

// IngestRaw normalizes raw provider records and writes them to the
// course store, overwriting existing items. Records that cannot be
// normalized or written are logged, counted, and dropped; they never
// abort the batch. Returns (stored, dropped).
func (c *Coordinator) IngestRaw(ctx context.Context, raws []map[string]any, platform course.Platform) (int, int, error) {
	courses := make([]*course.Course, 0, len(raws))
	dropped := 0

	for _, raw := range raws {
		crs, err := course.Normalize(raw, platform)
		if err != nil {
			dropped++
			slog.Warn("ingest_record_dropped",
				slog.String("platform", string(platform)),
				slog.String("error", err.Error()))
			continue
		}
		courses = append(courses, crs)
	}

	stored, failed, err := c.courses.PutMany(ctx, courses, true)
	if err != nil {
		return stored, dropped, err
	}
	if len(failed) > 0 {
		dropped += len(failed)
		slog.Warn("ingest_items_unsubmitted",
			slog.String("platform", string(platform)),
			slog.Int("count", len(failed)))
	}
	return stored, dropped, nil
}

func (c *Coordinator) loadCheckpoint(ctx context.Context, report *Report) (string, error) {
	model, err := c.state.GetState(ctx, stateModel)
	if err != nil {
		return "", err
	}

	if model == c.embedder.ModelName() {
		cursor, err := c.state.GetState(ctx, stateCursor)
		if err != nil {
			return "", err
		}
		if cursor != "" {
			runID, err := c.state.GetState(ctx, stateRunID)
			if err != nil {
				return "", err
			}
			report.RunID = runID
			report.Resumed = true
			return cursor, nil
		}
	} else if model != "" {
		slog.Info("backfill_checkpoint_discarded",
			slog.String("checkpoint_model", model),
			slog.String("current_model", c.embedder.ModelName()))
		if err := c.clearCheckpoint(ctx); err != nil {
			return "", err
		}
	}

	report.RunID = uuid.NewString()
	return "", nil
}

func (c *Coordinator) checkpoint(ctx context.Context, cursor, runID string) error {
	if cursor == "" {
		return nil
	}
	if err := c.state.SetState(ctx, stateCursor, cursor); err != nil {
		return err
	}
	if err := c.state.SetState(ctx, stateRunID, runID); err != nil {
		return err
	}
	if err := c.state.SetState(ctx, stateModel, c.embedder.ModelName()); err != nil {
		return err
	}
	if err := c.saveIndex(); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) clearCheckpoint(ctx context.Context) error {
	for _, key := range []string{stateCursor, stateRunID, stateModel} {
		if err := c.state.DeleteState(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) saveIndex() error {
	if c.cfg.IndexPath == "" {
		return nil
	}
	return c.index.Save(c.cfg.IndexPath)
}
