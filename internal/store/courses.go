package store

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/coursedex/coursedex/internal/course"
	dexerrors "github.com/coursedex/coursedex/internal/errors"
)

// CourseStore is the handler over a KV backend. It owns the concerns the
// backend contract pushes onto callers: chunking to per-call limits,
// in-batch dedup, the bounded unprocessed-key retry loop, and the
// capability check before secondary-index queries.
type CourseStore struct {
	kv      KV
	retry   dexerrors.RetryConfig
	workers int
}

// Option configures a CourseStore.
type Option func(*CourseStore)

// WithRetryConfig overrides the backoff used for unprocessed keys and
// transient backend errors.
func WithRetryConfig(cfg dexerrors.RetryConfig) Option {
	return func(s *CourseStore) { s.retry = cfg }
}

// WithWriteWorkers bounds the ingestion worker pool used by PutMany.
func WithWriteWorkers(n int) Option {
	return func(s *CourseStore) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewCourseStore creates a handler over the given backend.
func NewCourseStore(kv KV, opts ...Option) *CourseStore {
	s := &CourseStore{
		kv:      kv,
		retry:   dexerrors.DefaultRetryConfig(),
		workers: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert writes one course unconditionally; last write wins. Idempotent.
func (s *CourseStore) Upsert(ctx context.Context, c *course.Course) error {
	return s.kv.PutItem(ctx, c, nil)
}

// InsertOnly writes one course and fails with ERR_404_ALREADY_EXISTS if
// the id is present. Conflicts are surfaced, never auto-retried.
func (s *CourseStore) InsertOnly(ctx context.Context, c *course.Course) error {
	return s.kv.PutItem(ctx, c, &Condition{Field: "id", Op: CondNotExists})
}

// PutMany writes a batch of courses and returns the count submitted
// together with the ids that could not be written.
//
// With overwrite (the default ingestion mode) items are deduplicated by
// id before submission, last one in the batch wins, and writes go out
// in backend-sized chunks across a bounded worker pool. Each item is
// independently keyed, so no cross-item locking is needed. A chunk that
// exhausts its transient-error retry budget surfaces its leftover ids
// as failed without aborting the sibling chunks; only context
// cancellation and fatal errors abort the call. Without overwrite each
// item goes through InsertOnly individually: slower and stricter, the
// first conflict aborts with AlreadyExists.
func (s *CourseStore) PutMany(ctx context.Context, courses []*course.Course, overwrite bool) (int, []string, error) {
	if len(courses) == 0 {
		return 0, nil, nil
	}

	if !overwrite {
		count := 0
		for _, c := range courses {
			if err := s.InsertOnly(ctx, c); err != nil {
				return count, nil, err
			}
			count++
		}
		return count, nil, nil
	}

	deduped := dedupeByID(courses)

	var submitted atomic.Int64
	var mu sync.Mutex
	var failed []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for start := 0; start < len(deduped); start += MaxWriteBatch {
		end := min(start+MaxWriteBatch, len(deduped))
		chunk := deduped[start:end]
		g.Go(func() error {
			leftover, err := s.writeChunk(gctx, chunk)
			submitted.Add(int64(len(chunk) - len(leftover)))
			if err != nil {
				if gctx.Err() != nil || dexerrors.IsFatal(err) {
					return err
				}
				// Retry budget exhausted: report the chunk's leftover
				// ids and let the sibling chunks proceed.
				slog.Warn("put_many_unsubmitted_items",
					slog.Int("count", len(leftover)),
					slog.String("error", err.Error()))
				mu.Lock()
				failed = append(failed, leftover...)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(submitted.Load()), failed, err
	}
	return int(submitted.Load()), failed, nil
}

// writeChunk submits one backend-sized chunk, retrying the unprocessed
// remainder with bounded backoff. On failure it returns the ids still
// pending when the budget ran out.
func (s *CourseStore) writeChunk(ctx context.Context, chunk []*course.Course) ([]string, error) {
	pending := chunk
	err := dexerrors.Retry(ctx, s.retry, func() error {
		unprocessed, err := s.kv.BatchWriteItem(ctx, pending)
		if err != nil {
			return err
		}
		if len(unprocessed) > 0 {
			pending = unprocessed
			return dexerrors.Throttled("unprocessed items remain", nil).
				WithDetail("count", strconv.Itoa(len(unprocessed)))
		}
		pending = nil
		return nil
	})
	if err == nil {
		return nil, nil
	}
	ids := make([]string, 0, len(pending))
	for _, c := range pending {
		ids = append(ids, c.ID)
	}
	return ids, err
}

// Get returns the course for id, or (nil, nil) when absent.
func (s *CourseStore) Get(ctx context.Context, id string) (*course.Course, error) {
	return s.kv.GetItem(ctx, id)
}

// BatchGet fetches courses for the given ids, transparently chunking to
// the backend's per-call key limit and retrying unprocessed keys with
// bounded exponential backoff. After the retry ceiling it returns the
// partial result together with the ids that were not resolved.
//
// Absent ids are not an error and are not reported as unresolved; they
// are simply missing from the result.
func (s *CourseStore) BatchGet(ctx context.Context, ids []string) ([]*course.Course, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}

	uniq := dedupeIDs(ids)

	var items []*course.Course
	var unresolved []string

	for start := 0; start < len(uniq); start += MaxReadBatch {
		end := min(start+MaxReadBatch, len(uniq))
		pending := uniq[start:end]

		err := dexerrors.Retry(ctx, s.retry, func() error {
			got, unprocessed, err := s.kv.BatchGetItem(ctx, pending)
			if err != nil {
				return err
			}
			items = append(items, got...)
			if len(unprocessed) > 0 {
				pending = unprocessed
				return dexerrors.Throttled("unprocessed keys remain", nil).
					WithDetail("count", strconv.Itoa(len(unprocessed)))
			}
			pending = nil
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return items, unresolved, err
			}
			// Retry budget exhausted: surface what is left and move on
			// to the next chunk rather than aborting the batch.
			slog.Warn("batch_get_unresolved_keys",
				slog.Int("count", len(pending)),
				slog.String("error", err.Error()))
			unresolved = append(unresolved, pending...)
		}
	}

	return items, unresolved, nil
}

// QueryByPartner returns all courses whose primary partner matches.
// Fails with ERR_405_INDEX_NOT_FOUND when the lookup path is absent;
// there is no silent fallback to a full scan.
func (s *CourseStore) QueryByPartner(ctx context.Context, partner string) ([]*course.Course, error) {
	if !s.kv.HasIndex(PartnerIndex) {
		return nil, dexerrors.IndexNotFound(PartnerIndex)
	}
	return s.kv.QueryIndex(ctx, PartnerIndex, partner)
}

// QueryBySubject returns all courses whose primary subject matches.
func (s *CourseStore) QueryBySubject(ctx context.Context, subject string) ([]*course.Course, error) {
	if !s.kv.HasIndex(SubjectIndex) {
		return nil, dexerrors.IndexNotFound(SubjectIndex)
	}
	return s.kv.QueryIndex(ctx, SubjectIndex, subject)
}

// Update applies a composed partial mutation and returns the updated
// course. Fails with ERR_403_CONDITION_FAILED when a supplied condition
// does not hold.
func (s *CourseStore) Update(ctx context.Context, id string, upd Update, cond *Condition) (*course.Course, error) {
	return s.kv.UpdateItem(ctx, id, upd, cond)
}

// Delete removes one course.
func (s *CourseStore) Delete(ctx context.Context, id string, cond *Condition) error {
	return s.kv.DeleteItem(ctx, id, cond)
}

// ScanAll traverses every course in id order, invoking fn once per page
// with the page items and the cursor that resumes after that page.
// Traversal pages transparently until exhausted; fn returning an error
// stops the scan.
func (s *CourseStore) ScanAll(ctx context.Context, pageSize int, fields []string, fn func(page []*course.Course, next string) error) error {
	return s.ScanFrom(ctx, "", pageSize, fields, fn)
}

// ScanFrom is ScanAll starting after the given cursor, used to resume
// an interrupted traversal.
func (s *CourseStore) ScanFrom(ctx context.Context, cursor string, pageSize int, fields []string, fn func(page []*course.Course, next string) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		items, next, err := s.kv.Scan(ctx, cursor, pageSize, fields)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		if err := fn(items, next); err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

// Count returns the number of stored courses.
func (s *CourseStore) Count(ctx context.Context) (int, error) {
	return s.kv.Count(ctx)
}

// dedupeByID keeps the last occurrence per id, preserving the relative
// order of the surviving items.
func dedupeByID(courses []*course.Course) []*course.Course {
	last := make(map[string]int, len(courses))
	for i, c := range courses {
		if c != nil && c.ID != "" {
			last[c.ID] = i
		}
	}
	out := make([]*course.Course, 0, len(last))
	for i, c := range courses {
		if c == nil || c.ID == "" {
			continue
		}
		if last[c.ID] == i {
			out = append(out, c)
		}
	}
	return out
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
