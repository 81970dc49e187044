// Package store provides durable canonical course storage keyed by id,
// with secondary lookup paths on partner_primary and subject_primary.
//
// It is split in two layers: KV is the backend contract, shaped after a
// DynamoDB-style key-value API (per-call batch limits, unprocessed keys,
// conditional writes); CourseStore is the handler that owns chunking,
// in-batch dedup, and the bounded unprocessed-key retry loop.
package store

import (
	"context"

	"github.com/coursedex/coursedex/internal/course"
)

// Backend batch limits mirrored by the handler layer.
const (
	// MaxWriteBatch is the per-call item limit for BatchWriteItem.
	MaxWriteBatch = 25

	// MaxReadBatch is the per-call key limit for BatchGetItem.
	MaxReadBatch = 100
)

// Secondary lookup path names.
const (
	PartnerIndex = "PartnerIndex"
	SubjectIndex = "SubjectIndex"
)

// CondOp is a condition operator for conditional writes.
type CondOp string

const (
	// CondNotExists requires the named field to be absent.
	CondNotExists CondOp = "not_exists"
	// CondExists requires the named field to be present.
	CondExists CondOp = "exists"
	// CondEquals requires the named field to equal Value.
	CondEquals CondOp = "equals"
)

// Condition is a precondition on a single write.
type Condition struct {
	Field string
	Op    CondOp
	Value string
}

// Update is a composed partial mutation: all three operation kinds are
// applied as one write.
type Update struct {
	// Set assigns field values.
	Set map[string]any
	// Remove deletes fields.
	Remove []string
	// Increment adds to numeric fields (negative amounts decrement).
	Increment map[string]int
}

// Empty reports whether the update contains no operations.
func (u Update) Empty() bool {
	return len(u.Set) == 0 && len(u.Remove) == 0 && len(u.Increment) == 0
}

// KV is the backend contract for the primary store.
//
// Semantics mirrored from the backing-store family this models:
//   - GetItem returns (nil, nil) for an absent key.
//   - BatchWriteItem and BatchGetItem accept at most MaxWriteBatch /
//     MaxReadBatch entries per call and may return an unprocessed
//     remainder that the caller must retry.
//   - QueryIndex fails when the named index does not exist; callers
//     check HasIndex first rather than falling back to a scan.
type KV interface {
	// PutItem writes one course, optionally guarded by a condition.
	PutItem(ctx context.Context, c *course.Course, cond *Condition) error

	// BatchWriteItem writes up to MaxWriteBatch courses and returns any
	// it could not process this call.
	BatchWriteItem(ctx context.Context, items []*course.Course) (unprocessed []*course.Course, err error)

	// GetItem returns the course for id, or (nil, nil) when absent.
	GetItem(ctx context.Context, id string) (*course.Course, error)

	// BatchGetItem fetches up to MaxReadBatch keys and returns found
	// items plus the keys it could not process this call.
	BatchGetItem(ctx context.Context, ids []string) (items []*course.Course, unprocessed []string, err error)

	// HasIndex reports whether the named secondary lookup path exists.
	HasIndex(name string) bool

	// QueryIndex runs an exact-match query against a secondary index.
	QueryIndex(ctx context.Context, name, value string) ([]*course.Course, error)

	// UpdateItem applies a composed partial mutation and returns the
	// updated course.
	UpdateItem(ctx context.Context, id string, upd Update, cond *Condition) (*course.Course, error)

	// DeleteItem removes one course, optionally guarded by a condition.
	DeleteItem(ctx context.Context, id string, cond *Condition) error

	// Scan returns one page of courses ordered by id, starting after
	// cursor (empty cursor starts from the beginning). A returned empty
	// next-cursor means the traversal is exhausted. When fields is
	// non-empty, non-listed attributes are cleared (id always kept).
	Scan(ctx context.Context, cursor string, limit int, fields []string) (items []*course.Course, next string, err error)

	// Count returns the number of stored courses.
	Count(ctx context.Context) (int, error)

	// Lifecycle
	Close() error
}

// StateStore persists small runtime state (backfill checkpoints).
type StateStore interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	DeleteState(ctx context.Context, key string) error
}
