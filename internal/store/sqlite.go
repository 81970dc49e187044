package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/coursedex/coursedex/internal/course"
	dexerrors "github.com/coursedex/coursedex/internal/errors"
)

// SQLiteKV implements KV on SQLite. Courses are stored as one JSON
// document per row with the secondary-lookup attributes denormalized
// into indexed columns. WAL mode allows concurrent readers alongside
// the single writer.
type SQLiteKV struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool

	indexes map[string]bool
}

// Verify interface implementations at compile time.
var (
	_ KV         = (*SQLiteKV)(nil)
	_ StateStore = (*SQLiteKV)(nil)
)

// SQLiteOptions configures schema creation.
type SQLiteOptions struct {
	// SecondaryIndexes controls whether the partner/subject lookup
	// paths are created. Querying a path that was not created fails
	// with ERR_405_INDEX_NOT_FOUND; there is no scan fallback.
	SecondaryIndexes bool

	// CacheMB is the SQLite page cache size in MB (default 64).
	CacheMB int
}

// DefaultSQLiteOptions returns the production defaults.
func DefaultSQLiteOptions() SQLiteOptions {
	return SQLiteOptions{SecondaryIndexes: true, CacheMB: 64}
}

// NewSQLiteKV opens (creating if needed) the course database at path.
// An empty path opens an in-memory database for testing.
func NewSQLiteKV(path string, opts SQLiteOptions) (*SQLiteKV, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention; SQLite serializes
	// writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	cacheMB := opts.CacheMB
	if cacheMB <= 0 {
		cacheMB = 64
	}

	// WAL must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheMB*1024),
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	kv := &SQLiteKV{
		db:      db,
		indexes: make(map[string]bool),
	}

	if err := kv.initSchema(opts); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return kv, nil
}

// initSchema creates the courses table, state table, and (optionally)
// the secondary lookup indexes.
func (s *SQLiteKV) initSchema(opts SQLiteOptions) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS courses (
		id              TEXT PRIMARY KEY,
		doc             TEXT NOT NULL,
		partner_primary TEXT,
		subject_primary TEXT,
		updated_at      TEXT
	);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if opts.SecondaryIndexes {
		idx := `
		CREATE INDEX IF NOT EXISTS idx_partner_primary ON courses(partner_primary);
		CREATE INDEX IF NOT EXISTS idx_subject_primary ON courses(subject_primary);
		`
		if _, err := s.db.Exec(idx); err != nil {
			return err
		}
		s.indexes[PartnerIndex] = true
		s.indexes[SubjectIndex] = true
	}

	return nil
}

// PutItem writes one course, optionally guarded by a condition.
func (s *SQLiteKV) PutItem(ctx context.Context, c *course.Course, cond *Condition) error {
	if c == nil || c.ID == "" {
		return dexerrors.InvalidRecord("course has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dexerrors.Internal("store is closed", nil)
	}

	// Fast path: insert-only on the primary key.
	if cond != nil && cond.Op == CondNotExists && cond.Field == "id" {
		doc, err := marshalCourse(c)
		if err != nil {
			return err
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO courses (id, doc, partner_primary, subject_primary, updated_at)
			 VALUES (?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
			c.ID, doc, nullable(c.PartnerPrimary()), nullable(c.SubjectPrimary()),
			c.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
		if err != nil {
			return mapSQLiteErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return dexerrors.Wrap(dexerrors.ErrCodeStoreIO, err)
		}
		if n == 0 {
			return dexerrors.AlreadyExists(c.ID)
		}
		return nil
	}

	if cond != nil {
		existing, err := s.getItemLocked(ctx, c.ID)
		if err != nil {
			return err
		}
		if !evalCondition(existing, cond) {
			return dexerrors.ConditionFailed(c.ID, condString(cond))
		}
	}

	return s.upsertLocked(ctx, c)
}

// upsertLocked writes a course unconditionally. Caller holds the lock.
func (s *SQLiteKV) upsertLocked(ctx context.Context, c *course.Course) error {
	doc, err := marshalCourse(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO courses (id, doc, partner_primary, subject_primary, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			doc = excluded.doc,
			partner_primary = excluded.partner_primary,
			subject_primary = excluded.subject_primary,
			updated_at = excluded.updated_at`,
		c.ID, doc, nullable(c.PartnerPrimary()), nullable(c.SubjectPrimary()),
		c.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	if err != nil {
		return mapSQLiteErr(err)
	}
	return nil
}

// BatchWriteItem writes up to MaxWriteBatch courses in one transaction.
// SQLite either commits the whole batch or none of it, so the
// unprocessed remainder is only non-empty on transient failure.
func (s *SQLiteKV) BatchWriteItem(ctx context.Context, items []*course.Course) ([]*course.Course, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if len(items) > MaxWriteBatch {
		return nil, dexerrors.Internal(
			fmt.Sprintf("batch write of %d exceeds limit %d", len(items), MaxWriteBatch), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, dexerrors.Internal("store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return items, mapSQLiteErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO courses (id, doc, partner_primary, subject_primary, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			doc = excluded.doc,
			partner_primary = excluded.partner_primary,
			subject_primary = excluded.subject_primary,
			updated_at = excluded.updated_at`)
	if err != nil {
		return items, mapSQLiteErr(err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range items {
		if c == nil || c.ID == "" {
			return items, dexerrors.InvalidRecord("course has no id")
		}
		doc, err := marshalCourse(c)
		if err != nil {
			return items, err
		}
		if _, err := stmt.ExecContext(ctx, c.ID, doc,
			nullable(c.PartnerPrimary()), nullable(c.SubjectPrimary()),
			c.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")); err != nil {
			return items, mapSQLiteErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return items, mapSQLiteErr(err)
	}
	return nil, nil
}

// GetItem returns the course for id, or (nil, nil) when absent.
func (s *SQLiteKV) GetItem(ctx context.Context, id string) (*course.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, dexerrors.Internal("store is closed", nil)
	}
	return s.getItemLocked(ctx, id)
}

func (s *SQLiteKV) getItemLocked(ctx context.Context, id string) (*course.Course, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM courses WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLiteErr(err)
	}
	return unmarshalCourse(doc)
}

// BatchGetItem fetches up to MaxReadBatch keys in one query.
func (s *SQLiteKV) BatchGetItem(ctx context.Context, ids []string) ([]*course.Course, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	if len(ids) > MaxReadBatch {
		return nil, nil, dexerrors.Internal(
			fmt.Sprintf("batch get of %d exceeds limit %d", len(ids), MaxReadBatch), nil)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, nil, dexerrors.Internal("store is closed", nil)
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM courses WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, ids, mapSQLiteErr(err)
	}
	defer func() { _ = rows.Close() }()

	var items []*course.Course
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return items, nil, mapSQLiteErr(err)
		}
		c, err := unmarshalCourse(doc)
		if err != nil {
			return items, nil, err
		}
		items = append(items, c)
	}
	return items, nil, rows.Err()
}

// HasIndex reports whether the named secondary lookup path exists.
func (s *SQLiteKV) HasIndex(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexes[name]
}

// QueryIndex runs an exact-match query against a secondary index.
// A missing index is a fatal error, never a silent scan fallback.
func (s *SQLiteKV) QueryIndex(ctx context.Context, name, value string) ([]*course.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, dexerrors.Internal("store is closed", nil)
	}
	if !s.indexes[name] {
		return nil, dexerrors.IndexNotFound(name)
	}

	var column string
	switch name {
	case PartnerIndex:
		column = "partner_primary"
	case SubjectIndex:
		column = "subject_primary"
	default:
		return nil, dexerrors.IndexNotFound(name)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM courses WHERE `+column+` = ? ORDER BY id`, value)
	if err != nil {
		return nil, mapSQLiteErr(err)
	}
	defer func() { _ = rows.Close() }()

	var items []*course.Course
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, mapSQLiteErr(err)
		}
		c, err := unmarshalCourse(doc)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// UpdateItem applies a composed partial mutation to one course.
// Missing items are created from the update, mirroring upsert-style
// update semantics of the modeled backend.
func (s *SQLiteKV) UpdateItem(ctx context.Context, id string, upd Update, cond *Condition) (*course.Course, error) {
	if id == "" {
		return nil, dexerrors.InvalidRecord("empty id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, dexerrors.Internal("store is closed", nil)
	}

	existing, err := s.getItemLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if cond != nil && !evalCondition(existing, cond) {
		return nil, dexerrors.ConditionFailed(id, condString(cond))
	}

	updated, err := applyUpdate(existing, id, upd)
	if err != nil {
		return nil, err
	}
	if err := s.upsertLocked(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteItem removes one course. Deleting an absent id is a no-op
// unless a condition requires it to exist.
func (s *SQLiteKV) DeleteItem(ctx context.Context, id string, cond *Condition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dexerrors.Internal("store is closed", nil)
	}

	if cond != nil {
		existing, err := s.getItemLocked(ctx, id)
		if err != nil {
			return err
		}
		if !evalCondition(existing, cond) {
			return dexerrors.ConditionFailed(id, condString(cond))
		}
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM courses WHERE id = ?`, id)
	if err != nil {
		return mapSQLiteErr(err)
	}
	return nil
}

// Scan returns one page of courses ordered by id.
func (s *SQLiteKV) Scan(ctx context.Context, cursor string, limit int, fields []string) ([]*course.Course, string, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, "", dexerrors.Internal("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM courses WHERE id > ? ORDER BY id LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, "", mapSQLiteErr(err)
	}
	defer func() { _ = rows.Close() }()

	var items []*course.Course
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, "", mapSQLiteErr(err)
		}
		c, err := unmarshalCourse(doc)
		if err != nil {
			return nil, "", err
		}
		if len(fields) > 0 {
			c, err = projectFields(c, fields)
			if err != nil {
				return nil, "", err
			}
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, "", mapSQLiteErr(err)
	}

	next := ""
	if len(items) == limit {
		next = items[len(items)-1].ID
	}
	return items, next, nil
}

// Count returns the number of stored courses.
func (s *SQLiteKV) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, dexerrors.Internal("store is closed", nil)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM courses`).Scan(&n); err != nil {
		return 0, mapSQLiteErr(err)
	}
	return n, nil
}

// GetState reads a runtime state value. Absent keys return "".
func (s *SQLiteKV) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", dexerrors.Internal("store is closed", nil)
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", mapSQLiteErr(err)
	}
	return value, nil
}

// SetState writes a runtime state value.
func (s *SQLiteKV) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dexerrors.Internal("store is closed", nil)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return mapSQLiteErr(err)
	}
	return nil
}

// DeleteState removes a runtime state value.
func (s *SQLiteKV) DeleteState(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dexerrors.Internal("store is closed", nil)
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, key)
	if err != nil {
		return mapSQLiteErr(err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteKV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// mapSQLiteErr classifies driver errors: lock contention is transient
// and retryable, everything else is a storage error.
func mapSQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return dexerrors.Throttled("database is busy", err)
	}
	return dexerrors.Wrap(dexerrors.ErrCodeStoreIO, err)
}

func marshalCourse(c *course.Course) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", dexerrors.Wrap(dexerrors.ErrCodeStoreIO, err)
	}
	return string(data), nil
}

func unmarshalCourse(doc string) (*course.Course, error) {
	var c course.Course
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, dexerrors.Wrap(dexerrors.ErrCodeStoreIO, err)
	}
	return &c, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
