// Package vector provides the k-NN index for course embeddings, built
// on an in-process HNSW graph with gob-persisted id mappings.
//
// The index deliberately permits multiple documents per course id:
// every insert creates a new document under a fresh internal handle,
// and a course that is re-embedded without a prior DeleteAll ends up
// indexed twice. That mirrors how the rest of the pipeline treats the
// index (delete-then-insert on resync) and makes duplicate accumulation
// an observable, repairable condition rather than a silent overwrite.
package vector

import (
	"bufio"
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	dexerrors "github.com/coursedex/coursedex/internal/errors"
)

// Config holds index construction parameters.
type Config struct {
	// Dimensions is the embedding width; every vector must match it.
	Dimensions int
	// M is the HNSW connectivity parameter.
	M int
	// EfSearch is the HNSW search beam width.
	EfSearch int
}

// DefaultConfig returns the standard parameters for the given
// embedding width.
func DefaultConfig(dimensions int) Config {
	return Config{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// Document is the denormalized payload stored alongside each embedded
// vector, so the index answers searches without a trip to the primary
// store. Skills is pre-joined to a single string.
type Document struct {
	ID             string
	Title          string
	SubjectPrimary string
	PartnerPrimary string
	Level          string
	Skills         string
	Platform       string
	LastUpdated    time.Time
}

// Result is one search hit.
type Result struct {
	ID       string
	Handle   uint64
	Score    float32
	Distance float32
	Document Document
}

// Index is an HNSW-backed document collection keyed by course id.
// Safe for concurrent use.
type Index struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config Config

	// handles maps a course id to its document handles in insertion
	// order. Handles are monotonically increasing, so the first element
	// is always the oldest document for that id.
	handles map[string][]uint64
	docs    map[uint64]Document
	nextKey uint64

	closed bool
}

// indexMetadata is the gob-persisted companion of the graph file.
type indexMetadata struct {
	Handles   map[string][]uint64
	Documents map[uint64]Document
	NextKey   uint64
	Config    Config
}

// NewIndex creates an empty index.
func NewIndex(cfg Config) (*Index, error) {
	if cfg.Dimensions <= 0 {
		return nil, dexerrors.InvalidRecord("vector index dimensions must be positive")
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &Index{
		graph:   graph,
		config:  cfg,
		handles: make(map[string][]uint64),
		docs:    make(map[uint64]Document),
	}, nil
}

// Dimensions returns the configured embedding width.
func (ix *Index) Dimensions() int {
	return ix.config.Dimensions
}

// Insert adds a new document and returns its handle. It never replaces
// an existing document: inserting an id that is already present creates
// a duplicate. Callers that want exactly one document per id must
// DeleteAll first.
func (ix *Index) Insert(doc Document, vector []float32) (uint64, error) {
	if doc.ID == "" {
		return 0, dexerrors.InvalidRecord("vector document id is empty")
	}
	if len(vector) != ix.config.Dimensions {
		return 0, dexerrors.DimensionMismatch(ix.config.Dimensions, len(vector))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return 0, dexerrors.Internal("vector index is closed", nil)
	}

	key := ix.nextKey
	ix.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeInPlace(vec)

	ix.graph.Add(hnsw.MakeNode(key, vec))
	ix.handles[doc.ID] = append(ix.handles[doc.ID], key)
	ix.docs[key] = doc

	return key, nil
}

// DeleteAll removes every document for id and returns how many were
// removed. Graph nodes are lazily deleted: the handle is orphaned and
// skipped at search time, the node itself stays in the graph.
func (ix *Index) DeleteAll(id string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return 0
	}

	keys, ok := ix.handles[id]
	if !ok {
		return 0
	}
	for _, key := range keys {
		delete(ix.docs, key)
	}
	delete(ix.handles, id)
	return len(keys)
}

// Search returns up to k documents nearest the query, best first.
// Duplicate course ids can appear more than once in the result; the
// caller decides whether to collapse them.
func (ix *Index) Search(query []float32, k int) ([]Result, error) {
	if len(query) != ix.config.Dimensions {
		return nil, dexerrors.DimensionMismatch(ix.config.Dimensions, len(query))
	}
	if k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.closed {
		return nil, dexerrors.Internal("vector index is closed", nil)
	}
	if ix.graph.Len() == 0 {
		return []Result{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch by the orphan count so lazily deleted nodes cannot
	// starve the result below k.
	fetch := k + (ix.graph.Len() - len(ix.docs))
	nodes := ix.graph.Search(normalized, fetch)

	results := make([]Result, 0, k)
	for _, node := range nodes {
		doc, live := ix.docs[node.Key]
		if !live {
			continue
		}
		distance := ix.graph.Distance(normalized, node.Value)
		results = append(results, Result{
			ID:       doc.ID,
			Handle:   node.Key,
			Score:    1.0 - distance/2.0,
			Distance: distance,
			Document: doc,
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Count returns the number of live documents, counting duplicates.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// UniqueIDs returns the number of distinct course ids.
func (ix *Index) UniqueIDs() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.handles)
}

// Contains reports whether at least one document exists for id.
func (ix *Index) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.handles[id]
	return ok
}

// AllIDs returns every distinct course id in the index, sorted.
func (ix *Index) AllIDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ids := make([]string, 0, len(ix.handles))
	for id := range ix.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DuplicateIDs returns the document count per id for every id with
// more than one document.
func (ix *Index) DuplicateIDs() map[string]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	dups := make(map[string]int)
	for id, keys := range ix.handles {
		if len(keys) > 1 {
			dups[id] = len(keys)
		}
	}
	return dups
}

// RepairDuplicates removes all but the oldest document for every
// duplicated id and returns the number of documents removed. The
// oldest document has the lowest handle, which is the first element of
// the insertion-ordered handle list.
func (ix *Index) RepairDuplicates() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return 0
	}

	removed := 0
	for id, keys := range ix.handles {
		if len(keys) <= 1 {
			continue
		}
		for _, key := range keys[1:] {
			delete(ix.docs, key)
			removed++
		}
		ix.handles[id] = keys[:1]
	}
	return removed
}

// Save persists the graph and id mappings to path and path+".meta",
// writing each through a temp file and rename.
func (ix *Index) Save(path string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.closed {
		return dexerrors.Internal("vector index is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return dexerrors.New(dexerrors.ErrCodeStoreIO, "create index directory", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return dexerrors.New(dexerrors.ErrCodeStoreIO, "create index file", err)
	}
	if err := ix.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return dexerrors.New(dexerrors.ErrCodeStoreIO, "export graph", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return dexerrors.New(dexerrors.ErrCodeStoreIO, "close index file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return dexerrors.New(dexerrors.ErrCodeStoreIO, "rename index file", err)
	}

	return ix.saveMetadata(path + ".meta")
}

func (ix *Index) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return dexerrors.New(dexerrors.ErrCodeStoreIO, "create metadata file", err)
	}

	meta := indexMetadata{
		Handles:   ix.handles,
		Documents: ix.docs,
		NextKey:   ix.nextKey,
		Config:    ix.config,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return dexerrors.New(dexerrors.ErrCodeStoreIO, "encode metadata", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return dexerrors.New(dexerrors.ErrCodeStoreIO, "close metadata file", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores an index from Save output. The on-disk dimensions must
// match the configured dimensions; a mismatch is fatal, the caller must
// rebuild instead of searching a differently-shaped space.
func Load(path string, cfg Config) (*Index, error) {
	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return nil, dexerrors.New(dexerrors.ErrCodeStoreIO, "open index metadata", err)
	}
	defer func() { _ = metaFile.Close() }()

	var meta indexMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, dexerrors.New(dexerrors.ErrCodeCorruptIndex, "decode index metadata", err)
	}

	if cfg.Dimensions != 0 && cfg.Dimensions != meta.Config.Dimensions {
		return nil, dexerrors.DimensionMismatch(cfg.Dimensions, meta.Config.Dimensions)
	}

	ix, err := NewIndex(meta.Config)
	if err != nil {
		return nil, err
	}
	ix.handles = meta.Handles
	ix.nextKey = meta.NextKey
	if meta.Documents != nil {
		ix.docs = meta.Documents
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, dexerrors.New(dexerrors.ErrCodeStoreIO, "open index file", err)
	}
	defer func() { _ = file.Close() }()

	// coder/hnsw Import requires an io.ByteReader.
	if err := ix.graph.Import(bufio.NewReader(file)); err != nil {
		return nil, dexerrors.New(dexerrors.ErrCodeCorruptIndex, "import graph", err)
	}

	return ix, nil
}

// LoadOrNew restores the index at path if it exists, otherwise returns
// a fresh one.
func LoadOrNew(path string, cfg Config) (*Index, error) {
	if _, err := os.Stat(path + ".meta"); err != nil {
		if os.IsNotExist(err) {
			return NewIndex(cfg)
		}
		return nil, dexerrors.New(dexerrors.ErrCodeStoreIO, "stat index metadata", err)
	}
	return Load(path, cfg)
}

// Close releases the graph. Further operations fail.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return nil
	}
	ix.closed = true
	ix.graph = nil
	return nil
}

// Orphans returns the number of lazily deleted graph nodes still
// occupying the graph. Large values mean a rebuild would shrink the
// index.
func (ix *Index) Orphans() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.closed {
		return 0
	}
	return ix.graph.Len() - len(ix.docs)
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
