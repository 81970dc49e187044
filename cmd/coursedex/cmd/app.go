package cmd

import (
	"path/filepath"

	"github.com/coursedex/coursedex/internal/config"
	"github.com/coursedex/coursedex/internal/embed"
	dexerrors "github.com/coursedex/coursedex/internal/errors"
	"github.com/coursedex/coursedex/internal/search"
	"github.com/coursedex/coursedex/internal/store"
	coursesync "github.com/coursedex/coursedex/internal/sync"
	"github.com/coursedex/coursedex/internal/vector"
)

// app bundles the wired components behind every subcommand.
type app struct {
	cfg       *config.Config
	kv        *store.SQLiteKV
	courses   *store.CourseStore
	index     *vector.Index
	embedder  embed.Embedder
	coord     *coursesync.Coordinator
	retriever *search.HybridRetriever
}

// openApp builds the full component stack from configuration.
func openApp() (*app, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(config.Default().DataDir, "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	kv, err := store.NewSQLiteKV(cfg.StorePath(), store.SQLiteOptions{
		SecondaryIndexes: true,
		CacheMB:          cfg.Store.CacheMB,
	})
	if err != nil {
		return nil, err
	}

	retry := dexerrors.DefaultRetryConfig()
	if cfg.Store.MaxBatchRetries > 0 {
		retry.MaxRetries = cfg.Store.MaxBatchRetries
	}
	courses := store.NewCourseStore(kv,
		store.WithRetryConfig(retry),
		store.WithWriteWorkers(cfg.Sync.Workers))

	index, err := vector.LoadOrNew(cfg.VectorPath(), vector.Config{
		Dimensions: cfg.Embeddings.Dimensions,
		M:          cfg.Vector.M,
		EfSearch:   cfg.Vector.EfSearch,
	})
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	embedder, err := embed.New(embed.Options{
		Provider:   cfg.Embeddings.Provider,
		Host:       cfg.Embeddings.Host,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		Timeout:    cfg.Embeddings.Timeout,
		CacheSize:  cfg.Embeddings.CacheSize,
	})
	if err != nil {
		_ = index.Close()
		_ = kv.Close()
		return nil, err
	}

	coord := coursesync.NewCoordinator(courses, kv, index, embedder, coursesync.Config{
		Workers:   cfg.Sync.Workers,
		PageSize:  cfg.Sync.PageSize,
		LockPath:  filepath.Join(cfg.DataDir, "backfill.lock"),
		IndexPath: cfg.VectorPath(),
	})

	return &app{
		cfg:       cfg,
		kv:        kv,
		courses:   courses,
		index:     index,
		embedder:  embedder,
		coord:     coord,
		retriever: search.NewHybridRetriever(courses, index, embedder),
	}, nil
}

// close releases components in reverse dependency order.
func (a *app) close() {
	_ = a.embedder.Close()
	_ = a.index.Close()
	_ = a.kv.Close()
}

// saveIndex persists the vector index to its configured path.
func (a *app) saveIndex() error {
	return a.index.Save(a.cfg.VectorPath())
}
