package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	dexerrors "github.com/coursedex/coursedex/internal/errors"
)

const (
	// DefaultHost is the default embedding API endpoint.
	DefaultHost = "http://localhost:11434"

	// DefaultModel is the course embedding model.
	DefaultModel = "courses-embed-v2"

	remotePoolSize = 4
)

// RemoteConfig configures the remote embedder.
type RemoteConfig struct {
	// Host is the API endpoint (default http://localhost:11434).
	Host string

	// Model is the embedding model name.
	Model string

	// Dimensions is the expected embedding width. Responses of any
	// other width are rejected; 0 means accept and adopt the first
	// response's width.
	Dimensions int

	// BatchSize caps texts per request.
	BatchSize int

	// Timeout bounds a single request.
	Timeout time.Duration

	// MaxRetries bounds transient-failure retries per request.
	MaxRetries int
}

// embedRequest is the /api/embed request body.
type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// embedResponse is the /api/embed response body.
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// RemoteEmbedder generates embeddings through an Ollama-compatible
// HTTP API.
type RemoteEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    RemoteConfig

	mu     sync.Mutex
	dims   int
	closed bool
}

var _ Embedder = (*RemoteEmbedder)(nil)

// NewRemoteEmbedder creates a remote embedder. No network call is made
// until the first request; use Available to probe readiness.
func NewRemoteEmbedder(cfg RemoteConfig) *RemoteEmbedder {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	transport := &http.Transport{
		MaxIdleConns:        remotePoolSize,
		MaxIdleConnsPerHost: remotePoolSize,
		MaxConnsPerHost:     remotePoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// Timeouts are applied per request via context so a slow batch does
	// not inherit a stale client-wide deadline.
	return &RemoteEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}
}

// Embed generates the embedding for a single text.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, dexerrors.Internal(fmt.Sprintf("expected 1 embedding, got %d", len(vecs)), nil)
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for the given texts, splitting into
// API-sized requests and retrying transient failures with backoff.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if e.isClosed() {
		return nil, dexerrors.Internal("embedder is closed", nil)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(texts))
		vecs, err := e.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *RemoteEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			slog.Debug("embedding_retry",
				slog.Int("attempt", attempt+1),
				slog.Int("texts", len(texts)),
				slog.String("error", lastErr.Error()))
		}

		reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		vecs, err := e.doEmbed(reqCtx, texts)
		cancel()

		if err == nil {
			return vecs, nil
		}
		if dexerrors.IsFatal(err) || !dexerrors.IsRetryable(err) && dexerrors.GetCode(err) != "" {
			return nil, err
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, dexerrors.New(dexerrors.ErrCodeEmbeddingFailed,
		fmt.Sprintf("embedding failed after %d attempts", e.config.MaxRetries), lastErr)
}

func (e *RemoteEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	url := e.config.Host + "/api/embed"

	// Single string for one text, array otherwise; the API accepts both.
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	body, err := json.Marshal(embedRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, dexerrors.Internal("marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, dexerrors.Internal("build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, dexerrors.New(dexerrors.ErrCodeBackendUnavailable, "embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, dexerrors.Throttled(
			fmt.Sprintf("embedding API returned %d: %s", resp.StatusCode, string(payload)), nil)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, dexerrors.New(dexerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding API returned %d: %s", resp.StatusCode, string(payload)), nil)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, dexerrors.New(dexerrors.ErrCodeEmbeddingFailed, "decode embed response", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, dexerrors.New(dexerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(result.Embeddings)), nil)
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if err := e.checkDims(len(emb)); err != nil {
			return nil, err
		}
		vec := make([]float32, len(emb))
		for j, val := range emb {
			vec[j] = float32(val)
		}
		vecs[i] = normalizeVector(vec)
	}
	return vecs, nil
}

// checkDims validates the response width against the configured width,
// adopting the first observed width when none was configured.
func (e *RemoteEmbedder) checkDims(got int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dims == 0 {
		e.dims = got
		return nil
	}
	if got != e.dims {
		return dexerrors.DimensionMismatch(e.dims, got)
	}
	return nil
}

// Dimensions returns the embedding width, 0 until the first response
// when auto-detecting.
func (e *RemoteEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *RemoteEmbedder) ModelName() string {
	return e.config.Model
}

// Available probes the API with a trivial request.
func (e *RemoteEmbedder) Available(ctx context.Context) bool {
	if e.isClosed() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close shuts down the connection pool.
func (e *RemoteEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}

func (e *RemoteEmbedder) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
