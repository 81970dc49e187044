package embed

import (
	"fmt"
	"time"

	dexerrors "github.com/coursedex/coursedex/internal/errors"
)

// Options selects and configures an embedder provider.
type Options struct {
	// Provider is "remote" or "static".
	Provider string

	// Host, Model, Dimensions and Timeout configure the remote
	// provider; Dimensions also sets the static provider's width.
	Host       string
	Model      string
	Dimensions int
	Timeout    time.Duration

	// CacheSize enables the LRU cache when positive.
	CacheSize int
}

// New builds the embedder stack described by opts: provider wrapped in
// the LRU cache when caching is enabled.
func New(opts Options) (Embedder, error) {
	var inner Embedder

	switch opts.Provider {
	case "", "remote":
		inner = NewRemoteEmbedder(RemoteConfig{
			Host:       opts.Host,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			Timeout:    opts.Timeout,
		})
	case "static":
		inner = NewStaticEmbedder(opts.Dimensions)
	default:
		return nil, dexerrors.InvalidRecord(fmt.Sprintf("unknown embedding provider %q", opts.Provider))
	}

	if opts.CacheSize > 0 {
		return NewCachedEmbedder(inner, opts.CacheSize), nil
	}
	return inner, nil
}
