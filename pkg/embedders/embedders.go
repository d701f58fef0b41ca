package embedders

import (
	"context"
	"fmt"

	"github.com/modelchain/modelchain/pkg/config"
)

// EmbedderProvider turns text into fixed-dimension vectors. The query
// tower and long-term memory retrieval both depend on the configured
// dimension being stable across calls.
type EmbedderProvider interface {
	Embed(text string) ([]float32, error)
	EmbedWithContext(ctx context.Context, text string) ([]float32, error)
	GetDimension() int
	GetModelName() string
	Close() error
}

// NewEmbedderFromConfig builds an embedder for the configured type.
func NewEmbedderFromConfig(cfg *config.EmbedderConfig) (EmbedderProvider, error) {
	switch cfg.Type {
	case "ollama":
		return NewOllamaEmbedderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder type: %s", cfg.Type)
	}
}
