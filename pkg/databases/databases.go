package databases

import (
	"context"
	"fmt"

	"github.com/modelchain/modelchain/pkg/config"
)

// DatabaseProvider is the vector store interface used by long-term
// memory. Vectors are pre-computed by the embedder package.
type DatabaseProvider interface {
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]interface{}) error

	Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error)

	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]interface{}) ([]SearchResult, error)

	Delete(ctx context.Context, collection string, id string) error

	DeleteByFilter(ctx context.Context, collection string, filter map[string]interface{}) error

	CreateCollection(ctx context.Context, collection string, vectorSize uint64) error

	DeleteCollection(ctx context.Context, collection string) error

	Close() error
}

type SearchResult struct {
	ID       string                 `json:"id"`
	Score    float32                `json:"score"`
	Content  string                 `json:"content"`
	Vector   []float32              `json:"vector,omitempty"`
	Metadata map[string]interface{} `json:"metadata"`
}

// NewDatabaseFromConfig builds a vector store provider for the
// configured type.
func NewDatabaseFromConfig(cfg *config.VectorStoreConfig) (DatabaseProvider, error) {
	switch cfg.Type {
	case "qdrant":
		return NewQdrantDatabaseProviderFromConfig(cfg)
	case "chromem":
		return NewChromemDatabaseProviderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}
