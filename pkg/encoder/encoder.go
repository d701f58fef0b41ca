package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"github.com/modelchain/modelchain/pkg/embedders"
)

const (
	// EmbeddingDim is the sentence embedding width the query tower
	// expects.
	EmbeddingDim = 384

	// LatentDim is the shared latent space both towers project into.
	LatentDim = 128

	// ProbeDim is the capability vector width the model tower expects.
	ProbeDim = 5
)

// QEncoder maps a query string to z_Q: sentence embedding (384 dims)
// followed by a 384 -> 256 -> 128 projection.
type QEncoder struct {
	embedder embedders.EmbedderProvider
	mlp      *MLP
}

// MEncoder maps a model's capability vector to z_M via a
// 5 -> 64 -> 128 projection.
type MEncoder struct {
	mlp *MLP
}

// NewEncoders loads both towers from the JSON checkpoint at path. A
// missing or empty path falls back to deterministic seeded weights and
// logs a warning; routing still functions, the scores merely are not
// meaningful.
func NewEncoders(path string, seed int64, embedder embedders.EmbedderProvider) (*QEncoder, *MEncoder, error) {
	var ckpt *Checkpoint

	if path != "" {
		loaded, err := LoadCheckpoint(path)
		switch {
		case err == nil:
			ckpt = loaded
			slog.Info("Router checkpoint loaded", "path", path)
		case os.IsNotExist(err) || underlyingNotExist(err):
			slog.Warn("Router checkpoint not found, using seeded random weights", "path", path)
		default:
			return nil, nil, err
		}
	} else {
		slog.Warn("No router checkpoint configured, using seeded random weights")
	}

	if ckpt == nil {
		rng := rand.New(rand.NewSource(seed))
		ckpt = &Checkpoint{
			QEncoder: NewMLP([]int{EmbeddingDim, 256, LatentDim}, rng),
			MEncoder: NewMLP([]int{ProbeDim, 64, LatentDim}, rng),
		}
	}

	q, err := NewQEncoder(embedder, ckpt.QEncoder)
	if err != nil {
		return nil, nil, err
	}
	m, err := NewMEncoder(ckpt.MEncoder)
	if err != nil {
		return nil, nil, err
	}
	return q, m, nil
}

func underlyingNotExist(err error) bool {
	for e := err; e != nil; {
		if os.IsNotExist(e) {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

func NewQEncoder(embedder embedders.EmbedderProvider, mlp *MLP) (*QEncoder, error) {
	dims := mlp.Dims()
	if len(dims) != 3 || dims[0] != EmbeddingDim || dims[len(dims)-1] != LatentDim {
		return nil, fmt.Errorf("query tower has dims %v, want [%d 256 %d]", dims, EmbeddingDim, LatentDim)
	}
	return &QEncoder{embedder: embedder, mlp: mlp}, nil
}

func NewMEncoder(mlp *MLP) (*MEncoder, error) {
	dims := mlp.Dims()
	if len(dims) != 3 || dims[0] != ProbeDim || dims[len(dims)-1] != LatentDim {
		return nil, fmt.Errorf("model tower has dims %v, want [%d 64 %d]", dims, ProbeDim, LatentDim)
	}
	return &MEncoder{mlp: mlp}, nil
}

// Encode embeds the query text and projects it into z-space.
func (q *QEncoder) Encode(ctx context.Context, query string) ([]float64, error) {
	embedding, err := q.embedder.EmbedWithContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embedding) != EmbeddingDim {
		return nil, fmt.Errorf("embedding has dim %d, want %d", len(embedding), EmbeddingDim)
	}

	in := make([]float64, len(embedding))
	for i, v := range embedding {
		in[i] = float64(v)
	}
	return q.mlp.Forward(in)
}

// Project runs a pre-computed embedding through the projection alone.
func (q *QEncoder) Project(embedding []float64) ([]float64, error) {
	return q.mlp.Forward(embedding)
}

// Encode projects a capability vector into z-space.
func (m *MEncoder) Encode(probe []float64) ([]float64, error) {
	if len(probe) != ProbeDim {
		return nil, fmt.Errorf("probe vector has dim %d, want %d", len(probe), ProbeDim)
	}
	return m.mlp.Forward(probe)
}
