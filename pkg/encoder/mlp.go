package encoder

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
)

// Layer is one dense layer: out = W*in + b, with Weights indexed
// [output][input].
type Layer struct {
	Weights [][]float64 `json:"weights"`
	Biases  []float64   `json:"biases"`
}

// MLP is a stack of dense layers with ReLU between layers (none after
// the last). Forward passes are deterministic given the weights.
type MLP struct {
	Layers []Layer `json:"layers"`
}

// NewMLP builds an MLP with the given layer dimensions, e.g.
// [384, 256, 128] for two dense layers. Weights are drawn uniformly
// from [-1/sqrt(fanIn), 1/sqrt(fanIn)] using the provided source.
func NewMLP(dims []int, rng *rand.Rand) *MLP {
	layers := make([]Layer, 0, len(dims)-1)
	for l := 0; l < len(dims)-1; l++ {
		fanIn, fanOut := dims[l], dims[l+1]
		bound := 1.0 / math.Sqrt(float64(fanIn))

		weights := make([][]float64, fanOut)
		for o := range weights {
			row := make([]float64, fanIn)
			for i := range row {
				row[i] = (rng.Float64()*2 - 1) * bound
			}
			weights[o] = row
		}

		biases := make([]float64, fanOut)
		for o := range biases {
			biases[o] = (rng.Float64()*2 - 1) * bound
		}

		layers = append(layers, Layer{Weights: weights, Biases: biases})
	}
	return &MLP{Layers: layers}
}

// Forward runs the input through every layer.
func (m *MLP) Forward(in []float64) ([]float64, error) {
	out := in
	for l, layer := range m.Layers {
		if len(layer.Weights) == 0 || len(layer.Weights[0]) != len(out) {
			return nil, fmt.Errorf("layer %d expects input dim %d, got %d", l, len(layer.Weights[0]), len(out))
		}

		next := make([]float64, len(layer.Weights))
		for o, row := range layer.Weights {
			sum := layer.Biases[o]
			for i, w := range row {
				sum += w * out[i]
			}
			next[o] = sum
		}

		if l < len(m.Layers)-1 {
			for i, v := range next {
				if v < 0 {
					next[i] = 0
				}
			}
		}
		out = next
	}
	return out, nil
}

// Dims returns the layer dimensions, input first.
func (m *MLP) Dims() []int {
	if len(m.Layers) == 0 {
		return nil
	}
	dims := []int{len(m.Layers[0].Weights[0])}
	for _, l := range m.Layers {
		dims = append(dims, len(l.Weights))
	}
	return dims
}

// Checkpoint holds the trained weights for both towers.
type Checkpoint struct {
	QEncoder *MLP `json:"q_encoder"`
	MEncoder *MLP `json:"m_encoder"`
}

// LoadCheckpoint reads a JSON checkpoint from path.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var ckpt Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	if ckpt.QEncoder == nil || ckpt.MEncoder == nil {
		return nil, fmt.Errorf("checkpoint is missing encoder weights")
	}
	return &ckpt, nil
}

// SaveCheckpoint writes the weights as JSON to path.
func SaveCheckpoint(path string, ckpt *Checkpoint) error {
	data, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}
