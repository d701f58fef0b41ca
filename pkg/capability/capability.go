package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelchain/modelchain/pkg/store"
)

// NumSkills is the fixed width of every rank row: math, code,
// instruction-following, expert, safety.
const NumSkills = 5

// ScaleTarget is the upper bound of every derived capability entry;
// each row is rescaled so its best skill lands exactly here.
const ScaleTarget = 0.6

// ModelStore is the slice of the relational store the engine needs to
// keep the models table in sync with its in-memory matrices.
type ModelStore interface {
	InsertModel(ctx context.Context, m *store.Model) error
	UpdateModelCapabilities(ctx context.Context, name string, ranks []int, vector []float64) error
	DeleteModelByName(ctx context.Context, name string) error
	ListModels(ctx context.Context) ([]*store.Model, error)
}

// Engine owns the (models x skills) rank matrix and its derived
// capability matrix. All other components read through it. Mutators
// rebuild the derived matrix and swap it under the write lock; readers
// copy snapshots under the read lock, so a reader observes either the
// pre- or post-mutation matrix, never a torn one.
type Engine struct {
	mu     sync.RWMutex
	names  []string
	ranks  [][]int
	matrix [][]float64

	store ModelStore
}

func NewEngine(modelStore ModelStore) *Engine {
	return &Engine{store: modelStore}
}

// LoadFromStore rebuilds the in-memory matrices from the models table.
// Called once at startup.
func (e *Engine) LoadFromStore(ctx context.Context) error {
	models, err := e.store.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.names = e.names[:0]
	e.ranks = e.ranks[:0]
	for _, m := range models {
		if len(m.CapabilityRanks) != NumSkills {
			return fmt.Errorf("model %s has %d ranks, want %d", m.Name, len(m.CapabilityRanks), NumSkills)
		}
		e.names = append(e.names, m.Name)
		e.ranks = append(e.ranks, append([]int(nil), m.CapabilityRanks...))
	}
	e.matrix = deriveMatrix(e.ranks)

	slog.Info("Capability engine loaded", "models", len(e.names))
	return nil
}

// Upsert replaces the rank row for name, or appends a new one, then
// recomputes the capability matrix and persists both the ranks and the
// derived vector.
func (e *Engine) Upsert(ctx context.Context, name string, ranks []int) error {
	if name == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if len(ranks) != NumSkills {
		return fmt.Errorf("expected %d ranks, got %d", NumSkills, len(ranks))
	}
	for i, r := range ranks {
		if r < 1 {
			return fmt.Errorf("rank %d must be positive, got %d", i, r)
		}
	}

	e.mu.Lock()
	idx := e.indexOf(name)
	isNew := idx < 0
	if isNew {
		e.names = append(e.names, name)
		e.ranks = append(e.ranks, append([]int(nil), ranks...))
	} else {
		e.ranks[idx] = append([]int(nil), ranks...)
	}
	e.matrix = deriveMatrix(e.ranks)

	if isNew {
		idx = len(e.names) - 1
	}
	vector := append([]float64(nil), e.matrix[idx]...)
	e.mu.Unlock()

	if isNew {
		err := e.store.InsertModel(ctx, &store.Model{
			ID:               "model_" + uuid.NewString(),
			Name:             name,
			CapabilityRanks:  ranks,
			CapabilityVector: vector,
			MaxTokens:        8192,
			AvgLatencyMS:     1000,
			CostPer1KUSD:     0.01,
			StakeETH:         10.0,
			TrustScore:       50.0,
			RegistrationTime: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("failed to persist model: %w", err)
		}
		return nil
	}

	if err := e.store.UpdateModelCapabilities(ctx, name, ranks, vector); err != nil {
		return fmt.Errorf("failed to persist capability update: %w", err)
	}
	return nil
}

// UpsertWithModel is Upsert for a registration that carries operational
// metadata. The capability vector on the passed model is overwritten
// with the derived one.
func (e *Engine) UpsertWithModel(ctx context.Context, m *store.Model) error {
	if m.Name == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if len(m.CapabilityRanks) != NumSkills {
		return fmt.Errorf("expected %d ranks, got %d", NumSkills, len(m.CapabilityRanks))
	}
	for i, r := range m.CapabilityRanks {
		if r < 1 {
			return fmt.Errorf("rank %d must be positive, got %d", i, r)
		}
	}

	e.mu.Lock()
	idx := e.indexOf(m.Name)
	isNew := idx < 0
	if isNew {
		e.names = append(e.names, m.Name)
		e.ranks = append(e.ranks, append([]int(nil), m.CapabilityRanks...))
		idx = len(e.names) - 1
	} else {
		e.ranks[idx] = append([]int(nil), m.CapabilityRanks...)
	}
	e.matrix = deriveMatrix(e.ranks)
	m.CapabilityVector = append([]float64(nil), e.matrix[idx]...)
	e.mu.Unlock()

	if isNew {
		if err := e.store.InsertModel(ctx, m); err != nil {
			return fmt.Errorf("failed to persist model: %w", err)
		}
		return nil
	}
	if err := e.store.UpdateModelCapabilities(ctx, m.Name, m.CapabilityRanks, m.CapabilityVector); err != nil {
		return fmt.Errorf("failed to persist capability update: %w", err)
	}
	return nil
}

// Remove deletes the rank row and recomputes the matrix; also deletes
// the model row.
func (e *Engine) Remove(ctx context.Context, name string) error {
	e.mu.Lock()
	idx := e.indexOf(name)
	if idx < 0 {
		e.mu.Unlock()
		return store.ErrNotFound
	}
	e.names = append(e.names[:idx], e.names[idx+1:]...)
	e.ranks = append(e.ranks[:idx], e.ranks[idx+1:]...)
	e.matrix = deriveMatrix(e.ranks)
	e.mu.Unlock()

	if err := e.store.DeleteModelByName(ctx, name); err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	return nil
}

// RankVector returns a copy of the rank row for name, or nil.
func (e *Engine) RankVector(name string) []int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	idx := e.indexOf(name)
	if idx < 0 {
		return nil
	}
	return append([]int(nil), e.ranks[idx]...)
}

// CapabilityVector returns a copy of the derived capability row for
// name, or nil.
func (e *Engine) CapabilityVector(name string) []float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	idx := e.indexOf(name)
	if idx < 0 {
		return nil
	}
	return append([]float64(nil), e.matrix[idx]...)
}

// AbilityMatrix returns a deep copy of the (N x 5) capability matrix,
// rows in registration order.
func (e *Engine) AbilityMatrix() [][]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([][]float64, len(e.matrix))
	for i, row := range e.matrix {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Snapshot returns the model names and capability matrix as one
// consistent copy, so callers iterating both cannot observe a mutation
// between the two reads.
func (e *Engine) Snapshot() ([]string, [][]float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := append([]string(nil), e.names...)
	matrix := make([][]float64, len(e.matrix))
	for i, row := range e.matrix {
		matrix[i] = append([]float64(nil), row...)
	}
	return names, matrix
}

// ModelList returns the registered names in registration order.
func (e *Engine) ModelList() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return append([]string(nil), e.names...)
}

// indexOf must be called with at least the read lock held.
func (e *Engine) indexOf(name string) int {
	for i, n := range e.names {
		if n == name {
			return i
		}
	}
	return -1
}

// SeedDefaults registers a small default model set when the engine is
// empty. Gated by config; intended for demos and tests.
func (e *Engine) SeedDefaults(ctx context.Context) error {
	if len(e.ModelList()) > 0 {
		return nil
	}

	defaults := []struct {
		name  string
		ranks []int
	}{
		{"gemini-2.5-pro", []int{11, 30, 11, 15, 29}},
		{"qwen3-max", []int{15, 18, 23, 13, 4}},
		{"deepseek-3.2-exp", []int{22, 28, 21, 35, 8}},
	}

	for _, d := range defaults {
		if err := e.Upsert(ctx, d.name, d.ranks); err != nil {
			return fmt.Errorf("failed to seed model %s: %w", d.name, err)
		}
	}
	slog.Info("Seeded default model set", "models", len(defaults))
	return nil
}
