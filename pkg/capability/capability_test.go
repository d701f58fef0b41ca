package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelchain/modelchain/pkg/store"
)

// fakeModelStore records persistence calls without a database.
type fakeModelStore struct {
	models map[string]*store.Model
}

func newFakeModelStore() *fakeModelStore {
	return &fakeModelStore{models: make(map[string]*store.Model)}
}

func (f *fakeModelStore) InsertModel(ctx context.Context, m *store.Model) error {
	f.models[m.Name] = m
	return nil
}

func (f *fakeModelStore) UpdateModelCapabilities(ctx context.Context, name string, ranks []int, vector []float64) error {
	if m, ok := f.models[name]; ok {
		m.CapabilityRanks = ranks
		m.CapabilityVector = vector
		return nil
	}
	return store.ErrNotFound
}

func (f *fakeModelStore) DeleteModelByName(ctx context.Context, name string) error {
	delete(f.models, name)
	return nil
}

func (f *fakeModelStore) ListModels(ctx context.Context) ([]*store.Model, error) {
	out := make([]*store.Model, 0, len(f.models))
	for _, m := range f.models {
		out = append(out, m)
	}
	return out, nil
}

func TestDeriveRowUniformRanks(t *testing.T) {
	row := deriveRow([]int{1, 1, 1, 1, 1})
	for i, v := range row {
		assert.InDelta(t, ScaleTarget, v, 1e-12, "skill %d", i)
	}
}

func TestDeriveRowSpreadRanks(t *testing.T) {
	// distances 0, 1, 4, 9, 19 exercise all four decay regimes
	row := deriveRow([]int{1, 2, 5, 10, 20})

	expected := []float64{
		0.6,
		0.6 / 1.1,
		0.6 / 1.3 / 1.15,
		0.6 / 1.3 / 1.75 / 1.2,
		0.6 / 1.3 / 1.75 / 2.4 / 2.2,
	}
	require.Len(t, row, len(expected))
	for i := range expected {
		assert.InDelta(t, expected[i], row[i], 1e-9, "skill %d", i)
	}
}

func TestDeriveRowMonotonicInDistance(t *testing.T) {
	row := deriveRow([]int{1, 3, 7, 12, 25})
	for i := 1; i < len(row); i++ {
		assert.Less(t, row[i], row[i-1], "score must strictly decrease with rank distance")
	}
}

func TestDeriveRowShiftInvariant(t *testing.T) {
	// only distances from the row minimum matter
	a := deriveRow([]int{1, 4, 9})
	b := deriveRow([]int{51, 54, 59})
	for i := range a {
		assert.InDelta(t, a[i], b[i], 1e-12)
	}
}

func TestUpsertValidation(t *testing.T) {
	e := NewEngine(newFakeModelStore())
	ctx := context.Background()

	tests := []struct {
		name  string
		model string
		ranks []int
	}{
		{"empty name", "", []int{1, 2, 3, 4, 5}},
		{"too few ranks", "m", []int{1, 2, 3}},
		{"too many ranks", "m", []int{1, 2, 3, 4, 5, 6}},
		{"zero rank", "m", []int{0, 2, 3, 4, 5}},
		{"negative rank", "m", []int{1, 2, -3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, e.Upsert(ctx, tt.model, tt.ranks))
		})
	}
	assert.Empty(t, e.ModelList())
}

func TestUpsertAndReplace(t *testing.T) {
	fake := newFakeModelStore()
	e := NewEngine(fake)
	ctx := context.Background()

	require.NoError(t, e.Upsert(ctx, "alpha", []int{1, 1, 1, 1, 1}))
	require.NoError(t, e.Upsert(ctx, "beta", []int{1, 2, 5, 10, 20}))
	assert.Equal(t, []string{"alpha", "beta"}, e.ModelList())

	// replacing ranks keeps registration order
	require.NoError(t, e.Upsert(ctx, "alpha", []int{5, 5, 5, 5, 5}))
	assert.Equal(t, []string{"alpha", "beta"}, e.ModelList())

	vec := e.CapabilityVector("alpha")
	require.Len(t, vec, NumSkills)
	for _, v := range vec {
		assert.InDelta(t, ScaleTarget, v, 1e-12)
	}

	persisted := fake.models["alpha"]
	require.NotNil(t, persisted)
	assert.Equal(t, []int{5, 5, 5, 5, 5}, persisted.CapabilityRanks)
	assert.InDelta(t, 50.0, persisted.TrustScore, 1e-12)
	assert.Equal(t, 8192, persisted.MaxTokens)
}

func TestRemove(t *testing.T) {
	e := NewEngine(newFakeModelStore())
	ctx := context.Background()

	require.NoError(t, e.Upsert(ctx, "alpha", []int{1, 1, 1, 1, 1}))
	require.NoError(t, e.Upsert(ctx, "beta", []int{2, 2, 2, 2, 2}))

	require.NoError(t, e.Remove(ctx, "alpha"))
	assert.Equal(t, []string{"beta"}, e.ModelList())
	assert.Nil(t, e.RankVector("alpha"))

	assert.ErrorIs(t, e.Remove(ctx, "alpha"), store.ErrNotFound)
}

func TestRemoveThenUpsertMatchesFreshUpsert(t *testing.T) {
	ctx := context.Background()

	build := func(withCycle bool) *Engine {
		e := NewEngine(newFakeModelStore())
		require.NoError(t, e.Upsert(ctx, "other", []int{3, 6, 9, 12, 15}))
		if withCycle {
			require.NoError(t, e.Upsert(ctx, "target", []int{9, 9, 9, 9, 9}))
			require.NoError(t, e.Remove(ctx, "target"))
		}
		require.NoError(t, e.Upsert(ctx, "target", []int{1, 2, 5, 10, 20}))
		return e
	}

	cycled := build(true)
	fresh := build(false)

	cNames, cMatrix := cycled.Snapshot()
	fNames, fMatrix := fresh.Snapshot()
	assert.Equal(t, fNames, cNames)
	assert.Equal(t, fMatrix, cMatrix)
}

func TestSnapshotConsistency(t *testing.T) {
	e := NewEngine(newFakeModelStore())
	ctx := context.Background()

	require.NoError(t, e.Upsert(ctx, "alpha", []int{1, 1, 1, 1, 1}))
	require.NoError(t, e.Upsert(ctx, "beta", []int{1, 2, 5, 10, 20}))

	names, matrix := e.Snapshot()
	require.Len(t, names, 2)
	require.Len(t, matrix, 2)
	assert.Equal(t, names[0], "alpha")
	assert.Equal(t, e.CapabilityVector("beta"), matrix[1])

	// the snapshot is a copy; mutating it must not leak into the engine
	matrix[0][0] = -1
	assert.InDelta(t, ScaleTarget, e.CapabilityVector("alpha")[0], 1e-12)
}

func TestSeedDefaults(t *testing.T) {
	e := NewEngine(newFakeModelStore())
	ctx := context.Background()

	require.NoError(t, e.SeedDefaults(ctx))
	assert.Equal(t, []string{"gemini-2.5-pro", "qwen3-max", "deepseek-3.2-exp"}, e.ModelList())

	// seeding twice must not duplicate
	require.NoError(t, e.SeedDefaults(ctx))
	assert.Len(t, e.ModelList(), 3)
}
