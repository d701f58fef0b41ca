package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := NewStore(db, "sqlite")
	require.NoError(t, err)
	return st
}

func testModel(id, name string) *Model {
	return &Model{
		ID:               id,
		Name:             name,
		CapabilityRanks:  []int{1, 2, 5, 10, 20},
		CapabilityVector: []float64{0.6, 0.54, 0.4, 0.22, 0.05},
		MaxTokens:        8192,
		AvgLatencyMS:     1000,
		CostPer1KUSD:     0.01,
		StakeETH:         10.0,
		TrustScore:       50.0,
		RegistrationTime: time.Now().UTC(),
	}
}

func TestNewStoreRejectsUnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = NewStore(db, "oracle")
	assert.Error(t, err)
}

func TestModelRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := testModel("m1", "alpha")
	require.NoError(t, st.InsertModel(ctx, m))

	byID, err := st.GetModelByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, m.Name, byID.Name)
	assert.Equal(t, m.CapabilityRanks, byID.CapabilityRanks)
	assert.InDeltaSlice(t, m.CapabilityVector, byID.CapabilityVector, 1e-12)
	assert.False(t, byID.IsVerified)

	byName, err := st.GetModelByName(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, byID.ID, byName.ID)
}

func TestGetModelNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetModelByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.GetModelByName(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListModelsRegistrationOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, name := range []string{"alpha", "beta", "gamma"} {
		m := testModel(name+"-id", name)
		m.RegistrationTime = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, st.InsertModel(ctx, m))
	}

	models, err := st.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 3)
	assert.Equal(t, "alpha", models[0].Name)
	assert.Equal(t, "beta", models[1].Name)
	assert.Equal(t, "gamma", models[2].Name)
}

func TestUpdateModelCapabilities(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.InsertModel(ctx, testModel("m1", "alpha")))

	require.NoError(t, st.UpdateModelCapabilities(ctx, "alpha", []int{2, 2, 2, 2, 2}, []float64{0.6, 0.6, 0.6, 0.6, 0.6}))

	m, err := st.GetModelByName(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2, 2, 2}, m.CapabilityRanks)

	assert.ErrorIs(t, st.UpdateModelCapabilities(ctx, "missing", []int{1, 1, 1, 1, 1}, nil), ErrNotFound)
}

func TestUpdateModelTrustAndVerify(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.InsertModel(ctx, testModel("m1", "alpha")))

	require.NoError(t, st.UpdateModelTrust(ctx, "m1", 72.5, 2, 7.5))
	require.NoError(t, st.SetModelVerified(ctx, "m1"))

	m, err := st.GetModelByID(ctx, "m1")
	require.NoError(t, err)
	assert.InDelta(t, 72.5, m.TrustScore, 1e-9)
	assert.Equal(t, 2, m.Violations)
	assert.InDelta(t, 7.5, m.StakeETH, 1e-9)
	assert.True(t, m.IsVerified)

	assert.ErrorIs(t, st.SetModelVerified(ctx, "missing"), ErrNotFound)
}

func TestCountsAndTopModels(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i, name := range []string{"alpha", "beta", "gamma"} {
		m := testModel(name+"-id", name)
		m.TrustScore = float64(40 + 10*i)
		require.NoError(t, st.InsertModel(ctx, m))
	}
	require.NoError(t, st.SetModelVerified(ctx, "beta-id"))

	total, err := st.CountModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	verified, err := st.CountVerifiedModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, verified)

	top, err := st.TopModelsByTrust(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "gamma", top[0].Name)
	assert.Equal(t, "beta", top[1].Name)
}

func TestConversationLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateConversation(ctx, "c1"))

	conv, err := st.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	assert.Empty(t, conv.Summary)

	require.NoError(t, st.UpdateConversationSummary(ctx, "c1", "user likes Go"))
	conv, err = st.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "user likes Go", conv.Summary)

	assert.ErrorIs(t, st.UpdateConversationSummary(ctx, "missing", "x"), ErrNotFound)
}

func TestAppendMessagePairOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateConversation(ctx, "c1"))

	require.NoError(t, st.AppendMessagePair(ctx, "c1", "first question", "first answer"))
	require.NoError(t, st.AppendMessagePair(ctx, "c1", "second question", "second answer"))

	messages, err := st.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, messages, 4)

	assert.Equal(t, []string{"user", "assistant", "user", "assistant"},
		[]string{messages[0].Role, messages[1].Role, messages[2].Role, messages[3].Role})
	assert.Equal(t, "first question", messages[0].Content)
	assert.Equal(t, "second answer", messages[3].Content)

	for i := 1; i < len(messages); i++ {
		assert.True(t, messages[i].Timestamp.After(messages[i-1].Timestamp),
			"message %d must sort after message %d", i, i-1)
	}
}

func TestMessageBelongsToOneConversation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateConversation(ctx, "c1"))
	require.NoError(t, st.CreateConversation(ctx, "c2"))

	require.NoError(t, st.AppendMessagePair(ctx, "c1", "hello", "hi"))
	require.NoError(t, st.AppendMessagePair(ctx, "c2", "other", "reply"))

	messages, err := st.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, messages, 2)

	for _, m := range messages {
		n, err := st.CountMessageLinks(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
}

func TestDeleteConversationIsolation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateConversation(ctx, "c1"))
	require.NoError(t, st.CreateConversation(ctx, "c2"))
	require.NoError(t, st.AppendMessagePair(ctx, "c1", "doomed", "gone"))
	require.NoError(t, st.AppendMessagePair(ctx, "c2", "survivor", "stays"))

	require.NoError(t, st.DeleteConversation(ctx, "c1"))

	_, err := st.GetConversation(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	messages, err := st.ListMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, messages)

	// the other conversation is untouched
	messages, err = st.ListMessages(ctx, "c2")
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestConversationUserLink(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateUser(ctx, &User{ID: "u1", Username: "alice", IsActive: true}))
	require.NoError(t, st.CreateConversation(ctx, "c1"))
	require.NoError(t, st.LinkConversationToUser(ctx, "c1", "u1"))

	u, err := st.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.True(t, u.IsActive)

	_, err = st.GetUserByUsername(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoutingRecordsNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, st.AppendRoutingRecord(ctx, &RoutingRecord{
			ID:          string(rune('a' + i)),
			ModelID:   "m1",
			ModelName: "alpha",
			Timestamp: time.Now().UTC(),
			UserQuery: "q",
			TxHash:    "0x0",
		}))
	}

	records, err := st.RecentRoutingRecords(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(3), records[0].BlockNumber)
	assert.Equal(t, int64(2), records[1].BlockNumber)

	count, err := st.CountRoutingRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestAppendRecordsAssignBlockNumbers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// block numbers are derived inside the insert transaction, not by
	// the caller
	a := &RoutingRecord{ID: "r1", ModelID: "m1", ModelName: "alpha", Timestamp: time.Now().UTC(), TxHash: "0x0"}
	b := &RoutingRecord{ID: "r2", ModelID: "m1", ModelName: "alpha", Timestamp: time.Now().UTC(), TxHash: "0x0"}
	require.NoError(t, st.AppendRoutingRecord(ctx, a))
	require.NoError(t, st.AppendRoutingRecord(ctx, b))
	assert.Equal(t, int64(1), a.BlockNumber)
	assert.Equal(t, int64(2), b.BlockNumber)

	p := &PerformanceRecord{ID: "p1", ModelID: "m1", Period: "2026-08", TxHash: "0x0", ReportTime: time.Now().UTC()}
	require.NoError(t, st.AppendPerformanceRecord(ctx, p))
	assert.Equal(t, int64(1), p.BlockNumber)

	v := &ViolationRecord{ID: "v1", ModelID: "m1", Issue: "i", Severity: "LOW", TxHash: "0x0", ReportTime: time.Now().UTC()}
	require.NoError(t, st.AppendViolationRecord(ctx, v))
	assert.Equal(t, int64(1), v.BlockNumber)
}

func TestCountRecentSelectionsWindow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// 3 old records for m1, then 4 newer records for m2
	block := int64(0)
	appendFor := func(modelID string, n int) {
		for i := 0; i < n; i++ {
			block++
			require.NoError(t, st.AppendRoutingRecord(ctx, &RoutingRecord{
				ID:          modelID + "-" + string(rune('a'+i)) + "-" + string(rune('0'+block%10)),
				ModelID:   modelID,
				ModelName: modelID,
				Timestamp: time.Now().UTC(),
				TxHash:    "0x0",
			}))
		}
	}
	appendFor("m1", 3)
	appendFor("m2", 4)

	// a window of 4 covers only the m2 records
	n, err := st.CountRecentSelections(ctx, "m1", 4)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = st.CountRecentSelections(ctx, "m2", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// the full window sees everything
	n, err = st.CountRecentSelections(ctx, "m1", 100)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPerformanceRecordsFilteredByModel(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i, modelID := range []string{"m1", "m2", "m1"} {
		require.NoError(t, st.AppendPerformanceRecord(ctx, &PerformanceRecord{
			ID:         string(rune('a' + i)),
			ModelID:    modelID,
			Period:     "2026-08",
			TxHash:     "0x0",
			ReportTime: time.Now().UTC(),
		}))
	}

	records, err := st.ListPerformanceRecords(ctx, "m1", 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	all, err := st.ListPerformanceRecords(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	// newest first
	assert.Equal(t, int64(3), all[0].BlockNumber)

	count, err := st.CountPerformanceRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestViolationRecordsRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendViolationRecord(ctx, &ViolationRecord{
		ID:             "v1",
		ModelID:        "m1",
		Issue:          "served stale weights",
		Severity:       "HIGH",
		SlashAmountETH: 2.5,
		TxHash:         "0x0",
		ReportTime:     time.Now().UTC(),
	}))

	records, err := st.ListViolationRecords(ctx, "m1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "HIGH", records[0].Severity)
	assert.InDelta(t, 2.5, records[0].SlashAmountETH, 1e-9)

	count, err := st.CountViolationRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
