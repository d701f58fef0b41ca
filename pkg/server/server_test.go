package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelchain/modelchain/pkg/capability"
	"github.com/modelchain/modelchain/pkg/config"
	"github.com/modelchain/modelchain/pkg/databases"
	"github.com/modelchain/modelchain/pkg/encoder"
	"github.com/modelchain/modelchain/pkg/ledger"
	"github.com/modelchain/modelchain/pkg/memory"
	"github.com/modelchain/modelchain/pkg/router"
	"github.com/modelchain/modelchain/pkg/store"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(text string) ([]float32, error) {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, 384)
	for i := range vec {
		vec[i] = float32((seed+uint32(i))%13) / 13
	}
	return vec, nil
}

func (f fakeEmbedder) EmbedWithContext(ctx context.Context, text string) ([]float32, error) {
	return f.Embed(text)
}
func (fakeEmbedder) GetDimension() int    { return 384 }
func (fakeEmbedder) GetModelName() string { return "fake-embedder" }
func (fakeEmbedder) Close() error         { return nil }

type fakeLLM struct {
	response   string
	failSubstr string // prompts containing this substring fail
}

func (f *fakeLLM) Generate(ctx context.Context, model, prompt string) (string, int, error) {
	if f.failSubstr != "" && strings.Contains(prompt, f.failSubstr) {
		return "", 0, fmt.Errorf("upstream unavailable")
	}
	return f.response, 3, nil
}
func (f *fakeLLM) GetModelName() string { return "fake" }
func (f *fakeLLM) Close() error         { return nil }

type fakeVectors struct {
	mu   sync.Mutex
	docs map[string]map[string]interface{}
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{docs: make(map[string]map[string]interface{})}
}

func (f *fakeVectors) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id] = metadata
	return nil
}

func (f *fakeVectors) Search(ctx context.Context, collection string, vector []float32, topK int) ([]databases.SearchResult, error) {
	return f.SearchWithFilter(ctx, collection, vector, topK, nil)
}

func (f *fakeVectors) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]interface{}) ([]databases.SearchResult, error) {
	return nil, nil
}

func (f *fakeVectors) Delete(ctx context.Context, collection, id string) error { return nil }
func (f *fakeVectors) DeleteByFilter(ctx context.Context, collection string, filter map[string]interface{}) error {
	return nil
}
func (f *fakeVectors) CreateCollection(ctx context.Context, collection string, vectorSize uint64) error {
	return nil
}
func (f *fakeVectors) DeleteCollection(ctx context.Context, collection string) error { return nil }
func (f *fakeVectors) Close() error                                                  { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *store.Store, *capability.Engine) {
	t.Helper()
	return newTestServerWithMemoryLLM(t, &fakeLLM{response: "[]"})
}

func newTestServerWithMemoryLLM(t *testing.T, memLLM *fakeLLM) (*httptest.Server, *store.Store, *capability.Engine) {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := store.NewStore(db, "sqlite")
	require.NoError(t, err)

	engine := capability.NewEngine(st)
	led := ledger.New(st)

	qEnc, mEnc, err := encoder.NewEncoders("", 42, fakeEmbedder{})
	require.NoError(t, err)
	rt := router.New(qEnc, mEnc, engine, &fakeLLM{response: "routed answer"}, led, st, 2)

	memCfg := &config.MemoryConfig{}
	memCfg.SetDefaults()
	mem, err := memory.NewManager(st, newFakeVectors(), fakeEmbedder{}, memLLM, memCfg)
	require.NoError(t, err)

	srvCfg := &config.ServerConfig{}
	srvCfg.SetDefaults()
	srv := New(srvCfg, engine, rt, mem, led, st)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		mem.Wait()
	})
	return ts, st, engine
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, method, url string, body interface{}) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHealthEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, env := doJSON(t, http.MethodGet, ts.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}

func TestRegisterAndFetchModel(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, env := doJSON(t, http.MethodPost, ts.URL+"/api/models/register", map[string]interface{}{
		"name":             "alpha",
		"capability_ranks": []int{1, 2, 5, 10, 20},
	})
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Success)

	var registered store.Model
	require.NoError(t, json.Unmarshal(env.Data, &registered))
	assert.NotEmpty(t, registered.ID)
	assert.Equal(t, 8192, registered.MaxTokens)
	assert.InDelta(t, 50.0, registered.TrustScore, 1e-9)
	require.Len(t, registered.CapabilityVector, 5)
	assert.InDelta(t, 0.6, registered.CapabilityVector[0], 1e-9)

	status, env = doJSON(t, http.MethodGet, ts.URL+"/api/models/"+registered.ID, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	status, env = doJSON(t, http.MethodGet, ts.URL+"/api/models", nil)
	require.Equal(t, http.StatusOK, status)
	var models []store.Model
	require.NoError(t, json.Unmarshal(env.Data, &models))
	assert.Len(t, models, 1)
}

func TestRegisterModelValidation(t *testing.T) {
	ts, _, _ := newTestServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing name", map[string]interface{}{"capability_ranks": []int{1, 2, 3, 4, 5}}},
		{"too few ranks", map[string]interface{}{"name": "x", "capability_ranks": []int{1, 2}}},
		{"zero rank", map[string]interface{}{"name": "x", "capability_ranks": []int{0, 2, 3, 4, 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := doJSON(t, http.MethodPost, ts.URL+"/api/models/register", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.False(t, env.Success)
		})
	}
}

func TestGetModelNotFound(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, env := doJSON(t, http.MethodGet, ts.URL+"/api/models/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, env.Success)
}

func TestVerifyModel(t *testing.T) {
	ts, st, engine := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, engine.Upsert(ctx, "alpha", []int{1, 2, 3, 4, 5}))
	model, err := st.GetModelByName(ctx, "alpha")
	require.NoError(t, err)

	status, env := doJSON(t, http.MethodPost, ts.URL+"/api/models/"+model.ID+"/verify", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	updated, err := st.GetModelByID(ctx, model.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsVerified)
}

func TestChatRouteFlow(t *testing.T) {
	ts, st, engine := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, engine.Upsert(ctx, "alpha", []int{1, 2, 3, 4, 5}))

	status, env := doJSON(t, http.MethodPost, ts.URL+"/api/chat/register-conversation", map[string]interface{}{})
	require.Equal(t, http.StatusOK, status)
	var created map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &created))
	conversationID := created["conversation_id"]
	require.NotEmpty(t, conversationID)

	status, env = doJSON(t, http.MethodPost, ts.URL+"/api/chat/route", map[string]interface{}{
		"conversation_id": conversationID,
		"query":           "what is the capital of France",
	})
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Success)

	var routed map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &routed))
	assert.Equal(t, "routed answer", routed["response"])
	assert.Equal(t, "alpha", routed["model_name"])
	assert.Equal(t, conversationID, routed["conversation_id"])

	// the exchange was persisted
	messages, err := st.ListMessages(ctx, conversationID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "what is the capital of France", messages[0].Content)
	assert.Equal(t, "routed answer", messages[1].Content)

	// and a routing record was appended
	count, err := st.CountRoutingRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// the conversation history endpoint returns it as role/content memories
	status, env = doJSON(t, http.MethodPost, ts.URL+"/api/route/get-conversation", map[string]interface{}{
		"conversation_id": conversationID,
	})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	var history struct {
		ConversationID string `json:"conversation_id"`
		Memories       []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"memories"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Equal(t, conversationID, history.ConversationID)
	require.Len(t, history.Memories, 2)
	assert.Equal(t, "user", history.Memories[0].Role)
	assert.Equal(t, "what is the capital of France", history.Memories[0].Content)
	assert.Equal(t, "assistant", history.Memories[1].Role)
	assert.Equal(t, "routed answer", history.Memories[1].Content)
}

func TestChatRouteRewriteFailure(t *testing.T) {
	ts, _, engine := newTestServerWithMemoryLLM(t, &fakeLLM{
		response:   "[]",
		failSubstr: "rewrite user queries",
	})
	require.NoError(t, engine.Upsert(context.Background(), "alpha", []int{1, 2, 3, 4, 5}))

	status, env := doJSON(t, http.MethodPost, ts.URL+"/api/chat/route", map[string]interface{}{
		"query": "hello",
	})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "rewrite")
}

func TestChatRouteNoModels(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, env := doJSON(t, http.MethodPost, ts.URL+"/api/chat/route", map[string]interface{}{
		"query": "hello",
	})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "no models")
}

func TestChatRouteUnknownConversation(t *testing.T) {
	ts, _, engine := newTestServer(t)
	require.NoError(t, engine.Upsert(context.Background(), "alpha", []int{1, 2, 3, 4, 5}))

	status, env := doJSON(t, http.MethodPost, ts.URL+"/api/chat/route", map[string]interface{}{
		"conversation_id": "ghost",
		"query":           "hello",
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, env.Success)
}

func TestPerformanceReportFlow(t *testing.T) {
	ts, st, engine := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, engine.Upsert(ctx, "alpha", []int{1, 2, 3, 4, 5}))
	model, err := st.GetModelByName(ctx, "alpha")
	require.NoError(t, err)

	status, env := doJSON(t, http.MethodPost, ts.URL+"/api/performance/report", map[string]interface{}{
		"model_id":       model.ID,
		"period":         "2026-08",
		"avg_latency_ms": 1000,
		"success_rate":   100,
	})
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Success)

	updated, err := st.GetModelByID(ctx, model.ID)
	require.NoError(t, err)
	assert.InDelta(t, 56.0, updated.TrustScore, 0.01)

	status, env = doJSON(t, http.MethodGet, ts.URL+"/api/performance/"+model.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var records []store.PerformanceRecord
	require.NoError(t, json.Unmarshal(env.Data, &records))
	assert.Len(t, records, 1)
}

func TestViolationReportFlow(t *testing.T) {
	ts, st, engine := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, engine.Upsert(ctx, "alpha", []int{1, 2, 3, 4, 5}))
	model, err := st.GetModelByName(ctx, "alpha")
	require.NoError(t, err)

	status, env := doJSON(t, http.MethodPost, ts.URL+"/api/violations/report", map[string]interface{}{
		"model_id":         model.ID,
		"issue":            "served stale weights",
		"severity":         "MEDIUM",
		"slash_amount_eth": 1.5,
	})
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Success)

	updated, err := st.GetModelByID(ctx, model.ID)
	require.NoError(t, err)
	assert.InDelta(t, 42.0, updated.TrustScore, 1e-9)
	assert.Equal(t, 1, updated.Violations)

	status, _ = doJSON(t, http.MethodPost, ts.URL+"/api/violations/report", map[string]interface{}{
		"model_id": model.ID,
		"severity": "CATASTROPHIC",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestTrustScores(t *testing.T) {
	ts, _, engine := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, engine.Upsert(ctx, "alpha", []int{1, 2, 3, 25, 30}))

	status, env := doJSON(t, http.MethodGet, ts.URL+"/api/trust-scores", nil)
	require.Equal(t, http.StatusOK, status)

	var entries []trustScoreEntry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "alpha", entries[0].ModelName)
	assert.Equal(t, []string{"math", "code", "IF"}, entries[0].Capabilities)

	status, env = doJSON(t, http.MethodGet, ts.URL+"/api/trust-scores/"+entries[0].ModelID, nil)
	require.Equal(t, http.StatusOK, status)
	var single trustScoreEntry
	require.NoError(t, json.Unmarshal(env.Data, &single))
	assert.Equal(t, entries[0], single)
}

func TestDashboardOverview(t *testing.T) {
	ts, _, engine := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, engine.Upsert(ctx, "alpha", []int{1, 2, 3, 4, 5}))
	require.NoError(t, engine.Upsert(ctx, "beta", []int{6, 7, 8, 9, 10}))

	status, env := doJSON(t, http.MethodGet, ts.URL+"/api/dashboard/overview", nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Success)

	var overview struct {
		TotalModels    int           `json:"total_models"`
		VerifiedModels int           `json:"verified_models"`
		TopModels      []store.Model `json:"top_models"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &overview))
	assert.Equal(t, 2, overview.TotalModels)
	assert.Equal(t, 0, overview.VerifiedModels)
	assert.Len(t, overview.TopModels, 2)
}

func TestCommitBatch(t *testing.T) {
	ts, _, engine := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, engine.Upsert(ctx, "alpha", []int{1, 2, 3, 4, 5}))

	for i := 0; i < 2; i++ {
		status, _ := doJSON(t, http.MethodPost, ts.URL+"/api/chat/route", map[string]interface{}{
			"query": fmt.Sprintf("question %d", i),
		})
		require.Equal(t, http.StatusOK, status)
	}

	status, env := doJSON(t, http.MethodPost, ts.URL+"/api/routing/commit-batch", map[string]interface{}{
		"period": "2026-08-26T12:00",
	})
	require.Equal(t, http.StatusOK, status)

	var commit ledger.BatchCommit
	require.NoError(t, json.Unmarshal(env.Data, &commit))
	assert.Equal(t, 2, commit.TotalRequests)
	assert.Len(t, commit.MerkleRoot, 64)
	require.Len(t, commit.TopModels, 1)
	assert.Equal(t, "alpha", commit.TopModels[0].Model)
}

func TestConversationListAndDelete(t *testing.T) {
	ts, _, _ := newTestServer(t)

	_, env := doJSON(t, http.MethodPost, ts.URL+"/api/chat/register-conversation", map[string]interface{}{})
	var created map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &created))
	id := created["conversation_id"]

	status, env := doJSON(t, http.MethodGet, ts.URL+"/api/conversations", nil)
	require.Equal(t, http.StatusOK, status)
	var listed struct {
		ConversationIDs []string `json:"conversation_ids"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	assert.Contains(t, listed.ConversationIDs, id)

	status, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/conversations/"+id, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = doJSON(t, http.MethodPost, ts.URL+"/api/route/get-conversation", map[string]interface{}{
		"conversation_id": id,
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, env.Success)
}

func TestRegisterUser(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, env := doJSON(t, http.MethodPost, ts.URL+"/api/users/register", map[string]interface{}{
		"username": "alice",
	})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	status, _ = doJSON(t, http.MethodPost, ts.URL+"/api/users/register", map[string]interface{}{
		"username": "alice",
	})
	assert.Equal(t, http.StatusConflict, status)
}

func TestCORSPreflight(t *testing.T) {
	ts, _, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/models", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
