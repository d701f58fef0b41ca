package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/modelchain/modelchain/pkg/capability"
	"github.com/modelchain/modelchain/pkg/encoder"
	"github.com/modelchain/modelchain/pkg/ledger"
	"github.com/modelchain/modelchain/pkg/llms"
	"github.com/modelchain/modelchain/pkg/store"
)

var routingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modelchain_routing_decisions_total",
	Help: "Routing decisions by selected model.",
}, []string{"model"})

// Router ties the two encoder towers, the capability engine, the
// upstream LLM and the record sink together for one request.
type Router struct {
	qEncoder *encoder.QEncoder
	mEncoder *encoder.MEncoder
	engine   *capability.Engine
	llm      llms.Provider
	ledger   *ledger.Ledger
	store    *store.Store
	topK     int
}

func New(q *encoder.QEncoder, m *encoder.MEncoder, eng *capability.Engine, llm llms.Provider, led *ledger.Ledger, st *store.Store, topK int) *Router {
	if topK < 1 {
		topK = 2
	}
	return &Router{
		qEncoder: q,
		mEncoder: m,
		engine:   eng,
		llm:      llm,
		ledger:   led,
		store:    st,
		topK:     topK,
	}
}

// Route scores every registered model by the dot product of the query
// and model latent vectors and returns the top min(topK, N) names.
// Ties break toward earlier registration. An empty registry yields an
// empty list.
func (r *Router) Route(ctx context.Context, query string) ([]string, error) {
	names, matrix := r.engine.Snapshot()
	if len(names) == 0 {
		return nil, nil
	}

	zQ, err := r.qEncoder.Encode(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	type scored struct {
		name  string
		score float64
		order int
	}
	candidates := make([]scored, 0, len(names))
	for i, name := range names {
		zM, err := r.mEncoder.Encode(matrix[i])
		if err != nil {
			return nil, fmt.Errorf("failed to encode model %s: %w", name, err)
		}
		score := dot(zQ, zM)
		slog.Debug("Model scored", "model", name, "score", score)
		candidates = append(candidates, scored{name: name, score: score, order: i})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].order < candidates[j].order
	})

	k := r.topK
	if k > len(candidates) {
		k = len(candidates)
	}
	selected := make([]string, k)
	for i := 0; i < k; i++ {
		selected[i] = candidates[i].name
	}
	return selected, nil
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Generate sends the query to the first candidate as a single-turn user
// message. Transient upstream failures are retried once.
func (r *Router) Generate(ctx context.Context, query string, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("no candidate models")
	}

	model := candidates[0]

	text, _, err := r.llm.Generate(ctx, model, query)
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", err
	}

	slog.Warn("Upstream generation failed, retrying once", "model", model, "error", err)
	time.Sleep(200 * time.Millisecond)

	text, _, err = r.llm.Generate(ctx, model, query)
	if err != nil {
		return "", fmt.Errorf("upstream generation failed: %w", err)
	}
	return text, nil
}

// Dispatch runs one routed turn: select candidates, call the first one,
// and append the routing record. The record write is best-effort.
func (r *Router) Dispatch(ctx context.Context, query string) (string, string, error) {
	candidates, err := r.Route(ctx, query)
	if err != nil {
		return "", "", err
	}
	if len(candidates) == 0 {
		return "", "", ErrNoModels
	}

	answer, err := r.Generate(ctx, query, candidates)
	if err != nil {
		return "", "", err
	}

	selected := candidates[0]
	routingDecisions.WithLabelValues(selected).Inc()

	reason := "Selected based on overall metrics"
	modelID := ""
	if model, lookupErr := r.store.GetModelByName(ctx, selected); lookupErr == nil {
		modelID = model.ID
		if tags, ratErr := r.Rationale(ctx, selected); ratErr == nil && tags != "" {
			reason = tags
		}
	}

	if _, err := r.ledger.RecordRouting(ctx, modelID, selected, query, reason); err != nil {
		slog.Warn("Failed to append routing record", "model", selected, "error", err)
	}

	return answer, selected, nil
}

// ErrNoModels signals an empty registry; the handler surfaces it as a
// non-success envelope.
var ErrNoModels = fmt.Errorf("no models available")

// Rationale builds informational selection tags for a model against
// the population averages of all registered models.
func (r *Router) Rationale(ctx context.Context, name string) (string, error) {
	models, err := r.store.ListModels(ctx)
	if err != nil {
		return "", err
	}
	if len(models) == 0 {
		return "", nil
	}

	var selected *store.Model
	var sumTrust, sumLatency, sumCost float64
	for _, m := range models {
		sumTrust += m.TrustScore
		sumLatency += float64(m.AvgLatencyMS)
		sumCost += m.CostPer1KUSD
		if m.Name == name {
			selected = m
		}
	}
	if selected == nil {
		return "", store.ErrNotFound
	}

	n := float64(len(models))
	var reasons []string

	if selected.TrustScore > sumTrust/n {
		reasons = append(reasons, fmt.Sprintf("High trust score (%.1f/100)", selected.TrustScore))
	}
	if float64(selected.AvgLatencyMS) < sumLatency/n {
		reasons = append(reasons, fmt.Sprintf("Low latency (%dms)", selected.AvgLatencyMS))
	}
	if selected.CostPer1KUSD < sumCost/n {
		reasons = append(reasons, fmt.Sprintf("Cost-effective ($%.4f/1K)", selected.CostPer1KUSD))
	}
	if caps := Capabilities(selected.CapabilityRanks); len(caps) > 2 {
		reasons = append(reasons, fmt.Sprintf("Multi-capable (%s)", strings.Join(caps[:3], ", ")))
	}

	return strings.Join(reasons, "; "), nil
}

var skillNames = []string{"math", "code", "IF", "expert", "safety"}

// Capabilities derives the named capability list from a rank row; a
// model is credited with a skill when it ranks in the top 20.
func Capabilities(ranks []int) []string {
	var caps []string
	for i, r := range ranks {
		if i < len(skillNames) && r <= 20 {
			caps = append(caps, skillNames[i])
		}
	}
	if len(caps) == 0 {
		return []string{"general"}
	}
	return caps
}
