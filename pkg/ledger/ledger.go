package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/modelchain/modelchain/pkg/store"
)

// selectionWindow is how many recent routing records the usage
// component of the trust score looks at.
const selectionWindow = 100

// Severity levels accepted on violation reports, with their trust
// penalties.
var violationPenalties = map[string]float64{
	"HIGH":   15,
	"MEDIUM": 8,
	"LOW":    3,
}

// ValidSeverity reports whether s is an accepted severity level.
func ValidSeverity(s string) bool {
	_, ok := violationPenalties[s]
	return ok
}

// Ledger is the append-only record sink. Every record gets a
// sequence-derived block number and a synthesized transaction hash;
// both are opaque identifiers, not cryptographic commitments.
type Ledger struct {
	store *store.Store
}

func New(st *store.Store) *Ledger {
	return &Ledger{store: st}
}

func txHash(parts ...string) string {
	data := fmt.Sprintf("%d", time.Now().UnixNano())
	for _, p := range parts {
		data += "|" + p
	}
	return "0x" + sha256Hex([]byte(data))
}

// RecordRouting appends one routing decision. The block number is
// assigned by the store inside the insert transaction.
func (l *Ledger) RecordRouting(ctx context.Context, modelID, modelName, userQuery, reason string) (*store.RoutingRecord, error) {
	record := &store.RoutingRecord{
		ID:             uuid.NewString(),
		ModelID:        modelID,
		ModelName:      modelName,
		Timestamp:      time.Now().UTC(),
		UserQuery:      userQuery,
		SelectedReason: reason,
		TxHash:         txHash(modelID, userQuery),
	}

	if err := l.store.AppendRoutingRecord(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// PerformanceReport is an operator-submitted performance measurement
// for one model over a period.
type PerformanceReport struct {
	ModelID          string  `json:"model_id"`
	Period           string  `json:"period"`
	AvgLatencyMS     int     `json:"avg_latency_ms"`
	SuccessRate      float64 `json:"success_rate"`
	UptimePercentage float64 `json:"uptime_percentage"`
	Violations       int     `json:"violations"`
}

// ApplyPerformance appends the report and recomputes the model's trust
// score:
//
//	trust_new = 0.7*trust_old + 0.3*(P + R + U + A), clamped to [0,100]
//
// P (performance, 0-40) rewards meeting the promised latency, R
// (reliability, 0-30) the success rate, U (usage, 0-20) recent router
// selections, A (age, 0-10) time in the system.
func (l *Ledger) ApplyPerformance(ctx context.Context, report *PerformanceReport) (*store.PerformanceRecord, error) {
	model, err := l.store.GetModelByID(ctx, report.ModelID)
	if err != nil {
		return nil, err
	}

	record := &store.PerformanceRecord{
		ID:               uuid.NewString(),
		ModelID:          report.ModelID,
		Period:           report.Period,
		AvgLatencyMS:     report.AvgLatencyMS,
		SuccessRate:      report.SuccessRate,
		UptimePercentage: report.UptimePercentage,
		Violations:       report.Violations,
		TxHash:           txHash(report.ModelID, report.Period),
		ReportTime:       time.Now().UTC(),
	}

	if err := l.store.AppendPerformanceRecord(ctx, record); err != nil {
		return nil, err
	}

	newScore, err := l.recomputeTrust(ctx, model, report)
	if err != nil {
		return nil, err
	}

	if err := l.store.UpdateModelTrust(ctx, model.ID, newScore, model.Violations, model.StakeETH); err != nil {
		return nil, err
	}

	slog.Info("Trust score updated",
		"model", model.Name,
		"old_score", model.TrustScore,
		"new_score", newScore)

	return record, nil
}

func (l *Ledger) recomputeTrust(ctx context.Context, model *store.Model, report *PerformanceReport) (float64, error) {
	// Performance (0-40): promised vs observed latency
	latencyRatio := 1.0
	if report.AvgLatencyMS > 0 {
		latencyRatio = float64(model.AvgLatencyMS) / float64(report.AvgLatencyMS)
	}
	performance := math.Min(40, 40*latencyRatio)

	// Reliability (0-30)
	reliability := report.SuccessRate / 100 * 30

	// Usage (0-20): selections within the recent routing window
	selections, err := l.store.CountRecentSelections(ctx, model.ID, selectionWindow)
	if err != nil {
		return 0, err
	}
	usage := math.Min(20, float64(selections)/5)

	// Age (0-10)
	days := time.Since(model.RegistrationTime).Hours() / 24
	age := math.Min(10, days/3)

	newScore := model.TrustScore*0.7 + (performance+reliability+usage+age)*0.3
	return math.Min(100, math.Max(0, newScore)), nil
}

// ViolationReport is an operator-submitted violation with its slash
// amount.
type ViolationReport struct {
	ModelID        string  `json:"model_id"`
	Issue          string  `json:"issue"`
	Severity       string  `json:"severity"`
	SlashAmountETH float64 `json:"slash_amount_eth"`
}

// ApplyViolation appends the report, applies the severity penalty to
// the trust score, decrements stake by the slash amount and increments
// the violation count.
func (l *Ledger) ApplyViolation(ctx context.Context, report *ViolationReport) (*store.ViolationRecord, error) {
	penalty, ok := violationPenalties[report.Severity]
	if !ok {
		return nil, fmt.Errorf("invalid severity %q (valid: HIGH, MEDIUM, LOW)", report.Severity)
	}

	model, err := l.store.GetModelByID(ctx, report.ModelID)
	if err != nil {
		return nil, err
	}

	record := &store.ViolationRecord{
		ID:             uuid.NewString(),
		ModelID:        report.ModelID,
		Issue:          report.Issue,
		Severity:       report.Severity,
		SlashAmountETH: report.SlashAmountETH,
		TxHash:         txHash(report.ModelID, report.Issue),
		ReportTime:     time.Now().UTC(),
	}

	if err := l.store.AppendViolationRecord(ctx, record); err != nil {
		return nil, err
	}

	newScore := math.Max(0, model.TrustScore-penalty)
	if err := l.store.UpdateModelTrust(ctx, model.ID, newScore, model.Violations+1, model.StakeETH-report.SlashAmountETH); err != nil {
		return nil, err
	}

	slog.Warn("Violation recorded",
		"model", model.Name,
		"severity", report.Severity,
		"penalty", penalty,
		"slash_eth", report.SlashAmountETH)

	return record, nil
}

// CommitBatch computes the merkle root over the most recent routing
// records and returns it with summary statistics.
type BatchCommit struct {
	Period        string           `json:"period"`
	TotalRequests int              `json:"total_requests"`
	MerkleRoot    string           `json:"merkle_root"`
	TopModels     []ModelFrequency `json:"top_models"`
}

type ModelFrequency struct {
	Model    string `json:"model"`
	Requests int    `json:"requests"`
}

func (l *Ledger) CommitBatch(ctx context.Context, period string) (*BatchCommit, error) {
	records, err := l.store.RecentRoutingRecords(ctx, selectionWindow)
	if err != nil {
		return nil, err
	}

	items := make([]interface{}, len(records))
	for i, r := range records {
		items[i] = r
	}
	root, err := MerkleRoot(items)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, r := range records {
		counts[r.ModelName]++
	}
	top := make([]ModelFrequency, 0, len(counts))
	for name, n := range counts {
		top = append(top, ModelFrequency{Model: name, Requests: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Requests != top[j].Requests {
			return top[i].Requests > top[j].Requests
		}
		return top[i].Model < top[j].Model
	})
	if len(top) > 5 {
		top = top[:5]
	}

	return &BatchCommit{
		Period:        period,
		TotalRequests: len(records),
		MerkleRoot:    root,
		TopModels:     top,
	}, nil
}
