package encoder

import "strings"

// Fixed vocabularies for the interpretable feature vector. Order
// matters: the multi-hot encoding concatenates them in declaration
// order.
var (
	TaskTypes         = []string{"chat", "code", "math", "translation", "tool_use"}
	Domains           = []string{"general", "programming", "math", "finance"}
	ReasoningLevels   = []string{"low", "medium", "high"}
	SafetyLevels      = []string{"normal", "sensitive", "high_risk"}
	LengthBuckets     = []string{"short", "medium", "long"}
	TenantPreferences = []string{"cost", "latency", "quality"}
)

// FeatureDim is the width of the interpretable vector.
const FeatureDim = 5 + 4 + 3 + 3 + 3 + 3

var taskKeywords = map[string][]string{
	"code":        {"code", "function", "python", "def "},
	"math":        {"calculate", "solve", "equation"},
	"translation": {"translate", "in french", "to spanish"},
	"tool_use":    {"json", "format", "api"},
}

var domainKeywords = map[string][]string{
	"programming": {"python", "java", "algorithm"},
	"math":        {"calculate", "solve", "equation"},
	"finance":     {"stock", "investment"},
}

var tenantPreferenceByID = map[string]string{
	"tenant_A": "quality",
	"tenant_B": "cost",
	"tenant_C": "latency",
}

// InterpretableFeatures builds the multi-hot feature vector for a query
// and tenant. It feeds the selection explainer, not the similarity
// score.
func InterpretableFeatures(query, tenantID string) []float64 {
	features := make([]float64, 0, FeatureDim)
	features = append(features, multiHot(TaskTypes, DetectTaskTypes(query))...)
	features = append(features, multiHot(Domains, DetectDomains(query))...)
	features = append(features, multiHot(ReasoningLevels, []string{EstimateReasoningLevel(query)})...)
	features = append(features, multiHot(SafetyLevels, []string{DetectSafety(query)})...)
	features = append(features, multiHot(LengthBuckets, []string{DetectLength(query)})...)
	features = append(features, multiHot(TenantPreferences, []string{TenantPreference(tenantID)})...)
	return features
}

func multiHot(vocab []string, active []string) []float64 {
	vec := make([]float64, len(vocab))
	for _, a := range active {
		for i, v := range vocab {
			if v == a {
				vec[i] = 1
			}
		}
	}
	return vec
}

// DetectTaskTypes matches the query against the task keyword table;
// default is chat.
func DetectTaskTypes(query string) []string {
	return detect(query, TaskTypes, taskKeywords, "chat")
}

// DetectDomains matches the query against the domain keyword table;
// default is general.
func DetectDomains(query string) []string {
	return detect(query, Domains, domainKeywords, "general")
}

func detect(query string, vocab []string, keywords map[string][]string, fallback string) []string {
	lower := strings.ToLower(query)

	var detected []string
	for _, label := range vocab {
		for _, key := range keywords[label] {
			if strings.Contains(lower, key) {
				detected = append(detected, label)
				break
			}
		}
	}
	if len(detected) == 0 {
		return []string{fallback}
	}
	return detected
}

// EstimateReasoningLevel estimates reasoning depth from keywords and
// query length.
func EstimateReasoningLevel(query string) string {
	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, "step by step") || strings.Contains(lower, "explain") || len(query) > 200:
		return "high"
	case strings.Contains(lower, "why") || strings.Contains(lower, "how"):
		return "medium"
	default:
		return "low"
	}
}

// DetectSafety always reports normal; no risk classifier is wired yet.
func DetectSafety(query string) string {
	return "normal"
}

// DetectLength buckets by character count.
func DetectLength(query string) string {
	switch {
	case len(query) < 50:
		return "short"
	case len(query) <= 200:
		return "medium"
	default:
		return "long"
	}
}

// TenantPreference resolves the tenant's routing preference; unknown
// tenants default to quality.
func TenantPreference(tenantID string) string {
	if pref, ok := tenantPreferenceByID[tenantID]; ok {
		return pref
	}
	return "quality"
}
