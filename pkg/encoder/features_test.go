package encoder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectTaskTypes(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"hello there", []string{"chat"}},
		{"write a python function", []string{"code"}},
		{"solve this equation", []string{"math"}},
		{"translate this to spanish", []string{"translation"}},
		{"format the response as json", []string{"tool_use"}},
		{"write python code to solve the equation", []string{"code", "math"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectTaskTypes(tt.query))
		})
	}
}

func TestDetectDomains(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"hello", []string{"general"}},
		{"implement the algorithm in java", []string{"programming"}},
		{"which stock should I pick", []string{"finance"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectDomains(tt.query))
		})
	}
}

func TestEstimateReasoningLevel(t *testing.T) {
	assert.Equal(t, "high", EstimateReasoningLevel("explain this step by step"))
	assert.Equal(t, "high", EstimateReasoningLevel(strings.Repeat("a", 201)))
	assert.Equal(t, "medium", EstimateReasoningLevel("why is the sky blue"))
	assert.Equal(t, "low", EstimateReasoningLevel("hi"))
}

func TestDetectLength(t *testing.T) {
	assert.Equal(t, "short", DetectLength(strings.Repeat("a", 49)))
	assert.Equal(t, "medium", DetectLength(strings.Repeat("a", 50)))
	assert.Equal(t, "medium", DetectLength(strings.Repeat("a", 200)))
	assert.Equal(t, "long", DetectLength(strings.Repeat("a", 201)))
}

func TestTenantPreference(t *testing.T) {
	assert.Equal(t, "quality", TenantPreference("tenant_A"))
	assert.Equal(t, "cost", TenantPreference("tenant_B"))
	assert.Equal(t, "latency", TenantPreference("tenant_C"))
	assert.Equal(t, "quality", TenantPreference("unknown"))
}

func TestInterpretableFeaturesShape(t *testing.T) {
	vec := InterpretableFeatures("write a python function", "tenant_B")
	require.Len(t, vec, FeatureDim)

	for _, v := range vec {
		assert.Contains(t, []float64{0, 1}, v)
	}

	// task section: code active, chat not
	assert.Equal(t, 0.0, vec[0], "chat")
	assert.Equal(t, 1.0, vec[1], "code")

	// domain section starts after the 5 task slots: programming active
	assert.Equal(t, 1.0, vec[5+1], "programming")

	// tenant section is the last 3 slots: tenant_B prefers cost
	tenantStart := FeatureDim - len(TenantPreferences)
	assert.Equal(t, []float64{1, 0, 0}, vec[tenantStart:])
}
