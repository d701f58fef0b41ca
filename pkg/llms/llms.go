package llms

import (
	"context"
	"fmt"

	"github.com/modelchain/modelchain/pkg/config"
)

// Provider is the upstream text generation interface. Every request is
// a single-turn completion: conversational state is folded into the
// prompt by the memory manager before dispatch.
type Provider interface {
	// Generate sends one prompt to the named upstream model and
	// returns the completion text and total tokens used.
	Generate(ctx context.Context, model string, prompt string) (string, int, error)

	// GetModelName returns the configured default model.
	GetModelName() string

	Close() error
}

// NewProviderFromConfig builds a provider for the configured type. Both
// supported types speak the OpenAI chat completions wire format.
func NewProviderFromConfig(cfg *config.LLMConfig) (Provider, error) {
	switch cfg.Type {
	case "glm", "openai":
		return NewOpenAIProviderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider type: %s", cfg.Type)
	}
}
