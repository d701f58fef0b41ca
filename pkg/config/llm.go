package config

import "fmt"

// LLMConfig holds upstream LLM provider settings. All registered models
// are served through a single OpenAI-compatible chat completions
// endpoint; the model name selected by the router is passed per
// request.
type LLMConfig struct {
	// Type selects the provider: "glm" or "openai". Both speak the
	// OpenAI chat completions wire format.
	Type string `yaml:"type,omitempty"`

	// Model is the upstream model identifier sent on every request.
	Model string `yaml:"model,omitempty"`

	// APIKey authenticates against the provider. Falls back to the
	// provider's conventional environment variable.
	APIKey string `yaml:"api_key,omitempty"`

	// Host is the API base URL.
	Host string `yaml:"host,omitempty"`

	// Temperature for sampling.
	Temperature float64 `yaml:"temperature,omitempty"`

	// MaxTokens caps the completion length.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout,omitempty"`

	// MaxRetries is the number of retries on rate limits and server
	// errors.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// RetryDelaySeconds is the base backoff delay.
	RetryDelaySeconds int `yaml:"retry_delay_seconds,omitempty"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "glm"
	}
	if c.Model == "" {
		c.Model = "glm-4"
	}
	if c.Host == "" {
		switch c.Type {
		case "glm":
			c.Host = "https://open.bigmodel.cn/api/paas/v4"
		case "openai":
			c.Host = "https://api.openai.com/v1"
		}
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelaySeconds == 0 {
		c.RetryDelaySeconds = 2
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(c.Type)
	}
}

func (c *LLMConfig) Validate() error {
	switch c.Type {
	case "glm", "openai":
	default:
		return fmt.Errorf("invalid type %q (valid: glm, openai)", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive")
	}
	return nil
}
