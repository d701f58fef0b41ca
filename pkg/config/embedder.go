package config

import "fmt"

// EmbedderConfig holds the sentence embedder settings. The default is
// an Ollama-served all-minilm:l6-v2 model producing 384-dimensional
// vectors, which both the query tower and memory retrieval expect.
type EmbedderConfig struct {
	// Type selects the provider. Only "ollama" is supported.
	Type string `yaml:"type,omitempty"`

	// Model is the embedding model name.
	Model string `yaml:"model,omitempty"`

	// Host is the base URL of the embedding server.
	Host string `yaml:"host,omitempty"`

	// Dimension is the expected embedding dimension.
	Dimension int `yaml:"dimension,omitempty"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout,omitempty"`

	// MaxRetries is the number of retries on transient failures.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "ollama"
	}
	if c.Model == "" {
		c.Model = "all-minilm:l6-v2"
	}
	if c.Host == "" {
		c.Host = "http://localhost:11434"
	}
	if c.Dimension == 0 {
		c.Dimension = 384
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
}

func (c *EmbedderConfig) Validate() error {
	if c.Type != "ollama" {
		return fmt.Errorf("invalid type %q (valid: ollama)", c.Type)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	return nil
}
