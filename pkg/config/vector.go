package config

import "fmt"

// VectorStoreConfig holds the vector database settings used for
// long-term memory retrieval.
type VectorStoreConfig struct {
	// Type selects the provider: "qdrant" or "chromem".
	Type string `yaml:"type"`

	// Host is the qdrant server hostname.
	Host string `yaml:"host,omitempty"`

	// Port is the qdrant gRPC port.
	Port int `yaml:"port,omitempty"`

	// APIKey authenticates against a managed qdrant instance.
	APIKey string `yaml:"api_key,omitempty"`

	// UseTLS enables TLS for the qdrant connection.
	UseTLS bool `yaml:"use_tls,omitempty"`

	// Path is the on-disk persistence directory for chromem.
	// Empty means in-memory only.
	Path string `yaml:"path,omitempty"`
}

func (c *VectorStoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Type == "qdrant" {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 6334
		}
	}
}

func (c *VectorStoreConfig) Validate() error {
	switch c.Type {
	case "qdrant", "chromem":
		return nil
	default:
		return fmt.Errorf("invalid type %q (valid: qdrant, chromem)", c.Type)
	}
}
