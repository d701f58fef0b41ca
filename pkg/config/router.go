package config

import "fmt"

// RouterConfig holds the routing engine settings.
type RouterConfig struct {
	// CheckpointPath points at a JSON checkpoint holding the trained
	// encoder weights. When empty or missing, the towers fall back to
	// deterministic seeded weights and a warning is logged.
	CheckpointPath string `yaml:"checkpoint_path,omitempty"`

	// LatentDim is the shared latent dimension of the two towers.
	LatentDim int `yaml:"latent_dim,omitempty"`

	// TopK is the number of candidate models returned per route.
	TopK int `yaml:"top_k,omitempty"`

	// SeedDefaults registers a small default model set at startup when
	// the model table is empty. Intended for demos and tests.
	SeedDefaults bool `yaml:"seed_defaults,omitempty"`

	// Seed drives the fallback weight initialization.
	Seed int64 `yaml:"seed,omitempty"`
}

func (c *RouterConfig) SetDefaults() {
	if c.LatentDim == 0 {
		c.LatentDim = 128
	}
	if c.TopK == 0 {
		c.TopK = 2
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
}

func (c *RouterConfig) Validate() error {
	if c.LatentDim < 1 {
		return fmt.Errorf("latent_dim must be positive")
	}
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be positive")
	}
	return nil
}

// MemoryConfig holds the conversational memory settings.
type MemoryConfig struct {
	// WindowSize is the number of exchanges kept verbatim in the
	// working window. The window holds at most 2*WindowSize messages.
	WindowSize int `yaml:"window_size,omitempty"`

	// TopK is the number of long-term memories retrieved per query.
	TopK int `yaml:"top_k,omitempty"`

	// Collection is the vector store collection for long-term memories.
	Collection string `yaml:"collection,omitempty"`
}

func (c *MemoryConfig) SetDefaults() {
	if c.WindowSize == 0 {
		c.WindowSize = 10
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.Collection == "" {
		c.Collection = "long_term_memory"
	}
}

func (c *MemoryConfig) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("window_size must be positive")
	}
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be positive")
	}
	return nil
}
