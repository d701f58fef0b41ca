package config

import "fmt"

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host,omitempty"`

	// Port is the listen port.
	Port int `yaml:"port,omitempty"`

	// CORSEnabled toggles permissive CORS headers for browser dashboards.
	CORSEnabled *bool `yaml:"cors_enabled,omitempty"`

	// ShutdownGraceSeconds bounds graceful shutdown on SIGINT/SIGTERM.
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds,omitempty"`

	// MetricsEnabled toggles the Prometheus /metrics endpoint.
	MetricsEnabled *bool `yaml:"metrics_enabled,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.CORSEnabled == nil {
		c.CORSEnabled = BoolPtr(true)
	}
	if c.ShutdownGraceSeconds == 0 {
		c.ShutdownGraceSeconds = 15
	}
	if c.MetricsEnabled == nil {
		c.MetricsEnabled = BoolPtr(true)
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.ShutdownGraceSeconds < 0 {
		return fmt.Errorf("shutdown_grace_seconds must be non-negative")
	}
	return nil
}

// Address returns the host:port bind address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
