package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "chromem", cfg.VectorStore.Type)
	assert.Equal(t, "ollama", cfg.Embedder.Type)
	assert.Equal(t, 384, cfg.Embedder.Dimension)
	assert.Equal(t, "glm", cfg.LLM.Type)
	assert.Equal(t, "glm-4", cfg.LLM.Model)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
	assert.Equal(t, 2, cfg.Router.TopK)
	assert.Equal(t, int64(42), cfg.Router.Seed)
	assert.Equal(t, 10, cfg.Memory.WindowSize)
	assert.Equal(t, 5, cfg.Memory.TopK)
	assert.Equal(t, "long_term_memory", cfg.Memory.Collection)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("MODELCHAIN_TEST_PORT", "9001")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: ${MODELCHAIN_TEST_PORT}
database:
  driver: postgres
  host: db.internal
  username: modelchain
  password: ${MODELCHAIN_TEST_DB_PASS:-fallback}
  database: modelchain
router:
  top_k: 3
  seed_defaults: true
`), 0644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port, "env reference must expand and parse as int")
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "fallback", cfg.Database.Password, "unset env var must use the default")
	assert.Equal(t, 5432, cfg.Database.Port, "postgres default port applies")
	assert.Equal(t, 3, cfg.Router.TopK)
	assert.True(t, cfg.Router.SeedDefaults)

	// untouched sections still get defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 10, cfg.Memory.WindowSize)
}

func TestLoadConfigFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("router:\n  top_k: -1\n"), 0644))

	_, err := LoadConfigFile(path)
	assert.Error(t, err)
}

func TestLoadConfigFileMissing(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MODELCHAIN_TEST_VALUE", "hello")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "no refs", "no refs"},
		{"braced", "${MODELCHAIN_TEST_VALUE}", "hello"},
		{"simple", "$MODELCHAIN_TEST_VALUE", "hello"},
		{"default used", "${MODELCHAIN_TEST_UNSET:-dflt}", "dflt"},
		{"default ignored", "${MODELCHAIN_TEST_VALUE:-dflt}", "hello"},
		{"embedded", "prefix-${MODELCHAIN_TEST_VALUE}-suffix", "prefix-hello-suffix"},
		{"unset braced", "${MODELCHAIN_TEST_UNSET}", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandEnvVars(tt.input))
		})
	}
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, false, parseValue("False"))
	assert.Equal(t, 42, parseValue("42"))
	assert.Equal(t, 1.5, parseValue("1.5"))
	assert.Equal(t, "plain", parseValue("plain"))
}

func TestDatabaseDSN(t *testing.T) {
	sqlite := &DatabaseConfig{Driver: "sqlite"}
	sqlite.SetDefaults()
	assert.Equal(t, "modelchain.db", sqlite.Database)
	assert.Equal(t, "sqlite3", sqlite.DriverName())
	assert.Equal(t, "sqlite", sqlite.Dialect())

	pg := &DatabaseConfig{Driver: "postgres", Host: "db", Username: "u", Password: "p", Database: "d"}
	pg.SetDefaults()
	assert.Contains(t, pg.DSN(), "host=db")
	assert.Contains(t, pg.DSN(), "port=5432")
	assert.Equal(t, "postgres", pg.Dialect())

	my := &DatabaseConfig{Driver: "mysql", Host: "db", Username: "u", Password: "p", Database: "d"}
	my.SetDefaults()
	assert.Equal(t, 3306, my.Port)
	assert.Contains(t, my.DSN(), "parseTime=true")
}

func TestGetProviderAPIKey(t *testing.T) {
	t.Setenv("GLM_API_KEY", "glm-secret")
	t.Setenv("OPENAI_API_KEY", "openai-secret")

	assert.Equal(t, "glm-secret", GetProviderAPIKey("glm"))
	assert.Equal(t, "openai-secret", GetProviderAPIKey("openai"))
	assert.Empty(t, GetProviderAPIKey("unknown"))
}

func TestBoolHelpers(t *testing.T) {
	assert.True(t, BoolValue(nil, true))
	assert.False(t, BoolValue(nil, false))
	assert.False(t, BoolValue(BoolPtr(false), true))
	assert.True(t, BoolValue(BoolPtr(true), false))
}
