package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "zhipu", cfg.AI.Provider)
	assert.Equal(t, "glm-4.7-flash", cfg.AI.SimpleTextModel)
	assert.Equal(t, cfg.AI.TextModel, cfg.AI.SmartModel)
	assert.Equal(t, 7*24*3600, cfg.Auth.TokenExpireSeconds)
	assert.Equal(t, "uploads", cfg.Paths.UploadDir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CORS_ORIGINS", "http://a.example, http://b.example")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "sk-test", cfg.AI.APIKey())
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoad_YAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_SMART", "glm-4.7")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
ai:
  provider: zhipu
  smart_model: ${TEST_SMART}
  text_model: ${TEST_MISSING:-glm-4.7-flash}
server:
  port: 8100
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8100, cfg.Server.Port)
	assert.Equal(t, "glm-4.7", cfg.AI.SmartModel)
	assert.Equal(t, "glm-4.7-flash", cfg.AI.TextModel)
}

func TestValidate_BadProvider(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.AI.Provider = "anthropic"
	assert.Error(t, cfg.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	tests := []struct {
		name       string
		cfg        DatabaseConfig
		wantDriver string
	}{
		{"explicit postgres url", DatabaseConfig{URL: "postgres://u:p@h:5432/db"}, "postgres"},
		{"mysql url", DatabaseConfig{URL: "mysql://u:p@tcp(h:3306)/db"}, "mysql"},
		{"sqlite url", DatabaseConfig{URL: "sqlite://data.db"}, "sqlite3"},
		{"postgres host fields", DatabaseConfig{PostgresHost: "db.local", PostgresPort: 5432, PostgresUser: "u", PostgresDB: "d"}, "postgres"},
		{"fallback sqlite", DatabaseConfig{SQLitePath: "local.db"}, "sqlite3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn := tt.cfg.DSN()
			assert.Equal(t, tt.wantDriver, driver)
			assert.NotEmpty(t, dsn)
		})
	}
}
