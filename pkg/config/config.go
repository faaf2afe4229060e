// Package config loads and validates service configuration.
//
// Configuration is environment-first: every field maps to an env var, and an
// optional YAML file may set the same fields (env wins). A .env file in the
// working directory is honored via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	AI       AIConfig       `yaml:"ai"`
	Auth     AuthConfig     `yaml:"auth"`
	Paths    PathsConfig    `yaml:"paths"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig selects the relational store.
//
// URL takes precedence. Otherwise, when PostgresHost is set a Postgres DSN
// is assembled from the POSTGRES_* fields, and when neither is set the
// service falls back to a local sqlite file.
type DatabaseConfig struct {
	URL string `yaml:"url"`

	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     int    `yaml:"postgres_port"`

	SQLitePath string `yaml:"sqlite_path"`
}

// AIConfig configures the upstream LLM provider and model roster.
type AIConfig struct {
	Provider string `yaml:"provider"` // "openai" or "zhipu"

	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	ZhipuAPIKey   string `yaml:"zhipu_api_key"`
	ZhipuBaseURL  string `yaml:"zhipu_base_url"`

	VisionModel       string `yaml:"vision_model"`
	TextModel         string `yaml:"text_model"`
	SmartModel        string `yaml:"smart_model"`
	SimpleVisionModel string `yaml:"simple_vision_model"`
	SimpleTextModel   string `yaml:"simple_text_model"`
	EmbeddingModel    string `yaml:"embedding_model"`

	// ConcurrencyLimits overrides the per-model in-flight ceilings.
	ConcurrencyLimits map[string]int64 `yaml:"concurrency_limits"`
}

// AuthConfig configures the single-user token auth.
type AuthConfig struct {
	Password           string `yaml:"password"`
	TokenExpireSeconds int    `yaml:"token_expire_seconds"`
}

// PathsConfig locates persisted state on disk.
type PathsConfig struct {
	UploadDir        string `yaml:"upload_dir"`
	ChromaPersistDir string `yaml:"chroma_persist_dir"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load builds a Config from an optional YAML file plus the environment.
func Load(yamlPath string) (*Config, error) {
	// Best-effort .env load; absence is fine.
	_ = godotenv.Load()

	cfg := &Config{}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal([]byte(expandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", yamlPath, err)
		}
	}

	cfg.applyEnv()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr(&c.Server.Host, "HOST")
	setInt(&c.Server.Port, "PORT")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitTrim(v)
	}

	setStr(&c.Database.URL, "DATABASE_URL")
	setStr(&c.Database.PostgresUser, "POSTGRES_USER")
	setStr(&c.Database.PostgresPassword, "POSTGRES_PASSWORD")
	setStr(&c.Database.PostgresDB, "POSTGRES_DB")
	setStr(&c.Database.PostgresHost, "POSTGRES_HOST")
	setInt(&c.Database.PostgresPort, "POSTGRES_PORT")
	setStr(&c.Database.SQLitePath, "SQLITE_PATH")

	setStr(&c.AI.Provider, "AI_PROVIDER")
	setStr(&c.AI.OpenAIAPIKey, "OPENAI_API_KEY")
	setStr(&c.AI.OpenAIBaseURL, "OPENAI_BASE_URL")
	setStr(&c.AI.ZhipuAPIKey, "ZHIPU_API_KEY")
	setStr(&c.AI.ZhipuBaseURL, "ZHIPU_BASE_URL")
	setStr(&c.AI.VisionModel, "VISION_MODEL")
	setStr(&c.AI.TextModel, "TEXT_MODEL")
	setStr(&c.AI.SmartModel, "SMART_MODEL")
	setStr(&c.AI.SimpleVisionModel, "SIMPLE_VISION_MODEL")
	setStr(&c.AI.SimpleTextModel, "SIMPLE_TEXT_MODEL")
	setStr(&c.AI.EmbeddingModel, "EMBEDDING_MODEL")

	setStr(&c.Auth.Password, "ADMIN_PASSWORD")
	setStr(&c.Auth.Password, "AUTH_PASSWORD")
	setInt(&c.Auth.TokenExpireSeconds, "TOKEN_EXPIRE_SECONDS")

	setStr(&c.Paths.UploadDir, "UPLOAD_DIR")
	setStr(&c.Paths.ChromaPersistDir, "CHROMA_PERSIST_DIR")

	setStr(&c.Logging.Level, "LOG_LEVEL")
	setStr(&c.Logging.Format, "LOG_FORMAT")
}

// SetDefaults fills unset fields with working defaults.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}

	if c.Database.PostgresUser == "" {
		c.Database.PostgresUser = "vibingu"
	}
	if c.Database.PostgresDB == "" {
		c.Database.PostgresDB = "vibingu"
	}
	if c.Database.PostgresPort == 0 {
		c.Database.PostgresPort = 5432
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "vibingu.db"
	}

	if c.AI.Provider == "" {
		c.AI.Provider = "zhipu"
	}
	if c.AI.OpenAIBaseURL == "" {
		c.AI.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if c.AI.ZhipuBaseURL == "" {
		c.AI.ZhipuBaseURL = "https://open.bigmodel.cn/api/paas/v4"
	}
	if c.AI.VisionModel == "" {
		c.AI.VisionModel = "glm-4.6v"
	}
	if c.AI.TextModel == "" {
		c.AI.TextModel = "glm-4.7"
	}
	if c.AI.SmartModel == "" {
		c.AI.SmartModel = c.AI.TextModel
	}
	if c.AI.SimpleVisionModel == "" {
		c.AI.SimpleVisionModel = "glm-4.6v-flash"
	}
	if c.AI.SimpleTextModel == "" {
		c.AI.SimpleTextModel = "glm-4.7-flash"
	}
	if c.AI.EmbeddingModel == "" {
		c.AI.EmbeddingModel = "embedding-3"
	}

	if c.Auth.TokenExpireSeconds == 0 {
		c.Auth.TokenExpireSeconds = 7 * 24 * 3600
	}

	if c.Paths.UploadDir == "" {
		c.Paths.UploadDir = "uploads"
	}
	if c.Paths.ChromaPersistDir == "" {
		c.Paths.ChromaPersistDir = "chroma_data"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.AI.Provider {
	case "openai", "zhipu":
	default:
		return fmt.Errorf("invalid ai provider %q (expected openai or zhipu)", c.AI.Provider)
	}
	if c.Auth.TokenExpireSeconds < 0 {
		return fmt.Errorf("token_expire_seconds cannot be negative")
	}
	return nil
}

// APIKey returns the credential for the active provider. Empty means
// no-API-key mode: gateway calls fail fast and callers use their rules paths.
func (c *AIConfig) APIKey() string {
	if c.Provider == "openai" {
		return c.OpenAIAPIKey
	}
	return c.ZhipuAPIKey
}

// BaseURL returns the endpoint for the active provider.
func (c *AIConfig) BaseURL() string {
	if c.Provider == "openai" {
		return c.OpenAIBaseURL
	}
	return c.ZhipuBaseURL
}

// DSN resolves the database driver name and connection string.
func (c *DatabaseConfig) DSN() (driver, dsn string) {
	if c.URL != "" {
		switch {
		case strings.HasPrefix(c.URL, "postgres://"), strings.HasPrefix(c.URL, "postgresql://"):
			return "postgres", c.URL
		case strings.HasPrefix(c.URL, "mysql://"):
			return "mysql", strings.TrimPrefix(c.URL, "mysql://")
		case strings.HasPrefix(c.URL, "sqlite://"):
			return "sqlite3", strings.TrimPrefix(c.URL, "sqlite://")
		default:
			return "sqlite3", c.URL
		}
	}
	if c.PostgresHost != "" {
		return "postgres", fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=disable",
			c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB,
		)
	}
	return "sqlite3", c.SQLitePath
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
