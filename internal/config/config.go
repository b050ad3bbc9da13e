package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	LLM           LLMConfig
	Database      DatabaseConfig
	Query         QueryConfig
	Schema        SchemaConfig
	Prompt        PromptConfig
	Session       SessionConfig
	Export        ExportConfig
	Telegram      TelegramConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LLMConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	AWSRegion   string
}

// DatabaseConfig holds the connection defaults offered to new sessions.
type DatabaseConfig struct {
	Dialect     string
	Host        string
	Port        int
	User        string
	Password    string
	Name        string
	DSN         string
	AutoConnect bool
}

type QueryConfig struct {
	Timeout  time.Duration
	RowLimit int
}

type SchemaConfig struct {
	SampleRows    int
	IncludeTables []string
}

type PromptConfig struct {
	MaxResultRows int
}

type SessionConfig struct {
	IdleTimeout       time.Duration
	ReapInterval      time.Duration
	MaxQuestionLength int
}

type ExportConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type TelegramConfig struct {
	Token string
}

type ObservabilityConfig struct {
	LogLevel     slog.Level
	LogJSON      bool
	LogFile      string
	TelemetryDir string
}

// LoadFromEnv reads an optional .env file from the working directory and then
// resolves configuration from the process environment. Variables already set in
// the environment win over the file.
func LoadFromEnv(serviceName string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("DBCHAT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid DBCHAT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "DBCHAT_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "DBCHAT_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "DBCHAT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "DBCHAT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "DBCHAT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "DBCHAT_LLM_PROVIDER", &cfg.LLM.Provider) },
		func() error { return applyString(lookup, "DBCHAT_LLM_BASE_URL", &cfg.LLM.BaseURL) },
		func() error { return applyString(lookup, "GEMINI_API_KEY", &cfg.LLM.APIKey) },
		func() error { return applyString(lookup, "DBCHAT_LLM_API_KEY", &cfg.LLM.APIKey) },
		func() error { return applyString(lookup, "DBCHAT_LLM_MODEL", &cfg.LLM.Model) },
		func() error { return applyFloat(lookup, "DBCHAT_LLM_TEMPERATURE", &cfg.LLM.Temperature) },
		func() error { return applyDuration(lookup, "DBCHAT_LLM_TIMEOUT", &cfg.LLM.Timeout) },
		func() error { return applyString(lookup, "DBCHAT_LLM_AWS_REGION", &cfg.LLM.AWSRegion) },

		func() error { return applyString(lookup, "DBCHAT_DB_DIALECT", &cfg.Database.Dialect) },
		func() error { return applyString(lookup, "DBCHAT_DB_HOST", &cfg.Database.Host) },
		func() error { return applyInt(lookup, "DBCHAT_DB_PORT", &cfg.Database.Port) },
		func() error { return applyString(lookup, "DBCHAT_DB_USER", &cfg.Database.User) },
		func() error { return applyString(lookup, "DBCHAT_DB_PASSWORD", &cfg.Database.Password) },
		func() error { return applyString(lookup, "DBCHAT_DB_NAME", &cfg.Database.Name) },
		func() error { return applyString(lookup, "DBCHAT_DB_DSN", &cfg.Database.DSN) },
		func() error { return applyBool(lookup, "DBCHAT_DB_AUTO_CONNECT", &cfg.Database.AutoConnect) },

		func() error { return applyDuration(lookup, "DBCHAT_QUERY_TIMEOUT", &cfg.Query.Timeout) },
		func() error { return applyInt(lookup, "DBCHAT_QUERY_ROW_LIMIT", &cfg.Query.RowLimit) },
		func() error { return applyInt(lookup, "DBCHAT_SCHEMA_SAMPLE_ROWS", &cfg.Schema.SampleRows) },
		func() error { return applyList(lookup, "DBCHAT_SCHEMA_INCLUDE_TABLES", &cfg.Schema.IncludeTables) },
		func() error { return applyInt(lookup, "DBCHAT_PROMPT_MAX_RESULT_ROWS", &cfg.Prompt.MaxResultRows) },
		func() error { return applyDuration(lookup, "DBCHAT_SESSION_IDLE_TIMEOUT", &cfg.Session.IdleTimeout) },
		func() error { return applyDuration(lookup, "DBCHAT_SESSION_REAP_INTERVAL", &cfg.Session.ReapInterval) },
		func() error { return applyInt(lookup, "DBCHAT_SESSION_MAX_QUESTION_LENGTH", &cfg.Session.MaxQuestionLength) },

		func() error { return applyBool(lookup, "DBCHAT_EXPORT_ENABLED", &cfg.Export.Enabled) },
		func() error { return applyString(lookup, "DBCHAT_EXPORT_ENDPOINT", &cfg.Export.Endpoint) },
		func() error { return applyString(lookup, "DBCHAT_EXPORT_REGION", &cfg.Export.Region) },
		func() error { return applyString(lookup, "DBCHAT_EXPORT_BUCKET", &cfg.Export.Bucket) },
		func() error { return applyString(lookup, "DBCHAT_EXPORT_ACCESS_KEY", &cfg.Export.AccessKeyID) },
		func() error { return applyString(lookup, "DBCHAT_EXPORT_SECRET_KEY", &cfg.Export.SecretAccessKey) },
		func() error { return applyBool(lookup, "DBCHAT_EXPORT_USE_SSL", &cfg.Export.UseSSL) },
		func() error { return applyString(lookup, "DBCHAT_EXPORT_PREFIX", &cfg.Export.Prefix) },
		func() error { return applyBool(lookup, "DBCHAT_EXPORT_AUTO_CREATE_BUCKET", &cfg.Export.AutoCreateBucket) },

		func() error { return applyString(lookup, "DBCHAT_TELEGRAM_TOKEN", &cfg.Telegram.Token) },

		func() error { return applyBool(lookup, "DBCHAT_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "DBCHAT_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyString(lookup, "DBCHAT_LOG_FILE", &cfg.Observability.LogFile) },
		func() error { return applyString(lookup, "DBCHAT_TELEMETRY_DIR", &cfg.Observability.TelemetryDir) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	cfg.Database.Dialect = strings.ToLower(cfg.Database.Dialect)
	if _, ok := lookup("DBCHAT_LLM_MODEL"); !ok {
		cfg.LLM.Model = defaultModel(cfg.LLM.Provider)
	}
	if _, ok := lookup("DBCHAT_DB_PORT"); !ok {
		cfg.Database.Port = DefaultPort(cfg.Database.Dialect)
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if !isValidProvider(cfg.LLM.Provider) {
		return Config{}, fmt.Errorf("invalid DBCHAT_LLM_PROVIDER: %q", cfg.LLM.Provider)
	}
	if !isValidDialect(cfg.Database.Dialect) {
		return Config{}, fmt.Errorf("invalid DBCHAT_DB_DIALECT: %q", cfg.Database.Dialect)
	}
	if cfg.Query.RowLimit <= 0 {
		return Config{}, fmt.Errorf("DBCHAT_QUERY_ROW_LIMIT must be > 0")
	}
	if cfg.Export.Enabled && cfg.Export.Bucket == "" {
		return Config{}, fmt.Errorf("DBCHAT_EXPORT_BUCKET is required when export is enabled")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "dbchat-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 150 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "gemini",
			BaseURL:     "",
			Model:       "gemini-1.5-pro",
			Temperature: 0.1,
			Timeout:     60 * time.Second,
			AWSRegion:   "us-east-1",
		},
		Database: DatabaseConfig{
			Dialect:     "mysql",
			Host:        "localhost",
			Port:        3306,
			User:        "root",
			Name:        "chinook",
			AutoConnect: false,
		},
		Query: QueryConfig{
			Timeout:  30 * time.Second,
			RowLimit: 1000,
		},
		Schema: SchemaConfig{
			SampleRows: 3,
		},
		Prompt: PromptConfig{
			MaxResultRows: 100,
		},
		Session: SessionConfig{
			IdleTimeout:       30 * time.Minute,
			ReapInterval:      time.Minute,
			MaxQuestionLength: 4000,
		},
		Export: ExportConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "dbchat",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Export.UseSSL = true
		cfg.Export.AutoCreateBucket = false
	}

	return cfg
}

// DefaultPort returns the conventional server port for a dialect, or 0 for
// embedded engines.
func DefaultPort(dialect string) int {
	switch dialect {
	case "mysql":
		return 3306
	case "postgres":
		return 5432
	default:
		return 0
	}
}

func defaultModel(provider string) string {
	switch provider {
	case "gemini":
		return "gemini-1.5-pro"
	case "openai":
		return "gpt-4o-mini"
	case "azure":
		return "gpt-4"
	case "bedrock":
		return "anthropic.claude-3-haiku-20240307-v1:0"
	case "ollama":
		return "llama3:latest"
	default:
		return ""
	}
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func isValidProvider(provider string) bool {
	switch provider {
	case "gemini", "openai", "azure", "bedrock", "ollama":
		return true
	default:
		return false
	}
}

func isValidDialect(dialect string) bool {
	switch dialect {
	case "mysql", "postgres", "duckdb", "sqlite":
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	items := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			items = append(items, part)
		}
	}
	*dst = items
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
