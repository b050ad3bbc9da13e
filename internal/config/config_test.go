package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("dbchat-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.LLM.Provider != "gemini" || cfg.LLM.Model != "gemini-1.5-pro" {
		t.Fatalf("LLM = %s/%s", cfg.LLM.Provider, cfg.LLM.Model)
	}
	if cfg.Database.Dialect != "mysql" || cfg.Database.Port != 3306 {
		t.Fatalf("Database = %s:%d", cfg.Database.Dialect, cfg.Database.Port)
	}
	if cfg.Database.Host != "localhost" || cfg.Database.User != "root" || cfg.Database.Name != "chinook" {
		t.Fatalf("Database defaults = %#v", cfg.Database)
	}
	if cfg.Schema.SampleRows != 3 {
		t.Fatalf("Schema.SampleRows = %d", cfg.Schema.SampleRows)
	}
	if cfg.Query.RowLimit != 1000 {
		t.Fatalf("Query.RowLimit = %d", cfg.Query.RowLimit)
	}
	if cfg.Session.IdleTimeout != 30*time.Minute {
		t.Fatalf("Session.IdleTimeout = %s", cfg.Session.IdleTimeout)
	}
	if cfg.Export.Enabled {
		t.Fatal("Export.Enabled should default to false")
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("dbchat-api", mapLookup(map[string]string{"DBCHAT_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Export.UseSSL {
		t.Fatal("Export.UseSSL should default to true in prod")
	}
	if cfg.Export.AutoCreateBucket {
		t.Fatal("Export.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	cfg, err := Load("dbchat-api", mapLookup(map[string]string{
		"DBCHAT_PROFILE":                "test",
		"DBCHAT_HTTP_ADDR":              ":9999",
		"DBCHAT_HTTP_READ_TIMEOUT":      "2s",
		"DBCHAT_LOG_LEVEL":              "error",
		"DBCHAT_LOG_FILE":               "/tmp/dbchat.log",
		"DBCHAT_SERVICE_NAME":           "dbchat-custom",
		"DBCHAT_LLM_PROVIDER":           "OpenAI",
		"DBCHAT_LLM_BASE_URL":           "https://api.example.com",
		"DBCHAT_LLM_API_KEY":            "secret-key",
		"DBCHAT_LLM_TEMPERATURE":        "0.3",
		"DBCHAT_LLM_TIMEOUT":            "21s",
		"DBCHAT_DB_DIALECT":             "postgres",
		"DBCHAT_DB_HOST":                "db.internal",
		"DBCHAT_DB_NAME":                "sales",
		"DBCHAT_DB_AUTO_CONNECT":        "true",
		"DBCHAT_QUERY_ROW_LIMIT":        "50",
		"DBCHAT_SCHEMA_SAMPLE_ROWS":     "0",
		"DBCHAT_SCHEMA_INCLUDE_TABLES":  "orders, customers,,",
		"DBCHAT_PROMPT_MAX_RESULT_ROWS": "25",
		"DBCHAT_SESSION_IDLE_TIMEOUT":   "5m",
		"DBCHAT_EXPORT_ENABLED":         "true",
		"DBCHAT_EXPORT_BUCKET":          "exports",
		"DBCHAT_TELEGRAM_TOKEN":         "tg-token",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "dbchat-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" || cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP = %#v", cfg.HTTP)
	}
	if cfg.Observability.LogLevel != slog.LevelError || cfg.Observability.LogFile != "/tmp/dbchat.log" {
		t.Fatalf("Observability = %#v", cfg.Observability)
	}
	if cfg.LLM.Provider != "openai" {
		t.Fatalf("LLM.Provider = %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("LLM.Model = %q, want provider default", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "secret-key" || cfg.LLM.Temperature != 0.3 || cfg.LLM.Timeout != 21*time.Second {
		t.Fatalf("LLM = %#v", cfg.LLM)
	}
	if cfg.Database.Dialect != "postgres" || cfg.Database.Port != 5432 {
		t.Fatalf("Database dialect/port = %s/%d", cfg.Database.Dialect, cfg.Database.Port)
	}
	if !cfg.Database.AutoConnect || cfg.Database.Host != "db.internal" || cfg.Database.Name != "sales" {
		t.Fatalf("Database = %#v", cfg.Database)
	}
	if cfg.Query.RowLimit != 50 || cfg.Schema.SampleRows != 0 || cfg.Prompt.MaxResultRows != 25 {
		t.Fatalf("limits = row:%d sample:%d prompt:%d", cfg.Query.RowLimit, cfg.Schema.SampleRows, cfg.Prompt.MaxResultRows)
	}
	if len(cfg.Schema.IncludeTables) != 2 || cfg.Schema.IncludeTables[1] != "customers" {
		t.Fatalf("Schema.IncludeTables = %#v", cfg.Schema.IncludeTables)
	}
	if cfg.Session.IdleTimeout != 5*time.Minute {
		t.Fatalf("Session.IdleTimeout = %s", cfg.Session.IdleTimeout)
	}
	if !cfg.Export.Enabled || cfg.Export.Bucket != "exports" {
		t.Fatalf("Export = %#v", cfg.Export)
	}
	if cfg.Telegram.Token != "tg-token" {
		t.Fatalf("Telegram.Token = %q", cfg.Telegram.Token)
	}
}

func TestLoadPrefersExplicitAPIKeyOverGeminiFallback(t *testing.T) {
	cfg, err := Load("dbchat-api", mapLookup(map[string]string{"GEMINI_API_KEY": "from-gemini"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "from-gemini" {
		t.Fatalf("APIKey = %q", cfg.LLM.APIKey)
	}

	cfg, err = Load("dbchat-api", mapLookup(map[string]string{
		"GEMINI_API_KEY":     "from-gemini",
		"DBCHAT_LLM_API_KEY": "explicit",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "explicit" {
		t.Fatalf("APIKey = %q", cfg.LLM.APIKey)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"DBCHAT_PROFILE": "oops"},
		{"DBCHAT_HTTP_READ_TIMEOUT": "NaN"},
		{"DBCHAT_LLM_PROVIDER": "palm"},
		{"DBCHAT_LLM_TEMPERATURE": "bad"},
		{"DBCHAT_DB_DIALECT": "oracle"},
		{"DBCHAT_DB_PORT": "oops"},
		{"DBCHAT_DB_AUTO_CONNECT": "not-bool"},
		{"DBCHAT_QUERY_ROW_LIMIT": "0"},
		{"DBCHAT_EXPORT_ENABLED": "true", "DBCHAT_EXPORT_BUCKET": ""},
		{"DBCHAT_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("dbchat-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
