package core

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jo-hoe/banano/internal/backend/generation"
	"github.com/jo-hoe/banano/internal/backend/provider"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("REDIS_PASSWORD", "redis-secret")

	path := writeConfig(t, `
port: 9090
logLevel: debug
database:
  type: sqlite
  connectionString: ":memory:"
storage:
  type: filesystem
  directory: /tmp/banano
cache:
  type: redis
  address: localhost:6379
  ttl: 5m
generation:
  maxCount: 4
  candidatesPerSlot: 2
providers:
  - name: gemini
    label: Gemini
    type: gemini
    models: [gemini-3-pro-image-preview, gemini-2.5-flash-image]
    timeout: 90s
evaluator:
  model: gemini-2.5-flash
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if config.Port != 9090 || config.SlogLevel() != slog.LevelDebug {
		t.Errorf("port=%d level=%v", config.Port, config.SlogLevel())
	}
	if config.Keys.Google != "google-key" || config.Keys.OpenAI != "" {
		t.Errorf("keys not read from environment: %+v", config.Keys)
	}
	if config.Cache.Password != "redis-secret" || config.Cache.TTL != 5*time.Minute {
		t.Errorf("cache config = %+v", config.Cache)
	}
	want := generation.Config{MinCount: 1, MaxCount: 4, CandidatesPerSlot: 2}
	if config.Generation != want {
		t.Errorf("generation = %+v, want %+v", config.Generation, want)
	}
	if len(config.Providers) != 1 || len(config.Providers[0].Models) != 2 || config.Providers[0].Timeout != 90*time.Second {
		t.Errorf("providers = %+v", config.Providers)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, "port: 0\n"))
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if config.Port != defaultPort || config.Database.ConnectionString != defaultConnectionString {
		t.Errorf("defaults not applied: %+v", config)
	}
	if config.Generation != generation.DefaultConfig() {
		t.Errorf("generation = %+v", config.Generation)
	}
	if len(config.Providers) != len(provider.DefaultConfigs()) {
		t.Errorf("providers = %+v", config.Providers)
	}
	if config.SlogLevel() != slog.LevelInfo {
		t.Errorf("level = %v", config.SlogLevel())
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"duplicate provider", "providers:\n  - {name: a, type: gemini}\n  - {name: a, type: openai}\n"},
		{"empty provider name", "providers:\n  - {type: gemini}\n"},
		{"unknown provider type", "providers:\n  - {name: a, type: midjourney}\n"},
		{"inverted bounds", "generation:\n  minCount: 5\n  maxCount: 2\n"},
		{"malformed yaml", "port: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
