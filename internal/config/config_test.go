package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "REDIS_URL", "CORS_ORIGINS", "HISTORY_LIMIT", "PRESENCE_TIMEOUT", "PRESENCE_REAP_INTERVAL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.ServerPort != "8080" {
		t.Fatalf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if !cfg.IsDevelopment() {
		t.Fatalf("expected development env by default")
	}
	if cfg.HistoryLimit != 100 {
		t.Fatalf("HistoryLimit = %d, want 100", cfg.HistoryLimit)
	}
	if cfg.PresenceTimeout != 2*time.Minute {
		t.Fatalf("PresenceTimeout = %v", cfg.PresenceTimeout)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("HISTORY_LIMIT", "25")
	t.Setenv("PRESENCE_TIMEOUT", "45s")
	t.Setenv("PRESENCE_REAP_INTERVAL", "nonsense")

	cfg := Load()
	if cfg.ServerPort != "9000" {
		t.Fatalf("ServerPort = %q", cfg.ServerPort)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "https://a.example" || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.HistoryLimit != 25 {
		t.Fatalf("HistoryLimit = %d", cfg.HistoryLimit)
	}
	if cfg.PresenceTimeout != 45*time.Second {
		t.Fatalf("PresenceTimeout = %v", cfg.PresenceTimeout)
	}
	if cfg.ReapInterval != 30*time.Second {
		t.Fatalf("ReapInterval should fall back to default, got %v", cfg.ReapInterval)
	}
}

func TestLoadProductionRequiresRedis(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("REDIS_URL", "")

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic without REDIS_URL in production")
		}
	}()
	Load()
}
