package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPSCLOUD_JWT_SECRET", "test-secret")
	t.Setenv("OPSCLOUD_ALLOWED_EMAIL_DOMAIN", "OpsCloud.US")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("default listen addr %q", cfg.ListenAddr)
	}
	if cfg.SessionTTL != 168*time.Hour {
		t.Fatalf("default session ttl %v", cfg.SessionTTL)
	}
	if cfg.AllowedEmailDomain != "opscloud.us" {
		t.Fatalf("domain must be normalized, got %q", cfg.AllowedEmailDomain)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("OPSCLOUD_JWT_SECRET", "")
	t.Setenv("OPSCLOUD_ALLOWED_EMAIL_DOMAIN", "opscloud.us")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OPSCLOUD_JWT_SECRET", "test-secret")
	t.Setenv("OPSCLOUD_ALLOWED_EMAIL_DOMAIN", "opscloud.us")
	t.Setenv("OPSCLOUD_SESSION_TTL", "24h")
	t.Setenv("OPSCLOUD_RATE_LIMIT_RPS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("session ttl override: %v", cfg.SessionTTL)
	}
	if cfg.RateLimitPerSecond != 5 {
		t.Fatalf("rps override: %d", cfg.RateLimitPerSecond)
	}
}
