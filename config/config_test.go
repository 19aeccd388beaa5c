package config

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ADMIN_SERVICE_TOKEN", "token")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/referrals")
	t.Setenv("ADMIN_SERVICE_TOKEN", "token")
	t.Setenv("PORT", "")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("DEFAULT_CURRENCY", "usd")
	t.Setenv("HTTP_TIMEOUT_SECONDS", "nope")
	t.Setenv("SETTLEMENT_REQUIRE_ORDER_TOTAL", "true")
	t.Setenv("CLOUDFLARE_ACCOUNT_ID", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != "5200" {
		t.Errorf("Port = %q, want 5200", cfg.Server.Port)
	}
	if cfg.Server.AllowedOrigins != "https://a.example,https://b.example" {
		t.Errorf("AllowedOrigins = %q", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.DefaultCurrency != "USD" {
		t.Errorf("DefaultCurrency = %q, want USD", cfg.Server.DefaultCurrency)
	}
	if cfg.Shopify.Timeout.Seconds() != 30 {
		t.Errorf("Timeout = %v, want 30s", cfg.Shopify.Timeout)
	}
	if !cfg.Settlement.RequireKnownOrderTotal {
		t.Error("RequireKnownOrderTotal should be true")
	}
	if cfg.Archive.Enabled() {
		t.Error("archive should be disabled without an account id")
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger := NewLogger("not-a-level")
	if logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("level = %v, want info", logger.GetLevel())
	}
}
