package config

import (
	"testing"

	"clothpos/backend/internal/domain"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STOCK_POLICY", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "")
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.StockPolicy != domain.StockPolicyReject {
		t.Fatalf("expected default stock policy reject, got %q", cfg.StockPolicy)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token TTL 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.ReportCacheTTLSeconds != 15 {
		t.Fatalf("expected default report TTL 15, got %d", cfg.ReportCacheTTLSeconds)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}

func TestLoadRejectsUnknownStockPolicy(t *testing.T) {
	t.Setenv("STOCK_POLICY", "yolo")

	cfg := Load()
	if cfg.StockPolicy != domain.StockPolicyReject {
		t.Fatalf("expected fallback to reject, got %q", cfg.StockPolicy)
	}

	t.Setenv("STOCK_POLICY", domain.StockPolicyAllowNegative)
	cfg = Load()
	if cfg.StockPolicy != domain.StockPolicyAllowNegative {
		t.Fatalf("expected allow_negative to be kept, got %q", cfg.StockPolicy)
	}
}

func TestLoadIgnoresBadNumericValues(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "banana")
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "-4")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected fallback token TTL 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.ReportCacheTTLSeconds != 15 {
		t.Fatalf("expected fallback report TTL 15, got %d", cfg.ReportCacheTTLSeconds)
	}
}
