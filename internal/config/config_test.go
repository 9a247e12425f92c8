package config

import (
	"testing"
	"time"
)

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("GATEWAY_SANDBOX", "false")
	t.Setenv("SITE_URL", "https://shop.example.com/")
	t.Setenv("RATE_LIMIT_MAX", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("MATERIALIZE_ATTEMPTS", "not-a-number")
	t.Setenv("ORDERS_TABLE", "")

	cfg := Load()

	if cfg.Gateway.Sandbox {
		t.Fatalf("expected live mode")
	}
	if cfg.Gateway.Endpoint() != LiveEndpoint {
		t.Fatalf("unexpected endpoint %s", cfg.Gateway.Endpoint())
	}
	if cfg.RateLimitMax != 5 || cfg.RateLimitWindow != 30*time.Second {
		t.Fatalf("rate limit not applied: %d %s", cfg.RateLimitMax, cfg.RateLimitWindow)
	}
	if cfg.MaterializeAttempts != 3 {
		t.Fatalf("expected fallback attempts=3, got %d", cfg.MaterializeAttempts)
	}
	if cfg.Tables.Orders != "orders" {
		t.Fatalf("expected default orders table, got %q", cfg.Tables.Orders)
	}
}

func TestGateway_CallbackURLs(t *testing.T) {
	g := Gateway{SiteURL: "https://shop.example.com/", Sandbox: true}

	if got := g.ReturnURL("ORD-1"); got != "https://shop.example.com/payment/success?order=ORD-1" {
		t.Fatalf("return url: %s", got)
	}
	if got := g.CancelURL("ORD-1"); got != "https://shop.example.com/payment/cancelled?order=ORD-1" {
		t.Fatalf("cancel url: %s", got)
	}
	if got := g.NotifyURL(); got != "https://shop.example.com/webhook/payment" {
		t.Fatalf("notify url: %s", got)
	}
	if g.Endpoint() != SandboxEndpoint {
		t.Fatalf("expected sandbox endpoint")
	}
}
