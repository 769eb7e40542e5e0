package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromYAML(t *testing.T) {
	data := []byte(`
server:
  listen: "127.0.0.1:9090"
hub:
  buffer: 32
policies:
  release_reverts_resource: false
webhooks:
  - url: https://example.com/hook
    events: [order.status_changed]
    timeout_seconds: 3
`)
	cfg, err := FromYAML(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:9090" {
		t.Fatalf("listen = %s", cfg.Server.Listen)
	}
	if cfg.Server.BasePath != "/v0" {
		t.Fatalf("base path default lost: %s", cfg.Server.BasePath)
	}
	if cfg.HubBuffer() != 32 {
		t.Fatalf("hub buffer = %d", cfg.HubBuffer())
	}
	if cfg.ReleaseReverts() {
		t.Fatalf("release policy not applied")
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].TimeoutSeconds != 3 {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if !cfg.ReleaseReverts() {
		t.Fatalf("release policy must default to true")
	}
	if cfg.HubBuffer() != 256 {
		t.Fatalf("hub buffer default = %d", cfg.HubBuffer())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadWebhook(t *testing.T) {
	cfg := Default()
	cfg.Webhooks = []WebhookConfig{{URL: ""}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty webhook url")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Fatalf("listen = %s", cfg.Server.Listen)
	}

	if err := os.WriteFile(filepath.Join(dir, "shopfloor.yml"), []byte("hub:\n  buffer: 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HubBuffer() != 8 {
		t.Fatalf("hub buffer = %d", cfg.HubBuffer())
	}
}
