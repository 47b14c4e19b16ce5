package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Store.Backend != BackendSQLite || !cfg.Store.MirrorPending {
		t.Fatalf("unexpected store defaults %+v", cfg.Store)
	}
	if cfg.DurableTTL() != 30*24*time.Hour || cfg.SessionTTL() != 12*time.Hour {
		t.Fatalf("unexpected ttls %v %v", cfg.DurableTTL(), cfg.SessionTTL())
	}
	if cfg.Server.BasePath != "/v1" || cfg.Limits.MaxList != 200 {
		t.Fatalf("unexpected server/limits %+v %+v", cfg.Server, cfg.Limits)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("store:\n  backend: memory\nserver:\n  addr: :9999\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Store.Backend != BackendMemory || cfg.Server.Addr != ":9999" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Auth.JWTSecret == "" || cfg.Limits.DefaultList != 50 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"backend":   "store:\n  backend: postgres\n",
		"firestore": "store:\n  backend: firestore\n",
		"ttl":       "auth:\n  durable_ttl: forever\n",
		"limits":    "limits:\n  default_list: 300\n",
		"webhook":   "webhooks:\n  - secret: x\n",
		"oauth":     "oauth:\n  client_id: abc\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	generated, err := GenerateDefault()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "shaman.yml"), []byte(generated), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load generated default: %v", err)
	}
}

func TestGeneratedSecretReplacesPlaceholder(t *testing.T) {
	if !Default().InsecureSecret() {
		t.Fatalf("built-in defaults should be flagged insecure")
	}
	first, err := GenerateDefault()
	if err != nil {
		t.Fatal(err)
	}
	second, _ := GenerateDefault()
	if strings.Contains(first, DevJWTSecret) || first == second {
		t.Fatalf("expected a fresh secret per call")
	}
	cfg, err := FromYAML([]byte(first))
	if err != nil {
		t.Fatalf("parse generated: %v", err)
	}
	if cfg.InsecureSecret() || len(cfg.Auth.JWTSecret) != 64 {
		t.Fatalf("unexpected generated secret %q", cfg.Auth.JWTSecret)
	}
}
