package main

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"shaman/internal/config"
	"shaman/internal/domain"
	"shaman/internal/identity"
	"shaman/internal/memstore"
	"shaman/internal/settings"
	"shaman/internal/store"
)

func newTestRuntime(t *testing.T) runtime {
	t.Helper()
	return newTestRuntimeOn(t, memstore.New())
}

func newTestRuntimeOn(t *testing.T, st store.Store) runtime {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	cfg := config.Default()
	prefs, err := settings.Load(filepath.Join(t.TempDir(), "settings.yml"))
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	ids := identity.NewProvider(st, cfg, logger)
	ids.Cost = bcrypt.MinCost
	return runtime{Identity: ids, Settings: prefs, Logger: logger}
}

func TestUserIDResolution(t *testing.T) {
	t.Cleanup(viper.Reset)
	rt := newTestRuntime(t)
	ctx := context.Background()

	if _, err := rt.userID(ctx); err == nil {
		t.Fatalf("expected an error when nobody is signed in")
	}

	s, err := rt.Identity.SignUp(ctx, "dee@example.com", "longenough1")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if err := remember(rt, s); err != nil {
		t.Fatalf("remember: %v", err)
	}
	uid, err := rt.userID(ctx)
	if err != nil || uid != s.User.UID {
		t.Fatalf("expected signed-in user %s, got %q (%v)", s.User.UID, uid, err)
	}

	if err := rt.Settings.SetUser(s.User.UID, s.User.Email, "not-a-token"); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.userID(ctx); err == nil {
		t.Fatalf("expected a forged token to be rejected")
	}

	viper.Set("user", "override")
	if uid, err := rt.userID(ctx); err != nil || uid != "override" {
		t.Fatalf("--user should win, got %q (%v)", uid, err)
	}
}

func TestSignOutIsSeenByLaterCommands(t *testing.T) {
	t.Cleanup(viper.Reset)
	ctx := context.Background()
	st := memstore.New()
	first := newTestRuntimeOn(t, st)
	s, err := first.Identity.SignUp(ctx, "dee@example.com", "longenough1")
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Identity.SignOut(ctx, s.Token); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	later := newTestRuntimeOn(t, st)
	if err := later.Settings.SetUser(s.User.UID, s.User.Email, s.Token); err != nil {
		t.Fatal(err)
	}
	if _, err := later.userID(ctx); err == nil {
		t.Fatalf("a signed-out token must not resolve to a user")
	}
}

func TestServeRefusesDevSecret(t *testing.T) {
	if err := checkServeConfig(config.Default()); err == nil {
		t.Fatalf("expected the built-in secret to be refused")
	}
	doc, err := config.GenerateDefault()
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := config.FromYAML([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if err := checkServeConfig(cfg); err != nil {
		t.Fatalf("generated config should be servable: %v", err)
	}
}

func TestLoadConfigStoreOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("workspace", t.TempDir())

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != config.BackendSQLite {
		t.Fatalf("expected the default backend, got %q", cfg.Store.Backend)
	}

	viper.Set("store", "memory")
	cfg, err = loadConfig()
	if err != nil || cfg.Store.Backend != config.BackendMemory {
		t.Fatalf("expected memory backend, got %+v (%v)", cfg, err)
	}

	viper.Set("store", "firestore")
	if _, err := loadConfig(); err == nil {
		t.Fatalf("firestore without a project id should fail validation")
	}
}

func TestStatusFlag(t *testing.T) {
	if st, err := statusFlag(""); st != nil || err != nil {
		t.Fatalf("empty flag should mean no change")
	}
	if st, err := statusFlag("need-input"); err != nil || *st != domain.StatusNeedInput {
		t.Fatalf("unexpected %v %v", st, err)
	}
	if _, err := statusFlag("done"); err == nil {
		t.Fatalf("unknown status accepted")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("  short  ", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := truncate("Schedule dentist appointment", 10); got != "Schedule …" {
		t.Fatalf("got %q", got)
	}
}
