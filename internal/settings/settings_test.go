package settings

import (
	"os"
	"path/filepath"
	"testing"

	"shaman/internal/domain"
	"shaman/internal/views"
)

func TestDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "settings.yml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v := s.Snapshot()
	if v.DarkMode || v.EmailConsent || v.DefaultSort != views.SortNewest || v.Profile != nil {
		t.Fatalf("unexpected defaults %+v", v)
	}
}

func TestSaveOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "settings.yml")
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetDarkMode(true); err != nil {
		t.Fatalf("set dark mode: %v", err)
	}
	if err := s.Set("default_sort", "priority"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetUser("uid-1", "ada@example.com", "tok"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetProfile(&domain.ProfileData{FullName: "John Doe", Address: domain.Address{City: "Springfield"}}); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	v := reloaded.Snapshot()
	if !v.DarkMode || v.DefaultSort != views.SortPriority || v.UserID != "uid-1" || v.Token != "tok" {
		t.Fatalf("settings not persisted: %+v", v)
	}
	if v.Profile == nil || v.Profile.FullName != "John Doe" || v.Profile.Address.City != "Springfield" {
		t.Fatalf("profile not persisted: %+v", v.Profile)
	}
}

func TestSetRejectsBadValues(t *testing.T) {
	s, _ := Load(filepath.Join(t.TempDir(), "settings.yml"))
	if err := s.Set("dark_mode", "maybe"); err == nil {
		t.Fatalf("expected bool parse error")
	}
	if err := s.Set("default_sort", "random"); err == nil {
		t.Fatalf("expected sort error")
	}
	if err := s.Set("volume", "11"); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestSessionFileIsPrivate(t *testing.T) {
	dir := t.TempDir()
	fresh := filepath.Join(dir, "fresh.yml")
	legacy := filepath.Join(dir, "legacy.yml")
	if err := os.WriteFile(legacy, []byte("dark_mode: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{fresh, legacy} {
		s, err := Load(path)
		if err != nil {
			t.Fatalf("load %s: %v", path, err)
		}
		if err := s.SetUser("uid-1", "ada@example.com", "tok"); err != nil {
			t.Fatalf("set user: %v", err)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if mode := info.Mode().Perm(); mode != 0o600 {
			t.Fatalf("%s: expected mode 0600, got %o", filepath.Base(path), mode)
		}
	}
}
