// Package settings holds the client preferences that outlive a process:
// theme, email consent, the signed-in user, default sort and a cached copy
// of the profile. Values are loaded once and written back on every change.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"shaman/internal/domain"
	"shaman/internal/views"
)

const (
	keyDarkMode     = "dark_mode"
	keyEmailConsent = "email_consent"
	keyDefaultSort  = "default_sort"
	keyUserID       = "user.uid"
	keyUserEmail    = "user.email"
	keyUserToken    = "user.token"
	keyProfile      = "profile"
)

// fileMode keeps the stored session token private to the user.
const fileMode os.FileMode = 0o600

// Values is a point-in-time copy of the settings.
type Values struct {
	DarkMode     bool                `json:"darkMode"`
	EmailConsent bool                `json:"emailConsent"`
	DefaultSort  views.SortBy        `json:"defaultSort"`
	UserID       string              `json:"userId,omitempty"`
	UserEmail    string              `json:"userEmail,omitempty"`
	Token        string              `json:"-"`
	Profile      *domain.ProfileData `json:"profile,omitempty"`
}

type Settings struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// Path returns the settings file inside a workspace state dir.
func Path(stateDir string) string {
	return filepath.Join(stateDir, "settings.yml")
}

// Load reads path if it exists. SHAMAN_DARK_MODE and friends override the
// file.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetConfigPermissions(fileMode)
	v.SetEnvPrefix("SHAMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetDefault(keyDarkMode, false)
	v.SetDefault(keyEmailConsent, false)
	v.SetDefault(keyDefaultSort, string(views.SortNewest))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	}
	return &Settings{v: v, path: path}, nil
}

func (s *Settings) Snapshot() Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals := Values{
		DarkMode:     s.v.GetBool(keyDarkMode),
		EmailConsent: s.v.GetBool(keyEmailConsent),
		DefaultSort:  views.SortBy(s.v.GetString(keyDefaultSort)),
		UserID:       s.v.GetString(keyUserID),
		UserEmail:    s.v.GetString(keyUserEmail),
		Token:        s.v.GetString(keyUserToken),
	}
	if raw := s.v.GetStringMap(keyProfile); len(raw) > 0 {
		// keys come back lowercased; json matches field names case-insensitively
		data, err := json.Marshal(raw)
		if err == nil {
			var p domain.ProfileData
			if json.Unmarshal(data, &p) == nil {
				vals.Profile = &p
			}
		}
	}
	return vals
}

func (s *Settings) SetDarkMode(on bool) error {
	return s.set(map[string]any{keyDarkMode: on})
}

func (s *Settings) SetEmailConsent(consent bool) error {
	return s.set(map[string]any{keyEmailConsent: consent})
}

func (s *Settings) SetDefaultSort(by string) error {
	sortBy, err := views.ParseSort(by)
	if err != nil {
		return err
	}
	return s.set(map[string]any{keyDefaultSort: string(sortBy)})
}

// SetUser records the signed-in user; empty values sign out.
func (s *Settings) SetUser(uid, email, token string) error {
	return s.set(map[string]any{keyUserID: uid, keyUserEmail: email, keyUserToken: token})
}

// SetProfile caches the profile; nil clears it.
func (s *Settings) SetProfile(p *domain.ProfileData) error {
	var raw map[string]any
	if p != nil {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	return s.set(map[string]any{keyProfile: raw})
}

// Set assigns a setting from its textual form, as typed on the command line.
func (s *Settings) Set(key, value string) error {
	switch key {
	case keyDarkMode, "dark-mode":
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s expects true or false", key)
		}
		return s.SetDarkMode(on)
	case keyEmailConsent, "email-consent":
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s expects true or false", key)
		}
		return s.SetEmailConsent(on)
	case keyDefaultSort, "default-sort":
		return s.SetDefaultSort(value)
	}
	return fmt.Errorf("unknown setting %q (dark_mode, email_consent, default_sort)", key)
}

func (s *Settings) set(values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.v.Set(k, v)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	// files written by older versions keep their mode when truncated
	if err := os.Chmod(s.path, fileMode); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
