package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DevJWTSecret is the placeholder signing secret of the built-in defaults.
// Anyone can mint sessions with it; serve refuses to start on it.
const DevJWTSecret = "dev-secret-change-me"

const (
	BackendSQLite    = "sqlite"
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
)

// Config models shaman.yml.
type Config struct {
	Store struct {
		Backend       string `yaml:"backend"`
		MirrorPending bool   `yaml:"mirror_pending"`
		Firestore     struct {
			ProjectID string `yaml:"project_id"`
		} `yaml:"firestore"`
	} `yaml:"store"`
	Auth struct {
		JWTSecret  string `yaml:"jwt_secret"`
		DurableTTL string `yaml:"durable_ttl"`
		SessionTTL string `yaml:"session_ttl"`
		ResetTTL   string `yaml:"reset_ttl"`
	} `yaml:"auth"`
	OAuth    OAuth     `yaml:"oauth"`
	Limits   Limits    `yaml:"limits"`
	Webhooks []Webhook `yaml:"webhooks"`
	Server   struct {
		Addr        string   `yaml:"addr"`
		BasePath    string   `yaml:"base_path"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
}

// OAuth configures federated sign-in. Empty endpoints fall back to Google's.
type OAuth struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserinfoURL  string   `yaml:"userinfo_url"`
	Scopes       []string `yaml:"scopes"`
}

func (o OAuth) Enabled() bool { return o.ClientID != "" }

type Limits struct {
	DefaultList      int    `yaml:"default_list"`
	MaxList          int    `yaml:"max_list"`
	DispatchInterval string `yaml:"dispatch_interval"`
}

// Webhook receives mirrored pending work for the external worker.
type Webhook struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with shaman config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendMemory:
	case BackendFirestore:
		if c.Store.Firestore.ProjectID == "" {
			return fmt.Errorf("config.store.firestore.project_id is required for the firestore backend")
		}
	default:
		return fmt.Errorf("config.store.backend must be one of sqlite, memory, firestore")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config.auth.jwt_secret is required")
	}
	for name, v := range map[string]string{
		"auth.durable_ttl":         c.Auth.DurableTTL,
		"auth.session_ttl":         c.Auth.SessionTTL,
		"auth.reset_ttl":           c.Auth.ResetTTL,
		"limits.dispatch_interval": c.Limits.DispatchInterval,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("config.%s must be a positive duration", name)
		}
	}
	if c.Limits.DefaultList <= 0 || c.Limits.MaxList < c.Limits.DefaultList {
		return fmt.Errorf("config.limits requires 0 < default_list <= max_list")
	}
	for i, h := range c.Webhooks {
		if h.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	if c.OAuth.Enabled() && c.OAuth.RedirectURL == "" {
		return fmt.Errorf("config.oauth.redirect_url is required when client_id is set")
	}
	return nil
}

// InsecureSecret reports whether sessions are signed with DevJWTSecret.
func (c *Config) InsecureSecret() bool { return c.Auth.JWTSecret == DevJWTSecret }

func (c *Config) DurableTTL() time.Duration { return mustDuration(c.Auth.DurableTTL, 30*24*time.Hour) }
func (c *Config) SessionTTL() time.Duration { return mustDuration(c.Auth.SessionTTL, 12*time.Hour) }
func (c *Config) ResetTTL() time.Duration   { return mustDuration(c.Auth.ResetTTL, time.Hour) }
func (c *Config) DispatchInterval() time.Duration {
	return mustDuration(c.Limits.DispatchInterval, 2*time.Second)
}

func mustDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "shaman.yml")
}

// GenerateDefault returns default config YAML with a fresh random
// jwt_secret.
func GenerateDefault() (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return strings.Replace(defaultTemplate, "jwt_secret: "+DevJWTSecret, "jwt_secret: "+hex.EncodeToString(secret), 1), nil
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Marshal renders the config back to YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `store:
  backend: sqlite
  # copy new tasks into the shared pending-work collection read by the worker
  mirror_pending: true
  firestore:
    project_id: ""

auth:
  jwt_secret: dev-secret-change-me
  durable_ttl: 720h
  session_ttl: 12h
  reset_ttl: 1h

oauth:
  client_id: ""
  client_secret: ""
  redirect_url: ""
  scopes: [openid, email, profile]

limits:
  default_list: 50
  max_list: 200
  dispatch_interval: 2s

webhooks: []

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  cors_origins: ["http://localhost:3000"]
`
