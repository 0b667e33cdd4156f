// Package config loads and validates the inkpad development server
// configuration.
package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, read from inkpad.yaml.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Store   StoreConfig   `yaml:"store"`
	Exec    ExecConfig    `yaml:"exec"`
	Docs    DocsConfig    `yaml:"docs"`
	Debug   bool          `yaml:"debug"`
}

// ServerConfig holds the dev server listen settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// RateLimit caps run dispatches per second through the API; 0 disables
	// limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// Address returns the listen address.
func (c ServerConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the server configuration.
func (c ServerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.RateLimit, validation.Min(0.0)),
		validation.Field(&c.Burst, validation.Min(0)),
	)
}

// BackendConfig points at the external execution and collaboration services.
type BackendConfig struct {
	// APIURL is the base URL the /api routes proxy to.
	APIURL string `yaml:"api_url"`
	// AgentURL is the websocket endpoint agent traffic is forwarded to.
	// The edge rewrites /agent-ws to /ws before dialing.
	AgentURL string `yaml:"agent_url"`
}

// Validate validates the backend configuration.
func (c BackendConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.APIURL, validation.Required, is.URL),
		validation.Field(&c.AgentURL, validation.Required),
	)
}

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// StoreConfig selects the document lookup index backend.
type StoreConfig struct {
	Type string `yaml:"type"` // "sqlite" or "postgres"
	// Path is the SQLite database file (sqlite only).
	Path string `yaml:"path"`
	// DSN is the connection string (postgres only); falls back to the
	// DATABASE_URL environment variable.
	DSN string `yaml:"dsn"`
	// CacheTTL enables an in-memory cache over lookup queries when set.
	CacheTTL string `yaml:"cache_ttl"`
}

// Validate validates the store configuration.
func (c StoreConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Type, validation.Required, validation.In(StoreSQLite, StorePostgres)),
	)
}

// GetCacheTTL returns the parsed cache TTL; zero disables caching.
func (c StoreConfig) GetCacheTTL() time.Duration {
	if c.CacheTTL == "" {
		return 0
	}
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		return 0
	}
	return d
}

// ExecConfig tunes run dispatch.
type ExecConfig struct {
	// Timeout is the local deadline for a run; on expiry the block fails
	// with a timeout-kind error and late responses are discarded.
	Timeout string `yaml:"timeout"`
	// WasmDir is where precompiled modules for local wasm blocks live.
	WasmDir string `yaml:"wasm_dir"`
	// Retry configures dispatch retries for transport failures.
	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig configures retry behavior for run dispatch.
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries"` // default 3
	BaseDelay  string `yaml:"base_delay"`  // default 100ms
	MaxDelay   string `yaml:"max_delay"`   // default 5s
}

// GetTimeout returns the run timeout (default 30s).
func (c ExecConfig) GetTimeout() time.Duration {
	if c.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetRetryMaxRetries returns the retry budget (default 3).
func (c RetryConfig) GetRetryMaxRetries() int {
	if c.MaxRetries <= 0 {
		return 3
	}
	return c.MaxRetries
}

// GetRetryBaseDelay returns the initial backoff delay (default 100ms).
func (c RetryConfig) GetRetryBaseDelay() time.Duration {
	if c.BaseDelay == "" {
		return 100 * time.Millisecond
	}
	d, err := time.ParseDuration(c.BaseDelay)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

// GetRetryMaxDelay returns the backoff ceiling (default 5s).
func (c RetryConfig) GetRetryMaxDelay() time.Duration {
	if c.MaxDelay == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(c.MaxDelay)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// DocsConfig points at the local documents directory fed into the lookup
// index and watched for renames.
type DocsConfig struct {
	Dir string `yaml:"dir"`
}

// Validate validates the whole configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// Default returns the configuration used when no inkpad.yaml exists.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: 5173, RateLimit: 10, Burst: 20},
		Backend: BackendConfig{APIURL: "http://localhost:8080", AgentURL: "ws://localhost:8080"},
		Store:   StoreConfig{Type: StoreSQLite, Path: "./inkpad.db"},
		Docs:    DocsConfig{Dir: "."},
	}
}

// Load reads the configuration file at path, layering it over defaults.
// A missing file returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = os.Getenv("DATABASE_URL")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
