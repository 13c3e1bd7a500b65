// Package config provides configuration loading and validation for the
// ForgetfulMe sync core.
//
// Configuration comes from forgetfulme.yaml (searched in the current
// directory, ~/.forgetfulme/, and /etc/forgetfulme/) with environment
// variable overrides under the FORGETFULME_ prefix. The remote (Supabase)
// section is optional: a missing remote configuration is the expected
// first-run state, not an error.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the top-level configuration.
type Config struct {
	// Supabase holds the hosted-backend coordinates. Both fields empty
	// means "not configured yet" -- a valid state.
	Supabase SupabaseConfig `yaml:"supabase" mapstructure:"supabase"`

	// Storage configures the two persistence namespaces.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Cache configures the in-process TTL cache.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error". Defaults to "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// Tracing enables OpenTelemetry stdout trace export.
	Tracing bool `yaml:"tracing" mapstructure:"tracing"`
}

// SupabaseConfig holds the remote project coordinates.
type SupabaseConfig struct {
	// URL is the project base URL (e.g. "https://abc.supabase.co").
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`
	// AnonKey is the project's public anon key.
	AnonKey string `yaml:"anon_key" mapstructure:"anon_key"`
}

// StorageConfig configures where the two namespaces live on disk.
type StorageConfig struct {
	// Dir is the data directory. Default: ~/.forgetfulme.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// SyncedFile is the synced-namespace file name inside Dir.
	SyncedFile string `yaml:"synced_file" mapstructure:"synced_file"`
	// LocalDB is the local-namespace SQLite file name inside Dir.
	LocalDB string `yaml:"local_db" mapstructure:"local_db"`
}

// CacheConfig configures the TTL cache.
type CacheConfig struct {
	// TTL is the default entry time-to-live (e.g. "5m").
	TTL string `yaml:"ttl" mapstructure:"ttl" validate:"omitempty"`
	// MaxEntries bounds the cache entry count.
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries" validate:"omitempty,gte=1"`
}

// SyncedPath returns the absolute path of the synced-namespace file.
func (c *Config) SyncedPath() string {
	return filepath.Join(c.Storage.Dir, c.Storage.SyncedFile)
}

// LocalDBPath returns the absolute path of the local-namespace database.
func (c *Config) LocalDBPath() string {
	return filepath.Join(c.Storage.Dir, c.Storage.LocalDB)
}

// CacheTTL parses the configured cache TTL, falling back to zero (which
// lets the cache apply its own default) on an empty value.
func (c *Config) CacheTTL() (time.Duration, error) {
	if c.Cache.TTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return 0, fmt.Errorf("cache.ttl: %w", err)
	}
	return d, nil
}

// Validate validates the configuration using struct tags plus cross-field
// rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Remote config is all-or-nothing: a URL without a key (or the
	// reverse) is a misconfiguration, not a pre-configuration state.
	hasURL := c.Supabase.URL != ""
	hasKey := c.Supabase.AnonKey != ""
	if hasURL != hasKey {
		return errors.New("supabase: url and anon_key must be set together")
	}

	if _, err := c.CacheTTL(); err != nil {
		return err
	}
	return nil
}

// formatValidationErrors turns validator's field errors into one readable
// message.
func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q validation", strings.ToLower(fe.Namespace()), fe.Tag()))
	}
	return errors.New("invalid configuration: " + strings.Join(msgs, "; "))
}

// Default returns a Config with defaults applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Storage: StorageConfig{
			Dir:        filepath.Join(home, ".forgetfulme"),
			SyncedFile: "synced.json",
			LocalDB:    "local.db",
		},
		Cache: CacheConfig{
			TTL:        "5m",
			MaxEntries: 100,
		},
		LogLevel: "info",
	}
}

// RemoteConfig is the pair of coordinates needed to construct the remote
// clients.
type RemoteConfig struct {
	URL     string
	AnonKey string
}

// RemoteProvider yields the remote configuration, or nil when the
// installation has not been configured yet. Absence is valid and expected
// pre-configuration; it must not be treated as an error.
type RemoteProvider interface {
	GetRemoteConfig(ctx context.Context) (*RemoteConfig, error)
}

// StaticProvider is a RemoteProvider over an already-loaded Config.
type StaticProvider struct {
	cfg *Config
}

// NewStaticProvider wraps cfg as a RemoteProvider.
func NewStaticProvider(cfg *Config) *StaticProvider {
	return &StaticProvider{cfg: cfg}
}

// GetRemoteConfig returns the configured coordinates, or nil when absent.
func (p *StaticProvider) GetRemoteConfig(_ context.Context) (*RemoteConfig, error) {
	if p.cfg == nil || p.cfg.Supabase.URL == "" || p.cfg.Supabase.AnonKey == "" {
		return nil, nil
	}
	return &RemoteConfig{URL: p.cfg.Supabase.URL, AnonKey: p.cfg.Supabase.AnonKey}, nil
}
