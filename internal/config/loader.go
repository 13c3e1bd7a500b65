package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for forgetfulme.yaml/.yml
// in standard locations. Requiring an explicit YAML extension avoids
// matching the binary itself in the current directory.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file in any standard location. Set name/type without
		// search paths so ReadInConfig returns ConfigFileNotFoundError,
		// which Load treats as "use defaults".
		viper.SetConfigName("forgetfulme")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: FORGETFULME_SUPABASE_URL etc.
	viper.SetEnvPrefix("FORGETFULME")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for forgetfulme.yaml or .yml.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{
		".",
		filepath.Join(home, ".forgetfulme"),
		"/etc/forgetfulme",
	})
}

func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "forgetfulme"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for env var overrides.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("supabase.url")
	_ = viper.BindEnv("supabase.anon_key")
	_ = viper.BindEnv("storage.dir")
	_ = viper.BindEnv("storage.synced_file")
	_ = viper.BindEnv("storage.local_db")
	_ = viper.BindEnv("cache.ttl")
	_ = viper.BindEnv("cache.max_entries")
	_ = viper.BindEnv("log_level")
	_ = viper.BindEnv("tracing")
}

// Load reads, merges, and validates the configuration. A missing config
// file yields the defaults (possibly overridden by environment variables).
func Load(logger *slog.Logger) (*Config, error) {
	cfg := Default()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Debug("no config file found, using defaults")
	} else {
		logger.Debug("loaded config", "file", viper.ConfigFileUsed())
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
