package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/reusetrack/reusetrack-go/internal/storage"
)

// Config is the complete reusetrackfs configuration.
//
// Sources, highest precedence first:
//  1. CLI flags (applied by the caller after Load)
//  2. Environment variables (REUSETRACK_*)
//  3. Configuration file (YAML)
//  4. Defaults
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Store       StoreConfig       `mapstructure:"store"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint"`
	Mount       MountConfig       `mapstructure:"mount"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (any case)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// StoreConfig selects the provenance store. Only the section matching
// Type is used.
type StoreConfig struct {
	Type string `mapstructure:"type" validate:"required,oneof=memory sqlite postgres mysql mongodb badger s3"`

	// DSN is the sqlite file, SQL connection string, MongoDB URI,
	// badger directory or S3 bucket, depending on Type
	DSN string `mapstructure:"dsn"`

	MongoDB map[string]any `mapstructure:"mongodb"`
	Badger  map[string]any `mapstructure:"badger"`
	S3      map[string]any `mapstructure:"s3"`
}

// FingerprintConfig selects the content digest
type FingerprintConfig struct {
	Algorithm string `mapstructure:"algorithm" validate:"required,oneof=sha1 blake3"`

	// CacheSize is the number of digests kept for unchanged files; 0
	// re-hashes on every terminal event
	CacheSize int `mapstructure:"cache_size" validate:"gte=0"`
}

// MountConfig holds FUSE mount options
type MountConfig struct {
	FSName     string `mapstructure:"fsname" validate:"required"`
	AllowOther bool   `mapstructure:"allow_other"`
}

// StorageConfig converts the store section into a storage.Config
func (s StoreConfig) StorageConfig() storage.Config {
	cfg := storage.Config{Type: storage.StoreType(s.Type), DSN: s.DSN}
	switch cfg.Type {
	case storage.StoreTypeMongoDB:
		cfg.Options = s.MongoDB
	case storage.StoreTypeBadger:
		cfg.Options = s.Badger
	case storage.StoreTypeS3:
		cfg.Options = s.S3
	}
	return cfg
}

// Load loads configuration from file, environment and defaults, then
// validates it. An empty configPath searches the default location and
// tolerates a missing file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	setDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper configures environment overrides and the config file search.
// Example: REUSETRACK_STORE_TYPE=badger
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("REUSETRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/reusetrack, ~/.config/reusetrack
// or "." when no home directory is known
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "reusetrack")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "reusetrack")
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
