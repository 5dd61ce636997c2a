package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/reusetrack/reusetrack-go/internal/storage"
)

var defaults = map[string]any{
	"logging.level":          "INFO",
	"logging.format":         "text",
	"logging.output":         "stdout",
	"store.type":             string(storage.StoreTypeSQLite),
	"store.dsn":              "",
	"fingerprint.algorithm":  "sha1",
	"fingerprint.cache_size": 0,
	"mount.fsname":           "reusetrackfs",
	"mount.allow_other":      false,
}

// setDefaults registers every scalar key with viper so that environment
// variables can override keys absent from the file.
func setDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// ApplyDefaults fills zero values left by an explicit but empty setting
// and normalizes case.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Store.Type == "" {
		cfg.Store.Type = string(storage.StoreTypeSQLite)
	}
	cfg.Store.Type = strings.ToLower(cfg.Store.Type)
	if cfg.Store.Type == string(storage.StoreTypeSQLite) && cfg.Store.DSN == "" {
		cfg.Store.DSN = storage.DefaultSQLitePath
	}

	if cfg.Fingerprint.Algorithm == "" {
		cfg.Fingerprint.Algorithm = "sha1"
	}
	cfg.Fingerprint.Algorithm = strings.ToLower(cfg.Fingerprint.Algorithm)

	if cfg.Mount.FSName == "" {
		cfg.Mount.FSName = "reusetrackfs"
	}
}
