package config

import (
	"time"

	"github.com/hyperjump/archivext/internal/archive"
	"github.com/hyperjump/archivext/internal/store"
	"github.com/hyperjump/archivext/internal/updater"
)

const (
	// DefaultDebounce is the filter debounce window.
	DefaultDebounce = 300 * time.Millisecond
	// DefaultFuzziness is the default edit distance of fuzzy lookups.
	DefaultFuzziness = 1
	// DefaultSearchPlaceholder is the hint shown in an empty search box.
	DefaultSearchPlaceholder = "Rechercher"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Archives.Directory == "" {
		cfg.Archives.Directory = "/usr/local/var/archivext/archives"
	}
	if cfg.Archives.Pattern == "" {
		cfg.Archives.Pattern = archive.DefaultPattern
	}
	if cfg.Archives.Separator == "" {
		cfg.Archives.Separator = archive.DefaultSeparator
	}
	if cfg.Archives.HashAlgorithm == "" {
		cfg.Archives.HashAlgorithm = archive.HashMD5
	}
	if cfg.Search.Excludes == nil {
		cfg.Search.Excludes = []string{DefaultSearchPlaceholder}
	}
	if cfg.Search.MatchTemplate == "" {
		cfg.Search.MatchTemplate = store.DefaultMatchTemplate
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/archivext/data/session.db"
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 400
	}
	if cfg.Update.MetaPath == "" {
		cfg.Update.MetaPath = updater.DefaultMetaPath
	}
	if cfg.Update.TimeoutSeconds == 0 {
		cfg.Update.TimeoutSeconds = int(updater.DefaultTimeout / time.Second)
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
