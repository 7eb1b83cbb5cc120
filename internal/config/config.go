// Package config provides configuration loading and structs for Archivext.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/archivext/internal/archive"
	"github.com/hyperjump/archivext/internal/debounce"
	"github.com/hyperjump/archivext/internal/keyword"
	"github.com/hyperjump/archivext/internal/models"
	"github.com/hyperjump/archivext/internal/store"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Archives ArchivesConfig `yaml:"archives"`
	Search   SearchConfig   `yaml:"search"`
	Storage  StorageConfig  `yaml:"storage"`
	Watch    WatchConfig    `yaml:"watch"`
	Update   UpdateConfig   `yaml:"update"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ArchivesConfig describes the archive file set and its format.
type ArchivesConfig struct {
	Directory     string `yaml:"directory"`
	Pattern       string `yaml:"pattern"`
	Separator     string `yaml:"separator"`
	Strict        bool   `yaml:"strict"`
	StripComments bool   `yaml:"strip_comments"`
	HashAlgorithm string `yaml:"hash_algorithm"`
	// Widths pads the columns of written lines, in file order:
	// date, author, code, flag, respo, desc, status.
	Widths []int `yaml:"widths"`
}

// Codec builds the archive codec described by the section.
func (a *ArchivesConfig) Codec() archive.Codec {
	c := archive.NewCodec()
	if a.Separator != "" {
		c.Separator = a.Separator
	}
	copy(c.Widths[:], a.Widths)
	return c
}

// SearchConfig holds filter and fuzzy lookup settings.
type SearchConfig struct {
	// DebounceMS is the filter debounce window. Zero filters on every keystroke.
	DebounceMS *int `yaml:"debounce_ms"`
	// Tags renames the query labels, in column order. Empty keeps the defaults.
	Tags []string `yaml:"tags"`
	// Excludes lists search box placeholders treated as an empty query.
	Excludes        []string `yaml:"excludes"`
	MatchTemplate   string   `yaml:"match_template"`
	Fuzziness       *int     `yaml:"fuzziness"`
	AllowDuplicates bool     `yaml:"allow_duplicates"`
}

// Debounce returns the debounce window; 300ms when unset.
func (s *SearchConfig) Debounce() time.Duration {
	if s.DebounceMS == nil {
		return DefaultDebounce
	}
	return time.Duration(*s.DebounceMS) * time.Millisecond
}

// FuzzinessOrDefault returns the fuzzy edit distance; 1 when unset.
func (s *SearchConfig) FuzzinessOrDefault() int {
	if s.Fuzziness == nil {
		return DefaultFuzziness
	}
	return *s.Fuzziness
}

// StoreOptions returns the record store options described by the section.
func (s *SearchConfig) StoreOptions() []store.Option {
	opts := []store.Option{store.WithExcludes(s.Excludes...)}
	if s.MatchTemplate != "" {
		opts = append(opts, store.WithMatchTemplate(s.MatchTemplate))
	}
	if len(s.Tags) > 0 {
		opts = append(opts, store.WithLabels(s.Tags...))
	}
	return opts
}

// StorageConfig holds the session database path.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// WatchConfig holds archive directory watch settings.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMS int  `yaml:"debounce_ms"`
}

// UpdateConfig holds the remote archive sync settings. An empty BaseURL disables sync.
type UpdateConfig struct {
	BaseURL        string `yaml:"base_url"`
	MetaPath       string `yaml:"meta_path"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	OnStart        bool   `yaml:"on_start"`
}

// Timeout returns the per-request timeout.
func (u *UpdateConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// Load reads and parses the config file at path, expands paths, applies defaults and validates.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Archives.Directory = expandPath(cfg.Archives.Directory, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the components would refuse at construction time.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return models.NewValidationError("server.port", "%d out of range", c.Server.Port)
	}
	if _, err := archive.NewHash(c.Archives.HashAlgorithm); err != nil {
		return err
	}
	if len(c.Archives.Widths) > len(archive.DefaultWidths) {
		return models.NewValidationError("archives.widths", "got %d widths, want at most %d", len(c.Archives.Widths), len(archive.DefaultWidths))
	}
	if err := c.Archives.Codec().Validate(); err != nil {
		return err
	}
	if _, err := filepath.Match(c.Archives.Pattern, "archives_2023.txt"); err != nil {
		return models.NewValidationError("archives.pattern", "%q: %v", c.Archives.Pattern, err)
	}
	if d := c.Search.Debounce(); d < 0 || d > debounce.MaxWait {
		return models.NewValidationError("search.debounce_ms", "%s not in 0..%s", d, debounce.MaxWait)
	}
	if f := c.Search.FuzzinessOrDefault(); f < 0 || f > keyword.MaxFuzziness {
		return models.NewValidationError("search.fuzziness", "%d not in 0..%d", f, keyword.MaxFuzziness)
	}
	if c.Search.MatchTemplate != "" {
		if err := store.ValidateMatchTemplate(c.Search.MatchTemplate); err != nil {
			return err
		}
	}
	if c.Update.TimeoutSeconds < 0 {
		return models.NewValidationError("update.timeout_seconds", "%d is negative", c.Update.TimeoutSeconds)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
