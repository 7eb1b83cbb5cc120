package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/archivext/internal/archive"
	"github.com/hyperjump/archivext/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
archives:
  directory: "/srv/archives"
  separator: ";"
  strict: true
  hash_algorithm: sha256
  widths: [5, 12]
search:
  debounce_ms: 0
  excludes: ["Search..."]
  match_template: "%d of %d"
  fuzziness: 2
storage:
  database_path: "test.db"
watch:
  enabled: true
update:
  base_url: "https://example.com/respomap/"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Archives.Directory != "/srv/archives" || !cfg.Archives.Strict || cfg.Archives.HashAlgorithm != archive.HashSHA256 {
		t.Errorf("unexpected archives config: %+v", cfg.Archives)
	}
	codec := cfg.Archives.Codec()
	if codec.Separator != ";" || codec.Widths[0] != 5 || codec.Widths[1] != 12 || codec.Widths[2] != archive.DefaultWidths[2] {
		t.Errorf("codec = %+v", codec)
	}
	if cfg.Search.Debounce() != 0 {
		t.Errorf("explicit debounce_ms 0 should disable debouncing, got %s", cfg.Search.Debounce())
	}
	if cfg.Search.FuzzinessOrDefault() != 2 {
		t.Errorf("fuzziness = %d", cfg.Search.FuzzinessOrDefault())
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if !cfg.Watch.Enabled || cfg.Update.MetaPath != "meta.json" || cfg.Update.Timeout() != 8*time.Second {
		t.Errorf("watch/update = %+v %+v", cfg.Watch, cfg.Update)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	cfg, err := Load(writeConfig(t, "debug: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
archives:
  directory: "./archives"
storage:
  database_path: "./data/session.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	if want := filepath.Join(dir, "data", "session.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "archives"); cfg.Archives.Directory != want {
		t.Errorf("archives directory = %s, want %s", cfg.Archives.Directory, want)
	}
}

func TestLoad_errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "server: [")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"negative width", func(c *Config) { c.Archives.Widths = []int{5, -1} }},
		{"too many widths", func(c *Config) { c.Archives.Widths = make([]int, 8) }},
		{"unknown hash", func(c *Config) { c.Archives.HashAlgorithm = "crc32" }},
		{"bad pattern", func(c *Config) { c.Archives.Pattern = "archives_[.txt" }},
		{"debounce too long", func(c *Config) { ms := 120000; c.Search.DebounceMS = &ms }},
		{"negative debounce", func(c *Config) { ms := -5; c.Search.DebounceMS = &ms }},
		{"fuzziness", func(c *Config) { f := 3; c.Search.Fuzziness = &f }},
		{"template", func(c *Config) { c.Search.MatchTemplate = "%s hits" }},
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"timeout", func(c *Config) { c.Update.TimeoutSeconds = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mod(cfg)
			var verr *models.ValidationError
			if err := cfg.Validate(); !errors.As(err, &verr) {
				t.Errorf("Validate() = %v, want ValidationError", err)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Archives.Pattern != archive.DefaultPattern || cfg.Archives.HashAlgorithm != archive.HashMD5 {
		t.Errorf("archives defaults: %+v", cfg.Archives)
	}
	if cfg.Search.Debounce() != 300*time.Millisecond {
		t.Errorf("default debounce: got %s", cfg.Search.Debounce())
	}
	if len(cfg.Search.Excludes) != 1 || cfg.Search.Excludes[0] != DefaultSearchPlaceholder {
		t.Errorf("default excludes: got %v", cfg.Search.Excludes)
	}
	if cfg.Search.MatchTemplate != "%d sur %d" {
		t.Errorf("default template: got %q", cfg.Search.MatchTemplate)
	}
}

func TestSearchConfig_StoreOptions(t *testing.T) {
	cfg := Default()
	cfg.Search.Tags = []string{"n", "day", "author", "code", "flag", "text", "status", "staff"}
	if got := len(cfg.Search.StoreOptions()); got != 3 {
		t.Errorf("StoreOptions() = %d options, want 3", got)
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}
