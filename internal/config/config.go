package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	appLog "evcal/internal/log"
)

// StorageConfig selects where the events blob lives.
type StorageConfig struct {
	// Backend is one of "file", "sqlite", "memory".
	Backend string `yaml:"backend" json:"backend"`
	// Path is a directory (file backend) or database file (sqlite).
	Path string `yaml:"path" json:"path"`
	// Key is the blob key holding the events array.
	Key string `yaml:"key" json:"key"`
}

// BackupConfig schedules copies of the events blob.
type BackupConfig struct {
	// Cron is a cron expression; empty disables backups.
	Cron string `yaml:"cron" json:"cron"`
	Dir  string `yaml:"dir" json:"dir"`
	// Keep is how many backup files survive pruning.
	Keep int `yaml:"keep" json:"keep"`
}

// CaptureConfig sizes the headless snapshot of /calendar.
type CaptureConfig struct {
	Width      int `yaml:"width" json:"width"`
	Height     int `yaml:"height" json:"height"`
	TimeoutSec int `yaml:"timeout_sec" json:"timeout_sec"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone deciding what "today" is and where event
	// days start. "Local" uses the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is the first grid column: "sunday" (default) or "monday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Storage StorageConfig `yaml:"storage" json:"storage"`
	Backup  BackupConfig  `yaml:"backup" json:"backup"`
	Capture CaptureConfig `yaml:"capture" json:"capture"`

	// ImportCacheDir holds cached bodies of imported ICS feeds.
	ImportCacheDir string `yaml:"import_cache_dir" json:"import_cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultFilePath   = "./var/data"
	defaultSQLitePath = "./var/evcal.db"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		Timezone:  "Local",
		WeekStart: "sunday",
		LogLevel:  "info",
		Storage: StorageConfig{
			Backend: "file",
			Path:    defaultFilePath,
			Key:     "calendar-events",
		},
		Backup: BackupConfig{
			Cron: "",
			Dir:  "./var/backup",
			Keep: 14,
		},
		Capture: CaptureConfig{
			Width:      1280,
			Height:     960,
			TimeoutSec: 30,
		},
		ImportCacheDir: "./var/ics-cache",
	}
}

// Normalize fills in missing/zero values so partially-filled files still
// behave.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = def.WeekStart
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	switch c.Storage.Backend {
	case "file", "sqlite", "memory":
	case "":
		c.Storage.Backend = def.Storage.Backend
	default:
		appLog.Warn("unknown storage backend; using file", "backend", c.Storage.Backend)
		c.Storage.Backend = def.Storage.Backend
	}
	// An unset path, or the other backend's default, follows the backend.
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.Path == "" || c.Storage.Path == defaultFilePath {
			c.Storage.Path = defaultSQLitePath
		}
	default:
		if c.Storage.Path == "" || c.Storage.Path == defaultSQLitePath {
			c.Storage.Path = defaultFilePath
		}
	}
	if c.Storage.Key == "" {
		c.Storage.Key = def.Storage.Key
	}

	if c.Backup.Dir == "" {
		c.Backup.Dir = def.Backup.Dir
	}
	if c.Backup.Keep <= 0 {
		c.Backup.Keep = def.Backup.Keep
	}

	if c.Capture.Width <= 0 {
		c.Capture.Width = def.Capture.Width
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = def.Capture.Height
	}
	if c.Capture.TimeoutSec <= 0 {
		c.Capture.TimeoutSec = def.Capture.TimeoutSec
	}
	if c.ImportCacheDir == "" {
		c.ImportCacheDir = def.ImportCacheDir
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", c.Timezone)
		return time.Local
	}
	return loc
}

// FirstWeekday maps WeekStart to a time.Weekday.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// envOverrides maps EVCAL_* variables onto config fields.
var envOverrides = map[string]func(c *Config, v string){
	"EVCAL_LISTEN":          func(c *Config, v string) { c.Listen = v },
	"EVCAL_TIMEZONE":        func(c *Config, v string) { c.Timezone = v },
	"EVCAL_WEEK_START":      func(c *Config, v string) { c.WeekStart = v },
	"EVCAL_LOG_LEVEL":       func(c *Config, v string) { c.LogLevel = v },
	"EVCAL_STORAGE_BACKEND": func(c *Config, v string) { c.Storage.Backend = v },
	"EVCAL_STORAGE_PATH":    func(c *Config, v string) { c.Storage.Path = v },
	"EVCAL_BACKUP_CRON":     func(c *Config, v string) { c.Backup.Cron = v },
}

// ApplyEnv loads envFile (if present; missing files are fine) and then
// overrides fields from EVCAL_* variables.
func (c *Config) ApplyEnv(envFile string) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			appLog.Warn("failed to load env file", "path", envFile, "err", err.Error())
		}
	}
	for name, apply := range envOverrides {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			apply(c, v)
			appLog.Debug("env override", "name", name)
		}
	}
	c.Normalize()
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (parent directories created) and returned.
//   - Otherwise the YAML is read and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			appLog.Info("wrote default config", "path", path)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".evcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
