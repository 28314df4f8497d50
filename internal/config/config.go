package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvAPIKey is consulted when no API key is configured through the file or
// FLYERCAL_MODEL__API_KEY.
const EnvAPIKey = "GEMINI_API_KEY"

// ModelConfig describes the hosted multimodal model and the call policy.
type ModelConfig struct {
	// Name is the model identifier, e.g. "gemini-2.0-flash".
	Name string `yaml:"name" koanf:"name"`

	// APIKey is the static credential. It is never written by Save and
	// should be provided through the environment or a secret store.
	APIKey string `yaml:"api_key,omitempty" koanf:"api_key"`

	// TimeoutSeconds bounds a single model call attempt.
	TimeoutSeconds int `yaml:"timeout_seconds" koanf:"timeout_seconds"`

	// Attempts is the total number of tries per flyer (1 = no retry).
	Attempts int `yaml:"attempts" koanf:"attempts"`

	// BackoffMS is the pause between attempts, doubled after each failure.
	BackoffMS int `yaml:"backoff_ms" koanf:"backoff_ms"`
}

// Timeout returns TimeoutSeconds as a duration.
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// Backoff returns BackoffMS as a duration.
func (m ModelConfig) Backoff() time.Duration {
	return time.Duration(m.BackoffMS) * time.Millisecond
}

// RenderConfig controls PDF rasterization.
type RenderConfig struct {
	// DPI is the resolution for rendering the first PDF page.
	DPI int `yaml:"dpi" koanf:"dpi"`
}

// UploadConfig bounds what the HTTP service accepts.
type UploadConfig struct {
	// MaxBytes caps a single upload request body.
	MaxBytes int64 `yaml:"max_bytes" koanf:"max_bytes"`
	// MaxFiles caps the number of flyers in one request.
	MaxFiles int `yaml:"max_files" koanf:"max_files"`
}

// WatchConfig configures the inbox watcher.
type WatchConfig struct {
	Inbox  string `yaml:"inbox" koanf:"inbox"`
	Outbox string `yaml:"outbox" koanf:"outbox"`
	Done   string `yaml:"done" koanf:"done"`
	// Failed receives flyers whose model reply could not be parsed, so
	// they are not resent on every tick.
	Failed string `yaml:"failed" koanf:"failed"`
	// Cron is a standard 5-field cron schedule, e.g. "*/5 * * * *".
	Cron string `yaml:"cron" koanf:"cron"`
}

// PreviewConfig controls the optional event card PNG rendering.
type PreviewConfig struct {
	Enabled bool   `yaml:"enabled" koanf:"enabled"`
	Dir     string `yaml:"dir" koanf:"dir"`
	Width   int    `yaml:"width" koanf:"width"`
	Height  int    `yaml:"height" koanf:"height"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the upload UI and API.
	Listen string `yaml:"listen" koanf:"listen"`

	// Timezone is the IANA zone used for timestamps the model returns
	// without an offset (e.g. "America/New_York").
	Timezone string `yaml:"timezone" koanf:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" koanf:"log_level"`

	Model   ModelConfig   `yaml:"model" koanf:"model"`
	Render  RenderConfig  `yaml:"render" koanf:"render"`
	Upload  UploadConfig  `yaml:"upload" koanf:"upload"`
	Watch   WatchConfig   `yaml:"watch" koanf:"watch"`
	Preview PreviewConfig `yaml:"preview" koanf:"preview"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "Local",
		LogLevel: "info",
		Model: ModelConfig{
			Name:           "gemini-2.0-flash",
			TimeoutSeconds: 60,
			Attempts:       1,
			BackoffMS:      500,
		},
		Render: RenderConfig{DPI: 200},
		Upload: UploadConfig{
			MaxBytes: 20 << 20,
			MaxFiles: 10,
		},
		Watch: WatchConfig{
			Inbox:  "./var/inbox",
			Outbox: "./var/outbox",
			Done:   "./var/done",
			Failed: "./var/failed",
			Cron:   "*/5 * * * *",
		},
		Preview: PreviewConfig{
			Enabled: false,
			Dir:     "./var/preview",
			Width:   800,
			Height:  600,
		},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Model.Name == "" {
		c.Model.Name = d.Model.Name
	}
	if c.Model.TimeoutSeconds == 0 {
		c.Model.TimeoutSeconds = d.Model.TimeoutSeconds
	}
	if c.Model.Attempts == 0 {
		c.Model.Attempts = d.Model.Attempts
	}
	if c.Render.DPI == 0 {
		c.Render.DPI = d.Render.DPI
	}
	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = d.Upload.MaxBytes
	}
	if c.Upload.MaxFiles == 0 {
		c.Upload.MaxFiles = d.Upload.MaxFiles
	}
	if c.Watch.Cron == "" {
		c.Watch.Cron = d.Watch.Cron
	}
	if c.Watch.Failed == "" {
		c.Watch.Failed = d.Watch.Failed
	}
	if c.Preview.Width == 0 {
		c.Preview.Width = d.Preview.Width
	}
	if c.Preview.Height == 0 {
		c.Preview.Height = d.Preview.Height
	}
}

// Validate checks the configuration once at startup. Any failure is a
// *ConfigurationError and is fatal to the process.
func (c *Config) Validate() error {
	if c.Model.APIKey == "" {
		return &ConfigurationError{Field: "model.api_key", Reason: "missing credential; set FLYERCAL_MODEL__API_KEY or " + EnvAPIKey}
	}
	if c.Model.Name == "" {
		return &ConfigurationError{Field: "model.name", Reason: "must not be empty"}
	}
	if c.Model.TimeoutSeconds < 0 {
		return &ConfigurationError{Field: "model.timeout_seconds", Reason: "must not be negative"}
	}
	if c.Model.Attempts < 1 {
		return &ConfigurationError{Field: "model.attempts", Reason: "must be at least 1"}
	}
	if c.Model.BackoffMS < 0 {
		return &ConfigurationError{Field: "model.backoff_ms", Reason: "must not be negative"}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return &ConfigurationError{Field: "timezone", Reason: err.Error()}
	}
	if c.Render.DPI <= 0 {
		return &ConfigurationError{Field: "render.dpi", Reason: "must be positive"}
	}
	if c.Upload.MaxBytes <= 0 {
		return &ConfigurationError{Field: "upload.max_bytes", Reason: "must be positive"}
	}
	if c.Upload.MaxFiles <= 0 {
		return &ConfigurationError{Field: "upload.max_files", Reason: "must be positive"}
	}
	if _, err := cron.ParseStandard(c.Watch.Cron); err != nil {
		return &ConfigurationError{Field: "watch.cron", Reason: err.Error()}
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Redacted returns a copy that is safe to log.
func (c *Config) Redacted() Config {
	out := *c
	if out.Model.APIKey != "" {
		out.Model.APIKey = "***"
	}
	return out
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML without the API key.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	out := *cfg
	out.Normalize()
	out.Model.APIKey = ""

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".flyercal-config-*.tmp")
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

// Save writes c to path. See the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// ensureFile creates path with defaults on first run.
func ensureFile(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := Save(path, DefaultConfig()); err != nil {
		return fmt.Errorf("create default config: %w", err)
	}
	return nil
}
