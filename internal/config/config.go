// Package config loads the application configuration from YAML, with
// environment variable overrides for deployment settings.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dstephens/calwire/internal/attach"
)

// S3 holds attachment storage settings.
type S3 struct {
	Endpoint   string `yaml:"endpoint"`
	Bucket     string `yaml:"bucket"`
	Region     string `yaml:"region"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Passphrase string `yaml:"passphrase"`
}

// Config is the top-level application configuration.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Timezone is the IANA zone used for display and date math defaults.
	Timezone string `yaml:"timezone"`

	// CalendarID is the calendar imports land in unless overridden.
	CalendarID string `yaml:"calendar_id"`

	// S3, when a bucket is configured, enables the attachment store.
	S3 S3 `yaml:"s3"`
}

// Default returns the in-memory default configuration.
func Default() *Config {
	return &Config{
		DBPath:     "calwire.db",
		LogLevel:   "info",
		LogFormat:  "text",
		Timezone:   "UTC",
		CalendarID: "default",
	}
}

// Normalize fills missing values so partially filled configs still behave.
func (c *Config) Normalize() {
	d := Default()
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.CalendarID == "" {
		c.CalendarID = d.CalendarID
	}
}

// Load reads configuration from a YAML path. A missing file yields defaults.
// Environment variables override file values afterward.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// First run; defaults apply.
		case err != nil:
			return nil, err
		default:
			cfg = &Config{}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
			cfg.Normalize()
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CALWIRE_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("CALWIRE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CALWIRE_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("CALWIRE_TZ"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("CALWIRE_CALENDAR"); v != "" {
		c.CalendarID = v
	}
	if v := os.Getenv("CALWIRE_S3_ENDPOINT"); v != "" {
		c.S3.Endpoint = v
	}
	if v := os.Getenv("CALWIRE_S3_BUCKET"); v != "" {
		c.S3.Bucket = v
	}
	if v := os.Getenv("CALWIRE_S3_REGION"); v != "" {
		c.S3.Region = v
	}
	if v := os.Getenv("CALWIRE_S3_ACCESS_KEY"); v != "" {
		c.S3.AccessKey = v
	}
	if v := os.Getenv("CALWIRE_S3_SECRET_KEY"); v != "" {
		c.S3.SecretKey = v
	}
	if v := os.Getenv("CALWIRE_S3_PASSPHRASE"); v != "" {
		c.S3.Passphrase = v
	}
}

// Save writes the configuration atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
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

	tmp, err := os.CreateTemp(dir, ".calwire-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
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

// AttachmentsEnabled reports whether an attachment store is configured.
func (c *Config) AttachmentsEnabled() bool {
	return c.S3.Bucket != "" && c.S3.AccessKey != "" && c.S3.SecretKey != ""
}

// AttachStore builds the S3 attachment store from the configuration, or nil
// when attachments are not configured.
func (c *Config) AttachStore() attach.Store {
	if !c.AttachmentsEnabled() {
		return nil
	}
	return attach.NewS3Store(attach.S3Config{
		Endpoint:   c.S3.Endpoint,
		Bucket:     c.S3.Bucket,
		Region:     c.S3.Region,
		AccessKey:  c.S3.AccessKey,
		SecretKey:  c.S3.SecretKey,
		Passphrase: c.S3.Passphrase,
	})
}
