package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for the backup tool
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Backup  BackupConfig  `yaml:"backup"`
	Restore RestoreConfig `yaml:"restore"`
	Deploy  DeployConfig  `yaml:"deploy"`
	WSL     WSLConfig     `yaml:"wsl"`
	Slack   SlackConfig   `yaml:"slack"`
}

// StoreConfig holds metadata store and artifact locations
type StoreConfig struct {
	// DataDir is the root directory for backup artifacts, packages,
	// the metadata document, and the operation history database.
	DataDir string `yaml:"data_dir"`
	// MetadataFile overrides the metadata document path (default: <data_dir>/backups.json)
	MetadataFile string `yaml:"metadata_file"`
}

// BackupConfig holds snapshot engine settings
type BackupConfig struct {
	// MaxChangedFiles caps incremental change enumeration; a changed set larger
	// than this is truncated to the newest MaxChangedFiles paths.
	MaxChangedFiles int `yaml:"max_changed_files"`
	// IncrementalRoots are the in-environment directories scanned for changes
	IncrementalRoots []string `yaml:"incremental_roots"`
}

// RestoreConfig holds restore orchestrator settings
type RestoreConfig struct {
	// ImportTimeoutSecs bounds a single import operation, in seconds
	ImportTimeoutSecs int `yaml:"import_timeout_secs"`
	// PollIntervalSecs is how often import progress is reported while waiting
	PollIntervalSecs int `yaml:"poll_interval_secs"`
	// InstallDir is where imported distributions are placed (per-target subdirectory)
	InstallDir string `yaml:"install_dir"`
}

// ImportTimeout returns the import timeout as a duration
func (r *RestoreConfig) ImportTimeout() time.Duration {
	return time.Duration(r.ImportTimeoutSecs) * time.Second
}

// PollInterval returns the progress polling interval as a duration
func (r *RestoreConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalSecs) * time.Second
}

// DeployConfig holds batch deployment settings
type DeployConfig struct {
	// MaxConcurrency is the worker pool size for fan-out deployments
	MaxConcurrency int `yaml:"max_concurrency"`
}

// WSLConfig holds settings for the WSL command-line interface
type WSLConfig struct {
	// Binary is the WSL executable invoked for export/import/exec/unregister
	Binary string `yaml:"binary"`
	// Version reported in migration package manifests when detection fails
	DefaultVersion string `yaml:"default_version"`
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses configuration from YAML bytes
func LoadBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with all defaults applied, used when no
// config file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// DefaultDataDir returns the default data directory (~/.wsl-backup)
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".wsl-backup"), nil
}

func (c *Config) applyDefaults() {
	if c.Store.DataDir == "" {
		if dir, err := DefaultDataDir(); err == nil {
			c.Store.DataDir = dir
		} else {
			c.Store.DataDir = ".wsl-backup"
		}
	}
	c.Store.DataDir = expandTilde(c.Store.DataDir)

	if c.Store.MetadataFile == "" {
		c.Store.MetadataFile = filepath.Join(c.Store.DataDir, "backups.json")
	}
	c.Store.MetadataFile = expandTilde(c.Store.MetadataFile)

	if c.Backup.MaxChangedFiles <= 0 {
		c.Backup.MaxChangedFiles = 10000
	}
	if len(c.Backup.IncrementalRoots) == 0 {
		c.Backup.IncrementalRoots = []string{"/etc", "/home", "/root", "/opt", "/srv", "/usr/local", "/var/www"}
	}

	if c.Restore.ImportTimeoutSecs <= 0 {
		c.Restore.ImportTimeoutSecs = 1800
	}
	if c.Restore.PollIntervalSecs <= 0 {
		c.Restore.PollIntervalSecs = 5
	}
	if c.Restore.InstallDir == "" {
		c.Restore.InstallDir = filepath.Join(c.Store.DataDir, "distros")
	}
	c.Restore.InstallDir = expandTilde(c.Restore.InstallDir)

	if c.Deploy.MaxConcurrency <= 0 {
		c.Deploy.MaxConcurrency = 4
	}

	if c.WSL.Binary == "" {
		c.WSL.Binary = "wsl.exe"
	}
	if c.WSL.DefaultVersion == "" {
		c.WSL.DefaultVersion = "2"
	}

	if c.Slack.Username == "" {
		c.Slack.Username = "wsl-backup"
	}
}

func (c *Config) validate() error {
	if c.Deploy.MaxConcurrency > 64 {
		return fmt.Errorf("invalid value for deploy.max_concurrency: %d (max 64)", c.Deploy.MaxConcurrency)
	}
	if c.Restore.PollIntervalSecs > c.Restore.ImportTimeoutSecs {
		return fmt.Errorf("restore.poll_interval_secs %d exceeds restore.import_timeout_secs %d",
			c.Restore.PollIntervalSecs, c.Restore.ImportTimeoutSecs)
	}
	if c.Slack.Enabled && c.Slack.WebhookURL == "" {
		return fmt.Errorf("missing required slack.webhook_url (slack.enabled is true)")
	}
	return nil
}

// BackupDir returns the directory where backup artifacts are written
func (c *Config) BackupDir() string {
	return filepath.Join(c.Store.DataDir, "backups")
}

// PackageDir returns the directory where migration packages are written
func (c *Config) PackageDir() string {
	return filepath.Join(c.Store.DataDir, "packages")
}
