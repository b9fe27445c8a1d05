package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kebairia/mariabak/internal/errs"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// TimestampFormat is the layout used in backup directory names. It is
// lexicographically sortable, so string order equals chronological order.
const TimestampFormat = "2006-01-02_15-04-05"

// Config represents the top-level YAML configuration file.
type Config struct {
	Include  []string       `mapstructure:"include"  yaml:"include,omitempty"`
	Backup   BackupConfig   `mapstructure:"backup"   yaml:"backup"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Vault    VaultConfig    `mapstructure:"vault"    yaml:"vault"`
	Fetch    FetchConfig    `mapstructure:"fetch"    yaml:"fetch"`
}

// BackupConfig contains the run-level backup options.
type BackupConfig struct {
	// MountPath is the local directory the remote share is attached to.
	MountPath string `mapstructure:"mount_path" yaml:"mount_path"`
	// Share is the remote share in host:/path form.
	Share string `mapstructure:"share" yaml:"share"`
	// StateDir holds the lock file and per-target checkpoint files.
	StateDir      string        `mapstructure:"state_dir"      yaml:"state_dir"`
	LogFile       string        `mapstructure:"log_file"       yaml:"log_file"`
	RetentionDays int           `mapstructure:"retention_days" yaml:"retention_days"`
	MountTimeout  time.Duration `mapstructure:"mount_timeout"  yaml:"mount_timeout"`
	ForceUnmount  bool          `mapstructure:"force_unmount"  yaml:"force_unmount"`
}

// DatabaseConfig holds connection settings for the MariaDB server.
type DatabaseConfig struct {
	Host     string        `mapstructure:"host"     yaml:"host"`
	Port     string        `mapstructure:"port"     yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password,omitempty"`
	DataDir  string        `mapstructure:"datadir"  yaml:"datadir"`
	Timeout  time.Duration `mapstructure:"timeout"  yaml:"timeout"`
	// Targets lists the databases covered by "all".
	Targets []string `mapstructure:"targets" yaml:"targets"`
}

// VaultConfig holds connection settings for HashiCorp Vault. When
// Address is set, database credentials are resolved from Vault instead
// of the static username/password above.
type VaultConfig struct {
	Address     string `mapstructure:"address"      yaml:"address,omitempty"`
	RoleID      string `mapstructure:"role_id"      yaml:"role_id,omitempty"`
	ApproleName string `mapstructure:"approle_name" yaml:"approle_name,omitempty"`
	CredsPath   string `mapstructure:"creds_path"   yaml:"creds_path,omitempty"`
}

// FetchConfig holds defaults for the S3 fetch subcommand.
type FetchConfig struct {
	Region         string `mapstructure:"region"           yaml:"region,omitempty"`
	Endpoint       string `mapstructure:"endpoint"         yaml:"endpoint,omitempty"`
	Workers        int    `mapstructure:"workers"          yaml:"workers,omitempty"`
	PartSizeMB     int    `mapstructure:"part_size_mb"     yaml:"part_size_mb,omitempty"`
	MaxTries       int    `mapstructure:"max_tries"        yaml:"max_tries,omitempty"`
	Public         bool   `mapstructure:"public"           yaml:"public,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, and unmarshals into the Config struct.
func (c *Config) Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("backup.mount_timeout", 30*time.Second)
	v.SetDefault("backup.retention_days", 30)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "3306")
	v.SetDefault("database.timeout", 4*time.Hour)
	v.SetDefault("fetch.workers", 4)
	v.SetDefault("fetch.part_size_mb", 64)
	v.SetDefault("fetch.max_tries", 5)

	// Read base configuration
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
	}

	// Merge include files (if any)
	for _, inc := range v.GetStringSlice("include") {
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
		}
	}

	// Unmarshal into the Config struct
	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	return nil
}

// Validate checks the invariants the run controller relies on. Every
// violation maps to an argument error in the exit-code namespace.
func (c *Config) Validate() error {
	if c.Backup.MountPath == "" || !filepath.IsAbs(c.Backup.MountPath) {
		return fmt.Errorf("%w: %w: backup.mount_path must be an absolute path, got %q",
			ErrValidateConfig, errs.ErrArgument, c.Backup.MountPath)
	}
	if err := ValidateShare(c.Backup.Share); err != nil {
		return fmt.Errorf("%w: %w", ErrValidateConfig, err)
	}
	if c.Backup.StateDir == "" {
		return fmt.Errorf("%w: %w: backup.state_dir is required",
			ErrValidateConfig, errs.ErrArgument)
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("%w: %w: backup.retention_days must not be negative, got %d",
			ErrValidateConfig, errs.ErrArgument, c.Backup.RetentionDays)
	}
	if c.Backup.MountTimeout <= 0 {
		return fmt.Errorf("%w: %w: backup.mount_timeout must be positive",
			ErrValidateConfig, errs.ErrArgument)
	}
	if len(c.Database.Targets) == 0 {
		return fmt.Errorf("%w: %w: database.targets must list at least one database",
			ErrValidateConfig, errs.ErrArgument)
	}
	return nil
}

// ValidateShare checks the host:/path remote share form.
func ValidateShare(share string) error {
	host, path, ok := strings.Cut(share, ":")
	if !ok || host == "" || !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: share must be in host:/path form, got %q",
			errs.ErrArgument, share)
	}
	return nil
}

// ResolveTargets expands the CLI target argument: "all" means every
// configured target, anything else must be one of them.
func (c *Config) ResolveTargets(target string) ([]string, error) {
	if target == "all" {
		return c.Database.Targets, nil
	}
	for _, t := range c.Database.Targets {
		if t == target {
			return []string{target}, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown target %q (configured: %s)",
		errs.ErrArgument, target, strings.Join(c.Database.Targets, ", "))
}
