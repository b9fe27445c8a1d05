package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/mariabak/internal/errs"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoad_ParsesBackupSection(t *testing.T) {
	yaml := `
backup:
  mount_path: "/mnt/backups"
  share: "nas01:/export/backups"
  state_dir: "/var/lib/mariabak"
  log_file: "/var/log/mariabak.log"
  retention_days: 20
  mount_timeout: 45s
database:
  host: "db.example.com"
  username: "backup"
  targets: ["shop", "crm"]
`
	var cfg Config
	require.NoError(t, cfg.Load(writeConfig(t, yaml)))

	assert.Equal(t, "/mnt/backups", cfg.Backup.MountPath)
	assert.Equal(t, "nas01:/export/backups", cfg.Backup.Share)
	assert.Equal(t, 20, cfg.Backup.RetentionDays)
	assert.Equal(t, 45*time.Second, cfg.Backup.MountTimeout)
	assert.Equal(t, []string{"shop", "crm"}, cfg.Database.Targets)
	// defaults
	assert.Equal(t, "3306", cfg.Database.Port)
	assert.Equal(t, 4, cfg.Fetch.Workers)
}

func TestLoad_MissingFile(t *testing.T) {
	var cfg Config
	err := cfg.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrLoadConfig)
}

func TestValidate_BadShare(t *testing.T) {
	cfg := Config{
		Backup: BackupConfig{
			MountPath:    "/mnt/backups",
			Share:        "not-a-share",
			StateDir:     "/var/lib/mariabak",
			MountTimeout: time.Second,
		},
		Database: DatabaseConfig{Targets: []string{"shop"}},
	}
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrValidateConfig)
	assert.ErrorIs(t, err, errs.ErrArgument)
}

func TestValidate_RelativeMountPath(t *testing.T) {
	cfg := Config{
		Backup: BackupConfig{
			MountPath:    "mnt/backups",
			Share:        "nas01:/export",
			StateDir:     "/var/lib/mariabak",
			MountTimeout: time.Second,
		},
		Database: DatabaseConfig{Targets: []string{"shop"}},
	}
	assert.ErrorIs(t, cfg.Validate(), errs.ErrArgument)
}

func TestValidateShare(t *testing.T) {
	assert.NoError(t, ValidateShare("nas01:/export/backups"))
	assert.NoError(t, ValidateShare("10.0.0.5:/srv/nfs"))
	assert.Error(t, ValidateShare("nas01"))
	assert.Error(t, ValidateShare(":/export"))
	assert.Error(t, ValidateShare("nas01:export"))
}

func TestResolveTargets(t *testing.T) {
	cfg := Config{Database: DatabaseConfig{Targets: []string{"shop", "crm"}}}

	all, err := cfg.ResolveTargets("all")
	require.NoError(t, err)
	assert.Equal(t, []string{"shop", "crm"}, all)

	one, err := cfg.ResolveTargets("crm")
	require.NoError(t, err)
	assert.Equal(t, []string{"crm"}, one)

	_, err = cfg.ResolveTargets("nope")
	assert.ErrorIs(t, err, errs.ErrArgument)
}
