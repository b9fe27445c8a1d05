package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/kebairia/mariabak/internal/config"
	"github.com/kebairia/mariabak/internal/errs"
	"github.com/kebairia/mariabak/internal/logger"
)

// Mode selects what a run captures.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "inc"
	ModeLog         Mode = "log"
)

// ParseMode validates the CLI mode flag.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeIncremental, ModeLog:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: mode must be full, inc or log, got %q", errs.ErrArgument, s)
	}
}

// Executor is the boundary to the actual capture tool. On success it
// returns the path of the produced backup directory.
type Executor interface {
	Full(ctx context.Context, target string) (string, error)
	Incremental(ctx context.Context, target, baseDir string) (string, error)
	Binlog(ctx context.Context, target string) (string, error)
}

// BinlogSource is the SQL side of log-mode capture.
type BinlogSource interface {
	FlushBinaryLogs(ctx context.Context) error
	BinaryLogs(ctx context.Context) ([]BinaryLogFile, error)
}

// BinaryLogFile names one closed binary log on the server.
type BinaryLogFile struct {
	Name string
	Size int64
}

// MariaBackup shells out to mariabackup for physical full and
// incremental backups and copies server binlogs for log mode.
type MariaBackup struct {
	Host      string
	Port      string
	Username  string
	Password  string
	DataDir   string
	MountPath string
	Binary    string
	Timeout   time.Duration
	Source    BinlogSource
	Logger    logger.Logger
	Now       func() time.Time
}

// Option overrides default settings on a MariaBackup.
type Option func(*MariaBackup)

// NewMariaBackup returns an executor configured from cfg plus overrides.
func NewMariaBackup(cfg config.Config, log logger.Logger, opts ...Option) *MariaBackup {
	m := &MariaBackup{
		Host:      cfg.Database.Host,
		Port:      cfg.Database.Port,
		Username:  cfg.Database.Username,
		Password:  cfg.Database.Password,
		DataDir:   cfg.Database.DataDir,
		MountPath: cfg.Backup.MountPath,
		Timeout:   cfg.Database.Timeout,
		Logger:    log,
		Now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithCredentials sets username and password.
func WithCredentials(user, pass string) Option {
	return func(m *MariaBackup) {
		if user != "" {
			m.Username = user
		}
		if pass != "" {
			m.Password = pass
		}
	}
}

// WithBinary overrides the resolved mariabackup binary path.
func WithBinary(path string) Option {
	return func(m *MariaBackup) {
		if path != "" {
			m.Binary = path
		}
	}
}

// WithBinlogSource wires the SQL side used by log mode.
func WithBinlogSource(src BinlogSource) Option {
	return func(m *MariaBackup) { m.Source = src }
}

// TargetDir is the per-target backup tree under the mount point.
func (m *MariaBackup) TargetDir(target string) string {
	return filepath.Join(m.MountPath, target)
}

// Full captures a full physical backup into full_<timestamp>.
func (m *MariaBackup) Full(ctx context.Context, target string) (string, error) {
	outDir := filepath.Join(m.TargetDir(target),
		"full_"+m.Now().Format(config.TimestampFormat))
	if err := m.runBackup(ctx, target, outDir, ""); err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrExecutionFull, err)
	}
	return outDir, nil
}

// Incremental captures the delta since baseDir into inc_<timestamp>.
func (m *MariaBackup) Incremental(ctx context.Context, target, baseDir string) (string, error) {
	outDir := filepath.Join(m.TargetDir(target),
		"inc_"+m.Now().Format(config.TimestampFormat))
	if err := m.runBackup(ctx, target, outDir, baseDir); err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrExecutionInc, err)
	}
	return outDir, nil
}

func (m *MariaBackup) runBackup(ctx context.Context, target, outDir, baseDir string) error {
	binary, err := m.resolveBinary()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.TargetDir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir %q: %w", m.TargetDir(target), err)
	}

	args := []string{
		"--backup",
		"--target-dir=" + outDir,
		"--databases=" + target,
		"--host=" + m.Host,
		"--port=" + m.Port,
		"--user=" + m.Username,
	}
	if baseDir != "" {
		args = append(args, "--incremental-basedir="+baseDir)
	}

	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, args...)
	// Pass MYSQL_PWD for non-interactive auth
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+m.Password)
	cmd.Stderr = os.Stderr

	m.Logger.Info("backup started",
		"target", target,
		"tool", filepath.Base(binary),
		"path", outDir,
		"base", baseDir,
	)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", filepath.Base(binary), err)
	}
	m.Logger.Info("backup completed", "target", target, "duration", time.Since(start).String())
	return nil
}

// resolveBinary locates the backup tool, preferring the MariaDB names.
func (m *MariaBackup) resolveBinary() (string, error) {
	if m.Binary != "" {
		return m.Binary, nil
	}
	for _, name := range []string{"mariabackup", "mariadb-backup", "xtrabackup"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: neither mariabackup nor xtrabackup found in PATH", errs.ErrDependencyMissing)
}

// CheckDependencies verifies every external binary a run may shell out
// to is present before any state is touched.
func (m *MariaBackup) CheckDependencies() error {
	if _, err := m.resolveBinary(); err != nil {
		return err
	}
	for _, name := range []string{"mount", "umount"} {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%w: %s not found in PATH", errs.ErrDependencyMissing, name)
		}
	}
	return nil
}
