package operations

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kebairia/mariabak/internal/checkpoint"
	"github.com/kebairia/mariabak/internal/config"
	"github.com/kebairia/mariabak/internal/executor"
	"github.com/kebairia/mariabak/internal/logger"
	"github.com/kebairia/mariabak/internal/mount"
	"github.com/kebairia/mariabak/internal/runlock"
	"github.com/kebairia/mariabak/internal/server"
	"github.com/kebairia/mariabak/internal/vault"
)

// FlockLocker adapts the flock-based run lock to the Locker interface.
type FlockLocker struct {
	Path string
}

func (l FlockLocker) Acquire() (func() error, error) {
	handle, err := runlock.Acquire(l.Path)
	if err != nil {
		return nil, err
	}
	return handle.Release, nil
}

// binlogSource bridges the server checker into the executor's log-mode
// capture.
type binlogSource struct {
	checker *server.Checker
}

func (b binlogSource) FlushBinaryLogs(ctx context.Context) error {
	return b.checker.FlushBinaryLogs(ctx)
}

func (b binlogSource) BinaryLogs(ctx context.Context) ([]executor.BinaryLogFile, error) {
	logs, err := b.checker.BinaryLogs(ctx)
	if err != nil {
		return nil, err
	}
	files := make([]executor.BinaryLogFile, len(logs))
	for i, l := range logs {
		files[i] = executor.BinaryLogFile{Name: l.Name, Size: l.Size}
	}
	return files, nil
}

// NewController wires a production run: credentials (static or from
// Vault), checkpoint store, mount verifier, executor, server probes and
// the global lock.
func NewController(ctx context.Context, cfg config.Config, mode executor.Mode, targets []string, log logger.Logger) (*Controller, error) {
	username, password := cfg.Database.Username, cfg.Database.Password
	if cfg.Vault.Address != "" {
		vaultClient, err := vault.NewClient(ctx,
			vault.WithAddress(cfg.Vault.Address),
			vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.ApproleName),
		)
		if err != nil {
			return nil, fmt.Errorf("vault client init: %w", err)
		}
		creds, err := vaultClient.GetCredentials(ctx, cfg.Vault.CredsPath)
		if err != nil {
			return nil, fmt.Errorf("resolve database credentials: %w", err)
		}
		username, password = creds.Username, creds.Password
	}

	store, err := checkpoint.NewStore(filepath.Join(cfg.Backup.StateDir, "checkpoints"))
	if err != nil {
		return nil, err
	}

	exec := executor.NewMariaBackup(cfg, log, executor.WithCredentials(username, password))

	return &Controller{
		Cfg:         cfg,
		Mode:        mode,
		Targets:     targets,
		Lock:        FlockLocker{Path: LockPath(cfg.Backup.StateDir)},
		Mounter:     mount.NewVerifier(cfg.Backup.MountTimeout, log),
		Checkpoints: store,
		Exec:        exec,
		ConnectHealth: func(ctx context.Context) (Health, error) {
			checker, err := server.Connect(ctx, cfg.Database, username, password, log)
			if err != nil {
				return nil, err
			}
			exec.Source = binlogSource{checker: checker}
			return checker, nil
		},
		DepCheck: exec.CheckDependencies,
		Log:      log,
	}, nil
}
