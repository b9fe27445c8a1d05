package mount

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/disk"

	"github.com/kebairia/mariabak/internal/errs"
	"github.com/kebairia/mariabak/internal/logger"
)

// State describes a verified mount point.
type State struct {
	Path           string
	ExpectedSource string
	ActualSource   string
	Mounted        bool
	Writable       bool
}

// PartitionLister returns the system mount table. Injected so tests can
// substitute a fake table for /proc/mounts.
type PartitionLister func() ([]disk.PartitionStat, error)

// CommandRunner executes a mount/umount invocation. Injected for tests.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Verifier ensures a local path is backed by the intended remote share
// and is writable before any backup touches it.
type Verifier struct {
	Partitions PartitionLister
	Run        CommandRunner
	// MountTimeout bounds the single mount attempt; there is no retry.
	MountTimeout time.Duration
	Log          logger.Logger
}

// NewVerifier returns a Verifier wired to the real mount table and the
// system mount/umount binaries.
func NewVerifier(mountTimeout time.Duration, log logger.Logger) *Verifier {
	return &Verifier{
		Partitions: func() ([]disk.PartitionStat, error) {
			return disk.Partitions(true)
		},
		Run: func(ctx context.Context, name string, args ...string) error {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Stderr = os.Stderr
			return cmd.Run()
		},
		MountTimeout: mountTimeout,
		Log:          log,
	}
}

// CanonicalShare normalizes a host:/path share string so that trailing
// separators never cause a spurious mismatch.
func CanonicalShare(share string) string {
	host, path, ok := strings.Cut(share, ":")
	if !ok {
		return share
	}
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		trimmed = "/"
	}
	return host + ":" + trimmed
}

// Ensure verifies that path is mounted from expectedShare and accepts
// writes. If the path is unmounted it attempts exactly one mount,
// bounded by MountTimeout. If the path is already mounted from a
// different share the verification fails hard; it never force-remounts
// over an existing, differently-sourced mount.
func (v *Verifier) Ensure(ctx context.Context, path, expectedShare string) (State, error) {
	state := State{Path: path, ExpectedSource: expectedShare}

	actual, mounted, err := v.lookup(path)
	if err != nil {
		return state, fmt.Errorf("%w: read mount table: %v", errs.ErrMount, err)
	}

	if !mounted {
		mountCtx, cancel := context.WithTimeout(ctx, v.MountTimeout)
		defer cancel()
		v.Log.Info("mounting share", "share", expectedShare, "path", path)
		if err := v.Run(mountCtx, "mount", "-t", "nfs", expectedShare, path); err != nil {
			if mountCtx.Err() != nil {
				return state, fmt.Errorf("%w: mount of %q timed out after %s",
					errs.ErrMount, expectedShare, v.MountTimeout)
			}
			return state, fmt.Errorf("%w: mount %q on %q: %v", errs.ErrMount, expectedShare, path, err)
		}
		actual, mounted, err = v.lookup(path)
		if err != nil {
			return state, fmt.Errorf("%w: re-read mount table: %v", errs.ErrMount, err)
		}
		if !mounted {
			return state, fmt.Errorf("%w: %q still not mounted after mount of %q",
				errs.ErrMount, path, expectedShare)
		}
	}

	state.Mounted = true
	state.ActualSource = actual
	if CanonicalShare(actual) != CanonicalShare(expectedShare) {
		return state, fmt.Errorf("%w: %q is mounted from %q, expected %q; refusing to remount",
			errs.ErrMount, path, actual, expectedShare)
	}

	if err := v.writeProbe(path); err != nil {
		return state, err
	}
	state.Writable = true
	return state, nil
}

// Unmount detaches path. force adds a lazy detach for shares with
// lingering handles.
func (v *Verifier) Unmount(ctx context.Context, path string, force bool) error {
	args := []string{path}
	if force {
		args = []string{"-l", path}
	}
	if err := v.Run(ctx, "umount", args...); err != nil {
		return fmt.Errorf("%w: umount %q: %v", errs.ErrUnmount, path, err)
	}
	return nil
}

// lookup finds path in the mount table and returns its source device.
func (v *Verifier) lookup(path string) (source string, mounted bool, err error) {
	parts, err := v.Partitions()
	if err != nil {
		return "", false, err
	}
	clean := filepath.Clean(path)
	for _, p := range parts {
		if filepath.Clean(p.Mountpoint) == clean {
			return p.Device, true, nil
		}
	}
	return "", false, nil
}

// writeProbe creates and deletes a uniquely named marker file. A share
// can mount fine and still deny writes, which is a distinct failure.
func (v *Verifier) writeProbe(path string) error {
	marker := filepath.Join(path,
		fmt.Sprintf(".mariabak_write_test_%d_%d", os.Getpid(), time.Now().UnixNano()))
	f, err := os.Create(marker)
	if err != nil {
		return fmt.Errorf("%w: create %q: %v", errs.ErrWriteTest, marker, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(marker)
		return fmt.Errorf("%w: close %q: %v", errs.ErrWriteTest, marker, err)
	}
	if err := os.Remove(marker); err != nil {
		return fmt.Errorf("%w: remove %q: %v", errs.ErrWriteTest, marker, err)
	}
	return nil
}
