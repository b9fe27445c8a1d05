package operations

import (
	"context"
	"path/filepath"
	"time"

	"github.com/kebairia/mariabak/internal/config"
	"github.com/kebairia/mariabak/internal/executor"
	"github.com/kebairia/mariabak/internal/logger"
	"github.com/kebairia/mariabak/internal/mount"
)

// State names one step of a run. States are strictly sequential; a
// failing state jumps directly to Cleanup.
type State string

const (
	StateInit                 State = "Init"
	StateDependencyCheck      State = "DependencyCheck"
	StateServerHealthCheck    State = "ServerHealthCheck"
	StateInputValidation      State = "InputValidation"
	StateMountVerification    State = "MountVerification"
	StateCheckpointResolution State = "CheckpointResolution"
	StateExecute              State = "Execute"
	StateCheckpointUpdate     State = "CheckpointUpdate"
	StatePrune                State = "Prune"
	StateCleanup              State = "Cleanup"
)

// Mounter is the mount-state verifier the controller drives.
type Mounter interface {
	Ensure(ctx context.Context, path, expectedShare string) (mount.State, error)
	Unmount(ctx context.Context, path string, force bool) error
}

// CheckpointStore is the per-target pointer to the latest successful
// backup. Updated only on success, cleared only by the pruner.
type CheckpointStore interface {
	Get(target string) (string, error)
	ResolveBase(target string) (string, error)
	Set(target, path string) error
	Clear(target string) error
}

// Health runs the pre-backup server probes.
type Health interface {
	CheckAccess(ctx context.Context, target string) error
	CheckBinaryLogging(ctx context.Context) error
	Close() error
}

// Locker acquires the global run lock. Exactly one run may hold it
// system-wide; it is global rather than per-target, so runs against
// different databases still serialize.
type Locker interface {
	Acquire() (release func() error, err error)
}

// Controller sequences one run through the state machine. All
// collaborators are injected so tests can substitute fakes.
type Controller struct {
	Cfg     config.Config
	Mode    executor.Mode
	Targets []string

	Lock          Locker
	Mounter       Mounter
	Checkpoints   CheckpointStore
	Exec          executor.Executor
	ConnectHealth func(ctx context.Context) (Health, error)
	DepCheck      func() error
	Log           logger.Logger
	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time

	health Health
	// verified is set only when the mount was confirmed to be the
	// expected share and writable. A pre-existing mount from another
	// source is never touched, not even during cleanup.
	verified bool
	// bases maps target to the incremental base resolved before Execute.
	bases map[string]string
	// outputs maps target to the backup directory produced by Execute.
	outputs map[string]string
}

// LockPath is the well-known lock location under the state directory.
func LockPath(stateDir string) string {
	return filepath.Join(stateDir, "mariabak.lock")
}

// TargetDir is the per-target backup tree under the mount point.
func (c *Controller) TargetDir(target string) string {
	return filepath.Join(c.Cfg.Backup.MountPath, target)
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
