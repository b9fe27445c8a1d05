package operations

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kebairia/mariabak/internal/chain"
	"github.com/kebairia/mariabak/internal/errs"
	"github.com/kebairia/mariabak/internal/executor"
)

// step couples a state with its action; the controller consumes the
// tagged result instead of terminating from nested logic.
type step struct {
	state State
	run   func(ctx context.Context) error
}

// Run drives one backup run through the state machine:
//
//	Init -> DependencyCheck -> ServerHealthCheck -> InputValidation ->
//	MountVerification -> CheckpointResolution (incremental only) ->
//	Execute -> CheckpointUpdate -> Prune -> Cleanup
//
// Any failing state reports its error and jumps to Cleanup; Cleanup
// always runs, success or not.
func (c *Controller) Run(ctx context.Context) (err error) {
	c.bases = make(map[string]string)
	c.outputs = make(map[string]string)

	// Init: take the global run lock. Non-blocking, so a concurrent
	// run fails here immediately without touching any state.
	c.Log.Info("run started", "mode", string(c.Mode), "targets", c.Targets)
	release, err := c.Lock.Acquire()
	if err != nil {
		c.report(StateInit, err)
		return err
	}
	defer func() {
		if relErr := release(); relErr != nil && err == nil {
			err = relErr
		}
	}()

	// Cleanup is a finalizer bound to the whole run, not per-state
	// retry logic. It runs on every path out of the loop below,
	// including interrupts surfacing as context errors from a step.
	defer func() {
		cleanupErr := c.cleanup()
		if err == nil {
			err = cleanupErr
		}
	}()

	steps := []step{
		{StateDependencyCheck, c.dependencyCheck},
		{StateServerHealthCheck, c.serverHealthCheck},
		{StateInputValidation, c.inputValidation},
		{StateMountVerification, c.mountVerification},
		{StateCheckpointResolution, c.checkpointResolution},
		{StateExecute, c.execute},
		{StateCheckpointUpdate, c.checkpointUpdate},
		{StatePrune, c.prune},
	}
	for _, s := range steps {
		c.Log.Debug("entering state", "state", string(s.state))
		if err := s.run(ctx); err != nil {
			c.report(s.state, err)
			return err
		}
	}

	c.Log.Info("run succeeded", "mode", string(c.Mode), "targets", c.Targets)
	return nil
}

// report logs the terminal failure with its exit code before Cleanup.
func (c *Controller) report(state State, err error) {
	c.Log.Error("run failed",
		"state", string(state),
		"exit_code", errs.ExitCode(err),
		"error", err.Error(),
	)
}

func (c *Controller) dependencyCheck(ctx context.Context) error {
	return c.DepCheck()
}

func (c *Controller) serverHealthCheck(ctx context.Context) error {
	health, err := c.ConnectHealth(ctx)
	if err != nil {
		return err
	}
	c.health = health
	for _, target := range c.Targets {
		if err := c.health.CheckAccess(ctx, target); err != nil {
			return err
		}
	}
	if c.Mode == executor.ModeLog {
		return c.health.CheckBinaryLogging(ctx)
	}
	return nil
}

func (c *Controller) inputValidation(ctx context.Context) error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("%w: no targets to back up", errs.ErrArgument)
	}
	return c.Cfg.Validate()
}

func (c *Controller) mountVerification(ctx context.Context) error {
	state, err := c.Mounter.Ensure(ctx, c.Cfg.Backup.MountPath, c.Cfg.Backup.Share)
	if err != nil {
		return err
	}
	c.verified = true
	c.Log.Info("mount verified",
		"path", state.Path,
		"source", state.ActualSource,
	)
	return nil
}

// checkpointResolution resolves every target's incremental base before
// any capture starts, so a broken chain aborts the run with no output
// directory produced.
func (c *Controller) checkpointResolution(ctx context.Context) error {
	if c.Mode != executor.ModeIncremental {
		return nil
	}
	for _, target := range c.Targets {
		base, err := c.Checkpoints.ResolveBase(target)
		if err != nil {
			return err
		}
		c.bases[target] = base
	}
	return nil
}

func (c *Controller) execute(ctx context.Context) error {
	for _, target := range c.Targets {
		started := c.now()
		var out string
		var err error
		switch c.Mode {
		case executor.ModeFull:
			out, err = c.Exec.Full(ctx, target)
		case executor.ModeIncremental:
			out, err = c.Exec.Incremental(ctx, target, c.bases[target])
		case executor.ModeLog:
			out, err = c.Exec.Binlog(ctx, target)
		default:
			return fmt.Errorf("%w: unknown mode %q", errs.ErrArgument, c.Mode)
		}
		if err != nil {
			// A partially written output directory is left in place.
			// It is not successful without a checkpoint update; the
			// pruner reclaims it once its chain ages out.
			return err
		}
		c.outputs[target] = out
		c.writeMetadata(target, out, started)
	}
	return nil
}

func (c *Controller) writeMetadata(target, out string, started time.Time) {
	record := Metadata{
		Target:      target,
		Mode:        string(c.Mode),
		Path:        out,
		Base:        c.bases[target],
		Status:      "success",
		StartedAt:   started,
		CompletedAt: c.now(),
	}
	record.DurationMS = record.CompletedAt.Sub(record.StartedAt).Milliseconds()
	if info, err := os.Stat(out); err == nil {
		record.SizeBytes = info.Size()
	}
	if err := record.Write(out); err != nil {
		c.Log.Warn("metadata write failed", "target", target, "error", err.Error())
	}
}

// checkpointUpdate persists the new chain head. Log-mode output is
// never a chain member and never touches the checkpoint.
func (c *Controller) checkpointUpdate(ctx context.Context) error {
	if c.Mode == executor.ModeLog {
		return nil
	}
	for _, target := range c.Targets {
		if err := c.Checkpoints.Set(target, c.outputs[target]); err != nil {
			return err
		}
		c.Log.Info("checkpoint updated", "target", target, "path", c.outputs[target])
	}
	return nil
}

func (c *Controller) prune(ctx context.Context) error {
	pruner := &chain.Pruner{
		Checkpoints: c.Checkpoints,
		Log:         c.Log,
		Now:         c.Now,
	}
	for _, target := range c.Targets {
		res, err := pruner.Prune(c.TargetDir(target), target, c.Cfg.Backup.RetentionDays)
		if err != nil {
			return fmt.Errorf("%w: prune %q: %v", errs.ErrChainStructure, target, err)
		}
		c.Log.Info("prune completed",
			"target", target,
			"deleted", len(res.Deleted),
			"kept_chains", res.KeptChains,
		)
	}
	return nil
}

// cleanup always runs: it copies the run log onto the share while it is
// still mounted, then unmounts only when explicitly requested. Both
// actions require a verified mount; a path mounted from the wrong
// share stays exactly as the run found it.
func (c *Controller) cleanup() error {
	c.Log.Debug("entering state", "state", string(StateCleanup))
	if c.health != nil {
		_ = c.health.Close()
	}
	if !c.verified {
		return nil
	}
	if c.Cfg.Backup.LogFile != "" {
		if err := copyFile(c.Cfg.Backup.LogFile,
			filepath.Join(c.Cfg.Backup.MountPath, filepath.Base(c.Cfg.Backup.LogFile))); err != nil {
			c.Log.Warn("run log copy failed", "error", err.Error())
		}
	}
	if c.Cfg.Backup.ForceUnmount {
		if err := c.Mounter.Unmount(context.Background(), c.Cfg.Backup.MountPath, true); err != nil {
			return err
		}
		c.Log.Info("unmounted", "path", c.Cfg.Backup.MountPath)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
