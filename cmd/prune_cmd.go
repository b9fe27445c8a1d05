package cmd

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kebairia/mariabak/internal/chain"
	"github.com/kebairia/mariabak/internal/checkpoint"
	"github.com/kebairia/mariabak/internal/config"
	"github.com/kebairia/mariabak/internal/errs"
	"github.com/kebairia/mariabak/internal/logger"
	"github.com/kebairia/mariabak/internal/mount"
	"github.com/kebairia/mariabak/internal/operations"
)

var (
	pruneTarget        string
	pruneRetentionDays int
)

// pruneCmd applies the retention policy without taking a new backup.
// It still takes the global run lock and verifies the mount: pruning
// mutates the chain state and the checkpoint.
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention policy to existing backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		if err := cfg.Load(ConfigFile); err != nil {
			return fmt.Errorf("%w: %w", errs.ErrArgument, err)
		}
		if cmd.Flags().Changed("retention-days") {
			cfg.Backup.RetentionDays = pruneRetentionDays
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log, err := logger.Init(cfg.Backup.LogFile, Verbose)
		if err != nil {
			return err
		}
		targets, err := cfg.ResolveTargets(pruneTarget)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		release, err := operations.FlockLocker{Path: operations.LockPath(cfg.Backup.StateDir)}.Acquire()
		if err != nil {
			return err
		}
		defer release()

		verifier := mount.NewVerifier(cfg.Backup.MountTimeout, log)
		if _, err := verifier.Ensure(ctx, cfg.Backup.MountPath, cfg.Backup.Share); err != nil {
			return err
		}

		store, err := checkpoint.NewStore(filepath.Join(cfg.Backup.StateDir, "checkpoints"))
		if err != nil {
			return err
		}
		pruner := &chain.Pruner{Checkpoints: store, Log: log}
		for _, target := range targets {
			res, err := pruner.Prune(
				filepath.Join(cfg.Backup.MountPath, target), target, cfg.Backup.RetentionDays)
			if err != nil {
				return fmt.Errorf("%w: prune %q: %v", errs.ErrChainStructure, target, err)
			}
			log.Info("prune completed",
				"target", target,
				"deleted", len(res.Deleted),
				"kept_chains", res.KeptChains,
				"kept_binlog_sets", res.KeptBinlogSets,
			)
		}
		return nil
	},
}

func init() {
	pruneCmd.Flags().StringVarP(&pruneTarget, "target", "t", "all", `database to prune, or "all"`)
	pruneCmd.Flags().IntVar(&pruneRetentionDays, "retention-days", 0, "retention window in days (overrides config)")
}
