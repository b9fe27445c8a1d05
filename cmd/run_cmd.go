package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kebairia/mariabak/internal/config"
	"github.com/kebairia/mariabak/internal/errs"
	"github.com/kebairia/mariabak/internal/executor"
	"github.com/kebairia/mariabak/internal/logger"
	"github.com/kebairia/mariabak/internal/operations"
)

var (
	runTarget        string
	runMode          string
	runMountPath     string
	runShare         string
	runRetentionDays int
	runForceUnmount  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one backup (full, inc or log) for a target or all",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		if err := cfg.Load(ConfigFile); err != nil {
			return fmt.Errorf("%w: %w", errs.ErrArgument, err)
		}
		// Flags override the file where given.
		if cmd.Flags().Changed("mount") {
			cfg.Backup.MountPath = runMountPath
		}
		if cmd.Flags().Changed("share") {
			cfg.Backup.Share = runShare
		}
		if cmd.Flags().Changed("retention-days") {
			cfg.Backup.RetentionDays = runRetentionDays
		}
		if runForceUnmount {
			cfg.Backup.ForceUnmount = true
		}

		log, err := logger.Init(cfg.Backup.LogFile, Verbose)
		if err != nil {
			return err
		}

		mode, err := executor.ParseMode(runMode)
		if err != nil {
			return err
		}
		targets, err := cfg.ResolveTargets(runTarget)
		if err != nil {
			return err
		}

		// An interrupt cancels the context; the controller's cleanup
		// finalizer still runs before exit.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		controller, err := operations.NewController(ctx, cfg, mode, targets, log)
		if err != nil {
			return err
		}
		return controller.Run(ctx)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runTarget, "target", "t", "", `database to back up, or "all"`)
	runCmd.Flags().StringVarP(&runMode, "mode", "m", "full", "backup mode: full, inc or log")
	runCmd.Flags().StringVar(&runMountPath, "mount", "", "local mount path (overrides config)")
	runCmd.Flags().StringVar(&runShare, "share", "", "remote share in host:/path form (overrides config)")
	runCmd.Flags().IntVar(&runRetentionDays, "retention-days", 0, "retention window in days (overrides config)")
	runCmd.Flags().BoolVar(&runForceUnmount, "force-unmount", false, "unmount the share after the run")
	_ = runCmd.MarkFlagRequired("target")
}
