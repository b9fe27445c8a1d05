package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kebairia/mariabak/internal/errs"
	"github.com/kebairia/mariabak/internal/logger"
)

var (
	// ConfigFile is the path to the YAML configuration.
	ConfigFile string
	// Verbose mirrors the run log to the console.
	Verbose bool

	// rootCmd is the base command for mariabak.
	rootCmd = &cobra.Command{
		Use:   "mariabak",
		Short: "Chain-aware MariaDB backup wrapper",
		Long: `mariabak wraps mariabackup with chain-aware lifecycle handling:
full/incremental/binlog capture onto a verified NFS mount, checkpoint
tracking for incremental bases, and dependency-safe retention pruning.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command and exits with the taxonomy code of
// whatever error surfaced.
func Execute() {
	err := rootCmd.Execute()
	logger.Cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(errs.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", "/etc/mariabak/config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().
		BoolVarP(&Verbose, "verbose", "v", false, "mirror the run log to the console")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(versionCmd)
}
