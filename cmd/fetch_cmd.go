package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kebairia/mariabak/internal/config"
	"github.com/kebairia/mariabak/internal/errs"
	"github.com/kebairia/mariabak/internal/fetch"
	"github.com/kebairia/mariabak/internal/logger"
)

var (
	fetchWorkers   int
	fetchSplitMB   int
	fetchMaxTries  int
	fetchForce     bool
	fetchClean     bool
	fetchPublic    bool
	fetchRegion    string
	fetchEndpoint  string
	fetchPathStyle bool
)

// fetchCmd downloads a single object from S3-compatible storage in
// parallel byte-range parts. Useful for pulling an off-site copy of a
// backup archive back onto the host.
var fetchCmd = &cobra.Command{
	Use:   "fetch s3://BUCKET/KEY DEST",
	Short: "Download an object from S3-compatible storage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		if err := cfg.Load(ConfigFile); err != nil {
			return fmt.Errorf("%w: %w", errs.ErrArgument, err)
		}
		log, err := logger.Init(cfg.Backup.LogFile, Verbose)
		if err != nil {
			return err
		}

		opts := fetch.Options{
			Workers:        cfg.Fetch.Workers,
			PartSizeMB:     cfg.Fetch.PartSizeMB,
			MaxTries:       cfg.Fetch.MaxTries,
			Public:         cfg.Fetch.Public,
			Region:         cfg.Fetch.Region,
			Endpoint:       cfg.Fetch.Endpoint,
			ForcePathStyle: cfg.Fetch.ForcePathStyle,
			Force:          fetchForce,
			Clean:          fetchClean,
		}
		flags := cmd.Flags()
		if flags.Changed("num-workers") {
			opts.Workers = fetchWorkers
		}
		if flags.Changed("split") {
			opts.PartSizeMB = fetchSplitMB
		}
		if flags.Changed("max-tries") {
			opts.MaxTries = fetchMaxTries
		}
		if flags.Changed("public") {
			opts.Public = fetchPublic
		}
		if flags.Changed("region") {
			opts.Region = fetchRegion
		}
		if flags.Changed("endpoint") {
			opts.Endpoint = fetchEndpoint
		}
		if flags.Changed("force-path-style") {
			opts.ForcePathStyle = fetchPathStyle
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dl, err := fetch.NewDownloader(ctx, opts, log)
		if err != nil {
			return err
		}
		return dl.Download(ctx, args[0], args[1])
	},
}

func init() {
	fetchCmd.Flags().IntVarP(&fetchWorkers, "num-workers", "n", 0, "number of concurrent part downloads")
	fetchCmd.Flags().IntVarP(&fetchSplitMB, "split", "s", 0, "part size in MiB")
	fetchCmd.Flags().IntVar(&fetchMaxTries, "max-tries", 0, "attempts per part before giving up")
	fetchCmd.Flags().BoolVarP(&fetchForce, "force", "f", false, "overwrite an existing destination file")
	fetchCmd.Flags().BoolVar(&fetchClean, "clean", false, "remove the incomplete file if the download aborts")
	fetchCmd.Flags().BoolVar(&fetchPublic, "public", false, "use anonymous credentials (public buckets)")
	fetchCmd.Flags().StringVar(&fetchRegion, "region", "", "AWS region of the bucket")
	fetchCmd.Flags().StringVar(&fetchEndpoint, "endpoint", "", "custom S3 endpoint URL")
	fetchCmd.Flags().BoolVar(&fetchPathStyle, "force-path-style", false, "use path-style bucket addressing")
}
