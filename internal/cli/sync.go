// ABOUTME: sync command
// ABOUTME: Keeps the local offset fresh against a server, or syncs once
package cli

import (
	"fmt"
	"time"

	"github.com/Resonate-Protocol/timesync-go/internal/app"
	"github.com/spf13/cobra"
)

type syncOptions struct {
	server      string
	transport   string
	name        string
	interval    time.Duration
	rounds      int
	minSamples  int
	metricsAddr string
	tui         bool
	once        bool
	storeDriver string
	storePath   string
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &syncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Measure and store the offset to a server",
		Long: `Run sync sessions against a server and store the resulting offset.

Without --server the first server found over mDNS is used. With --once a
single session runs and its result is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.server, "server", "s", "", "server host:port (default: discover over mDNS)")
	cmd.Flags().StringVarP(&opts.transport, "transport", "t", "", "transport (ws|http|ntp)")
	cmd.Flags().StringVar(&opts.name, "name", "", "client name (default: hostname-timesync-client)")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "time between sessions")
	cmd.Flags().IntVar(&opts.rounds, "rounds", 0, "probes per session")
	cmd.Flags().IntVar(&opts.minSamples, "min-samples", 0, "valid probes required per session")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show the status TUI")
	cmd.Flags().BoolVar(&opts.once, "once", false, "run a single session and exit")
	addStoreFlags(cmd, &opts.storeDriver, &opts.storePath)

	return cmd
}

func runSync(cmd *cobra.Command, rootOpts *RootOptions, opts *syncOptions) error {
	cfg, err := rootOpts.load(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Client.Server = opts.server
	}
	if flags.Changed("transport") {
		cfg.Client.Transport = opts.transport
	}
	if flags.Changed("name") {
		cfg.Client.Name = opts.name
	}
	if flags.Changed("interval") {
		cfg.Client.Interval = opts.interval
	}
	if flags.Changed("rounds") {
		cfg.Sync.Rounds = opts.rounds
	}
	if flags.Changed("min-samples") {
		cfg.Sync.MinSamples = opts.minSamples
	}
	if flags.Changed("metrics-addr") {
		cfg.Client.MetricsAddr = opts.metricsAddr
	}
	if flags.Changed("tui") {
		cfg.Client.TUI = opts.tui
	}
	if opts.once {
		cfg.Client.TUI = false
	}
	applyStoreFlags(cmd, &cfg, opts.storeDriver, opts.storePath)
	if cfg.Client.Name == "" {
		cfg.Client.Name = defaultName("timesync-client")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closeLog, err := logger(cmd, cfg.Log, cfg.Client.TUI)
	if err != nil {
		return err
	}
	defer closeLog()

	runner := app.New(cfg, app.WithLogger(log))
	if !opts.once {
		return runner.Start(cmd.Context())
	}

	if err := runner.Connect(cmd.Context()); err != nil {
		runner.Stop()
		return err
	}
	defer runner.Stop()

	res, err := runner.SyncOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "offset:     %+dµs\n", res.Offset)
	fmt.Fprintf(out, "round trip: %dµs\n", res.RoundTrip)
	fmt.Fprintf(out, "samples:    %d/%d (%d malformed)\n", len(res.Samples), res.Rounds, res.Rejected)
	fmt.Fprintf(out, "server now: %s\n", time.UnixMicro(runner.ServerNow().Micros()).Format(time.RFC3339Nano))
	return nil
}
