// ABOUTME: serve command
// ABOUTME: Runs an authority or relay probe server
package cli

import (
	"github.com/Resonate-Protocol/timesync-go/internal/app"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	port              int
	name              string
	upstream          string
	upstreamTransport string
	referenceNTP      string
	noMDNS            bool
	tui               bool
	storeDriver       string
	storePath         string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer time probes from clients",
		Long: `Serve time probes over WebSocket (/timesync) and HTTP (/timesync/probe).

Without --upstream the server is an authority and stamps replies with its own
clock. With --upstream it relays: replies are stamped with the local clock
corrected by the offset measured against the upstream server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "listen port")
	cmd.Flags().StringVar(&opts.name, "name", "", "server name (default: hostname-timesync)")
	cmd.Flags().StringVar(&opts.upstream, "upstream", "", "relay the server at host:port")
	cmd.Flags().StringVar(&opts.upstreamTransport, "upstream-transport", "", "upstream transport (ws|http|ntp)")
	cmd.Flags().StringVar(&opts.referenceNTP, "reference-ntp", "", "stamp replies with a clock disciplined by this NTP host")
	cmd.Flags().BoolVar(&opts.noMDNS, "no-mdns", false, "do not advertise over mDNS")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show the status TUI")
	addStoreFlags(cmd, &opts.storeDriver, &opts.storePath)

	return cmd
}

func runServe(cmd *cobra.Command, rootOpts *RootOptions, opts *serveOptions) error {
	cfg, err := rootOpts.load(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("name") {
		cfg.Server.Name = opts.name
	}
	if flags.Changed("upstream") {
		cfg.Server.Upstream = opts.upstream
	}
	if flags.Changed("upstream-transport") {
		cfg.Server.UpstreamTransport = opts.upstreamTransport
	}
	if flags.Changed("reference-ntp") {
		cfg.Server.ReferenceNTP = opts.referenceNTP
	}
	if opts.noMDNS {
		cfg.Server.MDNS = false
	}
	if flags.Changed("tui") {
		cfg.Server.TUI = opts.tui
	}
	applyStoreFlags(cmd, &cfg, opts.storeDriver, opts.storePath)
	if cfg.Server.Name == "" {
		cfg.Server.Name = defaultName("timesync")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closeLog, err := logger(cmd, cfg.Log, cfg.Server.TUI)
	if err != nil {
		return err
	}
	defer closeLog()

	return app.Serve(cmd.Context(), cfg, log)
}
