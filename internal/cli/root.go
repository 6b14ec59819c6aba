// ABOUTME: Cobra root command and global flags
// ABOUTME: Loads configuration and configures logging for every subcommand
package cli

import (
	"fmt"
	"os"

	"github.com/Resonate-Protocol/timesync-go/internal/config"
	"github.com/Resonate-Protocol/timesync-go/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Debug      bool
	LogFile    string
	JSONLogs   bool
}

// NewRootCommand creates the root command for the timesync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "timesync",
		Short: "timesync - clock offset synchronization",
		Long: `Measure and maintain the offset between this host's clock and a
timesync server. Run "serve" on the reference host and "sync" on clients.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "also write logs to this file")
	cmd.PersistentFlags().BoolVar(&opts.JSONLogs, "json-logs", false, "log in JSON")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// load reads the config file and folds the global logging flags into it.
func (o *RootOptions) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Log.Debug = o.Debug
	}
	if flags.Changed("log-file") {
		cfg.Log.File = o.LogFile
	}
	if flags.Changed("json-logs") {
		cfg.Log.JSON = o.JSONLogs
	}
	return cfg, nil
}

// logger configures logging. quiet leaves only the file hook active.
func logger(cmd *cobra.Command, cfg config.Log, quiet bool) (*logrus.Logger, func() error, error) {
	return logging.Configure(logging.Options{
		Debug: cfg.Debug,
		JSON:  cfg.JSON,
		File:  cfg.File,
		Quiet: quiet,
		Out:   cmd.ErrOrStderr(),
	})
}

// addStoreFlags registers the store selection flags shared by several commands.
func addStoreFlags(cmd *cobra.Command, driver, path *string) {
	cmd.Flags().StringVar(driver, "store", "", "offset store driver (memory|bolt|sqlite)")
	cmd.Flags().StringVar(path, "store-path", "", "offset store file")
}

func applyStoreFlags(cmd *cobra.Command, cfg *config.Config, driver, path string) {
	if cmd.Flags().Changed("store") {
		cfg.Store.Driver = driver
	}
	if cmd.Flags().Changed("store-path") {
		cfg.Store.Path = path
	}
}

func defaultName(suffix string) string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%s", hostname, suffix)
}
