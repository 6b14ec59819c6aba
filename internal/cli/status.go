// ABOUTME: status command
// ABOUTME: Prints the stored offset and, for sqlite stores, recent history
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/timesync-go/internal/app"
	"github.com/Resonate-Protocol/timesync-go/internal/store"
	"github.com/spf13/cobra"
)

type statusOptions struct {
	limit       int
	storeDriver string
	storePath   string
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored offset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "history entries to show")
	addStoreFlags(cmd, &opts.storeDriver, &opts.storePath)

	return cmd
}

func runStatus(cmd *cobra.Command, rootOpts *RootOptions, opts *statusOptions) error {
	cfg, err := rootOpts.load(cmd)
	if err != nil {
		return err
	}
	applyStoreFlags(cmd, &cfg, opts.storeDriver, opts.storePath)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	offset, ok, err := s.LoadOffset(ctx)
	if err != nil {
		return fmt.Errorf("load offset: %w", err)
	}
	if !ok {
		fmt.Fprintln(out, "no offset stored")
		return nil
	}
	fmt.Fprintf(out, "offset: %+dµs\n", offset)

	if ts, ok := s.(interface {
		UpdatedAt(ctx context.Context) (time.Time, error)
	}); ok {
		at, err := ts.UpdatedAt(ctx)
		if err != nil {
			return err
		}
		if !at.IsZero() {
			fmt.Fprintf(out, "stored: %s\n", at.Format(time.RFC3339))
		}
	}

	hs, ok := s.(store.HistoryStore)
	if !ok || opts.limit <= 0 {
		return nil
	}
	records, err := hs.History(ctx, opts.limit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	fmt.Fprintln(out, "history:")
	for _, r := range records {
		fmt.Fprintf(out, "  %s  %+dµs\n", r.StoredAt.Format(time.RFC3339), r.Offset)
	}
	return nil
}
