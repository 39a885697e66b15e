package cmd

import (
	"fmt"

	"ephemeris-service/cache"

	"github.com/spf13/cobra"
)

func newPruneCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove expired positions from the cache",
		Long: `Delete cached positions whose time-to-live has passed.

Redis expires keys itself, so prune only acts on the memory and SQL backends.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			store, _, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			pruner, ok := store.(cache.Pruner)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "The %s cache expires entries itself; nothing to prune.\n", cfg.Cache.Driver)
				return nil
			}

			deleted, err := pruner.Prune(cmd.Context())
			if err != nil {
				return fmt.Errorf("pruning: %w", err)
			}
			if deleted == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to prune.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d expired position(s).\n", deleted)
			}
			return nil
		},
	}
}
