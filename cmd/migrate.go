package main

import (
	"github.com/spf13/cobra"

	"gallery/internal/storage"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply, roll back or inspect database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := storage.NewStorage(cmd.Context(), opts.cfg.DatabaseURL, false)
			if err != nil {
				return err
			}
			defer st.Close()
			return storage.Migrate(cmd.Context(), st.DB(), args[0])
		},
	}
}
