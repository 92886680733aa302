package main

import (
	"github.com/spf13/cobra"
)

func newWorkerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the thumbnail processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSharedQueue(opts.cfg); err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.close()
			return a.processor().Run(cmd.Context())
		},
	}
}
