package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"gallery/internal/gallery"
	"gallery/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if !withWorker {
				if err := requireSharedQueue(opts.cfg); err != nil {
					return err
				}
			}

			a, err := openApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.close()

			svc := gallery.NewService(a.store, a.blobs, a.queue, opts.cfg.MaxUploadBytes, opts.log.With("component", "gallery"))
			srv := server.NewServer(opts.cfg.ServerAddr, opts.cfg.MaxUploadBytes, svc, a.store, a.store, a.store,
				opts.log.With("component", "http"))

			workerDone := make(chan error, 1)
			if withWorker {
				go func() { workerDone <- a.processor().Run(ctx) }()
			} else {
				workerDone <- nil
			}

			serveErr := make(chan error, 1)
			go func() { serveErr <- srv.Start() }()

			select {
			case err = <-serveErr:
			case <-ctx.Done():
				opts.log.Info("shutting down")
				shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				err = srv.Stop(shutdownCtx)
				stop()
			}
			cancel()
			return errors.Join(err, <-workerDone)
		},
	}

	cmd.Flags().BoolVar(&withWorker, "worker", false, "also run the thumbnail processor in this process")
	return cmd
}
