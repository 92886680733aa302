package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"gallery/internal/blob"
	"gallery/internal/models"
	"gallery/internal/queue"
	"gallery/internal/storage"
	"gallery/internal/worker"
)

// app holds the three external stores shared by the API and the worker.
type app struct {
	cfg   *models.Config
	log   *slog.Logger
	store *storage.Storage
	blobs blob.Store
	queue queue.Queue
}

func openApp(ctx context.Context, cfg *models.Config, log *slog.Logger) (*app, error) {
	log.Info("connecting to database")
	st, err := storage.NewStorage(ctx, cfg.DatabaseURL, *cfg.AutoMigrate)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		st.Close()
		return nil, err
	}

	q, err := queue.Open(cfg.Queue, st.Pool())
	if err != nil {
		closeBlobs(blobs)
		st.Close()
		return nil, err
	}

	log.Info("stores ready", "blob_driver", cfg.Blob.Driver, "queue_driver", cfg.Queue.Driver, "queue", cfg.Queue.Name)
	return &app{cfg: cfg, log: log, store: st, blobs: blobs, queue: q}, nil
}

func (a *app) processor() *worker.Processor {
	return worker.NewProcessor(a.store, a.blobs, a.queue, a.cfg.Worker, a.cfg.Thumbnail,
		a.log.With("component", "worker"))
}

func (a *app) close() {
	if err := a.queue.Close(); err != nil {
		a.log.Warn("close queue", "error", err)
	}
	closeBlobs(a.blobs)
	a.store.Close()
}

func closeBlobs(s blob.Store) {
	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}
}

func requireSharedQueue(cfg *models.Config) error {
	if cfg.Queue.Driver == "memory" {
		return fmt.Errorf("the memory queue only works in-process; use serve --worker or another queue driver")
	}
	return nil
}
