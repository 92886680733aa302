package blob

import (
	"context"
	"fmt"

	"gallery/internal/models"
)

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg models.BlobConfig) (Store, error) {
	const op = "blob.Open"

	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case "local":
		var l *Local
		l, err = NewLocal(cfg.Local.Root)
		store = l
	case "s3":
		var s *S3
		s, err = NewS3FromConfig(ctx, cfg.S3)
		store = s
	case "gcs":
		var g *GCS
		g, err = NewGCS(ctx, cfg.GCS)
		store = g
	default:
		return nil, fmt.Errorf("%s: unknown driver %q", op, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
