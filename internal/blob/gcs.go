package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"gallery/internal/models"
)

// GCS stores blobs as objects in a Google Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	name   string
}

func NewGCS(ctx context.Context, cfg models.GCSConfig) (*GCS, error) {
	const op = "blob.NewGCS"

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &GCS{client: client, bucket: client.Bucket(cfg.Bucket), name: cfg.Bucket}, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	const op = "blob.GCS.Put"

	if err := ValidateName(name); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	w := g.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return (&url.URL{Scheme: "gs", Host: g.name, Path: "/" + name}).String(), nil
}

func (g *GCS) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	const op = "blob.GCS.Get"

	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	r, err := g.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %s: %w", op, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

func (g *GCS) Delete(ctx context.Context, name string) error {
	const op = "blob.GCS.Delete"

	if err := ValidateName(name); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	err := g.bucket.Object(name).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("%s: %s: %w", op, name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
