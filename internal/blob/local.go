package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Local keeps blobs as files in a single directory.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	const op = "blob.NewLocal"

	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("%s: root is required", op)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := os.MkdirAll(filepath.Join(abs, ".tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Local{root: abs}, nil
}

// Put writes through a temp file and renames it into place, so readers never
// see a partially written blob.
func (l *Local) Put(ctx context.Context, name string, data []byte, _ string) (string, error) {
	const op = "blob.Local.Put"

	if err := ValidateName(name); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Join(l.root, ".tmp"), "put-*")
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	dst := filepath.Join(l.root, name)
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}).String(), nil
}

func (l *Local) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	const op = "blob.Local.Get"

	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(l.root, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %s: %w", op, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return f, nil
}

func (l *Local) Delete(ctx context.Context, name string) error {
	const op = "blob.Local.Delete"

	if err := ValidateName(name); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(l.root, name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %s: %w", op, name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
