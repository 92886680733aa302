// Package blob stores image bytes by name. Every backend overwrites on Put
// and reports a missing object as ErrNotFound.
package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"gallery/internal/models"
)

var ErrNotFound = models.ErrNotFound

type Store interface {
	// Put writes data under name, replacing any existing object, and returns a
	// reference that NameFromRef maps back to name.
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
}

// ValidateName rejects names that could escape a bucket prefix or directory.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("blob name is required")
	case strings.HasPrefix(name, "/"), strings.Contains(name, "\\"):
		return fmt.Errorf("blob name %q must be relative", name)
	case strings.Contains(name, "/"):
		return fmt.Errorf("blob name %q must not contain a path", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("blob name %q must not start with a dot", name)
	}
	return nil
}

// NameFromRef returns the blob name a reference points at: the last path
// segment of file://, s3://, gs:// or http(s) references.
func NameFromRef(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(ref)
}
