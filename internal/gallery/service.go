// Package gallery holds the upload, read and delete operations of the image
// gallery. Thumbnails are produced asynchronously by the worker package from
// the messages enqueued here.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"gallery/internal/blob"
	"gallery/internal/models"
	"gallery/internal/thumbnail"
)

type Repository interface {
	InsertImage(ctx context.Context, img *models.Image) error
	GetImage(ctx context.Context, id int64) (*models.Image, error)
	ListImages(ctx context.Context) ([]*models.Image, error)
	DeleteImage(ctx context.Context, id int64) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, body []byte) error
}

type Service struct {
	repo     Repository
	blobs    blob.Store
	queue    Enqueuer
	maxBytes int64
	log      *slog.Logger
}

func NewService(repo Repository, blobs blob.Store, queue Enqueuer, maxBytes int64, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, blobs: blobs, queue: queue, maxBytes: maxBytes, log: log}
}

type UploadInput struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Upload stores the original, records it as unprocessed and enqueues one
// thumbnail request. Completed steps are not rolled back when a later one
// fails.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*models.Image, error) {
	const op = "gallery.Upload"

	if len(in.Data) == 0 {
		return nil, models.NewValidationError("No file uploaded")
	}
	if !strings.HasPrefix(strings.ToLower(in.ContentType), "image/") {
		return nil, models.NewValidationError("File must be an image")
	}
	if len(in.ContentType) > models.MaxContentTypeLength {
		return nil, models.NewValidationError("Content type too long")
	}
	if s.maxBytes > 0 && int64(len(in.Data)) > s.maxBytes {
		return nil, models.NewValidationError(fmt.Sprintf("File larger than %d bytes", s.maxBytes))
	}
	fileName := path.Base(strings.ReplaceAll(in.FileName, `\`, "/"))
	if fileName == "." || fileName == "/" {
		fileName = ""
	}
	if len(fileName) > models.MaxFileNameLength {
		return nil, models.NewValidationError("File name too long")
	}
	if fileName == "" {
		fileName = "image"
	}

	blobName := uuid.NewString() + "-" + SanitizeName(fileName)
	ref, err := s.blobs.Put(ctx, blobName, in.Data, in.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%s: store blob: %w", op, err)
	}

	img := &models.Image{
		FileName:    fileName,
		ContentType: in.ContentType,
		Size:        int64(len(in.Data)),
		BlobURL:     ref,
	}
	if err := s.repo.InsertImage(ctx, img); err != nil {
		return nil, fmt.Errorf("%s: insert record: %w", op, err)
	}

	body, err := models.EncodeThumbnailMessage(models.ThumbnailMessage{ImageID: img.ID, BlobName: blobName})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.queue.Enqueue(ctx, body); err != nil {
		return nil, fmt.Errorf("%s: enqueue image %d: %w", op, img.ID, err)
	}

	s.log.Info("image uploaded", "image_id", img.ID, "file_name", img.FileName, "size", img.Size)
	return img, nil
}

// maxSanitizedBytes bounds the blob-name suffix. With the uuid and the
// thumbnail prefix the name stays under the 255-byte file name limit, and a
// fully percent-escaped ref stays under models.MaxURLLength.
const maxSanitizedBytes = 200

// SanitizeName turns a client file name into a blob-name suffix: path
// separators and control characters are replaced and leading dots dropped.
// Long names keep their last maxSanitizedBytes bytes.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case strings.ContainsRune(`/\%?#`, r) || unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if len(out) > maxSanitizedBytes {
		// Keep the tail so the extension survives, starting on a rune boundary.
		cut := len(out) - maxSanitizedBytes
		for cut < len(out) && !utf8.RuneStart(out[cut]) {
			cut++
		}
		out = strings.TrimLeft(out[cut:], ".")
	}
	if out == "" {
		return "image"
	}
	return out
}

func (s *Service) List(ctx context.Context) ([]*models.Image, error) {
	return s.repo.ListImages(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Image, error) {
	return s.repo.GetImage(ctx, id)
}

// OpenOriginal returns the uploaded bytes. The caller closes the reader.
func (s *Service) OpenOriginal(ctx context.Context, id int64) (io.ReadCloser, *models.Image, error) {
	const op = "gallery.OpenOriginal"

	img, err := s.repo.GetImage(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Get(ctx, blob.NameFromRef(img.BlobURL))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: image %d: %w", op, id, err)
	}
	return rc, img, nil
}

// OpenThumbnail returns the JPEG thumbnail, or ErrNotFound while the image is
// still unprocessed.
func (s *Service) OpenThumbnail(ctx context.Context, id int64) (io.ReadCloser, string, error) {
	const op = "gallery.OpenThumbnail"

	img, err := s.repo.GetImage(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if img.ThumbnailURL == nil {
		return nil, "", fmt.Errorf("%s: image %d has no thumbnail yet: %w", op, id, models.ErrNotFound)
	}
	rc, err := s.blobs.Get(ctx, blob.NameFromRef(*img.ThumbnailURL))
	if err != nil {
		return nil, "", fmt.Errorf("%s: image %d: %w", op, id, err)
	}
	return rc, thumbnail.ContentType, nil
}

// Delete removes the original blob, the thumbnail blob if one was recorded,
// and then the record. Blobs that are already gone are not an error.
func (s *Service) Delete(ctx context.Context, id int64) error {
	const op = "gallery.Delete"

	img, err := s.repo.GetImage(ctx, id)
	if err != nil {
		return err
	}

	refs := []string{img.BlobURL}
	if img.ThumbnailURL != nil {
		refs = append(refs, *img.ThumbnailURL)
	}
	for _, ref := range refs {
		name := blob.NameFromRef(ref)
		err := s.blobs.Delete(ctx, name)
		switch {
		case errors.Is(err, blob.ErrNotFound):
			s.log.Warn("blob already deleted", "image_id", id, "blob", name)
		case err != nil:
			return fmt.Errorf("%s: delete blob %s: %w", op, name, err)
		}
	}

	if err := s.repo.DeleteImage(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("image deleted", "image_id", id)
	return nil
}
