// internal/models/models.go
package models

import (
	"fmt"
	"strings"
	"time"
)

// Image is the metadata record of an uploaded picture. ThumbnailURL stays nil
// until the thumbnail processor has written the derived blob.
type Image struct {
	ID                 int64     `db:"id"`
	FileName           string    `db:"file_name"`
	ContentType        string    `db:"content_type"`
	Size               int64     `db:"size"`
	BlobURL            string    `db:"blob_url"`
	ThumbnailURL       *string   `db:"thumbnail_url"`
	ThumbnailProcessed bool      `db:"thumbnail_processed"`
	UploadedAt         time.Time `db:"uploaded_at"`
}

const (
	MaxFileNameLength    = 500
	MaxContentTypeLength = 100
	MaxURLLength         = 1000
)

// Validate checks the column limits and the thumbnail flag invariant.
func (img *Image) Validate() error {
	const op = "models.Image.Validate"

	switch {
	case strings.TrimSpace(img.FileName) == "":
		return fmt.Errorf("%s: file name is required", op)
	case len(img.FileName) > MaxFileNameLength:
		return fmt.Errorf("%s: file name longer than %d", op, MaxFileNameLength)
	case img.ContentType == "" || len(img.ContentType) > MaxContentTypeLength:
		return fmt.Errorf("%s: invalid content type %q", op, img.ContentType)
	case img.Size < 0:
		return fmt.Errorf("%s: negative size %d", op, img.Size)
	case img.BlobURL == "" || len(img.BlobURL) > MaxURLLength:
		return fmt.Errorf("%s: invalid blob url", op)
	case img.ThumbnailProcessed != (img.ThumbnailURL != nil):
		return fmt.Errorf("%s: thumbnail_processed=%t does not match thumbnail url", op, img.ThumbnailProcessed)
	case img.ThumbnailURL != nil && len(*img.ThumbnailURL) > MaxURLLength:
		return fmt.Errorf("%s: thumbnail url longer than %d", op, MaxURLLength)
	}
	return nil
}

// SetThumbnail records the derived blob and flips the processed flag.
func (img *Image) SetThumbnail(ref string) {
	img.ThumbnailURL = &ref
	img.ThumbnailProcessed = true
}

// ImageDTO is the public JSON view of an Image. Blob references stay internal.
type ImageDTO struct {
	ID                 int64     `json:"id"`
	FileName           string    `json:"fileName"`
	ContentType        string    `json:"contentType"`
	Size               int64     `json:"size"`
	ThumbnailProcessed bool      `json:"thumbnailProcessed"`
	UploadedAt         time.Time `json:"uploadedAt"`
}

func (img *Image) DTO() ImageDTO {
	return ImageDTO{
		ID:                 img.ID,
		FileName:           img.FileName,
		ContentType:        img.ContentType,
		Size:               img.Size,
		ThumbnailProcessed: img.ThumbnailProcessed,
		UploadedAt:         img.UploadedAt,
	}
}

const (
	MaxTodoTitleLength = 200
	MaxUserNameLength  = 100
	MaxUserEmailLength = 100
)

type Todo struct {
	ID        int64     `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Completed bool      `json:"completed" db:"completed"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type CreateTodoRequest struct {
	Title string `json:"title" binding:"required"`
}

// UpdateTodoRequest leaves nil fields untouched.
type UpdateTodoRequest struct {
	Title     *string `json:"title"`
	Completed *bool   `json:"completed"`
}

func (r UpdateTodoRequest) Apply(t *Todo) {
	if r.Title != nil {
		t.Title = *r.Title
	}
	if r.Completed != nil {
		t.Completed = *r.Completed
	}
}

type User struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type CreateUserRequest struct {
	Name  string `json:"name" binding:"required,max=100"`
	Email string `json:"email" binding:"required,email,max=100"`
}
