// internal/storage/storage.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"gallery/internal/models"
)

type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // For migrations
}

func NewStorage(ctx context.Context, dsn string, autoMigrate bool) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if autoMigrate {
		if err := Migrate(ctx, db, "up"); err != nil {
			db.Close()
			pool.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return &Storage{pool: pool, db: db}, nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

// Pool is shared with the postgres queue backend.
func (s *Storage) Pool() *pgxpool.Pool { return s.pool }

// DB is the database/sql view of the pool used by goose.
func (s *Storage) DB() *sql.DB { return s.db }

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const imageColumns = `id, file_name, content_type, size, blob_url, thumbnail_url, thumbnail_processed, uploaded_at`

func scanImage(row pgx.Row) (*models.Image, error) {
	var img models.Image
	err := row.Scan(&img.ID, &img.FileName, &img.ContentType, &img.Size, &img.BlobURL,
		&img.ThumbnailURL, &img.ThumbnailProcessed, &img.UploadedAt)
	if err != nil {
		return nil, err
	}
	img.UploadedAt = img.UploadedAt.UTC()
	return &img, nil
}

// InsertImage stores img and fills in the generated ID and UploadedAt.
func (s *Storage) InsertImage(ctx context.Context, img *models.Image) error {
	const op = "storage.InsertImage"

	if err := img.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO images (file_name, content_type, size, blob_url, thumbnail_url, thumbnail_processed)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, uploaded_at`,
		img.FileName, img.ContentType, img.Size, img.BlobURL, img.ThumbnailURL, img.ThumbnailProcessed,
	).Scan(&img.ID, &img.UploadedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	img.UploadedAt = img.UploadedAt.UTC()
	return nil
}

func (s *Storage) GetImage(ctx context.Context, id int64) (*models.Image, error) {
	const op = "storage.GetImage"

	img, err := scanImage(s.pool.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: image %d: %w", op, id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return img, nil
}

// ListImages returns every record, newest first.
func (s *Storage) ListImages(ctx context.Context) ([]*models.Image, error) {
	const op = "storage.ListImages"

	rows, err := s.pool.Query(ctx,
		`SELECT `+imageColumns+` FROM images ORDER BY uploaded_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	images := []*models.Image{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return images, nil
}

// UpdateImage writes the mutable thumbnail columns.
func (s *Storage) UpdateImage(ctx context.Context, img *models.Image) error {
	const op = "storage.UpdateImage"

	if err := img.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE images SET thumbnail_url = $2, thumbnail_processed = $3 WHERE id = $1`,
		img.ID, img.ThumbnailURL, img.ThumbnailProcessed)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: image %d: %w", op, img.ID, models.ErrNotFound)
	}
	return nil
}

func (s *Storage) DeleteImage(ctx context.Context, id int64) error {
	const op = "storage.DeleteImage"

	tag, err := s.pool.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: image %d: %w", op, id, models.ErrNotFound)
	}
	return nil
}
