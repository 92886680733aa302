package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"gallery/internal/models"
)

// openTestStorage connects to GALLERY_TEST_DATABASE_URL, migrates and
// truncates the tables. Tests are skipped when it is unset.
func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	dsn := os.Getenv("GALLERY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("GALLERY_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewStorage(ctx, dsn, true)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	t.Cleanup(s.Close)
	if _, err := s.pool.Exec(ctx, `TRUNCATE images, todos, users, queue_messages RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestImageLifecycle(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	img := &models.Image{
		FileName:    "photo.jpg",
		ContentType: "image/jpeg",
		Size:        1234,
		BlobURL:     "file:///data/abc-photo.jpg",
	}
	if err := s.InsertImage(ctx, img); err != nil {
		t.Fatalf("InsertImage: %v", err)
	}
	if img.ID == 0 || img.UploadedAt.IsZero() {
		t.Fatalf("generated fields not set: %+v", img)
	}

	got, err := s.GetImage(ctx, img.ID)
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}
	if got.ThumbnailProcessed || got.ThumbnailURL != nil {
		t.Fatalf("new record already processed: %+v", got)
	}

	got.SetThumbnail("file:///data/thumb-abc-photo.jpg")
	if err := s.UpdateImage(ctx, got); err != nil {
		t.Fatalf("UpdateImage: %v", err)
	}
	got, _ = s.GetImage(ctx, img.ID)
	if !got.ThumbnailProcessed || got.ThumbnailURL == nil || *got.ThumbnailURL != "file:///data/thumb-abc-photo.jpg" {
		t.Fatalf("thumbnail not stored: %+v", got)
	}

	if err := s.DeleteImage(ctx, img.ID); err != nil {
		t.Fatalf("DeleteImage: %v", err)
	}
	if _, err := s.GetImage(ctx, img.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("GetImage after delete: %v", err)
	}
	if err := s.DeleteImage(ctx, img.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("second DeleteImage: %v", err)
	}
	got.SetThumbnail("x")
	if err := s.UpdateImage(ctx, got); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("UpdateImage on deleted record: %v", err)
	}
}

func TestThumbnailConsistencyConstraint(t *testing.T) {
	s := openTestStorage(t)
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO images (file_name, content_type, size, blob_url, thumbnail_processed)
		VALUES ('a.png', 'image/png', 1, 'file:///a.png', true)`)
	if err == nil {
		t.Fatal("processed flag without thumbnail url was accepted")
	}
}

func TestListImagesNewestFirst(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	for _, name := range []string{"first.png", "second.png", "third.png"} {
		img := &models.Image{FileName: name, ContentType: "image/png", Size: 1, BlobURL: "file:///" + name}
		if err := s.InsertImage(ctx, img); err != nil {
			t.Fatalf("InsertImage(%s): %v", name, err)
		}
	}
	images, err := s.ListImages(ctx)
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if len(images) != 3 || images[0].FileName != "third.png" || images[2].FileName != "first.png" {
		t.Fatalf("unexpected order: %v, %v, %v", images[0].FileName, images[1].FileName, images[2].FileName)
	}
}

func TestTodoCRUD(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	todo, err := s.CreateTodo(ctx, "write tests")
	if err != nil {
		t.Fatalf("CreateTodo: %v", err)
	}
	todo.Completed = true
	if err := s.UpdateTodo(ctx, todo); err != nil {
		t.Fatalf("UpdateTodo: %v", err)
	}
	got, err := s.GetTodo(ctx, todo.ID)
	if err != nil || !got.Completed || got.Title != "write tests" {
		t.Fatalf("GetTodo = %+v, %v", got, err)
	}
	if todo.CreatedAt.IsZero() || !got.CreatedAt.Equal(todo.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, todo.CreatedAt)
	}
	list, err := s.ListTodos(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListTodos = %v, %v", list, err)
	}
	if err := s.DeleteTodo(ctx, todo.ID); err != nil {
		t.Fatalf("DeleteTodo: %v", err)
	}
	if _, err := s.GetTodo(ctx, todo.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("GetTodo after delete: %v", err)
	}
}

func TestTodoTitleLimit(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	if _, err := s.CreateTodo(ctx, strings.Repeat("я", models.MaxTodoTitleLength)); err != nil {
		t.Fatalf("CreateTodo at the limit: %v", err)
	}
	if _, err := s.CreateTodo(ctx, strings.Repeat("я", models.MaxTodoTitleLength+1)); err == nil {
		t.Fatal("CreateTodo accepted a title over the limit")
	}
}

func TestUserCRUD(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "Ada", "ada@example.com")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == 0 || u.CreatedAt.IsZero() {
		t.Fatalf("generated fields not set: %+v", u)
	}
	if _, err := s.CreateUser(ctx, "Other", "ada@example.com"); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("duplicate email: %v, want ErrConflict", err)
	}

	got, err := s.GetUser(ctx, u.ID)
	if err != nil || got.Name != "Ada" || got.Email != "ada@example.com" {
		t.Fatalf("GetUser = %+v, %v", got, err)
	}
	list, err := s.ListUsers(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListUsers = %v, %v", list, err)
	}

	if err := s.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if err := s.DeleteUser(ctx, u.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("second DeleteUser: %v", err)
	}
	if _, err := s.GetUser(ctx, u.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("GetUser after delete: %v", err)
	}
}
