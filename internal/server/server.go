package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gallery/internal/gallery"
	"gallery/internal/logging"
	"gallery/internal/models"
)

type Images interface {
	Upload(ctx context.Context, in gallery.UploadInput) (*models.Image, error)
	List(ctx context.Context) ([]*models.Image, error)
	Get(ctx context.Context, id int64) (*models.Image, error)
	OpenOriginal(ctx context.Context, id int64) (io.ReadCloser, *models.Image, error)
	OpenThumbnail(ctx context.Context, id int64) (io.ReadCloser, string, error)
	Delete(ctx context.Context, id int64) error
}

type Todos interface {
	ListTodos(ctx context.Context) ([]models.Todo, error)
	GetTodo(ctx context.Context, id int64) (*models.Todo, error)
	CreateTodo(ctx context.Context, title string) (*models.Todo, error)
	UpdateTodo(ctx context.Context, t *models.Todo) error
	DeleteTodo(ctx context.Context, id int64) error
}

type Users interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	CreateUser(ctx context.Context, name, email string) (*models.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router    *gin.Engine
	http      *http.Server
	images    Images
	todos     Todos
	users     Users
	db        Pinger
	maxUpload int64
	log       *slog.Logger
}

func NewServer(addr string, maxUpload int64, images Images, todos Todos, users Users, db Pinger, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(log))
	r.MaxMultipartMemory = maxUpload

	s := &Server{
		router:    r,
		http:      &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second},
		images:    images,
		todos:     todos,
		users:     users,
		db:        db,
		maxUpload: maxUpload,
		log:       log,
	}

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	api.GET("/images", s.handleListImages)
	api.POST("/images", s.handleUpload)
	api.GET("/images/:id", s.handleGetImage)
	api.GET("/images/:id/blob", s.handleGetBlob)
	api.GET("/images/:id/thumbnail", s.handleGetThumbnail)
	api.DELETE("/images/:id", s.handleDeleteImage)

	api.GET("/todos", s.handleListTodos)
	api.POST("/todos", s.handleCreateTodo)
	api.GET("/todos/:id", s.handleGetTodo)
	api.PUT("/todos/:id", s.handleUpdateTodo)
	api.DELETE("/todos/:id", s.handleDeleteTodo)

	api.GET("/users", s.handleListUsers)
	api.POST("/users", s.handleCreateUser)
	api.GET("/users/:id", s.handleGetUser)
	api.DELETE("/users/:id", s.handleDeleteUser)

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Start blocks until the server stops. A graceful Stop is not an error.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// fail maps an error to a response: validation errors keep their message,
// missing records become 404, and everything else a generic 500.
func (s *Server) fail(c *gin.Context, op string, err error, notFound, internal string) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
	default:
		s.log.Error(op, "error", err, "request_id", logging.RequestID(c.Request.Context()))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": internal})
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		s.log.Error("health check failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "unhealthy", "database": "disconnected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "connected"})
}

func (s *Server) handleListImages(c *gin.Context) {
	const op = "server.handleListImages"

	images, err := s.images.List(c.Request.Context())
	if err != nil {
		s.fail(c, op, err, "", "Failed to list images")
		return
	}
	out := make([]models.ImageDTO, 0, len(images))
	for _, img := range images {
		out = append(out, img.DTO())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetImage(c *gin.Context) {
	const op = "server.handleGetImage"

	id, ok := parseID(c)
	if !ok {
		return
	}
	img, err := s.images.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, op, err, "Image not found", "Failed to get image")
		return
	}
	c.JSON(http.StatusOK, img.DTO())
}

func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"

	if s.maxUpload > 0 {
		// Room for the multipart envelope on top of the file itself.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+1<<20)
	}
	file, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}

	src, err := file.Open()
	if err != nil {
		s.fail(c, op, err, "", "Failed to upload image")
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		s.fail(c, op, err, "", "Failed to upload image")
		return
	}

	img, err := s.images.Upload(c.Request.Context(), gallery.UploadInput{
		FileName:    file.Filename,
		ContentType: strings.TrimSpace(file.Header.Get("Content-Type")),
		Data:        data,
	})
	if err != nil {
		s.fail(c, op, err, "", "Failed to upload image")
		return
	}

	c.Header("Location", fmt.Sprintf("/api/images/%d", img.ID))
	c.JSON(http.StatusCreated, img.DTO())
}

func (s *Server) handleGetBlob(c *gin.Context) {
	const op = "server.handleGetBlob"

	id, ok := parseID(c)
	if !ok {
		return
	}
	rc, img, err := s.images.OpenOriginal(c.Request.Context(), id)
	if err != nil {
		s.fail(c, op, err, "Image not found", "Failed to get image")
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, img.Size, img.ContentType, rc, nil)
}

func (s *Server) handleGetThumbnail(c *gin.Context) {
	const op = "server.handleGetThumbnail"

	id, ok := parseID(c)
	if !ok {
		return
	}
	rc, contentType, err := s.images.OpenThumbnail(c.Request.Context(), id)
	if err != nil {
		s.fail(c, op, err, "Thumbnail not found", "Failed to get thumbnail")
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}

func (s *Server) handleDeleteImage(c *gin.Context) {
	const op = "server.handleDeleteImage"

	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.images.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, op, err, "Image not found", "Failed to delete image")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Image %d deleted", id)})
}
