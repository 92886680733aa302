package models

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	ServerAddr     string `yaml:"server_addr"`
	DatabaseURL    string `yaml:"database_url"`
	AutoMigrate    *bool  `yaml:"auto_migrate"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`

	Queue     QueueConfig     `yaml:"queue"`
	Blob      BlobConfig      `yaml:"blob"`
	Worker    WorkerConfig    `yaml:"worker"`
	Thumbnail ThumbnailConfig `yaml:"thumbnail"`
}

type QueueConfig struct {
	Driver string      `yaml:"driver"` // postgres, kafka, nats, memory
	Name   string      `yaml:"name"`
	Kafka  KafkaConfig `yaml:"kafka"`
	NATS   NATSConfig  `yaml:"nats"`
}

type KafkaConfig struct {
	Brokers   []string      `yaml:"brokers"`
	Topic     string        `yaml:"topic"`
	GroupID   string        `yaml:"group_id"`
	FetchWait time.Duration `yaml:"fetch_wait"`
}

type NATSConfig struct {
	URL       string        `yaml:"url"`
	Stream    string        `yaml:"stream"`
	Subject   string        `yaml:"subject"`
	Durable   string        `yaml:"durable"`
	FetchWait time.Duration `yaml:"fetch_wait"`
}

type BlobConfig struct {
	Driver string          `yaml:"driver"` // local, s3, gcs
	Local  LocalBlobConfig `yaml:"local"`
	S3     S3Config        `yaml:"s3"`
	GCS    GCSConfig       `yaml:"gcs"`
}

type LocalBlobConfig struct {
	Root string `yaml:"root"`
}

type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
}

type WorkerConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ErrorBackoff      time.Duration `yaml:"error_backoff"`
	Concurrency       int           `yaml:"concurrency"`
}

type ThumbnailConfig struct {
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	Prefix      string `yaml:"prefix"`
	JPEGQuality int    `yaml:"jpeg_quality"`
}

// LoadConfig reads path (a missing file is fine), applies environment
// overrides and defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s: parse %s: %w", op, path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.ServerAddr, "SERVER_ADDR")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.Queue.Driver, "QUEUE_DRIVER")
	setString(&c.Queue.NATS.URL, "NATS_URL")
	setString(&c.Queue.Kafka.Topic, "KAFKA_TOPIC")
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Queue.Kafka.Brokers = splitList(v)
	}
	setString(&c.Blob.Driver, "BLOB_DRIVER")
	setString(&c.Blob.Local.Root, "BLOB_ROOT")
	setString(&c.Blob.S3.Bucket, "S3_BUCKET")
	setString(&c.Blob.S3.Region, "S3_REGION")
	setString(&c.Blob.S3.Endpoint, "S3_ENDPOINT")
	setString(&c.Blob.S3.AccessKey, "S3_ACCESS_KEY")
	setString(&c.Blob.S3.SecretKey, "S3_SECRET_KEY")
	setString(&c.Blob.GCS.Bucket, "GCS_BUCKET")
	setString(&c.Blob.GCS.CredentialsFile, "GCS_CREDENTIALS_FILE")

	if err := setInt(&c.Thumbnail.Width, "THUMB_WIDTH"); err != nil {
		return err
	}
	if err := setInt(&c.Thumbnail.Height, "THUMB_HEIGHT"); err != nil {
		return err
	}
	return setInt(&c.Worker.Concurrency, "WORKER_CONCURRENCY")
}

func (c *Config) applyDefaults() {
	def := func(s *string, v string) {
		if *s == "" {
			*s = v
		}
	}
	def(&c.ServerAddr, ":8080")
	def(&c.LogLevel, "info")
	def(&c.LogFormat, "text")
	if c.AutoMigrate == nil {
		on := true
		c.AutoMigrate = &on
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 20 << 20
	}

	def(&c.Queue.Driver, "postgres")
	def(&c.Queue.Name, "thumbnails")
	def(&c.Queue.Kafka.Topic, c.Queue.Name)
	def(&c.Queue.Kafka.GroupID, "thumbnail-worker")
	if c.Queue.Kafka.FetchWait == 0 {
		c.Queue.Kafka.FetchWait = time.Second
	}
	def(&c.Queue.NATS.URL, "nats://127.0.0.1:4222")
	def(&c.Queue.NATS.Stream, strings.ToUpper(c.Queue.Name))
	def(&c.Queue.NATS.Subject, "gallery."+c.Queue.Name)
	def(&c.Queue.NATS.Durable, "thumbnail-worker")
	if c.Queue.NATS.FetchWait == 0 {
		c.Queue.NATS.FetchWait = time.Second
	}

	def(&c.Blob.Driver, "local")
	def(&c.Blob.Local.Root, "./data/images")
	def(&c.Blob.S3.Region, "us-east-1")

	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 10
	}
	if c.Worker.VisibilityTimeout == 0 {
		c.Worker.VisibilityTimeout = 5 * time.Minute
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 5 * time.Second
	}
	if c.Worker.ErrorBackoff == 0 {
		c.Worker.ErrorBackoff = 10 * time.Second
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 1
	}

	if c.Thumbnail.Width == 0 {
		c.Thumbnail.Width = 300
	}
	if c.Thumbnail.Height == 0 {
		c.Thumbnail.Height = 300
	}
	def(&c.Thumbnail.Prefix, "thumb-")
	if c.Thumbnail.JPEGQuality == 0 {
		c.Thumbnail.JPEGQuality = 85
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url is required"))
	}
	if c.MaxUploadBytes < 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}

	switch c.Queue.Driver {
	case "postgres", "memory":
	case "kafka":
		if len(c.Queue.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("queue.kafka.brokers is required"))
		}
	case "nats":
		if c.Queue.NATS.URL == "" {
			errs = append(errs, errors.New("queue.nats.url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue driver %q", c.Queue.Driver))
	}

	switch c.Blob.Driver {
	case "local":
		if c.Blob.Local.Root == "" {
			errs = append(errs, errors.New("blob.local.root is required"))
		}
	case "s3":
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required"))
		}
	case "gcs":
		if c.Blob.GCS.Bucket == "" {
			errs = append(errs, errors.New("blob.gcs.bucket is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}

	w := c.Worker
	if w.BatchSize < 1 || w.Concurrency < 1 {
		errs = append(errs, errors.New("worker batch_size and concurrency must be positive"))
	}
	if w.VisibilityTimeout <= 0 || w.PollInterval <= 0 || w.ErrorBackoff <= 0 {
		errs = append(errs, errors.New("worker durations must be positive"))
	}
	t := c.Thumbnail
	if t.Width < 1 || t.Height < 1 {
		errs = append(errs, fmt.Errorf("thumbnail bound %dx%d must be positive", t.Width, t.Height))
	}
	if t.JPEGQuality < 1 || t.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("thumbnail jpeg_quality %d out of range", t.JPEGQuality))
	}
	return errors.Join(errs...)
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
