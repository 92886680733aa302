// Package worker consumes thumbnail requests from the queue. Each message is
// downloaded, resized, written back as a thumb- blob, recorded on the image
// row and only then acknowledged; any failure leaves the message leased so
// the queue redelivers it once the visibility timeout expires.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"gallery/internal/blob"
	"gallery/internal/models"
	"gallery/internal/queue"
	"gallery/internal/thumbnail"
)

type Stage string

const (
	StageReceived      Stage = "received"
	StageDownloading   Stage = "downloading"
	StageResizing      Stage = "resizing"
	StageUploading     Stage = "uploading"
	StageRecordUpdated Stage = "record_updated"
	StageAcknowledged  Stage = "acknowledged"
	StageFailed        Stage = "failed"
)

// StageError reports the step a message failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

type Repository interface {
	GetImage(ctx context.Context, id int64) (*models.Image, error)
	UpdateImage(ctx context.Context, img *models.Image) error
}

type Queue interface {
	ReceiveBatch(ctx context.Context, max int, visibility time.Duration) ([]queue.Message, error)
	Acknowledge(ctx context.Context, id, popToken string) error
}

type Processor struct {
	repo  Repository
	blobs blob.Store
	queue Queue
	cfg   models.WorkerConfig
	thumb models.ThumbnailConfig
	log   *slog.Logger
}

func NewProcessor(repo Repository, blobs blob.Store, q Queue, cfg models.WorkerConfig, thumb models.ThumbnailConfig, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Processor{repo: repo, blobs: blobs, queue: q, cfg: cfg, thumb: thumb, log: log}
}

// Run polls the queue until ctx is cancelled. Cancellation is observed
// between messages; a message that has started runs to completion.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info("thumbnail processor started",
		"batch_size", p.cfg.BatchSize,
		"visibility_timeout", p.cfg.VisibilityTimeout,
		"concurrency", p.cfg.Concurrency)

	for {
		if ctx.Err() != nil {
			p.log.Info("thumbnail processor stopped")
			return nil
		}

		msgs, err := p.queue.ReceiveBatch(ctx, p.cfg.BatchSize, p.cfg.VisibilityTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.log.Error("receive batch failed", "error", err)
			sleep(ctx, p.cfg.ErrorBackoff)
			continue
		}
		if len(msgs) == 0 {
			sleep(ctx, p.cfg.PollInterval)
			continue
		}
		p.ProcessBatch(ctx, msgs)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ProcessBatch handles msgs with at most cfg.Concurrency in flight. Messages
// not yet started when ctx is cancelled are left to lease expiry.
func (p *Processor) ProcessBatch(ctx context.Context, msgs []queue.Message) {
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, msg := range msgs {
		if ctx.Err() != nil {
			p.log.Info("stop requested, leaving messages to lease expiry", "remaining", len(msgs)-i)
			break
		}
		msg := msg
		g.Go(func() error {
			p.handle(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Processor) handle(ctx context.Context, msg queue.Message) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("message handler panicked", "message_id", msg.ID, "stage", StageFailed, "panic", r)
		}
	}()

	msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.VisibilityTimeout)
	defer cancel()

	if err := p.ProcessMessage(msgCtx, msg); err != nil {
		attrs := []any{"message_id", msg.ID, "dequeue_count", msg.DequeueCount, "error", err}
		var se *StageError
		if errors.As(err, &se) {
			attrs = append(attrs, "stage", se.Stage)
		}
		p.log.Error("thumbnail processing failed", attrs...)
	}
}

// ProcessMessage runs the full pipeline for one message. The message is
// acknowledged only when every step succeeded.
func (p *Processor) ProcessMessage(ctx context.Context, msg queue.Message) error {
	start := time.Now()
	log := p.log.With("message_id", msg.ID)

	m, err := models.DecodeThumbnailMessage(msg.Body)
	if err != nil {
		return &StageError{Stage: StageReceived, Err: err}
	}
	log = log.With("image_id", m.ImageID, "blob", m.BlobName)
	log.Debug("message received", "stage", StageReceived, "dequeue_count", msg.DequeueCount)

	data, err := p.download(ctx, m.BlobName)
	if errors.Is(err, blob.ErrNotFound) {
		// The original is gone; if the record is gone too the image was deleted.
		if _, gerr := p.repo.GetImage(ctx, m.ImageID); errors.Is(gerr, models.ErrNotFound) {
			log.Info("image deleted before processing, acknowledging")
			return p.acknowledge(ctx, msg)
		}
	}
	if err != nil {
		return &StageError{Stage: StageDownloading, Err: err}
	}

	log.Debug("resizing", "stage", StageResizing, "bytes", len(data))
	thumb, err := thumbnail.Generate(data, thumbnail.Options{
		Width:   p.thumb.Width,
		Height:  p.thumb.Height,
		Quality: p.thumb.JPEGQuality,
	})
	if err != nil {
		return &StageError{Stage: StageResizing, Err: err}
	}

	name := thumbnail.Name(p.thumb.Prefix, m.BlobName)
	log.Debug("uploading thumbnail", "stage", StageUploading, "thumbnail", name)
	ref, err := p.blobs.Put(ctx, name, thumb.Data, thumbnail.ContentType)
	if err != nil {
		return &StageError{Stage: StageUploading, Err: err}
	}

	if err := p.updateRecord(ctx, m.ImageID, ref); err != nil {
		return &StageError{Stage: StageRecordUpdated, Err: err}
	}
	log.Debug("record updated", "stage", StageRecordUpdated)

	if err := p.acknowledge(ctx, msg); err != nil {
		return err
	}
	log.Info("thumbnail generated",
		"thumbnail", name,
		"width", thumb.Width,
		"height", thumb.Height,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (p *Processor) download(ctx context.Context, name string) ([]byte, error) {
	rc, err := p.blobs.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// updateRecord sets the thumbnail reference. A record deleted in the meantime
// is not an error.
func (p *Processor) updateRecord(ctx context.Context, id int64, ref string) error {
	img, err := p.repo.GetImage(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		p.log.Info("image record no longer exists, skipping update", "image_id", id)
		return nil
	}
	if err != nil {
		return err
	}

	img.SetThumbnail(ref)
	err = p.repo.UpdateImage(ctx, img)
	if errors.Is(err, models.ErrNotFound) {
		p.log.Info("image record deleted during processing, skipping update", "image_id", id)
		return nil
	}
	return err
}

func (p *Processor) acknowledge(ctx context.Context, msg queue.Message) error {
	if err := p.queue.Acknowledge(ctx, msg.ID, msg.PopToken); err != nil {
		return &StageError{Stage: StageAcknowledged, Err: err}
	}
	p.log.Debug("message acknowledged", "message_id", msg.ID, "stage", StageAcknowledged)
	return nil
}
