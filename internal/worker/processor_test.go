package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"gallery/internal/blob"
	"gallery/internal/models"
	"gallery/internal/queue"
)

type memRepo struct {
	mu      sync.Mutex
	images  map[int64]*models.Image
	updates int
}

func (r *memRepo) GetImage(_ context.Context, id int64) (*models.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (r *memRepo) UpdateImage(_ context.Context, img *models.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.images[img.ID]; !ok {
		return models.ErrNotFound
	}
	if err := img.Validate(); err != nil {
		return err
	}
	cp := *img
	r.images[img.ID] = &cp
	r.updates++
	return nil
}

func (r *memRepo) get(id int64) *models.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.images[id]
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	proc  *Processor
	repo  *memRepo
	blobs *blob.Local
	queue *queue.Memory
	clock *clock
}

var testWorkerConfig = models.WorkerConfig{
	BatchSize:         10,
	VisibilityTimeout: 5 * time.Minute,
	PollInterval:      10 * time.Millisecond,
	ErrorBackoff:      10 * time.Millisecond,
	Concurrency:       4,
}

var testThumbConfig = models.ThumbnailConfig{Width: 300, Height: 300, Prefix: "thumb-", JPEGQuality: 85}

func newHarness(t *testing.T) *harness {
	t.Helper()
	blobs, err := blob.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	h := &harness{
		repo:  &memRepo{images: map[int64]*models.Image{}},
		blobs: blobs,
		queue: queue.NewMemory().WithClock(c.now),
		clock: c,
	}
	h.proc = NewProcessor(h.repo, h.blobs, h.queue, testWorkerConfig, testThumbConfig, nil)
	return h
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// seed stores an original blob and its record, and enqueues the message.
func (h *harness) seed(t *testing.T, id int64, blobName string, data []byte) {
	t.Helper()
	ctx := context.Background()
	ref, err := h.blobs.Put(ctx, blobName, data, "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	h.repo.images[id] = &models.Image{
		ID:          id,
		FileName:    "photo.png",
		ContentType: "image/png",
		Size:        int64(len(data)),
		BlobURL:     ref,
		UploadedAt:  time.Now().UTC(),
	}
	h.enqueue(t, models.ThumbnailMessage{ImageID: id, BlobName: blobName})
}

func (h *harness) enqueue(t *testing.T, m models.ThumbnailMessage) {
	t.Helper()
	body, err := models.EncodeThumbnailMessage(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := h.queue.Enqueue(context.Background(), body); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

func (h *harness) receive(t *testing.T) []queue.Message {
	t.Helper()
	msgs, err := h.queue.ReceiveBatch(context.Background(), 10, testWorkerConfig.VisibilityTimeout)
	if err != nil {
		t.Fatalf("ReceiveBatch: %v", err)
	}
	return msgs
}

func (h *harness) thumbnailSize(t *testing.T, name string) (int, int) {
	t.Helper()
	rc, err := h.blobs.Get(context.Background(), name)
	if err != nil {
		t.Fatalf("thumbnail %s: %v", name, err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("thumbnail format %s, want jpeg", format)
	}
	return cfg.Width, cfg.Height
}

func TestProcessMessageGeneratesThumbnail(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 42, "abc-photo.jpg", pngBytes(t, 1200, 800))

	msgs := h.receive(t)
	if err := h.proc.ProcessMessage(context.Background(), msgs[0]); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	if w, hgt := h.thumbnailSize(t, "thumb-abc-photo.jpg"); w != 300 || hgt != 200 {
		t.Fatalf("thumbnail %dx%d, want 300x200", w, hgt)
	}
	img := h.repo.get(42)
	if !img.ThumbnailProcessed || img.ThumbnailURL == nil || blob.NameFromRef(*img.ThumbnailURL) != "thumb-abc-photo.jpg" {
		t.Fatalf("record not updated: %+v", img)
	}
	if h.queue.Len() != 0 {
		t.Fatal("message not acknowledged")
	}
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 42, "abc-photo.jpg", pngBytes(t, 1200, 800))

	first := h.receive(t)[0]
	// The first delivery outlives its lease; a second consumer gets a copy.
	h.clock.advance(testWorkerConfig.VisibilityTimeout)
	second := h.receive(t)[0]

	if err := h.proc.ProcessMessage(context.Background(), second); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	err := h.proc.ProcessMessage(context.Background(), first)
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageAcknowledged || !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("stale delivery: got %v, want lease lost at acknowledge", err)
	}

	img := h.repo.get(42)
	if !img.ThumbnailProcessed || blob.NameFromRef(*img.ThumbnailURL) != "thumb-abc-photo.jpg" {
		t.Fatalf("record changed by duplicate: %+v", img)
	}
	if w, hgt := h.thumbnailSize(t, "thumb-abc-photo.jpg"); w != 300 || hgt != 200 {
		t.Fatalf("thumbnail %dx%d after duplicate", w, hgt)
	}
	if h.queue.Len() != 0 {
		t.Fatal("message left in queue")
	}
}

func TestDeletedRecordIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 7, "abc-photo.jpg", pngBytes(t, 400, 400))
	delete(h.repo.images, 7)

	if err := h.proc.ProcessMessage(context.Background(), h.receive(t)[0]); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if h.queue.Len() != 0 {
		t.Fatal("message for deleted record not acknowledged")
	}
	if h.repo.updates != 0 {
		t.Fatal("deleted record was updated")
	}
}

func TestDeletedImageBeforeDownloadIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 7, "abc-photo.jpg", pngBytes(t, 400, 400))
	delete(h.repo.images, 7)
	if err := h.blobs.Delete(context.Background(), "abc-photo.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if err := h.proc.ProcessMessage(context.Background(), h.receive(t)[0]); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if h.queue.Len() != 0 {
		t.Fatal("message for deleted image not acknowledged")
	}
}

func TestMissingBlobWithRecordIsRetried(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 7, "abc-photo.jpg", pngBytes(t, 400, 400))
	if err := h.blobs.Delete(context.Background(), "abc-photo.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	err := h.proc.ProcessMessage(context.Background(), h.receive(t)[0])
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageDownloading {
		t.Fatalf("got %v, want downloading failure", err)
	}
	if h.queue.Len() != 1 {
		t.Fatal("failed message was acknowledged")
	}
}

func TestMalformedMessageIsNeverAcknowledged(t *testing.T) {
	h := newHarness(t)
	if err := h.queue.Enqueue(context.Background(), []byte(`{"imageId":"42"}`)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for delivery := 1; delivery <= 3; delivery++ {
		msgs := h.receive(t)
		if len(msgs) != 1 || msgs[0].DequeueCount != delivery {
			t.Fatalf("delivery %d: got %+v", delivery, msgs)
		}
		err := h.proc.ProcessMessage(context.Background(), msgs[0])
		var se *StageError
		if !errors.As(err, &se) || se.Stage != StageReceived || !errors.Is(err, models.ErrMalformedMessage) {
			t.Fatalf("delivery %d: got %v", delivery, err)
		}
		if again := h.receive(t); len(again) != 0 {
			t.Fatal("malformed message visible before lease expiry")
		}
		h.clock.advance(testWorkerConfig.VisibilityTimeout)
	}
}

func TestBatchIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, "one.png", pngBytes(t, 600, 600))
	if err := h.queue.Enqueue(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h.seed(t, 2, "two.png", []byte("not an image"))
	h.seed(t, 3, "three.png", pngBytes(t, 100, 50))

	h.proc.ProcessBatch(context.Background(), h.receive(t))

	for _, id := range []int64{1, 3} {
		if !h.repo.get(id).ThumbnailProcessed {
			t.Errorf("image %d not processed", id)
		}
	}
	if h.repo.get(2).ThumbnailProcessed {
		t.Error("undecodable image marked processed")
	}
	if w, hgt := h.thumbnailSize(t, "thumb-three.png"); w != 100 || hgt != 50 {
		t.Errorf("small image resized to %dx%d", w, hgt)
	}
	if h.queue.Len() != 2 {
		t.Fatalf("queue holds %d messages, want the 2 failures", h.queue.Len())
	}
}

func TestProcessBatchSkipsUnstartedMessagesAfterStop(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, "one.png", pngBytes(t, 10, 10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.proc.ProcessBatch(ctx, h.receive(t))
	if h.repo.get(1).ThumbnailProcessed || h.queue.Len() != 1 {
		t.Fatal("message processed after stop")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, "one.png", pngBytes(t, 640, 480))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.proc.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for h.queue.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("message not processed by Run")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	if !h.repo.get(1).ThumbnailProcessed {
		t.Fatal("record not updated")
	}
}

type failingQueue struct {
	mu    sync.Mutex
	calls int
}

func (q *failingQueue) ReceiveBatch(context.Context, int, time.Duration) ([]queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	return nil, errors.New("queue unavailable")
}

func (q *failingQueue) Acknowledge(context.Context, string, string) error { return nil }

func TestRunBacksOffOnReceiveError(t *testing.T) {
	q := &failingQueue{}
	cfg := testWorkerConfig
	cfg.ErrorBackoff = time.Hour
	p := NewProcessor(&memRepo{}, nil, q, cfg, testThumbConfig, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop during backoff")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.calls != 1 {
		t.Fatalf("ReceiveBatch called %d times during backoff, want 1", q.calls)
	}
}
