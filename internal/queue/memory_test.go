package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemory() (*Memory, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemory().WithClock(clock.now), clock
}

func enqueueAll(t *testing.T, q Queue, bodies ...string) {
	t.Helper()
	for _, b := range bodies {
		if err := q.Enqueue(context.Background(), []byte(b)); err != nil {
			t.Fatalf("Enqueue(%q): %v", b, err)
		}
	}
}

func TestMemoryLeaseHidesMessage(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestMemory()
	enqueueAll(t, q, "a")

	first, err := q.ReceiveBatch(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("ReceiveBatch: %v", err)
	}
	if len(first) != 1 || string(first[0].Body) != "a" || first[0].DequeueCount != 1 {
		t.Fatalf("unexpected first batch: %+v", first)
	}

	second, err := q.ReceiveBatch(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("ReceiveBatch: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("leased message was visible again: %+v", second)
	}
}

func TestMemoryRedeliversAfterLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestMemory()
	enqueueAll(t, q, "a")

	first, _ := q.ReceiveBatch(ctx, 1, time.Minute)
	clock.advance(time.Minute)

	again, err := q.ReceiveBatch(ctx, 1, time.Minute)
	if err != nil {
		t.Fatalf("ReceiveBatch: %v", err)
	}
	if len(again) != 1 || again[0].ID != first[0].ID {
		t.Fatalf("expected redelivery of %s, got %+v", first[0].ID, again)
	}
	if again[0].DequeueCount != 2 {
		t.Fatalf("DequeueCount = %d, want 2", again[0].DequeueCount)
	}
	if again[0].PopToken == first[0].PopToken {
		t.Fatal("redelivery reused the pop token")
	}

	if err := q.Acknowledge(ctx, first[0].ID, first[0].PopToken); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("stale token ack: got %v, want ErrLeaseLost", err)
	}
	if err := q.Acknowledge(ctx, again[0].ID, again[0].PopToken); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after ack: %d", q.Len())
	}
}

func TestMemoryAcknowledgeTwice(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestMemory()
	enqueueAll(t, q, "a")

	msgs, _ := q.ReceiveBatch(ctx, 1, time.Minute)
	if err := q.Acknowledge(ctx, msgs[0].ID, msgs[0].PopToken); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if err := q.Acknowledge(ctx, msgs[0].ID, msgs[0].PopToken); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("second ack: got %v, want ErrLeaseLost", err)
	}
}

func TestMemoryBatchLimitAndOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestMemory()
	enqueueAll(t, q, "a", "b", "c", "d", "e")

	batch, err := q.ReceiveBatch(ctx, 3, time.Minute)
	if err != nil {
		t.Fatalf("ReceiveBatch: %v", err)
	}
	var got []string
	for _, m := range batch {
		got = append(got, string(m.Body))
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("batch = %v, want [a b c]", got)
	}

	rest, _ := q.ReceiveBatch(ctx, 10, time.Minute)
	if len(rest) != 2 {
		t.Fatalf("remaining batch = %d messages, want 2", len(rest))
	}
}

func TestMemoryRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestMemory()
	if _, err := q.ReceiveBatch(ctx, 0, time.Minute); err == nil {
		t.Fatal("expected error for max=0")
	}
	if err := q.Acknowledge(ctx, "not-a-number", "x"); err == nil {
		t.Fatal("expected error for malformed id")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.Enqueue(cancelled, []byte("a")); !errors.Is(err, context.Canceled) {
		t.Fatalf("Enqueue with cancelled ctx: %v", err)
	}
}
