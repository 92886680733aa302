package queue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	id           int64
	body         []byte
	visibleAt    time.Time
	popToken     string
	dequeueCount int
}

// Memory is an in-process Queue. It backs single-process deployments
// (serve --worker) and tests.
type Memory struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*memoryEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: map[int64]*memoryEntry{}, now: time.Now}
}

// WithClock replaces the time source; tests use it to expire leases.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

func (m *Memory) Enqueue(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.entries[m.nextID] = &memoryEntry{
		id:        m.nextID,
		body:      append([]byte(nil), body...),
		visibleAt: m.now(),
	}
	return nil
}

func (m *Memory) ReceiveBatch(ctx context.Context, max int, visibility time.Duration) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max < 1 {
		return nil, fmt.Errorf("queue.Memory.ReceiveBatch: max must be positive, got %d", max)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	ids := make([]int64, 0, len(m.entries))
	for id, e := range m.entries {
		if !e.visibleAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > max {
		ids = ids[:max]
	}

	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		e := m.entries[id]
		e.popToken = uuid.NewString()
		e.visibleAt = now.Add(visibility)
		e.dequeueCount++
		out = append(out, Message{
			ID:           strconv.FormatInt(id, 10),
			PopToken:     e.popToken,
			Body:         append([]byte(nil), e.body...),
			DequeueCount: e.dequeueCount,
		})
	}
	return out, nil
}

func (m *Memory) Acknowledge(ctx context.Context, id, popToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("queue.Memory.Acknowledge: invalid id %q: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[n]
	if !ok || e.popToken == "" || e.popToken != popToken {
		return ErrLeaseLost
	}
	delete(m.entries, n)
	return nil
}

// Len reports how many messages are stored, leased or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Close() error { return nil }
