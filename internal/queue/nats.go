package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"gallery/internal/models"
)

// NATS stores messages in a JetStream work-queue stream and consumes them
// through a durable pull consumer. The consumer's AckWait is the visibility
// timeout; it is fixed by the first ReceiveBatch that creates the consumer.
type NATS struct {
	cfg models.NATSConfig
	nc  *nats.Conn
	js  nats.JetStreamContext

	subMu sync.Mutex
	sub   *nats.Subscription

	mu       sync.Mutex
	inflight map[string]natsMsg
}

// natsMsg is the part of *nats.Msg that Acknowledge needs.
type natsMsg interface {
	Metadata() (*nats.MsgMetadata, error)
	AckSync(opts ...nats.AckOpt) error
}

func NewNATS(cfg models.NATSConfig) (*NATS, error) {
	const op = "queue.NewNATS"

	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%s: jetstream: %w", op, err)
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			return nil, fmt.Errorf("%s: stream info: %w", op, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  []string{cfg.Subject},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("%s: add stream: %w", op, err)
		}
	}

	return &NATS{cfg: cfg, nc: nc, js: js, inflight: map[string]natsMsg{}}, nil
}

func (q *NATS) Enqueue(ctx context.Context, body []byte) error {
	const op = "queue.NATS.Enqueue"

	if _, err := q.js.Publish(q.cfg.Subject, body, nats.Context(ctx)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (q *NATS) subscription(visibility time.Duration) (*nats.Subscription, error) {
	q.subMu.Lock()
	defer q.subMu.Unlock()
	if q.sub != nil {
		return q.sub, nil
	}
	sub, err := q.js.PullSubscribe(q.cfg.Subject, q.cfg.Durable,
		nats.BindStream(q.cfg.Stream),
		nats.AckExplicit(),
		nats.AckWait(visibility),
	)
	if err != nil {
		return nil, err
	}
	q.sub = sub
	return sub, nil
}

func (q *NATS) ReceiveBatch(ctx context.Context, max int, visibility time.Duration) ([]Message, error) {
	const op = "queue.NATS.ReceiveBatch"

	if max < 1 {
		return nil, fmt.Errorf("%s: max must be positive, got %d", op, max)
	}
	sub, err := q.subscription(visibility)
	if err != nil {
		return nil, fmt.Errorf("%s: subscribe: %w", op, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, q.cfg.FetchWait)
	defer cancel()
	msgs, err := sub.Fetch(max, nats.Context(fetchCtx))
	if err != nil {
		if ctx.Err() == nil && (errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]Message, 0, len(msgs))
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range msgs {
		meta, err := m.Metadata()
		if err != nil {
			continue
		}
		id := strconv.FormatUint(meta.Sequence.Stream, 10)
		q.inflight[id] = m
		out = append(out, Message{
			ID:           id,
			PopToken:     strconv.FormatUint(meta.NumDelivered, 10),
			Body:         m.Data,
			DequeueCount: int(meta.NumDelivered),
		})
	}
	return out, nil
}

// Acknowledge accepts only the token of the latest delivery. An older token
// leaves the entry for the current holder.
func (q *NATS) Acknowledge(ctx context.Context, id, popToken string) error {
	const op = "queue.NATS.Acknowledge"

	q.mu.Lock()
	m, ok := q.inflight[id]
	if ok {
		meta, err := m.Metadata()
		if err != nil || strconv.FormatUint(meta.NumDelivered, 10) != popToken {
			ok = false
		}
	}
	if ok {
		delete(q.inflight, id)
	}
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: message %s: %w", op, id, ErrLeaseLost)
	}

	if err := m.AckSync(nats.Context(ctx)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close drops the connection without unsubscribing, which would delete the
// durable consumer. Unacknowledged messages are redelivered after AckWait.
func (q *NATS) Close() error {
	q.nc.Close()
	return nil
}
