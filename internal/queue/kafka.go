package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"gallery/internal/models"
)

// Kafka publishes to a topic and consumes it through a consumer group.
// Kafka has no per-message visibility, so leases live in a leaseTable and an
// offset is committed only once every earlier offset of its partition is
// acknowledged. Leases are process-local: after a crash or rebalance the
// group resumes from the last committed offset and redelivers the rest.
type Kafka struct {
	cfg    models.KafkaConfig
	writer *kafka.Writer

	fetchMu   sync.Mutex
	newReader func() kafkaReader

	mu     sync.Mutex
	reader kafkaReader
	leases *leaseTable
	now    func() time.Time

	// commitMu orders commits so the group offset never moves backwards.
	commitMu  sync.Mutex
	committed map[int]int64
}

// kafkaReader is the consumer-group side of *kafka.Reader.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafka(cfg models.KafkaConfig) *Kafka {
	q := &Kafka{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		leases:    newLeaseTable(),
		committed: map[int]int64{},
		now:       time.Now,
	}
	q.newReader = func() kafkaReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			GroupID:     cfg.GroupID,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafka.FirstOffset,
		})
	}
	return q
}

func (q *Kafka) Enqueue(ctx context.Context, body []byte) error {
	const op = "queue.Kafka.Enqueue"

	if err := q.writer.WriteMessages(ctx, kafka.Message{Value: body}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// consumer joins the group on first use so that a producer-only process
// never takes partitions away from the workers. Callers hold fetchMu.
func (q *Kafka) consumer() kafkaReader {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reader == nil {
		q.reader = q.newReader()
	}
	return q.reader
}

func (q *Kafka) ReceiveBatch(ctx context.Context, max int, visibility time.Duration) ([]Message, error) {
	const op = "queue.Kafka.ReceiveBatch"

	if max < 1 {
		return nil, fmt.Errorf("%s: max must be positive, got %d", op, max)
	}

	q.mu.Lock()
	out := q.leases.reclaim(q.now(), max, visibility)
	q.mu.Unlock()
	if len(out) == max {
		return out, nil
	}

	q.fetchMu.Lock()
	defer q.fetchMu.Unlock()
	reader := q.consumer()

	fetchCtx, cancel := context.WithTimeout(ctx, q.cfg.FetchWait)
	defer cancel()
	for len(out) < max {
		m, err := reader.FetchMessage(fetchCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			if len(out) > 0 {
				// Fetched messages are leased already; hand them out.
				break
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		q.mu.Lock()
		out = append(out, q.leases.add(m.Partition, m.Offset, m.Value, q.now(), visibility))
		q.mu.Unlock()
	}
	return out, nil
}

func (q *Kafka) Acknowledge(ctx context.Context, id, popToken string) error {
	const op = "queue.Kafka.Acknowledge"

	q.mu.Lock()
	partition, offset, commit, err := q.leases.ack(id, popToken)
	reader := q.reader
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: message %s: %w", op, id, err)
	}
	if !commit || reader == nil {
		return nil
	}

	q.commitMu.Lock()
	defer q.commitMu.Unlock()
	if offset <= q.committedOffset(partition) {
		return nil
	}
	err = reader.CommitMessages(ctx, kafka.Message{Topic: q.cfg.Topic, Partition: partition, Offset: offset})
	if err != nil {
		// Left uncommitted; the next acknowledgement on the partition covers it.
		return fmt.Errorf("%s: commit %d:%d: %w", op, partition, offset, err)
	}
	q.committed[partition] = offset
	return nil
}

// committedOffset is called with commitMu held.
func (q *Kafka) committedOffset(partition int) int64 {
	if off, ok := q.committed[partition]; ok {
		return off
	}
	return -1
}

func (q *Kafka) Close() error {
	err := q.writer.Close()
	q.fetchMu.Lock()
	defer q.fetchMu.Unlock()
	q.mu.Lock()
	reader := q.reader
	q.mu.Unlock()
	if reader != nil {
		err = errors.Join(err, reader.Close())
	}
	return err
}
