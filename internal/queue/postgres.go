package queue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres keeps messages in the queue_messages table. Leasing is a
// visible_at timestamp pushed into the future on receive; SKIP LOCKED keeps
// concurrent consumers from claiming the same rows.
type Postgres struct {
	db   pgxConn
	name string
}

func NewPostgres(db pgxConn, name string) *Postgres {
	return &Postgres{db: db, name: name}
}

func (q *Postgres) Enqueue(ctx context.Context, body []byte) error {
	const op = "queue.Postgres.Enqueue"

	_, err := q.db.Exec(ctx,
		`INSERT INTO queue_messages (queue, body) VALUES ($1, $2)`,
		q.name, string(body))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (q *Postgres) ReceiveBatch(ctx context.Context, max int, visibility time.Duration) ([]Message, error) {
	const op = "queue.Postgres.ReceiveBatch"

	if max < 1 {
		return nil, fmt.Errorf("%s: max must be positive, got %d", op, max)
	}

	rows, err := q.db.Query(ctx, `
		UPDATE queue_messages m
		SET visible_at = now() + make_interval(secs => $3),
		    pop_receipt = $4::text || '-' || m.id::text,
		    dequeue_count = m.dequeue_count + 1
		WHERE m.id IN (
			SELECT id FROM queue_messages
			WHERE queue = $1 AND visible_at <= now()
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING m.id, m.pop_receipt, m.body, m.dequeue_count`,
		q.name, max, visibility.Seconds(), uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []Message
	ids := map[string]int64{}
	for rows.Next() {
		var (
			id      int64
			receipt string
			body    string
			count   int
		)
		if err := rows.Scan(&id, &receipt, &body, &count); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		msg := Message{
			ID:           strconv.FormatInt(id, 10),
			PopToken:     receipt,
			Body:         []byte(body),
			DequeueCount: count,
		}
		ids[msg.ID] = id
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sort.Slice(out, func(i, j int) bool { return ids[out[i].ID] < ids[out[j].ID] })
	return out, nil
}

func (q *Postgres) Acknowledge(ctx context.Context, id, popToken string) error {
	const op = "queue.Postgres.Acknowledge"

	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid id %q: %w", op, id, err)
	}
	tag, err := q.db.Exec(ctx,
		`DELETE FROM queue_messages WHERE queue = $1 AND id = $2 AND pop_receipt = $3`,
		q.name, n, popToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: message %s: %w", op, id, ErrLeaseLost)
	}
	return nil
}

// Close is a no-op; the pool belongs to the metadata store.
func (q *Postgres) Close() error { return nil }
