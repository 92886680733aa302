package queue

import (
	"fmt"

	"gallery/internal/models"
)

// Open builds the queue backend selected by cfg.Driver. db is only used by
// the postgres driver.
func Open(cfg models.QueueConfig, db pgxConn) (Queue, error) {
	const op = "queue.Open"

	switch cfg.Driver {
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("%s: postgres driver needs a database", op)
		}
		return NewPostgres(db, cfg.Name), nil
	case "memory":
		return NewMemory(), nil
	case "kafka":
		return NewKafka(cfg.Kafka), nil
	case "nats":
		q, err := NewNATS(cfg.NATS)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return q, nil
	default:
		return nil, fmt.Errorf("%s: unknown driver %q", op, cfg.Driver)
	}
}
