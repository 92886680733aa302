// Package queue is an at-least-once message channel with visibility-timeout
// leasing. A received message is hidden from other consumers until its lease
// expires; acknowledging it with the matching pop token removes it for good.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrLeaseLost is returned by Acknowledge when the pop token no longer owns
// the message: it was already acknowledged, or its lease expired and another
// receive took it over.
var ErrLeaseLost = errors.New("queue: message lease lost")

type Message struct {
	ID           string
	PopToken     string
	Body         []byte
	DequeueCount int
}

type Queue interface {
	Enqueue(ctx context.Context, body []byte) error
	// ReceiveBatch returns at most max visible messages, each leased for
	// visibility. An empty slice means nothing is available right now.
	ReceiveBatch(ctx context.Context, max int, visibility time.Duration) ([]Message, error)
	Acknowledge(ctx context.Context, id, popToken string) error
	Close() error
}
