// Package mq defines the message-queue contract the outbox delivery pipeline
// uses to hold pending deliveries for retry with backoff. Messages are
// JSON-serializable; delivery is at-least-once and unordered, per spec.md §6.
package mq

import (
	"context"
	"time"
)

// Message is a single queued payload plus the scheduling metadata a Queue
// implementation needs to honor delay/retry semantics.
type Message struct {
	ID      string
	Payload []byte
	// NotBefore is when the message becomes eligible for delivery. Zero
	// means immediately.
	NotBefore time.Time
}

// Handler processes one message. Returning an error does not requeue the
// message — retry is the outbox pipeline's responsibility (it re-enqueues
// explicitly with a computed delay); a Queue only delivers what's enqueued.
type Handler func(ctx context.Context, msg Message) error

// Queue is the MQ contract. Implementations must be safe for concurrent use
// and support at-least-once delivery; Listen's handler MAY be invoked
// concurrently for independent messages.
type Queue interface {
	// Enqueue adds a message for later delivery. If delay > 0, the message
	// is not handed to a Listen handler until delay has elapsed.
	Enqueue(ctx context.Context, payload []byte, delay time.Duration) error

	// Listen registers the single handler that drains the queue. Listen
	// blocks until ctx is cancelled; in-flight messages are redelivered (not
	// acknowledged) if the process exits before the handler returns, which
	// is what gives the at-least-once guarantee.
	Listen(ctx context.Context, handler Handler) error

	// Close releases any resources held by the queue (background workers,
	// connections). Safe to call after Listen's ctx has been cancelled.
	Close() error
}
