package mq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-memory reference implementation of Queue. It polls a
// pending set on a fixed tick (the same ticker-loop shape as klistr's
// AccountResyncer.Start in internal/ap/resync.go) and dispatches due
// messages to the registered handler with a bounded worker pool, mirroring
// the Federator.Federate concurrency cap in internal/ap/federation.go.
type MemoryQueue struct {
	mu      sync.Mutex
	pending map[string]Message

	pollInterval time.Duration
	concurrency  int

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMemoryQueue creates a MemoryQueue. pollInterval controls how often
// delayed messages are checked for eligibility (default 500ms if <= 0).
// concurrency bounds how many messages are handed to the Listen handler at
// once (default 10, matching klistr's federationConcurrency).
func NewMemoryQueue(pollInterval time.Duration, concurrency int) *MemoryQueue {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	return &MemoryQueue{
		pending:      make(map[string]Message),
		pollInterval: pollInterval,
		concurrency:  concurrency,
		closed:       make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, payload []byte, delay time.Duration) error {
	msg := Message{ID: uuid.NewString(), Payload: append([]byte(nil), payload...)}
	if delay > 0 {
		msg.NotBefore = time.Now().Add(delay)
	}
	q.mu.Lock()
	q.pending[msg.ID] = msg
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Listen(ctx context.Context, handler Handler) error {
	sem := make(chan struct{}, q.concurrency)
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closed:
			return nil
		case <-ticker.C:
			for _, msg := range q.dueMessages() {
				sem <- struct{}{}
				wg.Add(1)
				go func(m Message) {
					defer wg.Done()
					defer func() { <-sem }()
					if err := handler(ctx, m); err != nil {
						slog.Debug("mq: handler returned error", "id", m.ID, "error", err)
					}
				}(msg)
			}
		}
	}
}

// dueMessages removes and returns every pending message whose NotBefore has
// elapsed. Handler invocation happens outside the lock.
func (q *MemoryQueue) dueMessages() []Message {
	now := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Message
	for id, msg := range q.pending {
		if msg.NotBefore.IsZero() || !msg.NotBefore.After(now) {
			due = append(due, msg)
			delete(q.pending, id)
		}
	}
	return due
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}
