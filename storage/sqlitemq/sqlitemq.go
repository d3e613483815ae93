// Package sqlitemq is a concrete mq.Queue backed by database/sql, grounded
// in klistr's internal/db/db.go (driver detection, PRAGMA tuning, migration
// idiom) and mq.MemoryQueue's poll-and-dispatch shape — generalized so the
// outbox retry queue survives a process restart instead of dropping
// in-flight deliveries, which klistr's fire-and-forget goroutines never
// needed to worry about but a general-purpose engine does.
package sqlitemq

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/klppl/fedcore/mq"
)

// Queue is an mq.Queue implementation over a SQL table of pending messages.
type Queue struct {
	db     *sql.DB
	driver string

	pollInterval time.Duration
	concurrency  int

	closeOnce sync.Once
	closed    chan struct{}
}

// Open opens (and migrates) a pending-messages table at databaseURL.
// pollInterval and concurrency default the same way mq.NewMemoryQueue does
// (500ms, 10 concurrent handler invocations).
func Open(databaseURL string, pollInterval time.Duration, concurrency int) (*Queue, error) {
	driver, dsn := detectDriver(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitemq: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlitemq: ping: %w", err)
	}

	if driver == "sqlite" {
		const maxConns = 4
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				return nil, fmt.Errorf("sqlitemq: pragma (%s): %w", pragma, err)
			}
		}
	}

	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if concurrency <= 0 {
		concurrency = 10
	}

	q := &Queue{
		db:           db,
		driver:       driver,
		pollInterval: pollInterval,
		concurrency:  concurrency,
		closed:       make(chan struct{}),
	}
	if err := q.migrate(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) migrate() error {
	const ddl = `CREATE TABLE IF NOT EXISTS fedcore_mq (
		id          TEXT PRIMARY KEY,
		payload     BLOB NOT NULL,
		not_before  BIGINT NOT NULL,
		claimed_by  TEXT NOT NULL DEFAULT '',
		claimed_at  BIGINT NOT NULL DEFAULT 0
	)`
	if _, err := q.db.Exec(ddl); err != nil {
		return fmt.Errorf("sqlitemq: migrate: %w", err)
	}
	if _, err := q.db.Exec(`CREATE INDEX IF NOT EXISTS fedcore_mq_not_before ON fedcore_mq(not_before)`); err != nil {
		return fmt.Errorf("sqlitemq: migrate index: %w", err)
	}
	return nil
}

func (q *Queue) Enqueue(ctx context.Context, payload []byte, delay time.Duration) error {
	var notBefore int64
	if delay > 0 {
		notBefore = time.Now().Add(delay).UnixNano()
	}
	var query string
	if q.driver == "sqlite" {
		query = `INSERT INTO fedcore_mq (id, payload, not_before) VALUES (?, ?, ?)`
	} else {
		query = `INSERT INTO fedcore_mq (id, payload, not_before) VALUES ($1, $2, $3)`
	}
	if _, err := q.db.ExecContext(ctx, query, uuid.NewString(), payload, notBefore); err != nil {
		return fmt.Errorf("sqlitemq: enqueue: %w", err)
	}
	return nil
}

// Listen drains due messages on a fixed poll tick, claiming each with this
// process's instance id so a crash mid-handler leaves the row re-claimable
// by the next poller rather than lost — the persistent-storage counterpart
// to mq.MemoryQueue.Listen's in-memory dueMessages/worker-pool loop.
func (q *Queue) Listen(ctx context.Context, handler mq.Handler) error {
	workerID := uuid.NewString()
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
			due, err := q.claimDue(ctx, workerID)
			if err != nil {
				slog.Debug("sqlitemq: claim failed", "error", err)
				continue
			}
			for _, msg := range due {
				sem <- struct{}{}
				wg.Add(1)
				go func(m mq.Message) {
					defer wg.Done()
					defer func() { <-sem }()
					if err := handler(ctx, m); err != nil {
						slog.Debug("sqlitemq: handler returned error", "id", m.ID, "error", err)
					}
					if _, delErr := q.db.ExecContext(ctx, q.rebind(`DELETE FROM fedcore_mq WHERE id = ?`), m.ID); delErr != nil {
						slog.Warn("sqlitemq: failed to remove delivered message", "id", m.ID, "error", delErr)
					}
				}(msg)
			}
		}
	}
}

// claimDue selects every row whose not_before has elapsed and isn't
// currently claimed by a live worker (claimed_at within ten poll intervals'
// grace, so a crashed worker's claim is eventually reclaimed), tags them
// with workerID, and returns them for dispatch.
func (q *Queue) claimDue(ctx context.Context, workerID string) ([]mq.Message, error) {
	now := time.Now().UnixNano()
	staleClaimBefore := time.Now().Add(-10 * q.pollInterval).UnixNano()

	rows, err := q.db.QueryContext(ctx, q.rebindN(`
		SELECT id, payload FROM fedcore_mq
		WHERE not_before <= ? AND (claimed_by = '' OR claimed_at < ?)
		LIMIT 100`, 2), now, staleClaimBefore)
	if err != nil {
		return nil, fmt.Errorf("sqlitemq: select due: %w", err)
	}
	var candidates []mq.Message
	for rows.Next() {
		var m mq.Message
		if err := rows.Scan(&m.ID, &m.Payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlitemq: scan due: %w", err)
		}
		candidates = append(candidates, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []mq.Message
	for _, m := range candidates {
		res, err := q.db.ExecContext(ctx, q.rebindN(`
			UPDATE fedcore_mq SET claimed_by = ?, claimed_at = ?
			WHERE id = ? AND (claimed_by = '' OR claimed_at < ?)`, 4),
			workerID, now, m.ID, staleClaimBefore)
		if err != nil {
			return nil, fmt.Errorf("sqlitemq: claim: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			claimed = append(claimed, m)
		}
	}
	return claimed, nil
}

func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return q.db.Close()
}

func (q *Queue) rebind(query string) string {
	return q.rebindN(query, 1)
}

func (q *Queue) rebindN(query string, n int) string {
	if q.driver != "postgres" {
		return query
	}
	out := query
	for i := 1; i <= n; i++ {
		out = strings.Replace(out, "?", fmt.Sprintf("$%d", i), 1)
	}
	return out
}

func detectDriver(u string) (driver, dsn string) {
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return "postgres", u
	}
	if strings.HasPrefix(u, "sqlite://") {
		return "sqlite", strings.TrimPrefix(u, "sqlite://")
	}
	return "sqlite", u
}

var _ mq.Queue = (*Queue)(nil)
