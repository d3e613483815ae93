// Package sqlitekv is a concrete kv.Store backed by database/sql, grounded
// in klistr's internal/db/db.go (driver detection, SQLite PRAGMA tuning, the
// "kv" table it already migrates for polling-cursor state). Unlike the
// in-memory kv.MemoryStore, entries survive a process restart, which matters
// for the inbox idempotency set across a redeploy.
package sqlitekv

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/klppl/fedcore/kv"
)

// Store is a kv.Store implementation over a SQL table. It supports the same
// two drivers klistr's db.Open detects: "sqlite" for bare paths/"sqlite://"
// DSNs, and "postgres" for "postgres://"/"postgresql://" DSNs.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens (and migrates) a kv table at databaseURL, using the same
// driver-detection rule as internal/db/db.go's detectDriver.
func Open(databaseURL string) (*Store, error) {
	driver, dsn := detectDriver(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlitekv: ping: %w", err)
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
				return nil, fmt.Errorf("sqlitekv: pragma (%s): %w", pragma, err)
			}
		}
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const ddl = `CREATE TABLE IF NOT EXISTS fedcore_kv (
		k        TEXT PRIMARY KEY,
		v        BLOB NOT NULL,
		expires  BIGINT NOT NULL
	)`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("sqlitekv: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// expiresAt returns the Unix nanosecond deadline for ttl, or 0 for "never
// expires", mirroring kv.MemoryStore's zero-time convention.
func expiresAt(ttl time.Duration) int64 {
	switch {
	case ttl < 0:
		return 0
	case ttl == 0:
		return time.Now().Add(-time.Nanosecond).UnixNano()
	default:
		return time.Now().Add(ttl).UnixNano()
	}
}

func expired(deadline int64) bool {
	return deadline != 0 && time.Now().UnixNano() > deadline
}

func (s *Store) Get(ctx context.Context, key kv.Key) ([]byte, bool, error) {
	var value []byte
	var deadline int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT v, expires FROM fedcore_kv WHERE k = ?`), key.String()).Scan(&value, &deadline)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlitekv: get: %w", err)
	}
	if expired(deadline) {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key kv.Key, value []byte, ttl time.Duration) error {
	k := key.String()
	deadline := expiresAt(ttl)
	var q string
	if s.driver == "sqlite" {
		q = `INSERT INTO fedcore_kv (k, v, expires) VALUES (?, ?, ?)
			ON CONFLICT(k) DO UPDATE SET v = excluded.v, expires = excluded.expires`
	} else {
		q = `INSERT INTO fedcore_kv (k, v, expires) VALUES ($1, $2, $3)
			ON CONFLICT(k) DO UPDATE SET v = EXCLUDED.v, expires = EXCLUDED.expires`
	}
	if _, err := s.db.ExecContext(ctx, q, k, value, deadline); err != nil {
		return fmt.Errorf("sqlitekv: set: %w", err)
	}
	return nil
}

// SetIfAbsent inserts value under key only if absent or expired. Inside one
// transaction it first selects any existing row for key, then inserts,
// replaces the expired row, or leaves a live row alone, so it can tell the
// caller which outcome occurred (the Store interface requires that signal,
// unlike db.go's fire-and-forget AddObject upsert).
func (s *Store) SetIfAbsent(ctx context.Context, key kv.Key, value []byte, ttl time.Duration) (bool, error) {
	k := key.String()
	deadline := expiresAt(ttl)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlitekv: begin: %w", err)
	}
	defer tx.Rollback()

	var existingDeadline int64
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT expires FROM fedcore_kv WHERE k = ?`), k).Scan(&existingDeadline)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, s.rebindN(`INSERT INTO fedcore_kv (k, v, expires) VALUES (?, ?, ?)`, 3), k, value, deadline); err != nil {
			return false, fmt.Errorf("sqlitekv: insert: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("sqlitekv: check existing: %w", err)
	case expired(existingDeadline):
		if _, err := tx.ExecContext(ctx, s.rebindN(`UPDATE fedcore_kv SET v = ?, expires = ? WHERE k = ?`, 3), value, deadline, k); err != nil {
			return false, fmt.Errorf("sqlitekv: replace expired: %w", err)
		}
	default:
		return false, tx.Commit()
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlitekv: commit: %w", err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key kv.Key) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM fedcore_kv WHERE k = ?`), key.String()); err != nil {
		return fmt.Errorf("sqlitekv: delete: %w", err)
	}
	return nil
}

// Sweep deletes every expired row. Intended to be called on a ticker by the
// host application, the persistent-storage analogue of kv.MemoryStore's
// background sweeper goroutine.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM fedcore_kv WHERE expires != 0 AND expires < ?`), time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlitekv: sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Debug("sqlitekv: swept expired entries", "count", n)
	}
	return n, nil
}

// rebind rewrites a single "?" placeholder query for PostgreSQL ($1).
func (s *Store) rebind(q string) string {
	return s.rebindN(q, 1)
}

// rebindN rewrites a query with n "?" placeholders into PostgreSQL's
// positional form when the driver is postgres; SQLite keeps "?" as-is.
func (s *Store) rebindN(q string, n int) string {
	if s.driver != "postgres" {
		return q
	}
	out := q
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

var _ kv.Store = (*Store)(nil)
