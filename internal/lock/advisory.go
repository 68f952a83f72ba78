package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Advisory is a Postgres advisory lock. Session-scoped, so the connection
// that acquired it is pinned until release.
type Advisory struct {
	db  *sql.DB
	key int64

	mu   sync.Mutex
	conn *sql.Conn
}

func NewAdvisory(db *sql.DB, key int64) *Advisory {
	return &Advisory{db: db, key: key}
}

func (a *Advisory) TryAcquire(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil {
		// already held by this instance
		return false, nil
	}

	conn, err := a.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("checkout conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, "select pg_try_advisory_lock($1)", a.key).Scan(&ok); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return false, nil
	}

	a.conn = conn
	return true, nil
}

func (a *Advisory) Release(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return nil
	}
	conn := a.conn
	a.conn = nil

	var ok bool
	err := conn.QueryRowContext(ctx, "select pg_advisory_unlock($1)", a.key).Scan(&ok)
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("pg_advisory_unlock: %w", err)
	}
	return nil
}
