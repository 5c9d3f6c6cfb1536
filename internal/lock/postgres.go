package lock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sourcing/internal/db"
)

// Postgres is a Locker backed by a transaction-scoped advisory lock. The
// transaction stays open for the lease, so a crashed holder releases the
// lock when its connection drops.
type Postgres struct {
	pool db.Pool
}

// NewPostgres creates an advisory locker on pool.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Acquire tries pg_try_advisory_xact_lock on the hashed key. ttl is unused.
func (p *Postgres) Acquire(ctx context.Context, key string, _ time.Duration) (Lease, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "lock: postgres begin")
	}

	var ok bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(hashtext($1))`, key).Scan(&ok); err != nil {
		_ = tx.Rollback(ctx)
		return nil, eris.Wrapf(err, "lock: postgres acquire %s", key)
	}
	if !ok {
		_ = tx.Rollback(ctx)
		return nil, ErrNotAcquired
	}
	return &pgLease{tx: tx, key: key}, nil
}

type pgLease struct {
	tx  pgx.Tx
	key string
}

func (l *pgLease) Release(ctx context.Context) error {
	// The run context may already be cancelled; the rollback must still go out.
	ctx = context.WithoutCancel(ctx)
	if err := l.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return eris.Wrapf(err, "lock: postgres release %s", l.key)
	}
	return nil
}
