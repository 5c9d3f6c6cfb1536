// Package lock provides the cross-process single-flight guard for sourcing
// runs. A lease is held for the whole run and released when it ends.
package lock

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotAcquired is returned when another holder owns the lock.
var ErrNotAcquired = eris.New("lock: already held")

// Locker acquires named, exclusive leases.
type Locker interface {
	// Acquire returns ErrNotAcquired when the key is already held. ttl bounds
	// how long a crashed holder can block others; backends that release on
	// disconnect may ignore it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Nop grants every request. Used when only the in-process guard applies.
type Nop struct{}

// Acquire always succeeds.
func (Nop) Acquire(context.Context, string, time.Duration) (Lease, error) {
	return nopLease{}, nil
}

type nopLease struct{}

func (nopLease) Release(context.Context) error { return nil }
