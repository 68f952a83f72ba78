// Package lock provides the cluster-wide exclusivity lock around dispatch
// cycles. Acquisition is always non-blocking: a busy lock means another
// replica is dispatching and this cycle should be skipped.
package lock

import "context"

type Locker interface {
	// TryAcquire returns true when the lock was taken. false with a nil
	// error means someone else holds it.
	TryAcquire(ctx context.Context) (bool, error)

	// Release frees the lock. Callers release exactly once per successful
	// TryAcquire.
	Release(ctx context.Context) error
}
