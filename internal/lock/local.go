package lock

import (
	"context"
	"sync"
)

// Local is a single-process lock for tests and one-node deployments.
type Local struct {
	mu sync.Mutex
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) TryAcquire(context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

func (l *Local) Release(context.Context) error {
	l.mu.Unlock()
	return nil
}
