package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	ok, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	require.NoError(t, l.Release(ctx))

	ok, err = l.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "acquire must succeed after release")
	require.NoError(t, l.Release(ctx))
}

func TestLocalSingleWinner(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	var won atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := l.TryAcquire(ctx)
			assert.NoError(t, err)
			if ok {
				won.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
}
