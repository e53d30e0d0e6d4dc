package ratelimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_AcquireReleaseRoundTrips(t *testing.T) {
	l := New(Config{Interval: 1, MaxPerInterval: 10, MaxConcurrent: 2})
	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestLimiter_ConcurrencyCapBlocksExtraAcquire(t *testing.T) {
	l := New(Config{Interval: 1, MaxPerInterval: 100, MaxConcurrent: 1})

	release1, err := l.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release1()
	release2, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestLimiter_RateCapLimitsThroughput(t *testing.T) {
	l := New(Config{Interval: 1, MaxPerInterval: 1, MaxConcurrent: 10})

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_ReleaseAllowsNextWaiter(t *testing.T) {
	l := New(Config{Interval: 1, MaxPerInterval: 100, MaxConcurrent: 1})
	release1, err := l.Acquire(context.Background())
	require.NoError(t, err)

	var acquired int32
	done := make(chan struct{})
	go func() {
		release2, err := l.Acquire(context.Background())
		if err == nil {
			atomic.StoreInt32(&acquired, 1)
			release2()
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&acquired))
	release1()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired after release")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&acquired))
}
