package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_OngoingRespectsMax(t *testing.T) {
	b := New(Config{Base: time.Second, Factor: 2, Max: 5 * time.Second})
	assert.True(t, b.Ongoing()) // attempt 0: delay == base == 1s <= 5s

	b.attempt = 3 // delay would be 1*2^3 = 8s > 5s
	assert.False(t, b.Ongoing())
}

func TestBackoff_MaxZeroDisablesRetrying(t *testing.T) {
	b := New(Config{Base: time.Second, Factor: 2, Max: 0})
	assert.False(t, b.Ongoing())
}

func TestBackoff_ResetZeroesAttempts(t *testing.T) {
	b := New(Config{Base: time.Millisecond, Factor: 2, Max: time.Second})
	require.NoError(t, b.Wait(context.Background()))
	require.NoError(t, b.Wait(context.Background()))
	assert.Equal(t, 2, b.NumAttempts())
	b.Reset()
	assert.Equal(t, 0, b.NumAttempts())
}

func TestBackoff_WaitCancelsWithContext(t *testing.T) {
	b := New(Config{Base: time.Hour, Factor: 2, Max: time.Hour * 2})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_StopsOnTerminalError(t *testing.T) {
	terminal := errors.New("terminal")
	calls := 0
	err := Do(context.Background(), Config{Base: time.Millisecond, Factor: 2, Max: time.Second},
		func(error) bool { return false },
		func(attempt int) error {
			calls++
			return terminal
		})
	assert.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{Base: time.Millisecond, Factor: 2, Max: time.Second},
		func(error) bool { return true },
		func(attempt int) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsBackoffAndReturnsLastError(t *testing.T) {
	transient := errors.New("transient")
	err := Do(context.Background(), Config{Base: time.Millisecond, Factor: 10, Max: 5 * time.Millisecond},
		func(error) bool { return true },
		func(attempt int) error { return transient })
	assert.ErrorIs(t, err, transient)
}
