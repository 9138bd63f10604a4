package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 10*time.Millisecond, p.Initial)
	assert.Equal(t, 10.0, p.Multiplier)
	assert.Equal(t, 13*time.Second, p.Max)
	assert.Equal(t, 10, p.MaxRetries)
	assert.True(t, p.Jitter)
	assert.NoError(t, p.Validate())
}

func TestBackOff(t *testing.T) {
	p := DefaultPolicy()
	p.Jitter = false
	b := p.BackOff(context.Background())

	want := []time.Duration{
		10 * time.Millisecond,
		100 * time.Millisecond,
		time.Second,
		10 * time.Second,
		13 * time.Second,
		13 * time.Second,
		13 * time.Second,
		13 * time.Second,
		13 * time.Second,
		13 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.NextBackOff(), "retry %d", i+1)
	}
	assert.Equal(t, backoff.Stop, b.NextBackOff(), "stops after MaxRetries")
}

func TestBackOffJitterBounded(t *testing.T) {
	p := NewPolicy(100*time.Millisecond, 2, time.Second, 50, true)
	b := p.BackOff(context.Background())
	for i := 0; i < 3; i++ {
		w := b.NextBackOff()
		base := 100 * time.Millisecond << i
		assert.GreaterOrEqual(t, w, base/2)
		assert.LessOrEqual(t, w, base*3/2)
	}
}

func TestBackOffStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := DefaultPolicy().BackOff(ctx)
	cancel()
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestNewPolicy(t *testing.T) {
	p := NewPolicy(5*time.Second, 0, 2*time.Second, -1, false)
	assert.Equal(t, 2*time.Second, p.Initial, "initial clamped to max")
	assert.Equal(t, 10.0, p.Multiplier)
	assert.Equal(t, 10, p.MaxRetries)
	assert.False(t, p.Jitter)
}

func TestValidate(t *testing.T) {
	assert.Error(t, Policy{Initial: 0, Max: time.Second, Multiplier: 2}.Validate())
	assert.Error(t, Policy{Initial: time.Second, Max: 0, Multiplier: 2}.Validate())
	assert.Error(t, Policy{Initial: time.Second, Max: time.Second, Multiplier: 0.5}.Validate())
	assert.Error(t, Policy{Initial: time.Second, Max: time.Second, Multiplier: 2, MaxRetries: -1}.Validate())
}

func fastPolicy(retries int) Policy {
	return Policy{Initial: time.Millisecond, Multiplier: 1, Max: time.Millisecond, MaxRetries: retries}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var notified []int
	got, err := Do(context.Background(), fastPolicy(5), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("boom")
		}
		return "ok", nil
	}, WithNotify(func(retry int, err error, wait time.Duration) {
		notified = append(notified, retry)
	}))

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDo_Exhausted(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Do(context.Background(), fastPolicy(2), func(context.Context) (int, error) {
		calls++
		return 0, boom
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDo_NotRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), func(context.Context) (int, error) {
		calls++
		return 0, permanent
	}, WithRetryIf(func(err error) bool { return !errors.Is(err, permanent) }))

	assert.ErrorIs(t, err, permanent)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Initial: time.Hour, Multiplier: 1, Max: time.Hour, MaxRetries: 3}

	_, err := Do(ctx, p, func(context.Context) (int, error) {
		return 0, errors.New("boom")
	}, WithNotify(func(int, error, time.Duration) { cancel() }))

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_RetriesOperationTimeout(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, fmt.Errorf("request timed out: %w", context.DeadlineExceeded)
		}
		return 7, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, 2, calls)
}

func TestDo_StopsWhenContextCanceledByOperation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, fastPolicy(3), func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
