package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected Class
	}{
		{"nil", nil, ClassTerminal},
		{"explicit transient", Transient(errors.New("boom")), ClassTransient},
		{"explicit terminal", Terminal(errors.New("boom")), ClassTerminal},
		{"context canceled", context.Canceled, ClassTerminal},
		{"deadline exceeded", context.DeadlineExceeded, ClassTransient},
		{"rate limit message", errors.New("upstream: too many requests"), ClassTransient},
		{"http 503", errors.New("http status 503: gateway"), ClassTransient},
		{"invalid params", errors.New("rpc: invalid params"), ClassTerminal},
		{"not found", errors.New("transaction not found"), ClassTerminal},
		{"unknown defaults terminal", errors.New("something odd"), ClassTerminal},
		{"wrapped transient", fmt.Errorf("fetch: %w", Transient(errors.New("x"))), ClassTransient},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.err).Class)
		})
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Policy{}, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Policy{BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnTerminal(t *testing.T) {
	t.Parallel()

	calls := 0
	wantErr := Terminal(errors.New("bad request"))
	err := Do(context.Background(), Policy{BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return wantErr
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return Transient(errors.New("still flaky"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "still flaky")
}

func TestDo_HonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, Policy{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}, func(ctx context.Context) error {
		calls++
		return Transient(errors.New("flaky"))
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls, 2)
}

func TestJitterDelay_StaysInBounds(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := jitterDelay(base, 0.25)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}
