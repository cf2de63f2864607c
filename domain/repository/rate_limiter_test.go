package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(maxCalls int) (*slidingWindowLimiter, *time.Time, *[]time.Duration) {
	now := time.Unix(1000, 0)
	var slept []time.Duration

	l := newSlidingWindowLimiter(maxCalls, time.Minute)
	l.now = func() time.Time { return now }
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	}
	return l, &now, &slept
}

func TestLimiterAllowsUpToWindowCapacity(t *testing.T) {
	l, _, slept := newTestLimiter(3)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(context.Background()))
		l.Record()
	}
	assert.Empty(t, *slept)
}

func TestLimiterWaitsUntilOldestCallExpires(t *testing.T) {
	l, now, slept := newTestLimiter(3)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(context.Background()))
		l.Record()
		*now = now.Add(10 * time.Second)
	}

	// window is full; the oldest call is 30s old, so a 30s wait frees
	// one slot
	require.NoError(t, l.Wait(context.Background()))
	require.Len(t, *slept, 1)
	assert.Equal(t, 30*time.Second, (*slept)[0])
}

func TestLimiterWaitAloneDoesNotConsumeQuota(t *testing.T) {
	l, _, slept := newTestLimiter(1)

	// repeated waits without Record model failed calls, which must not
	// eat into the budget
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Empty(t, *slept)

	l.Record()
	require.NoError(t, l.Wait(context.Background()))
	assert.Len(t, *slept, 1)
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	l := newSlidingWindowLimiter(1, time.Minute)
	l.Record()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.Wait(ctx))
}
