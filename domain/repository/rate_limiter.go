package repository

import (
	"context"
	"sync"
	"time"
)

// slidingWindowLimiter bounds outbound API calls to maxCalls per window.
// A call is recorded only after it succeeds, so failed attempts do not
// consume quota.
type slidingWindowLimiter struct {
	mu       sync.Mutex
	maxCalls int
	window   time.Duration
	calls    []time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func newSlidingWindowLimiter(maxCalls int, window time.Duration) *slidingWindowLimiter {
	return &slidingWindowLimiter{
		maxCalls: maxCalls,
		window:   window,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Wait blocks until a call slot is available. When the window is full it
// sleeps until the oldest recorded call slides out.
func (l *slidingWindowLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.evict(now)
		if len(l.calls) < l.maxCalls {
			l.mu.Unlock()
			return nil
		}
		wait := l.window - now.Sub(l.calls[0])
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *slidingWindowLimiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evict(now)
	l.calls = append(l.calls, now)
}

func (l *slidingWindowLimiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	l.calls = l.calls[i:]
}
