package worker

import (
	"context"
	"time"
)

// DefaultMaxRetries is the number of attempts per item before giving up.
const DefaultMaxRetries = 3

// BackoffDelays is the wait after the 1st, 2nd and later failed attempts.
var BackoffDelays = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}

// BackoffDelay returns the wait after failed attempt n (1-indexed).
// Attempts past the table reuse the last delay.
func BackoffDelay(n int) time.Duration {
	idx := min(max(n-1, 0), len(BackoffDelays)-1)
	return BackoffDelays[idx]
}

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
