package syncer

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// retryDelay computes the wait after retry number n (1-based): base·2^n,
// jittered by ±25%, capped at max. Jitter keeps a burst of failed operations
// from retrying in lockstep.
func retryDelay(base, max time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	backoff := retry.WithCappedDuration(max,
		retry.WithJitterPercent(25, retry.NewExponential(base)))

	// The exponential source yields base·2^(i-1) on its i-th call.
	var delay time.Duration
	for i := 0; i <= n; i++ {
		d, stop := backoff.Next()
		if stop {
			break
		}
		delay = d
	}
	return delay
}
