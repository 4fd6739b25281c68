// internal/messaging/backoff.go

package messaging

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxDelay caps a single reconnect delay.
const maxDelay = 24 * time.Hour

// newReconnectBackOff yields base, 2*base, 4*base ... for maxAttempts calls
// and backoff.Stop afterwards. No jitter.
func newReconnectBackOff(base time.Duration, maxAttempts int) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = ReconnectDelay(base, maxAttempts)
	eb.MaxElapsedTime = 0
	eb.Reset()

	return backoff.WithMaxRetries(eb, uint64(maxAttempts))
}

// ReconnectDelay is the delay before the given 1-based attempt, capped at
// maxDelay.
func ReconnectDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := base
	if d > maxDelay {
		return maxDelay
	}
	for i := 1; i < attempt; i++ {
		if d > maxDelay/2 {
			return maxDelay
		}
		d *= 2
	}
	return d
}
