package orchestrator

import "time"

const (
	backoffInitial = 1 * time.Second
	backoffCap     = 30 * time.Second
)

// Backoff returns the advisory wait before the next poll after the
// given number of transient failures. Doubles each attempt up to the
// cap. Callers own their own cadence; this is a recommendation, the
// orchestrator never sleeps on its own.
func Backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return backoffInitial
	}
	d := backoffInitial
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
