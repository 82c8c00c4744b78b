// Package retry provides a bounded, fixed-delay retry policy with an
// injectable sleeper so callers can test attempt sequencing without waiting.
package retry

import (
	"context"
	"time"
)

// Policy bounds retries: MaxAttempts total tries with Delay between them.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration

	// Sleep defaults to time.Sleep; tests inject a recorder.
	Sleep func(time.Duration)
}

// Do invokes fn until it succeeds, attempts are exhausted, or ctx is done.
// It returns the number of attempts made and the last error (nil on
// success). A cancelled context surfaces as ctx.Err().
func (p Policy) Do(ctx context.Context, fn func() error) (int, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = fn()
		if lastErr == nil {
			return attempt, nil
		}

		if attempt < attempts && p.Delay > 0 {
			sleep(p.Delay)
		}
	}
	return attempts, lastErr
}
