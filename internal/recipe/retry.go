package recipe

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Backoff between download attempts. Delays grow exponentially from Initial
// and are capped at Max.
type Policy struct {
	Initial time.Duration // Delay before the first retry.
	Max     time.Duration // Upper bound for any single delay.
}

// Returns the default policy (2s initial, 30s cap).
func DefaultPolicy() Policy {
	return Policy{Initial: 2 * time.Second, Max: 30 * time.Second}
}

// Returns the delay before the given retry (1-based: first retry => 1).
func (p Policy) Delay(retry int) time.Duration {
	if retry <= 0 || p.Initial <= 0 {
		return 0
	}
	d := p.Initial
	for i := 1; i < retry; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Calls fn until it succeeds, returns a permanent error, or has been retried
// retries times. Waiting honours ctx cancellation.
func retry(ctx context.Context, p Policy, retries int, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= retries || !retryable(err) {
			return err
		}

		delay := p.Delay(attempt + 1)
		slog.Warn("attempt failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
}

// Whether an error may go away on its own. Client errors other than 408 and
// 429 will not.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == 408 || se.Code == 429
	}
	return !errors.Is(err, context.Canceled)
}
