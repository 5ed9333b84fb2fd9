// Package retry runs provider calls with bounded, signal-specific retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Policy bounds retries for one class of failure.
type Policy struct {
	Name string

	// MaxAttempts counts the first try. Values below 1 are treated as 1.
	MaxAttempts int

	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Fixed disables exponential growth of BaseDelay.
	Fixed bool

	// Retryable selects the failures this policy owns.
	Retryable func(error) bool
}

// Overload retries "service unavailable" signals with exponential backoff.
func Overload() Policy {
	return Policy{
		Name:        "overload",
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Retryable:   domain.IsUnavailable,
	}
}

// Throttle retries "too many requests" signals after a fixed delay derived
// from the provider's per-minute quota.
func Throttle(callsPerMinute int) Policy {
	if callsPerMinute <= 0 {
		callsPerMinute = 60
	}
	return Policy{
		Name:        "throttle",
		MaxAttempts: 2,
		BaseDelay:   time.Minute / time.Duration(callsPerMinute),
		MaxDelay:    time.Minute,
		Fixed:       true,
		Retryable:   domain.IsThrottled,
	}
}

// Delay returns the wait before retry number n, where n=0 is the wait after
// the first failure.
func (p Policy) Delay(n int) time.Duration {
	if p.Fixed {
		return p.BaseDelay
	}
	d := p.BaseDelay
	for i := 0; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Error is the final failure of Do, tagged with the number of attempts made.
type Error struct {
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Attempts extracts the attempt count from an error returned by Do.
func Attempts(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.Attempts
	}
	return 0
}

// Gate is consulted before every attempt, typically a rate limiter.
type Gate func(ctx context.Context) error

// Do calls op until it succeeds, fails with an error no policy owns, or the
// owning policy runs out of attempts. Each policy keeps its own budget.
// Context cancellation stops Do without further attempts.
func Do[T any](ctx context.Context, gate Gate, op func(ctx context.Context) (T, error), policies ...Policy) (T, error) {
	var zero T
	used := make([]int, len(policies))
	attempts := 0

	for {
		if gate != nil {
			if err := gate(ctx); err != nil {
				return zero, &Error{Attempts: attempts, Err: err}
			}
		}

		attempts++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, &Error{Attempts: attempts, Err: err}
		}

		idx := owner(policies, err)
		if idx < 0 {
			return zero, &Error{Attempts: attempts, Err: err}
		}
		used[idx]++
		p := policies[idx]
		if used[idx] >= p.maxAttempts() {
			return zero, &Error{Attempts: attempts, Err: err}
		}

		delay := p.Delay(used[idx] - 1)
		var te *domain.TransientProviderError
		if errors.As(err, &te) && te.RetryAfter > delay {
			delay = te.RetryAfter
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		if serr := sleep(ctx, delay); serr != nil {
			return zero, &Error{Attempts: attempts, Err: fmt.Errorf("%w (last failure: %v)", serr, err)}
		}
	}
}

func owner(policies []Policy, err error) int {
	for i, p := range policies {
		if p.Retryable != nil && p.Retryable(err) {
			return i
		}
	}
	return -1
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
