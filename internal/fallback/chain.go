// Package fallback tries alternative providers for one logical operation.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Step is one provider's implementation of an operation. Fn must return a
// result already normalized to the operation's shape.
type Step[A, T any] struct {
	Provider string
	Fn       func(ctx context.Context, args A) (T, error)
}

// Chain is an ordered list of providers for a named operation.
type Chain[A, T any] struct {
	operation string
	steps     []Step[A, T]
	logger    *slog.Logger
}

// Option configures a Chain.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used to report provider failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds a chain. The order of steps is the order of attempts.
func New[A, T any](operation string, steps []Step[A, T], opts ...Option) *Chain[A, T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Chain[A, T]{
		operation: operation,
		steps:     steps,
		logger:    o.logger,
	}
}

// Operation returns the operation name.
func (c *Chain[A, T]) Operation() string { return c.operation }

// Providers returns the provider ids in attempt order.
func (c *Chain[A, T]) Providers() []string {
	out := make([]string, len(c.steps))
	for i, s := range c.steps {
		out[i] = s.Provider
	}
	return out
}

// Call tries each provider in order and returns the first success together
// with the provider that produced it. When every provider fails the error is
// a *domain.AllProvidersExhaustedError listing each cause. A cancelled
// context stops the chain and the context error is returned joined with the
// failures seen so far.
func (c *Chain[A, T]) Call(ctx context.Context, args A) (T, string, error) {
	var zero T
	if len(c.steps) == 0 {
		return zero, "", fmt.Errorf("%w: no providers configured for %s", domain.ErrInvalidInput, c.operation)
	}

	exhausted := &domain.AllProvidersExhaustedError{Operation: c.operation}
	for _, step := range c.steps {
		if err := ctx.Err(); err != nil {
			if len(exhausted.Failures) == 0 {
				return zero, "", fmt.Errorf("%s: %w", c.operation, err)
			}
			return zero, "", fmt.Errorf("%s: %w", c.operation, errors.Join(err, exhausted))
		}

		start := time.Now()
		v, err := step.Fn(ctx, args)
		if err == nil {
			return v, step.Provider, nil
		}

		exhausted.Failures = append(exhausted.Failures, domain.ProviderFailure{Provider: step.Provider, Err: err})
		c.logger.Warn("provider failed, trying next",
			"operation", c.operation,
			"provider", step.Provider,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
	}

	return zero, "", exhausted
}
