// Package ratelimit spaces calls to upstream providers.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter grants at most one acquisition per interval.
//
// Callers queue for a single slot and hold it while they wait, and the gap
// is measured from the moment the previous acquisition was granted, so two
// grants are never closer than the interval however late a waiter wakes. A
// caller whose context ends while waiting leaves the last grant untouched.
type Limiter struct {
	name     string
	interval time.Duration
	slot     chan struct{}
	last     time.Time
	granted  func(time.Time)
}

// NewLimiter creates a limiter for a provider. A non-positive interval
// disables limiting.
func NewLimiter(name string, interval time.Duration) *Limiter {
	return &Limiter{
		name:     name,
		interval: interval,
		slot:     make(chan struct{}, 1),
	}
}

// Acquire blocks until the caller may issue its call.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate limiter %s: %w", l.name, err)
	}
	if l.interval <= 0 {
		return nil
	}

	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("rate limiter %s: %w", l.name, ctx.Err())
	}
	defer func() { <-l.slot }()

	if !l.last.IsZero() {
		if wait := time.Until(l.last.Add(l.interval)); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return fmt.Errorf("rate limiter %s: %w", l.name, ctx.Err())
			}
		}
	}
	l.last = time.Now()
	if l.granted != nil {
		l.granted(l.last)
	}
	return nil
}

// Name returns the provider id.
func (l *Limiter) Name() string { return l.name }

// Interval returns the configured spacing.
func (l *Limiter) Interval() time.Duration { return l.interval }

// Registry holds one limiter per provider id.
type Registry struct {
	mu              sync.Mutex
	limiters        map[string]*Limiter
	defaultInterval time.Duration
}

// NewRegistry creates a registry. Providers that were never registered get
// defaultInterval.
func NewRegistry(defaultInterval time.Duration) *Registry {
	return &Registry{
		limiters:        make(map[string]*Limiter),
		defaultInterval: defaultInterval,
	}
}

// Register sets the interval of a provider, replacing any earlier limiter.
func (r *Registry) Register(provider string, interval time.Duration) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := NewLimiter(provider, interval)
	r.limiters[provider] = l
	return l
}

// Get returns the limiter of provider, creating it with the default
// interval on first use.
func (r *Registry) Get(provider string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[provider]
	if !ok {
		l = NewLimiter(provider, r.defaultInterval)
		r.limiters[provider] = l
	}
	return l
}

// Acquire waits on the limiter of provider.
func (r *Registry) Acquire(ctx context.Context, provider string) error {
	return r.Get(provider).Acquire(ctx)
}
