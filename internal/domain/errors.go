package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrCacheMiss is returned by a CacheStore when no fresh rows exist.
	ErrCacheMiss = errors.New("cache miss")

	// ErrNoToken is returned when the token supplier has no bearer token.
	ErrNoToken = errors.New("no bearer token available")

	ErrUnknownKind  = errors.New("unknown entity kind")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// TransientReason classifies a retryable provider failure.
type TransientReason string

const (
	ReasonUnavailable TransientReason = "unavailable"
	ReasonThrottled   TransientReason = "throttled"
)

// TransientProviderError is a provider failure that may succeed on retry.
type TransientProviderError struct {
	Provider   string
	Reason     TransientReason
	StatusCode int
	// RetryAfter is the provider's requested wait, zero when not given.
	RetryAfter time.Duration
	Err        error
}

func (e *TransientProviderError) Error() string {
	msg := fmt.Sprintf("provider %s %s", e.Provider, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// PermanentProviderError is a provider failure that retrying will not fix.
type PermanentProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *PermanentProviderError) Error() string {
	msg := fmt.Sprintf("provider %s failed", e.Provider)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PermanentProviderError) Unwrap() error { return e.Err }

// ProviderFailure is one step of an exhausted fallback chain.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Err      error  `json:"-"`
}

// AllProvidersExhaustedError is returned when every provider of an operation failed.
type AllProvidersExhaustedError struct {
	Operation string
	Failures  []ProviderFailure
}

func (e *AllProvidersExhaustedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Provider, f.Err)
	}
	return fmt.Sprintf("all providers exhausted for %s: %s", e.Operation, strings.Join(parts, "; "))
}

func (e *AllProvidersExhaustedError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// CacheUnavailableError wraps a storage failure. Readers treat it as a miss.
type CacheUnavailableError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *CacheUnavailableError) Error() string {
	return fmt.Sprintf("cache unavailable: %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *CacheUnavailableError) Unwrap() error { return e.Err }

// PartialAggregationError reports the kinds that failed in an aggregate read.
type PartialAggregationError struct {
	Ticker string
	Failed map[Kind]error
}

func (e *PartialAggregationError) Error() string {
	kinds := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return fmt.Sprintf("partial aggregation for %s: %d kinds failed (%s)", e.Ticker, len(kinds), strings.Join(kinds, ", "))
}

func (e *PartialAggregationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

// IsTransient reports whether err carries a transient provider failure.
func IsTransient(err error) bool {
	var te *TransientProviderError
	return errors.As(err, &te)
}

// IsThrottled reports whether err is a "too many requests" signal.
func IsThrottled(err error) bool {
	var te *TransientProviderError
	return errors.As(err, &te) && te.Reason == ReasonThrottled
}

// IsUnavailable reports whether err is a "service unavailable" signal.
func IsUnavailable(err error) bool {
	var te *TransientProviderError
	return errors.As(err, &te) && te.Reason == ReasonUnavailable
}

// IsCacheUnavailable reports whether err is a storage failure.
func IsCacheUnavailable(err error) bool {
	var ce *CacheUnavailableError
	return errors.As(err, &ce)
}
