package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// GetTickerActivity reads every configured kind concurrently and waits for
// all of them to settle. A failed kind is kept in Data with its error and
// never stops its siblings; Activity.Err reports the failures. When ctx ends
// first, kinds still in flight are tagged cancelled and whatever finished is
// returned.
func (s *Service) GetTickerActivity(ctx context.Context, ticker string) (*Activity, error) {
	ticker = domain.NormalizeTicker(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("%w: ticker is required", domain.ErrInvalidInput)
	}

	ctx, span := s.tracer.Start(ctx, "activity.aggregate",
		trace.WithAttributes(
			attribute.String("ticker", ticker),
			attribute.Int("kinds", len(s.cfg.Kinds)),
		),
	)
	defer span.End()

	start := time.Now()
	results := s.settle(ctx, ticker, s.cfg.Kinds, Options{})

	act := &Activity{
		Ticker:    ticker,
		Timestamp: s.now().UTC(),
		Data:      results,
	}
	failed := 0
	for _, r := range results {
		switch r.Status {
		case StatusCancelled:
			act.Cancelled = true
			act.Partial = true
			failed++
		case StatusError:
			act.Partial = true
			failed++
		}
	}
	act.Stats = ComputeStats(results)

	span.SetAttributes(
		attribute.Bool("partial", act.Partial),
		attribute.Bool("cancelled", act.Cancelled),
	)
	s.logger.Info("ticker activity aggregated",
		"ticker", ticker,
		"kinds", len(results),
		"failed", failed,
		"cancelled", act.Cancelled,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return act, nil
}

// RefreshTicker force-refreshes kinds of ticker. Empty kinds means every
// configured kind. Unknown kinds fail before anything is fetched.
func (s *Service) RefreshTicker(ctx context.Context, ticker string, kinds []domain.Kind) (map[domain.Kind]*KindResult, error) {
	ticker = domain.NormalizeTicker(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("%w: ticker is required", domain.ErrInvalidInput)
	}
	if len(kinds) == 0 {
		kinds = s.cfg.Kinds
	}
	for _, k := range kinds {
		if _, ok := s.fetchers[k]; !ok {
			return nil, fmt.Errorf("%w: %q is not a ticker kind", domain.ErrUnknownKind, string(k))
		}
	}
	return s.settle(ctx, ticker, kinds, Options{ForceRefresh: true}), nil
}

// settle runs one single-kind read per kind and collects every outcome.
func (s *Service) settle(ctx context.Context, ticker string, kinds []domain.Kind, opts Options) map[domain.Kind]*KindResult {
	var (
		mu      sync.Mutex
		results = make(map[domain.Kind]*KindResult, len(kinds))
	)

	var g errgroup.Group
	for _, kind := range kinds {
		g.Go(func() error {
			r, err := s.GetTickerActivityByType(ctx, ticker, kind, opts)
			if r == nil {
				r = &KindResult{
					Kind:      kind,
					Data:      []domain.Record{},
					Timestamp: s.now().UTC(),
					Status:    statusOf(err),
					Error:     err.Error(),
					err:       err,
				}
			}
			mu.Lock()
			results[kind] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
