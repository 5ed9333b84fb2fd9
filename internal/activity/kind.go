package activity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/filter"
)

// GetTickerActivityByType reads one kind for ticker.
//
// Unless opts.ForceRefresh is set the cache is consulted first; a store
// failure counts as a miss. On a miss the kind's upstream fetcher runs and a
// non-empty result is written through. Failures are returned, never cached.
// The result is always stamped with the kind and the read time.
func (s *Service) GetTickerActivityByType(ctx context.Context, ticker string, kind domain.Kind, opts Options) (*KindResult, error) {
	ticker = domain.NormalizeTicker(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("%w: ticker is required", domain.ErrInvalidInput)
	}
	fetch, ok := s.fetchers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a ticker kind", domain.ErrUnknownKind, string(kind))
	}

	var prg *filter.Program
	if opts.Filter != "" {
		var err error
		if prg, err = s.filters.Compile(kind, opts.Filter); err != nil {
			return nil, err
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}

	ctx, span := s.tracer.Start(ctx, "activity."+string(kind),
		trace.WithAttributes(
			attribute.String("ticker", ticker),
			attribute.String("kind", string(kind)),
			attribute.Bool("force_refresh", opts.ForceRefresh),
		),
	)
	defer span.End()

	result := &KindResult{Kind: kind}

	records, cached, err := s.read(ctx, ticker, kind, limit, opts.ForceRefresh, fetch)
	result.Timestamp = s.now().UTC()
	span.SetAttributes(attribute.Bool("cached", cached))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result.Status = statusOf(err)
		result.Error = err.Error()
		result.err = err
		result.Data = []domain.Record{}
		return result, err
	}

	if prg != nil {
		if records, err = prg.Apply(records); err != nil {
			err = fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
			result.Status = StatusError
			result.Error = err.Error()
			result.err = err
			result.Data = []domain.Record{}
			return result, err
		}
	}

	if records == nil {
		records = []domain.Record{}
	}
	result.Data = records
	result.Count = len(records)
	result.Cached = cached
	result.Status = StatusOK
	return result, nil
}

// read returns up to limit rows of kind, from the cache when fresh.
func (s *Service) read(ctx context.Context, ticker string, kind domain.Kind, limit int, force bool, fetch Fetcher) ([]domain.Record, bool, error) {
	if !force {
		entries, err := s.store.Get(ctx, kind, ticker, limit)
		switch {
		case err == nil:
			records := make([]domain.Record, len(entries))
			for i, e := range entries {
				records[i] = e.Record
			}
			return records, true, nil
		case errors.Is(err, domain.ErrCacheMiss):
		case domain.IsCacheUnavailable(err):
			s.logger.Warn("cache read failed, treating as miss",
				"ticker", ticker,
				"kind", kind,
				"error", err,
			)
		default:
			return nil, false, err
		}
	}

	records, err := s.fetch(ctx, ticker, kind, limit, fetch)
	if err != nil {
		return nil, false, err
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, false, nil
}

// fetch runs the upstream fetcher once per (kind, ticker, limit) across
// concurrent callers and writes the result through. Each caller still
// honours its own context.
func (s *Service) fetch(ctx context.Context, ticker string, kind domain.Kind, limit int, fetch Fetcher) ([]domain.Record, error) {
	key := string(kind) + "|" + ticker + "|" + strconv.Itoa(limit)

	ch := s.group.DoChan(key, func() (any, error) {
		start := time.Now()
		records, err := fetch(ctx, ticker, limit)
		if err != nil {
			s.logger.Warn("upstream fetch failed",
				"ticker", ticker,
				"kind", kind,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err,
			)
			return nil, err
		}

		s.logger.Debug("upstream fetch",
			"ticker", ticker,
			"kind", kind,
			"rows", len(records),
			"duration_ms", time.Since(start).Milliseconds(),
		)

		if len(records) > 0 {
			if err := s.store.Put(ctx, kind, ticker, records); err != nil {
				s.logger.Warn("cache write failed",
					"ticker", ticker,
					"kind", kind,
					"error", err,
				)
			}
		}
		return records, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil && res.Shared && ctx.Err() == nil && errors.Is(res.Err, context.Canceled) {
			// The leader's caller went away; run our own flight.
			return s.fetch(ctx, ticker, kind, limit, fetch)
		}
		if res.Err != nil {
			return nil, fmt.Errorf("fetch %s for %s: %w", kind, ticker, res.Err)
		}
		records := res.Val.([]domain.Record)
		return append([]domain.Record(nil), records...), nil
	}
}

func statusOf(err error) Status {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return StatusCancelled
	}
	return StatusError
}
