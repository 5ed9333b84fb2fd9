package activity

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// registerFetchers wires the default upstream fetcher of each ticker kind.
func (s *Service) registerFetchers(quotes QuoteSource) {
	if quotes != nil {
		s.fetchers[domain.KindQuote] = func(ctx context.Context, ticker string, _ int) ([]domain.Record, error) {
			q, err := quotes(ctx, ticker)
			if err != nil {
				return nil, err
			}
			return []domain.Record{q}, nil
		}
	}

	if s.source == nil {
		return
	}
	src := s.source

	s.fetchers[domain.KindOwnership] = func(ctx context.Context, ticker string, limit int) ([]domain.Record, error) {
		rows, err := src.Ownership(ctx, ticker, limit)
		return domain.Records(rows), err
	}
	s.fetchers[domain.KindInsiderTrades] = func(ctx context.Context, ticker string, limit int) ([]domain.Record, error) {
		rows, err := src.InsiderTrades(ctx, ticker, limit)
		return domain.Records(rows), err
	}
	s.fetchers[domain.KindCongressTrades] = func(ctx context.Context, ticker string, limit int) ([]domain.Record, error) {
		rows, err := src.CongressTrades(ctx, ticker, limit)
		return domain.Records(rows), err
	}
	s.fetchers[domain.KindOptionsFlow] = func(ctx context.Context, ticker string, limit int) ([]domain.Record, error) {
		rows, err := src.OptionsFlow(ctx, ticker, limit)
		return domain.Records(rows), err
	}
	s.fetchers[domain.KindDarkPool] = func(ctx context.Context, ticker string, limit int) ([]domain.Record, error) {
		rows, err := src.DarkPool(ctx, ticker, limit)
		return domain.Records(rows), err
	}
	s.fetchers[domain.KindInstitutionalActivity] = s.fetchInstitutionalActivity
}
