// Package wallet serves cached Ethereum balances and transaction history.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fallback"
)

const (
	OpBalance      = "wallet.balance"
	OpTransactions = "wallet.transactions"
)

// DefaultLimit is the transaction page size when the caller passes none.
const DefaultLimit = 50

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// NormalizeAddress lower-cases and validates an address.
func NormalizeAddress(s string) (string, error) {
	a := strings.ToLower(strings.TrimSpace(s))
	if !addressPattern.MatchString(a) {
		return "", fmt.Errorf("%w: %q is not an address", domain.ErrInvalidInput, s)
	}
	return a, nil
}

// TxQuery is the argument of the transaction history chain.
type TxQuery struct {
	Address string
	Limit   int
}

// Result is the outcome of a wallet read.
type Result[T any] struct {
	Kind      domain.Kind `json:"kind"`
	Address   string      `json:"address"`
	Data      T           `json:"data"`
	Cached    bool        `json:"cached"`
	Provider  string      `json:"provider,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Service reads wallets cache-first through per-operation fallback chains.
type Service struct {
	store    domain.CacheStore
	balances *fallback.Chain[string, *domain.WalletBalance]
	history  *fallback.Chain[TxQuery, []*domain.WalletTransaction]
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces the time source used for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a wallet service.
func New(store domain.CacheStore, balances *fallback.Chain[string, *domain.WalletBalance], history *fallback.Chain[TxQuery, []*domain.WalletTransaction], opts ...Option) *Service {
	s := &Service{
		store:    store,
		balances: balances,
		history:  history,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Balance returns the ether balance of address.
func (s *Service) Balance(ctx context.Context, address string, force bool) (*Result[*domain.WalletBalance], error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	if !force {
		if entries, ok := s.cached(ctx, domain.KindWalletBalance, addr, 1); ok {
			if b, ok := entries[0].Record.(*domain.WalletBalance); ok {
				return &Result[*domain.WalletBalance]{
					Kind:      domain.KindWalletBalance,
					Address:   addr,
					Data:      b,
					Cached:    true,
					Provider:  b.Provider,
					Timestamp: s.now().UTC(),
				}, nil
			}
		}
	}

	b, provider, err := s.balances.Call(ctx, addr)
	if err != nil {
		return nil, err
	}
	b.Address = addr
	b.Provider = provider
	s.write(ctx, domain.KindWalletBalance, addr, []domain.Record{b})

	return &Result[*domain.WalletBalance]{
		Kind:      domain.KindWalletBalance,
		Address:   addr,
		Data:      b,
		Provider:  provider,
		Timestamp: s.now().UTC(),
	}, nil
}

// Transactions returns up to limit transfers of address, newest first.
func (s *Service) Transactions(ctx context.Context, address string, limit int, force bool) (*Result[[]*domain.WalletTransaction], error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	if !force {
		// History is append-only, so a refetch may have stored a hash twice.
		if entries, ok := s.cached(ctx, domain.KindWalletTransactions, addr, 0); ok {
			txs := uniqueByHash(entries, limit)
			return &Result[[]*domain.WalletTransaction]{
				Kind:      domain.KindWalletTransactions,
				Address:   addr,
				Data:      txs,
				Cached:    true,
				Timestamp: s.now().UTC(),
			}, nil
		}
	}

	txs, provider, err := s.history.Call(ctx, TxQuery{Address: addr, Limit: limit})
	if err != nil {
		return nil, err
	}
	if len(txs) > limit {
		txs = txs[:limit]
	}
	if len(txs) > 0 {
		s.write(ctx, domain.KindWalletTransactions, addr, domain.Records(txs))
	}
	if txs == nil {
		txs = []*domain.WalletTransaction{}
	}

	return &Result[[]*domain.WalletTransaction]{
		Kind:      domain.KindWalletTransactions,
		Address:   addr,
		Data:      txs,
		Provider:  provider,
		Timestamp: s.now().UTC(),
	}, nil
}

func (s *Service) cached(ctx context.Context, kind domain.Kind, addr string, limit int) ([]domain.Entry, bool) {
	entries, err := s.store.Get(ctx, kind, addr, limit)
	switch {
	case err == nil:
		return entries, len(entries) > 0
	case errors.Is(err, domain.ErrCacheMiss):
	default:
		s.logger.Warn("cache read failed, treating as miss",
			"address", addr,
			"kind", kind,
			"error", err,
		)
	}
	return nil, false
}

func (s *Service) write(ctx context.Context, kind domain.Kind, addr string, records []domain.Record) {
	if err := s.store.Put(ctx, kind, addr, records); err != nil {
		s.logger.Warn("cache write failed",
			"address", addr,
			"kind", kind,
			"error", err,
		)
	}
}

func uniqueByHash(entries []domain.Entry, limit int) []*domain.WalletTransaction {
	out := make([]*domain.WalletTransaction, 0, min(len(entries), limit))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		tx, ok := e.Record.(*domain.WalletTransaction)
		if !ok {
			continue
		}
		if tx.Hash != "" {
			if _, dup := seen[tx.Hash]; dup {
				continue
			}
			seen[tx.Hash] = struct{}{}
		}
		out = append(out, tx)
		if len(out) == limit {
			break
		}
	}
	return out
}
