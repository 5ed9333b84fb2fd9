package wallet

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fallback"
)

// BalanceProvider reads an address balance in ether.
type BalanceProvider interface {
	Balance(ctx context.Context, address string) (*domain.WalletBalance, error)
}

// HistoryProvider reads an address's transfers, newest first.
type HistoryProvider interface {
	Transactions(ctx context.Context, address string, limit int) ([]*domain.WalletTransaction, error)
}

// Named pairs a provider with its id.
type Named[P any] struct {
	Name     string
	Provider P
}

// BalanceChain builds the balance chain in the given order.
func BalanceChain(providers []Named[BalanceProvider], opts ...fallback.Option) *fallback.Chain[string, *domain.WalletBalance] {
	steps := make([]fallback.Step[string, *domain.WalletBalance], len(providers))
	for i, p := range providers {
		steps[i] = fallback.Step[string, *domain.WalletBalance]{
			Provider: p.Name,
			Fn:       p.Provider.Balance,
		}
	}
	return fallback.New(OpBalance, steps, opts...)
}

// HistoryChain builds the transaction history chain in the given order.
func HistoryChain(providers []Named[HistoryProvider], opts ...fallback.Option) *fallback.Chain[TxQuery, []*domain.WalletTransaction] {
	steps := make([]fallback.Step[TxQuery, []*domain.WalletTransaction], len(providers))
	for i, p := range providers {
		steps[i] = fallback.Step[TxQuery, []*domain.WalletTransaction]{
			Provider: p.Name,
			Fn: func(ctx context.Context, q TxQuery) ([]*domain.WalletTransaction, error) {
				return p.Provider.Transactions(ctx, q.Address, q.Limit)
			},
		}
	}
	return fallback.New(OpTransactions, steps, opts...)
}
