// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies a category of cached market or wallet data.
type Kind string

const (
	KindQuote                 Kind = "quote"
	KindOwnership             Kind = "ownership"
	KindInstitutionalActivity Kind = "institutional_activity"
	KindInsiderTrades         Kind = "insider_trades"
	KindCongressTrades        Kind = "congress_trades"
	KindOptionsFlow           Kind = "options_flow"
	KindDarkPool              Kind = "dark_pool"
	KindWalletBalance         Kind = "wallet_balance"
	KindWalletTransactions    Kind = "wallet_transactions"
)

// WriteMode controls how a Put interacts with rows already stored for a key.
type WriteMode string

const (
	// ModeReplace upserts rows on (primary key, secondary key).
	ModeReplace WriteMode = "replace"

	// ModeAppend inserts rows as new history.
	ModeAppend WriteMode = "append"
)

// Policy is the caching policy of a single kind.
type Policy struct {
	TTL  time.Duration
	Mode WriteMode
}

// DefaultEvictionHorizon is the age after which rows are physically removed.
const DefaultEvictionHorizon = 7 * 24 * time.Hour

var defaultPolicies = map[Kind]Policy{
	KindQuote:                 {TTL: time.Hour, Mode: ModeReplace},
	KindOwnership:             {TTL: 24 * time.Hour, Mode: ModeReplace},
	KindInstitutionalActivity: {TTL: 24 * time.Hour, Mode: ModeReplace},
	KindInsiderTrades:         {TTL: 24 * time.Hour, Mode: ModeAppend},
	KindCongressTrades:        {TTL: 24 * time.Hour, Mode: ModeAppend},
	KindOptionsFlow:           {TTL: 24 * time.Hour, Mode: ModeAppend},
	KindDarkPool:              {TTL: 24 * time.Hour, Mode: ModeAppend},
	KindWalletBalance:         {TTL: 15 * time.Minute, Mode: ModeReplace},
	KindWalletTransactions:    {TTL: time.Hour, Mode: ModeAppend},
}

// TickerKinds are the kinds aggregated for a ticker, in display order.
var TickerKinds = []Kind{
	KindQuote,
	KindOwnership,
	KindInstitutionalActivity,
	KindInsiderTrades,
	KindCongressTrades,
	KindOptionsFlow,
	KindDarkPool,
}

// AllKinds returns every known kind.
func AllKinds() []Kind {
	return append(append([]Kind{}, TickerKinds...), KindWalletBalance, KindWalletTransactions)
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := defaultPolicies[k]
	return ok
}

// ParseKind parses a kind name, accepting dashes in place of underscores.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Policies maps kinds to caching policies.
type Policies map[Kind]Policy

// DefaultPolicies returns a fresh copy of the built-in policy table.
func DefaultPolicies() Policies {
	p := make(Policies, len(defaultPolicies))
	for k, v := range defaultPolicies {
		p[k] = v
	}
	return p
}

// WithTTLOverrides returns a copy of p with TTLs replaced by overrides.
// Unknown kind names are rejected.
func (p Policies) WithTTLOverrides(overrides map[string]time.Duration) (Policies, error) {
	out := make(Policies, len(p))
	for k, v := range p {
		out[k] = v
	}
	for name, ttl := range overrides {
		k, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("%w: ttl for %s must be positive", ErrInvalidInput, k)
		}
		pol := out[k]
		pol.TTL = ttl
		out[k] = pol
	}
	return out, nil
}

// For returns the policy of k. Unknown kinds report ok=false.
func (p Policies) For(k Kind) (Policy, bool) {
	pol, ok := p[k]
	return pol, ok
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
