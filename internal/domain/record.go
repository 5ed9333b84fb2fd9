package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is a typed, normalized row of a single kind.
type Record interface {
	// SecondaryKey identifies the row within its primary key for replace-mode kinds.
	SecondaryKey() string

	// NaturalKey is the upstream identity of the row, used for optional append dedup.
	// Empty when the provider supplies no stable identity.
	NaturalKey() string

	// OccurredAt is the event time used for recency ordering.
	OccurredAt() time.Time
}

// Extension holds provider fields that are not promoted to typed fields.
type Extension map[string]any

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// Direction of a wallet transaction relative to the queried address.
type Direction string

const (
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
	DirectionSelf Direction = "self"
)

const dateLayout = "2006-01-02"

// Quote is the latest price of a ticker.
type Quote struct {
	Ticker        string          `json:"ticker"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	PreviousClose decimal.Decimal `json:"previousClose"`
	Source        string          `json:"source"`
	QuotedAt      time.Time       `json:"quotedAt"`
	Extra         Extension       `json:"extra,omitempty"`
}

func (q *Quote) SecondaryKey() string  { return "" }
func (q *Quote) NaturalKey() string    { return "" }
func (q *Quote) OccurredAt() time.Time { return q.QuotedAt }

// OwnershipPosition is an institution's reported position in a ticker.
type OwnershipPosition struct {
	Ticker      string          `json:"ticker"`
	Institution string          `json:"institution"`
	Units       int64           `json:"units"`
	UnitsChange int64           `json:"unitsChange"`
	Value       decimal.Decimal `json:"value"`
	ReportDate  time.Time       `json:"reportDate"`
	Extra       Extension       `json:"extra,omitempty"`
}

func (o *OwnershipPosition) SecondaryKey() string {
	return o.Institution + "|" + o.ReportDate.Format(dateLayout)
}
func (o *OwnershipPosition) NaturalKey() string    { return o.SecondaryKey() }
func (o *OwnershipPosition) OccurredAt() time.Time { return o.ReportDate }

// InstitutionalTrade is a change in an institution's holding of a ticker.
type InstitutionalTrade struct {
	Ticker      string          `json:"ticker"`
	Institution string          `json:"institution"`
	Side        Side            `json:"side"`
	Units       int64           `json:"units"`
	UnitsChange int64           `json:"unitsChange"`
	AvgPrice    decimal.Decimal `json:"avgPrice"`
	ReportDate  time.Time       `json:"reportDate"`
	Extra       Extension       `json:"extra,omitempty"`
}

func (t *InstitutionalTrade) SecondaryKey() string {
	return t.Institution + "|" + t.ReportDate.Format(dateLayout)
}
func (t *InstitutionalTrade) NaturalKey() string    { return t.SecondaryKey() }
func (t *InstitutionalTrade) OccurredAt() time.Time { return t.ReportDate }

// InsiderTrade is a filed transaction by a company insider.
type InsiderTrade struct {
	ID              string          `json:"id,omitempty"`
	Ticker          string          `json:"ticker"`
	Insider         string          `json:"insider"`
	Title           string          `json:"title,omitempty"`
	TransactionCode string          `json:"transactionCode,omitempty"`
	Side            Side            `json:"side"`
	Shares          int64           `json:"shares"`
	Price           decimal.Decimal `json:"price"`
	TradedAt        time.Time       `json:"tradedAt"`
	FiledAt         time.Time       `json:"filedAt"`
	Extra           Extension       `json:"extra,omitempty"`
}

func (t *InsiderTrade) SecondaryKey() string { return "" }
func (t *InsiderTrade) NaturalKey() string {
	if t.ID != "" {
		return t.ID
	}
	return strings.Join([]string{t.Insider, t.TradedAt.Format(dateLayout), string(t.Side), strconv.FormatInt(t.Shares, 10), t.Price.String()}, "|")
}
func (t *InsiderTrade) OccurredAt() time.Time { return t.TradedAt }

// CongressTrade is a disclosed trade by a member of congress.
type CongressTrade struct {
	ID          string    `json:"id,omitempty"`
	Ticker      string    `json:"ticker"`
	Member      string    `json:"member"`
	Chamber     string    `json:"chamber,omitempty"`
	Side        Side      `json:"side"`
	AmountRange string    `json:"amountRange,omitempty"`
	TradedAt    time.Time `json:"tradedAt"`
	FiledAt     time.Time `json:"filedAt"`
	Extra       Extension `json:"extra,omitempty"`
}

func (t *CongressTrade) SecondaryKey() string { return "" }
func (t *CongressTrade) NaturalKey() string {
	if t.ID != "" {
		return t.ID
	}
	return strings.Join([]string{t.Member, t.TradedAt.Format(dateLayout), string(t.Side), t.AmountRange}, "|")
}
func (t *CongressTrade) OccurredAt() time.Time { return t.TradedAt }

// OptionsFlow is a notable options print.
type OptionsFlow struct {
	ID         string          `json:"id,omitempty"`
	Ticker     string          `json:"ticker"`
	OptionType OptionType      `json:"optionType"`
	Strike     decimal.Decimal `json:"strike"`
	Expiry     time.Time       `json:"expiry"`
	Premium    decimal.Decimal `json:"premium"`
	Size       int64           `json:"size"`
	ExecutedAt time.Time       `json:"executedAt"`
	Extra      Extension       `json:"extra,omitempty"`
}

func (f *OptionsFlow) SecondaryKey() string  { return "" }
func (f *OptionsFlow) NaturalKey() string    { return f.ID }
func (f *OptionsFlow) OccurredAt() time.Time { return f.ExecutedAt }

// DarkPoolPrint is an off-exchange trade print.
type DarkPoolPrint struct {
	ID         string          `json:"id,omitempty"`
	Ticker     string          `json:"ticker"`
	Price      decimal.Decimal `json:"price"`
	Size       int64           `json:"size"`
	ExecutedAt time.Time       `json:"executedAt"`
	Extra      Extension       `json:"extra,omitempty"`
}

func (p *DarkPoolPrint) SecondaryKey() string  { return "" }
func (p *DarkPoolPrint) NaturalKey() string    { return p.ID }
func (p *DarkPoolPrint) OccurredAt() time.Time { return p.ExecutedAt }

// Notional returns price times size.
func (p *DarkPoolPrint) Notional() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(p.Size))
}

// WalletBalance is the native-asset balance of an address in ether.
type WalletBalance struct {
	Address    string          `json:"address"`
	Balance    decimal.Decimal `json:"balance"`
	Unit       string          `json:"unit"`
	Provider   string          `json:"provider"`
	ObservedAt time.Time       `json:"observedAt"`
	Extra      Extension       `json:"extra,omitempty"`
}

func (b *WalletBalance) SecondaryKey() string  { return "" }
func (b *WalletBalance) NaturalKey() string    { return "" }
func (b *WalletBalance) OccurredAt() time.Time { return b.ObservedAt }

// WalletTransaction is a transfer seen from the queried address.
type WalletTransaction struct {
	Address     string          `json:"address"`
	Hash        string          `json:"hash"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Value       decimal.Decimal `json:"value"`
	Direction   Direction       `json:"direction"`
	BlockNumber int64           `json:"blockNumber,omitempty"`
	Success     bool            `json:"success"`
	Timestamp   time.Time       `json:"timestamp"`
	Provider    string          `json:"provider"`
	Extra       Extension       `json:"extra,omitempty"`
}

func (t *WalletTransaction) SecondaryKey() string  { return "" }
func (t *WalletTransaction) NaturalKey() string    { return t.Hash }
func (t *WalletTransaction) OccurredAt() time.Time { return t.Timestamp }

// DirectionFor computes the direction of a transfer relative to address.
func DirectionFor(address, from, to string) Direction {
	a := strings.ToLower(address)
	f, t := strings.ToLower(from), strings.ToLower(to)
	switch {
	case f == a && t == a:
		return DirectionSelf
	case f == a:
		return DirectionOut
	default:
		return DirectionIn
	}
}

// NewRecord returns an empty record of the Go type stored for kind.
func NewRecord(kind Kind) (Record, error) {
	switch kind {
	case KindQuote:
		return &Quote{}, nil
	case KindOwnership:
		return &OwnershipPosition{}, nil
	case KindInstitutionalActivity:
		return &InstitutionalTrade{}, nil
	case KindInsiderTrades:
		return &InsiderTrade{}, nil
	case KindCongressTrades:
		return &CongressTrade{}, nil
	case KindOptionsFlow:
		return &OptionsFlow{}, nil
	case KindDarkPool:
		return &DarkPoolPrint{}, nil
	case KindWalletBalance:
		return &WalletBalance{}, nil
	case KindWalletTransactions:
		return &WalletTransaction{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}
}

// Records converts a typed slice to a slice of Record.
func Records[T Record](in []T) []Record {
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r
	}
	return out
}
