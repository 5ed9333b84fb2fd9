package activity

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Stats is derived from whichever kinds succeeded. Missing kinds count as
// empty; figures that cannot be computed are null.
type Stats struct {
	InstitutionalShares int64            `json:"institutionalShares"`
	InstitutionalValue  *decimal.Decimal `json:"institutionalValue"`
	LatestPrice         *decimal.Decimal `json:"latestPrice"`

	Buys  int `json:"buys"`
	Sells int `json:"sells"`
	Net   int `json:"net"`

	CallPremium  decimal.Decimal  `json:"callPremium"`
	PutPremium   decimal.Decimal  `json:"putPremium"`
	PutCallRatio *decimal.Decimal `json:"putCallRatio"`

	DarkPoolVolume   int64           `json:"darkPoolVolume"`
	DarkPoolNotional decimal.Decimal `json:"darkPoolNotional"`
}

// ComputeStats derives Stats from per-kind results. Results with a non-ok
// status are ignored.
func ComputeStats(data map[domain.Kind]*KindResult) Stats {
	var st Stats

	rows := func(kind domain.Kind) []domain.Record {
		r, ok := data[kind]
		if !ok || r == nil || r.Status != StatusOK {
			return nil
		}
		return r.Data
	}

	for _, rec := range rows(domain.KindQuote) {
		if q, ok := rec.(*domain.Quote); ok && !q.Price.IsZero() {
			price := q.Price
			st.LatestPrice = &price
			break
		}
	}

	for _, rec := range rows(domain.KindOwnership) {
		if pos, ok := rec.(*domain.OwnershipPosition); ok {
			st.InstitutionalShares += pos.Units
		}
	}
	if st.LatestPrice != nil {
		value := st.LatestPrice.Mul(decimal.NewFromInt(st.InstitutionalShares))
		st.InstitutionalValue = &value
	}

	count := func(side domain.Side) {
		switch side {
		case domain.SideBuy:
			st.Buys++
		case domain.SideSell:
			st.Sells++
		}
	}
	for _, rec := range rows(domain.KindInsiderTrades) {
		if t, ok := rec.(*domain.InsiderTrade); ok {
			count(t.Side)
		}
	}
	for _, rec := range rows(domain.KindCongressTrades) {
		if t, ok := rec.(*domain.CongressTrade); ok {
			count(t.Side)
		}
	}
	for _, rec := range rows(domain.KindInstitutionalActivity) {
		if t, ok := rec.(*domain.InstitutionalTrade); ok {
			count(t.Side)
		}
	}
	st.Net = st.Buys - st.Sells

	for _, rec := range rows(domain.KindOptionsFlow) {
		f, ok := rec.(*domain.OptionsFlow)
		if !ok {
			continue
		}
		switch f.OptionType {
		case domain.OptionCall:
			st.CallPremium = st.CallPremium.Add(f.Premium)
		case domain.OptionPut:
			st.PutPremium = st.PutPremium.Add(f.Premium)
		}
	}
	if !st.CallPremium.IsZero() {
		ratio := st.PutPremium.DivRound(st.CallPremium, 4)
		st.PutCallRatio = &ratio
	}

	for _, rec := range rows(domain.KindDarkPool) {
		if p, ok := rec.(*domain.DarkPoolPrint); ok {
			st.DarkPoolVolume += p.Size
			st.DarkPoolNotional = st.DarkPoolNotional.Add(p.Notional())
		}
	}

	return st
}
