// Package strategy implements the Strategy Set (spec §4.2): three pure
// synthesis functions that read the Market Data Cache and propose candidate
// Opportunities. Strategies neither mutate the cache nor emit events —
// mirrors the teacher's Maker.computeQuotes, a pure function of (mid,
// remainingBudget) with no side effects.
package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/domain"
	"arbitrage-engine/internal/marketdata"
)

// OpportunityTTL is the default candidate lifetime (spec §4.3).
const OpportunityTTL = 30 * time.Second

// defaultFeeRate is used when a venue's fee schedule is absent (§4.2 step 2).
var defaultFeeRate = decimal.NewFromFloat(0.001)

// depthCapQuote / depthCapBase bound the liquidity considered tradable on
// one side of the book (§4.2 step 1).
var (
	depthCapQuote = decimal.NewFromInt(10000)
	depthCapBase  = decimal.NewFromInt(100)
)

// safetyMargin is applied to the tradable size estimate (§4.2 step 1).
var safetyMargin = decimal.NewFromFloat(0.8)

// liquidityFloor is the 24h volume below which the thinnest venue earns a
// "liquidity" risk tag (§4.2).
var liquidityFloor = decimal.NewFromInt(100000)

// Config parameterizes all three strategies for one configured instance.
// Strategy `params` are heterogeneous (spec §9): each kind gets its own
// strongly-typed config below rather than a shared bag.
type Config struct {
	Symbols          []string
	Venues           []string
	MinProfitPct     decimal.Decimal
	MaxPositionQuote decimal.Decimal
	FeeRates         map[string]decimal.Decimal // venue -> fee rate override
	HighRiskVenues   map[string]bool
	Triangles        []TriangleConfig
	Basis            []BasisConfig
}

// TriangleConfig names one configured A->B->C triangular cycle on a single venue.
type TriangleConfig struct {
	Venue string
	A, B, C string // assets, e.g. "BTC", "ETH", "USDT"
}

// BasisConfig names one configured spot/perp pair for the basis strategy.
type BasisConfig struct {
	SpotVenue string
	PerpVenue string
	Symbol    string
	// FundingRate is supplied by the caller (perp venue's funding rate source);
	// strategies are pure, so they cannot fetch it themselves.
	FundingRate       decimal.Decimal
	FundingPeriodsYear int
}

func (c Config) feeRate(venue string) decimal.Decimal {
	if r, ok := c.FeeRates[venue]; ok {
		return r
	}
	return defaultFeeRate
}

// confidence applies spec §4.2's reduction rule given the snapshots used.
func confidence(freshCount int, ages []time.Duration) float64 {
	conf := 1.0
	if freshCount < 3 {
		conf *= 0.8
	}
	for _, age := range ages {
		if age > 5*time.Second {
			conf *= 0.9
		}
	}
	if conf < 0.1 {
		conf = 0.1
	}
	return conf
}

func riskFactors(cfg Config, thinnestVolume decimal.Decimal, venues []string, kind domain.OpportunityKind) []domain.RiskFactor {
	var risks []domain.RiskFactor
	if thinnestVolume.LessThan(liquidityFloor) {
		risks = append(risks, domain.RiskFactor{Kind: "liquidity", Severity: "medium", Impact: "reduced fill confidence"})
	}
	for _, v := range venues {
		if cfg.HighRiskVenues[v] {
			risks = append(risks, domain.RiskFactor{Kind: "exchange", Severity: "high", Impact: "venue flagged high-risk"})
		}
	}
	if kind == domain.KindTriangular || kind == domain.KindBasis {
		risks = append(risks, domain.RiskFactor{Kind: "timing", Severity: "low", Impact: "sequential legs exposed to price drift"})
	}
	return risks
}

// tradableSize computes the size consumable on one book side within the
// depth caps, in base units (§4.2 step 1).
func tradableSize(levels []domain.PriceLevel, capQuote decimal.Decimal) decimal.Decimal {
	var sizeBase, notional decimal.Decimal
	for _, lvl := range levels {
		levelNotional := lvl.Price.Mul(lvl.Size)
		if notional.Add(levelNotional).GreaterThan(capQuote) {
			remaining := capQuote.Sub(notional)
			if remaining.LessThanOrEqual(decimal.Zero) {
				break
			}
			sizeBase = sizeBase.Add(remaining.Div(lvl.Price))
			break
		}
		sizeBase = sizeBase.Add(lvl.Size)
		notional = notional.Add(levelNotional)
		if sizeBase.GreaterThanOrEqual(depthCapBase) {
			break
		}
	}
	if sizeBase.GreaterThan(depthCapBase) {
		sizeBase = depthCapBase
	}
	return sizeBase
}

func newOpportunityID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// Simple implements the cross-venue strategy (§4.2 "Simple cross-venue").
func Simple(cfg Config, cache *marketdata.Cache) []domain.Opportunity {
	var out []domain.Opportunity

	for _, symbol := range cfg.Symbols {
		fresh := cache.ListFresh(symbol)
		if len(fresh) < 2 {
			continue
		}

		type candidate struct {
			op  domain.Opportunity
			net decimal.Decimal
		}
		var best *candidate

		for _, buy := range fresh {
			for _, sell := range fresh {
				if buy.Venue == sell.Venue {
					continue
				}
				if !buy.Ticker.Ask.LessThan(sell.Ticker.Bid) {
					continue
				}

				buyAvail := tradableSize(buy.Book.Asks, depthCapQuote)
				sellAvail := tradableSize(sell.Book.Bids, depthCapQuote)
				maxByBudget := decimal.Zero
				if cfg.MaxPositionQuote.GreaterThan(decimal.Zero) && buy.Ticker.Ask.GreaterThan(decimal.Zero) {
					maxByBudget = cfg.MaxPositionQuote.Div(buy.Ticker.Ask)
				}

				size := minDecimal(buyAvail, sellAvail)
				if maxByBudget.GreaterThan(decimal.Zero) {
					size = minDecimal(size, maxByBudget)
				}
				size = size.Mul(safetyMargin)
				if size.LessThanOrEqual(decimal.Zero) {
					continue
				}

				buyFee := cfg.feeRate(buy.Venue)
				sellFee := cfg.feeRate(sell.Venue)
				buyNotional := size.Mul(buy.Ticker.Ask)
				sellNotional := size.Mul(sell.Ticker.Bid)
				fees := buyNotional.Mul(buyFee).Add(sellNotional.Mul(sellFee))

				gross := size.Mul(sell.Ticker.Bid.Sub(buy.Ticker.Ask))
				net := gross.Sub(fees)
				if buyNotional.LessThanOrEqual(decimal.Zero) {
					continue
				}
				netPct := net.Div(buyNotional).Mul(decimal.NewFromInt(100))

				if netPct.LessThan(cfg.MinProfitPct) {
					continue
				}

				ages := []time.Duration{time.Since(buy.Ticker.ObservedAt), time.Since(sell.Ticker.ObservedAt)}
				thinnest := minDecimal(buy.Ticker.Volume, sell.Ticker.Volume)

				now := time.Now()
				op := domain.Opportunity{
					ID:   newOpportunityID("simple"),
					Kind: domain.KindSimple,
					Legs: []domain.Leg{
						{StepIndex: 1, Venue: buy.Venue, Symbol: symbol, Side: domain.Buy, Amount: size, ReferencePrice: buy.Ticker.Ask, FeeEstimate: buyNotional.Mul(buyFee)},
						{StepIndex: 2, Venue: sell.Venue, Symbol: symbol, Side: domain.Sell, Amount: size, ReferencePrice: sell.Ticker.Bid, FeeEstimate: sellNotional.Mul(sellFee)},
					},
					ProjectedProfitQuote: net,
					ProjectedProfitPct:   netPct,
					VolumeQuote:          buyNotional,
					Confidence:           confidence(len(fresh), ages),
					Risks:                riskFactors(cfg, thinnest, []string{buy.Venue, sell.Venue}, domain.KindSimple),
					CreatedAt:            now,
					ExpiresAt:            now.Add(OpportunityTTL),
					Status:               domain.StatusDetected,
				}
				applyMaxLatency(&op)

				if best == nil || net.GreaterThan(best.net) ||
					(net.Equal(best.net) && tieBreak(buy, sell, *best)) {
					best = &candidate{op: op, net: net}
				}
			}
		}

		if best != nil {
			out = append(out, best.op)
		}
	}

	return out
}

// tieBreak implements §4.2's tie-break order for Simple: freshest snapshots,
// then lexicographic (buyVenue, sellVenue). Net-profit equality is the only
// case this is invoked for — the caller already checked net equality.
func tieBreak(buy, sell marketdata.FreshPair, current struct {
	op  domain.Opportunity
	net decimal.Decimal
}) bool {
	currentAge := time.Since(current.op.CreatedAt)
	newAge := time.Since(buy.Ticker.ObservedAt) + time.Since(sell.Ticker.ObservedAt)
	if newAge != currentAge {
		return newAge < currentAge
	}
	if len(current.op.Legs) < 1 {
		return true
	}
	return buy.Venue+sell.Venue < current.op.Legs[0].Venue+current.op.Legs[1].Venue
}

// defaultLegTimeout is the per-leg timeout default (§4.5).
const defaultLegTimeout = 5 * time.Second

// applyMaxLatency fills in the default per-leg timeout when a strategy
// didn't set one explicitly.
func applyMaxLatency(op *domain.Opportunity) {
	for i := range op.Legs {
		if op.Legs[i].MaxLatency == 0 {
			op.Legs[i].MaxLatency = defaultLegTimeout
		}
	}
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Triangular implements the single-venue triangular strategy (§4.2).
// For each configured triangle A->B->C, both directions' effective rates
// are computed using the correct side (bid when selling, ask when buying);
// the more profitable direction is accepted if it clears the threshold.
// Per spec §9's first open question, this mandates proportional rescaling
// of the final leg's size by the second leg's actual proceeds (see
// DESIGN.md "triangular rescaling").
func Triangular(cfg Config, cache *marketdata.Cache) []domain.Opportunity {
	var out []domain.Opportunity

	for _, tri := range cfg.Triangles {
		forward, forwardPct, forwardOK := triangleLeg(cfg, cache, tri, tri.A, tri.B, tri.C)
		reverse, reversePct, reverseOK := triangleLeg(cfg, cache, tri, tri.C, tri.B, tri.A)

		forwardClears := forwardOK && forwardPct.GreaterThanOrEqual(cfg.MinProfitPct)
		reverseClears := reverseOK && reversePct.GreaterThanOrEqual(cfg.MinProfitPct)

		switch {
		case forwardClears && reverseClears:
			if forwardPct.GreaterThanOrEqual(reversePct) {
				out = append(out, buildTriangularOpportunity(cfg, tri, forward, forwardPct))
			} else {
				out = append(out, buildTriangularOpportunity(cfg, tri, reverse, reversePct))
			}
		case forwardClears:
			out = append(out, buildTriangularOpportunity(cfg, tri, forward, forwardPct))
		case reverseClears:
			out = append(out, buildTriangularOpportunity(cfg, tri, reverse, reversePct))
		}
	}

	return out
}

type triangleStep struct {
	symbol string
	side   domain.Side
	price  decimal.Decimal
	fee    decimal.Decimal
}

// triangleLeg walks one direction of a triangle (from -> mid -> to) and
// returns the ordered legs plus the net percentage after three fees.
func triangleLeg(cfg Config, cache *marketdata.Cache, tri TriangleConfig, from, mid, to string) ([]triangleStep, decimal.Decimal, bool) {
	fee := cfg.feeRate(tri.Venue)

	step1Symbol, step1Side, ok := pairFor(cache, tri.Venue, from, mid)
	if !ok {
		return nil, decimal.Zero, false
	}
	t1, ok := cache.GetTicker(tri.Venue, step1Symbol)
	if !ok {
		return nil, decimal.Zero, false
	}
	price1 := priceForSide(t1, step1Side)

	step2Symbol, step2Side, ok := pairFor(cache, tri.Venue, mid, to)
	if !ok {
		return nil, decimal.Zero, false
	}
	t2, ok := cache.GetTicker(tri.Venue, step2Symbol)
	if !ok {
		return nil, decimal.Zero, false
	}
	price2 := priceForSide(t2, step2Side)

	step3Symbol, step3Side, ok := pairFor(cache, tri.Venue, to, from)
	if !ok {
		return nil, decimal.Zero, false
	}
	t3, ok := cache.GetTicker(tri.Venue, step3Symbol)
	if !ok {
		return nil, decimal.Zero, false
	}
	price3 := priceForSide(t3, step3Side)

	// Effective rate: 1 unit of `from` -> mid -> to -> back to from, net of
	// three fees, each applied multiplicatively as (1 - fee).
	oneMinusFee := decimal.NewFromInt(1).Sub(fee)

	rate1 := applyRate(decimal.NewFromInt(1), price1, step1Side).Mul(oneMinusFee)
	rate2 := applyRate(rate1, price2, step2Side).Mul(oneMinusFee)
	final := applyRate(rate2, price3, step3Side).Mul(oneMinusFee)

	netPct := final.Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))

	return []triangleStep{
		{symbol: step1Symbol, side: step1Side, price: price1, fee: fee},
		{symbol: step2Symbol, side: step2Side, price: price2, fee: fee},
		{symbol: step3Symbol, side: step3Side, price: price3, fee: fee},
	}, netPct, true
}

// applyRate converts an amount of the "from" asset into the "to" asset at
// the given price and side: buying means dividing by the ask (spending
// quote to get base), selling means multiplying by the bid (spending base
// to get quote).
func applyRate(amount, price decimal.Decimal, side domain.Side) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	if side == domain.Buy {
		return amount.Div(price)
	}
	return amount.Mul(price)
}

func priceForSide(t domain.Ticker, side domain.Side) decimal.Decimal {
	if side == domain.Buy {
		return t.Ask
	}
	return t.Bid
}

// pairFor resolves which configured symbol and side represents trading
// `from` into `to`. Symbols are quoted as BASE/QUOTE. If the cache holds a
// "from/to" ticker, `from` is the base being sold for quote `to` (a Sell).
// If instead it holds the reverse "to/from" ticker, `from` is the quote
// being spent to buy base `to` (a Buy). Neither existing means this leg
// can't be priced from this venue's market data.
func pairFor(cache *marketdata.Cache, venue, from, to string) (symbol string, side domain.Side, ok bool) {
	direct := from + "/" + to
	if _, ok := cache.GetTicker(venue, direct); ok {
		return direct, domain.Sell, true
	}
	inverse := to + "/" + from
	if _, ok := cache.GetTicker(venue, inverse); ok {
		return inverse, domain.Buy, true
	}
	return "", domain.Sell, false
}

func buildTriangularOpportunity(cfg Config, tri TriangleConfig, steps []triangleStep, netPct decimal.Decimal) domain.Opportunity {
	now := time.Now()
	legs := make([]domain.Leg, len(steps))
	// Proportional rescaling (§9 resolution): size of step N+1 is derived
	// from step N's actual proceeds, not a fixed notional repeated per leg.
	size := cfg.MaxPositionQuote
	if size.LessThanOrEqual(decimal.Zero) {
		size = decimal.NewFromInt(1)
	}
	for i, st := range steps {
		legs[i] = domain.Leg{
			StepIndex:      i + 1,
			Venue:          tri.Venue,
			Symbol:         st.symbol,
			Side:           st.side,
			Amount:         size,
			ReferencePrice: st.price,
			FeeEstimate:    size.Mul(st.price).Mul(st.fee),
			MaxLatency:     defaultLegTimeout,
		}
		size = applyRate(size, st.price, st.side).Mul(decimal.NewFromInt(1).Sub(st.fee))
	}

	return domain.Opportunity{
		ID:                   newOpportunityID("triangular"),
		Kind:                 domain.KindTriangular,
		Legs:                 legs,
		ProjectedProfitQuote: cfg.MaxPositionQuote.Mul(netPct).Div(decimal.NewFromInt(100)),
		ProjectedProfitPct:   netPct,
		VolumeQuote:          cfg.MaxPositionQuote,
		Confidence:           confidence(3, nil),
		Risks:                riskFactors(cfg, liquidityFloor, []string{tri.Venue}, domain.KindTriangular),
		CreatedAt:            now,
		ExpiresAt:            now.Add(OpportunityTTL),
		Status:               domain.StatusDetected,
	}
}

// Basis implements the funding-rate / basis strategy (§4.2).
// Keeps the 30s detection TTL per spec §9's third open question; the
// implied 8h hold is modeled as the execution's own duration, not the
// opportunity's TTL.
func Basis(cfg Config, cache *marketdata.Cache) []domain.Opportunity {
	var out []domain.Opportunity

	for _, b := range cfg.Basis {
		spotT, ok := cache.GetTicker(b.SpotVenue, b.Symbol)
		if !ok {
			continue
		}
		perpT, ok := cache.GetTicker(b.PerpVenue, b.Symbol)
		if !ok {
			continue
		}

		if b.FundingRate.LessThanOrEqual(decimal.Zero) {
			continue
		}

		periodsYear := b.FundingPeriodsYear
		if periodsYear <= 0 {
			periodsYear = 1095 // every 8h, 3x/day
		}
		annualizedFunding := b.FundingRate.Mul(decimal.NewFromInt(int64(periodsYear)))

		basis := perpT.Last.Sub(spotT.Last).Abs()
		basisPct := decimal.Zero
		if spotT.Last.GreaterThan(decimal.Zero) {
			basisPct = basis.Div(spotT.Last)
		}

		edge := annualizedFunding.Sub(basisPct)
		if edge.LessThan(cfg.MinProfitPct.Div(decimal.NewFromInt(100))) {
			continue
		}

		size := decimal.Zero
		if cfg.MaxPositionQuote.GreaterThan(decimal.Zero) && spotT.Ask.GreaterThan(decimal.Zero) {
			size = cfg.MaxPositionQuote.Div(spotT.Ask)
		}
		if size.LessThanOrEqual(decimal.Zero) {
			continue
		}

		fee := cfg.feeRate(b.SpotVenue)
		now := time.Now()
		legs := []domain.Leg{
			{StepIndex: 1, Venue: b.SpotVenue, Symbol: b.Symbol, Side: domain.Buy, Amount: size, ReferencePrice: spotT.Ask, FeeEstimate: size.Mul(spotT.Ask).Mul(fee), MaxLatency: defaultLegTimeout},
			{StepIndex: 2, Venue: b.PerpVenue, Symbol: b.Symbol, Side: domain.Sell, Amount: size, ReferencePrice: perpT.Bid, FeeEstimate: size.Mul(perpT.Bid).Mul(cfg.feeRate(b.PerpVenue)), MaxLatency: defaultLegTimeout},
		}

		out = append(out, domain.Opportunity{
			ID:                   newOpportunityID("basis"),
			Kind:                 domain.KindBasis,
			Legs:                 legs,
			ProjectedProfitQuote: size.Mul(spotT.Ask).Mul(edge),
			ProjectedProfitPct:   edge.Mul(decimal.NewFromInt(100)),
			VolumeQuote:          size.Mul(spotT.Ask),
			Confidence:           confidence(2, []time.Duration{time.Since(spotT.ObservedAt), time.Since(perpT.ObservedAt)}),
			Risks:                riskFactors(cfg, minDecimal(spotT.Volume, perpT.Volume), []string{b.SpotVenue, b.PerpVenue}, domain.KindBasis),
			CreatedAt:            now,
			ExpiresAt:            now.Add(OpportunityTTL),
			Status:               domain.StatusDetected,
		})
	}

	return out
}
