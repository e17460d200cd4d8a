// Package risk implements the Risk & Portfolio Gate (spec §4.4): a
// deterministic, side-effect-free admission function plus the stateful
// circuit-breaking machinery (daily-loss cooldown, per-venue failure
// breaker) that sits around it.
//
// Evaluate itself does no I/O and keeps no state of its own — its result
// depends only on its arguments, mirroring the teacher's computeQuotes in spirit
// (business logic isolated from the state that feeds it). The state lives
// in Portfolio (exposure/position bookkeeping) and Monitor/Breaker
// (kill-switch and circuit-breaker transitions), both adapted from the
// teacher's risk.Manager.
package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/domain"
	"arbitrage-engine/internal/marketdata"
)

// Limits holds the configured thresholds checked by Evaluate (spec §4.4).
type Limits struct {
	GlobalMinProfitPct   decimal.Decimal
	MaxTotalExposureQuote decimal.Decimal
	MaxLossPerDayQuote   decimal.Decimal
	MaxPositionAgeHours  float64
	CorrelationThreshold float64
	// CorrelatedAssets groups assets whose positions are treated as one
	// exposure for the age check (check 6). Empty means the check is
	// inactive, since the spec gates it on "when a global
	// correlationThreshold check applies".
	CorrelatedAssets map[string][]string
	// BookDepthLevels bounds how many levels (from the top) check 5 may
	// consult when summing available depth.
	BookDepthLevels int
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Approved bool
	Reason   string // empty when Approved
}

func reject(reason string) Decision { return Decision{Approved: false, Reason: reason} }

var approved = Decision{Approved: true}

// Evaluate runs the six ordered checks from spec §4.4, first failure wins,
// plus the per-venue circuit breaker corollary check. venues supplies each
// leg's configured trade limits; breaker reports whether a venue's circuit
// is currently open.
func Evaluate(op domain.Opportunity, snapshot domain.PortfolioSnapshot, aggregates domain.Aggregates, venues map[string]domain.Venue, cache *marketdata.Cache, breaker *Breaker, limits Limits) Decision {
	// 1. global minimum profit.
	if op.ProjectedProfitPct.LessThan(limits.GlobalMinProfitPct) {
		return reject("belowMinProfit")
	}

	// 2. total exposure headroom.
	headroom := limits.MaxTotalExposureQuote.Sub(snapshot.CurrentExposureQuote)
	if op.VolumeQuote.GreaterThan(headroom) {
		return reject("exceedsGlobalExposure")
	}

	// 3. per-venue exposure headroom.
	for _, leg := range op.Legs {
		venue, ok := venues[leg.Venue]
		if !ok {
			return reject(fmt.Sprintf("unknownVenue:%s", leg.Venue))
		}
		if breaker != nil && breaker.IsOpen(leg.Venue) {
			return reject("venueCircuitOpen")
		}
		legNotional := leg.Amount.Mul(leg.ReferencePrice)
		venueExposure := snapshot.VenueExposureQuote[leg.Venue]
		venueHeadroom := venue.Limits.MaxPositionQuote.Sub(venueExposure)
		if legNotional.GreaterThan(venueHeadroom) {
			return reject(fmt.Sprintf("exceedsVenueExposure:%s", leg.Venue))
		}
	}

	// 4. daily loss halt.
	if aggregates.DailyRealizedLoss.GreaterThanOrEqual(limits.MaxLossPerDayQuote) {
		return reject("dailyLoss")
	}

	// 5. book depth coverage, first five levels.
	if cache != nil {
		for _, leg := range op.Legs {
			if !depthCovers(cache, leg, limits.BookDepthLevels) {
				return reject(fmt.Sprintf("insufficientDepth:%s", leg.Venue))
			}
		}
	}

	// 6. correlated-asset position age.
	if limits.CorrelationThreshold > 0 && len(limits.CorrelatedAssets) > 0 {
		if reason, breached := correlatedAgeBreach(op, snapshot, limits); breached {
			return reject(reason)
		}
	}

	return approved
}

func depthCovers(cache *marketdata.Cache, leg domain.Leg, levels int) bool {
	if levels <= 0 {
		levels = 5
	}
	book, ok := cache.GetBook(leg.Venue, leg.Symbol)
	if !ok {
		return false
	}
	side := book.Asks
	if leg.Side == domain.Sell {
		side = book.Bids
	}
	if len(side) > levels {
		side = side[:levels]
	}
	var available decimal.Decimal
	for _, lvl := range side {
		available = available.Add(lvl.Size)
	}
	return available.GreaterThanOrEqual(leg.Amount)
}

func correlatedAgeBreach(op domain.Opportunity, snapshot domain.PortfolioSnapshot, limits Limits) (string, bool) {
	maxAge := time.Duration(limits.MaxPositionAgeHours * float64(time.Hour))
	for _, leg := range op.Legs {
		group, ok := correlationGroupOf(leg.Symbol, limits.CorrelatedAssets)
		if !ok {
			continue
		}
		for _, asset := range group {
			if asset == leg.Symbol {
				continue
			}
			if age, ok := snapshot.OpenPositionAge[asset]; ok && age > maxAge {
				return fmt.Sprintf("correlatedPositionAge:%s", asset), true
			}
		}
	}
	return "", false
}

func correlationGroupOf(symbol string, groups map[string][]string) ([]string, bool) {
	for _, members := range groups {
		for _, m := range members {
			if m == symbol {
				return members, true
			}
		}
	}
	return nil, false
}
