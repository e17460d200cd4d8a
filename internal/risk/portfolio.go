package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/domain"
)

type positionKey struct {
	venue string
	asset string
}

type position struct {
	qty         decimal.Decimal
	avgEntry    decimal.Decimal
	realizedPnL decimal.Decimal
	openedAt    time.Time
}

// Portfolio tracks open positions per (venue, asset) and derives the
// PortfolioSnapshot and Aggregates the Gate evaluates against. Average-entry
// and realized-PnL accounting is generalized from the teacher's Inventory
// (which tracked exactly two assets, YES/NO, per market) to an arbitrary
// number of (venue, asset) pairs.
type Portfolio struct {
	mu         sync.RWMutex
	positions  map[positionKey]*position
	marks      map[string]decimal.Decimal // asset -> last mark price in quote terms
	dailyLoss  decimal.Decimal
}

// NewPortfolio creates an empty portfolio.
func NewPortfolio() *Portfolio {
	return &Portfolio{
		positions: make(map[positionKey]*position),
		marks:     make(map[string]decimal.Decimal),
	}
}

// OnTrade applies a filled trade's effect on the venue/asset position,
// realizing PnL on the reducing side exactly as the teacher's
// applyYesFill/applyNoFill did.
func (p *Portfolio) OnTrade(venue, asset string, side domain.Side, price, size decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := positionKey{venue, asset}
	pos, ok := p.positions[key]
	if !ok {
		pos = &position{openedAt: time.Now()}
		p.positions[key] = pos
	}

	if side == domain.Buy {
		totalCost := pos.avgEntry.Mul(pos.qty).Add(price.Mul(size))
		pos.qty = pos.qty.Add(size)
		if pos.qty.GreaterThan(decimal.Zero) {
			pos.avgEntry = totalCost.Div(pos.qty)
		}
		return
	}

	if pos.qty.GreaterThan(decimal.Zero) {
		sellQty := size
		if pos.qty.LessThan(sellQty) {
			sellQty = pos.qty
		}
		realized := price.Sub(pos.avgEntry).Mul(sellQty)
		pos.realizedPnL = pos.realizedPnL.Add(realized)
		if realized.LessThan(decimal.Zero) {
			p.dailyLoss = p.dailyLoss.Add(realized.Abs())
		}
	}
	pos.qty = pos.qty.Sub(size)
	if pos.qty.LessThanOrEqual(decimal.Zero) {
		pos.qty = decimal.Zero
		pos.avgEntry = decimal.Zero
		pos.openedAt = time.Time{}
	}
}

// UpdateMark records the latest mark price for an asset, in quote terms,
// used to value exposure for venues/assets without a recent trade.
func (p *Portfolio) UpdateMark(asset string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[asset] = price
}

// ResetDailyLoss clears the rolling daily-loss aggregate. Nothing in this
// repository calls it; the aggregate keeps accumulating, across restarts
// too when state is persisted, until it is called.
func (p *Portfolio) ResetDailyLoss() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dailyLoss = decimal.Zero
}

// Snapshot builds the read-only view the Gate evaluates against.
func (p *Portfolio) Snapshot() domain.PortfolioSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := domain.PortfolioSnapshot{
		VenueExposureQuote: make(map[string]decimal.Decimal),
		OpenPositionAge:    make(map[string]time.Duration),
	}

	now := time.Now()
	for key, pos := range p.positions {
		if pos.qty.IsZero() {
			continue
		}
		mark := p.marks[key.asset]
		if mark.IsZero() {
			mark = pos.avgEntry
		}
		notional := pos.qty.Mul(mark)
		snap.CurrentExposureQuote = snap.CurrentExposureQuote.Add(notional)
		snap.VenueExposureQuote[key.venue] = snap.VenueExposureQuote[key.venue].Add(notional)
		if !pos.openedAt.IsZero() {
			snap.OpenPositionAge[key.asset] = now.Sub(pos.openedAt)
		}
	}

	return snap
}

// Aggregates returns the rolling figures the Gate's check 4 evaluates.
func (p *Portfolio) Aggregates() domain.Aggregates {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return domain.Aggregates{DailyRealizedLoss: p.dailyLoss}
}
