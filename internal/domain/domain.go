// Package domain defines the shared vocabulary of the arbitrage engine:
// venues, symbols, market snapshots, opportunities, executions, trades and
// balances. It has no dependencies on other internal packages so every
// other package can import it freely.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VenueCategory classifies a trading venue.
type VenueCategory string

const (
	VenueSpot      VenueCategory = "spot"
	VenuePerpetual VenueCategory = "perpetual"
	VenueDEX       VenueCategory = "dex"
	VenueDemo      VenueCategory = "demo"
)

// VenueHealth is the current reachability state of a venue.
type VenueHealth string

const (
	HealthActive   VenueHealth = "active"
	HealthDegraded VenueHealth = "degraded"
	HealthDown     VenueHealth = "down"
)

// FeeSchedule holds a venue's maker/taker rates and per-asset withdraw fees.
type FeeSchedule struct {
	MakerRate    decimal.Decimal
	TakerRate    decimal.Decimal
	WithdrawFees map[string]decimal.Decimal // asset -> flat fee
}

// TradeLimits bounds the notional a venue will accept per asset.
type TradeLimits struct {
	MinPerAsset map[string]decimal.Decimal
	MaxPerAsset map[string]decimal.Decimal
	// MaxPositionQuote is the venue-wide cap used by the risk gate (§4.4 check 3).
	MaxPositionQuote decimal.Decimal
}

// Venue is immutable once loaded except for Health.
type Venue struct {
	ID       string
	Category VenueCategory
	Health   VenueHealth
	Fees     FeeSchedule
	Limits   TradeLimits
	// HighRisk flags a venue for the strategy's "exchange" risk tag (§4.2).
	HighRisk bool
}

// Symbol is a trading pair, e.g. BTC/USDT.
type Symbol struct {
	Base            string
	Quote           string
	Display         string
	ActivePerVenue  map[string]bool
	AmountPrecision int
	PricePrecision  int
}

func (s Symbol) String() string {
	if s.Display != "" {
		return s.Display
	}
	return s.Base + "/" + s.Quote
}

// Ticker is a point-in-time best-bid/best-ask snapshot for (venue, symbol).
//
// Invariant: 0 < Bid <= Ask. ObservedAt must increase monotonically per
// (Venue, Symbol) — see marketdata.Cache.PutTicker.
type Ticker struct {
	Venue      string
	Symbol     string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Last       decimal.Decimal
	Volume     decimal.Decimal
	Change24h  decimal.Decimal
	ObservedAt time.Time
}

// PriceLevel is one (price, size) rung of an order book side.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Book is an order book snapshot for (venue, symbol).
//
// Invariant: Bids strictly decreasing in price, Asks strictly increasing,
// Bids[0].Price < Asks[0].Price. Truncated to at most BookDepth levels.
type Book struct {
	Venue      string
	Symbol     string
	Bids       []PriceLevel
	Asks       []PriceLevel
	ObservedAt time.Time
}

// BookDepth is the default truncation depth (spec §3, "L").
const BookDepth = 20

// OpportunityKind distinguishes the three strategy variants (§4.2).
type OpportunityKind string

const (
	KindSimple     OpportunityKind = "simple"
	KindTriangular OpportunityKind = "triangular"
	KindBasis      OpportunityKind = "basis"
)

// OpportunityStatus is the lifecycle state of an Opportunity (§3).
type OpportunityStatus string

const (
	StatusDetected  OpportunityStatus = "detected"
	StatusApproved  OpportunityStatus = "approved"
	StatusExecuting OpportunityStatus = "executing"
	StatusCompleted OpportunityStatus = "completed"
	StatusFailed    OpportunityStatus = "failed"
	StatusExpired   OpportunityStatus = "expired"
	StatusRejected  OpportunityStatus = "rejected"
)

// IsTerminal reports whether status is a final state.
func (s OpportunityStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

// Side is the direction of a leg or trade.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// RiskFactor tags a qualitative risk attached to an opportunity (§4.2).
type RiskFactor struct {
	Kind     string // "liquidity" | "exchange" | "timing"
	Severity string
	Impact   string
}

// Leg is one atomic order within a multi-step opportunity.
//
// Invariant: legs are numbered consecutively from 1 (StepIndex).
type Leg struct {
	StepIndex      int
	Venue          string
	Symbol         string
	Side           Side
	Amount         decimal.Decimal
	ReferencePrice decimal.Decimal
	FeeEstimate    decimal.Decimal
	MaxLatency     time.Duration
	// Market marks the leg as a market order instead of limit-at-reference-price.
	Market bool
}

// Opportunity is a candidate multi-leg arbitrage trade.
//
// Invariants: ProjectedProfitQuote is net of the sum of every leg's
// FeeEstimate; ExpiresAt > CreatedAt; once Status != detected the
// opportunity is no longer eligible for scanner mutation (dedup/eviction).
type Opportunity struct {
	ID                   string
	Kind                 OpportunityKind
	Legs                 []Leg
	ProjectedProfitQuote decimal.Decimal
	ProjectedProfitPct   decimal.Decimal
	VolumeQuote          decimal.Decimal
	Confidence           float64
	Risks                []RiskFactor
	CreatedAt            time.Time
	ExpiresAt            time.Time
	Status               OpportunityStatus
}

// Fingerprint identifies structurally equivalent candidates for
// scanner dedup (§4.3): (kind, symbol, leg venues in order, leg sides).
func (o Opportunity) Fingerprint() string {
	symbol := ""
	if len(o.Legs) > 0 {
		symbol = o.Legs[0].Symbol
	}
	fp := string(o.Kind) + "|" + symbol
	for _, l := range o.Legs {
		fp += "|" + l.Venue + ":" + string(l.Side)
	}
	return fp
}

// TradeStatus is the lifecycle state of a single venue order (§3).
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeOpen      TradeStatus = "open"
	TradeFilled    TradeStatus = "filled"
	TradePartial   TradeStatus = "partial"
	TradeCancelled TradeStatus = "cancelled"
	TradeRejected  TradeStatus = "rejected"
)

// Trade records a single venue order's outcome.
type Trade struct {
	Venue            string
	Symbol           string
	Side             Side
	RequestedAmount  decimal.Decimal
	RequestedPrice   decimal.Decimal
	FilledAmount     decimal.Decimal
	AverageFillPrice decimal.Decimal
	Fee              decimal.Decimal
	Status           TradeStatus
	ExternalOrderID  string
	ClientOrderID    string
	CreatedAt        time.Time
	FilledAt         *time.Time
}

// ExecutionStatus mirrors the state machine in spec §4.5.
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecExecuting ExecutionStatus = "executing"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecCancelled ExecutionStatus = "cancelled"
)

// Execution drives an approved Opportunity through its legs.
//
// Invariants: len(Trades) <= len(opportunity legs); on Completed, every
// leg has a filled trade; RealizedProfit = sellProceeds - buyCosts - fees.
type Execution struct {
	OpportunityID string
	Status        ExecutionStatus
	Trades        []Trade
	RealizedProfit decimal.Decimal
	TotalFees     decimal.Decimal
	StartedAt     time.Time
	CompletedAt   *time.Time
	Errors        []string
}

// Balance is a per-(venue, asset) ledger entry. Mutated only by execution
// outcomes and scheduled reconciliation against venue adapters.
type Balance struct {
	Venue      string
	Asset      string
	Free       decimal.Decimal
	Locked     decimal.Decimal
	QuoteValue decimal.Decimal
}

// Total returns Free + Locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// PortfolioSnapshot is the read-only view the risk gate evaluates against.
type PortfolioSnapshot struct {
	CurrentExposureQuote decimal.Decimal
	VenueExposureQuote   map[string]decimal.Decimal
	OpenPositionAge      map[string]time.Duration // asset -> age of oldest open position
}

// Aggregates carries the rolling figures the risk gate checks (§4.4.4).
type Aggregates struct {
	DailyRealizedLoss decimal.Decimal // positive quantity; loss magnitude
}
