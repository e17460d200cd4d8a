package api

import (
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/domain"
)

// DashboardEvent is the wrapper for all events sent to the dashboard
type DashboardEvent struct {
	Type          string      `json:"type"`                     // "snapshot", "opportunityDetected", "opportunityExpired", "executionStarted", "executionCompleted", "executionFailed", "riskAlert", "heartbeat"
	Timestamp     time.Time   `json:"timestamp"`                // Event time
	OpportunityID string      `json:"opportunity_id,omitempty"` // empty for global events
	Data          interface{} `json:"data"`                      // Event-specific payload
}

// OpportunityEvent represents a scanner opportunityDetected/opportunityExpired
// notification.
type OpportunityEvent struct {
	ID                 string          `json:"id"`
	Kind               string          `json:"kind"`
	Symbols            []string        `json:"symbols"`
	Venues             []string        `json:"venues"`
	ProjectedProfitPct decimal.Decimal `json:"projected_profit_pct"`
	VolumeQuote        decimal.Decimal `json:"volume_quote"`
	ExpiresAt          time.Time       `json:"expires_at"`
}

// ExecutionEvent represents an executionStarted/executionCompleted/
// executionFailed notification.
type ExecutionEvent struct {
	OpportunityID  string          `json:"opportunity_id"`
	Status         string          `json:"status"`
	LegsFilled     int             `json:"legs_filled"`
	LegsTotal      int             `json:"legs_total"`
	RealizedProfit decimal.Decimal `json:"realized_profit"`
	TotalFees      decimal.Decimal `json:"total_fees"`
	Errors         []string        `json:"errors,omitempty"`
}

// RiskAlertEvent represents a daily-loss breach or circuit-breaker trip.
type RiskAlertEvent struct {
	Limit    string        `json:"limit"`
	Value    decimal.Decimal `json:"value"`
	Cooldown time.Duration `json:"cooldown_ns"`
}

// HeartbeatEvent represents the Supervisor's periodic liveness signal.
type HeartbeatEvent struct {
	VenuesHealthy int `json:"venues_healthy"`
	VenuesTotal   int `json:"venues_total"`
}

func legSymbols(legs []domain.Leg) []string {
	seen := make(map[string]bool, len(legs))
	var out []string
	for _, l := range legs {
		if !seen[l.Symbol] {
			seen[l.Symbol] = true
			out = append(out, l.Symbol)
		}
	}
	return out
}

func legVenues(legs []domain.Leg) []string {
	out := make([]string, len(legs))
	for i, l := range legs {
		out[i] = l.Venue
	}
	return out
}

// NewOpportunityEvent builds an OpportunityEvent from a scanned candidate.
func NewOpportunityEvent(op domain.Opportunity) OpportunityEvent {
	return OpportunityEvent{
		ID:                 op.ID,
		Kind:                string(op.Kind),
		Symbols:            legSymbols(op.Legs),
		Venues:             legVenues(op.Legs),
		ProjectedProfitPct: op.ProjectedProfitPct,
		VolumeQuote:        op.VolumeQuote,
		ExpiresAt:          op.ExpiresAt,
	}
}

// NewExecutionEvent builds an ExecutionEvent from a Coordinator execution
// record.
func NewExecutionEvent(exec domain.Execution, legsTotal int) ExecutionEvent {
	filled := 0
	for _, tr := range exec.Trades {
		if tr.Status == domain.TradeFilled || tr.Status == domain.TradePartial {
			filled++
		}
	}
	return ExecutionEvent{
		OpportunityID:  exec.OpportunityID,
		Status:         string(exec.Status),
		LegsFilled:     filled,
		LegsTotal:      legsTotal,
		RealizedProfit: exec.RealizedProfit,
		TotalFees:      exec.TotalFees,
		Errors:         exec.Errors,
	}
}

// NewRiskAlertEvent builds a RiskAlertEvent from a risk.Alert payload.
func NewRiskAlertEvent(limit string, value decimal.Decimal, cooldown time.Duration) RiskAlertEvent {
	return RiskAlertEvent{Limit: limit, Value: value, Cooldown: cooldown}
}
