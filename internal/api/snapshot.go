package api

import (
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/config"
	"arbitrage-engine/internal/domain"
	"arbitrage-engine/internal/performance"
)

// DashboardProvider provides snapshot access to engine state. The
// Supervisor implements this by delegating to its Scanner, Portfolio,
// Breaker, and Performance Tracker.
type DashboardProvider interface {
	ActiveOpportunities() []domain.Opportunity
	PerformanceSnapshot() performance.Snapshot
	PortfolioSnapshot() domain.PortfolioSnapshot
	Aggregates() domain.Aggregates
	EmergencyStopActive() bool
	OpenVenueCircuits() []string
}

// BuildSnapshot aggregates state from all components into a dashboard snapshot
func BuildSnapshot(provider DashboardProvider, cfg config.Config) DashboardSnapshot {
	opportunities := provider.ActiveOpportunities()
	opSummaries := make([]OpportunitySummary, 0, len(opportunities))
	for _, op := range opportunities {
		opSummaries = append(opSummaries, OpportunitySummary{
			ID:                 op.ID,
			Kind:               string(op.Kind),
			Status:             string(op.Status),
			Symbols:            legSymbols(op.Legs),
			Venues:             legVenues(op.Legs),
			ProjectedProfitPct: op.ProjectedProfitPct,
			VolumeQuote:        op.VolumeQuote,
			CreatedAt:          op.CreatedAt,
			ExpiresAt:          op.ExpiresAt,
		})
	}

	perf := provider.PerformanceSnapshot()

	return DashboardSnapshot{
		Timestamp:     time.Now(),
		Opportunities: opSummaries,
		Performance: PerformanceSnapshot{
			TotalExecutions:      perf.TotalExecutions,
			SuccessfulExecutions: perf.SuccessfulExecutions,
			CumulativeProfit:     perf.CumulativeProfit,
			CumulativeFees:       perf.CumulativeFees,
			PeakProfit:           perf.PeakProfit,
			MaxDrawdown:          perf.MaxDrawdown,
			SharpeRatio:          perf.SharpeRatio,
		},
		Risk:    buildRiskSnapshot(provider, cfg),
		Config:  NewConfigSummary(cfg),
		Scanner: ScannerInfo{ActiveCount: len(opportunities), MaxActive: cfg.Scanner.MaxActive},
	}
}

func buildRiskSnapshot(provider DashboardProvider, cfg config.Config) RiskSnapshot {
	portfolio := provider.PortfolioSnapshot()
	agg := provider.Aggregates()

	maxExposure := decimal.NewFromFloat(cfg.Risk.MaxTotalExposureQuote)
	exposurePct := 0.0
	if maxExposure.GreaterThan(decimal.Zero) {
		pct := portfolio.CurrentExposureQuote.Div(maxExposure)
		exposurePct, _ = pct.Float64()
	}

	return RiskSnapshot{
		TotalExposureQuote:    portfolio.CurrentExposureQuote,
		MaxTotalExposureQuote: maxExposure,
		ExposurePct:           exposurePct,
		EmergencyStopActive:   provider.EmergencyStopActive(),
		DailyRealizedLoss:     agg.DailyRealizedLoss,
		MaxLossPerDayQuote:    decimal.NewFromFloat(cfg.Risk.MaxLossPerDayQuote),
		OpenVenueCircuits:     provider.OpenVenueCircuits(),
	}
}
