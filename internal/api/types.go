package api

import (
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/config"
)

// DashboardSnapshot represents the complete dashboard state
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	// Live opportunities the scanner currently holds active
	Opportunities []OpportunitySummary `json:"opportunities"`

	// Aggregate performance
	Performance PerformanceSnapshot `json:"performance"`

	// Risk status
	Risk RiskSnapshot `json:"risk"`

	// Configuration
	Config ConfigSummary `json:"config"`

	// Scanner info
	Scanner ScannerInfo `json:"scanner"`
}

// OpportunitySummary is the dashboard-facing view of one active opportunity.
type OpportunitySummary struct {
	ID                 string          `json:"id"`
	Kind               string          `json:"kind"`
	Status             string          `json:"status"`
	Symbols            []string        `json:"symbols"`
	Venues             []string        `json:"venues"`
	ProjectedProfitPct decimal.Decimal `json:"projected_profit_pct"`
	VolumeQuote        decimal.Decimal `json:"volume_quote"`
	CreatedAt          time.Time       `json:"created_at"`
	ExpiresAt          time.Time       `json:"expires_at"`
}

// PerformanceSnapshot mirrors performance.Snapshot for JSON transport.
type PerformanceSnapshot struct {
	TotalExecutions      int             `json:"total_executions"`
	SuccessfulExecutions int             `json:"successful_executions"`
	CumulativeProfit     decimal.Decimal `json:"cumulative_profit"`
	CumulativeFees       decimal.Decimal `json:"cumulative_fees"`
	PeakProfit           decimal.Decimal `json:"peak_profit"`
	MaxDrawdown          float64         `json:"max_drawdown"`
	SharpeRatio          float64         `json:"sharpe_ratio"`
}

// RiskSnapshot represents aggregate risk metrics
type RiskSnapshot struct {
	// Exposure
	TotalExposureQuote    decimal.Decimal `json:"total_exposure_quote"`
	MaxTotalExposureQuote decimal.Decimal `json:"max_total_exposure_quote"`
	ExposurePct           float64         `json:"exposure_pct"` // % of max

	// Emergency stop
	EmergencyStopActive bool `json:"emergency_stop_active"`

	// P&L tracking
	DailyRealizedLoss  decimal.Decimal `json:"daily_realized_loss"`
	MaxLossPerDayQuote decimal.Decimal `json:"max_loss_per_day_quote"`

	// Per-venue circuit breakers currently tripped open
	OpenVenueCircuits []string `json:"open_venue_circuits"`
}

// ConfigSummary represents strategy, risk, and scanner configuration
type ConfigSummary struct {
	// Strategy parameters
	Symbols            []string `json:"symbols"`
	MinProfitPct       float64  `json:"min_profit_pct"`
	MaxPositionQuote   float64  `json:"max_position_quote"`
	EnablePartialFills bool     `json:"enable_partial_fills"`

	// Risk parameters
	MaxTotalExposureQuote float64 `json:"max_total_exposure_quote"`
	MaxLossPerDayQuote    float64 `json:"max_loss_per_day_quote"`

	// Scanner parameters
	ScanPeriod  string `json:"scan_period"`
	SweepPeriod string `json:"sweep_period"`
	MaxActive   int    `json:"max_active"`

	// Execution parameters
	MaxConcurrentExecutions int `json:"max_concurrent_executions"`

	// Operational
	DryRun bool `json:"dry_run"`
}

// ScannerInfo represents scanner state
type ScannerInfo struct {
	ActiveCount int `json:"active_count"`
	MaxActive   int `json:"max_active"`
}

// NewConfigSummary creates config summary from config
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		Symbols:            cfg.Strategy.Symbols,
		MinProfitPct:       cfg.Strategy.MinProfitPct,
		MaxPositionQuote:   cfg.Strategy.MaxPositionQuote,
		EnablePartialFills: cfg.Strategy.EnablePartialFills,

		MaxTotalExposureQuote: cfg.Risk.MaxTotalExposureQuote,
		MaxLossPerDayQuote:    cfg.Risk.MaxLossPerDayQuote,

		ScanPeriod:  cfg.Scanner.ScanPeriod.String(),
		SweepPeriod: cfg.Scanner.SweepPeriod.String(),
		MaxActive:   cfg.Scanner.MaxActive,

		MaxConcurrentExecutions: cfg.Execution.MaxConcurrent,

		DryRun: cfg.DryRun,
	}
}
