package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func baseLimits() Limits {
	return Limits{
		GlobalMinProfitPct:    d("0.002"),
		MaxTotalExposureQuote: d("10000"),
		MaxLossPerDayQuote:    d("1000"),
		MaxPositionAgeHours:   4,
		BookDepthLevels:       5,
	}
}

func baseVenues() map[string]domain.Venue {
	return map[string]domain.Venue{
		"v1": {ID: "v1", Limits: domain.TradeLimits{MaxPositionQuote: d("5000")}},
	}
}

func baseOpportunity() domain.Opportunity {
	return domain.Opportunity{
		ID:                 "op1",
		ProjectedProfitPct: d("0.005"),
		VolumeQuote:        d("100"),
		Legs: []domain.Leg{
			{StepIndex: 1, Venue: "v1", Symbol: "BTC-USD", Side: domain.Buy, Amount: d("1"), ReferencePrice: d("100")},
		},
	}
}

func TestEvaluateApprovesWithinLimits(t *testing.T) {
	t.Parallel()
	decision := Evaluate(baseOpportunity(), domain.PortfolioSnapshot{}, domain.Aggregates{}, baseVenues(), nil, nil, baseLimits())
	if !decision.Approved {
		t.Fatalf("expected approval, got reason %q", decision.Reason)
	}
}

func TestEvaluateRejectsBelowMinProfit(t *testing.T) {
	t.Parallel()
	op := baseOpportunity()
	op.ProjectedProfitPct = d("0.0001")
	decision := Evaluate(op, domain.PortfolioSnapshot{}, domain.Aggregates{}, baseVenues(), nil, nil, baseLimits())
	if decision.Approved || decision.Reason != "belowMinProfit" {
		t.Fatalf("got %+v, want belowMinProfit", decision)
	}
}

func TestEvaluateRejectsExceedsGlobalExposure(t *testing.T) {
	t.Parallel()
	op := baseOpportunity()
	op.VolumeQuote = d("20000")
	decision := Evaluate(op, domain.PortfolioSnapshot{}, domain.Aggregates{}, baseVenues(), nil, nil, baseLimits())
	if decision.Approved || decision.Reason != "exceedsGlobalExposure" {
		t.Fatalf("got %+v, want exceedsGlobalExposure", decision)
	}
}

func TestEvaluateRejectsUnknownVenue(t *testing.T) {
	t.Parallel()
	decision := Evaluate(baseOpportunity(), domain.PortfolioSnapshot{}, domain.Aggregates{}, map[string]domain.Venue{}, nil, nil, baseLimits())
	if decision.Approved || decision.Reason != "unknownVenue:v1" {
		t.Fatalf("got %+v, want unknownVenue:v1", decision)
	}
}

func TestEvaluateRejectsOpenCircuit(t *testing.T) {
	t.Parallel()
	breaker := NewBreaker()
	for i := 0; i < breakerThreshold; i++ {
		breaker.RecordFailure("v1")
	}
	decision := Evaluate(baseOpportunity(), domain.PortfolioSnapshot{}, domain.Aggregates{}, baseVenues(), nil, breaker, baseLimits())
	if decision.Approved || decision.Reason != "venueCircuitOpen" {
		t.Fatalf("got %+v, want venueCircuitOpen", decision)
	}
}

func TestEvaluateRejectsExceedsVenueExposure(t *testing.T) {
	t.Parallel()
	snapshot := domain.PortfolioSnapshot{
		VenueExposureQuote: map[string]decimal.Decimal{"v1": d("4950")},
	}
	decision := Evaluate(baseOpportunity(), snapshot, domain.Aggregates{}, baseVenues(), nil, nil, baseLimits())
	if decision.Approved || decision.Reason != "exceedsVenueExposure:v1" {
		t.Fatalf("got %+v, want exceedsVenueExposure:v1", decision)
	}
}

func TestEvaluateRejectsDailyLoss(t *testing.T) {
	t.Parallel()
	aggregates := domain.Aggregates{DailyRealizedLoss: d("1000")}
	decision := Evaluate(baseOpportunity(), domain.PortfolioSnapshot{}, aggregates, baseVenues(), nil, nil, baseLimits())
	if decision.Approved || decision.Reason != "dailyLoss" {
		t.Fatalf("got %+v, want dailyLoss", decision)
	}
}

func TestEvaluateRejectsCorrelatedPositionAge(t *testing.T) {
	t.Parallel()
	limits := baseLimits()
	limits.CorrelationThreshold = 0.8
	limits.CorrelatedAssets = map[string][]string{"majors": {"BTC-USD", "ETH-USD"}}

	snapshot := domain.PortfolioSnapshot{
		OpenPositionAge: map[string]time.Duration{"ETH-USD": 5 * time.Hour},
	}
	decision := Evaluate(baseOpportunity(), snapshot, domain.Aggregates{}, baseVenues(), nil, nil, limits)
	if decision.Approved || decision.Reason != "correlatedPositionAge:ETH-USD" {
		t.Fatalf("got %+v, want correlatedPositionAge:ETH-USD", decision)
	}
}

func TestCorrelationGroupOf(t *testing.T) {
	t.Parallel()
	groups := map[string][]string{"majors": {"BTC-USD", "ETH-USD"}}

	if group, ok := correlationGroupOf("BTC-USD", groups); !ok || len(group) != 2 {
		t.Fatalf("expected BTC-USD to resolve to majors group, got %v, %v", group, ok)
	}
	if _, ok := correlationGroupOf("SOL-USD", groups); ok {
		t.Fatal("expected no group for SOL-USD")
	}
}
