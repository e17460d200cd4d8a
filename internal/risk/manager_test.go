package risk

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/domain"
	"arbitrage-engine/internal/marketdata"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testVenues() map[string]domain.Venue {
	return map[string]domain.Venue{
		"A": {ID: "A", Limits: domain.TradeLimits{MaxPositionQuote: dec("1000")}},
		"B": {ID: "B", Limits: domain.TradeLimits{MaxPositionQuote: dec("1000")}},
	}
}

func testOpportunity(profitPct, volumeQuote string) domain.Opportunity {
	return domain.Opportunity{
		Kind:                 domain.KindSimple,
		ProjectedProfitPct:   dec(profitPct),
		VolumeQuote:          dec(volumeQuote),
		Legs: []domain.Leg{
			{StepIndex: 1, Venue: "A", Symbol: "BTC/USDT", Side: domain.Buy, Amount: dec("1"), ReferencePrice: dec("100")},
			{StepIndex: 2, Venue: "B", Symbol: "BTC/USDT", Side: domain.Sell, Amount: dec("1"), ReferencePrice: dec("102")},
		},
	}
}

func testLimits() Limits {
	return Limits{
		GlobalMinProfitPct:    dec("0.1"),
		MaxTotalExposureQuote: dec("5000"),
		MaxLossPerDayQuote:    dec("500"),
		BookDepthLevels:       5,
	}
}

// Scenario (§8): opportunity meeting every check is approved.
func TestEvaluateApprovesCleanOpportunity(t *testing.T) {
	t.Parallel()
	op := testOpportunity("1.5", "100")
	snap := domain.PortfolioSnapshot{VenueExposureQuote: map[string]decimal.Decimal{}}
	agg := domain.Aggregates{}

	d := Evaluate(op, snap, agg, testVenues(), nil, nil, testLimits())
	if !d.Approved {
		t.Fatalf("expected approval, got reject(%q)", d.Reason)
	}
}

func TestEvaluateRejectsBelowMinProfit(t *testing.T) {
	t.Parallel()
	op := testOpportunity("0.01", "100")
	d := Evaluate(op, domain.PortfolioSnapshot{}, domain.Aggregates{}, testVenues(), nil, nil, testLimits())
	if d.Approved || d.Reason != "belowMinProfit" {
		t.Fatalf("got %+v, want reject(belowMinProfit)", d)
	}
}

func TestEvaluateRejectsExceedsGlobalExposure(t *testing.T) {
	t.Parallel()
	op := testOpportunity("1.0", "4000")
	snap := domain.PortfolioSnapshot{CurrentExposureQuote: dec("4000")}
	limits := testLimits()
	limits.MaxTotalExposureQuote = dec("5000")

	d := Evaluate(op, snap, domain.Aggregates{}, testVenues(), nil, nil, limits)
	if d.Approved || d.Reason != "exceedsGlobalExposure" {
		t.Fatalf("got %+v, want reject(exceedsGlobalExposure)", d)
	}
}

// Scenario 5 (§8): dailyRealizedLoss == maxLossPerDayQuote rejects with
// reason "dailyLoss" even though every other check passes.
func TestEvaluateRejectsDailyLoss(t *testing.T) {
	t.Parallel()
	op := testOpportunity("1.5", "100")
	agg := domain.Aggregates{DailyRealizedLoss: dec("500")}

	d := Evaluate(op, domain.PortfolioSnapshot{}, agg, testVenues(), nil, nil, testLimits())
	if d.Approved || d.Reason != "dailyLoss" {
		t.Fatalf("got %+v, want reject(dailyLoss)", d)
	}
}

func TestEvaluateRejectsInsufficientDepth(t *testing.T) {
	t.Parallel()
	c := marketdata.New(testLogger())
	now := time.Now()
	c.PutBook(domain.Book{
		Venue:  "A",
		Symbol: "BTC/USDT",
		Bids:   []domain.PriceLevel{{Price: dec("99"), Size: dec("0.01")}},
		Asks:   []domain.PriceLevel{{Price: dec("100"), Size: dec("0.01")}},
		ObservedAt: now,
	})
	c.PutBook(domain.Book{
		Venue:  "B",
		Symbol: "BTC/USDT",
		Bids:   []domain.PriceLevel{{Price: dec("102"), Size: dec("10")}},
		Asks:   []domain.PriceLevel{{Price: dec("103"), Size: dec("10")}},
		ObservedAt: now,
	})

	op := testOpportunity("1.5", "100")
	d := Evaluate(op, domain.PortfolioSnapshot{}, domain.Aggregates{}, testVenues(), c, nil, testLimits())
	if d.Approved {
		t.Fatal("expected reject for insufficient depth on venue A")
	}
}

func TestEvaluateRejectsOpenVenueCircuit(t *testing.T) {
	t.Parallel()
	b := NewBreaker()
	for i := 0; i < breakerThreshold; i++ {
		b.RecordFailure("A")
	}

	op := testOpportunity("1.5", "100")
	d := Evaluate(op, domain.PortfolioSnapshot{}, domain.Aggregates{}, testVenues(), nil, b, testLimits())
	if d.Approved || d.Reason != "venueCircuitOpen" {
		t.Fatalf("got %+v, want reject(venueCircuitOpen)", d)
	}
}

func TestBreakerClosesOnSuccess(t *testing.T) {
	t.Parallel()
	b := NewBreaker()
	for i := 0; i < breakerThreshold; i++ {
		b.RecordFailure("A")
	}
	if !b.IsOpen("A") {
		t.Fatal("expected circuit open after threshold failures")
	}
	b.RecordSuccess("A")
	if b.IsOpen("A") {
		t.Fatal("expected circuit closed after recorded success")
	}
}

func TestPortfolioOnTradeTracksRealizedLoss(t *testing.T) {
	t.Parallel()
	p := NewPortfolio()
	p.OnTrade("A", "BTC", domain.Buy, dec("100"), dec("1"))
	p.OnTrade("A", "BTC", domain.Sell, dec("90"), dec("1"))

	agg := p.Aggregates()
	if !agg.DailyRealizedLoss.Equal(dec("10")) {
		t.Errorf("daily realized loss = %v, want 10", agg.DailyRealizedLoss)
	}
}

func TestPortfolioSnapshotExposure(t *testing.T) {
	t.Parallel()
	p := NewPortfolio()
	p.OnTrade("A", "BTC", domain.Buy, dec("100"), dec("2"))
	p.UpdateMark("BTC", dec("100"))

	snap := p.Snapshot()
	if !snap.CurrentExposureQuote.Equal(dec("200")) {
		t.Errorf("current exposure = %v, want 200", snap.CurrentExposureQuote)
	}
	if !snap.VenueExposureQuote["A"].Equal(dec("200")) {
		t.Errorf("venue A exposure = %v, want 200", snap.VenueExposureQuote["A"])
	}
}

// Monitor's daily-loss alert transitions false->true exactly once and
// pauses for the configured cooldown (spec §4.4).
func TestMonitorEmitsAlertOnBreachTransition(t *testing.T) {
	t.Parallel()
	p := NewPortfolio()
	m := NewMonitor(p, dec("10"), 50*time.Millisecond, testLogger())

	p.OnTrade("A", "BTC", domain.Buy, dec("100"), dec("1"))
	p.OnTrade("A", "BTC", domain.Sell, dec("80"), dec("1")) // realized loss 20 >= 10

	m.check()
	select {
	case a := <-m.Alerts():
		if a.Limit != "dailyLoss" {
			t.Errorf("alert limit = %q, want dailyLoss", a.Limit)
		}
	default:
		t.Fatal("expected an alert on breach transition")
	}

	if !m.IsPaused() {
		t.Error("expected monitor to be paused immediately after breach")
	}

	m.check() // no new transition; must not re-emit
	select {
	case a := <-m.Alerts():
		t.Fatalf("unexpected second alert: %+v", a)
	default:
	}
}
