package strategy

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/domain"
	"arbitrage-engine/internal/marketdata"
)

func newTestCache() *marketdata.Cache {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return marketdata.New(logger)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedPair(c *marketdata.Cache, venue, symbol string, bid, ask, volume string, age time.Duration) {
	now := time.Now().Add(-age)
	c.PutTicker(domain.Ticker{Venue: venue, Symbol: symbol, Bid: dec(bid), Ask: dec(ask), Last: dec(bid), Volume: dec(volume), ObservedAt: now})
	c.PutBook(domain.Book{
		Venue:  venue,
		Symbol: symbol,
		Bids:   []domain.PriceLevel{{Price: dec(bid), Size: dec("50")}},
		Asks:   []domain.PriceLevel{{Price: dec(ask), Size: dec("50")}},
		ObservedAt: now,
	})
}

// Scenario 1 (§8): buy low on venue A, sell high on venue B, profitable
// after fees.
func TestSimpleProfitablePair(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	seedPair(c, "A", "BTC/USDT", "100", "100.1", "1000", 0)
	seedPair(c, "B", "BTC/USDT", "102", "102.1", "1000", 0)

	cfg := Config{
		Symbols:          []string{"BTC/USDT"},
		MinProfitPct:     dec("0.1"),
		MaxPositionQuote: dec("10000"),
	}

	ops := Simple(cfg, c)
	if len(ops) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(ops))
	}
	op := ops[0]
	if op.Kind != domain.KindSimple {
		t.Errorf("kind = %q, want simple", op.Kind)
	}
	if !op.ProjectedProfitPct.GreaterThanOrEqual(cfg.MinProfitPct) {
		t.Errorf("projected profit %v below threshold %v", op.ProjectedProfitPct, cfg.MinProfitPct)
	}
	if op.Legs[0].Venue != "A" || op.Legs[0].Side != domain.Buy {
		t.Errorf("leg 1 = %+v, want buy on A", op.Legs[0])
	}
	if op.Legs[1].Venue != "B" || op.Legs[1].Side != domain.Sell {
		t.Errorf("leg 2 = %+v, want sell on B", op.Legs[1])
	}
}

// Scenario 2 (§8): the spread exists but fees consume it; no opportunity
// should be emitted.
func TestSimpleInsufficientProfitAfterFees(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	seedPair(c, "A", "BTC/USDT", "100", "100.05", "1000", 0)
	seedPair(c, "B", "BTC/USDT", "100.10", "100.15", "1000", 0)

	cfg := Config{
		Symbols:          []string{"BTC/USDT"},
		MinProfitPct:     dec("0.1"),
		MaxPositionQuote: dec("10000"),
		FeeRates:         map[string]decimal.Decimal{"A": dec("0.005"), "B": dec("0.005")},
	}

	ops := Simple(cfg, c)
	if len(ops) != 0 {
		t.Fatalf("got %d opportunities, want 0 (fees should consume the spread)", len(ops))
	}
}

// Scenario 3 (§8): one venue's snapshot is stale; it must be excluded from
// consideration entirely.
func TestSimpleExcludesStaleSnapshot(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	seedPair(c, "A", "BTC/USDT", "100", "100.1", "1000", 0)
	seedPair(c, "B", "BTC/USDT", "105", "105.1", "1000", marketdata.StaleAfter+time.Second)

	cfg := Config{
		Symbols:          []string{"BTC/USDT"},
		MinProfitPct:     dec("0.1"),
		MaxPositionQuote: dec("10000"),
	}

	ops := Simple(cfg, c)
	if len(ops) != 0 {
		t.Fatalf("got %d opportunities, want 0 (venue B snapshot is stale)", len(ops))
	}
}

func TestSimpleNoCrossedMarket(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	seedPair(c, "A", "BTC/USDT", "100", "100.5", "1000", 0)
	seedPair(c, "B", "BTC/USDT", "99", "99.5", "1000", 0)

	cfg := Config{Symbols: []string{"BTC/USDT"}, MinProfitPct: dec("0.01"), MaxPositionQuote: dec("10000")}

	ops := Simple(cfg, c)
	if len(ops) != 0 {
		t.Fatalf("got %d opportunities, want 0 (no venue's ask undercuts another's bid)", len(ops))
	}
}

// Scenario 6 (§8): a profitable triangular round trip on one venue. Market
// data only carries the canonical BASE/QUOTE symbols a real venue would
// publish (no fabricated reverse-named tickers); the forward path BTC->ETH
// ->USDT->BTC has to resolve its final leg by looking up the inverse
// "BTC/USDT" ticker and trading it as a Buy.
func TestTriangularRoundTrip(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	now := time.Now()
	c.PutTicker(domain.Ticker{Venue: "X", Symbol: "BTC/ETH", Bid: dec("15"), Ask: dec("15.1"), Last: dec("15"), Volume: dec("100"), ObservedAt: now})
	c.PutTicker(domain.Ticker{Venue: "X", Symbol: "ETH/USDT", Bid: dec("2000"), Ask: dec("2001"), Last: dec("2000"), Volume: dec("100"), ObservedAt: now})
	c.PutTicker(domain.Ticker{Venue: "X", Symbol: "BTC/USDT", Bid: dec("29250"), Ask: dec("29300"), Last: dec("29280"), Volume: dec("100"), ObservedAt: now})

	cfg := Config{
		MinProfitPct:     dec("0.01"),
		MaxPositionQuote: dec("1"),
		Triangles: []TriangleConfig{
			{Venue: "X", A: "BTC", B: "ETH", C: "USDT"},
		},
	}

	ops := Triangular(cfg, c)
	if len(ops) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(ops))
	}

	op := ops[0]
	if len(op.Legs) != 3 {
		t.Fatalf("triangular opportunity has %d legs, want 3", len(op.Legs))
	}
	if op.Kind != domain.KindTriangular {
		t.Errorf("kind = %q, want triangular", op.Kind)
	}

	final := op.Legs[2]
	if final.Symbol != "BTC/USDT" || final.Side != domain.Buy {
		t.Errorf("final leg = %s/%s, want BTC/USDT Buy (resolved via the inverse ticker)", final.Symbol, final.Side)
	}
}

// TestTriangularPicksMoreProfitableDirection makes both the forward and
// reverse cycles clear the profit threshold, with the reverse direction
// strictly better, and checks that direction is the one returned.
func TestTriangularPicksMoreProfitableDirection(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	now := time.Now()
	// Both the forward-named and reverse-named pair for each step are
	// published directly (a venue quoting both "BTC/ETH" and "ETH/BTC" is
	// realistic), so forward and reverse price off independent tickers
	// instead of one being the other's mechanical inverse. That lets both
	// cycles clear the threshold at once, with reverse strictly ahead.
	c.PutTicker(domain.Ticker{Venue: "X", Symbol: "BTC/ETH", Bid: dec("1.01"), Ask: dec("1.02"), Last: dec("1.01"), Volume: dec("100"), ObservedAt: now})
	c.PutTicker(domain.Ticker{Venue: "X", Symbol: "ETH/USDT", Bid: dec("1.01"), Ask: dec("1.02"), Last: dec("1.01"), Volume: dec("100"), ObservedAt: now})
	c.PutTicker(domain.Ticker{Venue: "X", Symbol: "USDT/BTC", Bid: dec("1.01"), Ask: dec("1.02"), Last: dec("1.01"), Volume: dec("100"), ObservedAt: now})
	c.PutTicker(domain.Ticker{Venue: "X", Symbol: "USDT/ETH", Bid: dec("1.02"), Ask: dec("1.03"), Last: dec("1.02"), Volume: dec("100"), ObservedAt: now})
	c.PutTicker(domain.Ticker{Venue: "X", Symbol: "ETH/BTC", Bid: dec("1.02"), Ask: dec("1.03"), Last: dec("1.02"), Volume: dec("100"), ObservedAt: now})
	c.PutTicker(domain.Ticker{Venue: "X", Symbol: "BTC/USDT", Bid: dec("1.02"), Ask: dec("1.03"), Last: dec("1.02"), Volume: dec("100"), ObservedAt: now})

	cfg := Config{
		MinProfitPct:     dec("0.01"),
		MaxPositionQuote: dec("1"),
		Triangles: []TriangleConfig{
			{Venue: "X", A: "BTC", B: "ETH", C: "USDT"},
		},
	}

	_, forwardPct, forwardOK := triangleLeg(cfg, c, cfg.Triangles[0], "BTC", "ETH", "USDT")
	reverse, reversePct, reverseOK := triangleLeg(cfg, c, cfg.Triangles[0], "USDT", "ETH", "BTC")
	if !forwardOK || !reverseOK {
		t.Fatalf("expected both directions priceable, got forwardOK=%v reverseOK=%v", forwardOK, reverseOK)
	}
	if !reversePct.GreaterThan(forwardPct) {
		t.Fatalf("fixture invalid: expected reverse (%s) to beat forward (%s)", reversePct, forwardPct)
	}

	ops := Triangular(cfg, c)
	if len(ops) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(ops))
	}
	if ops[0].Legs[0].Symbol != reverse[0].symbol || ops[0].Legs[0].Side != reverse[0].side {
		t.Errorf("picked direction's first leg = %s/%s, want the reverse direction's %s/%s", ops[0].Legs[0].Symbol, ops[0].Legs[0].Side, reverse[0].symbol, reverse[0].side)
	}
}

func TestBasisRequiresPositiveEdge(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	now := time.Now()
	c.PutTicker(domain.Ticker{Venue: "spot", Symbol: "BTC/USDT", Bid: dec("100"), Ask: dec("100.1"), Last: dec("100"), Volume: dec("1000"), ObservedAt: now})
	c.PutTicker(domain.Ticker{Venue: "perp", Symbol: "BTC/USDT", Bid: dec("100.05"), Ask: dec("100.15"), Last: dec("100.1"), Volume: dec("1000"), ObservedAt: now})

	cfg := Config{
		MinProfitPct:     dec("1"),
		MaxPositionQuote: dec("1000"),
		Basis: []BasisConfig{
			{SpotVenue: "spot", PerpVenue: "perp", Symbol: "BTC/USDT", FundingRate: dec("0.0001"), FundingPeriodsYear: 1095},
		},
	}

	ops := Basis(cfg, c)
	if len(ops) != 0 {
		t.Fatalf("got %d opportunities, want 0 (funding edge below 1%% threshold)", len(ops))
	}
}

func TestBasisEmitsWhenEdgeClearsThreshold(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	now := time.Now()
	c.PutTicker(domain.Ticker{Venue: "spot", Symbol: "BTC/USDT", Bid: dec("100"), Ask: dec("100.1"), Last: dec("100"), Volume: dec("1000"), ObservedAt: now})
	c.PutTicker(domain.Ticker{Venue: "perp", Symbol: "BTC/USDT", Bid: dec("100.05"), Ask: dec("100.15"), Last: dec("100.1"), Volume: dec("1000"), ObservedAt: now})

	cfg := Config{
		MinProfitPct:     dec("0.01"),
		MaxPositionQuote: dec("1000"),
		Basis: []BasisConfig{
			{SpotVenue: "spot", PerpVenue: "perp", Symbol: "BTC/USDT", FundingRate: dec("0.001"), FundingPeriodsYear: 1095},
		},
	}

	ops := Basis(cfg, c)
	if len(ops) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(ops))
	}
	if ops[0].Kind != domain.KindBasis {
		t.Errorf("kind = %q, want basis", ops[0].Kind)
	}
	if len(ops[0].Legs) != 2 {
		t.Errorf("basis opportunity has %d legs, want 2", len(ops[0].Legs))
	}
}
