package venue

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestDemoAdapterFetchTicker(t *testing.T) {
	t.Parallel()
	a := NewDemoAdapter("demo", domain.VenueSpot)
	a.SeedTicker(domain.Ticker{Venue: "demo", Symbol: "BTC/USDT", Bid: dec("100"), Ask: dec("100.1"), ObservedAt: time.Now()})

	got, err := a.FetchTicker(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchTicker: %v", err)
	}
	if !got.Bid.Equal(dec("100")) {
		t.Errorf("bid = %v, want 100", got.Bid)
	}
}

func TestDemoAdapterFetchTickerNotFound(t *testing.T) {
	t.Parallel()
	a := NewDemoAdapter("demo", domain.VenueSpot)

	_, err := a.FetchTicker(context.Background(), "NOPE/USDT")
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestDemoAdapterPlaceOrderIdempotentClientID(t *testing.T) {
	t.Parallel()
	a := NewDemoAdapter("demo", domain.VenueSpot)

	req := OrderRequest{ClientID: "exec-1-step-1", Symbol: "BTC/USDT", Side: domain.Buy, Type: OrderMarket, Amount: dec("1")}
	id1, err := a.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	id2, err := a.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("PlaceOrder retry: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected identical external order IDs for the same client ID, got %q and %q", id1, id2)
	}
}

func TestDemoAdapterFundingRateNotApplicableForSpot(t *testing.T) {
	t.Parallel()
	a := NewDemoAdapter("demo", domain.VenueSpot)

	_, err := a.FundingRate(context.Background(), "BTC/USDT")
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected KindNotFound for spot venue funding rate, got %v", err)
	}
}

func TestTokenBucketBlocksUntilRefill(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(1, 100) // 1 burst, refills fast

	ctx := context.Background()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	start := time.Now()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if time.Since(start) <= 0 {
		t.Error("expected second Wait to block for at least a moment")
	}
}

// IsKind is a small test helper that compares a venue error's kind.
func IsKind(err error, kind ErrorKind) bool {
	ve, ok := err.(*Error)
	return ok && ve.Kind == kind
}
