package supervisor

import (
	"log/slog"
	"testing"

	"arbitrage-engine/internal/config"
	"arbitrage-engine/internal/marketdata"
)

func TestBuildAdapterCategories(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		vc      config.VenueConfig
		wantErr bool
	}{
		{name: "demo", vc: config.VenueConfig{ID: "d1", Category: "demo"}},
		{name: "spot", vc: config.VenueConfig{ID: "s1", Category: "spot", BaseURL: "https://example.test"}},
		{name: "perpetual", vc: config.VenueConfig{ID: "p1", Category: "perpetual", BaseURL: "https://example.test"}},
		{
			name: "dex",
			vc: config.VenueConfig{
				ID: "x1", Category: "dex", BaseURL: "https://relay.test",
				PrivateKeyHex: "1086497d1a8338bbe7de3ba185fb6d00948d2e2bf1ed9d5206d3de58cbbf87dc",
				ChainID:       137,
			},
		},
		{name: "unknown", vc: config.VenueConfig{ID: "u1", Category: "bogus"}, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			adapter, err := buildAdapter(tc.vc)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for category %q", tc.vc.Category)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if adapter.ID() != tc.vc.ID {
				t.Fatalf("ID() = %q, want %q", adapter.ID(), tc.vc.ID)
			}
		})
	}
}

func TestBuildStrategiesIncludesConfiguredRoutes(t *testing.T) {
	t.Parallel()

	cfg := config.StrategyConfig{
		Symbols:          []string{"BTC-USD", "ETH-USD", "ETH-BTC"},
		Venues:           []string{"a", "b"},
		MinProfitPct:     0.003,
		MaxPositionQuote: 1000,
		Triangles: []config.TriangleConfig{
			{Venue: "a", A: "BTC-USD", B: "ETH-BTC", C: "ETH-USD"},
		},
		Basis: []config.BasisConfig{
			{SpotVenue: "a", PerpVenue: "b", Symbol: "BTC-USD", FundingRate: 0.0001, FundingPeriodsYear: 1095},
		},
	}

	funcs := buildStrategies(cfg)

	// Simple + one triangle + one basis route.
	if len(funcs) != 3 {
		t.Fatalf("got %d strategy funcs, want 3", len(funcs))
	}

	cache := marketdata.New(slog.Default())
	for i, f := range funcs {
		if f == nil {
			t.Fatalf("strategy func %d is nil", i)
		}
		// Each func must run without panicking against an empty cache.
		_ = f(cache)
	}
}
