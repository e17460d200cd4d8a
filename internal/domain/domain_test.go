package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestOpportunityFingerprint(t *testing.T) {
	t.Parallel()

	a := Opportunity{
		Kind: KindSimple,
		Legs: []Leg{
			{StepIndex: 1, Venue: "binance", Symbol: "BTC/USDT", Side: Buy},
			{StepIndex: 2, Venue: "coinbase", Symbol: "BTC/USDT", Side: Sell},
		},
	}
	b := Opportunity{
		Kind: KindSimple,
		Legs: []Leg{
			{StepIndex: 1, Venue: "binance", Symbol: "BTC/USDT", Side: Buy},
			{StepIndex: 2, Venue: "coinbase", Symbol: "BTC/USDT", Side: Sell},
		},
	}
	c := Opportunity{
		Kind: KindSimple,
		Legs: []Leg{
			{StepIndex: 1, Venue: "coinbase", Symbol: "BTC/USDT", Side: Buy},
			{StepIndex: 2, Venue: "binance", Symbol: "BTC/USDT", Side: Sell},
		},
	}

	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("identical leg plans should share a fingerprint: %q != %q", a.Fingerprint(), b.Fingerprint())
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Errorf("swapped venues should not share a fingerprint")
	}
}

func TestOpportunityStatusIsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status OpportunityStatus
		want   bool
	}{
		{StatusDetected, false},
		{StatusApproved, false},
		{StatusExecuting, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusExpired, true},
		{StatusRejected, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("Status(%q).IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestBalanceTotal(t *testing.T) {
	t.Parallel()

	b := Balance{
		Free:   decimal.NewFromFloat(1.5),
		Locked: decimal.NewFromFloat(0.5),
	}

	if got, want := b.Total(), decimal.NewFromFloat(2.0); !got.Equal(want) {
		t.Errorf("Total() = %v, want %v", got, want)
	}
}
