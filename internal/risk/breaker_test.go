package risk

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b := NewBreaker()

	if b.IsOpen("v1") {
		t.Fatal("fresh venue should not be open")
	}

	for i := 0; i < breakerThreshold-1; i++ {
		b.RecordFailure("v1")
	}
	if b.IsOpen("v1") {
		t.Fatal("venue should still be closed below threshold")
	}

	b.RecordFailure("v1")
	if !b.IsOpen("v1") {
		t.Fatal("venue should be open at threshold")
	}
}

func TestBreakerSuccessCloses(t *testing.T) {
	t.Parallel()
	b := NewBreaker()
	for i := 0; i < breakerThreshold; i++ {
		b.RecordFailure("v1")
	}
	if !b.IsOpen("v1") {
		t.Fatal("expected open after threshold")
	}

	b.RecordSuccess("v1")
	if b.IsOpen("v1") {
		t.Fatal("expected closed after success")
	}
}

func TestBreakerHalfOpensAfterCooldown(t *testing.T) {
	t.Parallel()
	b := NewBreaker()
	vf := b.venueLocked("v1")
	vf.state = stateOpen
	vf.openedAt = time.Now().Add(-(halfOpenAfter + time.Second))

	if b.IsOpen("v1") {
		t.Fatal("expected half-open (treated as closed) past halfOpenAfter")
	}
}

func TestBreakerOpenVenuesFiltersCandidates(t *testing.T) {
	t.Parallel()
	b := NewBreaker()
	for i := 0; i < breakerThreshold; i++ {
		b.RecordFailure("bad")
	}

	open := b.OpenVenues([]string{"bad", "good"})
	if len(open) != 1 || open[0] != "bad" {
		t.Fatalf("OpenVenues = %v, want [bad]", open)
	}
}
