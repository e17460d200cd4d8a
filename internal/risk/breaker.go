package risk

import (
	"sync"
	"time"
)

// breakerWindow / breakerThreshold / halfOpenAfter implement spec §7's
// per-venue circuit breaker: opens after five VenueAPI failures in five
// minutes; while open the gate refuses legs on that venue (reason
// "venueCircuitOpen"); attempts half-open probing after ten minutes.
const (
	breakerWindow    = 5 * time.Minute
	breakerThreshold = 5
	halfOpenAfter    = 10 * time.Minute
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

type venueFailures struct {
	timestamps []time.Time
	state      breakerState
	openedAt   time.Time
}

// Breaker tracks per-venue VenueAPI failures in a rolling window and opens
// the circuit once the threshold is crossed within the window. The
// rolling-window eviction technique is adapted from the teacher's
// FlowTracker (a sliding window of timestamped fills used to detect toxic
// order flow); here the tracked events are venue failures, not fills.
type Breaker struct {
	mu     sync.Mutex
	venues map[string]*venueFailures
}

// NewBreaker creates an empty per-venue breaker.
func NewBreaker() *Breaker {
	return &Breaker{venues: make(map[string]*venueFailures)}
}

// RecordFailure registers a VenueAPI failure for venue and opens the
// circuit if the threshold is crossed within the rolling window, or at
// once if the failure is the half-open probe.
func (b *Breaker) RecordFailure(venue string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	vf := b.venueLocked(venue)
	vf.timestamps = append(vf.timestamps, time.Now())
	vf.evictStaleLocked()

	if vf.state == stateHalfOpen || (len(vf.timestamps) >= breakerThreshold && vf.state != stateOpen) {
		vf.state = stateOpen
		vf.openedAt = time.Now()
	}
}

// RecordSuccess closes the circuit and clears the venue's failure window.
// A success during half-open probing confirms the venue has recovered; a
// success while closed restarts the failure count from zero.
func (b *Breaker) RecordSuccess(venue string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	vf := b.venueLocked(venue)
	vf.timestamps = vf.timestamps[:0]
	vf.state = stateClosed
}

// IsOpen reports whether venue's circuit currently refuses new legs. A
// venue past halfOpenAfter since opening transitions to half-open, which
// the gate treats as closed for admission purposes — the next leg is the
// probe, and its outcome (RecordFailure/RecordSuccess) decides the result.
func (b *Breaker) IsOpen(venue string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	vf := b.venueLocked(venue)
	if vf.state != stateOpen {
		return false
	}
	if time.Since(vf.openedAt) >= halfOpenAfter {
		vf.state = stateHalfOpen
		return false
	}
	return true
}

// OpenVenues filters candidates down to the ones whose circuit is
// currently open. Used by the dashboard to report tripped breakers
// without exposing the breaker's internal state directly.
func (b *Breaker) OpenVenues(candidates []string) []string {
	var open []string
	for _, v := range candidates {
		if b.IsOpen(v) {
			open = append(open, v)
		}
	}
	return open
}

func (b *Breaker) venueLocked(venue string) *venueFailures {
	vf, ok := b.venues[venue]
	if !ok {
		vf = &venueFailures{}
		b.venues[venue] = vf
	}
	return vf
}

// evictStaleLocked removes failure timestamps outside the rolling window.
// Must be called with the breaker's lock held.
func (vf *venueFailures) evictStaleLocked() {
	if len(vf.timestamps) == 0 {
		return
	}
	cutoff := time.Now().Add(-breakerWindow)
	kept := vf.timestamps[:0]
	for _, ts := range vf.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	vf.timestamps = kept
}
