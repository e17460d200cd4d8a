// Package scanner implements the Opportunity Scanner (spec §4.3): a
// periodic driver that runs the configured strategies against the Market
// Data Cache, deduplicates and caps the resulting candidate set, and
// sweeps expired candidates on a second timer.
package scanner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"arbitrage-engine/internal/domain"
	"arbitrage-engine/internal/marketdata"
)

// ScanPeriod / SweepPeriod / MaxActive are the spec §4.3 defaults.
const (
	ScanPeriod  = time.Second
	SweepPeriod = 5 * time.Second
	MaxActive   = 50
)

// StrategyFunc produces candidate opportunities from the cache's current
// state. Simple/Triangular/Basis are adapted to this shape by binding
// their Config via a closure at wiring time.
type StrategyFunc func(cache *marketdata.Cache) []domain.Opportunity

// Event mirrors the named events in spec §6: opportunityDetected and
// opportunityExpired.
type Event struct {
	Type        string // "opportunityDetected" | "opportunityExpired"
	Opportunity domain.Opportunity
}

type runState int

const (
	stateStopped runState = iota
	stateRunning
	statePaused
)

// Scanner runs the configured strategies on a fixed clock, dedupes by
// fingerprint, and caps the active candidate set. Grounded on the
// teacher's market.Scanner: a ticker-driven poll loop feeding a
// non-blocking result channel that drops/replaces stale results rather
// than blocking the producer.
type Scanner struct {
	cache      *marketdata.Cache
	strategies []StrategyFunc
	maxActive  int
	logger     *slog.Logger

	mu     sync.Mutex
	state  runState
	active map[string]domain.Opportunity // fingerprint -> live candidate

	events chan Event
}

// New creates a scanner bound to cache, running strategies in the given
// order each tick. maxActive defaults to MaxActive when <= 0.
func New(cache *marketdata.Cache, strategies []StrategyFunc, maxActive int, logger *slog.Logger) *Scanner {
	if maxActive <= 0 {
		maxActive = MaxActive
	}
	return &Scanner{
		cache:      cache,
		strategies: strategies,
		maxActive:  maxActive,
		logger:     logger.With("component", "scanner"),
		active:     make(map[string]domain.Opportunity),
		events:     make(chan Event, 256),
	}
}

// Events returns the opportunityDetected/opportunityExpired stream.
func (s *Scanner) Events() <-chan Event { return s.events }

// Start transitions the scanner into the running state. Run must already
// be (or about to be) looping; Start/Stop/Pause/Resume only gate whether
// ticks do work.
func (s *Scanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateRunning
}

// Stop clears the active set and halts ticks.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateStopped
	s.active = make(map[string]domain.Opportunity)
}

// Pause preserves the active set but suspends ticks.
func (s *Scanner) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateRunning {
		s.state = statePaused
	}
}

// Resume resumes ticking immediately.
func (s *Scanner) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == statePaused {
		s.state = stateRunning
	}
}

// Run drives the scan and sweep tickers until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	scanTicker := time.NewTicker(ScanPeriod)
	sweepTicker := time.NewTicker(SweepPeriod)
	defer scanTicker.Stop()
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scanTicker.C:
			s.tick()
		case <-sweepTicker.C:
			s.sweep()
		}
	}
}

// Active returns a snapshot of the live candidate set.
func (s *Scanner) Active() []domain.Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Opportunity, 0, len(s.active))
	for _, op := range s.active {
		out = append(out, op)
	}
	return out
}

func (s *Scanner) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

func (s *Scanner) tick() {
	if !s.isRunning() {
		return
	}

	for _, strat := range s.strategies {
		for _, candidate := range strat(s.cache) {
			s.admit(candidate)
		}
	}
}

// admit deduplicates by fingerprint (keeping the higher-net candidate)
// then caps the active set, evicting the lowest-net candidate when full
// (spec §4.3 steps 2-4).
func (s *Scanner) admit(candidate domain.Opportunity) {
	fp := candidate.Fingerprint()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.active[fp]; ok {
		if candidate.ProjectedProfitQuote.LessThanOrEqual(existing.ProjectedProfitQuote) {
			return
		}
		s.active[fp] = candidate
		s.emit(Event{Type: "opportunityDetected", Opportunity: candidate})
		return
	}

	if len(s.active) >= s.maxActive {
		lowestFP, lowest, found := s.lowestNetLocked()
		if !found {
			return
		}
		if candidate.ProjectedProfitQuote.LessThanOrEqual(lowest.ProjectedProfitQuote) {
			return
		}
		delete(s.active, lowestFP)
	}

	s.active[fp] = candidate
	s.emit(Event{Type: "opportunityDetected", Opportunity: candidate})
}

func (s *Scanner) lowestNetLocked() (string, domain.Opportunity, bool) {
	var (
		lowestFP string
		lowest   domain.Opportunity
		found    bool
	)
	for fp, op := range s.active {
		if !found || op.ProjectedProfitQuote.LessThan(lowest.ProjectedProfitQuote) {
			lowestFP, lowest, found = fp, op, true
		}
	}
	return lowestFP, lowest, found
}

// sweep expires detected candidates whose TTL has elapsed.
func (s *Scanner) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for fp, op := range s.active {
		if op.Status != domain.StatusDetected {
			continue
		}
		if now.Before(op.ExpiresAt) {
			continue
		}
		op.Status = domain.StatusExpired
		delete(s.active, fp)
		s.emit(Event{Type: "opportunityExpired", Opportunity: op})
	}
}

func (s *Scanner) emit(evt Event) {
	select {
	case s.events <- evt:
	default:
		s.logger.Warn("scanner event channel full, dropping event", "type", evt.Type)
	}
}
