package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCooldown is the default pause duration after a daily-loss
// breach (spec §4.4: "the Supervisor reacts with a cooldown (default 60s)
// during which the Scanner is paused").
const DefaultCooldown = 60 * time.Second

// Alert is emitted on the false->true transition of the daily-loss check.
// The Supervisor consumes this to pause the Scanner for Cooldown.
type Alert struct {
	Limit    string
	Value    decimal.Decimal
	Cooldown time.Duration
}

// Monitor watches the daily-loss aggregate and emits Alert on the
// false->true transition (spec §4.4), matching the teacher's
// risk.Manager: a single goroutine polling on a ticker, emitting
// non-blocking signals on a buffered channel, with explicit cooldown
// expiry handling so callers can't race the timer.
type Monitor struct {
	portfolio *Portfolio
	maxLoss   decimal.Decimal
	cooldown  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	breached bool
	pausedUntil time.Time

	alertCh chan Alert
}

// NewMonitor creates a daily-loss monitor. cooldown defaults to
// DefaultCooldown when zero.
func NewMonitor(portfolio *Portfolio, maxLoss decimal.Decimal, cooldown time.Duration, logger *slog.Logger) *Monitor {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Monitor{
		portfolio: portfolio,
		maxLoss:   maxLoss,
		cooldown:  cooldown,
		logger:    logger.With("component", "risk.monitor"),
		alertCh:   make(chan Alert, 4),
	}
}

// Run polls the daily-loss aggregate and emits alerts on breach.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// Alerts returns the channel the Supervisor reads alerts from.
func (m *Monitor) Alerts() <-chan Alert { return m.alertCh }

// IsPaused reports whether the cooldown from a prior breach is still
// active. The Supervisor checks this before driving the Scanner.
func (m *Monitor) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pausedUntil.IsZero() {
		return false
	}
	return time.Now().Before(m.pausedUntil)
}

func (m *Monitor) check() {
	agg := m.portfolio.Aggregates()
	isBreached := m.maxLoss.GreaterThan(decimal.Zero) && agg.DailyRealizedLoss.GreaterThanOrEqual(m.maxLoss)

	m.mu.Lock()
	wasBreached := m.breached
	m.breached = isBreached
	if isBreached && !wasBreached {
		m.pausedUntil = time.Now().Add(m.cooldown)
	}
	m.mu.Unlock()

	if isBreached && !wasBreached {
		m.logger.Error("daily loss limit breached", "value", agg.DailyRealizedLoss, "limit", m.maxLoss, "cooldown", m.cooldown)
		m.emit(Alert{Limit: "dailyLoss", Value: agg.DailyRealizedLoss, Cooldown: m.cooldown})
	}
}

func (m *Monitor) emit(a Alert) {
	select {
	case m.alertCh <- a:
	default:
		m.logger.Warn("risk alert channel full, dropping alert", "limit", a.Limit)
	}
}
