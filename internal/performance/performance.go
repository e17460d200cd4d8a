// Package performance implements the Performance Tracker (spec §4.6): a
// pure aggregator over the Execution Coordinator's event stream plus a
// Prometheus-backed observability surface.
package performance

import (
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/domain"
	"arbitrage-engine/internal/execution"
)

const (
	rollingWindow   = 1000
	dailyWindowDays = 30
	dailyRiskFree   = 0.02 / 365
)

// Prometheus metrics, registered in init() the way the teacher's
// metrics.go registers its CounterVec/Gauge/GaugeVec set.
var (
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_executions_total",
			Help: "Executions counted by terminal status (completed|failed).",
		},
		[]string{"status"},
	)

	realizedProfitGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arb_realized_profit_quote",
			Help: "Cumulative realized profit in quote-currency units.",
		},
	)

	drawdownGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arb_max_drawdown_ratio",
			Help: "Running max drawdown, (peak - realized) / peak.",
		},
	)

	executionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arb_execution_duration_seconds",
			Help:    "Wall-clock duration of completed executions.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(executionsTotal, realizedProfitGauge, drawdownGauge, executionDuration)
}

// Snapshot is the on-demand read model exposed to the dashboard and API.
type Snapshot struct {
	TotalExecutions      int
	SuccessfulExecutions int
	CumulativeProfit     decimal.Decimal
	CumulativeFees       decimal.Decimal
	PeakProfit           decimal.Decimal
	MaxDrawdown          float64
	SharpeRatio          float64
	DailyProfit          map[string]decimal.Decimal
}

// Tracker consumes executionStarted/executionCompleted/executionFailed
// events and maintains rolling aggregates. Single-writer (the
// Coordinator's event loop feeding Run), many-reader (Snapshot), per
// spec §5's shared-resource policy.
type Tracker struct {
	mu sync.RWMutex

	totalExecutions      int
	successfulExecutions int
	cumulativeProfit     decimal.Decimal
	cumulativeFees       decimal.Decimal
	peakProfit           decimal.Decimal
	maxDrawdown          float64

	profits   []decimal.Decimal // rolling, most recent `rollingWindow`
	latencies []time.Duration   // rolling, most recent `rollingWindow`

	dailyProfit map[string]decimal.Decimal // "2006-01-02" -> profit, trimmed to 30 days
	dailyOrder  []string                   // insertion order for trimming
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		cumulativeProfit: decimal.Zero,
		cumulativeFees:   decimal.Zero,
		peakProfit:       decimal.Zero,
		dailyProfit:      make(map[string]decimal.Decimal),
	}
}

// Run consumes events until the events channel is closed or done is closed.
func (t *Tracker) Run(events <-chan execution.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			t.Observe(evt)
		}
	}
}

// Observe applies a single Coordinator event to the aggregate. Per spec §9,
// totalExecutions counts on start and successfulExecutions counts on
// terminal completion, so the success rate reflects in-flight attempts too.
func (t *Tracker) Observe(evt execution.Event) {
	switch evt.Type {
	case execution.EventStarted:
		t.recordStart()
	case execution.EventCompleted:
		t.recordCompletion(evt.Execution, true)
	case execution.EventFailed:
		t.recordCompletion(evt.Execution, false)
	}
}

func (t *Tracker) recordStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalExecutions++
}

func (t *Tracker) recordCompletion(exec domain.Execution, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := "failed"
	if success {
		status = "completed"
		t.successfulExecutions++
		t.cumulativeProfit = t.cumulativeProfit.Add(exec.RealizedProfit)
		t.cumulativeFees = t.cumulativeFees.Add(exec.TotalFees)
	}
	executionsTotal.WithLabelValues(status).Inc()
	realizedProfitGauge.Set(mustFloat(t.cumulativeProfit))

	if t.cumulativeProfit.GreaterThan(t.peakProfit) {
		t.peakProfit = t.cumulativeProfit
	}
	if t.peakProfit.GreaterThan(decimal.Zero) {
		dd := t.peakProfit.Sub(t.cumulativeProfit).Div(t.peakProfit)
		if f, _ := dd.Float64(); f > t.maxDrawdown {
			t.maxDrawdown = f
		}
	}
	drawdownGauge.Set(t.maxDrawdown)

	t.profits = appendRolling(t.profits, exec.RealizedProfit, rollingWindow)
	if exec.CompletedAt != nil {
		latency := exec.CompletedAt.Sub(exec.StartedAt)
		t.latencies = appendRollingDuration(t.latencies, latency, rollingWindow)
		executionDuration.Observe(latency.Seconds())
	}

	day := exec.StartedAt.Format("2006-01-02")
	if success {
		prior, ok := t.dailyProfit[day]
		if !ok {
			t.dailyOrder = append(t.dailyOrder, day)
		}
		if !ok {
			prior = decimal.Zero
		}
		t.dailyProfit[day] = prior.Add(exec.RealizedProfit)
	}
	for len(t.dailyOrder) > dailyWindowDays {
		oldest := t.dailyOrder[0]
		t.dailyOrder = t.dailyOrder[1:]
		delete(t.dailyProfit, oldest)
	}
}

// Snapshot returns a point-in-time read-only copy of the aggregate.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	daily := make(map[string]decimal.Decimal, len(t.dailyProfit))
	for k, v := range t.dailyProfit {
		daily[k] = v
	}

	return Snapshot{
		TotalExecutions:      t.totalExecutions,
		SuccessfulExecutions: t.successfulExecutions,
		CumulativeProfit:     t.cumulativeProfit,
		CumulativeFees:       t.cumulativeFees,
		PeakProfit:           t.peakProfit,
		MaxDrawdown:          t.maxDrawdown,
		SharpeRatio:          t.sharpeLocked(),
		DailyProfit:          daily,
	}
}

// sharpeLocked computes a Sharpe-style ratio from daily returns using a
// daily risk-free constant of 0.02/365 (spec §4.6). Requires at least
// two daily returns; returns 0 otherwise.
func (t *Tracker) sharpeLocked() float64 {
	if len(t.dailyOrder) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(t.dailyOrder))
	for _, day := range t.dailyOrder {
		f, _ := t.dailyProfit[day].Float64()
		returns = append(returns, f-dailyRiskFree)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return mean / stddev
}

func appendRolling(s []decimal.Decimal, v decimal.Decimal, max int) []decimal.Decimal {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

func appendRollingDuration(s []time.Duration, v time.Duration, max int) []time.Duration {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
