package performance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/domain"
	"arbitrage-engine/internal/execution"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func completedExecution(profit string, start time.Time) domain.Execution {
	completedAt := start.Add(2 * time.Second)
	return domain.Execution{
		OpportunityID:  "op-1",
		Status:         domain.ExecCompleted,
		RealizedProfit: dec(profit),
		TotalFees:      dec("0.1"),
		StartedAt:      start,
		CompletedAt:    &completedAt,
	}
}

// observeExecution feeds the executionStarted/executionCompleted (or
// executionFailed) pair a real Coordinator run would emit, matching spec
// §9's resolution: totalExecutions counts on start, successfulExecutions
// counts on terminal completion.
func observeExecution(tr *Tracker, typ execution.EventType, exec domain.Execution) {
	tr.Observe(execution.Event{Type: execution.EventStarted, Execution: exec})
	tr.Observe(execution.Event{Type: typ, Execution: exec})
}

func TestObserveCompletedAccumulatesProfit(t *testing.T) {
	t.Parallel()
	tr := New()
	day := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	observeExecution(tr, execution.EventCompleted, completedExecution("10", day))
	observeExecution(tr, execution.EventCompleted, completedExecution("5", day))

	snap := tr.Snapshot()
	if snap.TotalExecutions != 2 || snap.SuccessfulExecutions != 2 {
		t.Fatalf("counts = %+v", snap)
	}
	want := dec("15")
	if !snap.CumulativeProfit.Equal(want) {
		t.Errorf("cumulativeProfit = %s, want %s", snap.CumulativeProfit, want)
	}
}

func TestObserveFailedDoesNotAddProfitButCountsExecution(t *testing.T) {
	t.Parallel()
	tr := New()
	failed := domain.Execution{Status: domain.ExecFailed, StartedAt: time.Now()}

	observeExecution(tr, execution.EventFailed, failed)

	snap := tr.Snapshot()
	if snap.TotalExecutions != 1 || snap.SuccessfulExecutions != 0 {
		t.Fatalf("counts = %+v", snap)
	}
	if !snap.CumulativeProfit.IsZero() {
		t.Errorf("cumulativeProfit = %s, want 0", snap.CumulativeProfit)
	}
}

func TestTotalExecutionsCountsOnStartNotOnlyOnCompletion(t *testing.T) {
	t.Parallel()
	tr := New()

	tr.Observe(execution.Event{Type: execution.EventStarted, Execution: domain.Execution{StartedAt: time.Now()}})

	snap := tr.Snapshot()
	if snap.TotalExecutions != 1 {
		t.Fatalf("totalExecutions = %d after executionStarted, want 1", snap.TotalExecutions)
	}
	if snap.SuccessfulExecutions != 0 {
		t.Fatalf("successfulExecutions = %d after executionStarted, want 0", snap.SuccessfulExecutions)
	}
}

func TestDrawdownTracksDropFromPeak(t *testing.T) {
	t.Parallel()
	tr := New()
	day := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	observeExecution(tr, execution.EventCompleted, completedExecution("100", day))
	observeExecution(tr, execution.EventCompleted, completedExecution("-40", day.Add(time.Hour)))

	snap := tr.Snapshot()
	// peak = 100, realized after second = 60, drawdown = (100-60)/100 = 0.4
	if snap.MaxDrawdown < 0.39 || snap.MaxDrawdown > 0.41 {
		t.Errorf("maxDrawdown = %v, want ~0.4", snap.MaxDrawdown)
	}
}

func TestSharpeRequiresAtLeastTwoDailyReturns(t *testing.T) {
	t.Parallel()
	tr := New()
	day := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	observeExecution(tr, execution.EventCompleted, completedExecution("10", day))
	if got := tr.Snapshot().SharpeRatio; got != 0 {
		t.Errorf("sharpe with one day = %v, want 0", got)
	}

	observeExecution(tr, execution.EventCompleted, completedExecution("12", day.AddDate(0, 0, 1)))
	if got := tr.Snapshot().SharpeRatio; got == 0 {
		t.Errorf("sharpe with two distinct days should be non-zero, got %v", got)
	}
}

func TestDailyProfitTrimmedTo30Days(t *testing.T) {
	t.Parallel()
	tr := New()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 35; i++ {
		observeExecution(tr, execution.EventCompleted, completedExecution("1", base.AddDate(0, 0, i)))
	}

	snap := tr.Snapshot()
	if len(snap.DailyProfit) > dailyWindowDays {
		t.Errorf("len(dailyProfit) = %d, want <= %d", len(snap.DailyProfit), dailyWindowDays)
	}
}
