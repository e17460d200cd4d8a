// Package audit implements the append-only relational audit store (spec
// §6): a write-behind recorder covering the three logical schemas —
// trading (executions/trades), monitoring (performance snapshots, error
// logs), and analytics is left to SQL views over the trading tables
// (daily_performance, venue_performance), which this package does not
// materialize in Go.
//
// Grounded on ChoSanghyuk-blackholedex's MySQLRecorder: gorm.Open +
// AutoMigrate at construction, one table per record kind, big-number
// fields stored as strings to avoid floating-point drift. Where the
// teacher records one append-only snapshot per report, the Coordinator's
// execution stream here is high enough volume to warrant a buffered
// write-behind queue instead of a synchronous db.Create per event.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"arbitrage-engine/internal/domain"
	"arbitrage-engine/internal/performance"
)

const queueCapacity = 512

// ExecutionRecord is the trading-schema row for one Execution.
type ExecutionRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	OpportunityID  string    `gorm:"index;not null"`
	Status         string    `gorm:"not null"`
	RealizedProfit string    `gorm:"type:varchar(64);not null"`
	TotalFees      string    `gorm:"type:varchar(64);not null"`
	StartedAt      time.Time `gorm:"index;not null"`
	CompletedAt    *time.Time
	Errors         string `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	Trades         []TradeRecord
}

func (ExecutionRecord) TableName() string { return "executions" }

// TradeRecord is the trading-schema row for one leg's trade outcome.
type TradeRecord struct {
	ID                 uint   `gorm:"primaryKey;autoIncrement"`
	ExecutionRecordID  uint   `gorm:"index;not null"`
	Venue              string `gorm:"index;not null"`
	Symbol             string `gorm:"not null"`
	Side               string `gorm:"not null"`
	RequestedAmount    string `gorm:"type:varchar(64);not null"`
	RequestedPrice     string `gorm:"type:varchar(64);not null"`
	FilledAmount       string `gorm:"type:varchar(64);not null"`
	AverageFillPrice   string `gorm:"type:varchar(64);not null"`
	Fee                string `gorm:"type:varchar(64);not null"`
	Status             string `gorm:"not null"`
	ExternalOrderID    string
	ClientOrderID      string
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	FilledAt           *time.Time
}

func (TradeRecord) TableName() string { return "trades" }

// PerformanceSnapshotRecord is the monitoring-schema row for one
// Performance Tracker snapshot.
type PerformanceSnapshotRecord struct {
	ID                   uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp            time.Time `gorm:"index;not null"`
	TotalExecutions      int       `gorm:"not null"`
	SuccessfulExecutions int       `gorm:"not null"`
	CumulativeProfit     string    `gorm:"type:varchar(64);not null"`
	CumulativeFees       string    `gorm:"type:varchar(64);not null"`
	MaxDrawdown          float64   `gorm:"not null"`
	SharpeRatio          float64   `gorm:"not null"`
}

func (PerformanceSnapshotRecord) TableName() string { return "performance_snapshots" }

// ErrorLogRecord is the monitoring-schema row for one propagated venue
// error (spec §7's error taxonomy).
type ErrorLogRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;not null"`
	Venue     string    `gorm:"index"`
	Kind      string    `gorm:"not null"`
	Message   string    `gorm:"type:text;not null"`
}

func (ErrorLogRecord) TableName() string { return "error_logs" }

type writeJob struct {
	kind string
	exec domain.Execution
	perf performance.Snapshot
	venueID, errKind, errMsg string
}

// Recorder is a write-behind audit sink: callers enqueue records
// non-blockingly; a single background goroutine drains the queue and
// writes to the database, so a slow or unavailable database never stalls
// the Coordinator or Supervisor event loops.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
	queue  chan writeJob
	done   chan struct{}
}

// New opens dsn (MySQL DSN, matching the teacher's
// "user:password@tcp(host:port)/dbname?..." format), migrates the schema,
// and starts the write-behind goroutine.
func New(dsn string, log *slog.Logger) (*Recorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}

	if err := db.AutoMigrate(&ExecutionRecord{}, &TradeRecord{}, &PerformanceSnapshotRecord{}, &ErrorLogRecord{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}

	r := &Recorder{
		db:     db,
		logger: log.With("component", "audit"),
		queue:  make(chan writeJob, queueCapacity),
		done:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

func (r *Recorder) run() {
	defer close(r.done)
	for job := range r.queue {
		var err error
		switch job.kind {
		case "execution":
			err = r.writeExecution(job.exec)
		case "performance":
			err = r.writePerformance(job.perf)
		case "error":
			err = r.writeError(job.venueID, job.errKind, job.errMsg)
		}
		if err != nil {
			r.logger.Error("audit write failed", "kind", job.kind, "error", err)
		}
	}
}

// RecordExecution enqueues a completed/failed Execution for persistence.
// Non-blocking: drops and logs a warning if the queue is full rather than
// stalling the caller.
func (r *Recorder) RecordExecution(ctx context.Context, exec domain.Execution) {
	r.enqueue(writeJob{kind: "execution", exec: exec})
}

// RecordPerformanceSnapshot enqueues one Performance Tracker snapshot.
func (r *Recorder) RecordPerformanceSnapshot(ctx context.Context, snap performance.Snapshot) {
	r.enqueue(writeJob{kind: "performance", perf: snap})
}

// RecordError enqueues one propagated venue error for the monitoring
// schema's error log.
func (r *Recorder) RecordError(ctx context.Context, venueID string, kind string, msg string) {
	r.enqueue(writeJob{kind: "error", venueID: venueID, errKind: kind, errMsg: msg})
}

func (r *Recorder) enqueue(job writeJob) {
	select {
	case r.queue <- job:
	default:
		r.logger.Warn("audit queue full, dropping record", "kind", job.kind)
	}
}

func (r *Recorder) writeExecution(exec domain.Execution) error {
	trades := make([]TradeRecord, 0, len(exec.Trades))
	for _, t := range exec.Trades {
		trades = append(trades, TradeRecord{
			Venue:            t.Venue,
			Symbol:           t.Symbol,
			Side:             string(t.Side),
			RequestedAmount:  t.RequestedAmount.String(),
			RequestedPrice:   t.RequestedPrice.String(),
			FilledAmount:     t.FilledAmount.String(),
			AverageFillPrice: t.AverageFillPrice.String(),
			Fee:              t.Fee.String(),
			Status:           string(t.Status),
			ExternalOrderID:  t.ExternalOrderID,
			ClientOrderID:    t.ClientOrderID,
			FilledAt:         t.FilledAt,
		})
	}

	record := ExecutionRecord{
		OpportunityID:  exec.OpportunityID,
		Status:         string(exec.Status),
		RealizedProfit: exec.RealizedProfit.String(),
		TotalFees:      exec.TotalFees.String(),
		StartedAt:      exec.StartedAt,
		CompletedAt:    exec.CompletedAt,
		Errors:         joinErrors(exec.Errors),
		Trades:         trades,
	}

	return r.db.Create(&record).Error
}

func (r *Recorder) writePerformance(snap performance.Snapshot) error {
	record := PerformanceSnapshotRecord{
		Timestamp:            time.Now(),
		TotalExecutions:      snap.TotalExecutions,
		SuccessfulExecutions: snap.SuccessfulExecutions,
		CumulativeProfit:     snap.CumulativeProfit.String(),
		CumulativeFees:       snap.CumulativeFees.String(),
		MaxDrawdown:          snap.MaxDrawdown,
		SharpeRatio:          snap.SharpeRatio,
	}
	return r.db.Create(&record).Error
}

func (r *Recorder) writeError(venueID, kind, msg string) error {
	record := ErrorLogRecord{
		Timestamp: time.Now(),
		Venue:     venueID,
		Kind:      kind,
		Message:   msg,
	}
	return r.db.Create(&record).Error
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e
	}
	return out
}

// Close drains the queue and closes the underlying connection pool.
func (r *Recorder) Close() error {
	close(r.queue)
	<-r.done

	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
