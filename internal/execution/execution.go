// Package execution implements the per-opportunity state machine that
// drives an approved Opportunity through its legs (spec §4.5).
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/domain"
	"arbitrage-engine/internal/venue"
)

const (
	// DefaultMaxConcurrent caps in-flight executions (spec §4.5).
	DefaultMaxConcurrent = 4
	// QueueCapacity is the bounded FIFO queue depth; excess Submit calls
	// are rejected with ErrBackpressure.
	QueueCapacity = 16
	// DefaultLegTimeout is the per-leg wait before cancel+recovery.
	DefaultLegTimeout = 5 * time.Second
)

// ErrBackpressure is returned by Submit when the queue is full.
var ErrBackpressure = fmt.Errorf("backpressure: execution queue full")

// EventType identifies a Coordinator lifecycle event.
type EventType string

const (
	EventStarted   EventType = "executionStarted"
	EventCompleted EventType = "executionCompleted"
	EventFailed    EventType = "executionFailed"
)

// Event is emitted onto the Coordinator's event channel as an execution
// transitions. The Performance Tracker and dashboard both subscribe.
type Event struct {
	Type      EventType
	Execution domain.Execution
}

// partialFiller is an adapter extension point: venue adapters capable of
// reporting a partial fill implement it. Adapters that don't (the demo and
// generic REST adapters in this repo, which always fill in full or error)
// are treated as filling the full requested amount on success — spec's
// venue-adapter Non-goal means this repo ships no adapter that actually
// simulates a partial fill, but the rescaling path below is real. No test
// in this repo implements this interface, so the tests cover only the
// full-fill path.
type partialFiller interface {
	PlaceOrderPartial(ctx context.Context, req venue.OrderRequest) (externalID string, filled decimal.Decimal, err error)
}

// Config parameterizes the Coordinator.
type Config struct {
	MaxConcurrent      int
	EnablePartialFills bool
}

// Coordinator runs a bounded worker pool draining a FIFO queue of approved
// opportunities, executing each one's legs sequentially. Grounded on the
// teacher's engine.Engine: one goroutine per unit of work (there, one
// per traded market; here, one per in-flight execution), the same
// wg.Add/go func/defer wg.Done shape, and a context-cancellation-driven
// shutdown.
type Coordinator struct {
	cfg     Config
	venues  map[string]venue.Adapter
	logger  *slog.Logger
	queue   chan domain.Opportunity
	events  chan Event
	stopped atomic.Bool

	wg sync.WaitGroup
}

// New builds a Coordinator over the given venue adapters, keyed by
// venue ID.
func New(cfg Config, venues map[string]venue.Adapter, logger *slog.Logger) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Coordinator{
		cfg:    cfg,
		venues: venues,
		logger: logger.With("component", "execution"),
		queue:  make(chan domain.Opportunity, QueueCapacity),
		events: make(chan Event, 64),
	}
}

// Events returns the Coordinator's event stream.
func (c *Coordinator) Events() <-chan Event { return c.events }

// Submit enqueues an approved opportunity for execution. Non-blocking;
// returns ErrBackpressure if the queue is full.
func (c *Coordinator) Submit(op domain.Opportunity) error {
	select {
	case c.queue <- op:
		return nil
	default:
		return ErrBackpressure
	}
}

// Run starts cfg.MaxConcurrent worker goroutines draining the queue.
// Blocks until ctx is cancelled, then waits for in-flight executions to
// reach a cancellable boundary before returning.
func (c *Coordinator) Run(ctx context.Context) {
	for i := 0; i < c.cfg.MaxConcurrent; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
	c.wg.Wait()
}

// EmergencyStop signals every in-flight execution to begin recovery at
// the next cancellable boundary (spec §4.5).
func (c *Coordinator) EmergencyStop() {
	c.stopped.Store(true)
}

// Reset clears the emergency-stop flag, allowing new executions to
// proceed normally again.
func (c *Coordinator) Reset() {
	c.stopped.Store(false)
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-c.queue:
			c.execute(ctx, op)
		}
	}
}

func (c *Coordinator) execute(ctx context.Context, op domain.Opportunity) {
	exec := domain.Execution{
		OpportunityID: op.ID,
		Status:        domain.ExecExecuting,
		Trades:        make([]domain.Trade, 0, len(op.Legs)),
		StartedAt:     time.Now(),
	}
	c.emit(EventStarted, exec)

	size := decimal.Zero
	if len(op.Legs) > 0 {
		size = op.Legs[0].Amount
	}

	for _, leg := range op.Legs {
		if c.stopped.Load() {
			exec.Errors = append(exec.Errors, "emergency stop requested before leg "+fmt.Sprint(leg.StepIndex))
			c.recover(ctx, &exec)
			c.emit(EventFailed, exec)
			return
		}

		trade, filledRatio, err := c.runLeg(ctx, leg, size)
		exec.Trades = append(exec.Trades, trade)

		if err != nil {
			exec.Errors = append(exec.Errors, err.Error())
			c.recover(ctx, &exec)
			c.emit(EventFailed, exec)
			return
		}

		if trade.Status == domain.TradePartial {
			if !c.cfg.EnablePartialFills {
				exec.Errors = append(exec.Errors, fmt.Sprintf("leg %d partially filled and partial fills disabled", leg.StepIndex))
				c.recover(ctx, &exec)
				c.emit(EventFailed, exec)
				return
			}
			size = size.Mul(filledRatio)
		}
	}

	now := time.Now()
	exec.CompletedAt = &now
	exec.Status = domain.ExecCompleted
	exec.RealizedProfit, exec.TotalFees = settle(exec.Trades)
	c.emit(EventCompleted, exec)
}

// runLeg submits one leg's order and waits up to leg.MaxLatency for a
// terminal outcome. The generic venue.Adapter contract in this repo has
// no separate "poll for fill" call (spec's venue-adapter design is a
// Non-goal), so a successful PlaceOrder is treated as an immediate full
// fill at the leg's reference price unless the adapter implements the
// optional partialFiller extension.
func (c *Coordinator) runLeg(ctx context.Context, leg domain.Leg, size decimal.Decimal) (domain.Trade, decimal.Decimal, error) {
	adapter, ok := c.venues[leg.Venue]
	if !ok {
		return rejectedTrade(leg, size), decimal.Zero, fmt.Errorf("no adapter registered for venue %q", leg.Venue)
	}

	timeout := leg.MaxLatency
	if timeout <= 0 {
		timeout = DefaultLegTimeout
	}
	legCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	orderType := venue.OrderLimit
	if leg.Market {
		orderType = venue.OrderMarket
	}
	req := venue.OrderRequest{
		ClientID: clientOrderID(leg),
		Symbol:   leg.Symbol,
		Side:     leg.Side,
		Type:     orderType,
		Amount:   size,
		Price:    leg.ReferencePrice,
	}

	now := time.Now()
	trade := domain.Trade{
		Venue:           leg.Venue,
		Symbol:          leg.Symbol,
		Side:            leg.Side,
		RequestedAmount: size,
		RequestedPrice:  leg.ReferencePrice,
		Fee:             leg.FeeEstimate,
		ClientOrderID:   req.ClientID,
		CreatedAt:       now,
		Status:          domain.TradePending,
	}

	if pf, ok := adapter.(partialFiller); ok {
		externalID, filled, err := pf.PlaceOrderPartial(legCtx, req)
		if legCtx.Err() != nil {
			c.cancelBestEffort(adapter, externalID, leg.Symbol)
			trade.Status = domain.TradeCancelled
			return trade, decimal.Zero, fmt.Errorf("leg %d timed out after %s", leg.StepIndex, timeout)
		}
		if err != nil {
			trade.Status = domain.TradeRejected
			return trade, decimal.Zero, fmt.Errorf("leg %d rejected: %w", leg.StepIndex, err)
		}
		return fillTrade(trade, externalID, filled, size, leg.ReferencePrice), filled.Div(size), nil
	}

	externalID, err := adapter.PlaceOrder(legCtx, req)
	if legCtx.Err() != nil {
		c.cancelBestEffort(adapter, externalID, leg.Symbol)
		trade.Status = domain.TradeCancelled
		return trade, decimal.Zero, fmt.Errorf("leg %d timed out after %s", leg.StepIndex, timeout)
	}
	if err != nil {
		trade.Status = domain.TradeRejected
		return trade, decimal.Zero, fmt.Errorf("leg %d rejected: %w", leg.StepIndex, err)
	}

	return fillTrade(trade, externalID, size, size, leg.ReferencePrice), decimal.NewFromInt(1), nil
}

func (c *Coordinator) cancelBestEffort(adapter venue.Adapter, externalID, symbol string) {
	if externalID == "" {
		return
	}
	cancelCtx, cancel := context.WithTimeout(context.Background(), DefaultLegTimeout)
	defer cancel()
	if err := adapter.CancelOrder(cancelCtx, externalID, symbol); err != nil {
		c.logger.Warn("failed to cancel timed-out order", "externalOrderId", externalID, "error", err)
	}
}

// recover issues best-effort compensating trades for every already-filled
// or partially-filled leg, opposite side, market order, capped at the
// filled amount — spec §4.5 step 3.
func (c *Coordinator) recover(ctx context.Context, exec *domain.Execution) {
	for i := len(exec.Trades) - 1; i >= 0; i-- {
		t := exec.Trades[i]
		if t.Status != domain.TradeFilled && t.Status != domain.TradePartial {
			continue
		}
		if t.FilledAmount.LessThanOrEqual(decimal.Zero) {
			continue
		}

		adapter, ok := c.venues[t.Venue]
		if !ok {
			c.logger.Error("cannot compensate, no adapter registered", "venue", t.Venue)
			continue
		}

		compReq := venue.OrderRequest{
			ClientID: t.ClientOrderID + "-comp",
			Symbol:   t.Symbol,
			Side:     opposite(t.Side),
			Type:     venue.OrderMarket,
			Amount:   t.FilledAmount,
		}

		compCtx, cancel := context.WithTimeout(ctx, DefaultLegTimeout)
		externalID, err := adapter.PlaceOrder(compCtx, compReq)
		cancel()

		now := time.Now()
		comp := domain.Trade{
			Venue:            t.Venue,
			Symbol:           t.Symbol,
			Side:             compReq.Side,
			RequestedAmount:  t.FilledAmount,
			FilledAmount:     t.FilledAmount,
			AverageFillPrice: t.AverageFillPrice,
			ClientOrderID:    compReq.ClientID,
			ExternalOrderID:  externalID,
			CreatedAt:        now,
			FilledAt:         &now,
			Status:           domain.TradeFilled,
		}
		if err != nil {
			comp.Status = domain.TradeRejected
			comp.FilledAmount = decimal.Zero
			comp.FilledAt = nil
			exec.Errors = append(exec.Errors, fmt.Sprintf("compensation for %s leg failed: %v", t.Venue, err))
		}
		exec.Trades = append(exec.Trades, comp)
	}
	exec.Status = domain.ExecFailed
}

func (c *Coordinator) emit(t EventType, exec domain.Execution) {
	select {
	case c.events <- Event{Type: t, Execution: exec}:
	default:
		c.logger.Warn("execution event channel full, dropping event", "type", t, "opportunity", exec.OpportunityID)
	}
}

// clientOrderID derives an idempotent client-side order ID from
// (opportunityId, stepIndex) — resubmission on retry reuses the same ID
// rather than minting a new venue order (spec §4.5 idempotency).
func clientOrderID(leg domain.Leg) string {
	return fmt.Sprintf("%s-%s-%d", leg.Venue, leg.Symbol, leg.StepIndex)
}

func opposite(s domain.Side) domain.Side {
	if s == domain.Buy {
		return domain.Sell
	}
	return domain.Buy
}

func rejectedTrade(leg domain.Leg, size decimal.Decimal) domain.Trade {
	return domain.Trade{
		Venue:           leg.Venue,
		Symbol:          leg.Symbol,
		Side:            leg.Side,
		RequestedAmount: size,
		RequestedPrice:  leg.ReferencePrice,
		CreatedAt:       time.Now(),
		Status:          domain.TradeRejected,
	}
}

func fillTrade(t domain.Trade, externalID string, filled, requested, price decimal.Decimal) domain.Trade {
	now := time.Now()
	t.ExternalOrderID = externalID
	t.FilledAmount = filled
	t.AverageFillPrice = price
	t.FilledAt = &now
	if filled.GreaterThanOrEqual(requested) {
		t.Status = domain.TradeFilled
	} else if filled.GreaterThan(decimal.Zero) {
		t.Status = domain.TradePartial
	} else {
		t.Status = domain.TradeRejected
	}
	return t
}

// settle computes realizedProfit and totalFees from the execution's
// trades: realizedProfit = Σ(sellProceeds) − Σ(buyCosts) − totalFees.
func settle(trades []domain.Trade) (profit, fees decimal.Decimal) {
	profit = decimal.Zero
	fees = decimal.Zero
	for _, t := range trades {
		if t.Status != domain.TradeFilled && t.Status != domain.TradePartial {
			continue
		}
		notional := t.FilledAmount.Mul(t.AverageFillPrice)
		if t.Side == domain.Sell {
			profit = profit.Add(notional)
		} else {
			profit = profit.Sub(notional)
		}
		fees = fees.Add(t.Fee)
	}
	profit = profit.Sub(fees)
	return profit, fees
}
