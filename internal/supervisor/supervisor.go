// Package supervisor implements the Core Supervisor (spec §4.7): the
// top-level lifecycle owner that brings up every other component in
// dependency order, wires their event streams together, and tears them
// down in reverse with a grace period for in-flight executions.
//
// Lifecycle: New() -> Start(ctx) -> [runs until ctx is cancelled] -> Stop().
// Generalized from the teacher's engine.Engine: New wires all
// subsystems, Start launches one goroutine per subsystem plus dispatcher
// loops, Stop cancels and waits. The market-ownership machinery
// (marketSlot, reconcileMarkets, token routing) has no analogue here —
// the arbitrage engine has no notion of starting/stopping a market, only
// of running a fixed set of venues and strategies for the process
// lifetime — so it is replaced by the simpler one-shot wiring below.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/api"
	"arbitrage-engine/internal/audit"
	"arbitrage-engine/internal/config"
	"arbitrage-engine/internal/domain"
	"arbitrage-engine/internal/execution"
	"arbitrage-engine/internal/marketdata"
	"arbitrage-engine/internal/performance"
	"arbitrage-engine/internal/risk"
	"arbitrage-engine/internal/scanner"
	"arbitrage-engine/internal/strategy"
	"arbitrage-engine/internal/venue"
)

// DefaultShutdownGrace bounds how long Stop waits for in-flight
// executions to settle before cancelling them outright (spec §4.7).
const DefaultShutdownGrace = 30 * time.Second

const (
	heartbeatInterval  = 30 * time.Second
	tickerPollInterval = 2 * time.Second
)

// Supervisor owns the lifecycle of every subsystem: venue adapters and
// their market-data feeds, the Opportunity Scanner, the Risk & Portfolio
// Gate, the Execution Coordinator, the Performance Tracker, and (when
// audit.DSN is configured) the audit recorder.
type Supervisor struct {
	cfg config.Config

	venues       map[string]venue.Adapter
	domainVenues map[string]domain.Venue
	feeds        []*venue.WSFeed
	pollVenues   []venue.Adapter

	cache       *marketdata.Cache
	scanner     *scanner.Scanner
	portfolio   *risk.Portfolio
	breaker     *risk.Breaker
	monitor     *risk.Monitor
	coordinator *execution.Coordinator
	tracker     *performance.Tracker
	recorder    *audit.Recorder
	stateStore  *risk.Store

	limits risk.Limits

	dashboardEvents chan api.DashboardEvent

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	fatal     chan struct{}
	fatalOnce sync.Once
}

// New wires every subsystem from cfg. Venue adapters are constructed but
// not yet connected; nothing runs until Start.
func New(cfg config.Config, logger *slog.Logger) (*Supervisor, error) {
	venues := make(map[string]venue.Adapter, len(cfg.Venues))
	domainVenues := make(map[string]domain.Venue, len(cfg.Venues))
	var feeds []*venue.WSFeed
	var pollVenues []venue.Adapter

	for _, vc := range cfg.Venues {
		adapter, err := buildAdapter(vc)
		if err != nil {
			return nil, fmt.Errorf("venue %q: %w", vc.ID, err)
		}
		venues[vc.ID] = adapter
		domainVenues[vc.ID] = domain.Venue{
			ID:       vc.ID,
			Category: domain.VenueCategory(vc.Category),
			Health:   domain.HealthActive,
			Fees: domain.FeeSchedule{
				MakerRate: decimal.NewFromFloat(vc.MakerFeeRate),
				TakerRate: decimal.NewFromFloat(vc.TakerFeeRate),
			},
			Limits:   domain.TradeLimits{MaxPositionQuote: decimal.NewFromFloat(vc.MaxPositionQuote)},
			HighRisk: vc.HighRisk,
		}

		if vc.WSURL != "" {
			feeds = append(feeds, venue.NewWSFeed(vc.ID, vc.WSURL, logger))
		} else if vc.Category != "demo" {
			pollVenues = append(pollVenues, adapter)
		}
	}

	cache := marketdata.New(logger)

	strategies := buildStrategies(cfg.Strategy)

	sc := scanner.New(cache, strategies, cfg.Scanner.MaxActive, logger)

	portfolio := risk.NewPortfolio()
	breaker := risk.NewBreaker()
	maxLoss := decimal.NewFromFloat(cfg.Risk.MaxLossPerDayQuote)
	monitor := risk.NewMonitor(portfolio, maxLoss, risk.DefaultCooldown, logger)

	var stateStore *risk.Store
	if cfg.Risk.StateDir != "" {
		var err error
		stateStore, err = risk.OpenStore(cfg.Risk.StateDir)
		if err != nil {
			return nil, fmt.Errorf("risk state store: %w", err)
		}
		if saved, err := stateStore.Load(); err != nil {
			logger.Warn("failed to load persisted portfolio state", "error", err)
		} else if saved != nil {
			portfolio.RestoreState(*saved)
			logger.Info("restored portfolio state", "positions", len(saved.Positions))
		}
	}

	coordinator := execution.New(execution.Config{
		MaxConcurrent:      cfg.Execution.MaxConcurrent,
		EnablePartialFills: cfg.Execution.EnablePartialFills,
	}, venues, logger)

	tracker := performance.New()

	var recorder *audit.Recorder
	if cfg.Audit.DSN != "" {
		var err error
		recorder, err = audit.New(cfg.Audit.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
	}

	limits := risk.Limits{
		GlobalMinProfitPct:    decimal.NewFromFloat(cfg.Risk.GlobalMinProfitPct),
		MaxTotalExposureQuote: decimal.NewFromFloat(cfg.Risk.MaxTotalExposureQuote),
		MaxLossPerDayQuote:    maxLoss,
		MaxPositionAgeHours:   cfg.Risk.MaxPositionAgeHours,
		CorrelationThreshold:  cfg.Risk.CorrelationThreshold,
		CorrelatedAssets:      cfg.Risk.CorrelatedAssets,
		BookDepthLevels:       cfg.Risk.BookDepthLevels,
	}

	ctx, cancel := context.WithCancel(context.Background())

	var dashEvents chan api.DashboardEvent
	if cfg.Dashboard.Enabled {
		dashEvents = make(chan api.DashboardEvent, 256)
	}

	return &Supervisor{
		cfg:             cfg,
		venues:          venues,
		domainVenues:    domainVenues,
		feeds:           feeds,
		pollVenues:      pollVenues,
		cache:           cache,
		scanner:         sc,
		portfolio:       portfolio,
		breaker:         breaker,
		monitor:         monitor,
		coordinator:     coordinator,
		tracker:         tracker,
		recorder:        recorder,
		stateStore:      stateStore,
		limits:          limits,
		dashboardEvents: dashEvents,
		logger:          logger.With("component", "supervisor"),
		ctx:             ctx,
		cancel:          cancel,
		fatal:           make(chan struct{}),
	}, nil
}

func buildAdapter(vc config.VenueConfig) (venue.Adapter, error) {
	switch vc.Category {
	case "demo":
		return venue.NewDemoAdapter(vc.ID, domain.VenueDemo), nil
	case "dex":
		return venue.NewDEXAdapter(venue.DEXConfig{
			ID:            vc.ID,
			RelayBaseURL:  vc.BaseURL,
			PrivateKeyHex: vc.PrivateKeyHex,
			ChainID:       vc.ChainID,
		})
	case "spot", "perpetual":
		category := domain.VenueSpot
		if vc.Category == "perpetual" {
			category = domain.VenuePerpetual
		}
		return venue.NewRESTAdapter(venue.RESTConfig{
			ID:        vc.ID,
			Category:  category,
			BaseURL:   vc.BaseURL,
			APIKey:    vc.APIKey,
			APISecret: vc.APISecret,
		}), nil
	default:
		return nil, fmt.Errorf("unknown venue category %q", vc.Category)
	}
}

func buildStrategies(cfg config.StrategyConfig) []scanner.StrategyFunc {
	strat := strategy.Config{
		Symbols:          cfg.Symbols,
		Venues:           cfg.Venues,
		MinProfitPct:     decimal.NewFromFloat(cfg.MinProfitPct),
		MaxPositionQuote: decimal.NewFromFloat(cfg.MaxPositionQuote),
	}

	funcs := []scanner.StrategyFunc{
		func(cache *marketdata.Cache) []domain.Opportunity { return strategy.Simple(strat, cache) },
	}

	for _, tri := range cfg.Triangles {
		triCfg := strat
		triCfg.Triangles = []strategy.TriangleConfig{{Venue: tri.Venue, A: tri.A, B: tri.B, C: tri.C}}
		funcs = append(funcs, func(cache *marketdata.Cache) []domain.Opportunity {
			return strategy.Triangular(triCfg, cache)
		})
	}

	for _, b := range cfg.Basis {
		basisCfg := strat
		basisCfg.Basis = []strategy.BasisConfig{{
			SpotVenue:          b.SpotVenue,
			PerpVenue:          b.PerpVenue,
			Symbol:             b.Symbol,
			FundingRate:        decimal.NewFromFloat(b.FundingRate),
			FundingPeriodsYear: b.FundingPeriodsYear,
		}}
		funcs = append(funcs, func(cache *marketdata.Cache) []domain.Opportunity {
			return strategy.Basis(basisCfg, cache)
		})
	}

	return funcs
}

// Start launches every subsystem in dependency order: venue feeds and
// pollers first (so the cache starts filling), then the Scanner, Risk
// Monitor, Execution Coordinator, Performance Tracker, and the
// Scanner-to-Coordinator and risk-alert dispatch loops.
func (s *Supervisor) Start() error {
	for _, feed := range s.feeds {
		feed := feed
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			feed.Run(s.ctx)
		}()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.drainFeed(feed)
		}()
	}

	for _, adapter := range s.pollVenues {
		adapter := adapter
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.pollTickers(adapter)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scanner.Run(s.ctx)
	}()
	s.scanner.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor.Run(s.ctx)
	}()

	if s.cfg.Mode == "execute" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.coordinator.Run(s.ctx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tracker.Run(s.coordinator.Events(), s.ctx.Done())
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatchScannerEvents()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatchRiskAlerts()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatchExecutionEvents()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.heartbeat()
	}()

	s.logger.Info("supervisor started", "mode", s.cfg.Mode, "venues", len(s.venues))
	return nil
}

// Stop cancels every subsystem and waits up to grace for in-flight
// executions to finish settling before returning. grace <= 0 uses
// DefaultShutdownGrace.
func (s *Supervisor) Stop(grace time.Duration) {
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	s.logger.Info("shutting down", "grace", grace)

	s.scanner.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Warn("shutdown grace period elapsed, forcing cancellation")
	}

	s.cancel()
	<-done

	s.persistState()

	for _, feed := range s.feeds {
		feed.Close()
	}
	if s.recorder != nil {
		s.recorder.Close()
	}

	s.logger.Info("shutdown complete")
}

// EmergencyStop halts the Execution Coordinator immediately and pauses
// the Scanner, for use on a fatal risk event (spec §4.7/§7). Closes the
// channel returned by Fatal so cmd/arbitrage can exit with a distinct
// status code instead of treating this like a signal-driven shutdown.
func (s *Supervisor) EmergencyStop() {
	s.logger.Error("emergency stop triggered")
	s.coordinator.EmergencyStop()
	s.scanner.Pause()
	s.fatalOnce.Do(func() { close(s.fatal) })
}

// Fatal returns a channel that is closed once EmergencyStop fires. main
// selects on it alongside OS signals to distinguish an operator-driven
// shutdown from a fatal risk event.
func (s *Supervisor) Fatal() <-chan struct{} { return s.fatal }

// HealthCheck probes every configured venue adapter once and returns an
// error naming the venues that did not respond, without starting any
// subsystem. Used by cmd/arbitrage's --health-check mode.
func (s *Supervisor) HealthCheck(ctx context.Context) error {
	symbol := ""
	if len(s.cfg.Strategy.Symbols) > 0 {
		symbol = s.cfg.Strategy.Symbols[0]
	}

	var unhealthy []string
	for id, adapter := range s.venues {
		if symbol == "" {
			continue
		}
		if _, err := adapter.FetchTicker(ctx, symbol); err != nil {
			s.logger.Warn("health check failed", "venue", id, "error", err)
			unhealthy = append(unhealthy, id)
		}
	}

	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy venues: %v", unhealthy)
	}
	return nil
}

func (s *Supervisor) drainFeed(feed *venue.WSFeed) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case t, ok := <-feed.Tickers():
			if !ok {
				return
			}
			s.cache.PutTicker(t)
		}
	}
}

func (s *Supervisor) pollTickers(adapter venue.Adapter) {
	ticker := time.NewTicker(tickerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range s.cfg.Strategy.Symbols {
				t, err := adapter.FetchTicker(s.ctx, sym)
				if err != nil {
					if venue.IsRetryable(err) {
						s.breaker.RecordFailure(adapter.ID())
					}
					if s.recorder != nil {
						s.recorder.RecordError(s.ctx, adapter.ID(), "ticker_fetch", err.Error())
					}
					continue
				}
				s.breaker.RecordSuccess(adapter.ID())
				s.cache.PutTicker(t)
			}
		}
	}
}

// dispatchScannerEvents consumes opportunityDetected/opportunityExpired
// events, runs each new candidate through the Risk & Portfolio Gate, and
// submits approved ones to the Execution Coordinator in execute mode.
func (s *Supervisor) dispatchScannerEvents() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case evt, ok := <-s.scanner.Events():
			if !ok {
				return
			}
			s.emitDashboardEvent(evt.Opportunity.ID, evt.Type, api.NewOpportunityEvent(evt.Opportunity))

			if evt.Type != "opportunityDetected" || s.monitor.IsPaused() {
				continue
			}

			// The Risk & Portfolio Gate always runs, in monitor mode too (spec
			// §6: "monitor disables the Execution Coordinator's submission
			// step; risk/gate still runs"), so its decisions are observable
			// before a mode switch to execute.
			decision := risk.Evaluate(evt.Opportunity, s.portfolio.Snapshot(), s.portfolio.Aggregates(), s.domainVenues, s.cache, s.breaker, s.limits)
			if !decision.Approved {
				s.logger.Debug("opportunity rejected", "id", evt.Opportunity.ID, "reason", decision.Reason)
				continue
			}

			if s.cfg.Mode != "execute" {
				s.logger.Debug("opportunity approved by risk gate, not submitting (monitor mode)", "id", evt.Opportunity.ID)
				continue
			}

			if err := s.coordinator.Submit(evt.Opportunity); err != nil {
				s.logger.Warn("execution submit failed", "id", evt.Opportunity.ID, "error", err)
			}
		}
	}
}

func (s *Supervisor) dispatchRiskAlerts() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case alert, ok := <-s.monitor.Alerts():
			if !ok {
				return
			}
			s.logger.Error("risk alert", "limit", alert.Limit, "value", alert.Value, "cooldown", alert.Cooldown)
			s.scanner.Pause()
			s.emitDashboardEvent("", "riskAlert", api.NewRiskAlertEvent(alert.Limit, alert.Value, alert.Cooldown))

			if s.cfg.Mode == "execute" {
				// A daily-loss breach while live trading is the fatal risk
				// event spec §7 requires a full stop for, not a cooldown.
				s.EmergencyStop()
				continue
			}
			time.AfterFunc(alert.Cooldown, s.scanner.Resume)
		}
	}
}

func (s *Supervisor) dispatchExecutionEvents() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case evt, ok := <-s.coordinator.Events():
			if !ok {
				return
			}
			s.applyExecutionToPortfolio(evt.Execution)
			if s.recorder != nil {
				s.recorder.RecordExecution(s.ctx, evt.Execution)
			}
			s.emitDashboardEvent(evt.Execution.OpportunityID, string(evt.Type), api.NewExecutionEvent(evt.Execution, len(evt.Execution.Trades)))
		}
	}
}

func (s *Supervisor) applyExecutionToPortfolio(exec domain.Execution) {
	for _, tr := range exec.Trades {
		if tr.FilledAmount.IsZero() {
			continue
		}
		s.portfolio.OnTrade(tr.Venue, tr.Symbol, tr.Side, tr.AverageFillPrice, tr.FilledAmount)
	}
}

func (s *Supervisor) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			healthy := 0
			for id := range s.venues {
				if !s.breaker.IsOpen(id) {
					healthy++
				}
			}
			s.emitDashboardEvent("", "heartbeat", api.HeartbeatEvent{VenuesHealthy: healthy, VenuesTotal: len(s.venues)})
			if s.recorder != nil {
				s.recorder.RecordPerformanceSnapshot(s.ctx, s.tracker.Snapshot())
			}
			s.persistState()
		}
	}
}

func (s *Supervisor) persistState() {
	if s.stateStore == nil {
		return
	}
	if err := s.stateStore.Save(s.portfolio.ExportState()); err != nil {
		s.logger.Warn("failed to persist portfolio state", "error", err)
	}
}

func (s *Supervisor) emitDashboardEvent(opportunityID, eventType string, data interface{}) {
	if s.dashboardEvents == nil {
		return
	}
	evt := api.DashboardEvent{Type: eventType, Timestamp: time.Now(), OpportunityID: opportunityID, Data: data}
	select {
	case s.dashboardEvents <- evt:
	default:
		s.logger.Warn("dashboard event channel full, dropping event", "type", eventType)
	}
}

// DashboardEvents returns the dashboard event channel (nil if the
// dashboard is disabled).
func (s *Supervisor) DashboardEvents() <-chan api.DashboardEvent { return s.dashboardEvents }

// ActiveOpportunities implements api.DashboardProvider.
func (s *Supervisor) ActiveOpportunities() []domain.Opportunity { return s.scanner.Active() }

// PerformanceSnapshot implements api.DashboardProvider.
func (s *Supervisor) PerformanceSnapshot() performance.Snapshot { return s.tracker.Snapshot() }

// PortfolioSnapshot implements api.DashboardProvider.
func (s *Supervisor) PortfolioSnapshot() domain.PortfolioSnapshot { return s.portfolio.Snapshot() }

// Aggregates implements api.DashboardProvider.
func (s *Supervisor) Aggregates() domain.Aggregates { return s.portfolio.Aggregates() }

// EmergencyStopActive implements api.DashboardProvider.
func (s *Supervisor) EmergencyStopActive() bool { return s.monitor.IsPaused() }

// OpenVenueCircuits implements api.DashboardProvider.
func (s *Supervisor) OpenVenueCircuits() []string {
	ids := make([]string, 0, len(s.venues))
	for id := range s.venues {
		ids = append(ids, id)
	}
	return s.breaker.OpenVenues(ids)
}

var _ api.DashboardProvider = (*Supervisor)(nil)
