// Package marketdata implements the Market Data Cache: the per-(venue,
// symbol) latest snapshot store that feeds the scanner and risk gate.
//
// The cache is the single source of truth for the scanner; it does not
// poll. Venue adapters push snapshots in via PutTicker/PutBook. Snapshot
// order is enforced by ObservedAt (monotonic per pair); stale updates are
// dropped. priceAlert/volumeSpike derivation happens synchronously inside
// PutTicker, but observer callbacks are dispatched over a channel and must
// not mutate cache state — mirrors the teacher's Book (RWMutex-protected,
// single critical section per pair) and risk.Manager's non-blocking
// report/drain pattern.
package marketdata

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/domain"
)

// StaleAfter is the default snapshot staleness threshold (spec §3).
const StaleAfter = 10 * time.Second

// PriceAlertPct is the default relative change that triggers priceAlert.
var PriceAlertPct = decimal.NewFromFloat(0.01)

// VolumeSpikeMult is the default multiple over prior volume that triggers volumeSpike.
var VolumeSpikeMult = decimal.NewFromInt(2)

// eventBufferSize bounds the Events() channel; a slow consumer drops events
// rather than blocking PutTicker (spec §4.1: "observer callbacks ... must
// not mutate cache state", generalized here to "must not block the writer").
const eventBufferSize = 256

// Event is emitted by the cache on priceAlert/volumeSpike derivation.
type Event struct {
	Type      string // "priceAlert" | "volumeSpike"
	Venue     string
	Symbol    string
	Ticker    domain.Ticker
	Magnitude decimal.Decimal // relative change / spike multiple observed
}

type pairKey struct {
	venue  string
	symbol string
}

type entry struct {
	ticker   domain.Ticker
	hasBook  bool
	book     domain.Book
	hasTicker bool
}

// Cache is the per-(venue,symbol) latest snapshot store.
type Cache struct {
	mu      sync.RWMutex
	entries map[pairKey]*entry
	events  chan Event
	logger  *slog.Logger
}

// New creates an empty cache.
func New(logger *slog.Logger) *Cache {
	return &Cache{
		entries: make(map[pairKey]*entry),
		events:  make(chan Event, eventBufferSize),
		logger:  logger.With("component", "marketdata"),
	}
}

// Events returns the read-only alert/spike stream.
func (c *Cache) Events() <-chan Event { return c.events }

// PutTicker replaces the prior snapshot when t.ObservedAt is newer. Stale
// (non-increasing) updates are dropped. Emits priceAlert/volumeSpike.
func (c *Cache) PutTicker(t domain.Ticker) {
	key := pairKey{t.Venue, t.Symbol}

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}

	if e.hasTicker && !t.ObservedAt.After(e.ticker.ObservedAt) {
		c.mu.Unlock()
		return
	}

	prior := e.ticker
	hadPrior := e.hasTicker
	e.ticker = t
	e.hasTicker = true
	c.mu.Unlock()

	if !hadPrior || prior.Last.IsZero() {
		return
	}

	relChange := t.Last.Sub(prior.Last).Abs().Div(prior.Last)
	if relChange.GreaterThanOrEqual(PriceAlertPct) {
		c.emit(Event{Type: "priceAlert", Venue: t.Venue, Symbol: t.Symbol, Ticker: t, Magnitude: relChange})
	}

	if prior.Volume.GreaterThan(decimal.Zero) {
		threshold := prior.Volume.Mul(VolumeSpikeMult)
		if t.Volume.GreaterThanOrEqual(threshold) {
			spike := t.Volume.Div(prior.Volume)
			c.emit(Event{Type: "volumeSpike", Venue: t.Venue, Symbol: t.Symbol, Ticker: t, Magnitude: spike})
		}
	}
}

// PutBook replaces the prior book snapshot when b.ObservedAt is newer.
// Books violating the bid/ask ordering invariant are rejected with an
// error; the caller is expected to log and discard.
func (c *Cache) PutBook(b domain.Book) error {
	if err := validateBook(b); err != nil {
		return err
	}

	key := pairKey{b.Venue, b.Symbol}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}

	if e.hasBook && !b.ObservedAt.After(e.book.ObservedAt) {
		return nil
	}

	if len(b.Bids) > domain.BookDepth {
		b.Bids = b.Bids[:domain.BookDepth]
	}
	if len(b.Asks) > domain.BookDepth {
		b.Asks = b.Asks[:domain.BookDepth]
	}

	e.book = b
	e.hasBook = true
	return nil
}

func validateBook(b domain.Book) error {
	for i := 1; i < len(b.Bids); i++ {
		if !b.Bids[i-1].Price.GreaterThan(b.Bids[i].Price) {
			return errBookOrder("bids not strictly decreasing")
		}
	}
	for i := 1; i < len(b.Asks); i++ {
		if !b.Asks[i-1].Price.LessThan(b.Asks[i].Price) {
			return errBookOrder("asks not strictly increasing")
		}
	}
	if len(b.Bids) > 0 && len(b.Asks) > 0 {
		if !b.Bids[0].Price.LessThan(b.Asks[0].Price) {
			return errBookOrder("best bid must be below best ask")
		}
	}
	return nil
}

type bookOrderError string

func errBookOrder(msg string) error   { return bookOrderError(msg) }
func (e bookOrderError) Error() string { return "invalid book: " + string(e) }

// GetTicker returns the latest ticker for (venue, symbol), or false if
// missing or stale.
func (c *Cache) GetTicker(venue, symbol string) (domain.Ticker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[pairKey{venue, symbol}]
	if !ok || !e.hasTicker {
		return domain.Ticker{}, false
	}
	if time.Since(e.ticker.ObservedAt) > StaleAfter {
		return domain.Ticker{}, false
	}
	return e.ticker, true
}

// GetBook returns the latest book for (venue, symbol), or false if missing
// or stale.
func (c *Cache) GetBook(venue, symbol string) (domain.Book, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[pairKey{venue, symbol}]
	if !ok || !e.hasBook {
		return domain.Book{}, false
	}
	if time.Since(e.book.ObservedAt) > StaleAfter {
		return domain.Book{}, false
	}
	return e.book, true
}

// FreshPair bundles a venue's non-stale ticker+book for a symbol.
type FreshPair struct {
	Venue  string
	Ticker domain.Ticker
	Book   domain.Book
}

// ListFresh returns every venue with non-stale paired ticker+book snapshots
// for symbol — the scanner's read path.
func (c *Cache) ListFresh(symbol string) []FreshPair {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []FreshPair
	now := time.Now()
	for key, e := range c.entries {
		if key.symbol != symbol {
			continue
		}
		if !e.hasTicker || !e.hasBook {
			continue
		}
		if now.Sub(e.ticker.ObservedAt) > StaleAfter || now.Sub(e.book.ObservedAt) > StaleAfter {
			continue
		}
		out = append(out, FreshPair{Venue: key.venue, Ticker: e.ticker, Book: e.book})
	}
	return out
}

func (c *Cache) emit(evt Event) {
	select {
	case c.events <- evt:
	default:
		c.logger.Warn("marketdata event channel full, dropping event", "type", evt.Type, "venue", evt.Venue, "symbol", evt.Symbol)
	}
}
