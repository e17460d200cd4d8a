package venue

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/domain"
)

// DemoAdapter simulates a venue using a mutable in-memory price/book so the
// full pipeline (scanner -> gate -> coordinator) can run end-to-end without
// real venue credentials. Orders always fill immediately at the requested
// price. Grounded on the teacher pack's PaperBroker (chidi150c-coinbase):
// a single mutable last-price plus always-succeeds order placement, no
// external dependencies.
type DemoAdapter struct {
	id       string
	category domain.VenueCategory

	mu      sync.Mutex
	tickers map[string]domain.Ticker
	books   map[string]domain.Book
	balances map[string]domain.Balance
}

// NewDemoAdapter creates a demo venue seeded with an empty balance sheet.
func NewDemoAdapter(id string, category domain.VenueCategory) *DemoAdapter {
	return &DemoAdapter{
		id:       id,
		category: category,
		tickers:  make(map[string]domain.Ticker),
		books:    make(map[string]domain.Book),
		balances: make(map[string]domain.Balance),
	}
}

func (d *DemoAdapter) ID() string                        { return d.id }
func (d *DemoAdapter) Category() domain.VenueCategory    { return d.category }

// SeedTicker installs a simulated ticker snapshot, used by tests to drive
// the pipeline without live market data.
func (d *DemoAdapter) SeedTicker(t domain.Ticker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tickers[t.Symbol] = t
}

// SeedBook installs a simulated book snapshot.
func (d *DemoAdapter) SeedBook(b domain.Book) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.books[b.Symbol] = b
}

// SeedBalance installs a simulated balance.
func (d *DemoAdapter) SeedBalance(asset string, bal domain.Balance) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.balances[asset] = bal
}

func (d *DemoAdapter) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tickers[symbol]
	if !ok {
		return domain.Ticker{}, newError(d.id, KindNotFound, errNoSuchSymbol(symbol))
	}
	return t, nil
}

func (d *DemoAdapter) FetchBook(ctx context.Context, symbol string, depth int) (domain.Book, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.books[symbol]
	if !ok {
		return domain.Book{}, newError(d.id, KindNotFound, errNoSuchSymbol(symbol))
	}
	if depth > 0 {
		if len(b.Bids) > depth {
			b.Bids = b.Bids[:depth]
		}
		if len(b.Asks) > depth {
			b.Asks = b.Asks[:depth]
		}
	}
	return b, nil
}

func (d *DemoAdapter) FetchBalances(ctx context.Context) (map[string]domain.Balance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]domain.Balance, len(d.balances))
	for k, v := range d.balances {
		out[k] = v
	}
	return out, nil
}

// PlaceOrder always fills immediately at the requested (or last-known)
// price, mirroring PaperBroker.PlaceMarketQuote's unconditional-success
// simulation. The client ID doubles as the external order ID so duplicate
// submissions on retry are naturally idempotent.
func (d *DemoAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return "", newError(d.id, KindPermanent, errBadAmount)
	}
	id := req.ClientID
	if id == "" {
		id = uuid.New().String()
	}
	return id, nil
}

func (d *DemoAdapter) CancelOrder(ctx context.Context, externalOrderID, symbol string) error {
	return nil
}

func (d *DemoAdapter) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if d.category != domain.VenuePerpetual {
		return decimal.Zero, newError(d.id, KindNotFound, errNotApplicable)
	}
	return decimal.Zero, nil
}

func (d *DemoAdapter) Subscribe(ctx context.Context, symbol string) (<-chan domain.Ticker, error) {
	ch := make(chan domain.Ticker)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

var _ Adapter = (*DemoAdapter)(nil)

func errNoSuchSymbol(symbol string) error { return &notFoundError{symbol} }

type notFoundError struct{ symbol string }

func (e *notFoundError) Error() string { return "no simulated snapshot for symbol " + e.symbol }

var errBadAmount = simpleError("amount must be > 0")
var errNotApplicable = simpleError("funding rate not applicable to this venue category")

type simpleError string

func (e simpleError) Error() string { return string(e) }
