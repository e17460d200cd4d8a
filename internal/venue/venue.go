// Package venue defines the adapter contract every trading venue
// implements (spec §6) and the typed error taxonomy adapters surface to
// the rest of the core.
package venue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/domain"
)

// ErrorKind classifies a venue error (spec §7).
type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"
	KindRateLimited ErrorKind = "rateLimited"
	KindAuth        ErrorKind = "auth"
	KindPermanent   ErrorKind = "permanent"
	KindNotFound    ErrorKind = "notFound"
)

// Error wraps an underlying cause with a Kind that callers inspect through
// errors.As, errors.Is or IsRetryable.
type Error struct {
	Kind       ErrorKind
	Venue      string
	RetryAfter time.Duration // only meaningful for KindRateLimited
	Err        error
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (kind=%s, retryAfter=%s)", e.Venue, e.Err, e.Kind, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s (kind=%s)", e.Venue, e.Err, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, venue.ErrTransient) etc. match by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(venueID string, kind ErrorKind, err error) *Error {
	return &Error{Venue: venueID, Kind: kind, Err: err}
}

// Sentinel kind markers for errors.Is comparisons.
var (
	ErrTransient = &Error{Kind: KindTransient}
	ErrAuth      = &Error{Kind: KindAuth}
	ErrPermanent = &Error{Kind: KindPermanent}
	ErrNotFound  = &Error{Kind: KindNotFound}
)

// IsRetryable reports whether err is a transient or rate-limited venue
// error. The Supervisor's ticker poller counts such errors against the
// venue's circuit breaker; the Execution Coordinator does not retry a
// failed leg.
func IsRetryable(err error) bool {
	var ve *Error
	if !errors.As(err, &ve) {
		return false
	}
	return ve.Kind == KindTransient || ve.Kind == KindRateLimited
}

// OrderType distinguishes a limit-at-reference-price leg from a market leg.
type OrderType string

const (
	OrderLimit  OrderType = "limit"
	OrderMarket OrderType = "market"
)

// OrderRequest is the Coordinator's placeOrder call (spec §6).
type OrderRequest struct {
	ClientID string // derived from (executionId, stepIndex); idempotency key
	Symbol   string
	Side     domain.Side
	Type     OrderType
	Amount   decimal.Decimal
	Price    decimal.Decimal // zero for market orders
}

// Adapter is the venue adapter contract every venue implementation
// satisfies (spec §6).
type Adapter interface {
	ID() string
	Category() domain.VenueCategory

	FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error)
	FetchBook(ctx context.Context, symbol string, depth int) (domain.Book, error)
	FetchBalances(ctx context.Context) (map[string]domain.Balance, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (externalOrderID string, err error)
	CancelOrder(ctx context.Context, externalOrderID, symbol string) error

	// FundingRate returns ErrNotFound-kinded error wrapped as "not
	// applicable" for non-perpetual venues.
	FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Subscribe streams snapshots for symbol onto the cache; optional —
	// an adapter that polls internally may implement this as a no-op
	// returning a channel that is never written to.
	Subscribe(ctx context.Context, symbol string) (<-chan domain.Ticker, error)
}
