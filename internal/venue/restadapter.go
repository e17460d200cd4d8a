package venue

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"arbitrage-engine/internal/domain"
)

// RESTConfig parameterizes a generic REST venue adapter.
type RESTConfig struct {
	ID            string
	Category      domain.VenueCategory
	BaseURL       string
	APIKey        string
	APISecret     string
	BookCapacity  float64
	BookRate      float64
	OrderCapacity float64
	OrderRate     float64
}

// tickerDTO / bookDTO are the generic wire shapes a REST venue is expected
// to return. Venue-specific adapters would normally carry a translation
// layer here; this generic adapter assumes a venue-neutral JSON contract.
type tickerDTO struct {
	Bid       string `json:"bid"`
	Ask       string `json:"ask"`
	Last      string `json:"last"`
	Volume    string `json:"volume"`
	Change24h string `json:"change24h"`
}

type levelDTO struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookDTO struct {
	Bids []levelDTO `json:"bids"`
	Asks []levelDTO `json:"asks"`
}

type orderResponseDTO struct {
	OrderID string `json:"orderId"`
}

type balanceDTO struct {
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// RESTAdapter is a generic REST-over-HTTPS venue adapter: resty client
// with retry/timeout, token-bucket rate limiting split by endpoint
// category, idempotent order placement via a client-supplied ID. Grounded
// on the teacher's exchange.Client (base URL + timeout + retry-count
// wiring, GetOrderBook/PostOrders/CancelOrders shape) generalized from
// Polymarket's CLOB-specific payloads to a venue-neutral JSON contract.
type RESTAdapter struct {
	id       string
	category domain.VenueCategory
	http     *resty.Client
	bookLim  *TokenBucket
	orderLim *TokenBucket
}

// NewRESTAdapter builds a REST adapter from cfg.
func NewRESTAdapter(cfg RESTConfig) *RESTAdapter {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}

	bookCap, bookRate := cfg.BookCapacity, cfg.BookRate
	if bookCap == 0 {
		bookCap, bookRate = 150, 15
	}
	orderCap, orderRate := cfg.OrderCapacity, cfg.OrderRate
	if orderCap == 0 {
		orderCap, orderRate = 50, 10
	}

	return &RESTAdapter{
		id:       cfg.ID,
		category: cfg.Category,
		http:     client,
		bookLim:  NewTokenBucket(bookCap, bookRate),
		orderLim: NewTokenBucket(orderCap, orderRate),
	}
}

func (a *RESTAdapter) ID() string                     { return a.id }
func (a *RESTAdapter) Category() domain.VenueCategory { return a.category }

func (a *RESTAdapter) classify(resp *resty.Response, err error) error {
	if err != nil {
		return newError(a.id, KindTransient, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return newError(a.id, KindAuth, fmt.Errorf("status %d", resp.StatusCode()))
	case http.StatusNotFound:
		return newError(a.id, KindNotFound, fmt.Errorf("status %d", resp.StatusCode()))
	case http.StatusTooManyRequests:
		return &Error{Venue: a.id, Kind: KindRateLimited, RetryAfter: time.Second, Err: fmt.Errorf("status %d", resp.StatusCode())}
	default:
		if resp.StatusCode() >= 500 {
			return newError(a.id, KindTransient, fmt.Errorf("status %d", resp.StatusCode()))
		}
		return newError(a.id, KindPermanent, fmt.Errorf("status %d", resp.StatusCode()))
	}
}

func (a *RESTAdapter) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	if err := a.bookLim.Wait(ctx); err != nil {
		return domain.Ticker{}, newError(a.id, KindTransient, err)
	}

	var dto tickerDTO
	resp, err := a.http.R().SetContext(ctx).SetResult(&dto).
		SetQueryParam("symbol", symbol).
		Get("/ticker")
	if cerr := a.classify(resp, err); cerr != nil {
		return domain.Ticker{}, cerr
	}

	return domain.Ticker{
		Venue:      a.id,
		Symbol:     symbol,
		Bid:        parseDecimal(dto.Bid),
		Ask:        parseDecimal(dto.Ask),
		Last:       parseDecimal(dto.Last),
		Volume:     parseDecimal(dto.Volume),
		Change24h:  parseDecimal(dto.Change24h),
		ObservedAt: time.Now(),
	}, nil
}

func (a *RESTAdapter) FetchBook(ctx context.Context, symbol string, depth int) (domain.Book, error) {
	if err := a.bookLim.Wait(ctx); err != nil {
		return domain.Book{}, newError(a.id, KindTransient, err)
	}

	var dto bookDTO
	resp, err := a.http.R().SetContext(ctx).SetResult(&dto).
		SetQueryParams(map[string]string{"symbol": symbol, "depth": fmt.Sprintf("%d", depth)}).
		Get("/book")
	if cerr := a.classify(resp, err); cerr != nil {
		return domain.Book{}, cerr
	}

	return domain.Book{
		Venue:      a.id,
		Symbol:     symbol,
		Bids:       convertLevels(dto.Bids),
		Asks:       convertLevels(dto.Asks),
		ObservedAt: time.Now(),
	}, nil
}

func (a *RESTAdapter) FetchBalances(ctx context.Context) (map[string]domain.Balance, error) {
	var dto map[string]balanceDTO
	resp, err := a.http.R().SetContext(ctx).SetResult(&dto).Get("/balances")
	if cerr := a.classify(resp, err); cerr != nil {
		return nil, cerr
	}

	out := make(map[string]domain.Balance, len(dto))
	for asset, b := range dto {
		out[asset] = domain.Balance{
			Venue:  a.id,
			Asset:  asset,
			Free:   parseDecimal(b.Free),
			Locked: parseDecimal(b.Locked),
		}
	}
	return out, nil
}

// PlaceOrder submits req.ClientID as the venue's idempotency key so a
// retried submission after a timeout cannot create a second order.
func (a *RESTAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if err := a.orderLim.Wait(ctx); err != nil {
		return "", newError(a.id, KindTransient, err)
	}

	payload := map[string]any{
		"clientId": req.ClientID,
		"symbol":   req.Symbol,
		"side":     string(req.Side),
		"type":     string(req.Type),
		"amount":   req.Amount.String(),
	}
	if req.Type == OrderLimit {
		payload["price"] = req.Price.String()
	}

	var dto orderResponseDTO
	resp, err := a.http.R().SetContext(ctx).SetBody(payload).SetResult(&dto).Post("/orders")
	if cerr := a.classify(resp, err); cerr != nil {
		return "", cerr
	}
	return dto.OrderID, nil
}

func (a *RESTAdapter) CancelOrder(ctx context.Context, externalOrderID, symbol string) error {
	if err := a.orderLim.Wait(ctx); err != nil {
		return newError(a.id, KindTransient, err)
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParam("symbol", symbol).
		Delete("/orders/" + externalOrderID)
	return a.classify(resp, err)
}

func (a *RESTAdapter) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if a.category != domain.VenuePerpetual {
		return decimal.Zero, newError(a.id, KindNotFound, errNotApplicable)
	}

	var dto struct {
		Rate string `json:"rate"`
	}
	resp, err := a.http.R().SetContext(ctx).SetResult(&dto).
		SetQueryParam("symbol", symbol).
		Get("/funding-rate")
	if cerr := a.classify(resp, err); cerr != nil {
		return decimal.Zero, cerr
	}
	return parseDecimal(dto.Rate), nil
}

// Subscribe has no REST analogue; the venue is expected to provide a
// WSFeed for streaming, polled internally by the Supervisor otherwise.
func (a *RESTAdapter) Subscribe(ctx context.Context, symbol string) (<-chan domain.Ticker, error) {
	ch := make(chan domain.Ticker)
	close(ch)
	return ch, nil
}

var _ Adapter = (*RESTAdapter)(nil)

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func convertLevels(dtos []levelDTO) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(dtos))
	for i, l := range dtos {
		out[i] = domain.PriceLevel{Price: parseDecimal(l.Price), Size: parseDecimal(l.Size)}
	}
	return out
}
