package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arbitrage-engine/internal/domain"
)

// Reconnect/keepalive tuning, carried over unchanged from the teacher's
// exchange.WSFeed: exponential backoff capped at 30s, ping every 50s,
// 90s read deadline so a silent server is detected within ~2 missed pings.
const (
	wsPingInterval     = 50 * time.Second
	wsReadTimeout      = 90 * time.Second
	wsMaxReconnectWait = 30 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsTickerBufferSize = 256
)

// tickerPushDTO is the generic push-message shape a streaming venue is
// expected to emit per symbol update.
type tickerPushDTO struct {
	EventType string `json:"eventType"`
	Symbol    string `json:"symbol"`
	Bid       string `json:"bid"`
	Ask       string `json:"ask"`
	Last      string `json:"last"`
	Volume    string `json:"volume"`
}

// WSFeed is a single streaming market-data connection generalized from the
// teacher's two fixed channel types (market/user) down to one: a venue
// pushes per-symbol ticker updates, the Supervisor fans them into the
// shared marketdata.Cache. Auto-reconnects with exponential backoff and
// re-subscribes to all tracked symbols on reconnection.
type WSFeed struct {
	url   string
	venue string

	connMu sync.Mutex
	conn   *websocket.Conn

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	tickerCh chan domain.Ticker
	logger   *slog.Logger
}

// NewWSFeed creates a streaming feed for venue at wsURL.
func NewWSFeed(venueID, wsURL string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:        wsURL,
		venue:      venueID,
		subscribed: make(map[string]bool),
		tickerCh:   make(chan domain.Ticker, wsTickerBufferSize),
		logger:     logger.With("component", "wsfeed", "venue", venueID),
	}
}

// Tickers returns a read-only channel of streamed ticker updates.
func (f *WSFeed) Tickers() <-chan domain.Ticker { return f.tickerCh }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

// Subscribe adds symbols to the live subscription set.
func (f *WSFeed) Subscribe(symbols []string) error {
	f.subscribedMu.Lock()
	for _, s := range symbols {
		f.subscribed[s] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(map[string]any{"operation": "subscribe", "symbols": symbols})
}

// Unsubscribe removes symbols from the subscription set.
func (f *WSFeed) Unsubscribe(symbols []string) error {
	f.subscribedMu.Lock()
	for _, s := range symbols {
		delete(f.subscribed, s)
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(map[string]any{"operation": "unsubscribe", "symbols": symbols})
}

// Close gracefully closes the connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *WSFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	symbols := make([]string, 0, len(f.subscribed))
	for s := range f.subscribed {
		symbols = append(symbols, s)
	}
	f.subscribedMu.RUnlock()

	return f.writeJSON(map[string]any{"operation": "subscribe", "symbols": symbols})
}

func (f *WSFeed) dispatchMessage(data []byte) {
	var dto tickerPushDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}
	if dto.EventType != "" && dto.EventType != "ticker" {
		f.logger.Debug("ignoring event", "type", dto.EventType)
		return
	}
	if dto.Symbol == "" {
		return
	}

	t := domain.Ticker{
		Venue:      f.venue,
		Symbol:     dto.Symbol,
		Bid:        parseDecimal(dto.Bid),
		Ask:        parseDecimal(dto.Ask),
		Last:       parseDecimal(dto.Last),
		Volume:     parseDecimal(dto.Volume),
		ObservedAt: time.Now(),
	}

	select {
	case f.tickerCh <- t:
	default:
		f.logger.Warn("ticker channel full, dropping update", "symbol", dto.Symbol)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteJSON(v)
}

func (f *WSFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteMessage(msgType, data)
}
