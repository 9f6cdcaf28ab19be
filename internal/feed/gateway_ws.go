// Package feed is the boundary to the exchange-gateway process. The
// gateway owns the binary exchange protocol; it hands this service parsed
// trade records over a websocket, each carrying the original wire bytes
// for archival.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tradeflow/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// gatewayTrade is the JSON the gateway sends per execution. Price arrives
// as a decimal string and is scaled to the mantissa convention here, at the
// edge; raw is the original exchange message (base64 on the wire).
type gatewayTrade struct {
	ExecID        string    `json:"exec_id"`
	Symbol        string    `json:"symbol"`
	Quantity      int64     `json:"quantity"`
	Price         string    `json:"price"`
	Side          string    `json:"side"`
	ExecTS        time.Time `json:"exec_ts"`
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	TraderID      string    `json:"trader_id"`
	Account       string    `json:"account"`
	Exchange      string    `json:"exchange"`
	ReceiveTS     time.Time `json:"receive_ts"`
	Raw           []byte    `json:"raw"`
}

// GatewayWSFeed implements domain.TradeSource over a websocket connection
// to the exchange gateway. It reconnects with exponential backoff; the
// gateway replays unacknowledged trades on reconnect, so a dropped
// connection costs duplicates, not losses.
type GatewayWSFeed struct {
	wsURL     string
	gatewayID string
	logger    *slog.Logger

	// OnMalformed, when set, receives messages that do not decode as
	// gateway JSON at all. The ingest service dead-letters them with the
	// raw bytes intact. Set before Run.
	OnMalformed func(ctx context.Context, gatewayID string, raw []byte, err error)
}

// NewGatewayWSFeed creates a feed for the given gateway endpoint.
func NewGatewayWSFeed(wsURL, gatewayID string, logger *slog.Logger) *GatewayWSFeed {
	return &GatewayWSFeed{
		wsURL:     wsURL,
		gatewayID: gatewayID,
		logger:    logger.With(slog.String("component", "gateway_feed"), slog.String("gateway_id", gatewayID)),
	}
}

// Run connects and delivers trades to handle until ctx is cancelled. A
// handler error stops the feed; read errors trigger reconnection.
func (f *GatewayWSFeed) Run(ctx context.Context, handle func(ctx context.Context, t domain.TradeEnvelope) error) error {
	delay := reconnectDelay
	for {
		err := f.runConnection(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !isDisconnect(err) {
			return err
		}

		f.logger.Warn("gateway disconnected, reconnecting",
			slog.Duration("delay", delay),
			slog.String("error", fmt.Sprint(err)),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// disconnectErr marks a connection-level failure eligible for reconnect.
type disconnectErr struct{ err error }

func (e *disconnectErr) Error() string { return e.err.Error() }
func (e *disconnectErr) Unwrap() error { return e.err }

func isDisconnect(err error) bool {
	_, ok := err.(*disconnectErr)
	return ok
}

func (f *GatewayWSFeed) runConnection(ctx context.Context, handle func(ctx context.Context, t domain.TradeEnvelope) error) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return &disconnectErr{fmt.Errorf("feed: connect %s: %w", f.wsURL, err)}
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Close the socket when ctx ends so the blocked read returns.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	go pingLoop(ctx, conn)

	f.logger.InfoContext(ctx, "gateway connected", slog.String("url", f.wsURL))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &disconnectErr{fmt.Errorf("feed: read: %w", err)}
		}

		t, err := f.parse(message)
		if err != nil {
			// Not a trade we can shape at all; hand it over raw so it is not
			// silently lost.
			f.logger.WarnContext(ctx, "unparseable gateway message", slog.String("error", err.Error()))
			if f.OnMalformed != nil {
				f.OnMalformed(ctx, f.gatewayID, message, err)
			}
			continue
		}
		if err := handle(ctx, t); err != nil {
			return err
		}
	}
}

// parse shapes one gateway message into an envelope. Scaling errors leave
// PriceMantissa at zero; validation downstream routes the trade to the DLQ
// with its raw bytes intact.
func (f *GatewayWSFeed) parse(message []byte) (domain.TradeEnvelope, error) {
	var g gatewayTrade
	if err := json.Unmarshal(message, &g); err != nil {
		return domain.TradeEnvelope{}, fmt.Errorf("feed: decode trade: %w", err)
	}

	t := domain.TradeEnvelope{
		ExecID:        g.ExecID,
		Symbol:        g.Symbol,
		Quantity:      g.Quantity,
		Side:          domain.Side(g.Side),
		ExecTS:        g.ExecTS,
		OrderID:       g.OrderID,
		ClientOrderID: g.ClientOrderID,
		TraderID:      g.TraderID,
		Account:       g.Account,
		Exchange:      g.Exchange,
		GatewayID:     f.gatewayID,
		ReceiveTS:     g.ReceiveTS,
		RawBytes:      g.Raw,
	}
	if t.ReceiveTS.IsZero() {
		t.ReceiveTS = time.Now().UTC()
	}
	if len(t.RawBytes) == 0 {
		t.RawBytes = message
	}

	mantissa, err := domain.MantissaFromDecimal(g.Price)
	if err != nil {
		f.logger.Warn("price scaling failed",
			slog.String("exec_id", g.ExecID),
			slog.String("price", g.Price),
			slog.String("error", err.Error()),
		)
		return t, nil
	}
	t.PriceMantissa = mantissa
	return t, nil
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Compile-time interface check.
var _ domain.TradeSource = (*GatewayWSFeed)(nil)
