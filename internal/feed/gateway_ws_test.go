package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeflow/internal/domain"
)

func newFeed() *GatewayWSFeed {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGatewayWSFeed("ws://gateway:9000/trades", "gw-1", logger)
}

func TestParseScalesDecimalPrice(t *testing.T) {
	msg := []byte(`{
		"exec_id": "X1", "symbol": "AAPL", "quantity": 100,
		"price": "150.125", "side": "BUY",
		"exec_ts": "2026-02-02T15:59:58Z",
		"trader_id": "T001", "account": "ACC-1", "exchange": "XNAS",
		"receive_ts": "2026-02-02T15:59:58.02Z",
		"raw": "OD1GSVguNC4y"
	}`)

	env, err := newFeed().parse(msg)
	require.NoError(t, err)
	assert.Equal(t, int64(15_012_500_000), env.PriceMantissa)
	assert.Equal(t, domain.SideBuy, env.Side)
	assert.Equal(t, "gw-1", env.GatewayID)
	assert.Equal(t, []byte("8=FIX.4.2"), env.RawBytes, "raw bytes decode from base64")
	require.NoError(t, env.Validate())
}

func TestParseBadPriceLeavesMantissaZero(t *testing.T) {
	msg := []byte(`{"exec_id":"X1","symbol":"AAPL","quantity":1,"price":"150.0.0","side":"BUY","exec_ts":"2026-02-02T15:59:58Z","trader_id":"T001","account":"A","exchange":"XNAS"}`)

	env, err := newFeed().parse(msg)
	require.NoError(t, err, "scaling failures are not parse failures")
	assert.Zero(t, env.PriceMantissa)
	assert.Error(t, env.Validate(), "zero price fails validation downstream")
}

func TestParseFillsReceiveTSAndRawFallbacks(t *testing.T) {
	msg := []byte(`{"exec_id":"X1","symbol":"AAPL","quantity":1,"price":"1","side":"SELL","exec_ts":"2026-02-02T15:59:58Z","trader_id":"T001","account":"A","exchange":"XNAS"}`)

	env, err := newFeed().parse(msg)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), env.ReceiveTS, time.Minute)
	assert.Equal(t, msg, env.RawBytes, "without explicit raw bytes, the websocket frame is archived")
}

func TestParseMalformedJSON(t *testing.T) {
	_, err := newFeed().parse([]byte(`{"exec_id":`))
	assert.Error(t, err)
}

func TestRunHandsMalformedFramesToOnMalformed(t *testing.T) {
	garbage := []byte(`{"exec_id":`)
	valid := []byte(`{"exec_id":"X1","symbol":"AAPL","quantity":1,"price":"1","side":"SELL","exec_ts":"2026-02-02T15:59:58Z","trader_id":"T001","account":"A","exchange":"XNAS"}`)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, garbage)
		_ = conn.WriteMessage(websocket.TextMessage, valid)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := NewGatewayWSFeed("ws"+strings.TrimPrefix(srv.URL, "http"), "gw-1", logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var malformed [][]byte
	f.OnMalformed = func(_ context.Context, gatewayID string, raw []byte, _ error) {
		assert.Equal(t, "gw-1", gatewayID)
		malformed = append(malformed, raw)
	}

	var handled []domain.TradeEnvelope
	done := make(chan error, 1)
	go func() {
		done <- f.Run(ctx, func(_ context.Context, tr domain.TradeEnvelope) error {
			handled = append(handled, tr)
			cancel()
			return nil
		})
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("feed never delivered the valid frame")
	}

	require.Len(t, malformed, 1, "the garbage frame goes to OnMalformed, not the handler")
	assert.Equal(t, garbage, malformed[0])
	require.Len(t, handled, 1)
	assert.Equal(t, "X1", handled[0].ExecID)
}
