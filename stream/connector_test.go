package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "cryptostream/config"
	"cryptostream/models"
)

var upgrader = websocket.Upgrader{}

// newStreamServer serves a small fixed script per stream path.
func newStreamServer(t *testing.T, pongs chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/ws/")
		if path == "missing" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		switch path {
		case "ethbtc@trade":
			_ = conn.WriteMessage(websocket.TextMessage, []byte(tradePayload))
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
			conn.SetPongHandler(func(data string) error {
				if pongs != nil {
					pongs <- data
				}
				return conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			})
			_ = conn.WriteMessage(websocket.PingMessage, []byte("hb"))
		case "bnbbtc@trade":
			_ = conn.WriteMessage(websocket.TextMessage, []byte(tradePayload))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func connectorFor(srv *httptest.Server) *WSConnector {
	return NewWSConnector(appconfig.StreamConfig{
		BaseURL:          "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/",
		HandshakeTimeout: time.Second,
		ReadLimit:        1 << 20,
	})
}

func TestWSConnectorURL(t *testing.T) {
	c := NewWSConnector(appconfig.StreamConfig{BaseURL: "wss://stream.binance.com:9443/ws/"})
	assert.Equal(t, "wss://stream.binance.com:9443/ws/ethbtc@kline_1m", c.URL(Candlestick("ETHBTC", "1m")))
	assert.Equal(t, "wss://stream.binance.com:9443/ws/!ticker@arr", c.URL(TickerAll()))
	assert.Equal(t, "wss://stream.binance.com:9443/ws/abc123", c.URL(UserData("abc123")))
}

func TestWSStreamFrames(t *testing.T) {
	pongs := make(chan string, 1)
	srv := newStreamServer(t, pongs)
	c := connectorFor(srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := c.Open(ctx, Trade("ETHBTC"))
	require.NoError(t, err)
	defer s.Close()

	f, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, Frame{Type: TextFrame, Data: []byte(tradePayload)}, f)

	f, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, Frame{Type: BinaryFrame, Data: []byte{1, 2, 3}}, f)

	f, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, Frame{Type: PingFrame, Data: []byte("hb")}, f)

	select {
	case data := <-pongs:
		assert.Equal(t, "hb", data)
	case <-time.After(2 * time.Second):
		t.Fatal("server never got a pong")
	}

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWSConnectorHandshakeFailure(t *testing.T) {
	srv := newStreamServer(t, nil)
	c := NewWSConnector(appconfig.StreamConfig{
		BaseURL:          "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		HandshakeTimeout: time.Second,
	})
	sub, err := ParseSubscription("userData:missing")
	require.NoError(t, err)

	_, err = c.Open(context.Background(), sub)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, sub, connErr.Subscription)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Contains(t, err.Error(), "404")
	assert.NotContains(t, err.Error(), "missing", "listen key must be masked")
}

func TestWSConnectorUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c := NewWSConnector(appconfig.StreamConfig{BaseURL: "ws://" + addr + "/ws"})
	_, err = c.Open(context.Background(), Trade("ETHBTC"))
	var connErr *ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestWSStreamCloseUnblocksNext(t *testing.T) {
	srv := newStreamServer(t, nil)
	s, err := connectorFor(srv).Open(context.Background(), MiniTickerAll())
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := s.Next()
		result <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	select {
	case err := <-result:
		assert.True(t, errors.Is(err, net.ErrClosed), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestMultiplexerOverWebsocket(t *testing.T) {
	srv := newStreamServer(t, nil)
	m := NewMultiplexer(connectorFor(srv))
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := m.Subscribe(ctx, Trade("BNBBTC"))
	require.NoError(t, err)

	ev, err := m.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.KindTrade, ev.Kind())

	_, err = m.Next(ctx)
	var disconnect *DisconnectError
	require.ErrorAs(t, err, &disconnect)
	assert.Nil(t, disconnect.Err)

	_, err = m.Next(ctx)
	assert.ErrorIs(t, err, ErrNoStreamSubscribed)
}
