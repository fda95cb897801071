package rest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "cryptostream/config"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// listenKeyParam reads listenKey from the query or the form body, which is
// where the client puts it for PUT and DELETE.
func listenKeyParam(t *testing.T, r *http.Request) string {
	if v := r.URL.Query().Get("listenKey"); v != "" {
		return v
	}
	body, err := io.ReadAll(r.Body)
	if !assert.NoError(t, err) {
		return ""
	}
	values, err := url.ParseQuery(string(body))
	assert.NoError(t, err)
	return values.Get("listenKey")
}

func newTestServer(t *testing.T, rec *recorder) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/api/v3/time", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"serverTime":1499827319559}`))
	})
	mux.HandleFunc("/api/v3/depth", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BNBBTC", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"lastUpdateId":160,"bids":[["0.0024","10.00000000"]],"asks":[["0.0026","100"]]}`))
	})
	mux.HandleFunc("/api/v3/klines", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[[1499040000000,"0.01634790","0.80000000","0.01575800","0.01577100","148976.11427815",1499644799999,"2434.19055334",308,"1756.87402397","28.46694368","0"]]`))
	})
	mux.HandleFunc("/api/v3/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "LTCBTC" {
			_, _ = w.Write([]byte(`{"symbol":"LTCBTC","price":"4.00000200"}`))
			return
		}
		_, _ = w.Write([]byte(`[{"symbol":"LTCBTC","price":"4.00000200"},{"symbol":"ETHBTC","price":"0.07946600"}]`))
	})
	mux.HandleFunc("/api/v3/userDataStream", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		rec.add(r.Method + " " + listenKeyParam(t, r))
		switch r.Method {
		case http.MethodPost:
			_, _ = w.Write([]byte(`{"listenKey":"pqia91ma19a5s61cv6a81va65sdf19v8a65a1a5s61cv6a81va65sdf19v8a65a1"}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, rec *recorder) *Client {
	srv := newTestServer(t, rec)
	return NewClient(appconfig.RestConfig{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", Timeout: time.Second})
}

func TestMarketEndpoints(t *testing.T) {
	c := newTestClient(t, &recorder{})
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	ts, err := c.ServerTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1499827319559), ts)

	book, err := c.Depth(ctx, "BNBBTC", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(160), book.LastUpdateID)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, "10.00000000", book.Bids[0].Quantity.String())
	assert.Equal(t, "0.0026", book.Asks[0].Price.String())

	klines, err := c.Klines(ctx, "ETHBTC", "1d", 1)
	require.NoError(t, err)
	require.Len(t, klines, 1)
	assert.Equal(t, int64(1499040000000), klines[0].StartTime)
	assert.Equal(t, "0.01577100", klines[0].Close.String())
	assert.Equal(t, int64(308), klines[0].TradeCount)
	assert.Equal(t, "1d", klines[0].Interval)
}

func TestPrices(t *testing.T) {
	c := newTestClient(t, &recorder{})

	all, err := c.Prices(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "0.07946600", all["ETHBTC"].String())

	one, err := c.Prices(context.Background(), "LTCBTC")
	require.NoError(t, err)
	assert.Equal(t, "4.00000200", one["LTCBTC"].String())
}

func TestUserStreamLifecycle(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec)
	ctx := context.Background()

	key, err := c.StartUserStream(ctx)
	require.NoError(t, err)
	assert.Len(t, key, 64)

	require.NoError(t, c.KeepaliveUserStream(ctx, key))
	require.NoError(t, c.CloseUserStream(ctx, key))

	assert.Equal(t, []string{"POST ", "PUT " + key, "DELETE " + key}, rec.list())
}

func TestKeepAliveClosesKeyOnCancel(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.KeepAlive(ctx, "lk", 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		for _, call := range rec.list() {
			if call == "PUT lk" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("keepalive did not stop")
	}
	calls := rec.list()
	assert.Equal(t, "DELETE lk", calls[len(calls)-1])
}

func TestKeepAliveRejectsNonPositiveInterval(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec)

	for _, interval := range []time.Duration{0, -time.Second} {
		err := c.KeepAlive(context.Background(), "lk", interval)
		assert.ErrorContains(t, err, "keepalive interval must be positive")
	}
	assert.Empty(t, rec.list())
}
