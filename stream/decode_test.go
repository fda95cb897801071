package stream

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptostream/models"
)

const (
	aggTradePayload  = `{"e":"aggTrade","E":1672515782136,"s":"BNBBTC","a":12345,"p":"0.001","q":"100","f":100,"l":105,"T":1672515782136,"m":true,"M":true}`
	tradePayload     = `{"e":"trade","E":1672515782136,"s":"ETHBTC","t":12345,"p":"0.00100000","q":"100.00000000","b":88,"a":50,"T":1672515782136,"m":true,"M":true}`
	klinePayload     = `{"e":"kline","E":1672515782136,"s":"ETHBTC","k":{"t":1672515780000,"T":1672515839999,"s":"ETHBTC","i":"1m","f":100,"L":200,"o":"0.0010","c":"0.0020","h":"0.0025","l":"0.0015","v":"1000","n":100,"x":false,"q":"1.0000","V":"500","Q":"0.500","B":"123456"}}`
	miniPayload      = `{"e":"24hrMiniTicker","E":1672515782136,"s":"BNBBTC","c":"0.0025","o":"0.0010","h":"0.0025","l":"0.0010","v":"10000","q":"18"}`
	tickerPayload    = `{"e":"24hrTicker","E":1672515782136,"s":"BNBBTC","p":"0.0015","P":"250.00","w":"0.0018","x":"0.0009","c":"0.0025","Q":"10","b":"0.0024","B":"10","a":"0.0026","A":"100","o":"0.0010","h":"0.0025","l":"0.0010","v":"10000","q":"18","O":0,"C":86400000,"F":0,"L":18150,"n":18151}`
	depthPayload     = `{"lastUpdateId":160,"bids":[["0.0024","10"]],"asks":[["0.0026","100"]]}`
	diffPayload      = `{"e":"depthUpdate","E":1672515782136,"s":"BNBBTC","U":157,"u":160,"b":[["0.0024","10"]],"a":[["0.0026","100"]]}`
	accountPayload   = `{"e":"outboundAccountInfo","E":1499405658849,"m":0,"t":0,"b":0,"s":0,"T":true,"W":true,"D":true,"u":1499405658848,"B":[{"a":"LTC","f":"17366.18538083","l":"0.00000000"},{"a":"BTC","f":"10537.85314051","l":"2.19464093"}]}`
	orderFillPayload = `{"e":"executionReport","E":1499405658658,"s":"ETHBTC","c":"mUvoqJxFIILMdfAW5iGSOW","S":"SELL","o":"LIMIT","f":"GTC","q":"1.00000000","p":"0.10264410","P":"0.00000000","F":"0.00000000","g":-1,"C":"web_4b1a","x":"TRADE","X":"FILLED","r":"NONE","i":4293153,"l":"1.00000000","z":"1.00000000","L":"0.10264410","n":"0.00010264","N":"BNB","T":1499405658657,"t":77,"I":8641985,"w":false,"m":true,"M":true,"O":1499405658657,"Z":"0.10264410","Y":"0.10264410","Q":"0.00000000","W":1499405658657,"V":"NONE"}`
	orderPayload     = `{"e":"executionReport","E":1499405658658,"s":"ETHBTC","c":"mUvoqJxFIILMdfAW5iGSOW","S":"BUY","o":"LIMIT","f":"GTC","q":"1.00000000","p":"0.10264410","P":"0.00000000","F":"0.00000000","g":-1,"C":null,"x":"NEW","X":"NEW","r":"NONE","i":4293153,"l":"0.00000000","z":"0.00000000","L":"0.00000000","n":"0","N":null,"T":1499405658657,"t":-1,"I":8641984,"w":true,"m":false,"M":false,"O":1499405658657,"Z":"0.00000000","Y":"0.00000000","Q":"0.00000000"}`
)

func text(s string) Frame { return Frame{Type: TextFrame, Data: []byte(s)} }

func TestDecodeMarketFeeds(t *testing.T) {
	cases := []struct {
		sub     Subscription
		payload string
		kind    models.EventKind
	}{
		{AggregateTrade("BNBBTC"), aggTradePayload, models.KindAggregateTrade},
		{Trade("ETHBTC"), tradePayload, models.KindTrade},
		{Candlestick("ETHBTC", "1m"), klinePayload, models.KindKline},
		{MiniTicker("BNBBTC"), miniPayload, models.KindMiniTicker},
		{MiniTickerAll(), "[" + miniPayload + "," + miniPayload + "]", models.KindMiniTickers},
		{Ticker("BNBBTC"), tickerPayload, models.KindTicker},
		{TickerAll(), "[" + tickerPayload + "]", models.KindTickers},
		{PartialDepth("BNBBTC", 5), depthPayload, models.KindPartialDepth},
		{OrderBook("BNBBTC", 5), depthPayload, models.KindOrderBook},
		{DiffDepth("BNBBTC"), diffPayload, models.KindDiffDepth},
	}
	for _, c := range cases {
		ev, err := Decode(c.sub, text(c.payload))
		require.NoError(t, err, c.sub.String())
		assert.Equal(t, c.kind, ev.Kind(), c.sub.String())
	}
}

func TestDecodePreservesValues(t *testing.T) {
	ev, err := Decode(Trade("ETHBTC"), text(tradePayload))
	require.NoError(t, err)
	trade, ok := ev.(models.Trade)
	require.True(t, ok)
	assert.Equal(t, "0.00100000", trade.Price.String())
	assert.Equal(t, "100.00000000", trade.Quantity.String())
	assert.Equal(t, int64(12345), trade.TradeID)
	assert.True(t, trade.IsBuyerMaker)

	ev, err = Decode(Candlestick("ETHBTC", "1m"), text(klinePayload))
	require.NoError(t, err)
	kline := ev.(models.Kline)
	assert.Equal(t, "1m", kline.Data.Interval)
	assert.Equal(t, "0.0020", kline.Data.Close.String())
	assert.False(t, kline.Data.IsClosed)

	ev, err = Decode(TickerAll(), text("["+tickerPayload+","+tickerPayload+"]"))
	require.NoError(t, err)
	assert.Len(t, ev.(models.Tickers), 2)

	ev, err = Decode(OrderBook("BNBBTC", 5), text(depthPayload))
	require.NoError(t, err)
	book := ev.(models.OrderBook)
	assert.Equal(t, int64(160), book.LastUpdateID)
	assert.Equal(t, "0.0026", book.Asks[0].Price.String())
}

func TestDecodeUserDataTrialOrder(t *testing.T) {
	sub := UserData("key")

	ev, err := Decode(sub, text(accountPayload))
	require.NoError(t, err)
	account, ok := ev.(models.AccountUpdate)
	require.True(t, ok, "expected account update, got %T", ev)
	require.Len(t, account.Balances, 2)
	assert.Equal(t, "2.19464093", account.Balances[1].Locked.String())

	ev, err = Decode(sub, text(orderPayload))
	require.NoError(t, err)
	order, ok := ev.(models.OrderUpdate)
	require.True(t, ok, "expected order update, got %T", ev)
	assert.Equal(t, models.SideBuy, order.Side)
	assert.Nil(t, order.OrigClientOrderID)
	assert.Nil(t, order.CommissionAsset)
	assert.Equal(t, "0.10264410", order.Price.String())

	_, err = Decode(sub, text(`{"e":"listStatus","E":1}`))
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, err.Error(), "not an account update")
	assert.Contains(t, err.Error(), "not an order update")
}

func TestDecodeFailures(t *testing.T) {
	cases := map[string]struct {
		sub   Subscription
		frame Frame
	}{
		"not json":         {Trade("ETHBTC"), text("not json")},
		"missing field":    {Trade("ETHBTC"), text(`{"e":"trade","E":1,"s":"ETHBTC","t":1,"p":"1","q":"1","b":1,"a":1,"T":1}`)},
		"type mismatch":    {Trade("ETHBTC"), text(`{"e":"trade","E":"soon","s":"ETHBTC","t":1,"p":"1","q":"1","b":1,"a":1,"T":1,"m":true}`)},
		"bad decimal":      {Trade("ETHBTC"), text(`{"e":"trade","E":1,"s":"ETHBTC","t":1,"p":"abc","q":"1","b":1,"a":1,"T":1,"m":true}`)},
		"wrong schema":     {Candlestick("ETHBTC", "1m"), text(tradePayload)},
		"short level":      {DiffDepth("BNBBTC"), text(`{"e":"depthUpdate","E":1,"s":"BNBBTC","U":1,"u":2,"b":[["0.1"]],"a":[]}`)},
		"array for object": {Ticker("BNBBTC"), text("[" + tickerPayload + "]")},
		"unknown frame":    {Trade("ETHBTC"), Frame{Type: FrameType(42)}},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			ev, err := Decode(c.sub, c.frame)
			assert.Nil(t, ev)
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, c.sub, decodeErr.Subscription)
		})
	}
}

func TestDecodePassesThroughNonText(t *testing.T) {
	sub := Trade("ETHBTC")

	ev, err := Decode(sub, Frame{Type: BinaryFrame, Data: []byte{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, models.Binary{Data: []byte{1, 2}}, ev)

	ev, err = Decode(sub, Frame{Type: PingFrame, Data: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, models.Ping{Payload: []byte("hi")}, ev)

	ev, err = Decode(sub, Frame{Type: PongFrame})
	require.NoError(t, err)
	assert.Equal(t, models.KindPong, ev.Kind())
}

func TestDecodeErrorTruncatesPayload(t *testing.T) {
	big := make([]byte, 1000)
	for i := range big {
		big[i] = 'x'
	}
	err := &DecodeError{Subscription: Trade("ETHBTC"), Payload: big, Err: errors.New("bad")}
	assert.Less(t, len(err.Error()), 400)
	assert.ErrorIs(t, err, err.Err)
}

func TestDecodeThenMarshalRoundTrips(t *testing.T) {
	// null and false optionals are dropped when the event is written back
	orderWant := strings.NewReplacer(`"C":null,`, "", `"N":null,`, "", `"M":false,`, "").Replace(orderPayload)

	cases := []struct {
		name    string
		sub     Subscription
		payload string
		want    string
	}{
		{"aggregate trade", AggregateTrade("BNBBTC"), aggTradePayload, ""},
		{"trade", Trade("ETHBTC"), tradePayload, ""},
		{"kline", Candlestick("ETHBTC", "1m"), klinePayload, ""},
		{"mini ticker", MiniTicker("BNBBTC"), miniPayload, ""},
		{"mini tickers", MiniTickerAll(), "[" + miniPayload + "," + miniPayload + "]", ""},
		{"ticker", Ticker("BNBBTC"), tickerPayload, ""},
		{"tickers", TickerAll(), "[" + tickerPayload + "]", ""},
		{"partial depth", PartialDepth("BNBBTC", 5), depthPayload, ""},
		{"order book", OrderBook("BNBBTC", 5), depthPayload, ""},
		{"diff depth", DiffDepth("BNBBTC"), diffPayload, ""},
		{"account update", UserData("listenkey"), accountPayload, ""},
		{"order update", UserData("listenkey"), orderPayload, orderWant},
		{"order fill", UserData("listenkey"), orderFillPayload, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ev, err := Decode(c.sub, text(c.payload))
			require.NoError(t, err)

			out, err := json.Marshal(ev)
			require.NoError(t, err)

			want := c.want
			if want == "" {
				want = c.payload
			}
			assert.JSONEq(t, want, string(out))
		})
	}
}
