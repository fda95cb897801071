package models

import (
	"encoding/json"
	"fmt"
)

// EventKind names the variant of a decoded stream event.
type EventKind string

const (
	KindAggregateTrade EventKind = "aggregate_trade"
	KindTrade          EventKind = "trade"
	KindKline          EventKind = "kline"
	KindMiniTicker     EventKind = "mini_ticker"
	KindMiniTickers    EventKind = "mini_tickers"
	KindTicker         EventKind = "ticker"
	KindTickers        EventKind = "tickers"
	KindOrderBook      EventKind = "order_book"
	KindPartialDepth   EventKind = "partial_depth"
	KindDiffDepth      EventKind = "diff_depth"
	KindAccountUpdate  EventKind = "account_update"
	KindOrderUpdate    EventKind = "order_update"
	KindPing           EventKind = "ping"
	KindPong           EventKind = "pong"
	KindBinary         EventKind = "binary"
)

// Event is implemented by every value the stream decoder produces.
type Event interface {
	Kind() EventKind
}

/////////////////////////////////////////////////////////////////////////////
/////////////////////////////// MARKET DATA /////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// AggregateTrade mirrors the <symbol>@aggTrade payload.
type AggregateTrade struct {
	EventType        string  `json:"e"`
	EventTime        int64   `json:"E"`
	Symbol           string  `json:"s"`
	AggregateTradeID int64   `json:"a"`
	Price            Decimal `json:"p"`
	Quantity         Decimal `json:"q"`
	FirstTradeID     int64   `json:"f"`
	LastTradeID      int64   `json:"l"`
	TradeTime        int64   `json:"T"`
	IsBuyerMaker     bool    `json:"m"`
	Ignore           bool    `json:"M,omitempty"`
}

// Trade mirrors the <symbol>@trade payload.
type Trade struct {
	EventType     string  `json:"e"`
	EventTime     int64   `json:"E"`
	Symbol        string  `json:"s"`
	TradeID       int64   `json:"t"`
	Price         Decimal `json:"p"`
	Quantity      Decimal `json:"q"`
	BuyerOrderID  int64   `json:"b"`
	SellerOrderID int64   `json:"a"`
	TradeTime     int64   `json:"T"`
	IsBuyerMaker  bool    `json:"m"`
	Ignore        bool    `json:"M,omitempty"`
}

// Kline mirrors the <symbol>@kline_<interval> payload.
type Kline struct {
	EventType string    `json:"e"`
	EventTime int64     `json:"E"`
	Symbol    string    `json:"s"`
	Data      KlineData `json:"k"`
}

// KlineData is the candle carried by a Kline event.
type KlineData struct {
	StartTime           int64   `json:"t"`
	CloseTime           int64   `json:"T"`
	Symbol              string  `json:"s"`
	Interval            string  `json:"i"`
	FirstTradeID        int64   `json:"f"`
	LastTradeID         int64   `json:"L"`
	Open                Decimal `json:"o"`
	Close               Decimal `json:"c"`
	High                Decimal `json:"h"`
	Low                 Decimal `json:"l"`
	BaseVolume          Decimal `json:"v"`
	TradeCount          int64   `json:"n"`
	IsClosed            bool    `json:"x"`
	QuoteVolume         Decimal `json:"q"`
	TakerBuyBaseVolume  Decimal `json:"V"`
	TakerBuyQuoteVolume Decimal `json:"Q"`
	Ignore              string  `json:"B,omitempty"`
}

// MiniTicker mirrors the <symbol>@miniTicker payload.
type MiniTicker struct {
	EventType   string  `json:"e"`
	EventTime   int64   `json:"E"`
	Symbol      string  `json:"s"`
	Close       Decimal `json:"c"`
	Open        Decimal `json:"o"`
	Low         Decimal `json:"l"`
	High        Decimal `json:"h"`
	BaseVolume  Decimal `json:"v"`
	QuoteVolume Decimal `json:"q"`
}

// MiniTickers is the !miniTicker@arr payload.
type MiniTickers []MiniTicker

// Ticker mirrors the <symbol>@ticker payload.
type Ticker struct {
	EventType          string  `json:"e"`
	EventTime          int64   `json:"E"`
	Symbol             string  `json:"s"`
	PriceChange        Decimal `json:"p"`
	PriceChangePercent Decimal `json:"P"`
	WeightedAvgPrice   Decimal `json:"w"`
	FirstPrice         Decimal `json:"x"`
	LastPrice          Decimal `json:"c"`
	LastQuantity       Decimal `json:"Q"`
	BestBidPrice       Decimal `json:"b"`
	BestBidQuantity    Decimal `json:"B"`
	BestAskPrice       Decimal `json:"a"`
	BestAskQuantity    Decimal `json:"A"`
	Open               Decimal `json:"o"`
	High               Decimal `json:"h"`
	Low                Decimal `json:"l"`
	BaseVolume         Decimal `json:"v"`
	QuoteVolume        Decimal `json:"q"`
	OpenTime           int64   `json:"O"`
	CloseTime          int64   `json:"C"`
	FirstTradeID       int64   `json:"F"`
	LastTradeID        int64   `json:"L"`
	TradeCount         int64   `json:"n"`
}

// Tickers is the !ticker@arr payload.
type Tickers []Ticker

// PriceLevel is one [price, quantity] entry of a book side. It is encoded as
// a JSON array; trailing elements sent by the exchange are ignored.
type PriceLevel struct {
	Price    Decimal
	Quantity Decimal
}

func (p PriceLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]Decimal{p.Price, p.Quantity})
}

func (p *PriceLevel) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) < 2 {
		return fmt.Errorf("price level needs price and quantity, got %d elements", len(parts))
	}
	if err := json.Unmarshal(parts[0], &p.Price); err != nil {
		return fmt.Errorf("price level price: %w", err)
	}
	if err := json.Unmarshal(parts[1], &p.Quantity); err != nil {
		return fmt.Errorf("price level quantity: %w", err)
	}
	return nil
}

// OrderBook is a top-N snapshot of a book, as pushed by <symbol>@depth<N>
// and returned by the REST depth endpoint.
type OrderBook struct {
	LastUpdateID int64        `json:"lastUpdateId"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// PartialDepth has the same wire shape as OrderBook but is produced for
// partial depth subscriptions.
type PartialDepth struct {
	LastUpdateID int64        `json:"lastUpdateId"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// DiffDepth mirrors the <symbol>@depth payload.
type DiffDepth struct {
	EventType     string       `json:"e"`
	EventTime     int64        `json:"E"`
	Symbol        string       `json:"s"`
	FirstUpdateID int64        `json:"U"`
	FinalUpdateID int64        `json:"u"`
	Bids          []PriceLevel `json:"b"`
	Asks          []PriceLevel `json:"a"`
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// PROTOCOL ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Ping is reported when the server sends a ping control frame.
type Ping struct {
	Payload []byte `json:"payload,omitempty"`
}

// Pong is reported when the server sends a pong control frame.
type Pong struct {
	Payload []byte `json:"payload,omitempty"`
}

// Binary carries a binary frame that was not decoded.
type Binary struct {
	Data []byte `json:"data"`
}

func (AggregateTrade) Kind() EventKind { return KindAggregateTrade }
func (Trade) Kind() EventKind          { return KindTrade }
func (Kline) Kind() EventKind          { return KindKline }
func (MiniTicker) Kind() EventKind     { return KindMiniTicker }
func (MiniTickers) Kind() EventKind    { return KindMiniTickers }
func (Ticker) Kind() EventKind         { return KindTicker }
func (Tickers) Kind() EventKind        { return KindTickers }
func (OrderBook) Kind() EventKind      { return KindOrderBook }
func (PartialDepth) Kind() EventKind   { return KindPartialDepth }
func (DiffDepth) Kind() EventKind      { return KindDiffDepth }
func (AccountUpdate) Kind() EventKind  { return KindAccountUpdate }
func (OrderUpdate) Kind() EventKind    { return KindOrderUpdate }
func (Ping) Kind() EventKind           { return KindPing }
func (Pong) Kind() EventKind           { return KindPong }
func (Binary) Kind() EventKind         { return KindBinary }

// EventSymbol returns the symbol an event refers to, or "" when the event
// is not tied to a single symbol.
func EventSymbol(ev Event) string {
	switch e := ev.(type) {
	case AggregateTrade:
		return e.Symbol
	case Trade:
		return e.Symbol
	case Kline:
		return e.Symbol
	case MiniTicker:
		return e.Symbol
	case Ticker:
		return e.Symbol
	case DiffDepth:
		return e.Symbol
	case OrderUpdate:
		return e.Symbol
	default:
		return ""
	}
}
