package stream

import (
	"fmt"
	"strconv"
	"strings"

	"cryptostream/internal/symbols"
)

// Feed identifies the kind of upstream channel a Subscription addresses.
type Feed uint8

const (
	FeedAggregateTrade Feed = iota + 1
	FeedTrade
	FeedCandlestick
	FeedMiniTicker
	FeedMiniTickerAll
	FeedTicker
	FeedTickerAll
	FeedPartialDepth
	FeedDiffDepth
	FeedOrderBook
	FeedUserData
)

var feedNames = map[Feed]string{
	FeedAggregateTrade: "aggTrade",
	FeedTrade:          "trade",
	FeedCandlestick:    "kline",
	FeedMiniTicker:     "miniTicker",
	FeedMiniTickerAll:  "miniTickerAll",
	FeedTicker:         "ticker",
	FeedTickerAll:      "tickerAll",
	FeedPartialDepth:   "depth",
	FeedDiffDepth:      "diffDepth",
	FeedOrderBook:      "orderBook",
	FeedUserData:       "userData",
}

func (f Feed) String() string {
	if name, ok := feedNames[f]; ok {
		return name
	}
	return "feed(" + strconv.Itoa(int(f)) + ")"
}

// Subscription describes one logical upstream feed. It is an immutable,
// comparable value: two subscriptions built from the same constructor and
// arguments are == and can be used as map keys.
type Subscription struct {
	feed      Feed
	symbol    string
	interval  string
	depth     int
	listenKey string
}

func AggregateTrade(symbol string) Subscription {
	return Subscription{feed: FeedAggregateTrade, symbol: symbols.Normalize(symbol)}
}

func Trade(symbol string) Subscription {
	return Subscription{feed: FeedTrade, symbol: symbols.Normalize(symbol)}
}

// Candlestick subscribes to klines of the given interval ("1m", "1h", ...).
func Candlestick(symbol, interval string) Subscription {
	return Subscription{feed: FeedCandlestick, symbol: symbols.Normalize(symbol), interval: interval}
}

func MiniTicker(symbol string) Subscription {
	return Subscription{feed: FeedMiniTicker, symbol: symbols.Normalize(symbol)}
}

// MiniTickerAll subscribes to the mini tickers of every symbol.
func MiniTickerAll() Subscription {
	return Subscription{feed: FeedMiniTickerAll}
}

func Ticker(symbol string) Subscription {
	return Subscription{feed: FeedTicker, symbol: symbols.Normalize(symbol)}
}

// TickerAll subscribes to the 24h tickers of every symbol.
func TickerAll() Subscription {
	return Subscription{feed: FeedTickerAll}
}

// PartialDepth subscribes to the top depth levels of a book.
func PartialDepth(symbol string, depth int) Subscription {
	return Subscription{feed: FeedPartialDepth, symbol: symbols.Normalize(symbol), depth: depth}
}

func DiffDepth(symbol string) Subscription {
	return Subscription{feed: FeedDiffDepth, symbol: symbols.Normalize(symbol)}
}

// OrderBook subscribes to book snapshots of the given depth. It addresses
// the same upstream path as PartialDepth but decodes into models.OrderBook.
func OrderBook(symbol string, depth int) Subscription {
	return Subscription{feed: FeedOrderBook, symbol: symbols.Normalize(symbol), depth: depth}
}

// UserData subscribes to the account feed addressed by a listen key.
func UserData(listenKey string) Subscription {
	return Subscription{feed: FeedUserData, listenKey: listenKey}
}

func (s Subscription) Feed() Feed        { return s.feed }
func (s Subscription) Symbol() string    { return s.symbol }
func (s Subscription) Interval() string  { return s.interval }
func (s Subscription) Depth() int        { return s.depth }
func (s Subscription) ListenKey() string { return s.listenKey }

// Path returns the stream path appended to the base endpoint.
func (s Subscription) Path() string {
	sym := strings.ToLower(s.symbol)
	switch s.feed {
	case FeedAggregateTrade:
		return sym + "@aggTrade"
	case FeedTrade:
		return sym + "@trade"
	case FeedCandlestick:
		return sym + "@kline_" + s.interval
	case FeedMiniTicker:
		return sym + "@miniTicker"
	case FeedMiniTickerAll:
		return "!miniTicker@arr"
	case FeedTicker:
		return sym + "@ticker"
	case FeedTickerAll:
		return "!ticker@arr"
	case FeedPartialDepth, FeedOrderBook:
		return sym + "@depth" + strconv.Itoa(s.depth)
	case FeedDiffDepth:
		return sym + "@depth"
	case FeedUserData:
		return s.listenKey
	default:
		return ""
	}
}

// Validate reports whether the subscription addresses a real stream. The
// zero Subscription and depth feeds built with a non-positive depth fail.
func (s Subscription) Validate() error {
	if _, ok := feedNames[s.feed]; !ok {
		return fmt.Errorf("%w: unknown feed %d", ErrInvalidSubscription, s.feed)
	}
	switch s.feed {
	case FeedMiniTickerAll, FeedTickerAll:
	case FeedUserData:
		if s.listenKey == "" {
			return fmt.Errorf("%w: %s needs a listen key", ErrInvalidSubscription, s.feed)
		}
	default:
		if s.symbol == "" {
			return fmt.Errorf("%w: %s needs a symbol", ErrInvalidSubscription, s.feed)
		}
	}
	switch s.feed {
	case FeedCandlestick:
		if s.interval == "" {
			return fmt.Errorf("%w: %s needs an interval", ErrInvalidSubscription, s)
		}
	case FeedPartialDepth, FeedOrderBook:
		if s.depth <= 0 {
			return fmt.Errorf("%w: %s depth must be positive", ErrInvalidSubscription, s)
		}
	}
	if s.Path() == "" {
		return fmt.Errorf("%w: %s has no stream path", ErrInvalidSubscription, s)
	}
	return nil
}

// String renders the subscription for logs. Listen keys are masked.
func (s Subscription) String() string {
	switch s.feed {
	case FeedMiniTickerAll, FeedTickerAll:
		return s.feed.String()
	case FeedCandlestick:
		return fmt.Sprintf("%s(%s,%s)", s.feed, s.symbol, s.interval)
	case FeedPartialDepth, FeedOrderBook:
		return fmt.Sprintf("%s(%s,%d)", s.feed, s.symbol, s.depth)
	case FeedUserData:
		return fmt.Sprintf("%s(%s)", s.feed, maskKey(s.listenKey))
	default:
		return fmt.Sprintf("%s(%s)", s.feed, s.symbol)
	}
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// ParseSubscription builds a Subscription from its configuration form,
// "<feed>[:<arg>...]", for example "trade:ETHBTC", "kline:ETHBTC:1m",
// "depth:BNBBTC:5", "tickerAll" or "userData:<listen key>".
func ParseSubscription(text string) (Subscription, error) {
	parts := strings.Split(strings.TrimSpace(text), ":")
	name := strings.ToLower(parts[0])
	args := parts[1:]

	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("subscription %q: %s takes %d argument(s), got %d", text, parts[0], n, len(args))
		}
		for _, a := range args {
			if strings.TrimSpace(a) == "" {
				return fmt.Errorf("subscription %q: empty argument", text)
			}
		}
		return nil
	}
	depthArg := func() (int, error) {
		depth, err := strconv.Atoi(args[1])
		if err != nil || depth <= 0 {
			return 0, fmt.Errorf("subscription %q: depth must be a positive integer", text)
		}
		return depth, nil
	}

	switch name {
	case "aggtrade":
		if err := need(1); err != nil {
			return Subscription{}, err
		}
		return AggregateTrade(args[0]), nil
	case "trade":
		if err := need(1); err != nil {
			return Subscription{}, err
		}
		return Trade(args[0]), nil
	case "kline", "candlestick":
		if err := need(2); err != nil {
			return Subscription{}, err
		}
		return Candlestick(args[0], args[1]), nil
	case "miniticker":
		if err := need(1); err != nil {
			return Subscription{}, err
		}
		return MiniTicker(args[0]), nil
	case "minitickerall":
		if err := need(0); err != nil {
			return Subscription{}, err
		}
		return MiniTickerAll(), nil
	case "ticker":
		if err := need(1); err != nil {
			return Subscription{}, err
		}
		return Ticker(args[0]), nil
	case "tickerall":
		if err := need(0); err != nil {
			return Subscription{}, err
		}
		return TickerAll(), nil
	case "depth", "partialdepth":
		if err := need(2); err != nil {
			return Subscription{}, err
		}
		depth, err := depthArg()
		if err != nil {
			return Subscription{}, err
		}
		return PartialDepth(args[0], depth), nil
	case "diffdepth":
		if err := need(1); err != nil {
			return Subscription{}, err
		}
		return DiffDepth(args[0]), nil
	case "orderbook":
		if err := need(2); err != nil {
			return Subscription{}, err
		}
		depth, err := depthArg()
		if err != nil {
			return Subscription{}, err
		}
		return OrderBook(args[0], depth), nil
	case "userdata":
		if err := need(1); err != nil {
			return Subscription{}, err
		}
		return UserData(args[0]), nil
	default:
		return Subscription{}, fmt.Errorf("subscription %q: unknown feed %q", text, parts[0])
	}
}
