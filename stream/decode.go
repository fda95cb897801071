package stream

import (
	"errors"
	"fmt"

	"cryptostream/models"
)

// Decode maps a raw frame read for sub to a typed event. Binary and
// control frames are passed through; text frames are decoded with the
// schema of the subscription's feed.
func Decode(sub Subscription, frame Frame) (models.Event, error) {
	switch frame.Type {
	case BinaryFrame:
		return models.Binary{Data: frame.Data}, nil
	case PingFrame:
		return models.Ping{Payload: frame.Data}, nil
	case PongFrame:
		return models.Pong{Payload: frame.Data}, nil
	case TextFrame:
	default:
		return nil, &DecodeError{Subscription: sub, Payload: frame.Data, Err: fmt.Errorf("unsupported frame type %s", frame.Type)}
	}

	ev, err := decodeText(sub.feed, frame.Data)
	if err != nil {
		return nil, &DecodeError{Subscription: sub, Payload: frame.Data, Err: err}
	}
	return ev, nil
}

func decodeText(feed Feed, data []byte) (models.Event, error) {
	switch feed {
	case FeedAggregateTrade:
		return decodeAs[models.AggregateTrade](data)
	case FeedTrade:
		return decodeAs[models.Trade](data)
	case FeedCandlestick:
		return decodeAs[models.Kline](data)
	case FeedMiniTicker:
		return decodeAs[models.MiniTicker](data)
	case FeedMiniTickerAll:
		return decodeAs[models.MiniTickers](data)
	case FeedTicker:
		return decodeAs[models.Ticker](data)
	case FeedTickerAll:
		return decodeAs[models.Tickers](data)
	case FeedPartialDepth:
		return decodeAs[models.PartialDepth](data)
	case FeedDiffDepth:
		return decodeAs[models.DiffDepth](data)
	case FeedOrderBook:
		return decodeAs[models.OrderBook](data)
	case FeedUserData:
		return decodeUserData(data)
	default:
		return nil, fmt.Errorf("unknown feed %s", feed)
	}
}

// decodeUserData tries the account update schema first and falls back to
// the order update schema. The wire format carries no tag to tell them
// apart.
func decodeUserData(data []byte) (models.Event, error) {
	account, accountErr := decodeAs[models.AccountUpdate](data)
	if accountErr == nil {
		return account, nil
	}
	order, orderErr := decodeAs[models.OrderUpdate](data)
	if orderErr == nil {
		return order, nil
	}
	return nil, errors.Join(
		fmt.Errorf("not an account update: %w", accountErr),
		fmt.Errorf("not an order update: %w", orderErr),
	)
}

func decodeAs[T models.Event](data []byte) (models.Event, error) {
	var ev T
	if err := unmarshalStrict(data, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}
