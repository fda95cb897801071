package rest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"

	appconfig "cryptostream/config"
	"cryptostream/logger"
	"cryptostream/models"
)

// SymbolInfo is the part of an exchange-info symbol entry the pipeline uses.
type SymbolInfo struct {
	Symbol     string
	Status     string
	BaseAsset  string
	QuoteAsset string
}

// Client is the REST side of the exchange: market snapshots, account data
// and the listen key lifecycle of the user data stream.
type Client struct {
	client *binance.Client
	log    *logger.Log
}

// NewClient builds a client for cfg.BaseURL. Signed endpoints need
// APIKey and APISecret; the user stream endpoints only need APIKey.
func NewClient(cfg appconfig.RestConfig) *Client {
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}

	log := logger.GetLogger()
	log.WithComponent("rest_client").WithFields(logger.Fields{
		"base_url": client.BaseURL,
		"timeout":  timeout.String(),
		"signed":   cfg.APISecret != "",
	}).Info("rest client initialized")

	return &Client{client: client, log: log}
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// ServerTime returns the exchange clock in milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	t, err := c.client.NewServerTimeService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("server time: %w", err)
	}
	return t, nil
}

// ExchangeInfo lists trading symbols, restricted to symbols when given.
func (c *Client) ExchangeInfo(ctx context.Context, symbols ...string) ([]SymbolInfo, error) {
	svc := c.client.NewExchangeInfoService()
	if len(symbols) > 0 {
		svc = svc.Symbols(symbols...)
	}
	info, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}
	out := make([]SymbolInfo, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		out = append(out, SymbolInfo{
			Symbol:     s.Symbol,
			Status:     s.Status,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		})
	}
	return out, nil
}

// Depth fetches an order book snapshot with at most limit levels per side.
func (c *Client) Depth(ctx context.Context, symbol string, limit int) (models.OrderBook, error) {
	log := c.log.WithComponent("rest_client").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "depth",
	})

	start := time.Now()
	res, err := c.client.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return models.OrderBook{}, fmt.Errorf("depth %s: %w", symbol, err)
	}
	logger.LogPerformanceEntry(log, "rest_client", "api_request", time.Since(start), logger.Fields{"symbol": symbol})

	book := models.OrderBook{LastUpdateID: res.LastUpdateID}
	for _, b := range res.Bids {
		level, err := priceLevel(b.Price, b.Quantity)
		if err != nil {
			return models.OrderBook{}, fmt.Errorf("depth %s bid: %w", symbol, err)
		}
		book.Bids = append(book.Bids, level)
	}
	for _, a := range res.Asks {
		level, err := priceLevel(a.Price, a.Quantity)
		if err != nil {
			return models.OrderBook{}, fmt.Errorf("depth %s ask: %w", symbol, err)
		}
		book.Asks = append(book.Asks, level)
	}
	return book, nil
}

// Klines fetches historical candles. limit <= 0 uses the exchange default.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]models.KlineData, error) {
	svc := c.client.NewKlinesService().Symbol(symbol).Interval(interval)
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}

	out := make([]models.KlineData, 0, len(res))
	for _, k := range res {
		var kd models.KlineData
		kd.StartTime = k.OpenTime
		kd.CloseTime = k.CloseTime
		kd.Symbol = symbol
		kd.Interval = interval
		kd.TradeCount = k.TradeNum
		kd.IsClosed = true
		fields := []struct {
			dst *models.Decimal
			src string
		}{
			{&kd.Open, k.Open},
			{&kd.High, k.High},
			{&kd.Low, k.Low},
			{&kd.Close, k.Close},
			{&kd.BaseVolume, k.Volume},
			{&kd.QuoteVolume, k.QuoteAssetVolume},
			{&kd.TakerBuyBaseVolume, k.TakerBuyBaseAssetVolume},
			{&kd.TakerBuyQuoteVolume, k.TakerBuyQuoteAssetVolume},
		}
		for _, f := range fields {
			d, err := models.NewDecimal(f.src)
			if err != nil {
				return nil, fmt.Errorf("klines %s: %w", symbol, err)
			}
			*f.dst = d
		}
		out = append(out, kd)
	}
	return out, nil
}

// Prices returns the latest price per symbol; all symbols when symbol is
// empty.
func (c *Client) Prices(ctx context.Context, symbol string) (map[string]models.Decimal, error) {
	svc := c.client.NewListPricesService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("prices: %w", err)
	}
	out := make(map[string]models.Decimal, len(res))
	for _, p := range res {
		d, err := models.NewDecimal(p.Price)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", p.Symbol, err)
		}
		out[p.Symbol] = d
	}
	return out, nil
}

// Account fetches the signed account snapshot.
func (c *Client) Account(ctx context.Context) (models.AccountInfo, error) {
	res, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return models.AccountInfo{}, fmt.Errorf("account: %w", err)
	}
	info := models.AccountInfo{
		MakerCommission:  res.MakerCommission,
		TakerCommission:  res.TakerCommission,
		BuyerCommission:  res.BuyerCommission,
		SellerCommission: res.SellerCommission,
		CanTrade:         res.CanTrade,
		CanWithdraw:      res.CanWithdraw,
		CanDeposit:       res.CanDeposit,
	}
	for _, b := range res.Balances {
		free, err := models.NewDecimal(b.Free)
		if err != nil {
			return models.AccountInfo{}, fmt.Errorf("balance %s: %w", b.Asset, err)
		}
		locked, err := models.NewDecimal(b.Locked)
		if err != nil {
			return models.AccountInfo{}, fmt.Errorf("balance %s: %w", b.Asset, err)
		}
		info.Balances = append(info.Balances, models.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return info, nil
}

// StartUserStream obtains a listen key for stream.UserData.
func (c *Client) StartUserStream(ctx context.Context) (string, error) {
	key, err := c.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", fmt.Errorf("start user stream: %w", err)
	}
	c.log.WithComponent("user_stream").Info("listen key obtained")
	return key, nil
}

func (c *Client) KeepaliveUserStream(ctx context.Context, listenKey string) error {
	if err := c.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
		return fmt.Errorf("keepalive user stream: %w", err)
	}
	return nil
}

func (c *Client) CloseUserStream(ctx context.Context, listenKey string) error {
	if err := c.client.NewCloseUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
		return fmt.Errorf("close user stream: %w", err)
	}
	c.log.WithComponent("user_stream").Info("listen key closed")
	return nil
}

func priceLevel(price, qty string) (models.PriceLevel, error) {
	p, err := models.NewDecimal(price)
	if err != nil {
		return models.PriceLevel{}, err
	}
	q, err := models.NewDecimal(qty)
	if err != nil {
		return models.PriceLevel{}, err
	}
	return models.PriceLevel{Price: p, Quantity: q}, nil
}
