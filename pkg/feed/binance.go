package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

// BinanceFeed serves price data from the Binance futures API.
type BinanceFeed struct {
	client *futures.Client
}

// NewBinanceFeed creates a Binance-backed price feed.
func NewBinanceFeed(apiKey, secretKey, proxyURL string, testnet bool) *BinanceFeed {
	var client *futures.Client
	if proxyURL != "" {
		client = futures.NewProxiedClient(apiKey, secretKey, proxyURL)
	} else {
		client = futures.NewClient(apiKey, secretKey)
	}

	if testnet {
		futures.UseTestnet = true
	}

	return &BinanceFeed{client: client}
}

// GetPriceData returns the 24h ticker snapshot for a symbol.
func (b *BinanceFeed) GetPriceData(ctx context.Context, symbol string) (*PriceData, error) {
	stats, err := b.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get price stats: %w", err)
	}

	if len(stats) == 0 {
		return nil, fmt.Errorf("no price data for symbol %s", symbol)
	}

	s := stats[0]
	currentPrice, _ := strconv.ParseFloat(s.LastPrice, 64)
	previousPrice, _ := strconv.ParseFloat(s.OpenPrice, 64)
	percentChange, _ := strconv.ParseFloat(s.PriceChangePercent, 64)
	volume, _ := strconv.ParseFloat(s.Volume, 64)

	return &PriceData{
		Symbol:           symbol,
		CurrentPrice:     currentPrice,
		PreviousPrice:    previousPrice,
		PercentageChange: percentChange,
		Volume:           volume,
		MarketHours:      true,
	}, nil
}

// GetKlines returns OHLCV candles for a symbol.
func (b *BinanceFeed) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*Kline, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", err)
	}

	result := make([]*Kline, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		result = append(result, &Kline{
			OpenTime:  time.Unix(k.OpenTime/1000, 0),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: time.Unix(k.CloseTime/1000, 0),
		})
	}

	return result, nil
}

// MarketOpen reports whether the feed is usable. Binance perpetual futures
// trade around the clock, so this degrades to a connectivity check.
func (b *BinanceFeed) MarketOpen(ctx context.Context) (bool, error) {
	if err := b.client.NewPingService().Do(ctx); err != nil {
		return false, fmt.Errorf("market data source unreachable: %w", err)
	}
	return true, nil
}
