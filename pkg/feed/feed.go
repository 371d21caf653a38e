package feed

import "context"

// PriceFeed provides live market data to the alert engine and advisor tools.
// Implementations must be safe for concurrent use; callers apply their own
// timeouts via ctx.
type PriceFeed interface {
	GetPriceData(ctx context.Context, symbol string) (*PriceData, error)
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*Kline, error)

	// MarketOpen reports whether the market is currently trading. Alert
	// cycles are skipped entirely while it returns false.
	MarketOpen(ctx context.Context) (bool, error)
}
