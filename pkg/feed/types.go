package feed

import "time"

// PriceData is a point-in-time snapshot of a symbol's market state.
// PreviousPrice is the reference price the percentage change is measured
// against (the 24h open for the Binance feed).
type PriceData struct {
	Symbol           string  `json:"symbol"`
	CurrentPrice     float64 `json:"current_price"`
	PreviousPrice    float64 `json:"previous_price"`
	PercentageChange float64 `json:"percentage_change"`
	Volume           float64 `json:"volume"`
	MarketHours      bool    `json:"market_hours"`
}

// Kline is one candle of OHLCV data.
type Kline struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}
