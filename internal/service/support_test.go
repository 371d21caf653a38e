package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/hollisward/kestrel/internal/config"
	"github.com/hollisward/kestrel/internal/models"
	"github.com/hollisward/kestrel/pkg/broker"
	"github.com/hollisward/kestrel/pkg/feed"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		models.Portfolio{}, models.Position{},
		models.ConversationThread{}, models.TradingDecision{},
		models.AlertConfig{}, models.AlertTrigger{},
	))
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Advisor: config.AdvisorConf{
			MaxIterations:       25,
			RecentThreadCount:   5,
			RecentDecisionCount: 3,
			MemoryWindowDays:    7,
			CallTimeoutSeconds:  30,
		},
		Alerts: config.AlertsConf{
			BatchSize:         10,
			InterBatchDelayMs: 1,
		},
	}
}

// fakeFeed serves canned prices and klines and records failures per symbol.
type fakeFeed struct {
	mu         sync.Mutex
	prices     map[string]*feed.PriceData
	klines     map[string][]*feed.Kline
	failures   map[string]error
	marketOpen bool
	pingErr    error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		prices:     make(map[string]*feed.PriceData),
		klines:     make(map[string][]*feed.Kline),
		failures:   make(map[string]error),
		marketOpen: true,
	}
}

func (f *fakeFeed) setPrice(symbol string, current, previous, changePct float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = &feed.PriceData{
		Symbol:           symbol,
		CurrentPrice:     current,
		PreviousPrice:    previous,
		PercentageChange: changePct,
		MarketHours:      true,
	}
}

func (f *fakeFeed) GetPriceData(ctx context.Context, symbol string) (*feed.PriceData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures[symbol]; ok {
		return nil, err
	}
	data, ok := f.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no price for %s", symbol)
	}
	return data, nil
}

func (f *fakeFeed) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*feed.Kline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures[symbol]; ok {
		return nil, err
	}
	return f.klines[symbol], nil
}

func (f *fakeFeed) MarketOpen(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marketOpen, f.pingErr
}

// fakeNotifier records messages.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(ctx context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

// fakeBroker fills every order at a fixed price.
type fakeBroker struct {
	mu     sync.Mutex
	fills  []broker.OrderRequest
	price  float64
	failed error
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed != nil {
		return nil, f.failed
	}
	f.fills = append(f.fills, req)
	return &broker.OrderResult{
		OrderID:     int64(1000000 + len(f.fills)),
		Symbol:      req.Symbol,
		Side:        req.Side,
		AvgPrice:    f.price,
		ExecutedQty: req.Quantity,
		Status:      "FILLED",
	}, nil
}

func seedPortfolio(t *testing.T, db *gorm.DB, name string, positions ...models.Position) *models.Portfolio {
	t.Helper()

	portfolio := &models.Portfolio{
		ID:       ulid.Make().String(),
		Name:     name,
		Symbols:  "BTCUSDT,ETHUSDT",
		IsActive: true,
	}
	require.NoError(t, db.Create(portfolio).Error)

	for i := range positions {
		positions[i].ID = ulid.Make().String()
		positions[i].PortfolioID = portfolio.ID
		if positions[i].OpenedAt.IsZero() {
			positions[i].OpenedAt = time.Now().Add(-24 * time.Hour)
		}
		require.NoError(t, db.Create(&positions[i]).Error)
	}
	return portfolio
}

func newTestPortfolioService(db *gorm.DB, priceFeed feed.PriceFeed) *PortfolioService {
	return NewPortfolioService(db, priceFeed, zap.NewNop())
}
