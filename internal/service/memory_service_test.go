package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hollisward/kestrel/internal/models"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		change float64
		want   string
	}{
		{2.5, TrendStrongPositive},
		{2.0, TrendPositive},
		{0.6, TrendPositive},
		{0.5, TrendNeutral},
		{0.3, TrendNeutral},
		{0.0, TrendNeutral},
		{-0.5, TrendNeutral},
		{-0.6, TrendNegative},
		{-2.0, TrendNegative},
		{-3.0, TrendStrongNegative},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f", tt.change), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTrend(tt.change))
		})
	}
}

func newTestMemoryService(t *testing.T) (*MemoryService, *fakeFeed, *gorm.DB, *models.Portfolio) {
	t.Helper()

	db := newTestDB(t)
	priceFeed := newFakeFeed()
	priceFeed.setPrice("BTCUSDT", 50000, 49000, 1.0)

	portfolios := newTestPortfolioService(db, priceFeed)
	memory := NewMemoryService(db, portfolios, testConfig(), zap.NewNop())
	portfolio := seedPortfolio(t, db, "growth",
		models.Position{Symbol: "BTCUSDT", Quantity: 0.5, EntryPrice: 40000})
	return memory, priceFeed, db, portfolio
}

func storedThread(portfolioID string, age time.Duration) *models.ConversationThread {
	return &models.ConversationThread{
		ID:          ulid.Make().String(),
		PortfolioID: portfolioID,
		Kind:        models.ThreadKindDaily,
		CreatedAt:   time.Now().Add(-age),
	}
}

func storedDecision(portfolioID string, age time.Duration) *models.TradingDecision {
	return &models.TradingDecision{
		ID:          ulid.Make().String(),
		PortfolioID: portfolioID,
		Symbol:      "BTCUSDT",
		Action:      models.ActionBuy,
		DecidedAt:   time.Now().Add(-age),
	}
}

func TestMemoryService_LoadMemoryEmptyHistory(t *testing.T) {
	memory, _, _, portfolio := newTestMemoryService(t)

	ctx := context.Background()
	loaded, err := memory.LoadMemory(ctx, portfolio.ID, 7)
	require.NoError(t, err)

	assert.Empty(t, loaded.RecentThreads)
	assert.Empty(t, loaded.RecentDecisions)
	assert.Empty(t, loaded.RiskAlerts)
	assert.Equal(t, TrendPositive, loaded.PerformanceTrend)
	require.NotNil(t, loaded.Summary)
	assert.InDelta(t, 25000, loaded.Summary.TotalValue, 1e-9)
}

func TestMemoryService_LoadMemoryIsBounded(t *testing.T) {
	memory, _, _, portfolio := newTestMemoryService(t)
	ctx := context.Background()

	// Well over the context bounds, all inside the window.
	for i := 0; i < 12; i++ {
		require.NoError(t, memory.StoreThread(ctx, storedThread(portfolio.ID, time.Duration(i)*time.Hour)))
		require.NoError(t, memory.RecordDecision(ctx, storedDecision(portfolio.ID, time.Duration(i)*time.Hour)))
	}

	loaded, err := memory.LoadMemory(ctx, portfolio.ID, 7)
	require.NoError(t, err)

	assert.Len(t, loaded.RecentThreads, 5)
	assert.Len(t, loaded.RecentDecisions, 3)
}

func TestMemoryService_LoadMemoryWindowExcludesOldEntries(t *testing.T) {
	memory, _, _, portfolio := newTestMemoryService(t)
	ctx := context.Background()

	require.NoError(t, memory.StoreThread(ctx, storedThread(portfolio.ID, time.Hour)))
	require.NoError(t, memory.StoreThread(ctx, storedThread(portfolio.ID, 10*24*time.Hour)))
	require.NoError(t, memory.RecordDecision(ctx, storedDecision(portfolio.ID, 10*24*time.Hour)))

	loaded, err := memory.LoadMemory(ctx, portfolio.ID, 7)
	require.NoError(t, err)

	assert.Len(t, loaded.RecentThreads, 1)
	assert.Empty(t, loaded.RecentDecisions)
}

func TestMemoryService_LoadMemoryNewestFirst(t *testing.T) {
	memory, _, _, portfolio := newTestMemoryService(t)
	ctx := context.Background()

	oldest := storedThread(portfolio.ID, 48*time.Hour)
	newest := storedThread(portfolio.ID, time.Hour)
	require.NoError(t, memory.StoreThread(ctx, oldest))
	require.NoError(t, memory.StoreThread(ctx, newest))

	loaded, err := memory.LoadMemory(ctx, portfolio.ID, 7)
	require.NoError(t, err)

	require.Len(t, loaded.RecentThreads, 2)
	assert.Equal(t, newest.ID, loaded.RecentThreads[0].ID)
	assert.Equal(t, oldest.ID, loaded.RecentThreads[1].ID)
}

func TestMemoryService_MemoryIsPerPortfolio(t *testing.T) {
	memory, priceFeed, db, portfolio := newTestMemoryService(t)
	ctx := context.Background()

	other := seedPortfolio(t, db, "other")
	priceFeed.setPrice("ETHUSDT", 3000, 2900, 0.2)

	require.NoError(t, memory.StoreThread(ctx, storedThread(portfolio.ID, time.Hour)))

	loaded, err := memory.LoadMemory(ctx, other.ID, 7)
	require.NoError(t, err)
	assert.Empty(t, loaded.RecentThreads)
}

func TestMemoryService_ConcurrentStoresAllPersist(t *testing.T) {
	memory, _, _, portfolio := newTestMemoryService(t)
	ctx := context.Background()

	const writers = 8
	done := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			done <- memory.StoreThread(ctx, storedThread(portfolio.ID, time.Hour))
		}()
	}
	for i := 0; i < writers; i++ {
		require.NoError(t, <-done)
	}

	count, err := memory.CountByPortfolio(ctx, portfolio.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(writers), count)
}
