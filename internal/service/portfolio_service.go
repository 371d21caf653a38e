package service

import (
	"context"
	"fmt"

	"github.com/go-orz/orz"
	"github.com/hollisward/kestrel/internal/models"
	"github.com/hollisward/kestrel/internal/repo"
	"github.com/hollisward/kestrel/pkg/feed"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PortfolioProvider is what the decision core needs to know about
// portfolios. The session loop and memory store depend on this interface,
// never on the concrete service, so tests can substitute an in-memory fake.
type PortfolioProvider interface {
	ActivePortfolios(ctx context.Context) ([]models.Portfolio, error)
	FindPortfolio(ctx context.Context, portfolioID string) (*models.Portfolio, error)
	PortfolioSummary(ctx context.Context, portfolioID string) (*PortfolioSummary, error)
}

// PositionSummary is one holding revalued at live prices.
type PositionSummary struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	MarketValue  float64 `json:"market_value"`
	DayChangePct float64 `json:"day_change_pct"`
}

// PortfolioSummary is the live snapshot fed into sessions and tools.
type PortfolioSummary struct {
	PortfolioID  string            `json:"portfolio_id"`
	Name         string            `json:"name"`
	TotalValue   float64           `json:"total_value"`
	DayChangePct float64           `json:"day_change_pct"`
	Positions    []PositionSummary `json:"positions"`
}

// PortfolioService backs PortfolioProvider with stored portfolios and the
// live price feed.
type PortfolioService struct {
	logger *zap.Logger

	*orz.Service
	*repo.PortfolioRepo
	*repo.PositionRepo

	priceFeed feed.PriceFeed
}

func NewPortfolioService(db *gorm.DB, priceFeed feed.PriceFeed, logger *zap.Logger) *PortfolioService {
	return &PortfolioService{
		logger:        logger,
		Service:       orz.NewService(db),
		PortfolioRepo: repo.NewPortfolioRepo(db),
		PositionRepo:  repo.NewPositionRepo(db),
		priceFeed:     priceFeed,
	}
}

var _ PortfolioProvider = (*PortfolioService)(nil)

// ActivePortfolios returns every portfolio the dispatcher should serve.
func (s *PortfolioService) ActivePortfolios(ctx context.Context) ([]models.Portfolio, error) {
	return s.PortfolioRepo.FindActive(ctx)
}

// EnsureDefault seeds a starter portfolio on first boot so the scheduler
// has something to serve.
func (s *PortfolioService) EnsureDefault(ctx context.Context) error {
	portfolios, err := s.PortfolioRepo.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list portfolios: %w", err)
	}
	if len(portfolios) > 0 {
		return nil
	}

	portfolio := &models.Portfolio{
		ID:       ulid.Make().String(),
		Name:     "default",
		Symbols:  "BTCUSDT,ETHUSDT",
		IsActive: true,
	}
	if err := s.PortfolioRepo.Create(ctx, portfolio); err != nil {
		return fmt.Errorf("failed to seed default portfolio: %w", err)
	}

	s.logger.Info("seeded default portfolio",
		zap.String("portfolio_id", portfolio.ID),
		zap.String("symbols", portfolio.Symbols))
	return nil
}

// FindPortfolio loads one portfolio by id.
func (s *PortfolioService) FindPortfolio(ctx context.Context, portfolioID string) (*models.Portfolio, error) {
	portfolio, err := s.PortfolioRepo.FindById(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to find portfolio %s: %w", portfolioID, err)
	}
	return &portfolio, nil
}

// PortfolioSummary revalues a portfolio's positions against the feed.
// The portfolio day change is the value-weighted average of per-symbol
// 24h changes; a feed failure for one symbol falls back to entry price
// and is logged, not fatal.
func (s *PortfolioService) PortfolioSummary(ctx context.Context, portfolioID string) (*PortfolioSummary, error) {
	portfolio, err := s.PortfolioRepo.FindById(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to find portfolio %s: %w", portfolioID, err)
	}

	positions, err := s.PositionRepo.FindByPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	summary := &PortfolioSummary{
		PortfolioID: portfolio.ID,
		Name:        portfolio.Name,
		Positions:   make([]PositionSummary, 0, len(positions)),
	}

	var weightedChange float64
	for _, pos := range positions {
		current := pos.EntryPrice
		var dayChange float64

		data, err := s.priceFeed.GetPriceData(ctx, pos.Symbol)
		if err != nil {
			s.logger.Warn("failed to price position, using entry price",
				zap.String("symbol", pos.Symbol),
				zap.Error(err))
		} else {
			current = data.CurrentPrice
			dayChange = data.PercentageChange
		}

		value := pos.MarketValue(current)
		summary.Positions = append(summary.Positions, PositionSummary{
			Symbol:       pos.Symbol,
			Quantity:     pos.Quantity,
			EntryPrice:   pos.EntryPrice,
			CurrentPrice: current,
			MarketValue:  value,
			DayChangePct: dayChange,
		})

		summary.TotalValue += value
		weightedChange += value * dayChange
	}

	if summary.TotalValue > 0 {
		summary.DayChangePct = weightedChange / summary.TotalValue
	}

	return summary, nil
}
