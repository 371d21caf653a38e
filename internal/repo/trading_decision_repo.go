package repo

import (
	"context"
	"time"

	"github.com/go-orz/orz"
	"github.com/hollisward/kestrel/internal/models"
	"gorm.io/gorm"
)

func NewTradingDecisionRepo(db *gorm.DB) *TradingDecisionRepo {
	return &TradingDecisionRepo{
		Repository: orz.NewRepository[models.TradingDecision, string](db),
	}
}

type TradingDecisionRepo struct {
	orz.Repository[models.TradingDecision, string]
}

// FindRecentByPortfolio returns the newest decisions for a portfolio decided
// after since, newest first, capped at limit.
func (r TradingDecisionRepo) FindRecentByPortfolio(ctx context.Context, portfolioID string, since time.Time, limit int) ([]models.TradingDecision, error) {
	var decisions []models.TradingDecision
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("portfolio_id = ? AND decided_at >= ?", portfolioID, since).
		Order("decided_at DESC").
		Limit(limit).
		Find(&decisions).Error
	return decisions, err
}

// FindRecent returns the newest decisions across all portfolios.
func (r TradingDecisionRepo) FindRecent(ctx context.Context, limit int) ([]models.TradingDecision, error) {
	var decisions []models.TradingDecision
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Order("decided_at DESC").
		Limit(limit).
		Find(&decisions).Error
	return decisions, err
}
