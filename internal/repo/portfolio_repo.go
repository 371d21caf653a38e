package repo

import (
	"context"

	"github.com/go-orz/orz"
	"github.com/hollisward/kestrel/internal/models"
	"gorm.io/gorm"
)

func NewPortfolioRepo(db *gorm.DB) *PortfolioRepo {
	return &PortfolioRepo{
		Repository: orz.NewRepository[models.Portfolio, string](db),
	}
}

type PortfolioRepo struct {
	orz.Repository[models.Portfolio, string]
}

// FindActive returns all portfolios the dispatcher should run sessions for.
func (r PortfolioRepo) FindActive(ctx context.Context) ([]models.Portfolio, error) {
	var portfolios []models.Portfolio
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("is_active = ?", true).
		Order("name ASC").
		Find(&portfolios).Error
	return portfolios, err
}

func NewPositionRepo(db *gorm.DB) *PositionRepo {
	return &PositionRepo{
		Repository: orz.NewRepository[models.Position, string](db),
	}
}

type PositionRepo struct {
	orz.Repository[models.Position, string]
}

// FindByPortfolio returns all positions held by one portfolio.
func (r PositionRepo) FindByPortfolio(ctx context.Context, portfolioID string) ([]models.Position, error) {
	var positions []models.Position
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("portfolio_id = ?", portfolioID).
		Order("symbol ASC").
		Find(&positions).Error
	return positions, err
}
