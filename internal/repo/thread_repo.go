package repo

import (
	"context"
	"time"

	"github.com/go-orz/orz"
	"github.com/hollisward/kestrel/internal/models"
	"gorm.io/gorm"
)

func NewThreadRepo(db *gorm.DB) *ThreadRepo {
	return &ThreadRepo{
		Repository: orz.NewRepository[models.ConversationThread, string](db),
	}
}

type ThreadRepo struct {
	orz.Repository[models.ConversationThread, string]
}

// FindRecentByPortfolio returns the newest threads for a portfolio created
// after since, newest first, capped at limit.
func (r ThreadRepo) FindRecentByPortfolio(ctx context.Context, portfolioID string, since time.Time, limit int) ([]models.ConversationThread, error) {
	var threads []models.ConversationThread
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("portfolio_id = ? AND created_at >= ?", portfolioID, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&threads).Error
	return threads, err
}

// CountByPortfolio returns the number of stored threads for a portfolio.
func (r ThreadRepo) CountByPortfolio(ctx context.Context, portfolioID string) (int64, error) {
	var count int64
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("portfolio_id = ?", portfolioID).
		Count(&count).Error
	return count, err
}
