package repo

import (
	"context"
	"time"

	"github.com/go-orz/orz"
	"github.com/hollisward/kestrel/internal/models"
	"gorm.io/gorm"
)

func NewAlertTriggerRepo(db *gorm.DB) *AlertTriggerRepo {
	return &AlertTriggerRepo{
		Repository: orz.NewRepository[models.AlertTrigger, string](db),
	}
}

type AlertTriggerRepo struct {
	orz.Repository[models.AlertTrigger, string]
}

// FindRecent returns the newest triggers, newest first.
func (r AlertTriggerRepo) FindRecent(ctx context.Context, limit int) ([]models.AlertTrigger, error) {
	var triggers []models.AlertTrigger
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Order("triggered_at DESC").
		Limit(limit).
		Find(&triggers).Error
	return triggers, err
}

// FindSinceByPortfolio returns triggers for a portfolio fired after since.
// Used to surface still-open risk alerts into session context.
func (r AlertTriggerRepo) FindSinceByPortfolio(ctx context.Context, portfolioID string, since time.Time) ([]models.AlertTrigger, error) {
	var triggers []models.AlertTrigger
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("portfolio_id = ? AND triggered_at >= ?", portfolioID, since).
		Order("triggered_at DESC").
		Find(&triggers).Error
	return triggers, err
}
