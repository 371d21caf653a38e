package repo

import (
	"context"
	"time"

	"github.com/go-orz/orz"
	"github.com/hollisward/kestrel/internal/models"
	"gorm.io/gorm"
)

func NewAlertConfigRepo(db *gorm.DB) *AlertConfigRepo {
	return &AlertConfigRepo{
		Repository: orz.NewRepository[models.AlertConfig, string](db),
	}
}

type AlertConfigRepo struct {
	orz.Repository[models.AlertConfig, string]
}

// FindActive returns all active, non-expired alert configs.
func (r AlertConfigRepo) FindActive(ctx context.Context, now time.Time) ([]models.AlertConfig, error) {
	var alerts []models.AlertConfig
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("is_active = ? AND (expires_at IS NULL OR expires_at > ?)", true, now).
		Order("symbol ASC").
		Find(&alerts).Error
	return alerts, err
}

// IncrementTriggerCount bumps the firing counter for one alert.
func (r AlertConfigRepo) IncrementTriggerCount(ctx context.Context, id string) error {
	db := r.GetDB(ctx)
	return db.Table(r.GetTableName()).
		Where("id = ?", id).
		UpdateColumn("trigger_count", gorm.Expr("trigger_count + 1")).Error
}

// UpdateThreshold writes an adapted threshold for one alert.
func (r AlertConfigRepo) UpdateThreshold(ctx context.Context, id string, threshold float64) error {
	db := r.GetDB(ctx)
	return db.Table(r.GetTableName()).
		Where("id = ?", id).
		Update("threshold", threshold).Error
}
