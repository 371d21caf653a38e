package models

import "time"

// Alert condition types.
const (
	AlertPercentageUp   = "percentage_up"
	AlertPercentageDown = "percentage_down"
	AlertPriceTarget    = "price_target"
)

// AlertConfig is one monitored threshold condition. The alert engine owns
// TriggerCount and the adaptive Threshold; everything else is written by
// setup logic outside the engine.
type AlertConfig struct {
	ID            string     `gorm:"primaryKey;type:varchar(26)" json:"id"`
	Symbol        string     `gorm:"type:varchar(20);not null;index" json:"symbol"`
	AlertType     string     `gorm:"type:varchar(20);not null" json:"alert_type"` // percentage_up/percentage_down/price_target
	Threshold     float64    `gorm:"not null" json:"threshold"`
	BaseThreshold float64    `json:"base_threshold"` // anchor for volatility adaptation
	PortfolioID   string     `gorm:"type:varchar(26);index" json:"portfolio_id,omitempty"`
	IsActive      bool       `gorm:"default:true;index" json:"is_active"`
	TriggerCount  int        `gorm:"default:0" json:"trigger_count"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AlertConfig) TableName() string {
	return "alert_configs"
}

// Expired reports whether the alert has an expiry in the past.
func (a *AlertConfig) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}
