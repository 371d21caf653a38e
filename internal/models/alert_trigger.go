package models

import "time"

// AlertTrigger is the write-once record of one alert firing.
type AlertTrigger struct {
	ID             string    `gorm:"primaryKey;type:varchar(26)" json:"id"`
	AlertID        string    `gorm:"type:varchar(26);not null;index" json:"alert_id"`
	Symbol         string    `gorm:"type:varchar(20);not null;index" json:"symbol"`
	AlertType      string    `gorm:"type:varchar(20);not null" json:"alert_type"`
	Threshold      float64   `json:"threshold"`
	ObservedChange float64   `json:"observed_change"`
	CurrentPrice   float64   `json:"current_price"`
	PortfolioID    string    `gorm:"type:varchar(26);index" json:"portfolio_id,omitempty"`
	TriggeredAt    time.Time `gorm:"not null;index" json:"triggered_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AlertTrigger) TableName() string {
	return "alert_triggers"
}
