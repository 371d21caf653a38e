package models

import "time"

// Portfolio is an advisory account the dispatcher schedules sessions for.
type Portfolio struct {
	ID        string    `gorm:"primaryKey;type:varchar(26)" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Symbols   string    `gorm:"type:varchar(500)" json:"symbols"` // comma separated watchlist
	IsActive  bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Portfolio) TableName() string {
	return "portfolios"
}

// Position is one holding inside a portfolio, revalued against the live feed
// when a summary is built.
type Position struct {
	ID          string    `gorm:"primaryKey;type:varchar(26)" json:"id"`
	PortfolioID string    `gorm:"type:varchar(26);not null;index" json:"portfolio_id"`
	Symbol      string    `gorm:"type:varchar(20);not null;index" json:"symbol"`
	Quantity    float64   `gorm:"not null" json:"quantity"`
	EntryPrice  float64   `gorm:"not null" json:"entry_price"`
	OpenedAt    time.Time `gorm:"not null" json:"opened_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// MarketValue is the position's value at the given price.
func (p *Position) MarketValue(currentPrice float64) float64 {
	return p.Quantity * currentPrice
}
