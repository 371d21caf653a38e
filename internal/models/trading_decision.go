package models

import "time"

// Decision actions and outcomes.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"

	OutcomePending = "pending"
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// TradingDecision is one decision produced by an advisor session. Identity
// is immutable; only Outcome may be updated later by external settlement.
type TradingDecision struct {
	ID          string    `gorm:"primaryKey;type:varchar(26)" json:"id"`
	PortfolioID string    `gorm:"type:varchar(26);not null;index" json:"portfolio_id"`
	ThreadID    string    `gorm:"type:varchar(26);index" json:"thread_id"`
	Symbol      string    `gorm:"type:varchar(20);index" json:"symbol"`
	Action      string    `gorm:"type:varchar(10);not null" json:"action"` // buy/sell/hold
	Quantity    float64   `json:"quantity,omitempty"`
	Price       float64   `json:"price,omitempty"`
	Reasoning   string    `json:"reasoning"`
	Confidence  float64   `json:"confidence"` // [0,1]
	Executed    bool      `json:"executed"`
	Outcome     string    `gorm:"type:varchar(10);default:pending" json:"outcome"`
	DecidedAt   time.Time `gorm:"not null;index" json:"decided_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TradingDecision) TableName() string {
	return "trading_decisions"
}
