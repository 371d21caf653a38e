package models

import (
	"time"

	"gorm.io/datatypes"
)

// Thread kinds mirror the trigger that started the session.
const (
	ThreadKindDaily  = "daily"
	ThreadKindRisk   = "risk"
	ThreadKindEvent  = "event"
	ThreadKindManual = "manual"
)

// ConversationThread is the durable record of one advisor session.
// Threads are append-only per portfolio; rows are never updated or removed.
type ConversationThread struct {
	ID                string         `gorm:"primaryKey;type:varchar(26)" json:"id"`
	PortfolioID       string         `gorm:"type:varchar(26);not null;index" json:"portfolio_id"`
	Kind              string         `gorm:"type:varchar(10);not null" json:"kind"` // daily/risk/event/manual
	UserMessage       string         `json:"user_message"`
	ModelMessages     datatypes.JSON `gorm:"type:json" json:"model_messages"` // ordered role-tagged messages
	ActionsTaken      datatypes.JSON `gorm:"type:json" json:"actions_taken"`  // tool-call log
	MarketContext     string         `json:"market_context"`
	PortfolioSnapshot datatypes.JSON `gorm:"type:json" json:"portfolio_snapshot"`
	TriggerSource     string         `gorm:"type:varchar(30)" json:"trigger_source"`
	Iterations        int            `json:"iterations"`
	PromptTokens      int            `json:"prompt_tokens"`
	CompletionTokens  int            `json:"completion_tokens"`
	CreatedAt         time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

func (ConversationThread) TableName() string {
	return "conversation_threads"
}
