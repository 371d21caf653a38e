package config

type Config struct {
	Telegram TelegramConf `json:"telegram"`
	Market   MarketConf   `json:"market"`
	Advisor  AdvisorConf  `json:"advisor"`
	Alerts   AlertsConf   `json:"alerts"`
	LLM      LlmConf      `json:"llm"`
}

type TelegramConf struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  string `json:"chat_id"`
}

type MarketConf struct {
	APIKey   string `json:"api_key"`
	Secret   string `json:"secret"`
	ProxyURL string `json:"proxy_url"` // e.g. http://127.0.0.1:7890
	Testnet  bool   `json:"testnet"`
	// Initial cash balance for the paper broker, default 10000.
	PaperBalance float64 `json:"paper_balance"`
}

type AdvisorConf struct {
	// Cron expression for scheduled daily sessions, default "0 * * * *".
	SessionCron string `json:"session_cron"`
	// Hard bound on model round trips per session, default 25.
	MaxIterations int     `json:"max_iterations"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
	// Bounds on the context window fed into a new session.
	RecentThreadCount   int `json:"recent_thread_count"`   // default 5
	RecentDecisionCount int `json:"recent_decision_count"` // default 3
	MemoryWindowDays    int `json:"memory_window_days"`    // default 7
	RiskWindowDays      int `json:"risk_window_days"`      // default 3
	EventWindowDays     int `json:"event_window_days"`     // default 14
	// Per external call timeout in seconds, default 30.
	CallTimeoutSeconds int `json:"call_timeout_seconds"`
}

type AlertsConf struct {
	// Cron expression for evaluation cycles, default "* * * * *".
	CycleCron string `json:"cycle_cron"`
	// Cron expression for the volatility adaptation routine, default "0 0 * * *".
	AdaptiveCron      string `json:"adaptive_cron"`
	BatchSize         int    `json:"batch_size"`           // default 10
	InterBatchDelayMs int    `json:"inter_batch_delay_ms"` // default 1000
}

type LlmConf struct {
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	ProxyURL string `json:"proxy_url"`
	// Minimum spacing between provider calls, default 100.
	MinAPIIntervalMs int `json:"min_api_interval_ms"`
	// Response memoization, default on. Pointer so an absent key keeps the default.
	CacheEnabled *bool `json:"cache_enabled"`
	// Published per-1M-token USD rates used for cost accounting.
	InputCostPerMillion  float64 `json:"input_cost_per_million"`
	OutputCostPerMillion float64 `json:"output_cost_per_million"`
}

// CachingEnabled resolves the CacheEnabled default.
func (c LlmConf) CachingEnabled() bool {
	return c.CacheEnabled == nil || *c.CacheEnabled
}
