package service

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/hollisward/kestrel/internal/config"
	"github.com/hollisward/kestrel/internal/models"
	"github.com/valyala/fasttemplate"
)

//go:embed templates/system_instructions.txt
var systemInstructionsTemplate string

// PromptService renders the system instructions and the per-session user
// prompt from the portfolio's memory and live snapshot.
type PromptService struct {
	config *config.Config
}

func NewPromptService(conf *config.Config) *PromptService {
	return &PromptService{config: conf}
}

// PromptData carries everything a session prompt is rendered from.
type PromptData struct {
	Portfolio *models.Portfolio
	Memory    *ConversationMemory
	Kind      string
	Trigger   string
}

// BuildSessionPrompt renders the opening user prompt for a session.
func (s *PromptService) BuildSessionPrompt(data *PromptData) string {
	if data == nil {
		return ""
	}

	var sb strings.Builder

	s.writeSessionContext(&sb, data)
	s.writeRecentThreads(&sb, data.Memory)
	s.writeRecentDecisions(&sb, data.Memory)
	s.writeRiskAlerts(&sb, data.Memory)
	s.writePortfolioSnapshot(&sb, data.Memory)

	return sb.String()
}

func (s *PromptService) writeSessionContext(sb *strings.Builder, data *PromptData) {
	sb.WriteString("## Session Context\n\n")

	sb.WriteString(fmt.Sprintf("- Current time: %s\n", time.Now().UTC().Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("- Portfolio: %s (%s)\n", data.Portfolio.Name, data.Portfolio.ID))
	sb.WriteString(fmt.Sprintf("- Session kind: %s\n", data.Kind))
	if data.Trigger != "" {
		sb.WriteString(fmt.Sprintf("- Triggered by: %s\n", data.Trigger))
	}
	if data.Memory != nil {
		sb.WriteString(fmt.Sprintf("- Performance trend: %s\n", data.Memory.PerformanceTrend))
	}
	sb.WriteString("\n")
}

func (s *PromptService) writePortfolioSnapshot(sb *strings.Builder, memory *ConversationMemory) {
	sb.WriteString("## Portfolio Snapshot\n\n")

	if memory == nil || memory.Summary == nil {
		sb.WriteString("No portfolio data available.\n\n")
		return
	}

	summary := memory.Summary
	sb.WriteString(fmt.Sprintf("- Total value: $%.2f\n", summary.TotalValue))
	sb.WriteString(fmt.Sprintf("- Day change: %.2f%%\n\n", summary.DayChangePct))

	if len(summary.Positions) == 0 {
		sb.WriteString("No open positions.\n\n")
		return
	}

	for i, pos := range summary.Positions {
		sb.WriteString(fmt.Sprintf("%d. %s: qty=%.4f, entry=$%.2f, current=$%.2f, value=$%.2f, day=%.2f%%\n",
			i+1, pos.Symbol, pos.Quantity, pos.EntryPrice, pos.CurrentPrice, pos.MarketValue, pos.DayChangePct))
	}
	sb.WriteString("\n")
}

func (s *PromptService) writeRecentThreads(sb *strings.Builder, memory *ConversationMemory) {
	sb.WriteString("## Recent Conversations\n\n")

	if memory == nil || len(memory.RecentThreads) == 0 {
		sb.WriteString("No prior conversations.\n\n")
		return
	}

	for i, thread := range memory.RecentThreads {
		sb.WriteString(fmt.Sprintf("### Conversation #%d\n", i+1))
		sb.WriteString(fmt.Sprintf("- Time: %s\n", thread.CreatedAt.Format("2006-01-02 15:04:05")))
		sb.WriteString(fmt.Sprintf("- Kind: %s\n", thread.Kind))
		if strings.TrimSpace(thread.MarketContext) != "" {
			sb.WriteString(fmt.Sprintf("- Market context: %s\n", thread.MarketContext))
		}
		if strings.TrimSpace(thread.UserMessage) != "" {
			sb.WriteString(fmt.Sprintf("- Request: %s\n", summarize(thread.UserMessage, 200)))
		}
		sb.WriteString("\n")
	}
}

func (s *PromptService) writeRecentDecisions(sb *strings.Builder, memory *ConversationMemory) {
	sb.WriteString("## Recent Decisions\n\n")

	if memory == nil || len(memory.RecentDecisions) == 0 {
		sb.WriteString("No prior decisions.\n\n")
		return
	}

	for i, decision := range memory.RecentDecisions {
		sb.WriteString(fmt.Sprintf("%d. [%s] %s %s qty=%.4f @ $%.2f, confidence=%.2f, outcome=%s\n",
			i+1, decision.DecidedAt.Format("01-02 15:04"), decision.Action, decision.Symbol,
			decision.Quantity, decision.Price, decision.Confidence, decision.Outcome))
		if strings.TrimSpace(decision.Reasoning) != "" {
			sb.WriteString(fmt.Sprintf("   Reasoning: %s\n", summarize(decision.Reasoning, 160)))
		}
	}
	sb.WriteString("\n")
}

func (s *PromptService) writeRiskAlerts(sb *strings.Builder, memory *ConversationMemory) {
	sb.WriteString("## Open Risk Alerts\n\n")

	if memory == nil || len(memory.RiskAlerts) == 0 {
		sb.WriteString("No open risk alerts.\n\n")
		return
	}

	for i, trigger := range memory.RiskAlerts {
		sb.WriteString(fmt.Sprintf("%d. [%s] %s %s threshold=%.2f observed=%.2f price=$%.2f\n",
			i+1, trigger.TriggeredAt.Format("01-02 15:04"), trigger.Symbol, trigger.AlertType,
			trigger.Threshold, trigger.ObservedChange, trigger.CurrentPrice))
	}
	sb.WriteString("\n")
}

func summarize(text string, limit int) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

// GetSystemInstructions renders the system instructions template.
func (s *PromptService) GetSystemInstructions() string {
	ac := s.config.Advisor

	maxIterations := ac.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 25
	}
	windowDays := ac.MemoryWindowDays
	if windowDays <= 0 {
		windowDays = 7
	}

	replacements := map[string]interface{}{
		"max_iterations":     fmt.Sprintf("%d", maxIterations),
		"memory_window_days": fmt.Sprintf("%d", windowDays),
	}

	tmpl := fasttemplate.New(systemInstructionsTemplate, "{{", "}}")
	return tmpl.ExecuteString(replacements)
}
