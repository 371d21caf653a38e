package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hollisward/kestrel/internal/config"
	"github.com/hollisward/kestrel/internal/llm"
	"github.com/hollisward/kestrel/internal/models"
	"github.com/hollisward/kestrel/internal/xe"
	"github.com/oklog/ulid/v2"
	"github.com/openai/openai-go"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const maxIterationsFallback = "Max iterations reached before the analysis converged. " +
	"The tool results gathered so far are recorded; treat this session as inconclusive and hold."

// ToolCallRecord is one tool invocation captured in a session's audit log.
type ToolCallRecord struct {
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SessionResult is what a finished session reports back to its caller.
type SessionResult struct {
	ThreadID           string           `json:"thread_id"`
	FinalResponse      string           `json:"final_response"`
	Iterations         int              `json:"iterations"`
	ToolCalls          []ToolCallRecord `json:"tool_calls"`
	ConversationLength int              `json:"conversation_length"`
	PromptTokens       int64            `json:"prompt_tokens"`
	CompletionTokens   int64            `json:"completion_tokens"`
}

// SessionService runs the bounded tool-calling loop: prompt the model with
// the portfolio's memory, execute the tools it requests, feed results back,
// and persist the finished thread. At most one session runs per portfolio
// at a time.
type SessionService struct {
	logger *zap.Logger

	gateway    *llm.Gateway
	prompts    *PromptService
	toolset    *Toolset
	memory     *MemoryService
	portfolios PortfolioProvider
	conf       config.AdvisorConf

	mu      sync.Mutex
	running map[string]bool
}

func NewSessionService(
	gateway *llm.Gateway,
	prompts *PromptService,
	toolset *Toolset,
	memory *MemoryService,
	portfolios PortfolioProvider,
	conf *config.Config,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		logger:     logger,
		gateway:    gateway,
		prompts:    prompts,
		toolset:    toolset,
		memory:     memory,
		portfolios: portfolios,
		conf:       conf.Advisor,
		running:    make(map[string]bool),
	}
}

func (s *SessionService) acquire(portfolioID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[portfolioID] {
		return xe.ErrSessionRunning
	}
	s.running[portfolioID] = true
	return nil
}

func (s *SessionService) release(portfolioID string) {
	s.mu.Lock()
	delete(s.running, portfolioID)
	s.mu.Unlock()
}

func (s *SessionService) windowDays(kind string) int {
	switch kind {
	case models.ThreadKindRisk:
		if s.conf.RiskWindowDays > 0 {
			return s.conf.RiskWindowDays
		}
		return 3
	case models.ThreadKindEvent:
		if s.conf.EventWindowDays > 0 {
			return s.conf.EventWindowDays
		}
		return 14
	default:
		if s.conf.MemoryWindowDays > 0 {
			return s.conf.MemoryWindowDays
		}
		return 7
	}
}

// RunSession executes one full decision session for a portfolio.
func (s *SessionService) RunSession(ctx context.Context, portfolioID, kind, userMessage, trigger string) (*SessionResult, error) {
	if kind == "" {
		kind = models.ThreadKindManual
	}

	if err := s.acquire(portfolioID); err != nil {
		return nil, err
	}
	defer s.release(portfolioID)

	portfolio, err := s.portfolios.FindPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, xe.ErrPortfolioNotFound
	}

	memory, err := s.memory.LoadMemory(ctx, portfolioID, s.windowDays(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to load session memory: %w", err)
	}

	threadID := ulid.Make().String()
	registry := s.toolset.ForSession(portfolioID, threadID)

	prompt := s.prompts.BuildSessionPrompt(&PromptData{
		Portfolio: portfolio,
		Memory:    memory,
		Kind:      kind,
		Trigger:   trigger,
	})
	if strings.TrimSpace(userMessage) != "" {
		prompt += "## Request\n\n" + strings.TrimSpace(userMessage) + "\n"
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(s.prompts.GetSystemInstructions()),
		openai.UserMessage(prompt),
	}

	s.logger.Info("starting session",
		zap.String("portfolio_id", portfolioID),
		zap.String("thread_id", threadID),
		zap.String("kind", kind),
		zap.String("trigger", trigger))

	maxIterations := s.conf.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 25
	}
	callTimeout := time.Duration(s.conf.CallTimeoutSeconds) * time.Second
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}

	var (
		finalText        strings.Builder
		toolLog          []ToolCallRecord
		iterations       int
		promptTokens     int64
		completionTokens int64
	)

	for iteration := 0; iteration < maxIterations; iteration++ {
		iterations++

		resp, err := s.complete(ctx, callTimeout, llm.Request{
			Messages:    messages,
			Temperature: s.conf.Temperature,
			MaxTokens:   int64(s.conf.MaxTokens),
			Tools:       registry.Definitions(),
		})
		if err != nil {
			return nil, fmt.Errorf("model call failed on iteration %d: %w", iterations, err)
		}

		promptTokens += resp.Usage.PromptTokens
		completionTokens += resp.Usage.CompletionTokens

		message := resp.Message
		messages = append(messages, message.ToParam())

		if len(message.ToolCalls) == 0 {
			if message.Content != "" {
				finalText.WriteString(message.Content)
			}
			break
		}

		var toolMessages []openai.ChatCompletionMessageParamUnion
		for _, toolCall := range message.ToolCalls {
			record := ToolCallRecord{
				Tool:      toolCall.Function.Name,
				Arguments: toolCall.Function.Arguments,
			}

			result, err := registry.Execute(ctx, toolCall.Function.Name, json.RawMessage(toolCall.Function.Arguments))
			if err != nil {
				s.logger.Error("tool execution failed",
					zap.String("tool", toolCall.Function.Name),
					zap.Error(err))
				record.Error = err.Error()
				result = map[string]interface{}{"error": err.Error()}
			}

			resultJSON, _ := json.Marshal(result)
			if record.Error == "" {
				record.Result = string(resultJSON)
			}
			toolLog = append(toolLog, record)

			toolMessages = append(toolMessages, openai.ToolMessage(string(resultJSON), toolCall.ID))
		}

		messages = append(messages, toolMessages...)

		if iteration == maxIterations-1 {
			s.logger.Warn("session reached max iterations",
				zap.String("portfolio_id", portfolioID),
				zap.String("thread_id", threadID))
		}
	}

	final := strings.TrimSpace(finalText.String())
	if final == "" {
		if iterations >= maxIterations {
			final = maxIterationsFallback
		} else {
			final = "The model produced no usable recommendation. Defaulting to hold."
		}
		s.recordFallbackHold(ctx, portfolioID, threadID, final)
	}

	result := &SessionResult{
		ThreadID:           threadID,
		FinalResponse:      final,
		Iterations:         iterations,
		ToolCalls:          toolLog,
		ConversationLength: len(messages),
		PromptTokens:       promptTokens,
		CompletionTokens:   completionTokens,
	}

	if err := s.storeThread(ctx, portfolio, memory, result, kind, userMessage, trigger, messages); err != nil {
		return nil, err
	}

	s.logger.Info("session finished",
		zap.String("portfolio_id", portfolioID),
		zap.String("thread_id", threadID),
		zap.Int("iterations", result.Iterations),
		zap.Int("tool_calls", len(result.ToolCalls)),
		zap.Int64("prompt_tokens", result.PromptTokens),
		zap.Int64("completion_tokens", result.CompletionTokens))

	return result, nil
}

// complete issues one model call with its own timeout so a stuck provider
// fails the iteration instead of hanging the session.
func (s *SessionService) complete(ctx context.Context, timeout time.Duration, req llm.Request) (*llm.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.gateway.Send(callCtx, req)
}

// recordFallbackHold writes the defensive hold decision taken when a
// session ends without a usable recommendation.
func (s *SessionService) recordFallbackHold(ctx context.Context, portfolioID, threadID, reason string) {
	decision := &models.TradingDecision{
		ID:          ulid.Make().String(),
		PortfolioID: portfolioID,
		ThreadID:    threadID,
		Action:      models.ActionHold,
		Reasoning:   reason,
		Confidence:  0,
		Executed:    false,
		Outcome:     models.OutcomePending,
		DecidedAt:   time.Now(),
	}
	if err := s.memory.RecordDecision(ctx, decision); err != nil {
		s.logger.Error("failed to record fallback hold decision",
			zap.String("portfolio_id", portfolioID),
			zap.Error(err))
	}
}

func (s *SessionService) storeThread(
	ctx context.Context,
	portfolio *models.Portfolio,
	memory *ConversationMemory,
	result *SessionResult,
	kind, userMessage, trigger string,
	messages []openai.ChatCompletionMessageParamUnion,
) error {
	transcript, _ := json.Marshal(messages)
	actions, _ := json.Marshal(result.ToolCalls)

	var snapshot []byte
	if memory.Summary != nil {
		snapshot, _ = json.Marshal(memory.Summary)
	}

	marketContext := fmt.Sprintf("trend=%s", memory.PerformanceTrend)
	if memory.Summary != nil {
		marketContext = fmt.Sprintf("trend=%s day_change=%.2f%% total_value=%.2f",
			memory.PerformanceTrend, memory.Summary.DayChangePct, memory.Summary.TotalValue)
	}

	thread := &models.ConversationThread{
		ID:                result.ThreadID,
		PortfolioID:       portfolio.ID,
		Kind:              kind,
		UserMessage:       userMessage,
		ModelMessages:     datatypes.JSON(transcript),
		ActionsTaken:      datatypes.JSON(actions),
		MarketContext:     marketContext,
		PortfolioSnapshot: datatypes.JSON(snapshot),
		TriggerSource:     trigger,
		Iterations:        result.Iterations,
		PromptTokens:      int(result.PromptTokens),
		CompletionTokens:  int(result.CompletionTokens),
		CreatedAt:         time.Now(),
	}

	if err := s.memory.StoreThread(ctx, thread); err != nil {
		return xe.ErrMemoryStore
	}
	return nil
}
