package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/hollisward/kestrel/internal/config"
	"github.com/hollisward/kestrel/internal/llm"
	"github.com/hollisward/kestrel/internal/models"
	"github.com/hollisward/kestrel/internal/repo"
	"github.com/hollisward/kestrel/internal/xe"
	"github.com/oklog/ulid/v2"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// scriptedCompleter replays a fixed sequence of completions. The last
// response repeats once the script runs out, so a looping session keeps
// receiving it.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses []*openai.ChatCompletion
	calls     int
}

func (c *scriptedCompleter) Complete(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.responses) == 0 {
		return nil, fmt.Errorf("no scripted response left")
	}
	resp := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return resp, nil
}

// toolCallCompletion builds an assistant turn requesting one tool call.
// It goes through the wire format so the fixture stays in terms of the
// provider's JSON rather than SDK internals.
func toolCallCompletion(t *testing.T, callID, name, arguments string, promptTokens, completionTokens int64) *openai.ChatCompletion {
	t.Helper()

	payload := map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{
				"role": "assistant",
				"tool_calls": []map[string]any{{
					"id":   callID,
					"type": "function",
					"function": map[string]any{
						"name":      name,
						"arguments": arguments,
					},
				}},
			},
		}},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var completion openai.ChatCompletion
	require.NoError(t, json.Unmarshal(raw, &completion))
	return &completion
}

func textOnlyCompletion(content string, promptTokens, completionTokens int64) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
		Usage: openai.CompletionUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
}

type sessionFixture struct {
	sessions  *SessionService
	priceFeed *fakeFeed
	orders    *fakeBroker
	db        *gorm.DB
	portfolio *models.Portfolio
}

func newSessionFixture(t *testing.T, completer llm.ChatCompleter, conf *config.Config) *sessionFixture {
	t.Helper()

	if conf == nil {
		conf = testConfig()
	}
	conf.LLM.Model = "test-model"
	conf.LLM.MinAPIIntervalMs = 1

	db := newTestDB(t)
	priceFeed := newFakeFeed()
	priceFeed.setPrice("BTCUSDT", 50000, 49500, 1.0)

	portfolio := seedPortfolio(t, db, "growth", models.Position{
		Symbol: "BTCUSDT", Quantity: 0.5, EntryPrice: 40000,
	})

	portfolios := newTestPortfolioService(db, priceFeed)
	memory := NewMemoryService(db, portfolios, conf, zap.NewNop())
	orders := &fakeBroker{price: 50000}
	toolset := NewToolset(priceFeed, orders, portfolios, memory, repo.NewAlertTriggerRepo(db), zap.NewNop())
	prompts := NewPromptService(conf)
	gateway := llm.NewGateway(completer, conf.LLM, zap.NewNop())
	sessions := NewSessionService(gateway, prompts, toolset, memory, portfolios, conf, zap.NewNop())

	return &sessionFixture{
		sessions:  sessions,
		priceFeed: priceFeed,
		orders:    orders,
		db:        db,
		portfolio: portfolio,
	}
}

func TestSessionService_ToolCallThenFinalResponse(t *testing.T) {
	completer := &scriptedCompleter{responses: []*openai.ChatCompletion{
		toolCallCompletion(t, "call_1", "getPriceData", `{"symbol":"BTCUSDT"}`, 100, 20),
		textOnlyCompletion("BTC is up 1% on the day. Recommendation: hold.", 150, 40),
	}}
	fx := newSessionFixture(t, completer, nil)
	ctx := context.Background()

	result, err := fx.sessions.RunSession(ctx, fx.portfolio.ID, models.ThreadKindDaily, "", "schedule")
	require.NoError(t, err)

	assert.Equal(t, "BTC is up 1% on the day. Recommendation: hold.", result.FinalResponse)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, 2, completer.calls)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "getPriceData", result.ToolCalls[0].Tool)
	assert.Contains(t, result.ToolCalls[0].Result, "BTCUSDT")
	assert.Empty(t, result.ToolCalls[0].Error)
	assert.Equal(t, int64(250), result.PromptTokens)
	assert.Equal(t, int64(60), result.CompletionTokens)

	// system + user + assistant(tool call) + tool result + assistant(final)
	assert.Equal(t, 5, result.ConversationLength)

	var thread models.ConversationThread
	require.NoError(t, fx.db.First(&thread, "id = ?", result.ThreadID).Error)
	assert.Equal(t, fx.portfolio.ID, thread.PortfolioID)
	assert.Equal(t, models.ThreadKindDaily, thread.Kind)
	assert.Equal(t, "schedule", thread.TriggerSource)
	assert.Equal(t, 2, thread.Iterations)
	assert.Equal(t, 250, thread.PromptTokens)
	assert.Contains(t, string(thread.ActionsTaken), "getPriceData")
}

func TestSessionService_ImmediateFinalResponse(t *testing.T) {
	completer := &scriptedCompleter{responses: []*openai.ChatCompletion{
		textOnlyCompletion("Nothing actionable today.", 80, 15),
	}}
	fx := newSessionFixture(t, completer, nil)

	result, err := fx.sessions.RunSession(context.Background(), fx.portfolio.ID, "", "", "api")
	require.NoError(t, err)

	assert.Equal(t, "Nothing actionable today.", result.FinalResponse)
	assert.Equal(t, 1, result.Iterations)
	assert.Empty(t, result.ToolCalls)

	var thread models.ConversationThread
	require.NoError(t, fx.db.First(&thread, "id = ?", result.ThreadID).Error)
	assert.Equal(t, models.ThreadKindManual, thread.Kind, "blank kind defaults to manual")
}

func TestSessionService_ToolFailureIsCapturedAndSessionContinues(t *testing.T) {
	completer := &scriptedCompleter{responses: []*openai.ChatCompletion{
		toolCallCompletion(t, "call_1", "getPriceData", `{"symbol":"DOGEUSDT"}`, 100, 20),
		textOnlyCompletion("Price data unavailable, holding.", 120, 30),
	}}
	fx := newSessionFixture(t, completer, nil)
	fx.priceFeed.failures["DOGEUSDT"] = fmt.Errorf("upstream timeout")

	result, err := fx.sessions.RunSession(context.Background(), fx.portfolio.ID, models.ThreadKindManual, "", "api")
	require.NoError(t, err)

	assert.Equal(t, "Price data unavailable, holding.", result.FinalResponse)
	require.Len(t, result.ToolCalls, 1)
	assert.Contains(t, result.ToolCalls[0].Error, "upstream timeout")
	assert.Empty(t, result.ToolCalls[0].Result)
}

func TestSessionService_MaxIterationsFallbackRecordsHold(t *testing.T) {
	// The script never produces a final text, so the loop runs out.
	completer := &scriptedCompleter{responses: []*openai.ChatCompletion{
		toolCallCompletion(t, "call_1", "getPriceData", `{"symbol":"BTCUSDT"}`, 100, 20),
	}}
	conf := testConfig()
	conf.Advisor.MaxIterations = 2
	fx := newSessionFixture(t, completer, conf)

	result, err := fx.sessions.RunSession(context.Background(), fx.portfolio.ID, models.ThreadKindDaily, "", "schedule")
	require.NoError(t, err)

	assert.Equal(t, maxIterationsFallback, result.FinalResponse)
	assert.Equal(t, 2, result.Iterations)
	assert.Len(t, result.ToolCalls, 2)

	var decisions []models.TradingDecision
	require.NoError(t, fx.db.Find(&decisions, "portfolio_id = ?", fx.portfolio.ID).Error)
	require.Len(t, decisions, 1)
	assert.Equal(t, models.ActionHold, decisions[0].Action)
	assert.Equal(t, result.ThreadID, decisions[0].ThreadID)
	assert.False(t, decisions[0].Executed)
	assert.Zero(t, decisions[0].Confidence)
}

func TestSessionService_EmptyFinalResponseFallsBackToHold(t *testing.T) {
	completer := &scriptedCompleter{responses: []*openai.ChatCompletion{
		textOnlyCompletion("", 50, 0),
	}}
	fx := newSessionFixture(t, completer, nil)

	result, err := fx.sessions.RunSession(context.Background(), fx.portfolio.ID, models.ThreadKindManual, "", "api")
	require.NoError(t, err)

	assert.Contains(t, result.FinalResponse, "Defaulting to hold")

	var decisions []models.TradingDecision
	require.NoError(t, fx.db.Find(&decisions, "portfolio_id = ?", fx.portfolio.ID).Error)
	require.Len(t, decisions, 1)
	assert.Equal(t, models.ActionHold, decisions[0].Action)
}

func TestSessionService_PlaceOrderRecordsExecutedDecision(t *testing.T) {
	orderArgs := `{"symbol":"BTCUSDT","action":"buy","quantity":0.1,"reasoning":"momentum entry","confidence":0.8}`
	completer := &scriptedCompleter{responses: []*openai.ChatCompletion{
		toolCallCompletion(t, "call_1", "placeOrder", orderArgs, 100, 20),
		textOnlyCompletion("Bought 0.1 BTC.", 120, 30),
	}}
	fx := newSessionFixture(t, completer, nil)

	result, err := fx.sessions.RunSession(context.Background(), fx.portfolio.ID, models.ThreadKindManual, "buy some BTC", "api")
	require.NoError(t, err)

	require.Len(t, fx.orders.fills, 1)
	assert.Equal(t, "BTCUSDT", fx.orders.fills[0].Symbol)

	var decisions []models.TradingDecision
	require.NoError(t, fx.db.Find(&decisions, "portfolio_id = ?", fx.portfolio.ID).Error)
	require.Len(t, decisions, 1)
	assert.Equal(t, models.ActionBuy, decisions[0].Action)
	assert.Equal(t, result.ThreadID, decisions[0].ThreadID)
	assert.True(t, decisions[0].Executed)
	assert.InDelta(t, 0.8, decisions[0].Confidence, 1e-9)
	assert.InDelta(t, 0.1, decisions[0].Quantity, 1e-9)
	assert.InDelta(t, 50000, decisions[0].Price, 1e-9)
	assert.Equal(t, models.OutcomePending, decisions[0].Outcome)
}

func TestSessionService_UnknownPortfolio(t *testing.T) {
	completer := &scriptedCompleter{responses: []*openai.ChatCompletion{
		textOnlyCompletion("unreachable", 1, 1),
	}}
	fx := newSessionFixture(t, completer, nil)

	_, err := fx.sessions.RunSession(context.Background(), ulid.Make().String(), models.ThreadKindManual, "", "api")
	assert.ErrorIs(t, err, xe.ErrPortfolioNotFound)
}

// blockingCompleter holds the first call open until released so a second
// session can be attempted while the first is still running.
type blockingCompleter struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *blockingCompleter) Complete(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	c.once.Do(func() { close(c.started) })
	select {
	case <-c.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return textOnlyCompletion("done", 10, 5), nil
}

func TestSessionService_SecondConcurrentSessionRejected(t *testing.T) {
	completer := &blockingCompleter{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	fx := newSessionFixture(t, completer, nil)
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() {
		_, err := fx.sessions.RunSession(ctx, fx.portfolio.ID, models.ThreadKindDaily, "", "schedule")
		firstDone <- err
	}()

	<-completer.started
	_, err := fx.sessions.RunSession(ctx, fx.portfolio.ID, models.ThreadKindDaily, "", "schedule")
	assert.ErrorIs(t, err, xe.ErrSessionRunning)

	close(completer.release)
	require.NoError(t, <-firstDone)

	// The guard is per portfolio, so a fresh run succeeds once released.
	_, err = fx.sessions.RunSession(ctx, fx.portfolio.ID, models.ThreadKindDaily, "", "schedule")
	require.NoError(t, err)
}
