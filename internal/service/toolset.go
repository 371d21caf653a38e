package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hollisward/kestrel/internal/models"
	"github.com/hollisward/kestrel/internal/repo"
	"github.com/hollisward/kestrel/internal/tools"
	"github.com/hollisward/kestrel/pkg/broker"
	"github.com/hollisward/kestrel/pkg/feed"
	"github.com/oklog/ulid/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"
	"go.uber.org/zap"
)

// Toolset builds the tool registry a session runs against. Handlers close
// over the session's portfolio, so every session gets its own registry.
type Toolset struct {
	logger     *zap.Logger
	priceFeed  feed.PriceFeed
	orders     broker.Broker
	portfolios PortfolioProvider
	memory     *MemoryService
	triggers   *repo.AlertTriggerRepo
}

func NewToolset(
	priceFeed feed.PriceFeed,
	orders broker.Broker,
	portfolios PortfolioProvider,
	memory *MemoryService,
	triggers *repo.AlertTriggerRepo,
	logger *zap.Logger,
) *Toolset {
	return &Toolset{
		logger:     logger,
		priceFeed:  priceFeed,
		orders:     orders,
		portfolios: portfolios,
		memory:     memory,
		triggers:   triggers,
	}
}

type priceDataArgs struct {
	Symbol string `json:"symbol"`
}

type placeOrderArgs struct {
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Quantity   float64 `json:"quantity"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// ForSession assembles the registry for one session. Decisions recorded by
// placeOrder link back to the session's thread via threadID.
func (t *Toolset) ForSession(portfolioID, threadID string) *tools.Registry {
	functionType := constant.Function("").Default()
	registry := tools.NewRegistry(t.logger)

	registry.Register(openai.ChatCompletionToolParam{
		Type: functionType,
		Function: shared.FunctionDefinitionParam{
			Name:        "getPriceData",
			Description: openai.String("Get the current price, 24h change and volume for a symbol"),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"symbol": map[string]interface{}{
						"type":        "string",
						"description": "Trading symbol, e.g. BTCUSDT",
					},
				},
				"required": []string{"symbol"},
			},
		},
	}, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args priceDataArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid getPriceData arguments: %w", err)
		}
		if args.Symbol == "" {
			return nil, fmt.Errorf("getPriceData requires a symbol")
		}
		return t.priceFeed.GetPriceData(ctx, args.Symbol)
	})

	registry.Register(openai.ChatCompletionToolParam{
		Type: functionType,
		Function: shared.FunctionDefinitionParam{
			Name:        "getPortfolioSummary",
			Description: openai.String("Get the portfolio's positions revalued at live prices, total value and day change"),
			Parameters: shared.FunctionParameters{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return t.portfolios.PortfolioSummary(ctx, portfolioID)
	})

	registry.Register(openai.ChatCompletionToolParam{
		Type: functionType,
		Function: shared.FunctionDefinitionParam{
			Name:        "placeOrder",
			Description: openai.String("Place a buy or sell order for the portfolio. The order is executed immediately and the decision is recorded."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"symbol": map[string]interface{}{
						"type":        "string",
						"description": "Trading symbol, e.g. BTCUSDT",
					},
					"action": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"buy", "sell"},
						"description": "Order direction",
					},
					"quantity": map[string]interface{}{
						"type":        "number",
						"description": "Quantity to trade, in base units",
					},
					"reasoning": map[string]interface{}{
						"type":        "string",
						"description": "Why this order should be placed",
					},
					"confidence": map[string]interface{}{
						"type":        "number",
						"description": "Confidence in the decision, 0 to 1",
					},
				},
				"required": []string{"symbol", "action", "quantity", "reasoning"},
			},
		},
	}, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args placeOrderArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid placeOrder arguments: %w", err)
		}
		return t.placeOrder(ctx, portfolioID, threadID, args)
	})

	registry.Register(openai.ChatCompletionToolParam{
		Type: functionType,
		Function: shared.FunctionDefinitionParam{
			Name:        "getRiskAlerts",
			Description: openai.String("Get the alert triggers fired for this portfolio in the last 24 hours"),
			Parameters: shared.FunctionParameters{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}, func(ctx context.Context, raw json.RawMessage) (any, error) {
		since := time.Now().Add(-24 * time.Hour)
		return t.triggers.FindSinceByPortfolio(ctx, portfolioID, since)
	})

	return registry
}

func (t *Toolset) placeOrder(ctx context.Context, portfolioID, threadID string, args placeOrderArgs) (any, error) {
	if args.Symbol == "" || args.Quantity <= 0 {
		return nil, fmt.Errorf("placeOrder requires a symbol and a positive quantity")
	}

	var side broker.Side
	switch args.Action {
	case models.ActionBuy:
		side = broker.SideBuy
	case models.ActionSell:
		side = broker.SideSell
	default:
		return nil, fmt.Errorf("unknown order action %q", args.Action)
	}

	result, err := t.orders.PlaceOrder(ctx, broker.OrderRequest{
		PortfolioID: portfolioID,
		Symbol:      args.Symbol,
		Side:        side,
		Quantity:    args.Quantity,
	})
	if err != nil {
		return nil, fmt.Errorf("order failed: %w", err)
	}

	decision := &models.TradingDecision{
		ID:          ulid.Make().String(),
		PortfolioID: portfolioID,
		ThreadID:    threadID,
		Symbol:      args.Symbol,
		Action:      args.Action,
		Quantity:    result.ExecutedQty,
		Price:       result.AvgPrice,
		Reasoning:   args.Reasoning,
		Confidence:  args.Confidence,
		Executed:    true,
		Outcome:     models.OutcomePending,
		DecidedAt:   time.Now(),
	}
	if err := t.memory.RecordDecision(ctx, decision); err != nil {
		t.logger.Error("failed to record executed decision",
			zap.String("portfolio_id", portfolioID),
			zap.Error(err))
	}

	t.logger.Info("order placed by session",
		zap.String("portfolio_id", portfolioID),
		zap.String("symbol", args.Symbol),
		zap.String("action", args.Action),
		zap.Float64("quantity", result.ExecutedQty),
		zap.Float64("avg_price", result.AvgPrice))

	return result, nil
}
