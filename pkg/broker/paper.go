package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/hollisward/kestrel/pkg/feed"
	"go.uber.org/zap"
)

// PaperBroker fills orders against live feed prices without touching a real
// venue. Fills and balances are held in memory only.
type PaperBroker struct {
	feed   feed.PriceFeed
	logger *zap.Logger

	balance float64
	orderID int64
	fills   []*OrderResult
	mu      sync.Mutex
}

// NewPaperBroker creates a simulated broker with an initial cash balance.
func NewPaperBroker(priceFeed feed.PriceFeed, initialBalance float64, logger *zap.Logger) *PaperBroker {
	return &PaperBroker{
		feed:    priceFeed,
		logger:  logger,
		balance: initialBalance,
		orderID: 1000000, // simulated order ids start here
	}
}

// PlaceOrder fills the request immediately at the current feed price.
func (p *PaperBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %.8f", req.Quantity)
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return nil, fmt.Errorf("invalid side: %s", req.Side)
	}

	data, err := p.feed.GetPriceData(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get fill price: %w", err)
	}

	fillPrice := data.CurrentPrice
	if req.LimitPrice > 0 {
		fillPrice = req.LimitPrice
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cost := fillPrice * req.Quantity
	if req.Side == SideBuy {
		if cost > p.balance {
			return nil, fmt.Errorf("insufficient balance: need %.2f, have %.2f", cost, p.balance)
		}
		p.balance -= cost
	} else {
		p.balance += cost
	}

	p.orderID++
	result := &OrderResult{
		OrderID:     p.orderID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		AvgPrice:    fillPrice,
		ExecutedQty: req.Quantity,
		Status:      "FILLED",
	}
	p.fills = append(p.fills, result)

	p.logger.Info("paper broker: order filled",
		zap.String("portfolio_id", req.PortfolioID),
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side.String()),
		zap.Float64("price", fillPrice),
		zap.Float64("quantity", req.Quantity),
		zap.Float64("balance", p.balance))

	return result, nil
}

// Balance returns the remaining simulated cash balance.
func (p *PaperBroker) Balance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// Fills returns a copy of all simulated fills so far.
func (p *PaperBroker) Fills() []*OrderResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*OrderResult, len(p.fills))
	copy(out, p.fills)
	return out
}
