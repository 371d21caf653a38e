package broker

import "context"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderRequest describes a market order the advisor wants executed.
type OrderRequest struct {
	PortfolioID string  `json:"portfolio_id"`
	Symbol      string  `json:"symbol"`
	Side        Side    `json:"side"`
	Quantity    float64 `json:"quantity"`
	LimitPrice  float64 `json:"limit_price,omitempty"` // 0 means market
}

// OrderResult is the broker's acknowledgement of a placed order.
type OrderResult struct {
	OrderID     int64   `json:"order_id"`
	Symbol      string  `json:"symbol"`
	Side        Side    `json:"side"`
	AvgPrice    float64 `json:"avg_price"`
	ExecutedQty float64 `json:"executed_qty"`
	Status      string  `json:"status"`
}

// Broker places orders with an execution venue. The real brokerage client
// lives outside this repository; the core only depends on this contract.
type Broker interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}

func (s Side) String() string {
	return string(s)
}
