// Package broker defines C13 BrokerPort: the uniform contract every broker
// variant implements, grounded on the teacher's minimal
// pkg/exchanges/common/gateway.go Gateway interface, split into the
// DataBroker/OrderBroker pair spec §4.13 asks for (one interface pair, no
// shared abstract base, per spec §9's "inheritance-heavy broker adapters"
// re-architecture note).
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/model"
)

// OrderRequest carries clientOrderId, which adapters MUST use as the
// broker's idempotency key (spec §4.13, §6).
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          string // BUY | SELL
	Qty           decimal.Decimal
	LimitPrice    decimal.Decimal
	ProductType   string
}

// OrderResponse is a synchronous placeOrder acknowledgement.
type OrderResponse struct {
	BrokerOrderID string
	Accepted      bool
	RejectReason  string
}

// OrderStatus is the normalized broker order status vocabulary from spec §6,
// distinct from the teacher's pkg/exchanges/common OrderStatus enum (that
// one has no PENDING/TRIGGER_PENDING distinction the spec requires).
type OrderStatus struct {
	Status        string // OPEN | PENDING | COMPLETE | REJECTED | CANCELLED | TRIGGER_PENDING | UNKNOWN
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	Timestamp     time.Time
	RejectReason  string
}

const (
	OrderStatusOpen           = "OPEN"
	OrderStatusPending        = "PENDING"
	OrderStatusComplete       = "COMPLETE"
	OrderStatusRejected       = "REJECTED"
	OrderStatusCancelled      = "CANCELLED"
	OrderStatusTriggerPending = "TRIGGER_PENDING"
	OrderStatusUnknown        = "UNKNOWN"
)

// DataBroker is the data-feed half of BrokerPort. Wire protocols
// (WebSocket/HTTP framing) are out of scope (spec §1) — only the interface
// is defined here; internal/broker/sim provides an in-process implementation
// for tests and local runs.
type DataBroker interface {
	Authenticate(ctx context.Context) error
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error
	// OnTick registers a handler invoked for every accepted tick. Only one
	// handler is supported; callers that need fan-out go through C2 TickStream.
	OnTick(handler func(model.Tick))
	GetHistoricalCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Candle, error)
	Disconnect(ctx context.Context) error
}

// OrderBroker is the execution half of BrokerPort.
type OrderBroker interface {
	Authenticate(ctx context.Context) error
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	ModifyOrder(ctx context.Context, brokerOrderID string, newQty, newPrice decimal.Decimal) error
	GetOrderStatus(ctx context.Context, brokerOrderID, clientOrderID string) (OrderStatus, error)
}
