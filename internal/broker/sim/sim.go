// Package sim provides an in-process paper DataBroker/OrderBroker pair for
// integration tests and local dev runs — a supplemented feature per
// SPEC_FULL.md §C.7, since real broker wire protocols are an explicit
// non-goal. Grounded on the teacher's internal/market.MockFeed (synthetic
// random-walk tick generator) and internal/order.DryRunExecutor/MockExecutor
// (in-memory fill simulation with fee/slippage).
package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradingcore/internal/broker"
	"tradingcore/internal/model"
)

// DataBroker generates a synthetic random-walk tick stream, the same shape
// as the teacher's MockFeed but exposed through the DataBroker interface
// instead of publishing straight to the bus.
type DataBroker struct {
	Symbols    []string
	StartPrice decimal.Decimal
	Step       decimal.Decimal
	Interval   time.Duration

	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	handler func(model.Tick)
	cancel  context.CancelFunc
	rng     *rand.Rand
}

// NewDataBroker builds a simulator feed over the given symbols.
func NewDataBroker(symbols []string, startPrice decimal.Decimal) *DataBroker {
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		prices[s] = startPrice
	}
	return &DataBroker{
		Symbols:    symbols,
		StartPrice: startPrice,
		Step:       decimal.NewFromFloat(0.5),
		Interval:   time.Second,
		prices:     prices,
		rng:        rand.New(rand.NewSource(1)),
	}
}

func (d *DataBroker) Authenticate(ctx context.Context) error { return nil }
func (d *DataBroker) Connect(ctx context.Context) error      { return nil }

func (d *DataBroker) Subscribe(ctx context.Context, symbols []string) error {
	d.mu.Lock()
	for _, s := range symbols {
		if _, ok := d.prices[s]; !ok {
			d.prices[s] = d.StartPrice
		}
	}
	d.mu.Unlock()
	return nil
}

func (d *DataBroker) OnTick(handler func(model.Tick)) {
	d.mu.Lock()
	d.handler = handler
	d.mu.Unlock()
}

// Run starts the synthetic tick generator until ctx is cancelled.
func (d *DataBroker) Run(ctx context.Context) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			d.mu.Lock()
			handler := d.handler
			for sym, price := range d.prices {
				move := decimal.NewFromFloat(d.rng.Float64()*2 - 1).Mul(d.Step)
				price = price.Add(move)
				if price.LessThanOrEqual(decimal.Zero) {
					price = d.Step
				}
				d.prices[sym] = price
				if handler != nil {
					handler(model.Tick{
						Symbol:          sym,
						ExchangeTS:      now,
						ExchangeTSValid: true,
						ReceivedAt:      now,
						LastPrice:       price,
						LastQty:         decimal.NewFromInt(1),
						Volume:          decimal.NewFromInt(1),
					})
				}
			}
			d.mu.Unlock()
		}
	}
}

func (d *DataBroker) GetHistoricalCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Candle, error) {
	return nil, nil
}

func (d *DataBroker) Disconnect(ctx context.Context) error { return nil }

// OrderBroker fills every order immediately at the requested limit price,
// honoring clientOrderId idempotency exactly as spec §4.13/§6 requires: a
// retried PlaceOrder with the same ClientOrderID returns the existing order.
type OrderBroker struct {
	mu     sync.Mutex
	orders map[string]simOrder // clientOrderId -> order
}

type simOrder struct {
	brokerOrderID string
	req           broker.OrderRequest
	status        string
	filledQty     decimal.Decimal
	avgFillPrice  decimal.Decimal
	placedAt      time.Time
}

// NewOrderBroker builds an immediate-fill paper order broker.
func NewOrderBroker() *OrderBroker {
	return &OrderBroker{orders: make(map[string]simOrder)}
}

func (o *OrderBroker) Authenticate(ctx context.Context) error { return nil }

func (o *OrderBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.orders[req.ClientOrderID]; ok {
		return broker.OrderResponse{BrokerOrderID: existing.brokerOrderID, Accepted: true}, nil
	}

	so := simOrder{
		brokerOrderID: uuid.NewString(),
		req:           req,
		status:        broker.OrderStatusComplete,
		filledQty:     req.Qty,
		avgFillPrice:  req.LimitPrice,
		placedAt:      time.Now(),
	}
	o.orders[req.ClientOrderID] = so
	return broker.OrderResponse{BrokerOrderID: so.brokerOrderID, Accepted: true}, nil
}

func (o *OrderBroker) CancelOrder(ctx context.Context, brokerOrderID string) error { return nil }

func (o *OrderBroker) ModifyOrder(ctx context.Context, brokerOrderID string, newQty, newPrice decimal.Decimal) error {
	return nil
}

func (o *OrderBroker) GetOrderStatus(ctx context.Context, brokerOrderID, clientOrderID string) (broker.OrderStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	so, ok := o.orders[clientOrderID]
	if !ok {
		return broker.OrderStatus{Status: broker.OrderStatusUnknown}, nil
	}
	return broker.OrderStatus{
		Status:       so.status,
		FilledQty:    so.filledQty,
		AvgFillPrice: so.avgFillPrice,
		Timestamp:    so.placedAt,
	}, nil
}
