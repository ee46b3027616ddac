package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/broker"
	"tradingcore/internal/model"
)

type fakeTrades struct {
	byID    map[string]model.Trade
	timeout []string
	updated int
}

func newFakeTrades() *fakeTrades {
	return &fakeTrades{byID: make(map[string]model.Trade)}
}

func (f *fakeTrades) ListTradesByStatus(ctx context.Context, status model.TradeStatus) ([]model.Trade, error) {
	var out []model.Trade
	for _, t := range f.byID {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTrades) MarkTimeout(ctx context.Context, tradeID string) (model.Trade, error) {
	t := f.byID[tradeID]
	t.Status = model.TradeTimeout
	f.byID[tradeID] = t
	f.timeout = append(f.timeout, tradeID)
	return t, nil
}

func (f *fakeTrades) ApplyBrokerStatus(ctx context.Context, tradeID, brokerStatus string, filledQty, avgFillPrice decimal.Decimal) (bool, error) {
	t := f.byID[tradeID]
	changed := t.Status == model.TradePending &&
		(brokerStatus == broker.OrderStatusComplete || brokerStatus == broker.OrderStatusCancelled || brokerStatus == broker.OrderStatusRejected)
	if changed {
		switch brokerStatus {
		case broker.OrderStatusComplete:
			t.Status = model.TradeFilled
			t.EntryQty = filledQty
			t.EntryPrice = avgFillPrice
		case broker.OrderStatusCancelled:
			t.Status = model.TradeCancelled
		case broker.OrderStatusRejected:
			t.Status = model.TradeRejected
		}
		f.updated++
	}
	t.LastBrokerUpdateAt = time.Now()
	f.byID[tradeID] = t
	return changed, nil
}

type fakeOrderBroker struct {
	status broker.OrderStatus
}

func (f *fakeOrderBroker) Authenticate(ctx context.Context) error { return nil }
func (f *fakeOrderBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
	return broker.OrderResponse{}, nil
}
func (f *fakeOrderBroker) CancelOrder(ctx context.Context, brokerOrderID string) error { return nil }
func (f *fakeOrderBroker) ModifyOrder(ctx context.Context, brokerOrderID string, newQty, newPrice decimal.Decimal) error {
	return nil
}
func (f *fakeOrderBroker) GetOrderStatus(ctx context.Context, brokerOrderID, clientOrderID string) (broker.OrderStatus, error) {
	return f.status, nil
}

func TestCycleConvergesPendingToFilled(t *testing.T) {
	trades := newFakeTrades()
	now := time.Now()
	trades.byID["t1"] = model.Trade{
		TradeID: "t1", UserBrokerID: "ub1", Status: model.TradePending,
		BrokerOrderID: "bo-1", ClientOrderID: "t1", LastBrokerUpdateAt: now,
	}
	ob := &fakeOrderBroker{status: broker.OrderStatus{
		Status: broker.OrderStatusComplete, FilledQty: decimal.NewFromInt(100), AvgFillPrice: decimal.NewFromFloat(502),
	}}
	loop := New(trades, func(userBrokerID string) (broker.OrderBroker, error) { return ob, nil }, nil, Hooks{}, func() time.Time { return now })

	loop.Cycle(context.Background())

	if trades.byID["t1"].Status != model.TradeFilled {
		t.Fatalf("expected trade to converge to FILLED, got %s", trades.byID["t1"].Status)
	}
	if trades.updated != 1 {
		t.Fatalf("expected exactly one update, got %d", trades.updated)
	}
}

func TestCycleTimesOutStalePendingTrade(t *testing.T) {
	trades := newFakeTrades()
	now := time.Now()
	trades.byID["t2"] = model.Trade{
		TradeID: "t2", UserBrokerID: "ub1", Status: model.TradePending,
		BrokerOrderID: "bo-2", ClientOrderID: "t2", LastBrokerUpdateAt: now.Add(-15 * time.Minute),
	}
	ob := &fakeOrderBroker{status: broker.OrderStatus{Status: broker.OrderStatusPending}}
	loop := New(trades, func(userBrokerID string) (broker.OrderBroker, error) { return ob, nil }, nil, Hooks{}, func() time.Time { return now })

	loop.Cycle(context.Background())

	if trades.byID["t2"].Status != model.TradeTimeout {
		t.Fatalf("expected stale pending trade to time out, got %s", trades.byID["t2"].Status)
	}
	if len(trades.timeout) != 1 {
		t.Fatalf("expected one timeout callback, got %d", len(trades.timeout))
	}
}

func TestCycleAppliesBrokerCancellation(t *testing.T) {
	trades := newFakeTrades()
	now := time.Now()
	trades.byID["t3"] = model.Trade{
		TradeID: "t3", UserBrokerID: "ub1", Status: model.TradePending,
		BrokerOrderID: "bo-3", ClientOrderID: "t3", LastBrokerUpdateAt: now,
	}
	ob := &fakeOrderBroker{status: broker.OrderStatus{Status: broker.OrderStatusCancelled}}
	var cancelled string
	loop := New(trades, func(userBrokerID string) (broker.OrderBroker, error) { return ob, nil }, nil,
		Hooks{OnCancelled: func(tradeID string) { cancelled = tradeID }}, func() time.Time { return now })

	loop.Cycle(context.Background())

	if trades.byID["t3"].Status != model.TradeCancelled {
		t.Fatalf("expected trade to move to CANCELLED, got %s", trades.byID["t3"].Status)
	}
	if cancelled != "t3" {
		t.Fatalf("expected OnCancelled hook to fire for t3, got %q", cancelled)
	}
}

func TestCycleAppliesBrokerRejection(t *testing.T) {
	trades := newFakeTrades()
	now := time.Now()
	trades.byID["t4"] = model.Trade{
		TradeID: "t4", UserBrokerID: "ub1", Status: model.TradePending,
		BrokerOrderID: "bo-4", ClientOrderID: "t4", LastBrokerUpdateAt: now,
	}
	ob := &fakeOrderBroker{status: broker.OrderStatus{Status: broker.OrderStatusRejected}}
	var rejected string
	loop := New(trades, func(userBrokerID string) (broker.OrderBroker, error) { return ob, nil }, nil,
		Hooks{OnBrokerReject: func(tradeID string) { rejected = tradeID }}, func() time.Time { return now })

	loop.Cycle(context.Background())

	if trades.byID["t4"].Status != model.TradeRejected {
		t.Fatalf("expected trade to move to REJECTED, got %s", trades.byID["t4"].Status)
	}
	if rejected != "t4" {
		t.Fatalf("expected OnBrokerReject hook to fire for t4, got %q", rejected)
	}
}
