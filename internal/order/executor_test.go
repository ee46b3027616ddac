package order

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"tradingcore/internal/broker"
	"tradingcore/internal/broker/sim"
	"tradingcore/internal/model"
)

type fakeTrades struct {
	byIntent map[string]model.Trade
}

func newFakeTrades() *fakeTrades { return &fakeTrades{byIntent: make(map[string]model.Trade)} }

func (f *fakeTrades) Create(ctx context.Context, intentID, clientOrderID, userBrokerID, symbol string, qty, limitPrice decimal.Decimal, tradeType model.TradeType) (model.Trade, error) {
	if t, ok := f.byIntent[intentID]; ok {
		return t, nil
	}
	t := model.Trade{TradeID: "trade-" + intentID, IntentID: intentID, ClientOrderID: clientOrderID, UserBrokerID: userBrokerID, Symbol: symbol, EntryQty: qty, EntryPrice: limitPrice, Status: model.TradeCreated, TradeType: tradeType}
	f.byIntent[intentID] = t
	return t, nil
}

func (f *fakeTrades) MarkPending(ctx context.Context, tradeID, brokerOrderID string) (model.Trade, error) {
	for k, t := range f.byIntent {
		if t.TradeID == tradeID {
			t.Status = model.TradePending
			t.BrokerOrderID = brokerOrderID
			f.byIntent[k] = t
			return t, nil
		}
	}
	return model.Trade{}, context.DeadlineExceeded
}

func (f *fakeTrades) MarkRejected(ctx context.Context, tradeID, reason string) (model.Trade, error) {
	for k, t := range f.byIntent {
		if t.TradeID == tradeID {
			t.Status = model.TradeRejected
			f.byIntent[k] = t
			return t, nil
		}
	}
	return model.Trade{}, context.DeadlineExceeded
}

func (f *fakeTrades) MarkClosed(ctx context.Context, tradeID string, exitPrice decimal.Decimal, trigger model.ExitTrigger) (model.Trade, error) {
	return model.Trade{}, nil
}

func TestPlaceEntryIdempotentOnRetry(t *testing.T) {
	trades := newFakeTrades()
	ob := sim.NewOrderBroker()
	exec := New(trades, ob, nil, Hooks{})

	ti := model.TradeIntent{IntentID: "intent-1", UserBrokerID: "ub1", ApprovedQty: decimal.NewFromInt(100), LimitPrice: decimal.NewFromFloat(502)}

	first, err := exec.PlaceEntry(context.Background(), ti, "SBIN")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Status != model.TradePending {
		t.Fatalf("expected PENDING after accept, got %s", first.Status)
	}

	second, err := exec.PlaceEntry(context.Background(), ti, "SBIN")
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if second.TradeID != first.TradeID {
		t.Fatalf("expected same trade id on retry, got %s vs %s", first.TradeID, second.TradeID)
	}
	if len(trades.byIntent) != 1 {
		t.Fatalf("expected exactly one trade row, got %d", len(trades.byIntent))
	}
}

var _ = broker.OrderStatusComplete
