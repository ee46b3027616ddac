package fill

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"tradingcore/internal/model"
)

type fakeTrades struct {
	t        model.Trade
	opened   bool
	target   decimal.Decimal
	stop     decimal.Decimal
}

func (f *fakeTrades) Get(ctx context.Context, tradeID string) (model.Trade, error) { return f.t, nil }
func (f *fakeTrades) MarkOpen(ctx context.Context, tradeID string, target, stop decimal.Decimal) (model.Trade, error) {
	f.opened = true
	f.target, f.stop = target, stop
	f.t.Status = model.TradeOpen
	f.t.ExitTargetPrice, f.t.ExitStopPrice = target, stop
	return f.t, nil
}

type fakeCandles struct{ candles []model.Candle }

func (f *fakeCandles) RecentCandles(ctx context.Context, symbol string, tf model.Timeframe, n int) ([]model.Candle, error) {
	return f.candles, nil
}

type fakeTracker struct{ tracked []model.Trade }

func (f *fakeTracker) Track(t model.Trade) { f.tracked = append(f.tracked, t) }

func candle(high, low, close float64) model.Candle {
	return model.Candle{High: decimal.NewFromFloat(high), Low: decimal.NewFromFloat(low), Close: decimal.NewFromFloat(close)}
}

func TestHandleDerivesATRBasedTargetStop(t *testing.T) {
	trades := &fakeTrades{t: model.Trade{TradeID: "t1", Symbol: "SBIN", Status: model.TradeFilled, EntryPrice: decimal.NewFromFloat(502)}}
	candles := &fakeCandles{candles: []model.Candle{candle(500, 498, 499), candle(503, 500, 502)}}
	tracker := &fakeTracker{}
	h := New(trades, candles, tracker, Hooks{}, 1, 2)

	if err := h.Handle(context.Background(), "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !trades.opened {
		t.Fatalf("expected MarkOpen to be called")
	}
	if len(tracker.tracked) != 1 {
		t.Fatalf("expected trade to be tracked by the exit monitor, got %d", len(tracker.tracked))
	}
	if !trades.target.GreaterThan(decimal.NewFromFloat(502)) {
		t.Fatalf("expected target above entry price, got %s", trades.target)
	}
	if !trades.stop.LessThan(decimal.NewFromFloat(502)) {
		t.Fatalf("expected stop below entry price, got %s", trades.stop)
	}
}

func TestHandleSkipsNonFilledTrade(t *testing.T) {
	trades := &fakeTrades{t: model.Trade{TradeID: "t1", Status: model.TradeOpen}}
	h := New(trades, &fakeCandles{}, &fakeTracker{}, Hooks{}, 1, 2)

	if err := h.Handle(context.Background(), "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trades.opened {
		t.Fatalf("expected MarkOpen not to be called for an already-advanced trade")
	}
}
