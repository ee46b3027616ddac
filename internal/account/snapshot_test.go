package account

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/model"
)

type fakePositions struct {
	trades []model.Trade
}

func (f fakePositions) ListTradesByStatus(ctx context.Context, status model.TradeStatus) ([]model.Trade, error) {
	return f.trades, nil
}

type fakeCandles struct {
	candles []model.Candle
}

func (f fakeCandles) RecentCandles(ctx context.Context, symbol string, tf model.Timeframe, n int) ([]model.Candle, error) {
	return f.candles, nil
}

type fakeCooldowns struct {
	touch time.Time
}

func (f fakeCooldowns) LastCooldownTouch(ctx context.Context, userBrokerID, symbol, kind string) (time.Time, error) {
	return f.touch, nil
}

func TestLossBookWinningTradeDoesNotAccrue(t *testing.T) {
	lb := NewLossBook(fixedNow(time.Unix(0, 0)))
	lb.RecordClose("ub-1", "SBIN", decimal.NewFromInt(100), decimal.NewFromInt(1000))

	portfolio, symbol, daily, weekly := lb.snapshot("ub-1", "SBIN")
	if !portfolio.IsZero() || !symbol.IsZero() || !daily.IsZero() || !weekly.IsZero() {
		t.Fatalf("winning trade should not accrue loss, got portfolio=%s symbol=%s daily=%s weekly=%s", portfolio, symbol, daily, weekly)
	}
}

func TestLossBookLosingTradeAccrues(t *testing.T) {
	lb := NewLossBook(fixedNow(time.Unix(0, 0)))
	lb.RecordClose("ub-1", "SBIN", decimal.NewFromInt(-100), decimal.NewFromInt(1000))

	portfolio, symbol, daily, weekly := lb.snapshot("ub-1", "SBIN")
	if portfolio.IsZero() || symbol.IsZero() {
		t.Fatalf("expected log-loss to accrue, got portfolio=%s symbol=%s", portfolio, symbol)
	}
	if !daily.Equal(decimal.NewFromInt(100)) || !weekly.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected daily/weekly loss of 100, got daily=%s weekly=%s", daily, weekly)
	}
}

func TestLossBookDailyResetsAcrossDayBoundary(t *testing.T) {
	base := time.Date(2026, 7, 30, 23, 0, 0, 0, time.UTC)
	cur := base
	lb := NewLossBook(func() time.Time { return cur })
	lb.RecordClose("ub-1", "SBIN", decimal.NewFromInt(-50), decimal.NewFromInt(1000))

	cur = base.Add(2 * time.Hour) // crosses into 2026-07-31
	lb.RecordClose("ub-1", "SBIN", decimal.NewFromInt(-10), decimal.NewFromInt(1000))

	_, _, daily, _ := lb.snapshot("ub-1", "SBIN")
	if !daily.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected daily loss reset to just the post-boundary loss of 10, got %s", daily)
	}
}

func TestSnapshotterAssemblesFromAllSources(t *testing.T) {
	now := time.Unix(0, 0)
	ledger := NewLedger(fixedNow(now))
	ledger.Seed("ub-1", decimal.NewFromInt(10000))
	lossBook := NewLossBook(fixedNow(now))

	candles := make([]model.Candle, 0, 20)
	price := 100.0
	for i := 0; i < 20; i++ {
		candles = append(candles, model.Candle{
			High: decimal.NewFromFloat(price + 1), Low: decimal.NewFromFloat(price - 1), Close: decimal.NewFromFloat(price),
		})
		price += 0.5
	}

	openTrade := model.Trade{UserBrokerID: "ub-1", Symbol: "SBIN", EntryQty: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(100)}

	s := &Snapshotter{
		Ledger: ledger, LossBook: lossBook,
		Positions: fakePositions{trades: []model.Trade{openTrade}},
		Candles:   fakeCandles{candles: candles},
		Cooldowns: fakeCooldowns{touch: now},
		Now:       fixedNow(now),
		ATRPeriod: 14, ATRWindow: 20,
	}

	snap, err := s.Snapshot(context.Background(), model.UserBroker{UserBrokerID: "ub-1"}, "SBIN")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.AvailableCash.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected available cash 10000, got %s", snap.AvailableCash)
	}
	if !snap.CurrentExposure.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected exposure 1000 (10 * 100), got %s", snap.CurrentExposure)
	}
	if snap.OpenPositionForSym == nil || snap.OpenPositionForSym.PyramidLevel != 1 {
		t.Fatalf("expected one open position at pyramid level 1, got %+v", snap.OpenPositionForSym)
	}
	if !snap.ATRValid {
		t.Fatal("expected ATR to be valid with 20 candles and period 14")
	}
	if !snap.HasCooldownTouch {
		t.Fatal("expected a cooldown touch to be reported")
	}
}

func TestSnapshotterIgnoresOtherUserBrokersExposure(t *testing.T) {
	now := time.Unix(0, 0)
	ledger := NewLedger(fixedNow(now))
	ledger.Seed("ub-1", decimal.NewFromInt(10000))
	lossBook := NewLossBook(fixedNow(now))

	otherTrade := model.Trade{UserBrokerID: "ub-other", Symbol: "SBIN", EntryQty: decimal.NewFromInt(999), EntryPrice: decimal.NewFromInt(100)}

	s := &Snapshotter{
		Ledger: ledger, LossBook: lossBook,
		Positions: fakePositions{trades: []model.Trade{otherTrade}},
		Candles:   fakeCandles{},
		Now:       fixedNow(now),
		ATRPeriod: 14, ATRWindow: 20,
	}

	snap, err := s.Snapshot(context.Background(), model.UserBroker{UserBrokerID: "ub-1"}, "SBIN")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.CurrentExposure.IsZero() {
		t.Fatalf("expected zero exposure from another user-broker's trade, got %s", snap.CurrentExposure)
	}
	if snap.OpenPositionForSym != nil {
		t.Fatalf("expected no open position for ub-1, got %+v", snap.OpenPositionForSym)
	}
}
