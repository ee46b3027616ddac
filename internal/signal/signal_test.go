package signal

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/clock"
	"tradingcore/internal/model"
)

type fakeStore struct {
	htf, itf, ltf []model.Candle
	inserted      []model.Signal
	existing      map[string]model.Signal // dedup key -> signal
}

func (f *fakeStore) RecentCandles(ctx context.Context, symbol string, tf model.Timeframe, n int) ([]model.Candle, error) {
	switch tf {
	case model.TF125m:
		return f.htf, nil
	case model.TF25m:
		return f.itf, nil
	case model.TF1m:
		return f.ltf, nil
	}
	return nil, nil
}

func (f *fakeStore) InsertSignalOrGetExisting(ctx context.Context, s model.Signal) (model.Signal, bool, error) {
	key := s.Symbol
	if existing, ok := f.existing[key]; ok {
		return existing, false, nil
	}
	if f.existing == nil {
		f.existing = make(map[string]model.Signal)
	}
	s.SignalID = "fixed-id"
	f.existing[key] = s
	f.inserted = append(f.inserted, s)
	return s, true, nil
}

func buyZoneCandle(symbol string, low, high float64) model.Candle {
	return model.Candle{
		Symbol: symbol, Low: decimal.NewFromFloat(low), High: decimal.NewFromFloat(high),
		Open: decimal.NewFromFloat(low), Close: decimal.NewFromFloat(high), State: model.CandleClosed,
	}
}

func marketOpenCal() *clock.SessionCalendar {
	return clock.NewSessionCalendar(clock.Real, 9*time.Hour+15*time.Minute, 15*time.Hour+30*time.Minute, 60*time.Second)
}

func TestEvaluatorTripleConfluenceVeryStrong(t *testing.T) {
	store := &fakeStore{
		htf: []model.Candle{buyZoneCandle("SBIN", 500, 600)},
		itf: []model.Candle{buyZoneCandle("SBIN", 500, 600)},
		ltf: []model.Candle{buyZoneCandle("SBIN", 500, 600)},
	}
	ev := NewEvaluator(marketOpenCal(), store, ConstantWinRateEstimator{Value: decimal.NewFromFloat(0.65)}, Hooks{}, 20)

	day := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	now := day.Add(14*time.Hour + 30*time.Minute)
	closing := model.Candle{Symbol: "SBIN", Close: decimal.NewFromFloat(502)}

	sig, isNew, err := ev.OnClosed1m(context.Background(), closing, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isNew {
		t.Fatal("expected a new signal")
	}
	if sig.ConfluenceType != model.ConfluenceTriple {
		t.Fatalf("expected TRIPLE confluence, got %s", sig.ConfluenceType)
	}
	if sig.Strength != model.StrengthVeryStrong {
		t.Fatalf("expected VERY_STRONG, got %s", sig.Strength)
	}
	if !sig.CompositeScore.Equal(decimal.NewFromFloat(1.00)) {
		t.Fatalf("expected composite score 1.00, got %s", sig.CompositeScore)
	}
}

func TestEvaluatorSuppressesPreCloseQuietWindow(t *testing.T) {
	store := &fakeStore{
		htf: []model.Candle{buyZoneCandle("SBIN", 500, 600)},
		itf: []model.Candle{buyZoneCandle("SBIN", 500, 600)},
		ltf: []model.Candle{buyZoneCandle("SBIN", 500, 600)},
	}
	ev := NewEvaluator(marketOpenCal(), store, ConstantWinRateEstimator{Value: decimal.NewFromFloat(0.65)}, Hooks{}, 20)

	day := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	now := day.Add(15*time.Hour + 29*time.Minute + 45*time.Second) // 15s before 15:30 close
	closing := model.Candle{Symbol: "SBIN", Close: decimal.NewFromFloat(502)}

	_, isNew, err := ev.OnClosed1m(context.Background(), closing, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isNew {
		t.Fatal("expected suppression within the pre-close quiet window")
	}
}

func TestEvaluatorDedupSameZoneGeometry(t *testing.T) {
	store := &fakeStore{
		htf: []model.Candle{buyZoneCandle("SBIN", 500, 600)},
		itf: []model.Candle{buyZoneCandle("SBIN", 500, 600)},
		ltf: []model.Candle{buyZoneCandle("SBIN", 500, 600)},
	}
	ev := NewEvaluator(marketOpenCal(), store, ConstantWinRateEstimator{Value: decimal.NewFromFloat(0.65)}, Hooks{}, 20)

	day := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	now1 := day.Add(14*time.Hour + 30*time.Minute + 5*time.Second)
	now2 := now1.Add(15 * time.Second) // small move, <60s elapsed -> movement gate suppresses re-analysis
	closing := model.Candle{Symbol: "SBIN", Close: decimal.NewFromFloat(502)}

	_, isNew1, _ := ev.OnClosed1m(context.Background(), closing, now1)
	_, isNew2, _ := ev.OnClosed1m(context.Background(), closing, now2)

	if !isNew1 {
		t.Fatal("expected first analysis to publish")
	}
	if isNew2 {
		t.Fatal("expected second analysis within the movement gate to be suppressed")
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected exactly one inserted signal, got %d", len(store.inserted))
	}
}

func TestEvaluatorWeakSignalSuppressed(t *testing.T) {
	// price 900 sits above every timeframe's buy zone (lowest 35% of [500,600]
	// tops out at 535), so composite score is 0 -> WEAK -> suppressed.
	outsideZone := model.Candle{Symbol: "SBIN", Low: decimal.NewFromFloat(500), High: decimal.NewFromFloat(600)}
	store := &fakeStore{
		htf: []model.Candle{outsideZone},
		itf: []model.Candle{outsideZone},
		ltf: []model.Candle{outsideZone},
	}
	ev := NewEvaluator(marketOpenCal(), store, ConstantWinRateEstimator{Value: decimal.NewFromFloat(0.65)}, Hooks{}, 20)

	day := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	now := day.Add(14 * time.Hour)
	closing := model.Candle{Symbol: "SBIN", Close: decimal.NewFromFloat(900)}

	_, isNew, _ := ev.OnClosed1m(context.Background(), closing, now)
	if isNew {
		t.Fatal("out-of-zone price on every timeframe should be WEAK and suppressed")
	}
	if len(store.inserted) != 0 {
		t.Fatalf("expected no signal inserted, got %d", len(store.inserted))
	}
}
