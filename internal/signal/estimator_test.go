package signal

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"tradingcore/internal/model"
)

type fakeCandleSource struct {
	candles []model.Candle
	err     error
}

func (f fakeCandleSource) RecentCandles(ctx context.Context, symbol string, tf model.Timeframe, n int) ([]model.Candle, error) {
	return f.candles, f.err
}

func closes(vals ...float64) []model.Candle {
	out := make([]model.Candle, len(vals))
	for i, v := range vals {
		out[i] = model.Candle{Close: decimal.NewFromFloat(v)}
	}
	return out
}

func TestEmpiricalEstimatorFallsBackOnInsufficientHistory(t *testing.T) {
	e := EmpiricalWinRateEstimator{
		Candles: fakeCandleSource{candles: closes(100, 101)}, Period: 14, Window: 30,
		MinPWin: decimal.NewFromFloat(0.5), MaxPWin: decimal.NewFromFloat(0.8), Fallback: decimal.NewFromFloat(0.65),
	}
	got := e.PWin(context.Background(), "SBIN")
	if !got.Equal(decimal.NewFromFloat(0.65)) {
		t.Fatalf("expected fallback 0.65, got %s", got)
	}
}

func TestEmpiricalEstimatorStaysWithinBand(t *testing.T) {
	vals := make([]float64, 20)
	price := 100.0
	for i := range vals {
		price -= 1 // steadily falling -> oversold
		vals[i] = price
	}
	e := EmpiricalWinRateEstimator{
		Candles: fakeCandleSource{candles: closes(vals...)}, Period: 14, Window: 20,
		MinPWin: decimal.NewFromFloat(0.5), MaxPWin: decimal.NewFromFloat(0.8), Fallback: decimal.NewFromFloat(0.65),
	}
	got := e.PWin(context.Background(), "SBIN")
	if got.LessThan(e.MinPWin) || got.GreaterThan(e.MaxPWin) {
		t.Fatalf("expected pWin within [%s,%s], got %s", e.MinPWin, e.MaxPWin, got)
	}
}
