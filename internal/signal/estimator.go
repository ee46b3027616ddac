package signal

import (
	"context"

	"github.com/shopspring/decimal"

	"tradingcore/internal/indicators"
	"tradingcore/internal/model"
)

// CandleSource is the narrow read seam EmpiricalWinRateEstimator needs.
type CandleSource interface {
	RecentCandles(ctx context.Context, symbol string, tf model.Timeframe, n int) ([]model.Candle, error)
}

// EmpiricalWinRateEstimator resolves pWin from the symbol's recent 1m RSI
// and SMA rather than a single profile-wide constant — the "wire a
// historical win-rate estimator" branch of spec §9 Open Question 1.
// Oversold readings are treated as higher-probability long entries on this
// long-only buy-zone system; the edge is halved when price trades above its
// own trend average, since that's a weaker mean-reversion setup. The
// mapping is linear and clamped to [MinPWin, MaxPWin] so a noisy RSI
// reading can never push pWin outside a sane band.
type EmpiricalWinRateEstimator struct {
	Candles  CandleSource
	Period   int
	Window   int
	MinPWin  decimal.Decimal
	MaxPWin  decimal.Decimal
	Fallback decimal.Decimal // used when there isn't enough history yet
}

func (e EmpiricalWinRateEstimator) PWin(ctx context.Context, symbol string) decimal.Decimal {
	candles, err := e.Candles.RecentCandles(ctx, symbol, model.TF1m, e.Window)
	if err != nil || len(candles) < e.Period+1 {
		return e.Fallback
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close.InexactFloat64()
	}
	rsi := indicators.RSI(closes, e.Period)
	sma := indicators.SMA(closes, e.Period)

	t := (70 - rsi) / 40 // 1.0 at rsi=30 (oversold), 0.0 at rsi=70 (overbought)
	if sma > 0 && closes[len(closes)-1] > sma {
		t *= 0.5
	}
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}

	span := e.MaxPWin.Sub(e.MinPWin)
	return e.MinPWin.Add(span.Mul(decimal.NewFromFloat(t)))
}
