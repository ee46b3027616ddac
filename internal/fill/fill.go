// Package fill implements the FILLED -> OPEN handoff spec §4.8 names but
// leaves to the implementer: once the reconciler (or a synchronous broker
// accept) observes a trade reach FILLED, something must derive the initial
// exitTargetPrice/exitStopPrice and drive the transition into OPEN so the
// ExitMonitor has something to track. Grounded on the teacher's
// internal/risk/stoploss.go StopLossPosition (entry-anchored
// target/stop/high-water-mark), re-derived from ATR instead of a fixed
// percentage offset.
package fill

import (
	"context"

	"github.com/shopspring/decimal"

	"tradingcore/internal/indicators"
	"tradingcore/internal/model"
)

// Trades is the seam this handler needs from trade.Store.
type Trades interface {
	Get(ctx context.Context, tradeID string) (model.Trade, error)
	MarkOpen(ctx context.Context, tradeID string, targetPrice, stopPrice decimal.Decimal) (model.Trade, error)
}

// Candles is the read seam the ATR-derived target/stop needs.
type Candles interface {
	RecentCandles(ctx context.Context, symbol string, tf model.Timeframe, n int) ([]model.Candle, error)
}

// Tracker registers a newly-OPENed trade with the ExitMonitor without a full
// reload from the store.
type Tracker interface {
	Track(t model.Trade)
}

// Hooks lets callers observe the OPEN transition for C15 MetricsHooks.
type Hooks struct {
	OnOpened func(model.Trade)
}

// Handler computes and applies the FILLED -> OPEN transition.
type Handler struct {
	trades  Trades
	candles Candles
	tracker Tracker
	hooks   Hooks

	atrPeriod      int
	atrWindow      int
	stopATRMult    decimal.Decimal
	targetATRMult  decimal.Decimal
	fallbackStopPct decimal.Decimal // used when ATR can't be computed (thin history)
}

// New builds a fill handler. targetATRMult/stopATRMult follow the same 1.5
// reward:risk ratio signal.PayoffRatio assumes for Kelly sizing (duplicated
// as a local constant rather than importing the signal package, to keep
// fill's dependency surface to candles+trades only).
func New(trades Trades, candles Candles, tracker Tracker, hooks Hooks, atrPeriod, atrWindow int) *Handler {
	return &Handler{
		trades: trades, candles: candles, tracker: tracker, hooks: hooks,
		atrPeriod: atrPeriod, atrWindow: atrWindow,
		stopATRMult:     decimal.NewFromInt(1),
		targetATRMult:   decimal.NewFromFloat(1.5),
		fallbackStopPct: decimal.NewFromFloat(0.01),
	}
}

// Handle loads tradeID (expected to be in FILLED state), derives
// target/stop, and transitions it to OPEN.
func (h *Handler) Handle(ctx context.Context, tradeID string) error {
	t, err := h.trades.Get(ctx, tradeID)
	if err != nil {
		return err
	}
	if t.Status != model.TradeFilled {
		return nil // already advanced (idempotent redelivery) or not ours yet
	}

	target, stop := h.exitPrices(ctx, t)

	opened, err := h.trades.MarkOpen(ctx, tradeID, target, stop)
	if err != nil {
		return err
	}
	if h.tracker != nil {
		h.tracker.Track(opened)
	}
	if h.hooks.OnOpened != nil {
		h.hooks.OnOpened(opened)
	}
	return nil
}

func (h *Handler) exitPrices(ctx context.Context, t model.Trade) (target, stop decimal.Decimal) {
	candles, err := h.candles.RecentCandles(ctx, t.Symbol, model.TF1m, h.atrWindow)
	if err == nil {
		if atr, ok := indicators.ATR(candles, h.atrPeriod); ok {
			stopDist := atr.Mul(h.stopATRMult)
			targetDist := atr.Mul(h.targetATRMult)
			return model.Round2(t.EntryPrice.Add(targetDist)), model.Round2(t.EntryPrice.Sub(stopDist))
		}
	}
	stopDist := t.EntryPrice.Mul(h.fallbackStopPct)
	targetDist := stopDist.Mul(h.targetATRMult)
	return model.Round2(t.EntryPrice.Add(targetDist)), model.Round2(t.EntryPrice.Sub(stopDist))
}
