// Package candle implements C3 CandleBuilder (1-minute bar construction from
// ticks) and C4 CandleAggregator (1m -> 25m -> 125m rollups) plus the
// closed-candle store. Grounded on the teacher's internal/market/kline.go
// bucket-rollover shape, generalized to decimal OHLCV and the
// three-timeframe ladder spec §4.3/§4.4 requires.
package candle

import (
	"context"
	"sync"
	"time"

	"tradingcore/internal/clock"
	"tradingcore/internal/model"
)

// Store is the subset of pkg/db.Database the candle pipeline needs. Kept as
// an interface so tests can fake persistence failures (spec §4.3's
// candles.persist.fail path).
type Store interface {
	UpsertCandle(ctx context.Context, c model.Candle) error
	RecentCandles(ctx context.Context, symbol string, tf model.Timeframe, n int) ([]model.Candle, error)
}

// Hooks lets callers observe closed candles and failures without the
// builder depending on the events/metrics packages directly.
type Hooks struct {
	OnClosed     func(model.Candle)
	OnPersistFail func(symbol string, tf model.Timeframe, err error)
}

// Builder maintains at most one partial 1m candle per symbol.
type Builder struct {
	cal   *clock.SessionCalendar
	store Store
	hooks Hooks
	agg   *Aggregator

	mu       sync.Mutex
	partials map[string]model.Candle // symbol -> partial 1m candle
}

// NewBuilder wires a 1m CandleBuilder to its downstream Aggregator.
func NewBuilder(cal *clock.SessionCalendar, store Store, hooks Hooks, agg *Aggregator) *Builder {
	return &Builder{cal: cal, store: store, hooks: hooks, agg: agg, partials: make(map[string]model.Candle)}
}

// OnTick updates (or rolls over) the partial 1m candle for the tick's symbol.
func (b *Builder) OnTick(ctx context.Context, t model.Tick) {
	bucket := b.cal.BucketStart(tickTime(t), int(model.TF1m))

	b.mu.Lock()
	partial, ok := b.partials[t.Symbol]
	if !ok || bucket.After(partial.BucketStart) {
		var closed *model.Candle
		if ok {
			partial.State = model.CandleClosed
			c := partial
			closed = &c
		}
		b.partials[t.Symbol] = model.Candle{
			Symbol: t.Symbol, Timeframe: model.TF1m, BucketStart: bucket,
			Open: t.LastPrice, High: t.LastPrice, Low: t.LastPrice, Close: t.LastPrice,
			Volume: t.LastQty, State: model.CandlePartial,
		}
		b.mu.Unlock()
		if closed != nil {
			b.close(ctx, *closed)
		}
		return
	}

	if t.LastPrice.GreaterThan(partial.High) {
		partial.High = t.LastPrice
	}
	if t.LastPrice.LessThan(partial.Low) {
		partial.Low = t.LastPrice
	}
	partial.Close = t.LastPrice
	partial.Volume = partial.Volume.Add(t.LastQty)
	b.partials[t.Symbol] = partial
	b.mu.Unlock()
}

// Finalize closes any partial whose bucket is more than one bucket old,
// guaranteeing closed 1m candles during silent minutes. Intended to be run
// from a 2s ticker (spec §4.3).
func (b *Builder) Finalize(ctx context.Context, now time.Time) {
	cutoff := b.cal.BucketStart(now, int(model.TF1m))

	b.mu.Lock()
	var toClose []model.Candle
	for sym, partial := range b.partials {
		if partial.BucketStart.Before(cutoff) {
			partial.State = model.CandleClosed
			toClose = append(toClose, partial)
			delete(b.partials, sym)
		}
	}
	b.mu.Unlock()

	for _, c := range toClose {
		b.close(ctx, c)
	}
}

func (b *Builder) close(ctx context.Context, c model.Candle) {
	c.Open = model.Round2(c.Open)
	c.High = model.Round2(c.High)
	c.Low = model.Round2(c.Low)
	c.Close = model.Round2(c.Close)

	if err := b.store.UpsertCandle(ctx, c); err != nil {
		if b.hooks.OnPersistFail != nil {
			b.hooks.OnPersistFail(c.Symbol, c.Timeframe, err)
		}
		// The closed candle is still broadcast in-memory per spec §4.3 even
		// when persistence fails.
	}
	if b.hooks.OnClosed != nil {
		b.hooks.OnClosed(c)
	}
	if b.agg != nil {
		b.agg.OnClosed1m(ctx, c)
	}
}

func tickTime(t model.Tick) time.Time {
	ts, _ := t.DedupTimestamp()
	return ts
}
