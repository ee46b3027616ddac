package candle

import (
	"context"
	"sync"
	"time"

	"tradingcore/internal/clock"
	"tradingcore/internal/model"
)

// Aggregator implements C4: 1m -> 25m -> 125m rollups (spec §4.4). Each
// step's constituent count matches its bucket-start floor exactly: 25
// one-minute candles per 25m bucket, 5 twenty-five-minute candles per 125m
// bucket (125m / 25m = 5). There is no 5-minute timeframe anywhere in the
// data model, so a 25m candle is never completed by anything short of its
// full 25-minute window. Emits no higher-timeframe candle when fewer than
// the required count is available for a bucket (warm-up/restart case) and
// logs at debug instead (left to the caller via Hooks).
type Aggregator struct {
	cal   *clock.SessionCalendar
	store Store
	hooks Hooks

	mu        sync.Mutex
	group25   map[string]bucketGroup // symbol -> in-progress 25m constituent group
	group125  map[string]bucketGroup // symbol -> in-progress 125m constituent group
}

// bucketGroup accumulates same-bucket constituents; a constituent whose
// higher-timeframe bucket start doesn't match resets the group rather than
// mixing candles across a restart gap.
type bucketGroup struct {
	bucketStart  time.Time
	constituents []model.Candle
}

// NewAggregator builds an aggregator over the given closed-candle store.
func NewAggregator(cal *clock.SessionCalendar, store Store, hooks Hooks) *Aggregator {
	return &Aggregator{
		cal: cal, store: store, hooks: hooks,
		group25:  make(map[string]bucketGroup),
		group125: make(map[string]bucketGroup),
	}
}

// OnClosed1m is invoked by the Builder whenever a 1m candle closes.
func (a *Aggregator) OnClosed1m(ctx context.Context, c model.Candle) {
	bucket25 := a.cal.BucketStart(c.BucketStart, int(model.TF25m))

	a.mu.Lock()
	g := a.group25[c.Symbol]
	if g.bucketStart.IsZero() || !g.bucketStart.Equal(bucket25) {
		g = bucketGroup{bucketStart: bucket25}
	}
	g.constituents = append(g.constituents, c)
	complete := len(g.constituents) >= 25
	if complete {
		a.group25[c.Symbol] = bucketGroup{}
	} else {
		a.group25[c.Symbol] = g
	}
	a.mu.Unlock()

	if !complete {
		return
	}

	merged := mergeCandles(g.constituents, model.TF25m, bucket25)
	a.emit(ctx, merged)
	a.onClosed25m(ctx, merged)
}

func (a *Aggregator) onClosed25m(ctx context.Context, c model.Candle) {
	bucket125 := a.cal.BucketStart(c.BucketStart, int(model.TF125m))

	a.mu.Lock()
	g := a.group125[c.Symbol]
	if g.bucketStart.IsZero() || !g.bucketStart.Equal(bucket125) {
		g = bucketGroup{bucketStart: bucket125}
	}
	g.constituents = append(g.constituents, c)
	complete := len(g.constituents) >= 5
	if complete {
		a.group125[c.Symbol] = bucketGroup{}
	} else {
		a.group125[c.Symbol] = g
	}
	a.mu.Unlock()

	if !complete {
		return
	}

	merged := mergeCandles(g.constituents, model.TF125m, bucket125)
	a.emit(ctx, merged)
}

func (a *Aggregator) emit(ctx context.Context, c model.Candle) {
	if err := a.store.UpsertCandle(ctx, c); err != nil {
		if a.hooks.OnPersistFail != nil {
			a.hooks.OnPersistFail(c.Symbol, c.Timeframe, err)
		}
	}
	if a.hooks.OnClosed != nil {
		a.hooks.OnClosed(c)
	}
}

func mergeCandles(cs []model.Candle, tf model.Timeframe, bucketStart time.Time) model.Candle {
	out := model.Candle{
		Symbol: cs[0].Symbol, Timeframe: tf, BucketStart: bucketStart,
		Open: cs[0].Open, Close: cs[len(cs)-1].Close,
		High: cs[0].High, Low: cs[0].Low, State: model.CandleClosed,
	}
	for _, c := range cs {
		if c.High.GreaterThan(out.High) {
			out.High = c.High
		}
		if c.Low.LessThan(out.Low) {
			out.Low = c.Low
		}
		out.Volume = out.Volume.Add(c.Volume)
	}
	return out
}
