// Package signal implements C5 ConfluenceEvaluator & SignalEmitter: Donchian
// buy-zone classification across HTF/ITF/LTF timeframes, composite scoring,
// and idempotent signal publication. Grounded on the teacher's
// internal/strategy/bollinger.go range-classification shape and
// volume_profile.go's multi-timeframe confluence idea, generalized to the
// spec's exact 0.5/0.3/0.2 weighting and SINGLE/DOUBLE/TRIPLE vocabulary.
package signal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradingcore/internal/clock"
	"tradingcore/internal/model"
)

// Store is the persistence seam the evaluator needs.
type Store interface {
	RecentCandles(ctx context.Context, symbol string, tf model.Timeframe, n int) ([]model.Candle, error)
	InsertSignalOrGetExisting(ctx context.Context, s model.Signal) (model.Signal, bool, error)
}

// WinRateEstimator resolves pWin for a symbol. ConstantWinRateEstimator is
// the profile-agnostic bounded constant the spec describes in §4.5.7/§9
// Open Question 1; a historical estimator can be substituted without
// changing the evaluator.
type WinRateEstimator interface {
	PWin(ctx context.Context, symbol string) decimal.Decimal
}

// ConstantWinRateEstimator returns a fixed pWin regardless of symbol,
// matching the spec's "bounded constant pending an empirical estimator".
type ConstantWinRateEstimator struct {
	Value decimal.Decimal
}

func (c ConstantWinRateEstimator) PWin(ctx context.Context, symbol string) decimal.Decimal { return c.Value }

// PayoffRatio is the assumed reward:risk ratio kelly is derived from.
var PayoffRatio = decimal.NewFromFloat(1.5)

// Hooks lets callers observe emitted signals without the evaluator
// depending on the events package.
type Hooks struct {
	OnPublished func(model.Signal)
}

// Evaluator is C5. One instance serves every symbol; per-symbol analysis is
// single-inflight via lastAnalyzed bookkeeping (spec §5: "evaluator task per
// symbol is single-inflight, coalesced" — enforced by the caller serializing
// per-symbol closed-candle events, since ticks/candles already preserve
// per-symbol order).
type Evaluator struct {
	cal       *clock.SessionCalendar
	store     Store
	estimator WinRateEstimator
	hooks     Hooks
	windowN   int

	lastAnalyzed map[string]analyzedState // symbol -> last analysis bookkeeping
}

type analyzedState struct {
	price decimal.Decimal
	at    time.Time
}

// NewEvaluator builds a confluence evaluator. windowN is the number of
// closed candles fetched per timeframe (must cover at least a Donchian
// lookback; the teacher's bollinger window defaults to 20).
func NewEvaluator(cal *clock.SessionCalendar, store Store, estimator WinRateEstimator, hooks Hooks, windowN int) *Evaluator {
	return &Evaluator{
		cal: cal, store: store, estimator: estimator, hooks: hooks, windowN: windowN,
		lastAnalyzed: make(map[string]analyzedState),
	}
}

// donchianZone is the classification result for one timeframe.
type donchianZone struct {
	low, high decimal.Decimal
	inZone    bool
}

func classify(candles []model.Candle, price decimal.Decimal) (donchianZone, bool) {
	if len(candles) == 0 {
		return donchianZone{}, false
	}
	low, high := candles[0].Low, candles[0].High
	for _, c := range candles[1:] {
		if c.Low.LessThan(low) {
			low = c.Low
		}
		if c.High.GreaterThan(high) {
			high = c.High
		}
	}
	if high.LessThanOrEqual(low) {
		return donchianZone{low: low, high: high}, false
	}
	zoneTop := low.Add(high.Sub(low).Mul(decimal.NewFromFloat(0.35)))
	return donchianZone{low: low, high: high, inZone: !price.LessThan(low) && !price.GreaterThan(zoneTop)}, true
}

func strengthFor(score decimal.Decimal) model.SignalStrength {
	switch {
	case score.GreaterThanOrEqual(decimal.NewFromFloat(1.00)):
		return model.StrengthVeryStrong
	case score.GreaterThanOrEqual(decimal.NewFromFloat(0.80)):
		return model.StrengthStrong
	case score.GreaterThanOrEqual(decimal.NewFromFloat(0.50)):
		return model.StrengthModerate
	default:
		return model.StrengthWeak
	}
}

func confluenceFor(htfOK, itfOK, ltfOK bool) model.ConfluenceType {
	n := 0
	for _, ok := range []bool{htfOK, itfOK, ltfOK} {
		if ok {
			n++
		}
	}
	switch n {
	case 3:
		return model.ConfluenceTriple
	case 2:
		return model.ConfluenceDouble
	case 1:
		return model.ConfluenceSingle
	default:
		return ""
	}
}

// OnClosed1m re-analyzes a symbol whenever its 1m (LTF) candle closes,
// subject to the suppression rules in spec §4.5: pre-close quiet window and
// the movement gate (≥0.3% move, or 60s elapsed, since the last analysis).
func (e *Evaluator) OnClosed1m(ctx context.Context, ltf model.Candle, now time.Time) (model.Signal, bool, error) {
	if e.cal.InPreCloseQuietWindow(now) {
		return model.Signal{}, false, nil
	}

	last, seen := e.lastAnalyzed[ltf.Symbol]
	if seen {
		moved := percentMove(last.price, ltf.Close)
		if moved.LessThan(decimal.NewFromFloat(0.003)) && now.Sub(last.at) < 60*time.Second {
			return model.Signal{}, false, nil
		}
	}
	e.lastAnalyzed[ltf.Symbol] = analyzedState{price: ltf.Close, at: now}

	htfCandles, err := e.store.RecentCandles(ctx, ltf.Symbol, model.TF125m, e.windowN)
	if err != nil {
		return model.Signal{}, false, err
	}
	itfCandles, err := e.store.RecentCandles(ctx, ltf.Symbol, model.TF25m, e.windowN)
	if err != nil {
		return model.Signal{}, false, err
	}
	ltfCandles, err := e.store.RecentCandles(ctx, ltf.Symbol, model.TF1m, e.windowN)
	if err != nil {
		return model.Signal{}, false, err
	}

	htfZone, htfHave := classify(htfCandles, ltf.Close)
	itfZone, itfHave := classify(itfCandles, ltf.Close)
	ltfZone, ltfHave := classify(ltfCandles, ltf.Close)
	if !htfHave || !itfHave || !ltfHave {
		return model.Signal{}, false, nil
	}

	score := decimal.Zero
	if htfZone.inZone {
		score = score.Add(decimal.NewFromFloat(0.50))
	}
	if itfZone.inZone {
		score = score.Add(decimal.NewFromFloat(0.30))
	}
	if ltfZone.inZone {
		score = score.Add(decimal.NewFromFloat(0.20))
	}

	strength := strengthFor(score)
	if strength == model.StrengthWeak {
		// The emitter only suppresses strictly WEAK signals to cap noise;
		// the minConfluence gate itself is applied at Stage-2 (spec §4.5.5).
		return model.Signal{}, false, nil
	}

	confluence := confluenceFor(htfZone.inZone, itfZone.inZone, ltfZone.inZone)
	entryLow := model.Round2(htfZone.low)
	entryHigh := model.Round2(htfZone.low.Add(htfZone.high.Sub(htfZone.low).Mul(decimal.NewFromFloat(0.35))))

	pWin := e.estimator.PWin(ctx, ltf.Symbol)
	kelly := kellyFraction(pWin, PayoffRatio)

	sig := model.Signal{
		SignalID:         uuid.NewString(),
		Symbol:           ltf.Symbol,
		Direction:        "BUY",
		GeneratedAt:      now,
		SignalDay:        now.Truncate(24 * time.Hour),
		ConfluenceType:   confluence,
		CompositeScore:   model.Round2(score),
		Strength:         strength,
		EffectiveFloor:   model.Round2(htfZone.low),
		EffectiveCeiling: model.Round2(htfZone.high),
		EntryLow:         entryLow,
		EntryHigh:        entryHigh,
		RefPrice:         model.Round2(ltf.Close),
		PWin:             pWin,
		Kelly:            kelly,
		Status:           model.SignalPublished,
		LastCheckedAt:    now,
	}

	stored, isNew, err := e.store.InsertSignalOrGetExisting(ctx, sig)
	if err != nil {
		return model.Signal{}, false, err
	}
	if !isNew {
		return stored, false, nil
	}
	if e.hooks.OnPublished != nil {
		e.hooks.OnPublished(stored)
	}
	return stored, true, nil
}

// kellyFraction derives the raw (unclamped, unmultiplied) Kelly fraction
// from pWin and an assumed payoff ratio: f* = p - (1-p)/b.
func kellyFraction(pWin, payoff decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	f := pWin.Sub(one.Sub(pWin).Div(payoff))
	if f.IsNegative() {
		return decimal.Zero
	}
	return f
}

func percentMove(from, to decimal.Decimal) decimal.Decimal {
	if from.IsZero() {
		return decimal.Zero
	}
	return to.Sub(from).Abs().Div(from)
}
