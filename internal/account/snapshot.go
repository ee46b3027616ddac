package account

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/indicators"
	"tradingcore/internal/model"
	"tradingcore/internal/risk"
)

// PositionSource looks up open trades so the snapshotter can detect an
// existing position on (userBrokerId, symbol) for rebuy/pyramid gating.
type PositionSource interface {
	ListTradesByStatus(ctx context.Context, status model.TradeStatus) ([]model.Trade, error)
}

// CandleSource is the read seam the ATR calculation needs.
type CandleSource interface {
	RecentCandles(ctx context.Context, symbol string, tf model.Timeframe, n int) ([]model.Candle, error)
}

// CooldownSource is the read seam for the entry-cooldown snapshot field.
// Spec §9 Open Question 6 standardizes entry cooldowns on the same
// DB-enforced mechanism exit cooldowns already use, rather than the
// teacher's in-memory (restart-losing) entry cooldown map.
type CooldownSource interface {
	LastCooldownTouch(ctx context.Context, userBrokerID, symbol, kind string) (time.Time, error)
}

const entryCooldownKind = "ENTRY"

// LossBook accumulates realized-loss figures the sizer's log-loss and
// daily/weekly drawdown constraints gate on. Spec §9 leaves the exact
// accrual/reset schedule unspecified beyond naming the profile's budget
// fields; this implements the natural reading: log-loss figures accumulate
// losing trades only (a log-loss budget is a ceiling on cumulative harm —
// winners don't refill it), keyed per user-broker so one account's losses
// never gate another's sizing, and the daily/weekly loss amounts reset at
// UTC day/week boundaries.
type LossBook struct {
	mu sync.Mutex
	now func() time.Time

	portfolioLogLoss map[string]decimal.Decimal // userBrokerId -> cumulative
	symbolLogLoss    map[string]decimal.Decimal // userBrokerId|symbol -> cumulative

	dailyLoss   map[string]decimal.Decimal // userBrokerId -> cumulative currency loss today
	weeklyLoss  map[string]decimal.Decimal
	dailyReset  map[string]time.Time
	weeklyReset map[string]time.Time
}

// NewLossBook builds an empty loss book.
func NewLossBook(now func() time.Time) *LossBook {
	return &LossBook{
		now:              now,
		portfolioLogLoss: make(map[string]decimal.Decimal),
		symbolLogLoss:    make(map[string]decimal.Decimal),
		dailyLoss:        make(map[string]decimal.Decimal),
		weeklyLoss:       make(map[string]decimal.Decimal),
		dailyReset:       make(map[string]time.Time),
		weeklyReset:      make(map[string]time.Time),
	}
}

func symbolKey(userBrokerID, symbol string) string { return userBrokerID + "|" + symbol }

// RecordClose folds a closed trade's realized PnL into the loss
// accumulators. Winning trades (realizedPnl >= 0) are a no-op: they do not
// refill a log-loss budget, matching how a drawdown ceiling is meant to
// behave.
func (b *LossBook) RecordClose(userBrokerID, symbol string, realizedPnl, positionValue decimal.Decimal) {
	if !realizedPnl.IsNegative() || positionValue.LessThanOrEqual(decimal.Zero) {
		return
	}
	loss := realizedPnl.Neg()
	lossFrac, _ := loss.Div(positionValue).Float64()
	if lossFrac >= 1 {
		lossFrac = 0.999999
	}
	logLoss := decimal.NewFromFloat(-math.Log(1 - lossFrac))

	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	b.portfolioLogLoss[userBrokerID] = b.portfolioLogLoss[userBrokerID].Add(logLoss)
	sk := symbolKey(userBrokerID, symbol)
	b.symbolLogLoss[sk] = b.symbolLogLoss[sk].Add(logLoss)

	b.rollDaily(userBrokerID, now)
	b.rollWeekly(userBrokerID, now)
	b.dailyLoss[userBrokerID] = b.dailyLoss[userBrokerID].Add(loss)
	b.weeklyLoss[userBrokerID] = b.weeklyLoss[userBrokerID].Add(loss)
}

func dayBoundary(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func weekBoundary(t time.Time) time.Time {
	d := dayBoundary(t)
	offset := (int(d.Weekday()) + 6) % 7 // days since Monday
	return d.AddDate(0, 0, -offset)
}

func (b *LossBook) rollDaily(userBrokerID string, now time.Time) {
	boundary := dayBoundary(now)
	if last, ok := b.dailyReset[userBrokerID]; !ok || last.Before(boundary) {
		b.dailyLoss[userBrokerID] = decimal.Zero
		b.dailyReset[userBrokerID] = boundary
	}
}

func (b *LossBook) rollWeekly(userBrokerID string, now time.Time) {
	boundary := weekBoundary(now)
	if last, ok := b.weeklyReset[userBrokerID]; !ok || last.Before(boundary) {
		b.weeklyLoss[userBrokerID] = decimal.Zero
		b.weeklyReset[userBrokerID] = boundary
	}
}

// snapshot reads the current loss figures for a user-broker/symbol pair
// without mutating reset bookkeeping (a read should never itself roll the
// window; only a new loss does).
func (b *LossBook) snapshot(userBrokerID, symbol string) (portfolioLogLoss, symbolLogLoss, dailyLoss, weeklyLoss decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.portfolioLogLoss[userBrokerID], b.symbolLogLoss[symbolKey(userBrokerID, symbol)],
		b.dailyLoss[userBrokerID], b.weeklyLoss[userBrokerID]
}

// Snapshotter implements intent.SnapshotSource, assembling a fresh
// risk.Snapshot per validation task from the ledger, loss book, ATR and the
// open-position lookup, so every sizing constraint sees one consistent view
// (spec §4.6: "each independently computed from the same snapshot").
type Snapshotter struct {
	Ledger    *Ledger
	LossBook  *LossBook
	Positions PositionSource
	Candles   CandleSource
	Cooldowns CooldownSource
	Now       func() time.Time

	ATRPeriod int
	ATRWindow int
}

// Snapshot builds the risk.Snapshot for one (userBroker, symbol).
func (s *Snapshotter) Snapshot(ctx context.Context, ub model.UserBroker, symbol string) (risk.Snapshot, error) {
	bal := s.Ledger.Get(ub.UserBrokerID)

	candles, err := s.Candles.RecentCandles(ctx, symbol, model.TF1m, s.ATRWindow)
	if err != nil {
		return risk.Snapshot{}, err
	}
	atr, atrValid := indicators.ATR(candles, s.ATRPeriod)

	open, err := s.Positions.ListTradesByStatus(ctx, model.TradeOpen)
	if err != nil {
		return risk.Snapshot{}, err
	}
	var openPos *risk.OpenPosition
	pyramidLevel := 0
	exposure := decimal.Zero
	for _, t := range open {
		if t.UserBrokerID != ub.UserBrokerID {
			continue
		}
		exposure = exposure.Add(t.EntryQty.Mul(t.EntryPrice))
		if t.Symbol != symbol {
			continue
		}
		pyramidLevel++
		openPos = &risk.OpenPosition{PyramidLevel: pyramidLevel, LastEntry: t.EntryPrice}
	}

	portfolioLogLoss, symbolLogLoss, dailyLoss, weeklyLoss := s.LossBook.snapshot(ub.UserBrokerID, symbol)
	var dailyPct, weeklyPct decimal.Decimal
	if bal.Total.GreaterThan(decimal.Zero) {
		dailyPct = dailyLoss.Div(bal.Total)
		weeklyPct = weeklyLoss.Div(bal.Total)
	}

	var lastTouch time.Time
	var hasTouch bool
	if s.Cooldowns != nil {
		t, err := s.Cooldowns.LastCooldownTouch(ctx, ub.UserBrokerID, symbol, entryCooldownKind)
		if err == nil && !t.IsZero() {
			lastTouch, hasTouch = t, true
		}
	}

	return risk.Snapshot{
		AvailableCash:      bal.Available,
		TotalCapital:       bal.Total,
		CurrentExposure:    exposure,
		DailyLossPct:       dailyPct,
		WeeklyLossPct:      weeklyPct,
		PortfolioLogLoss:   portfolioLogLoss,
		SymbolLogLoss:      symbolLogLoss,
		ATR:                atr,
		ATRValid:           atrValid,
		LastCooldownTouch:  lastTouch,
		HasCooldownTouch:   hasTouch,
		OpenPositionForSym: openPos,
	}, nil
}
