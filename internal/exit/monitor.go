// Package exit implements C10 ExitMonitor: tick-driven evaluation of
// target/stop/trailing-stop/brick-reversal/time-exit rules on OPEN trades.
// Grounded on the teacher's internal/risk/stoploss.go StopLossManager
// (high-water-mark trailing update, per-symbol position map), generalized
// from a single float-price position to the full five-rule ladder over
// decimal.Decimal trade rows spec §4.10 describes.
package exit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradingcore/internal/model"
)

// retracement is the 40% giveback fraction used by both the trailing-stop
// recompute and the brick-reversal check (spec §4.10 points c, d).
var retracement = decimal.NewFromFloat(0.4)

const cooldown = 30 * time.Second

// Trades is the subset of trade.Store the monitor drives.
type Trades interface {
	LoadOpen(ctx context.Context) ([]model.Trade, error)
	UpdateTrailing(ctx context.Context, tradeID string, highestPrice, stopPrice decimal.Decimal) (model.Trade, error)
}

// Profiles resolves the risk profile governing a trade's user-broker, for
// the maxHoldDuration time-exit check.
type Profiles interface {
	ProfileForUserBroker(ctx context.Context, userBrokerID string) (model.RiskProfile, error)
}

// Cooldowns is the per-(userBroker,symbol,reason) suppression store.
type Cooldowns interface {
	LastCooldownTouch(ctx context.Context, userBrokerID, symbol, kind string) (time.Time, error)
	TouchCooldown(ctx context.Context, userBrokerID, symbol, kind string, t time.Time) error
}

// ExitIntents enforces P8 exclusivity: at most one pending exit per trade.
type ExitIntents interface {
	InsertExitIntent(ctx context.Context, ei model.ExitIntent) (bool, error)
	HasPendingExitIntent(ctx context.Context, tradeID string) (bool, error)
}

// Executor places the reverse-direction exit order.
type Executor interface {
	PlaceExit(ctx context.Context, t model.Trade, trigger model.ExitTrigger, exitPrice decimal.Decimal) (model.Trade, error)
}

// Accounting folds a closed trade's realized PnL into the sizer's log-loss
// and daily/weekly drawdown figures (spec §4.6 constraints LOG_SAFE,
// DAILY_LOSS, WEEKLY_LOSS).
type Accounting interface {
	RecordClose(userBrokerID, symbol string, realizedPnl, positionValue decimal.Decimal)
}

// Hooks lets callers observe outcomes for C15 MetricsHooks.
type Hooks struct {
	OnTriggered func(tradeID string, trigger model.ExitTrigger)
	OnSkipped   func(tradeID string, trigger model.ExitTrigger, reason string)
}

// Monitor is C10.
type Monitor struct {
	trades      Trades
	profiles    Profiles
	cooldowns   Cooldowns
	exitIntents ExitIntents
	executor    Executor
	accounting  Accounting
	hooks       Hooks
	now         func() time.Time

	mu       sync.RWMutex
	bySymbol map[string]map[string]model.Trade // symbol -> tradeId -> trade
}

// New builds a monitor with empty state; call Load before feeding ticks.
// accounting may be nil when loss-book tracking isn't wired (e.g. in tests).
func New(trades Trades, profiles Profiles, cooldowns Cooldowns, exitIntents ExitIntents, executor Executor, accounting Accounting, hooks Hooks, now func() time.Time) *Monitor {
	return &Monitor{
		trades: trades, profiles: profiles, cooldowns: cooldowns, exitIntents: exitIntents,
		executor: executor, accounting: accounting, hooks: hooks, now: now, bySymbol: make(map[string]map[string]model.Trade),
	}
}

// Load populates the in-memory open-trade map from the store (spec §4.10
// "on start, loads all OPEN trades").
func (m *Monitor) Load(ctx context.Context) error {
	open, err := m.trades.LoadOpen(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySymbol = make(map[string]map[string]model.Trade)
	for _, t := range open {
		m.put(t)
	}
	return nil
}

func (m *Monitor) put(t model.Trade) {
	bucket, ok := m.bySymbol[t.Symbol]
	if !ok {
		bucket = make(map[string]model.Trade)
		m.bySymbol[t.Symbol] = bucket
	}
	bucket[t.TradeID] = t
}

func (m *Monitor) drop(symbol, tradeID string) {
	if bucket, ok := m.bySymbol[symbol]; ok {
		delete(bucket, tradeID)
	}
}

// Track registers a newly-OPENed trade without a full reload.
func (m *Monitor) Track(t model.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(t)
}

// OnTick evaluates every OPEN trade on this symbol against the tick price
// (spec §4.10). Runs on the tick-stream subscriber thread; per-symbol
// ordering is preserved by the stream, so no lock is held across the
// broker-facing PlaceExit call for trades on other symbols.
func (m *Monitor) OnTick(ctx context.Context, tk model.Tick) {
	m.mu.RLock()
	bucket, ok := m.bySymbol[tk.Symbol]
	if !ok || len(bucket) == 0 {
		m.mu.RUnlock()
		return
	}
	trades := make([]model.Trade, 0, len(bucket))
	for _, t := range bucket {
		trades = append(trades, t)
	}
	m.mu.RUnlock()

	for _, t := range trades {
		m.checkOne(ctx, t, tk.LastPrice)
	}
}

func (m *Monitor) checkOne(ctx context.Context, t model.Trade, price decimal.Decimal) {
	if price.GreaterThanOrEqual(t.ExitTargetPrice) && t.ExitTargetPrice.IsPositive() {
		m.trigger(ctx, t, model.ExitTargetHit, price)
		return
	}
	if price.LessThanOrEqual(t.ExitStopPrice) && t.ExitStopPrice.IsPositive() {
		m.trigger(ctx, t, model.ExitStopLoss, price)
		return
	}

	if price.GreaterThan(t.TrailingHighestPrice) {
		t.TrailingHighestPrice = price
		t.TrailingStopPrice = price.Sub(retracement.Mul(price.Sub(t.EntryPrice)))
		if updated, err := m.trades.UpdateTrailing(ctx, t.TradeID, t.TrailingHighestPrice, t.TrailingStopPrice); err == nil {
			t = updated
		}
		m.mu.Lock()
		m.put(t)
		m.mu.Unlock()
	}
	if price.LessThanOrEqual(t.TrailingStopPrice) && t.TrailingHighestPrice.GreaterThan(t.EntryPrice) {
		m.trigger(ctx, t, model.ExitTrailingStop, price)
		return
	}

	favorable := t.TrailingHighestPrice.Sub(t.EntryPrice)
	adverse := t.TrailingHighestPrice.Sub(price)
	if favorable.IsPositive() && adverse.GreaterThanOrEqual(retracement.Mul(favorable)) {
		m.trigger(ctx, t, model.ExitBrickReversal, price)
		return
	}

	profile, err := m.profiles.ProfileForUserBroker(ctx, t.UserBrokerID)
	if err == nil && profile.MaxHoldDuration > 0 && !t.OpenedAt.IsZero() {
		if m.now().Sub(t.OpenedAt) > profile.MaxHoldDuration {
			m.trigger(ctx, t, model.ExitTimeExit, price)
		}
	}
}

// trigger enforces the 30s per-reason cooldown and P8 single-pending-exit
// exclusivity, then hands off to the executor.
func (m *Monitor) trigger(ctx context.Context, t model.Trade, reason model.ExitTrigger, price decimal.Decimal) {
	pending, err := m.exitIntents.HasPendingExitIntent(ctx, t.TradeID)
	if err != nil || pending {
		m.skip(t.TradeID, reason, "pending exit intent exists")
		return
	}

	last, err := m.cooldowns.LastCooldownTouch(ctx, t.UserBrokerID, t.Symbol, string(reason))
	if err == nil && !last.IsZero() && m.now().Sub(last) < cooldown {
		m.skip(t.TradeID, reason, "cooldown active")
		return
	}

	ei := model.ExitIntent{
		ExitIntentID: uuid.NewString(), TradeID: t.TradeID, UserBrokerID: t.UserBrokerID,
		ExitReason: reason, EpisodeID: uuid.NewString(), TriggeredAt: m.now(), Status: model.ExitIntentPending,
	}
	inserted, err := m.exitIntents.InsertExitIntent(ctx, ei)
	if err != nil || !inserted {
		m.skip(t.TradeID, reason, "exit intent already exists")
		return
	}
	_ = m.cooldowns.TouchCooldown(ctx, t.UserBrokerID, t.Symbol, string(reason), m.now())

	if m.hooks.OnTriggered != nil {
		m.hooks.OnTriggered(t.TradeID, reason)
	}

	closed, err := m.executor.PlaceExit(ctx, t, reason, price)
	if err != nil {
		return
	}
	if closed.Status == model.TradeClosed {
		if m.accounting != nil {
			positionValue := closed.EntryQty.Mul(closed.EntryPrice)
			m.accounting.RecordClose(closed.UserBrokerID, closed.Symbol, closed.RealizedPnl, positionValue)
		}
		m.mu.Lock()
		m.drop(t.Symbol, t.TradeID)
		m.mu.Unlock()
	}
}

func (m *Monitor) skip(tradeID string, reason model.ExitTrigger, why string) {
	if m.hooks.OnSkipped != nil {
		m.hooks.OnSkipped(tradeID, reason, why)
	}
}
