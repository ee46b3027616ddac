// Package intent implements C6 IntentFanOut: on a published signal, spawns
// one bounded-lifetime validation task per eligible user-broker with a 5s
// per-task timeout, joined via golang.org/x/sync/errgroup (replacing the
// teacher's hand-rolled sync.WaitGroup+channel-semaphore in
// internal/risk/multi_user.go with the ecosystem's structured task group,
// per spec §9's "explicit task group with a shared deadline" redesign
// note).
package intent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tradingcore/internal/model"
	"tradingcore/internal/risk"
)

// Store is the persistence seam this component needs.
type Store interface {
	ListEnabledUserBrokers(ctx context.Context, role model.BrokerRole) ([]model.UserBroker, error)
	GetRiskProfile(ctx context.Context, id string) (model.RiskProfile, error)
	InsertTradeIntent(ctx context.Context, ti model.TradeIntent) error
}

// SnapshotSource assembles the risk.Snapshot for one (userBroker, symbol)
// pair. Left as an interface: the concrete implementation reads cash,
// exposure, and ATR from the broker/candle layers, which is out of this
// package's concern.
type SnapshotSource interface {
	Snapshot(ctx context.Context, ub model.UserBroker, symbol string) (risk.Snapshot, error)
}

// BrokerStatusSource reports whether a user-broker's connection is healthy.
type BrokerStatusSource interface {
	Status(ctx context.Context, ub model.UserBroker) risk.BrokerStatus
}

// Hooks lets callers observe per-user-broker outcomes without this package
// depending on the events package.
type Hooks struct {
	OnApproved func(model.TradeIntent)
	OnRejected func(model.TradeIntent)
}

// FanOut is C6.
type FanOut struct {
	store     Store
	snapshots SnapshotSource
	statuses  BrokerStatusSource
	hooks     Hooks
	now       func() time.Time

	taskTimeout time.Duration
}

// New builds a FanOut with the spec-default 5s per-task timeout.
func New(store Store, snapshots SnapshotSource, statuses BrokerStatusSource, hooks Hooks, now func() time.Time) *FanOut {
	return &FanOut{store: store, snapshots: snapshots, statuses: statuses, hooks: hooks, now: now, taskTimeout: 5 * time.Second}
}

// Handle runs the fan-out for one published signal: enumerate EXEC
// user-brokers whose portfolio is not paused and whose watchlist contains
// the symbol, validate each in parallel, persist the resulting intents.
func (f *FanOut) Handle(ctx context.Context, sig model.Signal) error {
	brokers, err := f.store.ListEnabledUserBrokers(ctx, model.RoleExec)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ub := range brokers {
		ub := ub
		if ub.PortfolioPaused || !watches(ub, sig.Symbol) {
			continue
		}
		g.Go(func() error {
			taskCtx, cancel := context.WithTimeout(gctx, f.taskTimeout)
			defer cancel()
			f.runOne(taskCtx, ub, sig)
			return nil
		})
	}
	return g.Wait()
}

func watches(ub model.UserBroker, symbol string) bool {
	for _, s := range ub.Watchlist {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

func (f *FanOut) runOne(ctx context.Context, ub model.UserBroker, sig model.Signal) {
	ti := model.TradeIntent{
		IntentID:     uuid.NewString(),
		SignalID:     sig.SignalID,
		UserBrokerID: ub.UserBrokerID,
		LimitPrice:   sig.RefPrice,
		CreatedAt:    f.now(),
	}

	profile, err := f.store.GetRiskProfile(ctx, ub.RiskProfileID)
	if err != nil {
		f.reject(ctx, ti, "DATA_UNAVAILABLE")
		return
	}
	snap, err := f.snapshots.Snapshot(ctx, ub, sig.Symbol)
	if err != nil {
		f.reject(ctx, ti, "DATA_UNAVAILABLE")
		return
	}
	status := f.statuses.Status(ctx, ub)

	result := risk.Validate(ub, profile, sig, snap, status, sig.RefPrice, f.now(), watches(ub, sig.Symbol))
	ti.TradeType = result.TradeType
	if !result.Approved {
		f.reject(ctx, ti, result.RejectReason)
		return
	}

	ti.Status = model.IntentApproved
	ti.ApprovedQty = result.Sizing.Qty
	if err := f.store.InsertTradeIntent(ctx, ti); err != nil {
		return
	}
	if f.hooks.OnApproved != nil {
		f.hooks.OnApproved(ti)
	}
}

func (f *FanOut) reject(ctx context.Context, ti model.TradeIntent, reason string) {
	ti.Status = model.IntentRejected
	ti.RejectReason = reason
	if err := f.store.InsertTradeIntent(ctx, ti); err != nil {
		return
	}
	if f.hooks.OnRejected != nil {
		f.hooks.OnRejected(ti)
	}
}
