// Package reconcile implements C9 ReconcilerLoop: a single scheduled loop
// polling PENDING trades against the broker, bounded by a semaphore.
// Grounded on the teacher's internal/reconciliation/service.go ticker
// shape, with golang.org/x/sync/semaphore replacing the teacher's
// channel-based counting semaphore.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"tradingcore/internal/broker"
	"tradingcore/internal/model"
)

// Hooks observes reconcile outcomes for C15 MetricsHooks and the
// FILLED -> OPEN handoff.
type Hooks struct {
	OnChecked      func()
	OnUpdated      func()
	OnFilled       func(tradeID string)
	OnTimeout      func(tradeID string)
	OnRateLimited  func()
	OnCancelled    func(tradeID string)
	OnBrokerReject func(tradeID string)
}

// Ledger settles cash accounting when a reconcile pass observes a trade
// move PENDING -> FILLED or times out (the lock taken at entry either
// becomes a real deduction or is released).
type Ledger interface {
	Fill(userBrokerID string, cost decimal.Decimal)
	Unlock(userBrokerID string, amount decimal.Decimal)
}

// Loop is C9.
type Loop struct {
	trades  TradesStore
	resolve func(userBrokerID string) (broker.OrderBroker, error)
	ledger  Ledger
	hooks   Hooks
	now     func() time.Time
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	Interval       time.Duration
	PendingTimeout time.Duration
}

// TradesStore is the concrete interface the reconciler needs from
// trade.Store (declared locally to avoid an import cycle: trade does not
// depend on reconcile).
type TradesStore interface {
	ListTradesByStatus(ctx context.Context, status model.TradeStatus) ([]model.Trade, error)
	MarkTimeout(ctx context.Context, tradeID string) (model.Trade, error)
	ApplyBrokerStatus(ctx context.Context, tradeID, brokerStatus string, filledQty, avgFillPrice decimal.Decimal) (bool, error)
}

// New builds a reconciler with the spec defaults: 30s period, 10min pending
// timeout, 5 parallel broker calls, paced at 10 outbound status calls/sec
// with a burst of 5 so a large pending backlog doesn't hammer the broker
// the moment a cycle starts (teacher's pkg/exchanges/common/ratelimit.go
// covers this concern with a hand-rolled weight tracker; here it's the
// token-bucket golang.org/x/time/rate). ledger may be nil when cash
// accounting isn't wired (e.g. in tests).
func New(trades TradesStore, resolve func(userBrokerID string) (broker.OrderBroker, error), ledger Ledger, hooks Hooks, now func() time.Time) *Loop {
	return &Loop{
		trades: trades, resolve: resolve, ledger: ledger, hooks: hooks, now: now,
		sem:            semaphore.NewWeighted(5),
		limiter:        rate.NewLimiter(10, 5),
		Interval:       30 * time.Second,
		PendingTimeout: 10 * time.Minute,
	}
}

// Run drives the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cycle(ctx)
		}
	}
}

// Cycle runs a single reconcile pass; exported so tests and a manual CLI
// trigger can invoke it directly without waiting for the ticker.
func (l *Loop) Cycle(ctx context.Context) {
	pending, err := l.trades.ListTradesByStatus(ctx, model.TradePending)
	if err != nil {
		return
	}
	var wg sync.WaitGroup
	for _, t := range pending {
		if l.hooks.OnChecked != nil {
			l.hooks.OnChecked()
		}
		if l.now().Sub(t.LastBrokerUpdateAt) > l.PendingTimeout {
			if _, err := l.trades.MarkTimeout(ctx, t.TradeID); err == nil {
				if l.ledger != nil {
					l.ledger.Unlock(t.UserBrokerID, t.EntryQty.Mul(t.EntryPrice))
				}
				if l.hooks.OnTimeout != nil {
					l.hooks.OnTimeout(t.TradeID)
				}
			}
			continue
		}

		if !l.sem.TryAcquire(1) {
			if l.hooks.OnRateLimited != nil {
				l.hooks.OnRateLimited()
			}
			continue
		}
		wg.Add(1)
		go func(t model.Trade) {
			defer wg.Done()
			defer l.sem.Release(1)
			l.checkOne(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (l *Loop) checkOne(ctx context.Context, t model.Trade) {
	ob, err := l.resolve(t.UserBrokerID)
	if err != nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := l.limiter.Wait(callCtx); err != nil {
		return
	}
	status, err := ob.GetOrderStatus(callCtx, t.BrokerOrderID, t.ClientOrderID)
	if err != nil {
		return
	}
	changed, err := l.trades.ApplyBrokerStatus(ctx, t.TradeID, status.Status, status.FilledQty, status.AvgFillPrice)
	if err != nil || !changed {
		return
	}
	switch status.Status {
	case broker.OrderStatusComplete:
		if l.ledger != nil {
			l.ledger.Fill(t.UserBrokerID, status.FilledQty.Mul(status.AvgFillPrice))
		}
		if l.hooks.OnFilled != nil {
			l.hooks.OnFilled(t.TradeID)
		}
	case broker.OrderStatusCancelled:
		if l.ledger != nil {
			l.ledger.Unlock(t.UserBrokerID, t.EntryQty.Mul(t.EntryPrice))
		}
		if l.hooks.OnCancelled != nil {
			l.hooks.OnCancelled(t.TradeID)
		}
	case broker.OrderStatusRejected:
		if l.ledger != nil {
			l.ledger.Unlock(t.UserBrokerID, t.EntryQty.Mul(t.EntryPrice))
		}
		if l.hooks.OnBrokerReject != nil {
			l.hooks.OnBrokerReject(t.TradeID)
		}
	}
	if l.hooks.OnUpdated != nil {
		l.hooks.OnUpdated()
	}
}
