// Package order implements C7 OrderExecutor: the only writer that moves a
// trade CREATED -> PENDING or CREATED -> REJECTED. Grounded on the
// teacher's internal/order/executor.go Handle shape, with the create-row-
// before-broker-call ordering inverted to match spec §4.7 point 1
// explicitly (the teacher persisted only after the broker call returned).
package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"tradingcore/internal/broker"
	"tradingcore/internal/model"
)

// Trades is the subset of trade.Store the executor drives.
type Trades interface {
	Create(ctx context.Context, intentID, clientOrderID, userBrokerID, symbol string, qty, limitPrice decimal.Decimal, tradeType model.TradeType) (model.Trade, error)
	MarkPending(ctx context.Context, tradeID, brokerOrderID string) (model.Trade, error)
	MarkRejected(ctx context.Context, tradeID, reason string) (model.Trade, error)
	MarkClosed(ctx context.Context, tradeID string, exitPrice decimal.Decimal, trigger model.ExitTrigger) (model.Trade, error)
}

// Hooks lets callers observe outcomes without this package depending on the
// events package.
type Hooks struct {
	OnSubmitted func(model.Trade)
	OnAccepted  func(model.Trade)
	OnRejected  func(model.Trade)
}

// Ledger is the cash-accounting seam the executor reserves and settles
// against: lock the order value ahead of the broker call (spec §4.6 point
// 13), release it if the broker rejects, credit exit proceeds back on
// close.
type Ledger interface {
	Lock(userBrokerID string, amount decimal.Decimal) error
	Unlock(userBrokerID string, amount decimal.Decimal)
	Credit(userBrokerID string, proceeds decimal.Decimal)
}

// Executor is C7. Each instance serves one OrderBroker (main.go resolves a
// fresh one per call); callers are expected to dispatch
// per user-broker to a single-threaded worker (spec §5: "single-threaded
// per user-broker... a small pool handles different user-brokers in
// parallel").
type Executor struct {
	trades  Trades
	broker  broker.OrderBroker
	ledger  Ledger
	hooks   Hooks
	limiter *rate.Limiter
}

// New builds an executor bound to one OrderBroker (one per user-broker, per
// BrokerFactory.Resolve), pacing its outbound PlaceOrder/GetOrderStatus
// calls at 10/sec with a burst of 5 (same token-bucket budget as
// internal/reconcile.Loop's broker polling, since both share the one
// outbound-call-pacing concern spec §4.7/§4.9 name). ledger may be nil when
// cash accounting isn't wired (e.g. in tests).
func New(trades Trades, ob broker.OrderBroker, ledger Ledger, hooks Hooks) *Executor {
	return &Executor{trades: trades, broker: ob, ledger: ledger, hooks: hooks, limiter: rate.NewLimiter(10, 5)}
}

// PlaceEntry executes an APPROVED TradeIntent: create the trade row in
// CREATED state first, then place the order with clientOrderId = intentId.
func (e *Executor) PlaceEntry(ctx context.Context, ti model.TradeIntent, symbol string) (model.Trade, error) {
	t, err := e.trades.Create(ctx, ti.IntentID, ti.IntentID, ti.UserBrokerID, symbol, ti.ApprovedQty, ti.LimitPrice, ti.TradeType)
	if err != nil {
		return model.Trade{}, err
	}
	if e.hooks.OnSubmitted != nil {
		e.hooks.OnSubmitted(t)
	}
	if t.Status != model.TradeCreated {
		// Idempotent replay (spec E2): trade already advanced past CREATED,
		// nothing further to do here.
		return t, nil
	}

	orderValue := ti.ApprovedQty.Mul(ti.LimitPrice)
	if e.ledger != nil {
		if err := e.ledger.Lock(ti.UserBrokerID, orderValue); err != nil {
			rejected, rerr := e.trades.MarkRejected(ctx, t.TradeID, "INSUFFICIENT_BALANCE")
			if rerr != nil {
				return model.Trade{}, rerr
			}
			if e.hooks.OnRejected != nil {
				e.hooks.OnRejected(rejected)
			}
			return rejected, nil
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		if e.ledger != nil {
			e.ledger.Unlock(ti.UserBrokerID, orderValue)
		}
		rejected, rerr := e.trades.MarkRejected(ctx, t.TradeID, fmt.Sprintf("transport: %v", err))
		if rerr != nil {
			return model.Trade{}, rerr
		}
		if e.hooks.OnRejected != nil {
			e.hooks.OnRejected(rejected)
		}
		return rejected, nil
	}
	resp, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		ClientOrderID: ti.IntentID, Symbol: symbol, Side: "BUY",
		Qty: ti.ApprovedQty, LimitPrice: ti.LimitPrice, ProductType: ti.ProductType,
	})
	if err != nil {
		// Transport error: never retry at this layer (spec §4.7 point 5).
		if e.ledger != nil {
			e.ledger.Unlock(ti.UserBrokerID, orderValue)
		}
		rejected, rerr := e.trades.MarkRejected(ctx, t.TradeID, fmt.Sprintf("transport: %v", err))
		if rerr != nil {
			return model.Trade{}, rerr
		}
		if e.hooks.OnRejected != nil {
			e.hooks.OnRejected(rejected)
		}
		return rejected, nil
	}
	if !resp.Accepted {
		if e.ledger != nil {
			e.ledger.Unlock(ti.UserBrokerID, orderValue)
		}
		rejected, rerr := e.trades.MarkRejected(ctx, t.TradeID, resp.RejectReason)
		if rerr != nil {
			return model.Trade{}, rerr
		}
		if e.hooks.OnRejected != nil {
			e.hooks.OnRejected(rejected)
		}
		return rejected, nil
	}

	pending, err := e.trades.MarkPending(ctx, t.TradeID, resp.BrokerOrderID)
	if err != nil {
		return model.Trade{}, err
	}
	if e.hooks.OnAccepted != nil {
		e.hooks.OnAccepted(pending)
	}
	return pending, nil
}

// PlaceExit executes an ExitIntent by reusing the entry path in reverse
// (spec §9 Open Question 4: "implementers should reuse OrderExecutor by
// treating an ExitIntent as an APPROVED intent of reverse direction
// referencing the same trade"). On synchronous fill it drives OPEN ->
// CLOSED directly since the simulator/paper broker fills immediately; a
// real broker's fill would instead surface through the reconciler.
func (e *Executor) PlaceExit(ctx context.Context, t model.Trade, trigger model.ExitTrigger, exitPrice decimal.Decimal) (model.Trade, error) {
	clientOrderID := t.TradeID + ":" + string(trigger)
	if err := e.limiter.Wait(ctx); err != nil {
		return t, err
	}
	resp, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		ClientOrderID: clientOrderID, Symbol: t.Symbol, Side: "SELL",
		Qty: t.EntryQty, LimitPrice: exitPrice, ProductType: "",
	})
	if err != nil || !resp.Accepted {
		return t, err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return t, err
	}
	status, err := e.broker.GetOrderStatus(ctx, resp.BrokerOrderID, clientOrderID)
	if err != nil {
		return t, err
	}
	if status.Status != broker.OrderStatusComplete {
		return t, nil
	}
	closed, err := e.trades.MarkClosed(ctx, t.TradeID, status.AvgFillPrice, trigger)
	if err != nil {
		return model.Trade{}, err
	}
	if e.ledger != nil {
		e.ledger.Credit(t.UserBrokerID, status.FilledQty.Mul(status.AvgFillPrice))
	}
	return closed, nil
}
