// Package trade implements C8 TradeStateStore: the sole writer of trade
// rows, enforcing the state machine from spec §4.8 and single-writer
// discipline. Grounded on the teacher's internal/state/manager.go
// cache-over-DB pattern (in-memory map backed by authoritative persistence)
// and pkg/db/models.go's optimistic-concurrency upsert idiom.
package trade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradingcore/internal/model"
)

// DB is the persistence seam this store needs.
type DB interface {
	InsertTradeCreated(ctx context.Context, t model.Trade) error
	GetTradeByIntentID(ctx context.Context, intentID string) (model.Trade, error)
	GetTrade(ctx context.Context, tradeID string) (model.Trade, error)
	ListTradesByStatus(ctx context.Context, status model.TradeStatus) ([]model.Trade, error)
	UpdateTrade(ctx context.Context, t model.Trade, expectedVersion int64, fromBroker bool, now time.Time) error
}

var legalTransitions = map[model.TradeStatus]map[model.TradeStatus]bool{
	model.TradeCreated: {model.TradePending: true, model.TradeRejected: true},
	model.TradePending: {model.TradeFilled: true, model.TradeRejected: true, model.TradeCancelled: true, model.TradeTimeout: true},
	model.TradeFilled:  {model.TradeOpen: true},
	model.TradeOpen:    {model.TradeClosed: true},
}

// Store is C8. Single-writer discipline is enforced socially: every caller
// (executor, reconciler, exit monitor) goes through these named transition
// methods rather than writing the trades table directly.
type Store struct {
	db  DB
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]model.Trade // tradeId -> latest known row
}

// New builds a trade store over db.
func New(db DB, now func() time.Time) *Store {
	return &Store{db: db, now: now, cache: make(map[string]model.Trade)}
}

// LoadOpen loads all OPEN trades from the DB into the cache, used by the
// ExitMonitor at startup (spec §4.10 "on start, loads all OPEN trades").
func (s *Store) LoadOpen(ctx context.Context) ([]model.Trade, error) {
	trades, err := s.db.ListTradesByStatus(ctx, model.TradeOpen)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for _, t := range trades {
		s.cache[t.TradeID] = t
	}
	s.mu.Unlock()
	return trades, nil
}

// Create inserts a trade row in state=CREATED, the first write in the
// executor's happy path (spec §4.7 point 1).
func (s *Store) Create(ctx context.Context, intentID, clientOrderID, userBrokerID, symbol string, qty, limitPrice decimal.Decimal, tradeType model.TradeType) (model.Trade, error) {
	existing, err := s.db.GetTradeByIntentID(ctx, intentID)
	if err == nil {
		return existing, nil // idempotent replay (spec E2): trade already exists for this intent
	}

	now := s.now()
	t := model.Trade{
		TradeID: uuid.NewString(), IntentID: intentID, ClientOrderID: clientOrderID,
		UserBrokerID: userBrokerID, Symbol: symbol, EntryQty: qty, EntryPrice: limitPrice,
		Status: model.TradeCreated, TradeType: tradeType, CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	if err := s.db.InsertTradeCreated(ctx, t); err != nil {
		return model.Trade{}, err
	}
	s.mu.Lock()
	s.cache[t.TradeID] = t
	s.mu.Unlock()
	return t, nil
}

func (s *Store) transition(ctx context.Context, tradeID string, to model.TradeStatus, fromBroker bool, mutate func(*model.Trade)) (model.Trade, error) {
	t, err := s.db.GetTrade(ctx, tradeID)
	if err != nil {
		return model.Trade{}, err
	}
	if !legalTransitions[t.Status][to] {
		return model.Trade{}, fmt.Errorf("state machine violation: trade %s %s -> %s", tradeID, t.Status, to)
	}
	expectedVersion := t.Version
	t.Status = to
	if mutate != nil {
		mutate(&t)
	}
	now := s.now()
	t.UpdatedAt = now
	if err := s.db.UpdateTrade(ctx, t, expectedVersion, fromBroker, now); err != nil {
		return model.Trade{}, err
	}
	t.Version = expectedVersion + 1
	s.mu.Lock()
	s.cache[tradeID] = t
	s.mu.Unlock()
	return t, nil
}

// MarkPending transitions CREATED -> PENDING on synchronous broker accept.
func (s *Store) MarkPending(ctx context.Context, tradeID, brokerOrderID string) (model.Trade, error) {
	return s.transition(ctx, tradeID, model.TradePending, true, func(t *model.Trade) {
		t.BrokerOrderID = brokerOrderID
	})
}

// MarkRejected transitions CREATED|PENDING -> REJECTED.
func (s *Store) MarkRejected(ctx context.Context, tradeID, reason string) (model.Trade, error) {
	return s.transition(ctx, tradeID, model.TradeRejected, false, nil)
}

// MarkTimeout transitions PENDING -> TIMEOUT (spec E3).
func (s *Store) MarkTimeout(ctx context.Context, tradeID string) (model.Trade, error) {
	return s.transition(ctx, tradeID, model.TradeTimeout, true, func(t *model.Trade) {
		t.ExitTrigger = ""
	})
}

// MarkFilled transitions PENDING -> FILLED with broker-reported fill data.
func (s *Store) MarkFilled(ctx context.Context, tradeID string, filledQty, avgFillPrice decimal.Decimal) (model.Trade, error) {
	return s.transition(ctx, tradeID, model.TradeFilled, true, func(t *model.Trade) {
		t.EntryQty = filledQty
		t.EntryPrice = avgFillPrice
	})
}

// MarkOpen transitions FILLED -> OPEN, setting the initial exit prices.
func (s *Store) MarkOpen(ctx context.Context, tradeID string, targetPrice, stopPrice decimal.Decimal) (model.Trade, error) {
	return s.transition(ctx, tradeID, model.TradeOpen, false, func(t *model.Trade) {
		t.ExitTargetPrice = targetPrice
		t.ExitStopPrice = stopPrice
		t.TrailingHighestPrice = t.EntryPrice
		t.TrailingStopPrice = stopPrice
		t.OpenedAt = s.now()
	})
}

// MarkClosed transitions OPEN -> CLOSED with exit bookkeeping.
func (s *Store) MarkClosed(ctx context.Context, tradeID string, exitPrice decimal.Decimal, trigger model.ExitTrigger) (model.Trade, error) {
	return s.transition(ctx, tradeID, model.TradeClosed, false, func(t *model.Trade) {
		t.ExitPrice = exitPrice
		t.ExitTrigger = trigger
		t.RealizedPnl = exitPrice.Sub(t.EntryPrice).Mul(t.EntryQty)
	})
}

// UpdateTrailing records a new trailing-stop anchor without changing state,
// used by the ExitMonitor's per-tick trailing-stop update (spec §4.10.c).
func (s *Store) UpdateTrailing(ctx context.Context, tradeID string, highestPrice, stopPrice decimal.Decimal) (model.Trade, error) {
	t, err := s.db.GetTrade(ctx, tradeID)
	if err != nil {
		return model.Trade{}, err
	}
	expectedVersion := t.Version
	t.TrailingHighestPrice = highestPrice
	t.TrailingStopPrice = stopPrice
	now := s.now()
	t.UpdatedAt = now
	if err := s.db.UpdateTrade(ctx, t, expectedVersion, false, now); err != nil {
		return model.Trade{}, err
	}
	t.Version = expectedVersion + 1
	s.mu.Lock()
	s.cache[tradeID] = t
	s.mu.Unlock()
	return t, nil
}

// ApplyBrokerStatus reconciles a trade against a broker-reported
// {status, filledQty, avgFillPrice} comparison by value (spec §4.9), used
// by the ReconcilerLoop. Returns (changed, error).
func (s *Store) ApplyBrokerStatus(ctx context.Context, tradeID, brokerStatus string, filledQty, avgFillPrice decimal.Decimal) (bool, error) {
	t, err := s.db.GetTrade(ctx, tradeID)
	if err != nil {
		return false, err
	}
	changed := brokerStatus == "COMPLETE" || brokerStatus == "CANCELLED" || brokerStatus == "REJECTED" ||
		!t.EntryQty.Equal(filledQty) || !t.EntryPrice.Equal(avgFillPrice)
	if !changed {
		// still refresh lastBrokerUpdateAt: "we heard from the broker" (spec §4.9)
		expectedVersion := t.Version
		now := s.now()
		t.UpdatedAt = now
		return false, s.db.UpdateTrade(ctx, t, expectedVersion, true, now)
	}
	if t.Status != model.TradePending {
		return false, nil
	}
	switch brokerStatus {
	case "COMPLETE":
		_, err := s.MarkFilled(ctx, tradeID, filledQty, avgFillPrice)
		return true, err
	case "CANCELLED":
		_, err := s.transition(ctx, tradeID, model.TradeCancelled, true, nil)
		return true, err
	case "REJECTED":
		_, err := s.transition(ctx, tradeID, model.TradeRejected, true, nil)
		return true, err
	}
	return false, nil
}

// PruneClosed evicts terminal trades (CLOSED/REJECTED/TIMEOUT/CANCELLED)
// last updated before ttl ago from the in-memory cache, so a long-lived
// process doesn't accumulate one entry per trade forever. The DB row is
// untouched; only the cache is pruned. Grounded on the teacher's
// balance.MultiUserManager.CleanupIdle sweep, applied here to the trade
// cache instead of a per-user manager map.
func (s *Store) PruneClosed(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.cache {
		if !t.Status.Terminal() {
			continue
		}
		if t.UpdatedAt.Before(cutoff) {
			delete(s.cache, id)
		}
	}
}

// Get returns the cached trade, falling back to the DB.
func (s *Store) Get(ctx context.Context, tradeID string) (model.Trade, error) {
	s.mu.RLock()
	t, ok := s.cache[tradeID]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}
	return s.db.GetTrade(ctx, tradeID)
}
