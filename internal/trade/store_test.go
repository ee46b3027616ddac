package trade

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/model"
)

type fakeDB struct {
	byID       map[string]model.Trade
	byIntentID map[string]string // intentId -> tradeId
}

func newFakeDB() *fakeDB {
	return &fakeDB{byID: make(map[string]model.Trade), byIntentID: make(map[string]string)}
}

func (f *fakeDB) InsertTradeCreated(ctx context.Context, t model.Trade) error {
	f.byID[t.TradeID] = t
	f.byIntentID[t.IntentID] = t.TradeID
	return nil
}

func (f *fakeDB) GetTradeByIntentID(ctx context.Context, intentID string) (model.Trade, error) {
	id, ok := f.byIntentID[intentID]
	if !ok {
		return model.Trade{}, errNotFound
	}
	return f.byID[id], nil
}

func (f *fakeDB) GetTrade(ctx context.Context, tradeID string) (model.Trade, error) {
	t, ok := f.byID[tradeID]
	if !ok {
		return model.Trade{}, errNotFound
	}
	return t, nil
}

func (f *fakeDB) ListTradesByStatus(ctx context.Context, status model.TradeStatus) ([]model.Trade, error) {
	var out []model.Trade
	for _, t := range f.byID {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeDB) UpdateTrade(ctx context.Context, t model.Trade, expectedVersion int64, fromBroker bool, now time.Time) error {
	existing, ok := f.byID[t.TradeID]
	if !ok || existing.Version != expectedVersion {
		return errVersionConflict
	}
	t.Version = expectedVersion + 1
	f.byID[t.TradeID] = t
	return nil
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errNotFound = sentinelErr("not found")
const errVersionConflict = sentinelErr("version conflict")

func TestCreateIsIdempotentOnIntentID(t *testing.T) {
	db := newFakeDB()
	s := New(db, time.Now)

	t1, err := s.Create(context.Background(), "intent-1", "intent-1", "ub1", "SBIN", decimal.NewFromInt(100), decimal.NewFromFloat(502), model.TradeTypeNewBuy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t2, err := s.Create(context.Background(), "intent-1", "intent-1", "ub1", "SBIN", decimal.NewFromInt(100), decimal.NewFromFloat(502), model.TradeTypeNewBuy)
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if t1.TradeID != t2.TradeID {
		t.Fatalf("expected same trade id on replay, got %s vs %s", t1.TradeID, t2.TradeID)
	}
	if len(db.byID) != 1 {
		t.Fatalf("expected exactly one trade row, got %d", len(db.byID))
	}
}

func TestLegalTransitionSequence(t *testing.T) {
	db := newFakeDB()
	s := New(db, time.Now)

	tr, _ := s.Create(context.Background(), "intent-2", "intent-2", "ub1", "SBIN", decimal.NewFromInt(100), decimal.NewFromFloat(502), model.TradeTypeNewBuy)

	if _, err := s.MarkPending(context.Background(), tr.TradeID, "broker-order-1"); err != nil {
		t.Fatalf("CREATED->PENDING should be legal: %v", err)
	}
	if _, err := s.MarkFilled(context.Background(), tr.TradeID, decimal.NewFromInt(100), decimal.NewFromFloat(502)); err != nil {
		t.Fatalf("PENDING->FILLED should be legal: %v", err)
	}
	if _, err := s.MarkOpen(context.Background(), tr.TradeID, decimal.NewFromFloat(510), decimal.NewFromFloat(497)); err != nil {
		t.Fatalf("FILLED->OPEN should be legal: %v", err)
	}
	if _, err := s.MarkClosed(context.Background(), tr.TradeID, decimal.NewFromFloat(510.05), model.ExitTargetHit); err != nil {
		t.Fatalf("OPEN->CLOSED should be legal: %v", err)
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	db := newFakeDB()
	s := New(db, time.Now)

	tr, _ := s.Create(context.Background(), "intent-3", "intent-3", "ub1", "SBIN", decimal.NewFromInt(100), decimal.NewFromFloat(502), model.TradeTypeNewBuy)

	if _, err := s.MarkFilled(context.Background(), tr.TradeID, decimal.NewFromInt(100), decimal.NewFromFloat(502)); err == nil {
		t.Fatal("expected CREATED->FILLED to be rejected as a state machine violation")
	}
}

func TestRealizedPnlOnClose(t *testing.T) {
	db := newFakeDB()
	s := New(db, time.Now)

	tr, _ := s.Create(context.Background(), "intent-4", "intent-4", "ub1", "SBIN", decimal.NewFromInt(100), decimal.NewFromFloat(502), model.TradeTypeNewBuy)
	s.MarkPending(context.Background(), tr.TradeID, "bo-1")
	s.MarkFilled(context.Background(), tr.TradeID, decimal.NewFromInt(100), decimal.NewFromFloat(502))
	s.MarkOpen(context.Background(), tr.TradeID, decimal.NewFromFloat(510), decimal.NewFromFloat(497))
	closed, err := s.MarkClosed(context.Background(), tr.TradeID, decimal.NewFromFloat(510.05), model.ExitTargetHit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := decimal.NewFromFloat(805.00)
	if !closed.RealizedPnl.Equal(want) {
		t.Fatalf("expected realized pnl %s, got %s", want, closed.RealizedPnl)
	}
}

func TestApplyBrokerStatusCancelledTransitionsPendingToCancelled(t *testing.T) {
	db := newFakeDB()
	s := New(db, time.Now)

	tr, _ := s.Create(context.Background(), "intent-7", "intent-7", "ub1", "SBIN", decimal.NewFromInt(100), decimal.NewFromFloat(502), model.TradeTypeNewBuy)
	s.MarkPending(context.Background(), tr.TradeID, "bo-7")

	changed, err := s.ApplyBrokerStatus(context.Background(), tr.TradeID, "CANCELLED", decimal.Zero, decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected ApplyBrokerStatus to report a change on CANCELLED")
	}
	got, _ := s.Get(context.Background(), tr.TradeID)
	if got.Status != model.TradeCancelled {
		t.Fatalf("expected PENDING->CANCELLED, got %s", got.Status)
	}
}

func TestApplyBrokerStatusRejectedTransitionsPendingToRejected(t *testing.T) {
	db := newFakeDB()
	s := New(db, time.Now)

	tr, _ := s.Create(context.Background(), "intent-8", "intent-8", "ub1", "SBIN", decimal.NewFromInt(100), decimal.NewFromFloat(502), model.TradeTypeNewBuy)
	s.MarkPending(context.Background(), tr.TradeID, "bo-8")

	changed, err := s.ApplyBrokerStatus(context.Background(), tr.TradeID, "REJECTED", decimal.Zero, decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected ApplyBrokerStatus to report a change on REJECTED")
	}
	got, _ := s.Get(context.Background(), tr.TradeID)
	if got.Status != model.TradeRejected {
		t.Fatalf("expected PENDING->REJECTED, got %s", got.Status)
	}
}

func TestPruneClosedEvictsOldTerminalTradesOnly(t *testing.T) {
	db := newFakeDB()
	now := time.Now()
	s := New(db, func() time.Time { return now })

	open, _ := s.Create(context.Background(), "intent-5", "intent-5", "ub1", "SBIN", decimal.NewFromInt(100), decimal.NewFromFloat(502), model.TradeTypeNewBuy)
	s.MarkPending(context.Background(), open.TradeID, "bo-5")
	s.MarkFilled(context.Background(), open.TradeID, decimal.NewFromInt(100), decimal.NewFromFloat(502))
	s.MarkOpen(context.Background(), open.TradeID, decimal.NewFromFloat(510), decimal.NewFromFloat(497))

	stale, _ := s.Create(context.Background(), "intent-6", "intent-6", "ub1", "SBIN", decimal.NewFromInt(100), decimal.NewFromFloat(502), model.TradeTypeNewBuy)
	s.MarkRejected(context.Background(), stale.TradeID, "test")

	now = now.Add(2 * time.Hour)
	s.PruneClosed(time.Hour)

	if _, ok := s.cache[stale.TradeID]; ok {
		t.Fatal("expected the stale REJECTED trade to be pruned from the cache")
	}
	if _, ok := s.cache[open.TradeID]; !ok {
		t.Fatal("expected the OPEN (non-terminal) trade to remain cached regardless of age")
	}
}
