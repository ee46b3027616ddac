package exit

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/model"
)

type fakeTrades struct {
	open    []model.Trade
	trailed map[string]model.Trade
}

func (f *fakeTrades) LoadOpen(ctx context.Context) ([]model.Trade, error) { return f.open, nil }
func (f *fakeTrades) UpdateTrailing(ctx context.Context, tradeID string, highestPrice, stopPrice decimal.Decimal) (model.Trade, error) {
	t, ok := f.trailed[tradeID]
	if !ok {
		for _, o := range f.open {
			if o.TradeID == tradeID {
				t = o
			}
		}
	}
	t.TrailingHighestPrice = highestPrice
	t.TrailingStopPrice = stopPrice
	f.trailed[tradeID] = t
	return t, nil
}

type fakeProfiles struct{ profile model.RiskProfile }

func (f *fakeProfiles) ProfileForUserBroker(ctx context.Context, userBrokerID string) (model.RiskProfile, error) {
	return f.profile, nil
}

type fakeCooldowns struct {
	touched map[string]time.Time
}

func newFakeCooldowns() *fakeCooldowns { return &fakeCooldowns{touched: make(map[string]time.Time)} }

func (f *fakeCooldowns) LastCooldownTouch(ctx context.Context, userBrokerID, symbol, kind string) (time.Time, error) {
	return f.touched[userBrokerID+symbol+kind], nil
}
func (f *fakeCooldowns) TouchCooldown(ctx context.Context, userBrokerID, symbol, kind string, t time.Time) error {
	f.touched[userBrokerID+symbol+kind] = t
	return nil
}

type fakeExitIntents struct {
	inserted map[string]bool
	pending  map[string]bool
}

func newFakeExitIntents() *fakeExitIntents {
	return &fakeExitIntents{inserted: make(map[string]bool), pending: make(map[string]bool)}
}

func (f *fakeExitIntents) InsertExitIntent(ctx context.Context, ei model.ExitIntent) (bool, error) {
	key := ei.TradeID + string(ei.ExitReason) + ei.EpisodeID
	if f.inserted[key] {
		return false, nil
	}
	f.inserted[key] = true
	return true, nil
}
func (f *fakeExitIntents) HasPendingExitIntent(ctx context.Context, tradeID string) (bool, error) {
	return f.pending[tradeID], nil
}

type fakeExecutor struct {
	closed []string
}

func (f *fakeExecutor) PlaceExit(ctx context.Context, t model.Trade, trigger model.ExitTrigger, exitPrice decimal.Decimal) (model.Trade, error) {
	f.closed = append(f.closed, t.TradeID)
	t.Status = model.TradeClosed
	t.ExitTrigger = trigger
	t.ExitPrice = exitPrice
	return t, nil
}

func baseTrade() model.Trade {
	return model.Trade{
		TradeID: "t1", UserBrokerID: "ub1", Symbol: "SBIN", Status: model.TradeOpen,
		EntryQty: decimal.NewFromInt(100), EntryPrice: decimal.NewFromFloat(500),
		ExitTargetPrice: decimal.NewFromFloat(520), ExitStopPrice: decimal.NewFromFloat(490),
		TrailingHighestPrice: decimal.NewFromFloat(500), TrailingStopPrice: decimal.NewFromFloat(490),
		OpenedAt: time.Now(),
	}
}

func newMonitor(trade model.Trade, now time.Time) (*Monitor, *fakeExecutor) {
	trades := &fakeTrades{open: []model.Trade{trade}, trailed: make(map[string]model.Trade)}
	exec := &fakeExecutor{}
	m := New(trades, &fakeProfiles{profile: model.RiskProfile{MaxHoldDuration: time.Hour}}, newFakeCooldowns(), newFakeExitIntents(), exec, nil, Hooks{}, func() time.Time { return now })
	m.Load(context.Background())
	return m, exec
}

func TestTargetHitTriggersExit(t *testing.T) {
	now := time.Now()
	m, exec := newMonitor(baseTrade(), now)

	m.OnTick(context.Background(), model.Tick{Symbol: "SBIN", LastPrice: decimal.NewFromFloat(521)})

	if len(exec.closed) != 1 || exec.closed[0] != "t1" {
		t.Fatalf("expected target-hit exit to fire, got %v", exec.closed)
	}
}

func TestStopHitTriggersExit(t *testing.T) {
	now := time.Now()
	m, exec := newMonitor(baseTrade(), now)

	m.OnTick(context.Background(), model.Tick{Symbol: "SBIN", LastPrice: decimal.NewFromFloat(489)})

	if len(exec.closed) != 1 {
		t.Fatalf("expected stop-loss exit to fire, got %v", exec.closed)
	}
}

func TestTrailingStopUpdatesAndTriggers(t *testing.T) {
	now := time.Now()
	m, exec := newMonitor(baseTrade(), now)
	ctx := context.Background()

	// price rallies to 515, raising the trailing highest and stop.
	m.OnTick(ctx, model.Tick{Symbol: "SBIN", LastPrice: decimal.NewFromFloat(515)})
	if len(exec.closed) != 0 {
		t.Fatalf("rally should not trigger an exit, got %v", exec.closed)
	}

	// retrace by 40% of (515-500)=15 -> stop at 515-6=509; a drop to 508 should trigger.
	m.OnTick(ctx, model.Tick{Symbol: "SBIN", LastPrice: decimal.NewFromFloat(508)})
	if len(exec.closed) != 1 {
		t.Fatalf("expected trailing-stop exit after 40%% giveback, got %v", exec.closed)
	}
}

func TestPendingExitIntentSuppressesDuplicate(t *testing.T) {
	now := time.Now()
	trades := &fakeTrades{open: []model.Trade{baseTrade()}, trailed: make(map[string]model.Trade)}
	exec := &fakeExecutor{}
	exitIntents := newFakeExitIntents()
	exitIntents.pending["t1"] = true
	m := New(trades, &fakeProfiles{profile: model.RiskProfile{MaxHoldDuration: time.Hour}}, newFakeCooldowns(), exitIntents, exec, nil, Hooks{}, func() time.Time { return now })
	m.Load(context.Background())

	m.OnTick(context.Background(), model.Tick{Symbol: "SBIN", LastPrice: decimal.NewFromFloat(521)})

	if len(exec.closed) != 0 {
		t.Fatalf("expected no exit placed while an exit intent is already pending, got %v", exec.closed)
	}
}

func TestTimeExitFiresAfterMaxHold(t *testing.T) {
	trade := baseTrade()
	trade.OpenedAt = time.Now().Add(-2 * time.Hour)
	trade.ExitTargetPrice = decimal.NewFromFloat(9999)
	trade.ExitStopPrice = decimal.Zero
	now := time.Now()

	trades := &fakeTrades{open: []model.Trade{trade}, trailed: make(map[string]model.Trade)}
	exec := &fakeExecutor{}
	m := New(trades, &fakeProfiles{profile: model.RiskProfile{MaxHoldDuration: time.Hour}}, newFakeCooldowns(), newFakeExitIntents(), exec, nil, Hooks{}, func() time.Time { return now })
	m.Load(context.Background())

	m.OnTick(context.Background(), model.Tick{Symbol: "SBIN", LastPrice: decimal.NewFromFloat(500)})

	if len(exec.closed) != 1 {
		t.Fatalf("expected time-exit to fire after max hold duration, got %v", exec.closed)
	}
}
