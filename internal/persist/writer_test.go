package persist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/model"
)

type fakeStore struct {
	mu     sync.Mutex
	writes int
	ticks  []model.Tick
}

func (f *fakeStore) InsertTickEventBatch(ctx context.Context, ticks []model.Tick) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.ticks = append(f.ticks, ticks...)
	return nil
}

func (f *fakeStore) count() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes, len(f.ticks)
}

func TestAsyncWriterFlushesOnIntervalTick(t *testing.T) {
	store := &fakeStore{}
	w := New(store, 100, 1000, 20*time.Millisecond, Hooks{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Close()

	w.Enqueue(model.Tick{Symbol: "SBIN", LastPrice: decimal.NewFromFloat(500)})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, n := store.count(); n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the enqueued tick to be flushed within the deadline")
}

func TestAsyncWriterDropsOnFullQueue(t *testing.T) {
	store := &fakeStore{}
	var dropped int
	var mu sync.Mutex
	w := New(store, 1, 1000, time.Hour, Hooks{OnDropped: func() {
		mu.Lock()
		dropped++
		mu.Unlock()
	}})
	// no Start(): queue never drains, so the second enqueue must drop.
	w.Enqueue(model.Tick{Symbol: "SBIN"})
	w.Enqueue(model.Tick{Symbol: "SBIN"})

	mu.Lock()
	got := dropped
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expected exactly one drop, got %d", got)
	}
}
