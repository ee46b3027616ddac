// Package persist implements the AsyncWriter Open Question 2 resolves:
// tick-event persistence, when enabled, goes through a bounded-queue batch
// writer rather than a synchronous insert per tick. Grounded on the
// teacher's internal/persistence/batch_writer.go (size/interval dual flush
// trigger, one transaction per batch), restructured from a mutex-guarded
// slice onto a buffered channel so a full queue drops with a counter
// instead of growing unboundedly — the spec's "bounded queue" requirement
// for every suspension point (spec §5).
package persist

import (
	"context"
	"sync"
	"time"

	"tradingcore/internal/model"
)

// Store is the persistence seam this writer needs.
type Store interface {
	InsertTickEventBatch(ctx context.Context, ticks []model.Tick) error
}

// Hooks lets callers observe outcomes for C15 MetricsHooks.
type Hooks struct {
	OnDropped func()
	OnFlushed func(n int)
	OnError   func(err error)
}

// AsyncWriter batches ticks into periodic transactional writes. main.go
// constructs it only when config.PersistTickEvents and
// config.AsyncEventWriterEnabled are both true (spec §4.12 point 1).
type AsyncWriter struct {
	store Store
	hooks Hooks

	queue    chan model.Tick
	maxBatch int
	interval time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds a writer with a bounded queue of depth queueDepth, flushing at
// maxBatch items or every interval, whichever comes first.
func New(store Store, queueDepth, maxBatch int, interval time.Duration, hooks Hooks) *AsyncWriter {
	if queueDepth <= 0 {
		queueDepth = 10000
	}
	if maxBatch <= 0 {
		maxBatch = 200
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &AsyncWriter{
		store: store, hooks: hooks, queue: make(chan model.Tick, queueDepth),
		maxBatch: maxBatch, interval: interval, done: make(chan struct{}),
	}
}

// Start runs the background flush loop until ctx is cancelled or Close is
// called.
func (w *AsyncWriter) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Enqueue offers a tick to the write queue; if the queue is full, the tick
// is dropped and a counter increments rather than blocking the tick-stream
// subscriber thread (spec §5's non-blocking fan-out invariant extends to
// every subscriber, including this one).
func (w *AsyncWriter) Enqueue(tk model.Tick) {
	select {
	case w.queue <- tk:
	default:
		if w.hooks.OnDropped != nil {
			w.hooks.OnDropped()
		}
	}
}

func (w *AsyncWriter) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]model.Tick, 0, w.maxBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.store.InsertTickEventBatch(ctx, batch); err != nil {
			if w.hooks.OnError != nil {
				w.hooks.OnError(err)
			}
		} else if w.hooks.OnFlushed != nil {
			w.hooks.OnFlushed(len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case tk := <-w.queue:
			batch = append(batch, tk)
			if len(batch) >= w.maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close stops the flush loop after a final flush.
func (w *AsyncWriter) Close() {
	close(w.done)
	w.wg.Wait()
}
