// Package tick implements C2 TickStream: exchange-timestamp-or-fallback
// deduplication and non-blocking fan-out to every interested subscriber
// (CandleBuilder, ExitMonitor, the last-price cache, and the opt-in
// broadcast emitter). Grounded on the teacher's internal/events/bus.go
// non-blocking select/default fan-out, generalized with the two-window
// dedup set spec §4.2 requires.
package tick

import (
	"sync"
	"time"

	"tradingcore/internal/model"
)

// dedupKey is the tuple spec §4.2 defines: symbol + (exchange timestamp if
// present, else receivedAt) + lastPrice + lastQty. Two ticks sharing this
// tuple are the same tick re-delivered.
type dedupKey struct {
	symbol string
	ts     int64 // UnixNano
	price  string
	qty    string
}

// Counters receives dedup/data-quality counts so C15 MetricsHooks can
// surface them without this package importing the metrics package.
type Counters struct {
	OnDuplicate         func(symbol string)
	OnMissingExchangeTS func(symbol string)
	OnDropped           func(subscriberName string)
}

// Stream is the C2 TickStream. Every accepted (non-duplicate) tick is
// fanned out, non-blocking, to all current subscribers.
type Stream struct {
	mu          sync.Mutex
	current     map[dedupKey]struct{}
	previous    map[dedupKey]struct{}
	lastSwap    time.Time
	swapEvery   time.Duration
	subs        []*subscriber
	counters    Counters
	now         func() time.Time
}

type subscriber struct {
	name string
	ch   chan model.Tick
}

// NewStream builds a tick stream with the spec-default 30s window swap.
func NewStream(now func() time.Time, counters Counters) *Stream {
	return &Stream{
		current:   make(map[dedupKey]struct{}),
		previous:  make(map[dedupKey]struct{}),
		swapEvery: 30 * time.Second,
		lastSwap:  now(),
		counters:  counters,
		now:       now,
	}
}

// Subscribe registers a named, buffered subscriber. name is used only for
// drop-counter attribution.
func (s *Stream) Subscribe(name string, buffer int) <-chan model.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &subscriber{name: name, ch: make(chan model.Tick, buffer)}
	s.subs = append(s.subs, sub)
	return sub.ch
}

// Ingest applies dedup and, if the tick is new, fans it out. Returns true
// if the tick was accepted (not a duplicate).
func (s *Stream) Ingest(t model.Tick) bool {
	ts, usedFallback := t.DedupTimestamp()
	if usedFallback && s.counters.OnMissingExchangeTS != nil {
		s.counters.OnMissingExchangeTS(t.Symbol)
	}

	key := dedupKey{symbol: t.Symbol, ts: ts.UnixNano(), price: t.LastPrice.String(), qty: t.LastQty.String()}

	s.mu.Lock()
	now := s.now()
	if now.Sub(s.lastSwap) >= s.swapEvery {
		s.previous = s.current
		s.current = make(map[dedupKey]struct{})
		s.lastSwap = now
	}
	_, inCurrent := s.current[key]
	_, inPrevious := s.previous[key]
	if inCurrent || inPrevious {
		s.mu.Unlock()
		if s.counters.OnDuplicate != nil {
			s.counters.OnDuplicate(t.Symbol)
		}
		return false
	}
	s.current[key] = struct{}{}
	subs := append([]*subscriber(nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- t:
		default:
			if s.counters.OnDropped != nil {
				s.counters.OnDropped(sub.name)
			}
		}
	}
	return true
}
