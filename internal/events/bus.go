// Package events implements C11 EventBus: a persist-then-emit pub/sub broker
// over GLOBAL/USER/USER_BROKER topics. The non-blocking fan-out is a direct
// generalization of the teacher's internal/events/bus.go (same select/default
// drop-on-full shape); Emit is new, built to satisfy spec §4.11's
// "persist (if persistable) then enqueue; if persist fails the event is not
// emitted" rule and P10.
package events

import (
	"context"
	"sync"
)

// DropCounter receives a callback whenever an event is dropped because a
// subscriber's channel was full, so C15 MetricsHooks can track
// events.dropped{topic} without the bus importing the metrics package.
type DropCounter func(topic string)

// Bus is a lightweight pub/sub broker using buffered channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]*subscription
	onDrop  DropCounter
}

type subscription struct {
	ch     chan Event
	filter func(Event) bool
}

// NewBus creates an event bus. onDrop may be nil.
func NewBus(onDrop DropCounter) *Bus {
	return &Bus{subs: make(map[string][]*subscription), onDrop: onDrop}
}

// Subscribe registers a listener for a topic with an optional scope filter
// predicate (spec §4.11: "subscribers apply their own scope filter, e.g.
// only deliver USER_BROKER events for my user_broker_id"). Returns the
// channel and an unsubscribe function.
func (b *Bus) Subscribe(topic string, buffer int, filter func(Event) bool) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{ch: make(chan Event, buffer), filter: filter}
	b.subs[topic] = append(b.subs[topic], sub)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, s := range subs {
			if s == sub {
				close(s.ch)
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
	return sub.ch, unsub
}

// publish fans the event out to matching subscribers, never blocking the
// caller. This is the only synchronous work Emit performs after a
// successful persist, matching the critical non-blocking invariant in spec §5.
func (b *Bus) publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[e.Topic] {
		if sub.filter != nil && !sub.filter(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			if b.onDrop != nil {
				b.onDrop(e.Topic)
			}
		}
	}
}

// Persister durably records a persistable event. Implementations live
// alongside the component that owns the event's table (e.g. trade.Store for
// TopicTradeFilled) so the bus itself stays storage-agnostic.
type Persister interface {
	Persist(ctx context.Context, e Event) error
}

// Emit implements the persist-then-emit discipline: non-persistable
// (ephemeral) events are published immediately; persistable events are
// persisted first and only published on success. On persist failure the
// event is never published and the error is returned to the caller
// (spec §4.11, P10).
func (b *Bus) Emit(ctx context.Context, p Persister, e Event) error {
	if e.Persistable {
		if p == nil {
			panic("events: persistable event emitted with nil Persister")
		}
		if err := p.Persist(ctx, e); err != nil {
			return err
		}
	}
	b.publish(e)
	return nil
}

// EmitEphemeral publishes a non-persistable event (ticks, candles) directly,
// with no persistence step and no possibility of blocking the caller.
func (b *Bus) EmitEphemeral(e Event) {
	b.publish(e)
}
