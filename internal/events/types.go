package events

// Scope identifies one of the three scopes spec §4.11 defines: GLOBAL
// (signals, candles, opt-in ticks), USER (portfolio scope), USER_BROKER (per
// account). The teacher's flat Event enum is replaced by a scope+name pair so
// subscribers can filter by scope the way spec §4.11 requires ("subscribers
// apply their own scope filter").
type Scope string

const (
	ScopeGlobal      Scope = "GLOBAL"
	ScopeUser        Scope = "USER"
	ScopeUserBroker  Scope = "USER_BROKER"
)

// Topic names, grouped by the component that emits them.
const (
	TopicCandleClosed    = "candle.closed"
	TopicSignalPublished = "signal.published"

	TopicIntentApproved = "intent.approved"
	TopicIntentRejected = "intent.rejected"

	TopicOrderSubmitted = "order.submitted"
	TopicOrderAccepted  = "order.accepted"
	TopicOrderRejected  = "order.rejected"
	TopicOrderTimeout   = "order.timeout"
	TopicTradeFilled    = "trade.filled"
	TopicTradeOpen      = "trade.open"
	TopicTradeClosed    = "trade.closed"

	TopicExitIntentRaised = "exit_intent.raised"

	// TopicTickRaw is opt-in only; ticks are ephemeral and not persisted
	// (spec §3), so this topic is never routed through Emit.
	TopicTickRaw = "tick.raw"
)

// Event is an envelope carrying a topic, its scope, the owning scope id
// (userId or userBrokerId; empty for GLOBAL), and the payload. Payloads
// carry scope IDs only, never object references, per spec §9's "cyclic
// relationships" note.
type Event struct {
	Topic     string
	Scope     Scope
	ScopeID   string // userId for USER scope, userBrokerId for USER_BROKER scope
	Payload   any
	// Persistable marks events that must be durably recorded before
	// publication (spec §4.11/§7 persist-then-emit discipline). Ephemeral
	// events (ticks, candles) are not persistable.
	Persistable bool
}
