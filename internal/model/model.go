// Package model holds the domain types shared across the tick-to-exit
// pipeline. Money and quantity fields use shopspring/decimal rather than the
// teacher's raw float64 so that the fixed-2-decimal invariants in the data
// model can be enforced exactly rather than approximately.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Round2 rounds d to 2 decimal places, half away from zero (not banker's rounding),
// matching the persistence-layer CHECK(price = round(price,2)) invariant.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Tick is an immutable, ephemeral market-data point. Ticks are never
// persisted; only derived candles are.
type Tick struct {
	Symbol           string
	ExchangeTS       time.Time
	ExchangeTSValid  bool
	ReceivedAt       time.Time
	LastPrice        decimal.Decimal
	LastQty          decimal.Decimal
	Volume           decimal.Decimal
}

// DedupTimestamp returns the timestamp component of the dedup key, falling
// back to ReceivedAt when the exchange did not supply one.
func (t Tick) DedupTimestamp() (ts time.Time, usedFallback bool) {
	if t.ExchangeTSValid {
		return t.ExchangeTS, false
	}
	return t.ReceivedAt, true
}

// CandleState is PARTIAL while a candle is still accumulating ticks, CLOSED
// once its bucket boundary has passed.
type CandleState string

const (
	CandlePartial CandleState = "PARTIAL"
	CandleClosed  CandleState = "CLOSED"
)

// Timeframe enumerates the supported candle aggregation windows, in minutes.
type Timeframe int

const (
	TF1m   Timeframe = 1
	TF25m  Timeframe = 25
	TF125m Timeframe = 125
	TF1440 Timeframe = 1440 // DAILY, used only for previous-close LTP fallback
)

// Candle is an OHLCV bar for one symbol/timeframe/bucket.
type Candle struct {
	Symbol      string
	Timeframe   Timeframe
	BucketStart time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	State       CandleState
}

// ConfluenceType classifies how many timeframes agree on the buy zone.
type ConfluenceType string

const (
	ConfluenceSingle ConfluenceType = "SINGLE"
	ConfluenceDouble ConfluenceType = "DOUBLE"
	ConfluenceTriple ConfluenceType = "TRIPLE"
)

// Rank orders confluence types so a RiskProfile.MinConfluence gate can
// compare by ordinal rather than string.
func (c ConfluenceType) Rank() int {
	switch c {
	case ConfluenceTriple:
		return 3
	case ConfluenceDouble:
		return 2
	case ConfluenceSingle:
		return 1
	default:
		return 0
	}
}

// SignalStrength buckets the composite confluence score.
type SignalStrength string

const (
	StrengthWeak        SignalStrength = "WEAK"
	StrengthModerate    SignalStrength = "MODERATE"
	StrengthStrong      SignalStrength = "STRONG"
	StrengthVeryStrong  SignalStrength = "VERY_STRONG"
)

// Multiplier returns the strength's kelly-fraction multiplier (spec §4.5.4).
func (s SignalStrength) Multiplier() decimal.Decimal {
	switch s {
	case StrengthVeryStrong:
		return decimal.NewFromFloat(1.20)
	case StrengthStrong:
		return decimal.NewFromFloat(1.00)
	case StrengthModerate:
		return decimal.NewFromFloat(0.75)
	default:
		return decimal.NewFromFloat(0.50)
	}
}

// SignalStatus tracks a signal's lifecycle after publication.
type SignalStatus string

const (
	SignalPublished SignalStatus = "PUBLISHED"
	SignalSuperseded SignalStatus = "SUPERSEDED"
	SignalExpired    SignalStatus = "EXPIRED"
)

// Signal is a GLOBAL, user-agnostic trade opportunity.
type Signal struct {
	SignalID         string
	Symbol           string
	Direction        string // always "BUY" in the long-only core
	GeneratedAt      time.Time
	SignalDay        time.Time // date(GeneratedAt), truncated to midnight UTC
	ConfluenceType   ConfluenceType
	CompositeScore   decimal.Decimal
	Strength         SignalStrength
	EffectiveFloor   decimal.Decimal
	EffectiveCeiling decimal.Decimal
	EntryLow         decimal.Decimal
	EntryHigh        decimal.Decimal
	RefPrice         decimal.Decimal
	PWin             decimal.Decimal
	Kelly            decimal.Decimal
	Status           SignalStatus
	LastCheckedAt    time.Time
}

// IntentStatus tracks a TradeIntent's validation outcome.
type IntentStatus string

const (
	IntentPendingValidation IntentStatus = "PENDING_VALIDATION"
	IntentApproved          IntentStatus = "APPROVED"
	IntentRejected          IntentStatus = "REJECTED"
)

// TradeType distinguishes a fresh entry from an add-to-position pyramid buy.
type TradeType string

const (
	TradeTypeNewBuy TradeType = "NEWBUY"
	TradeTypeRebuy  TradeType = "REBUY"
)

// TradeIntent is a per-user-broker decision to attempt a trade.
type TradeIntent struct {
	IntentID     string // UUID; also the broker clientOrderId
	SignalID     string
	UserBrokerID string
	ApprovedQty  decimal.Decimal
	LimitPrice   decimal.Decimal
	ProductType  string
	TradeType    TradeType
	Status       IntentStatus
	RejectReason string
	CreatedAt    time.Time
}

// TradeStatus is the full state-machine vocabulary from spec §3/§4.8.
type TradeStatus string

const (
	TradeCreated   TradeStatus = "CREATED"
	TradePending   TradeStatus = "PENDING"
	TradeFilled    TradeStatus = "FILLED"
	TradeOpen      TradeStatus = "OPEN"
	TradeClosed    TradeStatus = "CLOSED"
	TradeRejected  TradeStatus = "REJECTED"
	TradeCancelled TradeStatus = "CANCELLED"
	TradeTimeout   TradeStatus = "TIMEOUT"
)

// Terminal reports whether a status has no further legal outgoing transition.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeRejected, TradeCancelled, TradeTimeout, TradeClosed:
		return true
	default:
		return false
	}
}

// ExitTrigger names which exit rule fired.
type ExitTrigger string

const (
	ExitTargetHit      ExitTrigger = "TARGET_HIT"
	ExitStopLoss       ExitTrigger = "STOP_LOSS"
	ExitTrailingStop   ExitTrigger = "TRAILING_STOP"
	ExitBrickReversal  ExitTrigger = "BRICK_REVERSAL"
	ExitTimeExit       ExitTrigger = "TIME_EXIT"
	ExitManual         ExitTrigger = "MANUAL"
)

// Trade is the per-user-broker position lifecycle record.
type Trade struct {
	TradeID              string
	IntentID             string
	ClientOrderID        string
	BrokerOrderID        string
	UserBrokerID         string
	Symbol               string
	EntryQty             decimal.Decimal
	EntryPrice           decimal.Decimal
	ExitPrice            decimal.Decimal
	Status               TradeStatus
	TradeType            TradeType
	ExitTargetPrice      decimal.Decimal
	ExitStopPrice        decimal.Decimal
	TrailingHighestPrice decimal.Decimal
	TrailingStopPrice    decimal.Decimal
	ExitTrigger          ExitTrigger
	RealizedPnl          decimal.Decimal
	OpenedAt             time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
	LastBrokerUpdateAt   time.Time
	Version              int64
}

// ExitIntentStatus tracks the lifecycle of an exit attempt.
type ExitIntentStatus string

const (
	ExitIntentPending  ExitIntentStatus = "PENDING"
	ExitIntentApproved ExitIntentStatus = "APPROVED"
	ExitIntentPlaced   ExitIntentStatus = "PLACED"
	ExitIntentFilled   ExitIntentStatus = "FILLED"
	ExitIntentFailed   ExitIntentStatus = "FAILED"
)

// ExitIntent is a single exit attempt on an OPEN trade.
type ExitIntent struct {
	ExitIntentID string
	TradeID      string
	UserBrokerID string
	ExitReason   ExitTrigger
	EpisodeID    string
	TriggeredAt  time.Time
	Status       ExitIntentStatus
}

// BrokerRole distinguishes the single authoritative data feed from the many
// execution-capable accounts.
type BrokerRole string

const (
	RoleData BrokerRole = "DATA"
	RoleExec BrokerRole = "EXEC"
)

// BrokerEnv is derived from explicit configuration markers, never from URL
// substrings (spec §4.13), so the StartupGate can trust it.
type BrokerEnv string

const (
	EnvProduction BrokerEnv = "PRODUCTION"
	EnvUAT        BrokerEnv = "UAT"
	EnvSandbox    BrokerEnv = "SANDBOX"
)

// UserBroker is one brokerage account belonging to one user.
type UserBroker struct {
	UserBrokerID  string
	UserID        string
	BrokerCode    string
	Role          BrokerRole
	Env           BrokerEnv
	RiskProfileID string
	CredentialsRef string
	Enabled       bool
	Watchlist     []string
	PortfolioPaused bool
}

// RiskProfile is a named bundle of sizing and validation limits. It is never
// embedded in a Signal.
type RiskProfile struct {
	RiskProfileID           string
	MinConfluence           ConfluenceType
	MinPWin                 decimal.Decimal
	MinKelly                decimal.Decimal
	MaxKelly                decimal.Decimal // Open Question 3: explicit ceiling, default 1.5
	MaxSymbolCapitalPct     decimal.Decimal
	MaxPortfolioExposurePct decimal.Decimal
	MaxPortfolioLogLoss     decimal.Decimal
	MaxSymbolLogLoss        decimal.Decimal
	MaxPositionLogLoss      decimal.Decimal
	MaxPyramidLevel         int
	RebuySpacingATR         decimal.Decimal
	VelocityMultiplier      decimal.Decimal
	CooldownDuration        time.Duration
	MaxHoldDuration         time.Duration
	MaxDailyLossPct         decimal.Decimal
	MaxWeeklyLossPct        decimal.Decimal
	MinValue                decimal.Decimal
	MaxPerTrade             decimal.Decimal
}

// SessionStatus tracks a broker token row.
type SessionStatus string

const (
	SessionActive  SessionStatus = "ACTIVE"
	SessionExpired SessionStatus = "EXPIRED"
	SessionRevoked SessionStatus = "REVOKED"
)

// Session is an append-version broker token row; refreshes never update a
// row in place.
type Session struct {
	SessionID    string
	UserBrokerID string
	AccessToken  string
	ValidTill    time.Time
	Status       SessionStatus
	Version      int64
}
