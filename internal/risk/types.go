// Package risk implements the sizing and validation half of C6
// IntentFanOut & Validator: the 12-point check and the 7-constraint sizer.
// Grounded on the teacher's internal/risk/manager.go EvaluateFull shape
// (profile-driven gate sequence, a RiskDecision-style tagged result) and
// internal/risk/multi_user.go (per user-broker isolation), rewritten around
// RiskProfile/decimal rather than the teacher's RiskConfig/float64.
package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/model"
)

// Snapshot is the point-in-time account/market state the sizer and
// validator consume. It is assembled fresh per validation task so every
// constraint sees the same consistent view (spec §4.6: "each independently
// computed from the same snapshot").
type Snapshot struct {
	AvailableCash      decimal.Decimal
	TotalCapital       decimal.Decimal
	CurrentExposure    decimal.Decimal // sum of open position value across the portfolio
	DailyLossPct       decimal.Decimal
	WeeklyLossPct      decimal.Decimal
	PortfolioLogLoss   decimal.Decimal // cumulative log-loss already spent, portfolio-wide
	SymbolLogLoss      decimal.Decimal // cumulative log-loss already spent on this symbol
	ATR                decimal.Decimal
	ATRValid           bool
	LastCooldownTouch  time.Time
	HasCooldownTouch   bool
	OpenPositionForSym *OpenPosition // nil if none open for this symbol
}

// OpenPosition describes an existing OPEN trade on (userBroker, symbol),
// used for rebuy classification and pyramid gating.
type OpenPosition struct {
	PyramidLevel int
	LastEntry    decimal.Decimal
}

// BindingConstraint names which of the seven sizing constraints produced
// the minimum quantity, for observability (spec §4.6 SIZING GATE).
type BindingConstraint string

const (
	ConstraintLogSafe         BindingConstraint = "LOG_SAFE"
	ConstraintKelly           BindingConstraint = "KELLY"
	ConstraintCash            BindingConstraint = "CASH"
	ConstraintSymbolCapital   BindingConstraint = "SYMBOL_CAPITAL"
	ConstraintPortfolioBudget BindingConstraint = "PORTFOLIO_BUDGET"
	ConstraintSymbolBudget    BindingConstraint = "SYMBOL_BUDGET"
	ConstraintVelocity        BindingConstraint = "VELOCITY"
)

// SizingResult is the tagged-variant the spec §9 redesign note asks for in
// place of exceptions: branch on Rejected, never catch.
type SizingResult struct {
	Qty               decimal.Decimal
	Rejected          bool
	Reason            string
	BindingConstraint BindingConstraint
}

// ValidationResult is the outcome of the full 12/13-point check.
type ValidationResult struct {
	Approved     bool
	RejectReason string
	Sizing       SizingResult
	TradeType    model.TradeType
}
