package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/model"
)

// BrokerStatus is the minimal connectivity fact the validator's first gate
// needs; IntentFanOut supplies it per user-broker without the risk package
// depending on the broker package.
type BrokerStatus struct {
	EnabledAndConnected bool
}

// Validate runs the full 12-point check from spec §4.6 in order, short
// circuiting on the first failing gate. profile and snap are assumed
// already scoped to the (userBroker, symbol) pair being evaluated.
func Validate(ub model.UserBroker, profile model.RiskProfile, sig model.Signal, snap Snapshot, status BrokerStatus, limitPrice decimal.Decimal, now time.Time, inWatchlist bool) ValidationResult {
	reject := func(reason string) ValidationResult { return ValidationResult{Approved: false, RejectReason: reason} }

	if !status.EnabledAndConnected {
		return reject("BROKER_NOT_CONNECTED")
	}
	if ub.PortfolioPaused {
		return reject("PORTFOLIO_PAUSED")
	}
	if !inWatchlist {
		return reject("SYMBOL_NOT_WATCHED")
	}
	if sig.ConfluenceType.Rank() < profile.MinConfluence.Rank() {
		return reject("CONFLUENCE_BELOW_MINIMUM")
	}
	if sig.PWin.LessThan(profile.MinPWin) {
		return reject("PWIN_BELOW_MINIMUM")
	}
	if sig.Kelly.LessThan(profile.MinKelly) {
		return reject("KELLY_BELOW_MINIMUM")
	}

	tradeType := model.TradeTypeNewBuy
	if snap.OpenPositionForSym != nil {
		tradeType = model.TradeTypeRebuy
		if snap.OpenPositionForSym.PyramidLevel >= profile.MaxPyramidLevel {
			return reject("PYRAMID_LEVEL_EXCEEDED")
		}
		spacing := snap.ATR.Mul(profile.RebuySpacingATR)
		if snap.ATRValid && limitPrice.Sub(snap.OpenPositionForSym.LastEntry).Abs().LessThan(spacing) {
			return reject("REBUY_SPACING_NOT_MET")
		}
	}

	sizing := Size(profile, snap, sig, limitPrice)
	if sizing.Rejected {
		return ValidationResult{Approved: false, RejectReason: sizing.Reason, Sizing: sizing, TradeType: tradeType}
	}
	if sizing.Qty.LessThan(decimal.NewFromInt(1)) {
		return ValidationResult{Approved: false, RejectReason: "QTY_BELOW_ONE", Sizing: sizing, TradeType: tradeType}
	}

	value := sizing.Qty.Mul(limitPrice)
	if value.LessThan(profile.MinValue) {
		return ValidationResult{Approved: false, RejectReason: "VALUE_BELOW_MINIMUM", Sizing: sizing, TradeType: tradeType}
	}
	if value.GreaterThan(profile.MaxPerTrade) {
		return ValidationResult{Approved: false, RejectReason: "VALUE_ABOVE_MAX_PER_TRADE", Sizing: sizing, TradeType: tradeType}
	}
	if snap.CurrentExposure.Add(value).GreaterThan(profile.MaxPortfolioExposurePct.Mul(snap.TotalCapital)) {
		return ValidationResult{Approved: false, RejectReason: "PORTFOLIO_EXPOSURE_EXCEEDED", Sizing: sizing, TradeType: tradeType}
	}
	if snap.DailyLossPct.GreaterThan(profile.MaxDailyLossPct) || snap.WeeklyLossPct.GreaterThan(profile.MaxWeeklyLossPct) {
		return ValidationResult{Approved: false, RejectReason: "LOSS_LIMIT_BREACHED", Sizing: sizing, TradeType: tradeType}
	}
	if snap.HasCooldownTouch && now.Sub(snap.LastCooldownTouch) < profile.CooldownDuration {
		return ValidationResult{Approved: false, RejectReason: "IN_COOLDOWN", Sizing: sizing, TradeType: tradeType}
	}

	return ValidationResult{Approved: true, Sizing: sizing, TradeType: tradeType}
}
