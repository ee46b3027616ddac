package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"tradingcore/internal/model"
)

// Size computes the minimum of the seven independent constraints from
// spec §4.6. It is a pure function of profile, snapshot, and signal, per the
// spec's "sizer is a pure function of its inputs" requirement, and returns
// rejected=true, reason="DATA_UNAVAILABLE" whenever a required input (ATR)
// cannot be computed — fail-safe per spec.
func Size(profile model.RiskProfile, snap Snapshot, sig model.Signal, limitPrice decimal.Decimal) SizingResult {
	if !snap.ATRValid || limitPrice.IsZero() {
		return SizingResult{Rejected: true, Reason: "DATA_UNAVAILABLE"}
	}

	// Fixed order, not a map: two constraints can tie exactly on the minimum
	// quantity, and the binding constraint must be a deterministic function
	// of the inputs alone (spec §4.6 "pure function"). Ties break toward the
	// constraint listed first here, the same order BindingConstraint's own
	// declarations use (types.go).
	candidates := []struct {
		name BindingConstraint
		qty  decimal.Decimal
	}{
		{ConstraintLogSafe, logSafeQty(profile, snap, limitPrice)},
		{ConstraintKelly, kellyQty(profile, snap, sig, limitPrice)},
		{ConstraintCash, floorDiv(snap.AvailableCash, limitPrice)},
		{ConstraintSymbolCapital, floorDiv(profile.MaxSymbolCapitalPct.Mul(snap.TotalCapital), limitPrice)},
		{ConstraintPortfolioBudget, portfolioBudgetQty(profile, snap, limitPrice)},
		{ConstraintSymbolBudget, symbolBudgetQty(profile, snap, limitPrice)},
		{ConstraintVelocity, velocityQty(profile, snap, limitPrice)},
	}

	minQty := candidates[0].qty
	binding := candidates[0].name
	for _, c := range candidates[1:] {
		if c.qty.LessThan(minQty) {
			minQty = c.qty
			binding = c.name
		}
	}

	if minQty.LessThan(decimal.Zero) {
		minQty = decimal.Zero
	}
	return SizingResult{Qty: minQty.Floor(), BindingConstraint: binding}
}

func floorDiv(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den).Floor()
}

// logSafeQty derives qty such that -ln(1 - maxPositionLogLoss) covers the
// single-trade worst-case loss given the ATR-derived stop distance.
func logSafeQty(profile model.RiskProfile, snap Snapshot, limitPrice decimal.Decimal) decimal.Decimal {
	maxLogLoss, _ := profile.MaxPositionLogLoss.Float64()
	if maxLogLoss <= 0 || maxLogLoss >= 1 {
		return decimal.Zero
	}
	worstCaseLossFrac := -math.Log(1 - maxLogLoss) // bound on fractional loss of position value
	stopDistance := snap.ATR
	if stopDistance.IsZero() {
		return decimal.Zero
	}
	priceF, _ := limitPrice.Float64()
	stopF, _ := stopDistance.Float64()
	capitalF, _ := snap.TotalCapital.Float64()
	if stopF <= 0 || priceF <= 0 {
		return decimal.Zero
	}
	// position value such that (stopDistance/price) * positionValue <= worstCaseLossFrac * totalCapital
	maxPositionValue := worstCaseLossFrac * capitalF * priceF / stopF
	return decimal.NewFromFloat(maxPositionValue / priceF).Floor()
}

// kellyQty applies the strength multiplier and clamps to [0, maxKelly]
// before converting the fraction to a quantity (spec §9 Open Question 3:
// explicit ceiling via profile.MaxKelly).
func kellyQty(profile model.RiskProfile, snap Snapshot, sig model.Signal, limitPrice decimal.Decimal) decimal.Decimal {
	kellyFraction := sig.Strength.Multiplier().Mul(sig.Kelly)
	if kellyFraction.IsNegative() {
		kellyFraction = decimal.Zero
	}
	maxKelly := profile.MaxKelly
	if maxKelly.IsZero() {
		maxKelly = decimal.NewFromFloat(1.5)
	}
	if kellyFraction.GreaterThan(maxKelly) {
		kellyFraction = maxKelly
	}
	return floorDiv(kellyFraction.Mul(snap.AvailableCash), limitPrice)
}

// portfolioBudgetQty fits qty within the remaining maxPortfolioLogLoss
// headroom, approximating each unit's log-loss contribution linearly via
// ATR/price (small-loss regime where ln(1-x) ≈ -x).
func portfolioBudgetQty(profile model.RiskProfile, snap Snapshot, limitPrice decimal.Decimal) decimal.Decimal {
	return budgetQty(profile.MaxPortfolioLogLoss, snap.PortfolioLogLoss, snap.ATR, limitPrice, snap.TotalCapital)
}

func symbolBudgetQty(profile model.RiskProfile, snap Snapshot, limitPrice decimal.Decimal) decimal.Decimal {
	return budgetQty(profile.MaxSymbolLogLoss, snap.SymbolLogLoss, snap.ATR, limitPrice, snap.TotalCapital)
}

func budgetQty(maxLogLoss, spent, atr, limitPrice, totalCapital decimal.Decimal) decimal.Decimal {
	headroom := maxLogLoss.Sub(spent)
	if headroom.LessThanOrEqual(decimal.Zero) || atr.IsZero() || limitPrice.IsZero() {
		return decimal.Zero
	}
	lossFracPerShare := atr.Div(limitPrice)
	if lossFracPerShare.IsZero() {
		return decimal.Zero
	}
	maxPositionValue := headroom.Div(lossFracPerShare).Mul(totalCapital)
	return floorDiv(maxPositionValue, limitPrice)
}

// velocityQty throttles size by velocityMultiplier * (ATR/price), a
// volatility-scaled cap independent of capital/cash constraints.
func velocityQty(profile model.RiskProfile, snap Snapshot, limitPrice decimal.Decimal) decimal.Decimal {
	if limitPrice.IsZero() {
		return decimal.Zero
	}
	throttle := profile.VelocityMultiplier.Mul(snap.ATR).Div(limitPrice)
	if throttle.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return floorDiv(throttle.Mul(snap.TotalCapital), limitPrice)
}
