package indicators

import (
	"github.com/shopspring/decimal"

	"tradingcore/internal/model"
)

// ATR computes the Average True Range over the last period candles (simple
// average of true range, not Wilder-smoothed), the stop-distance input the
// sizer's LOG_SAFE and VELOCITY constraints need (spec §4.6). Returns
// (0, false) when there isn't enough history, so callers can fall back to
// the sizer's DATA_UNAVAILABLE rejection rather than sizing off a zero ATR.
func ATR(candles []model.Candle, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(candles) < period+1 {
		return decimal.Zero, false
	}
	start := len(candles) - period
	sum := decimal.Zero
	for i := start; i < len(candles); i++ {
		c := candles[i]
		prevClose := candles[i-1].Close
		tr := c.High.Sub(c.Low)
		if hc := c.High.Sub(prevClose).Abs(); hc.GreaterThan(tr) {
			tr = hc
		}
		if lc := c.Low.Sub(prevClose).Abs(); lc.GreaterThan(tr) {
			tr = lc
		}
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}
