package indicators

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradingcore/internal/model"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestATRInsufficientHistoryIsInvalid(t *testing.T) {
	candles := []model.Candle{
		{High: dec(101), Low: dec(99), Close: dec(100)},
	}
	if _, ok := ATR(candles, 14); ok {
		t.Fatal("expected ATR to be invalid with only one candle")
	}
}

func TestATRFlatMarketEqualsRange(t *testing.T) {
	candles := []model.Candle{
		{High: dec(100), Low: dec(98), Close: dec(99)},
		{High: dec(100), Low: dec(98), Close: dec(99)},
		{High: dec(100), Low: dec(98), Close: dec(99)},
	}
	got, ok := ATR(candles, 2)
	if !ok {
		t.Fatal("expected ATR to be valid")
	}
	if !got.Equal(dec(2)) {
		t.Fatalf("expected ATR 2, got %s", got)
	}
}

func TestATRGapWidensTrueRange(t *testing.T) {
	candles := []model.Candle{
		{High: dec(100), Low: dec(98), Close: dec(99)},
		{High: dec(110), Low: dec(108), Close: dec(109)}, // gapped up, true range spans the gap
	}
	got, ok := ATR(candles, 1)
	if !ok {
		t.Fatal("expected ATR to be valid")
	}
	// true range = max(high-low, |high-prevClose|, |low-prevClose|) = max(2, 11, 9) = 11
	if !got.Equal(dec(11)) {
		t.Fatalf("expected ATR 11, got %s", got)
	}
}
