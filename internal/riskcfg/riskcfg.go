// Package riskcfg loads the YAML-configured risk profile bundle named by
// config.RiskProfilesPath, grounded on the teacher's
// internal/strategy/config_loader.go yaml.v3 pattern (there, one YAML file
// per strategy; here, one YAML file holding every named risk.RiskProfile a
// deployment wants synced into the DB at startup via
// pkg/db.Database.UpsertRiskProfile).
package riskcfg

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tradingcore/internal/model"
)

type document struct {
	Profiles []profile `yaml:"profiles"`
}

type profile struct {
	ID                      string  `yaml:"id"`
	MinConfluence           string  `yaml:"min_confluence"`
	MinPWin                 float64 `yaml:"min_p_win"`
	MinKelly                float64 `yaml:"min_kelly"`
	MaxKelly                float64 `yaml:"max_kelly"`
	MaxSymbolCapitalPct     float64 `yaml:"max_symbol_capital_pct"`
	MaxPortfolioExposurePct float64 `yaml:"max_portfolio_exposure_pct"`
	MaxPortfolioLogLoss     float64 `yaml:"max_portfolio_log_loss"`
	MaxSymbolLogLoss        float64 `yaml:"max_symbol_log_loss"`
	MaxPositionLogLoss      float64 `yaml:"max_position_log_loss"`
	MaxPyramidLevel         int     `yaml:"max_pyramid_level"`
	RebuySpacingATR         float64 `yaml:"rebuy_spacing_atr"`
	VelocityMultiplier      float64 `yaml:"velocity_multiplier"`
	CooldownSeconds         int64   `yaml:"cooldown_seconds"`
	MaxHoldSeconds          int64   `yaml:"max_hold_seconds"`
	MaxDailyLossPct         float64 `yaml:"max_daily_loss_pct"`
	MaxWeeklyLossPct        float64 `yaml:"max_weekly_loss_pct"`
	MinValue                float64 `yaml:"min_value"`
	MaxPerTrade             float64 `yaml:"max_per_trade"`
}

// Load reads path and returns every profile it names. A missing file is not
// an error the caller must treat as fatal: it returns it unwrapped so
// callers can fall back to a built-in default bundle with os.IsNotExist.
func Load(path string) ([]model.RiskProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse risk profiles yaml: %w", err)
	}

	out := make([]model.RiskProfile, 0, len(doc.Profiles))
	for _, p := range doc.Profiles {
		out = append(out, model.RiskProfile{
			RiskProfileID:           p.ID,
			MinConfluence:           model.ConfluenceType(p.MinConfluence),
			MinPWin:                 decimal.NewFromFloat(p.MinPWin),
			MinKelly:                decimal.NewFromFloat(p.MinKelly),
			MaxKelly:                decimal.NewFromFloat(p.MaxKelly),
			MaxSymbolCapitalPct:     decimal.NewFromFloat(p.MaxSymbolCapitalPct),
			MaxPortfolioExposurePct: decimal.NewFromFloat(p.MaxPortfolioExposurePct),
			MaxPortfolioLogLoss:     decimal.NewFromFloat(p.MaxPortfolioLogLoss),
			MaxSymbolLogLoss:        decimal.NewFromFloat(p.MaxSymbolLogLoss),
			MaxPositionLogLoss:      decimal.NewFromFloat(p.MaxPositionLogLoss),
			MaxPyramidLevel:         p.MaxPyramidLevel,
			RebuySpacingATR:         decimal.NewFromFloat(p.RebuySpacingATR),
			VelocityMultiplier:      decimal.NewFromFloat(p.VelocityMultiplier),
			CooldownDuration:        time.Duration(p.CooldownSeconds) * time.Second,
			MaxHoldDuration:         time.Duration(p.MaxHoldSeconds) * time.Second,
			MaxDailyLossPct:         decimal.NewFromFloat(p.MaxDailyLossPct),
			MaxWeeklyLossPct:        decimal.NewFromFloat(p.MaxWeeklyLossPct),
			MinValue:                decimal.NewFromFloat(p.MinValue),
			MaxPerTrade:             decimal.NewFromFloat(p.MaxPerTrade),
		})
	}
	return out, nil
}
