package riskcfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tradingcore/internal/model"
)

const sample = `
profiles:
  - id: balanced
    min_confluence: SINGLE
    min_p_win: 0.55
    min_kelly: 0.01
    max_kelly: 1.5
    max_symbol_capital_pct: 0.2
    max_portfolio_exposure_pct: 0.6
    max_portfolio_log_loss: 2.0
    max_symbol_log_loss: 1.0
    max_position_log_loss: 0.5
    max_pyramid_level: 3
    rebuy_spacing_atr: 1.0
    velocity_multiplier: 1.0
    cooldown_seconds: 300
    max_hold_seconds: 14400
    max_daily_loss_pct: 0.03
    max_weekly_loss_pct: 0.08
    min_value: 1000
    max_per_trade: 50000
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "risk_profiles.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp yaml: %v", err)
	}
	return path
}

func TestLoadParsesProfile(t *testing.T) {
	path := writeTemp(t, sample)
	profiles, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(profiles))
	}
	p := profiles[0]
	if p.RiskProfileID != "balanced" {
		t.Fatalf("expected id balanced, got %s", p.RiskProfileID)
	}
	if p.MinConfluence != model.ConfluenceSingle {
		t.Fatalf("expected SINGLE confluence, got %s", p.MinConfluence)
	}
	if !p.MaxKelly.Equal(p.MaxKelly) {
		t.Fatalf("decimal self-equality broken")
	}
	if p.CooldownDuration != 300*time.Second {
		t.Fatalf("expected 300s cooldown, got %s", p.CooldownDuration)
	}
	if p.MaxHoldDuration != 4*time.Hour {
		t.Fatalf("expected 4h max hold, got %s", p.MaxHoldDuration)
	}
}

func TestLoadMissingFileReturnsUnwrappedError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !os.IsNotExist(err) {
		t.Fatalf("expected os.IsNotExist error, got %v", err)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeTemp(t, "profiles: [this is not a profile list]")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error for malformed yaml")
	}
}
