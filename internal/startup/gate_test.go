package startup

import (
	"testing"

	"tradingcore/pkg/config"
)

func TestCheckPassesProductionWhenFullyWired(t *testing.T) {
	cfg := &config.Config{
		Mode: config.ModeProduction, OrderExecutionEnabled: true,
		PersistTickEvents: true, AsyncEventWriterEnabled: true,
		Brokers: []config.BrokerConfig{{UserBrokerID: "ub1", Env: "PRODUCTION"}},
	}
	if _, err := Check(cfg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestCheckFailsProductionWithSandboxBroker(t *testing.T) {
	cfg := &config.Config{
		Mode: config.ModeProduction, OrderExecutionEnabled: true,
		Brokers: []config.BrokerConfig{{UserBrokerID: "ub1", Env: "SANDBOX"}},
	}
	if _, err := Check(cfg); err == nil {
		t.Fatal("expected a sandbox broker to fail the production gate")
	}
}

func TestCheckFailsProductionWithoutAsyncWriter(t *testing.T) {
	cfg := &config.Config{
		Mode: config.ModeProduction, OrderExecutionEnabled: true,
		PersistTickEvents: true, AsyncEventWriterEnabled: false,
	}
	if _, err := Check(cfg); err == nil {
		t.Fatal("expected persistence without an async writer to fail the production gate")
	}
}

func TestCheckReturnsWarningsOutsideProduction(t *testing.T) {
	cfg := &config.Config{
		Mode: config.ModeBeta, OrderExecutionEnabled: false,
	}
	warns, err := Check(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warns) == 0 {
		t.Fatal("expected at least one warning for disabled order execution in non-production mode")
	}
}
