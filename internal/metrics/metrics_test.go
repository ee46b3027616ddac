package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersAllMetricsOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TicksProcessed.Inc()
	m.OrdersPlaced.WithLabelValues("zerodha").Inc()
	m.CandlesClosed.WithLabelValues("1m").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}

	var found bool
	for _, fam := range families {
		if fam.GetName() == "ticks_processed_total" {
			found = true
			if len(fam.Metric) != 1 || *fam.Metric[0].Counter.Value != 1 {
				t.Fatalf("expected ticks_processed_total=1, got %v", fam.Metric)
			}
		}
	}
	if !found {
		t.Fatal("ticks_processed_total not found in gathered families")
	}
}
