// Package metrics implements C15 MetricsHooks with
// github.com/prometheus/client_golang. Grounded on
// internal/monitor/metrics.go's counter/histogram vocabulary (orders
// processed, ticks processed, signals generated), re-expressed with
// prometheus vector types per spec §4.15's exact metric names. Exposition
// format (an HTTP /metrics handler) is a non-goal, so nothing here
// registers promhttp.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric spec §4.15 names. All label sets are
// bounded-cardinality (timeframe, exit reason, broker code, topic) — never a
// user id or trade id.
type Registry struct {
	TicksProcessed        prometheus.Counter
	TicksDuplicate        prometheus.Counter
	TicksMissingExchangeTS prometheus.Counter
	CandlesClosed         *prometheus.CounterVec // label: tf
	SignalsGenerated      *prometheus.CounterVec // label: type
	OrdersPlaced          *prometheus.CounterVec // label: broker
	OrdersFilled          prometheus.Counter
	OrdersRejected        *prometheus.CounterVec // label: reason
	ReconcileChecked      prometheus.Counter
	ReconcileUpdated      prometheus.Counter
	ReconcileTimeouts     prometheus.Counter
	ReconcileRateLimited  prometheus.Counter
	ReconcileCancelled    prometheus.Counter
	EventsDropped         *prometheus.CounterVec // label: topic
	Degrade               *prometheus.CounterVec // label: reason

	TickProcessingLatency  prometheus.Histogram
	OrderPlacementLatency  prometheus.Histogram
	ReconcileCycleDuration prometheus.Histogram

	BrokerHealth    *prometheus.GaugeVec // label: broker
	OpenTrades      prometheus.Gauge
	PendingTrades   prometheus.Gauge
	RateUtilization *prometheus.GaugeVec // label: broker
}

// New builds and registers every metric against reg. Passing
// prometheus.NewRegistry() (rather than the global DefaultRegisterer) keeps
// repeated construction in tests side-effect free.
func New(reg *prometheus.Registry) *Registry {
	m := &Registry{
		TicksProcessed:         prometheus.NewCounter(prometheus.CounterOpts{Name: "ticks_processed_total", Help: "Accepted ticks, post-dedup."}),
		TicksDuplicate:         prometheus.NewCounter(prometheus.CounterOpts{Name: "ticks_duplicate_total", Help: "Ticks dropped as duplicates."}),
		TicksMissingExchangeTS: prometheus.NewCounter(prometheus.CounterOpts{Name: "ticks_missing_exchange_ts_total", Help: "Ticks received without a valid exchange timestamp."}),
		CandlesClosed:          prometheus.NewCounterVec(prometheus.CounterOpts{Name: "candles_closed_total", Help: "Candles closed, by timeframe."}, []string{"tf"}),
		SignalsGenerated:       prometheus.NewCounterVec(prometheus.CounterOpts{Name: "signals_generated_total", Help: "Signals generated, by confluence type."}, []string{"type"}),
		OrdersPlaced:           prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orders_placed_total", Help: "Orders placed, by broker."}, []string{"broker"}),
		OrdersFilled:           prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_filled_total", Help: "Orders that reached FILLED."}),
		OrdersRejected:         prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orders_rejected_total", Help: "Orders rejected, by reason."}, []string{"reason"}),
		ReconcileChecked:       prometheus.NewCounter(prometheus.CounterOpts{Name: "reconcile_checked_total", Help: "PENDING trades examined by the reconciler."}),
		ReconcileUpdated:       prometheus.NewCounter(prometheus.CounterOpts{Name: "reconcile_updated_total", Help: "Trades whose broker status changed."}),
		ReconcileTimeouts:      prometheus.NewCounter(prometheus.CounterOpts{Name: "reconcile_timeouts_total", Help: "PENDING trades marked TIMEOUT."}),
		ReconcileRateLimited:   prometheus.NewCounter(prometheus.CounterOpts{Name: "reconcile_rate_limited_total", Help: "Reconcile checks skipped due to the concurrency semaphore."}),
		ReconcileCancelled:     prometheus.NewCounter(prometheus.CounterOpts{Name: "reconcile_cancelled_total", Help: "PENDING trades the broker reported CANCELLED."}),
		EventsDropped:          prometheus.NewCounterVec(prometheus.CounterOpts{Name: "events_dropped_total", Help: "Bus events dropped at a full subscriber queue, by topic."}, []string{"topic"}),
		Degrade:                prometheus.NewCounterVec(prometheus.CounterOpts{Name: "degrade_total", Help: "Degraded-mode warnings emitted at startup, by reason."}, []string{"reason"}),

		TickProcessingLatency:  prometheus.NewHistogram(prometheus.HistogramOpts{Name: "tick_processing_latency_seconds", Help: "Dedup+fan-out latency per tick.", Buckets: prometheus.DefBuckets}),
		OrderPlacementLatency:  prometheus.NewHistogram(prometheus.HistogramOpts{Name: "order_placement_latency_seconds", Help: "PlaceOrder round-trip latency.", Buckets: prometheus.DefBuckets}),
		ReconcileCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Name: "reconcile_cycle_duration_seconds", Help: "Wall time of one reconcile Cycle.", Buckets: prometheus.DefBuckets}),

		BrokerHealth:    prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "broker_health", Help: "1 if the broker's last call succeeded, else 0.", }, []string{"broker"}),
		OpenTrades:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "open_trades", Help: "Current OPEN trade count."}),
		PendingTrades:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "pending_trades", Help: "Current PENDING trade count."}),
		RateUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "rate_utilization", Help: "Fraction of the outbound rate budget in use, by broker."}, []string{"broker"}),
	}

	reg.MustRegister(
		m.TicksProcessed, m.TicksDuplicate, m.TicksMissingExchangeTS, m.CandlesClosed,
		m.SignalsGenerated, m.OrdersPlaced, m.OrdersFilled, m.OrdersRejected,
		m.ReconcileChecked, m.ReconcileUpdated, m.ReconcileTimeouts, m.ReconcileRateLimited, m.ReconcileCancelled,
		m.EventsDropped, m.Degrade, m.TickProcessingLatency, m.OrderPlacementLatency,
		m.ReconcileCycleDuration, m.BrokerHealth, m.OpenTrades, m.PendingTrades, m.RateUtilization,
	)
	return m
}

// TimeSince records d (as seconds) on h; a small helper so call sites read
// metrics.TimeSince(reg.OrderPlacementLatency, start) instead of repeating
// the Since/Seconds/Observe chain.
func TimeSince(h prometheus.Histogram, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
