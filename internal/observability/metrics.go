// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/88simon/Meridinate/internal/domain"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Scan metrics
	ScanRunsTotal     *prometheus.CounterVec
	PositionsChecked  prometheus.Counter
	BuysDetected      prometheus.Counter
	SellsDetected     prometheus.Counter
	PositionsClosed   prometheus.Counter
	ScanErrors        prometheus.Counter
	ScanDuration      prometheus.Histogram
	BudgetExhaustions prometheus.Counter

	// Credit metrics
	CreditsSpent  *prometheus.CounterVec
	CreditsUsed   prometheus.Gauge
	CreditsBudget prometheus.Gauge

	// Webhook metrics
	TransfersProcessed *prometheus.CounterVec

	// Reconciler metrics
	ReconcileRunsTotal  prometheus.Counter
	PositionsReconciled *prometheus.CounterVec

	// Refresh metrics
	RefreshRunsTotal prometheus.Counter
	RatiosRefreshed  prometheus.Counter
	SnapshotsWritten prometheus.Counter

	// Provider metrics
	RPCCallLatency   *prometheus.HistogramVec
	WSMessageLatency prometheus.Histogram

	// Health metrics
	LastSuccessfulScan    prometheus.Gauge
	LastSuccessfulRefresh prometheus.Gauge
	UptimeSeconds         prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "meridinate"
	}

	return &Metrics{
		// Scan metrics
		ScanRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "runs_total",
			Help:      "Total number of scan runs by status",
		}, []string{"status"}),
		PositionsChecked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "positions_checked_total",
			Help:      "Total number of position balance checks",
		}),
		BuysDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "buys_detected_total",
			Help:      "Total number of buys detected from balance deltas",
		}),
		SellsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "sells_detected_total",
			Help:      "Total number of sells detected from balance deltas",
		}),
		PositionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "positions_closed_total",
			Help:      "Total number of full exits detected",
		}),
		ScanErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "errors_total",
			Help:      "Total number of isolated per-position scan errors",
		}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "duration_seconds",
			Help:      "Scan batch duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
		BudgetExhaustions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "budget_exhaustions_total",
			Help:      "Total number of scan batches stopped early on budget",
		}),

		// Credit metrics
		CreditsSpent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "spent_total",
			Help:      "Total credits spent by operation",
		}, []string{"operation"}),
		CreditsUsed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "used_today",
			Help:      "Credits spent so far in the current UTC day",
		}),
		CreditsBudget: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "daily_budget",
			Help:      "Configured daily credit budget",
		}),

		// Webhook metrics
		TransfersProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "transfers_processed_total",
			Help:      "Total number of transfer events by direction and outcome",
		}, []string{"direction", "outcome"}),

		// Reconciler metrics
		ReconcileRunsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "runs_total",
			Help:      "Total number of reconcile batches",
		}),
		PositionsReconciled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "positions_total",
			Help:      "Total number of reconciled positions by status",
		}, []string{"status"}),

		// Refresh metrics
		RefreshRunsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresher",
			Name:      "runs_total",
			Help:      "Total number of market-cap refresh passes",
		}),
		RatiosRefreshed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresher",
			Name:      "ratios_refreshed_total",
			Help:      "Total number of position pnl ratios refreshed",
		}),
		SnapshotsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresher",
			Name:      "snapshots_written_total",
			Help:      "Total number of pnl snapshot points written",
		}),

		// Provider metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "Chain RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		WSMessageLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "ws_message_latency_seconds",
			Help:      "WebSocket message processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Health metrics
		LastSuccessfulScan: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_scan_timestamp",
			Help:      "Unix timestamp of last successful scan batch",
		}),
		LastSuccessfulRefresh: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of last successful refresh pass",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordScanReport folds one scan report into the metrics.
func (m *Metrics) RecordScanReport(report *domain.ScanReport) {
	m.ScanRunsTotal.WithLabelValues("ok").Inc()
	m.PositionsChecked.Add(float64(report.Checked))
	m.BuysDetected.Add(float64(report.BuysDetected))
	m.SellsDetected.Add(float64(report.SellsDetected))
	m.PositionsClosed.Add(float64(report.Sold))
	m.ScanErrors.Add(float64(report.Errors))
	m.ScanDuration.Observe(float64(report.DurationMs) / 1000)
	if report.BudgetExhausted > 0 {
		m.BudgetExhaustions.Inc()
	}
}

// RecordScanFailure counts a scan batch that failed outright.
func (m *Metrics) RecordScanFailure() {
	m.ScanRunsTotal.WithLabelValues("error").Inc()
}

// RecordTransfer counts one processed transfer event.
func (m *Metrics) RecordTransfer(direction domain.TransferDirection, outcome domain.TransferOutcome) {
	m.TransfersProcessed.WithLabelValues(string(direction), string(outcome)).Inc()
}

// RecordReconcileReport folds one reconcile report into the metrics.
func (m *Metrics) RecordReconcileReport(report *domain.ReconciliationReport) {
	m.ReconcileRunsTotal.Inc()
	m.PositionsReconciled.WithLabelValues(string(domain.ReconcileSuccess)).Add(float64(report.Reconciled))
	m.PositionsReconciled.WithLabelValues(string(domain.ReconcileNoTxFound)).Add(float64(report.NoTxFound))
	m.PositionsReconciled.WithLabelValues(string(domain.ReconcileError)).Add(float64(report.Errors))
}

// RecordRefresh counts one market-cap refresh pass.
func (m *Metrics) RecordRefresh(ratiosRefreshed int64, snapshotsWritten int) {
	m.RefreshRunsTotal.Inc()
	m.RatiosRefreshed.Add(float64(ratiosRefreshed))
	m.SnapshotsWritten.Add(float64(snapshotsWritten))
}

// UpdateCredits refreshes the credit gauges from the guard's counters.
func (m *Metrics) UpdateCredits(used, budget int) {
	m.CreditsUsed.Set(float64(used))
	m.CreditsBudget.Set(float64(budget))
}
