package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Service operation counters and histograms, partitioned by operation name.

var (
	// Custody service
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "service",
		Name:      "operations_total",
		Help:      "Total custody operations by outcome (ok or error kind)",
	}, []string{"operation", "result"})

	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "custody",
		Subsystem: "service",
		Name:      "operation_duration_seconds",
		Help:      "Custody operation duration including the store unit of work",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"operation"})

	AssetPaused = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "custody",
		Subsystem: "service",
		Name:      "asset_paused",
		Help:      "1 while the asset is paused",
	}, []string{"asset"})

	// Redemption workflow
	RedemptionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "redemption",
		Name:      "transitions_total",
		Help:      "Total redemption status transitions",
	}, []string{"from", "to"})

	RedemptionAmountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "redemption",
		Name:      "amount_total",
		Help:      "Total base units that entered each redemption status",
	}, []string{"status"})

	// Transfer gate
	GateAdmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "gate",
		Name:      "admissions_total",
		Help:      "Total transfers admitted by the transfer hook",
	})

	GateRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "gate",
		Name:      "rejections_total",
		Help:      "Total transfers rejected by the transfer hook",
	}, []string{"reason"})

	// Event stream
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total audit events forwarded to the stream by outcome",
	}, []string{"result"})

	PublisherCircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "custody",
		Subsystem: "events",
		Name:      "publisher_circuit_state",
		Help:      "Event publisher circuit state (0=closed, 1=open, 2=half-open)",
	})

	// Reconciliation
	ReconciliationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "reconciliation",
		Name:      "runs_total",
		Help:      "Total completed reconciliation runs",
	}, []string{"asset"})

	ReconciliationMismatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "reconciliation",
		Name:      "mismatches_total",
		Help:      "Total ledger totals found out of line with their parts",
	}, []string{"asset"})

	ReconciliationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation runs that could not read the store",
	}, []string{"asset"})

	// Database pool
	DBPoolOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "custody",
		Subsystem: "postgres",
		Name:      "db_pool_open",
		Help:      "Current number of open PostgreSQL connections in the pool",
	}, []string{"store"})

	DBPoolInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "custody",
		Subsystem: "postgres",
		Name:      "db_pool_in_use",
		Help:      "Current number of in-use PostgreSQL connections in the pool",
	}, []string{"store"})

	DBPoolIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "custody",
		Subsystem: "postgres",
		Name:      "db_pool_idle",
		Help:      "Current number of idle PostgreSQL connections in the pool",
	}, []string{"store"})

	DBPoolWaitCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "custody",
		Subsystem: "postgres",
		Name:      "db_pool_wait_count",
		Help:      "Cumulative count of waits for PostgreSQL connections from pool",
	}, []string{"store"})

	DBPoolWaitDurationSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "custody",
		Subsystem: "postgres",
		Name:      "db_pool_wait_duration_seconds",
		Help:      "Latest PostgreSQL pool wait duration in seconds",
	}, []string{"store"})

	// Admin API
	AdminRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total API requests by route and status code",
	}, []string{"route", "code"})

	AdminRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Total API requests rejected by the rate limiter",
	}, []string{"endpoint"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custody",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})
)
