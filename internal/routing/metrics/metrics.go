package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BansDetected tracks classified bans above the confidence threshold
	BansDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "egress_bans_detected_total",
			Help: "Total number of detected bans",
		},
		[]string{"ban_type"},
	)

	// RecoveriesTotal tracks executed recovery strategies
	RecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "egress_recoveries_total",
			Help: "Total number of executed recovery strategies",
		},
		[]string{"strategy", "result"},
	)

	// RecoveryWait tracks backoff waits chosen by the Wait strategy
	RecoveryWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "egress_recovery_wait_seconds",
			Help:    "Backoff wait chosen for recovery in seconds",
			Buckets: []float64{5, 10, 20, 40, 80, 160, 300},
		},
	)

	// DomainTransitions tracks domain state changes
	DomainTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "egress_domain_transitions_total",
			Help: "Total number of domain state transitions",
		},
		[]string{"to"},
	)

	// ProxySelections tracks selections per strategy and proxy class
	ProxySelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "egress_proxy_selections_total",
			Help: "Total number of proxy selections",
		},
		[]string{"strategy", "class"},
	)

	// ProxyUnavailable tracks selections that found no proxy
	ProxyUnavailable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "egress_proxy_unavailable_total",
			Help: "Total number of selections with no proxy available",
		},
	)

	// ProxyOutcomes tracks reported request outcomes
	ProxyOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "egress_proxy_outcomes_total",
			Help: "Total number of reported request outcomes",
		},
		[]string{"class", "result"},
	)

	// ProxyResponseTime tracks response times reported through proxies
	ProxyResponseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "egress_proxy_response_seconds",
			Help:    "Response time through proxies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"class"},
	)

	// ProxiesPruned tracks proxies removed for chronic failure
	ProxiesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "egress_proxies_pruned_total",
			Help: "Total number of pruned proxies",
		},
	)

	// EstimatedCost tracks estimated spend per proxy class in USD
	EstimatedCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "egress_estimated_cost_usd_total",
			Help: "Estimated proxy spend in USD",
		},
		[]string{"class"},
	)

	// SnapshotsSaved tracks snapshot writes per backend
	SnapshotsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "egress_snapshots_saved_total",
			Help: "Total number of snapshot save attempts",
		},
		[]string{"backend", "result"},
	)

	// PeerEvents tracks domain events exchanged with other instances
	PeerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "egress_peer_events_total",
			Help: "Total number of domain events published or received",
		},
		[]string{"event", "direction"},
	)

	// DBConnectionPoolUsage tracks database connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "egress_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)
)
