package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics contains metrics for the event intake pipeline.
type EventMetrics struct {
	ReceivedTotal   *prometheus.CounterVec
	ProcessLatency  *prometheus.HistogramVec
	DeduplicatedTotal prometheus.Counter
	QueueDepth      prometheus.Gauge
}

// NewEventMetrics creates event pipeline metrics.
func NewEventMetrics() *EventMetrics {
	reg := GetRegistry()

	m := &EventMetrics{
		ReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Total events received by type",
			},
			[]string{"event_type"},
		),
		ProcessLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sentinel",
				Subsystem: "events",
				Name:      "process_duration_seconds",
				Help:      "Event processing duration",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{},
		),
		DeduplicatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "events",
				Name:      "deduplicated_total",
				Help:      "Events dropped as duplicates",
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sentinel",
				Subsystem: "events",
				Name:      "queue_depth",
				Help:      "Pending event queue depth",
			},
		),
	}

	reg.MustRegister(m.ReceivedTotal, m.ProcessLatency, m.DeduplicatedTotal, m.QueueDepth)
	return m
}

// PolicyMetrics contains metrics for policy evaluation and violations.
type PolicyMetrics struct {
	EvaluationsTotal  *prometheus.CounterVec
	EvaluationLatency *prometheus.HistogramVec
	ViolationsTotal   *prometheus.CounterVec
	ActionsTotal      *prometheus.CounterVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
}

// NewPolicyMetrics creates policy engine metrics.
func NewPolicyMetrics() *PolicyMetrics {
	reg := GetRegistry()

	m := &PolicyMetrics{
		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "policy",
				Name:      "evaluations_total",
				Help:      "Total policy evaluations",
			},
			[]string{"result"},
		),
		EvaluationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sentinel",
				Subsystem: "policy",
				Name:      "evaluation_duration_seconds",
				Help:      "Policy evaluation duration",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{},
		),
		ViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "policy",
				Name:      "violations_total",
				Help:      "Policy violations (policy hashed)",
			},
			[]string{"policy_hash", "severity"},
		),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "policy",
				Name:      "actions_total",
				Help:      "Enforcement actions executed",
			},
			[]string{"action_type", "result"},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "policy",
				Name:      "cache_hits_total",
				Help:      "Policy cache hits",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "policy",
				Name:      "cache_misses_total",
				Help:      "Policy cache misses",
			},
		),
	}

	reg.MustRegister(m.EvaluationsTotal, m.EvaluationLatency, m.ViolationsTotal,
		m.ActionsTotal, m.CacheHits, m.CacheMisses)
	return m
}

// RecordViolation counts a policy violation with a hashed policy label.
func (m *PolicyMetrics) RecordViolation(policyID string, severity string) {
	m.ViolationsTotal.WithLabelValues(HashID(policyID), severity).Inc()
}

// RecordAction counts one executed enforcement action.
func (m *PolicyMetrics) RecordAction(actionType string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.ActionsTotal.WithLabelValues(actionType, result).Inc()
}

// BundleMetrics contains metrics for policy bundle building and sync.
type BundleMetrics struct {
	BuildsTotal   prometheus.Counter
	BuildLatency  *prometheus.HistogramVec
	SyncsTotal    *prometheus.CounterVec
	BundleSize    *prometheus.HistogramVec
}

// NewBundleMetrics creates bundle transformer metrics.
func NewBundleMetrics() *BundleMetrics {
	reg := GetRegistry()

	m := &BundleMetrics{
		BuildsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "bundle",
				Name:      "builds_total",
				Help:      "Policy bundle builds",
			},
		),
		BuildLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sentinel",
				Subsystem: "bundle",
				Name:      "build_duration_seconds",
				Help:      "Bundle build duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{},
		),
		SyncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "bundle",
				Name:      "syncs_total",
				Help:      "Agent policy sync requests by outcome",
			},
			[]string{"status"},
		),
		BundleSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sentinel",
				Subsystem: "bundle",
				Name:      "policy_count",
				Help:      "Policies per built bundle",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
			[]string{},
		),
	}

	reg.MustRegister(m.BuildsTotal, m.BuildLatency, m.SyncsTotal, m.BundleSize)
	return m
}

// AgentMetrics contains metrics for agent fleet state.
type AgentMetrics struct {
	RegisteredTotal  prometheus.Counter
	HeartbeatAge     *prometheus.GaugeVec
	AgentsTotal      *prometheus.GaugeVec
	OperationsTotal  *prometheus.CounterVec
}

// NewAgentMetrics creates agent fleet metrics.
func NewAgentMetrics() *AgentMetrics {
	reg := GetRegistry()

	m := &AgentMetrics{
		RegisteredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "agents",
				Name:      "registered_total",
				Help:      "Agent registrations",
			},
		),
		HeartbeatAge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sentinel",
				Subsystem: "agents",
				Name:      "heartbeat_age_seconds",
				Help:      "Time since last heartbeat for each agent (agent hashed)",
			},
			[]string{"agent_hash"},
		),
		AgentsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sentinel",
				Subsystem: "agents",
				Name:      "total",
				Help:      "Total number of agents by status",
			},
			[]string{"status"},
		),
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "agents",
				Name:      "operations_total",
				Help:      "Agent lifecycle operations",
			},
			[]string{"operation", "result"},
		),
	}

	reg.MustRegister(m.RegisteredTotal, m.HeartbeatAge, m.AgentsTotal, m.OperationsTotal)
	return m
}

// DatabaseMetrics contains metrics for database operations.
type DatabaseMetrics struct {
	QueriesTotal      *prometheus.CounterVec
	QueryLatency      *prometheus.HistogramVec
	ConnectionsActive prometheus.Gauge
	ConnectionsIdle   prometheus.Gauge
}

// NewDatabaseMetrics creates database metrics.
func NewDatabaseMetrics() *DatabaseMetrics {
	reg := GetRegistry()

	m := &DatabaseMetrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Subsystem: "db",
				Name:      "queries_total",
				Help:      "Database queries",
			},
			[]string{"operation", "result"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sentinel",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "Database query duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sentinel",
				Subsystem: "db",
				Name:      "connections_active",
				Help:      "Active database connections",
			},
		),
		ConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sentinel",
				Subsystem: "db",
				Name:      "connections_idle",
				Help:      "Idle database connections",
			},
		),
	}

	reg.MustRegister(m.QueriesTotal, m.QueryLatency, m.ConnectionsActive, m.ConnectionsIdle)
	return m
}
