// Package metrics provides Prometheus metrics collection for the
// entitlement core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors exercised by the entitlement core.
type Metrics struct {
	GrantsTotal        *prometheus.CounterVec
	GrantDuration      *prometheus.HistogramVec
	RevokesTotal       *prometheus.CounterVec
	RedemptionsTotal   *prometheus.CounterVec
	RedemptionDuration prometheus.Histogram

	ExpirySweepTotal   *prometheus.CounterVec
	ExpirySweepSeconds prometheus.Histogram

	CascadeRunsTotal    *prometheus.CounterVec
	CascadeDepthReached prometheus.Histogram
	CascadeDuration     prometheus.Histogram
	CascadeGrantedTotal prometheus.Counter
	CascadeBlockedTotal *prometheus.CounterVec

	RuleEvaluationsTotal  *prometheus.CounterVec
	RuleEvaluationSeconds prometheus.Histogram

	DatabaseQueriesTotal *prometheus.CounterVec
	DatabaseQuerySeconds *prometheus.HistogramVec
	DatabaseConnsOpen    prometheus.Gauge

	ServiceInfo *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer.
// A nil registerer skips registration entirely (useful in tests that create
// many instances).
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		GrantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "entitlement_grants_total", Help: "Total badge grant attempts."},
			[]string{"source", "result"},
		),
		GrantDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitlement_grant_duration_seconds",
				Help:    "Badge grant transaction duration.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		RevokesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "entitlement_revokes_total", Help: "Total badge revoke attempts."},
			[]string{"result"},
		),
		RedemptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "entitlement_redemptions_total", Help: "Total redemption attempts."},
			[]string{"result"},
		),
		RedemptionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "entitlement_redemption_duration_seconds",
				Help:    "Redemption transaction duration.",
				Buckets: prometheus.DefBuckets,
			},
		),

		ExpirySweepTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "entitlement_expiry_sweep_total", Help: "Total scheduled expiry sweep passes, by result."},
			[]string{"result"},
		),
		ExpirySweepSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "entitlement_expiry_sweep_duration_seconds",
				Help:    "Wall-clock duration of one expiry sweep pass.",
				Buckets: prometheus.DefBuckets,
			},
		),

		CascadeRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "entitlement_cascade_runs_total", Help: "Total cascade evaluations."},
			[]string{"result_status"},
		),
		CascadeDepthReached: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "entitlement_cascade_depth_reached",
				Help:    "Maximum depth reached per cascade evaluation.",
				Buckets: []float64{0, 1, 2, 3, 4, 5, 7, 10, 15, 20},
			},
		),
		CascadeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "entitlement_cascade_duration_seconds",
				Help:    "Cascade evaluation wall-clock duration.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		CascadeGrantedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "entitlement_cascade_granted_total", Help: "Total badges granted by cascade."},
		),
		CascadeBlockedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "entitlement_cascade_blocked_total", Help: "Total cascade candidates blocked, by reason."},
			[]string{"reason"},
		),

		RuleEvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "entitlement_rule_evaluations_total", Help: "Total rule evaluations, by match outcome."},
			[]string{"matched"},
		),
		RuleEvaluationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "entitlement_rule_evaluation_seconds",
				Help:    "Rule evaluation duration.",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
			},
		),

		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "entitlement_database_queries_total", Help: "Total database queries."},
			[]string{"operation", "status"},
		),
		DatabaseQuerySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitlement_database_query_seconds",
				Help:    "Database query duration.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		DatabaseConnsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "entitlement_database_connections_open", Help: "Current open database connections."},
		),

		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "entitlement_service_info", Help: "Static service build info."},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.GrantsTotal, m.GrantDuration, m.RevokesTotal, m.RedemptionsTotal, m.RedemptionDuration,
			m.ExpirySweepTotal, m.ExpirySweepSeconds,
			m.CascadeRunsTotal, m.CascadeDepthReached, m.CascadeDuration, m.CascadeGrantedTotal, m.CascadeBlockedTotal,
			m.RuleEvaluationsTotal, m.RuleEvaluationSeconds,
			m.DatabaseQueriesTotal, m.DatabaseQuerySeconds, m.DatabaseConnsOpen,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "dev").Set(1)
	return m
}

// RecordGrant records the outcome of one grant attempt.
func (m *Metrics) RecordGrant(source, result string, d time.Duration) {
	m.GrantsTotal.WithLabelValues(source, result).Inc()
	m.GrantDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RecordRevoke records the outcome of one revoke attempt.
func (m *Metrics) RecordRevoke(result string) {
	m.RevokesTotal.WithLabelValues(result).Inc()
}

// RecordRedemption records the outcome of one redemption attempt.
func (m *Metrics) RecordRedemption(result string, d time.Duration) {
	m.RedemptionsTotal.WithLabelValues(result).Inc()
	m.RedemptionDuration.Observe(d.Seconds())
}

// RecordExpirySweep records the outcome of one scheduled expiry sweep pass.
func (m *Metrics) RecordExpirySweep(result string, d time.Duration) {
	m.ExpirySweepTotal.WithLabelValues(result).Inc()
	m.ExpirySweepSeconds.Observe(d.Seconds())
}

// RecordCascade records one top-level cascade evaluation.
func (m *Metrics) RecordCascade(resultStatus string, depthReached int, granted int, d time.Duration) {
	m.CascadeRunsTotal.WithLabelValues(resultStatus).Inc()
	m.CascadeDepthReached.Observe(float64(depthReached))
	m.CascadeDuration.Observe(d.Seconds())
	m.CascadeGrantedTotal.Add(float64(granted))
}

// RecordCascadeBlocked records one blocked cascade candidate.
func (m *Metrics) RecordCascadeBlocked(reason string) {
	m.CascadeBlockedTotal.WithLabelValues(reason).Inc()
}

// RecordRuleEvaluation records one rule evaluation.
func (m *Metrics) RecordRuleEvaluation(matched bool, d time.Duration) {
	label := "false"
	if matched {
		label = "true"
	}
	m.RuleEvaluationsTotal.WithLabelValues(label).Inc()
	m.RuleEvaluationSeconds.Observe(d.Seconds())
}

// RecordDatabaseQuery records one database query.
func (m *Metrics) RecordDatabaseQuery(operation, status string, d time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(operation, status).Inc()
	m.DatabaseQuerySeconds.WithLabelValues(operation).Observe(d.Seconds())
}

// SetDatabaseConnsOpen sets the current open-connection gauge.
func (m *Metrics) SetDatabaseConnsOpen(n int) {
	m.DatabaseConnsOpen.Set(float64(n))
}
