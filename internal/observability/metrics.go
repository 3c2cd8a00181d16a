package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	turnTotal    *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	turnRounds   prometheus.Histogram

	riskDecisionTotal *prometheus.CounterVec
	riskScore         prometheus.Histogram

	approvalTotal     *prometheus.CounterVec
	continuationTotal *prometheus.CounterVec

	fallbackSwitchTotal prometheus.Counter

	activeSessions     prometheus.Gauge
	recoveryTotal      prometheus.Counter
	quarantinedTotal   prometheus.Counter
	personaSwitchTotal *prometheus.CounterVec

	eventPublishTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turn_total",
					Help: "Total turns by provider and status.",
				},
				[]string{"provider", "status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "turn_duration_seconds",
					Help:    "Turn duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			turnRounds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "turn_tool_rounds",
					Help:    "Tool rounds consumed per turn.",
					Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12},
				},
			),
			riskDecisionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "risk_decision_total",
					Help: "Total risk decisions by level and outcome.",
				},
				[]string{"level", "outcome"},
			),
			riskScore: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "risk_score",
					Help:    "Risk score distribution.",
					Buckets: []float64{0, 10, 20, 35, 50, 70, 85, 100},
				},
			),
			approvalTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "approval_total",
					Help: "Total approval resolutions by outcome.",
				},
				[]string{"outcome"},
			),
			continuationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "continuation_job_total",
					Help: "Total continuation jobs by status.",
				},
				[]string{"status"},
			),
			fallbackSwitchTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "provider_fallback_total",
					Help: "Total switches to the local fallback provider.",
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current session count.",
				},
			),
			recoveryTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "heartbeat_recovery_total",
					Help: "Total missed-heartbeat recoveries.",
				},
			),
			quarantinedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_quarantined_total",
					Help: "Total sessions quarantined by recovery.",
				},
			),
			personaSwitchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "persona_switch_total",
					Help: "Total persona switches by target persona.",
				},
				[]string{"persona"},
			),
			eventPublishTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "event_publish_total",
					Help: "Total event log publishes by type and result.",
				},
				[]string{"type", "result"},
			),
		}

		prometheus.MustRegister(
			m.turnTotal,
			m.turnDuration,
			m.turnRounds,
			m.riskDecisionTotal,
			m.riskScore,
			m.approvalTotal,
			m.continuationTotal,
			m.fallbackSwitchTotal,
			m.activeSessions,
			m.recoveryTotal,
			m.quarantinedTotal,
			m.personaSwitchTotal,
			m.eventPublishTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordTurn(provider, status string, duration time.Duration, toolRounds int) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(provider, status).Inc()
	m.turnDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.turnRounds.Observe(float64(toolRounds))
}

func RecordRiskDecision(level string, score int, autoApproved bool) {
	m := getMetrics()
	outcome := "gated"
	if autoApproved {
		outcome = "auto"
	}
	m.riskDecisionTotal.WithLabelValues(level, outcome).Inc()
	m.riskScore.Observe(float64(score))
}

func RecordApproval(approved bool) {
	m := getMetrics()
	outcome := "denied"
	if approved {
		outcome = "approved"
	}
	m.approvalTotal.WithLabelValues(outcome).Inc()
}

func RecordContinuation(status string) {
	getMetrics().continuationTotal.WithLabelValues(status).Inc()
}

func RecordFallbackSwitch() {
	getMetrics().fallbackSwitchTotal.Inc()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordRecovery(quarantined int) {
	m := getMetrics()
	m.recoveryTotal.Inc()
	m.quarantinedTotal.Add(float64(quarantined))
}

func RecordPersonaSwitch(persona string) {
	getMetrics().personaSwitchTotal.WithLabelValues(persona).Inc()
}

func RecordEventPublish(eventType string, ok bool) {
	m := getMetrics()
	result := "error"
	if ok {
		result = "ok"
	}
	m.eventPublishTotal.WithLabelValues(eventType, result).Inc()
}
