package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionTransitions counts state-machine transitions.
// Use RegisterMetrics to register this with a Prometheus registry.
var SessionTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_session_transitions_total",
		Help: "Total number of verification session state transitions",
	},
	[]string{"from", "to"},
)

// SessionEvents counts flow events as emitted by the purgatory manager.
var SessionEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_session_events_total",
		Help: "Total number of verification flow events",
	},
	[]string{"kind"},
)

// RedeemOutcomes counts code presentations from the game side.
var RedeemOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_redeem_outcomes_total",
		Help: "Total number of code redemption attempts by outcome",
	},
	[]string{"outcome"},
)

// ActiveSessions is the gauge for currently open verification sessions.
var ActiveSessions = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "gatekeeper_active_sessions",
		Help: "Number of verification sessions currently in progress",
	},
)

// SessionDuration observes how long sessions stay open before closing.
var SessionDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "gatekeeper_session_duration_seconds",
		Help:    "Verification session duration in seconds by closing state",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 900},
	},
	[]string{"state"},
)

// ComponentHealthy reports per-component health (1 healthy, 0 failing).
var ComponentHealthy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "gatekeeper_component_healthy",
		Help: "Component health as seen by the orchestrator",
	},
	[]string{"component"},
)

// RecoveryAttempts counts automatic recovery attempts.
var RecoveryAttempts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "gatekeeper_recovery_attempts_total",
		Help: "Total number of automatic recovery attempts",
	},
)

// RegisterMetrics registers orchestrator metrics with the given Prometheus
// registry. Call once at startup; panics on duplicate registration
// (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(SessionTransitions)
	reg.MustRegister(SessionEvents)
	reg.MustRegister(RedeemOutcomes)
	reg.MustRegister(ActiveSessions)
	reg.MustRegister(SessionDuration)
	reg.MustRegister(ComponentHealthy)
	reg.MustRegister(RecoveryAttempts)
}

func recordTransition(from, to string) {
	SessionTransitions.WithLabelValues(from, to).Inc()
}

func recordEvent(kind string) {
	SessionEvents.WithLabelValues(kind).Inc()
}

// RecordRedeemOutcome increments the redemption counter for an outcome.
func RecordRedeemOutcome(outcome string) {
	RedeemOutcomes.WithLabelValues(outcome).Inc()
}

func recordSessionClosed(state string, openFor time.Duration) {
	SessionDuration.WithLabelValues(state).Observe(openFor.Seconds())
}

func recordComponentHealth(component string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	ComponentHealthy.WithLabelValues(component).Set(v)
}
