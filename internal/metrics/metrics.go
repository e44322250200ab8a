package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// dispatchRecipients counts per-recipient outcomes of dispatch passes.
	// Labels:
	// - outcome: "sent", "failed" or "invalid"
	dispatchRecipients = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailchymp",
			Subsystem: "dispatch",
			Name:      "recipients_total",
			Help:      "Recipients processed by dispatch passes, by outcome",
		},
		[]string{"outcome"},
	)

	// dispatchPasses counts finished passes by final campaign status and trigger.
	// Labels:
	// - trigger: "manual" or "scheduled"
	// - status:  "sent" or "failed"
	dispatchPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailchymp",
			Subsystem: "dispatch",
			Name:      "passes_total",
			Help:      "Completed dispatch passes",
		},
		[]string{"trigger", "status"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailchymp",
			Subsystem: "dispatch",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a dispatch pass",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"trigger"},
	)

	// schedulerTicks counts scheduler ticks.
	// Labels:
	// - result: "ok", "error" or "skipped" (previous tick still running)
	schedulerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailchymp",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by result",
		},
		[]string{"result"},
	)

	// schedulerClaims counts claim attempts.
	// Labels:
	// - result: "won" or "lost"
	schedulerClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailchymp",
			Subsystem: "scheduler",
			Name:      "claims_total",
			Help:      "Scheduled campaign claim attempts",
		},
		[]string{"result"},
	)

	sweptCampaigns = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailchymp",
			Subsystem: "scheduler",
			Name:      "swept_campaigns_total",
			Help:      "Sending campaigns finalized by the stale sweep",
		},
	)

	// trackingEvents counts tracking hits.
	// Labels:
	// - kind:  "open" or "click"
	// - known: "true" when the token matched a send log
	trackingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailchymp",
			Subsystem: "tracking",
			Name:      "events_total",
			Help:      "Open and click tracking hits",
		},
		[]string{"kind", "known"},
	)
)

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// IncDispatchRecipient counts one recipient outcome
func IncDispatchRecipient(outcome string) {
	dispatchRecipients.WithLabelValues(orUnknown(outcome)).Inc()
}

// ObserveDispatchPass records a finished pass
func ObserveDispatchPass(trigger, status string, seconds float64) {
	trigger = orUnknown(trigger)
	dispatchPasses.WithLabelValues(trigger, orUnknown(status)).Inc()
	dispatchDuration.WithLabelValues(trigger).Observe(seconds)
}

// IncSchedulerTick counts one tick
func IncSchedulerTick(result string) {
	schedulerTicks.WithLabelValues(orUnknown(result)).Inc()
}

// IncSchedulerClaim counts one claim attempt
func IncSchedulerClaim(won bool) {
	result := "lost"
	if won {
		result = "won"
	}
	schedulerClaims.WithLabelValues(result).Inc()
}

// IncSwept counts one campaign finalized by the sweep
func IncSwept() {
	sweptCampaigns.Inc()
}

// IncTrackingEvent counts one open or click
func IncTrackingEvent(kind string, known bool) {
	k := "false"
	if known {
		k = "true"
	}
	trackingEvents.WithLabelValues(orUnknown(kind), k).Inc()
}
