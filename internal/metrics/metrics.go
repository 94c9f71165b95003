// Package metrics exposes Prometheus instruments for the scoring pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts scoring runs by trigger source and outcome
	// (scored, degraded, failed, not_found, deduplicated).
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lead_scoring",
		Name:      "runs_total",
		Help:      "Scoring runs by source and outcome.",
	}, []string{"source", "outcome"})

	// RunDuration observes end-to-end run latency per outcome.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lead_scoring",
		Name:      "run_duration_seconds",
		Help:      "End-to-end scoring run duration.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"outcome"})

	// ModuleFailures counts individual module failures by module name.
	ModuleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lead_scoring",
		Name:      "module_failures_total",
		Help:      "Scoring module failures by module.",
	}, []string{"module"})

	// WebhookEvents counts received webhook events by disposition
	// (accepted, ignored, bad_signature).
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lead_scoring",
		Name:      "webhook_events_total",
		Help:      "Webhook events by disposition.",
	}, []string{"disposition"})
)

// Outcome labels for RunsTotal and RunDuration.
const (
	OutcomeScored       = "scored"
	OutcomeDegraded     = "degraded" // record persisted without a composite
	OutcomeFailed       = "failed"
	OutcomeNotFound     = "not_found"
	OutcomeDeduplicated = "deduplicated"
)
