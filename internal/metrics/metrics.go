// Package metrics provides Prometheus metrics for gitsyncd.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schaermu/gitsyncd/internal/watch"
)

// Cycle results
const (
	ResultSuccess   = "success"
	ResultNoChanges = "no_changes"
	ResultConflict  = "conflict"
	ResultFailure   = "failure"
	ResultSkipped   = "skipped"
)

var (
	// Sync cycle metrics
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitsyncd_cycles_total",
			Help: "Total number of sync cycles by result",
		},
		[]string{"result"},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gitsyncd_cycle_duration_seconds",
			Help:    "Sync cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	filesCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gitsyncd_files_committed_total",
			Help: "Total number of file changes committed",
		},
	)

	pushRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gitsyncd_push_retries_total",
			Help: "Total number of push attempts that were retried",
		},
	)

	engineState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gitsyncd_engine_state",
			Help: "Current engine state (0=idle 1=pulling 2=diffing 3=conflict 4=committing 5=pushing 6=push_retry 7=failed)",
		},
	)

	lastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gitsyncd_last_success_timestamp_seconds",
			Help: "Unix time of the last successful sync cycle",
		},
	)

	// Detector metrics
	detectorEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitsyncd_detector_events_total",
			Help: "Filesystem events by filter decision",
		},
		[]string{"decision"},
	)

	affectedNotifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gitsyncd_affected_files_total",
			Help: "Total number of dependent files reported for changed sources",
		},
	)

	dependencyEdges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gitsyncd_dependency_edges",
			Help: "Number of edges in the dependency graph",
		},
	)

	// Webhook metrics
	webhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitsyncd_webhook_requests_total",
			Help: "Webhook requests by outcome",
		},
		[]string{"outcome"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCycle records a finished sync cycle.
func RecordCycle(result string, duration time.Duration) {
	cyclesTotal.WithLabelValues(result).Inc()
	cycleDuration.Observe(duration.Seconds())
	if result == ResultSuccess || result == ResultNoChanges {
		lastSuccess.SetToCurrentTime()
	}
}

// RecordCommit records the number of files in a commit.
func RecordCommit(files int) {
	filesCommitted.Add(float64(files))
}

// RecordPushRetry records a failed push that will be retried.
func RecordPushRetry() {
	pushRetriesTotal.Inc()
}

// SetEngineState records the engine's current state.
func SetEngineState(state int) {
	engineState.Set(float64(state))
}

// RecordWebhook records a webhook request outcome.
func RecordWebhook(outcome string) {
	webhookRequests.WithLabelValues(outcome).Inc()
}

// DetectorObserver feeds change detector decisions into the metrics.
type DetectorObserver struct{}

var _ watch.Observer = DetectorObserver{}

// EventFiltered implements watch.Observer.
func (DetectorObserver) EventFiltered(d watch.Decision) {
	detectorEvents.WithLabelValues(d.String()).Inc()
}

// AffectedNotified implements watch.Observer.
func (DetectorObserver) AffectedNotified(n int) {
	affectedNotifications.Add(float64(n))
}

// GraphSize implements watch.Observer.
func (DetectorObserver) GraphSize(edges int) {
	dependencyEdges.Set(float64(edges))
}
