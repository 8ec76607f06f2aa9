// Package telemetry exposes Prometheus metrics for the monitoring pipeline.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	videosDiscoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsentry_videos_discovered_total",
			Help: "Total videos discovered, labeled by initial risk tier.",
		},
		[]string{"tier"},
	)

	videosDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsentry_videos_dispatched_total",
			Help: "Total videos dispatched for analysis, labeled by risk tier.",
		},
		[]string{"tier"},
	)

	videosAnalyzedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsentry_videos_analyzed_total",
			Help: "Total completed analyses, labeled by verdict.",
		},
		[]string{"verdict"},
	)

	videosFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidsentry_videos_failed_total",
			Help: "Total analyses that ended in the failed state.",
		},
	)

	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsentry_keyword_scans_total",
			Help: "Total keyword scans performed, labeled by priority.",
		},
		[]string{"priority"},
	)

	admissionDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsentry_admission_denied_total",
			Help: "Total admissions denied by a governor, labeled by governor name.",
		},
		[]string{"governor"},
	)

	governorUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vidsentry_governor_utilization",
			Help: "Current daily utilization per governor, 0 to 1.",
		},
		[]string{"governor"},
	)

	reconciledAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidsentry_reconciled_attempts_total",
			Help: "Total stuck attempts repaired by reconciliation.",
		},
	)

	reconciledVideosTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidsentry_reconciled_videos_total",
			Help: "Total videos returned to discovered by reconciliation.",
		},
	)

	inFlightAnalyses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidsentry_inflight_analyses",
			Help: "Number of analyses currently in flight on this instance.",
		},
	)

	analysisDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidsentry_analysis_duration_seconds",
			Help:    "Histogram of analysis call latencies.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDiscovered records a newly created video.
func ObserveDiscovered(tier string) {
	videosDiscoveredTotal.WithLabelValues(tier).Inc()
}

// ObserveDispatched records a dispatch to the analysis queue.
func ObserveDispatched(tier string) {
	videosDispatchedTotal.WithLabelValues(tier).Inc()
}

// ObserveAnalyzed records a completed analysis.
func ObserveAnalyzed(infringing bool) {
	verdict := "clean"
	if infringing {
		verdict = "infringing"
	}
	videosAnalyzedTotal.WithLabelValues(verdict).Inc()
}

// ObserveFailed records an analysis that landed in failed.
func ObserveFailed() {
	videosFailedTotal.Inc()
}

// ObserveScan records one keyword scan.
func ObserveScan(priority string) {
	scansTotal.WithLabelValues(priority).Inc()
}

// ObserveAdmissionDenied records a governor denial.
func ObserveAdmissionDenied(governor string) {
	admissionDeniedTotal.WithLabelValues(governor).Inc()
}

// SetGovernorUtilization publishes a governor's current utilization.
func SetGovernorUtilization(governor string, utilization float64) {
	governorUtilization.WithLabelValues(governor).Set(utilization)
}

// ObserveReconciled records the result of one reconciliation pass.
func ObserveReconciled(attempts, videos int) {
	reconciledAttemptsTotal.Add(float64(attempts))
	reconciledVideosTotal.Add(float64(videos))
}

// IncInFlight increments the in-flight analysis gauge.
func IncInFlight() {
	inFlightAnalyses.Inc()
}

// DecInFlight decrements the in-flight analysis gauge.
func DecInFlight() {
	inFlightAnalyses.Dec()
}

// ObserveAnalysisDuration records the wall time of one analysis call.
func ObserveAnalysisDuration(seconds float64) {
	analysisDurationSeconds.Observe(seconds)
}
