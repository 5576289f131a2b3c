package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call metrics for monitoring call lifecycle and resource cleanup
var (
	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_active_total",
		Help: "Current number of calls in the active-call registry",
	})

	CallInitiatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_initiated_total",
		Help: "Total number of calls initiated",
	}, []string{"call_type"})

	CallEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_ended_total",
		Help: "Total number of calls that reached a terminal state",
	}, []string{"reason"}) // "hangup", "rejected", "timeout", "disconnected"

	CallDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "call_duration_seconds",
		Help:    "Duration of completed calls",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	CallSetupFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_setup_failed_total",
		Help: "Total number of call setups aborted before signaling",
	}, []string{"stage"}) // "media", "peer", "signaling"

	CallPeerCloseErrorTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_peer_close_error_total",
		Help: "Total number of peer session close failures during cleanup",
	})

	RecordingsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recording_active_total",
		Help: "Current number of active recordings",
	})

	RecordingFinalizeErrorTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recording_finalize_error_total",
		Help: "Total number of recording artifact finalize failures",
	})
)
