// Package metrics exposes Prometheus collectors for chat dispatches, media
// uploads and frame sampling.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gemchat"

// Dispatch status label values.
const (
	StatusSuccess = "success"
	StatusBlocked = "blocked"
	StatusError   = "error"
)

var (
	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Total number of turns sent to the model",
		},
		[]string{"model", "media", "status"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of generateContent round trips in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of media files sent to the Files API",
		},
		[]string{"kind", "status"},
	)

	uploadWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_ready_seconds",
			Help:      "Time from upload start until the file became ACTIVE",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	framesSampled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sampled_total",
			Help:      "Total number of still frames extracted from videos",
		},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		dispatchesTotal,
		dispatchDuration,
		uploadsTotal,
		uploadWait,
		framesSampled,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func ObserveDispatch(model, media, status string, d time.Duration) {
	dispatchesTotal.WithLabelValues(model, media, status).Inc()
	dispatchDuration.WithLabelValues(model).Observe(d.Seconds())
}

func ObserveUpload(kind, status string, d time.Duration) {
	uploadsTotal.WithLabelValues(kind, status).Inc()
	if status == StatusSuccess {
		uploadWait.Observe(d.Seconds())
	}
}

func AddFrames(n int) {
	framesSampled.Add(float64(n))
}
