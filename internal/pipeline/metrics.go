package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsDispatched counts events entering fan-out, by event type.
	eventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwire_pipeline_events_total",
		Help: "Total events dispatched by the pipeline",
	}, []string{"type"})

	// deliveries counts per-connection pushes. A "dropped" delivery means
	// one connection's push failed; the event still went to the others.
	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwire_pipeline_deliveries_total",
		Help: "Per-connection delivery attempts by outcome",
	}, []string{"outcome"})

	// modeGauge is 0 when stopped, 1 in push mode, 2 in poll mode.
	modeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedwire_pipeline_mode",
		Help: "Current pipeline mode (0=stopped, 1=push, 2=poll)",
	})

	pollBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedwire_pipeline_poll_batch_size",
		Help:    "Number of changes found per polling cycle",
		Buckets: []float64{0, 1, 5, 10, 50, 100, 500},
	})
)

func setModeGauge(m Mode) {
	switch m {
	case ModePush:
		modeGauge.Set(1)
	case ModePoll:
		modeGauge.Set(2)
	default:
		modeGauge.Set(0)
	}
}
