package fanout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for fan-out batches.
var (
	fanoutBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_batches_total",
		Help: "Total fan-out batches by policy mode and result",
	}, []string{"mode", "result"})

	fanoutBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fanout_batch_duration_seconds",
		Help:    "Fan-out batch duration in seconds by policy mode",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"mode"})

	fanoutItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_items_total",
		Help: "Total fetched items by outcome status",
	}, []string{"status"})

	fanoutItemDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fanout_item_duration_seconds",
		Help:    "Duration of individual fetches in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	fanoutInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_in_flight",
		Help: "Number of fetches currently holding a limiter permit",
	})
)
