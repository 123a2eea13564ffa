// Package metrics holds the prometheus collectors of the wallet engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncTotal        *prometheus.CounterVec
	SyncDuration     prometheus.Histogram
	SyncAddresses    prometheus.Histogram
	ExplorerRequests *prometheus.CounterVec
	BuildTotal       *prometheus.CounterVec
	BuildInputs      prometheus.Histogram
)

var (
	metricsInitOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call
// more than once.
func Init() {
	metricsInitOnce.Do(initMetrics)
}

func initMetrics() {
	SyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "klingwallet",
			Subsystem: "sync",
			Name:      "total",
			Help:      "Number of account syncs by result",
		},
		[]string{"result"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "klingwallet",
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Histogram of account sync duration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	SyncAddresses = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "klingwallet",
			Subsystem: "sync",
			Name:      "addresses",
			Help:      "Histogram of addresses queried per sync",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		},
	)

	ExplorerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "klingwallet",
			Subsystem: "explorer",
			Name:      "requests",
			Help:      "Number of explorer HTTP requests by route and result",
		},
		[]string{"op", "result"},
	)

	BuildTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "klingwallet",
			Subsystem: "builder",
			Name:      "total",
			Help:      "Number of transaction builds by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	BuildInputs = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "klingwallet",
			Subsystem: "builder",
			Name:      "inputs",
			Help:      "Histogram of inputs per built transaction",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
