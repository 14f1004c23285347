package routesync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	clients         prometheus.Gauge
	broadcasts      prometheus.Counter
	unchanged       prometheus.Counter
	replaced        prometheus.Counter
	routes          prometheus.Gauge
	directories     prometheus.Gauge
	snapshotBytes   prometheus.Histogram
	websocketErrors *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, namespace string) *metrics {
	factory := promauto.With(reg)
	const subsystem = "sync"

	return &metrics{
		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "clients",
			Help:      "Number of connected WebSocket clients",
		}),

		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "broadcasts_total",
			Help:      "Total number of route snapshots broadcast to clients",
		}),

		unchanged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "unchanged_total",
			Help:      "Total number of published snapshots skipped because their fingerprint did not change",
		}),

		replaced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "replaced_total",
			Help:      "Total number of queued snapshots replaced by a newer one before a slow client read them",
		}),

		routes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "routes",
			Help:      "Number of routes in the latest snapshot",
		}),

		directories: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "directories",
			Help:      "Number of directories in the latest snapshot",
		}),

		snapshotBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "snapshot_bytes",
			Help:      "Encoded size of published snapshots in bytes",
			Buckets:   []float64{1024, 10240, 102400, 1048576}, // 1KB to 1MB
		}),

		websocketErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "websocket_errors_total",
			Help:      "Total WebSocket errors by type",
		}, []string{"type"}),
	}
}
