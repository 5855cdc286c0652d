package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	snapshotsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classsync_feed_snapshots_total",
		Help: "Remote feed snapshots received, by whether they were applied or discarded as stale",
	}, []string{"outcome"})

	pushAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classsync_push_attempts_total",
		Help: "Remote write attempts, including retries",
	}, []string{"kind"})

	viewVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classsync_feed_view_version",
		Help: "Version of the most recently published feed view",
	})
)
