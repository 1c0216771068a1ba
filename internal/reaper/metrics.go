package reaper

import "github.com/prometheus/client_golang/prometheus"

var sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "serenvoice",
	Subsystem: "reaper",
	Name:      "sweep_duration_seconds",
	Help:      "Time spent in one timeout sweep pass.",
	Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
})

func init() {
	prometheus.MustRegister(sweepDuration)
}
