package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	enqueuedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "serenvoice",
		Subsystem: "notify",
		Name:      "events_enqueued_total",
		Help:      "Number of notification events written to the audit queue.",
	})

	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "serenvoice",
		Subsystem: "notify",
		Name:      "events_delivered_total",
		Help:      "Number of notification events successfully handed to the transport.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "serenvoice",
		Subsystem: "notify",
		Name:      "events_failed_total",
		Help:      "Number of notification events whose delivery attempt failed.",
	})

	dispatchBatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "serenvoice",
		Subsystem: "notify",
		Name:      "dispatch_batch_duration_seconds",
		Help:      "Time spent delivering one batch of pending notification events.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(enqueuedCounter, deliveredCounter, failedCounter, dispatchBatchDuration)
}
