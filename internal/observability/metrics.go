// Package observability holds service-level Prometheus collectors.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	submissionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "serenvoice",
		Subsystem: "activity",
		Name:      "submissions_accepted_total",
		Help:      "Number of participant voice-analysis submissions accepted.",
	})

	aggregatesComputedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "serenvoice",
		Subsystem: "activity",
		Name:      "aggregates_computed_total",
		Help:      "Number of group aggregates computed by claim winners.",
	})

	claimLostCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "serenvoice",
		Subsystem: "activity",
		Name:      "aggregation_claims_lost_total",
		Help:      "Completion checks that found the aggregation already claimed by a concurrent caller.",
	})

	markedAbsentCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "serenvoice",
		Subsystem: "activity",
		Name:      "participants_marked_absent_total",
		Help:      "Participants transitioned to absent by the timeout sweep.",
	})

	lastAggregateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "serenvoice",
		Subsystem: "activity",
		Name:      "last_aggregate_computed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent aggregate written to Postgres.",
	})
)

func init() {
	prometheus.MustRegister(submissionsCounter, aggregatesComputedCounter, claimLostCounter, markedAbsentCounter, lastAggregateGauge)
}

// RecordSubmissionAccepted increments the accepted-submission counter.
func RecordSubmissionAccepted() {
	submissionsCounter.Inc()
}

// RecordAggregateComputed updates the aggregate watermark.
func RecordAggregateComputed(ts time.Time) {
	aggregatesComputedCounter.Inc()
	if ts.IsZero() {
		return
	}
	lastAggregateGauge.Set(float64(ts.Unix()))
}

// RecordAggregationClaimLost counts a completion check that lost the claim race.
func RecordAggregationClaimLost() {
	claimLostCounter.Inc()
}

// RecordParticipantsMarkedAbsent counts sweep transitions to absent.
func RecordParticipantsMarkedAbsent(n int) {
	if n <= 0 {
		return
	}
	markedAbsentCounter.Add(float64(n))
}
