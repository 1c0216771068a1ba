package observability

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, c.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestRecordSubmissionAccepted(t *testing.T) {
	before := counterValue(t, submissionsCounter)
	RecordSubmissionAccepted()
	RecordSubmissionAccepted()
	require.Equal(t, before+2, counterValue(t, submissionsCounter))
}

func TestRecordAggregateComputedUpdatesWatermark(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	before := counterValue(t, aggregatesComputedCounter)
	RecordAggregateComputed(ts)
	require.Equal(t, before+1, counterValue(t, aggregatesComputedCounter))

	metric := &dto.Metric{}
	require.NoError(t, lastAggregateGauge.Write(metric))
	require.Equal(t, float64(ts.Unix()), metric.GetGauge().GetValue())

	// A zero timestamp increments the counter without moving the watermark.
	RecordAggregateComputed(time.Time{})
	metric = &dto.Metric{}
	require.NoError(t, lastAggregateGauge.Write(metric))
	require.Equal(t, float64(ts.Unix()), metric.GetGauge().GetValue())
}

func TestRecordParticipantsMarkedAbsentIgnoresNonPositive(t *testing.T) {
	before := counterValue(t, markedAbsentCounter)
	RecordParticipantsMarkedAbsent(0)
	RecordParticipantsMarkedAbsent(-3)
	require.Equal(t, before, counterValue(t, markedAbsentCounter))

	RecordParticipantsMarkedAbsent(2)
	require.Equal(t, before+2, counterValue(t, markedAbsentCounter))
}
