package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Johnmc130/SerenVoice/internal/domain"
)

type stubQueue struct {
	events []domain.NotificationEvent
	err    error
}

func (q *stubQueue) EnqueueNotifications(_ context.Context, events []domain.NotificationEvent) error {
	if q.err != nil {
		return q.err
	}
	q.events = append(q.events, events...)
	return nil
}

func TestFanoutActivityStarted(t *testing.T) {
	queue := &stubQueue{}
	fanout := NewFanout(queue, nil)
	fanout.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	activity := domain.Activity{
		ID:          "act-1",
		GroupID:     "grp-1",
		Title:       "Morning check-in",
		Description: "Share how you are feeling today",
	}
	fanout.ActivityStarted(context.Background(), activity, []string{"bob", "carol"})

	require.Len(t, queue.events, 2)
	first := queue.events[0]
	require.Equal(t, "bob", first.RecipientID)
	require.Equal(t, domain.NotificationStarted, first.Kind)
	require.Equal(t, "Group activity: Morning check-in", first.Title)
	require.Equal(t, "Share how you are feeling today", first.Message)
	require.Equal(t, "/groups/grp-1/activities/act-1", first.ActionRef)
	require.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), first.EnqueuedAt)
}

func TestFanoutActivityCompleted(t *testing.T) {
	queue := &stubQueue{}
	fanout := NewFanout(queue, nil)

	activity := domain.Activity{ID: "act-2", GroupID: "grp-1", Title: "Evening reflection"}
	result := domain.AggregateResult{
		ActivityID: "act-2",
		Stats: &domain.AggregateStats{
			DominantEmotion: "happy",
			Wellbeing:       domain.WellbeingHigh,
		},
	}
	fanout.ActivityCompleted(context.Background(), activity, result, []string{"alice", "bob"})

	require.Len(t, queue.events, 2)
	require.Equal(t, domain.NotificationCompleted, queue.events[0].Kind)
	require.Equal(t, "Group analysis completed. Dominant emotion: happy. Wellbeing: high.", queue.events[0].Message)
	require.Equal(t, "/activities/act-2/result", queue.events[0].ActionRef)
}

func TestFanoutActivityCompletedWithoutSubmissions(t *testing.T) {
	queue := &stubQueue{}
	fanout := NewFanout(queue, nil)

	activity := domain.Activity{ID: "act-3", GroupID: "grp-1", Title: "Quick pulse"}
	fanout.ActivityCompleted(context.Background(), activity, domain.AggregateResult{ActivityID: "act-3"}, []string{"alice"})

	require.Len(t, queue.events, 1)
	require.Equal(t, "Group analysis completed. No submissions were received.", queue.events[0].Message)
}

func TestFanoutSwallowsQueueErrors(t *testing.T) {
	queue := &stubQueue{err: errors.New("db unavailable")}
	fanout := NewFanout(queue, nil)

	activity := domain.Activity{ID: "act-4", GroupID: "grp-1", Title: "Quick pulse"}
	require.NotPanics(t, func() {
		fanout.ActivityStarted(context.Background(), activity, []string{"bob"})
	})
	require.Empty(t, queue.events)
}
