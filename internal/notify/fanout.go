// Package notify fans activity notifications out to group members and
// delivers them to the notification pipeline.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Johnmc130/SerenVoice/internal/domain"
)

// Queue accepts audit rows for later delivery.
type Queue interface {
	EnqueueNotifications(ctx context.Context, events []domain.NotificationEvent) error
}

// Fanout implements domain.Notifier. Each call writes one pending audit row
// per recipient; the Dispatcher picks them up asynchronously, so a slow or
// broken transport never blocks the activity lifecycle.
type Fanout struct {
	queue  Queue
	logger *log.Logger
	now    func() time.Time
}

// NewFanout constructs a Fanout.
func NewFanout(queue Queue, logger *log.Logger) *Fanout {
	if logger == nil {
		logger = log.Default()
	}
	return &Fanout{queue: queue, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ActivityStarted enqueues a start notification for every recipient.
func (f *Fanout) ActivityStarted(ctx context.Context, activity domain.Activity, recipients []string) {
	events := make([]domain.NotificationEvent, 0, len(recipients))
	enqueuedAt := f.now()
	for _, recipient := range recipients {
		events = append(events, domain.NotificationEvent{
			ActivityID:  activity.ID,
			RecipientID: recipient,
			Kind:        domain.NotificationStarted,
			Title:       "Group activity: " + activity.Title,
			Message:     activity.Description,
			ActionRef:   fmt.Sprintf("/groups/%s/activities/%s", activity.GroupID, activity.ID),
			EnqueuedAt:  enqueuedAt,
		})
	}
	f.enqueue(ctx, activity.ID, events)
}

// ActivityCompleted enqueues a completion notification carrying the group
// result summary for every recipient.
func (f *Fanout) ActivityCompleted(ctx context.Context, activity domain.Activity, result domain.AggregateResult, recipients []string) {
	message := "Group analysis completed. No submissions were received."
	if result.Stats != nil {
		message = fmt.Sprintf("Group analysis completed. Dominant emotion: %s. Wellbeing: %s.",
			result.Stats.DominantEmotion, result.Stats.Wellbeing)
	}

	events := make([]domain.NotificationEvent, 0, len(recipients))
	enqueuedAt := f.now()
	for _, recipient := range recipients {
		events = append(events, domain.NotificationEvent{
			ActivityID:  activity.ID,
			RecipientID: recipient,
			Kind:        domain.NotificationCompleted,
			Title:       activity.Title,
			Message:     message,
			ActionRef:   fmt.Sprintf("/activities/%s/result", activity.ID),
			EnqueuedAt:  enqueuedAt,
		})
	}
	f.enqueue(ctx, activity.ID, events)
}

func (f *Fanout) enqueue(ctx context.Context, activityID string, events []domain.NotificationEvent) {
	if len(events) == 0 {
		return
	}
	if err := f.queue.EnqueueNotifications(ctx, events); err != nil {
		// Notification loss never fails the lifecycle operation that
		// triggered it.
		f.logger.Printf("notify: enqueue for activity %s failed: %v", activityID, err)
		return
	}
	enqueuedCounter.Add(float64(len(events)))
}
