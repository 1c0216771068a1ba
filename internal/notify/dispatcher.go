package notify

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Johnmc130/SerenVoice/internal/domain"
)

// EventStore is the dispatcher's view of the notification queue.
type EventStore interface {
	FetchPendingNotifications(ctx context.Context, limit int) ([]domain.NotificationEvent, error)
	MarkNotificationAttempted(ctx context.Context, eventID int64, delivered bool, reason string, at time.Time) error
}

// Transport delivers a single notification to its recipient.
type Transport interface {
	Send(ctx context.Context, event domain.NotificationEvent) error
}

// Dispatcher drains pending notification events and hands each to the
// transport. Every event gets exactly one attempt; the outcome is recorded
// on the audit row and failed events are not retried.
type Dispatcher struct {
	store            EventStore
	transport        Transport
	pollInterval     time.Duration
	batchSize        int
	logger           *log.Logger
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store EventStore, transport Transport, pollInterval time.Duration, batchSize int, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		store:            store,
		transport:        transport,
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		logger:           logger,
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Printf("notify dispatcher error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the dispatcher has stopped.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	events, err := d.store.FetchPendingNotifications(ctx, d.batchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	defer dispatchBatchDuration.Observe(time.Since(start).Seconds())

	for _, event := range events {
		attemptedAt := time.Now().UTC()
		sendErr := d.transport.Send(ctx, event)
		if sendErr != nil {
			if errors.Is(sendErr, context.Canceled) {
				return sendErr
			}
			d.logger.Printf("notify: delivery to %s failed: %v", event.RecipientID, sendErr)
			failedCounter.Inc()
			if markErr := d.store.MarkNotificationAttempted(ctx, event.ID, false, sendErr.Error(), attemptedAt); markErr != nil {
				return markErr
			}
			continue
		}

		deliveredCounter.Inc()
		if markErr := d.store.MarkNotificationAttempted(ctx, event.ID, true, "", attemptedAt); markErr != nil {
			return markErr
		}
	}

	return nil
}
