package domain

import (
	"context"
	"time"
)

// Repository captures the persistence operations the activity engine needs.
// Every write that guards a state machine is conditional: it takes effect only
// if the stored row is still in the expected state, and reports whether it did.
type Repository interface {
	// CreateActivity persists a draft activity together with its roster
	// snapshot (one invited participant row per user) in a single transaction.
	CreateActivity(ctx context.Context, activity Activity, roster []string) error
	GetActivity(ctx context.Context, activityID string) (*Activity, error)
	// StartActivity transitions draft -> active and sets started_at. Returns
	// false without error when the activity is not in draft.
	StartActivity(ctx context.Context, activityID string, at time.Time) (bool, error)
	// FinalizeActivity transitions active -> completed and sets completed_at.
	FinalizeActivity(ctx context.Context, activityID string, at time.Time) (bool, error)
	// ClaimAggregation atomically claims the exactly-once right to compute the
	// aggregate for an activity. Exactly one caller ever receives true.
	ClaimAggregation(ctx context.Context, activityID string, at time.Time) (bool, error)
	// ListActiveStartedBefore returns active activities whose started_at is
	// before the cutoff. Used by the timeout sweep.
	ListActiveStartedBefore(ctx context.Context, cutoff time.Time) ([]Activity, error)

	ListParticipants(ctx context.Context, activityID string) ([]ParticipantRecord, error)
	// ConnectParticipant moves an invited participant to connected and returns
	// the resulting state. Connecting a participant who is already connected,
	// completed or absent leaves the record untouched and returns its current
	// state, so client retries are harmless.
	ConnectParticipant(ctx context.Context, activityID, userID string, at time.Time) (ParticipantState, error)
	// UpsertSubmission stores the participant's result and advances any
	// non-terminal state to completed. A completed participant keeps its state
	// and completed_at; only the result is overwritten. Absent participants
	// are rejected with ErrInvalidStateTransition.
	UpsertSubmission(ctx context.Context, activityID, userID string, result SubmissionResult, at time.Time) (ParticipantState, error)
	// MarkAbsentIfInvited transitions invited -> absent. The condition makes a
	// concurrent submission win the race: once the record left invited the
	// sweep write is a no-op.
	MarkAbsentIfInvited(ctx context.Context, activityID, userID string) (bool, error)
	// CountNonTerminal counts roster members still invited or connected.
	CountNonTerminal(ctx context.Context, activityID string) (int, error)

	// UpsertAggregate stores the result keyed by activity id. When a row
	// already exists the call is a no-op that returns the stored result.
	UpsertAggregate(ctx context.Context, result AggregateResult) (*AggregateResult, error)
	GetAggregate(ctx context.Context, activityID string) (*AggregateResult, error)

	EnqueueNotifications(ctx context.Context, events []NotificationEvent) error
	ListNotifications(ctx context.Context, activityID string) ([]NotificationEvent, error)
}

// GroupDirectory resolves the current active membership of a group. The
// roster snapshot is taken from it once, at activity creation; later
// membership changes never affect an existing roster.
type GroupDirectory interface {
	ActiveMembers(ctx context.Context, groupID string) ([]string, error)
}

// Notifier fans a notification out to a set of recipients. Implementations
// must isolate per-recipient failures and never return them to the caller;
// failed deliveries become audit facts, nothing else.
type Notifier interface {
	ActivityStarted(ctx context.Context, activity Activity, recipients []string)
	ActivityCompleted(ctx context.Context, activity Activity, result AggregateResult, recipients []string)
}
