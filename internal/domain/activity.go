// Package domain defines the business logic for group voice-analysis activities.
package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrPermissionDenied is returned when a caller invokes a creator-only operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidStateTransition is returned when the activity phase or participant
	// state does not allow the requested operation.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrNotAParticipant is returned when a user is not on the activity roster.
	ErrNotAParticipant = errors.New("user is not a participant of the activity")
	// ErrAggregationConflict indicates a transient write conflict while storing
	// the group aggregate. Callers retry the whole computation with fresh reads.
	ErrAggregationConflict = errors.New("aggregate write conflict")
	// ErrWriteConflict indicates a conditional update lost a race with a
	// concurrent writer. Transient; callers retry with fresh reads.
	ErrWriteConflict = errors.New("concurrent write conflict")
	// ErrResultNotReady is returned when the group aggregate has not been computed yet.
	ErrResultNotReady = errors.New("aggregate result not ready")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Phase represents the lifecycle phase of an activity.
type Phase string

const (
	PhaseDraft     Phase = "draft"
	PhaseActive    Phase = "active"
	PhaseCompleted Phase = "completed"
)

// Activity is the coordinated group exercise. started_at is set exactly once,
// by the creator, from draft; completed_at is set only after the aggregate
// has been stored.
type Activity struct {
	ID          string
	GroupID     string
	CreatorID   string
	Title       string
	Description string
	Phase       Phase
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ParticipantState tracks one roster member's progress. Transitions are
// monotonic: invited -> connected -> completed, or invited -> absent after the
// timeout sweep. No state ever regresses.
type ParticipantState string

const (
	StateInvited   ParticipantState = "invited"
	StateConnected ParticipantState = "connected"
	StateCompleted ParticipantState = "completed"
	StateAbsent    ParticipantState = "absent"
)

// Terminal reports whether no further transition can occur from s.
func (s ParticipantState) Terminal() bool {
	return s == StateCompleted || s == StateAbsent
}

// SubmissionResult is one participant's voice-derived analysis. Emotion
// weights are fractions in [0,1]; stress, anxiety and confidence are on a
// 0-100 scale.
type SubmissionResult struct {
	EmotionWeights map[string]float64
	Stress         float64
	Anxiety        float64
	Confidence     float64
}

// ParticipantRecord is the per-(activity, user) roster entry.
type ParticipantRecord struct {
	ActivityID  string
	UserID      string
	State       ParticipantState
	ConnectedAt *time.Time
	CompletedAt *time.Time
	Result      *SubmissionResult
}

// AggregateStats holds the group-level statistics. Nil on an AggregateResult
// when no participant submitted before the roster reached terminal state.
type AggregateStats struct {
	EmotionAverages map[string]float64
	DominantEmotion string
	MeanStress      float64
	MeanAnxiety     float64
	MeanConfidence  float64
	Wellbeing       string
}

// Wellbeing buckets derived from combined average stress and anxiety.
// Lower activation means better wellbeing.
const (
	WellbeingHigh   = "high"
	WellbeingNormal = "normal"
	WellbeingLow    = "low"
)

// AggregateResult is the one-per-activity group summary.
type AggregateResult struct {
	ActivityID       string
	ParticipantCount int
	RosterSize       int
	CompletionRatio  float64
	Stats            *AggregateStats
	ComputedAt       time.Time
}

// NotificationKind distinguishes activity-start from aggregation-complete
// notifications.
type NotificationKind string

const (
	NotificationStarted   NotificationKind = "started"
	NotificationCompleted NotificationKind = "completed"
)

// NotificationEvent is the audit record for one notification to one
// recipient. It never blocks core logic; delivery failures are recorded here
// and surfaced only through the audit query.
type NotificationEvent struct {
	ID            int64
	ActivityID    string
	RecipientID   string
	Kind          NotificationKind
	Title         string
	Message       string
	ActionRef     string
	Delivered     bool
	FailureReason string
	EnqueuedAt    time.Time
	AttemptedAt   *time.Time
}

// ParticipationStats summarises roster progress for an activity.
type ParticipationStats struct {
	Total     int
	Invited   int
	Connected int
	Completed int
	Absent    int
}

// CompletionPercent reports completed submissions over roster size in percent.
func (s ParticipationStats) CompletionPercent() float64 {
	if s.Total == 0 {
		return 0
	}
	return round2(float64(s.Completed) / float64(s.Total) * 100)
}
