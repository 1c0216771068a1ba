// Package memory provides an in-memory repository for local development and
// tests. All conditional transitions are serialized behind a single mutex, so
// it honors the same linearization guarantees the Postgres repository gets
// from conditional UPDATEs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Johnmc130/SerenVoice/internal/domain"
)

// Repository stores activities, rosters, aggregates and notification events
// in process memory. It implements domain.Repository, domain.GroupDirectory
// and the notification dispatcher's event store.
type Repository struct {
	mu            sync.Mutex
	activities    map[string]*domain.Activity
	claimed       map[string]time.Time
	participants  map[string]map[string]*domain.ParticipantRecord
	rosterOrder   map[string][]string
	aggregates    map[string]*domain.AggregateResult
	notifications []*domain.NotificationEvent
	members       map[string][]string
	nextEventID   int64
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		activities:   make(map[string]*domain.Activity),
		claimed:      make(map[string]time.Time),
		participants: make(map[string]map[string]*domain.ParticipantRecord),
		rosterOrder:  make(map[string][]string),
		aggregates:   make(map[string]*domain.AggregateResult),
		members:      make(map[string][]string),
	}
}

// SetGroupMembers seeds the group directory read model.
func (r *Repository) SetGroupMembers(groupID string, userIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[groupID] = append([]string(nil), userIDs...)
}

// ActiveMembers implements domain.GroupDirectory.
func (r *Repository) ActiveMembers(ctx context.Context, groupID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.members[groupID]...), nil
}

// CreateActivity implements domain.Repository.
func (r *Repository) CreateActivity(ctx context.Context, activity domain.Activity, roster []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := activity
	r.activities[activity.ID] = &stored
	records := make(map[string]*domain.ParticipantRecord, len(roster))
	for _, userID := range roster {
		records[userID] = &domain.ParticipantRecord{
			ActivityID: activity.ID,
			UserID:     userID,
			State:      domain.StateInvited,
		}
	}
	r.participants[activity.ID] = records
	r.rosterOrder[activity.ID] = append([]string(nil), roster...)
	return nil
}

// GetActivity implements domain.Repository.
func (r *Repository) GetActivity(ctx context.Context, activityID string) (*domain.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	activity, ok := r.activities[activityID]
	if !ok {
		return nil, nil
	}
	copied := *activity
	return &copied, nil
}

// StartActivity implements domain.Repository.
func (r *Repository) StartActivity(ctx context.Context, activityID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	activity, ok := r.activities[activityID]
	if !ok || activity.Phase != domain.PhaseDraft {
		return false, nil
	}
	activity.Phase = domain.PhaseActive
	started := at
	activity.StartedAt = &started
	return true, nil
}

// FinalizeActivity implements domain.Repository.
func (r *Repository) FinalizeActivity(ctx context.Context, activityID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	activity, ok := r.activities[activityID]
	if !ok || activity.Phase != domain.PhaseActive {
		return false, nil
	}
	activity.Phase = domain.PhaseCompleted
	completed := at
	activity.CompletedAt = &completed
	return true, nil
}

// ClaimAggregation implements domain.Repository.
func (r *Repository) ClaimAggregation(ctx context.Context, activityID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	activity, ok := r.activities[activityID]
	if !ok || activity.Phase != domain.PhaseActive {
		return false, nil
	}
	if _, taken := r.claimed[activityID]; taken {
		return false, nil
	}
	r.claimed[activityID] = at
	return true, nil
}

// ListActiveStartedBefore implements domain.Repository.
func (r *Repository) ListActiveStartedBefore(ctx context.Context, cutoff time.Time) ([]domain.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Activity
	for _, activity := range r.activities {
		if activity.Phase != domain.PhaseActive || activity.StartedAt == nil {
			continue
		}
		if activity.StartedAt.Before(cutoff) {
			out = append(out, *activity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListParticipants implements domain.Repository.
func (r *Repository) ListParticipants(ctx context.Context, activityID string) ([]domain.ParticipantRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.participants[activityID]
	out := make([]domain.ParticipantRecord, 0, len(records))
	for _, userID := range r.rosterOrder[activityID] {
		record := records[userID]
		copied := *record
		if record.Result != nil {
			result := *record.Result
			result.EmotionWeights = copyWeights(record.Result.EmotionWeights)
			copied.Result = &result
		}
		out = append(out, copied)
	}
	return out, nil
}

// ConnectParticipant implements domain.Repository.
func (r *Repository) ConnectParticipant(ctx context.Context, activityID, userID string, at time.Time) (domain.ParticipantState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.record(activityID, userID)
	if err != nil {
		return "", err
	}
	if record.State != domain.StateInvited {
		return record.State, nil
	}
	record.State = domain.StateConnected
	connected := at
	record.ConnectedAt = &connected
	return record.State, nil
}

// UpsertSubmission implements domain.Repository.
func (r *Repository) UpsertSubmission(ctx context.Context, activityID, userID string, result domain.SubmissionResult, at time.Time) (domain.ParticipantState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.record(activityID, userID)
	if err != nil {
		return "", err
	}
	if record.State == domain.StateAbsent {
		return "", domain.ErrInvalidStateTransition
	}

	stored := result
	stored.EmotionWeights = copyWeights(result.EmotionWeights)
	record.Result = &stored
	if record.State != domain.StateCompleted {
		record.State = domain.StateCompleted
		completed := at
		record.CompletedAt = &completed
	}
	return record.State, nil
}

// MarkAbsentIfInvited implements domain.Repository.
func (r *Repository) MarkAbsentIfInvited(ctx context.Context, activityID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.record(activityID, userID)
	if err != nil {
		return false, err
	}
	if record.State != domain.StateInvited {
		return false, nil
	}
	record.State = domain.StateAbsent
	return true, nil
}

// CountNonTerminal implements domain.Repository.
func (r *Repository) CountNonTerminal(ctx context.Context, activityID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, record := range r.participants[activityID] {
		if !record.State.Terminal() {
			count++
		}
	}
	return count, nil
}

// UpsertAggregate implements domain.Repository. A second write for the same
// activity is a no-op returning the stored result.
func (r *Repository) UpsertAggregate(ctx context.Context, result domain.AggregateResult) (*domain.AggregateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.aggregates[result.ActivityID]; ok {
		copied := *existing
		return &copied, nil
	}
	stored := result
	r.aggregates[result.ActivityID] = &stored
	copied := stored
	return &copied, nil
}

// GetAggregate implements domain.Repository.
func (r *Repository) GetAggregate(ctx context.Context, activityID string) (*domain.AggregateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, ok := r.aggregates[activityID]
	if !ok {
		return nil, nil
	}
	copied := *result
	return &copied, nil
}

// EnqueueNotifications implements domain.Repository.
func (r *Repository) EnqueueNotifications(ctx context.Context, events []domain.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, event := range events {
		r.nextEventID++
		stored := event
		stored.ID = r.nextEventID
		r.notifications = append(r.notifications, &stored)
	}
	return nil
}

// ListNotifications implements domain.Repository.
func (r *Repository) ListNotifications(ctx context.Context, activityID string) ([]domain.NotificationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.NotificationEvent
	for _, event := range r.notifications {
		if event.ActivityID == activityID {
			out = append(out, *event)
		}
	}
	return out, nil
}

// FetchPendingNotifications implements the dispatcher's event store.
func (r *Repository) FetchPendingNotifications(ctx context.Context, limit int) ([]domain.NotificationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.NotificationEvent
	for _, event := range r.notifications {
		if event.AttemptedAt != nil {
			continue
		}
		out = append(out, *event)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkNotificationAttempted implements the dispatcher's event store.
func (r *Repository) MarkNotificationAttempted(ctx context.Context, eventID int64, delivered bool, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, event := range r.notifications {
		if event.ID != eventID {
			continue
		}
		attempted := at
		event.AttemptedAt = &attempted
		event.Delivered = delivered
		event.FailureReason = reason
		return nil
	}
	return nil
}

func (r *Repository) record(activityID, userID string) (*domain.ParticipantRecord, error) {
	records, ok := r.participants[activityID]
	if !ok {
		return nil, domain.ErrActivityNotFound
	}
	record, ok := records[userID]
	if !ok {
		return nil, domain.ErrNotAParticipant
	}
	return record, nil
}

func copyWeights(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for k, v := range weights {
		out[k] = v
	}
	return out
}
