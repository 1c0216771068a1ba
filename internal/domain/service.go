package domain

import (
	"context"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	titleMinLen       = 3
	titleMaxLen       = 200
	descriptionMaxLen = 1000
)

// Service orchestrates the activity lifecycle, roster, submissions,
// completion detection and aggregation.
type Service struct {
	repo      Repository
	directory GroupDirectory
	notifier  Notifier
	logger    *log.Logger
	now       func() time.Time
}

// Option configures optional Service behaviour.
type Option func(*Service)

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger overrides the logger used for background failures.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService constructs a Service.
func NewService(repo Repository, directory GroupDirectory, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		directory: directory,
		notifier:  notifier,
		logger:    log.New(log.Writer(), "[activity] ", log.LstdFlags),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateActivityInput captures the payload from the API layer.
type CreateActivityInput struct {
	GroupID     string
	CreatorID   string
	Title       string
	Description string
	// ExcludeCreator removes the creator from the roster so they can run the
	// exercise without participating.
	ExcludeCreator bool
}

// CreateActivity validates the input, snapshots the roster from the group
// directory and persists the draft activity.
func (s *Service) CreateActivity(ctx context.Context, input CreateActivityInput) (*Activity, error) {
	if n := utf8.RuneCountInString(input.Title); n < titleMinLen || n > titleMaxLen {
		return nil, &ValidationError{Field: "title", Reason: "must be 3-200 characters"}
	}
	if utf8.RuneCountInString(input.Description) > descriptionMaxLen {
		return nil, &ValidationError{Field: "description", Reason: "must be at most 1000 characters"}
	}
	if input.GroupID == "" {
		return nil, &ValidationError{Field: "group_id", Reason: "is required"}
	}

	members, err := s.directory.ActiveMembers(ctx, input.GroupID)
	if err != nil {
		return nil, err
	}

	roster := snapshotRoster(members, input.CreatorID, input.ExcludeCreator)
	if len(roster) == 0 {
		return nil, &ValidationError{Field: "group_id", Reason: "group has no active members"}
	}

	activity := Activity{
		ID:          uuid.NewString(),
		GroupID:     input.GroupID,
		CreatorID:   input.CreatorID,
		Title:       input.Title,
		Description: input.Description,
		Phase:       PhaseDraft,
		CreatedAt:   s.now(),
	}

	if err := s.repo.CreateActivity(ctx, activity, roster); err != nil {
		return nil, err
	}
	return &activity, nil
}

// snapshotRoster fixes the set of eligible participants at creation time.
// Membership changes after this point do not affect the activity.
func snapshotRoster(members []string, creatorID string, excludeCreator bool) []string {
	seen := make(map[string]struct{}, len(members)+1)
	roster := make([]string, 0, len(members)+1)
	for _, id := range members {
		if id == "" {
			continue
		}
		if excludeCreator && id == creatorID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		roster = append(roster, id)
	}
	if !excludeCreator {
		if _, ok := seen[creatorID]; !ok && creatorID != "" {
			roster = append(roster, creatorID)
		}
	}
	return roster
}

// StartReceipt is returned by StartActivity.
type StartReceipt struct {
	StartedAt        time.Time
	ParticipantCount int
}

// StartActivity transitions the activity to active and notifies every roster
// member except the creator. Only the creator may start, and only from draft.
func (s *Service) StartActivity(ctx context.Context, activityID, callerID string) (*StartReceipt, error) {
	activity, err := s.getActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity.CreatorID != callerID {
		return nil, ErrPermissionDenied
	}

	startedAt := s.now()
	started, err := s.repo.StartActivity(ctx, activityID, startedAt)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, ErrInvalidStateTransition
	}

	participants, err := s.repo.ListParticipants(ctx, activityID)
	if err != nil {
		return nil, err
	}

	recipients := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.UserID != activity.CreatorID {
			recipients = append(recipients, p.UserID)
		}
	}
	activity.Phase = PhaseActive
	activity.StartedAt = &startedAt
	s.notifier.ActivityStarted(ctx, *activity, recipients)

	return &StartReceipt{StartedAt: startedAt, ParticipantCount: len(participants)}, nil
}

// ActivityState combines the activity with roster progress.
type ActivityState struct {
	Activity     Activity
	Stats        ParticipationStats
	ResultReady  bool
	Participants []ParticipantRecord
}

// GetState fetches the activity along with participation statistics.
func (s *Service) GetState(ctx context.Context, activityID string) (*ActivityState, error) {
	activity, err := s.getActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}

	participants, err := s.repo.ListParticipants(ctx, activityID)
	if err != nil {
		return nil, err
	}

	var stats ParticipationStats
	for _, p := range participants {
		stats.Total++
		switch p.State {
		case StateInvited:
			stats.Invited++
		case StateConnected:
			stats.Connected++
		case StateCompleted:
			stats.Completed++
		case StateAbsent:
			stats.Absent++
		}
	}

	return &ActivityState{
		Activity:     *activity,
		Stats:        stats,
		ResultReady:  activity.Phase == PhaseCompleted,
		Participants: participants,
	}, nil
}

// ListParticipants returns the roster for an activity.
func (s *Service) ListParticipants(ctx context.Context, activityID string) ([]ParticipantRecord, error) {
	if _, err := s.getActivity(ctx, activityID); err != nil {
		return nil, err
	}
	return s.repo.ListParticipants(ctx, activityID)
}

// Connect marks the calling participant as connected. It is idempotent for
// client retries: connecting while already connected or terminal is a no-op.
func (s *Service) Connect(ctx context.Context, activityID, userID string) (ParticipantState, error) {
	if _, err := s.getActivity(ctx, activityID); err != nil {
		return "", err
	}
	return s.repo.ConnectParticipant(ctx, activityID, userID, s.now())
}

// Notifications returns the notification audit trail for an activity.
func (s *Service) Notifications(ctx context.Context, activityID string) ([]NotificationEvent, error) {
	if _, err := s.getActivity(ctx, activityID); err != nil {
		return nil, err
	}
	return s.repo.ListNotifications(ctx, activityID)
}

// GetAggregate returns the computed aggregate, or ErrResultNotReady while the
// roster has not reached a terminal configuration.
func (s *Service) GetAggregate(ctx context.Context, activityID string) (*AggregateResult, error) {
	if _, err := s.getActivity(ctx, activityID); err != nil {
		return nil, err
	}
	result, err := s.repo.GetAggregate(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrResultNotReady
	}
	return result, nil
}

// SweepTimeouts marks participants who never connected as absent on every
// active activity older than the timeout, then re-runs completion detection
// for the affected activities. Returns the number of participants marked.
func (s *Service) SweepTimeouts(ctx context.Context, now time.Time, timeout time.Duration) (int, error) {
	activities, err := s.repo.ListActiveStartedBefore(ctx, now.Add(-timeout))
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, activity := range activities {
		participants, err := s.repo.ListParticipants(ctx, activity.ID)
		if err != nil {
			return marked, err
		}

		for _, p := range participants {
			if p.State != StateInvited {
				continue
			}
			changed, err := s.repo.MarkAbsentIfInvited(ctx, activity.ID, p.UserID)
			if err != nil {
				return marked, err
			}
			if changed {
				marked++
			}
		}

		// Re-checking unconditionally lets the sweep finish activities whose
		// earlier completion check failed transiently.
		if _, _, err := s.checkCompletion(ctx, activity); err != nil {
			s.logger.Printf("completion check after sweep failed (activity=%s): %v", activity.ID, err)
		}
	}
	return marked, nil
}

func (s *Service) getActivity(ctx context.Context, activityID string) (*Activity, error) {
	activity, err := s.repo.GetActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	return activity, nil
}
