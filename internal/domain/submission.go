package domain

import (
	"context"
	"errors"
	"time"

	"github.com/Johnmc130/SerenVoice/internal/observability"
)

const (
	submitMaxAttempts = 3
	submitBaseBackoff = 50 * time.Millisecond
)

// SubmitInput is one participant's analysis result.
type SubmitInput struct {
	ActivityID     string
	UserID         string
	EmotionWeights map[string]float64
	// Stress and Anxiety are optional; when the analyzer omits them they are
	// derived from the emotion vector.
	Stress     *float64
	Anxiety    *float64
	Confidence float64
}

// SubmitReceipt reports the outcome of a submission.
type SubmitReceipt struct {
	Accepted    bool
	State       ParticipantState
	AllComplete bool
	Aggregate   *AggregateResult
}

// Submit upserts the participant's result and advances their state to
// completed. Resubmission overwrites the stored result without changing
// state. Every call runs completion detection afterwards; the check is cheap
// and safe to run redundantly.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (*SubmitReceipt, error) {
	if err := validateSubmission(input); err != nil {
		return nil, err
	}

	activity, err := s.getActivity(ctx, input.ActivityID)
	if err != nil {
		return nil, err
	}
	if activity.Phase != PhaseActive {
		return nil, ErrInvalidStateTransition
	}

	result := SubmissionResult{
		EmotionWeights: input.EmotionWeights,
		Stress:         DeriveStress(input.EmotionWeights),
		Anxiety:        DeriveAnxiety(input.EmotionWeights),
		Confidence:     input.Confidence,
	}
	if input.Stress != nil {
		result.Stress = *input.Stress
	}
	if input.Anxiety != nil {
		result.Anxiety = *input.Anxiety
	}

	state, err := s.upsertWithRetry(ctx, input.ActivityID, input.UserID, result)
	if err != nil {
		return nil, err
	}

	observability.RecordSubmissionAccepted()
	receipt := &SubmitReceipt{Accepted: true, State: state}

	aggregate, allComplete, err := s.checkCompletion(ctx, *activity)
	if err != nil {
		// The submission itself succeeded; an aggregation failure is logged
		// and left for the next completion check to retry.
		s.logger.Printf("completion check after submit failed (activity=%s): %v", input.ActivityID, err)
		receipt.AllComplete = allComplete
		return receipt, nil
	}
	receipt.AllComplete = allComplete
	receipt.Aggregate = aggregate
	return receipt, nil
}

// upsertWithRetry retries transient storage failures with bounded backoff
// before surfacing them. Domain errors are never retried.
func (s *Service) upsertWithRetry(ctx context.Context, activityID, userID string, result SubmissionResult) (ParticipantState, error) {
	var (
		state ParticipantState
		err   error
	)
	for attempt := 0; attempt < submitMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * submitBaseBackoff):
			}
		}
		state, err = s.repo.UpsertSubmission(ctx, activityID, userID, result, s.now())
		if err == nil || !retryableStorageError(err) {
			return state, err
		}
	}
	return "", err
}

func retryableStorageError(err error) bool {
	switch {
	case errors.Is(err, ErrNotAParticipant),
		errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrActivityNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func validateSubmission(input SubmitInput) error {
	if len(input.EmotionWeights) == 0 {
		return &ValidationError{Field: "emotion_weights", Reason: "must not be empty"}
	}
	for name, weight := range input.EmotionWeights {
		if name == "" {
			return &ValidationError{Field: "emotion_weights", Reason: "contains an empty category name"}
		}
		if weight < 0 || weight > 1 {
			return &ValidationError{Field: "emotion_weights", Reason: "weights must be in [0,1]"}
		}
	}
	if input.Stress != nil && (*input.Stress < 0 || *input.Stress > 100) {
		return &ValidationError{Field: "stress", Reason: "must be in [0,100]"}
	}
	if input.Anxiety != nil && (*input.Anxiety < 0 || *input.Anxiety > 100) {
		return &ValidationError{Field: "anxiety", Reason: "must be in [0,100]"}
	}
	if input.Confidence < 0 || input.Confidence > 100 {
		return &ValidationError{Field: "confidence", Reason: "must be in [0,100]"}
	}
	return nil
}
