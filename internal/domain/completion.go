package domain

import (
	"context"

	"github.com/Johnmc130/SerenVoice/internal/observability"
)

// checkCompletion decides whether the roster has reached a terminal
// configuration and, if so, computes the aggregate exactly once. It is
// invoked after every submission and after every timeout sweep; concurrent
// callers race for an atomic claim. The claim only dedupes the computation:
// the conditional active -> completed transition keeps finalization and the
// Completed fan-out exactly-once, so a caller that finds the claim already
// taken still resumes whatever steps an earlier claim holder left unfinished.
//
// The returned bool reports whether every roster member is terminal.
func (s *Service) checkCompletion(ctx context.Context, activity Activity) (*AggregateResult, bool, error) {
	remaining, err := s.repo.CountNonTerminal(ctx, activity.ID)
	if err != nil {
		return nil, false, err
	}
	if remaining > 0 {
		return nil, false, nil
	}

	claimed, err := s.repo.ClaimAggregation(ctx, activity.ID, s.now())
	if err != nil {
		return nil, true, err
	}
	if !claimed {
		observability.RecordAggregationClaimLost()
		result, err := s.resumeCompletion(ctx, activity)
		return result, true, err
	}

	result, err := s.computeAggregate(ctx, activity)
	if err != nil {
		return nil, true, err
	}
	return result, true, s.finalizeAndNotify(ctx, activity, result)
}

// resumeCompletion is the claim-lost path. When the claim holder already
// finished, the stored aggregate is returned as-is. When it failed between
// claiming and finalizing, the remaining steps are redone here: the aggregate
// upsert keeps whichever row landed first and the conditional finalize admits
// a single winner, so redone work stays idempotent and the activity cannot
// stay active forever on a consumed claim.
func (s *Service) resumeCompletion(ctx context.Context, activity Activity) (*AggregateResult, error) {
	result, err := s.repo.GetAggregate(ctx, activity.ID)
	if err != nil {
		return nil, err
	}

	current, err := s.repo.GetActivity(ctx, activity.ID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.Phase != PhaseActive {
		return result, nil
	}

	if result == nil {
		result, err = s.computeAggregate(ctx, activity)
		if err != nil {
			return nil, err
		}
	}
	return result, s.finalizeAndNotify(ctx, activity, result)
}

// finalizeAndNotify performs the active -> completed transition. Only the
// caller whose conditional update actually fired sends the Completed fan-out
// to the roster, so notifications stay exactly-once no matter how many
// completion checks run.
func (s *Service) finalizeAndNotify(ctx context.Context, activity Activity, result *AggregateResult) error {
	completedAt := s.now()
	finalized, err := s.repo.FinalizeActivity(ctx, activity.ID, completedAt)
	if err != nil {
		return err
	}
	if !finalized {
		return nil
	}
	observability.RecordAggregateComputed(result.ComputedAt)

	participants, err := s.repo.ListParticipants(ctx, activity.ID)
	if err != nil {
		return err
	}
	recipients := make([]string, 0, len(participants))
	for _, p := range participants {
		recipients = append(recipients, p.UserID)
	}
	activity.Phase = PhaseCompleted
	activity.CompletedAt = &completedAt
	s.notifier.ActivityCompleted(ctx, activity, *result, recipients)

	return nil
}
