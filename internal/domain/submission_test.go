package domain_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Johnmc130/SerenVoice/internal/domain"
	"github.com/Johnmc130/SerenVoice/internal/persistence/memory"
)

func TestSubmitRequiresActivePhase(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	activity, err := f.service.CreateActivity(ctx, domain.CreateActivityInput{
		GroupID: "grp-1", CreatorID: "alice", Title: "Morning check-in",
	})
	require.NoError(t, err)

	_, err = f.service.Submit(ctx, domain.SubmitInput{
		ActivityID:     activity.ID,
		UserID:         "bob",
		EmotionWeights: map[string]float64{"happy": 0.5},
		Confidence:     80,
	})
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestSubmitRejectsNonParticipants(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	activity := f.createStarted(t, "alice")

	_, err := f.service.Submit(context.Background(), domain.SubmitInput{
		ActivityID:     activity.ID,
		UserID:         "mallory",
		EmotionWeights: map[string]float64{"happy": 0.5},
		Confidence:     80,
	})
	require.ErrorIs(t, err, domain.ErrNotAParticipant)
}

func TestSubmitDerivesStressAndAnxiety(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	activity := f.createStarted(t, "alice")
	ctx := context.Background()

	receipt := submitFor(t, f, activity.ID, "bob", map[string]float64{"anger": 0.3, "fear": 0.2, "sadness": 0.1})
	require.Equal(t, domain.StateCompleted, receipt.State)
	require.False(t, receipt.AllComplete)

	participants, err := f.service.ListParticipants(ctx, activity.ID)
	require.NoError(t, err)
	for _, p := range participants {
		if p.UserID != "bob" {
			continue
		}
		require.NotNil(t, p.Result)
		require.InDelta(t, 50.0, p.Result.Stress, 1e-9)
		require.InDelta(t, 30.0, p.Result.Anxiety, 1e-9)
	}
}

func TestSubmitExplicitLevelsWin(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	activity := f.createStarted(t, "alice")
	ctx := context.Background()

	stress, anxiety := 12.0, 34.0
	_, err := f.service.Submit(ctx, domain.SubmitInput{
		ActivityID:     activity.ID,
		UserID:         "bob",
		EmotionWeights: map[string]float64{"anger": 0.9},
		Stress:         &stress,
		Anxiety:        &anxiety,
		Confidence:     70,
	})
	require.NoError(t, err)

	participants, err := f.service.ListParticipants(ctx, activity.ID)
	require.NoError(t, err)
	for _, p := range participants {
		if p.UserID != "bob" {
			continue
		}
		require.Equal(t, 12.0, p.Result.Stress)
		require.Equal(t, 34.0, p.Result.Anxiety)
	}
}

func TestResubmissionOverwritesResult(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	activity := f.createStarted(t, "alice")
	ctx := context.Background()

	submitFor(t, f, activity.ID, "bob", map[string]float64{"sad": 0.9})
	receipt := submitFor(t, f, activity.ID, "bob", map[string]float64{"happy": 0.9})
	require.Equal(t, domain.StateCompleted, receipt.State)

	participants, err := f.service.ListParticipants(ctx, activity.ID)
	require.NoError(t, err)
	for _, p := range participants {
		if p.UserID != "bob" {
			continue
		}
		require.InDelta(t, 0.9, p.Result.EmotionWeights["happy"], 1e-9)
		require.NotContains(t, p.Result.EmotionWeights, "sad")
	}
}

// flakySubmitRepo rejects a configured number of submission writes with a
// transient conflict before delegating to the in-memory repository.
type flakySubmitRepo struct {
	*memory.Repository
	mu       sync.Mutex
	failures int
}

func (r *flakySubmitRepo) UpsertSubmission(ctx context.Context, activityID, userID string, result domain.SubmissionResult, at time.Time) (domain.ParticipantState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return "", domain.ErrWriteConflict
	}
	return r.Repository.UpsertSubmission(ctx, activityID, userID, result, at)
}

func TestSubmitRetriesTransientWriteConflict(t *testing.T) {
	base := memory.NewRepository()
	base.SetGroupMembers("grp-1", []string{"alice", "bob"})
	repo := &flakySubmitRepo{Repository: base, failures: 1}
	notifier := &recordingNotifier{}
	service := domain.NewService(repo, base, notifier)
	ctx := context.Background()

	activity, err := service.CreateActivity(ctx, domain.CreateActivityInput{
		GroupID: "grp-1", CreatorID: "alice", Title: "Morning check-in",
	})
	require.NoError(t, err)
	_, err = service.StartActivity(ctx, activity.ID, "alice")
	require.NoError(t, err)

	receipt, err := service.Submit(ctx, domain.SubmitInput{
		ActivityID:     activity.ID,
		UserID:         "bob",
		EmotionWeights: map[string]float64{"happy": 0.7},
		Confidence:     80,
	})
	require.NoError(t, err)
	require.True(t, receipt.Accepted)
	require.Equal(t, domain.StateCompleted, receipt.State)
}

func TestFinalSubmissionCompletesActivity(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	activity := f.createStarted(t, "alice")
	ctx := context.Background()

	submitFor(t, f, activity.ID, "alice", map[string]float64{"happy": 0.8, "calm": 0.2})
	submitFor(t, f, activity.ID, "bob", map[string]float64{"happy": 0.7, "calm": 0.3})
	receipt := submitFor(t, f, activity.ID, "carol", map[string]float64{"sad": 0.3, "calm": 0.7})

	require.True(t, receipt.AllComplete)
	require.NotNil(t, receipt.Aggregate)
	require.NotNil(t, receipt.Aggregate.Stats)
	require.Equal(t, "happy", receipt.Aggregate.Stats.DominantEmotion)
	require.InDelta(t, 0.5, receipt.Aggregate.Stats.EmotionAverages["happy"], 1e-9)

	state, err := f.service.GetState(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseCompleted, state.Activity.Phase)
	require.True(t, state.ResultReady)

	// Completion fans out to the whole roster, creator included.
	completed := f.notifier.completedCalls()
	require.Len(t, completed, 1)
	require.ElementsMatch(t, []string{"alice", "bob", "carol"}, completed[0])

	stored, err := f.service.GetAggregate(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, receipt.Aggregate.Stats.DominantEmotion, stored.Stats.DominantEmotion)
}

func TestConcurrentFinalSubmissionsAggregateOnce(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	activity := f.createStarted(t, "alice")

	submitFor(t, f, activity.ID, "alice", map[string]float64{"happy": 0.8})

	var wg sync.WaitGroup
	for _, user := range []string{"bob", "carol"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := f.service.Submit(context.Background(), domain.SubmitInput{
				ActivityID:     activity.ID,
				UserID:         user,
				EmotionWeights: map[string]float64{"happy": 0.6},
				Confidence:     80,
			})
			require.NoError(t, err)
		}(user)
	}
	wg.Wait()

	// Exactly one completion fan-out regardless of the race outcome.
	require.Len(t, f.notifier.completedCalls(), 1)

	stored, err := f.service.GetAggregate(context.Background(), activity.ID)
	require.NoError(t, err)
	require.Equal(t, 3, stored.ParticipantCount)
}
