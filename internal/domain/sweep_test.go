package domain_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Johnmc130/SerenVoice/internal/domain"
	"github.com/Johnmc130/SerenVoice/internal/persistence/memory"
)

func TestSweepMarksSilentInvitedAbsent(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	activity := f.createStarted(t, "alice")
	ctx := context.Background()

	submitFor(t, f, activity.ID, "alice", map[string]float64{"happy": 0.8})
	submitFor(t, f, activity.ID, "bob", map[string]float64{"happy": 0.6})

	f.clock.Advance(31 * time.Minute)

	marked, err := f.service.SweepTimeouts(ctx, f.clock.Now(), 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, marked)

	state, err := f.service.GetState(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseCompleted, state.Activity.Phase)
	require.Equal(t, 1, state.Stats.Absent)
	require.Equal(t, 2, state.Stats.Completed)

	// The partial aggregate covers the two submissions only.
	result, err := f.service.GetAggregate(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, 2, result.ParticipantCount)
	require.Equal(t, 3, result.RosterSize)
	require.InDelta(t, 2.0/3.0, result.CompletionRatio, 1e-9)

	completed := f.notifier.completedCalls()
	require.Len(t, completed, 1)
	require.ElementsMatch(t, []string{"alice", "bob", "carol"}, completed[0])
}

func TestSweepSkipsFreshActivities(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.createStarted(t, "alice")

	f.clock.Advance(10 * time.Minute)

	marked, err := f.service.SweepTimeouts(context.Background(), f.clock.Now(), 30*time.Minute)
	require.NoError(t, err)
	require.Zero(t, marked)
}

func TestSweepLeavesConnectedParticipantsAlone(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	activity := f.createStarted(t, "alice")
	ctx := context.Background()

	submitFor(t, f, activity.ID, "alice", map[string]float64{"happy": 0.8})
	_, err := f.service.Connect(ctx, activity.ID, "bob")
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)

	marked, err := f.service.SweepTimeouts(ctx, f.clock.Now(), 30*time.Minute)
	require.NoError(t, err)
	require.Zero(t, marked)

	// The connected participant still counts toward completion, so the
	// activity stays active.
	state, err := f.service.GetState(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseActive, state.Activity.Phase)
	require.Empty(t, f.notifier.completedCalls())
}

// flakyFinalizeRepo fails a configured number of finalize calls before
// delegating to the in-memory repository.
type flakyFinalizeRepo struct {
	*memory.Repository
	mu       sync.Mutex
	failures int
}

func (r *flakyFinalizeRepo) FinalizeActivity(ctx context.Context, activityID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return false, errors.New("connection reset")
	}
	return r.Repository.FinalizeActivity(ctx, activityID, at)
}

func TestSweepFinalizesAfterTransientFinalizeFailure(t *testing.T) {
	base := memory.NewRepository()
	base.SetGroupMembers("grp-1", []string{"alice", "bob"})
	repo := &flakyFinalizeRepo{Repository: base, failures: 1}
	notifier := &recordingNotifier{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	service := domain.NewService(repo, base, notifier, domain.WithClock(clock.Now))
	ctx := context.Background()

	activity, err := service.CreateActivity(ctx, domain.CreateActivityInput{
		GroupID: "grp-1", CreatorID: "alice", Title: "Morning check-in",
	})
	require.NoError(t, err)
	_, err = service.StartActivity(ctx, activity.ID, "alice")
	require.NoError(t, err)

	for _, user := range []string{"alice", "bob"} {
		_, err = service.Submit(ctx, domain.SubmitInput{
			ActivityID:     activity.ID,
			UserID:         user,
			EmotionWeights: map[string]float64{"happy": 0.6},
			Confidence:     80,
		})
		require.NoError(t, err)
	}

	// The finalize failure left the activity active with the claim consumed
	// and no Completed notification sent.
	state, err := service.GetState(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseActive, state.Activity.Phase)
	require.Empty(t, notifier.completedCalls())

	clock.Advance(31 * time.Minute)

	marked, err := service.SweepTimeouts(ctx, clock.Now(), 30*time.Minute)
	require.NoError(t, err)
	require.Zero(t, marked)

	state, err = service.GetState(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseCompleted, state.Activity.Phase)

	completed := notifier.completedCalls()
	require.Len(t, completed, 1)
	require.ElementsMatch(t, []string{"alice", "bob"}, completed[0])
}

func TestSweepCompletesActivityWhereEveryoneWasSilent(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	activity := f.createStarted(t, "alice")
	ctx := context.Background()

	f.clock.Advance(31 * time.Minute)

	marked, err := f.service.SweepTimeouts(ctx, f.clock.Now(), 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, marked)

	result, err := f.service.GetAggregate(ctx, activity.ID)
	require.NoError(t, err)
	require.Zero(t, result.ParticipantCount)
	require.Nil(t, result.Stats)

	state, err := f.service.GetState(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseCompleted, state.Activity.Phase)
}
