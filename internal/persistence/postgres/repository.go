// Package postgres provides pgx-backed persistence for activities, rosters,
// aggregates and notification events.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Johnmc130/SerenVoice/internal/domain"
)

// Repository implements domain.Repository, domain.GroupDirectory and the
// notification dispatcher's event store on top of PostgreSQL. State machines
// are enforced with conditional UPDATEs, so concurrent writers serialize on
// the row and no transition can regress.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const activityColumns = `activity_id, group_id, creator_id, title, description, phase, created_at, started_at, completed_at`

// CreateActivity persists the draft activity and its roster snapshot in one
// transaction.
func (r *Repository) CreateActivity(ctx context.Context, activity domain.Activity, roster []string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const insertActivity = `INSERT INTO activities (activity_id, group_id, creator_id, title, description, phase, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := tx.Exec(ctx, insertActivity,
		activity.ID,
		activity.GroupID,
		activity.CreatorID,
		activity.Title,
		activity.Description,
		activity.Phase,
		activity.CreatedAt,
	); err != nil {
		return err
	}

	const insertParticipant = `INSERT INTO activity_participants (activity_id, user_id, state, updated_at)
        VALUES ($1,$2,$3,$4)`
	for _, userID := range roster {
		if _, err := tx.Exec(ctx, insertParticipant, activity.ID, userID, domain.StateInvited, activity.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetActivity retrieves an activity by id. A missing row yields (nil, nil).
func (r *Repository) GetActivity(ctx context.Context, activityID string) (*domain.Activity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE activity_id=$1`, activityID)
	activity, err := scanActivity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return activity, nil
}

// StartActivity transitions draft -> active.
func (r *Repository) StartActivity(ctx context.Context, activityID string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE activities SET phase=$2, started_at=$3 WHERE activity_id=$1 AND phase=$4`,
		activityID, domain.PhaseActive, at, domain.PhaseDraft)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FinalizeActivity transitions active -> completed once the aggregate exists.
func (r *Repository) FinalizeActivity(ctx context.Context, activityID string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE activities SET phase=$2, completed_at=$3 WHERE activity_id=$1 AND phase=$4`,
		activityID, domain.PhaseCompleted, at, domain.PhaseActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimAggregation performs the exactly-once claim. The NULL guard makes the
// update succeed for a single caller regardless of how many race.
func (r *Repository) ClaimAggregation(ctx context.Context, activityID string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE activities SET aggregation_claimed_at=$2
          WHERE activity_id=$1 AND phase=$3 AND aggregation_claimed_at IS NULL`,
		activityID, at, domain.PhaseActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListActiveStartedBefore returns active activities older than the cutoff.
func (r *Repository) ListActiveStartedBefore(ctx context.Context, cutoff time.Time) ([]domain.Activity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE phase=$1 AND started_at < $2 ORDER BY started_at`,
		domain.PhaseActive, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *activity)
	}
	return out, rows.Err()
}

// ListParticipants returns the roster ordered by user id.
func (r *Repository) ListParticipants(ctx context.Context, activityID string) ([]domain.ParticipantRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT activity_id, user_id, state, connected_at, completed_at, emotion_weights, stress, anxiety, confidence
           FROM activity_participants WHERE activity_id=$1 ORDER BY user_id`,
		activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ParticipantRecord
	for rows.Next() {
		var (
			record     domain.ParticipantRecord
			weightsRaw []byte
			stress     *float64
			anxiety    *float64
			confidence *float64
		)
		if err := rows.Scan(&record.ActivityID, &record.UserID, &record.State, &record.ConnectedAt, &record.CompletedAt, &weightsRaw, &stress, &anxiety, &confidence); err != nil {
			return nil, err
		}
		if weightsRaw != nil && stress != nil && anxiety != nil && confidence != nil {
			result := domain.SubmissionResult{Stress: *stress, Anxiety: *anxiety, Confidence: *confidence}
			if err := json.Unmarshal(weightsRaw, &result.EmotionWeights); err != nil {
				return nil, err
			}
			record.Result = &result
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// ConnectParticipant moves invited -> connected; any later state is returned
// untouched so client retries stay harmless.
func (r *Repository) ConnectParticipant(ctx context.Context, activityID, userID string, at time.Time) (domain.ParticipantState, error) {
	var state domain.ParticipantState
	err := r.pool.QueryRow(ctx,
		`UPDATE activity_participants SET state=$3, connected_at=$4, updated_at=$4
          WHERE activity_id=$1 AND user_id=$2 AND state=$5
        RETURNING state`,
		activityID, userID, domain.StateConnected, at, domain.StateInvited).Scan(&state)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	return r.participantState(ctx, activityID, userID)
}

// UpsertSubmission stores the result and advances any non-terminal state to
// completed. completed_at is preserved on resubmission; absent records are
// rejected.
func (r *Repository) UpsertSubmission(ctx context.Context, activityID, userID string, result domain.SubmissionResult, at time.Time) (domain.ParticipantState, error) {
	weights, err := json.Marshal(result.EmotionWeights)
	if err != nil {
		return "", err
	}

	var state domain.ParticipantState
	err = r.pool.QueryRow(ctx,
		`UPDATE activity_participants
            SET emotion_weights=$3, stress=$4, anxiety=$5, confidence=$6,
                state=$7, completed_at=COALESCE(completed_at, $8), updated_at=$8
          WHERE activity_id=$1 AND user_id=$2 AND state <> $9
        RETURNING state`,
		activityID, userID, weights, result.Stress, result.Anxiety, result.Confidence,
		domain.StateCompleted, at, domain.StateAbsent).Scan(&state)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	current, err := r.participantState(ctx, activityID, userID)
	if err != nil {
		return "", err
	}
	if current == domain.StateAbsent {
		return "", domain.ErrInvalidStateTransition
	}
	// The row changed between the two statements; report the conflict as
	// transient so the caller's bounded retry re-reads it.
	return "", domain.ErrWriteConflict
}

// MarkAbsentIfInvited transitions invited -> absent. A submission that
// already moved the record wins the race because the condition no longer
// matches.
func (r *Repository) MarkAbsentIfInvited(ctx context.Context, activityID, userID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE activity_participants SET state=$3, updated_at=NOW()
          WHERE activity_id=$1 AND user_id=$2 AND state=$4`,
		activityID, userID, domain.StateAbsent, domain.StateInvited)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CountNonTerminal counts roster members still invited or connected.
func (r *Repository) CountNonTerminal(ctx context.Context, activityID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM activity_participants WHERE activity_id=$1 AND state = ANY($2)`,
		activityID, []string{string(domain.StateInvited), string(domain.StateConnected)}).Scan(&count)
	return count, err
}

// UpsertAggregate inserts the result; when a row already exists the insert is
// a no-op and the stored result is returned instead. Serialization failures
// surface as domain.ErrAggregationConflict for the caller's retry loop.
func (r *Repository) UpsertAggregate(ctx context.Context, result domain.AggregateResult) (*domain.AggregateResult, error) {
	var (
		averages        []byte
		dominantEmotion *string
		meanStress      *float64
		meanAnxiety     *float64
		meanConfidence  *float64
		wellbeing       *string
		err             error
	)
	if result.Stats != nil {
		averages, err = json.Marshal(result.Stats.EmotionAverages)
		if err != nil {
			return nil, err
		}
		dominantEmotion = &result.Stats.DominantEmotion
		meanStress = &result.Stats.MeanStress
		meanAnxiety = &result.Stats.MeanAnxiety
		meanConfidence = &result.Stats.MeanConfidence
		wellbeing = &result.Stats.Wellbeing
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO activity_aggregates
            (activity_id, participant_count, roster_size, completion_ratio,
             dominant_emotion, emotion_averages, mean_stress, mean_anxiety, mean_confidence, wellbeing, computed_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
         ON CONFLICT (activity_id) DO NOTHING`,
		result.ActivityID, result.ParticipantCount, result.RosterSize, result.CompletionRatio,
		dominantEmotion, averages, meanStress, meanAnxiety, meanConfidence, wellbeing, result.ComputedAt)
	if err != nil {
		if isSerializationFailure(err) {
			return nil, domain.ErrAggregationConflict
		}
		return nil, err
	}

	stored, err := r.GetAggregate(ctx, result.ActivityID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrAggregationConflict
	}
	return stored, nil
}

// GetAggregate retrieves the aggregate for an activity, nil when absent.
func (r *Repository) GetAggregate(ctx context.Context, activityID string) (*domain.AggregateResult, error) {
	var (
		result          domain.AggregateResult
		averagesRaw     []byte
		dominantEmotion *string
		meanStress      *float64
		meanAnxiety     *float64
		meanConfidence  *float64
		wellbeing       *string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT activity_id, participant_count, roster_size, completion_ratio,
                dominant_emotion, emotion_averages, mean_stress, mean_anxiety, mean_confidence, wellbeing, computed_at
           FROM activity_aggregates WHERE activity_id=$1`,
		activityID).Scan(&result.ActivityID, &result.ParticipantCount, &result.RosterSize, &result.CompletionRatio,
		&dominantEmotion, &averagesRaw, &meanStress, &meanAnxiety, &meanConfidence, &wellbeing, &result.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if dominantEmotion != nil && meanStress != nil && meanAnxiety != nil && meanConfidence != nil && wellbeing != nil {
		stats := domain.AggregateStats{
			DominantEmotion: *dominantEmotion,
			MeanStress:      *meanStress,
			MeanAnxiety:     *meanAnxiety,
			MeanConfidence:  *meanConfidence,
			Wellbeing:       *wellbeing,
		}
		if averagesRaw != nil {
			if err := json.Unmarshal(averagesRaw, &stats.EmotionAverages); err != nil {
				return nil, err
			}
		}
		result.Stats = &stats
	}
	return &result, nil
}

// EnqueueNotifications records one pending audit row per recipient.
func (r *Repository) EnqueueNotifications(ctx context.Context, events []domain.NotificationEvent) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const stmt = `INSERT INTO notification_events (activity_id, recipient_id, kind, title, message, action_ref, enqueued_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	for _, event := range events {
		if _, err := tx.Exec(ctx, stmt, event.ActivityID, event.RecipientID, event.Kind, event.Title, event.Message, event.ActionRef, event.EnqueuedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListNotifications returns the audit trail for an activity.
func (r *Repository) ListNotifications(ctx context.Context, activityID string) ([]domain.NotificationEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT event_id, activity_id, recipient_id, kind, title, message, action_ref, delivered, failure_reason, enqueued_at, attempted_at
           FROM notification_events WHERE activity_id=$1 ORDER BY event_id`,
		activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// FetchPendingNotifications returns unattempted events for the dispatcher.
func (r *Repository) FetchPendingNotifications(ctx context.Context, limit int) ([]domain.NotificationEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT event_id, activity_id, recipient_id, kind, title, message, action_ref, delivered, failure_reason, enqueued_at, attempted_at
           FROM notification_events WHERE attempted_at IS NULL ORDER BY event_id LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// MarkNotificationAttempted records the delivery outcome for one event.
func (r *Repository) MarkNotificationAttempted(ctx context.Context, eventID int64, delivered bool, reason string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notification_events SET delivered=$2, failure_reason=$3, attempted_at=$4 WHERE event_id=$1`,
		eventID, delivered, reason, at)
	return err
}

// ActiveMembers implements domain.GroupDirectory from the Kafka-fed
// group_members read model.
func (r *Repository) ActiveMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM group_members WHERE group_id=$1 AND active ORDER BY user_id`,
		groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		out = append(out, userID)
	}
	return out, rows.Err()
}

func (r *Repository) participantState(ctx context.Context, activityID, userID string) (domain.ParticipantState, error) {
	var state domain.ParticipantState
	err := r.pool.QueryRow(ctx,
		`SELECT state FROM activity_participants WHERE activity_id=$1 AND user_id=$2`,
		activityID, userID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotAParticipant
	}
	if err != nil {
		return "", err
	}
	return state, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (*domain.Activity, error) {
	var activity domain.Activity
	if err := row.Scan(&activity.ID, &activity.GroupID, &activity.CreatorID, &activity.Title, &activity.Description,
		&activity.Phase, &activity.CreatedAt, &activity.StartedAt, &activity.CompletedAt); err != nil {
		return nil, err
	}
	return &activity, nil
}

func scanNotifications(rows pgx.Rows) ([]domain.NotificationEvent, error) {
	var out []domain.NotificationEvent
	for rows.Next() {
		var event domain.NotificationEvent
		if err := rows.Scan(&event.ID, &event.ActivityID, &event.RecipientID, &event.Kind, &event.Title, &event.Message,
			&event.ActionRef, &event.Delivered, &event.FailureReason, &event.EnqueuedAt, &event.AttemptedAt); err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// isSerializationFailure reports Postgres serialization or deadlock errors,
// which are safe to retry with fresh reads.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
