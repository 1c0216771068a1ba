package domain

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"
)

const aggregateMaxAttempts = 3

// computeAggregate reads the completed submissions, builds the group summary
// and stores it through the idempotent upsert. A transient write conflict is
// retried with fresh reads a bounded number of times before being reported.
func (s *Service) computeAggregate(ctx context.Context, activity Activity) (*AggregateResult, error) {
	var lastErr error
	for attempt := 0; attempt < aggregateMaxAttempts; attempt++ {
		participants, err := s.repo.ListParticipants(ctx, activity.ID)
		if err != nil {
			return nil, err
		}

		result := buildAggregate(activity.ID, participants, s.now())

		stored, err := s.repo.UpsertAggregate(ctx, result)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, ErrAggregationConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// buildAggregate computes the group summary from the roster. Only completed
// participants contribute; a roster where nobody submitted yields a result
// with nil statistics and a participant count of zero.
//
// Per-category averages divide by the number of completed participants, so a
// participant whose vector omits a category contributes zero weight to it.
// The dominant emotion is the category with the highest average; ties break
// toward the lexically smaller name so recomputation is reproducible.
func buildAggregate(activityID string, participants []ParticipantRecord, computedAt time.Time) AggregateResult {
	result := AggregateResult{
		ActivityID: activityID,
		RosterSize: len(participants),
		ComputedAt: computedAt,
	}

	var (
		sumStress     float64
		sumAnxiety    float64
		sumConfidence float64
		weightSums    = make(map[string]float64)
	)
	for _, p := range participants {
		if p.State != StateCompleted || p.Result == nil {
			continue
		}
		result.ParticipantCount++
		sumStress += p.Result.Stress
		sumAnxiety += p.Result.Anxiety
		sumConfidence += p.Result.Confidence
		for category, weight := range p.Result.EmotionWeights {
			weightSums[category] += weight
		}
	}

	if result.RosterSize > 0 {
		result.CompletionRatio = float64(result.ParticipantCount) / float64(result.RosterSize)
	}
	if result.ParticipantCount == 0 {
		return result
	}

	n := float64(result.ParticipantCount)
	averages := make(map[string]float64, len(weightSums))
	for category, sum := range weightSums {
		averages[category] = round2(sum / n)
	}

	stats := AggregateStats{
		EmotionAverages: averages,
		DominantEmotion: dominantEmotion(averages),
		MeanStress:      round2(sumStress / n),
		MeanAnxiety:     round2(sumAnxiety / n),
		MeanConfidence:  round2(sumConfidence / n),
	}
	stats.Wellbeing = classifyWellbeing(stats.MeanStress, stats.MeanAnxiety)
	result.Stats = &stats
	return result
}

// dominantEmotion returns the category with the highest average weight,
// breaking ties by lexical order of the category name.
func dominantEmotion(averages map[string]float64) string {
	categories := make([]string, 0, len(averages))
	for category := range averages {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	dominant := ""
	best := math.Inf(-1)
	for _, category := range categories {
		if averages[category] > best {
			best = averages[category]
			dominant = category
		}
	}
	return dominant
}

// classifyWellbeing buckets combined stress/anxiety activation. Low activation
// means the group is doing well.
func classifyWellbeing(meanStress, meanAnxiety float64) string {
	activation := (meanStress + meanAnxiety) / 2
	switch {
	case activation < 40:
		return WellbeingHigh
	case activation > 70:
		return WellbeingLow
	default:
		return WellbeingNormal
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
