package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/circuit/internal/domain"
)

func TestFromSessionEmitsChronologicalExercises(t *testing.T) {
	done := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)
	s := domain.WorkoutSession{
		ID:           "w1",
		TemplateName: "pair",
		StartedAt:    done.Add(-time.Hour),
		CompletedAt:  &done,
		Performances: []domain.ExercisePerformance{
			{ExerciseName: "B", Round: 1, Order: 1, Duration: 20},
			{ExerciseName: "A", Round: 1, Order: 0, Duration: 10, HeartRate: []domain.HeartRateSample{{Value: 140, Timestamp: done}}},
		},
	}

	payload := FromSession(s)
	require.Equal(t, "w1", payload.ID)
	require.Equal(t, "A", payload.Exercises[0].Name)
	require.Equal(t, "B", payload.Exercises[1].Name)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	exercises := wire["exercises"].([]any)
	require.Equal(t, []any{}, exercises[1].(map[string]any)["heart_rate"], "empty sample list stays an array")
}

func TestToSessionInfersRoundsWhenMissing(t *testing.T) {
	payload := WorkoutCompleted{
		ID: "w2",
		Exercises: []ExerciseResult{
			{Name: "A", Round: 1},
			{Name: "A", Round: 3},
		},
	}
	s := payload.ToSession()
	require.Equal(t, 3, s.Rounds)
	require.Len(t, s.Performances, 2)
	require.False(t, s.Synced)
}
