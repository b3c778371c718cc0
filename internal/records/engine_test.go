package records

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/circuit/internal/domain"
)

func TestVariantKey(t *testing.T) {
	cases := []struct {
		name     string
		exercise string
		distance float64
		reps     int
		want     string
	}{
		{"distance", "Run", 150, 0, "Run_150m"},
		{"distance rounds", "Row", 499.6, 0, "Row_500m"},
		{"distance beats reps", "SledPush", 50, 10, "SledPush_50m"},
		{"reps", "WallBalls", 0, 40, "WallBalls_40reps"},
		{"time only", "Plank", 0, 0, "Plank_timeOnly"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, VariantKey(tc.exercise, tc.distance, tc.reps))
		})
	}
}

func TestBestForTracksMinimumAndFlagsStrictImprovements(t *testing.T) {
	engine := NewEngine()
	base := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	first := wallBalls(160, base)
	isRecord, _, _ := engine.EvaluateAndObserve("w1", first)
	require.False(t, isRecord, "nothing to beat yet")

	second := wallBalls(150, base.Add(time.Hour))
	isRecord, rec, improved := engine.EvaluateAndObserve("w2", second)
	require.True(t, isRecord)
	require.True(t, improved)
	require.Equal(t, 150.0, rec.BestValue)

	best, ok := engine.BestFor("WallBalls_40reps")
	require.True(t, ok)
	require.Equal(t, 150.0, best.BestValue)
	require.Equal(t, "w2", best.WorkoutID)

	third := wallBalls(155, base.Add(2*time.Hour))
	isRecord, _, improved = engine.EvaluateAndObserve("w3", third)
	require.False(t, isRecord)
	require.False(t, improved)

	best, _ = engine.BestFor("WallBalls_40reps")
	require.Equal(t, 150.0, best.BestValue)
}

func TestTiesKeepEarliestAchievement(t *testing.T) {
	engine := NewEngine()
	base := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	engine.EvaluateAndObserve("late", wallBalls(150, base.Add(time.Hour)))
	engine.EvaluateAndObserve("early", wallBalls(150, base))
	engine.EvaluateAndObserve("later", wallBalls(150, base.Add(2*time.Hour)))

	best, ok := engine.BestFor("WallBalls_40reps")
	require.True(t, ok)
	require.Equal(t, "early", best.WorkoutID)
}

func TestZeroDurationIsIgnored(t *testing.T) {
	engine := NewEngine()
	isRecord, _, improved := engine.EvaluateAndObserve("w", wallBalls(0, time.Now()))
	require.False(t, isRecord)
	require.False(t, improved)
	_, ok := engine.BestFor("WallBalls_40reps")
	require.False(t, ok)
}

func TestBestForEqualsMinimumOverHistory(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	engine := NewEngine()
	base := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	minimum := map[string]float64{}

	exercises := []domain.ExercisePerformance{
		{ExerciseName: "Run", TargetDistance: 150},
		{ExerciseName: "Run", TargetDistance: 1000},
		{ExerciseName: "WallBalls", TargetRepetitions: 40},
		{ExerciseName: "Plank"},
	}
	for i := 0; i < 200; i++ {
		p := exercises[rng.Intn(len(exercises))]
		p.Duration = float64(rng.Intn(300))
		ts := base.Add(time.Duration(i) * time.Minute)
		p.CompletedAt = &ts
		engine.EvaluateAndObserve("w", p)

		if p.Duration > 0 {
			key := KeyFor(p)
			if cur, ok := minimum[key]; !ok || p.Duration < cur {
				minimum[key] = p.Duration
			}
		}
	}

	for key, want := range minimum {
		got, ok := engine.BestFor(key)
		require.True(t, ok, key)
		require.Equal(t, want, got.BestValue, key)
	}

	again := NewEngine()
	again.Rebuild(nil)
	require.Empty(t, again.All())
}

func TestCombinedRecomputesAcrossVariants(t *testing.T) {
	engine := NewEngine()
	now := time.Date(2026, time.April, 1, 7, 0, 0, 0, time.UTC)

	run150 := domain.ExercisePerformance{ExerciseName: "Run", TargetDistance: 150, Duration: 40, CompletedAt: &now}
	run1000 := domain.ExercisePerformance{ExerciseName: "Run", TargetDistance: 1000, Duration: 210, CompletedAt: &now}
	wb := wallBalls(158, now)

	engine.EvaluateAndObserve("w", run1000)
	engine.EvaluateAndObserve("w", run150)
	engine.EvaluateAndObserve("w", wb)

	detailed := engine.Detailed()
	require.Len(t, detailed, 3)
	require.Equal(t, "Run_1000m", detailed[0].Key)
	require.Equal(t, 210.0, detailed[0].BestValue)

	combined := engine.Combined()
	require.Len(t, combined, 2)
	require.Equal(t, "Run", combined[0].Key)
	require.Equal(t, 40.0, combined[0].BestValue)
	require.Equal(t, "WallBalls", combined[1].Key)
}

func TestApplyBackendMayRaiseBest(t *testing.T) {
	engine := NewEngine()
	now := time.Now().UTC()
	engine.EvaluateAndObserve("local", wallBalls(120, now))

	engine.ApplyBackend([]domain.PersonalRecord{
		{Key: "WallBalls_40reps", BestValue: 150, AchievedAt: now, WorkoutID: "remote"},
	})

	best, ok := engine.BestFor("WallBalls_40reps")
	require.True(t, ok)
	require.Equal(t, 150.0, best.BestValue)
	require.Equal(t, "WallBalls", best.ExerciseName)
	require.True(t, engine.IsRecord("WallBalls_40reps", 149))
	require.False(t, engine.IsRecord("WallBalls_40reps", 150))
}

func TestObserveSessionReturnsRecordsSet(t *testing.T) {
	engine := NewEngine()
	now := time.Now().UTC()
	session := domain.WorkoutSession{
		ID:        "s1",
		StartedAt: now,
		Performances: []domain.ExercisePerformance{
			wallBalls(160, now),
			{ExerciseName: "Run", TargetDistance: 150, Duration: 40, CompletedAt: &now},
			{ExerciseName: "Run", TargetDistance: 150},
		},
	}

	recs := engine.ObserveSession(session)
	require.Len(t, recs, 2)
	require.Equal(t, "Run_150m", recs[0].Key)
	require.Equal(t, "s1", recs[0].WorkoutID)
}

func wallBalls(duration float64, at time.Time) domain.ExercisePerformance {
	return domain.ExercisePerformance{
		ExerciseName:      "WallBalls",
		TargetRepetitions: 40,
		Duration:          duration,
		CompletedAt:       &at,
	}
}

func TestScoreSessionFlagsAgainstPriorHistory(t *testing.T) {
	e := NewEngine()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	e.Observe(Observation{Key: "WallBalls_40reps", ExerciseName: "WallBalls", Duration: 160, AchievedAt: at})

	done := at.Add(time.Hour)
	s := domain.WorkoutSession{ID: "remote", Performances: []domain.ExercisePerformance{
		{ExerciseName: "WallBalls", TargetRepetitions: 40, Round: 2, Duration: 150, CompletedAt: &done},
		{ExerciseName: "WallBalls", TargetRepetitions: 40, Round: 1, Duration: 155, CompletedAt: &done, IsRecord: false},
		{ExerciseName: "Run", TargetDistance: 150, Round: 1, Order: 1, IsRecord: true},
	}}

	scored, set := e.ScoreSession(s)
	require.True(t, scored.Performances[1].IsRecord, "155 beats 160")
	require.True(t, scored.Performances[0].IsRecord, "150 beats 155 from the earlier round")
	require.False(t, scored.Performances[2].IsRecord, "incomplete performances never carry a flag")
	require.Len(t, set, 1)
	require.Equal(t, 150.0, set[0].BestValue)
	require.False(t, s.Performances[1].IsRecord, "input is not mutated")
}
