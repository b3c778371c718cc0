//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/circuit/internal/backend"
	"example.com/circuit/internal/domain"
)

func newRepository(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("circuit"),
		postgrescontainer.WithUsername("circuit"),
		postgrescontainer.WithPassword("circuit"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	contents, err := os.ReadFile(resolvePath(t, "../../../db/postgres/migrations/0001_init.up.sql"))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(contents))
	require.NoError(t, err)

	return NewRepository(pool)
}

func TestRepositoryScopesByUser(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	start := time.Date(2025, 8, 1, 6, 0, 0, 0, time.UTC)
	done := start.Add(20 * time.Minute)
	tplID := "tpl-1"
	s := domain.WorkoutSession{
		ID: "w-1", TemplateID: &tplID, TemplateName: "Engine", Rounds: 1,
		StartedAt: start, CompletedAt: &done, TotalDuration: 1200, TotalDistance: 400,
		Performances: []domain.ExercisePerformance{
			{ID: "p-1", ExerciseName: "Run", TargetDistance: 400, Round: 1, Duration: 95, Distance: 400, CompletedAt: &done,
				HeartRate: []domain.HeartRateSample{{Value: 151, Timestamp: done}}},
		},
	}
	require.NoError(t, repo.UpsertWorkout(ctx, "user-1", s))
	require.NoError(t, repo.UpsertWorkout(ctx, "user-1", s))

	ids, err := repo.ListWorkoutIDs(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"w-1"}, ids)

	ids, err = repo.ListWorkoutIDs(ctx, "user-2")
	require.NoError(t, err)
	require.Empty(t, ids)

	stored, err := repo.ListWorkouts(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "tpl-1", *stored[0].TemplateID)
	require.Len(t, stored[0].Performances[0].HeartRate, 1)
	require.True(t, stored[0].Synced)

	removed, err := repo.DeleteWorkout(ctx, "user-2", "w-1")
	require.NoError(t, err)
	require.False(t, removed)
	removed, err = repo.DeleteWorkout(ctx, "user-1", "w-1")
	require.NoError(t, err)
	require.True(t, removed)
}

func TestServiceRecomputesOverPostgres(t *testing.T) {
	ctx := context.Background()
	svc := backend.NewService(newRepository(t))

	start := time.Date(2025, 8, 2, 6, 0, 0, 0, time.UTC)
	for i, d := range []float64{101, 97} {
		done := start.Add(time.Duration(i+1) * time.Hour)
		require.NoError(t, svc.UpsertWorkout(ctx, "user-1", domain.WorkoutSession{
			ID: []string{"a", "b"}[i], TemplateName: "Row", Rounds: 1, StartedAt: start.Add(time.Duration(i) * time.Hour), CompletedAt: &done,
			Performances: []domain.ExercisePerformance{{ID: "p", ExerciseName: "Row", TargetDistance: 500, Round: 1, Duration: d, CompletedAt: &done}},
		}))
	}

	bests, err := svc.ListPersonalBests(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, bests, 1)
	require.Equal(t, 97.0, bests[0].BestValue)

	tpl := domain.WorkoutTemplate{ID: "t", Name: "Row", Rounds: 2, Exercises: []domain.TemplateExerciseSpec{{Name: "Row", TargetDistance: 500}}}
	require.NoError(t, svc.UpsertTemplate(ctx, "user-1", tpl))
	ts, err := svc.ListTemplates(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, ts, 1)
	require.Equal(t, 500.0, ts[0].Exercises[0].TargetDistance)
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
