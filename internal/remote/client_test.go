package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"example.com/circuit/internal/api"
	"example.com/circuit/internal/auth"
	"example.com/circuit/internal/backend"
	"example.com/circuit/internal/domain"
)

var authConfig = auth.Config{Secret: "remote-test", Issuer: "circuit.test"}

func newBackendServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	api.NewHandler(backend.NewService(backend.NewInMemoryRepository())).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())
	srv := httptest.NewServer(auth.NewMiddleware(authConfig).Wrap(mux))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server, subject string) *Client {
	t.Helper()
	token, err := auth.Sign(authConfig, subject, []string{auth.ScopeWorkoutsWrite}, time.Hour)
	require.NoError(t, err)
	return NewClient(srv.URL+"/", token, 5*time.Second)
}

func session(id string, duration float64) domain.WorkoutSession {
	start := time.Date(2025, 7, 1, 6, 0, 0, 0, time.UTC)
	done := start.Add(5 * time.Minute)
	return domain.WorkoutSession{
		ID: id, TemplateName: "Engine", Rounds: 1, StartedAt: start, CompletedAt: &done,
		Performances: []domain.ExercisePerformance{
			{ID: id + "-1", ExerciseName: "Run", TargetDistance: 400, Round: 1, Duration: duration, Distance: 400, CompletedAt: &done},
		},
	}
}

func TestClientAgainstBackendHandlers(t *testing.T) {
	ctx := context.Background()
	srv := newBackendServer(t)
	c := newClient(t, srv, "user-1")

	ids, err := c.ListWorkoutIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
	require.NotNil(t, ids)

	require.NoError(t, c.UpsertWorkout(ctx, session("w-1", 92)))
	require.NoError(t, c.UpsertWorkout(ctx, session("w-2", 88)))
	ids, err = c.ListWorkoutIDs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"w-1", "w-2"}, ids)

	bests, err := c.ListPersonalBests(ctx)
	require.NoError(t, err)
	require.Len(t, bests, 1)
	require.Equal(t, 88.0, bests[0].BestValue)
	require.True(t, bests[0].Synced)

	require.NoError(t, c.DeleteWorkout(ctx, "w-2"))
	require.NoError(t, c.DeleteWorkout(ctx, "never-existed"))
	bests, err = c.ListPersonalBests(ctx)
	require.NoError(t, err)
	require.Equal(t, 92.0, bests[0].BestValue, "backend recompute may raise a best")

	require.NoError(t, c.UpsertPersonalBest(ctx, domain.PersonalRecord{Key: "Ski_250m", ExerciseName: "Ski", BestValue: 51, Unit: "s"}))
	bests, err = c.ListPersonalBests(ctx)
	require.NoError(t, err)
	require.Len(t, bests, 2)

	tpl := domain.WorkoutTemplate{ID: "tpl 1", Name: "Engine", Rounds: 2, Exercises: []domain.TemplateExerciseSpec{{Name: "Run", TargetDistance: 400}}}
	require.NoError(t, c.UpsertTemplate(ctx, tpl))
	ts, err := c.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	require.Equal(t, "tpl 1", ts[0].ID)
	require.Equal(t, 400.0, ts[0].Exercises[0].TargetDistance)
	require.NoError(t, c.DeleteTemplate(ctx, "tpl 1"))

	other := newClient(t, srv, "user-2")
	ids, err = other.ListWorkoutIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestClientSurfacesStatusErrors(t *testing.T) {
	srv := newBackendServer(t)
	c := NewClient(srv.URL, "not-a-token", time.Second)

	_, err := c.ListWorkoutIDs(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusUnauthorized, se.Status)
}

func TestDeleteTreatsNotFoundAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	require.NoError(t, c.DeleteWorkout(context.Background(), "w-1"))
	require.NoError(t, c.DeleteTemplate(context.Background(), "t-1"))
	require.Error(t, c.UpsertWorkout(context.Background(), session("w-1", 90)))
}

func TestClientHonoursContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewClient(srv.URL, "", 5*time.Second).ListWorkoutIDs(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
