package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"example.com/circuit/internal/auth"
	"example.com/circuit/internal/backend"
	"example.com/circuit/internal/events"
)

func newTestMux() *http.ServeMux {
	handler := NewHandler(backend.NewService(backend.NewInMemoryRepository()))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return mux
}

func withClaims(req *http.Request, subject string, scopes ...string) *http.Request {
	id := &auth.Identity{UserID: subject, Scopes: scopes, ExpiresAt: time.Now().Add(time.Hour)}
	return req.WithContext(auth.NewContext(req.Context(), id))
}

func do(mux *http.ServeMux, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func workoutBody(t *testing.T, id string, duration float64) []byte {
	t.Helper()
	start := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	done := start.Add(10 * time.Minute)
	body, err := json.Marshal(events.WorkoutCompleted{
		ID:           id,
		TemplateName: "Engine",
		Rounds:       1,
		StartedAt:    start,
		CompletedAt:  &done,
		Exercises: []events.ExerciseResult{
			{ID: id + "-1", Name: "Run", TargetDistance: 400, Round: 1, Duration: duration, Distance: 400, CompletedAt: &done},
		},
	})
	if err != nil {
		t.Fatalf("marshal workout: %v", err)
	}
	return body
}

func TestWorkoutLifecycle(t *testing.T) {
	mux := newTestMux()

	req := withClaims(httptest.NewRequest(http.MethodPut, "/v1/workouts/w-1", bytes.NewReader(workoutBody(t, "w-1", 95))), "user-1", auth.ScopeWorkoutsWrite)
	if rr := do(mux, req); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d: %s", rr.Code, rr.Body.String())
	}

	rr := do(mux, withClaims(httptest.NewRequest(http.MethodGet, "/v1/workouts/ids", nil), "user-1", auth.ScopeWorkoutsRead))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var ids WorkoutIDsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &ids); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(ids.IDs) != 1 || ids.IDs[0] != "w-1" {
		t.Fatalf("unexpected ids %v", ids.IDs)
	}

	rr = do(mux, withClaims(httptest.NewRequest(http.MethodGet, "/v1/personal-bests", nil), "user-1", auth.ScopeWorkoutsRead))
	var bests events.PersonalBestsPushed
	if err := json.Unmarshal(rr.Body.Bytes(), &bests); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(bests.Records) != 1 || bests.Records[0].BestValue != 95 {
		t.Fatalf("unexpected bests %+v", bests.Records)
	}

	rr = do(mux, withClaims(httptest.NewRequest(http.MethodGet, "/v1/workouts/ids", nil), "user-2", auth.ScopeWorkoutsRead))
	ids = WorkoutIDsResponse{}
	if err := json.Unmarshal(rr.Body.Bytes(), &ids); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(ids.IDs) != 0 {
		t.Fatalf("expected another user to see nothing, got %v", ids.IDs)
	}

	for i := 0; i < 2; i++ {
		rr = do(mux, withClaims(httptest.NewRequest(http.MethodDelete, "/v1/workouts/w-1", nil), "user-1", auth.ScopeWorkoutsWrite))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("delete %d: expected 204 got %d", i, rr.Code)
		}
	}
}

func TestPutWorkoutRejectsMismatchedID(t *testing.T) {
	mux := newTestMux()
	req := withClaims(httptest.NewRequest(http.MethodPut, "/v1/workouts/w-2", bytes.NewReader(workoutBody(t, "w-1", 95))), "user-1", auth.ScopeWorkoutsWrite)
	if rr := do(mux, req); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestWritesRequireWriteScope(t *testing.T) {
	mux := newTestMux()
	req := withClaims(httptest.NewRequest(http.MethodPut, "/v1/workouts/w-1", bytes.NewReader(workoutBody(t, "w-1", 95))), "user-1", auth.ScopeWorkoutsRead)
	if rr := do(mux, req); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}

	rr := do(mux, httptest.NewRequest(http.MethodGet, "/v1/workouts/ids", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestReportedPersonalBestUsesPathKey(t *testing.T) {
	mux := newTestMux()
	body, _ := json.Marshal(events.PersonalBest{ExerciseName: "Ski", BestValue: 52.5, Unit: "s"})
	req := withClaims(httptest.NewRequest(http.MethodPut, "/v1/personal-bests/Ski_250m", bytes.NewReader(body)), "user-1", auth.ScopeWorkoutsWrite)
	if rr := do(mux, req); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d: %s", rr.Code, rr.Body.String())
	}

	rr := do(mux, withClaims(httptest.NewRequest(http.MethodGet, "/v1/personal-bests", nil), "user-1", auth.ScopeWorkoutsRead))
	var bests events.PersonalBestsPushed
	if err := json.Unmarshal(rr.Body.Bytes(), &bests); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(bests.Records) != 1 || bests.Records[0].Key != "Ski_250m" {
		t.Fatalf("unexpected bests %+v", bests.Records)
	}
}

func TestTemplateUpsertListDelete(t *testing.T) {
	mux := newTestMux()
	body, _ := json.Marshal(events.Template{
		Name:   "Hills",
		Rounds: 3,
		Exercises: []events.TemplateExercise{
			{Name: "Run"},
		},
	})
	req := withClaims(httptest.NewRequest(http.MethodPut, "/v1/templates/tpl-1", bytes.NewReader(body)), "user-1", auth.ScopeWorkoutsWrite)
	if rr := do(mux, req); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d: %s", rr.Code, rr.Body.String())
	}

	rr := do(mux, withClaims(httptest.NewRequest(http.MethodGet, "/v1/templates", nil), "user-1", auth.ScopeWorkoutsRead))
	var list TemplatesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(list.Templates) != 1 || list.Templates[0].ID != "tpl-1" || list.Templates[0].Rounds != 3 {
		t.Fatalf("unexpected templates %+v", list.Templates)
	}

	bad, _ := json.Marshal(events.Template{Name: "Empty", Rounds: 1})
	req = withClaims(httptest.NewRequest(http.MethodPut, "/v1/templates/tpl-2", bytes.NewReader(bad)), "user-1", auth.ScopeWorkoutsWrite)
	if rr := do(mux, req); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}

	req = withClaims(httptest.NewRequest(http.MethodDelete, "/v1/templates/tpl-1", nil), "user-1", auth.ScopeWorkoutsWrite)
	if rr := do(mux, req); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	rr := do(newTestMux(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response %d %q", rr.Code, rr.Body.String())
	}
}
