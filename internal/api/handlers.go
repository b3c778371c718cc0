// Package api exposes the backend's HTTP contract.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"example.com/circuit/internal/auth"
	"example.com/circuit/internal/backend"
	"example.com/circuit/internal/domain"
	"example.com/circuit/internal/events"
	"example.com/circuit/internal/templates"
)

// Handler coordinates HTTP requests with the backend service.
type Handler struct {
	service *backend.Service
}

// NewHandler builds a Handler.
func NewHandler(service *backend.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/workouts/ids", h.workoutIDs)
	mux.HandleFunc("/v1/workouts/", h.workoutByID)
	mux.HandleFunc("/v1/personal-bests", h.personalBests)
	mux.HandleFunc("/v1/personal-bests/", h.personalBestByKey)
	mux.HandleFunc("/v1/templates", h.templates)
	mux.HandleFunc("/v1/templates/", h.templateByID)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) workoutIDs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	caller, ok := authorize(w, r, false)
	if !ok {
		return
	}

	ids, err := h.service.ListWorkoutIDs(r.Context(), caller.UserID)
	if err != nil {
		serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WorkoutIDsResponse{IDs: ids})
}

func (h *Handler) workoutByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/workouts/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing workout id")
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.putWorkout(w, r, id)
	case http.MethodDelete:
		caller, ok := authorize(w, r, true)
		if !ok {
			return
		}
		if err := h.service.DeleteWorkout(r.Context(), caller.UserID, id); err != nil {
			serverError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) putWorkout(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := authorize(w, r, true)
	if !ok {
		return
	}

	var req events.WorkoutCompleted
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.ID == "" {
		req.ID = id
	}
	if req.ID != id {
		writeError(w, http.StatusBadRequest, "validation_failed", "body id does not match path")
		return
	}

	err := h.service.UpsertWorkout(r.Context(), caller.UserID, req.ToSession())
	switch {
	case errors.Is(err, backend.ErrInvalidWorkout):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case err != nil:
		serverError(w, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) personalBests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	caller, ok := authorize(w, r, false)
	if !ok {
		return
	}

	recs, err := h.service.ListPersonalBests(r.Context(), caller.UserID)
	if err != nil {
		serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events.FromRecords(recs))
}

func (h *Handler) personalBestByKey(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/v1/personal-bests/")
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing record key")
		return
	}
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	caller, ok := authorize(w, r, true)
	if !ok {
		return
	}

	var req events.PersonalBest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	req.Key = key

	recs := events.PersonalBestsPushed{Records: []events.PersonalBest{req}}.ToDomain()
	err := h.service.ReportPersonalBest(r.Context(), caller.UserID, recs[0])
	switch {
	case errors.Is(err, backend.ErrInvalidWorkout):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case err != nil:
		serverError(w, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) templates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	caller, ok := authorize(w, r, false)
	if !ok {
		return
	}

	ts, err := h.service.ListTemplates(r.Context(), caller.UserID)
	if err != nil {
		serverError(w, err)
		return
	}
	resp := TemplatesResponse{Templates: make([]events.Template, 0, len(ts))}
	for _, t := range ts {
		resp.Templates = append(resp.Templates, templates.Flatten(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) templateByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/templates/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing template id")
		return
	}
	caller, ok := authorize(w, r, true)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req events.Template
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
		req.ID = id
		err := h.service.UpsertTemplate(r.Context(), caller.UserID, templates.Unflatten(req))
		switch {
		case errors.Is(err, domain.ErrInvalidTemplate):
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		case err != nil:
			serverError(w, err)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	case http.MethodDelete:
		if err := h.service.DeleteTemplate(r.Context(), caller.UserID, id); err != nil {
			serverError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// WorkoutIDsResponse answers GET /v1/workouts/ids.
type WorkoutIDsResponse struct {
	IDs []string `json:"ids"`
}

// TemplatesResponse answers GET /v1/templates.
type TemplatesResponse struct {
	Templates []events.Template `json:"templates"`
}

func authorize(w http.ResponseWriter, r *http.Request, write bool) (*auth.Identity, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	scope := auth.ScopeWorkoutsRead
	if write {
		scope = auth.ScopeWorkoutsWrite
	}
	if !id.Can(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return id, true
}

func serverError(w http.ResponseWriter, err error) {
	log.Printf("request failed: %v", err)
	writeError(w, http.StatusInternalServerError, "server_error", err.Error())
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
