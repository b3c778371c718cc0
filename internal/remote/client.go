// Package remote is the host's HTTP client for the backend contract.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/circuit/internal/domain"
	"example.com/circuit/internal/events"
	"example.com/circuit/internal/reconcile"
	"example.com/circuit/internal/templates"
)

var _ reconcile.Backend = (*Client)(nil)

// Client calls the backend with a bearer identity token.
type Client struct {
	client *http.Client
	url    string
	token  string
}

// NewClient constructs a Client. timeout bounds each request.
func NewClient(endpoint, token string, timeout time.Duration) *Client {
	return &Client{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/"),
		token:  token,
	}
}

// ListWorkoutIDs implements reconcile.Backend.
func (c *Client) ListWorkoutIDs(ctx context.Context) ([]string, error) {
	var resp struct {
		IDs []string `json:"ids"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/workouts/ids", nil, &resp); err != nil {
		return nil, err
	}
	if resp.IDs == nil {
		resp.IDs = []string{}
	}
	return resp.IDs, nil
}

// UpsertWorkout implements reconcile.Backend.
func (c *Client) UpsertWorkout(ctx context.Context, s domain.WorkoutSession) error {
	return c.do(ctx, http.MethodPut, "/v1/workouts/"+url.PathEscape(s.ID), events.FromSession(s), nil)
}

// DeleteWorkout implements reconcile.Backend. A missing workout counts as deleted.
func (c *Client) DeleteWorkout(ctx context.Context, id string) error {
	return ignoreNotFound(c.do(ctx, http.MethodDelete, "/v1/workouts/"+url.PathEscape(id), nil, nil))
}

// ListPersonalBests implements reconcile.Backend.
func (c *Client) ListPersonalBests(ctx context.Context) ([]domain.PersonalRecord, error) {
	var resp events.PersonalBestsPushed
	if err := c.do(ctx, http.MethodGet, "/v1/personal-bests", nil, &resp); err != nil {
		return nil, err
	}
	return resp.ToDomain(), nil
}

// UpsertPersonalBest implements reconcile.Backend.
func (c *Client) UpsertPersonalBest(ctx context.Context, rec domain.PersonalRecord) error {
	body := events.FromRecords([]domain.PersonalRecord{rec}).Records[0]
	return c.do(ctx, http.MethodPut, "/v1/personal-bests/"+url.PathEscape(rec.Key), body, nil)
}

// ListTemplates implements reconcile.Backend.
func (c *Client) ListTemplates(ctx context.Context) ([]domain.WorkoutTemplate, error) {
	var resp events.TemplatesPushed
	if err := c.do(ctx, http.MethodGet, "/v1/templates", nil, &resp); err != nil {
		return nil, err
	}
	return templates.UnflattenAll(resp), nil
}

// UpsertTemplate implements reconcile.Backend.
func (c *Client) UpsertTemplate(ctx context.Context, t domain.WorkoutTemplate) error {
	return c.do(ctx, http.MethodPut, "/v1/templates/"+url.PathEscape(t.ID), templates.Flatten(t), nil)
}

// DeleteTemplate implements reconcile.Backend. A missing template counts as deleted.
func (c *Client) DeleteTemplate(ctx context.Context, id string) error {
	return ignoreNotFound(c.do(ctx, http.MethodDelete, "/v1/templates/"+url.PathEscape(id), nil, nil))
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// StatusError represents a non-successful backend response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d %s: %s", e.Method, e.Path, e.Status, http.StatusText(e.Status), e.Detail)
}

func ignoreNotFound(err error) error {
	if se, ok := err.(*StatusError); ok && se.Status == http.StatusNotFound {
		return nil
	}
	return err
}
