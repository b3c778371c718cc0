// Package session runs the host's workout state machine: template expansion, the
// per-exercise and session timers, live personal-record flags and hand-off to
// persistence once the session finishes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/circuit/internal/domain"
	"example.com/circuit/internal/records"
)

// ErrInvalidMeasurement is returned for negative durations, distances or repetitions.
var ErrInvalidMeasurement = errors.New("invalid measurement")

// Store persists finished sessions.
type Store interface {
	SaveWorkout(ctx context.Context, s domain.WorkoutSession) (bool, error)
}

// RecordBook is the personal-record view the controller consults.
type RecordBook interface {
	BestFor(key string) (domain.PersonalRecord, bool)
	ObserveSession(s domain.WorkoutSession) []domain.PersonalRecord
}

// Mirror receives state changes worth forwarding to the companion.
type Mirror interface {
	PublishState(ctx context.Context, snap Snapshot)
}

// FinishHook is called once a session is persisted, with the records it set.
type FinishHook func(ctx context.Context, s domain.WorkoutSession, set []domain.PersonalRecord)

// Option configures optional behaviour for the Controller.
type Option func(*Controller)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithMirror forwards state changes to m.
func WithMirror(m Mirror) Option {
	return func(c *Controller) {
		c.mirror = m
	}
}

// WithFinishHook registers fn to run after a session is persisted.
func WithFinishHook(fn FinishHook) Option {
	return func(c *Controller) {
		c.onFinish = fn
	}
}

// Controller owns the single in-progress session on the host. All methods are safe
// for concurrent use; mutations are serialized.
type Controller struct {
	store    Store
	records  RecordBook
	mirror   Mirror
	onFinish FinishHook
	now      func() time.Time
	logger   *log.Logger

	mu            sync.Mutex
	state         State
	session       *domain.WorkoutSession
	currentRound  int
	sessionBest   map[string]float64
	exerciseStart time.Time
	exerciseAccum time.Duration
	lastTick      time.Time
	version       uint64
	subscribers   []chan Snapshot
}

// NewController constructs an idle Controller.
func NewController(store Store, book RecordBook, opts ...Option) *Controller {
	c := &Controller{
		store:   store,
		records: book,
		now:     time.Now,
		logger:  log.New(log.Writer(), "[session] ", log.LstdFlags|log.Lshortfile),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start expands t into a new session and makes it active.
func (c *Controller) Start(ctx context.Context, t domain.WorkoutTemplate) (Snapshot, error) {
	perfs, err := domain.ExpandTemplate(t)
	if err != nil {
		return Snapshot{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.InProgress() {
		return Snapshot{}, fmt.Errorf("%w: session %s is %s", domain.ErrInvalidTransition, c.session.ID, c.state)
	}

	now := c.now().UTC()
	s := &domain.WorkoutSession{
		ID:           uuid.NewString(),
		TemplateName: t.Name,
		Rounds:       t.Rounds,
		StartedAt:    now,
		Performances: perfs,
	}
	if t.ID != "" {
		id := t.ID
		s.TemplateID = &id
	}

	c.session = s
	c.state = StateActive
	c.currentRound = 1
	c.sessionBest = make(map[string]float64)
	c.exerciseAccum = 0
	c.exerciseStart = time.Time{}
	c.lastTick = now

	return c.publishLocked(ctx, true), nil
}

// BeginExercise starts the timer for the next incomplete exercise.
func (c *Controller) BeginExercise(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive && c.state != StateExerciseCompleted {
		return c.transitionErrLocked("begin exercise")
	}
	return c.beginLocked(ctx)
}

// Next moves from a completed exercise to running the following one.
func (c *Controller) Next(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateExerciseCompleted {
		return c.transitionErrLocked("advance")
	}
	return c.beginLocked(ctx)
}

func (c *Controller) beginLocked(ctx context.Context) error {
	if c.session.NextIncomplete() < 0 {
		return domain.ErrSessionComplete
	}
	c.exerciseAccum = 0
	c.exerciseStart = c.now()
	c.state = StateExerciseRunning
	c.publishLocked(ctx, true)
	return nil
}

// Previous reopens the most recently completed exercise so it can be redone. Its
// measured values and record flag are cleared.
func (c *Controller) Previous(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive && c.state != StateExerciseCompleted {
		return c.transitionErrLocked("go back")
	}
	idx := c.session.LastCompleted()
	if idx < 0 {
		return fmt.Errorf("%w: no completed exercise to reopen", domain.ErrInvalidTransition)
	}

	p := &c.session.Performances[idx]
	p.Duration, p.Distance, p.Repetitions = 0, 0, 0
	p.CompletedAt = nil
	p.IsRecord = false

	c.sessionBest = make(map[string]float64)
	for _, done := range c.session.Performances {
		if done.CompletedAt == nil || done.Duration <= 0 {
			continue
		}
		key := records.KeyFor(done)
		if best, ok := c.sessionBest[key]; !ok || done.Duration < best {
			c.sessionBest[key] = done.Duration
		}
	}
	c.currentRound = p.Round
	c.exerciseAccum = 0
	c.exerciseStart = time.Time{}
	c.state = StateActive
	c.publishLocked(ctx, true)
	return nil
}

// Pause stops the exercise timer.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateExerciseRunning {
		return c.transitionErrLocked("pause")
	}
	c.exerciseAccum += c.now().Sub(c.exerciseStart)
	c.state = StateExercisePaused
	c.publishLocked(ctx, true)
	return nil
}

// Resume restarts a paused exercise timer.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateExercisePaused {
		return c.transitionErrLocked("resume")
	}
	c.exerciseStart = c.now()
	c.state = StateExerciseRunning
	c.publishLocked(ctx, true)
	return nil
}

// CompleteCurrentTimed completes the current exercise using the exercise timer,
// rounded to a tenth of a second.
func (c *Controller) CompleteCurrentTimed(ctx context.Context, distance float64, reps int) (domain.ExercisePerformance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateExerciseRunning && c.state != StateExercisePaused {
		return domain.ExercisePerformance{}, c.transitionErrLocked("complete timed exercise")
	}
	elapsed := c.exerciseElapsedLocked().Seconds()
	return c.completeLocked(ctx, math.Round(elapsed*10)/10, distance, reps)
}

// CompleteCurrent records measured values on the chronologically first incomplete
// performance and flags it when it beats the best known for its variant.
func (c *Controller) CompleteCurrent(ctx context.Context, duration, distance float64, reps int) (domain.ExercisePerformance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateActive, StateExerciseRunning, StateExercisePaused, StateExerciseCompleted:
	default:
		return domain.ExercisePerformance{}, c.transitionErrLocked("complete exercise")
	}
	return c.completeLocked(ctx, duration, distance, reps)
}

func (c *Controller) completeLocked(ctx context.Context, duration, distance float64, reps int) (domain.ExercisePerformance, error) {
	if duration < 0 || distance < 0 || reps < 0 {
		return domain.ExercisePerformance{}, fmt.Errorf("%w: duration=%v distance=%v reps=%d", ErrInvalidMeasurement, duration, distance, reps)
	}
	idx := c.session.NextIncomplete()
	if idx < 0 {
		return domain.ExercisePerformance{}, domain.ErrSessionComplete
	}

	p := &c.session.Performances[idx]
	now := c.now().UTC()
	p.Duration = duration
	p.Distance = distance
	p.Repetitions = reps
	p.CompletedAt = &now
	p.IsRecord = c.isRecordLocked(*p)

	if next := c.session.NextIncomplete(); next >= 0 && c.session.Performances[next].Round > c.currentRound {
		c.currentRound = c.session.Performances[next].Round
	}
	c.exerciseAccum = 0
	c.exerciseStart = time.Time{}
	c.state = StateExerciseCompleted
	c.publishLocked(ctx, true)
	return *p, nil
}

// isRecordLocked compares against the stored best and against earlier performances
// of this session, which are only observed by the record book once persisted.
func (c *Controller) isRecordLocked(p domain.ExercisePerformance) bool {
	if p.Duration <= 0 {
		return false
	}
	key := records.KeyFor(p)

	prior, ok := 0.0, false
	if rec, found := c.records.BestFor(key); found {
		prior, ok = rec.BestValue, true
	}
	if pending, found := c.sessionBest[key]; found && (!ok || pending < prior) {
		prior, ok = pending, true
	}

	if pending, found := c.sessionBest[key]; !found || p.Duration < pending {
		c.sessionBest[key] = p.Duration
	}
	return ok && p.Duration < prior
}

// Finish stamps completion, computes totals and persists the session.
func (c *Controller) Finish(ctx context.Context) (domain.WorkoutSession, error) {
	c.mu.Lock()
	if c.state != StateActive && c.state != StateExerciseCompleted {
		state := c.state
		c.mu.Unlock()
		return domain.WorkoutSession{}, fmt.Errorf("%w: state is %s", domain.ErrNoActiveSession, state)
	}

	c.state = StateSessionCompleting
	now := c.now().UTC()
	s := c.session
	s.CompletedAt = &now
	sumDuration, sumDistance := s.MeasuredTotals()
	s.TotalDistance = sumDistance
	s.TotalDuration = math.Max(now.Sub(s.StartedAt).Seconds(), sumDuration)
	c.state = StateSessionCompleted
	c.publishLocked(ctx, false)
	c.mu.Unlock()

	return c.persist(ctx)
}

// RetryPersist retries saving a session whose earlier save failed.
func (c *Controller) RetryPersist(ctx context.Context) (domain.WorkoutSession, error) {
	c.mu.Lock()
	if c.state != StateSessionCompleted {
		state := c.state
		c.mu.Unlock()
		return domain.WorkoutSession{}, fmt.Errorf("%w: nothing to persist in state %s", domain.ErrInvalidTransition, state)
	}
	c.mu.Unlock()
	return c.persist(ctx)
}

func (c *Controller) persist(ctx context.Context) (domain.WorkoutSession, error) {
	c.mu.Lock()
	if c.state != StateSessionCompleted {
		c.mu.Unlock()
		return domain.WorkoutSession{}, fmt.Errorf("%w: persist raced with %s", domain.ErrInvalidTransition, c.state)
	}
	snapshot := c.session.Clone()
	c.mu.Unlock()

	if _, err := c.store.SaveWorkout(ctx, snapshot); err != nil {
		c.logger.Printf("persist session %s failed, kept in memory for retry: %v", snapshot.ID, err)
		recordPersistFailure()
		return snapshot, fmt.Errorf("persist session %s: %w", snapshot.ID, err)
	}

	set := c.records.ObserveSession(snapshot)

	c.mu.Lock()
	if c.session != nil && c.session.ID == snapshot.ID {
		c.state = StatePersisted
		c.publishLocked(ctx, true)
	}
	c.mu.Unlock()

	recordFinished(snapshot)
	if c.onFinish != nil {
		c.onFinish(ctx, snapshot, set)
	}
	return snapshot, nil
}

// Cancel discards the in-memory session. Nothing is persisted or sent.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.InProgress() {
		return fmt.Errorf("%w: state is %s", domain.ErrNoActiveSession, c.state)
	}
	c.state = StateCancelled
	c.session = nil
	c.sessionBest = nil
	c.publishLocked(ctx, true)
	recordCancelled()
	return nil
}

// Tick recomputes elapsed times and notifies subscribers.
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.InProgress() {
		return
	}
	c.lastTick = now
	c.publishLocked(context.Background(), false)
}

// Run ticks every interval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick(c.now())
		}
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel that always holds the latest snapshot. Slow readers
// miss intermediate versions, never the newest. The returned func unsubscribes.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, sub := range c.subscribers {
			if sub == ch {
				c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
				break
			}
		}
	}
}

func (c *Controller) publishLocked(ctx context.Context, mirror bool) Snapshot {
	c.version++
	snap := c.snapshotLocked()
	for _, sub := range c.subscribers {
		select {
		case <-sub:
		default:
		}
		sub <- snap
	}
	if mirror && c.mirror != nil {
		c.mirror.PublishState(ctx, snap)
	}
	return snap
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{Version: c.version, State: c.state, CurrentIndex: -1}
	if c.session == nil {
		return snap
	}

	s := c.session.Clone()
	snap.Session = &s
	snap.SessionID = s.ID
	snap.TemplateName = s.TemplateName
	snap.CurrentRound = c.currentRound
	snap.Completed = s.CompletedCount()
	snap.Total = len(s.Performances)
	snap.Progress = s.Progress()
	snap.ExerciseElapsed = c.exerciseElapsedLocked().Seconds()

	end := c.lastTick
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	if end.After(s.StartedAt) {
		snap.Elapsed = end.Sub(s.StartedAt).Seconds()
	}
	if idx := s.NextIncomplete(); idx >= 0 {
		snap.CurrentIndex = idx
		snap.CurrentExercise = s.Performances[idx].ExerciseName
	}
	return snap
}

func (c *Controller) exerciseElapsedLocked() time.Duration {
	elapsed := c.exerciseAccum
	if c.state == StateExerciseRunning && !c.exerciseStart.IsZero() {
		elapsed += c.now().Sub(c.exerciseStart)
	}
	return elapsed
}

func (c *Controller) transitionErrLocked(action string) error {
	if !c.state.InProgress() {
		return fmt.Errorf("%w: cannot %s", domain.ErrNoActiveSession, action)
	}
	return fmt.Errorf("%w: cannot %s while %s", domain.ErrInvalidTransition, action, c.state)
}
