// Package companion runs workouts on the wearable: an independent session mirror with
// its own timer and heart-rate stream that hands finished sessions to the host over
// the peer channel.
package companion

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
	"example.com/circuit/internal/events"
	"example.com/circuit/internal/peer"
	"example.com/circuit/internal/records"
)

// Sender is the subset of the peer channel the controller needs.
type Sender interface {
	Send(ctx context.Context, msg peer.Message) error
}

// Archive keeps a local copy of sessions finished on the companion.
type Archive interface {
	SaveWorkout(ctx context.Context, s domain.WorkoutSession) (bool, error)
}

// RecordBook is the cached copy of the host's personal bests.
type RecordBook interface {
	BestFor(key string) (domain.PersonalRecord, bool)
}

// Status is what the wearable displays between events.
type Status struct {
	SessionID       string
	Elapsed         float64
	ExerciseElapsed float64
	Completed       int
	Total           int
	CurrentExercise string
	Finishing       bool
}

// Controller is the companion's session state machine.
type Controller struct {
	sender  Sender
	archive Archive
	book    RecordBook
	display func(Status)
	now     func() time.Time
	logger  *log.Logger

	mu            sync.Mutex
	session       *domain.WorkoutSession
	finished      bool
	exerciseStart time.Time
	sessionBest   map[string]float64
}

// ControllerOption customises a Controller.
type ControllerOption func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithRecordBook flags completions that beat a cached best.
func WithRecordBook(book RecordBook) ControllerOption {
	return func(c *Controller) { c.book = book }
}

// WithDisplay receives the status on every tick.
func WithDisplay(fn func(Status)) ControllerOption {
	return func(c *Controller) { c.display = fn }
}

// WithControllerLogger overrides the logger used to report errors.
func WithControllerLogger(logger *log.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController constructs an idle Controller. archive may be nil.
func NewController(sender Sender, archive Archive, opts ...ControllerOption) *Controller {
	c := &Controller{
		sender:  sender,
		archive: archive,
		now:     time.Now,
		logger:  log.New(log.Writer(), "[companion] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start expands t exactly as the host does and starts the session timer.
func (c *Controller) Start(t domain.WorkoutTemplate) (domain.WorkoutSession, error) {
	perfs, err := domain.ExpandTemplate(t)
	if err != nil {
		return domain.WorkoutSession{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return domain.WorkoutSession{}, fmt.Errorf("%w: session %s still open", domain.ErrInvalidTransition, c.session.ID)
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
	c.finished = false
	c.exerciseStart = now
	c.sessionBest = make(map[string]float64)
	return s.Clone(), nil
}

// Current returns a copy of the open session.
func (c *Controller) Current() (domain.WorkoutSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return domain.WorkoutSession{}, false
	}
	return c.session.Clone(), true
}

// CompleteCurrent records measured values on the first incomplete performance.
func (c *Controller) CompleteCurrent(duration, distance float64, reps int) (domain.ExercisePerformance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completeLocked(duration, distance, reps)
}

// CompleteCurrentTimed completes the current performance with the time since the
// previous completion (or session start), rounded to a tenth of a second.
func (c *Controller) CompleteCurrentTimed(distance float64, reps int) (domain.ExercisePerformance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.activeLocked(); err != nil {
		return domain.ExercisePerformance{}, err
	}
	elapsed := c.now().Sub(c.exerciseStart).Seconds()
	return c.completeLocked(math.Round(elapsed*10)/10, distance, reps)
}

func (c *Controller) completeLocked(duration, distance float64, reps int) (domain.ExercisePerformance, error) {
	if err := c.activeLocked(); err != nil {
		return domain.ExercisePerformance{}, err
	}
	if duration < 0 || distance < 0 || reps < 0 {
		return domain.ExercisePerformance{}, fmt.Errorf("invalid measurement: duration=%v distance=%v reps=%d", duration, distance, reps)
	}
	idx := c.session.NextIncomplete()
	if idx < 0 {
		return domain.ExercisePerformance{}, domain.ErrSessionComplete
	}
	now := c.now().UTC()
	p := &c.session.Performances[idx]
	p.Duration = duration
	p.Distance = distance
	p.Repetitions = reps
	p.CompletedAt = &now
	p.IsRecord = c.isRecordLocked(*p)
	c.exerciseStart = now
	return *p, nil
}

// isRecordLocked compares against the cached best and earlier performances of the
// open session. Without a record book nothing is flagged; the host scores the
// session again on arrival.
func (c *Controller) isRecordLocked(p domain.ExercisePerformance) bool {
	if c.book == nil || p.Duration <= 0 {
		return false
	}
	key := records.KeyFor(p)

	prior, ok := 0.0, false
	if rec, found := c.book.BestFor(key); found {
		prior, ok = rec.BestValue, true
	}
	pending, seen := c.sessionBest[key]
	if seen && (!ok || pending < prior) {
		prior, ok = pending, true
	}
	if !seen || p.Duration < pending {
		c.sessionBest[key] = p.Duration
	}
	return ok && p.Duration < prior
}

// AppendHeartRate attaches a sensor sample to the current performance. It never
// changes progression.
func (c *Controller) AppendHeartRate(sample domain.HeartRateSample) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.activeLocked(); err != nil {
		return err
	}
	idx := c.session.NextIncomplete()
	if idx < 0 {
		return domain.ErrSessionComplete
	}
	p := &c.session.Performances[idx]
	p.HeartRate = append(p.HeartRate, sample)
	return nil
}

// ConsumeSensor appends every sample from samples until the stream closes or ctx
// ends. Samples arriving outside a session are dropped.
func (c *Controller) ConsumeSensor(ctx context.Context, samples <-chan domain.HeartRateSample) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-samples:
			if !ok {
				return nil
			}
			err := c.AppendHeartRate(sample)
			if err != nil && !errors.Is(err, domain.ErrNoActiveSession) && !errors.Is(err, domain.ErrSessionComplete) {
				return err
			}
		}
	}
}

// Finish stamps the session, keeps a local copy and hands it to the peer channel,
// which delivers it to the host or queues it. A failed hand-off leaves the session
// open so Finish can be called again.
func (c *Controller) Finish(ctx context.Context) (domain.WorkoutSession, error) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return domain.WorkoutSession{}, domain.ErrNoActiveSession
	}
	if !c.finished {
		now := c.now().UTC()
		c.session.CompletedAt = &now
		sumDuration, sumDistance := c.session.MeasuredTotals()
		c.session.TotalDistance = sumDistance
		c.session.TotalDuration = math.Max(now.Sub(c.session.StartedAt).Seconds(), sumDuration)
		c.finished = true
	}
	s := c.session.Clone()
	c.mu.Unlock()

	if c.archive != nil {
		if _, err := c.archive.SaveWorkout(ctx, s); err != nil {
			c.logger.Printf("archive session %s: %v", s.ID, err)
		}
	}

	msg, err := peer.NewMessage(peer.TypeWorkoutCompleted, s.ID, events.FromSession(s))
	if err != nil {
		return s, err
	}
	if err := c.sender.Send(ctx, msg); err != nil {
		return s, fmt.Errorf("hand off session %s: %w", s.ID, err)
	}

	c.mu.Lock()
	if c.session != nil && c.session.ID == s.ID {
		c.session = nil
		c.finished = false
		c.sessionBest = nil
	}
	c.mu.Unlock()
	return s, nil
}

// Cancel discards the open session without sending anything.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return domain.ErrNoActiveSession
	}
	c.session = nil
	c.finished = false
	c.sessionBest = nil
	return nil
}

// Status returns the open session's timers and progress as of now.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked(c.now())
}

// Tick recomputes the timers at now and hands the status to the display.
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}
	st := c.statusLocked(now)
	c.mu.Unlock()

	if c.display != nil {
		c.display(st)
	}
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

func (c *Controller) statusLocked(now time.Time) Status {
	if c.session == nil {
		return Status{}
	}
	s := c.session
	st := Status{
		SessionID: s.ID,
		Completed: s.CompletedCount(),
		Total:     len(s.Performances),
		Finishing: c.finished,
	}
	end := now
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	if end.After(s.StartedAt) {
		st.Elapsed = end.Sub(s.StartedAt).Seconds()
	}
	if idx := s.NextIncomplete(); idx >= 0 {
		st.CurrentExercise = s.Performances[idx].ExerciseName
		if !c.finished && now.After(c.exerciseStart) {
			st.ExerciseElapsed = now.Sub(c.exerciseStart).Seconds()
		}
	}
	return st
}

func (c *Controller) activeLocked() error {
	if c.session == nil {
		return domain.ErrNoActiveSession
	}
	if c.finished {
		return fmt.Errorf("%w: session %s is finishing", domain.ErrInvalidTransition, c.session.ID)
	}
	return nil
}
