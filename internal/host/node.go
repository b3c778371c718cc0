// Package host wires the host device together: the session controller, the local
// cache, the record book, the peer channel to the companion and the backend
// reconciler.
package host

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/circuit/internal/domain"
	"example.com/circuit/internal/events"
	"example.com/circuit/internal/outbox"
	"example.com/circuit/internal/peer"
	"example.com/circuit/internal/reconcile"
	"example.com/circuit/internal/records"
	"example.com/circuit/internal/session"
	"example.com/circuit/internal/templates"
)

// Store is the host's local cache. The sqlite store satisfies it.
type Store interface {
	reconcile.Local
	outbox.Queue
	SaveWorkout(ctx context.Context, s domain.WorkoutSession) (bool, error)
	GetWorkout(ctx context.Context, id string) (domain.WorkoutSession, error)
	WorkoutDeleted(ctx context.Context, id string) (bool, error)
	ListWorkouts(ctx context.Context) ([]domain.WorkoutSession, error)
	ListTemplates(ctx context.Context) ([]domain.WorkoutTemplate, error)
	DeleteTemplate(ctx context.Context, id string) (bool, error)
	SaveRecords(ctx context.Context, recs []domain.PersonalRecord) error
	SaveGoal(ctx context.Context, g domain.Goal) error
	ListGoals(ctx context.Context) ([]domain.Goal, error)
}

// Option configures optional behaviour for the Node.
type Option func(*Node)

// WithLogger overrides the logger shared by the node's components.
func WithLogger(logger *log.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithSessionOptions passes extra options to the session controller.
func WithSessionOptions(opts ...session.Option) Option {
	return func(n *Node) {
		n.sessionOpts = append(n.sessionOpts, opts...)
	}
}

// WithReconcileOptions passes extra options to the reconciler.
func WithReconcileOptions(opts ...reconcile.Option) Option {
	return func(n *Node) {
		n.reconcileOpts = append(n.reconcileOpts, opts...)
	}
}

// Node is the host side of the system.
type Node struct {
	store       Store
	channel     *peer.Channel
	book        *records.Engine
	controller  *session.Controller
	reconciler  *reconcile.Reconciler
	distributor *templates.Distributor
	logger      *log.Logger
	now         func() time.Time

	sessionOpts   []session.Option
	reconcileOpts []reconcile.Option
}

// NewNode builds the host components and registers the inbound peer handlers.
func NewNode(store Store, channel *peer.Channel, backend reconcile.Backend, opts ...Option) *Node {
	n := &Node{
		store:   store,
		channel: channel,
		book:    records.NewEngine(),
		logger:  log.New(log.Writer(), "[host] ", log.LstdFlags|log.Lshortfile),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}

	sessionOpts := append([]session.Option{
		session.WithLogger(n.logger),
		session.WithMirror(n),
		session.WithFinishHook(n.sessionFinished),
	}, n.sessionOpts...)
	n.controller = session.NewController(store, n.book, sessionOpts...)

	reconcileOpts := append([]reconcile.Option{
		reconcile.WithLogger(n.logger),
		reconcile.WithRemoteDeleteHook(n.remoteDeleted),
		reconcile.WithTemplatePullHook(n.templatesPulled),
		reconcile.WithRecordPullHook(n.recordsPulled),
	}, n.reconcileOpts...)
	n.distributor = templates.NewDistributor(channel, store, n.logger)
	n.reconciler = reconcile.New(backend, store, store, n.book, reconcileOpts...)

	channel.Handle(peer.TypeWorkoutCompleted, n.handleWorkoutCompleted)
	channel.Handle(peer.TypeRequestTemplates, n.handleRequestTemplates)
	channel.Handle(peer.TypeRequestGoals, n.handleRequestGoals)
	channel.Handle(peer.TypeRequestPersonalBests, n.handleRequestPersonalBests)
	return n
}

// Load seeds the record book from the cache. Stored records are preferred; without
// them bests are rebuilt from the stored sessions.
func (n *Node) Load(ctx context.Context) error {
	recs, err := n.store.ListRecords(ctx)
	if err != nil {
		return fmt.Errorf("load personal records: %w", err)
	}
	if len(recs) > 0 {
		n.book.ApplyBackend(recs)
		return nil
	}

	sessions, err := n.store.ListWorkouts(ctx)
	if err != nil {
		return fmt.Errorf("load workouts: %w", err)
	}
	n.book.Rebuild(sessions)
	return nil
}

// Session returns the session controller.
func (n *Node) Session() *session.Controller {
	return n.controller
}

// Records returns the record book.
func (n *Node) Records() *records.Engine {
	return n.book
}

// Reconciler returns the backend reconciler.
func (n *Node) Reconciler() *reconcile.Reconciler {
	return n.reconciler
}

// StartTemplate starts a session from a cached template.
func (n *Node) StartTemplate(ctx context.Context, templateID string) (session.Snapshot, error) {
	t, err := n.store.GetTemplate(ctx, templateID)
	if err != nil {
		return session.Snapshot{}, err
	}
	return n.controller.Start(ctx, t)
}

// PublishState mirrors a controller snapshot to the companion. State messages are
// never queued; a missed one is superseded by the next.
func (n *Node) PublishState(ctx context.Context, snap session.Snapshot) {
	msg, err := peer.NewMessage(peer.TypeSessionState, snap.SessionID, events.SessionState{
		SessionID:    snap.SessionID,
		State:        string(snap.State),
		Version:      snap.Version,
		CurrentRound: snap.CurrentRound,
		CurrentIndex: snap.CurrentIndex,
		Progress:     snap.Progress,
		Elapsed:      snap.Elapsed,
		EmittedAt:    n.now().UTC(),
	})
	if err != nil {
		n.logger.Printf("encode session state: %v", err)
		return
	}
	if err := n.channel.Send(ctx, msg); err != nil {
		n.logger.Printf("mirror session state: %v", err)
	}
}

// DeleteWorkout removes a session locally, tells the companion and schedules the
// backend delete. Deleting an unknown id still propagates.
func (n *Node) DeleteWorkout(ctx context.Context, id string) error {
	if _, err := n.store.DeleteWorkout(ctx, id); err != nil {
		return fmt.Errorf("delete workout %s: %w", id, err)
	}
	if _, err := n.store.Purge(ctx, outbox.DestinationPeer, id, string(peer.TypeWorkoutCompleted)); err != nil {
		return err
	}

	var errs error
	msg, err := peer.NewMessage(peer.TypeWorkoutDeleted, id, events.EntityDeleted{ID: id})
	if err != nil {
		return err
	}
	errs = errors.Join(errs, n.channel.Send(ctx, msg))
	errs = errors.Join(errs, n.reconciler.QueueWorkoutDelete(ctx, id))
	n.reconciler.Trigger(ctx)
	return errs
}

// SaveTemplate creates or edits a template, pushes it to the companion and queues
// the backend upsert.
func (n *Node) SaveTemplate(ctx context.Context, t domain.WorkoutTemplate) (domain.WorkoutTemplate, error) {
	if err := t.Validate(); err != nil {
		return domain.WorkoutTemplate{}, err
	}

	created := t.ID == ""
	if !created {
		if _, err := n.store.GetTemplate(ctx, t.ID); errors.Is(err, domain.ErrNotFound) {
			created = true
		} else if err != nil {
			return domain.WorkoutTemplate{}, err
		}
	}
	t = templates.Stamp(t, n.now(), uuid.NewString)

	if err := n.store.SaveTemplate(ctx, t); err != nil {
		return domain.WorkoutTemplate{}, err
	}

	var errs error
	if created {
		errs = errors.Join(errs, n.distributor.Created(ctx, t))
	} else {
		errs = errors.Join(errs, n.distributor.Edited(ctx, t))
	}
	errs = errors.Join(errs, n.reconciler.QueueTemplateUpsert(ctx, t))
	n.reconciler.Trigger(ctx)
	return t, errs
}

// DeleteTemplate removes a template everywhere.
func (n *Node) DeleteTemplate(ctx context.Context, id string) error {
	if _, err := n.store.DeleteTemplate(ctx, id); err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}

	var errs error
	errs = errors.Join(errs, n.distributor.Deleted(ctx, id))
	errs = errors.Join(errs, n.reconciler.QueueTemplateDelete(ctx, id))
	n.reconciler.Trigger(ctx)
	return errs
}

// SaveGoal stores a goal and pushes the full goal set to the companion.
func (n *Node) SaveGoal(ctx context.Context, g domain.Goal) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if err := n.store.SaveGoal(ctx, g); err != nil {
		return err
	}
	return n.pushGoals(ctx)
}

// Sync runs an incremental backend sync.
func (n *Node) Sync(ctx context.Context) (reconcile.Report, error) {
	return n.reconciler.Sync(ctx)
}

// ForceFullSync runs a full backend resync.
func (n *Node) ForceFullSync(ctx context.Context) (reconcile.Report, error) {
	return n.reconciler.ForceFullSync(ctx)
}

// Wait blocks until background syncs and peer flushes have returned.
func (n *Node) Wait() {
	n.reconciler.Wait()
	n.channel.Wait()
}

func (n *Node) sessionFinished(ctx context.Context, s domain.WorkoutSession, set []domain.PersonalRecord) {
	if len(set) > 0 {
		if err := n.store.SaveRecords(ctx, set); err != nil {
			n.logger.Printf("save records from session %s: %v", s.ID, err)
		}
	}
	if err := n.pushPersonalBests(ctx); err != nil {
		n.logger.Printf("push personal bests: %v", err)
	}
	n.reconciler.Trigger(ctx)
}

func (n *Node) remoteDeleted(ctx context.Context, id string) {
	msg, err := peer.NewMessage(peer.TypeWorkoutDeleted, id, events.EntityDeleted{ID: id})
	if err != nil {
		n.logger.Printf("encode workout deletion %s: %v", id, err)
		return
	}
	if err := n.channel.Send(ctx, msg); err != nil {
		n.logger.Printf("forward remote deletion %s: %v", id, err)
	}
}

// templatesPulled forwards backend-side template changes to the companion.
func (n *Node) templatesPulled(ctx context.Context, created, edited []domain.WorkoutTemplate) {
	for _, t := range created {
		if err := n.distributor.Created(ctx, t); err != nil {
			n.logger.Printf("push pulled template %s: %v", t.ID, err)
		}
	}
	for _, t := range edited {
		if err := n.distributor.Edited(ctx, t); err != nil {
			n.logger.Printf("push pulled template %s: %v", t.ID, err)
		}
	}
}

func (n *Node) recordsPulled(ctx context.Context, _ []domain.PersonalRecord) {
	if err := n.pushPersonalBests(ctx); err != nil {
		n.logger.Printf("push pulled personal bests: %v", err)
	}
}

// handleWorkoutCompleted ingests a companion session. Redelivery of a stored or
// deleted id is acknowledged without touching the record book.
func (n *Node) handleWorkoutCompleted(ctx context.Context, msg peer.Message) error {
	var payload events.WorkoutCompleted
	if err := msg.Decode(&payload); err != nil {
		return err
	}
	if payload.ID == "" {
		payload.ID = msg.ID
	}
	if payload.ID == "" {
		return fmt.Errorf("%s: missing id", msg.Type)
	}

	deleted, err := n.store.WorkoutDeleted(ctx, payload.ID)
	if err != nil {
		return err
	}
	if deleted {
		n.logger.Printf("workout %s was deleted, dropping redelivery", payload.ID)
		return nil
	}

	_, err = n.store.GetWorkout(ctx, payload.ID)
	switch {
	case err == nil:
		n.logger.Printf("workout %s already stored, ignoring redelivery", payload.ID)
		return nil
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	scored, set := n.book.ScoreSession(payload.ToSession())
	scored.Synced = false
	if _, err := n.store.SaveWorkout(ctx, scored); err != nil {
		return err
	}
	if len(set) > 0 {
		if err := n.store.SaveRecords(ctx, set); err != nil {
			return err
		}
	}
	if err := n.pushPersonalBests(ctx); err != nil {
		n.logger.Printf("push personal bests: %v", err)
	}
	n.reconciler.Trigger(ctx)
	return nil
}

func (n *Node) handleRequestTemplates(ctx context.Context, _ peer.Message) error {
	return n.distributor.PushAll(ctx)
}

func (n *Node) handleRequestGoals(ctx context.Context, _ peer.Message) error {
	return n.pushGoals(ctx)
}

func (n *Node) handleRequestPersonalBests(ctx context.Context, _ peer.Message) error {
	return n.pushPersonalBests(ctx)
}

func (n *Node) pushGoals(ctx context.Context) error {
	goals, err := n.store.ListGoals(ctx)
	if err != nil {
		return fmt.Errorf("list goals: %w", err)
	}
	msg, err := peer.NewMessage(peer.TypePushGoals, "", events.FromGoals(goals))
	if err != nil {
		return err
	}
	return n.channel.Send(ctx, msg)
}

func (n *Node) pushPersonalBests(ctx context.Context) error {
	msg, err := peer.NewMessage(peer.TypePushPersonalBests, "", events.FromRecords(n.book.All()))
	if err != nil {
		return err
	}
	return n.channel.Send(ctx, msg)
}
