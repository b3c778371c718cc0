package companion

import (
	"context"
	"fmt"
	"log"
	"sync"

	"example.com/circuit/internal/domain"
	"example.com/circuit/internal/events"
	"example.com/circuit/internal/peer"
	"example.com/circuit/internal/records"
	"example.com/circuit/internal/templates"
)

// Store is the companion's local cache.
type Store interface {
	Archive
	DeleteWorkout(ctx context.Context, id string) (bool, error)
	SaveTemplate(ctx context.Context, t domain.WorkoutTemplate) error
	ReplaceTemplates(ctx context.Context, ts []domain.WorkoutTemplate) error
	DeleteTemplate(ctx context.Context, id string) (bool, error)
	GetTemplate(ctx context.Context, id string) (domain.WorkoutTemplate, error)
	ReplaceGoals(ctx context.Context, goals []domain.Goal) error
	ListRecords(ctx context.Context) ([]domain.PersonalRecord, error)
	ReplaceRecords(ctx context.Context, recs []domain.PersonalRecord) error
}

// Node wires the companion controller and cache to the peer channel.
type Node struct {
	store      Store
	channel    *peer.Channel
	controller *Controller
	book       *records.Engine
	logger     *log.Logger

	mu        sync.RWMutex
	hostState *events.SessionState
}

// NewNode registers the companion's inbound handlers on channel.
func NewNode(store Store, channel *peer.Channel, logger *log.Logger, opts ...ControllerOption) *Node {
	if logger == nil {
		logger = log.New(log.Writer(), "[companion] ", log.LstdFlags|log.Lshortfile)
	}
	book := records.NewEngine()
	opts = append([]ControllerOption{WithControllerLogger(logger), WithRecordBook(book)}, opts...)
	n := &Node{
		store:      store,
		channel:    channel,
		controller: NewController(channel, store, opts...),
		book:       book,
		logger:     logger,
	}

	channel.Handle(peer.TypePushTemplates, n.handlePushTemplates)
	channel.Handle(peer.TypePushGoals, n.handlePushGoals)
	channel.Handle(peer.TypePushPersonalBests, n.handlePushPersonalBests)
	channel.Handle(peer.TypeWorkoutDeleted, n.handleWorkoutDeleted)
	channel.Handle(peer.TypeTemplateDeleted, n.handleTemplateDeleted)
	channel.Handle(peer.TypeSessionState, n.handleSessionState)
	return n
}

// Controller returns the session controller.
func (n *Node) Controller() *Controller {
	return n.controller
}

// Records returns the cached personal bests.
func (n *Node) Records() *records.Engine {
	return n.book
}

// Load seeds the cached bests from the last copy the host pushed.
func (n *Node) Load(ctx context.Context) error {
	recs, err := n.store.ListRecords(ctx)
	if err != nil {
		return fmt.Errorf("load personal records: %w", err)
	}
	n.book.ApplyBackend(recs)
	return nil
}

// StartTemplate starts a session from a cached template.
func (n *Node) StartTemplate(ctx context.Context, templateID string) (domain.WorkoutSession, error) {
	t, err := n.store.GetTemplate(ctx, templateID)
	if err != nil {
		return domain.WorkoutSession{}, err
	}
	return n.controller.Start(t)
}

// HostState returns the last session state mirrored from the host.
func (n *Node) HostState() (events.SessionState, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.hostState == nil {
		return events.SessionState{}, false
	}
	return *n.hostState, true
}

func (n *Node) handlePushTemplates(ctx context.Context, msg peer.Message) error {
	var payload events.TemplatesPushed
	if err := msg.Decode(&payload); err != nil {
		return err
	}
	ts := templates.UnflattenAll(payload)
	if payload.Complete {
		return n.store.ReplaceTemplates(ctx, ts)
	}
	for _, t := range ts {
		if err := n.store.SaveTemplate(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) handlePushGoals(ctx context.Context, msg peer.Message) error {
	var payload events.GoalsPushed
	if err := msg.Decode(&payload); err != nil {
		return err
	}
	return n.store.ReplaceGoals(ctx, payload.ToDomain())
}

func (n *Node) handlePushPersonalBests(ctx context.Context, msg peer.Message) error {
	var payload events.PersonalBestsPushed
	if err := msg.Decode(&payload); err != nil {
		return err
	}
	recs := payload.ToDomain()
	if err := n.store.ReplaceRecords(ctx, recs); err != nil {
		return err
	}
	n.book.ApplyBackend(recs)
	return nil
}

func (n *Node) handleWorkoutDeleted(ctx context.Context, msg peer.Message) error {
	id, err := deletedID(msg)
	if err != nil {
		return err
	}
	if _, err := n.store.DeleteWorkout(ctx, id); err != nil {
		return err
	}
	return nil
}

func (n *Node) handleTemplateDeleted(ctx context.Context, msg peer.Message) error {
	id, err := deletedID(msg)
	if err != nil {
		return err
	}
	if _, err := n.store.DeleteTemplate(ctx, id); err != nil {
		return err
	}
	return nil
}

func (n *Node) handleSessionState(_ context.Context, msg peer.Message) error {
	var state events.SessionState
	if err := msg.Decode(&state); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.hostState != nil && n.hostState.SessionID == state.SessionID && n.hostState.Version >= state.Version {
		return nil
	}
	n.hostState = &state
	return nil
}

func deletedID(msg peer.Message) (string, error) {
	var payload events.EntityDeleted
	if err := msg.Decode(&payload); err != nil {
		return "", err
	}
	if payload.ID == "" {
		payload.ID = msg.ID
	}
	if payload.ID == "" {
		return "", fmt.Errorf("%s: missing id", msg.Type)
	}
	return payload.ID, nil
}
