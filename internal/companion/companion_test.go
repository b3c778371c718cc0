package companion

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/circuit/internal/domain"
	"example.com/circuit/internal/events"
	"example.com/circuit/internal/outbox"
	"example.com/circuit/internal/peer"
	"example.com/circuit/internal/records"
	"example.com/circuit/internal/session"
	"example.com/circuit/internal/store/sqlite"
	"example.com/circuit/internal/templates"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type nopStore struct{}

func (nopStore) SaveWorkout(context.Context, domain.WorkoutSession) (bool, error) { return true, nil }

type sentMessages struct {
	mu   sync.Mutex
	msgs []peer.Message
}

func (s *sentMessages) Send(_ context.Context, msg peer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "companion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func circuitTemplate() domain.WorkoutTemplate {
	return domain.WorkoutTemplate{
		ID:     "tpl-1",
		Name:   "Engine",
		Rounds: 3,
		Exercises: []domain.TemplateExerciseSpec{
			{Name: "SkiErg", TargetDistance: 250, Order: 2},
			{Name: "Run", TargetDistance: 400, Order: 0},
			{Name: "Burpees", TargetRepetitions: 12, Order: 1},
		},
	}
}

func TestExpansionMatchesHost(t *testing.T) {
	tpl := circuitTemplate()

	// Send the template the way the companion receives it.
	tpl = templates.Unflatten(templates.Flatten(tpl))

	companion := NewController(&sentMessages{}, nil)
	mirror, err := companion.Start(tpl)
	require.NoError(t, err)

	host := session.NewController(nopStore{}, records.NewEngine(), session.WithLogger(quietLogger()))
	snap, err := host.Start(context.Background(), circuitTemplate())
	require.NoError(t, err)

	require.Len(t, mirror.Performances, len(snap.Session.Performances))
	for i := range mirror.Performances {
		h, c := snap.Session.Performances[i], mirror.Performances[i]
		require.Equal(t, h.Round, c.Round)
		require.Equal(t, h.Order, c.Order)
		require.Equal(t, h.ExerciseName, c.ExerciseName)
		require.Equal(t, h.TargetDistance, c.TargetDistance)
		require.Equal(t, h.TargetRepetitions, c.TargetRepetitions)
	}
	require.Equal(t, "Run", mirror.Performances[0].ExerciseName)
}

func TestHeartRateAppendsToCurrentPerformanceOnly(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC)}
	c := NewController(&sentMessages{}, nil, WithClock(clock.Now))
	require.ErrorIs(t, c.AppendHeartRate(domain.HeartRateSample{Value: 100}), domain.ErrNoActiveSession)

	_, err := c.Start(circuitTemplate())
	require.NoError(t, err)

	require.NoError(t, c.AppendHeartRate(domain.HeartRateSample{Value: 120, Timestamp: clock.Now()}))
	require.NoError(t, c.AppendHeartRate(domain.HeartRateSample{Value: 125, Timestamp: clock.Now()}))
	clock.Advance(90 * time.Second)
	p, err := c.CompleteCurrentTimed(400, 0)
	require.NoError(t, err)
	require.Equal(t, 90.0, p.Duration)
	require.Len(t, p.HeartRate, 2)

	samples := make(chan domain.HeartRateSample, 3)
	samples <- domain.HeartRateSample{Value: 150}
	samples <- domain.HeartRateSample{Value: 155}
	close(samples)
	require.NoError(t, c.ConsumeSensor(context.Background(), samples))

	s, ok := c.Current()
	require.True(t, ok)
	require.Len(t, s.Performances[1].HeartRate, 2)
	require.Equal(t, 1, s.CompletedCount(), "samples never advance progression")
}

func TestFinishOfflineQueuesAndFlushesOnReconnect(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	pipe, companionEnd, hostEnd := peer.NewPipe(16)
	pipe.SetConnected(false)

	channel := peer.NewChannel(companionEnd, store, peer.WithLogger(quietLogger()))
	node := NewNode(store, channel, quietLogger())
	require.NoError(t, store.SaveTemplate(ctx, circuitTemplate()))

	started, err := node.StartTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	for i := 0; i < len(started.Performances); i++ {
		_, err := node.Controller().CompleteCurrent(30, 0, 0)
		require.NoError(t, err)
	}
	finished, err := node.Controller().Finish(ctx)
	require.NoError(t, err)
	_, open := node.Controller().Current()
	require.False(t, open)

	queued, err := store.Len(ctx, outbox.DestinationPeer)
	require.NoError(t, err)
	require.Equal(t, 1, queued)

	archived, err := store.GetWorkout(ctx, finished.ID)
	require.NoError(t, err)
	require.Len(t, archived.Performances, 9)

	pipe.SetConnected(true)
	channel.SetReachable(ctx, true)
	channel.Wait()

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	d, err := hostEnd.Receive(recvCtx)
	require.NoError(t, err)
	require.Equal(t, peer.TypeWorkoutCompleted, d.Message.Type)
	require.Equal(t, finished.ID, d.Message.ID)

	var payload events.WorkoutCompleted
	require.NoError(t, d.Message.Decode(&payload))
	require.Equal(t, finished.ID, payload.ID)
	require.Len(t, payload.Exercises, 9)
	require.Equal(t, 270.0, payload.TotalDuration)

	queued, err = store.Len(ctx, outbox.DestinationPeer)
	require.NoError(t, err)
	require.Zero(t, queued)
}

func TestCancelSendsNothing(t *testing.T) {
	sender := &sentMessages{}
	c := NewController(sender, nil)
	_, err := c.Start(circuitTemplate())
	require.NoError(t, err)
	require.NoError(t, c.Cancel())
	require.ErrorIs(t, c.Cancel(), domain.ErrNoActiveSession)
	_, err = c.Finish(context.Background())
	require.ErrorIs(t, err, domain.ErrNoActiveSession)
	require.Empty(t, sender.msgs)
}

func TestNodeAppliesHostPushes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := openStore(t)
	_, companionEnd, hostEnd := peer.NewPipe(16)
	channel := peer.NewChannel(companionEnd, store, peer.WithReachable(true), peer.WithLogger(quietLogger()))
	node := NewNode(store, channel, quietLogger())
	go channel.Run(ctx)

	send := func(typ peer.MessageType, id string, payload any) {
		msg, err := peer.NewMessage(typ, id, payload)
		require.NoError(t, err)
		require.NoError(t, hostEnd.Send(ctx, msg))
	}

	other := circuitTemplate()
	other.ID, other.Name = "tpl-2", "Legs"
	send(peer.TypePushTemplates, "", events.TemplatesPushed{
		Templates: []events.Template{templates.Flatten(circuitTemplate()), templates.Flatten(other)},
		Complete:  true,
	})
	send(peer.TypePushGoals, "", events.FromGoals([]domain.Goal{{ID: "g1", Title: "Sub-4 run"}}))
	send(peer.TypePushPersonalBests, "", events.FromRecords([]domain.PersonalRecord{{Key: "Run_400m", ExerciseName: "Run", BestValue: 88, Unit: "s"}}))
	send(peer.TypeTemplateDeleted, "tpl-2", events.EntityDeleted{ID: "tpl-2"})
	send(peer.TypeSessionState, "", events.SessionState{SessionID: "s1", State: "active", Version: 4})
	send(peer.TypeSessionState, "", events.SessionState{SessionID: "s1", State: "idle", Version: 3})

	require.Eventually(t, func() bool {
		st, ok := node.HostState()
		return ok && st.Version == 4
	}, time.Second, 10*time.Millisecond)

	st, _ := node.HostState()
	require.Equal(t, "active", st.State, "older versions are ignored")

	ts, err := store.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	require.Equal(t, "tpl-1", ts[0].ID)

	goals, err := store.ListGoals(ctx)
	require.NoError(t, err)
	require.Len(t, goals, 1)

	recs, err := store.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.True(t, recs[0].Synced)
}

func TestCompletionFlagsRecordAgainstCachedBests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := &fakeClock{now: time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC)}
	store := openStore(t)
	_, companionEnd, hostEnd := peer.NewPipe(16)
	channel := peer.NewChannel(companionEnd, store, peer.WithReachable(true), peer.WithLogger(quietLogger()))
	node := NewNode(store, channel, quietLogger(), WithClock(clock.Now))
	go channel.Run(ctx)

	msg, err := peer.NewMessage(peer.TypePushPersonalBests, "", events.FromRecords([]domain.PersonalRecord{
		{Key: "Run_400m", ExerciseName: "Run", BestValue: 88, Unit: "s"},
	}))
	require.NoError(t, err)
	require.NoError(t, hostEnd.Send(ctx, msg))
	require.Eventually(t, func() bool {
		_, ok := node.Records().BestFor("Run_400m")
		return ok
	}, time.Second, 10*time.Millisecond)

	c := node.Controller()
	_, err = c.Start(circuitTemplate())
	require.NoError(t, err)

	run, err := c.CompleteCurrent(85, 400, 0)
	require.NoError(t, err)
	require.True(t, run.IsRecord, "85s beats the cached 88s")
	burpees, err := c.CompleteCurrent(40, 0, 12)
	require.NoError(t, err)
	require.False(t, burpees.IsRecord, "no cached best for the variant")
	_, err = c.CompleteCurrent(60, 250, 0)
	require.NoError(t, err)

	run, err = c.CompleteCurrent(86, 400, 0)
	require.NoError(t, err)
	require.False(t, run.IsRecord, "85s earlier in the session is the bar")
	_, err = c.CompleteCurrent(41, 0, 12)
	require.NoError(t, err)
	_, err = c.CompleteCurrent(61, 250, 0)
	require.NoError(t, err)

	run, err = c.CompleteCurrent(80, 400, 0)
	require.NoError(t, err)
	require.True(t, run.IsRecord)

	// A restarted companion flags against the bests it cached.
	reloaded := NewNode(store, peer.NewChannel(companionEnd, store, peer.WithLogger(quietLogger())), quietLogger())
	require.NoError(t, reloaded.Load(ctx))
	best, ok := reloaded.Records().BestFor("Run_400m")
	require.True(t, ok)
	require.Equal(t, 88.0, best.BestValue)
}

func TestTickReportsTimersToDisplay(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC)}
	var (
		mu   sync.Mutex
		seen []Status
	)
	c := NewController(&sentMessages{}, nil, WithClock(clock.Now), WithDisplay(func(st Status) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st)
	}))

	c.Tick(clock.Now())
	require.Empty(t, seen, "nothing to display without a session")

	_, err := c.Start(circuitTemplate())
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, err = c.CompleteCurrent(30, 400, 0)
	require.NoError(t, err)
	clock.Advance(12 * time.Second)
	c.Tick(clock.Now())

	require.Len(t, seen, 1)
	st := seen[0]
	require.Equal(t, 42.0, st.Elapsed)
	require.Equal(t, 12.0, st.ExerciseElapsed)
	require.Equal(t, 1, st.Completed)
	require.Equal(t, 9, st.Total)
	require.Equal(t, "Burpees", st.CurrentExercise)
	require.Equal(t, st, c.Status())
}

func TestControllerRunTicksUntilCancelled(t *testing.T) {
	ticks := make(chan Status, 1)
	c := NewController(&sentMessages{}, nil, WithDisplay(func(st Status) {
		select {
		case ticks <- st:
		default:
		}
	}))
	_, err := c.Start(circuitTemplate())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Run(ctx, 5*time.Millisecond), context.DeadlineExceeded)

	select {
	case st := <-ticks:
		require.NotEmpty(t, st.SessionID)
	default:
		t.Fatal("expected at least one tick")
	}
}
