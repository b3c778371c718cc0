package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueDeduplicatesByDestinationTypeAndPayload(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	inserted, err := q.Enqueue(ctx, Entry{Destination: DestinationPeer, Type: "workoutCompleted", PayloadID: "w1"})
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = q.Enqueue(ctx, Entry{Destination: DestinationPeer, Type: "workoutCompleted", PayloadID: "w1"})
	require.NoError(t, err)
	require.False(t, inserted)

	inserted, err = q.Enqueue(ctx, Entry{Destination: DestinationRemote, Type: "workoutCompleted", PayloadID: "w1"})
	require.NoError(t, err)
	require.True(t, inserted)

	n, err := q.Len(ctx, DestinationPeer)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestMemoryQueuePurgeFiltersByType(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	for _, typ := range []string{"workoutCompleted", "workoutDeleted"} {
		_, err := q.Enqueue(ctx, Entry{Destination: DestinationPeer, Type: typ, PayloadID: "w1"})
		require.NoError(t, err)
	}

	removed, err := q.Purge(ctx, DestinationPeer, "w1", "workoutCompleted")
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	left, err := q.Peek(ctx, DestinationPeer, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "workoutDeleted", left[0].Type)
}

func TestFlusherDeliversInFIFOOrder(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, Entry{Destination: DestinationPeer, Type: "workoutCompleted", PayloadID: id})
		require.NoError(t, err)
	}

	var got []string
	before := testutil.ToFloat64(deliveredCounter.WithLabelValues("peer", "workoutCompleted"))
	f := NewFlusher(q, DestinationPeer, func(_ context.Context, e Entry) error {
		got = append(got, e.PayloadID)
		return nil
	}, WithBatchSize(2))

	n, err := f.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{"a", "b", "c"}, got)

	left, err := q.Len(ctx, DestinationPeer)
	require.NoError(t, err)
	require.Zero(t, left)
	require.InDelta(t, before+3, testutil.ToFloat64(deliveredCounter.WithLabelValues("peer", "workoutCompleted")), 0.0001)
}

func TestFlusherStopsOnFirstFailureAndRecordsAttempt(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	for _, id := range []string{"a", "b"} {
		_, err := q.Enqueue(ctx, Entry{Destination: DestinationRemote, Type: "deleteWorkout", PayloadID: id})
		require.NoError(t, err)
	}

	calls := 0
	f := NewFlusher(q, DestinationRemote, func(context.Context, Entry) error {
		calls++
		return errors.New("backend unavailable")
	})

	n, err := f.Flush(ctx)
	require.Error(t, err)
	require.Zero(t, n)
	require.Equal(t, 1, calls)

	entries, err := q.Peek(ctx, DestinationRemote, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, 1, entries[0].Attempts)
	require.Equal(t, "backend unavailable", entries[0].LastError)
	require.Zero(t, entries[1].Attempts)
}

func TestFlusherIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	_, err := q.Enqueue(ctx, Entry{Destination: DestinationPeer, Type: "workoutCompleted", PayloadID: "a"})
	require.NoError(t, err)

	release := make(chan struct{})
	entered := make(chan struct{})
	f := NewFlusher(q, DestinationPeer, func(context.Context, Entry) error {
		close(entered)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.Flush(ctx)
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("first flush never started")
	}

	_, err = f.Flush(ctx)
	require.ErrorIs(t, err, ErrFlushInProgress)

	close(release)
	wg.Wait()
}
