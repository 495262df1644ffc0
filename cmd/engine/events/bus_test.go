package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

func newTestBus() *Bus {
	return NewBus(nil, logger.New("error", "json"))
}

func collect(ch <-chan models.Event, n int, t *testing.T) []models.Event {
	t.Helper()
	var out []models.Event
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestPublish_SequencesAreMonotonic(t *testing.T) {
	bus := newTestBus()
	execID := uuid.New()

	_, ch, cancel := bus.Subscribe(execID)
	defer cancel()

	for i := 0; i < 5; i++ {
		bus.Publish(context.Background(), execID, models.Event{Type: models.EventNodeRunning, NodeID: "n1"})
	}

	got := collect(ch, 5, t)
	for i, ev := range got {
		assert.Equal(t, uint64(i+1), ev.Sequence)
		assert.Equal(t, execID.String(), ev.ExecutionID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestSubscribe_ReplaysHistory(t *testing.T) {
	bus := newTestBus()
	execID := uuid.New()

	bus.Publish(context.Background(), execID, models.Event{Type: models.EventExecutionStarted})
	bus.Publish(context.Background(), execID, models.Event{Type: models.EventNodeRunning, NodeID: "n1"})

	replay, ch, cancel := bus.Subscribe(execID)
	defer cancel()

	require.Len(t, replay, 2)
	assert.Equal(t, uint64(1), replay[0].Sequence)
	assert.Equal(t, uint64(2), replay[1].Sequence)

	bus.Publish(context.Background(), execID, models.Event{Type: models.EventNodeSuccess, NodeID: "n1"})
	got := collect(ch, 1, t)
	assert.Equal(t, uint64(3), got[0].Sequence)
}

func TestClose_EndsSubscribers(t *testing.T) {
	bus := newTestBus()
	execID := uuid.New()

	_, ch, cancel := bus.Subscribe(execID)
	defer cancel()

	bus.Publish(context.Background(), execID, models.Event{Type: models.EventExecutionCompleted})
	bus.Close(execID)

	got := collect(ch, 1, t)
	require.Len(t, got, 1)

	_, open := <-ch
	assert.False(t, open, "channel must close after stream close")

	// publishing after close is a no-op
	bus.Publish(context.Background(), execID, models.Event{Type: models.EventLog})
	replay, _, cancel2 := bus.Subscribe(execID)
	defer cancel2()
	assert.Len(t, replay, 1)
}

func TestExecutionsAreIsolated(t *testing.T) {
	bus := newTestBus()
	exec1, exec2 := uuid.New(), uuid.New()

	_, ch1, cancel1 := bus.Subscribe(exec1)
	defer cancel1()

	bus.Publish(context.Background(), exec2, models.Event{Type: models.EventExecutionStarted})
	bus.Publish(context.Background(), exec1, models.Event{Type: models.EventExecutionStarted})

	got := collect(ch1, 1, t)
	assert.Equal(t, exec1.String(), got[0].ExecutionID)
	assert.Equal(t, uint64(1), got[0].Sequence)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	bus := newTestBus()
	execID := uuid.New()

	_, ch, cancel := bus.Subscribe(execID)
	defer cancel()

	// never read: the buffer fills and the subscriber gets disconnected
	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(context.Background(), execID, models.Event{Type: models.EventLog})
	}

	got := collect(ch, subscriberBuffer, t)
	assert.Len(t, got, subscriberBuffer)
	_, open := <-ch
	assert.False(t, open)
}
