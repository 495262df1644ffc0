package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
	"github.com/lumenflow/orchestrator/common/redis"
)

// subscriberBuffer bounds each subscriber channel. A consumer that falls
// this far behind is disconnected rather than blocking the scheduler.
const subscriberBuffer = 256

// channelPrefix is the redis pub/sub channel per execution
const channelPrefix = "wf:events:"

// Bus fans out execution events. Each execution has a single writer (its
// scheduler goroutine), so sequence numbers are strictly increasing with no
// gaps as observed by subscribers.
type Bus struct {
	redis *redis.Client
	log   *logger.Logger

	mu      sync.RWMutex
	streams map[uuid.UUID]*stream
}

type stream struct {
	mu      sync.Mutex
	seq     uint64
	history []models.Event
	subs    map[int]chan models.Event
	nextSub int
	closed  bool
}

// NewBus creates an event bus. The redis client is optional: when present,
// events are also published on wf:events:<execution_id> for other replicas.
func NewBus(redisClient *redis.Client, log *logger.Logger) *Bus {
	return &Bus{
		redis:   redisClient,
		log:     log,
		streams: make(map[uuid.UUID]*stream),
	}
}

func (b *Bus) stream(executionID uuid.UUID) *stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[executionID]
	if !ok {
		st = &stream{subs: make(map[int]chan models.Event)}
		b.streams[executionID] = st
	}
	return st
}

// Publish assigns the next sequence number and delivers the event to all
// subscribers. Called only from the execution's scheduler goroutine.
func (b *Bus) Publish(ctx context.Context, executionID uuid.UUID, event models.Event) {
	st := b.stream(executionID)

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.seq++
	event.Sequence = st.seq
	event.ExecutionID = executionID.String()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	st.history = append(st.history, event)

	var dropped []int
	for id, ch := range st.subs {
		select {
		case ch <- event:
		default:
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		close(st.subs[id])
		delete(st.subs, id)
	}
	st.mu.Unlock()

	if len(dropped) > 0 {
		b.log.Warn("dropped slow event subscribers", "execution_id", executionID, "count", len(dropped))
	}

	if b.redis != nil {
		payload, err := json.Marshal(event)
		if err == nil {
			if err := b.redis.Publish(ctx, channelPrefix+executionID.String(), string(payload)); err != nil {
				b.log.Warn("event fanout publish failed", "execution_id", executionID, "error", err)
			}
		}
	}
}

// Subscribe returns already-published events plus a live channel for the
// rest. The caller must call the cancel function when done.
func (b *Bus) Subscribe(executionID uuid.UUID) ([]models.Event, <-chan models.Event, func()) {
	st := b.stream(executionID)

	st.mu.Lock()
	defer st.mu.Unlock()

	replay := make([]models.Event, len(st.history))
	copy(replay, st.history)

	if st.closed {
		ch := make(chan models.Event)
		close(ch)
		return replay, ch, func() {}
	}

	id := st.nextSub
	st.nextSub++
	ch := make(chan models.Event, subscriberBuffer)
	st.subs[id] = ch

	cancel := func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		if sub, ok := st.subs[id]; ok {
			close(sub)
			delete(st.subs, id)
		}
	}
	return replay, ch, cancel
}

// Close marks an execution's stream finished, closing all subscriber
// channels. History stays available for late Subscribe calls until Forget.
func (b *Bus) Close(executionID uuid.UUID) {
	b.mu.RLock()
	st, ok := b.streams[executionID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.closed = true
	for id, ch := range st.subs {
		close(ch)
		delete(st.subs, id)
	}
}

// Forget drops a finished stream's history
func (b *Bus) Forget(executionID uuid.UUID) {
	b.Close(executionID)
	b.mu.Lock()
	delete(b.streams, executionID)
	b.mu.Unlock()
}
