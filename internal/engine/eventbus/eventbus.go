// Package eventbus is the process-wide ring-buffered lifecycle event stream
// described in the engine's design notes on global state: long-lived,
// explicit, passed by reference into subcomponents rather than a hidden
// singleton.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind enumerates lifecycle event kinds the bus publishes.
type Kind string

const (
	KindStarted         Kind = "crawl.started"
	KindPageProcessed    Kind = "crawl.page.processed"
	KindBackpressure     Kind = "crawl.backpressure"
	KindCheckpointSaved  Kind = "crawl.checkpoint.saved"
	KindMemoryPaused     Kind = "crawl.memory.paused"
	KindMemoryResumed    Kind = "crawl.memory.resumed"
	KindFinished         Kind = "crawl.finished"
)

// Event is one published lifecycle event; Seq is assigned monotonically at
// emission time so that observers can detect gaps caused by dropped events.
type Event struct {
	Seq  uint64      `json:"seq"`
	Kind Kind        `json:"kind"`
	At   time.Time   `json:"at"`
	Data interface{} `json:"data,omitempty"`
}

const subscriberBuffer = 64

// Publisher is satisfied by *redis.Client; a narrow interface keeps the bus
// testable without a live Redis instance.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Bus is a ring-buffered, multi-subscriber event stream. One mutex guards
// the sequence counter and the subscriber list; slow subscribers have
// events dropped rather than blocking emission.
type Bus struct {
	mu          sync.Mutex
	seq         uint64
	subscribers map[int]chan Event
	nextSubID   int
	dropped     uint64

	redisClient  Publisher
	redisChannel string
	logger       *zap.Logger
}

// New creates a Bus. redisClient may be nil, in which case events are only
// delivered to in-process subscribers.
func New(logger *zap.Logger, redisClient Publisher, redisChannel string) *Bus {
	return &Bus{
		subscribers:  make(map[int]chan Event),
		redisClient:  redisClient,
		redisChannel: redisChannel,
		logger:       logger,
	}
}

// Subscribe returns a channel of future events. The caller must keep reading
// to avoid dropped events; Unsubscribe must be called when done.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubID
	b.nextSubID++
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Emit assigns the next sequence number and delivers the event to every
// subscriber and, if configured, the Redis fanout channel.
func (b *Bus) Emit(kind Kind, data interface{}) {
	b.mu.Lock()
	b.seq++
	evt := Event{Seq: b.seq, Kind: kind, At: time.Now(), Data: data}

	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped++
			b.logger.Warn("eventbus: dropping event for slow subscriber",
				zap.Int("subscriberId", id), zap.String("kind", string(kind)))
		}
	}
	b.mu.Unlock()

	if b.redisClient != nil {
		payload, err := json.Marshal(evt)
		if err != nil {
			b.logger.Warn("eventbus: failed to marshal event for redis fanout", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := b.redisClient.Publish(ctx, b.redisChannel, payload); err != nil {
			b.logger.Warn("eventbus: redis fanout publish failed", zap.Error(err))
		}
	}
}

// DroppedCount returns the cumulative number of events dropped due to slow
// in-process subscribers; exposed as the eventbus_dropped_total metric.
func (b *Bus) DroppedCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
