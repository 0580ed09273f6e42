// Package events is the in-process pub/sub spine of the workflow engine,
// plus the WebSocket fan-out that mirrors events to external watchers.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind names an event type.
type Kind string

const (
	StepStarted        Kind = "step_started"
	StepCompleted      Kind = "step_completed"
	CheckpointReached  Kind = "checkpoint_reached"
	CheckpointResolved Kind = "checkpoint_resolved"
	WorkflowCompleted  Kind = "workflow_completed"
	WorkflowFailed     Kind = "workflow_failed"
	WorkflowCancelled  Kind = "workflow_cancelled"
)

// Event is one workflow occurrence.
type Event struct {
	Kind    Kind           `json:"kind"`
	RunID   string         `json:"run_id"`
	Step    string         `json:"step,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// Handler consumes events. Handlers run on their own goroutine; a slow or
// panicking handler never stalls the emitter or its peers.
type Handler func(Event)

// Subscription identifies one subscriber for Unsubscribe.
type Subscription int

const subscriberBuffer = 256

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Bus fans events out to subscribers. Each subscriber drains its own
// buffered queue in order, so per-run ordering is preserved per subscriber
// while dispatch stays concurrent across subscribers.
type Bus struct {
	mu     sync.Mutex
	nextID Subscription
	subs   map[Subscription]*subscriber
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{subs: make(map[Subscription]*subscriber), logger: logger}
}

// Subscribe registers a handler and starts its delivery goroutine.
func (b *Bus) Subscribe(h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, subscriberBuffer), done: make(chan struct{})}
	b.subs[id] = sub
	b.wg.Add(1)
	go b.deliver(sub, h)
	return id
}

// Unsubscribe stops delivery to the handler. Already queued events are
// dropped.
func (b *Bus) Unsubscribe(id Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.done)
}

// Emit queues the event for every subscriber and returns immediately. A
// subscriber whose queue is full loses the event; the drop is logged.
func (b *Bus) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- e:
		case <-sub.done:
		default:
			b.logger.Warn("event dropped, subscriber queue full",
				zap.Int("subscription", int(id)),
				zap.String("kind", string(e.Kind)),
				zap.String("run_id", e.RunID))
		}
	}
}

// Close stops all subscribers and waits for their goroutines.
func (b *Bus) Close() {
	b.mu.Lock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.done)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) deliver(sub *subscriber, h Handler) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case e := <-sub.ch:
			b.safeCall(h, e)
		}
	}
}

func (b *Bus) safeCall(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("kind", string(e.Kind)),
				zap.String("run_id", e.RunID),
				zap.Any("panic", r))
		}
	}()
	h(e)
}
