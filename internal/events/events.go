// Package events carries progress events from the scanner, runner and flow
// orchestrator to any number of observers over buffered channels.
package events

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Outbound event types. Names match the real-time channel contract.
const (
	ScanStarted   = "scan-started"
	ScanProgress  = "scan-progress"
	ScanCompleted = "scan-completed"
	ScanError     = "scan-error"

	GenerationStarted   = "test-generation-started"
	GenerationProgress  = "test-generation-progress"
	TestGenerated       = "test-generated"
	GenerationCompleted = "test-generation-completed"
	GenerationError     = "test-generation-error"

	FileCreated   = "test-file-created"
	FileError     = "test-file-error"
	FileContent   = "file-content"
	FileReadError = "file-content-error"

	ExecutionStarted   = "test-execution-started"
	ExecutionOutput    = "test-execution-output"
	ExecutionCompleted = "test-execution-completed"
	ExecutionError     = "test-execution-error"

	AllTestsOutput    = "all-tests-output"
	AllTestsCompleted = "all-tests-completed"
	AllTestsError     = "all-tests-error"

	FixStarted = "test-fix-started"
	TestFixed  = "test-fixed"
	FixError   = "test-fix-error"

	FlowStarted      = "flow-started"
	FlowPaused       = "flow-paused"
	FlowResumed      = "flow-resumed"
	FlowCompleted    = "flow-completed"
	FlowCancelled    = "flow-cancelled"
	FlowTargetFailed = "flow-target-failed"
)

// subscriberBuffer bounds each subscriber's queue. Publish drops events for a
// subscriber whose queue is full.
const subscriberBuffer = 256

// Event is one message on the bus.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Key       string    `json:"key,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Bus is a fan-out publisher with one buffered channel per subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	nextID      uint64
	logger      *slog.Logger
}

type subscriber struct {
	ch      chan Event
	dropped atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger that reports dropped events.
func WithLogger(l *slog.Logger) Option { return func(b *Bus) { b.logger = l } }

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{subscribers: make(map[string]*subscriber)}
	for _, o := range opts {
		o(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Subscribe registers a subscriber under name, replacing any previous one.
func (b *Bus) Subscribe(name string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subscribers[name]; ok {
		close(old.ch)
	}
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	b.subscribers[name] = sub
	return sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[name]; ok {
		delete(b.subscribers, name)
		close(sub.ch)
		if n := sub.dropped.Load(); n > 0 {
			b.logger.Debug("subscriber dropped events", "subscriber", name, "dropped", n)
		}
	}
}

// Publish sends ev to every subscriber without blocking. ID and Timestamp are
// filled in when empty. Events for a subscriber with a full queue are dropped
// and counted.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.nextID++
	if ev.ID == "" {
		ev.ID = strconv.FormatUint(b.nextID, 10)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	// Hold the read side while sending so Unsubscribe cannot close a channel
	// mid-send.
	b.mu.Unlock()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for name, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		default:
			n := sub.dropped.Add(1)
			b.logger.Debug("event dropped", "subscriber", name, "type", ev.Type, "key", ev.Key, "dropped", n)
		}
	}
}

// Dropped returns how many events the named subscriber has missed because its
// queue was full.
func (b *Bus) Dropped(name string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.subscribers[name]; ok {
		return sub.dropped.Load()
	}
	return 0
}

// Emit is shorthand for Publish with a type, key and payload.
func (b *Bus) Emit(eventType, key string, data any) {
	b.Publish(Event{Type: eventType, Key: key, Data: data})
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
