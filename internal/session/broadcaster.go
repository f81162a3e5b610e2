// ABOUTME: In-memory fan-out of run events to live watchers
// ABOUTME: Publishes pipeline progress to every subscriber of a run ID

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/mentor-gateway/internal/tutor"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// EventType names a run event on the wire.
type EventType string

const (
	EventStarted   EventType = "started"
	EventStep      EventType = "step"
	EventDone      EventType = "done"
	EventError     EventType = "error"
	EventDuplicate EventType = "duplicate"
)

// Event is one notification about a run.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"run_id"`
	// Seq numbers step events from 1; zero for other types.
	Seq     int           `json:"seq,omitempty"`
	Node    string        `json:"node,omitempty"`
	Next    string        `json:"next,omitempty"`
	Message string        `json:"message,omitempty"`
	Result  *tutor.Result `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
	Time    time.Time     `json:"time"`
}

// Terminal reports whether no further events follow e.
func (e *Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Broadcaster provides in-memory pub/sub of run events keyed by run ID.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // runID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for events on runID. The subscription is removed and
// its channel closed when ctx is cancelled or Unsubscribe is called.
func (b *Broadcaster) Subscribe(ctx context.Context, runID string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[runID]; !ok {
		b.subscribers[runID] = make(map[string]chan *Event)
	}
	b.subscribers[runID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "run_id", runID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(runID, subID)
	}()

	return ch, subID
}

// Publish sends event to every subscriber of runID. Sends never block:
// subscribers with a full buffer miss the event.
func (b *Broadcaster) Publish(runID string, event *Event) {
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[runID] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"run_id", runID,
				"sub_id", subID,
				"type", event.Type)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(runID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[runID]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, runID)
	}

	b.logger.Debug("subscriber removed", "run_id", runID, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions for runID.
func (b *Broadcaster) SubscriberCount(runID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[runID])
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for runID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, runID)
	}

	b.logger.Debug("broadcaster closed")
}
