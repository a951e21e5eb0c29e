// Package notifier delivers engine lifecycle events to external channels.
// Delivery is best-effort and fully decoupled from the match path: the engine
// writes to a buffered channel after a state transition commits, a dispatcher
// goroutine fans out to sinks, and failures are logged and counted, never
// propagated.
package notifier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/peerflow/matchengine/pkg/models"
)

// EventType enumerates the lifecycle events the engine emits.
type EventType string

const (
	EventItemAdded     EventType = "item_added"
	EventItemCancelled EventType = "item_cancelled"
	EventItemExpired   EventType = "item_expired"
	EventMatchDeclared EventType = "match_declared"
	EventMatchComplete EventType = "match_completed"
	EventMatchFailed   EventType = "match_failed"
)

// Event is the typed payload delivered to notification channels.
type Event struct {
	Type      EventType           `json:"type"`
	Item      *models.QueueItem   `json:"queue_item,omitempty"`
	Match     *models.MatchResult `json:"match_result,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Sink is one outbound notification channel. Publish errors are counted and
// logged by the dispatcher, never retried inline.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// DropFunc is invoked whenever an event cannot be delivered.
type DropFunc func()

// Notifier fans events out to sinks asynchronously.
type Notifier struct {
	ch     chan Event
	sinks  []Sink
	logger *zap.Logger
	onDrop DropFunc
	done   chan struct{}
}

// New starts a notifier with the given buffer size; onDrop may be nil.
func New(buffer int, sinks []Sink, onDrop DropFunc, logger *zap.Logger) *Notifier {
	if buffer <= 0 {
		buffer = 1024
	}
	n := &Notifier{
		ch:     make(chan Event, buffer),
		sinks:  sinks,
		logger: logger,
		onDrop: onDrop,
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

// Publish enqueues an event for dispatch. Never blocks: a full buffer drops
// the event and counts it.
func (n *Notifier) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case n.ch <- event:
	default:
		n.drop()
		n.logger.Warn("notification buffer full, dropping event", zap.String("type", string(event.Type)))
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for event := range n.ch {
		for _, sink := range n.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := sink.Publish(ctx, event); err != nil {
				n.drop()
				n.logger.Warn("notification delivery failed",
					zap.String("type", string(event.Type)),
					zap.Error(err))
			}
			cancel()
		}
	}
}

func (n *Notifier) drop() {
	if n.onDrop != nil {
		n.onDrop()
	}
}

// Close drains the buffer, stops the dispatcher and closes all sinks.
func (n *Notifier) Close() error {
	close(n.ch)
	<-n.done
	var firstErr error
	for _, sink := range n.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
