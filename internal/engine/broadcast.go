package engine

import "time"

// Event types published during a sync pass.
const (
	EventSyncStarted   = "sync-started"
	EventConflict      = "conflict-detected"
	EventSyncCompleted = "sync-completed"
)

// Event is a sync lifecycle notification. Events carry already-resolved
// state for display; listeners must not feed them back into the queue.
type Event struct {
	Type      string    `json:"type"`
	Time      time.Time `json:"time"`
	EntityKey string    `json:"entityKey,omitempty"`
	Pending   int       `json:"pending,omitempty"`
	Result    *Result   `json:"result,omitempty"`
}

// Broadcaster fans sync events out to listeners, typically the relay
// serving other open clients. Implementations must not block: the
// engine publishes from the middle of a sync pass.
type Broadcaster interface {
	Broadcast(event Event)
}

// NopBroadcaster drops every event. Used when no relay is attached.
type NopBroadcaster struct{}

// Broadcast implements Broadcaster.Broadcast.
func (NopBroadcaster) Broadcast(event Event) {}
