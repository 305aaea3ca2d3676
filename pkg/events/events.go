// Package events is the in-process event hub. Every state change the UI
// cares about is published here instead of being pushed through ad-hoc
// callbacks, so any number of surfaces (REPL, overlay, tests) can observe
// the engine without holding references into it.
package events

import (
	"sync"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	EventChatOpened      Type = "chat.opened"
	EventChatDeleted     Type = "chat.deleted"
	EventBranchReplaced  Type = "branch.replaced"
	EventBranchPaginated Type = "branch.paginated"
	EventSiblingSwitched Type = "sibling.switched"
	EventStreamStarted   Type = "stream.started"
	EventStreamDelta     Type = "stream.delta"
	EventStreamDone      Type = "stream.done"
	EventStreamCancelled Type = "stream.cancelled"
	EventStreamErrored   Type = "stream.errored"
	EventConfigUpdated   Type = "config.updated"
	EventNotesUpdated    Type = "notes.updated"
	EventHistoryUpdated  Type = "history.updated"
	EventNotify          Type = "notify"
)

// Severity grades user-facing notifications. Soft notifications are
// transient and never interrupt; blocking ones demand acknowledgement.
type Severity string

const (
	SeveritySoft     Severity = "soft"
	SeverityBlocking Severity = "blocking"
)

// Event is a single hub publication.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	ChatID    string         `json:"chat_id,omitempty"`
	Severity  Severity       `json:"severity,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Notification builds a notify event.
func Notification(severity Severity, message string) Event {
	return Event{Type: EventNotify, Severity: severity, Message: message}
}

// Hub fans events out to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]map[Type]struct{}
	closed      bool
}

// NewHub constructs an event hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]map[Type]struct{})}
}

// Publish notifies matching subscribers. Non-blocking; drops when a
// subscriber's buffer is full so a stuck surface can't stall the engine.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for ch, filter := range h.subscribers {
		if filter != nil {
			if _, ok := filter[event.Type]; !ok {
				continue
			}
		}
		select {
		case ch <- event:
		default:
			// Drop if subscriber can't keep up.
		}
	}
}

// Subscribe returns a channel receiving future events and a cleanup func.
// With no types given the subscription receives everything.
func (h *Hub) Subscribe(types ...Type) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Event)
		close(empty)
		return empty, func() {}
	}

	var filter map[Type]struct{}
	if len(types) > 0 {
		filter = make(map[Type]struct{}, len(types))
		for _, t := range types {
			filter[t] = struct{}{}
		}
	}

	ch := make(chan Event, 64)
	h.subscribers[ch] = filter
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Close unsubscribes all listeners and prevents future publications.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}
