// Package events is the broadcast bus pushing state changes to connected
// clients.
package events

import (
	"encoding/json"
	"sync"

	"github.com/vibetree/vibetree/internal/logger"
)

// EventType names a state-change event.
type EventType string

const (
	ScanUpdated         EventType = "scan.updated"
	PlanUpdated         EventType = "plan.updated"
	BranchesChanged     EventType = "branches.changed"
	ExternalLinkCreated EventType = "external-link.created"
	ExternalLinkUpdated EventType = "external-link.updated"
	ExternalLinkDeleted EventType = "external-link.deleted"
)

// Event is one bus message. RepoID and PlanningSessionID scope delivery;
// either may be empty.
type Event struct {
	Type              EventType `json:"type"`
	RepoID            string    `json:"repoId,omitempty"`
	PlanningSessionID string    `json:"planningSessionId,omitempty"`
	Payload           any       `json:"payload,omitempty"`
}

// Sink receives serialized events. Implementations must be safe for
// concurrent Send calls; a send must not block indefinitely.
type Sink interface {
	Send(data []byte) error
}

type client struct {
	sink Sink
	// repoID filters delivery; empty subscribes to everything.
	repoID   string
	failures int
}

// Bus fans events out to subscribed clients. Delivery is at-most-once and
// ordered per connection only.
type Bus struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{clients: make(map[*client]struct{})}
}

// Subscribe registers a sink. repoID of "" receives every event. The
// returned func removes the client.
func (b *Bus) Subscribe(sink Sink, repoID string) func() {
	c := &client{sink: sink, repoID: repoID}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	n := len(b.clients)
	b.mu.Unlock()

	logger.Debugf("event bus: client subscribed (repo=%q, clients=%d)", repoID, n)

	return func() {
		b.mu.Lock()
		delete(b.clients, c)
		b.mu.Unlock()
	}
}

// ClientCount returns the number of connected clients.
func (b *Bus) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast sends the event to every client whose subscription is absent or
// matches the event's repo id. Sends are fire-and-forget; a client that
// fails two consecutive sends is evicted.
func (b *Bus) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Errorf("event bus: encoding %s event: %v", ev.Type, err)
		return
	}

	// Iterate over a snapshot so a slow client never holds the lock.
	b.mu.Lock()
	targets := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		if c.repoID == "" || ev.RepoID == "" || c.repoID == ev.RepoID {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		if err := c.sink.Send(data); err != nil {
			b.mu.Lock()
			c.failures++
			evict := c.failures >= 2
			if evict {
				delete(b.clients, c)
			}
			b.mu.Unlock()
			if evict {
				logger.Warnf("event bus: dropping client after repeated send failures: %v", err)
			}
		} else {
			b.mu.Lock()
			c.failures = 0
			b.mu.Unlock()
		}
	}
}
