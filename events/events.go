// Package events carries session pool lifecycle events to observers. The
// pool publishes best-effort; a Bus implementation decides durability and
// fan-out.
//
// Implementations
//
//	memory : in-process, ordered per topic, for tests and single-process hosts
//	redis  : Redis Streams backed, for fleet-wide observation
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DefaultTopic is the topic the session pool publishes to unless told
// otherwise.
const DefaultTopic = "drmsession"

// Type names a lifecycle transition.
type Type string

const (
	TypeSessionBound  Type = "session.bound"
	TypeSessionReady  Type = "session.ready"
	TypeSessionFailed Type = "session.failed"
	TypeSlotEvicted   Type = "slot.evicted"
	TypePoolCleared   Type = "pool.cleared"
	TypePoolResized   Type = "pool.resized"
)

// Event is one lifecycle transition of the pool.
type Event struct {
	// ID is assigned by the bus on publish and is ignored on input.
	ID        string    `json:"id,omitempty"`
	Type      Type      `json:"type"`
	ManagerID string    `json:"manager_id,omitempty"`
	Slot      int       `json:"slot"`
	SystemID  string    `json:"system_id,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
	KeyIDs    []string  `json:"key_ids,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	PoolSize  int       `json:"pool_size,omitempty"`
	At        time.Time `json:"at"`
}

// Encode serializes ev for transport.
func Encode(ev Event) ([]byte, error) {
	ev.ID = ""
	return json.Marshal(ev)
}

// Decode parses data produced by Encode and stamps it with id.
func Decode(id string, data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	ev.ID = id
	return ev, nil
}

// ErrTopicClosed is returned when publishing or subscribing to a topic that
// has been cleaned up.
var ErrTopicClosed = errors.New("events: topic closed")

// HandlerFunc consumes one event. Returning an error ends the subscription.
type HandlerFunc func(ctx context.Context, ev Event) error

// Publisher accepts events.
type Publisher interface {
	// Publish appends ev to topic and returns the id assigned to it.
	Publish(ctx context.Context, topic string, ev Event) (eventID string, err error)
}

// Bus is a Publisher that can also be consumed.
type Bus interface {
	Publisher

	// Subscribe delivers events on topic to handler, in order, until ctx ends
	// or handler fails. With an empty lastEventID delivery starts at the next
	// published event; otherwise it resumes after lastEventID.
	Subscribe(ctx context.Context, topic string, lastEventID string, handler HandlerFunc) error

	// Cleanup drops every event stored for topic.
	Cleanup(ctx context.Context, topic string) error
}
