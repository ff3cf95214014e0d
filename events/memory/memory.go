// Package memory provides an in-process implementation of events.Bus. Events
// are kept in an ordered log per topic until the topic is cleaned up. It is
// suitable for tests and single-process hosts; state is lost on exit.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/drm-session-go/events"
)

// Bus implements events.Bus with in-memory logs.
type Bus struct {
	mu      sync.Mutex
	topics  map[string]*topic
	counter atomic.Int64
}

type topic struct {
	log    []events.Event
	notify chan struct{}
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[string]*topic)}
}

func (b *Bus) ensureLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{notify: make(chan struct{})}
		b.topics[name] = t
	}
	return t
}

// Publish implements events.Publisher.
func (b *Bus) Publish(ctx context.Context, name string, ev events.Event) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ev.ID = strconv.FormatInt(b.counter.Add(1), 10)
	ev.KeyIDs = append([]string(nil), ev.KeyIDs...)

	b.mu.Lock()
	t := b.ensureLocked(name)
	t.log = append(t.log, ev)
	// wake every waiting subscriber
	close(t.notify)
	t.notify = make(chan struct{})
	b.mu.Unlock()

	return ev.ID, nil
}

// Subscribe implements events.Bus.
func (b *Bus) Subscribe(ctx context.Context, name string, lastEventID string, handler events.HandlerFunc) error {
	b.mu.Lock()
	t := b.ensureLocked(name)
	next := len(t.log)
	if lastEventID != "" {
		found := false
		for i := range t.log {
			if t.log[i].ID == lastEventID {
				next = i + 1
				found = true
				break
			}
		}
		if !found {
			b.mu.Unlock()
			return fmt.Errorf("last event id %s not found", lastEventID)
		}
	}
	b.mu.Unlock()

	for {
		b.mu.Lock()
		if t.closed {
			b.mu.Unlock()
			return events.ErrTopicClosed
		}
		var batch []events.Event
		if next < len(t.log) {
			batch = append(batch, t.log[next:]...)
			next = len(t.log)
		}
		wait := t.notify
		b.mu.Unlock()

		for _, ev := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := handler(ctx, ev); err != nil {
				return err
			}
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Cleanup implements events.Bus. Active subscribers end with
// events.ErrTopicClosed.
func (b *Bus) Cleanup(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		return nil
	}
	delete(b.topics, name)
	t.closed = true
	t.log = nil
	close(t.notify)
	t.notify = make(chan struct{})
	return nil
}

// Len returns the number of events retained for topic.
func (b *Bus) Len(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[name]; ok {
		return len(t.log)
	}
	return 0
}

// Events returns a copy of the events retained for topic.
func (b *Bus) Events(name string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		return nil
	}
	return append([]events.Event(nil), t.log...)
}

var _ events.Bus = (*Bus)(nil)
