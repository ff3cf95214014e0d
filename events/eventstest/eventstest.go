// Package eventstest holds a conformance suite every events.Bus
// implementation is expected to pass.
package eventstest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/drm-session-go/events"
)

// BusFactory creates a new bus instance for testing.
type BusFactory func(t *testing.T) events.Bus

// RunEventBusTests runs the complete suite against the provided factory.
func RunEventBusTests(t *testing.T, factory BusFactory) {
	t.Run("PublishAndSubscribeFromNext", func(t *testing.T) { testPublishAndSubscribeFromNext(t, factory) })
	t.Run("ResumeFromLastEventID", func(t *testing.T) { testResumeFromLastEventID(t, factory) })
	t.Run("MultipleSubscribersSeeEveryEvent", func(t *testing.T) { testMultipleSubscribers(t, factory) })
	t.Run("TopicIsolation", func(t *testing.T) { testTopicIsolation(t, factory) })
	t.Run("ContextCancellationStopsSubscription", func(t *testing.T) { testContextCancellation(t, factory) })
	t.Run("HandlerErrorStopsSubscription", func(t *testing.T) { testHandlerError(t, factory) })
	t.Run("OrderingPreserved", func(t *testing.T) { testOrdering(t, factory) })
}

func uniqueTopic(name string) string {
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
}

func cleanup(t *testing.T, b events.Bus, topic string) {
	t.Helper()
	if err := b.Cleanup(context.Background(), topic); err != nil {
		t.Logf("cleanup %s: %v", topic, err)
	}
}

func sampleEvent(slot int) events.Event {
	return events.Event{
		Type:      events.TypeSessionReady,
		Slot:      slot,
		SystemID:  "edef8ba9-79d6-4ace-a3c8-27dcd51d21ed",
		MediaType: "video",
		KeyIDs:    []string{fmt.Sprintf("6b%02d", slot)},
		At:        time.Now().UTC().Truncate(time.Millisecond),
	}
}

// collect subscribes in the background and returns a function that waits for
// n events or fails the test.
func collect(t *testing.T, ctx context.Context, b events.Bus, topic, last string, n int) func() []events.Event {
	t.Helper()
	ctx, cancel := context.WithCancel(ctx)
	var mu sync.Mutex
	var got []events.Event
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, topic, last, func(ctx context.Context, ev events.Event) error {
			mu.Lock()
			got = append(got, ev)
			full := len(got) >= n
			mu.Unlock()
			if full {
				cancel()
			}
			return nil
		})
	}()
	return func() []events.Event {
		t.Helper()
		defer cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Fatalf("subscribe returned: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("subscription did not complete within timeout")
		}
		mu.Lock()
		defer mu.Unlock()
		return append([]events.Event(nil), got...)
	}
}

func testPublishAndSubscribeFromNext(t *testing.T, factory BusFactory) {
	b := factory(t)
	topic := uniqueTopic("next")
	defer cleanup(t, b, topic)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := b.Publish(ctx, topic, sampleEvent(9)); err != nil {
		t.Fatalf("publish before subscribe: %v", err)
	}

	wait := collect(t, ctx, b, topic, "", 1)
	time.Sleep(100 * time.Millisecond)

	want := sampleEvent(1)
	id, err := b.Publish(ctx, topic, want)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty event id")
	}

	got := wait()
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].ID != id {
		t.Fatalf("expected id %s, got %s", id, got[0].ID)
	}
	if got[0].Slot != want.Slot || got[0].Type != want.Type || len(got[0].KeyIDs) != 1 || got[0].KeyIDs[0] != want.KeyIDs[0] {
		t.Fatalf("event mismatch: %+v", got[0])
	}
	if !got[0].At.Equal(want.At) {
		t.Fatalf("timestamp mismatch: %v vs %v", got[0].At, want.At)
	}
}

func testResumeFromLastEventID(t *testing.T, factory BusFactory) {
	b := factory(t)
	topic := uniqueTopic("resume")
	defer cleanup(t, b, topic)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id1, err := b.Publish(ctx, topic, sampleEvent(1))
	if err != nil {
		t.Fatalf("publish 1: %v", err)
	}
	id2, err := b.Publish(ctx, topic, sampleEvent(2))
	if err != nil {
		t.Fatalf("publish 2: %v", err)
	}

	got := collect(t, ctx, b, topic, id1, 1)()
	if len(got) != 1 || got[0].ID != id2 || got[0].Slot != 2 {
		t.Fatalf("expected to resume with event %s, got %+v", id2, got)
	}
}

func testMultipleSubscribers(t *testing.T, factory BusFactory) {
	b := factory(t)
	topic := uniqueTopic("fanout")
	defer cleanup(t, b, topic)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w1 := collect(t, ctx, b, topic, "", 2)
	w2 := collect(t, ctx, b, topic, "", 2)
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if _, err := b.Publish(ctx, topic, sampleEvent(i)); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	if got := w1(); len(got) != 2 {
		t.Fatalf("subscriber 1 expected 2 events, got %d", len(got))
	}
	if got := w2(); len(got) != 2 {
		t.Fatalf("subscriber 2 expected 2 events, got %d", len(got))
	}
}

func testTopicIsolation(t *testing.T, factory BusFactory) {
	b := factory(t)
	a, other := uniqueTopic("iso-a"), uniqueTopic("iso-b")
	defer cleanup(t, b, a)
	defer cleanup(t, b, other)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wait := collect(t, ctx, b, a, "", 1)
	time.Sleep(100 * time.Millisecond)

	if _, err := b.Publish(ctx, other, sampleEvent(7)); err != nil {
		t.Fatalf("publish other: %v", err)
	}
	if _, err := b.Publish(ctx, a, sampleEvent(3)); err != nil {
		t.Fatalf("publish a: %v", err)
	}

	got := wait()
	if len(got) != 1 || got[0].Slot != 3 {
		t.Fatalf("expected only the event for topic a, got %+v", got)
	}
}

func testContextCancellation(t *testing.T, factory BusFactory) {
	b := factory(t)
	topic := uniqueTopic("cancel")
	defer cleanup(t, b, topic)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, topic, "", func(ctx context.Context, ev events.Event) error { return nil })
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscription did not stop after cancellation")
	}
}

func testHandlerError(t *testing.T, factory BusFactory) {
	b := factory(t)
	topic := uniqueTopic("handler-err")
	defer cleanup(t, b, topic)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	boom := errors.New("boom")
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, topic, "", func(ctx context.Context, ev events.Event) error { return boom })
	}()
	time.Sleep(100 * time.Millisecond)

	if _, err := b.Publish(ctx, topic, sampleEvent(1)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("expected handler error, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscription did not stop on handler error")
	}
}

func testOrdering(t *testing.T, factory BusFactory) {
	b := factory(t)
	topic := uniqueTopic("order")
	defer cleanup(t, b, topic)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const n = 20
	wait := collect(t, ctx, b, topic, "", n)
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < n; i++ {
		if _, err := b.Publish(ctx, topic, sampleEvent(i)); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	got := wait()
	if len(got) != n {
		t.Fatalf("expected %d events, got %d", n, len(got))
	}
	for i, ev := range got {
		if ev.Slot != i {
			t.Fatalf("event %d out of order: slot %d", i, ev.Slot)
		}
	}
}
