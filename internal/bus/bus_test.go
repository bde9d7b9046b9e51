package bus

import (
	"fmt"
	"testing"
	"time"
)

func recvOne(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe(KindStreamFragment)
	defer sub.Close()

	const n = 200
	for i := 0; i < n; i++ {
		b.Publish(Event{Kind: KindStreamFragment, StreamFragment: &StreamFragment{
			ConversationID: "c1", Text: fmt.Sprintf("%d", i),
		}})
	}
	for i := 0; i < n; i++ {
		ev := recvOne(t, sub)
		if got := ev.StreamFragment.Text; got != fmt.Sprintf("%d", i) {
			t.Fatalf("event %d out of order: got %q", i, got)
		}
	}
}

func TestSlowSubscriberDoesNotDropEvents(t *testing.T) {
	b := New()
	sub := b.Subscribe(KindInbound)
	defer sub.Close()

	// Publish far more events than any channel buffer before reading one.
	const n = 500
	for i := 0; i < n; i++ {
		b.Publish(Event{Kind: KindInbound, Inbound: &Inbound{ConversationID: "c", Content: "x"}})
	}
	for i := 0; i < n; i++ {
		recvOne(t, sub)
	}
}

func TestKindFiltering(t *testing.T) {
	b := New()
	frag := b.Subscribe(KindStreamFragment)
	all := b.Subscribe()
	defer frag.Close()
	defer all.Close()

	b.Publish(Event{Kind: KindStreamEnd, StreamEnd: &StreamEnd{ConversationID: "c"}})
	b.Publish(Event{Kind: KindStreamFragment, StreamFragment: &StreamFragment{ConversationID: "c", Text: "hi"}})

	ev := recvOne(t, frag)
	if ev.Kind != KindStreamFragment {
		t.Fatalf("filtered subscriber got %s", ev.Kind)
	}
	if ev := recvOne(t, all); ev.Kind != KindStreamEnd {
		t.Fatalf("unfiltered subscriber: expected stream end first, got %s", ev.Kind)
	}
	if ev := recvOne(t, all); ev.Kind != KindStreamFragment {
		t.Fatalf("unfiltered subscriber: expected fragment second, got %s", ev.Kind)
	}
}

func TestPublishStampsIDAndTime(t *testing.T) {
	b := New()
	sub := b.Subscribe(KindAssistant)
	defer sub.Close()

	out := b.Publish(Event{Kind: KindAssistant, Assistant: &Assistant{ConversationID: "c", Content: "ok"}})
	if out.ID == "" || out.At.IsZero() {
		t.Fatalf("event not stamped: %+v", out)
	}
	got := recvOne(t, sub)
	if got.ID != out.ID {
		t.Fatalf("delivered id %q != published id %q", got.ID, out.ID)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe(KindInbound)
	sub.Close()

	b.Publish(Event{Kind: KindInbound, Inbound: &Inbound{ConversationID: "c", Content: "x"}})

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("received event on closed subscription")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after Close")
	}
}
