package chat

import (
	"context"
	"testing"
	"time"
)

func receive(t *testing.T, sub *Subscription) []byte {
	t.Helper()
	select {
	case payload := <-sub.C:
		return payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHub_BroadcastReachesAllSubscribers(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Stop(context.Background())

	a := hub.Subscribe("42")
	b := hub.Subscribe("42")
	other := hub.Subscribe("7")

	hub.Broadcast("42", []byte("hello"))

	if got := receive(t, a); string(got) != "hello" {
		t.Fatalf("subscriber a got %q", got)
	}
	if got := receive(t, b); string(got) != "hello" {
		t.Fatalf("subscriber b got %q", got)
	}
	select {
	case payload := <-other.C:
		t.Fatalf("channel 7 received %q", payload)
	default:
	}
}

func TestHub_ChannelsAreLazy(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Stop(context.Background())

	// Broadcasting into a channel nobody has touched is a valid no-op.
	hub.Broadcast("unused", []byte("void"))
	if n := hub.SubscriberCount("unused"); n != 0 {
		t.Fatalf("phantom subscribers: %d", n)
	}

	sub := hub.Subscribe("fresh")
	if n := hub.SubscriberCount("fresh"); n != 1 {
		t.Fatalf("subscriber count %d, want 1", n)
	}
	hub.Unsubscribe(sub)
	if n := hub.SubscriberCount("fresh"); n != 0 {
		t.Fatalf("subscriber count after unsubscribe %d, want 0", n)
	}
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Stop(context.Background())

	sub := hub.Subscribe("42")
	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	if _, ok := <-sub.C; ok {
		t.Fatal("subscription channel not closed")
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Stop(context.Background())

	slow := hub.Subscribe("42")
	for i := 0; i < subscriptionBuffer+10; i++ {
		hub.Broadcast("42", []byte("x"))
	}

	// The buffer holds what it holds; the overflow was dropped, not queued.
	if len(slow.C) != subscriptionBuffer {
		t.Fatalf("buffered %d, want %d", len(slow.C), subscriptionBuffer)
	}
}

func TestHub_StopClosesSubscriptions(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe("42")

	if err := hub.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, ok := <-sub.C; ok {
		t.Fatal("subscription survived hub stop")
	}

	// Subscribing after stop yields an already closed subscription.
	late := hub.Subscribe("42")
	if _, ok := <-late.C; ok {
		t.Fatal("late subscription not closed")
	}
	hub.Broadcast("42", []byte("x"))
}
