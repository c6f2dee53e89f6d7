package eventbus_test

import (
	"testing"
	"time"

	"quizbot/internal/eventbus"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()

	b := eventbus.New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(eventbus.Event{Type: "a", Data: 1})
	b.Publish(eventbus.Event{Type: "b", Data: 2})

	ev := <-ch
	if ev.Type != "a" || ev.Data != 1 {
		t.Fatalf("first event = %+v", ev)
	}
	if ev.Time.IsZero() {
		t.Error("Publish did not stamp the event time")
	}
	ev = <-ch
	if ev.Type != "b" {
		t.Fatalf("second event = %+v", ev)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	b := eventbus.New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(eventbus.Event{Type: "x"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := eventbus.New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(eventbus.Event{Type: "late"})
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	t.Parallel()

	b := eventbus.New()
	ch1, u1 := b.Subscribe(1)
	ch2, u2 := b.Subscribe(1)
	defer u1()
	defer u2()

	b.Publish(eventbus.Event{Type: "fanout"})

	for i, ch := range []<-chan eventbus.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != "fanout" {
				t.Errorf("subscriber %d got %+v", i, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}
