package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	c1, u1 := b.Subscribe(4)
	defer u1()
	c2, u2 := b.Subscribe(4)
	defer u2()

	b.Publish(Event{Type: TickStarted, Data: "t1"})

	for i, ch := range []<-chan Event{c1, c2} {
		select {
		case e := <-ch:
			if e.Type != TickStarted || e.Data != "t1" {
				t.Fatalf("sub %d: unexpected event %+v", i, e)
			}
			if e.Time.IsZero() {
				t.Fatalf("sub %d: expected time to be stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d: no event", i)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // dropped, must not block

	if e := <-ch; e.Type != "a" {
		t.Fatalf("got %s, want a", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %s", e.Type)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	b.Publish(Event{Type: "after"})
}
