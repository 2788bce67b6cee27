package bus

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishAssignsMonotonicSeq(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1")
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		if _, err := b.Publish("s1", "tick", i); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	var last uint64
	for i := 0; i < 5; i++ {
		select {
		case env := <-sub.C():
			if env.Seq != last+1 {
				t.Fatalf("expected seq %d, got %d", last+1, env.Seq)
			}
			last = env.Seq
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for envelope")
		}
	}
}

func TestPublishUnknownSessionReturnsErrSessionGone(t *testing.T) {
	b := New()
	_, err := b.Publish("ghost", "tick", nil)
	if err != ErrSessionGone {
		t.Fatalf("expected ErrSessionGone, got %v", err)
	}
}

func TestMultipleSubscribersSeeSameOrder(t *testing.T) {
	b := New()
	subA := b.Subscribe("s1")
	subB := b.Subscribe("s1")
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()

	for i := 0; i < 3; i++ {
		b.Publish("s1", "tick", i)
	}

	for i := 0; i < 3; i++ {
		a := <-subA.C()
		b := <-subB.C()
		if a.Seq != b.Seq {
			t.Fatalf("subscribers disagree on seq: %d vs %d", a.Seq, b.Seq)
		}
	}
}

func TestOverflowDropsOldestWithoutBlocking(t *testing.T) {
	b := New(WithQueueSize(2))
	sub := b.Subscribe("s1")
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish("s1", "tick", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber queue")
	}

	// Drain: whatever remains should still be in increasing seq order.
	var last uint64
	for {
		select {
		case env := <-sub.C():
			if env.Seq <= last {
				t.Fatalf("out-of-order after overflow: %d after %d", env.Seq, last)
			}
			last = env.Seq
		default:
			return
		}
	}
}

func TestUnsubscribeRemovesQueue(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1")
	sub.Unsubscribe()
	b.Publish("s1", "tick", nil) // must not panic or deadlock

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("unsubscribed queue should not receive further events")
		}
	default:
	}
}
