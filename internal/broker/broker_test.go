package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/roach88/specmut/internal/mutation"
)

func event(seq int64) mutation.StatusEvent {
	return mutation.StatusEvent{
		ID:        fmt.Sprintf("ev-%d", seq),
		Subject:   mutation.SubjectMutation,
		SubjectID: "mut-1",
		Status:    "executing",
		Seq:       seq,
	}
}

func TestDeliveryInOrder(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe(8)

	for i := int64(1); i <= 3; i++ {
		b.Publish(event(i))
	}

	for want := int64(1); want <= 3; want++ {
		n, ok := sub.TryNext()
		if !ok || n.Resync {
			t.Fatalf("notice %d: got %+v, ok=%v", want, n, ok)
		}
		if n.Event.Seq != want {
			t.Fatalf("seq = %d, want %d", n.Event.Seq, want)
		}
	}
	if _, ok := sub.TryNext(); ok {
		t.Fatal("expected drained buffer")
	}
}

func TestFanout(t *testing.T) {
	b := New()
	defer b.Close()
	a := b.Subscribe(4)
	c := b.Subscribe(4)

	b.Publish(event(1))

	for _, sub := range []*Subscription{a, c} {
		n, ok := sub.TryNext()
		if !ok || n.Event.Seq != 1 {
			t.Fatalf("subscriber missed the event: %+v ok=%v", n, ok)
		}
	}
}

func TestOverflowYieldsResyncMarker(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe(2)

	for i := int64(1); i <= 5; i++ {
		b.Publish(event(i))
	}

	n, ok := sub.TryNext()
	if !ok || !n.Resync {
		t.Fatalf("expected resync marker first, got %+v ok=%v", n, ok)
	}

	// Buffered events were dropped with the overflow; the marker tells
	// the subscriber to replay from the log instead.
	if extra, ok := sub.TryNext(); ok {
		t.Fatalf("expected empty buffer after resync, got %+v", extra)
	}

	// Delivery resumes once the marker is consumed.
	b.Publish(event(6))
	n, ok = sub.TryNext()
	if !ok || n.Resync || n.Event.Seq != 6 {
		t.Fatalf("expected seq 6 after resync, got %+v ok=%v", n, ok)
	}
}

func TestNextBlocksUntilPublish(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe(4)

	done := make(chan mutation.StatusEvent, 1)
	go func() {
		n, ok, err := sub.Next(context.Background())
		if err != nil || !ok {
			return
		}
		done <- n.Event
	}()

	time.Sleep(10 * time.Millisecond)
	b.Publish(event(7))

	select {
	case ev := <-done:
		if ev.Seq != 7 {
			t.Fatalf("seq = %d, want 7", ev.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on publish")
	}
}

func TestNextHonorsContext(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe(4)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := sub.Next(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestCloseWakesWaiter(t *testing.T) {
	b := New()
	sub := b.Subscribe(4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok, err := sub.Next(context.Background()); ok || err != nil {
			t.Errorf("Next after close: ok=%v err=%v", ok, err)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestUnsubscribedMissesLaterEvents(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe(4)
	sub.Close()

	b.Publish(event(1))
	if n, ok := sub.TryNext(); ok {
		t.Fatalf("closed subscription received %+v", n)
	}
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe(1024)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Publish(event(int64(g*100 + i)))
			}
		}(g)
	}
	wg.Wait()

	seen := 0
	for {
		n, ok := sub.TryNext()
		if !ok {
			break
		}
		if n.Resync {
			t.Fatal("unexpected resync with sufficient capacity")
		}
		seen++
	}
	if seen != 800 {
		t.Fatalf("delivered %d events, want 800", seen)
	}
}
