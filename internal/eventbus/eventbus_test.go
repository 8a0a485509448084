package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribeFiltersByKind(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(OrderPlaced)
	defer unsub()

	b.Publish(Event{Kind: OrderFailed, Data: "x"})
	b.Publish(Event{Kind: OrderPlaced, Data: "y"})

	select {
	case ev := <-ch:
		if ev.Kind != OrderPlaced {
			t.Fatalf("expected only OrderPlaced to be delivered, got %s", ev.Kind)
		}
	default:
		t.Fatalf("expected one delivered event")
	}
	select {
	case ev := <-ch:
		t.Fatalf("expected no second event, got %v", ev)
	default:
	}
}

func TestSubscribeWithNoKindsReceivesEverything(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(Event{Kind: OrderPlaced})
	b.Publish(Event{Kind: TPHit})

	got := map[Kind]bool{}
	for i := 0; i < 2; i++ {
		got[(<-ch).Kind] = true
	}
	if !got[OrderPlaced] || !got[TPHit] {
		t.Fatalf("expected both kinds delivered, got %v", got)
	}
}

func TestPublishDeliversInOrderPerSubscriber(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(SLMoved)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Kind: SLMoved, Data: i})
	}
	for i := 0; i < 5; i++ {
		ev := <-ch
		if ev.Data.(int) != i {
			t.Fatalf("event %d arrived out of order: got Data=%v", i, ev.Data)
		}
	}
}

func TestPublishNeverBlocksOnAFullSlowSubscriber(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(Overflow) // never drained
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(Event{Kind: Overflow, Data: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on a full, undrained subscriber buffer")
	}
}

func TestUnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(PositionClosed)
	unsub()

	b.Publish(Event{Kind: PositionClosed})

	_, open := <-ch
	if open {
		t.Fatalf("expected the channel to be closed after Unsubscribe")
	}
}

func TestMultipleSubscribersEachGetTheirOwnCopy(t *testing.T) {
	b := New()
	ch1, unsub1 := b.Subscribe(IntentCreated)
	defer unsub1()
	ch2, unsub2 := b.Subscribe(IntentCreated)
	defer unsub2()

	b.Publish(Event{Kind: IntentCreated, Data: "once"})

	var wg sync.WaitGroup
	wg.Add(2)
	var got1, got2 Event
	go func() { defer wg.Done(); got1 = <-ch1 }()
	go func() { defer wg.Done(); got2 = <-ch2 }()
	wg.Wait()

	if got1.Data != "once" || got2.Data != "once" {
		t.Fatalf("both subscribers should receive the published event independently")
	}
}
