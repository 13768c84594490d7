package mapstream

import (
	"context"
	"testing"
	"time"
)

func TestBusFanOut(t *testing.T) {
	t.Parallel()
	b := NewBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	first := b.Subscribe(ctx, 1)
	second := b.Subscribe(context.Background(), 1)

	b.Publish(Event{Generation: 7, Tracks: 2, Points: 10})
	for i, ch := range []<-chan Event{first, second} {
		select {
		case e := <-ch:
			if e.Generation != 7 || e.Tracks != 2 {
				t.Fatalf("listener %d got %+v", i, e)
			}
		case <-time.After(time.Second):
			t.Fatalf("listener %d got nothing", i)
		}
	}

	cancel()
	select {
	case _, ok := <-first:
		if ok {
			t.Fatalf("canceled listener still open")
		}
	case <-time.After(time.Second):
		t.Fatalf("canceled listener not closed")
	}

	var nilBus *Bus
	nilBus.Publish(Event{})
}
