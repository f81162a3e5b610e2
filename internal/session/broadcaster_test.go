// ABOUTME: Tests for the run event Broadcaster
// ABOUTME: Covers fan-out, isolation between runs, slow subscribers, and cleanup

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepEvent(runID string, seq int) *Event {
	return &Event{Type: EventStep, RunID: runID, Seq: seq, Node: "solver", Time: time.Now()}
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "run-1")
	ch2, _ := b.Subscribe(t.Context(), "run-1")
	other, _ := b.Subscribe(t.Context(), "run-2")

	b.Publish("run-1", stepEvent("run-1", 1))

	for _, ch := range []<-chan *Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, 1, ev.Seq)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	select {
	case ev := <-other:
		t.Fatalf("run-2 subscriber got event for %s", ev.RunID)
	default:
	}
}

func TestBroadcaster_SlowSubscriberDrops(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "run-1")
	for i := 1; i <= subscriberBufferSize+10; i++ {
		b.Publish("run-1", stepEvent("run-1", i))
	}

	assert.Len(t, ch, subscriberBufferSize)
	first := <-ch
	assert.Equal(t, 1, first.Seq, "oldest buffered events are kept")
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "run-1")
	assert.Equal(t, 1, b.SubscriberCount("run-1"))

	b.Unsubscribe("run-1", subID)
	b.Unsubscribe("run-1", subID)
	assert.Equal(t, 0, b.SubscriberCount("run-1"))

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing with no subscribers is a no-op
	b.Publish("run-1", stepEvent("run-1", 1))
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "run-1")
	cancel()

	require.Eventually(t, func() bool {
		return b.SubscriberCount("run-1") == 0
	}, time.Second, 5*time.Millisecond)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcaster_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		ch, _ := b.Subscribe(ctx, "run-1")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish("run-1", stepEvent("run-1", j))
			}
			cancel()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, b.SubscriberCount("run-1"))
}

func TestBroadcaster_CloseClosesAll(t *testing.T) {
	b := NewBroadcaster(nil)
	ch1, _ := b.Subscribe(t.Context(), "run-1")
	ch2, _ := b.Subscribe(t.Context(), "run-2")

	b.Close()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)
}
