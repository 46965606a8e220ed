package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeOrdering(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(context.Background(), "exec-1")
	defer unsubscribe()

	b.Publish(Event{ID: "exec-1", Type: "started"})
	b.Publish(Event{ID: "exec-1", Type: "step:started"})
	b.Publish(Event{ID: "exec-1", Type: "completed"})

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case ev := <-ch:
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, []string{"started", "step:started", "completed"}, got)
}

func TestSubscribersAreFilteredByID(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(context.Background(), "exec-1")
	defer unsubscribe()

	b.Publish(Event{ID: "exec-2", Type: "started"})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event delivered to unrelated subscriber: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(context.Background(), "exec-1")
	unsubscribe()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount("exec-1"))
}

func TestContextCancelUnsubscribes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := New()
	_, _ = b.Subscribe(ctx, "exec-1")
	require.Equal(t, 1, b.SubscriberCount("exec-1"))

	cancel()
	assert.Eventually(t, func() bool {
		return b.SubscriberCount("exec-1") == 0
	}, time.Second, 5*time.Millisecond)
}
