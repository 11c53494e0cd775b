// ABOUTME: Tests for the session event channel's fan-out semantics.
// ABOUTME: Verifies per-subscriber ordering, unsubscribe idempotency, and close behavior.

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_Subscribe_ReceivesInPublishOrder(t *testing.T) {
	c := NewChannel()
	defer c.Close()

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	published := []EventType{EventInitialSession, EventSignedIn, EventTokenRefreshed, EventSignedOut}
	for _, typ := range published {
		c.Publish(Event{Type: typ})
	}

	for _, want := range published {
		got := <-events
		assert.Equal(t, want, got.Type)
	}
}

func TestChannel_Publish_FansOutToAllSubscribers(t *testing.T) {
	c := NewChannel()
	defer c.Close()

	a, unsubA := c.Subscribe()
	defer unsubA()
	b, unsubB := c.Subscribe()
	defer unsubB()

	c.Publish(Event{Type: EventSignedIn})

	assert.Equal(t, EventSignedIn, (<-a).Type)
	assert.Equal(t, EventSignedIn, (<-b).Type)
}

func TestChannel_Unsubscribe_StopsDelivery(t *testing.T) {
	c := NewChannel()
	defer c.Close()

	events, unsubscribe := c.Subscribe()
	unsubscribe()

	c.Publish(Event{Type: EventSignedIn})

	_, open := <-events
	assert.False(t, open, "unsubscribed channel is closed")
}

func TestChannel_Unsubscribe_Idempotent(t *testing.T) {
	c := NewChannel()
	defer c.Close()

	_, unsubscribe := c.Subscribe()
	unsubscribe()
	assert.NotPanics(t, func() { unsubscribe() })
}

func TestChannel_Close_ClosesSubscribersAndDropsPublishes(t *testing.T) {
	c := NewChannel()

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	c.Close()

	_, open := <-events
	assert.False(t, open)

	assert.NotPanics(t, func() { c.Publish(Event{Type: EventSignedIn}) })
	assert.NotPanics(t, func() { c.Close() })
}

func TestChannel_Subscribe_AfterClose(t *testing.T) {
	c := NewChannel()
	c.Close()

	events, unsubscribe := c.Subscribe()
	_, open := <-events
	assert.False(t, open, "subscriptions on a closed channel are born closed")
	assert.NotPanics(t, func() { unsubscribe() })
}

func TestChannel_Unsubscribe_ReleasesBlockedPublisher(t *testing.T) {
	c := NewChannel()
	defer c.Close()

	_, stalled := c.Subscribe()
	live, unsubLive := c.Subscribe()
	defer unsubLive()

	// Fill the stalled subscriber's buffer, then block one more publish on it
	for range subscriberBuffer {
		c.Publish(Event{Type: EventTokenRefreshed})
	}
	for range subscriberBuffer {
		<-live
	}
	published := make(chan struct{})
	go func() {
		c.Publish(Event{Type: EventSignedIn})
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("publish should block on the full buffer")
	case <-time.After(20 * time.Millisecond):
	}

	// The subscriber that stopped draining must still be able to leave,
	// and leaving must unwedge the publisher
	stalled()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("unsubscribe did not release the blocked publisher")
	}

	// Delivery to the healthy subscriber is unaffected
	ev := <-live
	assert.Equal(t, EventSignedIn, ev.Type)
}

func TestChannel_ConcurrentPublish_NoInterleaveLoss(t *testing.T) {
	c := NewChannel()
	defer c.Close()

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	const publishers = 4
	const perPublisher = 4

	var wg sync.WaitGroup
	for range publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perPublisher {
				c.Publish(Event{Type: EventTokenRefreshed})
			}
		}()
	}
	wg.Wait()

	for i := 0; i < publishers*perPublisher; i++ {
		ev, open := <-events
		require.True(t, open)
		require.Equal(t, EventTokenRefreshed, ev.Type)
	}
}
