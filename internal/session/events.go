// ABOUTME: Typed publish/subscribe channel for session lifecycle events.
// ABOUTME: Delivers events to each subscriber in publish order with explicit unsubscribe handles.

package session

import (
	"sync"

	"github.com/verity-ai/verity/internal/provider"
)

// EventType identifies a session lifecycle notification.
type EventType string

const (
	// EventInitialSession is delivered once when a persisted session is
	// restored (or found absent) at startup.
	EventInitialSession EventType = "INITIAL_SESSION"
	// EventSignedIn is delivered after a successful sign-in or
	// auto-confirmed signup.
	EventSignedIn EventType = "SIGNED_IN"
	// EventSignedOut is delivered when the session is destroyed.
	EventSignedOut EventType = "SIGNED_OUT"
	// EventTokenRefreshed is delivered when the access token is renewed.
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	// EventUserUpdated is delivered when the user record changes without a
	// new sign-in (e.g. password update).
	EventUserUpdated EventType = "USER_UPDATED"
)

// Event is one session lifecycle notification. Session is nil for
// EventSignedOut and for an EventInitialSession with no persisted session.
type Event struct {
	Type    EventType
	Session *provider.Session
}

// subscriberBuffer sizes each subscriber's channel. Publish blocks when a
// buffer is full, so subscribers must drain promptly or unsubscribe.
const subscriberBuffer = 16

// subscriber pairs the delivery channel with a departure marker. Closing
// done unblocks any publisher waiting on a full buffer, so unsubscribing
// never deadlocks against an in-progress publish.
type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Channel fans session events out to subscribers. Events are delivered to
// every subscriber in publish order; publish order matches provider
// operation order because all publishers go through the session Manager.
type Channel struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// NewChannel creates an empty event channel.
func NewChannel() *Channel {
	return &Channel{subs: make(map[int]*subscriber)}
}

// Subscribe registers a new subscriber. The returned func removes the
// subscription and closes the event channel; it is safe to call more than
// once, and from a goroutine that has stopped draining.
func (c *Channel) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++

	sub := &subscriber{
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}
	if c.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	c.subs[id] = sub

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			// Mark departure first: a publisher blocked on this
			// subscriber's full buffer holds the mutex and must be
			// released before it can be taken here.
			close(sub.done)
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub.ch)
			}
		})
	}
	return sub.ch, unsubscribe
}

// Publish delivers an event to all current subscribers. The mutex is held
// across the fan-out so concurrent publishers cannot interleave event order
// between subscribers; a subscriber that unsubscribes mid-publish is skipped.
func (c *Channel) Publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	for _, sub := range c.subs {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
	}
}

// Close shuts the channel down and closes all subscriber channels. Further
// publishes are dropped.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for id, sub := range c.subs {
		delete(c.subs, id)
		close(sub.ch)
	}
}
