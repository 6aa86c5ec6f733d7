// Package events provides the per-task live event stream.
//
// The Bus fans out events to in-process subscribers; the Publisher
// pairs it with the store's durable log so that every live delivery is
// preceded by a durable append carrying the assigned sequence id.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/execd/pkg/models"
)

// DefaultSubscriberBuffer is the per-subscriber queue depth.
const DefaultSubscriberBuffer = 256

// Subscription is one subscriber's bounded queue of live events.
// When the subscriber falls behind, the queue overflows: the channel
// closes and Overflowed reports true. Overflow never blocks the
// publisher and never affects other subscribers; the subscriber
// recovers by replaying the durable log and resubscribing.
type Subscription struct {
	ch         chan *models.TaskEvent
	overflowed atomic.Bool
	detach     func(overflow bool)
}

// Events returns the receive side of the subscription queue. The
// channel closes on Close or overflow.
func (s *Subscription) Events() <-chan *models.TaskEvent {
	return s.ch
}

// Overflowed reports whether the subscription was closed because the
// subscriber lagged behind the publisher.
func (s *Subscription) Overflowed() bool {
	return s.overflowed.Load()
}

// Close detaches the subscription from the bus. Closing twice, or
// closing a subscription the bus already dropped for overflow, is a
// no-op.
func (s *Subscription) Close() {
	s.detach(false)
}

// Bus is an in-memory per-task event fan-out.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]*Subscription
	nextID int64
	buffer int
}

// NewBus creates a Bus with the given per-subscriber buffer depth;
// zero or negative selects DefaultSubscriberBuffer.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Bus{
		subs:   make(map[string]map[int64]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a listener for one task's live events.
func (b *Bus) Subscribe(taskID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &Subscription{ch: make(chan *models.TaskEvent, b.buffer)}
	sub.detach = func(overflow bool) { b.detach(taskID, id, overflow) }

	if b.subs[taskID] == nil {
		b.subs[taskID] = make(map[int64]*Subscription)
	}
	b.subs[taskID][id] = sub
	return sub
}

// Publish delivers the event to all current subscribers of the task.
// Delivery order per subscriber equals publish order. Slow subscribers
// are dropped rather than blocking the publisher.
func (b *Bus) Publish(taskID string, event *models.TaskEvent) {
	// Sends happen under the read lock, which the write lock in detach
	// excludes, so a channel can never close mid-send.
	b.mu.RLock()
	var overflowed []int64
	for id, sub := range b.subs[taskID] {
		select {
		case sub.ch <- event:
		default:
			overflowed = append(overflowed, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range overflowed {
		b.detach(taskID, id, true)
	}
}

// SubscriberCount returns the number of live subscribers for a task.
func (b *Bus) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[taskID])
}

// detach removes a subscription and closes its channel. The close
// happens under the write lock so it cannot race a send in Publish;
// a subscription already detached is a no-op, so Close and an
// overflow drop can never double-close.
func (b *Bus) detach(taskID string, id int64, overflow bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.subs[taskID]
	sub, ok := m[id]
	if !ok {
		return
	}
	delete(m, id)
	if len(m) == 0 {
		delete(b.subs, taskID)
	}
	if overflow {
		sub.overflowed.Store(true)
	}
	close(sub.ch)
}
