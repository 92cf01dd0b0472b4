// Package events fans task events out to live subscribers.
//
// The store is the source of truth for event history; the broker only
// carries the live feed. Slow subscribers lose events rather than
// stall the engine, so stream consumers replay from the store first
// and use the feed for the tail.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/golemhq/golem/pkg/models"
)

// Notification pairs an event with the task it belongs to.
type Notification struct {
	TaskID string       `json:"taskId"`
	Event  models.Event `json:"event"`
}

// Subscriber is a channel receiving notifications.
type Subscriber chan Notification

// Broker manages subscriptions and event distribution.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]string
	feed        chan Notification
	stopCh      chan struct{}
	stopOnce    sync.Once
	dropped     atomic.Uint64
}

// NewBroker creates a broker. Call Start before publishing.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]string),
		feed:        make(chan Notification, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop shuts the broker down. Pending notifications are dropped.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe returns a channel receiving events for one task, or for
// all tasks when taskID is empty.
func (b *Broker) Subscribe(taskID string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = taskID
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish queues an event for distribution. Never blocks the caller
// beyond the feed buffer.
func (b *Broker) Publish(taskID string, event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case b.feed <- Notification{TaskID: taskID, Event: event}:
	case <-b.stopCh:
	}
}

// SubscriberCount reports active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped reports how many notifications were discarded because a
// subscriber's buffer was full.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Broker) run() {
	for {
		select {
		case n := <-b.feed:
			b.broadcast(n)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, filter := range b.subscribers {
		if filter != "" && filter != n.TaskID {
			continue
		}
		select {
		case sub <- n:
		default:
			// Subscriber buffer full, drop.
			b.dropped.Add(1)
		}
	}
}
