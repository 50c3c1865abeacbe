/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package valentine

import (
	"sync"
)

// Publisher receives every committed change. Broker delivers in process;
// redisfeed.Relay forwards through Redis to every instance's Broker.
type Publisher interface {
	Publish(rec Record)
	PublishCount(total int64)
}

// Subscription delivers full snapshots of one record, in commit order.
// Snapshots that would move the status backwards are dropped, so a reader
// of C never sees the lifecycle regress.
type Subscription struct {
	id     string
	send   chan Record
	broker *Broker

	// guarded by broker.mu
	last   Status
	closed bool
}

func (s *Subscription) ID() string {
	return s.id
}

// C is closed on Cancel, on broker shutdown, or when the subscriber fell so
// far behind that its buffer filled; re-fetch and resubscribe in that case.
func (s *Subscription) C() <-chan Record {
	return s.send
}

func (s *Subscription) Cancel() {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	s.broker.dropLocked(s)
}

// CountSubscription delivers the running total of records after each create.
type CountSubscription struct {
	send   chan int64
	broker *Broker
	closed bool
}

func (s *CountSubscription) C() <-chan int64 {
	return s.send
}

func (s *CountSubscription) Cancel() {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	s.broker.dropCountLocked(s)
}

// Broker fans snapshots out to every subscriber of a record id.
type Broker struct {
	mu     sync.Mutex
	buffer int
	subs   map[string]map[*Subscription]bool
	counts map[*CountSubscription]bool
	closed bool
}

func NewBroker(buffer int) *Broker {
	if buffer < 1 {
		buffer = 1
	}

	return &Broker{
		buffer: buffer,
		subs:   make(map[string]map[*Subscription]bool),
		counts: make(map[*CountSubscription]bool),
	}
}

func (b *Broker) Subscribe(id string) *Subscription {
	s := &Subscription{
		id:     id,
		send:   make(chan Record, b.buffer),
		broker: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.closed = true
		close(s.send)
		return s
	}

	if b.subs[id] == nil {
		b.subs[id] = make(map[*Subscription]bool)
	}
	b.subs[id][s] = true

	return s
}

func (b *Broker) SubscribeCount() *CountSubscription {
	s := &CountSubscription{
		send:   make(chan int64, b.buffer),
		broker: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.closed = true
		close(s.send)
		return s
	}

	b.counts[s] = true

	return s
}

// Subscribers returns how many subscriptions are open for id.
func (b *Broker) Subscribers(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs[id])
}

func (b *Broker) Publish(rec Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs[rec.ID] {
		if rec.Status.Before(s.last) {
			continue
		}

		select {
		case s.send <- rec.Clone():
			s.last = rec.Status
		default:
			b.dropLocked(s)
		}
	}
}

func (b *Broker) PublishCount(total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.counts {
		select {
		case s.send <- total:
		default:
			b.dropCountLocked(s)
		}
	}
}

// Close ends every subscription. Later subscriptions are born closed.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	for _, set := range b.subs {
		for s := range set {
			b.dropLocked(s)
		}
	}
	for s := range b.counts {
		b.dropCountLocked(s)
	}
}

func (b *Broker) dropLocked(s *Subscription) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)

	set := b.subs[s.id]
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, s.id)
	}
}

func (b *Broker) dropCountLocked(s *CountSubscription) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
	delete(b.counts, s)
}
