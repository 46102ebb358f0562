// Package eventbus implements the Event Bus: in-process publish/subscribe
// keyed by event name, with per-subscriber bounded buffers and
// oldest-drop overflow.
//
// The broadcast-with-drop mechanics mirror a per-client buffered
// channel hub: a slow subscriber drops the oldest buffered event rather
// than blocking the publisher.
package eventbus

import (
	"sync"
	"time"
)

// Name is one of the fixed event names the bus carries.
type Name string

const (
	StatusUpdated   Name = "status.updated"
	BacklogUpdated  Name = "backlog.updated"
	FeatureUpdated  Name = "feature.updated"
	SessionStarted  Name = "session.started"
	SessionEnded    Name = "session.ended"
	CostUpdate      Name = "cost.update"
	ProgressUpdate  Name = "progress.update"
	AlertCreated    Name = "alert.created"
)

// Event is one published message.
type Event struct {
	Name      Name
	Data      any
	Timestamp time.Time
}

const defaultBufferSize = 64

// Bus is a typed in-process pub/sub. A slow subscriber never blocks
// others: each subscriber has its own bounded channel, and overflow drops
// the oldest buffered event for that subscriber while incrementing its
// drop counter.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]*subscription
	nextID      int
	bufferSize  int
}

type subscription struct {
	ch      chan Event
	dropped uint64
	mu      sync.Mutex
}

// New returns a Bus whose subscriber buffers hold bufferSize events.
// bufferSize <= 0 uses defaultBufferSize.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Bus{subscribers: make(map[int]*subscription), bufferSize: bufferSize}
}

// Subscription is a handle returned by Subscribe; callers read from
// Events() and must call Unsubscribe when done.
type Subscription struct {
	id  int
	bus *Bus
	sub *subscription
}

// Events returns the channel this subscriber receives events on, in
// publication order.
func (s *Subscription) Events() <-chan Event { return s.sub.ch }

// Dropped returns how many events have been dropped for this subscriber
// due to buffer overflow.
func (s *Subscription) Dropped() uint64 {
	s.sub.mu.Lock()
	defer s.sub.mu.Unlock()
	return s.sub.dropped
}

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subscribers[s.id]; ok {
		delete(s.bus.subscribers, s.id)
		close(s.sub.ch)
	}
}

// Subscribe registers a new subscriber and returns its handle.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscription{ch: make(chan Event, b.bufferSize)}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = sub
	return &Subscription{id: id, bus: b, sub: sub}
}

// Publish delivers name/data to every current subscriber. Delivery is
// non-blocking: a full buffer drops its oldest entry to make room rather
// than blocking the publisher.
func (b *Bus) Publish(name Name, data any) {
	ev := Event{Name: name, Data: data, Timestamp: time.Now()}
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		deliver(s, ev)
	}
}

func deliver(s *subscription, ev Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}
	// Buffer full: drop the oldest queued event, then enqueue the new one.
	select {
	case <-s.ch:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	default:
	}
	select {
	case s.ch <- ev:
	default:
		// Another publisher raced us; count this one as dropped too.
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}
