package vpn

import (
	"sync"
	"time"
)

// EventKind tags a SessionEvent.
type EventKind int

const (
	EventConnecting EventKind = iota
	EventConnected
	EventDisconnecting
	EventDisconnected
	EventFailed
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventConnecting:
		return "Connecting"
	case EventConnected:
		return "Connected"
	case EventDisconnecting:
		return "Disconnecting"
	case EventDisconnected:
		return "Disconnected"
	case EventFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(s string) (EventKind, bool) {
	for k := EventConnecting; k <= EventFailed; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// SessionEvent is emitted on every state transition of the session slot.
type SessionEvent struct {
	// Seq increases by one per published event. Subscribers use it to
	// drop duplicates.
	Seq       uint64
	Kind      EventKind
	SessionID string
	Name      string
	Endpoint  string
	Interface string
	// Reason is set for EventFailed.
	Reason error
	Time   time.Time
}

// ReasonText returns the failure reason as text, or "" when there is none.
func (e SessionEvent) ReasonText() string {
	if e.Reason == nil {
		return ""
	}
	return e.Reason.Error()
}

// EventPublisher receives the events emitted by the Manager.
// Publish is called with the Manager's state lock held and must not block.
type EventPublisher interface {
	Publish(ev SessionEvent) SessionEvent
}

// Bus fans SessionEvents out to subscribers. Each subscriber receives every
// event published after it subscribed, in publication order. Slow subscribers
// never block the publisher; their events queue up until read.
type Bus struct {
	mu     sync.Mutex
	seq    uint64
	nextID int
	subs   map[int]*subscriber
	closed bool
}

type subscriber struct {
	mu       sync.Mutex
	queue    []SessionEvent
	draining bool

	wake   chan struct{}
	done   chan struct{}
	out    chan SessionEvent
	closed sync.Once
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish stamps ev with the next sequence number (and the current time if
// unset) and queues it for every subscriber.
func (b *Bus) Publish(ev SessionEvent) SessionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev.Seq = b.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if b.closed {
		return ev
	}
	for _, s := range b.subs {
		s.push(ev)
	}
	return ev
}

// Subscribe registers a subscriber. The returned channel is closed after
// cancel is called or the bus is closed.
func (b *Bus) Subscribe() (<-chan SessionEvent, func()) {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan SessionEvent),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.out)
		return s.out, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go s.run()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		s.stop()
	}
	return s.out, cancel
}

// Close stops every subscriber. Events already published are still
// delivered before the subscriber channels close.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[int]*subscriber)
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		s.draining = true
		s.mu.Unlock()
		s.stop()
	}
}

func (s *subscriber) push(ev SessionEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.closed.Do(func() { close(s.done) })
}

// pop removes the oldest queued event. draining reports whether the
// remaining queue must be delivered after stop.
func (s *subscriber) pop() (ev SessionEvent, ok, draining bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return SessionEvent{}, false, s.draining
	}
	ev = s.queue[0]
	s.queue = s.queue[1:]
	return ev, true, s.draining
}

// drainable reports whether the bus was closed with events still queued.
// Close stops pushes before it sets draining, so the queue only shrinks
// from then on.
func (s *subscriber) drainable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining && len(s.queue) > 0
}

func (s *subscriber) run() {
	defer close(s.out)
	for {
		ev, ok, draining := s.pop()
		if !ok {
			select {
			case <-s.done:
				if s.drainable() {
					continue
				}
				return
			case <-s.wake:
			}
			continue
		}

		if draining {
			s.out <- ev
			continue
		}
		select {
		case s.out <- ev:
		case <-s.done:
			s.mu.Lock()
			draining = s.draining
			s.mu.Unlock()
			if !draining {
				return
			}
			s.out <- ev
		}
	}
}
