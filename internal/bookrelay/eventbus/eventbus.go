// Package eventbus is an in-memory publish/subscribe bus for session lifecycle events.
// Topics are dot separated, "session.<id>.<kind>", and subscribers may use "*" for any
// single component. Publishing never blocks: events for a full subscriber are dropped
// and counted.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Kind names a session lifecycle event.
type Kind string

const (
	KindCreated        Kind = "created"
	KindChallengeReady Kind = "challenge_ready"
	KindAwaitingAnswer Kind = "awaiting_answer"
	KindSubmitted      Kind = "submitted"
	KindCompleted      Kind = "completed"
	KindFailed         Kind = "failed"
	KindExpired        Kind = "expired"
	KindAnswerRejected Kind = "answer_rejected"
)

// AllSessions matches every session event.
const AllSessions = "session.*.*"

// SessionTopic returns the topic for kind events of sessionID.
func SessionTopic(sessionID string, kind Kind) string {
	return "session." + sessionID + "." + string(kind)
}

// SessionEvent is the payload published for every session transition.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	Kind      Kind      `json:"kind"`
	Train     string    `json:"train,omitempty"`
	PNR       string    `json:"pnr,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Event is a delivered message.
type Event struct {
	Topic string
	Data  any
}

type subscriber struct {
	pattern string
	ch      chan Event

	mu     sync.Mutex
	closed bool
}

// trySend delivers e unless the subscriber is closed or its buffer is full.
func (s *subscriber) trySend(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Bus routes events to subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	nextID  uint64
	dropped atomic.Uint64
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers a subscriber for pattern with the given buffer. The returned
// function unsubscribes and closes the channel; calling it more than once is safe.
func (b *Bus) Subscribe(pattern string, buffer int) (<-chan Event, func()) {
	sub := &subscriber{pattern: pattern, ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = sub
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.close()
	}
}

// Publish delivers data on topic to every matching subscriber.
func (b *Bus) Publish(topic string, data any) {
	e := Event{Topic: topic, Data: data}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !MatchTopic(sub.pattern, topic) {
			continue
		}
		if !sub.trySend(e) {
			b.dropped.Add(1)
		}
	}
}

// PublishSession publishes ev on its session topic, stamping the time if unset.
func (b *Bus) PublishSession(ev SessionEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.Publish(SessionTopic(ev.SessionID, ev.Kind), ev)
}

// Dropped returns the number of events that could not be delivered.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Shutdown closes every subscriber.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

// MatchTopic reports whether topic matches pattern. "*" alone matches everything;
// otherwise a "*" component matches exactly one component. Session ids contain no dots.
func MatchTopic(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}
	if pattern == "*" || pattern == topic {
		return true
	}
	pp := strings.Split(pattern, ".")
	tp := strings.Split(topic, ".")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] != "*" && pp[i] != tp[i] {
			return false
		}
	}
	return true
}
