// Package bus implements the per-session ordered event bus (C1): a
// publish/subscribe channel that assigns monotonically increasing sequence
// numbers to every event and fans them out to any live subscribers without
// ever blocking the publisher.
//
// All methods are safe for concurrent use.
package bus

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrSessionGone is returned by Publish when no session with the given ID
// has ever been subscribed to. Per §4.1 this is non-fatal: callers should
// log and discard rather than treat it as an operational failure.
var ErrSessionGone = errors.New("bus: session gone")

// defaultQueueSize bounds each subscriber's queue. When full, the oldest
// pending envelope is dropped to make room for the new one (§4.1,
// "drop oldest on overflow; never block the publisher").
const defaultQueueSize = 256

// Envelope wraps a published event with its assigned sequence number.
type Envelope struct {
	Event   string `json:"event"`
	Seq     uint64 `json:"seq"`
	Payload any    `json:"payload"`
}

// subscriber is one bounded delivery queue plus bookkeeping for drop
// logging (§7: "log once per session per drop burst").
type subscriber struct {
	id        uint64
	ch        chan Envelope
	dropLogged bool
}

// sessionState holds the per-session sequence counter and subscriber set.
type sessionState struct {
	mu        sync.Mutex
	seq       uint64
	nextSubID uint64
	subs      map[uint64]*subscriber
}

// Bus is a concurrent map of per-session ordered pub/sub channels.
type Bus struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	queueSize int
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize overrides the default per-subscriber queue depth.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		sessions:  make(map[string]*sessionState),
		queueSize: defaultQueueSize,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// state returns the sessionState for sessionID, creating it if this is the
// first reference (Subscribe) or returning nil if it has never been
// referenced (Publish to an unknown session).
func (b *Bus) state(sessionID string, create bool) *sessionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		if !create {
			return nil
		}
		s = &sessionState{subs: make(map[uint64]*subscriber)}
		b.sessions[sessionID] = s
	}
	return s
}

// Subscription is a live handle returned by Subscribe. Callers must call
// Unsubscribe when done to release the queue.
type Subscription struct {
	bus       *Bus
	sessionID string
	id        uint64
	ch        chan Envelope
}

// C returns the channel of envelopes for this subscription, in strictly
// increasing Seq order.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Unsubscribe removes the subscription's queue from the session's fan-out
// set. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	st := s.bus.state(s.sessionID, false)
	if st == nil {
		return
	}
	st.mu.Lock()
	delete(st.subs, s.id)
	st.mu.Unlock()
}

// Subscribe returns a fresh bounded queue for sessionID. The session is
// created lazily if this is the first reference to it.
func (b *Bus) Subscribe(sessionID string) *Subscription {
	st := b.state(sessionID, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	id := st.nextSubID
	st.nextSubID++
	sub := &subscriber{id: id, ch: make(chan Envelope, b.queueSize)}
	st.subs[id] = sub

	return &Subscription{bus: b, sessionID: sessionID, id: id, ch: sub.ch}
}

// Publish assigns the next sequence number for sessionID, wraps event and
// payload into an Envelope, and delivers it to every current subscriber.
// Delivery never blocks: a full subscriber queue has its oldest pending
// envelope dropped to make room.
//
// Returns ErrSessionGone if sessionID has never been subscribed to. Per
// §4.1 this should be logged and discarded by the caller, not treated as a
// fatal error.
func (b *Bus) Publish(sessionID, event string, payload any) (Envelope, error) {
	st := b.state(sessionID, false)
	if st == nil {
		return Envelope{}, ErrSessionGone
	}

	st.mu.Lock()
	st.seq++
	env := Envelope{Event: event, Seq: st.seq, Payload: payload}

	// Snapshot subscribers to fan out without holding the lock across sends.
	subs := make([]*subscriber, 0, len(st.subs))
	for _, s := range st.subs {
		subs = append(subs, s)
	}
	st.mu.Unlock()

	for _, s := range subs {
		deliver(s, env, sessionID)
	}
	return env, nil
}

// deliver attempts a non-blocking send; on a full queue it drops the oldest
// pending envelope and retries once.
func deliver(s *subscriber, env Envelope, sessionID string) {
	select {
	case s.ch <- env:
		s.dropLogged = false
		return
	default:
	}

	// Queue is full: drop oldest, then enqueue the new one.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- env:
	default:
		// Another publisher raced us; give up silently for this envelope.
	}

	if !s.dropLogged {
		slog.Warn("bus: subscriber queue overflow, dropping oldest", "session_id", sessionID)
		s.dropLogged = true
	}
}

// Teardown removes all bookkeeping for sessionID. Existing Subscriptions'
// channels are left open but will receive no further events; callers should
// Unsubscribe before or after Teardown.
func (b *Bus) Teardown(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}
