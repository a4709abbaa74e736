// Package feed realizes the push-delivery collaborator: an in-process
// change-feed hub. The store's commit hook publishes every committed
// message insert; subscribers register interest scoped to one
// conversation and receive each insert via callback.
//
// Delivery is at-least-once from the consumer's point of view: a healthy
// subscription sees each insert exactly once, but consumers must
// tolerate redelivery (the reconciler's dedup rule handles it). The hub
// never blocks a publisher: a subscriber whose buffer overflows is
// detached and marked lost rather than slowing the commit path.
package feed

import (
	"errors"
	"sync"

	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
)

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("feed hub closed")

const defaultBuffer = 64

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber event buffer size.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// Hub fans committed message inserts out to per-conversation
// subscribers.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	closed bool
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{subs: make(map[string]map[*Subscription]struct{}), buffer: defaultBuffer}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscription is one subscriber's registration. Unsubscribe is safe to
// call multiple times and from any goroutine; Lost is closed when the
// hub detaches the subscriber (buffer overflow or hub shutdown).
type Subscription struct {
	hub   *Hub
	scope string
	ch    chan models.Message
	lost  chan struct{}

	unsubOnce sync.Once
	lostOnce  sync.Once
	chOnce    sync.Once
}

// Unsubscribe detaches the subscription. Safe to call more than once,
// including after the hub already dropped the subscriber.
func (s *Subscription) Unsubscribe() {
	s.unsubOnce.Do(func() {
		s.hub.remove(s)
		s.closeCh()
	})
}

func (s *Subscription) closeCh() {
	s.chOnce.Do(func() { close(s.ch) })
}

// Lost reports, by channel close, that the hub dropped this subscriber.
// Consumers surface it as a passive "may be out of date" state; the hub
// does not reconnect.
func (s *Subscription) Lost() <-chan struct{} { return s.lost }

func (s *Subscription) markLost() {
	s.lostOnce.Do(func() { close(s.lost) })
}

// Subscribe registers fn for every insert committed to the given
// conversation. fn runs on a dedicated goroutine per subscription, so
// slow consumers delay only themselves.
func (h *Hub) Subscribe(conversationID string, fn func(models.Message)) (*Subscription, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	s := &Subscription{
		hub:   h,
		scope: conversationID,
		ch:    make(chan models.Message, h.buffer),
		lost:  make(chan struct{}),
	}
	set, ok := h.subs[conversationID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[conversationID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	metrics.OpenSubscriptions.Inc()
	go func() {
		defer metrics.OpenSubscriptions.Dec()
		for m := range s.ch {
			fn(m)
		}
	}()
	logger.Debug("feed_subscribed", "conversation", conversationID)
	return s, nil
}

// Publish delivers a committed message insert to every subscriber of its
// conversation. Non-blocking: overflowing subscribers are detached.
func (h *Hub) Publish(m models.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for s := range h.subs[m.Conversation] {
		select {
		case s.ch <- m:
		default:
			logger.Warn("feed_subscriber_overflow", "conversation", m.Conversation)
			metrics.FeedDropped.Inc()
			h.removeLocked(s)
			s.markLost()
			s.closeCh()
		}
	}
}

// Close detaches all subscribers and rejects further Subscribe calls.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for s := range set {
			s.markLost()
			s.closeCh()
		}
	}
	h.subs = make(map[string]map[*Subscription]struct{})
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *Subscription) {
	set, ok := h.subs[s.scope]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.scope)
	}
}
