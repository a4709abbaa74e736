// Package binding is the presentation-facing surface: it owns the
// per-conversation session lifecycle (fetch, seed, subscribe, teardown)
// so renderers only ever deal with snapshots and a couple of channels.
package binding

import (
	"context"
	"errors"
	"sync"

	"chatsync/pkg/client"
	"chatsync/pkg/feed"
	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/reconcile"
)

// ErrConversationOpen is returned when a session for the conversation
// already exists; a conversation has at most one live session per
// manager.
var ErrConversationOpen = errors.New("conversation already has an open session")

// SendFailure is delivered on a session's failure channel when an
// optimistic send is rolled back. Local carries the original text so the
// UI can restore the user's draft.
type SendFailure struct {
	Local models.Message
	Err   error
}

// Option configures a Manager.
type Option func(*Manager)

// WithReconcilerOptions forwards options to every reconciler the manager
// constructs.
func WithReconcilerOptions(opts ...reconcile.Option) Option {
	return func(m *Manager) { m.recOpts = opts }
}

// hubFeed adapts the concrete hub to the subscription surface the
// reconcile package accepts.
type hubFeed struct {
	hub *feed.Hub
}

func (h hubFeed) Subscribe(conversationID string, fn func(models.Message)) (reconcile.FeedSubscription, error) {
	return h.hub.Subscribe(conversationID, fn)
}

// Manager opens and tracks conversation sessions.
type Manager struct {
	client  *client.Client
	feed    reconcile.Feed
	recOpts []reconcile.Option

	mu   sync.Mutex
	open map[string]*Session
}

// NewManager binds a manager to the store client and the push hub.
func NewManager(c *client.Client, h *feed.Hub, opts ...Option) *Manager {
	m := &Manager{
		client: c,
		feed:   hubFeed{hub: h},
		open:   make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Open establishes a live session between selfID and peerID: it resolves
// the conversation (creating it if absent), fetches history, seeds the
// reconciler, and only then attaches the push subscription. Errors on
// any step unwind everything already set up and release the slot.
func (m *Manager) Open(ctx context.Context, selfID, peerID string) (*Session, error) {
	conv, err := m.client.GetOrCreateConversation(ctx, selfID, peerID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, dup := m.open[conv.ID]; dup {
		m.mu.Unlock()
		return nil, ErrConversationOpen
	}
	s := &Session{
		manager:      m,
		conversation: conv,
		selfID:       selfID,
		failures:     make(chan SendFailure, 8),
	}
	m.open[conv.ID] = s
	m.mu.Unlock()

	recOpts := append([]reconcile.Option{
		reconcile.WithSendFailed(s.onSendFailed),
	}, m.recOpts...)
	s.rec = reconcile.New(conv.ID, m.client, recOpts...)

	history, err := m.client.FetchHistory(ctx, conv.ID)
	if err != nil {
		m.release(conv.ID)
		s.rec.Close()
		return nil, err
	}
	s.rec.Seed(history)

	adapter, err := reconcile.Attach(m.feed, s.rec)
	if err != nil {
		m.release(conv.ID)
		s.rec.Close()
		return nil, err
	}
	s.adapter = adapter

	metrics.OpenSessions.Inc()
	logger.Info("session_opened", "conversation", conv.ID, "self", selfID, "peer", peerID, "history", len(history))
	return s, nil
}

func (m *Manager) release(conversationID string) {
	m.mu.Lock()
	delete(m.open, conversationID)
	m.mu.Unlock()
}

// Conversations lists all conversations known to the store, most
// recently active first.
func (m *Manager) Conversations(ctx context.Context) ([]models.Conversation, error) {
	return m.client.Conversations(ctx)
}

// Session is one live, push-connected view of a conversation.
type Session struct {
	manager      *Manager
	conversation models.Conversation
	selfID       string

	rec     *reconcile.Reconciler
	adapter *reconcile.Adapter

	failures  chan SendFailure
	closeOnce sync.Once
}

// Conversation returns the resolved conversation record.
func (s *Session) Conversation() models.Conversation { return s.conversation }

// Send submits one message optimistically. The returned message carries
// the temporary id and local timestamp already visible in the next
// snapshot; the durable write proceeds in the background.
func (s *Session) Send(ctx context.Context, text string) models.Message {
	return s.rec.SendOptimistic(ctx, s.selfID, text)
}

// Snapshot returns the session's current merged message sequence.
func (s *Session) Snapshot() []reconcile.Entry {
	return s.rec.Snapshot()
}

// Phase reports whether the history load has completed.
func (s *Session) Phase() reconcile.Phase {
	return s.rec.Phase()
}

// Failures delivers one SendFailure per rolled-back send. The channel is
// buffered; if the consumer falls far behind, further failures are
// logged and dropped rather than blocking reconciliation.
func (s *Session) Failures() <-chan SendFailure {
	return s.failures
}

// Stale is closed when the push delivery channel is lost. The session
// keeps serving snapshots; it never reconnects on its own.
func (s *Session) Stale() <-chan struct{} {
	return s.adapter.Lost()
}

func (s *Session) onSendFailed(local models.Message, err error) {
	select {
	case s.failures <- SendFailure{Local: local, Err: err}:
	default:
		logger.Warn("send_failure_dropped", "conversation", s.conversation.ID, "temp_id", local.ID)
	}
}

// Close detaches the push subscription before tearing down the
// reconciler, so no event is delivered into a dead one, then releases
// the session slot. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.adapter.Detach()
		s.rec.Close()
		s.manager.release(s.conversation.ID)
		metrics.OpenSessions.Dec()
		logger.Info("session_closed", "conversation", s.conversation.ID)
	})
}
