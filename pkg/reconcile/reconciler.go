// Package reconcile keeps a client's view of one two-party conversation
// consistent across three independently-arriving inputs: the initial
// history load, optimistic local sends, and confirmed inserts delivered
// out of band by the push feed. Arrival order between the three is not
// guaranteed; the dedup/merge rules here are the sole mechanism
// enforcing a consistent final sequence.
package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
)

// Phase is the coarse lifecycle of a reconciler.
type Phase int

const (
	// PhaseEmpty is the zero value; a constructed reconciler starts in
	// PhaseLoading because binding to a conversation implies a history
	// fetch is underway.
	PhaseEmpty Phase = iota
	PhaseLoading
	PhaseReady
)

// State is the lifecycle of a single message within the sequence.
type State int

const (
	// Pending: appended locally, not yet acknowledged by the store.
	Pending State = iota
	// Confirmed: carries a store-assigned id and timestamp.
	Confirmed
)

// Entry is one message plus its sync state. Renderers treat Pending and
// Confirmed identically apart from an optional "sending" indicator
// derived from State.
type Entry struct {
	Message models.Message
	State   State
}

// Sender issues the asynchronous write behind SendOptimistic. The store
// client satisfies it.
type Sender interface {
	CreateMessage(ctx context.Context, conversationID, senderID, text string) (models.Message, error)
}

const (
	// defaultDedupWindow tolerates clock skew between a pending entry's
	// local timestamp and the store-assigned timestamp of its
	// confirmation.
	defaultDedupWindow = 10 * time.Second
	// defaultWriteTimeout bounds the in-flight write; expiry is treated
	// as a write failure.
	defaultWriteTimeout = 15 * time.Second
)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithDedupWindow overrides the sender+text+time-proximity matching
// window.
func WithDedupWindow(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithWriteTimeout overrides the per-write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithClock substitutes the local clock; tests use it to control
// optimistic timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithSendFailed registers the rollback callback: it receives the
// removed pending message (original text included, so the UI can restore
// the user's draft) and the write error. Called outside the reconciler's
// lock.
func WithSendFailed(fn func(local models.Message, err error)) Option {
	return func(r *Reconciler) { r.sendFailed = fn }
}

// Reconciler exclusively owns the in-memory message sequence for the
// conversation it is bound to. The subscription adapter and the
// presentation binding only submit events into it and read snapshots.
//
// A single mutex serializes the three asynchronous sources; no caller
// ever observes a partially merged sequence.
type Reconciler struct {
	conversationID string
	sender         Sender

	window       time.Duration
	writeTimeout time.Duration
	now          func() time.Time
	sendFailed   func(models.Message, error)

	mu      sync.Mutex
	phase   Phase
	entries []Entry
	closed  bool
}

// New binds a reconciler to one conversation. It starts in PhaseLoading:
// the owner is expected to issue the history fetch and call Seed with
// the result exactly once.
func New(conversationID string, sender Sender, opts ...Option) *Reconciler {
	r := &Reconciler{
		conversationID: conversationID,
		sender:         sender,
		window:         defaultDedupWindow,
		writeTimeout:   defaultWriteTimeout,
		now:            time.Now,
		phase:          PhaseLoading,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ConversationID returns the bound conversation.
func (r *Reconciler) ConversationID() string { return r.conversationID }

// Phase returns the current lifecycle phase.
func (r *Reconciler) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Seed replaces the sequence wholesale with the fetched history and
// moves the reconciler to PhaseReady. Pending messages appended while
// the fetch was in flight are preserved: they are re-appended after the
// seeded history, never dropped or duplicated. Seeding the same history
// twice yields the same snapshot.
func (r *Reconciler) Seed(history []models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	var kept []Entry
	for _, e := range r.entries {
		if e.State == Pending {
			kept = append(kept, e)
		}
	}
	r.entries = make([]Entry, 0, len(history)+len(kept))
	for _, m := range history {
		r.entries = append(r.entries, Entry{Message: m, State: Confirmed})
	}
	r.entries = append(r.entries, kept...)
	r.phase = PhaseReady
	logger.Debug("sequence_seeded", "conversation", r.conversationID, "history", len(history), "pending_kept", len(kept))
}

// SendOptimistic synchronously appends a Pending message with a fresh
// temporary id and the current local timestamp, returns it for immediate
// display, and issues the store write on its own goroutine. On write
// success the pending entry's id and timestamp are replaced in place (no
// second entry, same position); on failure the entry is removed and the
// send-failed callback fires.
func (r *Reconciler) SendOptimistic(ctx context.Context, senderID, text string) models.Message {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return models.Message{}
	}
	now := r.now().UTC()
	local := models.Message{
		ID:           models.NewTempID(now),
		Conversation: r.conversationID,
		Sender:       senderID,
		Text:         text,
		TS:           now,
	}
	r.entries = append(r.entries, Entry{Message: local, State: Pending})
	r.mu.Unlock()

	metrics.OptimisticSends.Inc()
	go r.write(ctx, local)
	return local
}

// write runs off the caller's goroutine so the optimistic append returns
// before any network latency is paid.
func (r *Reconciler) write(ctx context.Context, local models.Message) {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	confirmed, err := r.sender.CreateMessage(ctx, local.Conversation, local.Sender, local.Text)
	r.resolveWrite(local.ID, confirmed, err)
}

// resolveWrite applies a write resolution against the pending entry that
// initiated it. A torn-down reconciler ignores the resolution entirely;
// the in-flight write was allowed to complete but its result is a no-op.
func (r *Reconciler) resolveWrite(tempID string, confirmed models.Message, writeErr error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	idx := -1
	for i, e := range r.entries {
		if e.State == Pending && e.Message.ID == tempID {
			idx = i
			break
		}
	}

	if writeErr != nil {
		if idx < 0 {
			// A push event already confirmed this send: the row committed,
			// so the late write error carries no new information.
			r.mu.Unlock()
			logger.Debug("write_error_after_confirm", "conversation", r.conversationID, "temp_id", tempID, "error", writeErr)
			return
		}
		local := r.entries[idx].Message
		r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
		cb := r.sendFailed
		r.mu.Unlock()
		metrics.SendRollbacks.Inc()
		logger.Warn("send_rolled_back", "conversation", r.conversationID, "temp_id", tempID, "error", writeErr)
		if cb != nil {
			cb(local, writeErr)
		}
		return
	}

	if idx < 0 {
		// The push event won the race; this resolution is a
		// duplicate-suppression signal.
		r.mu.Unlock()
		metrics.DuplicatesSuppressed.Inc()
		logger.Debug("write_result_suppressed", "conversation", r.conversationID, "temp_id", tempID, "msg_id", confirmed.ID)
		return
	}
	r.entries[idx].Message.ID = confirmed.ID
	r.entries[idx].Message.TS = confirmed.TS
	r.entries[idx].State = Confirmed
	r.mu.Unlock()
	metrics.SendConfirms.Inc()
	logger.Debug("send_confirmed", "conversation", r.conversationID, "temp_id", tempID, "msg_id", confirmed.ID)
}

// ApplyRemoteInsert merges one push-delivered row into the sequence.
//
// Dedup rules, in order:
//  1. a row whose id is already present is a redelivery: discarded
//     (at-least-once delivery is tolerated, never surfaced);
//  2. a still-Pending entry with the same sender and text within the
//     dedup window is this row's optimistic twin: confirmed in place,
//     consuming the pending entry (at most one per row, submission
//     order, so identical near-simultaneous sends each reconcile to
//     their own confirmation);
//  3. otherwise the row is appended as Confirmed, re-sorting by
//     timestamp only when out-of-order delivery is detected.
func (r *Reconciler) ApplyRemoteInsert(m models.Message) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if m.Conversation != "" && m.Conversation != r.conversationID {
		r.mu.Unlock()
		logger.Warn("remote_insert_wrong_scope", "want", r.conversationID, "got", m.Conversation)
		return
	}
	for _, e := range r.entries {
		if e.Message.ID == m.ID {
			r.mu.Unlock()
			metrics.DuplicatesSuppressed.Inc()
			logger.Debug("remote_insert_duplicate", "conversation", r.conversationID, "msg_id", m.ID)
			return
		}
	}
	for i, e := range r.entries {
		if e.State != Pending || e.Message.Sender != m.Sender || e.Message.Text != m.Text {
			continue
		}
		if absDuration(e.Message.TS.Sub(m.TS)) > r.window {
			continue
		}
		r.entries[i].Message.ID = m.ID
		r.entries[i].Message.TS = m.TS
		r.entries[i].State = Confirmed
		r.mu.Unlock()
		metrics.SendConfirms.Inc()
		logger.Debug("pending_confirmed_by_feed", "conversation", r.conversationID, "msg_id", m.ID)
		return
	}
	outOfOrder := len(r.entries) > 0 && m.TS.Before(r.entries[len(r.entries)-1].Message.TS)
	r.entries = append(r.entries, Entry{Message: m, State: Confirmed})
	if outOfOrder {
		sort.SliceStable(r.entries, func(i, j int) bool {
			return r.entries[i].Message.TS.Before(r.entries[j].Message.TS)
		})
	}
	r.mu.Unlock()
	logger.Debug("remote_insert_appended", "conversation", r.conversationID, "msg_id", m.ID, "resorted", outOfOrder)
}

// Snapshot returns a copy of the current sequence, ascending by
// timestamp. Safe to retain; mutations never alias it.
func (r *Reconciler) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Close tears the reconciler down. In-flight writes complete against the
// store but their resolutions become no-ops; subsequent submissions are
// dropped. The owner must detach the subscription adapter first.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
