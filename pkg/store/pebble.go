package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/utils"
)

// Typed failures for callers; not-found is distinguished from everything
// else so get-or-create flows can branch on it.
var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

// CommitHook is invoked after a message insert commits. The feed hub
// attaches here to realize the change-feed: every committed row is
// published to subscribers.
type CommitHook func(models.Message)

// Option configures a Store at Open time.
type Option func(*Store)

// WithCommitHook registers fn to run after every committed message
// insert.
func WithCommitHook(fn CommitHook) Option {
	return func(s *Store) { s.hook = fn }
}

// Store is a Pebble-backed realization of the persistence collaborator:
// insert-and-return-row, select-by-filter-ordered and update-by-filter
// over conversations and their messages.
//
// Key layout:
//
//	conv:<id>:meta                     conversation JSON
//	conv:<id>:msg:<padded-ns>-<seq>    message JSON, sorted by insert time
//	pair:<lo>|<hi>                     conversation id for a participant pair
type Store struct {
	db   *pebble.DB
	hook CommitHook

	// mu serializes conversation creation so the pair index stays
	// one-to-one.
	mu sync.Mutex

	// seq reduces key collisions when multiple messages share the same
	// nanosecond timestamp.
	seq uint64
}

// Open opens (or creates) a Pebble database at the given path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	s := &Store{db: db}
	for _, o := range opts {
		o(s)
	}
	logger.Info("pebble_opened", "path", path)
	return s, nil
}

// Close closes the underlying database. Idempotent.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("pebble_closed")
	return err
}

func metaKey(conversationID string) []byte {
	return []byte("conv:" + conversationID + ":meta")
}

func pairKey(a, b string) []byte {
	return []byte("pair:" + models.PairKey(a, b))
}

func (s *Store) msgKey(conversationID string, ts time.Time) []byte {
	n := atomic.AddUint64(&s.seq, 1)
	return []byte(fmt.Sprintf("conv:%s:msg:%020d-%06d", conversationID, ts.UnixNano(), n))
}

// CreateConversation inserts a conversation for an unordered participant
// pair. Idempotent: when a conversation already exists for the pair (in
// either participant order) the existing row is returned unchanged.
func (s *Store) CreateConversation(c models.Conversation) (models.Conversation, error) {
	if s.db == nil {
		return models.Conversation{}, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.findByPairLocked(c.Participant1, c.Participant2); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return models.Conversation{}, err
	}

	if c.ID == "" {
		c.ID = utils.GenID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("marshal conversation: %w", err)
	}
	if err := s.db.Set(metaKey(c.ID), data, pebble.Sync); err != nil {
		logger.Error("save_conversation_failed", "conversation", c.ID, "error", err)
		return models.Conversation{}, err
	}
	if err := s.db.Set(pairKey(c.Participant1, c.Participant2), []byte(c.ID), pebble.Sync); err != nil {
		logger.Error("save_pair_index_failed", "conversation", c.ID, "error", err)
		return models.Conversation{}, err
	}
	logger.Info("conversation_created", "conversation", c.ID, "pair", models.PairKey(c.Participant1, c.Participant2))
	return c, nil
}

// GetConversation fetches a conversation by id.
func (s *Store) GetConversation(id string) (models.Conversation, error) {
	if s.db == nil {
		return models.Conversation{}, ErrClosed
	}
	v, closer, err := s.db.Get(metaKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Conversation{}, ErrNotFound
		}
		return models.Conversation{}, err
	}
	defer closer.Close()
	var c models.Conversation
	if err := json.Unmarshal(v, &c); err != nil {
		return models.Conversation{}, fmt.Errorf("invalid conversation row %s: %w", id, err)
	}
	return c, nil
}

// FindConversationByPair looks up the conversation for an unordered
// participant pair. The pair index is keyed canonically, so one lookup
// covers both argument orders.
func (s *Store) FindConversationByPair(a, b string) (models.Conversation, error) {
	if s.db == nil {
		return models.Conversation{}, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByPairLocked(a, b)
}

func (s *Store) findByPairLocked(a, b string) (models.Conversation, error) {
	v, closer, err := s.db.Get(pairKey(a, b))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Conversation{}, ErrNotFound
		}
		return models.Conversation{}, err
	}
	id := string(v)
	closer.Close()
	return s.GetConversation(id)
}

// UpdateConversationMeta overwrites the denormalized last-message fields
// on a conversation row.
func (s *Store) UpdateConversationMeta(id, lastMessage string, at time.Time) error {
	if s.db == nil {
		return ErrClosed
	}
	c, err := s.GetConversation(id)
	if err != nil {
		return err
	}
	c.LastMessage = lastMessage
	c.LastMessageTime = at
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	return s.db.Set(metaKey(id), data, pebble.Sync)
}

// AppendMessage inserts a message and returns the committed row with its
// store-assigned id and timestamp. The conversation must exist. The
// commit hook, when registered, fires after the row is durable.
func (s *Store) AppendMessage(m models.Message) (models.Message, error) {
	if s.db == nil {
		return models.Message{}, ErrClosed
	}
	if _, err := s.GetConversation(m.Conversation); err != nil {
		return models.Message{}, err
	}
	if m.ID == "" || models.IsTempID(m.ID) {
		m.ID = utils.GenID()
	}
	if m.TS.IsZero() {
		m.TS = time.Now().UTC()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, fmt.Errorf("marshal message: %w", err)
	}
	key := s.msgKey(m.Conversation, m.TS)
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "conversation", m.Conversation, "key", string(key), "error", err)
		return models.Message{}, err
	}
	logger.Debug("message_saved", "conversation", m.Conversation, "msg_id", m.ID)
	if s.hook != nil {
		s.hook(m)
	}
	return m, nil
}

// ListMessages returns all messages for a conversation in insert order
// (ascending by timestamp). A limit of 0 or less returns everything;
// otherwise the latest limit messages are returned.
func (s *Store) ListMessages(conversationID string, limit int) ([]models.Message, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	prefix := []byte("conv:" + conversationID + ":msg:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid message row %s: %w", iter.Key(), err)
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ListConversations returns every conversation, in no particular order.
func (s *Store) ListConversations() ([]models.Conversation, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	prefix := []byte("pair:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Conversation
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		c, err := s.GetConversation(string(iter.Value()))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				logger.Warn("dangling_pair_index", "key", string(iter.Key()))
				continue
			}
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteMessagesBefore removes all messages whose insert time is before
// cutoff, across every conversation. Returns the number of rows removed.
// Used by the retention sweeper.
func (s *Store) DeleteMessagesBefore(cutoff time.Time) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	prefix := []byte("conv:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	var doomed [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		if !bytes.Contains(key, []byte(":msg:")) {
			continue
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.TS.Before(cutoff) {
			doomed = append(doomed, append([]byte(nil), key...))
		}
	}
	for _, key := range doomed {
		if err := s.db.Delete(key, pebble.Sync); err != nil {
			return 0, err
		}
	}
	if len(doomed) > 0 {
		logger.Info("messages_purged", "count", len(doomed), "cutoff", cutoff)
	}
	return len(doomed), nil
}
