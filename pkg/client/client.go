// Package client is the typed store client for conversations and
// messages: a thin request/response wrapper over the persistence
// collaborator that maps backend failures onto the two errors the sync
// core distinguishes, ErrStoreUnavailable and ErrWriteFailed.
package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/validation"
)

var (
	// ErrStoreUnavailable reports that the persistence collaborator could
	// not be reached. Cold-start failure for history fetches; callers show
	// an error state and may retry. Never auto-retried here.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrWriteFailed reports an application-level write rejection (for
	// example a validation failure). The caller rolls back the associated
	// pending message.
	ErrWriteFailed = errors.New("write failed")
)

// Backend is the persistence collaborator surface the client needs. The
// Pebble store satisfies it; tests substitute fakes. Not-found must be
// reported via store.ErrNotFound.
type Backend interface {
	CreateConversation(c models.Conversation) (models.Conversation, error)
	GetConversation(id string) (models.Conversation, error)
	FindConversationByPair(a, b string) (models.Conversation, error)
	UpdateConversationMeta(id, lastMessage string, at time.Time) error
	AppendMessage(m models.Message) (models.Message, error)
	ListMessages(conversationID string, limit int) ([]models.Message, error)
	ListConversations() ([]models.Conversation, error)
}

// Client issues create/read operations against the backend.
type Client struct {
	backend Backend
}

// New returns a client over the given backend.
func New(b Backend) *Client {
	return &Client{backend: b}
}

// FetchHistory returns all messages for a conversation, ascending by
// timestamp.
func (c *Client) FetchHistory(ctx context.Context, conversationID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	msgs, err := c.backend.ListMessages(conversationID, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return msgs, nil
}

// CreateMessage persists one message and returns the committed row with
// its store-assigned id and timestamp. The parent conversation's
// denormalized last-message fields are updated best-effort: their
// failure never fails the primary write.
func (c *Client) CreateMessage(ctx context.Context, conversationID, senderID, text string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	m := models.Message{Conversation: conversationID, Sender: senderID, Text: text}
	if err := validation.ValidateMessage(m); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	saved, err := c.backend.AppendMessage(m)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Message{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		return models.Message{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	metrics.MessagesCreated.Inc()
	if err := c.backend.UpdateConversationMeta(conversationID, saved.Text, saved.TS); err != nil {
		logger.Warn("conversation_meta_update_failed", "conversation", conversationID, "error", err)
	}
	return saved, nil
}

// GetOrCreateConversation resolves the conversation for an unordered
// participant pair, creating it when absent. Idempotent: both
// participant orders resolve to the same row.
func (c *Client) GetOrCreateConversation(ctx context.Context, userA, userB string) (models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return models.Conversation{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := validation.ValidateParticipants(userA, userB); err != nil {
		return models.Conversation{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	conv, err := c.backend.FindConversationByPair(userA, userB)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.Conversation{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	conv, err = c.backend.CreateConversation(models.Conversation{Participant1: userA, Participant2: userB})
	if err != nil {
		return models.Conversation{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return conv, nil
}

// Conversation returns one conversation by id. Absence is reported as
// ErrWriteFailed so callers can distinguish a bad id from an unreachable
// store.
func (c *Client) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return models.Conversation{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	conv, err := c.backend.GetConversation(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Conversation{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		return models.Conversation{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return conv, nil
}

// Conversations returns every conversation sorted by last-message time,
// newest first. The denormalized fields drive the ordering; they are not
// authoritative for any detail view.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	out, err := c.backend.ListConversations()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageTime.After(out[j].LastMessageTime)
	})
	return out, nil
}
