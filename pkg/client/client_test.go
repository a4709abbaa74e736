package client

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chatsync/pkg/store"
)

func newTestClient(t *testing.T) (*Client, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st), st
}

func TestGetOrCreateConversationIdempotent(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	c1, err := c.GetOrCreateConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}
	c2, err := c.GetOrCreateConversation(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("GetOrCreateConversation reversed: %v", err)
	}
	if c1.ID != c2.ID {
		t.Fatalf("pair resolved to two conversations: %s vs %s", c1.ID, c2.ID)
	}
}

func TestGetOrCreateConversationRejectsSelf(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.GetOrCreateConversation(context.Background(), "alice", "alice")
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
}

func TestCreateMessageUpdatesConversationMeta(t *testing.T) {
	c, st := newTestClient(t)
	ctx := context.Background()
	conv, _ := c.GetOrCreateConversation(ctx, "alice", "bob")

	m, err := c.CreateMessage(ctx, conv.ID, "alice", "hello there")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if m.ID == "" || m.TS.IsZero() {
		t.Fatalf("missing server-assigned fields: %+v", m)
	}
	got, _ := st.GetConversation(conv.ID)
	if got.LastMessage != "hello there" || !got.LastMessageTime.Equal(m.TS) {
		t.Fatalf("denormalized fields not updated: %+v", got)
	}
}

func TestCreateMessageValidation(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	conv, _ := c.GetOrCreateConversation(ctx, "alice", "bob")

	_, err := c.CreateMessage(ctx, conv.ID, "alice", "   ")
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed for blank text, got %v", err)
	}
	_, err = c.CreateMessage(ctx, "ghost", "alice", "hi")
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed for unknown conversation, got %v", err)
	}
}

func TestConversationLookup(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	conv, _ := c.GetOrCreateConversation(ctx, "alice", "bob")

	got, err := c.Conversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if got.ID != conv.ID {
		t.Fatalf("wrong conversation: %+v", got)
	}
	if _, err := c.Conversation(ctx, "ghost"); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed for unknown id, got %v", err)
	}
}

func TestStoreUnavailable(t *testing.T) {
	c, st := newTestClient(t)
	ctx := context.Background()
	conv, _ := c.GetOrCreateConversation(ctx, "alice", "bob")
	_ = st.Close()

	if _, err := c.FetchHistory(ctx, conv.ID); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := c.CreateMessage(ctx, conv.ID, "alice", "hi"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestConversationsSortedByLastMessage(t *testing.T) {
	c, st := newTestClient(t)
	ctx := context.Background()

	c1, _ := c.GetOrCreateConversation(ctx, "alice", "bob")
	c2, _ := c.GetOrCreateConversation(ctx, "alice", "carol")
	_ = st.UpdateConversationMeta(c1.ID, "older", time.Now().UTC().Add(-time.Hour))
	_ = st.UpdateConversationMeta(c2.ID, "newer", time.Now().UTC())

	list, err := c.Conversations(ctx)
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(list) != 2 || list[0].ID != c2.ID || list[1].ID != c1.ID {
		t.Fatalf("wrong ordering: %+v", list)
	}
}
