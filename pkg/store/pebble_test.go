package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chatsync/pkg/models"
)

func openTest(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db"), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateConversationIdempotentBothOrders(t *testing.T) {
	s := openTest(t)
	c1, err := s.CreateConversation(models.Conversation{Participant1: "alice", Participant2: "bob"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if c1.ID == "" || c1.CreatedAt.IsZero() {
		t.Fatalf("missing assigned fields: %+v", c1)
	}
	// Reversed participant order must resolve to the same conversation.
	c2, err := s.CreateConversation(models.Conversation{Participant1: "bob", Participant2: "alice"})
	if err != nil {
		t.Fatalf("CreateConversation reversed: %v", err)
	}
	if c2.ID != c1.ID {
		t.Fatalf("pair produced two conversations: %s vs %s", c1.ID, c2.ID)
	}
	got, err := s.FindConversationByPair("bob", "alice")
	if err != nil || got.ID != c1.ID {
		t.Fatalf("FindConversationByPair: %v (%+v)", err, got)
	}
}

func TestFindConversationNotFound(t *testing.T) {
	s := openTest(t)
	_, err := s.FindConversationByPair("x", "y")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = s.GetConversation("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendAndListMessages(t *testing.T) {
	s := openTest(t)
	c, _ := s.CreateConversation(models.Conversation{Participant1: "alice", Participant2: "bob"})

	m1, err := s.AppendMessage(models.Message{Conversation: c.ID, Sender: "alice", Text: "hi"})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if m1.ID == "" || models.IsTempID(m1.ID) {
		t.Fatalf("store did not assign a real id: %q", m1.ID)
	}
	if m1.TS.IsZero() {
		t.Fatal("store did not assign a timestamp")
	}
	m2, _ := s.AppendMessage(models.Message{Conversation: c.ID, Sender: "bob", Text: "yo"})

	msgs, err := s.ListMessages(c.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != m1.ID || msgs[1].ID != m2.ID {
		t.Fatalf("unexpected listing: %+v", msgs)
	}

	limited, _ := s.ListMessages(c.ID, 1)
	if len(limited) != 1 || limited[0].ID != m2.ID {
		t.Fatalf("limit should keep the latest message: %+v", limited)
	}
}

func TestAppendMessageRequiresConversation(t *testing.T) {
	s := openTest(t)
	_, err := s.AppendMessage(models.Message{Conversation: "ghost", Sender: "alice", Text: "hi"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendMessageReplacesTempID(t *testing.T) {
	s := openTest(t)
	c, _ := s.CreateConversation(models.Conversation{Participant1: "alice", Participant2: "bob"})
	m, err := s.AppendMessage(models.Message{
		ID: models.NewTempID(time.Now()), Conversation: c.ID, Sender: "alice", Text: "hi",
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if models.IsTempID(m.ID) {
		t.Fatalf("temp id leaked into committed row: %q", m.ID)
	}
}

func TestCommitHookFires(t *testing.T) {
	var got []models.Message
	s := openTest(t, WithCommitHook(func(m models.Message) { got = append(got, m) }))
	c, _ := s.CreateConversation(models.Conversation{Participant1: "alice", Participant2: "bob"})
	m, _ := s.AppendMessage(models.Message{Conversation: c.ID, Sender: "alice", Text: "hi"})
	if len(got) != 1 || got[0].ID != m.ID {
		t.Fatalf("commit hook saw %+v", got)
	}
}

func TestUpdateConversationMeta(t *testing.T) {
	s := openTest(t)
	c, _ := s.CreateConversation(models.Conversation{Participant1: "alice", Participant2: "bob"})
	at := time.Now().UTC().Truncate(time.Second)
	if err := s.UpdateConversationMeta(c.ID, "latest", at); err != nil {
		t.Fatalf("UpdateConversationMeta: %v", err)
	}
	got, _ := s.GetConversation(c.ID)
	if got.LastMessage != "latest" || !got.LastMessageTime.Equal(at) {
		t.Fatalf("meta not updated: %+v", got)
	}
}

func TestDeleteMessagesBefore(t *testing.T) {
	s := openTest(t)
	c, _ := s.CreateConversation(models.Conversation{Participant1: "alice", Participant2: "bob"})
	old := time.Now().UTC().Add(-48 * time.Hour)
	if _, err := s.AppendMessage(models.Message{Conversation: c.ID, Sender: "alice", Text: "old", TS: old}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	fresh, _ := s.AppendMessage(models.Message{Conversation: c.ID, Sender: "bob", Text: "new"})

	n, err := s.DeleteMessagesBefore(time.Now().UTC().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteMessagesBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged row, got %d", n)
	}
	left, _ := s.ListMessages(c.ID, 0)
	if len(left) != 1 || left[0].ID != fresh.ID {
		t.Fatalf("wrong survivor: %+v", left)
	}
}

func TestListConversations(t *testing.T) {
	s := openTest(t)
	if convs, err := s.ListConversations(); err != nil || len(convs) != 0 {
		t.Fatalf("empty store: %v (%d)", err, len(convs))
	}
	c1, _ := s.CreateConversation(models.Conversation{Participant1: "alice", Participant2: "bob"})
	c2, _ := s.CreateConversation(models.Conversation{Participant1: "alice", Participant2: "carol"})
	convs, err := s.ListConversations()
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	seen := map[string]bool{}
	for _, c := range convs {
		seen[c.ID] = true
	}
	if !seen[c1.ID] || !seen[c2.ID] {
		t.Fatalf("missing conversations: %+v", convs)
	}
}

func TestClosedStore(t *testing.T) {
	s := openTest(t)
	_ = s.Close()
	if _, err := s.ListMessages("c", 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := s.AppendMessage(models.Message{Conversation: "c"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
