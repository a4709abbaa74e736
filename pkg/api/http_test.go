package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatsync/pkg/client"
	"chatsync/pkg/feed"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
)

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *client.Client) {
	t.Helper()
	hub := feed.NewHub()
	t.Cleanup(hub.Close)
	st, err := store.Open(filepath.Join(t.TempDir(), "db"), store.WithCommitHook(hub.Publish))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	c := client.New(st)
	ts := httptest.NewServer(NewServer(c, hub, opts...).Handler())
	t.Cleanup(ts.Close)
	return ts, c
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestConversationLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/conversations", `{"participant1":"alice","participant2":"bob"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var conv models.Conversation
	decode(t, resp, &conv)
	if conv.ID == "" {
		t.Fatal("missing conversation id")
	}

	// Reversed order resolves to the same conversation.
	resp = postJSON(t, ts.URL+"/v1/conversations", `{"participant1":"bob","participant2":"alice"}`)
	var again models.Conversation
	decode(t, resp, &again)
	if again.ID != conv.ID {
		t.Fatalf("pair resolved twice: %s vs %s", conv.ID, again.ID)
	}

	resp = postJSON(t, ts.URL+"/v1/conversations/"+conv.ID+"/messages", `{"sender_id":"alice","text":"hello"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("message status = %d", resp.StatusCode)
	}
	var m models.Message
	decode(t, resp, &m)
	if m.ID == "" || m.TS.IsZero() {
		t.Fatalf("missing server-assigned fields: %+v", m)
	}

	listResp, err := http.Get(ts.URL + "/v1/conversations/" + conv.ID + "/messages")
	if err != nil {
		t.Fatalf("GET messages: %v", err)
	}
	var list struct {
		Messages []models.Message `json:"messages"`
	}
	decode(t, listResp, &list)
	if len(list.Messages) != 1 || list.Messages[0].ID != m.ID {
		t.Fatalf("unexpected listing: %+v", list.Messages)
	}

	getResp, err := http.Get(ts.URL + "/v1/conversations/" + conv.ID)
	if err != nil {
		t.Fatalf("GET conversation: %v", err)
	}
	var got models.Conversation
	decode(t, getResp, &got)
	if got.LastMessage != "hello" {
		t.Fatalf("meta not denormalized: %+v", got)
	}
}

func TestCreateConversationValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/v1/conversations", `{"participant1":"alice","participant2":"alice"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateMessageUnknownConversation(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/v1/conversations/nope/messages", `{"sender_id":"alice","text":"hi"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListMessagesLimit(t *testing.T) {
	ts, c := newTestServer(t)
	ctx := context.Background()
	conv, err := c.GetOrCreateConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}
	for _, txt := range []string{"one", "two", "three"} {
		if _, err := c.CreateMessage(ctx, conv.ID, "alice", txt); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}
	resp, err := http.Get(ts.URL + "/v1/conversations/" + conv.ID + "/messages?limit=2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var list struct {
		Messages []models.Message `json:"messages"`
	}
	decode(t, resp, &list)
	if len(list.Messages) != 2 || list.Messages[0].Text != "two" {
		t.Fatalf("limit not applied to the tail: %+v", list.Messages)
	}
}

func TestEventStreamDeliversInsert(t *testing.T) {
	ts, c := newTestServer(t)
	ctx := context.Background()
	conv, err := c.GetOrCreateConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/conversations/"+conv.ID+"/events", nil)
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := http.DefaultClient.Do(req.WithContext(reqCtx))
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Commit a message after the stream is open; read the event frame.
	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = c.CreateMessage(ctx, conv.ID, "alice", "streamed")
	}()

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if data == "" {
		t.Fatal("no event data received")
	}
	var m models.Message
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		t.Fatalf("event payload: %v", err)
	}
	if m.Text != "streamed" || m.Conversation != conv.ID {
		t.Fatalf("wrong event payload: %+v", m)
	}
}

func TestEventStreamUnknownConversation(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v1/conversations/nope/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRateLimitRejects(t *testing.T) {
	ts, _ := newTestServer(t, WithRateLimit(1, 2))
	var limited bool
	for i := 0; i < 10; i++ {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("burst never rate limited")
	}
}
