// Package api exposes the conversation store over HTTP: JSON endpoints
// for conversations and messages plus a server-sent-events stream that
// relays the push feed.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"chatsync/pkg/client"
	"chatsync/pkg/feed"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/utils"

	"github.com/gorilla/mux"
)

// Server serves the HTTP surface over the store client and the push hub.
type Server struct {
	client  *client.Client
	hub     *feed.Hub
	limiter *limiterPool
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit enables per-client-IP request limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		s.limiter = &limiterPool{rps: rps, burst: burst}
	}
}

// NewServer builds the server. The hub may be nil; the events endpoint
// then responds 503.
func NewServer(c *client.Client, h *feed.Hub, opts ...Option) *Server {
	s := &Server{client: c, hub: h}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/conversations", s.createConversation).Methods(http.MethodPost)
	v1.HandleFunc("/conversations", s.listConversations).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}", s.getConversation).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/messages", s.createMessage).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/messages", s.listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/events", s.streamEvents).Methods(http.MethodGet)

	if s.limiter != nil {
		return s.limiter.middleware(r)
	}
	return r
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Participant1 string `json:"participant1"`
		Participant2 string `json:"participant2"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	conv, err := s.client.GetOrCreateConversation(r.Context(), body.Participant1, body.Participant2)
	if err != nil {
		writeClientError(w, err)
		return
	}
	logger.Info("conversation_resolved", "id", conv.ID, "p1", conv.Participant1, "p2", conv.Participant2)
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.client.Conversations(r.Context())
	if err != nil {
		writeClientError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversations []models.Conversation `json:"conversations"`
	}{Conversations: convs})
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	conv, err := s.client.Conversation(r.Context(), id)
	if err != nil {
		writeClientError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Sender string `json:"sender_id"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := s.client.CreateMessage(r.Context(), id, body.Sender, body.Text)
	if err != nil {
		writeClientError(w, err)
		return
	}
	logger.Info("message_created", "conversation", id, "id", m.ID)
	_ = utils.JSONWrite(w, http.StatusCreated, m)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msgs, err := s.client.FetchHistory(r.Context(), id)
	if err != nil {
		writeClientError(w, err)
		return
	}
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		if lim, err := strconv.Atoi(limStr); err == nil && lim >= 0 && lim < len(msgs) {
			msgs = msgs[len(msgs)-lim:]
		}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversation string           `json:"conversation_id"`
		Messages     []models.Message `json:"messages"`
	}{Conversation: id, Messages: msgs})
}

// writeClientError maps the client's two error classes onto status
// codes: rejected writes are the caller's fault, everything else is the
// store's.
func writeClientError(w http.ResponseWriter, err error) {
	if errors.Is(err, client.ErrWriteFailed) {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.JSONError(w, http.StatusServiceUnavailable, err.Error())
}
