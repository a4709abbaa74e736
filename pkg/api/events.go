package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/valyala/bytebufferpool"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/utils"
)

// streamEvents relays the conversation's push feed as server-sent
// events, one `message` event per committed row. The stream ends when
// the client disconnects or the subscription is lost; clients that want
// to resume re-fetch history and reconnect.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "event feed disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.JSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.client.Conversation(r.Context(), id); err != nil {
		writeClientError(w, err)
		return
	}

	// Bridge the hub's delivery goroutine into this handler's goroutine.
	// The channel mirrors the hub's own buffering; if the HTTP client
	// stalls past both buffers the hub detaches the subscription.
	events := make(chan models.Message, 16)
	done := make(chan struct{})
	defer close(done)
	sub, err := s.hub.Subscribe(id, func(m models.Message) {
		select {
		case events <- m:
		case <-done:
		}
	})
	if err != nil {
		utils.JSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	logger.Debug("event_stream_opened", "conversation", id)

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("event_stream_closed", "conversation", id)
			return
		case <-sub.Lost():
			// Tell the client the feed went stale before ending the
			// stream, so it knows to re-fetch rather than trust its view.
			_, _ = w.Write([]byte("event: lost\ndata: {}\n\n"))
			flusher.Flush()
			logger.Warn("event_stream_lost", "conversation", id)
			return
		case m := <-events:
			if err := writeEvent(w, m); err != nil {
				logger.Debug("event_stream_write_failed", "conversation", id, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, m models.Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	_, _ = buf.WriteString("event: message\ndata: ")
	_, _ = buf.Write(payload)
	_, _ = buf.WriteString("\n\n")
	_, err = w.Write(buf.B)
	return err
}
