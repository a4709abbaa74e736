package models

import (
	"fmt"
	"strings"
	"time"
)

// Message is one entry in a two-party conversation. IDs are assigned by
// the store on commit; a message that has not been confirmed yet carries
// a locally generated temporary id instead (see NewTempID).
type Message struct {
	ID           string    `json:"id"`
	Conversation string    `json:"conversation_id"`
	Sender       string    `json:"sender_id"`
	Text         string    `json:"text"`
	TS           time.Time `json:"timestamp"`
	// Read is advisory only; nothing in the sync core enforces it.
	Read bool `json:"read,omitempty"`
}

// TempIDPrefix marks locally generated identifiers for not-yet-confirmed
// messages.
const TempIDPrefix = "temp-"

// NewTempID returns a fresh temporary message id derived from the local
// clock.
func NewTempID(now time.Time) string {
	return fmt.Sprintf("%s%d", TempIDPrefix, now.UnixNano())
}

// IsTempID reports whether id is a temporary (unconfirmed) identifier.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Inline media rides inside the text body as a delimited substring. The
// convention is shared with clients; the sync core treats the payload as
// opaque.
const (
	mediaOpen  = "[MEDIA]"
	mediaClose = "[/MEDIA]"
)

// WrapMedia embeds a media payload into a message text body.
func WrapMedia(payload string) string {
	return mediaOpen + payload + mediaClose
}

// MediaPayload extracts the inline media payload from a text body. The
// second return is false when the body carries no well-formed payload.
func MediaPayload(text string) (string, bool) {
	start := strings.Index(text, mediaOpen)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(mediaOpen):]
	end := strings.Index(rest, mediaClose)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// HasUnterminatedMedia reports whether the body opens a media payload it
// never closes. Such bodies are rejected at validation.
func HasUnterminatedMedia(text string) bool {
	start := strings.Index(text, mediaOpen)
	if start < 0 {
		return false
	}
	return !strings.Contains(text[start+len(mediaOpen):], mediaClose)
}
