package validation

import (
	"errors"
	"fmt"
	"strings"

	"chatsync/pkg/models"
)

// MaxTextLen bounds message bodies, inline media payloads included.
// Overridable from config via SetMaxTextLen.
var maxTextLen = 8192

// SetMaxTextLen overrides the maximum accepted text body length. Values
// <= 0 are ignored.
func SetMaxTextLen(n int) {
	if n > 0 {
		maxTextLen = n
	}
}

// ValidateText checks a message body: non-blank, within the length
// bound, and with no unterminated inline media payload.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("text is required")
	}
	if len(text) > maxTextLen {
		return fmt.Errorf("text too long: %d > %d", len(text), maxTextLen)
	}
	if models.HasUnterminatedMedia(text) {
		return errors.New("unterminated media payload")
	}
	return nil
}

// ValidateParticipants checks a conversation's participant pair.
func ValidateParticipants(a, b string) error {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return errors.New("both participants are required")
	}
	if a == b {
		return errors.New("participants must be distinct")
	}
	return nil
}

// ValidateMessage checks a message prior to persistence.
func ValidateMessage(m models.Message) error {
	if m.Conversation == "" {
		return errors.New("conversation_id is required")
	}
	if m.Sender == "" {
		return errors.New("sender_id is required")
	}
	return ValidateText(m.Text)
}
