package models

import "time"

// Conversation is a two-party chat channel. The participant pair is
// unordered: a conversation between A and B is the same conversation
// regardless of argument order, and at most one exists per pair. The
// last-message fields are denormalized for list sorting only; the
// message sequence is authoritative for the detail view.
type Conversation struct {
	ID              string    `json:"id"`
	Participant1    string    `json:"participant1_id"`
	Participant2    string    `json:"participant2_id"`
	LastMessage     string    `json:"last_message,omitempty"`
	LastMessageTime time.Time `json:"last_message_time,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// PairKey returns the canonical key for an unordered participant pair.
// PairKey(a, b) == PairKey(b, a).
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// Includes reports whether user is one of the two participants.
func (c Conversation) Includes(user string) bool {
	return c.Participant1 == user || c.Participant2 == user
}

// Peer returns the other participant relative to user. Returns an empty
// string when user is not a participant.
func (c Conversation) Peer(user string) string {
	switch user {
	case c.Participant1:
		return c.Participant2
	case c.Participant2:
		return c.Participant1
	}
	return ""
}
