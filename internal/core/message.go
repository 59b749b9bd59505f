package core

import "time"

// Message is the domain model for a chat message once it has been accepted.
// It is immutable after dispatch.
type Message struct {
	ID             int64
	RoomID         string
	SenderID       int64
	SenderName     string
	RecipientID    int64  // set for direct messages
	ConversationID string // set for group messages
	Content        string
	Type           string
	CreatedAt      time.Time
}
