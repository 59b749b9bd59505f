package core

import (
	"context"
	"time"

	"github.com/vovakirdan/wirechat-realtime/internal/store"
)

// TokenVerifier resolves an access token to the user it was issued for.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (userID int64, username string, err error)
}

// Directory answers who exists, who is whose contact and who takes part in a
// conversation. It is backed by the REST services' store.
type Directory interface {
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	AreContacts(ctx context.Context, userID, contactID int64) (bool, error)
	ListContacts(ctx context.Context, userID int64) ([]*store.User, error)
	TouchLastSeen(ctx context.Context, id int64, at time.Time) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	IsParticipant(ctx context.Context, conversationID string, userID int64) (bool, error)
}

// MessageStore is the durable message and read receipt store.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *store.Message) error
	GetMessage(ctx context.Context, id int64) (*store.Message, error)
	ListMessages(ctx context.Context, roomID string, limit int, beforeID *int64) ([]*store.Message, error)
	MarkRead(ctx context.Context, messageID, userID int64, at time.Time) (*store.ReadReceipt, error)
}
