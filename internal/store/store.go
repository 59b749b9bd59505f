package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a user known to the directory.
type User struct {
	ID          int64
	Username    string
	DisplayName string
	LastSeen    *time.Time
	CreatedAt   time.Time
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Conversation represents a group conversation owned outside the realtime core.
type Conversation struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Message represents a persisted chat message.
// Exactly one of RecipientID and ConversationID is set.
type Message struct {
	ID             int64
	RoomID         string
	SenderID       int64
	RecipientID    *int64
	ConversationID *string
	Content        string
	Type           string
	CreatedAt      time.Time
}

// ReadReceipt records that a user has read a message.
type ReadReceipt struct {
	MessageID int64
	UserID    int64
	ReadAt    time.Time
}

// UserStore handles user persistence and the contact graph.
type UserStore interface {
	// CreateUser creates a new user.
	CreateUser(ctx context.Context, username, displayName string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// TouchLastSeen stores the time the user was last online.
	TouchLastSeen(ctx context.Context, id int64, at time.Time) error

	// AddContact links two users as contacts in both directions.
	AddContact(ctx context.Context, userID, contactID int64) error

	// AreContacts reports whether two users are contacts.
	AreContacts(ctx context.Context, userID, contactID int64) (bool, error)

	// ListContacts lists the contacts of a user.
	ListContacts(ctx context.Context, userID int64) ([]*User, error)
}

// ConversationStore handles group conversations.
type ConversationStore interface {
	// CreateConversation creates a conversation with the given participants.
	CreateConversation(ctx context.Context, name string, participants []int64) (*Conversation, error)

	// GetConversation retrieves a conversation by ID.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// IsParticipant checks if user takes part in the conversation.
	IsParticipant(ctx context.Context, conversationID string, userID int64) (bool, error)
}

// MessageStore handles message and read receipt persistence.
type MessageStore interface {
	// SaveMessage persists a message and fills in its ID and CreatedAt.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// ListMessages retrieves messages from a room, newest first.
	// If beforeID is provided, returns messages older than that ID.
	ListMessages(ctx context.Context, roomID string, limit int, beforeID *int64) ([]*Message, error)

	// MarkRead stores a read receipt. Marking twice keeps the first receipt.
	MarkRead(ctx context.Context, messageID, userID int64, at time.Time) (*ReadReceipt, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ConversationStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
