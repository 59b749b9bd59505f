package core

import "time"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventMessageReceived delivers a chat message to room members.
	EventMessageReceived EventKind = iota
	// EventRoomJoined confirms a join to the requesting connection.
	EventRoomJoined
	// EventRoomLeft confirms a leave to the requesting connection.
	EventRoomLeft
	// EventMessageRead notifies the sender that a message was read.
	EventMessageRead
	// EventUserTyping notifies room members about typing state changes.
	EventUserTyping
	// EventUserOnline notifies contacts that a user came online.
	EventUserOnline
	// EventUserOffline notifies contacts that a user went offline.
	EventUserOffline
	// EventOnlineUsers delivers the online contacts snapshot after connect.
	EventOnlineUsers
	// EventError notifies the requester about a domain error.
	EventError
)

var eventKindNames = [...]string{
	EventMessageReceived: "message-received",
	EventRoomJoined:      "room-joined",
	EventRoomLeft:        "room-left",
	EventMessageRead:     "message-read",
	EventUserTyping:      "user-typing",
	EventUserOnline:      "user-online",
	EventUserOffline:     "user-offline",
	EventOnlineUsers:     "online-users",
	EventError:           "error",
}

// String returns the wire name of the event.
func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// UserRef identifies the user an event is about.
type UserRef struct {
	ID   int64
	Name string
}

// Receipt describes a read receipt.
type Receipt struct {
	MessageID int64
	ReadBy    int64
	ReadAt    time.Time
}

// OnlineUser is one entry of the online-users snapshot.
type OnlineUser struct {
	UserID   int64
	Name     string
	LastSeen time.Time
	IsTyping bool
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Room     string
	Selector RoomSelector
	User     UserRef
	Message  Message
	Receipt  *Receipt
	IsTyping bool
	Online   []OnlineUser
	Error    *CoreError
	At       time.Time
}

func errorEvent(err *CoreError) *Event {
	return &Event{Kind: EventError, Error: err}
}
