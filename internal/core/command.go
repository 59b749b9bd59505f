package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinRoom subscribes the connection to a direct or group room.
	CommandJoinRoom CommandKind = iota
	// CommandLeaveRoom unsubscribes the connection from a room.
	CommandLeaveRoom
	// CommandSendMessage persists a chat message and fans it out.
	CommandSendMessage
	// CommandTyping starts or stops the typing indicator.
	CommandTyping
	// CommandStopTyping stops the typing indicator.
	CommandStopTyping
	// CommandMarkAsRead stores a read receipt and notifies the sender.
	CommandMarkAsRead
)

// RoomSelector addresses a room from the client's point of view: either a
// contact (direct room) or a conversation (group room).
type RoomSelector struct {
	ContactID      int64
	ConversationID string
}

// IsDirect reports whether the selector addresses a direct room.
func (s RoomSelector) IsDirect() bool {
	return s.ConversationID == ""
}

// Valid reports whether exactly one target is set.
func (s RoomSelector) Valid() bool {
	return (s.ContactID > 0) != (s.ConversationID != "")
}

// Command represents an action requested by a client.
type Command struct {
	Kind        CommandKind
	Target      RoomSelector
	Room        string // leave-room only
	Content     string
	MessageType string
	IsTyping    bool
	MessageID   int64
	SenderID    int64
}
