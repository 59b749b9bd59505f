package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello       = "hello"
	InboundTypeJoinRoom    = "join-room"
	InboundTypeLeaveRoom   = "leave-room"
	InboundTypeSendMessage = "send-message"
	InboundTypeTyping      = "typing"
	InboundTypeStopTyping  = "stop-typing"
	InboundTypeMarkAsRead  = "mark-as-read"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// Outbound event names.
const (
	EventRoomJoined      = "room-joined"
	EventRoomLeft        = "room-left"
	EventMessageReceived = "message-received"
	EventMessageRead     = "message-read"
	EventUserTyping      = "user-typing"
	EventUserOnline      = "user-online"
	EventUserOffline     = "user-offline"
	EventOnlineUsers     = "online-users"
)

// HelloData is sent by the client to authenticate when the token was not
// supplied on the upgrade request.
type HelloData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// RoomTarget addresses a direct room by contact or a group room by conversation.
type RoomTarget struct {
	ContactID      int64  `json:"contactId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// LeaveRoomData names the room to leave. A target may be given instead of the id.
type LeaveRoomData struct {
	RoomID string `json:"roomId,omitempty"`
	RoomTarget
}

// SendMessageData is a chat message from the client.
type SendMessageData struct {
	RecipientID    int64  `json:"recipientId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType,omitempty"`
}

// TypingData toggles the typing indicator.
type TypingData struct {
	RoomTarget
	IsTyping *bool `json:"isTyping,omitempty"`
}

// MarkAsReadData acknowledges a message.
type MarkAsReadData struct {
	MessageID int64 `json:"messageId"`
	SenderID  int64 `json:"senderId"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// RoomJoined confirms a join to the requesting connection.
type RoomJoined struct {
	RoomName       string `json:"roomName"`
	ContactID      int64  `json:"contactId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// RoomLeft confirms a leave to the requesting connection.
type RoomLeft struct {
	RoomName string `json:"roomName"`
}

// MessageReceived carries a persisted chat message.
type MessageReceived struct {
	ID             int64  `json:"id"`
	Content        string `json:"content"`
	SenderID       int64  `json:"senderId"`
	SenderName     string `json:"senderName"`
	RecipientID    int64  `json:"recipientId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	RoomID         string `json:"roomId"`
	MessageType    string `json:"messageType"`
	Timestamp      string `json:"timestamp"`
}

// MessageRead tells the sender a message was read.
type MessageRead struct {
	MessageID int64  `json:"messageId"`
	ReadBy    int64  `json:"readBy"`
	ReadAt    string `json:"readAt"`
}

// UserTyping reports a typing state change.
type UserTyping struct {
	UserID         int64  `json:"userId"`
	UserName       string `json:"userName"`
	ContactID      int64  `json:"contactId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	RoomID         string `json:"roomId"`
	IsTyping       bool   `json:"isTyping"`
	Timestamp      string `json:"timestamp"`
}

// UserPresence is the payload of user-online and user-offline.
type UserPresence struct {
	UserID    int64  `json:"userId"`
	UserName  string `json:"userName"`
	Timestamp string `json:"timestamp"`
}

// OnlineUser is one entry of the online-users snapshot.
type OnlineUser struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
	LastSeen string `json:"lastSeen,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
