package http

import (
	"encoding/json"
	"time"

	"github.com/vovakirdan/wirechat-realtime/internal/core"
	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

const errCodeInvalidMessage = "invalid_message"

func target(t proto.RoomTarget) core.RoomSelector {
	return core.RoomSelector{ContactID: t.ContactID, ConversationID: t.ConversationID}
}

func badRequest(msg string) *proto.Error {
	return &proto.Error{Code: core.ErrCodeBadRequest, Message: msg}
}

// inboundToCommand decodes a client frame. A non-nil proto.Error is reported
// to the client and the connection stays open.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	decode := func(v any) *proto.Error {
		if len(inbound.Data) == 0 {
			return badRequest("data is required")
		}
		if err := json.Unmarshal(inbound.Data, v); err != nil {
			return &proto.Error{Code: errCodeInvalidMessage, Message: "malformed data"}
		}
		return nil
	}

	switch inbound.Type {
	case proto.InboundTypeJoinRoom:
		var data proto.RoomTarget
		if perr := decode(&data); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandJoinRoom, Target: target(data)}, nil
	case proto.InboundTypeLeaveRoom:
		var data proto.LeaveRoomData
		if perr := decode(&data); perr != nil {
			return nil, perr
		}
		if data.RoomID == "" && !target(data.RoomTarget).Valid() {
			return nil, badRequest("roomId is required")
		}
		return &core.Command{Kind: core.CommandLeaveRoom, Room: data.RoomID, Target: target(data.RoomTarget)}, nil
	case proto.InboundTypeSendMessage:
		var data proto.SendMessageData
		if perr := decode(&data); perr != nil {
			return nil, perr
		}
		return &core.Command{
			Kind:        core.CommandSendMessage,
			Target:      core.RoomSelector{ContactID: data.RecipientID, ConversationID: data.ConversationID},
			Content:     data.Content,
			MessageType: data.MessageType,
		}, nil
	case proto.InboundTypeTyping:
		var data proto.TypingData
		if perr := decode(&data); perr != nil {
			return nil, perr
		}
		typing := true
		if data.IsTyping != nil {
			typing = *data.IsTyping
		}
		return &core.Command{Kind: core.CommandTyping, Target: target(data.RoomTarget), IsTyping: typing}, nil
	case proto.InboundTypeStopTyping:
		var data proto.RoomTarget
		if perr := decode(&data); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandStopTyping, Target: target(data)}, nil
	case proto.InboundTypeMarkAsRead:
		var data proto.MarkAsReadData
		if perr := decode(&data); perr != nil {
			return nil, perr
		}
		if data.MessageID <= 0 {
			return nil, badRequest("messageId is required")
		}
		return &core.Command{Kind: core.CommandMarkAsRead, MessageID: data.MessageID, SenderID: data.SenderID}, nil
	case proto.InboundTypeHello:
		return nil, badRequest("already authenticated")
	default:
		return nil, &proto.Error{Code: errCodeInvalidMessage, Message: "unknown message type"}
	}
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func event(name string, data any) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: data}
}

func errorOutbound(code, msg string) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: code, Message: msg}}
}

func messageFromCore(msg core.Message) proto.MessageReceived {
	return proto.MessageReceived{
		ID:             msg.ID,
		Content:        msg.Content,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		RecipientID:    msg.RecipientID,
		ConversationID: msg.ConversationID,
		RoomID:         msg.RoomID,
		MessageType:    msg.Type,
		Timestamp:      timestamp(msg.CreatedAt),
	}
}

func outboundFromEvent(ev *core.Event) proto.Outbound {
	switch ev.Kind {
	case core.EventRoomJoined:
		return event(proto.EventRoomJoined, proto.RoomJoined{
			RoomName:       ev.Room,
			ContactID:      ev.Selector.ContactID,
			ConversationID: ev.Selector.ConversationID,
		})
	case core.EventRoomLeft:
		return event(proto.EventRoomLeft, proto.RoomLeft{RoomName: ev.Room})
	case core.EventMessageReceived:
		return event(proto.EventMessageReceived, messageFromCore(ev.Message))
	case core.EventMessageRead:
		if ev.Receipt == nil {
			return errorOutbound(core.ErrCodeInternal, "internal error")
		}
		return event(proto.EventMessageRead, proto.MessageRead{
			MessageID: ev.Receipt.MessageID,
			ReadBy:    ev.Receipt.ReadBy,
			ReadAt:    timestamp(ev.Receipt.ReadAt),
		})
	case core.EventUserTyping:
		data := proto.UserTyping{
			UserID:   ev.User.ID,
			UserName: ev.User.Name,
			RoomID:   ev.Room,
			IsTyping: ev.IsTyping,
		}
		// Seen from the receiver of a direct room, the contact is the typist.
		if ev.Selector.IsDirect() {
			data.ContactID = ev.User.ID
		} else {
			data.ConversationID = ev.Selector.ConversationID
		}
		data.Timestamp = timestamp(ev.At)
		return event(proto.EventUserTyping, data)
	case core.EventUserOnline, core.EventUserOffline:
		return event(ev.Kind.String(), proto.UserPresence{
			UserID:    ev.User.ID,
			UserName:  ev.User.Name,
			Timestamp: timestamp(ev.At),
		})
	case core.EventOnlineUsers:
		return event(proto.EventOnlineUsers, onlineUsers(ev.Online))
	case core.EventError:
		if ev.Error == nil {
			return errorOutbound("unknown", "unknown error")
		}
		return errorOutbound(ev.Error.Code, ev.Error.Message)
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: ev.Kind.String()}
	}
}

func onlineUsers(users []core.OnlineUser) []proto.OnlineUser {
	out := make([]proto.OnlineUser, 0, len(users))
	for _, u := range users {
		out = append(out, proto.OnlineUser{
			UserID:   u.UserID,
			UserName: u.Name,
			LastSeen: timestamp(u.LastSeen),
			IsTyping: u.IsTyping,
		})
	}
	return out
}
