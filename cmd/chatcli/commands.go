package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vovakirdan/wirechat-realtime/internal/client"
	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

const helpText = `commands:
  <text>                      send to the active room
  /join contact <id>          chat with a contact
  /join conversation <id>     chat in a group conversation
  /typing | /stop             toggle the typing indicator
  /read <message-id> <sender-id>
  /reconnect | /disconnect
  /quit`

type commandKind int

const (
	cmdSend commandKind = iota
	cmdJoin
	cmdReconnect
	cmdDisconnect
	cmdHelp
	cmdQuit
)

type command struct {
	kind      commandKind
	target    proto.RoomTarget
	frameType string
	data      any
}

var errNoRoom = errors.New("no active room, use /join first")

func parseLine(line string, active proto.RoomTarget) (command, error) {
	hasRoom := active.ContactID != 0 || active.ConversationID != ""

	if !strings.HasPrefix(line, "/") {
		if !hasRoom {
			return command{}, errNoRoom
		}
		return command{kind: cmdSend, frameType: proto.InboundTypeSendMessage, data: proto.SendMessageData{
			RecipientID:    active.ContactID,
			ConversationID: active.ConversationID,
			Content:        line,
		}}, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return command{kind: cmdQuit}, nil
	case "/help":
		return command{kind: cmdHelp}, nil
	case "/reconnect":
		return command{kind: cmdReconnect}, nil
	case "/disconnect":
		return command{kind: cmdDisconnect}, nil
	case "/join":
		if len(fields) != 3 {
			return command{}, errors.New("usage: /join contact <id> | /join conversation <id>")
		}
		switch fields[1] {
		case "contact":
			id, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil || id <= 0 {
				return command{}, fmt.Errorf("invalid contact id %q", fields[2])
			}
			return command{kind: cmdJoin, target: proto.RoomTarget{ContactID: id}}, nil
		case "conversation":
			return command{kind: cmdJoin, target: proto.RoomTarget{ConversationID: fields[2]}}, nil
		default:
			return command{}, fmt.Errorf("unknown room kind %q", fields[1])
		}
	case "/typing", "/stop":
		if !hasRoom {
			return command{}, errNoRoom
		}
		if fields[0] == "/stop" {
			return command{kind: cmdSend, frameType: proto.InboundTypeStopTyping, data: active}, nil
		}
		return command{kind: cmdSend, frameType: proto.InboundTypeTyping, data: proto.TypingData{RoomTarget: active}}, nil
	case "/read":
		if len(fields) != 3 {
			return command{}, errors.New("usage: /read <message-id> <sender-id>")
		}
		msgID, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return command{}, fmt.Errorf("invalid message id %q", fields[1])
		}
		senderID, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return command{}, fmt.Errorf("invalid sender id %q", fields[2])
		}
		return command{kind: cmdSend, frameType: proto.InboundTypeMarkAsRead, data: proto.MarkAsReadData{MessageID: msgID, SenderID: senderID}}, nil
	default:
		return command{}, fmt.Errorf("unknown command %s", fields[0])
	}
}

// render formats a server frame for the terminal.
func render(f client.Frame) string {
	if f.Type == proto.OutboundTypeError {
		if f.Error == nil {
			return "! error"
		}
		return fmt.Sprintf("! %s: %s", f.Error.Code, f.Error.Message)
	}

	switch f.Event {
	case proto.EventMessageReceived:
		var evt proto.MessageReceived
		if err := f.Decode(&evt); err != nil {
			break
		}
		return fmt.Sprintf("[%s] #%d %s: %s", evt.RoomID, evt.ID, evt.SenderName, evt.Content)
	case proto.EventRoomJoined:
		var evt proto.RoomJoined
		if err := f.Decode(&evt); err != nil {
			break
		}
		return fmt.Sprintf("* joined %s", evt.RoomName)
	case proto.EventRoomLeft:
		var evt proto.RoomLeft
		if err := f.Decode(&evt); err != nil {
			break
		}
		return fmt.Sprintf("* left %s", evt.RoomName)
	case proto.EventUserTyping:
		var evt proto.UserTyping
		if err := f.Decode(&evt); err != nil {
			break
		}
		if evt.IsTyping {
			return fmt.Sprintf("* %s is typing...", evt.UserName)
		}
		return fmt.Sprintf("* %s stopped typing", evt.UserName)
	case proto.EventMessageRead:
		var evt proto.MessageRead
		if err := f.Decode(&evt); err != nil {
			break
		}
		return fmt.Sprintf("* message #%d read by %d", evt.MessageID, evt.ReadBy)
	case proto.EventUserOnline, proto.EventUserOffline:
		var evt proto.UserPresence
		if err := f.Decode(&evt); err != nil {
			break
		}
		return fmt.Sprintf("* %s is %s", evt.UserName, strings.TrimPrefix(f.Event, "user-"))
	case proto.EventOnlineUsers:
		var users []proto.OnlineUser
		if err := f.Decode(&users); err != nil {
			break
		}
		names := make([]string, 0, len(users))
		for _, u := range users {
			names = append(names, u.UserName)
		}
		if len(names) == 0 {
			return "* no contacts online"
		}
		return "* online: " + strings.Join(names, ", ")
	}
	return fmt.Sprintf("event=%s data=%s", f.Event, f.Data)
}
