package core

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-realtime/internal/store"
)

const (
	DefaultMaxMessageLength = 4000
	DefaultMessageType      = "text"
)

// Dispatcher validates, persists and fans out chat messages and read receipts.
type Dispatcher struct {
	rooms    *RoomRouter
	presence *PresenceRegistry
	dir      Directory
	messages MessageStore
	retry    RetryPolicy
	maxLen   int
	clock    clock.Clock
	log      *zerolog.Logger

	// Held from persist to fanout so a room's messages go out in send order.
	sequencers *keyLock[string]
}

// DispatcherConfig holds Dispatcher dependencies.
type DispatcherConfig struct {
	Rooms            *RoomRouter
	Presence         *PresenceRegistry
	Directory        Directory
	Messages         MessageStore
	Retry            RetryPolicy
	MaxMessageLength int
	Clock            clock.Clock
	Log              *zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Dispatcher{
		rooms:      cfg.Rooms,
		presence:   cfg.Presence,
		dir:        cfg.Directory,
		messages:   cfg.Messages,
		retry:      cfg.Retry,
		maxLen:     cfg.MaxMessageLength,
		clock:      cfg.Clock,
		log:        orNop(cfg.Log),
		sequencers: newKeyLock[string](),
	}
}

// SendMessage validates content, resolves the target, persists the message
// and fans it out to every connection currently in the room.
func (d *Dispatcher) SendMessage(ctx context.Context, conn *Connection, target RoomSelector, content, messageType string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, validationError(MsgEmptyContent)
	}
	if utf8.RuneCountInString(content) > d.maxLen {
		return nil, validationError(MsgContentTooLong)
	}
	if !target.Valid() {
		return nil, validationError(MsgMissingTarget)
	}
	if messageType == "" {
		messageType = DefaultMessageType
	}

	roomID, err := d.resolveTarget(ctx, conn.UserID, target)
	if err != nil {
		return nil, err
	}

	record := &store.Message{
		RoomID:   roomID,
		SenderID: conn.UserID,
		Content:  content,
		Type:     messageType,
	}
	if target.IsDirect() {
		recipientID := target.ContactID
		record.RecipientID = &recipientID
	} else {
		conversationID := target.ConversationID
		record.ConversationID = &conversationID
	}

	d.sequencers.Lock(roomID)
	defer d.sequencers.Unlock(roomID)

	record.CreatedAt = d.clock.Now()
	if err := d.retry.Do(ctx, func() error {
		record.ID = 0
		return d.messages.SaveMessage(ctx, record)
	}); err != nil {
		d.log.Error().Err(err).Int64("user_id", conn.UserID).Str("room", roomID).Msg("persist message failed")
		return nil, deliveryError(err)
	}

	msg := Message{
		ID:             record.ID,
		RoomID:         roomID,
		SenderID:       conn.UserID,
		SenderName:     conn.Name(),
		RecipientID:    target.ContactID,
		ConversationID: target.ConversationID,
		Content:        content,
		Type:           messageType,
		CreatedAt:      record.CreatedAt,
	}

	delivered := d.rooms.Broadcast(roomID, &Event{
		Kind:    EventMessageReceived,
		Room:    roomID,
		User:    UserRef{ID: conn.UserID, Name: conn.Name()},
		Message: msg,
		At:      msg.CreatedAt,
	}, nil)

	d.log.Debug().
		Int64("message_id", msg.ID).
		Int64("user_id", conn.UserID).
		Str("room", roomID).
		Int("delivered", delivered).
		Msg("message dispatched")

	return &msg, nil
}

// resolveTarget maps the target to a room the sender may write to.
func (d *Dispatcher) resolveTarget(ctx context.Context, senderID int64, target RoomSelector) (string, error) {
	if target.IsDirect() {
		if target.ContactID == senderID {
			return "", validationError(MsgInvalidContact)
		}
		var contacts bool
		err := d.retry.Do(ctx, func() error {
			if _, err := d.dir.GetUserByID(ctx, target.ContactID); err != nil {
				return err
			}
			var err error
			contacts, err = d.dir.AreContacts(ctx, senderID, target.ContactID)
			return err
		})
		switch {
		case errors.Is(err, store.ErrNotFound):
			return "", notFoundError(MsgRecipientNotFound)
		case err != nil:
			return "", unavailableError(err)
		case !contacts:
			return "", authorizationError(MsgInvalidContact)
		}
		return DeriveDirectRoomID(senderID, target.ContactID), nil
	}

	var participant bool
	err := d.retry.Do(ctx, func() error {
		if _, err := d.dir.GetConversation(ctx, target.ConversationID); err != nil {
			return err
		}
		var err error
		participant, err = d.dir.IsParticipant(ctx, target.ConversationID, senderID)
		return err
	})
	switch {
	case errors.Is(err, store.ErrNotFound), err == nil && !participant:
		return "", notFoundError(MsgRecipientNotFound)
	case err != nil:
		return "", unavailableError(err)
	}
	return target.ConversationID, nil
}

// MarkAsRead stores a read receipt and notifies only the original sender's
// connections.
func (d *Dispatcher) MarkAsRead(ctx context.Context, messageID, readerID, originalSenderID int64) (*Receipt, error) {
	if messageID <= 0 {
		return nil, validationError(MsgMessageNotFound)
	}

	var original *store.Message
	err := d.retry.Do(ctx, func() error {
		var err error
		original, err = d.messages.GetMessage(ctx, messageID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundError(MsgMessageNotFound)
	}
	if err != nil {
		return nil, unavailableError(err)
	}
	if originalSenderID != 0 && original.SenderID != originalSenderID {
		return nil, notFoundError(MsgMessageNotFound)
	}
	if original.SenderID == readerID {
		return nil, validationError(MsgOwnMessageReadMarker)
	}
	if !d.canRead(ctx, original, readerID) {
		return nil, notFoundError(MsgMessageNotFound)
	}

	var stored *store.ReadReceipt
	err = d.retry.Do(ctx, func() error {
		var err error
		stored, err = d.messages.MarkRead(ctx, messageID, readerID, d.clock.Now())
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundError(MsgMessageNotFound)
	}
	if err != nil {
		d.log.Error().Err(err).Int64("message_id", messageID).Msg("persist read receipt failed")
		return nil, deliveryError(err)
	}

	receipt := &Receipt{MessageID: messageID, ReadBy: readerID, ReadAt: stored.ReadAt}
	d.presence.SendToUser(original.SenderID, &Event{
		Kind:    EventMessageRead,
		Room:    original.RoomID,
		Receipt: receipt,
		At:      receipt.ReadAt,
	})
	return receipt, nil
}

// canRead reports whether the reader was an addressee of the message.
func (d *Dispatcher) canRead(ctx context.Context, msg *store.Message, readerID int64) bool {
	if msg.RecipientID != nil {
		return *msg.RecipientID == readerID
	}
	if msg.ConversationID == nil {
		return false
	}
	var participant bool
	err := d.retry.Do(ctx, func() error {
		var err error
		participant, err = d.dir.IsParticipant(ctx, *msg.ConversationID, readerID)
		return err
	})
	return err == nil && participant
}
