package core

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-realtime/internal/store"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Options tunes the hub. Zero values fall back to package defaults.
type Options struct {
	Clock            clock.Clock
	Log              *zerolog.Logger
	HandshakeTimeout time.Duration
	QueueSize        int
	TypingTTL        time.Duration
	TypingSweep      time.Duration
	MaxMessageLength int
	Retry            *RetryPolicy
}

// Hub wires presence, rooms, typing and message dispatch together and maps
// client commands onto them.
type Hub struct {
	presence   *PresenceRegistry
	rooms      *RoomRouter
	typing     *TypingCoordinator
	gateway    *Gateway
	dispatcher *Dispatcher
	messages   MessageStore
	log        *zerolog.Logger
}

// NewHub creates a hub backed by the given verifier, directory and message store.
func NewHub(verifier TokenVerifier, dir Directory, messages MessageStore, opts Options) *Hub {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	opts.Log = orNop(opts.Log)
	retry := DefaultRetryPolicy()
	if opts.Retry != nil {
		retry = *opts.Retry
	}

	presence := NewPresenceRegistry(opts.Clock)
	rooms := NewRoomRouter(dir, retry, opts.Log)
	typing := NewTypingCoordinator(rooms, opts.Clock, opts.TypingTTL, opts.TypingSweep, opts.Log)

	return &Hub{
		presence: presence,
		rooms:    rooms,
		typing:   typing,
		gateway: NewGateway(GatewayConfig{
			Verifier:         verifier,
			Directory:        dir,
			Presence:         presence,
			Rooms:            rooms,
			Typing:           typing,
			Retry:            retry,
			Clock:            opts.Clock,
			Log:              opts.Log,
			HandshakeTimeout: opts.HandshakeTimeout,
			QueueSize:        opts.QueueSize,
		}),
		dispatcher: NewDispatcher(DispatcherConfig{
			Rooms:            rooms,
			Presence:         presence,
			Directory:        dir,
			Messages:         messages,
			Retry:            retry,
			MaxMessageLength: opts.MaxMessageLength,
			Clock:            opts.Clock,
			Log:              opts.Log,
		}),
		messages: messages,
		log:      opts.Log,
	}
}

// Run drives the typing expiry loop until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info().Msg("hub started")
	h.typing.Run(ctx)
	h.log.Info().Msg("hub stopped")
}

// Connect authenticates a credential and registers the resulting connection.
func (h *Hub) Connect(ctx context.Context, credential string) (*Connection, error) {
	return h.gateway.Authenticate(ctx, credential)
}

// Disconnect tears the connection down.
func (h *Hub) Disconnect(conn *Connection) {
	h.gateway.Disconnect(conn)
}

// Handle executes a client command. Failures are reported to the requesting
// connection as error events and returned.
func (h *Hub) Handle(ctx context.Context, conn *Connection, cmd *Command) error {
	err := h.handle(ctx, conn, cmd)
	if err == nil {
		return nil
	}
	if errors.Is(err, errConnectionClosed) {
		return err
	}
	ce := asCoreError(err)
	if ce.Code == ErrCodeInternal || ce.Code == ErrCodeUnavailable || ce.Code == ErrCodeDeliveryFailed {
		h.log.Warn().Err(err).Str("conn_id", conn.ID).Int64("user_id", conn.UserID).Msg("command failed")
	}
	conn.Send(errorEvent(ce))
	return ce
}

func (h *Hub) handle(ctx context.Context, conn *Connection, cmd *Command) error {
	if cmd == nil {
		return validationError("empty command")
	}
	switch cmd.Kind {
	case CommandJoinRoom:
		_, err := h.rooms.Join(ctx, conn, cmd.Target)
		return err
	case CommandLeaveRoom:
		roomID := cmd.Room
		if roomID == "" {
			if !cmd.Target.Valid() {
				return validationError(MsgMissingTarget)
			}
			roomID = RoomIDFor(conn.UserID, cmd.Target)
		}
		return h.rooms.Leave(conn, roomID)
	case CommandSendMessage:
		_, err := h.dispatcher.SendMessage(ctx, conn, cmd.Target, cmd.Content, cmd.MessageType)
		return err
	case CommandTyping:
		if !cmd.Target.Valid() {
			return validationError(MsgMissingTarget)
		}
		if cmd.IsTyping {
			return h.typing.Start(conn, cmd.Target)
		}
		return h.typing.Stop(conn, cmd.Target)
	case CommandStopTyping:
		if !cmd.Target.Valid() {
			return validationError(MsgMissingTarget)
		}
		return h.typing.Stop(conn, cmd.Target)
	case CommandMarkAsRead:
		_, err := h.dispatcher.MarkAsRead(ctx, cmd.MessageID, conn.UserID, cmd.SenderID)
		return err
	default:
		return validationError("unknown command")
	}
}

// History returns up to limit messages of the room addressed by sel, newest
// first, older than before when set.
func (h *Hub) History(ctx context.Context, userID int64, sel RoomSelector, limit int, before *int64) ([]Message, error) {
	roomID, _, err := h.rooms.Authorize(ctx, userID, sel)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	records, err := h.messages.ListMessages(ctx, roomID, limit, before)
	if err != nil {
		return nil, unavailableError(err)
	}
	out := make([]Message, 0, len(records))
	for _, rec := range records {
		out = append(out, fromStoreMessage(rec))
	}
	return out, nil
}

// OnlineContacts lists the user's contacts that currently have a live connection.
func (h *Hub) OnlineContacts(ctx context.Context, userID int64) []OnlineUser {
	return h.gateway.onlineSnapshot(h.gateway.contacts(ctx, userID))
}

// Presence exposes the presence registry.
func (h *Hub) Presence() *PresenceRegistry { return h.presence }

// Rooms exposes the room router.
func (h *Hub) Rooms() *RoomRouter { return h.rooms }

// Typing exposes the typing coordinator.
func (h *Hub) Typing() *TypingCoordinator { return h.typing }

func fromStoreMessage(rec *store.Message) Message {
	msg := Message{
		ID:        rec.ID,
		RoomID:    rec.RoomID,
		SenderID:  rec.SenderID,
		Content:   rec.Content,
		Type:      rec.Type,
		CreatedAt: rec.CreatedAt,
	}
	if rec.RecipientID != nil {
		msg.RecipientID = *rec.RecipientID
	}
	if rec.ConversationID != nil {
		msg.ConversationID = *rec.ConversationID
	}
	return msg
}

func orNop(logger *zerolog.Logger) *zerolog.Logger {
	if logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return logger
}
