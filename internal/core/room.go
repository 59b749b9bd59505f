package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-realtime/internal/store"
)

// RoomKind distinguishes one-to-one rooms from group conversations.
type RoomKind int

const (
	RoomDirect RoomKind = iota
	RoomGroup
)

// Room groups connections subscribed to the same conversation.
type Room struct {
	ID      string
	Kind    RoomKind
	clients map[string]*Connection
}

// NewRoom constructs a room with no clients.
func NewRoom(id string, kind RoomKind) *Room {
	return &Room{
		ID:      id,
		Kind:    kind,
		clients: make(map[string]*Connection),
	}
}

// AddClient inserts a connection into the room. Returns true if newly added.
func (r *Room) AddClient(c *Connection) bool {
	if _, exists := r.clients[c.ID]; exists {
		return false
	}
	r.clients[c.ID] = c
	return true
}

// RemoveClient deletes a connection from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Connection) bool {
	if _, exists := r.clients[c.ID]; !exists {
		return false
	}
	delete(r.clients, c.ID)
	return true
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}

// DeriveDirectRoomID returns the room ID shared by two users. The result does
// not depend on argument order, so both sides compute it locally.
func DeriveDirectRoomID(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm:%d:%d", a, b)
}

// RoomIDFor resolves a selector to a room ID from userID's point of view.
// Group rooms use the conversation ID verbatim.
func RoomIDFor(userID int64, sel RoomSelector) string {
	if sel.IsDirect() {
		return DeriveDirectRoomID(userID, sel.ContactID)
	}
	return sel.ConversationID
}

// RoomRouter owns per-room connection membership. Member sets are mutated in
// per-room key sections, independent from presence.
type RoomRouter struct {
	rooms *xsync.MapOf[string, *Room]
	dir   Directory
	retry RetryPolicy
	log   *zerolog.Logger
}

// NewRoomRouter creates a router that authorizes joins against dir.
func NewRoomRouter(dir Directory, retry RetryPolicy, logger *zerolog.Logger) *RoomRouter {
	return &RoomRouter{
		rooms: xsync.NewMapOf[string, *Room](),
		dir:   dir,
		retry: retry,
		log:   orNop(logger),
	}
}

// Authorize checks that userID may join the room addressed by sel.
func (r *RoomRouter) Authorize(ctx context.Context, userID int64, sel RoomSelector) (string, RoomKind, error) {
	if !sel.Valid() {
		return "", 0, validationError(MsgMissingTarget)
	}

	if sel.IsDirect() {
		if sel.ContactID == userID {
			return "", 0, authorizationError(MsgInvalidContact)
		}
		var ok bool
		err := r.retry.Do(ctx, func() error {
			if _, err := r.dir.GetUserByID(ctx, sel.ContactID); err != nil {
				return err
			}
			var err error
			ok, err = r.dir.AreContacts(ctx, userID, sel.ContactID)
			return err
		})
		if errors.Is(err, store.ErrNotFound) || (err == nil && !ok) {
			return "", 0, authorizationError(MsgInvalidContact)
		}
		if err != nil {
			return "", 0, unavailableError(err)
		}
		return DeriveDirectRoomID(userID, sel.ContactID), RoomDirect, nil
	}

	var ok bool
	err := r.retry.Do(ctx, func() error {
		if _, err := r.dir.GetConversation(ctx, sel.ConversationID); err != nil {
			return err
		}
		var err error
		ok, err = r.dir.IsParticipant(ctx, sel.ConversationID, userID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) || (err == nil && !ok) {
		return "", 0, authorizationError(MsgInvalidConversation)
	}
	if err != nil {
		return "", 0, unavailableError(err)
	}
	return sel.ConversationID, RoomGroup, nil
}

// Join authorizes the selector and adds the connection to the room. The
// room-joined confirmation goes to the caller only. Joining twice is harmless.
func (r *RoomRouter) Join(ctx context.Context, conn *Connection, sel RoomSelector) (string, error) {
	roomID, kind, err := r.Authorize(ctx, conn.UserID, sel)
	if err != nil {
		return "", err
	}

	// Record the room on the connection first: a concurrent teardown either
	// sees it in the snapshot or the re-check below undoes the insert.
	if !conn.addRoom(roomID) {
		return "", errConnectionClosed
	}
	r.rooms.Compute(roomID, func(room *Room, loaded bool) (*Room, bool) {
		if !loaded {
			room = NewRoom(roomID, kind)
		}
		room.AddClient(conn)
		return room, false
	})
	if conn.Closed() {
		r.removeMember(roomID, conn)
		return "", errConnectionClosed
	}

	r.log.Debug().Str("conn_id", conn.ID).Int64("user_id", conn.UserID).Str("room", roomID).Msg("joined room")
	conn.Send(&Event{Kind: EventRoomJoined, Room: roomID, Selector: sel})
	return roomID, nil
}

// Leave removes the connection from the room and confirms to the caller.
func (r *RoomRouter) Leave(conn *Connection, roomID string) error {
	if !conn.removeRoom(roomID) {
		return coreError(ErrCodeNotInRoom, MsgNotInRoom)
	}
	r.removeMember(roomID, conn)

	r.log.Debug().Str("conn_id", conn.ID).Int64("user_id", conn.UserID).Str("room", roomID).Msg("left room")
	conn.Send(&Event{Kind: EventRoomLeft, Room: roomID})
	return nil
}

// RemoveConnection drops the connection from every room it joined. Remaining
// members are not notified.
func (r *RoomRouter) RemoveConnection(conn *Connection) []string {
	rooms := conn.close()
	for _, roomID := range rooms {
		r.removeMember(roomID, conn)
	}
	return rooms
}

// Members returns a snapshot of the room's connections.
func (r *RoomRouter) Members(roomID string) []*Connection {
	var members []*Connection
	r.rooms.Compute(roomID, func(room *Room, loaded bool) (*Room, bool) {
		if !loaded {
			return nil, true
		}
		members = make([]*Connection, 0, len(room.clients))
		for _, c := range room.clients {
			members = append(members, c)
		}
		return room, false
	})
	return members
}

// Broadcast enqueues the event on every member for which skip returns false.
// It never blocks on a slow member. Returns the number of accepted deliveries.
func (r *RoomRouter) Broadcast(roomID string, event *Event, skip func(*Connection) bool) int {
	delivered := 0
	for _, conn := range r.Members(roomID) {
		if skip != nil && skip(conn) {
			continue
		}
		if conn.Send(event) {
			delivered++
			continue
		}
		r.log.Warn().Str("conn_id", conn.ID).Str("room", roomID).Msg("dropping slow connection")
	}
	return delivered
}

// Stats returns the number of active rooms and total memberships.
func (r *RoomRouter) Stats() (rooms, members int) {
	var ids []string
	r.rooms.Range(func(id string, _ *Room) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		if n := len(r.Members(id)); n > 0 {
			rooms++
			members += n
		}
	}
	return rooms, members
}

func (r *RoomRouter) removeMember(roomID string, conn *Connection) {
	r.rooms.Compute(roomID, func(room *Room, loaded bool) (*Room, bool) {
		if !loaded {
			return nil, true
		}
		room.RemoveClient(conn)
		return room, room.Empty()
	})
}
