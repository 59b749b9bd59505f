package core

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

const (
	DefaultTypingTTL           = 5 * time.Second
	DefaultTypingSweepInterval = time.Second
)

type typingKey struct {
	room string
	user int64
}

type typingState struct {
	since    time.Time
	conn     *Connection
	selector RoomSelector
	userName string
}

// TypingCoordinator tracks who is typing in which room. States that are not
// refreshed or stopped within the TTL are expired by Sweep, which broadcasts
// the same stop event a client would have sent.
type TypingCoordinator struct {
	rooms    *RoomRouter
	clock    clock.Clock
	ttl      time.Duration
	interval time.Duration
	log      *zerolog.Logger

	mu     sync.Mutex
	states map[typingKey]*typingState

	// Held across a state change and its broadcast so peers see a user's
	// typing transitions in the order they were applied.
	order *keyLock[typingKey]
}

// NewTypingCoordinator creates a coordinator broadcasting through rooms.
func NewTypingCoordinator(rooms *RoomRouter, clk clock.Clock, ttl, interval time.Duration, logger *zerolog.Logger) *TypingCoordinator {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	if interval <= 0 {
		interval = DefaultTypingSweepInterval
	}
	return &TypingCoordinator{
		rooms:    rooms,
		clock:    clk,
		ttl:      ttl,
		interval: interval,
		log:      orNop(logger),
		states:   make(map[typingKey]*typingState),
		order:    newKeyLock[typingKey](),
	}
}

// Start records that the connection's user is typing in the room and tells
// the other users in it.
func (t *TypingCoordinator) Start(conn *Connection, sel RoomSelector) error {
	roomID := RoomIDFor(conn.UserID, sel)
	if !conn.InRoom(roomID) {
		return coreError(ErrCodeNotInRoom, MsgNotInRoom)
	}

	key := typingKey{room: roomID, user: conn.UserID}
	t.order.Lock(key)
	defer t.order.Unlock(key)

	now := t.clock.Now()
	t.mu.Lock()
	t.states[key] = &typingState{
		since:    now,
		conn:     conn,
		selector: sel,
		userName: conn.Name(),
	}
	t.mu.Unlock()

	t.broadcast(roomID, conn.UserID, conn.Name(), sel, true, now)
	return nil
}

// Stop clears the typing state and tells the other users in the room. It is
// silent when the user was not typing.
func (t *TypingCoordinator) Stop(conn *Connection, sel RoomSelector) error {
	roomID := RoomIDFor(conn.UserID, sel)
	if !conn.InRoom(roomID) {
		return coreError(ErrCodeNotInRoom, MsgNotInRoom)
	}

	key := typingKey{room: roomID, user: conn.UserID}
	t.order.Lock(key)
	defer t.order.Unlock(key)

	t.mu.Lock()
	_, ok := t.states[key]
	delete(t.states, key)
	t.mu.Unlock()

	if ok {
		t.broadcast(roomID, conn.UserID, conn.Name(), sel, false, t.clock.Now())
	}
	return nil
}

// IsTyping reports whether the user is typing in any room.
func (t *TypingCoordinator) IsTyping(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.states {
		if key.user == userID {
			return true
		}
	}
	return false
}

// DropConnection forgets every state owned by a torn-down connection without
// broadcasting.
func (t *TypingCoordinator) DropConnection(conn *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, st := range t.states {
		if st.conn == conn {
			delete(t.states, key)
		}
	}
}

// Sweep expires states older than the TTL and returns how many it expired.
func (t *TypingCoordinator) Sweep() int {
	now := t.clock.Now()

	var candidates []typingKey
	t.mu.Lock()
	for key, st := range t.states {
		if now.Sub(st.since) >= t.ttl {
			candidates = append(candidates, key)
		}
	}
	t.mu.Unlock()

	expired := 0
	for _, key := range candidates {
		if t.expire(key, now) {
			expired++
		}
	}
	return expired
}

// expire drops the state under key if it is still stale at now. A Start that
// refreshed it since the scan wins.
func (t *TypingCoordinator) expire(key typingKey, now time.Time) bool {
	t.order.Lock(key)
	defer t.order.Unlock(key)

	t.mu.Lock()
	st, ok := t.states[key]
	if !ok || now.Sub(st.since) < t.ttl {
		t.mu.Unlock()
		return false
	}
	delete(t.states, key)
	t.mu.Unlock()

	t.log.Debug().Str("room", key.room).Int64("user_id", key.user).Msg("typing state expired")
	t.broadcast(key.room, key.user, st.userName, st.selector, false, now)
	return true
}

// Run sweeps at the configured interval until ctx is done.
func (t *TypingCoordinator) Run(ctx context.Context) {
	ticker := t.clock.Ticker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (t *TypingCoordinator) broadcast(roomID string, userID int64, userName string, sel RoomSelector, typing bool, at time.Time) {
	t.rooms.Broadcast(roomID, &Event{
		Kind:     EventUserTyping,
		Room:     roomID,
		Selector: sel,
		User:     UserRef{ID: userID, Name: userName},
		IsTyping: typing,
		At:       at,
	}, func(c *Connection) bool {
		return c.UserID == userID
	})
}
