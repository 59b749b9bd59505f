package core

import (
	"sort"
	"sync"
	"time"
)

// DefaultQueueSize is the outbound queue length used when none is configured.
const DefaultQueueSize = 64

// Connection is one authenticated socket as seen by the core layer.
type Connection struct {
	ID              string
	UserID          int64
	Username        string
	DisplayName     string
	AuthenticatedAt time.Time

	events   chan *Event
	kicked   chan struct{}
	kickOnce sync.Once

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

// NewConnection constructs a connection with an outbound queue of queueSize events.
func NewConnection(id string, userID int64, username string, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Connection{
		ID:       id,
		UserID:   userID,
		Username: username,
		events:   make(chan *Event, queueSize),
		kicked:   make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}
}

// Name is what peers see: the directory display name, or the login handle
// when none is set.
func (c *Connection) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Username
}

// Events is the outbound queue drained by the transport writer.
func (c *Connection) Events() <-chan *Event {
	return c.events
}

// Kicked is closed when the core wants the transport to drop the socket.
func (c *Connection) Kicked() <-chan struct{} {
	return c.kicked
}

// Kick asks the transport to force-disconnect the connection.
func (c *Connection) Kick() {
	c.kickOnce.Do(func() { close(c.kicked) })
}

// Send enqueues an event without blocking. A full queue means the peer is not
// keeping up; the connection is kicked and the event dropped.
func (c *Connection) Send(event *Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.events <- event:
		return true
	default:
		c.Kick()
		return false
	}
}

// InRoom reports whether the connection joined the room.
func (c *Connection) InRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

// Rooms returns the joined room IDs in sorted order.
func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

// Closed reports whether the connection has been torn down.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) addRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.rooms[roomID] = struct{}{}
	return true
}

func (c *Connection) removeRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; !ok {
		return false
	}
	delete(c.rooms, roomID)
	return true
}

// close marks the connection as torn down and returns the rooms it was in.
// No room can be added afterwards.
func (c *Connection) close() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.rooms = make(map[string]struct{})
	return rooms
}
