package core

import (
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v3"
)

// PresenceInfo is the public view of a presence entry.
type PresenceInfo struct {
	UserID   int64
	LastSeen time.Time
}

type presenceEntry struct {
	conns    map[string]*Connection
	lastSeen time.Time
}

// PresenceRegistry tracks live connections per user. Every mutation of a
// user's entry runs inside that user's key section of the map, so unrelated
// users never contend on a shared lock.
type PresenceRegistry struct {
	users *xsync.MapOf[int64, *presenceEntry]
	owner *xsync.MapOf[string, int64]
	clock clock.Clock
}

// NewPresenceRegistry creates an empty registry. A nil clock uses wall time.
func NewPresenceRegistry(clk clock.Clock) *PresenceRegistry {
	if clk == nil {
		clk = clock.New()
	}
	return &PresenceRegistry{
		users: xsync.NewMapOf[int64, *presenceEntry](),
		owner: xsync.NewMapOf[string, int64](),
		clock: clk,
	}
}

// Register adds the connection to its user's entry and reports whether it is
// the user's first live connection.
func (p *PresenceRegistry) Register(conn *Connection) (first bool) {
	now := p.clock.Now()
	p.owner.Store(conn.ID, conn.UserID)
	p.users.Compute(conn.UserID, func(entry *presenceEntry, loaded bool) (*presenceEntry, bool) {
		if !loaded {
			entry = &presenceEntry{conns: make(map[string]*Connection)}
		}
		first = len(entry.conns) == 0
		entry.conns[conn.ID] = conn
		entry.lastSeen = now
		return entry, false
	})
	return first
}

// Deregister removes a connection. It reports the owning user and whether the
// user has no connections left. Unknown connection IDs are ignored.
func (p *PresenceRegistry) Deregister(connID string) (userID int64, last bool) {
	userID, ok := p.owner.LoadAndDelete(connID)
	if !ok {
		return 0, false
	}

	now := p.clock.Now()
	p.users.Compute(userID, func(entry *presenceEntry, loaded bool) (*presenceEntry, bool) {
		if !loaded {
			return nil, true
		}
		if _, ok := entry.conns[connID]; !ok {
			return entry, false
		}
		delete(entry.conns, connID)
		if len(entry.conns) == 0 {
			entry.lastSeen = now
			last = true
		}
		return entry, false
	})
	return userID, last
}

// IsOnline reports whether the user has at least one live connection.
func (p *PresenceRegistry) IsOnline(userID int64) bool {
	online := false
	p.read(userID, func(entry *presenceEntry) {
		online = len(entry.conns) > 0
	})
	return online
}

// LastSeen returns the last time the user was seen online. While the user is
// online it is the time of the most recent connect.
func (p *PresenceRegistry) LastSeen(userID int64) (time.Time, bool) {
	var (
		at    time.Time
		found bool
	)
	p.read(userID, func(entry *presenceEntry) {
		at, found = entry.lastSeen, true
	})
	return at, found
}

// Connections returns a snapshot of the user's live connections.
func (p *PresenceRegistry) Connections(userID int64) []*Connection {
	var conns []*Connection
	p.read(userID, func(entry *presenceEntry) {
		conns = make([]*Connection, 0, len(entry.conns))
		for _, c := range entry.conns {
			conns = append(conns, c)
		}
	})
	return conns
}

// ListOnline returns all users with live connections ordered by user ID.
func (p *PresenceRegistry) ListOnline() []PresenceInfo {
	var ids []int64
	p.users.Range(func(userID int64, _ *presenceEntry) bool {
		ids = append(ids, userID)
		return true
	})

	online := make([]PresenceInfo, 0, len(ids))
	for _, id := range ids {
		p.read(id, func(entry *presenceEntry) {
			if len(entry.conns) > 0 {
				online = append(online, PresenceInfo{UserID: id, LastSeen: entry.lastSeen})
			}
		})
	}
	sort.Slice(online, func(i, j int) bool { return online[i].UserID < online[j].UserID })
	return online
}

// SendToUser enqueues the event on every live connection of the user and
// returns how many connections accepted it.
func (p *PresenceRegistry) SendToUser(userID int64, event *Event) int {
	delivered := 0
	for _, conn := range p.Connections(userID) {
		if conn.Send(event) {
			delivered++
		}
	}
	return delivered
}

// read runs fn inside the user's key section without modifying the map.
func (p *PresenceRegistry) read(userID int64, fn func(entry *presenceEntry)) {
	p.users.Compute(userID, func(entry *presenceEntry, loaded bool) (*presenceEntry, bool) {
		if !loaded {
			return nil, true
		}
		fn(entry)
		return entry, false
	})
}
