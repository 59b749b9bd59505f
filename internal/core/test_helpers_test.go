package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/wirechat-realtime/internal/store"
)

var errTransient = errors.New("database is locked")

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// noEvent drains ch for wait and fails if an event of kind shows up.
func noEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event %v: %+v", kind, ev)
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// collect returns everything queued on the connection within wait.
func collect(conn *Connection, wait time.Duration) []*Event {
	var events []*Event
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		select {
		case ev := <-conn.Events():
			events = append(events, ev)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	return events
}

// drain discards everything queued on the connection.
func drain(conn *Connection) {
	for {
		select {
		case <-conn.Events():
		default:
			return
		}
	}
}

// memStore is an in-memory Directory, MessageStore and TokenVerifier.
type memStore struct {
	mu sync.Mutex

	users        map[int64]*store.User
	tokens       map[string]int64
	contacts     map[[2]int64]bool
	convs        map[string]*store.Conversation
	participants map[string]map[int64]bool
	messages     []*store.Message
	receipts     map[[2]int64]*store.ReadReceipt
	lastSeen     map[int64]time.Time

	// saveFailures makes the next N SaveMessage calls fail transiently.
	saveFailures int
	saveCalls    int
}

func newMemStore() *memStore {
	return &memStore{
		users:        make(map[int64]*store.User),
		tokens:       make(map[string]int64),
		contacts:     make(map[[2]int64]bool),
		convs:        make(map[string]*store.Conversation),
		participants: make(map[string]map[int64]bool),
		receipts:     make(map[[2]int64]*store.ReadReceipt),
		lastSeen:     make(map[int64]time.Time),
	}
}

func (m *memStore) addUser(id int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = &store.User{ID: id, Username: name}
	m.tokens["token-"+name] = id
}

func (m *memStore) setDisplayName(id int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id].DisplayName = name
}

// removeUser deletes the user but leaves their token valid.
func (m *memStore) removeUser(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
}

func (m *memStore) link(a, b int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[[2]int64{a, b}] = true
	m.contacts[[2]int64{b, a}] = true
}

func (m *memStore) addConversation(id string, members ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[id] = &store.Conversation{ID: id, Name: id}
	set := make(map[int64]bool, len(members))
	for _, uid := range members {
		set[uid] = true
	}
	m.participants[id] = set
}

func (m *memStore) failSaves(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveFailures = n
}

func (m *memStore) messageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *memStore) VerifyToken(_ context.Context, token string) (int64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.tokens[token]
	if !ok {
		return 0, "", errors.New("unknown token")
	}
	if u, ok := m.users[id]; ok {
		return id, u.Username, nil
	}
	return id, "ghost", nil
}

func (m *memStore) GetUserByID(_ context.Context, id int64) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) AreContacts(_ context.Context, userID, contactID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contacts[[2]int64{userID, contactID}], nil
}

func (m *memStore) ListContacts(_ context.Context, userID int64) ([]*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.User
	for key := range m.contacts {
		if key[0] == userID {
			cp := *m.users[key[1]]
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) TouchLastSeen(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return store.ErrNotFound
	}
	m.lastSeen[id] = at
	return nil
}

func (m *memStore) GetConversation(_ context.Context, id string) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) IsParticipant(_ context.Context, conversationID string, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.participants[conversationID][userID], nil
}

func (m *memStore) SaveMessage(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.saveFailures > 0 {
		m.saveFailures--
		return errTransient
	}
	msg.ID = int64(len(m.messages) + 1)
	cp := *msg
	m.messages = append(m.messages, &cp)
	return nil
}

func (m *memStore) GetMessage(_ context.Context, id int64) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id <= 0 || int(id) > len(m.messages) {
		return nil, store.ErrNotFound
	}
	cp := *m.messages[id-1]
	return &cp, nil
}

func (m *memStore) ListMessages(_ context.Context, roomID string, limit int, beforeID *int64) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Message
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		msg := m.messages[i]
		if msg.RoomID != roomID {
			continue
		}
		if beforeID != nil && msg.ID >= *beforeID {
			continue
		}
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) MarkRead(_ context.Context, messageID, userID int64, at time.Time) (*store.ReadReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if messageID <= 0 || int(messageID) > len(m.messages) {
		return nil, store.ErrNotFound
	}
	key := [2]int64{messageID, userID}
	if r, ok := m.receipts[key]; ok {
		return r, nil
	}
	r := &store.ReadReceipt{MessageID: messageID, UserID: userID, ReadAt: at}
	m.receipts[key] = r
	return r, nil
}

var testRetry = RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

// newTestHub returns a hub over an in-memory store with users alice(1),
// bob(2), carol(3) and dave(4). Alice and bob are contacts.
func newTestHub(t *testing.T) (*Hub, *memStore, *clock.Mock) {
	t.Helper()

	st := newMemStore()
	st.addUser(1, "alice")
	st.addUser(2, "bob")
	st.addUser(3, "carol")
	st.addUser(4, "dave")
	st.link(1, 2)

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	retry := testRetry
	hub := NewHub(st, st, st, Options{
		Clock:     clk,
		Retry:     &retry,
		TypingTTL: 5 * time.Second,
	})
	return hub, st, clk
}

func connect(t *testing.T, hub *Hub, token string) *Connection {
	t.Helper()
	conn, err := hub.Connect(context.Background(), token)
	if err != nil {
		t.Fatalf("connect %s: %v", token, err)
	}
	return conn
}

func join(t *testing.T, hub *Hub, conn *Connection, sel RoomSelector) string {
	t.Helper()
	if err := hub.Handle(context.Background(), conn, &Command{Kind: CommandJoinRoom, Target: sel}); err != nil {
		t.Fatalf("join %+v: %v", sel, err)
	}
	ev := mustEvent(t, conn.Events(), EventRoomJoined)
	return ev.Room
}
