package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-realtime/internal/store"
	"github.com/vovakirdan/wirechat-realtime/internal/utils"
)

// DefaultHandshakeTimeout bounds how long a handshake may take to verify.
const DefaultHandshakeTimeout = 10 * time.Second

// Gateway authenticates new sockets and performs connection teardown. It is
// the only place that announces presence transitions to contacts.
type Gateway struct {
	verifier TokenVerifier
	dir      Directory
	presence *PresenceRegistry
	rooms    *RoomRouter
	typing   *TypingCoordinator
	retry    RetryPolicy
	clock    clock.Clock
	log      *zerolog.Logger

	handshakeTimeout time.Duration
	queueSize        int

	// Serializes a user's online/offline announcements so contacts observe
	// them in transition order.
	announce *keyLock[int64]
}

// GatewayConfig holds Gateway dependencies.
type GatewayConfig struct {
	Verifier         TokenVerifier
	Directory        Directory
	Presence         *PresenceRegistry
	Rooms            *RoomRouter
	Typing           *TypingCoordinator
	Retry            RetryPolicy
	Clock            clock.Clock
	Log              *zerolog.Logger
	HandshakeTimeout time.Duration
	QueueSize        int
}

// NewGateway creates a gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Gateway{
		verifier:         cfg.Verifier,
		dir:              cfg.Directory,
		presence:         cfg.Presence,
		rooms:            cfg.Rooms,
		typing:           cfg.Typing,
		retry:            cfg.Retry,
		clock:            cfg.Clock,
		log:              orNop(cfg.Log),
		handshakeTimeout: cfg.HandshakeTimeout,
		queueSize:        cfg.QueueSize,
		announce:         newKeyLock[int64](),
	}
}

// Authenticate verifies the credential and registers a new connection for
// the user. Contacts are told the user came online only when this is the
// user's first live connection. The new connection always receives the
// online-users snapshot of its contacts.
func (g *Gateway) Authenticate(ctx context.Context, credential string) (*Connection, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, authenticationError(MsgTokenRequired, nil)
	}

	vctx, cancel := context.WithTimeout(ctx, g.handshakeTimeout)
	defer cancel()

	userID, username, err := g.verifier.VerifyToken(vctx, credential)
	if err != nil {
		g.log.Debug().Err(err).Msg("handshake rejected")
		return nil, authenticationError(MsgInvalidToken, err)
	}
	if userID <= 0 {
		return nil, authenticationError(MsgInvalidToken, nil)
	}

	user, err := g.user(vctx, userID)
	if err != nil {
		return nil, err
	}

	conn := NewConnection(utils.NewID(), userID, username, g.queueSize)
	if user != nil {
		conn.DisplayName = user.Name()
	}
	conn.AuthenticatedAt = g.clock.Now()

	contacts := g.contacts(vctx, userID)

	g.announce.Lock(userID)
	if first := g.presence.Register(conn); first {
		ev := &Event{
			Kind: EventUserOnline,
			User: UserRef{ID: userID, Name: conn.Name()},
			At:   conn.AuthenticatedAt,
		}
		for _, contact := range contacts {
			g.presence.SendToUser(contact.ID, ev)
		}
	}
	g.announce.Unlock(userID)

	online := g.onlineSnapshot(contacts)
	conn.Send(&Event{Kind: EventOnlineUsers, Online: online, At: conn.AuthenticatedAt})

	g.log.Info().Str("conn_id", conn.ID).Int64("user_id", userID).Msg("connection authenticated")
	return conn, nil
}

// Disconnect tears the connection down. It is idempotent. Room members are
// not notified; contacts get a single user-offline once the user's last
// connection is gone.
func (g *Gateway) Disconnect(conn *Connection) {
	g.typing.DropConnection(conn)
	g.rooms.RemoveConnection(conn)

	g.announce.Lock(conn.UserID)
	defer g.announce.Unlock(conn.UserID)

	userID, last := g.presence.Deregister(conn.ID)
	if userID == 0 {
		return
	}
	g.log.Info().Str("conn_id", conn.ID).Int64("user_id", userID).Bool("last", last).Msg("connection closed")
	if !last {
		return
	}

	now := g.clock.Now()
	ctx := context.Background()
	if err := g.retry.Do(ctx, func() error {
		return g.dir.TouchLastSeen(ctx, userID, now)
	}); err != nil {
		g.log.Warn().Err(err).Int64("user_id", userID).Msg("persist last seen failed")
	}

	ev := &Event{
		Kind: EventUserOffline,
		User: UserRef{ID: userID, Name: conn.Name()},
		At:   now,
	}
	for _, contact := range g.contacts(ctx, userID) {
		g.presence.SendToUser(contact.ID, ev)
	}
}

// contacts loads the user's contacts. A failing directory degrades to no
// presence notifications rather than a failed handshake.
func (g *Gateway) contacts(ctx context.Context, userID int64) []*store.User {
	var users []*store.User
	err := g.retry.Do(ctx, func() error {
		var err error
		users, err = g.dir.ListContacts(ctx, userID)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		g.log.Warn().Err(err).Int64("user_id", userID).Msg("list contacts failed")
	}
	return users
}

// user loads the directory record behind a verified token. A user that no
// longer exists fails the handshake. Other directory failures fall back to
// the token's handle so a flaky store does not lock everyone out.
func (g *Gateway) user(ctx context.Context, userID int64) (*store.User, error) {
	var user *store.User
	err := g.retry.Do(ctx, func() error {
		var err error
		user, err = g.dir.GetUserByID(ctx, userID)
		return err
	})
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, authenticationError(MsgInvalidToken, err)
	default:
		g.log.Warn().Err(err).Int64("user_id", userID).Msg("load user failed")
		return nil, nil
	}
}

// onlineSnapshot filters contacts down to those with a live connection.
func (g *Gateway) onlineSnapshot(contacts []*store.User) []OnlineUser {
	online := make([]OnlineUser, 0, len(contacts))
	for _, contact := range contacts {
		if !g.presence.IsOnline(contact.ID) {
			continue
		}
		lastSeen, _ := g.presence.LastSeen(contact.ID)
		online = append(online, OnlineUser{
			UserID:   contact.ID,
			Name:     contact.Name(),
			LastSeen: lastSeen,
			IsTyping: g.typing.IsTyping(contact.ID),
		})
	}
	return online
}
