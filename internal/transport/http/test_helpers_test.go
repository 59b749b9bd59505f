package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-realtime/internal/auth"
	"github.com/vovakirdan/wirechat-realtime/internal/config"
	"github.com/vovakirdan/wirechat-realtime/internal/core"
	"github.com/vovakirdan/wirechat-realtime/internal/proto"
	"github.com/vovakirdan/wirechat-realtime/internal/store"
	"github.com/vovakirdan/wirechat-realtime/internal/store/sqlite"
)

type testEnv struct {
	ts    *httptest.Server
	store *sqlite.SQLiteStore
	auth  *auth.Service
	hub   *core.Hub

	alice, bob, carol *store.User
}

// newTestEnv starts a server over an in-memory store. Alice and bob are
// contacts; carol knows nobody.
func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", func(db *sql.DB) error {
		return sqlite.Migrate(context.Background(), db)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	alice, err := st.CreateUser(ctx, "alice", "Alice")
	require.NoError(t, err)
	bob, err := st.CreateUser(ctx, "bob", "Bob")
	require.NoError(t, err)
	carol, err := st.CreateUser(ctx, "carol", "")
	require.NoError(t, err)
	require.NoError(t, st.AddContact(ctx, alice.ID, bob.ID))

	cfg := config.Default()
	cfg.WSRateLimit = 0
	cfg.HandshakeTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	authService := auth.NewService(&auth.JWTConfig{
		Secret:   []byte("testsecret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})

	logger := zerolog.Nop()
	hub := core.NewHub(authService, st, st, core.Options{Log: &logger})
	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(runCtx)

	ts := httptest.NewServer(NewRouter(hub, authService, &cfg, &logger))
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: st, auth: authService, hub: hub, alice: alice, bob: bob, carol: carol}
}

func (e *testEnv) token(t *testing.T, u *store.User) string {
	t.Helper()
	tok, err := e.auth.IssueToken(u.ID, u.Username)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
}

// dial connects with the token in the query string and waits for the
// online-users snapshot that confirms the handshake.
func (e *testEnv) dial(ctx context.Context, t *testing.T, u *store.User) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, e.wsURL()+"?token="+e.token(t, u), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	readEvent(ctx, t, conn, proto.EventOnlineUsers)
	return conn
}

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func sendFrame(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}))
}

// readEvent skips frames until the named event arrives.
func readEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, name string) frame {
	t.Helper()
	for {
		var f frame
		require.NoError(t, wsjson.Read(ctx, conn, &f), "waiting for %s", name)
		if f.Type == proto.OutboundTypeEvent && f.Event == name {
			return f
		}
	}
}

// readError skips frames until an error frame arrives.
func readError(ctx context.Context, t *testing.T, conn *websocket.Conn) *proto.Error {
	t.Helper()
	for {
		var f frame
		require.NoError(t, wsjson.Read(ctx, conn, &f), "waiting for error")
		if f.Type == proto.OutboundTypeError {
			require.NotNil(t, f.Error)
			return f.Error
		}
	}
}

func decodeData[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}
