package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 5
	DefaultDialTimeout = 10 * time.Second
)

// ErrNotConnected is returned by Send while no session is established.
var ErrNotConnected = errors.New("not connected")

// State of the connection supervisor.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// TokenProvider returns a fresh credential for each dial.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken always returns token.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) { return token, nil }
}

// Config configures a Manager. Dialer and Token are required.
type Config struct {
	Dialer      Dialer
	Token       TokenProvider
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	DialTimeout time.Duration
	Clock       clock.Clock
	Log         *zerolog.Logger

	// Callbacks run on manager goroutines, some with internal locks held.
	// They must not block or call back into the Manager.
	OnEvent       func(Frame)
	OnStateChange func(State, error)
	OnRetry       func(attempt int, delay time.Duration)
}

// Manager keeps a session alive: it redials after unexpected drops with
// exponential backoff, gives up after MaxAttempts and rejoins the active room
// on every new session.
type Manager struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	session  Session
	gen      uint64
	attempts int
	timer    *clock.Timer
	bo       *backoff.ExponentialBackOff
	active   *proto.RoomTarget
	lastErr  error
}

// NewManager builds a manager in the disconnected state.
func NewManager(cfg Config) *Manager {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Log == nil {
		nop := zerolog.Nop()
		cfg.Log = &nop
	}

	bo := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         cfg.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               cfg.Clock,
	}
	bo.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{cfg: cfg, ctx: ctx, cancel: cancel, bo: bo}
}

// State returns the current state and the error that caused it, if any.
func (m *Manager) State() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.lastErr
}

// Attempts returns the number of failed dials since the last success.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect dials immediately. It is a no-op while connecting or connected.
func (m *Manager) Connect() {
	m.start()
}

// Reconnect is the manual trigger out of the error state: the attempt
// counter is reset and a dial starts immediately.
func (m *Manager) Reconnect() {
	m.start()
}

func (m *Manager) start() {
	m.mu.Lock()
	if m.ctx.Err() != nil || m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	m.stopTimerLocked()
	m.attempts = 0
	m.bo.Reset()
	// The immediate dial is attempt one.
	m.bo.NextBackOff()
	m.setStateLocked(StateConnecting, nil)
	m.mu.Unlock()

	go m.dial(gen)
}

// Disconnect closes the session on the user's behalf. Pending reconnects are
// cancelled and no new one is scheduled.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopTimerLocked()
	sess := m.session
	m.session = nil
	m.attempts = 0
	m.setStateLocked(StateDisconnected, nil)
	m.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			m.cfg.Log.Debug().Err(err).Msg("close session")
		}
	}
}

// Close disconnects and releases the manager for good.
func (m *Manager) Close() {
	m.Disconnect()
	m.cancel()
}

// SetActiveRoom makes target the room rejoined after every reconnect. When
// connected, the previous active room is left and target is joined now.
func (m *Manager) SetActiveRoom(ctx context.Context, target proto.RoomTarget) error {
	m.mu.Lock()
	prev := m.active
	m.active = &target
	sess := m.session
	m.mu.Unlock()

	if sess == nil {
		return nil
	}
	if prev != nil && *prev != target {
		if err := sess.Send(ctx, proto.InboundTypeLeaveRoom, proto.LeaveRoomData{RoomTarget: *prev}); err != nil {
			return err
		}
	}
	return sess.Send(ctx, proto.InboundTypeJoinRoom, target)
}

// ActiveRoom returns the room rejoined on reconnect, if any.
func (m *Manager) ActiveRoom() (proto.RoomTarget, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return proto.RoomTarget{}, false
	}
	return *m.active, true
}

// Send writes a frame on the current session.
func (m *Manager) Send(ctx context.Context, typ string, data any) error {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.Send(ctx, typ, data)
}

func (m *Manager) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
	defer cancel()

	sess, err := m.open(ctx)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if sess != nil {
			_ = sess.Close()
		}
		return
	}
	if err != nil {
		m.attempts++
		m.cfg.Log.Warn().Err(err).Int("attempt", m.attempts).Msg("dial failed")
		if m.attempts >= m.cfg.MaxAttempts {
			m.setStateLocked(StateError, err)
			m.mu.Unlock()
			return
		}
		m.setStateLocked(StateDisconnected, err)
		m.scheduleLocked(gen)
		m.mu.Unlock()
		return
	}

	m.session = sess
	m.attempts = 0
	m.bo.Reset()
	active := m.active
	m.setStateLocked(StateConnected, nil)
	m.mu.Unlock()

	if active != nil {
		if err := sess.Send(ctx, proto.InboundTypeJoinRoom, *active); err != nil {
			m.cfg.Log.Warn().Err(err).Msg("rejoin active room")
		}
	}
	go m.readLoop(gen, sess)
}

// open authenticates from scratch with a fresh token.
func (m *Manager) open(ctx context.Context) (Session, error) {
	token, err := m.cfg.Token(ctx)
	if err != nil {
		return nil, err
	}
	return m.cfg.Dialer.Dial(ctx, token)
}

func (m *Manager) readLoop(gen uint64, sess Session) {
	for {
		f, err := sess.Receive(m.ctx)
		if err != nil {
			m.dropped(gen, sess, err)
			return
		}
		if m.cfg.OnEvent != nil {
			m.cfg.OnEvent(f)
		}
	}
}

func (m *Manager) dropped(gen uint64, sess Session, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.session != sess {
		return
	}
	m.session = nil
	m.cfg.Log.Warn().Err(err).Msg("connection dropped")
	m.setStateLocked(StateDisconnected, err)
	m.scheduleLocked(gen)
}

func (m *Manager) scheduleLocked(gen uint64) {
	delay := m.bo.NextBackOff()
	attempt := m.attempts + 1
	m.cfg.Log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
	m.timer = m.cfg.Clock.AfterFunc(delay, func() {
		m.mu.Lock()
		if gen != m.gen || m.state != StateDisconnected {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.setStateLocked(StateConnecting, nil)
		m.mu.Unlock()
		m.dial(gen)
	})
	if m.cfg.OnRetry != nil {
		m.cfg.OnRetry(attempt, delay)
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) setStateLocked(s State, err error) {
	m.lastErr = err
	if m.state == s {
		return
	}
	m.state = s
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(s, err)
	}
}
