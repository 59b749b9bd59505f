package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

// Frame is a decoded server frame. Data stays raw until the caller knows
// which payload to expect.
type Frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *proto.Error    `json:"error,omitempty"`
}

// Decode unmarshals the event payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return errors.New("frame has no data")
	}
	return json.Unmarshal(f.Data, v)
}

// ServerError is an error frame returned by the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Session is one authenticated connection to the server.
type Session interface {
	Send(ctx context.Context, typ string, data any) error
	Receive(ctx context.Context) (Frame, error)
	Close() error
}

// Dialer opens authenticated sessions.
type Dialer interface {
	Dial(ctx context.Context, token string) (Session, error)
}

// WSDialer dials the WebSocket endpoint and authenticates with a hello frame.
type WSDialer struct {
	URL        string
	HTTPClient *http.Client
}

// Dial connects, sends hello and waits for the online-users snapshot that
// confirms the handshake. An error frame is returned as *ServerError.
func (d *WSDialer) Dial(ctx context.Context, token string) (Session, error) {
	conn, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}

	s := &wsSession{conn: conn}
	if err := s.Send(ctx, proto.InboundTypeHello, proto.HelloData{Token: token, Protocol: proto.ProtocolVersion}); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	var first Frame
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	if first.Type == proto.OutboundTypeError {
		conn.CloseNow()
		if first.Error == nil {
			return nil, &ServerError{Code: "unknown", Message: "handshake rejected"}
		}
		return nil, &ServerError{Code: first.Error.Code, Message: first.Error.Message}
	}
	s.pending = &first
	return s, nil
}

type wsSession struct {
	conn    *websocket.Conn
	pending *Frame
}

func (s *wsSession) Send(ctx context.Context, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	return wsjson.Write(ctx, s.conn, proto.Inbound{Type: typ, Data: payload})
}

// Receive is not safe for concurrent use; the manager reads from a single goroutine.
func (s *wsSession) Receive(ctx context.Context) (Frame, error) {
	if s.pending != nil {
		f := *s.pending
		s.pending = nil
		return f, nil
	}
	var f Frame
	err := wsjson.Read(ctx, s.conn, &f)
	return f, err
}

func (s *wsSession) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "bye")
}
