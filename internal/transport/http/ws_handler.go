package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-realtime/internal/core"
	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

const (
	errCodeUnsupportedVersion = "unsupported_version"
	defaultHandshakeTimeout   = 10 * time.Second
)

var (
	errKicked         = errors.New("outbound queue overflow")
	errMalformedFrame = errors.New("malformed frame")
)

// WSHandlerOptions tunes the WebSocket handler.
type WSHandlerOptions struct {
	HandshakeTimeout time.Duration
	RateLimit        int // inbound frames per minute, 0 disables
	Clock            clock.Clock
}

// WSHandler upgrades HTTP connections and bridges them to core.Connection.
type WSHandler struct {
	hub  *core.Hub
	log  *zerolog.Logger
	opts WSHandlerOptions
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, logger *zerolog.Logger, opts WSHandlerOptions) *WSHandler {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &WSHandler{hub: hub, log: logger, opts: opts}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	token, perr := h.handshakeToken(ctx, conn, r)
	if perr != nil {
		_ = wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: perr})
		conn.Close(websocket.StatusPolicyViolation, perr.Message)
		return
	}

	client, err := h.hub.Connect(ctx, token)
	if err != nil {
		var ce *core.CoreError
		if !errors.As(err, &ce) {
			ce = &core.CoreError{Code: core.ErrCodeAuthentication, Message: core.MsgInvalidToken}
		}
		h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("ws authentication failed")
		_ = wsjson.Write(ctx, conn, errorOutbound(ce.Code, ce.Message))
		conn.Close(websocket.StatusPolicyViolation, ce.Message)
		return
	}
	defer h.hub.Disconnect(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if errors.Is(err, errKicked) {
		h.log.Warn().Str("conn_id", client.ID).Int64("user_id", client.UserID).Msg("dropping slow connection")
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// handshakeToken takes the token from the upgrade request or, failing that,
// from a hello frame that must arrive within the handshake timeout.
func (h *WSHandler) handshakeToken(ctx context.Context, conn *websocket.Conn, r *stdhttp.Request) (string, *proto.Error) {
	if token := requestToken(r); token != "" {
		return token, nil
	}

	hctx, cancel := context.WithTimeout(ctx, h.opts.HandshakeTimeout)
	defer cancel()

	inbound, err := readInbound(hctx, conn)
	if err != nil || inbound.Type != proto.InboundTypeHello {
		return "", &proto.Error{Code: core.ErrCodeAuthentication, Message: core.MsgTokenRequired}
	}
	var hello proto.HelloData
	if len(inbound.Data) > 0 {
		if err := json.Unmarshal(inbound.Data, &hello); err != nil {
			return "", &proto.Error{Code: errCodeInvalidMessage, Message: "malformed hello"}
		}
	}
	if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
		return "", &proto.Error{Code: errCodeUnsupportedVersion, Message: "unsupported protocol version"}
	}
	if strings.TrimSpace(hello.Token) == "" {
		return "", &proto.Error{Code: core.ErrCodeAuthentication, Message: core.MsgTokenRequired}
	}
	return hello.Token, nil
}

func requestToken(r *stdhttp.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Connection) error {
	limiter := newRateLimiter(h.opts.RateLimit, h.opts.Clock)
	for {
		inbound, err := readInbound(ctx, conn)
		if errors.Is(err, errMalformedFrame) {
			if werr := wsjson.Write(ctx, conn, errorOutbound(errCodeInvalidMessage, "malformed frame")); werr != nil {
				return werr
			}
			continue
		}
		if err != nil {
			return err
		}

		if !limiter.allow() {
			if err := wsjson.Write(ctx, conn, errorOutbound(core.ErrCodeRateLimited, "too many messages")); err != nil {
				return err
			}
			continue
		}

		cmd, perr := inboundToCommand(inbound)
		if perr != nil {
			if err := wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: perr}); err != nil {
				return err
			}
			continue
		}
		if err := h.hub.Handle(ctx, client, cmd); err != nil {
			h.log.Debug().Err(err).Str("conn_id", client.ID).Str("type", inbound.Type).Msg("command rejected")
		}
	}
}

// readInbound reads one frame and decodes it. wsjson.Read closes the
// connection on bad JSON, so decoding happens here and a malformed frame
// comes back as errMalformedFrame with the connection still open.
func readInbound(ctx context.Context, conn *websocket.Conn) (proto.Inbound, error) {
	var inbound proto.Inbound
	_, payload, err := conn.Read(ctx)
	if err != nil {
		return inbound, err
	}
	if err := json.Unmarshal(payload, &inbound); err != nil {
		return inbound, errMalformedFrame
	}
	return inbound, nil
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Connection) error {
	for {
		select {
		case event := <-client.Events():
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID).Msg("write ws event")
				return err
			}
		case <-client.Kicked():
			return errKicked
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
