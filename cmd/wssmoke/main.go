package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vovakirdan/wirechat-realtime/internal/client"
	"github.com/vovakirdan/wirechat-realtime/internal/log"
	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

func main() {
	logger := log.New("info", "console")
	if err := run(); err != nil {
		logger.Error().Err(err).Msg("ws_smoke failed")
		os.Exit(1)
	}
	logger.Info().Msg("ws_smoke ok")
}

// run authenticates, joins a direct room, sends one message and waits for
// the persisted echo.
func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", os.Getenv("WIRECHAT_TOKEN"), "access token (defaults to $WIRECHAT_TOKEN)")
	contact := flag.Int64("contact", 0, "contact to message")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *token == "" || *contact == 0 {
		return errors.New("token and contact are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sess, err := (&client.WSDialer{URL: *addr}).Dial(ctx, *token)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	defer sess.Close()

	target := proto.RoomTarget{ContactID: *contact}
	if err := sess.Send(ctx, proto.InboundTypeJoinRoom, target); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	if err := sess.Send(ctx, proto.InboundTypeSendMessage, proto.SendMessageData{RecipientID: *contact, Content: *text}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		f, err := sess.Receive(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("Received outbound: type=%s event=%s\n", f.Type, f.Event)

		if f.Type == proto.OutboundTypeError && f.Error != nil {
			return &client.ServerError{Code: f.Error.Code, Message: f.Error.Message}
		}
		if f.Event != proto.EventMessageReceived {
			continue
		}
		var evt proto.MessageReceived
		if err := f.Decode(&evt); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		if evt.Content != *text {
			continue
		}
		fmt.Printf("Message: id=%d room=%s sender=%s text=%q ts=%s\n", evt.ID, evt.RoomID, evt.SenderName, evt.Content, evt.Timestamp)
		return nil
	}
}
