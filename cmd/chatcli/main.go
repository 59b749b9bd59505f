package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-realtime/internal/client"
	"github.com/vovakirdan/wirechat-realtime/internal/log"
	"github.com/vovakirdan/wirechat-realtime/internal/proto"
)

func main() {
	logger := log.New("info", "console")
	if err := run(logger); err != nil {
		logger.Error().Err(err).Msg("chatcli")
		os.Exit(1)
	}
}

func run(logger *zerolog.Logger) error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", os.Getenv("WIRECHAT_TOKEN"), "access token (defaults to $WIRECHAT_TOKEN)")
	contact := flag.Int64("contact", 0, "contact to chat with")
	conversation := flag.String("conversation", "", "group conversation to chat in")
	attempts := flag.Int("max-attempts", client.DefaultMaxAttempts, "reconnect attempts before giving up")
	base := flag.Duration("base-delay", client.DefaultBaseDelay, "first reconnect delay")
	flag.Parse()

	if *token == "" {
		return errors.New("token is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := client.NewManager(client.Config{
		Dialer:      &client.WSDialer{URL: *addr},
		Token:       client.StaticToken(*token),
		BaseDelay:   *base,
		MaxAttempts: *attempts,
		Log:         logger,
		OnEvent: func(f client.Frame) {
			fmt.Println(render(f))
		},
		OnStateChange: func(s client.State, err error) {
			if err != nil {
				fmt.Printf("* %s (%v)\n", s, err)
				return
			}
			fmt.Printf("* %s\n", s)
			if s == client.StateError {
				fmt.Println("* giving up, type /reconnect to try again")
			}
		},
		OnRetry: func(attempt int, delay time.Duration) {
			fmt.Printf("* reconnect attempt %d in %s\n", attempt, delay)
		},
	})
	defer m.Close()

	if *contact != 0 || *conversation != "" {
		if err := m.SetActiveRoom(ctx, proto.RoomTarget{ContactID: *contact, ConversationID: *conversation}); err != nil {
			return err
		}
	}
	m.Connect()

	fmt.Printf("Connecting to %s\n", *addr)
	fmt.Println("Type messages and press Enter to send. /help lists commands. Ctrl+C to exit.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, m, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, m *client.Manager, line string) bool {
	if line == "" {
		return false
	}
	active, _ := m.ActiveRoom()
	cmd, err := parseLine(line, active)
	if err != nil {
		fmt.Printf("! %v\n", err)
		return false
	}

	switch cmd.kind {
	case cmdQuit:
		m.Disconnect()
		return true
	case cmdHelp:
		fmt.Println(helpText)
	case cmdReconnect:
		m.Reconnect()
	case cmdDisconnect:
		m.Disconnect()
	case cmdJoin:
		if err := m.SetActiveRoom(ctx, cmd.target); err != nil {
			fmt.Printf("! join: %v\n", err)
		}
	case cmdSend:
		if err := m.Send(ctx, cmd.frameType, cmd.data); err != nil {
			fmt.Printf("! send: %v\n", err)
		}
	}
	return false
}
