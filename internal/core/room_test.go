package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDeriveDirectRoomIDIsCommutative(t *testing.T) {
	pairs := [][2]int64{{1, 2}, {42, 7}, {100, 100000}}
	for _, p := range pairs {
		if a, b := DeriveDirectRoomID(p[0], p[1]), DeriveDirectRoomID(p[1], p[0]); a != b {
			t.Fatalf("room id for %v differs by order: %s vs %s", p, a, b)
		}
	}
	if got := DeriveDirectRoomID(7, 3); got != "dm:3:7" {
		t.Fatalf("unexpected room id %q", got)
	}
	if DeriveDirectRoomID(1, 2) == DeriveDirectRoomID(1, 3) {
		t.Fatalf("distinct pairs must map to distinct rooms")
	}
}

func TestJoinDirectRoomFromBothSides(t *testing.T) {
	hub, _, _ := newTestHub(t)

	alice := connect(t, hub, "token-alice")
	bob := connect(t, hub, "token-bob")

	roomA := join(t, hub, alice, RoomSelector{ContactID: 2})
	roomB := join(t, hub, bob, RoomSelector{ContactID: 1})
	if roomA != roomB || roomA != "dm:1:2" {
		t.Fatalf("expected shared room dm:1:2, got %q and %q", roomA, roomB)
	}

	if got := len(hub.Rooms().Members(roomA)); got != 2 {
		t.Fatalf("expected 2 members, got %d", got)
	}
	// room-joined goes to the joiner only.
	noEvent(t, alice.Events(), EventRoomJoined, 50*time.Millisecond)
}

func TestJoinRejectsUnauthorizedTargets(t *testing.T) {
	hub, st, _ := newTestHub(t)
	st.addConversation("conv-1", 2, 3)

	alice := connect(t, hub, "token-alice")

	tests := []struct {
		name    string
		sel     RoomSelector
		code    string
		message string
	}{
		{"non contact", RoomSelector{ContactID: 3}, ErrCodeUnauthorized, MsgInvalidContact},
		{"unknown user", RoomSelector{ContactID: 999}, ErrCodeUnauthorized, MsgInvalidContact},
		{"self", RoomSelector{ContactID: 1}, ErrCodeUnauthorized, MsgInvalidContact},
		{"not a participant", RoomSelector{ConversationID: "conv-1"}, ErrCodeUnauthorized, MsgInvalidConversation},
		{"unknown conversation", RoomSelector{ConversationID: "conv-x"}, ErrCodeUnauthorized, MsgInvalidConversation},
		{"no target", RoomSelector{}, ErrCodeBadRequest, MsgMissingTarget},
		{"both targets", RoomSelector{ContactID: 2, ConversationID: "conv-1"}, ErrCodeBadRequest, MsgMissingTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hub.Handle(context.Background(), alice, &Command{Kind: CommandJoinRoom, Target: tt.sel})
			if code := ErrorCode(err); code != tt.code {
				t.Fatalf("expected %s, got %q (%v)", tt.code, code, err)
			}
			ev := mustEvent(t, alice.Events(), EventError)
			if ev.Error.Code != tt.code || ev.Error.Message != tt.message {
				t.Fatalf("unexpected error event: %+v", ev.Error)
			}
		})
	}

	if len(alice.Rooms()) != 0 {
		t.Fatalf("rejected joins must not add rooms, got %v", alice.Rooms())
	}
}

func TestJoinGroupRoom(t *testing.T) {
	hub, st, _ := newTestHub(t)
	st.addConversation("conv-1", 1, 3)

	alice := connect(t, hub, "token-alice")
	room := join(t, hub, alice, RoomSelector{ConversationID: "conv-1"})
	if room != "conv-1" {
		t.Fatalf("group room id should be the conversation id, got %q", room)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	hub, _, _ := newTestHub(t)
	alice := connect(t, hub, "token-alice")

	room := join(t, hub, alice, RoomSelector{ContactID: 2})
	join(t, hub, alice, RoomSelector{ContactID: 2})

	if got := len(hub.Rooms().Members(room)); got != 1 {
		t.Fatalf("expected 1 member after double join, got %d", got)
	}
}

func TestLeaveRoom(t *testing.T) {
	hub, _, _ := newTestHub(t)
	alice := connect(t, hub, "token-alice")
	room := join(t, hub, alice, RoomSelector{ContactID: 2})

	if err := hub.Handle(context.Background(), alice, &Command{Kind: CommandLeaveRoom, Room: room}); err != nil {
		t.Fatalf("leave: %v", err)
	}
	ev := mustEvent(t, alice.Events(), EventRoomLeft)
	if ev.Room != room {
		t.Fatalf("unexpected room-left: %+v", ev)
	}
	if rooms, members := hub.Rooms().Stats(); rooms != 0 || members != 0 {
		t.Fatalf("empty room should be dropped, got rooms=%d members=%d", rooms, members)
	}

	err := hub.Handle(context.Background(), alice, &Command{Kind: CommandLeaveRoom, Target: RoomSelector{ContactID: 2}})
	if code := ErrorCode(err); code != ErrCodeNotInRoom {
		t.Fatalf("expected not_in_room, got %q", code)
	}
	mustEvent(t, alice.Events(), EventError)
}

func TestJoinAfterTeardownIsRejected(t *testing.T) {
	hub, _, _ := newTestHub(t)
	alice := connect(t, hub, "token-alice")
	hub.Disconnect(alice)

	_, err := hub.Rooms().Join(context.Background(), alice, RoomSelector{ContactID: 2})
	if !errors.Is(err, errConnectionClosed) {
		t.Fatalf("expected errConnectionClosed, got %v", err)
	}
	if got := len(hub.Rooms().Members("dm:1:2")); got != 0 {
		t.Fatalf("closed connection must not stay in the room, got %d", got)
	}
}

func TestRoomRouterConcurrentJoinAndTeardown(t *testing.T) {
	hub, _, _ := newTestHub(t)

	for i := 0; i < 50; i++ {
		conn := connect(t, hub, "token-alice")
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = hub.Rooms().Join(context.Background(), conn, RoomSelector{ContactID: 2})
		}()
		hub.Disconnect(conn)
		<-done
	}

	if rooms, members := hub.Rooms().Stats(); rooms != 0 || members != 0 {
		t.Fatalf("torn down connections leaked into rooms: rooms=%d members=%d", rooms, members)
	}
}
