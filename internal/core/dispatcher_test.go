package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func send(hub *Hub, conn *Connection, sel RoomSelector, content string) error {
	return hub.Handle(context.Background(), conn, &Command{Kind: CommandSendMessage, Target: sel, Content: content})
}

func TestSendDirectMessageReachesRoomMembers(t *testing.T) {
	hub, st, clk := newTestHub(t)

	alice := connect(t, hub, "token-alice")
	bob := connect(t, hub, "token-bob")
	join(t, hub, alice, RoomSelector{ContactID: 2})
	join(t, hub, bob, RoomSelector{ContactID: 1})

	if err := send(hub, alice, RoomSelector{ContactID: 2}, "hi bob"); err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, conn := range []*Connection{alice, bob} {
		ev := mustEvent(t, conn.Events(), EventMessageReceived)
		msg := ev.Message
		if msg.Content != "hi bob" || msg.SenderID != 1 || msg.SenderName != "alice" || msg.RecipientID != 2 {
			t.Fatalf("unexpected message: %+v", msg)
		}
		if msg.ID != 1 || msg.RoomID != "dm:1:2" || msg.Type != DefaultMessageType || !msg.CreatedAt.Equal(clk.Now()) {
			t.Fatalf("unexpected message metadata: %+v", msg)
		}
	}
	if st.messageCount() != 1 {
		t.Fatalf("expected 1 stored message, got %d", st.messageCount())
	}
}

func TestSendMessageToOfflineContactIsPersisted(t *testing.T) {
	hub, st, _ := newTestHub(t)
	alice := connect(t, hub, "token-alice")

	if err := send(hub, alice, RoomSelector{ContactID: 2}, "see you later"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if st.messageCount() != 1 {
		t.Fatalf("message must be stored even with nobody in the room")
	}

	history, err := hub.History(context.Background(), 2, RoomSelector{ContactID: 1}, 0, nil)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Content != "see you later" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestSendMessageValidation(t *testing.T) {
	hub, st, _ := newTestHub(t)
	alice := connect(t, hub, "token-alice")

	tests := []struct {
		name    string
		sel     RoomSelector
		content string
		code    string
		message string
	}{
		{"empty", RoomSelector{ContactID: 2}, "", ErrCodeBadRequest, MsgEmptyContent},
		{"whitespace", RoomSelector{ContactID: 2}, " \t\n ", ErrCodeBadRequest, MsgEmptyContent},
		{"too long", RoomSelector{ContactID: 2}, strings.Repeat("x", DefaultMaxMessageLength+1), ErrCodeBadRequest, MsgContentTooLong},
		{"no target", RoomSelector{}, "hi", ErrCodeBadRequest, MsgMissingTarget},
		{"unknown recipient", RoomSelector{ContactID: 999}, "hi", ErrCodeNotFound, MsgRecipientNotFound},
		{"not a contact", RoomSelector{ContactID: 3}, "hi", ErrCodeUnauthorized, MsgInvalidContact},
		{"unknown conversation", RoomSelector{ConversationID: "nope"}, "hi", ErrCodeNotFound, MsgRecipientNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := send(hub, alice, tt.sel, tt.content)
			if code := ErrorCode(err); code != tt.code {
				t.Fatalf("expected %s, got %q (%v)", tt.code, code, err)
			}
			ev := mustEvent(t, alice.Events(), EventError)
			if ev.Error.Message != tt.message {
				t.Fatalf("expected %q, got %q", tt.message, ev.Error.Message)
			}
		})
	}
	if st.messageCount() != 0 {
		t.Fatalf("rejected sends must not be stored, got %d", st.messageCount())
	}
}

func TestSendGroupMessage(t *testing.T) {
	hub, st, _ := newTestHub(t)
	st.addConversation("team", 1, 3, 4)

	alice := connect(t, hub, "token-alice")
	carol := connect(t, hub, "token-carol")
	dave := connect(t, hub, "token-dave")
	bob := connect(t, hub, "token-bob")
	for _, c := range []*Connection{alice, carol, dave} {
		join(t, hub, c, RoomSelector{ConversationID: "team"})
	}

	if err := send(hub, carol, RoomSelector{ConversationID: "team"}, "standup?"); err != nil {
		t.Fatalf("send: %v", err)
	}
	for _, c := range []*Connection{alice, carol, dave} {
		ev := mustEvent(t, c.Events(), EventMessageReceived)
		if ev.Message.ConversationID != "team" || ev.Message.SenderID != 3 {
			t.Fatalf("unexpected message: %+v", ev.Message)
		}
	}

	err := send(hub, bob, RoomSelector{ConversationID: "team"}, "let me in")
	if code := ErrorCode(err); code != ErrCodeNotFound {
		t.Fatalf("non participant send: expected not_found, got %q", code)
	}
}

func TestSendMessageRetriesTransientFailures(t *testing.T) {
	hub, st, _ := newTestHub(t)
	alice := connect(t, hub, "token-alice")
	bob := connect(t, hub, "token-bob")
	join(t, hub, bob, RoomSelector{ContactID: 1})

	st.failSaves(int(testRetry.MaxRetries))
	if err := send(hub, alice, RoomSelector{ContactID: 2}, "eventually"); err != nil {
		t.Fatalf("send should succeed after retries: %v", err)
	}
	ev := mustEvent(t, bob.Events(), EventMessageReceived)
	if ev.Message.Content != "eventually" {
		t.Fatalf("unexpected message: %+v", ev.Message)
	}
	if st.messageCount() != 1 {
		t.Fatalf("expected one stored message, got %d", st.messageCount())
	}
}

func TestSendMessageReportsDeliveryFailureToSenderOnly(t *testing.T) {
	hub, st, _ := newTestHub(t)
	alice := connect(t, hub, "token-alice")
	bob := connect(t, hub, "token-bob")
	join(t, hub, alice, RoomSelector{ContactID: 2})
	join(t, hub, bob, RoomSelector{ContactID: 1})

	st.failSaves(100)
	err := send(hub, alice, RoomSelector{ContactID: 2}, "lost")
	if code := ErrorCode(err); code != ErrCodeDeliveryFailed {
		t.Fatalf("expected delivery_failed, got %q (%v)", code, err)
	}

	ev := mustEvent(t, alice.Events(), EventError)
	if ev.Error.Code != ErrCodeDeliveryFailed {
		t.Fatalf("unexpected error event: %+v", ev.Error)
	}
	if events := collect(bob, 50*time.Millisecond); len(events) != 0 {
		t.Fatalf("recipient must not see a failed message, got %+v", events)
	}

	st.mu.Lock()
	calls := st.saveCalls
	st.mu.Unlock()
	if want := int(testRetry.MaxRetries) + 1; calls != want {
		t.Fatalf("expected %d save attempts, got %d", want, calls)
	}
}

func TestMessagesArriveInSendOrder(t *testing.T) {
	hub, st, _ := newTestHub(t)
	st.addConversation("team", 1, 2, 3, 4)

	alice := connect(t, hub, "token-alice")
	bob := connect(t, hub, "token-bob")
	carol := connect(t, hub, "token-carol")
	dave := connect(t, hub, "token-dave")
	for _, c := range []*Connection{alice, bob, carol, dave} {
		join(t, hub, c, RoomSelector{ConversationID: "team"})
	}
	drain(alice)
	drain(bob)

	const perSender = 15
	var wg sync.WaitGroup
	for _, sender := range []*Connection{alice, bob} {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if err := send(hub, c, RoomSelector{ConversationID: "team"}, "msg"); err != nil {
					t.Errorf("send: %v", err)
				}
			}
		}(sender)
	}
	wg.Wait()

	received := func(c *Connection) []int64 {
		var ids []int64
		for _, ev := range collect(c, 100*time.Millisecond) {
			if ev.Kind == EventMessageReceived {
				ids = append(ids, ev.Message.ID)
			}
		}
		return ids
	}
	carolIDs, daveIDs := received(carol), received(dave)

	if len(carolIDs) != 2*perSender || len(daveIDs) != 2*perSender {
		t.Fatalf("expected %d messages each, got carol=%d dave=%d", 2*perSender, len(carolIDs), len(daveIDs))
	}
	for i := range carolIDs {
		if carolIDs[i] != daveIDs[i] {
			t.Fatalf("members observed different orders at %d: %d vs %d", i, carolIDs[i], daveIDs[i])
		}
		if i > 0 && carolIDs[i] <= carolIDs[i-1] {
			t.Fatalf("delivery order does not match persist order: %v", carolIDs)
		}
	}
	if n := hub.dispatcher.sequencers.Len(); n != 0 {
		t.Fatalf("room sequencers should be released once sends finish, got %d", n)
	}
}

func TestNoReplayAfterDisconnect(t *testing.T) {
	hub, _, _ := newTestHub(t)
	alice := connect(t, hub, "token-alice")
	bob := connect(t, hub, "token-bob")
	join(t, hub, alice, RoomSelector{ContactID: 2})
	join(t, hub, bob, RoomSelector{ContactID: 1})

	hub.Disconnect(bob)
	drain(bob)

	if err := send(hub, alice, RoomSelector{ContactID: 2}, "are you there"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if events := collect(bob, 50*time.Millisecond); len(events) != 0 {
		t.Fatalf("closed connection received %+v", events)
	}

	bob2 := connect(t, hub, "token-bob")
	noEvent(t, bob2.Events(), EventMessageReceived, 50*time.Millisecond)
}

func TestMarkAsReadNotifiesOriginalSender(t *testing.T) {
	hub, _, _ := newTestHub(t)
	alice1 := connect(t, hub, "token-alice")
	alice2 := connect(t, hub, "token-alice")
	bob := connect(t, hub, "token-bob")
	join(t, hub, alice1, RoomSelector{ContactID: 2})
	join(t, hub, bob, RoomSelector{ContactID: 1})

	if err := send(hub, alice1, RoomSelector{ContactID: 2}, "read me"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg := mustEvent(t, bob.Events(), EventMessageReceived).Message

	err := hub.Handle(context.Background(), bob, &Command{Kind: CommandMarkAsRead, MessageID: msg.ID, SenderID: 1})
	if err != nil {
		t.Fatalf("mark as read: %v", err)
	}
	for _, c := range []*Connection{alice1, alice2} {
		ev := mustEvent(t, c.Events(), EventMessageRead)
		if ev.Receipt == nil || ev.Receipt.MessageID != msg.ID || ev.Receipt.ReadBy != 2 {
			t.Fatalf("unexpected receipt: %+v", ev.Receipt)
		}
	}
	noEvent(t, bob.Events(), EventMessageRead, 50*time.Millisecond)
}

func TestMarkAsReadRejections(t *testing.T) {
	hub, _, _ := newTestHub(t)
	alice := connect(t, hub, "token-alice")
	bob := connect(t, hub, "token-bob")
	carol := connect(t, hub, "token-carol")

	if err := send(hub, alice, RoomSelector{ContactID: 2}, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	tests := []struct {
		name   string
		reader *Connection
		msgID  int64
		sender int64
		code   string
	}{
		{"unknown message", bob, 42, 1, ErrCodeNotFound},
		{"wrong sender", bob, 1, 3, ErrCodeNotFound},
		{"own message", alice, 1, 1, ErrCodeBadRequest},
		{"not an addressee", carol, 1, 1, ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hub.Handle(context.Background(), tt.reader, &Command{Kind: CommandMarkAsRead, MessageID: tt.msgID, SenderID: tt.sender})
			if code := ErrorCode(err); code != tt.code {
				t.Fatalf("expected %s, got %q (%v)", tt.code, code, err)
			}
		})
	}
	noEvent(t, alice.Events(), EventMessageRead, 50*time.Millisecond)
}

func TestHistoryPagination(t *testing.T) {
	hub, _, _ := newTestHub(t)
	alice := connect(t, hub, "token-alice")
	for i := 0; i < 5; i++ {
		if err := send(hub, alice, RoomSelector{ContactID: 2}, "m"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	page, err := hub.History(context.Background(), 1, RoomSelector{ContactID: 2}, 2, nil)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 2 || page[0].ID != 5 || page[1].ID != 4 {
		t.Fatalf("unexpected first page: %+v", page)
	}

	before := page[1].ID
	page, err = hub.History(context.Background(), 1, RoomSelector{ContactID: 2}, 10, &before)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 3 || page[0].ID != 3 {
		t.Fatalf("unexpected second page: %+v", page)
	}

	if _, err := hub.History(context.Background(), 3, RoomSelector{ContactID: 1}, 10, nil); ErrorCode(err) != ErrCodeUnauthorized {
		t.Fatalf("non contact history: expected unauthorized, got %v", err)
	}
}
