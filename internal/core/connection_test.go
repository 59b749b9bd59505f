package core

import "testing"

func TestConnectionOverflowKicks(t *testing.T) {
	conn := NewConnection("c1", 1, "alice", 1)

	if !conn.Send(&Event{Kind: EventUserOnline}) {
		t.Fatalf("first send should fit the queue")
	}
	if conn.Send(&Event{Kind: EventUserOnline}) {
		t.Fatalf("send on a full queue must fail")
	}
	select {
	case <-conn.Kicked():
	default:
		t.Fatalf("overflow should kick the connection")
	}
	conn.Kick() // idempotent
}

func TestConnectionClosedRejectsSendAndJoin(t *testing.T) {
	conn := NewConnection("c1", 1, "alice", 4)
	conn.addRoom("dm:1:2")

	rooms := conn.close()
	if len(rooms) != 1 || rooms[0] != "dm:1:2" {
		t.Fatalf("unexpected room snapshot: %v", rooms)
	}
	if conn.Send(&Event{Kind: EventUserOnline}) {
		t.Fatalf("closed connection accepted an event")
	}
	if conn.addRoom("dm:1:3") {
		t.Fatalf("closed connection accepted a room")
	}
	if len(conn.Rooms()) != 0 {
		t.Fatalf("closed connection still lists rooms")
	}
}
