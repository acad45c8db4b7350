package notify

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testHub() *Hub {
	return NewHub(zerolog.Nop())
}

func testClient(userID int64, buffer int) *Client {
	return &Client{
		ID:     fmt.Sprintf("client-%d", userID),
		UserID: userID,
		Send:   make(chan []byte, buffer),
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := testHub()

	c1 := testClient(1, 8)
	c2 := testClient(1, 8)
	c3 := testClient(2, 8)

	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c3)

	if got := hub.ClientCount(); got != 3 {
		t.Fatalf("ClientCount = %d, want 3", got)
	}
	if got := hub.UserConnectionCount(1); got != 2 {
		t.Fatalf("UserConnectionCount(1) = %d, want 2", got)
	}

	hub.Unregister(c1)

	if got := hub.UserConnectionCount(1); got != 1 {
		t.Fatalf("UserConnectionCount(1) after unregister = %d, want 1", got)
	}

	// Double unregister must be a no-op, not a panic on double close.
	hub.Unregister(c1)

	hub.Unregister(c2)
	if got := hub.UserConnectionCount(1); got != 0 {
		t.Fatalf("UserConnectionCount(1) = %d, want 0", got)
	}
}

func TestHubNotifyTargetsSingleUser(t *testing.T) {
	hub := testHub()

	owner := testClient(1, 8)
	other := testClient(2, 8)
	hub.Register(owner)
	hub.Register(other)

	hub.Notify(1, Event{
		Type:      "consent.request.created",
		RequestID: "42",
	})

	select {
	case raw := <-owner.Send:
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if ev.Type != "consent.request.created" {
			t.Errorf("Type = %q, want consent.request.created", ev.Type)
		}
		if ev.RequestID != "42" {
			t.Errorf("RequestID = %q, want 42", ev.RequestID)
		}
		if ev.Timestamp.IsZero() {
			t.Error("Timestamp not populated")
		}
	case <-time.After(time.Second):
		t.Fatal("owner did not receive event")
	}

	select {
	case <-other.Send:
		t.Fatal("event delivered to wrong user")
	default:
	}
}

func TestHubNotifySkipsFullBuffer(t *testing.T) {
	hub := testHub()

	slow := testClient(1, 1)
	hub.Register(slow)

	hub.Notify(1, Event{Type: "consent.request.approved"})
	// Buffer is full now; this delivery is dropped instead of blocking.
	done := make(chan struct{})
	go func() {
		hub.Notify(1, Event{Type: "consent.request.declined"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full client buffer")
	}

	if got := len(slow.Send); got != 1 {
		t.Fatalf("buffered messages = %d, want 1", got)
	}
}

func TestHubNotifyNoClients(t *testing.T) {
	hub := testHub()
	// Must not panic or block when nobody is connected.
	hub.Notify(7, Event{Type: "consent.request.withdrawn"})
}
