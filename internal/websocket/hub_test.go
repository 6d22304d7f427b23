package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestClient(hub *Hub, id, room string) *Client {
	return &Client{
		ID:       id,
		Username: "tester",
		Room:     room,
		Send:     make(chan *Message, 4),
		Hub:      hub,
	}
}

func TestHubRegisterAndUnregister(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, "client-1", "room-1")

	hub.registerClient(client)
	if hub.GetRoomSize("room-1") != 1 {
		t.Fatalf("expected room size 1")
	}

	hub.unregisterClient(client)
	if hub.GetRoomSize("room-1") != 0 {
		t.Fatalf("expected room to be empty")
	}
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected send channel to be closed")
	}

	// Unregistering twice is harmless
	hub.unregisterClient(client)
	if err := client.SendMessage("ping", nil); err == nil {
		t.Fatalf("expected send on closed client to fail")
	}
}

func TestHubBroadcastToRoom(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, "client-1", "room-1")
	other := newTestClient(hub, "client-2", "room-2")

	hub.registerClient(client)
	hub.registerClient(other)

	message := &Message{Type: "ping"}
	hub.broadcastToRoom(&BroadcastMessage{Room: "room-1", Message: message})

	select {
	case received := <-client.Send:
		if received.Type != "ping" {
			t.Fatalf("expected ping message")
		}
	default:
		t.Fatalf("expected message to be delivered")
	}

	select {
	case received := <-other.Send:
		t.Fatalf("client in another room received %s", received.Type)
	default:
	}
}

func TestHubBroadcastDropsForFullClient(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, "client-1", "room-1")
	hub.registerClient(client)

	for i := 0; i < cap(client.Send)+3; i++ {
		hub.broadcastToRoom(&BroadcastMessage{Room: "room-1", Message: &Message{Type: "line"}})
	}
	if len(client.Send) != cap(client.Send) {
		t.Fatalf("expected full send buffer, got %d", len(client.Send))
	}
	if client.Dropped() != 3 {
		t.Fatalf("expected 3 dropped messages, got %d", client.Dropped())
	}
}

func TestClientPumpsOverRealConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	received := make(chan *Message, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, "tester", "console")
		client.OnMessage = func(c *Client, msg *Message) {
			received <- msg
			c.SendMessage("ack", msg.Payload)
		}
		hub.Register <- client
		go client.WritePump()
		go client.ReadPump()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Message{Type: "command", Payload: "list"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Type != "command" || msg.Payload != "list" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not receive message")
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ack Message
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if ack.Type != "ack" {
		t.Fatalf("expected ack, got %s", ack.Type)
	}
}
