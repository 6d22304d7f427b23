package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ZakirC4/papermc-setup/internal/console"
	ws "github.com/ZakirC4/papermc-setup/internal/websocket"
)

func newConsoleRouter(handler *ConsoleHandler) *gin.Engine {
	router := gin.New()
	router.Use(withUser("operator"))
	router.GET("/console/output", handler.GetOutput)
	router.GET("/console/history", handler.GetCommandHistory)
	router.GET("/console/autocomplete", handler.GetAutocomplete)
	router.GET("/ws/console", handler.HandleConsoleWebSocket)
	return router
}

func TestGetOutputFilters(t *testing.T) {
	session, sup := newTestSession(t, nil)
	startHelperServer(t, session, sup)
	router := newConsoleRouter(NewConsoleHandler(session, nil, nil, nil))

	rec := performRequest(router, http.MethodGet, "/console/output", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if count := decodeBody(t, rec)["count"].(float64); count != 3 {
		t.Fatalf("expected 3 lines, got %v", count)
	}

	rec = performRequest(router, http.MethodGet, "/console/output?filter=errors", nil)
	lines := decodeBody(t, rec)["lines"].([]any)
	if len(lines) != 1 || !strings.Contains(lines[0].(string), "Can't keep up") {
		t.Fatalf("expected only the warning line, got %v", lines)
	}

	rec = performRequest(router, http.MethodGet, "/console/output?filter=search&pattern=DONE", nil)
	lines = decodeBody(t, rec)["lines"].([]any)
	if len(lines) != 1 {
		t.Fatalf("expected case-insensitive search to match the ready line, got %v", lines)
	}

	rec = performRequest(router, http.MethodGet, "/console/output?filter=regex&pattern=(", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid regex, got %d", rec.Code)
	}

	rec = performRequest(router, http.MethodGet, "/console/output?filter=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown filter, got %d", rec.Code)
	}
}

func TestCommandHistoryAndAutocomplete(t *testing.T) {
	session, sup := newTestSession(t, nil)
	startHelperServer(t, session, sup)
	router := newConsoleRouter(NewConsoleHandler(session, nil, nil, nil))

	for _, command := range []string{"say one", "say two", "list"} {
		if err := session.ExecuteCommand(command, "operator"); err != nil {
			t.Fatalf("failed to execute %q: %v", command, err)
		}
	}

	rec := performRequest(router, http.MethodGet, "/console/history?limit=2", nil)
	if count := decodeBody(t, rec)["count"].(float64); count != 2 {
		t.Fatalf("expected 2 commands, got %v", count)
	}

	rec = performRequest(router, http.MethodGet, "/console/history?q=two", nil)
	commands := decodeBody(t, rec)["commands"].([]any)
	if len(commands) != 1 {
		t.Fatalf("expected one search match, got %v", commands)
	}

	rec = performRequest(router, http.MethodGet, "/console/autocomplete?prefix=say", nil)
	suggestions := decodeBody(t, rec)["suggestions"].([]any)
	if len(suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %v", suggestions)
	}
}

func TestConsoleWebSocket(t *testing.T) {
	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	session, sup := newTestSession(t, hub)
	startHelperServer(t, session, sup)

	srv := httptest.NewServer(newConsoleRouter(NewConsoleHandler(session, hub, nil, nil)))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/console"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first ws.Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("failed to read history message: %v", err)
	}
	if first.Type != console.MessageHistory {
		t.Fatalf("expected %s first, got %s", console.MessageHistory, first.Type)
	}
	backlog := first.Payload.(map[string]any)["lines"].([]any)
	if len(backlog) != 3 {
		t.Fatalf("expected 3 backlog lines, got %v", backlog)
	}

	// Wait until the hub has registered the client before producing live output
	deadline := time.Now().Add(5 * time.Second)
	for hub.GetRoomSize(console.Room) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	err = conn.WriteJSON(map[string]any{
		"type":    "command",
		"payload": map[string]any{"command": "say from websocket"},
	})
	if err != nil {
		t.Fatalf("failed to send command: %v", err)
	}

	sawCommand, sawOutput := false, false
	for !(sawCommand && sawOutput) {
		var msg ws.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("failed to read message (command=%v output=%v): %v", sawCommand, sawOutput, err)
		}
		payload, _ := msg.Payload.(map[string]any)
		switch msg.Type {
		case console.MessageCommand:
			if payload["command"] == "say from websocket" && payload["username"] == "operator" {
				sawCommand = true
			}
		case console.MessageOutput:
			if payload["line"] == "[Server thread/INFO]: say from websocket" {
				sawOutput = true
			}
		}
	}
}
