package console

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ZakirC4/papermc-setup/internal/server"
	"github.com/ZakirC4/papermc-setup/internal/websocket"
)

// Room is the websocket room console viewers join
const Room = "console"

// Message types broadcast to the console room
const (
	MessageOutput  = "console_output"
	MessageState   = "server_state"
	MessageExit    = "server_exit"
	MessageCommand = "command_executed"
	MessageHistory = "console_history"
)

// MaxCommandBytes is the longest command accepted from operators
const MaxCommandBytes = 512

var (
	// ErrInvalidCommand is returned for commands that cannot be sent to the console
	ErrInvalidCommand = server.ErrInvalidCommand

	// Match all ANSI/VT100 escape sequences including CSI, OSC, and other control sequences
	ansiEscapePattern = regexp.MustCompile(`\x1b(\[[0-9;?!]*[A-Za-z>hp]|\][^\x07]*\x07|\([B0]|[=>])`)
)

// Source is the supervised process a session mirrors
type Source interface {
	Subscribe() *server.Subscription
	SendCommand(text string) error
	CurrentState() server.State
}

// SessionConfig contains configuration for a console session
type SessionConfig struct {
	BufferLines int
	LogWriter   *LogWriter
	History     *CommandHistory
}

// Session mirrors supervisor output into a ring buffer, an optional log file
// and the console websocket room, and sends operator commands back.
type Session struct {
	source    Source
	hub       *websocket.Hub
	buffer    *RingBuffer
	logWriter *LogWriter
	history   *CommandHistory

	mu           sync.RWMutex
	instanceID   string
	lastActivity time.Time
	active       bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewSession creates a console session. Call Start to begin mirroring output.
func NewSession(source Source, hub *websocket.Hub, config SessionConfig) *Session {
	return &Session{
		source:    source,
		hub:       hub,
		buffer:    NewRingBuffer(config.BufferLines),
		logWriter: config.LogWriter,
		history:   config.History,
	}
}

// Start subscribes to the supervisor and pumps events until ctx is done or Stop is called
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := s.source.Subscribe()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.active = true
	s.lastActivity = time.Now()

	go s.pump(ctx, sub, s.done)
	log.Printf("[Console] Session started")
}

// Stop detaches the session from the supervisor and waits for the pump to exit
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	log.Printf("[Console] Session stopped")
}

func (s *Session) pump(ctx context.Context, sub *server.Subscription, done chan struct{}) {
	defer close(done)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Session) handleEvent(ev server.Event) {
	s.mu.Lock()
	s.instanceID = ev.InstanceID
	s.lastActivity = ev.Time
	s.mu.Unlock()

	switch ev.Kind {
	case server.EventLine:
		line := sanitizeConsoleLine(ev.Line)
		if s.logWriter != nil {
			if err := s.logWriter.WriteLine(line); err != nil {
				log.Printf("[Console] Failed to write console log: %v", err)
			}
		}
		s.buffer.Add(line)

		s.broadcast(MessageOutput, map[string]any{
			"line":        line,
			"seq":         ev.Seq,
			"instance_id": ev.InstanceID,
		}, ev.Time)

	case server.EventState:
		s.broadcast(MessageState, map[string]any{
			"state":       ev.State.String(),
			"instance_id": ev.InstanceID,
		}, ev.Time)

	case server.EventExit:
		if ev.Exit != nil {
			s.broadcast(MessageExit, ev.Exit, ev.Time)
		}
	}
}

func (s *Session) broadcast(msgType string, payload any, ts time.Time) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastToRoom(Room, &websocket.Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: ts,
	})
}

// ExecuteCommand validates a command, sends it to the server and records it in history
func (s *Session) ExecuteCommand(command, username string) error {
	clean, err := SanitizeCommand(command)
	if err != nil {
		return err
	}

	sendErr := s.source.SendCommand(clean)

	s.mu.Lock()
	instanceID := s.instanceID
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if err := s.history.Record(instanceID, username, clean, sendErr); err != nil {
		log.Printf("[Console] %v", err)
	}

	if sendErr != nil {
		log.Printf("[Console] Command by %s failed: %v", username, sendErr)
		return sendErr
	}

	s.broadcast(MessageCommand, map[string]any{
		"command":  clean,
		"username": username,
	}, time.Now())

	log.Printf("[Console] Command executed by %s: %s", username, clean)
	return nil
}

// GetHistoricalOutput returns buffered output for new clients
func (s *Session) GetHistoricalOutput(lines int) []string {
	if lines <= 0 {
		lines = 100
	}
	return s.buffer.GetLast(lines)
}

// GetActiveViewers returns the number of active viewers
func (s *Session) GetActiveViewers() int {
	if s.hub == nil {
		return 0
	}
	return s.hub.GetRoomSize(Room)
}

// IsActive returns whether the session is mirroring output
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// LastActivity returns the time of the last event or command
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// State returns the current server state
func (s *Session) State() server.State {
	return s.source.CurrentState()
}

// History returns the session's command history store, which may be nil
func (s *Session) History() *CommandHistory {
	return s.history
}

func sanitizeConsoleLine(line string) string {
	if line == "" {
		return ""
	}
	stripped := ansiEscapePattern.ReplaceAllString(line, "")
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return r
		}
		if r < 32 || r == 0x7f {
			return -1
		}
		return r
	}, stripped)
}

// SanitizeCommand trims a console command and rejects anything that could
// split it into more than one line on the server's stdin.
func SanitizeCommand(command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("%w: command is empty", ErrInvalidCommand)
	}
	if len(command) > MaxCommandBytes {
		return "", fmt.Errorf("%w: command is too long", ErrInvalidCommand)
	}
	if strings.ContainsAny(command, "\n\r") {
		return "", fmt.Errorf("%w: command contains line breaks", ErrInvalidCommand)
	}
	if ansiEscapePattern.MatchString(command) {
		return "", fmt.Errorf("%w: command contains escape sequences", ErrInvalidCommand)
	}
	for _, r := range command {
		if r < 32 || r == 0x7f {
			return "", fmt.Errorf("%w: command contains control characters", ErrInvalidCommand)
		}
	}
	return command, nil
}
