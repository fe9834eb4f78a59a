package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/voice-assistant/internal/turn"
	"github.com/coder/websocket"
)

const (
	writeTimeout = 10 * time.Second
	outboxSize   = 64
)

// Session is one browser tab's conversation.
type Session struct {
	UserID string
	ID     string

	conn    *websocket.Conn
	out     chan ServerMessage
	ctx     context.Context
	cancel  context.CancelFunc
	machine *turn.Machine
	logger  *slog.Logger

	closeOnce sync.Once
}

func newSession(ctx context.Context, userID, sessionID string, conn *websocket.Conn, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		UserID: userID,
		ID:     sessionID,
		conn:   conn,
		out:    make(chan ServerMessage, outboxSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("user_id", userID, "session_id", sessionID),
	}
}

// Post hands ev to the session's machine.
func (s *Session) Post(ev turn.Event) bool {
	if s.machine == nil {
		return false
	}
	return s.machine.Post(ev)
}

// Close ends the session and closes its connection.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.cancel()
		if err := s.conn.Close(websocket.StatusNormalClosure, reason); err != nil {
			s.logger.Debug("Failed to close websocket", "error", err)
		}
	})
}

// send queues msg without blocking; the caller may hold the machine lock.
func (s *Session) send(msg ServerMessage) {
	if s.ctx.Err() != nil {
		return
	}
	select {
	case s.out <- msg:
	default:
		s.logger.Warn("Outbound queue full, closing session", "type", msg.Type)
		go s.Close("client too slow")
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.out:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("Failed to encode message", "type", msg.Type, "error", err)
				continue
			}
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err = s.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if s.ctx.Err() == nil {
					s.logger.Debug("WebSocket write error", "error", err)
				}
				s.cancel()
				return
			}
		}
	}
}

// remote drives the browser's speech devices and display over the socket.
type remote struct {
	s *Session
}

func (r remote) Start(lang string) error {
	if err := r.s.ctx.Err(); err != nil {
		return err
	}
	r.s.send(ServerMessage{Type: TypeCaptureStart, Lang: lang})
	return nil
}

func (r remote) Stop() {
	r.s.send(ServerMessage{Type: TypeCaptureStop})
}

func (r remote) Speak(u turn.Utterance) {
	r.s.send(ServerMessage{Type: TypeSpeak, Utterance: &u})
}

func (r remote) Cancel() {
	r.s.send(ServerMessage{Type: TypeSpeechCancel})
}

func (r remote) ShowUserText(text string) {
	r.s.send(ServerMessage{Type: TypeUserText, Text: text})
}

func (r remote) ShowAssistantText(text string) {
	r.s.send(ServerMessage{Type: TypeAssistantText, Text: text})
}

func (r remote) Open(url string) {
	r.s.send(ServerMessage{Type: TypeOpen, URL: url})
}
