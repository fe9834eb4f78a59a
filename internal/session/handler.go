package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/voice-assistant/internal/assistant"
	"github.com/ashureev/voice-assistant/internal/identity"
	"github.com/ashureev/voice-assistant/internal/intent"
	"github.com/ashureev/voice-assistant/internal/store"
	"github.com/ashureev/voice-assistant/internal/turn"
	"github.com/coder/websocket"
)

const readLimit = 64 << 10

// Asker resolves a command for a user.
type Asker interface {
	Ask(ctx context.Context, req assistant.Request) (intent.Intent, error)
}

// Recorder observes session lifecycles and phase changes.
type Recorder interface {
	RecordTransition(from, to string)
	SessionOpened()
	SessionClosed()
}

// Limiter throttles commands per user.
type Limiter interface {
	Allow(key string) bool
}

// Handler upgrades /ws/assistant requests and runs a conversation per connection.
type Handler struct {
	repo          store.Repository
	asker         Asker
	sm            *Manager
	rec           Recorder
	limiter       Limiter
	timings       turn.Timings
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a WebSocket handler. rec may be nil.
func NewHandler(repo store.Repository, asker Asker, sm *Manager, rec Recorder, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:          repo,
		asker:         asker,
		sm:            sm,
		rec:           rec,
		timings:       turn.DefaultTimings(),
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger.With("component", "session"),
	}
}

// SetTimings overrides the turn delays.
func (h *Handler) SetTimings(t turn.Timings) {
	h.timings = t
}

// SetLimiter throttles spoken commands with the same limiter as the HTTP endpoint.
func (h *Handler) SetLimiter(l Limiter) {
	h.limiter = l
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, identity.MsgTokenMissing, http.StatusUnauthorized)
		return
	}
	h.logger.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(readLimit)

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		h.logger.Warn("Session user not found", "user_id", userID, "error", err)
		h.writeJSON(r.Context(), ws, ServerMessage{Type: TypeError, Message: "User not found"})
		_ = ws.Close(websocket.StatusPolicyViolation, "user not found")
		return
	}

	s := newSession(r.Context(), userID, sessionID, ws, h.logger)
	defer s.Close("session ended")

	assistantName := assistant.DefaultAssistantName
	if user.HasAssistant() {
		assistantName = user.AssistantName
	}
	dev := remote{s: s}
	s.machine = turn.NewMachine(
		turn.Profile{UserName: user.Name, AssistantName: assistantName, AssistantLanguage: user.AssistantLanguage},
		turn.Ports{Capture: dev, Output: dev, Display: dev, Opener: dev},
		turn.Options{
			Timings: h.timings,
			Logger:  s.logger,
			Resolve: func(ctx context.Context, command string) intent.Intent {
				return h.resolve(ctx, s, command)
			},
			OnTransition: func(from, to turn.Phase) {
				if h.rec != nil {
					h.rec.RecordTransition(from.String(), to.String())
				}
			},
			OnState: func(st turn.ConversationState) {
				s.send(ServerMessage{Type: TypeState, State: &st})
			},
		},
	)

	h.sm.Register(s)
	defer h.sm.Unregister(s)
	if h.rec != nil {
		h.rec.SessionOpened()
		defer h.rec.SessionClosed()
	}

	initial := s.machine.State()
	s.send(ServerMessage{Type: TypeState, State: &initial})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.machine.Run(s.ctx)
	}()
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()

	h.readLoop(s)
	s.cancel()
	wg.Wait()
	s.logger.Info("Assistant session ended")
}

func (h *Handler) resolve(ctx context.Context, s *Session, command string) intent.Intent {
	if h.limiter != nil && !h.limiter.Allow(s.UserID) {
		s.logger.Warn("Assistant rate limit exceeded")
		return intent.Intent{Type: intent.TypeError, UserInput: command, Response: assistant.MsgRateLimited}
	}
	in, err := h.asker.Ask(ctx, assistant.Request{
		UserID:    s.UserID,
		SessionID: s.ID,
		Source:    "ws",
		Command:   command,
	})
	if err != nil {
		s.logger.Error("Ask assistant failed", "error", err)
		return intent.Intent{Type: intent.TypeError, UserInput: command, Response: intent.MsgProblem}
	}
	return in
}

func (h *Handler) readLoop(s *Session) {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || s.ctx.Err() != nil {
				s.logger.Debug("WebSocket closed", "error", err)
			} else {
				s.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.send(ServerMessage{Type: TypeError, Message: "invalid message"})
			continue
		}
		if msg.Type == TypePing {
			s.send(ServerMessage{Type: TypePong})
			continue
		}

		ev, err := msg.Event(time.Now())
		if err != nil {
			s.send(ServerMessage{Type: TypeError, Message: err.Error()})
			continue
		}
		if !s.Post(ev) {
			return
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("Failed to send message", "error", err)
	}
}
