package assistant

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/voice-assistant/internal/api"
	"github.com/ashureev/voice-assistant/internal/identity"
	"github.com/go-chi/chi/v5"
)

// defaultMaxRequestBodySize is used when no limit is configured (1MB).
const defaultMaxRequestBodySize = 1 << 20

// MsgRateLimited is returned with 429.
const MsgRateLimited = "Too many requests, please slow down."

// Handler serves POST /api/user/asktoassistant.
type Handler struct {
	svc         *Service
	limiter     *RateLimiter
	maxBodySize int64
	logger      *slog.Logger
}

// NewHandler creates the handler. limiter may be nil to disable throttling.
func NewHandler(svc *Service, limiter *RateLimiter, maxBodySize int64, logger *slog.Logger) *Handler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxRequestBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, limiter: limiter, maxBodySize: maxBodySize, logger: logger}
}

// RegisterRoutes registers the route on a router that already authenticates.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/user/asktoassistant", h.Ask)
}

type askRequest struct {
	Command string `json:"command"`
}

// Ask resolves a typed or transcribed command. Every intent variant is a 200; the
// type field tells failures and clarifications apart.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Message(w, http.StatusUnauthorized, identity.MsgTokenMissing)
		return
	}

	if h.limiter != nil && !h.limiter.Allow(userID) {
		h.logger.Warn("Assistant rate limit exceeded", "user_id", userID)
		api.Message(w, http.StatusTooManyRequests, MsgRateLimited)
		return
	}

	var req askRequest
	if err := api.DecodeJSON(w, r, h.maxBodySize, &req); err != nil {
		api.Message(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.Ask(r.Context(), Request{
		UserID:    userID,
		SessionID: identity.SessionIDFromContext(r.Context()),
		Source:    "http",
		Command:   req.Command,
	})
	switch {
	case errors.Is(err, ErrEmptyCommand):
		api.Message(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrUserNotFound):
		api.Message(w, http.StatusNotFound, "User not found")
		return
	case err != nil:
		h.logger.Error("Ask assistant failed", "user_id", userID, "error", err)
		api.Message(w, http.StatusInternalServerError, "ask assistant error")
		return
	}

	api.JSON(w, http.StatusOK, result)
}
