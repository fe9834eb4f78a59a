package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/voice-assistant/internal/api"
	"github.com/ashureev/voice-assistant/internal/domain"
	"github.com/ashureev/voice-assistant/internal/identity"
	"github.com/ashureev/voice-assistant/internal/store"
	"github.com/go-chi/chi/v5"
)

// User-facing messages.
const (
	MsgEmailExists     = "Email already exists!"
	MsgPasswordShort   = "Password must be at least 6 characters!"
	MsgEmailNotFound   = "Email does not exist!"
	MsgWrongPassword   = "Incorrect password!"
	MsgMissingFields   = "Name, email and password are required!"
	MsgLoggedOut       = "Logged out successfully"
	maxCredentialsBody = 16 << 10
)

// LogoutListener is told which user signed out.
type LogoutListener func(userID string)

// Handler serves /api/auth.
type Handler struct {
	repo     store.Repository
	tokens   *Tokens
	isDev    bool
	onLogout LogoutListener
	logger   *slog.Logger
}

// NewHandler creates an auth handler. isDev drops the Secure cookie attribute.
func NewHandler(repo store.Repository, tokens *Tokens, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repo: repo, tokens: tokens, isDev: isDev, logger: logger.With("component", "auth")}
}

// OnLogout sets the listener called after a verified sign-out.
func (h *Handler) OnLogout(fn LogoutListener) {
	h.onLogout = fn
}

// RegisterRoutes registers the auth routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", h.SignUp)
		r.Post("/signin", h.SignIn)
		r.Get("/logout", h.Logout)
	})
}

type signUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp creates an account and starts a session.
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := api.DecodeJSON(w, r, maxCredentialsBody, &req); err != nil {
		api.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = domain.NormalizeEmail(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		api.Message(w, http.StatusBadRequest, MsgMissingFields)
		return
	}

	existing, err := h.repo.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.logger.Error("Sign up lookup failed", "error", err)
		api.Message(w, http.StatusInternalServerError, "sign up error")
		return
	}
	if existing != nil {
		api.Message(w, http.StatusBadRequest, MsgEmailExists)
		return
	}

	hash, err := HashPassword(req.Password)
	if errors.Is(err, ErrPasswordTooShort) {
		api.Message(w, http.StatusBadRequest, MsgPasswordShort)
		return
	}
	if err != nil {
		h.logger.Error("Password hashing failed", "error", err)
		api.Message(w, http.StatusInternalServerError, "sign up error")
		return
	}

	user := &domain.User{Name: req.Name, Email: req.Email, PasswordHash: hash, History: []string{}}
	if err := h.repo.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			api.Message(w, http.StatusBadRequest, MsgEmailExists)
			return
		}
		h.logger.Error("Create user failed", "error", err)
		api.Message(w, http.StatusInternalServerError, "sign up error")
		return
	}

	if !h.startSession(w, user.ID) {
		return
	}
	h.logger.Info("User signed up", "user_id", user.ID)
	api.JSON(w, http.StatusCreated, user)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn verifies credentials and starts a session.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := api.DecodeJSON(w, r, maxCredentialsBody, &req); err != nil {
		api.Message(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.repo.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.logger.Error("Sign in lookup failed", "error", err)
		api.Message(w, http.StatusInternalServerError, "sign in error")
		return
	}
	if user == nil {
		api.Message(w, http.StatusBadRequest, MsgEmailNotFound)
		return
	}
	if !CheckPassword(user.PasswordHash, req.Password) {
		h.logger.Warn("Incorrect password", "user_id", user.ID, "ip", identity.IPFromRequest(r))
		api.Message(w, http.StatusBadRequest, MsgWrongPassword)
		return
	}

	if !h.startSession(w, user.ID) {
		return
	}
	full, err := h.repo.GetUser(r.Context(), user.ID)
	if err != nil || full == nil {
		full = user
	}
	api.JSON(w, http.StatusOK, full)
}

// Logout clears the session cookie. A valid token also ends the user's live sessions.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := identity.TokenFromRequest(r); token != "" && h.onLogout != nil {
		if userID, err := h.tokens.Verify(token); err == nil {
			h.onLogout(userID)
			h.logger.Info("User logged out", "user_id", userID)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     identity.TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   !h.isDev,
	})
	api.Message(w, http.StatusOK, MsgLoggedOut)
}

func (h *Handler) startSession(w http.ResponseWriter, userID string) bool {
	token, err := h.tokens.Issue(userID)
	if err != nil {
		h.logger.Error("Token issue failed", "user_id", userID, "error", err)
		api.Message(w, http.StatusInternalServerError, "session error")
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     identity.TokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.tokens.TTL().Seconds()),
		Expires:  time.Now().Add(h.tokens.TTL()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   !h.isDev,
	})
	return true
}
