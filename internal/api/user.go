package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/voice-assistant/internal/domain"
	"github.com/ashureev/voice-assistant/internal/identity"
	"github.com/ashureev/voice-assistant/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// UploadsPath is the URL prefix uploaded assistant images are served under.
const UploadsPath = "/uploads/"

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
}

// ProfileListener is told about profile changes, so live sessions pick up a new
// assistant name or language.
type ProfileListener func(user *domain.User)

// UserHandler serves the /api/user profile endpoints.
type UserHandler struct {
	repo        store.Repository
	uploadDir   string
	maxBodySize int64
	onChange    ProfileListener
}

// NewUserHandler creates a user handler storing uploads in uploadDir.
func NewUserHandler(repo store.Repository, uploadDir string, maxBodySize int64, onChange ProfileListener) *UserHandler {
	return &UserHandler{repo: repo, uploadDir: uploadDir, maxBodySize: maxBodySize, onChange: onChange}
}

// RegisterRoutes registers the routes on a router that already authenticates.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/user/current", h.Current)
	r.Post("/api/user/update", h.Update)
}

// Current returns the signed-in user with their history.
func (h *UserHandler) Current(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil {
		slog.Error("Get current user failed", "user_id", userID, "error", err)
		Message(w, http.StatusInternalServerError, "get current user error")
		return
	}
	if user == nil {
		Message(w, http.StatusNotFound, "User not found")
		return
	}
	JSON(w, http.StatusOK, user)
}

type updateRequest struct {
	AssistantName     string `json:"assistantName"`
	ImageURL          string `json:"imageUrl"`
	AssistantLanguage string `json:"assistantLanguage"`
}

// Update changes the assistant profile. The body is JSON, or multipart with an
// optional assistantImage file that takes precedence over imageUrl.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req updateRequest
	var upload string

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
		if err := r.ParseMultipartForm(h.maxBodySize); err != nil {
			Message(w, http.StatusBadRequest, "invalid form: "+err.Error())
			return
		}
		req.AssistantName = r.FormValue("assistantName")
		req.ImageURL = r.FormValue("imageUrl")
		req.AssistantLanguage = r.FormValue("assistantLanguage")

		path, err := h.saveUpload(r)
		if err != nil {
			Message(w, http.StatusBadRequest, err.Error())
			return
		}
		upload = path
	} else if err := DecodeJSON(w, r, h.maxBodySize, &req); err != nil {
		Message(w, http.StatusBadRequest, err.Error())
		return
	}

	var upd store.AssistantUpdate
	if name := strings.TrimSpace(req.AssistantName); name != "" {
		upd.AssistantName = &name
	}
	if lang := strings.TrimSpace(req.AssistantLanguage); lang != "" {
		upd.AssistantLanguage = &lang
	}
	switch {
	case upload != "":
		upd.AssistantImage = &upload
	case strings.TrimSpace(req.ImageURL) != "":
		image := strings.TrimSpace(req.ImageURL)
		upd.AssistantImage = &image
	}

	user, err := h.repo.UpdateAssistant(r.Context(), userID, upd)
	if errors.Is(err, store.ErrUserNotFound) {
		Message(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		slog.Error("Update assistant failed", "user_id", userID, "error", err)
		Message(w, http.StatusInternalServerError, "update assistant error")
		return
	}

	slog.Info("Assistant updated", "user_id", userID, "assistant", user.AssistantName, "lang", user.AssistantLanguage)
	if h.onChange != nil {
		h.onChange(user)
	}
	JSON(w, http.StatusOK, user)
}

// saveUpload stores the assistantImage file, if any, and returns its public path.
func (h *UserHandler) saveUpload(r *http.Request) (string, error) {
	file, header, err := r.FormFile("assistantImage")
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read assistantImage: %w", err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !imageExtensions[ext] {
		return "", fmt.Errorf("unsupported image type %q", ext)
	}

	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}
	name := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(h.uploadDir, name))
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return UploadsPath + name, nil
}

// UploadsHandler serves stored images under UploadsPath.
func UploadsHandler(uploadDir string) http.Handler {
	return http.StripPrefix(UploadsPath, http.FileServer(http.Dir(uploadDir)))
}
