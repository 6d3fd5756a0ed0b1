// Package handler exposes the post service over HTTP/JSON.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/chirp/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/auth/session"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/feed"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/posts"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/posts/validator"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/profile"
	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/logger"
)

// maxBodyBytes caps the create request body. A valid post is at most a few
// hundred bytes.
const maxBodyBytes = 4 << 10

// Service is the subset of the post service the handler needs.
type Service interface {
	CreatePost(ctx context.Context, authorID, content string) (*posts.Post, error)
	ListAll(ctx context.Context) ([]feed.Item, error)
	ListByAuthor(ctx context.Context, authorID string) ([]feed.Item, error)
	GetByID(ctx context.Context, id string) (feed.Item, error)
	GetProfileByUsername(ctx context.Context, username string) (profile.Profile, error)
	ListByUsername(ctx context.Context, username string) (profile.Profile, []feed.Item, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(svc Service) *Handler {
	return &Handler{
		service: svc,
		logger:  slog.Default().With("component", "post-handler"),
	}
}

// Create handles POST /api/v1/posts.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req posts.CreateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	post, err := h.service.CreatePost(ctx, session.Identity(ctx), req.Content)
	if err != nil {
		h.fail(w, r, "create post failed", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, post)
}

// List handles GET /api/v1/posts.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListAll(r.Context())
	if err != nil {
		h.fail(w, r, "list posts failed", err)
		return
	}
	h.writeItems(w, items)
}

// ListByAuthor handles GET /api/v1/users/{authorId}/posts.
func (h *Handler) ListByAuthor(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListByAuthor(r.Context(), r.PathValue("authorId"))
	if err != nil {
		h.fail(w, r, "list author posts failed", err)
		return
	}
	h.writeItems(w, items)
}

// Get handles GET /api/v1/posts/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "get post failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

// GetProfile handles GET /api/v1/profiles/{username}.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetProfileByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		h.fail(w, r, "get profile failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// ListByUsername handles GET /api/v1/profiles/{username}/posts.
func (h *Handler) ListByUsername(w http.ResponseWriter, r *http.Request) {
	p, items, err := h.service.ListByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		h.fail(w, r, "list profile posts failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"profile": p,
		"posts":   items,
		"count":   len(items),
	})
}

func (h *Handler) writeItems(w http.ResponseWriter, items []feed.Item) {
	if items == nil {
		items = []feed.Item{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"posts": items,
		"count": len(items),
	})
}

// fail maps err to a status code and a client-safe body. Server-side faults
// are logged with the full error; their body never carries it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())

	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return
	}

	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		secs := int(math.Ceil(exceeded.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		log.Info(msg, "error", err, "status_code", status)
		h.writeError(w, status, "too many posts, try again later")
		return
	}

	if status >= http.StatusInternalServerError {
		log.Error(msg, "error", err, "status_code", status)
		h.writeError(w, status, publicMessage(err, status))
		return
	}
	log.Info(msg, "error", err, "status_code", status)
	h.writeError(w, status, publicMessage(err, status))
}

func publicMessage(err error, status int) string {
	var appErr *apperrors.AppError
	switch {
	case status < http.StatusInternalServerError && errors.As(err, &appErr):
		return appErr.Message
	case errors.Is(err, apperrors.ErrAuthorResolution):
		return apperrors.ErrAuthorResolution.Error()
	case errors.Is(err, apperrors.ErrDigestComputation):
		return apperrors.ErrDigestComputation.Error()
	case status == http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	case status < http.StatusInternalServerError:
		return http.StatusText(status)
	default:
		return "internal error"
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
