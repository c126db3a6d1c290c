// Package httpapi exposes passkey ceremonies, session tokens, and the
// notification inbox over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/ferrogym/ferrogym/internal/platform/errors"
	"github.com/ferrogym/ferrogym/internal/platform/requestctx"
	"github.com/ferrogym/ferrogym/internal/services/auth/principal"
	"github.com/ferrogym/ferrogym/internal/services/auth/token"
	"github.com/ferrogym/ferrogym/internal/services/auth/webauthn"
	authstorage "github.com/ferrogym/ferrogym/internal/services/auth/storage"
	"github.com/ferrogym/ferrogym/internal/services/notifications/hub"
	notifstorage "github.com/ferrogym/ferrogym/internal/services/notifications/storage"
)

const (
	maxBodyBytes         = 256 << 10
	defaultListLimit     = 50
	busyRetryAttempts    = 3
	busyRetryInitialWait = 50 * time.Millisecond
)

// Handler serves the auth and notification HTTP surface.
type Handler struct {
	engine *webauthn.Engine
	tokens *token.Service
	hub    *hub.Hub
}

// NewHandler wires the HTTP surface to its services.
func NewHandler(engine *webauthn.Engine, tokens *token.Service, h *hub.Hub) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("webauthn engine is required")
	}
	if tokens == nil {
		return nil, errors.New("token service is required")
	}
	if h == nil {
		return nil, errors.New("notification hub is required")
	}
	return &Handler{engine: engine, tokens: tokens, hub: h}, nil
}

// RegisterRoutes registers all HTTP endpoints on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/auth/webauthn/register/begin", post(h.handleRegisterBegin))
	mux.Handle("/auth/webauthn/register/complete", post(h.handleRegisterComplete))
	mux.Handle("/auth/webauthn/authenticate/begin", post(h.handleAuthenticateBegin))
	mux.Handle("/auth/webauthn/authenticate/complete", post(h.handleAuthenticateComplete))
	mux.Handle("/auth/token/refresh", post(h.handleTokenRefresh))
	mux.Handle("/auth/token/revoke", post(h.handleTokenRevoke))
	mux.Handle("/notifications", Authenticate(h.tokens, RequirePrincipal(http.HandlerFunc(h.handleNotifications))))
	mux.Handle("/notifications/", Authenticate(h.tokens, RequirePrincipal(http.HandlerFunc(h.handleNotificationRead))))
	mux.HandleFunc("/up", handleUp)
}

func post(handler func(http.ResponseWriter, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
			return
		}
		handler(w, r)
	})
}

func handleUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerBeginRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type registerBeginResponse struct {
	Options json.RawMessage `json:"options"`
}

func (h *Handler) handleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	var req registerBeginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var options json.RawMessage
	err := withBusyRetry(r.Context(), func() error {
		var beginErr error
		_, options, beginErr = h.engine.BeginRegistration(r.Context(), principal.CreateInput{
			Email:       req.Email,
			DisplayName: req.DisplayName,
		})
		return beginErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerBeginResponse{Options: options})
}

type registerCompleteRequest struct {
	Email      string          `json:"email"`
	Credential json.RawMessage `json:"credential"`
}

type sessionResponse struct {
	PrincipalID      string `json:"principal_id"`
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
}

func (h *Handler) handleRegisterComplete(w http.ResponseWriter, r *http.Request) {
	var req registerCompleteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var actor principal.Principal
	err := withBusyRetry(r.Context(), func() error {
		var finishErr error
		actor, _, finishErr = h.engine.FinishRegistration(r.Context(), req.Email, req.Credential)
		return finishErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeSession(w, r.Context(), http.StatusCreated, actor.ID)
}

type authenticateBeginRequest struct {
	Email string `json:"email"`
}

func (h *Handler) handleAuthenticateBegin(w http.ResponseWriter, r *http.Request) {
	var req authenticateBeginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var options json.RawMessage
	err := withBusyRetry(r.Context(), func() error {
		var beginErr error
		options, beginErr = h.engine.BeginLogin(r.Context(), req.Email)
		return beginErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerBeginResponse{Options: options})
}

type authenticateCompleteRequest struct {
	Credential json.RawMessage `json:"credential"`
}

func (h *Handler) handleAuthenticateComplete(w http.ResponseWriter, r *http.Request) {
	var req authenticateCompleteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var actor principal.Principal
	err := withBusyRetry(r.Context(), func() error {
		var finishErr error
		actor, finishErr = h.engine.FinishLogin(r.Context(), req.Credential)
		return finishErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeSession(w, r.Context(), http.StatusOK, actor.ID)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var pair token.Pair
	err := withBusyRetry(r.Context(), func() error {
		var refreshErr error
		pair, refreshErr = h.tokens.Refresh(r.Context(), req.RefreshToken)
		return refreshErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt.Unix(),
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt.Unix(),
	})
}

func (h *Handler) handleTokenRevoke(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := withBusyRetry(r.Context(), func() error {
		return h.tokens.Revoke(r.Context(), req.RefreshToken)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	principalID := requestctx.PrincipalIDFromContext(r.Context())
	unreadOnly := strings.EqualFold(r.URL.Query().Get("unread"), "true")
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	notifications, err := h.hub.List(r.Context(), principalID, unreadOnly, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

// handleNotificationRead serves POST /notifications/{id}/read.
func (h *Handler) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/notifications/")
	notificationID, action, ok := strings.Cut(rest, "/")
	if !ok || action != "read" || notificationID == "" {
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	principalID := requestctx.PrincipalIDFromContext(r.Context())
	if _, err := h.hub.MarkRead(r.Context(), principalID, notificationID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeSession(w http.ResponseWriter, ctx context.Context, status int, principalID string) {
	var pair token.Pair
	err := withBusyRetry(ctx, func() error {
		var issueErr error
		pair, issueErr = h.tokens.Issue(ctx, principalID)
		return issueErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, sessionResponse{
		PrincipalID:      principalID,
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt.Unix(),
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt.Unix(),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dest); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return false
	}
	return true
}

// withBusyRetry retries transient lock contention with exponential backoff
// before giving up.
func withBusyRetry(ctx context.Context, fn func() error) error {
	wait := busyRetryInitialWait
	var err error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}

func isBusy(err error) bool {
	return errors.Is(err, authstorage.ErrBusy) ||
		errors.Is(err, notifstorage.ErrBusy) ||
		apperrors.GetCode(err) == apperrors.CodeStorageBusy
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps a service error onto the HTTP surface.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()
	if errors.Is(err, authstorage.ErrBusy) || errors.Is(err, notifstorage.ErrBusy) {
		code = apperrors.CodeStorageBusy
		status = apperrors.CodeStorageBusy.HTTPStatus()
	} else if code == apperrors.CodeUnknown {
		switch {
		case errors.Is(err, authstorage.ErrNotFound), errors.Is(err, notifstorage.ErrNotFound):
			code = apperrors.CodeNotFound
		case errors.Is(err, authstorage.ErrConflict), errors.Is(err, notifstorage.ErrConflict):
			code = apperrors.CodeConflict
		default:
			log.Printf("httpapi: unmapped error: %v", err)
			writeJSONError(w, http.StatusInternalServerError, string(apperrors.CodeUnknown), "internal error")
			return
		}
		status = code.HTTPStatus()
	}
	writeJSONError(w, status, string(code), err.Error())
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
