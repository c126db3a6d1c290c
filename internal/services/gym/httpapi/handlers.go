// Package httpapi exposes gym member operations over HTTP. Reads are open
// to any caller; mutations on member-scoped resources are gated by the
// ownership predicate.
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
	"github.com/ferrogym/ferrogym/internal/services/auth/authz"
	"github.com/ferrogym/ferrogym/internal/services/gym/domain"
)

const (
	maxBodyBytes     = 256 << 10
	defaultListLimit = 50

	busyRetryAttempts    = 3
	busyRetryInitialWait = 50 * time.Millisecond
)

// Handler serves the gym HTTP endpoints.
type Handler struct {
	gym *domain.Service
}

// NewHandler wires the HTTP surface to the gym service.
func NewHandler(gym *domain.Service) (*Handler, error) {
	if gym == nil {
		return nil, errors.New("gym service is required")
	}
	return &Handler{gym: gym}, nil
}

// RegisterRoutes registers the gym endpoints on the provided mux. The
// authenticate middleware resolves bearer tokens into request principals;
// routes stay reachable without one so reads remain open.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, authenticate func(http.Handler) http.Handler) {
	if authenticate == nil {
		authenticate = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("/gym/members", authenticate(http.HandlerFunc(h.handleMembers)))
	mux.Handle("/gym/members/", authenticate(http.HandlerFunc(h.handleMemberSubresource)))
	mux.Handle("/gym/posts", authenticate(http.HandlerFunc(h.handlePosts)))
	mux.Handle("/gym/posts/", authenticate(http.HandlerFunc(h.handlePostReplies)))
}

type enrollRequest struct {
	Name                string    `json:"name"`
	MembershipExpiresAt time.Time `json:"membership_expires_at"`
}

func (h *Handler) handleMembers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	principalID := requestctx.PrincipalIDFromContext(r.Context())
	if principalID == "" {
		writeAuthRequired(w)
		return
	}

	var req enrollRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var member domain.Member
	err := withBusyRetry(r.Context(), func() error {
		var enrollErr error
		member, enrollErr = h.gym.EnrollMember(r.Context(), domain.EnrollInput{
			PrincipalID:         principalID,
			Name:                req.Name,
			MembershipExpiresAt: req.MembershipExpiresAt,
		})
		return enrollErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

type attendanceRequest struct {
	Location string `json:"location"`
}

type purchaseRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
}

type extendRequest struct {
	Until time.Time `json:"until"`
}

// handleMemberSubresource routes /gym/members/me and the member-scoped
// collections. Mutations require the caller to own the member account.
func (h *Handler) handleMemberSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/gym/members/")
	if rest == "me" {
		h.handleMemberMe(w, r)
		return
	}

	memberID, action, _ := strings.Cut(rest, "/")
	if memberID == "" {
		writeJSONError(w, http.StatusNotFound, string(apperrors.CodeNotFound), "member not found")
		return
	}

	var member domain.Member
	err := withBusyRetry(r.Context(), func() error {
		var getErr error
		member, getErr = h.gym.Member(r.Context(), memberID)
		return getErr
	})
	if err != nil {
		writeError(w, err)
		return
	}

	principalID := requestctx.PrincipalIDFromContext(r.Context())
	if !authz.MayModify(principalID, member, r.Method) {
		if principalID == "" {
			writeAuthRequired(w)
			return
		}
		writeJSONError(w, http.StatusForbidden, string(apperrors.CodePolicyDenied), "only the owning member may do that")
		return
	}

	switch action {
	case "":
		h.handleMemberGet(w, r, member)
	case "attendance":
		h.handleAttendance(w, r, member)
	case "purchases":
		h.handlePurchases(w, r, member)
	case "extend":
		h.handleExtend(w, r, member)
	default:
		writeJSONError(w, http.StatusNotFound, string(apperrors.CodeNotFound), "unknown member resource")
	}
}

func (h *Handler) handleMemberMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	principalID := requestctx.PrincipalIDFromContext(r.Context())
	if principalID == "" {
		writeAuthRequired(w)
		return
	}

	var member domain.Member
	err := withBusyRetry(r.Context(), func() error {
		var getErr error
		member, getErr = h.gym.MemberByPrincipal(r.Context(), principalID)
		return getErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *Handler) handleMemberGet(w http.ResponseWriter, r *http.Request, member domain.Member) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *Handler) handleAttendance(w http.ResponseWriter, r *http.Request, member domain.Member) {
	switch r.Method {
	case http.MethodGet:
		var records []domain.AttendanceRecord
		err := withBusyRetry(r.Context(), func() error {
			var listErr error
			records, listErr = h.gym.Attendance(r.Context(), member.ID, listLimit(r))
			return listErr
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"attendance": records})
	case http.MethodPost:
		var req attendanceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		var record domain.AttendanceRecord
		err := withBusyRetry(r.Context(), func() error {
			var recordErr error
			record, recordErr = h.gym.RecordAttendance(r.Context(), member.ID, req.Location)
			return recordErr
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, record)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (h *Handler) handlePurchases(w http.ResponseWriter, r *http.Request, member domain.Member) {
	switch r.Method {
	case http.MethodGet:
		var purchases []domain.Purchase
		err := withBusyRetry(r.Context(), func() error {
			var listErr error
			purchases, listErr = h.gym.Purchases(r.Context(), member.ID, listLimit(r))
			return listErr
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"purchases": purchases})
	case http.MethodPost:
		var req purchaseRequest
		if !decodeBody(w, r, &req) {
			return
		}
		var purchase domain.Purchase
		err := withBusyRetry(r.Context(), func() error {
			var recordErr error
			purchase, recordErr = h.gym.RecordPurchase(r.Context(), member.ID, req.AmountCents, req.Description)
			return recordErr
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, purchase)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (h *Handler) handleExtend(w http.ResponseWriter, r *http.Request, member domain.Member) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	var req extendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Until.IsZero() {
		writeJSONError(w, http.StatusBadRequest, "INVALID_BODY", "until is required")
		return
	}

	var extended domain.Member
	err := withBusyRetry(r.Context(), func() error {
		var extendErr error
		extended, extendErr = h.gym.ExtendMembership(r.Context(), member.ID, req.Until)
		return extendErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, extended)
}

type postRequest struct {
	Body string `json:"body"`
}

func (h *Handler) handlePosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	principalID := requestctx.PrincipalIDFromContext(r.Context())
	if principalID == "" {
		writeAuthRequired(w)
		return
	}

	var req postRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var post domain.CommunityPost
	err := withBusyRetry(r.Context(), func() error {
		var createErr error
		post, createErr = h.gym.CreatePost(r.Context(), principalID, req.Body)
		return createErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// handlePostReplies serves /gym/posts/{id}/replies. Anyone may read; any
// authenticated member may reply, since replying annotates rather than
// modifies the parent post.
func (h *Handler) handlePostReplies(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/gym/posts/")
	postID, action, _ := strings.Cut(rest, "/")
	if postID == "" || action != "replies" {
		writeJSONError(w, http.StatusNotFound, string(apperrors.CodeNotFound), "unknown post resource")
		return
	}

	switch r.Method {
	case http.MethodGet:
		var replies []domain.CommunityPost
		err := withBusyRetry(r.Context(), func() error {
			var listErr error
			replies, listErr = h.gym.Replies(r.Context(), postID)
			return listErr
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"replies": replies})
	case http.MethodPost:
		principalID := requestctx.PrincipalIDFromContext(r.Context())
		if principalID == "" {
			writeAuthRequired(w)
			return
		}
		var req postRequest
		if !decodeBody(w, r, &req) {
			return
		}
		var reply domain.CommunityPost
		err := withBusyRetry(r.Context(), func() error {
			var replyErr error
			reply, replyErr = h.gym.ReplyToPost(r.Context(), postID, principalID, req.Body)
			return replyErr
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, reply)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func listLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
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
		if err == nil || !errors.Is(err, domain.ErrBusy) {
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

func writeAuthRequired(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	writeJSONError(w, http.StatusUnauthorized, string(apperrors.CodeAuthRequired), "authentication required")
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps gym service errors onto the HTTP surface.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrBusy):
		writeJSONError(w, http.StatusServiceUnavailable, string(apperrors.CodeStorageBusy), "storage is busy, retry later")
	case errors.Is(err, domain.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, string(apperrors.CodeNotFound), "record not found")
	case errors.Is(err, domain.ErrConflict):
		writeJSONError(w, http.StatusConflict, string(apperrors.CodeConflict), err.Error())
	case errors.Is(err, domain.ErrMemberNameRequired),
		errors.Is(err, domain.ErrPrincipalRequired),
		errors.Is(err, domain.ErrBodyRequired),
		errors.Is(err, domain.ErrAmountInvalid),
		errors.Is(err, domain.ErrExpiryRequired):
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	default:
		log.Printf("gym httpapi: unmapped error: %v", err)
		writeJSONError(w, http.StatusInternalServerError, string(apperrors.CodeUnknown), "internal error")
	}
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
