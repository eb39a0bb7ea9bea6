package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/metrics"
)

type describeResponse struct {
	Filename          string     `json:"filename"`
	ContentType       string     `json:"content_type"`
	Size              int64      `json:"size"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	PasswordRequired  bool       `json:"password_required"`
	OTPRequired       bool       `json:"otp_required"`
	NetworkRestricted bool       `json:"network_restricted"`
}

// handleDescribe implements GET /api/shares/{token}. It never consumes a
// download.
func (h *Handler) handleDescribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info, err := h.Service.Describe(ctx, chi.URLParam(r, "token"))
	if err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, describeResponse{
		Filename:          info.Filename,
		ContentType:       info.ContentType,
		Size:              info.Size,
		ExpiresAt:         info.ExpiresAt,
		PasswordRequired:  info.PasswordRequired,
		OTPRequired:       info.OTPRequired,
		NetworkRestricted: info.NetworkRestricted,
	})
}

// handleRequestOTP implements POST /api/shares/{token}/otp.
func (h *Handler) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	expires, err := h.Service.RequestOTP(ctx, chi.URLParam(r, "token"))
	if err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, struct {
		ExpiresAt time.Time `json:"expires_at"`
	}{ExpiresAt: expires})
}

// handleRevoke implements DELETE /api/shares/{token}. It requires the admin
// bearer token and is disabled when none is configured.
func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.AdminToken == "" {
		h.writeError(ctx, w, http.StatusNotFound, domain.KindNotFound, "not found")
		return
	}
	if !metrics.BearerMatches(r, h.AdminToken) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="vanish"`)
		h.writeError(ctx, w, http.StatusUnauthorized, domain.KindForbidden, "unauthorized")
		return
	}
	if err := h.Service.RevokeShare(ctx, chi.URLParam(r, "token")); err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
