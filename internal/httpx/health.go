package httpx

import (
	"net/http"

	"github.com/haukened/vanish/internal/domain"
)

// handleHealth returns liveness.
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady returns readiness; a failing probe yields 503.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.Readiness != nil {
		if err := h.Readiness(r.Context()); err != nil {
			h.logger().Warn("not ready", "domain", "http", "error", err)
			h.writeError(r.Context(), w, http.StatusServiceUnavailable, domain.KindStorageFailure, "not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type ttlOption struct {
	Label   string `json:"label"`
	Seconds int64  `json:"seconds"`
}

type limitsResponse struct {
	MaxBytes        int64       `json:"max_bytes"`
	MinTTLSeconds   int64       `json:"min_ttl_seconds"`
	MaxTTLSeconds   int64       `json:"max_ttl_seconds"`
	MaxDownloads    int         `json:"max_downloads"`
	TTLOptions      []ttlOption `json:"ttl_options"`
	AdminRevocation bool        `json:"admin_revocation"`
}

// handleLimits implements GET /api/limits for the presentation layer.
func (h *Handler) handleLimits(w http.ResponseWriter, _ *http.Request) {
	l := h.Service.Limits()
	opts := make([]ttlOption, 0, len(h.TTLOptions))
	for _, o := range h.TTLOptions {
		opts = append(opts, ttlOption{Label: o.Label, Seconds: int64(o.Duration.Seconds())})
	}
	writeJSON(w, http.StatusOK, limitsResponse{
		MaxBytes:        l.MaxBytes,
		MinTTLSeconds:   int64(l.MinTTL.Seconds()),
		MaxTTLSeconds:   int64(l.MaxTTL.Seconds()),
		MaxDownloads:    l.MaxDownloads,
		TTLOptions:      opts,
		AdminRevocation: h.AdminToken != "",
	})
}
