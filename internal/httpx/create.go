package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
)

// Request headers understood by the upload and download endpoints.
const (
	HeaderFilename      = "X-Vanish-Filename"
	HeaderMaxDownloads  = "X-Vanish-Max-Downloads"
	HeaderTTL           = "X-Vanish-TTL"
	HeaderPassword      = "X-Vanish-Password"
	HeaderOTPRecipient  = "X-Vanish-OTP-Recipient"
	HeaderAllowNetworks = "X-Vanish-Allow-Networks"
	HeaderOTP           = "X-Vanish-OTP"
	HeaderChecksum      = "X-Vanish-Checksum"
	HeaderRemaining     = "X-Vanish-Remaining"
)

type createResponse struct {
	Token        string     `json:"token"`
	URL          string     `json:"url"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	MaxDownloads int        `json:"max_downloads"`
	ContentType  string     `json:"content_type"`
	Checksum     string     `json:"checksum"`
}

// parseCreate turns upload headers into a CreateRequest. The returned
// status is non-zero when the request must be refused before reading the body.
func (h *Handler) parseCreate(r *http.Request) (app.CreateRequest, int, string) {
	req := app.CreateRequest{MaxDownloads: 1}
	switch {
	case r.ContentLength < 0:
		return req, http.StatusLengthRequired, "content length required"
	case r.ContentLength == 0:
		return req, http.StatusBadRequest, "empty upload"
	}
	if limit := h.Service.Limits().MaxBytes; limit > 0 && r.ContentLength > limit {
		return req, http.StatusRequestEntityTooLarge, domain.ErrSizeExceeded.Error()
	}
	req.Size = r.ContentLength
	req.Filename = cleanFilename(r.Header.Get(HeaderFilename))

	if v := strings.TrimSpace(r.Header.Get(HeaderMaxDownloads)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, http.StatusBadRequest, "invalid " + HeaderMaxDownloads
		}
		req.MaxDownloads = n
	}
	if v := strings.TrimSpace(r.Header.Get(HeaderTTL)); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return req, http.StatusBadRequest, "invalid " + HeaderTTL
		}
		req.TTL = &ttl
	}
	req.Password = r.Header.Get(HeaderPassword)
	if rcpt := strings.TrimSpace(r.Header.Get(HeaderOTPRecipient)); rcpt != "" {
		req.OTPRequired = true
		req.OTPRecipient = rcpt
	}
	if v := r.Header.Get(HeaderAllowNetworks); v != "" {
		nets, err := domain.ParseNetworks(v)
		if err != nil {
			return req, http.StatusBadRequest, "invalid " + HeaderAllowNetworks
		}
		req.AllowNetworks = nets
	}
	return req, 0, ""
}

// handleCreate implements POST /api/shares. The body is the raw file.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, status, msg := h.parseCreate(r)
	if status != 0 {
		h.writeError(ctx, w, status, domain.KindInvalidParameters, msg)
		return
	}
	body := http.MaxBytesReader(w, r.Body, req.Size)
	defer body.Close()

	created, err := h.Service.CreateShare(ctx, body, req)
	if err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	token := created.Token.String()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/api/shares/"+token)
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createResponse{
		Token:        token,
		URL:          h.publicURL(r, token),
		ExpiresAt:    created.ExpiresAt,
		MaxDownloads: created.MaxDownloads,
		ContentType:  created.ContentType,
		Checksum:     created.Checksum,
	})
}
