package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haukened/vanish/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError writes a JSON error body with given status code.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg, Kind: kind})
	if cid, ok := GetCorrelationID(ctx); ok {
		h.logger().Debug("wrote error response", "domain", "http", "cid", cid, "status", code, "kind", kind)
	}
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidParameters:
		if errors.Is(err, domain.ErrSizeExceeded) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindExpired:
		return http.StatusGone
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindContentRejected:
		return http.StatusUnprocessableEntity
	case domain.KindStorageFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messages are fixed per kind so responses never echo internals.
var messages = map[string]string{
	domain.KindInvalidParameters: "invalid parameters",
	domain.KindNotFound:          "not found",
	domain.KindExpired:           "expired",
	domain.KindForbidden:         "forbidden",
	domain.KindContentRejected:   "content rejected",
	domain.KindStorageFailure:    "storage unavailable",
	domain.KindInternal:          "internal",
}

// mapServiceError maps domain/service errors to HTTP responses.
func (h *Handler) mapServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	cid, _ := GetCorrelationID(ctx)
	kind := domain.KindOf(err)
	code := statusOf(err)
	msg := messages[kind]
	if kind == domain.KindInvalidParameters {
		// Parameter errors describe the caller's own input.
		msg = err.Error()
	}
	log := h.logger().With("domain", "http", "cid", cid, "kind", kind)
	switch {
	case code >= 500:
		log.Error("service error", "error", err)
	case code == http.StatusForbidden, code == http.StatusRequestEntityTooLarge:
		log.Warn("service error")
	default:
		log.Info("service error")
	}
	h.writeError(ctx, w, code, kind, msg)
}
