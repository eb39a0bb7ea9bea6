package httpx

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type correlationIDCtxKey struct{}

var cidKey = correlationIDCtxKey{}

// CorrelationIDHeader is the HTTP header used for inbound/outbound correlation IDs.
const CorrelationIDHeader = "X-Correlation-ID"

// maxCorrelationIDLen bounds client supplied IDs before they reach the logs.
const maxCorrelationIDLen = 64

// CorrelationIDMiddleware injects a per-request correlation ID into the request
// context and response headers. A client supplied X-Correlation-ID is reused
// when it is short and printable; otherwise a new UUID v4 is generated.
func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationIDHeader)
		if !printable(cid) {
			cid = uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, cid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), cidKey, cid)))
	})
}

// GetCorrelationID extracts the correlation ID from the context. The second
// boolean return reports whether a value was present.
func GetCorrelationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(cidKey).(string)
	return id, ok
}

func printable(s string) bool {
	if s == "" || len(s) > maxCorrelationIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
