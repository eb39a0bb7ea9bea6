package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// secureHeaders adds standard security & cache control headers. Every
// response is private to its requester so nothing may be cached.
func (h *Handler) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("X-Content-Type-Options", "nosniff")
		hdr.Set("Referrer-Policy", "no-referrer")
		hdr.Set("X-Frame-Options", "DENY")
		hdr.Set("Cache-Control", "no-store")
		hdr.Set("Pragma", "no-cache")
		hdr.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		next.ServeHTTP(w, r)
	})
}

// accessLog records one line per request. The path is omitted because it
// carries the share token.
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		cid, _ := GetCorrelationID(r.Context())
		h.logger().Debug("request",
			"domain", "http",
			"cid", cid,
			"method", r.Method,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"ms", time.Since(start).Milliseconds(),
		)
	})
}
