// Package httpx contains the HTTP delivery layer for the Vanish service. It
// maps requests to the application service while enforcing size limits,
// per-client rate limits and security headers, streams downloads and
// translates error kinds into status codes.
package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
)

// ServicePort abstracts the subset of app.Service used by the HTTP layer.
// It is satisfied by *app.Service in production and stubbed in tests.
type ServicePort interface {
	CreateShare(ctx context.Context, body io.Reader, req app.CreateRequest) (app.Created, error)
	ResolveShare(ctx context.Context, token string, access app.Access) (*app.Download, error)
	Describe(ctx context.Context, token string) (app.ShareInfo, error)
	RequestOTP(ctx context.Context, token string) (time.Time, error)
	RevokeShare(ctx context.Context, token string) error
	Limits() app.Limits
}

// Handler wires HTTP endpoints to the application service.
// It is safe for concurrent use once Router has been called.
type Handler struct {
	Service    ServicePort
	Readiness  func(context.Context) error // optional readiness probe
	Metrics    http.Handler                // optional /metrics endpoint
	Logger     *slog.Logger
	BaseURL    string             // public origin for share links; derived from the request when empty
	TTLOptions []domain.TTLOption // presets advertised by /api/limits
	AdminToken string             // bearer token for revocation; empty disables DELETE
	TrustProxy bool               // honour X-Forwarded-For / X-Real-IP
	RateLimit  float64            // requests per second per client; 0 disables limiting
	RateBurst  int
}

// New returns a Handler with the required collaborators set.
func New(svc ServicePort, readiness func(context.Context) error) *Handler {
	return &Handler{Service: svc, Readiness: readiness}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Router constructs and returns an http.Handler with all routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	if h.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(CorrelationIDMiddleware, middleware.Recoverer, h.secureHeaders, h.accessLog)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(r.Context(), w, http.StatusNotFound, domain.KindNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(r.Context(), w, http.StatusMethodNotAllowed, domain.KindInvalidParameters, "method not allowed")
	})

	limited := newClientLimiter(h.RateLimit, h.RateBurst).middleware

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/limits", h.handleLimits)
		r.Post("/shares", h.handleCreate)
		r.Route("/shares/{token}", func(r chi.Router) {
			r.Get("/", h.handleDescribe)
			r.Delete("/", h.handleRevoke)
			r.With(limited).Post("/otp", h.handleRequestOTP)
		})
	})
	r.With(limited).Get("/{token}", h.handleDownload)
	return r
}
