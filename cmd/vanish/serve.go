package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/vanish/internal/config"
	"github.com/haukened/vanish/internal/httpx"
	"github.com/haukened/vanish/internal/janitor"
	"github.com/haukened/vanish/internal/metrics"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background janitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func buildHandler(rt *runtime) http.Handler {
	h := httpx.New(rt.svc, rt.readiness)
	h.Logger = rt.logger
	h.BaseURL = rt.cfg.BaseURL
	h.TTLOptions = rt.cfg.TTLOptions
	h.AdminToken = rt.cfg.AdminToken
	h.TrustProxy = rt.cfg.TrustProxy
	h.RateLimit = rt.cfg.RateLimit
	h.RateBurst = rt.cfg.RateBurst
	h.Metrics = metrics.Handler(rt.metrics, rt.cfg.MetricsToken)
	return h.Router()
}

// newServer sets no read or write deadline: uploads and downloads stream
// arbitrarily large bodies. Slow header attacks are bounded instead.
func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    64 << 10,
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	rt, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	log := rt.logger.With("domain", "main")

	rt.metrics.Start(ctx)
	defer rt.metrics.Stop(context.WithoutCancel(ctx))

	jan := janitor.New(rt.svc, rt.reconciler, janitor.Config{
		Interval: cfg.ReaperInterval,
		Logger:   rt.logger,
		Metrics:  rt.metrics,
	})
	jan.Start(ctx)
	defer jan.Stop()

	srv := newServer(cfg, buildHandler(rt))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", "addr", cfg.Addr, "pid", os.Getpid(),
			"index", cfg.IndexBackend, "blobs", cfg.BlobBackend)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "timeout", shutdownTimeout)
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
