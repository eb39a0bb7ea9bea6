// Package janitor implements background cleanup of expired shares and orphan
// blobs. It runs on a cron schedule independently of the request path so
// stale state is reclaimed even when nobody touches a link again.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/metrics"
)

// Sweeper expires due shares and purges blobs that are no longer needed.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Reconciler removes stored blobs that no live share references.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// Config holds tunables for the Janitor.
type Config struct {
	Interval time.Duration // how often a cycle begins; at least one second
	Logger   *slog.Logger  // optional logger (defaults to slog.Default())
	Metrics  app.Metrics   // optional
}

// MetricsView is a read-only snapshot of in-process cycle counters.
type MetricsView struct {
	Cycles              uint64
	Swept               uint64
	Orphans             uint64
	Errors              uint64
	CycleLastDurationMS int64
}

// Janitor encapsulates the background cleanup schedule.
type Janitor struct {
	sweeper    Sweeper
	reconciler Reconciler
	cfg        Config

	mu    sync.Mutex
	stats MetricsView
	cron  *cron.Cron
	once  sync.Once
}

// New constructs but does not start a Janitor. reconciler may be nil.
func New(sweeper Sweeper, reconciler Reconciler, cfg Config) *Janitor {
	if cfg.Interval < time.Second {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{sweeper: sweeper, reconciler: reconciler, cfg: cfg}
}

// Start schedules a cycle every Interval. A cycle still running when the
// next one is due causes that tick to be skipped. Calling Start twice is a
// no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return
	}
	logger := cronLogger{j.cfg.Logger.With("domain", "janitor")}
	j.cron = cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	j.cron.Schedule(cron.Every(j.cfg.Interval), cron.FuncJob(func() { j.RunOnce(ctx) }))
	j.cron.Start()
}

// Stop halts the schedule and waits for an in-flight cycle to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.mu.Unlock()
	if c == nil {
		return
	}
	j.once.Do(func() { <-c.Stop().Done() })
}

// MetricsSnapshot returns a copy of current metrics.
func (j *Janitor) MetricsSnapshot() MetricsView {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

// RunOnce performs one sweep followed by orphan reconciliation and reports
// how many shares and orphan blobs it handled.
func (j *Janitor) RunOnce(ctx context.Context) (swept, orphans int, err error) {
	start := time.Now()
	log := j.cfg.Logger.With("domain", "janitor", "action", "cycle")

	swept, sweepErr := j.sweeper.Sweep(ctx)
	if sweepErr != nil && !errors.Is(sweepErr, context.Canceled) {
		log.Error("sweep", "error", sweepErr)
	}
	var reconErr error
	if j.reconciler != nil {
		orphans, reconErr = j.reconciler.Reconcile(ctx)
		if reconErr != nil && !errors.Is(reconErr, context.Canceled) {
			log.Error("reconcile", "error", reconErr)
		}
	}
	err = errors.Join(sweepErr, reconErr)
	elapsed := time.Since(start)

	j.mu.Lock()
	j.stats.Cycles++
	j.stats.Swept += uint64(swept)
	j.stats.Orphans += uint64(orphans)
	if err != nil {
		j.stats.Errors++
	}
	j.stats.CycleLastDurationMS = elapsed.Milliseconds()
	j.mu.Unlock()

	if m := j.cfg.Metrics; m != nil {
		m.Inc(metrics.CounterOrphanBlobsDeleted, int64(orphans))
		m.Observe(metrics.SummaryJanitorDeletedPerCycle, int64(swept+orphans))
	}
	log.Info("cycle complete", "swept", swept, "orphans", orphans, "ms", elapsed.Milliseconds())
	return swept, orphans, err
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
