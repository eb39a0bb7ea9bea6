// Package metrics provides a lightweight persistent metrics manager.
// Counter increments and summary observations are queued, aggregated in
// memory and periodically flushed to SQLite so totals survive restarts.
// Only monotonic counters and (count,sum,min,max) summaries are supported.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
)

// Counter names.
const (
	CounterSharesCreated      = "shares_created_total"
	CounterSharesRejected     = "shares_rejected_total"
	CounterDownloads          = "downloads_total"
	CounterDownloadsForbidden = "downloads_forbidden_total"
	CounterSharesExhausted    = "shares_exhausted_total"
	CounterSharesExpired      = "shares_expired_total"
	CounterSharesRevoked      = "shares_revoked_total"
	CounterSharesDeleted      = "shares_deleted_total"
	CounterOTPIssued          = "otp_issued_total"
	CounterOrphanBlobsDeleted = "orphan_blobs_deleted_total"
	// CounterEventsDropped counts events lost to a full queue. It is
	// maintained by the manager itself.
	CounterEventsDropped = "metrics_events_dropped_total"
)

// Summary names.
const (
	SummaryUploadBytes            = "upload_bytes"
	SummaryJanitorDeletedPerCycle = "janitor_deleted_per_cycle"
)

// Config controls flush cadence, queue depth and logging.
type Config struct {
	FlushInterval time.Duration
	QueueSize     int
	Logger        *slog.Logger
}

// Summary aggregates observations of one named value.
type Summary struct {
	Count int64 `json:"count"`
	Sum   int64 `json:"sum"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

// Mean is Sum/Count, or 0 for an empty summary.
func (s Summary) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Sum) / float64(s.Count)
}

func (s *Summary) add(v int64) {
	s.merge(Summary{Count: 1, Sum: v, Min: v, Max: v})
}

func (s *Summary) merge(o Summary) {
	if o.Count == 0 {
		return
	}
	if s.Count == 0 {
		*s = o
		return
	}
	s.Count += o.Count
	s.Sum += o.Sum
	s.Min = min(s.Min, o.Min)
	s.Max = max(s.Max, o.Max)
}

// Manager aggregates metric events and flushes them.
type Manager struct {
	cfg     Config
	db      *sql.DB
	events  chan event
	stop    chan struct{}
	done    chan struct{}
	started atomic.Bool
	dropped atomic.Int64

	mu        sync.Mutex
	counters  map[string]int64
	summaries map[string]*Summary
}

type eventKind int

const (
	eventInc eventKind = iota + 1
	eventObserve
)

type event struct {
	kind eventKind
	name string
	v    int64
}

// New creates a Manager. Call Start to begin background flushing.
func New(db *sql.DB, cfg Config) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		db:        db,
		events:    make(chan event, cfg.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		counters:  make(map[string]int64),
		summaries: make(map[string]*Summary),
	}
}

// InitSchema ensures metrics tables exist.
func (m *Manager) InitSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS metrics_counters (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS metrics_summaries (
	name TEXT PRIMARY KEY,
	count INTEGER NOT NULL,
	sum INTEGER NOT NULL,
	min INTEGER NOT NULL,
	max INTEGER NOT NULL
);`
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, "create metrics tables")
	}
	return nil
}

// Start launches the background flush loop. Calling it twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go m.loop(ctx)
}

// Stop ends the flush loop (if running), applies queued events and performs
// a final flush.
func (m *Manager) Stop(ctx context.Context) {
	if m.started.Load() {
		select {
		case <-m.stop:
		default:
			close(m.stop)
		}
		<-m.done
	}
	m.drain()
	if err := m.flush(ctx); err != nil {
		m.cfg.Logger.Error("final flush", "domain", "metrics", "error", err)
	}
}

// Inc increments a counter by delta. Non-positive deltas are ignored.
func (m *Manager) Inc(name string, delta int64) {
	if delta <= 0 {
		return
	}
	m.enqueue(event{kind: eventInc, name: name, v: delta})
}

// Observe records a summary observation.
func (m *Manager) Observe(name string, value int64) {
	m.enqueue(event{kind: eventObserve, name: name, v: value})
}

// Dropped reports how many events were lost since the last flush.
func (m *Manager) Dropped() int64 { return m.dropped.Load() }

// enqueue never blocks the caller; a full queue drops the event.
func (m *Manager) enqueue(ev event) {
	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
	}
}

func (m *Manager) loop(ctx context.Context) {
	log := m.cfg.Logger.With("domain", "metrics")
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer func() {
		ticker.Stop()
		close(m.done)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("metrics stop", "reason", "context_cancel")
			return
		case <-m.stop:
			log.Info("metrics stop", "reason", "stop_signal")
			return
		case ev := <-m.events:
			m.apply(ev)
		case <-ticker.C:
			if err := m.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("flush", "error", err)
			}
		}
	}
}

// drain applies every queued event without blocking.
func (m *Manager) drain() {
	for {
		select {
		case ev := <-m.events:
			m.apply(ev)
		default:
			return
		}
	}
}

func (m *Manager) apply(ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.kind {
	case eventInc:
		m.counters[ev.name] += ev.v
	case eventObserve:
		agg := m.summaries[ev.name]
		if agg == nil {
			agg = &Summary{}
			m.summaries[ev.name] = agg
		}
		agg.add(ev.v)
	}
}

// Snapshot returns persisted totals with unflushed deltas layered on top.
func (m *Manager) Snapshot(ctx context.Context) (map[string]int64, map[string]Summary, error) {
	counters := make(map[string]int64)
	summaries := make(map[string]Summary)
	if err := m.loadCounters(ctx, counters); err != nil {
		return nil, nil, err
	}
	if err := m.loadSummaries(ctx, summaries); err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	for n, v := range m.counters {
		counters[n] += v
	}
	for n, agg := range m.summaries {
		cur := summaries[n]
		cur.merge(*agg)
		summaries[n] = cur
	}
	m.mu.Unlock()
	if d := m.dropped.Load(); d > 0 {
		counters[CounterEventsDropped] += d
	}
	return counters, summaries, nil
}

func (m *Manager) loadCounters(ctx context.Context, into map[string]int64) error {
	rows, err := m.db.QueryContext(ctx, `SELECT name, value FROM metrics_counters`)
	if err != nil {
		return errors.Wrap(err, "query counters")
	}
	defer rows.Close()
	for rows.Next() {
		var n string
		var v int64
		if err := rows.Scan(&n, &v); err != nil {
			return errors.Wrap(err, "scan counter")
		}
		into[n] = v
	}
	return rows.Err()
}

func (m *Manager) loadSummaries(ctx context.Context, into map[string]Summary) error {
	rows, err := m.db.QueryContext(ctx, `SELECT name, count, sum, min, max FROM metrics_summaries`)
	if err != nil {
		return errors.Wrap(err, "query summaries")
	}
	defer rows.Close()
	for rows.Next() {
		var n string
		var s Summary
		if err := rows.Scan(&n, &s.Count, &s.Sum, &s.Min, &s.Max); err != nil {
			return errors.Wrap(err, "scan summary")
		}
		into[n] = s
	}
	return rows.Err()
}

// flush writes in-memory deltas to SQLite in a single transaction and resets
// them. On failure the deltas are merged back so nothing is lost.
func (m *Manager) flush(ctx context.Context) error {
	m.mu.Lock()
	if dropped := m.dropped.Swap(0); dropped > 0 {
		m.counters[CounterEventsDropped] += dropped
	}
	if len(m.counters) == 0 && len(m.summaries) == 0 {
		m.mu.Unlock()
		return nil
	}
	counters, summaries := m.counters, m.summaries
	m.counters = make(map[string]int64)
	m.summaries = make(map[string]*Summary)
	m.mu.Unlock()

	if err := m.write(ctx, counters, summaries); err != nil {
		m.restore(counters, summaries)
		return err
	}
	return nil
}

func (m *Manager) write(ctx context.Context, counters map[string]int64, summaries map[string]*Summary) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()
	for name, delta := range counters {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metrics_counters(name,value) VALUES(?,?)
ON CONFLICT(name) DO UPDATE SET value = value + excluded.value`, name, delta); err != nil {
			return errors.Wrapf(err, "upsert counter %s", name)
		}
	}
	for name, agg := range summaries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metrics_summaries(name,count,sum,min,max) VALUES(?,?,?,?,?)
ON CONFLICT(name) DO UPDATE SET
	count = metrics_summaries.count + excluded.count,
	sum = metrics_summaries.sum + excluded.sum,
	min = MIN(metrics_summaries.min, excluded.min),
	max = MAX(metrics_summaries.max, excluded.max)`, name, agg.Count, agg.Sum, agg.Min, agg.Max); err != nil {
			return errors.Wrapf(err, "upsert summary %s", name)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func (m *Manager) restore(counters map[string]int64, summaries map[string]*Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, v := range counters {
		m.counters[n] += v
	}
	for n, agg := range summaries {
		cur := m.summaries[n]
		if cur == nil {
			m.summaries[n] = agg
			continue
		}
		cur.merge(*agg)
	}
}
