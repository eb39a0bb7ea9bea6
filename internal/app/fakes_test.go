package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/haukened/vanish/internal/domain"
)

// manualClock is a settable Clock.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memShares is an in-memory ShareStore.
type memShares struct {
	mu        sync.Mutex
	rows      map[domain.Token]domain.Share
	insertErr error
	getErr    error
	inserts   int
}

func newMemShares() *memShares { return &memShares{rows: map[domain.Token]domain.Share{}} }

func (m *memShares) Insert(_ context.Context, s domain.Share) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.insertErr != nil {
		return m.insertErr
	}
	if _, ok := m.rows[s.Token]; ok {
		return domain.ErrConflict
	}
	m.rows[s.Token] = s
	return nil
}

func (m *memShares) Get(_ context.Context, t domain.Token) (domain.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.Share{}, m.getErr
	}
	s, ok := m.rows[t]
	if !ok {
		return domain.Share{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *memShares) Exists(_ context.Context, t domain.Token) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[t]
	return ok, nil
}

func (m *memShares) TryConsume(_ context.Context, t domain.Token, now time.Time) (ConsumeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[t]
	if !ok || s.State != domain.StateActive || s.Revoked() || s.ExpiredAt(now) || s.Remaining <= 0 {
		return ConsumeResult{}, nil
	}
	s.Remaining--
	if s.Remaining == 0 {
		s.State = domain.StateExhausted
		s.StateChangedAt = now
	}
	m.rows[t] = s
	return ConsumeResult{OK: true, Remaining: s.Remaining}, nil
}

func (m *memShares) MarkExpired(_ context.Context, t domain.Token, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[t]
	if !ok || s.State != domain.StateActive || !s.ExpiredAt(now) {
		return false, nil
	}
	s.State = domain.StateExpired
	s.StateChangedAt = now
	m.rows[t] = s
	return true, nil
}

func (m *memShares) Revoke(_ context.Context, t domain.Token, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[t]
	if !ok {
		return false, domain.ErrNotFound
	}
	if s.State == domain.StateDeleted || s.Revoked() {
		return false, nil
	}
	s.RevokedAt = &now
	m.rows[t] = s
	return true, nil
}

func (m *memShares) MarkDeleted(_ context.Context, t domain.Token, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[t]
	if !ok || s.State == domain.StateDeleted {
		return false, nil
	}
	s.State = domain.StateDeleted
	s.StateChangedAt = now
	s.PasswordHash = ""
	m.rows[t] = s
	return true, nil
}

func (m *memShares) ListExpiring(_ context.Context, now time.Time, limit int) ([]domain.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Share
	for _, s := range m.rows {
		if s.State == domain.StateActive && s.ExpiredAt(now) && len(out) < limit {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memShares) ListPendingPurge(_ context.Context, before time.Time, limit int) ([]domain.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Share
	for _, s := range m.rows {
		if len(out) >= limit {
			break
		}
		switch {
		case s.State == domain.StateDeleted:
		case s.State == domain.StateExpired, s.Revoked():
			out = append(out, s)
		case s.State == domain.StateExhausted && s.StateChangedAt.Before(before):
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memShares) ListLiveBlobRefs(_ context.Context) ([]domain.BlobRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobRef
	for _, s := range m.rows {
		if s.State != domain.StateDeleted {
			out = append(out, s.BlobRef)
		}
	}
	return out, nil
}

func (m *memShares) get(t domain.Token) domain.Share {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[t]
}

// memBlobs is an in-memory BlobStore.
type memBlobs struct {
	mu      sync.Mutex
	data    map[domain.BlobRef][]byte
	putErr   error
	putStall bool // Put blocks until its context ends
	openErr  error
	deletes  int
}

func newMemBlobs() *memBlobs { return &memBlobs{data: map[domain.BlobRef][]byte{}} }

func (m *memBlobs) Put(ctx context.Context, ref domain.BlobRef, r io.Reader, size int64) error {
	if m.putErr != nil {
		return m.putErr
	}
	if m.putStall {
		<-ctx.Done()
		return ctx.Err()
	}
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, size)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if n != size {
		return domain.ErrSizeMismatch
	}
	m.mu.Lock()
	m.data[ref] = buf.Bytes()
	m.mu.Unlock()
	return nil
}

func (m *memBlobs) Open(_ context.Context, ref domain.BlobRef) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	b, ok := m.data[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) Delete(_ context.Context, ref domain.BlobRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.data, ref)
	return nil
}

func (m *memBlobs) List(_ context.Context) ([]BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BlobInfo
	for ref := range m.data {
		out = append(out, BlobInfo{Ref: ref})
	}
	return out, nil
}

func (m *memBlobs) has(ref domain.BlobRef) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[ref]
	return ok
}

func (m *memBlobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// fakeSecrets hashes by prefixing and keeps one OTP per scope.
type fakeSecrets struct {
	mu     sync.Mutex
	codes  map[string]string
	seq    int
	otpErr error
}

func newFakeSecrets() *fakeSecrets { return &fakeSecrets{codes: map[string]string{}} }

func (f *fakeSecrets) HashPassword(plain string) (string, error) { return "h:" + plain, nil }

func (f *fakeSecrets) VerifyPassword(plain, hash string) bool {
	return plain != "" && hash != "" && "h:"+plain == hash
}

func (f *fakeSecrets) IssueOTP(_ context.Context, scope string) (domain.OTPChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	code := string(rune('0'+f.seq%10)) + "23456"
	f.codes[scope] = code
	return domain.OTPChallenge{Code: code, ExpiresAt: time.Unix(1700000600, 0)}, nil
}

func (f *fakeSecrets) VerifyOTP(_ context.Context, scope, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.otpErr != nil {
		return false, f.otpErr
	}
	want, ok := f.codes[scope]
	if !ok || want != code {
		return false, nil
	}
	delete(f.codes, scope)
	return true, nil
}

// captureNotifier records the last delivered code.
type captureNotifier struct {
	mu        sync.Mutex
	recipient string
	code      string
}

func (c *captureNotifier) SendOTP(_ context.Context, recipient string, _ domain.Token, ch domain.OTPChallenge) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recipient = recipient
	c.code = ch.Code
	return nil
}

type verdictScanner struct{ v Verdict }

func (s verdictScanner) Scan(_ context.Context, r io.Reader) (Verdict, error) {
	_, _ = io.Copy(io.Discard, r)
	return s.v, nil
}

// countMetrics is a Metrics that keeps counters in a map.
type countMetrics struct {
	mu sync.Mutex
	c  map[string]int64
}

func (m *countMetrics) Inc(name string, d int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c == nil {
		m.c = map[string]int64{}
	}
	m.c[name] += d
}

func (m *countMetrics) Observe(string, int64) {}

func (m *countMetrics) get(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c[name]
}
