package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/metrics"
)

type fixture struct {
	svc      *Service
	shares   *memShares
	blobs    *memBlobs
	secrets  *fakeSecrets
	notifier *captureNotifier
	clock    *manualClock
	metrics  *countMetrics
}

func newFixture() *fixture {
	f := &fixture{
		shares:   newMemShares(),
		blobs:    newMemBlobs(),
		secrets:  newFakeSecrets(),
		notifier: &captureNotifier{},
		clock:    &manualClock{now: time.Unix(1700000000, 0)},
		metrics:  &countMetrics{},
	}
	f.svc = &Service{
		Shares:         f.shares,
		Blobs:          f.blobs,
		Secrets:        f.secrets,
		Notifier:       f.notifier,
		Metrics:        f.metrics,
		Clock:          f.clock,
		MaxBytes:       1 << 20,
		MinTTL:         time.Second,
		MaxTTL:         24 * time.Hour,
		MaxDownloads:   100,
		StorageRetries: 1,
		StorageTimeout: time.Second,
		PurgeGrace:     time.Minute,
	}
	return f
}

func ttl(d time.Duration) *time.Duration { return &d }

func (f *fixture) create(t *testing.T, data string, req CreateRequest) Created {
	t.Helper()
	req.Size = int64(len(data))
	if req.MaxDownloads == 0 {
		req.MaxDownloads = 1
	}
	c, err := f.svc.CreateShare(context.Background(), strings.NewReader(data), req)
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}
	return c
}

func readAll(t *testing.T, d *Download) string {
	t.Helper()
	b, err := io.ReadAll(d)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return string(b)
}

func TestCreateShareSuccess(t *testing.T) {
	f := newFixture()
	c := f.create(t, "hello world", CreateRequest{Filename: "a.txt", MaxDownloads: 3, TTL: ttl(time.Hour)})
	if !c.Token.Valid() {
		t.Fatalf("invalid token %q", c.Token)
	}
	if c.ExpiresAt == nil || !c.ExpiresAt.Equal(f.clock.Now().Add(time.Hour)) {
		t.Fatalf("expiresAt = %v", c.ExpiresAt)
	}
	if len(c.Checksum) != 64 {
		t.Fatalf("checksum %q", c.Checksum)
	}
	if !strings.HasPrefix(c.ContentType, "text/plain") {
		t.Fatalf("content type %q", c.ContentType)
	}
	rec := f.shares.get(c.Token)
	if rec.State != domain.StateActive || rec.Remaining != 3 || rec.MaxDownloads != 3 {
		t.Fatalf("record %+v", rec)
	}
	if !f.blobs.has(rec.BlobRef) {
		t.Fatalf("blob not stored")
	}
	if f.metrics.get(metrics.CounterSharesCreated) != 1 {
		t.Fatalf("created counter not incremented")
	}
}

func TestCreateShareWithoutTTL(t *testing.T) {
	f := newFixture()
	c := f.create(t, "x", CreateRequest{})
	if c.ExpiresAt != nil {
		t.Fatalf("expected no expiry, got %v", c.ExpiresAt)
	}
	f.clock.Advance(365 * 24 * time.Hour)
	d, err := f.svc.ResolveShare(context.Background(), c.Token.String(), Access{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	readAll(t, d)
}

func TestCreateShareValidation(t *testing.T) {
	cases := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"zero downloads", CreateRequest{Size: 1, MaxDownloads: 0}, domain.ErrMaxDownloads},
		{"too many downloads", CreateRequest{Size: 1, MaxDownloads: 101}, domain.ErrMaxDownloads},
		{"zero ttl", CreateRequest{Size: 1, MaxDownloads: 1, TTL: ttl(0)}, domain.ErrTTLInvalid},
		{"negative ttl", CreateRequest{Size: 1, MaxDownloads: 1, TTL: ttl(-time.Second)}, domain.ErrTTLInvalid},
		{"ttl above max", CreateRequest{Size: 1, MaxDownloads: 1, TTL: ttl(48 * time.Hour)}, domain.ErrTTLInvalid},
		{"empty", CreateRequest{Size: 0, MaxDownloads: 1}, domain.ErrSizeExceeded},
		{"too large", CreateRequest{Size: 2 << 20, MaxDownloads: 1}, domain.ErrSizeExceeded},
		{"otp without recipient", CreateRequest{Size: 1, MaxDownloads: 1, OTPRequired: true}, domain.ErrRecipientRequired},
		{"bad network", CreateRequest{Size: 1, MaxDownloads: 1, AllowNetworks: []netip.Prefix{{}}}, domain.ErrNetworkInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.CreateShare(context.Background(), strings.NewReader("x"), tc.req)
			if !errors.Is(err, tc.want) || !errors.Is(err, domain.ErrInvalidParameters) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if f.blobs.count() != 0 || f.shares.inserts != 0 {
				t.Fatalf("validation failure must not touch storage")
			}
		})
	}
}

func TestCreateShareShortBody(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateShare(context.Background(), strings.NewReader("abc"), CreateRequest{Size: 10, MaxDownloads: 1})
	if !errors.Is(err, domain.ErrSizeMismatch) {
		t.Fatalf("expected size mismatch, got %v", err)
	}
	if f.blobs.count() != 0 || f.shares.inserts != 0 {
		t.Fatalf("partial upload left state behind")
	}
}

func TestCreateShareRejectedByScanner(t *testing.T) {
	f := newFixture()
	f.svc.Scanner = verdictScanner{v: VerdictFlagged}
	_, err := f.svc.CreateShare(context.Background(), strings.NewReader("bad"), CreateRequest{Size: 3, MaxDownloads: 1})
	if !errors.Is(err, domain.ErrContentRejected) {
		t.Fatalf("expected content rejected, got %v", err)
	}
	if f.blobs.count() != 0 || f.shares.inserts != 0 {
		t.Fatalf("rejected upload left state behind")
	}
	if f.metrics.get(metrics.CounterSharesRejected) != 1 {
		t.Fatalf("rejected counter not incremented")
	}
}

func TestCreateShareBlobFailure(t *testing.T) {
	f := newFixture()
	f.blobs.putErr = errors.New("disk full")
	_, err := f.svc.CreateShare(context.Background(), strings.NewReader("x"), CreateRequest{Size: 1, MaxDownloads: 1})
	if !errors.Is(err, domain.ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if f.shares.inserts != 0 {
		t.Fatalf("record inserted after blob failure")
	}
}

func TestCreateShareStalledBlobStore(t *testing.T) {
	f := newFixture()
	f.svc.StorageTimeout = 100 * time.Millisecond
	f.blobs.putStall = true
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.CreateShare(context.Background(), strings.NewReader("data"), CreateRequest{Size: 4, MaxDownloads: 1})
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrStorageFailure) {
			t.Fatalf("expected storage failure, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("CreateShare blocked on a stalled blob store")
	}
	if len(f.shares.rows) != 0 {
		t.Fatalf("record inserted for a failed upload")
	}
}

// trickleReader yields chunk bytes per read after a pause.
type trickleReader struct {
	left  int
	chunk int
	pause time.Duration
}

func (r *trickleReader) Read(p []byte) (int, error) {
	if r.left == 0 {
		return 0, io.EOF
	}
	time.Sleep(r.pause)
	n := min(r.chunk, r.left, len(p))
	for i := range p[:n] {
		p[i] = 'x'
	}
	r.left -= n
	return n, nil
}

func TestCreateShareSlowButSteadyUpload(t *testing.T) {
	f := newFixture()
	f.svc.StorageTimeout = 300 * time.Millisecond
	const size = 16 << 10
	body := &trickleReader{left: size, chunk: 1 << 10, pause: 50 * time.Millisecond}
	c, err := f.svc.CreateShare(context.Background(), body, CreateRequest{Size: size, MaxDownloads: 1})
	if err != nil {
		t.Fatalf("upload longer than the timeout but making progress failed: %v", err)
	}
	if f.blobs.count() != 1 || c.Token == "" {
		t.Fatalf("share not stored")
	}
}

func TestCreateShareInsertFailureDiscardsBlob(t *testing.T) {
	f := newFixture()
	f.shares.insertErr = errors.New("db locked")
	_, err := f.svc.CreateShare(context.Background(), strings.NewReader("x"), CreateRequest{Size: 1, MaxDownloads: 1})
	if !errors.Is(err, domain.ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if f.blobs.count() != 0 {
		t.Fatalf("orphan blob left behind")
	}
}

func TestCreateShareTokenCollision(t *testing.T) {
	f := newFixture()
	taken := f.create(t, "first", CreateRequest{}).Token
	fresh, _ := domain.NewToken()
	calls := 0
	f.svc.NewToken = func() (domain.Token, error) {
		calls++
		if calls == 1 {
			return taken, nil
		}
		return fresh, nil
	}
	c := f.create(t, "second", CreateRequest{})
	if c.Token != fresh {
		t.Fatalf("expected regenerated token")
	}
	if f.shares.get(taken).Size != int64(len("first")) {
		t.Fatalf("existing share was overwritten")
	}
}

func TestCreateShareTokenExhausted(t *testing.T) {
	f := newFixture()
	taken := f.create(t, "first", CreateRequest{}).Token
	f.svc.NewToken = func() (domain.Token, error) { return taken, nil }
	_, err := f.svc.CreateShare(context.Background(), strings.NewReader("x"), CreateRequest{Size: 1, MaxDownloads: 1})
	if !errors.Is(err, domain.ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if f.blobs.count() != 1 {
		t.Fatalf("blob of failed create not discarded")
	}
}

func TestResolveRoundTrip(t *testing.T) {
	f := newFixture()
	payload := strings.Repeat("0123456789", 500)
	c := f.create(t, payload, CreateRequest{Filename: "digits.txt", MaxDownloads: 2})
	d, err := f.svc.ResolveShare(context.Background(), c.Token.String(), Access{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Filename != "digits.txt" || d.Size != int64(len(payload)) || d.Checksum != c.Checksum || d.Remaining != 1 {
		t.Fatalf("download metadata %+v", d)
	}
	if got := readAll(t, d); got != payload {
		t.Fatalf("payload mismatch")
	}
}

func TestResolveExhaustsAndPurges(t *testing.T) {
	f := newFixture()
	c := f.create(t, "abc", CreateRequest{MaxDownloads: 2})
	ref := f.shares.get(c.Token).BlobRef
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := f.svc.ResolveShare(ctx, c.Token.String(), Access{})
		if err != nil {
			t.Fatalf("download %d: %v", i, err)
		}
		readAll(t, d)
	}
	if _, err := f.svc.ResolveShare(ctx, c.Token.String(), Access{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("third download: %v", err)
	}
	if f.blobs.has(ref) {
		t.Fatalf("blob still present after final download")
	}
	if st := f.shares.get(c.Token).State; st != domain.StateDeleted {
		t.Fatalf("state = %v", st)
	}
	if f.metrics.get(metrics.CounterDownloads) != 2 || f.metrics.get(metrics.CounterSharesExhausted) != 1 {
		t.Fatalf("counters %+v", f.metrics.c)
	}
}

func TestResolveConcurrentLastDownload(t *testing.T) {
	f := newFixture()
	c := f.create(t, "only once", CreateRequest{MaxDownloads: 1})
	const n = 32
	var (
		wg      sync.WaitGroup
		ok      atomic.Int32
		missing atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := f.svc.ResolveShare(context.Background(), c.Token.String(), Access{})
			switch {
			case err == nil:
				ok.Add(1)
				_, _ = io.Copy(io.Discard, d)
				_ = d.Close()
			case errors.Is(err, domain.ErrNotFound):
				missing.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	if ok.Load() != 1 || missing.Load() != n-1 {
		t.Fatalf("served %d, refused %d", ok.Load(), missing.Load())
	}
}

func TestResolveExpiry(t *testing.T) {
	f := newFixture()
	c := f.create(t, "tick", CreateRequest{MaxDownloads: 5, TTL: ttl(time.Second)})
	ref := f.shares.get(c.Token).BlobRef
	ctx := context.Background()

	f.clock.Advance(time.Second)
	d, err := f.svc.ResolveShare(ctx, c.Token.String(), Access{})
	if err != nil {
		t.Fatalf("share must be valid at exactly its expiry: %v", err)
	}
	readAll(t, d)

	f.clock.Advance(time.Millisecond)
	if _, err := f.svc.ResolveShare(ctx, c.Token.String(), Access{}); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if f.blobs.has(ref) {
		t.Fatalf("expired blob not purged")
	}
	if _, err := f.svc.ResolveShare(ctx, c.Token.String(), Access{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("purged share should be not found, got %v", err)
	}
}

func TestResolvePassword(t *testing.T) {
	f := newFixture()
	c := f.create(t, "secret", CreateRequest{MaxDownloads: 1, Password: "hunter2"})
	ctx := context.Background()
	for _, pw := range []string{"", "wrong"} {
		if _, err := f.svc.ResolveShare(ctx, c.Token.String(), Access{Password: pw}); !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("password %q: %v", pw, err)
		}
	}
	if r := f.shares.get(c.Token).Remaining; r != 1 {
		t.Fatalf("failed attempts consumed downloads: remaining %d", r)
	}
	d, err := f.svc.ResolveShare(ctx, c.Token.String(), Access{Password: "hunter2"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if readAll(t, d) != "secret" {
		t.Fatalf("payload mismatch")
	}
}

func TestResolveNetworkRestriction(t *testing.T) {
	f := newFixture()
	nets, _ := domain.ParseNetworks("192.168.1.0/24")
	c := f.create(t, "lan", CreateRequest{MaxDownloads: 1, AllowNetworks: nets})
	ctx := context.Background()
	outside := Access{Addr: netip.MustParseAddr("10.0.0.1")}
	if _, err := f.svc.ResolveShare(ctx, c.Token.String(), outside); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("outside address: %v", err)
	}
	if _, err := f.svc.ResolveShare(ctx, c.Token.String(), Access{}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("unknown address: %v", err)
	}
	d, err := f.svc.ResolveShare(ctx, c.Token.String(), Access{Addr: netip.MustParseAddr("::ffff:192.168.1.40")})
	if err != nil {
		t.Fatalf("inside address: %v", err)
	}
	readAll(t, d)
}

func TestResolveOTP(t *testing.T) {
	f := newFixture()
	c := f.create(t, "otp", CreateRequest{MaxDownloads: 2, Password: "pw", OTPRequired: true, OTPRecipient: "a@example.com"})
	ctx := context.Background()
	tok := c.Token.String()

	if _, err := f.svc.ResolveShare(ctx, tok, Access{Password: "pw"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("missing otp: %v", err)
	}
	if _, err := f.svc.RequestOTP(ctx, tok); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if f.notifier.recipient != "a@example.com" || f.notifier.code == "" {
		t.Fatalf("notifier got %+v", f.notifier)
	}
	code := f.notifier.code

	// A wrong password must not burn the code.
	if _, err := f.svc.ResolveShare(ctx, tok, Access{Password: "nope", OTP: code}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("wrong password: %v", err)
	}
	d, err := f.svc.ResolveShare(ctx, tok, Access{Password: "pw", OTP: code})
	if err != nil {
		t.Fatalf("resolve with otp: %v", err)
	}
	readAll(t, d)

	if _, err := f.svc.ResolveShare(ctx, tok, Access{Password: "pw", OTP: code}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("replayed otp: %v", err)
	}
}

func TestResolveOTPBackendFailure(t *testing.T) {
	f := newFixture()
	c := f.create(t, "otp", CreateRequest{MaxDownloads: 1, OTPRequired: true, OTPRecipient: "a@example.com"})
	f.secrets.otpErr = errors.New("cache down")
	_, err := f.svc.ResolveShare(context.Background(), c.Token.String(), Access{OTP: "123456"})
	if !errors.Is(err, domain.ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestRequestOTPNotGated(t *testing.T) {
	f := newFixture()
	c := f.create(t, "plain", CreateRequest{})
	if _, err := f.svc.RequestOTP(context.Background(), c.Token.String()); !errors.Is(err, domain.ErrInvalidParameters) {
		t.Fatalf("expected invalid parameters, got %v", err)
	}
}

func TestResolveUnknownAndMalformed(t *testing.T) {
	f := newFixture()
	unknown, _ := domain.NewToken()
	for _, tok := range []string{"", "short", unknown.String()} {
		if _, err := f.svc.ResolveShare(context.Background(), tok, Access{}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("token %q: %v", tok, err)
		}
	}
}

func TestResolveStorageFailure(t *testing.T) {
	f := newFixture()
	c := f.create(t, "x", CreateRequest{})
	f.shares.getErr = errors.New("io timeout")
	_, err := f.svc.ResolveShare(context.Background(), c.Token.String(), Access{})
	if !errors.Is(err, domain.ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestResolveBlobOpenFailureKeepsBudget(t *testing.T) {
	f := newFixture()
	c := f.create(t, "still here", CreateRequest{MaxDownloads: 1})
	ref := f.shares.rows[c.Token].BlobRef

	f.blobs.mu.Lock()
	f.blobs.openErr = errors.New("transient: connection reset")
	f.blobs.mu.Unlock()
	_, err := f.svc.ResolveShare(context.Background(), c.Token.String(), Access{})
	if !errors.Is(err, domain.ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	sh, _ := f.shares.Get(context.Background(), c.Token)
	if sh.Remaining != 1 || sh.State != domain.StateActive {
		t.Fatalf("failed open spent budget: remaining=%d state=%s", sh.Remaining, sh.State)
	}
	if !f.blobs.has(ref) {
		t.Fatalf("blob purged after failed open")
	}

	f.blobs.mu.Lock()
	f.blobs.openErr = nil
	f.blobs.mu.Unlock()
	d, err := f.svc.ResolveShare(context.Background(), c.Token.String(), Access{})
	if err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	if got := readAll(t, d); got != "still here" {
		t.Fatalf("got %q", got)
	}
}

func TestFinalDownloadPurgeLogsExhausted(t *testing.T) {
	f := newFixture()
	var buf bytes.Buffer
	f.svc.Logger = slog.New(slog.NewTextHandler(&buf, nil))
	c := f.create(t, "last", CreateRequest{MaxDownloads: 1})
	d, err := f.svc.ResolveShare(context.Background(), c.Token.String(), Access{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	readAll(t, d)
	out := buf.String()
	if !strings.Contains(out, "share purged") || !strings.Contains(out, "state=exhausted") {
		t.Fatalf("purge log does not name the exhausted state:\n%s", out)
	}
}

func TestRevokeShare(t *testing.T) {
	f := newFixture()
	c := f.create(t, "revoke me", CreateRequest{MaxDownloads: 5})
	ref := f.shares.get(c.Token).BlobRef
	ctx := context.Background()

	if err := f.svc.RevokeShare(ctx, c.Token.String()); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if f.blobs.has(ref) {
		t.Fatalf("blob survived revoke")
	}
	if _, err := f.svc.ResolveShare(ctx, c.Token.String(), Access{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("resolve after revoke: %v", err)
	}
	if err := f.svc.RevokeShare(ctx, c.Token.String()); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	unknown, _ := domain.NewToken()
	if err := f.svc.RevokeShare(ctx, unknown.String()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("revoke unknown: %v", err)
	}
	if f.metrics.get(metrics.CounterSharesRevoked) != 1 {
		t.Fatalf("revoked counter = %d", f.metrics.get(metrics.CounterSharesRevoked))
	}
}

func TestDescribe(t *testing.T) {
	f := newFixture()
	c := f.create(t, "meta", CreateRequest{Filename: "m.txt", MaxDownloads: 3, Password: "pw", TTL: ttl(time.Minute)})
	info, err := f.svc.Describe(context.Background(), c.Token.String())
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if info.Filename != "m.txt" || !info.PasswordRequired || info.OTPRequired || info.NetworkRestricted || info.Size != 4 {
		t.Fatalf("info %+v", info)
	}
	if r := f.shares.get(c.Token).Remaining; r != 3 {
		t.Fatalf("describe consumed a download")
	}
}

func TestSweep(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	expiring := f.create(t, "a", CreateRequest{TTL: ttl(time.Minute)})
	lasting := f.create(t, "b", CreateRequest{MaxDownloads: 2})
	exhausted := f.create(t, "c", CreateRequest{})

	f.clock.Advance(2 * time.Minute)
	// Exhaust without closing so the final purge does not run.
	if _, err := f.svc.ResolveShare(ctx, exhausted.Token.String(), Access{}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	n, err := f.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("first sweep handled %d, want 1", n)
	}
	if f.shares.get(expiring.Token).State != domain.StateDeleted {
		t.Fatalf("expired share not purged")
	}
	if f.shares.get(exhausted.Token).State != domain.StateExhausted {
		t.Fatalf("exhausted share purged inside grace")
	}

	f.clock.Advance(2 * time.Minute)
	if n, err = f.svc.Sweep(ctx); err != nil || n != 1 {
		t.Fatalf("second sweep n=%d err=%v", n, err)
	}
	if f.shares.get(exhausted.Token).State != domain.StateDeleted {
		t.Fatalf("exhausted share not purged after grace")
	}
	if f.shares.get(lasting.Token).State != domain.StateActive {
		t.Fatalf("active share touched by sweep")
	}
}
