// Package app defines the application layer "ports" (interfaces) and simple
// data contracts that the core use-cases of Vanish depend upon. It follows a
// hexagonal (ports & adapters) design: this package declares what the core
// needs, while adapter packages (e.g. SQLite/bolt record stores, filesystem/S3
// blob stores, HTTP layer, janitor jobs) provide concrete implementations. No
// SQL, network, or filesystem concerns belong here.
package app

import (
	"context"
	"io"
	"time"

	"github.com/haukened/vanish/internal/domain"
)

// Clock abstracts time to enable deterministic testing of TTL / expiry logic.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// ConsumeResult is the outcome of ShareStore.TryConsume.
type ConsumeResult struct {
	OK        bool
	Remaining int // remaining downloads after the consume; meaningful only when OK
}

// ShareStore is the durable record store for shares. Implementations must make
// TryConsume a single atomic operation at the storage layer.
type ShareStore interface {
	// Insert persists a new record. Returns domain.ErrConflict if the token
	// already exists (including deleted tombstones).
	Insert(ctx context.Context, s domain.Share) error

	// Get returns the record for token or domain.ErrNotFound.
	Get(ctx context.Context, token domain.Token) (domain.Share, error)

	// Exists reports whether token was ever issued, deleted records included.
	Exists(ctx context.Context, token domain.Token) (bool, error)

	// TryConsume atomically tests remaining > 0, state == Active, not revoked
	// and not expired at now; if so it decrements remaining (moving the record
	// to Exhausted when it reaches 0) and reports OK. Otherwise it reports !OK
	// without mutating anything.
	TryConsume(ctx context.Context, token domain.Token, now time.Time) (ConsumeResult, error)

	// MarkExpired moves an Active record whose expiry precedes now to Expired.
	// It reports whether this call performed the transition.
	MarkExpired(ctx context.Context, token domain.Token, now time.Time) (bool, error)

	// Revoke stamps revokedAt on a record that is not yet Deleted, after which
	// TryConsume always fails. It reports whether this call stamped it.
	Revoke(ctx context.Context, token domain.Token, now time.Time) (bool, error)

	// MarkDeleted moves a non-Deleted record to Deleted and drops its
	// credentials. It reports whether this call performed the transition.
	MarkDeleted(ctx context.Context, token domain.Token, now time.Time) (bool, error)

	// ListExpiring returns up to limit Active records whose expiry precedes now.
	ListExpiring(ctx context.Context, now time.Time, limit int) ([]domain.Share, error)

	// ListPendingPurge returns up to limit records whose blob must be purged:
	// Expired, revoked-but-not-Deleted, and Exhausted records whose last state
	// change precedes exhaustedBefore.
	ListPendingPurge(ctx context.Context, exhaustedBefore time.Time, limit int) ([]domain.Share, error)

	// ListLiveBlobRefs returns the blob refs of every non-Deleted record.
	ListLiveBlobRefs(ctx context.Context) ([]domain.BlobRef, error)
}

// BlobInfo describes one stored blob for reconciliation.
type BlobInfo struct {
	Ref     domain.BlobRef
	ModTime time.Time
}

// BlobStore is the durable byte storage collaborator.
type BlobStore interface {
	// Put stores exactly size bytes from r under ref. It returns only after
	// the bytes are durable.
	Put(ctx context.Context, ref domain.BlobRef, r io.Reader, size int64) error
	// Open streams the bytes of ref. Returns domain.ErrNotFound if absent.
	Open(ctx context.Context, ref domain.BlobRef) (io.ReadCloser, error)
	// Delete removes ref. Deleting an absent blob is not an error.
	Delete(ctx context.Context, ref domain.BlobRef) error
	// List enumerates stored blobs.
	List(ctx context.Context) ([]BlobInfo, error)
}

// SecretVerifier hashes and checks link-level credentials.
type SecretVerifier interface {
	HashPassword(plain string) (string, error)
	// VerifyPassword reports whether plain matches hash. An empty hash or an
	// empty plain never matches.
	VerifyPassword(plain, hash string) bool
	// IssueOTP creates (or replaces) the challenge for scope.
	IssueOTP(ctx context.Context, scope string) (domain.OTPChallenge, error)
	// VerifyOTP consumes the challenge for scope when code matches.
	VerifyOTP(ctx context.Context, scope, code string) (bool, error)
}

// Verdict is a content scanner decision.
type Verdict int

const (
	VerdictClean Verdict = iota
	VerdictFlagged
)

// Scanner inspects uploaded bytes before a share becomes visible.
type Scanner interface {
	Scan(ctx context.Context, r io.Reader) (Verdict, error)
}

// Notifier delivers OTP codes out of band to the share's recipient.
type Notifier interface {
	SendOTP(ctx context.Context, recipient string, token domain.Token, ch domain.OTPChallenge) error
}

// Metrics receives counter and summary events.
type Metrics interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}
