// Package app contains the application orchestration layer for Vanish. It
// drives the share lifecycle (create, resolve, revoke, expire, purge) against
// the ports declared in ports.go and performs no I/O of its own.
package app

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/haukened/vanish/internal/domain"
)

// maxTokenAttempts bounds token regeneration on insert conflicts.
const maxTokenAttempts = 5

// Service orchestrates the lifecycle of shares using the injected
// collaborators. Scanner, Notifier, Metrics and Logger are optional.
type Service struct {
	Shares   ShareStore
	Blobs    BlobStore
	Secrets  SecretVerifier
	Scanner  Scanner
	Notifier Notifier
	Metrics  Metrics
	Clock    Clock
	Logger   *slog.Logger

	MaxBytes     int64
	MinTTL       time.Duration
	MaxTTL       time.Duration
	MaxDownloads int // 0 disables the upper bound

	StorageTimeout time.Duration
	StorageRetries uint64
	PurgeGrace     time.Duration
	SweepBatch     int

	// NewToken overrides token generation; nil uses domain.NewToken.
	NewToken func() (domain.Token, error)
}

// Limits is the public view of the upload constraints.
type Limits struct {
	MaxBytes     int64
	MinTTL       time.Duration
	MaxTTL       time.Duration
	MaxDownloads int
}

// Limits reports the configured upload constraints.
func (s *Service) Limits() Limits {
	return Limits{MaxBytes: s.MaxBytes, MinTTL: s.MinTTL, MaxTTL: s.MaxTTL, MaxDownloads: s.MaxDownloads}
}

// ShareInfo is the metadata a recipient may see before downloading. It never
// carries credentials or the remaining download count.
type ShareInfo struct {
	Filename          string
	ContentType       string
	Size              int64
	ExpiresAt         *time.Time
	PasswordRequired  bool
	OTPRequired       bool
	NetworkRestricted bool
}

// Access carries the credentials presented by a downloader.
type Access struct {
	Password string
	OTP      string
	Addr     netip.Addr
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) inc(name string) {
	if s.Metrics != nil {
		s.Metrics.Inc(name, 1)
	}
}

func (s *Service) observe(name string, v int64) {
	if s.Metrics != nil {
		s.Metrics.Observe(name, v)
	}
}

func (s *Service) newToken() (domain.Token, error) {
	if s.NewToken != nil {
		return s.NewToken()
	}
	return domain.NewToken()
}

func (s *Service) sweepBatch() int {
	if s.SweepBatch > 0 {
		return s.SweepBatch
	}
	return 100
}
