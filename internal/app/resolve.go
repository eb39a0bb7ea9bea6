package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/metrics"
)

// Download streams the bytes of one granted download. Callers must Close it;
// closing the final permitted download purges the share's blob.
type Download struct {
	Filename    string
	ContentType string
	Size        int64
	Checksum    string
	Remaining   int

	body     io.ReadCloser
	once     sync.Once
	finalize func()
}

func (d *Download) Read(p []byte) (int, error) { return d.body.Read(p) }

// Close releases the blob stream and, for the last download, purges the share.
func (d *Download) Close() error {
	err := d.body.Close()
	d.once.Do(func() {
		if d.finalize != nil {
			d.finalize()
		}
	})
	return err
}

// load fetches the record for a raw token string. Deleted records and
// malformed tokens are indistinguishable from unknown ones.
func (s *Service) load(ctx context.Context, raw string) (domain.Share, error) {
	tok, err := domain.ParseToken(raw)
	if err != nil {
		return domain.Share{}, domain.ErrInvalidToken
	}
	share, err := retryValue(ctx, s, "get share", false, func(ctx context.Context) (domain.Share, error) {
		return s.Shares.Get(ctx, tok)
	})
	if err != nil {
		return domain.Share{}, err
	}
	if share.State == domain.StateDeleted {
		return domain.Share{}, domain.ErrNotFound
	}
	return share, nil
}

// live checks that share can still be served at now. Expired records are
// transitioned (and purged) before answering.
func (s *Service) live(ctx context.Context, share domain.Share, now time.Time) error {
	if share.State == domain.StateExpired || (share.State == domain.StateActive && share.ExpiredAt(now)) {
		s.expire(ctx, share, now)
		return domain.ErrExpired
	}
	if share.State != domain.StateActive || share.Revoked() {
		return domain.ErrNotFound
	}
	return nil
}

// authorize checks the network allow-list, the password and the OTP in that
// order. The password comparison always runs so response timing does not
// reveal which check failed, but an OTP is never burned by a request that has
// already failed.
func (s *Service) authorize(ctx context.Context, share domain.Share, access Access) (bool, error) {
	ok := share.AllowsAddr(access.Addr)
	if share.PasswordProtected() && !s.Secrets.VerifyPassword(access.Password, share.PasswordHash) {
		ok = false
	}
	if !share.OTPRequired {
		return ok, nil
	}
	if !ok || access.OTP == "" {
		return false, nil
	}
	valid, err := s.Secrets.VerifyOTP(ctx, share.Token.String(), access.OTP)
	if err != nil {
		return false, fmt.Errorf("%w: verify otp: %w", domain.ErrStorageFailure, err)
	}
	return valid, nil
}

// ResolveShare authorizes a download of the share behind token and, when every
// check passes, atomically takes one download from its budget. Concurrent
// callers racing for the last download are decided by the record store: at
// most one of them is served.
func (s *Service) ResolveShare(ctx context.Context, token string, access Access) (*Download, error) {
	share, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.live(ctx, share, s.Clock.Now()); err != nil {
		return nil, err
	}
	log := s.logger().With("domain", "app", "action", "resolve", "ref", share.BlobRef.String())

	ok, err := s.authorize(ctx, share, access)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.inc(metrics.CounterDownloadsForbidden)
		log.Info("download forbidden")
		return nil, domain.ErrForbidden
	}

	// A failed open must leave the download budget untouched.
	rc, err := s.openBlob(ctx, share.BlobRef)
	if err != nil {
		if gone := s.settled(ctx, share.Token); gone != nil {
			return nil, gone
		}
		return nil, err
	}

	now := s.Clock.Now()
	var res ConsumeResult
	err = s.once(ctx, "consume", func(ctx context.Context) error {
		var cerr error
		res, cerr = s.Shares.TryConsume(ctx, share.Token, now)
		return cerr
	})
	if err != nil {
		rc.Close()
		return nil, err
	}
	if !res.OK {
		rc.Close()
		return nil, s.lostRace(ctx, share.Token, now)
	}

	final := res.Remaining == 0
	if final {
		s.inc(metrics.CounterSharesExhausted)
		share.State = domain.StateExhausted
	}
	s.inc(metrics.CounterDownloads)
	log.Info("download granted", "remaining", res.Remaining)

	d := &Download{
		Filename:    share.Filename,
		ContentType: share.ContentType,
		Size:        share.Size,
		Checksum:    share.Checksum,
		Remaining:   res.Remaining,
		body:        rc,
	}
	if final {
		d.finalize = func() { s.purgeDetached(ctx, share) }
	}
	return d, nil
}

// settled reports why a share whose blob could not be opened is no longer
// servable, or nil when the record is still live and the failure belongs to
// the blob store. A concurrent final download may have purged the blob.
func (s *Service) settled(ctx context.Context, tok domain.Token) error {
	cur, err := s.Shares.Get(ctx, tok)
	if err != nil {
		return nil
	}
	now := s.Clock.Now()
	if cur.State == domain.StateActive && !cur.Revoked() && !cur.ExpiredAt(now) {
		return nil
	}
	return s.lostRace(ctx, tok, now)
}

// lostRace explains a refused consume: the share expired in the meantime or
// another caller took the last download.
func (s *Service) lostRace(ctx context.Context, tok domain.Token, now time.Time) error {
	cur, err := s.Shares.Get(ctx, tok)
	if err != nil {
		return domain.ErrNotFound
	}
	if cur.State == domain.StateExpired || (cur.State == domain.StateActive && cur.ExpiredAt(now)) {
		return domain.ErrExpired
	}
	return domain.ErrNotFound
}

// openBlob opens a blob stream. A missing blob behind a live record is a
// storage fault, not an unknown share.
func (s *Service) openBlob(ctx context.Context, ref domain.BlobRef) (io.ReadCloser, error) {
	rc, err := retryValue(ctx, s, "open blob", true, func(ctx context.Context) (io.ReadCloser, error) {
		return s.Blobs.Open(ctx, ref)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: blob %s missing", domain.ErrStorageFailure, ref)
	}
	return rc, err
}

// Describe returns what a recipient may know about a share before
// downloading it.
func (s *Service) Describe(ctx context.Context, token string) (ShareInfo, error) {
	share, err := s.load(ctx, token)
	if err != nil {
		return ShareInfo{}, err
	}
	if err := s.live(ctx, share, s.Clock.Now()); err != nil {
		return ShareInfo{}, err
	}
	return ShareInfo{
		Filename:          share.Filename,
		ContentType:       share.ContentType,
		Size:              share.Size,
		ExpiresAt:         share.ExpiresAt,
		PasswordRequired:  share.PasswordProtected(),
		OTPRequired:       share.OTPRequired,
		NetworkRestricted: len(share.AllowNetworks) > 0,
	}, nil
}

// RequestOTP issues a fresh passcode for an OTP gated share and hands it to
// the notifier. Any earlier unused code for the share stops working.
func (s *Service) RequestOTP(ctx context.Context, token string) (time.Time, error) {
	share, err := s.load(ctx, token)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.live(ctx, share, s.Clock.Now()); err != nil {
		return time.Time{}, err
	}
	if !share.OTPRequired {
		return time.Time{}, domain.ErrOTPNotRequired
	}
	if s.Notifier == nil {
		return time.Time{}, errors.New("no otp notifier configured")
	}
	ch, err := s.Secrets.IssueOTP(ctx, share.Token.String())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: issue otp: %w", domain.ErrStorageFailure, err)
	}
	if err := s.Notifier.SendOTP(ctx, share.OTPRecipient, share.Token, ch); err != nil {
		return time.Time{}, fmt.Errorf("%w: deliver otp: %w", domain.ErrStorageFailure, err)
	}
	s.inc(metrics.CounterOTPIssued)
	s.logger().Info("otp issued", "domain", "app", "ref", share.BlobRef.String())
	return ch.ExpiresAt, nil
}
