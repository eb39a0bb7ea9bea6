package app

import (
	"context"
	"errors"
	"time"

	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/metrics"
)

// RevokeShare stops all further downloads of a share and purges its blob.
// Revoking an already purged share is a no-op.
func (s *Service) RevokeShare(ctx context.Context, token string) error {
	tok, err := domain.ParseToken(token)
	if err != nil {
		return domain.ErrInvalidToken
	}
	share, err := retryValue(ctx, s, "get share", false, func(ctx context.Context) (domain.Share, error) {
		return s.Shares.Get(ctx, tok)
	})
	if err != nil {
		return err
	}
	if share.State == domain.StateDeleted {
		return nil
	}
	now := s.Clock.Now()
	stamped, err := retryValue(ctx, s, "revoke", false, func(ctx context.Context) (bool, error) {
		return s.Shares.Revoke(ctx, tok, now)
	})
	if err != nil {
		return err
	}
	if stamped {
		s.inc(metrics.CounterSharesRevoked)
		s.logger().Info("share revoked", "domain", "app", "ref", share.BlobRef.String())
	}
	return s.purge(ctx, share)
}

// purge deletes the blob of a share that can no longer be served and then
// marks the record Deleted. The blob goes first so a Deleted record never
// points at live bytes. purge is idempotent.
func (s *Service) purge(ctx context.Context, share domain.Share) error {
	if share.State.Terminal() {
		return nil
	}
	err := s.retry(ctx, "delete blob", func(ctx context.Context) error {
		return s.Blobs.Delete(ctx, share.BlobRef)
	})
	if err != nil {
		return err
	}
	flipped, err := retryValue(ctx, s, "mark deleted", false, func(ctx context.Context) (bool, error) {
		return s.Shares.MarkDeleted(ctx, share.Token, s.Clock.Now())
	})
	if err != nil {
		return err
	}
	if flipped {
		s.inc(metrics.CounterSharesDeleted)
		s.logger().Info("share purged", "domain", "app", "ref", share.BlobRef.String(), "state", share.State.String())
	}
	return nil
}

// purgeDetached purges outside the caller's cancellation. Failures are left
// for the next sweep.
func (s *Service) purgeDetached(ctx context.Context, share domain.Share) {
	if err := s.purge(detached(ctx), share); err != nil {
		s.logger().Warn("purge failed", "domain", "app", "ref", share.BlobRef.String(), "error", err)
	}
}

// expire moves an Active share past its TTL to Expired and purges it.
func (s *Service) expire(ctx context.Context, share domain.Share, now time.Time) {
	if share.State == domain.StateActive {
		moved, err := retryValue(detached(ctx), s, "mark expired", false, func(ctx context.Context) (bool, error) {
			return s.Shares.MarkExpired(ctx, share.Token, now)
		})
		if err != nil {
			s.logger().Warn("expire failed", "domain", "app", "ref", share.BlobRef.String(), "error", err)
			return
		}
		if moved {
			s.inc(metrics.CounterSharesExpired)
		}
		share.State = domain.StateExpired
	}
	s.purgeDetached(ctx, share)
}

// ExpireDue transitions every Active share whose TTL elapsed before now to
// Expired and purges it. It returns the number of shares this call expired.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	due, err := retryValue(ctx, s, "list expiring", false, func(ctx context.Context) ([]domain.Share, error) {
		return s.Shares.ListExpiring(ctx, now, s.sweepBatch())
	})
	if err != nil {
		return 0, err
	}
	var (
		n    int
		errs []error
	)
	for _, share := range due {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		moved, err := retryValue(ctx, s, "mark expired", false, func(ctx context.Context) (bool, error) {
			return s.Shares.MarkExpired(ctx, share.Token, now)
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if moved {
			n++
			s.inc(metrics.CounterSharesExpired)
		}
		share.State = domain.StateExpired
		if err := s.purge(ctx, share); err != nil {
			errs = append(errs, err)
		}
	}
	return n, errors.Join(errs...)
}

// PurgePending purges shares whose blob is no longer needed: expired ones,
// revoked ones whose purge failed earlier, and exhausted ones older than the
// purge grace. The grace lets an in-flight final download finish streaming
// before its blob disappears. It returns the number of shares purged.
func (s *Service) PurgePending(ctx context.Context, now time.Time) (int, error) {
	pending, err := retryValue(ctx, s, "list pending purge", false, func(ctx context.Context) ([]domain.Share, error) {
		return s.Shares.ListPendingPurge(ctx, now.Add(-s.PurgeGrace), s.sweepBatch())
	})
	if err != nil {
		return 0, err
	}
	var (
		n    int
		errs []error
	)
	for _, share := range pending {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := s.purge(ctx, share); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Sweep runs ExpireDue followed by PurgePending and reports the total number
// of shares handled.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := s.Clock.Now()
	expired, err1 := s.ExpireDue(ctx, now)
	purged, err2 := s.PurgePending(ctx, now)
	return expired + purged, errors.Join(err1, err2)
}
