package app

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/zeebo/blake3"

	"github.com/haukened/vanish/internal/domain"
	"github.com/haukened/vanish/internal/metrics"
)

// sniffLen is how much of the upload is buffered for content type detection.
const sniffLen = 3072

// CreateRequest describes a new share. TTL is nil for shares that never expire
// by time.
type CreateRequest struct {
	Filename      string
	Size          int64
	MaxDownloads  int
	TTL           *time.Duration
	Password      string
	OTPRequired   bool
	OTPRecipient  string
	AllowNetworks []netip.Prefix
}

// Created is returned to the uploader of a new share.
type Created struct {
	Token        domain.Token
	ExpiresAt    *time.Time
	MaxDownloads int
	ContentType  string
	Checksum     string
}

func (s *Service) validateCreate(req CreateRequest) error {
	if req.MaxDownloads < 1 || (s.MaxDownloads > 0 && req.MaxDownloads > s.MaxDownloads) {
		return domain.ErrMaxDownloads
	}
	if req.TTL != nil {
		if err := domain.ValidateTTL(*req.TTL, s.MinTTL, s.MaxTTL); err != nil {
			return domain.ErrTTLInvalid
		}
	}
	if req.Size <= 0 || (s.MaxBytes > 0 && req.Size > s.MaxBytes) {
		return domain.ErrSizeExceeded
	}
	if req.OTPRequired && req.OTPRecipient == "" {
		return domain.ErrRecipientRequired
	}
	for _, p := range req.AllowNetworks {
		if !p.IsValid() {
			return domain.ErrNetworkInvalid
		}
	}
	return nil
}

// CreateShare validates req, stores exactly req.Size bytes from body, runs the
// content scanner and persists an Active record under a fresh token. Nothing
// is visible to downloaders until the record insert succeeds; on any failure
// after the blob was written the blob is removed again.
func (s *Service) CreateShare(ctx context.Context, body io.Reader, req CreateRequest) (Created, error) {
	if err := s.validateCreate(req); err != nil {
		return Created{}, err
	}
	log := s.logger().With("domain", "app", "action", "create")

	var hash string
	if req.Password != "" {
		h, err := s.Secrets.HashPassword(req.Password)
		if err != nil {
			return Created{}, fmt.Errorf("hash password: %w", err)
		}
		hash = h
	}

	ref, err := domain.NewBlobRef()
	if err != nil {
		return Created{}, err
	}

	br := bufio.NewReaderSize(body, sniffLen)
	head, _ := br.Peek(sniffLen)
	contentType := mimetype.Detect(head).String()
	sum := blake3.New()
	pctx, touch, stop := withIdleTimeout(ctx, s.storageTimeout())
	err = s.Blobs.Put(pctx, ref, progressReader{r: io.TeeReader(br, sum), touch: touch}, req.Size)
	stalled := errors.Is(context.Cause(pctx), errNoProgress)
	stop()
	if err != nil {
		s.discardBlob(ctx, ref)
		switch {
		case errors.Is(err, domain.ErrSizeMismatch):
			return Created{}, err
		case stalled:
			return Created{}, fmt.Errorf("%w: put blob: no progress for %s", domain.ErrStorageFailure, s.storageTimeout())
		}
		return Created{}, fmt.Errorf("%w: put blob: %w", domain.ErrStorageFailure, err)
	}
	checksum := hex.EncodeToString(sum.Sum(nil))

	if err := s.scan(ctx, ref); err != nil {
		s.discardBlob(ctx, ref)
		if errors.Is(err, domain.ErrContentRejected) {
			s.inc(metrics.CounterSharesRejected)
			log.Info("content rejected", "ref", ref.String(), "content_type", contentType)
		}
		return Created{}, err
	}

	now := s.Clock.Now()
	share := domain.Share{
		BlobRef:        ref,
		Filename:       req.Filename,
		ContentType:    contentType,
		Size:           req.Size,
		Checksum:       checksum,
		CreatedAt:      now,
		MaxDownloads:   req.MaxDownloads,
		Remaining:      req.MaxDownloads,
		PasswordHash:   hash,
		OTPRequired:    req.OTPRequired,
		OTPRecipient:   req.OTPRecipient,
		AllowNetworks:  req.AllowNetworks,
		State:          domain.StateActive,
		StateChangedAt: now,
	}
	if req.TTL != nil {
		exp := now.Add(*req.TTL)
		share.ExpiresAt = &exp
	}

	tok, err := s.insertFresh(ctx, share)
	if err != nil {
		s.discardBlob(ctx, ref)
		return Created{}, err
	}

	s.inc(metrics.CounterSharesCreated)
	s.observe(metrics.SummaryUploadBytes, req.Size)
	log.Info("share created", "ref", ref.String(), "size", req.Size, "max_downloads", req.MaxDownloads,
		"password", hash != "", "otp", req.OTPRequired, "networks", len(req.AllowNetworks))
	return Created{
		Token:        tok,
		ExpiresAt:    share.ExpiresAt,
		MaxDownloads: req.MaxDownloads,
		ContentType:  contentType,
		Checksum:     checksum,
	}, nil
}

// scan runs the configured scanner over the stored blob.
func (s *Service) scan(ctx context.Context, ref domain.BlobRef) error {
	if s.Scanner == nil {
		return nil
	}
	rc, err := s.openBlob(ctx, ref)
	if err != nil {
		return err
	}
	defer rc.Close()
	verdict, err := s.Scanner.Scan(ctx, rc)
	if err != nil {
		return fmt.Errorf("%w: scan: %w", domain.ErrStorageFailure, err)
	}
	if verdict == VerdictFlagged {
		return domain.ErrContentRejected
	}
	return nil
}

// insertFresh persists share under a newly generated token, regenerating on
// collisions up to maxTokenAttempts times.
func (s *Service) insertFresh(ctx context.Context, share domain.Share) (domain.Token, error) {
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		tok, err := s.newToken()
		if err != nil {
			return "", err
		}
		exists, err := retryValue(ctx, s, "exists", false, func(ctx context.Context) (bool, error) {
			return s.Shares.Exists(ctx, tok)
		})
		if err != nil {
			return "", err
		}
		if exists {
			s.logger().Warn("token collision", "domain", "app", "attempt", attempt)
			continue
		}
		share.Token = tok
		err = s.retry(ctx, "insert share", func(ctx context.Context) error {
			return s.Shares.Insert(ctx, share)
		})
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return "", err
		}
		// A retried insert may have committed on an earlier attempt.
		if cur, gerr := s.Shares.Get(ctx, tok); gerr == nil && cur.BlobRef == share.BlobRef {
			return tok, nil
		}
		s.logger().Warn("token collision", "domain", "app", "attempt", attempt)
	}
	return "", fmt.Errorf("%w: token generation exhausted after %d attempts", domain.ErrStorageFailure, maxTokenAttempts)
}

// discardBlob removes a blob that never became visible. Failures are left to
// the reconciler.
func (s *Service) discardBlob(ctx context.Context, ref domain.BlobRef) {
	err := s.retry(detached(ctx), "discard blob", func(ctx context.Context) error {
		return s.Blobs.Delete(ctx, ref)
	})
	if err != nil {
		s.logger().Warn("discard blob failed", "domain", "app", "ref", ref.String(), "error", err)
	}
}
