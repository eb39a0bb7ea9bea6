// Package store holds cross-backend maintenance over an app.ShareStore and an
// app.BlobStore. The Reconciler removes blobs that no live share references,
// such as leftovers of a crash between the blob write and the record insert.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
)

// Reconciler deletes orphan blobs.
type Reconciler struct {
	shares app.ShareStore
	blobs  app.BlobStore
	clock  app.Clock
	grace  time.Duration
	logger *slog.Logger
}

// NewReconciler returns a Reconciler that leaves blobs younger than grace
// alone, since their record may still be on its way.
func NewReconciler(shares app.ShareStore, blobs app.BlobStore, clock app.Clock, grace time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{shares: shares, blobs: blobs, clock: clock, grace: grace, logger: logger}
}

// Reconcile scans for orphan blobs, removes them and returns how many were
// deleted. Blobs are listed before live refs so a blob whose record lands in
// between is still protected by the grace period.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	if r == nil || r.shares == nil || r.blobs == nil {
		return 0, errors.New("reconciler not properly initialized")
	}
	stored, err := r.blobs.List(ctx)
	if err != nil {
		return 0, err
	}
	refs, err := r.shares.ListLiveBlobRefs(ctx)
	if err != nil {
		return 0, err
	}
	live := make(map[domain.BlobRef]struct{}, len(refs))
	for _, ref := range refs {
		live[ref] = struct{}{}
	}
	cutoff := r.clock.Now().Add(-r.grace)
	var (
		n    int
		errs []error
	)
	for _, b := range stored {
		if _, ok := live[b.Ref]; ok || !b.ModTime.Before(cutoff) {
			continue
		}
		if err := r.blobs.Delete(ctx, b.Ref); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
		r.logger.Info("orphan blob deleted", "domain", "store", "ref", b.Ref.String())
	}
	return n, errors.Join(errs...)
}
