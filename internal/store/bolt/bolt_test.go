package bolt

import (
	"context"
	"net/netip"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/vanish/internal/domain"
)

var t0 = time.UnixMilli(1700000000000).UTC()

func openTest(t *testing.T) *Shares {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "shares.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newShare(t *testing.T, remaining int, ttl time.Duration) domain.Share {
	t.Helper()
	tok, err := domain.NewToken()
	require.NoError(t, err)
	ref, err := domain.NewBlobRef()
	require.NoError(t, err)
	sh := domain.Share{
		Token:          tok,
		BlobRef:        ref,
		Filename:       "notes.txt",
		ContentType:    "text/plain; charset=utf-8",
		Size:           5,
		CreatedAt:      t0,
		MaxDownloads:   remaining,
		Remaining:      remaining,
		State:          domain.StateActive,
		StateChangedAt: t0,
	}
	if ttl > 0 {
		exp := t0.Add(ttl)
		sh.ExpiresAt = &exp
	}
	return sh
}

func TestInsertGetRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	sh := newShare(t, 2, time.Hour)
	sh.PasswordHash = "hash"
	sh.AllowNetworks = []netip.Prefix{netip.MustParsePrefix("192.168.1.0/24")}
	require.NoError(t, s.Insert(ctx, sh))
	assert.ErrorIs(t, s.Insert(ctx, sh), domain.ErrConflict)

	got, err := s.Get(ctx, sh.Token)
	require.NoError(t, err)
	assert.Equal(t, sh.BlobRef, got.BlobRef)
	assert.Equal(t, sh.Filename, got.Filename)
	assert.Equal(t, 2, got.Remaining)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.Equal(t, sh.AllowNetworks, got.AllowNetworks)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(*sh.ExpiresAt))
	assert.Nil(t, got.RevokedAt)

	ok, err := s.Exists(ctx, sh.Token)
	require.NoError(t, err)
	assert.True(t, ok)

	unknown, _ := domain.NewToken()
	_, err = s.Get(ctx, unknown)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTryConsume(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	sh := newShare(t, 2, time.Minute)
	require.NoError(t, s.Insert(ctx, sh))

	res, err := s.TryConsume(ctx, sh.Token, t0)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 1, res.Remaining)

	res, _ = s.TryConsume(ctx, sh.Token, sh.ExpiresAt.Add(time.Millisecond))
	assert.False(t, res.OK, "expired share must not be consumed")

	res, _ = s.TryConsume(ctx, sh.Token, *sh.ExpiresAt)
	assert.True(t, res.OK, "share is valid at exactly its expiry")
	assert.Equal(t, 0, res.Remaining)

	got, _ := s.Get(ctx, sh.Token)
	assert.Equal(t, domain.StateExhausted, got.State)

	res, _ = s.TryConsume(ctx, sh.Token, t0)
	assert.False(t, res.OK)

	unknown, _ := domain.NewToken()
	res, err = s.TryConsume(ctx, unknown, t0)
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestTryConsumeConcurrent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	sh := newShare(t, 1, 0)
	require.NoError(t, s.Insert(ctx, sh))

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := s.TryConsume(ctx, sh.Token, t0); err == nil && res.OK {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, won.Load())
}

func TestRevokeAndDelete(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	sh := newShare(t, 3, 0)
	sh.PasswordHash = "hash"
	require.NoError(t, s.Insert(ctx, sh))

	ok, err := s.Revoke(ctx, sh.Token, t0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = s.Revoke(ctx, sh.Token, t0)
	assert.False(t, ok)

	res, _ := s.TryConsume(ctx, sh.Token, t0)
	assert.False(t, res.OK, "revoked share must not be consumed")

	ok, err = s.MarkDeleted(ctx, sh.Token, t0)
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ := s.Get(ctx, sh.Token)
	assert.Equal(t, domain.StateDeleted, got.State)
	assert.Empty(t, got.PasswordHash)

	ok, _ = s.MarkDeleted(ctx, sh.Token, t0)
	assert.False(t, ok)

	unknown, _ := domain.NewToken()
	_, err = s.Revoke(ctx, unknown, t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListQueries(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	expiring := newShare(t, 1, time.Minute)
	active := newShare(t, 1, 0)
	exhausted := newShare(t, 1, 0)
	for _, sh := range []domain.Share{expiring, active, exhausted} {
		require.NoError(t, s.Insert(ctx, sh))
	}
	_, _ = s.TryConsume(ctx, exhausted.Token, t0)
	now := t0.Add(time.Hour)

	due, err := s.ListExpiring(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, expiring.Token, due[0].Token)

	ok, err := s.MarkExpired(ctx, expiring.Token, now)
	require.NoError(t, err)
	assert.True(t, ok)

	pending, err := s.ListPendingPurge(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "exhausted share is still inside its grace")
	assert.Equal(t, expiring.Token, pending[0].Token)

	pending, _ = s.ListPendingPurge(ctx, now, 10)
	assert.Len(t, pending, 2)
	pending, _ = s.ListPendingPurge(ctx, now, 1)
	assert.Len(t, pending, 1)

	_, _ = s.MarkDeleted(ctx, expiring.Token, now)
	refs, err := s.ListLiveBlobRefs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.BlobRef{active.BlobRef, exhausted.BlobRef}, refs)
}
