// Package bolt provides an embedded app.ShareStore on go.etcd.io/bbolt.
// Records are msgpack encoded and every mutation runs in a single read-write
// transaction, which bbolt serializes, so TryConsume is atomic.
package bolt

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/vmihailenco/msgpack/v5"
	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
)

var _ app.ShareStore = (*Shares)(nil)

var sharesBucket = []byte("shares")

// Shares implements app.ShareStore using bbolt.
type Shares struct{ db *bbolt.DB }

// Open opens (or creates) the database file at path.
func Open(path string) (*Shares, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt")
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database, creating the bucket if absent.
func New(db *bbolt.DB) (*Shares, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sharesBucket)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "create bucket")
	}
	return &Shares{db: db}, nil
}

// Close closes the underlying database.
func (s *Shares) Close() error { return s.db.Close() }

// record is the persisted form of domain.Share. Times are unix milliseconds;
// zero means unset.
type record struct {
	BlobRef        string `msgpack:"blob_ref"`
	Filename       string `msgpack:"filename"`
	ContentType    string `msgpack:"content_type"`
	Size           int64  `msgpack:"size"`
	Checksum       string `msgpack:"checksum"`
	CreatedAt      int64  `msgpack:"created_at"`
	ExpiresAt      int64  `msgpack:"expires_at,omitempty"`
	MaxDownloads   int    `msgpack:"max_downloads"`
	Remaining      int    `msgpack:"remaining"`
	PasswordHash   string `msgpack:"password_hash,omitempty"`
	OTPRequired    bool   `msgpack:"otp_required,omitempty"`
	OTPRecipient   string `msgpack:"otp_recipient,omitempty"`
	AllowNetworks  string `msgpack:"allow_networks,omitempty"`
	State          uint8  `msgpack:"state"`
	StateChangedAt int64  `msgpack:"state_changed_at"`
	RevokedAt      int64  `msgpack:"revoked_at,omitempty"`
}

func toRecord(sh domain.Share) record {
	return record{
		BlobRef:        sh.BlobRef.String(),
		Filename:       sh.Filename,
		ContentType:    sh.ContentType,
		Size:           sh.Size,
		Checksum:       sh.Checksum,
		CreatedAt:      sh.CreatedAt.UnixMilli(),
		ExpiresAt:      millis(sh.ExpiresAt),
		MaxDownloads:   sh.MaxDownloads,
		Remaining:      sh.Remaining,
		PasswordHash:   sh.PasswordHash,
		OTPRequired:    sh.OTPRequired,
		OTPRecipient:   sh.OTPRecipient,
		AllowNetworks:  domain.FormatNetworks(sh.AllowNetworks),
		State:          uint8(sh.State),
		StateChangedAt: sh.StateChangedAt.UnixMilli(),
		RevokedAt:      millis(sh.RevokedAt),
	}
}

func (r record) share(token string) (domain.Share, error) {
	nets, err := domain.ParseNetworks(r.AllowNetworks)
	if err != nil {
		return domain.Share{}, errors.Wrap(err, "decode networks")
	}
	return domain.Share{
		Token:          domain.Token(token),
		BlobRef:        domain.BlobRef(r.BlobRef),
		Filename:       r.Filename,
		ContentType:    r.ContentType,
		Size:           r.Size,
		Checksum:       r.Checksum,
		CreatedAt:      time.UnixMilli(r.CreatedAt).UTC(),
		ExpiresAt:      fromMillis(r.ExpiresAt),
		MaxDownloads:   r.MaxDownloads,
		Remaining:      r.Remaining,
		PasswordHash:   r.PasswordHash,
		OTPRequired:    r.OTPRequired,
		OTPRecipient:   r.OTPRecipient,
		AllowNetworks:  nets,
		State:          domain.State(r.State),
		StateChangedAt: time.UnixMilli(r.StateChangedAt).UTC(),
		RevokedAt:      fromMillis(r.RevokedAt),
	}, nil
}

func (r record) expiredAt(ms int64) bool { return r.ExpiresAt != 0 && ms > r.ExpiresAt }

func millis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

func load(b *bbolt.Bucket, token domain.Token) (record, bool, error) {
	raw := b.Get([]byte(token))
	if raw == nil {
		return record{}, false, nil
	}
	var r record
	if err := msgpack.Unmarshal(raw, &r); err != nil {
		return record{}, false, errors.Wrap(err, "decode record")
	}
	return r, true, nil
}

func save(b *bbolt.Bucket, token domain.Token, r record) error {
	raw, err := msgpack.Marshal(&r)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	return b.Put([]byte(token), raw)
}

// mutate applies fn to the record for token inside one transaction and
// persists it when fn reports a change.
func (s *Shares) mutate(ctx context.Context, token domain.Token, fn func(r *record) bool) (changed, found bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, false, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sharesBucket)
		r, ok, err := load(b, token)
		if err != nil || !ok {
			return err
		}
		found = true
		if !fn(&r) {
			return nil
		}
		changed = true
		return save(b, token, r)
	})
	return changed, found, err
}

// Insert stores a new share. A duplicate token yields domain.ErrConflict.
func (s *Shares) Insert(ctx context.Context, sh domain.Share) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sharesBucket)
		if b.Get([]byte(sh.Token)) != nil {
			return domain.ErrConflict
		}
		return save(b, sh.Token, toRecord(sh))
	})
}

// Get returns the share for token or domain.ErrNotFound.
func (s *Shares) Get(ctx context.Context, token domain.Token) (domain.Share, error) {
	if err := ctx.Err(); err != nil {
		return domain.Share{}, err
	}
	var out domain.Share
	err := s.db.View(func(tx *bbolt.Tx) error {
		r, ok, err := load(tx.Bucket(sharesBucket), token)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotFound
		}
		out, err = r.share(token.String())
		return err
	})
	return out, err
}

// Exists reports whether token was ever issued.
func (s *Shares) Exists(ctx context.Context, token domain.Token) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(sharesBucket).Get([]byte(token)) != nil
		return nil
	})
	return ok, err
}

// TryConsume decrements remaining when the share is Active, unrevoked,
// unexpired and not exhausted.
func (s *Shares) TryConsume(ctx context.Context, token domain.Token, now time.Time) (app.ConsumeResult, error) {
	ms := now.UnixMilli()
	var res app.ConsumeResult
	_, _, err := s.mutate(ctx, token, func(r *record) bool {
		if domain.State(r.State) != domain.StateActive || r.RevokedAt != 0 || r.Remaining <= 0 || r.expiredAt(ms) {
			return false
		}
		r.Remaining--
		if r.Remaining == 0 {
			r.State = uint8(domain.StateExhausted)
			r.StateChangedAt = ms
		}
		res = app.ConsumeResult{OK: true, Remaining: r.Remaining}
		return true
	})
	if err != nil {
		return app.ConsumeResult{}, errors.Wrap(err, "consume")
	}
	return res, nil
}

// MarkExpired moves an Active share whose expiry precedes now to Expired.
func (s *Shares) MarkExpired(ctx context.Context, token domain.Token, now time.Time) (bool, error) {
	ms := now.UnixMilli()
	changed, _, err := s.mutate(ctx, token, func(r *record) bool {
		if !domain.CanTransition(domain.State(r.State), domain.StateExpired) || !r.expiredAt(ms) {
			return false
		}
		r.State = uint8(domain.StateExpired)
		r.StateChangedAt = ms
		return true
	})
	return changed, err
}

// Revoke stamps the revocation time on a share that is not yet Deleted.
func (s *Shares) Revoke(ctx context.Context, token domain.Token, now time.Time) (bool, error) {
	changed, found, err := s.mutate(ctx, token, func(r *record) bool {
		if domain.State(r.State).Terminal() || r.RevokedAt != 0 {
			return false
		}
		r.RevokedAt = now.UnixMilli()
		return true
	})
	if err == nil && !found {
		return false, domain.ErrNotFound
	}
	return changed, err
}

// MarkDeleted moves a share to Deleted and clears its credentials.
func (s *Shares) MarkDeleted(ctx context.Context, token domain.Token, now time.Time) (bool, error) {
	changed, _, err := s.mutate(ctx, token, func(r *record) bool {
		if !domain.CanTransition(domain.State(r.State), domain.StateDeleted) {
			return false
		}
		r.State = uint8(domain.StateDeleted)
		r.StateChangedAt = now.UnixMilli()
		r.PasswordHash = ""
		r.OTPRecipient = ""
		return true
	})
	return changed, err
}

// scan visits records matching keep until limit results are collected.
// limit <= 0 means no limit.
func (s *Shares) scan(ctx context.Context, limit int, keep func(r record) bool) ([]domain.Share, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.Share
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(sharesBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r record
			if err := msgpack.Unmarshal(v, &r); err != nil {
				return errors.Wrap(err, "decode record")
			}
			if !keep(r) {
				continue
			}
			sh, err := r.share(string(k))
			if err != nil {
				return err
			}
			out = append(out, sh)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	return out, err
}

// ListExpiring returns Active shares whose expiry precedes now.
func (s *Shares) ListExpiring(ctx context.Context, now time.Time, limit int) ([]domain.Share, error) {
	ms := now.UnixMilli()
	return s.scan(ctx, limit, func(r record) bool {
		return domain.State(r.State) == domain.StateActive && r.expiredAt(ms)
	})
}

// ListPendingPurge returns shares whose blob is due for removal.
func (s *Shares) ListPendingPurge(ctx context.Context, exhaustedBefore time.Time, limit int) ([]domain.Share, error) {
	before := exhaustedBefore.UnixMilli()
	return s.scan(ctx, limit, func(r record) bool {
		switch st := domain.State(r.State); {
		case st == domain.StateDeleted:
			return false
		case st == domain.StateExpired, r.RevokedAt != 0:
			return true
		default:
			return st == domain.StateExhausted && r.StateChangedAt < before
		}
	})
}

// ListLiveBlobRefs returns the blob ref of every share not yet Deleted.
func (s *Shares) ListLiveBlobRefs(ctx context.Context) ([]domain.BlobRef, error) {
	live, err := s.scan(ctx, 0, func(r record) bool { return domain.State(r.State) != domain.StateDeleted })
	if err != nil {
		return nil, err
	}
	refs := make([]domain.BlobRef, len(live))
	for i, sh := range live {
		refs[i] = sh.BlobRef
	}
	return refs, nil
}
