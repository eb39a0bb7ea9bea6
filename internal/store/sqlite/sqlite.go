// Package sqlite provides a SQLite-backed implementation of app.ShareStore.
// Every state transition is a single conditional UPDATE so concurrent callers
// are serialized by SQLite's write lock without an explicit transaction.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
	"github.com/mattn/go-sqlite3"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
)

var _ app.ShareStore = (*Shares)(nil)

// Shares implements app.ShareStore using SQLite (via database/sql). It is safe
// for concurrent use.
type Shares struct{ db *sql.DB }

// New constructs a Shares store, initializing the required schema if absent.
func New(db *sql.DB) (*Shares, error) {
	s := &Shares{db: db}
	if err := s.init(); err != nil {
		return nil, errors.Wrap(err, "init schema")
	}
	return s, nil
}

func (s *Shares) init() error {
	schema := `CREATE TABLE IF NOT EXISTS shares (
token TEXT PRIMARY KEY,
blob_ref TEXT NOT NULL,
filename TEXT NOT NULL,
content_type TEXT NOT NULL,
size INTEGER NOT NULL,
checksum TEXT NOT NULL,
created_at INTEGER NOT NULL,
expires_at INTEGER,
max_downloads INTEGER NOT NULL,
remaining INTEGER NOT NULL,
password_hash TEXT NOT NULL DEFAULT '',
otp_required INTEGER NOT NULL DEFAULT 0,
otp_recipient TEXT NOT NULL DEFAULT '',
allow_networks TEXT NOT NULL DEFAULT '',
state INTEGER NOT NULL,
state_changed_at INTEGER NOT NULL,
revoked_at INTEGER
);
CREATE INDEX IF NOT EXISTS shares_state_expires ON shares (state, expires_at);`
	_, err := s.db.Exec(schema)
	return err
}

const columns = `token, blob_ref, filename, content_type, size, checksum, created_at, expires_at,
max_downloads, remaining, password_hash, otp_required, otp_recipient, allow_networks,
state, state_changed_at, revoked_at`

// Insert stores a new share row. A duplicate token yields domain.ErrConflict.
func (s *Shares) Insert(ctx context.Context, sh domain.Share) error {
	const q = `INSERT INTO shares (` + columns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	_, err := s.db.ExecContext(ctx, q,
		sh.Token.String(), sh.BlobRef.String(), sh.Filename, sh.ContentType, sh.Size, sh.Checksum,
		sh.CreatedAt.UnixMilli(), nullMillis(sh.ExpiresAt),
		sh.MaxDownloads, sh.Remaining, sh.PasswordHash, sh.OTPRequired, sh.OTPRecipient,
		domain.FormatNetworks(sh.AllowNetworks),
		int(sh.State), sh.StateChangedAt.UnixMilli(), nullMillis(sh.RevokedAt),
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return domain.ErrConflict
		}
		return errors.Wrap(err, "insert share")
	}
	return nil
}

// Get returns the share for token or domain.ErrNotFound.
func (s *Shares) Get(ctx context.Context, token domain.Token) (domain.Share, error) {
	const q = `SELECT ` + columns + ` FROM shares WHERE token = ?`
	sh, err := scanShare(s.db.QueryRowContext(ctx, q, token.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Share{}, domain.ErrNotFound
		}
		return domain.Share{}, errors.Wrap(err, "get share")
	}
	return sh, nil
}

// Exists reports whether token was ever issued.
func (s *Shares) Exists(ctx context.Context, token domain.Token) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM shares WHERE token = ?`, token.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "exists")
	}
	return true, nil
}

// TryConsume decrements remaining in one conditional UPDATE and reports the
// new value. A row that fails any condition is left untouched.
func (s *Shares) TryConsume(ctx context.Context, token domain.Token, now time.Time) (app.ConsumeResult, error) {
	const q = `UPDATE shares SET
remaining = remaining - 1,
state = CASE WHEN remaining = 1 THEN ? ELSE state END,
state_changed_at = CASE WHEN remaining = 1 THEN ? ELSE state_changed_at END
WHERE token = ? AND state = ? AND revoked_at IS NULL AND remaining > 0
AND (expires_at IS NULL OR expires_at >= ?)
RETURNING remaining`
	ms := now.UnixMilli()
	var remaining int
	err := s.db.QueryRowContext(ctx, q, int(domain.StateExhausted), ms, token.String(), int(domain.StateActive), ms).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return app.ConsumeResult{}, nil
	}
	if err != nil {
		return app.ConsumeResult{}, errors.Wrap(err, "consume")
	}
	return app.ConsumeResult{OK: true, Remaining: remaining}, nil
}

// MarkExpired moves an Active share whose expiry precedes now to Expired.
func (s *Shares) MarkExpired(ctx context.Context, token domain.Token, now time.Time) (bool, error) {
	const q = `UPDATE shares SET state = ?, state_changed_at = ?
WHERE token = ? AND state = ? AND expires_at IS NOT NULL AND expires_at < ?`
	ms := now.UnixMilli()
	return s.exec(ctx, "mark expired", q, int(domain.StateExpired), ms, token.String(), int(domain.StateActive), ms)
}

// Revoke stamps revoked_at on a share that is not yet Deleted.
func (s *Shares) Revoke(ctx context.Context, token domain.Token, now time.Time) (bool, error) {
	const q = `UPDATE shares SET revoked_at = ? WHERE token = ? AND state != ? AND revoked_at IS NULL`
	ok, err := s.exec(ctx, "revoke", q, now.UnixMilli(), token.String(), int(domain.StateDeleted))
	if err != nil || ok {
		return ok, err
	}
	exists, err := s.Exists(ctx, token)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

// MarkDeleted moves a share to Deleted and clears its credentials.
func (s *Shares) MarkDeleted(ctx context.Context, token domain.Token, now time.Time) (bool, error) {
	const q = `UPDATE shares SET state = ?, state_changed_at = ?, password_hash = '', otp_recipient = ''
WHERE token = ? AND state != ?`
	return s.exec(ctx, "mark deleted", q, int(domain.StateDeleted), now.UnixMilli(), token.String(), int(domain.StateDeleted))
}

// ListExpiring returns Active shares whose expiry precedes now, soonest first.
func (s *Shares) ListExpiring(ctx context.Context, now time.Time, limit int) ([]domain.Share, error) {
	const q = `SELECT ` + columns + ` FROM shares
WHERE state = ? AND expires_at IS NOT NULL AND expires_at < ?
ORDER BY expires_at LIMIT ?`
	return s.list(ctx, "list expiring", q, int(domain.StateActive), now.UnixMilli(), limit)
}

// ListPendingPurge returns shares whose blob is due for removal.
func (s *Shares) ListPendingPurge(ctx context.Context, exhaustedBefore time.Time, limit int) ([]domain.Share, error) {
	const q = `SELECT ` + columns + ` FROM shares
WHERE state != ? AND (state = ? OR revoked_at IS NOT NULL OR (state = ? AND state_changed_at < ?))
ORDER BY state_changed_at LIMIT ?`
	return s.list(ctx, "list pending purge", q,
		int(domain.StateDeleted), int(domain.StateExpired), int(domain.StateExhausted), exhaustedBefore.UnixMilli(), limit)
}

// ListLiveBlobRefs returns the blob ref of every share not yet Deleted.
func (s *Shares) ListLiveBlobRefs(ctx context.Context) ([]domain.BlobRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT blob_ref FROM shares WHERE state != ?`, int(domain.StateDeleted))
	if err != nil {
		return nil, errors.Wrap(err, "list blob refs")
	}
	defer rows.Close()
	var refs []domain.BlobRef
	for rows.Next() {
		var ref string
		if err = rows.Scan(&ref); err != nil {
			return nil, errors.Wrap(err, "scan blob ref")
		}
		refs = append(refs, domain.BlobRef(ref))
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list blob refs")
	}
	return refs, nil
}

func (s *Shares) exec(ctx context.Context, op, q string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, errors.Wrap(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, op)
	}
	return n == 1, nil
}

func (s *Shares) list(ctx context.Context, op, q string, args ...any) ([]domain.Share, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	defer rows.Close()
	var out []domain.Share
	for rows.Next() {
		sh, err := scanShare(rows)
		if err != nil {
			return nil, errors.Wrap(err, op)
		}
		out = append(out, sh)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, op)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShare(r rowScanner) (domain.Share, error) {
	var (
		sh               domain.Share
		token, ref, nets string
		created, changed int64
		expires, revoked sql.NullInt64
		state            int
	)
	err := r.Scan(&token, &ref, &sh.Filename, &sh.ContentType, &sh.Size, &sh.Checksum, &created, &expires,
		&sh.MaxDownloads, &sh.Remaining, &sh.PasswordHash, &sh.OTPRequired, &sh.OTPRecipient, &nets,
		&state, &changed, &revoked)
	if err != nil {
		return domain.Share{}, err
	}
	sh.Token = domain.Token(token)
	sh.BlobRef = domain.BlobRef(ref)
	sh.CreatedAt = time.UnixMilli(created).UTC()
	sh.StateChangedAt = time.UnixMilli(changed).UTC()
	sh.ExpiresAt = fromNullMillis(expires)
	sh.RevokedAt = fromNullMillis(revoked)
	sh.State = domain.State(state)
	if sh.AllowNetworks, err = domain.ParseNetworks(nets); err != nil {
		return domain.Share{}, errors.Wrap(err, "decode networks")
	}
	return sh, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
