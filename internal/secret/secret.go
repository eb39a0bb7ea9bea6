// Package secret implements app.SecretVerifier: bcrypt password hashes and
// single-use numeric OTP challenges kept in a cache as keyed BLAKE3 digests.
package secret

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/go-faster/errors"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/bcrypt"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/cache"
	"github.com/haukened/vanish/internal/domain"
)

var _ app.SecretVerifier = (*Verifier)(nil)

// maxPasswordLen is the bcrypt input limit.
const maxPasswordLen = 72

// Options tunes the verifier. Zero values take defaults.
type Options struct {
	BcryptCost     int
	OTPTTL         time.Duration
	OTPDigits      int
	OTPMaxAttempts int
	// Key keys the OTP digests. Instances sharing a Redis cache must share
	// it; when empty a random per-process key is used.
	Key []byte
}

// Verifier hashes and checks share credentials.
type Verifier struct {
	cache       cache.Cacher
	clock       app.Clock
	cost        int
	otpTTL      time.Duration
	digits      int
	maxAttempts int
	key         [32]byte
	dummy       []byte
}

// challenge is the cached form of an OTP.
type challenge struct {
	Digest    []byte `msgpack:"digest"`
	ExpiresAt int64  `msgpack:"expires_at"`
}

// New builds a Verifier storing challenges in c.
func New(c cache.Cacher, clock app.Clock, o Options) (*Verifier, error) {
	v := &Verifier{
		cache:       c,
		clock:       clock,
		cost:        o.BcryptCost,
		otpTTL:      o.OTPTTL,
		digits:      o.OTPDigits,
		maxAttempts: o.OTPMaxAttempts,
	}
	if v.cost == 0 {
		v.cost = bcrypt.DefaultCost
	}
	if v.otpTTL <= 0 {
		v.otpTTL = 5 * time.Minute
	}
	if v.digits <= 0 {
		v.digits = 6
	}
	if v.maxAttempts <= 0 {
		v.maxAttempts = 3
	}
	if len(o.Key) > 0 {
		v.key = blake3.Sum256(o.Key)
	} else if _, err := rand.Read(v.key[:]); err != nil {
		return nil, errors.Wrap(err, "generate otp key")
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("vanish-timing-dummy"), v.cost)
	if err != nil {
		return nil, errors.Wrap(err, "bcrypt cost")
	}
	v.dummy = dummy
	return v, nil
}

// HashPassword returns the bcrypt hash of plain.
func (v *Verifier) HashPassword(plain string) (string, error) {
	if len(plain) > maxPasswordLen {
		return "", fmt.Errorf("%w: password longer than %d bytes", domain.ErrInvalidParameters, maxPasswordLen)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plain), v.cost)
	if err != nil {
		return "", errors.Wrap(err, "bcrypt")
	}
	return string(h), nil
}

// VerifyPassword compares plain against hash. Empty inputs are still run
// through a comparison against a dummy hash so they cost the same time.
func (v *Verifier) VerifyPassword(plain, hash string) bool {
	if plain == "" || hash == "" {
		_ = bcrypt.CompareHashAndPassword(v.dummy, []byte(plain))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

func otpKey(scope string) string { return "otp:" + scope }

// Failed attempts and the lockout are tracked per challenge, so a reissued
// code starts with a clean budget.
func attemptsKey(scope string, digest []byte) string {
	return "otp-attempts:" + scope + ":" + hex.EncodeToString(digest[:8])
}

func lockedKey(scope string, digest []byte) string {
	return "otp-locked:" + scope + ":" + hex.EncodeToString(digest[:8])
}

func (v *Verifier) digest(scope, code string) []byte {
	h, _ := blake3.NewKeyed(v.key[:]) // key is always 32 bytes
	_, _ = h.Write([]byte(scope))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(code))
	return h.Sum(nil)
}

func (v *Verifier) newCode() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(v.digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", v.digits, n), nil
}

// IssueOTP creates a challenge for scope, replacing any earlier one.
func (v *Verifier) IssueOTP(ctx context.Context, scope string) (domain.OTPChallenge, error) {
	code, err := v.newCode()
	if err != nil {
		return domain.OTPChallenge{}, errors.Wrap(err, "generate otp")
	}
	now := v.clock.Now()
	ch := domain.OTPChallenge{Code: code, IssuedAt: now, ExpiresAt: now.Add(v.otpTTL)}
	entry := challenge{Digest: v.digest(scope, code), ExpiresAt: ch.ExpiresAt.UnixMilli()}
	if err := v.cache.Set(ctx, otpKey(scope), entry, v.otpTTL); err != nil {
		return domain.OTPChallenge{}, errors.Wrap(err, "store otp")
	}
	return ch, nil
}

// VerifyOTP compares code against the current challenge for scope. A match
// takes the challenge out of the cache so it can be used once. A mismatch
// counts against the challenge, which is locked once the attempt budget is
// spent. A mismatch never rewrites the challenge.
func (v *Verifier) VerifyOTP(ctx context.Context, scope, code string) (bool, error) {
	key := otpKey(scope)
	var c challenge
	if err := v.cache.Get(ctx, key, &c); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "load otp")
	}
	remaining := time.UnixMilli(c.ExpiresAt).Sub(v.clock.Now())
	if remaining <= 0 || len(c.Digest) < 8 {
		return false, nil
	}
	var locked bool
	if err := v.cache.Get(ctx, lockedKey(scope, c.Digest), &locked); err == nil && locked {
		return false, nil
	} else if err != nil && !errors.Is(err, cache.ErrNotFound) {
		return false, errors.Wrap(err, "load otp lock")
	}

	if subtle.ConstantTimeCompare(c.Digest, v.digest(scope, code)) != 1 {
		n, err := v.cache.Incr(ctx, attemptsKey(scope, c.Digest), remaining)
		if err != nil {
			return false, errors.Wrap(err, "count otp attempt")
		}
		if n >= int64(v.maxAttempts) {
			if err := v.cache.Set(ctx, lockedKey(scope, c.Digest), true, remaining); err != nil {
				return false, errors.Wrap(err, "lock otp")
			}
		}
		return false, nil
	}

	var taken challenge
	if err := v.cache.Take(ctx, key, &taken); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			// another request used it first
			return false, nil
		}
		return false, errors.Wrap(err, "take otp")
	}
	if subtle.ConstantTimeCompare(taken.Digest, c.Digest) == 1 {
		return true, nil
	}
	// Reissued between the read and the take: restore the newer challenge
	// unless yet another one has replaced it.
	if rest := time.UnixMilli(taken.ExpiresAt).Sub(v.clock.Now()); rest > 0 {
		if _, err := v.cache.SetNX(ctx, key, taken, rest); err != nil {
			return false, errors.Wrap(err, "restore otp")
		}
	}
	return false, nil
}
