package domain

import (
	"net/netip"
	"time"
)

// Share is the persisted record of one uploaded file exposed through a token.
type Share struct {
	Token          Token
	BlobRef        BlobRef
	Filename       string
	ContentType    string
	Size           int64
	Checksum       string // BLAKE3 hex digest of the stored bytes
	CreatedAt      time.Time
	ExpiresAt      *time.Time // nil: no TTL
	MaxDownloads   int
	Remaining      int
	PasswordHash   string // empty: no password
	OTPRequired    bool
	OTPRecipient   string
	AllowNetworks  []netip.Prefix // empty: any network
	State          State
	StateChangedAt time.Time
	RevokedAt      *time.Time
}

// ExpiredAt reports whether the share's TTL has elapsed at now. Expiry is
// strict: a share is still valid at exactly ExpiresAt.
func (s *Share) ExpiredAt(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// PasswordProtected reports whether a password must be supplied.
func (s *Share) PasswordProtected() bool { return s.PasswordHash != "" }

// Revoked reports whether an operator revoked the share.
func (s *Share) Revoked() bool { return s.RevokedAt != nil }

// AllowsAddr reports whether addr may download the share. Shares without an
// allow-list accept any address; shares with one reject invalid addresses.
func (s *Share) AllowsAddr(addr netip.Addr) bool {
	if len(s.AllowNetworks) == 0 {
		return true
	}
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.AllowNetworks {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// OTPChallenge is a short-lived single-use passcode scoped to one share.
type OTPChallenge struct {
	Code      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
