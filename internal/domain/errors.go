// Package domain errors.go contains sentinel errors
package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Every error returned by the application
// layer matches exactly one of these with errors.Is.
var (
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrNotFound          = errors.New("not found")
	ErrExpired           = errors.New("expired")
	ErrForbidden         = errors.New("forbidden")
	ErrContentRejected   = errors.New("content rejected")
	ErrStorageFailure    = errors.New("storage failure")
	ErrConflict          = errors.New("conflict")
)

// Refinements of the kinds above.
var (
	ErrTTLInvalid        = fmt.Errorf("%w: ttl invalid", ErrInvalidParameters)
	ErrSizeExceeded      = fmt.Errorf("%w: size exceeded", ErrInvalidParameters)
	ErrSizeMismatch      = fmt.Errorf("%w: body length does not match declared size", ErrInvalidParameters)
	ErrMaxDownloads      = fmt.Errorf("%w: max downloads invalid", ErrInvalidParameters)
	ErrRecipientRequired = fmt.Errorf("%w: otp recipient required", ErrInvalidParameters)
	ErrNetworkInvalid    = fmt.Errorf("%w: network invalid", ErrInvalidParameters)
	ErrOTPNotRequired    = fmt.Errorf("%w: share is not otp gated", ErrInvalidParameters)
	ErrInvalidToken      = fmt.Errorf("%w: invalid token", ErrNotFound)
	ErrInvalidBlobRef    = errors.New("invalid blob ref")
)

// Kind names are stable identifiers for API consumers.
const (
	KindInvalidParameters = "invalid_parameters"
	KindNotFound          = "not_found"
	KindExpired           = "expired"
	KindForbidden         = "forbidden"
	KindContentRejected   = "content_rejected"
	KindStorageFailure    = "storage_failure"
	KindInternal          = "internal"
)

// KindOf returns the stable kind name for err. Conflicts are retried
// internally and never surfaced, so they report as internal.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidParameters):
		return KindInvalidParameters
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrExpired):
		return KindExpired
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrContentRejected):
		return KindContentRejected
	case errors.Is(err, ErrStorageFailure):
		return KindStorageFailure
	default:
		return KindInternal
	}
}
