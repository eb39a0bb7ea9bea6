package domain

import (
	"errors"
	"strings"
	"time"
)

// TTLOption is a preset time-to-live offered to the presentation layer.
// Label is the normalized string the option was parsed from.
type TTLOption struct {
	Duration time.Duration
	Label    string
}

// NewTTLOption parses a Go duration label such as "5m" or "1h30m". Units
// larger than hours (d, w, M, y) are rejected rather than guessed.
func NewTTLOption(label string) (TTLOption, error) {
	s := strings.TrimSpace(label)
	if s == "" {
		return TTLOption{}, errors.New("empty TTL label")
	}
	if strings.ContainsAny(s, "dwMy") {
		return TTLOption{}, errors.New("unsupported TTL unit in " + s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return TTLOption{}, err
	}
	if d <= 0 {
		return TTLOption{}, ErrTTLInvalid
	}
	return TTLOption{Duration: d, Label: s}, nil
}

// ValidateTTL checks that ttl is positive and within [min, max]. A zero bound
// disables that side of the check.
// Returns ErrTTLInvalid on any violation.
func ValidateTTL(ttl, minTTL, maxTTL time.Duration) error {
	if ttl <= 0 {
		return ErrTTLInvalid
	}
	if minTTL > 0 && ttl < minTTL {
		return ErrTTLInvalid
	}
	if maxTTL > 0 && ttl > maxTTL {
		return ErrTTLInvalid
	}
	return nil
}
