package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a byte count that decodes from plain integers or IEC strings.
type ByteSize int64

// ParseSize converts a human-friendly size string into a byte count.
// Accepts plain integers (bytes) or suffixes KiB/MiB/GiB and K/M/G
// (case-insensitive). Examples: "131072", "128KiB", "1MiB", "2G".
func ParseSize(s string) (int64, error) {
	orig := s
	upper := strings.ToUpper(strings.TrimSpace(s))
	if upper == "" {
		return 0, fmt.Errorf("empty size string")
	}
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{
		{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30},
		{"K", 1 << 10}, {"M", 1 << 20}, {"G", 1 << 30},
	} {
		if strings.HasSuffix(upper, u.suffix) {
			upper = strings.TrimSpace(strings.TrimSuffix(upper, u.suffix))
			mult = u.mult
			if upper == "" {
				return 0, fmt.Errorf("parse size %q: missing number", orig)
			}
			break
		}
	}
	n, err := strconv.ParseInt(upper, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", orig, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("parse size %q: negative not allowed", orig)
	}
	if n > (1<<63-1)/mult {
		return 0, fmt.Errorf("parse size %q: overflow", orig)
	}
	return n * mult, nil
}
