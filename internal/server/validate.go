package server

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/mr-tron/base58"
)

const (
	addressMinLen = 32
	addressMaxLen = 44

	signatureMinLen = 87
	signatureMaxLen = 88
)

var timeRangePattern = regexp.MustCompile(`^(\d+)(d|h|m)$`)

// timeRange upper bounds, per unit; larger values are rejected.
const (
	maxMinutes = 1440
	maxHours   = 720
	maxDays    = 365
)

// ValidAddress reports whether s is a plausible base58 account or mint
// address. Enforced before any handler logic touches the upstream.
func ValidAddress(s string) bool {
	if len(s) < addressMinLen || len(s) > addressMaxLen {
		return false
	}
	_, err := base58.Decode(s)
	return err == nil
}

// ValidSignature reports whether s is a plausible base58 transaction
// signature.
func ValidSignature(s string) bool {
	if len(s) < signatureMinLen || len(s) > signatureMaxLen {
		return false
	}
	_, err := base58.Decode(s)
	return err == nil
}

// ParseTimeRange parses the "<n><unit>" grammar into a duration.
// Out-of-range values are an error, not a clamp.
func ParseTimeRange(s string) (time.Duration, error) {
	m := timeRangePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("time range %q does not match <n><d|h|m>", s)
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("time range %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("time range %q must be positive", s)
	}

	switch m[2] {
	case "m":
		if n > maxMinutes {
			return 0, fmt.Errorf("time range exceeds %d minutes", maxMinutes)
		}
		return time.Duration(n) * time.Minute, nil
	case "h":
		if n > maxHours {
			return 0, fmt.Errorf("time range exceeds %d hours", maxHours)
		}
		return time.Duration(n) * time.Hour, nil
	case "d":
		if n > maxDays {
			return 0, fmt.Errorf("time range exceeds %d days", maxDays)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("time range %q has unknown unit", s)
}

// parsePositiveInt parses a bounded positive integer with a default.
func parsePositiveInt(s string, def, maxVal int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%q is not a positive integer", s)
	}
	if n > maxVal {
		return 0, fmt.Errorf("%d exceeds maximum %d", n, maxVal)
	}
	return n, nil
}
