package bluetooth

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// sigBaseSuffix is the Bluetooth SIG base UUID tail (0000xxxx-0000-1000-8000-00805f9b34fb).
const sigBaseSuffix = "00001000800000805f9b34fb"

// UUID is a normalized Bluetooth UUID: lowercase hex, no dashes.
// UUIDs derived from the SIG base are kept in their 16-bit short form ("180d").
type UUID string

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// It strips braces and a 0x prefix and shortens SIG base UUIDs to 16 bits.
// Returns an empty string if the input is not a valid 16, 32 or 128-bit UUID.
func NormalizeUUID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.ToLower(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	switch len(s) {
	case 4, 8:
	case 32:
		if strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
			s = s[4:8]
		}
	default:
		return ""
	}

	for _, r := range s {
		if !isHex(r) {
			return ""
		}
	}
	return s
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}

// ParseUUID validates and normalizes s.
func ParseUUID(s string) (UUID, error) {
	n := NormalizeUUID(s)
	if n == "" {
		return "", fmt.Errorf("invalid UUID %q", s)
	}
	return UUID(n), nil
}

// MustParseUUID is like ParseUUID but panics on invalid input.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ParseUUIDs normalizes every entry, failing on the first invalid one.
func ParseUUIDs(ss ...string) ([]UUID, error) {
	result := make([]UUID, 0, len(ss))
	for i, s := range ss {
		if s == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		u, err := ParseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("UUID at index %d: %w", i, err)
		}
		result = append(result, u)
	}
	return result, nil
}

func (u UUID) String() string {
	return string(u)
}

// IsShort reports whether u is a 16-bit SIG UUID.
func (u UUID) IsShort() bool {
	return len(u) == 4
}

// Canonical returns the dashed 128-bit form, e.g. "0000180d-0000-1000-8000-00805f9b34fb".
func (u UUID) Canonical() string {
	s := string(u)
	switch len(s) {
	case 4:
		s = "0000" + s + sigBaseSuffix
	case 8:
		s = s + sigBaseSuffix
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return string(u)
	}
	return parsed.String()
}

// Equal compares two UUIDs after normalization.
func (u UUID) Equal(other UUID) bool {
	return NormalizeUUID(string(u)) == NormalizeUUID(string(other))
}

// ContainsUUID reports whether list holds u.
func ContainsUUID(list []UUID, u UUID) bool {
	for _, v := range list {
		if v.Equal(u) {
			return true
		}
	}
	return false
}

// ShortenUUID returns a truncated form for display: the first eight characters of long UUIDs.
func ShortenUUID(u UUID) string {
	if len(u) > 8 {
		return string(u[:8])
	}
	return string(u)
}
