package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	minPrefixLen = 2
	maxPrefixLen = 3
	maxCodeYear  = 9999
)

// CodePrefix derives a 2-3 letter code prefix from a material or product name.
// A single word contributes its first two letters; several words contribute up to three initials.
func CodePrefix(seed string) (string, error) {
	words := strings.FieldsFunc(strings.ToUpper(seed), func(r rune) bool {
		return r < 'A' || r > 'Z'
	})
	var prefix string
	switch len(words) {
	case 0:
		return "", fmt.Errorf("%w: %q has no letters", ErrInvalidCodeSeed, seed)
	case 1:
		if len(words[0]) < minPrefixLen {
			return "", fmt.Errorf("%w: %q is too short", ErrInvalidCodeSeed, seed)
		}
		prefix = words[0][:minPrefixLen]
	default:
		for _, word := range words {
			if len(prefix) == maxPrefixLen {
				break
			}
			prefix += word[:1]
		}
	}
	return prefix, nil
}

// ValidatePrefix checks a caller-supplied prefix.
func ValidatePrefix(prefix string) error {
	if len(prefix) < minPrefixLen || len(prefix) > maxPrefixLen {
		return fmt.Errorf("%w: prefix %q must be 2-3 letters", ErrInvalidCodeSeed, prefix)
	}
	for _, r := range prefix {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("%w: prefix %q must be upper-case letters", ErrInvalidCodeSeed, prefix)
		}
	}
	return nil
}

// ValidateYear checks that year fits the code format.
func ValidateYear(year int) error {
	if year < 1 || year > maxCodeYear {
		return fmt.Errorf("%w: %d", ErrInvalidYear, year)
	}
	return nil
}

// FormatCode renders prefix, year and sequence as PREFIX-YYYY-NNN.
func FormatCode(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%04d-%03d", prefix, year, seq)
}

// ParseCode splits a code produced by FormatCode.
func ParseCode(code string) (prefix string, year int, seq int64, err error) {
	parts := strings.Split(strings.TrimSpace(code), "-")
	if len(parts) != 3 {
		return "", 0, 0, fmt.Errorf("%w: malformed code %q", ErrInvalidCodeSeed, code)
	}
	prefix = parts[0]
	if err := ValidatePrefix(prefix); err != nil {
		return "", 0, 0, err
	}
	year, err = strconv.Atoi(parts[1])
	if err != nil || ValidateYear(year) != nil {
		return "", 0, 0, fmt.Errorf("%w: malformed code year %q", ErrInvalidYear, code)
	}
	seq, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq < 1 {
		return "", 0, 0, fmt.Errorf("%w: malformed code sequence %q", ErrInvalidCodeSeed, code)
	}
	return prefix, year, seq, nil
}
