package validator

import (
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"unicode/utf8"
)

// RequiredString validates that a string is not empty after trimming whitespace.
func RequiredString(field, value string) Rule {
	return newRule(field, "field is required", "required", func() bool {
		return strings.TrimSpace(value) != ""
	})
}

// MaxLen validates the length of value in runes.
func MaxLen(field, value string, max int) Rule {
	return newRule(field, fmt.Sprintf("must be at most %d characters long", max), "max_length", func() bool {
		return utf8.RuneCountInString(value) <= max
	}, "max", max)
}

// ValidEmail validates that a string is a single address with a dotted domain.
func ValidEmail(field, value string) Rule {
	return newRule(field, "must be a valid email address", "email", func() bool {
		addr, err := mail.ParseAddress(value)
		if err != nil || addr.Address != strings.TrimSpace(value) {
			return false
		}
		local, domain, ok := strings.Cut(addr.Address, "@")
		if !ok || local == "" {
			return false
		}
		for part := range strings.SplitSeq(domain, ".") {
			if part == "" {
				return false
			}
		}
		return strings.Contains(domain, ".")
	})
}

// OneOf validates that value is one of the allowed options.
func OneOf[T comparable](field string, value T, options ...T) Rule {
	return newRule(field, fmt.Sprintf("must be one of: %v", options), "one_of", func() bool {
		return slices.Contains(options, value)
	}, "options", options)
}
