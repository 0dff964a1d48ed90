// Package validation holds the pure input checks run before anything is
// sent to the wallet or the chain.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MinNameLength = 2
	MaxNameLength = 50
)

// NameError describes why a name was rejected.
type NameError string

const (
	NameRequired     NameError = "Name is required"
	NameTooShort     NameError = "Name must be at least 2 characters"
	NameTooLong      NameError = "Name must be less than 50 characters"
	NameInvalidChars NameError = "Name contains invalid characters"
)

func (e NameError) Error() string {
	return string(e)
}

// ErrInvalidContentHash is the message shown for a malformed content hash.
const ErrInvalidContentHash = "Invalid IPFS hash format."

var (
	nameRegex        = regexp.MustCompile(`^[a-zA-Z0-9\s\-']+$`)
	contentHashRegex = regexp.MustCompile(`(?i)^Qm[1-9A-HJ-NP-Za-km-z]{44}$`)
	addressRegex     = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

// Result is the outcome of a field check. Error is nil when Valid.
type Result struct {
	Valid bool
	Error error
}

// ValidateName checks a display name. Lengths are counted in characters
// after trimming surrounding whitespace.
func ValidateName(name string) Result {
	if name == "" {
		return Result{Error: NameRequired}
	}

	trimmed := strings.TrimSpace(name)
	switch n := utf8.RuneCountInString(trimmed); {
	case n < MinNameLength:
		return Result{Error: NameTooShort}
	case n > MaxNameLength:
		return Result{Error: NameTooLong}
	}

	if !nameRegex.MatchString(trimmed) {
		return Result{Error: NameInvalidChars}
	}

	return Result{Valid: true}
}

// ValidateContentHash reports whether hash looks like a CIDv0 content
// address: "Qm" followed by 44 base58 characters, compared case-insensitively.
func ValidateContentHash(hash string) bool {
	return contentHashRegex.MatchString(strings.TrimSpace(hash))
}

// IsValidAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsValidAddress(s string) bool {
	return addressRegex.MatchString(s)
}

// Sanitize strips angle brackets and surrounding whitespace.
// Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(input string) string {
	stripped := strings.Map(func(r rune) rune {
		if r == '<' || r == '>' {
			return -1
		}
		return r
	}, input)
	return strings.TrimSpace(stripped)
}
