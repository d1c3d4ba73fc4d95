package domain

import (
	"errors"
	"strings"
)

// ErrInvalidEmail indicates a malformed email address.
var ErrInvalidEmail = errors.New("invalid email address")

// EmailAddress identifies a person across bounded contexts. Candidates
// and interviewers have no accounts here; their email is their identity,
// so the value is normalized (trimmed, lowercased) at construction and
// two addresses compare equal exactly when the normalized strings do.
type EmailAddress struct {
	value string
}

// NewEmailAddress validates and normalizes an email address.
func NewEmailAddress(raw string) (EmailAddress, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	at := strings.Index(v, "@")
	if at <= 0 || at == len(v)-1 || strings.Count(v, "@") != 1 || strings.ContainsAny(v, " \t") {
		return EmailAddress{}, ErrInvalidEmail
	}
	if !strings.Contains(v[at+1:], ".") {
		return EmailAddress{}, ErrInvalidEmail
	}
	return EmailAddress{value: v}, nil
}

// NormalizeEmails lowercases, trims, and de-duplicates a list of raw
// addresses, dropping any that fail validation. Order of first
// occurrence is preserved.
func NormalizeEmails(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		addr, err := NewEmailAddress(r)
		if err != nil {
			continue
		}
		if _, ok := seen[addr.value]; ok {
			continue
		}
		seen[addr.value] = struct{}{}
		out = append(out, addr.value)
	}
	return out
}

// String returns the normalized address.
func (e EmailAddress) String() string {
	return e.value
}

// IsEmpty reports whether the address is unset.
func (e EmailAddress) IsEmpty() bool {
	return e.value == ""
}
