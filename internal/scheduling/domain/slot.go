package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

// Slot is one concrete bookable window for a set of interviewers. Its ID
// is a pure function of the bounds and the email set, so the same slot
// derived on two different requests carries the same identity and a
// client's choice can be re-validated server-side later.
type Slot struct {
	ID                string    `json:"id"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	InterviewerEmails []string  `json:"interviewer_emails"`
}

// NewSlot builds a slot with its deterministic identifier. Emails are
// normalized before hashing, so caller-supplied order and casing do not
// change the identity.
func NewSlot(start, end time.Time, emails []string) Slot {
	normalized := sharedDomain.NormalizeEmails(emails)
	return Slot{
		ID:                GenerateSlotID(start, end, normalized),
		Start:             start.UTC(),
		End:               end.UTC(),
		InterviewerEmails: normalized,
	}
}

// Interval returns the slot bounds as a half-open interval.
func (s Slot) Interval() sharedDomain.TimeInterval {
	return sharedDomain.TimeInterval{Start: s.Start, End: s.End}
}

// GenerateSlotID hashes "start|end|sorted-lowercased-emails" and truncates
// to 16 hex characters. Any change to a bound or to the email set produces
// a different id; email order and casing do not.
func GenerateSlotID(start, end time.Time, emails []string) string {
	sorted := make([]string, 0, len(emails))
	for _, email := range emails {
		sorted = append(sorted, strings.ToLower(strings.TrimSpace(email)))
	}
	sort.Strings(sorted)

	raw := start.UTC().Format(time.RFC3339) + "|" +
		end.UTC().Format(time.RFC3339) + "|" +
		strings.Join(sorted, ",")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}
