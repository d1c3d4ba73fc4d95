package domain

import (
	"errors"
	"time"
)

var (
	ErrEmptyEventSubject = errors.New("event subject cannot be empty")
	ErrInvalidEventTime  = errors.New("event end must be after start")
	ErrNoEventAttendees  = errors.New("event needs at least one attendee")
)

// EventPayload describes a calendar event to create on an organizer's
// calendar.
type EventPayload struct {
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Attendees     []string  `json:"attendees"`
	Location      string    `json:"location,omitempty"`
	OnlineMeeting bool      `json:"online_meeting"`
}

// Validate checks the payload before it is sent to a provider.
func (p EventPayload) Validate() error {
	if p.Subject == "" {
		return ErrEmptyEventSubject
	}
	if !p.End.After(p.Start) {
		return ErrInvalidEventTime
	}
	if len(p.Attendees) == 0 {
		return ErrNoEventAttendees
	}
	return nil
}

// EventResult is the provider's reference for a created event.
type EventResult struct {
	EventID string `json:"event_id"`
	ICalUID string `json:"ical_uid,omitempty"`
	JoinURL string `json:"join_url,omitempty"`
}
