package domain

import "fmt"

// ProviderType names a calendar backend wiring.
type ProviderType string

// Graph serves both schedule reads and event writes. CalDAV is
// free-busy only, so bookings against it fail until a writing provider
// is configured.
const (
	ProviderGraph  ProviderType = "graph"
	ProviderCalDAV ProviderType = "caldav"
)

// ParseProviderType maps a configuration string onto a known provider.
func ParseProviderType(s string) (ProviderType, error) {
	switch p := ProviderType(s); p {
	case ProviderGraph, ProviderCalDAV:
		return p, nil
	}
	return "", fmt.Errorf("unknown calendar provider %q", s)
}

func (p ProviderType) String() string { return string(p) }

// SupportsBooking reports whether the provider can create and cancel
// events rather than only read schedules.
func (p ProviderType) SupportsBooking() bool {
	return p == ProviderGraph
}
