package graph

// Graph reports working-hours time zones by their Windows display name.
// This maps the names we see in practice onto IANA identifiers; anything
// unmapped falls back to UTC at the call site.
var windowsToIANA = map[string]string{
	"Dateline Standard Time":         "Etc/GMT+12",
	"Hawaiian Standard Time":         "Pacific/Honolulu",
	"Alaskan Standard Time":          "America/Anchorage",
	"Pacific Standard Time":          "America/Los_Angeles",
	"US Mountain Standard Time":      "America/Phoenix",
	"Mountain Standard Time":         "America/Denver",
	"Central Standard Time":          "America/Chicago",
	"Eastern Standard Time":          "America/New_York",
	"US Eastern Standard Time":       "America/Indiana/Indianapolis",
	"Atlantic Standard Time":         "America/Halifax",
	"SA Eastern Standard Time":       "America/Cayenne",
	"E. South America Standard Time": "America/Sao_Paulo",
	"UTC":                            "UTC",
	"GMT Standard Time":              "Europe/London",
	"Greenwich Standard Time":        "Atlantic/Reykjavik",
	"W. Europe Standard Time":        "Europe/Berlin",
	"Central Europe Standard Time":   "Europe/Budapest",
	"Romance Standard Time":          "Europe/Paris",
	"Central European Standard Time": "Europe/Warsaw",
	"GTB Standard Time":              "Europe/Bucharest",
	"FLE Standard Time":              "Europe/Kiev",
	"Turkey Standard Time":           "Europe/Istanbul",
	"Israel Standard Time":           "Asia/Jerusalem",
	"Arabian Standard Time":          "Asia/Dubai",
	"Russian Standard Time":          "Europe/Moscow",
	"India Standard Time":            "Asia/Kolkata",
	"Pakistan Standard Time":         "Asia/Karachi",
	"SE Asia Standard Time":          "Asia/Bangkok",
	"China Standard Time":            "Asia/Shanghai",
	"Singapore Standard Time":        "Asia/Singapore",
	"Tokyo Standard Time":            "Asia/Tokyo",
	"Korea Standard Time":            "Asia/Seoul",
	"AUS Eastern Standard Time":      "Australia/Sydney",
	"W. Australia Standard Time":     "Australia/Perth",
	"New Zealand Standard Time":      "Pacific/Auckland",
}

// resolveTimeZone translates a Graph time-zone name to an IANA identifier.
// Graph occasionally returns IANA names directly, so those pass through.
func resolveTimeZone(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if iana, ok := windowsToIANA[name]; ok {
		return iana, true
	}
	// Names containing a slash are already IANA identifiers.
	for _, r := range name {
		if r == '/' {
			return name, true
		}
	}
	return "", false
}
