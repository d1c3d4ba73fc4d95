package domain

import (
	"errors"
	"strconv"
	"strings"
	"time"

	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

var (
	ErrInvalidClockTime    = errors.New("clock time must be HH:MM")
	ErrInvalidWorkingHours = errors.New("working hours end must be after start")
	ErrUnknownTimeZone     = errors.New("unknown time zone")
)

// BusyStatus classifies a busy interval reported by a provider.
type BusyStatus string

const (
	BusyStatusBusy      BusyStatus = "busy"
	BusyStatusTentative BusyStatus = "tentative"
	BusyStatusOOF       BusyStatus = "oof"
)

// BusyInterval is one blocking span on an interviewer's calendar.
// Providers only report intervals that block scheduling; free and
// working-elsewhere items never appear here.
type BusyInterval struct {
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Status    BusyStatus `json:"status"`
	IsPrivate bool       `json:"is_private"`
}

// Interval returns the busy span as a half-open interval.
func (b BusyInterval) Interval() sharedDomain.TimeInterval {
	return sharedDomain.TimeInterval{Start: b.Start, End: b.End}
}

// WorkingHours is an interviewer's recurring working window, expressed
// in their local time zone.
type WorkingHours struct {
	Start      string         `json:"start"`
	End        string         `json:"end"`
	TimeZone   string         `json:"time_zone"`
	DaysOfWeek []time.Weekday `json:"days_of_week"`
}

// NewWorkingHours validates and builds a working window. Start and End
// use the 24h "HH:MM" form; End may be "24:00".
func NewWorkingHours(start, end, timeZone string, days []time.Weekday) (WorkingHours, error) {
	startMin, err := minutesOfDay(start)
	if err != nil {
		return WorkingHours{}, err
	}
	endMin, err := minutesOfDay(end)
	if err != nil {
		return WorkingHours{}, err
	}
	if endMin <= startMin {
		return WorkingHours{}, ErrInvalidWorkingHours
	}
	if _, err := time.LoadLocation(timeZone); err != nil {
		return WorkingHours{}, ErrUnknownTimeZone
	}

	if len(days) == 0 {
		days = weekdays()
	}

	return WorkingHours{
		Start:      start,
		End:        end,
		TimeZone:   timeZone,
		DaysOfWeek: days,
	}, nil
}

// DefaultWorkingHours is 09:00-17:00 UTC, Monday through Friday.
func DefaultWorkingHours() WorkingHours {
	return WorkingHours{
		Start:      "09:00",
		End:        "17:00",
		TimeZone:   "UTC",
		DaysOfWeek: weekdays(),
	}
}

// Location resolves the working-hours time zone.
func (w WorkingHours) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(w.TimeZone)
	if err != nil {
		return nil, ErrUnknownTimeZone
	}
	return loc, nil
}

// Covers reports whether the interval lies inside the working window on
// an allowed weekday, evaluated in the given location. Intervals that
// cross local midnight are never covered.
func (w WorkingHours) Covers(interval sharedDomain.TimeInterval, loc *time.Location) bool {
	startMin, err := minutesOfDay(w.Start)
	if err != nil {
		return false
	}
	endMin, err := minutesOfDay(w.End)
	if err != nil {
		return false
	}

	localStart := interval.Start.In(loc)
	if !w.allowsDay(localStart.Weekday()) {
		return false
	}

	fromMidnight := localStart.Hour()*60 + localStart.Minute()
	durationMin := int(interval.Duration() / time.Minute)
	return fromMidnight >= startMin && fromMidnight+durationMin <= endMin
}

// CoversInterval is Covers with the zone resolved from TimeZone.
func (w WorkingHours) CoversInterval(interval sharedDomain.TimeInterval) (bool, error) {
	loc, err := w.Location()
	if err != nil {
		return false, err
	}
	return w.Covers(interval, loc), nil
}

func (w WorkingHours) allowsDay(day time.Weekday) bool {
	for _, d := range w.DaysOfWeek {
		if d == day {
			return true
		}
	}
	return false
}

// InterviewerSchedule is one interviewer's calendar view over the
// requested window: their working hours and blocking busy intervals.
type InterviewerSchedule struct {
	Email        string         `json:"email"`
	WorkingHours WorkingHours   `json:"working_hours"`
	Busy         []BusyInterval `json:"busy"`
}

// IsBusyDuring reports whether any busy interval overlaps the span.
func (s InterviewerSchedule) IsBusyDuring(interval sharedDomain.TimeInterval) bool {
	for _, busy := range s.Busy {
		if busy.Interval().Overlaps(interval) {
			return true
		}
	}
	return false
}

func minutesOfDay(clock string) (int, error) {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) != 2 {
		return 0, ErrInvalidClockTime
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 24 {
		return 0, ErrInvalidClockTime
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, ErrInvalidClockTime
	}
	total := hours*60 + minutes
	if total > 24*60 {
		return 0, ErrInvalidClockTime
	}
	return total, nil
}

func weekdays() []time.Weekday {
	return []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
	}
}
