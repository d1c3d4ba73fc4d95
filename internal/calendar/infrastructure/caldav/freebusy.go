package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/looplinehq/loopline/internal/calendar/domain"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

// Common CalDAV server URLs
const (
	FastmailCalDAVURL  = "https://caldav.fastmail.com"
	NextcloudPathHint  = "/remote.php/dav/calendars/%s/personal/"
	defaultPathPattern = "/calendars/%s/"
)

// Config holds the shared-account credentials and path layout for a CalDAV
// server that exposes one calendar per interviewer.
type Config struct {
	BaseURL  string
	Username string
	Password string
	// PathTemplate builds each interviewer's calendar path; a %s verb is
	// replaced with the local part of their email address.
	PathTemplate string
	// WorkingHours applies to every interviewer read through this server;
	// CalDAV has no working-hours concept of its own.
	WorkingHours domain.WorkingHours
}

// FreeBusyReader reads blocking events from a CalDAV server. It only
// implements schedule reads; CalDAV backends never receive bookings.
type FreeBusyReader struct {
	baseURL      string
	username     string
	password     string
	pathTemplate string
	workingHours domain.WorkingHours
	logger       *slog.Logger
}

// NewFreeBusyReader creates a CalDAV free-busy reader.
func NewFreeBusyReader(cfg Config, logger *slog.Logger) *FreeBusyReader {
	if logger == nil {
		logger = slog.Default()
	}
	pathTemplate := cfg.PathTemplate
	if pathTemplate == "" {
		pathTemplate = defaultPathPattern
	}
	workingHours := cfg.WorkingHours
	if workingHours.Start == "" || workingHours.End == "" {
		workingHours = domain.DefaultWorkingHours()
	}
	return &FreeBusyReader{
		baseURL:      cfg.BaseURL,
		username:     cfg.Username,
		password:     cfg.Password,
		pathTemplate: pathTemplate,
		workingHours: workingHours,
		logger:       logger,
	}
}

// GetSchedule queries each interviewer's calendar for events overlapping the
// window. Cancelled and transparent events do not block scheduling.
func (r *FreeBusyReader) GetSchedule(ctx context.Context, emails []string, window sharedDomain.TimeInterval, granularityMinutes int) ([]domain.InterviewerSchedule, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	client, err := r.getClient()
	if err != nil {
		return nil, err
	}

	schedules := make([]domain.InterviewerSchedule, 0, len(emails))
	for _, email := range emails {
		busy, err := r.queryBusy(ctx, client, email, window)
		if err != nil {
			return nil, fmt.Errorf("caldav query for %s: %w", email, err)
		}
		schedules = append(schedules, domain.InterviewerSchedule{
			Email:        email,
			WorkingHours: r.workingHours,
			Busy:         busy,
		})
	}
	return schedules, nil
}

func (r *FreeBusyReader) getClient() (*caldav.Client, error) {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &basicAuthTransport{
			username: r.username,
			password: r.password,
			base:     http.DefaultTransport,
		},
	}

	client, err := caldav.NewClient(webdav.HTTPClientWithBasicAuth(httpClient, r.username, r.password), r.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	return client, nil
}

func (r *FreeBusyReader) queryBusy(ctx context.Context, client *caldav.Client, email string, window sharedDomain.TimeInterval) ([]domain.BusyInterval, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  "VCALENDAR",
			Props: []string{"VERSION"},
			Comps: []caldav.CalendarCompRequest{
				{
					Name:  "VEVENT",
					Props: []string{"UID", "DTSTART", "DTEND", "STATUS", "TRANSP", "CLASS"},
				},
			},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: window.Start,
					End:   window.End,
				},
			},
		},
	}

	objects, err := client.QueryCalendar(ctx, r.calendarPath(email), query)
	if err != nil {
		return nil, err
	}

	busy := make([]domain.BusyInterval, 0, len(objects))
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, child := range obj.Data.Children {
			if child.Name != ical.CompEvent {
				continue
			}
			interval, ok := r.toBusyInterval(email, child)
			if !ok {
				continue
			}
			busy = append(busy, interval)
		}
	}

	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	return busy, nil
}

func (r *FreeBusyReader) toBusyInterval(email string, child *ical.Component) (domain.BusyInterval, bool) {
	status := propValue(child, ical.PropStatus)
	if strings.EqualFold(status, "CANCELLED") {
		return domain.BusyInterval{}, false
	}
	if strings.EqualFold(propValue(child, ical.PropTransparency), "TRANSPARENT") {
		return domain.BusyInterval{}, false
	}

	event := ical.Event{Component: child}
	start, err := event.DateTimeStart(time.UTC)
	if err != nil {
		r.logger.Warn("caldav event has unparseable start", "email", email, "error", err)
		return domain.BusyInterval{}, false
	}
	end, err := event.DateTimeEnd(time.UTC)
	if err != nil {
		r.logger.Warn("caldav event has unparseable end", "email", email, "error", err)
		return domain.BusyInterval{}, false
	}
	if !end.After(start) {
		return domain.BusyInterval{}, false
	}

	busyStatus := domain.BusyStatusBusy
	if strings.EqualFold(status, "TENTATIVE") {
		busyStatus = domain.BusyStatusTentative
	}

	class := propValue(child, ical.PropClass)
	isPrivate := strings.EqualFold(class, "PRIVATE") || strings.EqualFold(class, "CONFIDENTIAL")

	return domain.BusyInterval{
		Start:     start.UTC(),
		End:       end.UTC(),
		Status:    busyStatus,
		IsPrivate: isPrivate,
	}, true
}

// calendarPath resolves an interviewer's calendar path from the template.
// Templates without a %s verb address a single shared calendar.
func (r *FreeBusyReader) calendarPath(email string) string {
	if !strings.Contains(r.pathTemplate, "%s") {
		return r.pathTemplate
	}
	local := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		local = email[:at]
	}
	return fmt.Sprintf(r.pathTemplate, strings.ToLower(local))
}

func propValue(child *ical.Component, name string) string {
	if props := child.Props[name]; len(props) > 0 {
		return props[0].Value
	}
	return ""
}

type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(req)
}
