package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/looplinehq/loopline/internal/calendar/application"
	"github.com/looplinehq/loopline/internal/calendar/domain"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

const tokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

// DefaultScopes for application-permission access to Graph.
var DefaultScopes = []string{"https://graph.microsoft.com/.default"}

// Config holds the app-registration credentials for Graph access.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// ServiceUser is the mailbox used for getSchedule lookups. Graph
	// requires the request to target a user; any licensed mailbox in the
	// tenant works.
	ServiceUser string
	BaseURL     string
}

// Client reads interviewer schedules and books events through the
// Microsoft Graph API using client-credential auth.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	serviceUser string
	logger      *slog.Logger
}

// NewClient builds a Graph client that fetches tokens with the
// client-credentials flow.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf(tokenURLFormat, cfg.TenantID),
		Scopes:       DefaultScopes,
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &oauthTransport{
				base:   http.DefaultTransport,
				source: creds.TokenSource(context.Background()),
			},
		},
		baseURL:     baseURL,
		serviceUser: cfg.ServiceUser,
		logger:      logger,
	}
}

// NewClientWithHTTPClient builds a Graph client around a caller-supplied
// HTTP client and base URL.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, serviceUser string, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		serviceUser: serviceUser,
		logger:      logger,
	}
}

// GetSchedule fetches busy intervals and working hours for the given
// mailboxes over the window. Items marked free or workingElsewhere are not
// returned; they do not block scheduling.
func (c *Client) GetSchedule(ctx context.Context, emails []string, window sharedDomain.TimeInterval, granularityMinutes int) ([]domain.InterviewerSchedule, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	if granularityMinutes <= 0 {
		granularityMinutes = 15
	}

	target := c.serviceUser
	if target == "" {
		target = emails[0]
	}

	reqBody := graphScheduleRequest{
		Schedules: emails,
		StartTime: graphDateTimeZone{
			DateTime: window.Start.UTC().Format("2006-01-02T15:04:05"),
			TimeZone: "UTC",
		},
		EndTime: graphDateTimeZone{
			DateTime: window.End.UTC().Format("2006-01-02T15:04:05"),
			TimeZone: "UTC",
		},
		AvailabilityViewInterval: granularityMinutes,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	scheduleURL := fmt.Sprintf("%s/users/%s/calendar/getSchedule", c.baseURL, url.PathEscape(target))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, scheduleURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "outlook.timezone=\"UTC\"")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.responseError("getSchedule", resp)
	}

	var payload struct {
		Value []graphScheduleInfo `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	byEmail := make(map[string]graphScheduleInfo, len(payload.Value))
	for _, info := range payload.Value {
		byEmail[strings.ToLower(info.ScheduleID)] = info
	}

	schedules := make([]domain.InterviewerSchedule, 0, len(emails))
	for _, email := range emails {
		info, ok := byEmail[strings.ToLower(email)]
		if !ok {
			c.logger.Warn("graph returned no schedule for mailbox", "email", email)
			schedules = append(schedules, domain.InterviewerSchedule{
				Email:        email,
				WorkingHours: domain.DefaultWorkingHours(),
			})
			continue
		}
		if info.Error != nil {
			c.logger.Warn("graph schedule lookup failed for mailbox",
				"email", email, "message", info.Error.Message)
			schedules = append(schedules, domain.InterviewerSchedule{
				Email:        email,
				WorkingHours: domain.DefaultWorkingHours(),
			})
			continue
		}
		schedules = append(schedules, c.toInterviewerSchedule(email, info))
	}
	return schedules, nil
}

// CreateEvent books an event on the organizer's calendar. When the payload
// asks for an online meeting a Teams link is requested.
func (c *Client) CreateEvent(ctx context.Context, organizer string, payload domain.EventPayload) (domain.EventResult, error) {
	if err := payload.Validate(); err != nil {
		return domain.EventResult{}, err
	}

	event := toGraphEvent(payload)
	body, err := json.Marshal(event)
	if err != nil {
		return domain.EventResult{}, err
	}

	eventsURL := fmt.Sprintf("%s/users/%s/events", c.baseURL, url.PathEscape(organizer))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, eventsURL, bytes.NewReader(body))
	if err != nil {
		return domain.EventResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.EventResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.EventResult{}, c.responseError("createEvent", resp)
	}

	var created struct {
		ID            string `json:"id"`
		ICalUID       string `json:"iCalUId"`
		WebLink       string `json:"webLink"`
		OnlineMeeting *struct {
			JoinURL string `json:"joinUrl"`
		} `json:"onlineMeeting"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return domain.EventResult{}, err
	}

	result := domain.EventResult{
		EventID: created.ID,
		ICalUID: created.ICalUID,
		JoinURL: created.WebLink,
	}
	if created.OnlineMeeting != nil && created.OnlineMeeting.JoinURL != "" {
		result.JoinURL = created.OnlineMeeting.JoinURL
	}
	return result, nil
}

// CancelEvent cancels an event, notifying attendees. Events Graph refuses
// to cancel are deleted instead. Missing events count as cancelled.
func (c *Client) CancelEvent(ctx context.Context, organizer, eventID, reason string) error {
	cancelURL := fmt.Sprintf("%s/users/%s/events/%s/cancel",
		c.baseURL, url.PathEscape(organizer), url.PathEscape(eventID))

	body, err := json.Marshal(map[string]string{"comment": reason})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cancelURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusMethodNotAllowed:
		// Cancel only works for meetings the mailbox organizes; fall back
		// to a hard delete.
		return c.deleteEvent(ctx, organizer, eventID)
	default:
		return c.responseError("cancelEvent", resp)
	}
}

func (c *Client) deleteEvent(ctx context.Context, organizer, eventID string) error {
	deleteURL := fmt.Sprintf("%s/users/%s/events/%s",
		c.baseURL, url.PathEscape(organizer), url.PathEscape(eventID))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return c.responseError("deleteEvent", resp)
}

func (c *Client) toInterviewerSchedule(email string, info graphScheduleInfo) domain.InterviewerSchedule {
	schedule := domain.InterviewerSchedule{
		Email:        email,
		WorkingHours: c.toWorkingHours(email, info.WorkingHours),
		Busy:         make([]domain.BusyInterval, 0, len(info.ScheduleItems)),
	}

	for _, item := range info.ScheduleItems {
		status, blocking := mapScheduleStatus(item.Status)
		if !blocking {
			continue
		}
		start, err := parseGraphTime(item.Start.DateTime)
		if err != nil {
			c.logger.Warn("graph schedule item has unparseable start", "email", email, "value", item.Start.DateTime)
			continue
		}
		end, err := parseGraphTime(item.End.DateTime)
		if err != nil {
			c.logger.Warn("graph schedule item has unparseable end", "email", email, "value", item.End.DateTime)
			continue
		}
		if !end.After(start) {
			continue
		}
		schedule.Busy = append(schedule.Busy, domain.BusyInterval{
			Start:     start,
			End:       end,
			Status:    status,
			IsPrivate: item.IsPrivate,
		})
	}
	return schedule
}

func (c *Client) toWorkingHours(email string, wh *graphWorkingHours) domain.WorkingHours {
	if wh == nil || wh.StartTime == "" || wh.EndTime == "" {
		return domain.DefaultWorkingHours()
	}

	tz := "UTC"
	if wh.TimeZone != nil {
		if iana, ok := resolveTimeZone(wh.TimeZone.Name); ok {
			tz = iana
		} else if wh.TimeZone.Name != "" {
			c.logger.Warn("graph working hours use unmapped time zone, assuming UTC",
				"email", email, "time_zone", wh.TimeZone.Name)
		}
	}

	days := make([]time.Weekday, 0, len(wh.DaysOfWeek))
	for _, name := range wh.DaysOfWeek {
		if day, ok := parseWeekday(name); ok {
			days = append(days, day)
		}
	}

	hours, err := domain.NewWorkingHours(clockOf(wh.StartTime), clockOf(wh.EndTime), tz, days)
	if err != nil {
		c.logger.Warn("graph working hours invalid, using defaults",
			"email", email, "start", wh.StartTime, "end", wh.EndTime, "error", err)
		return domain.DefaultWorkingHours()
	}
	return hours
}

func (c *Client) responseError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &application.ProviderError{
		Provider:   "graph",
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Message:    string(body),
	}
}

// Microsoft Graph API wire types

type graphScheduleRequest struct {
	Schedules                []string          `json:"schedules"`
	StartTime                graphDateTimeZone `json:"startTime"`
	EndTime                  graphDateTimeZone `json:"endTime"`
	AvailabilityViewInterval int               `json:"availabilityViewInterval"`
}

type graphDateTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphScheduleInfo struct {
	ScheduleID    string              `json:"scheduleId"`
	ScheduleItems []graphScheduleItem `json:"scheduleItems"`
	WorkingHours  *graphWorkingHours  `json:"workingHours"`
	Error         *graphScheduleError `json:"error"`
}

type graphScheduleItem struct {
	Status    string            `json:"status"`
	Start     graphDateTimeZone `json:"start"`
	End       graphDateTimeZone `json:"end"`
	Subject   string            `json:"subject,omitempty"`
	IsPrivate bool              `json:"isPrivate,omitempty"`
}

type graphWorkingHours struct {
	DaysOfWeek []string       `json:"daysOfWeek"`
	StartTime  string         `json:"startTime"`
	EndTime    string         `json:"endTime"`
	TimeZone   *graphTimeZone `json:"timeZone"`
}

type graphTimeZone struct {
	Name string `json:"name"`
}

type graphScheduleError struct {
	Message      string `json:"message"`
	ResponseCode string `json:"responseCode"`
}

type graphEvent struct {
	Subject               string            `json:"subject"`
	Body                  graphBody         `json:"body"`
	Start                 graphDateTimeZone `json:"start"`
	End                   graphDateTimeZone `json:"end"`
	Location              *graphLocation    `json:"location,omitempty"`
	Attendees             []graphAttendee   `json:"attendees"`
	IsOnlineMeeting       bool              `json:"isOnlineMeeting,omitempty"`
	OnlineMeetingProvider string            `json:"onlineMeetingProvider,omitempty"`
	ShowAs                string            `json:"showAs,omitempty"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphLocation struct {
	DisplayName string `json:"displayName,omitempty"`
}

type graphAttendee struct {
	Type         string            `json:"type,omitempty"`
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}

func toGraphEvent(payload domain.EventPayload) graphEvent {
	event := graphEvent{
		Subject: payload.Subject,
		Body: graphBody{
			ContentType: "text",
			Content:     payload.Body,
		},
		Start: graphDateTimeZone{
			DateTime: payload.Start.UTC().Format("2006-01-02T15:04:05"),
			TimeZone: "UTC",
		},
		End: graphDateTimeZone{
			DateTime: payload.End.UTC().Format("2006-01-02T15:04:05"),
			TimeZone: "UTC",
		},
		Attendees: make([]graphAttendee, 0, len(payload.Attendees)),
		ShowAs:    "busy",
	}
	if payload.Location != "" {
		event.Location = &graphLocation{DisplayName: payload.Location}
	}
	if payload.OnlineMeeting {
		event.IsOnlineMeeting = true
		event.OnlineMeetingProvider = "teamsForBusiness"
	}
	for _, attendee := range payload.Attendees {
		event.Attendees = append(event.Attendees, graphAttendee{
			Type:         "required",
			EmailAddress: graphEmailAddress{Address: attendee},
		})
	}
	return event
}

func parseGraphTime(value string) (time.Time, error) {
	t, err := time.Parse("2006-01-02T15:04:05.0000000", value)
	if err != nil {
		// Try without fractional seconds
		t, err = time.Parse("2006-01-02T15:04:05", value)
		if err != nil {
			return time.Time{}, err
		}
	}
	return t.UTC(), nil
}

func mapScheduleStatus(status string) (domain.BusyStatus, bool) {
	switch status {
	case "busy":
		return domain.BusyStatusBusy, true
	case "tentative":
		return domain.BusyStatusTentative, true
	case "oof":
		return domain.BusyStatusOOF, true
	default:
		// free, workingElsewhere, unknown
		return "", false
	}
}

func parseWeekday(name string) (time.Weekday, bool) {
	switch strings.ToLower(name) {
	case "sunday":
		return time.Sunday, true
	case "monday":
		return time.Monday, true
	case "tuesday":
		return time.Tuesday, true
	case "wednesday":
		return time.Wednesday, true
	case "thursday":
		return time.Thursday, true
	case "friday":
		return time.Friday, true
	case "saturday":
		return time.Saturday, true
	default:
		return 0, false
	}
}

// clockOf trims Graph's "08:00:00.0000000" form down to "HH:MM".
func clockOf(value string) string {
	if len(value) >= 5 {
		return value[:5]
	}
	return value
}

type oauthTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	return t.base.RoundTrip(req)
}
