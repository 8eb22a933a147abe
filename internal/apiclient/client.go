// Package apiclient talks to the calendar HTTP API: paged event listing and
// VTIMEZONE lookup.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/libcalseal/attendee"
	"github.com/cyp0633/libcalseal/calcrypto"
	"github.com/cyp0633/libcalseal/storage"
	"github.com/cyp0633/libcalseal/vcal"
)

// codeOK is the API success code carried in every JSON body
const codeOK = 1000

// APIError is a non-success answer of the API
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (http %d): %s", e.Code, e.Status, e.Message)
}

// Client implements storage.EventSource and timezone.Source on top of the
// calendar API
type Client struct {
	client  *http.Client
	baseURL url.URL
	logger  *slog.Logger
}

// New creates a new API client. The http.Client is expected to carry the
// credentials, e.g. through a BearerTransport.
func New(client *http.Client, baseURL url.URL, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{client: client, baseURL: baseURL, logger: logger}, nil
}

// resolveURL resolves an already escaped path against the base URL
func (c *Client) resolveURL(path string, query url.Values) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	u := c.baseURL.ResolveReference(ref)
	u.RawQuery = query.Encode()
	return u, nil
}

// get performs a GET and decodes the JSON body into out
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u, err := c.resolveURL(path, query)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "url", u.String(), "error", err)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	var envelope struct {
		Code  int
		Error string
	}
	if err := json.Unmarshal(body, &envelope); err != nil && resp.StatusCode == http.StatusOK {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || envelope.Code != codeOK {
		c.logger.Debug("unexpected response",
			"status_code", resp.StatusCode,
			"code", envelope.Code,
			"error", envelope.Error)
		return &APIError{Status: resp.StatusCode, Code: envelope.Code, Message: envelope.Error}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// apiEvent is the JSON shape of one event in a listing
type apiEvent struct {
	ID                string
	CalendarID        string
	Author            string
	SharedKeyPacket   string
	CalendarKeyPacket string
	SharedEvents      []calcrypto.WireCard
	CalendarEvents    []calcrypto.WireCard
	PersonalEvents    []calcrypto.WireCard
	AttendeesEvents   []calcrypto.WireCard
	Attendees         []attendee.Clear
	ModifyTime        int64
}

func (e apiEvent) encrypted() storage.EncryptedEvent {
	out := storage.EncryptedEvent{
		ID:         e.ID,
		CalendarID: e.CalendarID,
		Author:     e.Author,
		Payload: calcrypto.Payload{
			SharedKeyPacket:      e.SharedKeyPacket,
			CalendarKeyPacket:    e.CalendarKeyPacket,
			SharedEventContent:   e.SharedEvents,
			CalendarEventContent: e.CalendarEvents,
			Attendees:            e.Attendees,
		},
		Modified: time.Unix(e.ModifyTime, 0).UTC(),
	}
	if len(e.PersonalEvents) > 0 {
		out.Payload.PersonalEventContent = &e.PersonalEvents[0]
	}
	if len(e.AttendeesEvents) > 0 {
		out.Payload.AttendeesEventContent = &e.AttendeesEvents[0]
	}
	return out
}

// ListEvents implements storage.EventSource
func (c *Client) ListEvents(ctx context.Context, calendarID, beginID string, pageSize int) ([]storage.EncryptedEvent, error) {
	query := url.Values{}
	query.Set("PageSize", strconv.Itoa(pageSize))
	if beginID != "" {
		query.Set("BeginID", beginID)
	}

	var resp struct {
		Events []apiEvent
	}
	if err := c.get(ctx, "calendar/v1/"+url.PathEscape(calendarID)+"/events", query, &resp); err != nil {
		return nil, fmt.Errorf("failed to list events of calendar %s: %w", calendarID, err)
	}

	events := make([]storage.EncryptedEvent, 0, len(resp.Events))
	for _, e := range resp.Events {
		events = append(events, e.encrypted())
	}
	c.logger.Debug("listed events",
		"calendar", calendarID,
		"begin_id", beginID,
		"count", len(events))
	return events, nil
}

// VTimezone implements timezone.Source
func (c *Client) VTimezone(ctx context.Context, tzid string) (*vcal.Component, error) {
	query := url.Values{}
	query.Add("Timezones[]", tzid)

	var resp struct {
		Timezones map[string]string
	}
	if err := c.get(ctx, "calendar/v1/vtimezones", query, &resp); err != nil {
		return nil, fmt.Errorf("failed to get timezone %s: %w", tzid, err)
	}
	text, ok := resp.Timezones[tzid]
	if !ok {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "timezone " + tzid + " not found"}
	}
	vtz, err := vcal.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timezone %s: %w", tzid, err)
	}
	if vtz.Name == ical.CompCalendar {
		if children := vtz.Components(ical.CompTimezone); len(children) > 0 {
			vtz = children[0]
		}
	}
	if vtz.Name != ical.CompTimezone {
		return nil, fmt.Errorf("timezone %s: expected %s, got %q", tzid, ical.CompTimezone, vtz.Name)
	}
	return vtz, nil
}
