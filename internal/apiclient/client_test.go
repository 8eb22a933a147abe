package apiclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/libcalseal/attendee"
	"github.com/cyp0633/libcalseal/calcrypto"
	"github.com/cyp0633/libcalseal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base, err := url.Parse(server.URL + "/api/")
	require.NoError(t, err)
	httpClient := &http.Client{Transport: NewBearerTransport("session", "token", nil, testLogger())}
	client, err := New(httpClient, *base, testLogger())
	require.NoError(t, err)
	return client
}

const eventsBody = `{
	"Code": 1000,
	"Events": [{
		"ID": "ev1",
		"CalendarID": "cal/1",
		"Author": "m@mi6.org",
		"SharedKeyPacket": "c2tw",
		"CalendarKeyPacket": "Y2tw",
		"SharedEvents": [
			{"Type": 2, "Data": "shared", "Signature": "sig1", "Author": "m@mi6.org"},
			{"Type": 3, "Data": "c2VjcmV0", "Signature": "sig2", "Author": "m@mi6.org"}
		],
		"CalendarEvents": [{"Type": 1, "Data": "clear"}],
		"PersonalEvents": [{"Type": 2, "Data": "alarms", "Signature": "sig3", "Author": "james@mi6.org"}],
		"AttendeesEvents": [{"Type": 3, "Data": "YXR0", "Signature": "sig4", "Author": "m@mi6.org"}],
		"Attendees": [{"Token": "abc", "Permissions": 1, "Status": 3}],
		"ModifyTime": 1563530400
	}, {
		"ID": "ev2",
		"CalendarID": "cal/1",
		"SharedEvents": [],
		"ModifyTime": 0
	}]
}`

func TestListEvents(t *testing.T) {
	tests := []struct {
		name          string
		beginID       string
		serverHandler func(t *testing.T) http.HandlerFunc
		wantErr       bool
		validate      func(t *testing.T, events []storage.EncryptedEvent, err error)
	}{
		{
			name:    "first page",
			beginID: "",
			serverHandler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					assert.Equal(t, http.MethodGet, r.Method)
					assert.Equal(t, "/api/calendar/v1/cal%2F1/events", r.URL.EscapedPath())
					assert.Equal(t, "10", r.URL.Query().Get("PageSize"))
					assert.False(t, r.URL.Query().Has("BeginID"))
					assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
					assert.Equal(t, "session", r.Header.Get("x-pm-uid"))
					w.Header().Set("Content-Type", "application/json")
					_, _ = w.Write([]byte(eventsBody))
				}
			},
			validate: func(t *testing.T, events []storage.EncryptedEvent, err error) {
				require.Len(t, events, 2)
				ev := events[0]
				assert.Equal(t, "ev1", ev.ID)
				assert.Equal(t, "cal/1", ev.CalendarID)
				assert.Equal(t, "m@mi6.org", ev.Author)
				assert.Equal(t, time.Date(2019, 7, 19, 10, 0, 0, 0, time.UTC), ev.Modified)
				assert.Equal(t, "c2tw", ev.Payload.SharedKeyPacket)
				assert.Equal(t, "Y2tw", ev.Payload.CalendarKeyPacket)
				require.Len(t, ev.Payload.SharedEventContent, 2)
				assert.Equal(t, calcrypto.CardEncryptedAndSigned, ev.Payload.SharedEventContent[1].Type)
				assert.Equal(t, []calcrypto.WireCard{{Type: calcrypto.CardClearText, Data: "clear"}}, ev.Payload.CalendarEventContent)
				require.NotNil(t, ev.Payload.PersonalEventContent)
				assert.Equal(t, "james@mi6.org", ev.Payload.PersonalEventContent.Author)
				require.NotNil(t, ev.Payload.AttendeesEventContent)
				assert.Equal(t, "YXR0", ev.Payload.AttendeesEventContent.Data)
				assert.Equal(t, []attendee.Clear{{Token: "abc", Permissions: 1, Status: 3}}, ev.Payload.Attendees)

				assert.Equal(t, "ev2", events[1].ID)
				assert.Nil(t, events[1].Payload.PersonalEventContent)
				assert.Nil(t, events[1].Payload.AttendeesEventContent)
			},
		},
		{
			name:    "next page",
			beginID: "ev2",
			serverHandler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					assert.Equal(t, "ev2", r.URL.Query().Get("BeginID"))
					_, _ = w.Write([]byte(`{"Code":1000,"Events":[]}`))
				}
			},
			validate: func(t *testing.T, events []storage.EncryptedEvent, err error) {
				assert.Empty(t, events)
			},
		},
		{
			name: "api error",
			serverHandler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusUnprocessableEntity)
					_, _ = w.Write([]byte(`{"Code":2501,"Error":"Calendar does not exist"}`))
				}
			},
			wantErr: true,
			validate: func(t *testing.T, events []storage.EncryptedEvent, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
				assert.Equal(t, 2501, apiErr.Code)
				assert.Equal(t, "Calendar does not exist", apiErr.Message)
			},
		},
		{
			name: "error code with http 200",
			serverHandler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					_, _ = w.Write([]byte(`{"Code":9001,"Error":"Human verification required"}`))
				}
			},
			wantErr: true,
		},
		{
			name: "server error without body",
			serverHandler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusInternalServerError)
				}
			},
			wantErr: true,
		},
		{
			name: "malformed body",
			serverHandler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					_, _ = w.Write([]byte(`{"Code":1000,"Events":`))
				}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.serverHandler(t))
			events, err := client.ListEvents(context.Background(), "cal/1", tt.beginID, 10)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if tt.validate != nil {
				tt.validate(t, events, err)
			}
		})
	}
}

func TestListEvents_Cancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.ListEvents(ctx, "cal", "", 10)
	assert.ErrorIs(t, err, context.Canceled)
}

const zurich = "BEGIN:VTIMEZONE\r\n" +
	"TZID:Europe/Zurich\r\n" +
	"BEGIN:STANDARD\r\n" +
	"DTSTART:19701025T030000\r\n" +
	"TZOFFSETFROM:+0200\r\n" +
	"TZOFFSETTO:+0100\r\n" +
	"TZNAME:CET\r\n" +
	"END:STANDARD\r\n" +
	"END:VTIMEZONE"

func TestVTimezone(t *testing.T) {
	tests := []struct {
		name          string
		serverHandler http.HandlerFunc
		wantErr       bool
		wantNotFound  bool
	}{
		{
			name: "bare component",
			serverHandler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/calendar/v1/vtimezones", r.URL.Path)
				assert.Equal(t, []string{"Europe/Zurich"}, r.URL.Query()["Timezones[]"])
				_, _ = w.Write([]byte(`{"Code":1000,"Timezones":{"Europe/Zurich":"` + jsonEscape(zurich) + `"}}`))
			},
		},
		{
			name: "wrapped in a calendar",
			serverHandler: func(w http.ResponseWriter, r *http.Request) {
				wrapped := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n" + zurich + "\r\nEND:VCALENDAR"
				_, _ = w.Write([]byte(`{"Code":1000,"Timezones":{"Europe/Zurich":"` + jsonEscape(wrapped) + `"}}`))
			},
		},
		{
			name: "unknown zone",
			serverHandler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"Code":1000,"Timezones":{}}`))
			},
			wantErr:      true,
			wantNotFound: true,
		},
		{
			name: "not a timezone",
			serverHandler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"Code":1000,"Timezones":{"Europe/Zurich":"BEGIN:VEVENT\r\nUID:x\r\nEND:VEVENT"}}`))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.serverHandler)
			vtz, err := client.VTimezone(context.Background(), "Europe/Zurich")
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, tt.wantNotFound, storage.IsNotFound(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ical.CompTimezone, vtz.Name)
			assert.Equal(t, "Europe/Zurich", vtz.Get(ical.PropTimezoneID).Text)
			assert.Len(t, vtz.Components(ical.CompTimezoneStandard), 1)
		})
	}
}

func TestBearerTransport(t *testing.T) {
	tests := []struct {
		name      string
		transport *BearerTransport
		wantErr   bool
	}{
		{name: "missing uid", transport: &BearerTransport{Token: "t", Transport: http.DefaultTransport, Logger: testLogger()}, wantErr: true},
		{name: "missing token", transport: &BearerTransport{UID: "u", Transport: http.DefaultTransport, Logger: testLogger()}, wantErr: true},
		{name: "missing transport", transport: &BearerTransport{UID: "u", Token: "t", Logger: testLogger()}, wantErr: true},
		{name: "ok", transport: NewBearerTransport("u", "t", nil, nil)},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		assert.Equal(t, "u", r.Header.Get("x-pm-uid"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, server.URL, nil)
			require.NoError(t, err)
			resp, err := tt.transport.RoundTrip(req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, "ok", string(body), "body must stay readable after logging")
			assert.Empty(t, req.Header.Get("Authorization"), "original request must not be modified")
		})
	}
}

func TestNew_RequiresLogger(t *testing.T) {
	_, err := New(nil, url.URL{}, nil)
	assert.Error(t, err)
}

func jsonEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\r':
			out = append(out, '\\', 'r')
		case '\n':
			out = append(out, '\\', 'n')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
