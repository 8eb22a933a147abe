package invite

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/libcalseal/vcal"
)

var fixedNow = time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)

func lines(l ...string) string {
	return strings.Join(l, "\r\n") + "\r\n"
}

func event(t *testing.T, l ...string) *vcal.Component {
	t.Helper()
	all := append([]string{"BEGIN:VEVENT"}, l...)
	all = append(all, "END:VEVENT")
	ev, err := vcal.ParseEvent(lines(all...))
	require.NoError(t, err)
	return ev
}

func triggers(ev *vcal.Component) []string {
	var out []string
	for _, a := range ev.Alarms() {
		out = append(out, a.Get(ical.PropTrigger).Duration.String())
	}
	return out
}

func TestImportCalendar(t *testing.T) {
	longSummary := strings.Repeat("é", 300)
	doc := lines(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Test//EN",
		"X-WR-TIMEZONE:Europe/Zurich",
		"BEGIN:VTIMEZONE",
		"TZID:Europe/Zurich",
		"BEGIN:STANDARD",
		"DTSTART:19701025T030000",
		"TZOFFSETFROM:+0200",
		"TZOFFSETTO:+0100",
		"END:STANDARD",
		"END:VTIMEZONE",
		"BEGIN:VEVENT",
		"UID:good@example.com",
		"DTSTAMP:20190701T000000Z",
		"DTSTART:20190719T120000",
		"DURATION:PT1H",
		"SUMMARY:"+longSummary,
		"RRULE:FREQ=DAILY;COUNT=3",
		"EXDATE:20190720T120000",
		"BEGIN:VALARM",
		"ACTION:AUDIO",
		"TRIGGER:-PT15M",
		"END:VALARM",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"TRIGGER:-PT15M",
		"END:VALARM",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"TRIGGER;VALUE=DATE-TIME:20190719T093000Z",
		"END:VALARM",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"TRIGGER;RELATED=END:-PT5M",
		"END:VALARM",
		"END:VEVENT",
		"BEGIN:VTODO",
		"UID:todo@example.com",
		"END:VTODO",
		"BEGIN:VEVENT",
		"UID:hourly@example.com",
		"DTSTART:20190719T120000Z",
		"RRULE:FREQ=DAILY;BYHOUR=9,10",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"SUMMARY:no start",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	result, err := ImportCalendar(doc, ImportOptions{Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)

	require.Len(t, result.Errors, 3)
	assert.Equal(t, KindUnsupportedComponent, result.Errors[0].Kind)
	assert.Equal(t, "todo@example.com", result.Errors[0].ComponentID)
	assert.Equal(t, KindInvalidRecurrence, result.Errors[1].Kind)
	assert.Equal(t, "hourly@example.com", result.Errors[1].ComponentID)
	assert.Equal(t, KindMissingStart, result.Errors[2].Kind)
	assert.Equal(t, "VEVENT #5", result.Errors[2].ComponentID)

	ev := result.Events[0]
	assert.Equal(t, "Europe/Zurich", ev.DTStart().TZID())
	require.NotNil(t, ev.DTEnd())
	assert.Equal(t, vcal.NewDateTime(2019, 7, 19, 13, 0, 0, false), ev.DTEnd().DateTime)
	assert.Equal(t, "Europe/Zurich", ev.DTEnd().TZID())
	assert.False(t, ev.Has(ical.PropDuration))
	assert.Equal(t, vcal.NewDateTime(2019, 7, 1, 0, 0, 0, true), ev.Get(ical.PropDateTimeStamp).DateTime)

	assert.Equal(t, MaxSummaryLength, utf8.RuneCountInString(ev.Summary()))
	assert.True(t, strings.HasPrefix(ev.Summary(), "é"))

	require.Len(t, ev.ExDates(), 1)
	assert.Equal(t, "Europe/Zurich", ev.ExDates()[0].TZID())

	assert.Equal(t, []string{"-PT15M", "-PT30M", "PT55M"}, triggers(ev))
	for _, a := range ev.Alarms() {
		assert.Equal(t, "DISPLAY", a.Get(ical.PropAction).Text)
	}
}

func TestImportCalendar_Fatal(t *testing.T) {
	_, err := ImportCalendar("", ImportOptions{})
	assert.Error(t, err)

	_, err = ImportCalendar(lines("BEGIN:VCALENDAR", "CALSCALE:JULIAN", "END:VCALENDAR"), ImportOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedCalendar)
}

func TestImportCalendar_DefaultTimezone(t *testing.T) {
	doc := lines("BEGIN:VCALENDAR", "BEGIN:VEVENT", "UID:1", "DTSTART:20190719T120000", "END:VEVENT", "END:VCALENDAR")

	result, err := ImportCalendar(doc, ImportOptions{})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, KindFloatingTime, result.Errors[0].Kind)

	result, err = ImportCalendar(doc, ImportOptions{DefaultTZID: "America/New_York"})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "America/New_York", result.Events[0].DTStart().TZID())
}

func TestImportEvent_Rejections(t *testing.T) {
	attendees := func(n int) []string {
		out := []string{"UID:1", "DTSTART:20190719T120000Z"}
		for i := range n {
			out = append(out, fmt.Sprintf("ATTENDEE:mailto:a%d@example.com", i))
		}
		return out
	}

	tests := []struct {
		name  string
		lines []string
		kind  ImportErrorKind
	}{
		{"floating without default", []string{"UID:1", "DTSTART:20190719T120000"}, KindFloatingTime},
		{"unknown timezone", []string{"UID:1", "DTSTART;TZID=Mars/Olympus:20190719T120000"}, KindUnknownTimezone},
		{"before 1970", []string{"UID:1", "DTSTART:19691231T120000Z"}, KindOutOfRange},
		{"after 2037", []string{"UID:1", "DTSTART;VALUE=DATE:20380101"}, KindOutOfRange},
		{"all-day end not after start", []string{"UID:1", "DTSTART;VALUE=DATE:20190719", "DTEND;VALUE=DATE:20190719"}, KindInvalidEnd},
		{"all-day end truncated to start", []string{"UID:1", "DTSTART;VALUE=DATE:20190719", "DTEND:20190719T230000Z"}, KindInvalidEnd},
		{"end before start", []string{"UID:1", "DTSTART:20190719T120000Z", "DTEND:20190719T110000Z"}, KindInvalidEnd},
		{"date end on timed event", []string{"UID:1", "DTSTART:20190719T120000Z", "DTEND;VALUE=DATE:20190720"}, KindInvalidEnd},
		{"hourly", []string{"UID:1", "DTSTART:20190719T120000Z", "RRULE:FREQ=HOURLY"}, KindInvalidRecurrence},
		{"count over cap", []string{"UID:1", "DTSTART:20190719T120000Z", "RRULE:FREQ=DAILY;COUNT=501"}, KindInvalidRecurrence},
		{"interval over cap", []string{"UID:1", "DTSTART:20190719T120000Z", "RRULE:FREQ=YEARLY;INTERVAL=101"}, KindInvalidRecurrence},
		{"byweekno", []string{"UID:1", "DTSTART:20190719T120000Z", "RRULE:FREQ=YEARLY;BYWEEKNO=1"}, KindInvalidRecurrence},
		{"malformed rrule", []string{"UID:1", "DTSTART:20190719T120000Z", "RRULE:FREQ=SOMETIMES"}, KindInvalidRecurrence},
		{"until before start", []string{"UID:1", "DTSTART:20190719T120000Z", "RRULE:FREQ=DAILY;UNTIL=20190718T000000Z"}, KindInvalidRecurrence},
		{"exdate shape", []string{"UID:1", "DTSTART:20190719T120000Z", "RRULE:FREQ=DAILY", "EXDATE;VALUE=DATE:20190720"}, KindInvalidExDate},
		{"too many attendees", attendees(MaxAttendees + 1), KindTooManyAttendees},
		{"duplicate attendee", []string{"UID:1", "DTSTART:20190719T120000Z", "ATTENDEE:mailto:james@mi6.org", "ATTENDEE:mailto:J.a.m.e.s@mi6.org"}, KindDuplicateAttendee},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := vcal.ParseEvent(lines(append(append([]string{"BEGIN:VEVENT"}, tt.lines...), "END:VEVENT")...))
			require.NotNil(t, ev)
			_, err = ImportEvent(ev, ImportOptions{})
			var ierr *ImportError
			require.True(t, errors.As(err, &ierr), "expected *ImportError, got %v", err)
			assert.Equal(t, tt.kind, ierr.Kind)
			assert.Equal(t, "1", ierr.ComponentID)
		})
	}

	_, err := ImportEvent(event(t, attendees(MaxAttendees)...), ImportOptions{})
	assert.NoError(t, err)
}

func TestImportEvent_UID(t *testing.T) {
	out, err := ImportEvent(event(t, "DTSTART:20190719T120000Z"), ImportOptions{})
	require.NoError(t, err)
	_, err = uuid.Parse(out.UID())
	assert.NoError(t, err)

	long := strings.Repeat("x", MaxUIDLength+1)
	out, err = ImportEvent(event(t, "UID:"+long, "DTSTART:20190719T120000Z"), ImportOptions{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.UID(), "sha1-uid-"))
	assert.Len(t, out.UID(), len("sha1-uid-")+40)

	exact := strings.Repeat("x", MaxUIDLength)
	out, err = ImportEvent(event(t, "UID:"+exact, "DTSTART:20190719T120000Z"), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, exact, out.UID())
}

func TestImportEvent_Normalization(t *testing.T) {
	in := event(t,
		"UID:1",
		"DTSTART;VALUE=DATE:20200201",
		"DURATION:P2D",
		"DESCRIPTION:"+strings.Repeat("a", MaxDescriptionLength+10),
		"LOCATION:Cafe\u0301",
		"RRULE:FREQ=DAILY;UNTIL=20200210T125959Z",
	)
	before := in.Clone()

	out, err := ImportEvent(in, ImportOptions{Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	assert.Equal(t, before, in, "input must not be modified")

	assert.Equal(t, vcal.FromUTCTime(fixedNow), out.Get(ical.PropDateTimeStamp).DateTime)
	assert.Equal(t, vcal.NewDate(2020, 2, 3), out.DTEnd().DateTime)
	assert.True(t, out.DTEnd().IsAllDay())
	assert.Len(t, out.Get(ical.PropDescription).Text, MaxDescriptionLength)
	assert.Equal(t, "Caf\u00e9", out.Get(ical.PropLocation).Text)

	until, ok := out.RRule().Until.Get()
	require.True(t, ok)
	assert.Equal(t, vcal.NewDate(2020, 2, 10), until)
}

func TestImportEvent_CountWinsOverUntil(t *testing.T) {
	out, err := ImportEvent(event(t,
		"UID:1",
		"DTSTART:20190719T120000Z",
		"RRULE:FREQ=DAILY;COUNT=3;UNTIL=20190801T000000Z",
	), ImportOptions{})
	require.NoError(t, err)
	assert.True(t, out.RRule().Until.IsAbsent())
	assert.Equal(t, 3, out.RRule().Count.MustGet())
}

func TestImportEvent_DropsExDatesWithoutRule(t *testing.T) {
	out, err := ImportEvent(event(t,
		"UID:1",
		"DTSTART:20190719T120000Z",
		"EXDATE:20190720T120000Z",
	), ImportOptions{})
	require.NoError(t, err)
	assert.Empty(t, out.ExDates())
}

func TestImportEvent_AlarmLimit(t *testing.T) {
	l := []string{"UID:1", "DTSTART:20190719T120000Z"}
	for i := range MaxAlarms + 3 {
		l = append(l, "BEGIN:VALARM", "ACTION:DISPLAY", fmt.Sprintf("TRIGGER:-PT%dM", i+1), "END:VALARM")
	}
	l = append(l, "BEGIN:VALARM", "ACTION:DISPLAY", "TRIGGER:-P10001W", "END:VALARM")

	out, err := ImportEvent(event(t, l...), ImportOptions{})
	require.NoError(t, err)
	assert.Len(t, out.Alarms(), MaxAlarms)
	assert.Equal(t, "-PT1M", triggers(out)[0])
}

func TestImportError(t *testing.T) {
	inner := errors.New("boom")
	err := &ImportError{Kind: KindInvalidEnd, ComponentID: "uid", Err: inner}
	assert.Equal(t, "uid: invalid_end: boom", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "uid: invalid_end", (&ImportError{Kind: KindInvalidEnd, ComponentID: "uid"}).Error())
}
