// Package invite brings foreign iCalendar data into the supported subset and
// builds outbound invitation ICS.
package invite

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/samber/mo"
	"golang.org/x/text/unicode/norm"

	"github.com/cyp0633/libcalseal/attendee"
	"github.com/cyp0633/libcalseal/recurrence"
	"github.com/cyp0633/libcalseal/timezone"
	"github.com/cyp0633/libcalseal/vcal"
)

// ImportOptions configures ImportCalendar and ImportEvent
type ImportOptions struct {
	// DefaultTZID resolves floating times when the calendar has no usable
	// X-WR-TIMEZONE
	DefaultTZID string
	// Now stamps events without DTSTAMP; defaults to time.Now
	Now func() time.Time
	// Engine normalizes UNTIL; a cache-less engine is used when nil
	Engine *recurrence.Engine
	Logger *slog.Logger
}

// ImportResult holds the accepted events and one error per rejected component
type ImportResult struct {
	Events []*vcal.Component
	Errors []*ImportError
}

const paramRelated = "RELATED"

type importer struct {
	floatingTZID string
	now          func() time.Time
	engine       *recurrence.Engine
	logger       *slog.Logger
}

func newImporter(opts ImportOptions) *importer {
	imp := &importer{
		floatingTZID: opts.DefaultTZID,
		now:          opts.Now,
		engine:       opts.Engine,
		logger:       opts.Logger,
	}
	if imp.now == nil {
		imp.now = time.Now
	}
	if imp.engine == nil {
		imp.engine = recurrence.NewEngine(recurrence.WithConfig(recurrence.DisabledCacheConfig))
	}
	if imp.logger == nil {
		imp.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return imp
}

// ImportCalendar parses an ICS document and runs every VEVENT through
// ImportEvent. Rejected components are collected in the result and never
// abort the import. Only undecodable input and non-Gregorian calendars fail
// the whole call.
func ImportCalendar(text string, opts ImportOptions) (*ImportResult, error) {
	root, err := vcal.Parse(text)
	if root.Name == "" {
		if err == nil {
			err = errors.New("empty calendar")
		}
		return nil, err
	}
	imp := newImporter(opts)
	if err != nil {
		imp.logger.Debug("calendar parsed with property errors", "error", err)
	}
	if root.Name != ical.CompCalendar {
		wrapped := vcal.NewComponent(ical.CompCalendar)
		wrapped.Children = []*vcal.Component{root}
		root = wrapped
	}

	if scale := root.Get(ical.PropCalendarScale); scale != nil && !strings.EqualFold(scale.Text, "GREGORIAN") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCalendar, scale.Text)
	}
	if p := root.Get(vcal.PropXWRTimezone); p != nil {
		if _, err := timezone.Load(p.Text); err == nil {
			imp.floatingTZID = p.Text
		} else {
			imp.logger.Debug("ignoring calendar timezone", "tzid", p.Text, "error", err)
		}
	}

	result := &ImportResult{}
	for i, child := range root.Children {
		switch child.Name {
		case ical.CompEvent:
			ev, ierr := imp.event(child, i)
			if ierr != nil {
				imp.logger.Warn("event rejected",
					"component", ierr.ComponentID,
					"kind", ierr.Kind,
					"error", ierr.Err)
				result.Errors = append(result.Errors, ierr)
				continue
			}
			result.Events = append(result.Events, ev)
		case ical.CompToDo, ical.CompJournal, ical.CompFreeBusy:
			result.Errors = append(result.Errors, &ImportError{
				Kind:        KindUnsupportedComponent,
				ComponentID: componentID(child, i),
				Err:         fmt.Errorf("%s is not supported", child.Name),
			})
		case ical.CompTimezone:
			// zones are resolved by TZID from the IANA database
		default:
			imp.logger.Debug("skipping component", "name", child.Name)
		}
	}
	imp.logger.Info("calendar imported",
		"events", len(result.Events),
		"rejected", len(result.Errors))
	return result, nil
}

// ImportEvent applies the import surgery to a single VEVENT and returns the
// normalized copy. The input is not modified.
func ImportEvent(ev *vcal.Component, opts ImportOptions) (*vcal.Component, error) {
	out, ierr := newImporter(opts).event(ev, 0)
	if ierr != nil {
		return nil, ierr
	}
	return out, nil
}

func componentID(c *vcal.Component, index int) string {
	if uid := c.UID(); uid != "" {
		return uid
	}
	return fmt.Sprintf("%s #%d", c.Name, index+1)
}

func (imp *importer) event(ev *vcal.Component, index int) (*vcal.Component, *ImportError) {
	id := componentID(ev, index)
	fail := func(kind ImportErrorKind, err error) *ImportError {
		return &ImportError{Kind: kind, ComponentID: id, Err: err}
	}
	out := ev.Clone()

	uid := out.UID()
	switch {
	case uid == "":
		out.Set(vcal.NewText(ical.PropUID, uuid.NewString()))
	case len(uid) > MaxUIDLength:
		sum := sha1.Sum([]byte(uid))
		out.Set(vcal.NewText(ical.PropUID, "sha1-uid-"+hex.EncodeToString(sum[:])))
	}

	stamp := imp.now()
	if p := out.Get(ical.PropDateTimeStamp); p != nil {
		if t, err := timezone.PropertyToUTC(p, imp.floatingTZID); err == nil {
			stamp = t
		}
	}
	out.Set(vcal.NewDateTimeProperty(ical.PropDateTimeStamp, vcal.FromUTCTime(stamp), ""))

	start := out.DTStart()
	if start == nil || (start.Kind != vcal.KindDate && start.Kind != vcal.KindDateTime) {
		return nil, fail(KindMissingStart, errors.New("DTSTART is missing or malformed"))
	}
	if kind, err := imp.resolveZone(start, ""); err != nil {
		return nil, fail(kind, err)
	}
	startUTC, err := timezone.PropertyToUTC(start, "")
	if err != nil {
		return nil, fail(KindUnknownTimezone, err)
	}
	if !inRange(startUTC) {
		return nil, fail(KindOutOfRange, fmt.Errorf("DTSTART %s is outside %s..%s", start.DateTime, minDate, maxDate))
	}

	if kind, err := imp.fixEnd(out, start, startUTC); err != nil {
		return nil, fail(kind, err)
	}

	for _, field := range []struct {
		name string
		max  int
	}{
		{ical.PropSummary, MaxSummaryLength},
		{ical.PropLocation, MaxLocationLength},
		{ical.PropDescription, MaxDescriptionLength},
	} {
		if p := out.Get(field.name); p != nil {
			p.Text = truncate(p.Text, field.max)
		}
	}

	if kind, err := imp.fixRecurrence(out, start, startUTC); err != nil {
		return nil, fail(kind, err)
	}

	attendees := out.Attendees()
	if len(attendees) > MaxAttendees {
		return nil, fail(KindTooManyAttendees, fmt.Errorf("%d attendees, at most %d allowed", len(attendees), MaxAttendees))
	}
	seen := make(map[string]bool, len(attendees))
	for _, a := range attendees {
		key := attendee.NormalizeForToken(attendee.EmailFromAddress(a.Text))
		if seen[key] {
			return nil, fail(KindDuplicateAttendee, fmt.Errorf("attendee %s is listed twice", a.Text))
		}
		seen[key] = true
	}

	out.Children = imp.alarms(out, startUTC)
	return out, nil
}

// resolveZone gives a floating date-time the zone named by fallback, or the
// calendar default, and checks that zoned values use a known TZID.
func (imp *importer) resolveZone(p *vcal.Property, fallback string) (ImportErrorKind, error) {
	if p.Kind != vcal.KindDateTime || p.DateTime.IsUTC {
		return "", nil
	}
	if p.IsFloating() {
		tzid := fallback
		if tzid == "" {
			tzid = imp.floatingTZID
		}
		if tzid == "" {
			return KindFloatingTime, fmt.Errorf("floating %s without a default timezone", p.Name)
		}
		p.SetParam(ical.ParamTimezoneID, tzid)
	}
	if _, err := timezone.Load(p.TZID()); err != nil {
		return KindUnknownTimezone, err
	}
	return "", nil
}

// fixEnd turns DURATION into DTEND and checks that the event ends after it starts
func (imp *importer) fixEnd(out *vcal.Component, start *vcal.Property, startUTC time.Time) (ImportErrorKind, error) {
	if d := out.Get(ical.PropDuration); d != nil {
		if !out.Has(ical.PropDateTimeEnd) && d.Kind == vcal.KindDuration {
			end := start.Clone()
			end.Name = ical.PropDateTimeEnd
			if start.IsAllDay() {
				end.DateTime = start.DateTime.AddDays(int(d.Duration.Std() / (24 * time.Hour)))
			} else {
				end.DateTime = vcal.FromTime(start.DateTime.Time().Add(d.Duration.Std()), start.DateTime.IsUTC)
			}
			out.Set(end)
		}
		out.Del(ical.PropDuration)
	}

	end := out.DTEnd()
	if end == nil {
		return "", nil
	}
	if start.IsAllDay() {
		if end.Kind != vcal.KindDate {
			out.Set(vcal.NewDateTimeProperty(ical.PropDateTimeEnd, end.DateTime.Date(), ""))
			end = out.DTEnd()
		}
		if end.DateTime.Compare(start.DateTime) <= 0 {
			return KindInvalidEnd, fmt.Errorf("all-day DTEND %s does not exceed DTSTART %s", end.DateTime, start.DateTime)
		}
		return "", nil
	}

	if end.Kind != vcal.KindDateTime {
		return KindInvalidEnd, errors.New("DTEND is a date but DTSTART is a date-time")
	}
	if kind, err := imp.resolveZone(end, start.TZID()); err != nil {
		return kind, err
	}
	endUTC, err := timezone.PropertyToUTC(end, "")
	if err != nil {
		return KindUnknownTimezone, err
	}
	if endUTC.Before(startUTC) {
		return KindInvalidEnd, fmt.Errorf("DTEND %s is before DTSTART %s", end.DateTime, start.DateTime)
	}
	return "", nil
}

func checkRecur(r *vcal.Recur) error {
	limit, ok := maxIntervals[r.Freq]
	if !ok {
		return fmt.Errorf("FREQ=%s is not supported", r.Freq)
	}
	if r.EffectiveInterval() > limit {
		return fmt.Errorf("INTERVAL=%d exceeds %d for %s", r.Interval, limit, r.Freq)
	}
	if count, ok := r.Count.Get(); ok && (count < 1 || count > MaxCount) {
		return fmt.Errorf("COUNT=%d is outside 1..%d", count, MaxCount)
	}
	for name, vals := range map[string][]int{
		"BYSECOND":  r.BySecond,
		"BYMINUTE":  r.ByMinute,
		"BYHOUR":    r.ByHour,
		"BYWEEKNO":  r.ByWeekNo,
		"BYYEARDAY": r.ByYearDay,
	} {
		if len(vals) > 0 {
			return fmt.Errorf("%s is not supported", name)
		}
	}
	return nil
}

func (imp *importer) fixRecurrence(out *vcal.Component, start *vcal.Property, startUTC time.Time) (ImportErrorKind, error) {
	p := out.Get(ical.PropRecurrenceRule)
	if p == nil {
		if out.Has(ical.PropExceptionDates) {
			imp.logger.Debug("dropping EXDATE without RRULE", "uid", out.UID())
			out.Del(ical.PropExceptionDates)
		}
		return "", nil
	}
	if p.Kind != vcal.KindRecur || p.Recur == nil {
		return KindInvalidRecurrence, fmt.Errorf("malformed RRULE %q", p.Text)
	}
	if err := checkRecur(p.Recur); err != nil {
		return KindInvalidRecurrence, err
	}

	rule := p.Recur.Clone()
	if rule.Count.IsPresent() && rule.Until.IsPresent() {
		rule.Until = mo.None[vcal.DateTime]()
	}
	if until, ok := rule.Until.Get(); ok {
		untilProp := vcal.NewDateTimeProperty(ical.PropDateTimeEnd, until, start.TZID())
		untilUTC, err := timezone.PropertyToUTC(&untilProp, "")
		if err != nil {
			return KindInvalidRecurrence, err
		}
		if until.IsDate {
			untilUTC = untilUTC.Add(24*time.Hour - time.Second)
		}
		if untilUTC.Before(startUTC) {
			return KindInvalidRecurrence, fmt.Errorf("UNTIL %s is before DTSTART", until)
		}
		if rule, err = imp.engine.WithRruleUntil(rule, start); err != nil {
			return KindInvalidRecurrence, err
		}
	}
	out.Set(vcal.NewRecurProperty(rule))

	exdates := out.Props[ical.PropExceptionDates]
	for i := range exdates {
		ex := &exdates[i]
		if ex.Kind != vcal.KindDate && ex.Kind != vcal.KindDateTime {
			return KindInvalidExDate, fmt.Errorf("malformed EXDATE %q", ex.Text)
		}
		if ex.IsAllDay() != start.IsAllDay() {
			return KindInvalidExDate, fmt.Errorf("EXDATE %s does not match the shape of DTSTART", ex.DateTime)
		}
		if kind, err := imp.resolveZone(ex, start.TZID()); err != nil {
			if kind == KindUnknownTimezone {
				return kind, err
			}
			return KindInvalidExDate, err
		}
	}
	return "", nil
}

// alarms normalizes the VALARMs of an event: absolute and end-related
// triggers become start-relative, the action becomes DISPLAY, and duplicates
// and far-off triggers are dropped. Other children are removed.
func (imp *importer) alarms(ev *vcal.Component, startUTC time.Time) []*vcal.Component {
	var (
		out  []*vcal.Component
		seen = make(map[string]bool)
	)
	for _, child := range ev.Children {
		if child.Name != ical.CompAlarm {
			continue
		}
		trigger := child.Get(ical.PropTrigger)
		if trigger == nil {
			continue
		}
		var offset time.Duration
		switch trigger.Kind {
		case vcal.KindDuration:
			offset = trigger.Duration.Std()
			if strings.EqualFold(trigger.Param(paramRelated), "END") {
				length, err := recurrence.EventDuration(ev)
				if err != nil {
					continue
				}
				offset += length
			}
		case vcal.KindDateTime:
			at, err := timezone.PropertyToUTC(trigger, "")
			if err != nil {
				continue
			}
			offset = at.Sub(startUTC)
		default:
			continue
		}
		if offset > maxTriggerWeeks*7*24*time.Hour || offset < -maxTriggerWeeks*7*24*time.Hour {
			continue
		}

		normalized := vcal.DurationFromStd(offset).Normalize()
		key := normalized.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		if len(out) == MaxAlarms {
			imp.logger.Debug("dropping alarms over the limit", "uid", ev.UID())
			break
		}

		alarm := vcal.NewComponent(ical.CompAlarm)
		alarm.Set(vcal.NewText(ical.PropAction, "DISPLAY"))
		alarm.Set(vcal.NewDurationProperty(ical.PropTrigger, normalized))
		out = append(out, alarm)
	}
	return out
}

// truncate NFC-normalizes s and cuts it to at most n characters
func truncate(s string, n int) string {
	s = norm.NFC.String(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
