// Package parts splits an event into the property groups that are signed or
// encrypted separately, and merges decrypted groups back into one event.
package parts

import (
	"errors"
	"fmt"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/libcalseal/attendee"
	"github.com/cyp0633/libcalseal/vcal"
)

var (
	// ErrNotVevent is returned when a component other than VEVENT is split
	ErrNotVevent = errors.New("component is not a VEVENT")
	// ErrMissingRequired is returned when UID or DTSTAMP is absent
	ErrMissingRequired = errors.New("missing required property")
)

// Group names the owner of a set of properties
type Group string

const (
	GroupShared    Group = "shared"
	GroupCalendar  Group = "calendar"
	GroupPersonal  Group = "personal"
	GroupAttendees Group = "attendees"
)

// Protection is how a subset travels: signed in clear, or encrypted and signed
type Protection int

const (
	Signed Protection = iota
	EncryptedAndSigned
)

// field assignment for each group; UID and DTSTAMP go everywhere
var (
	required = []string{ical.PropUID, ical.PropDateTimeStamp}

	sharedSigned = []string{
		ical.PropDateTimeStart,
		ical.PropDateTimeEnd,
		ical.PropRecurrenceID,
		ical.PropRecurrenceRule,
		ical.PropExceptionDates,
		ical.PropOrganizer,
		ical.PropSequence,
	}
	sharedEncrypted = []string{
		ical.PropCreated,
		ical.PropDescription,
		ical.PropSummary,
		ical.PropLocation,
		vcal.PropAttach,
	}
	calendarSigned     = []string{ical.PropStatus, ical.PropTransparency}
	calendarEncrypted  = []string{ical.PropComment}
	attendeesEncrypted = []string{ical.PropAttendee}

	assigned = func() map[string]bool {
		m := make(map[string]bool)
		for _, list := range [][]string{required, sharedSigned, sharedEncrypted, calendarSigned, calendarEncrypted, attendeesEncrypted} {
			for _, name := range list {
				m[name] = true
			}
		}
		return m
	}()
)

// Part is one group in both protections. A nil subset is not emitted.
type Part struct {
	Signed    *vcal.Component
	Encrypted *vcal.Component
}

// Get returns the subset for a protection
func (p Part) Get(protection Protection) *vcal.Component {
	if protection == Signed {
		return p.Signed
	}
	return p.Encrypted
}

// Split is the result of splitting one event
type Split struct {
	Shared    Part
	Calendar  Part
	Personal  Part
	Attendees Part
	// AttendeesClear holds one clear record per attendee, in order
	AttendeesClear []attendee.Clear
}

// Part returns the part of a group
func (s *Split) Part(g Group) Part {
	switch g {
	case GroupShared:
		return s.Shared
	case GroupCalendar:
		return s.Calendar
	case GroupPersonal:
		return s.Personal
	default:
		return s.Attendees
	}
}

// SplitEvent distributes the properties of event over the four groups.
// Properties without an assignment land in the shared encrypted subset.
// Optional subsets holding nothing beyond UID and DTSTAMP are left nil; the
// shared subsets are always present. The input is not modified.
func SplitEvent(event *vcal.Component) (*Split, error) {
	if event == nil || event.Name != ical.CompEvent {
		return nil, ErrNotVevent
	}
	for _, name := range required {
		if !event.Has(name) {
			return nil, fmt.Errorf("%w: %s", ErrMissingRequired, name)
		}
	}

	s := &Split{}
	s.Shared.Signed = subset(event, sharedSigned)
	s.Shared.Encrypted = subset(event, sharedEncrypted)
	for _, name := range event.Names() {
		if assigned[name] {
			continue
		}
		for _, p := range event.All(name) {
			s.Shared.Encrypted.Add(p.Clone())
		}
	}

	s.Calendar.Signed = optional(subset(event, calendarSigned))
	s.Calendar.Encrypted = optional(subset(event, calendarEncrypted))

	personal := subset(event, nil)
	for _, alarm := range event.Alarms() {
		personal.Children = append(personal.Children, alarm.Clone())
	}
	s.Personal.Signed = optional(personal)

	attendees := subset(event, nil)
	uid := event.UID()
	for _, p := range event.Attendees() {
		p = p.Clone()
		s.AttendeesClear = append(s.AttendeesClear, attendee.Protect(&p, uid))
		attendees.Add(p)
	}
	s.Attendees.Encrypted = optional(attendees)
	return s, nil
}

// subset copies UID, DTSTAMP and the named properties into a new VEVENT
func subset(event *vcal.Component, names []string) *vcal.Component {
	out := vcal.NewComponent(ical.CompEvent)
	for _, list := range [][]string{required, names} {
		for _, name := range list {
			for _, p := range event.All(name) {
				out.Add(p.Clone())
			}
		}
	}
	return out
}

// optional drops subsets carrying only the required properties
func optional(c *vcal.Component) *vcal.Component {
	if len(c.Children) > 0 {
		return c
	}
	for _, name := range c.Names() {
		if name != ical.PropUID && name != ical.PropDateTimeStamp {
			return c
		}
	}
	return nil
}
