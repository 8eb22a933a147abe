package invite

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"

	"github.com/cyp0633/libcalseal/attendee"
	"github.com/cyp0633/libcalseal/timezone"
	"github.com/cyp0633/libcalseal/vcal"
)

// Method is an iTIP method
type Method string

const (
	MethodRequest        Method = "REQUEST"
	MethodReply          Method = "REPLY"
	MethodCancel         Method = "CANCEL"
	MethodRefresh        Method = "REFRESH"
	MethodCounter        Method = "COUNTER"
	MethodDeclineCounter Method = "DECLINECOUNTER"
)

// properties kept in a REPLY besides the replying attendee
var replyProperties = []string{
	ical.PropUID,
	ical.PropDateTimeStart,
	ical.PropDateTimeEnd,
	ical.PropRecurrenceID,
	ical.PropSequence,
	ical.PropOrganizer,
	ical.PropRecurrenceRule,
	ical.PropLocation,
	ical.PropSummary,
}

// InviteParams are the inputs of CreateInviteICS
type InviteParams struct {
	Method Method
	Event  *vcal.Component
	// EmailTo is the address of the replying attendee (REPLY only)
	EmailTo string
	// PartStat is the answer of the replying attendee (REPLY only)
	PartStat string
	// DTStamp pins the stamp of a REPLY so a resend is identical. REQUEST
	// always gets a fresh stamp.
	DTStamp mo.Option[time.Time]
	// Timezones, if set, provides a VTIMEZONE for every TZID the event uses
	Timezones timezone.Source
	// Now defaults to time.Now
	Now func() time.Time
}

// CreateInviteICS builds the ICS document of an outbound REQUEST or REPLY.
// Other methods return ErrUnsupportedMethod.
func CreateInviteICS(ctx context.Context, params InviteParams) (string, error) {
	if params.Event == nil || params.Event.Name != ical.CompEvent {
		return "", fmt.Errorf("invite needs a %s", ical.CompEvent)
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	var (
		ev  *vcal.Component
		err error
	)
	switch params.Method {
	case MethodRequest:
		ev = params.Event.Clone()
		ev.Children = nil
		ev.Set(vcal.NewDateTimeProperty(ical.PropDateTimeStamp, vcal.FromUTCTime(now()), ""))
	case MethodReply:
		if ev, err = replyEvent(params, now); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, params.Method)
	}

	cal := vcal.NewComponent(ical.CompCalendar)
	cal.Set(vcal.NewText(ical.PropProductID, vcal.ProductID))
	cal.Set(vcal.NewText(ical.PropVersion, "2.0"))
	cal.Set(vcal.NewText(ical.PropMethod, string(params.Method)))
	cal.Set(vcal.NewText(ical.PropCalendarScale, "GREGORIAN"))

	if params.Timezones != nil {
		for _, tzid := range usedTimezones(ev) {
			vtz, err := params.Timezones.VTimezone(ctx, tzid)
			if err != nil {
				return "", fmt.Errorf("failed to get timezone %s: %w", tzid, err)
			}
			cal.Children = append(cal.Children, vtz)
		}
	}
	cal.Children = append(cal.Children, ev)
	return vcal.Serialize(cal)
}

func replyEvent(params InviteParams, now func() time.Time) (*vcal.Component, error) {
	if params.PartStat == "" {
		return nil, fmt.Errorf("reply needs a %s", ical.ParamParticipationStatus)
	}
	src := params.Event
	ev := vcal.NewComponent(ical.CompEvent)
	for _, name := range replyProperties {
		for _, p := range src.All(name) {
			ev.Add(p.Clone())
		}
	}

	want := strings.ToLower(attendee.EmailFromAddress(params.EmailTo))
	var found *vcal.Property
	for _, a := range src.Attendees() {
		if strings.ToLower(attendee.EmailFromAddress(a.Text)) == want {
			found = &a
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrAttendeeNotFound, params.EmailTo)
	}
	reply := vcal.NewText(ical.PropAttendee, found.Text)
	if cn := found.Param(ical.ParamCommonName); cn != "" {
		reply.SetParam(ical.ParamCommonName, cn)
	}
	reply.SetParam(ical.ParamParticipationStatus, strings.ToUpper(params.PartStat))
	if token := found.Param(vcal.ParamToken); token != "" {
		reply.SetParam(vcal.ParamToken, token)
	}
	ev.Add(reply)

	stamp := params.DTStamp.OrElse(now())
	ev.Set(vcal.NewDateTimeProperty(ical.PropDateTimeStamp, vcal.FromUTCTime(stamp), ""))
	return ev, nil
}

func usedTimezones(ev *vcal.Component) []string {
	var tzids []string
	for _, name := range []string{ical.PropDateTimeStart, ical.PropDateTimeEnd, ical.PropRecurrenceID, ical.PropExceptionDates} {
		for _, p := range ev.All(name) {
			if tzid := p.TZID(); tzid != "" && !slices.Contains(tzids, tzid) {
				tzids = append(tzids, tzid)
			}
		}
	}
	slices.Sort(tzids)
	return tzids
}
