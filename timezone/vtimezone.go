package timezone

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/libcalseal/vcal"
)

// Source looks up VTIMEZONE components by TZID
type Source interface {
	VTimezone(ctx context.Context, tzid string) (*vcal.Component, error)
}

// GeneratedSource builds VTIMEZONE components from the local transition
// tables, covering the transitions between From and To.
type GeneratedSource struct {
	From time.Time
	To   time.Time
}

// VTimezone implements Source
func (s GeneratedSource) VTimezone(_ context.Context, tzid string) (*vcal.Component, error) {
	return GenerateVTimezone(tzid, s.From, s.To)
}

// FormatOffset formats seconds east of UTC as an iCalendar UTC-OFFSET
func FormatOffset(offset int) string {
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	h, m, s := offset/3600, (offset%3600)/60, offset%60
	if s != 0 {
		return fmt.Sprintf("%c%02d%02d%02d", sign, h, m, s)
	}
	return fmt.Sprintf("%c%02d%02d", sign, h, m)
}

// GenerateVTimezone builds a VTIMEZONE for tzid with one STANDARD or DAYLIGHT
// block per transition in [from, to], plus the last transition before from
// so that the whole range is covered. Zones without transitions get a single
// STANDARD block.
func GenerateVTimezone(tzid string, from, to time.Time) (*vcal.Component, error) {
	z, err := Load(tzid)
	if err != nil {
		return nil, err
	}
	vtz := vcal.NewComponent(ical.CompTimezone)
	vtz.Set(vcal.NewText(ical.PropTimezoneID, tzid))

	transitions := z.Transitions(time.Unix(0, 0).UTC(), to)
	start := 0
	for i, tr := range transitions {
		if tr.At.Before(from) {
			start = i
		}
	}
	if len(transitions) > 0 {
		transitions = transitions[start:]
	}
	if len(transitions) == 0 {
		offset := z.OffsetAt(from)
		block := vcal.NewComponent(ical.CompTimezoneStandard)
		block.Set(vcal.NewDateTimeProperty(ical.PropDateTimeStart, vcal.NewDateTime(1970, time.January, 1, 0, 0, 0, false), ""))
		block.Set(vcal.NewText(ical.PropTimezoneOffsetFrom, FormatOffset(offset)))
		block.Set(vcal.NewText(ical.PropTimezoneOffsetTo, FormatOffset(offset)))
		block.Set(vcal.NewText(vcal.PropTimezoneName, z.Names[z.index(from.Unix())]))
		vtz.Children = append(vtz.Children, block)
		return vtz, nil
	}
	for _, tr := range transitions {
		name := ical.CompTimezoneStandard
		if tr.OffsetTo > tr.OffsetFrom {
			name = ical.CompTimezoneDaylight
		}
		block := vcal.NewComponent(name)
		// DTSTART is the wall clock of the transition in the old offset
		local := tr.At.Add(time.Duration(tr.OffsetFrom) * time.Second)
		block.Set(vcal.NewDateTimeProperty(ical.PropDateTimeStart, vcal.FromTime(local, false), ""))
		block.Set(vcal.NewText(ical.PropTimezoneOffsetFrom, FormatOffset(tr.OffsetFrom)))
		block.Set(vcal.NewText(ical.PropTimezoneOffsetTo, FormatOffset(tr.OffsetTo)))
		if tr.Name != "" {
			block.Set(vcal.NewText(vcal.PropTimezoneName, tr.Name))
		}
		vtz.Children = append(vtz.Children, block)
	}
	return vtz, nil
}
