package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/cyp0633/libcalseal/timezone"
	"github.com/cyp0633/libcalseal/vcal"
)

// ErrMissingStart is returned when a component has no usable DTSTART
var ErrMissingStart = errors.New("missing dtstart")

// frame is the wall clock an event recurs in. Local values are carried as
// fake-UTC times; zone is nil for all-day, floating and UTC starts.
type frame struct {
	allDay bool
	utc    bool
	tzid   string
	zone   *timezone.Zone
	start  time.Time // local
}

func newFrame(dtstart *vcal.Property) (frame, error) {
	if dtstart == nil {
		return frame{}, ErrMissingStart
	}
	switch dtstart.Kind {
	case vcal.KindDate:
		return frame{allDay: true, start: dtstart.DateTime.Date().Time()}, nil
	case vcal.KindDateTime:
	default:
		return frame{}, fmt.Errorf("%w: dtstart is %s", ErrMissingStart, dtstart.Kind)
	}
	f := frame{start: dtstart.DateTime.Time(), utc: dtstart.DateTime.IsUTC}
	if tzid := dtstart.TZID(); tzid != "" {
		z, err := timezone.Load(tzid)
		if err != nil {
			return frame{}, err
		}
		f.tzid, f.zone = tzid, z
	}
	return f, nil
}

// toUTC maps a local value to an instant
func (f frame) toUTC(local time.Time) time.Time {
	if f.zone == nil {
		return local
	}
	return time.Unix(f.zone.ToUTC(local.Unix(), timezone.DefaultOptions), 0).UTC()
}

// fromUTC maps an instant to the local wall clock
func (f frame) fromUTC(utc time.Time) time.Time {
	if f.zone == nil {
		return utc.UTC()
	}
	return time.Unix(f.zone.FromUTC(utc.Unix()), 0).UTC()
}

// local converts a date property (EXDATE, UNTIL...) into the frame
func (f frame) local(dt vcal.DateTime, tzid string) (time.Time, error) {
	switch {
	case dt.IsDate:
		return dt.Time(), nil
	case dt.IsUTC:
		return f.fromUTC(dt.Time()), nil
	case tzid != "" && tzid != f.tzid:
		utc, err := timezone.ConvertZonedToUTC(dt, tzid)
		if err != nil {
			return time.Time{}, err
		}
		return f.fromUTC(utc.Time()), nil
	default:
		return dt.Time(), nil
	}
}

// shape renders a local value in the same form as the start
func (f frame) shape(local time.Time) vcal.DateTime {
	switch {
	case f.allDay:
		return vcal.FromTime(local, false).Date()
	case f.utc || f.zone != nil:
		return vcal.FromUTCTime(f.toUTC(local))
	default:
		return vcal.FromTime(local, false)
	}
}

var (
	rruleFreqs = map[string]rrule.Frequency{
		vcal.FreqYearly:   rrule.YEARLY,
		vcal.FreqMonthly:  rrule.MONTHLY,
		vcal.FreqWeekly:   rrule.WEEKLY,
		vcal.FreqDaily:    rrule.DAILY,
		vcal.FreqHourly:   rrule.HOURLY,
		vcal.FreqMinutely: rrule.MINUTELY,
		vcal.FreqSecondly: rrule.SECONDLY,
	}
	rruleWeekdays = map[string]rrule.Weekday{
		"MO": rrule.MO,
		"TU": rrule.TU,
		"WE": rrule.WE,
		"TH": rrule.TH,
		"FR": rrule.FR,
		"SA": rrule.SA,
		"SU": rrule.SU,
	}
)

// iterator builds an rrule-go iterator over local values. COUNT wins over
// UNTIL; a DATE UNTIL includes its whole day.
func (f frame) iterator(r *vcal.Recur) (rrule.Next, error) {
	freq, ok := rruleFreqs[r.Freq]
	if !ok {
		return nil, fmt.Errorf("%w: FREQ=%s", vcal.ErrInvalidRecur, r.Freq)
	}
	opt := rrule.ROption{
		Freq:       freq,
		Dtstart:    f.start,
		Interval:   r.EffectiveInterval(),
		Bysecond:   r.BySecond,
		Byminute:   r.ByMinute,
		Byhour:     r.ByHour,
		Bymonthday: r.ByMonthDay,
		Byyearday:  r.ByYearDay,
		Byweekno:   r.ByWeekNo,
		Bymonth:    r.ByMonth,
		Bysetpos:   r.BySetPos,
	}
	if wkst, ok := rruleWeekdays[strings.ToUpper(r.Wkst)]; ok {
		opt.Wkst = wkst
	}
	for _, entry := range r.ByDay {
		n, code := vcal.SplitByDay(entry)
		wd, ok := rruleWeekdays[code]
		if !ok {
			return nil, fmt.Errorf("%w: BYDAY=%s", vcal.ErrInvalidRecur, entry)
		}
		if n != 0 {
			wd = wd.Nth(n)
		}
		opt.Byweekday = append(opt.Byweekday, wd)
	}
	if count, ok := r.Count.Get(); ok {
		opt.Count = count
	} else if until, ok := r.Until.Get(); ok {
		local, err := f.local(until, "")
		if err != nil {
			return nil, err
		}
		if until.IsDate {
			local = until.EndOfDay().Time()
		}
		opt.Until = local
	}
	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vcal.ErrInvalidRecur, err)
	}
	return rule.Iterator(), nil
}

// exclusions collects EXDATE values in the frame. DATE values exclude a whole
// day and are keyed by their midnight.
type exclusions struct {
	at   map[int64]struct{}
	days map[int64]struct{}
}

func (f frame) exclusions(comp *vcal.Component) (exclusions, error) {
	ex := exclusions{at: make(map[int64]struct{}), days: make(map[int64]struct{})}
	for _, p := range comp.ExDates() {
		if p.Kind != vcal.KindDate && p.Kind != vcal.KindDateTime {
			continue
		}
		local, err := f.local(p.DateTime, p.TZID())
		if err != nil {
			return ex, err
		}
		if p.DateTime.IsDate {
			ex.days[local.Unix()] = struct{}{}
			continue
		}
		ex.at[local.Unix()] = struct{}{}
	}
	return ex, nil
}

func (ex exclusions) has(local time.Time) bool {
	if _, ok := ex.at[local.Unix()]; ok {
		return true
	}
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	_, ok := ex.days[day.Unix()]
	return ok
}
