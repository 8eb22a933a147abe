package vcal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidDateTime is returned when a DATE or DATE-TIME value cannot be parsed
	ErrInvalidDateTime = errors.New("invalid date-time value")
	// ErrInvalidDuration is returned when a DURATION value cannot be parsed
	ErrInvalidDuration = errors.New("invalid duration value")
)

const (
	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405"
)

// DateTime is a calendar DATE or DATE-TIME value as written on the wire.
// It keeps the shape of the value: an all-day date, a floating date-time,
// or a UTC date-time. Zoned values are floating date-times whose property
// carries a TZID parameter.
type DateTime struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
	IsDate bool
	IsUTC  bool
}

// NewDate creates an all-day DATE value
func NewDate(year int, month time.Month, day int) DateTime {
	return DateTime{Year: year, Month: month, Day: day, IsDate: true}
}

// NewDateTime creates a DATE-TIME value. isUTC marks the trailing "Z" form.
func NewDateTime(year int, month time.Month, day, hour, minute, second int, isUTC bool) DateTime {
	return DateTime{Year: year, Month: month, Day: day, Hour: hour, Minute: minute, Second: second, IsUTC: isUTC}
}

// FromTime reads the wall clock fields of t. The location of t is ignored
// except through its fields.
func FromTime(t time.Time, isUTC bool) DateTime {
	return NewDateTime(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), isUTC)
}

// FromUTCTime converts an instant into a UTC DATE-TIME value
func FromUTCTime(t time.Time) DateTime {
	return FromTime(t.UTC(), true)
}

// Time interprets the fields as a UTC instant. For floating and zoned values
// this is the "fake UTC" representation used for wall clock arithmetic.
func (d DateTime) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second, 0, time.UTC)
}

// Date returns the DATE part of the value
func (d DateTime) Date() DateTime {
	return NewDate(d.Year, d.Month, d.Day)
}

// EndOfDay returns 23:59:59 on the same day, keeping IsUTC
func (d DateTime) EndOfDay() DateTime {
	return NewDateTime(d.Year, d.Month, d.Day, 23, 59, 59, d.IsUTC)
}

// AddDays shifts the calendar day, keeping the shape
func (d DateTime) AddDays(n int) DateTime {
	t := d.Time().AddDate(0, 0, n)
	out := FromTime(t, d.IsUTC)
	out.IsDate = d.IsDate
	return out
}

// Compare orders two values by their fields, ignoring shape
func (d DateTime) Compare(o DateTime) int {
	return d.Time().Compare(o.Time())
}

// String formats the value as it appears in a content line
func (d DateTime) String() string {
	if d.IsDate {
		return fmt.Sprintf("%04d%02d%02d", d.Year, int(d.Month), d.Day)
	}
	s := fmt.Sprintf("%04d%02d%02dT%02d%02d%02d", d.Year, int(d.Month), d.Day, d.Hour, d.Minute, d.Second)
	if d.IsUTC {
		s += "Z"
	}
	return s
}

// ParseDateTime parses a DATE ("20200210") or DATE-TIME ("20200210T125959[Z]") value
func ParseDateTime(value string) (DateTime, error) {
	value = strings.TrimSpace(value)
	switch len(value) {
	case len(dateLayout):
		t, err := time.Parse(dateLayout, value)
		if err != nil {
			return DateTime{}, fmt.Errorf("%w: %q", ErrInvalidDateTime, value)
		}
		return NewDate(t.Year(), t.Month(), t.Day()), nil
	case len(dateTimeLayout), len(dateTimeLayout) + 1:
		isUTC := strings.HasSuffix(value, "Z")
		t, err := time.Parse(dateTimeLayout, strings.TrimSuffix(value, "Z"))
		if err != nil {
			return DateTime{}, fmt.Errorf("%w: %q", ErrInvalidDateTime, value)
		}
		return FromTime(t, isUTC), nil
	default:
		return DateTime{}, fmt.Errorf("%w: %q", ErrInvalidDateTime, value)
	}
}

// Duration is an RFC 5545 DURATION value with its components preserved
type Duration struct {
	Negative bool
	Weeks    int
	Days     int
	Hours    int
	Minutes  int
	Seconds  int
}

// DurationFromStd converts a time.Duration into days/hours/minutes/seconds
func DurationFromStd(d time.Duration) Duration {
	var out Duration
	if d < 0 {
		out.Negative = true
		d = -d
	}
	total := int64(d / time.Second)
	out.Days = int(total / 86400)
	total %= 86400
	out.Hours = int(total / 3600)
	total %= 3600
	out.Minutes = int(total / 60)
	out.Seconds = int(total % 60)
	return out
}

// Std converts to a time.Duration, counting a day as 24 hours
func (d Duration) Std() time.Duration {
	total := time.Duration(d.Weeks)*7*24*time.Hour +
		time.Duration(d.Days)*24*time.Hour +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second
	if d.Negative {
		return -total
	}
	return total
}

// IsZero reports whether the duration has no length
func (d Duration) IsZero() bool {
	return d.Weeks == 0 && d.Days == 0 && d.Hours == 0 && d.Minutes == 0 && d.Seconds == 0
}

// Normalize returns the canonical form of the duration: weeks only when the
// whole value is a number of weeks, otherwise days plus time.
func (d Duration) Normalize() Duration {
	std := d.Std()
	if std < 0 {
		std = -std
	}
	out := DurationFromStd(std)
	out.Negative = d.Negative && !d.IsZero()
	if out.Hours == 0 && out.Minutes == 0 && out.Seconds == 0 && out.Days > 0 && out.Days%7 == 0 {
		out.Weeks = out.Days / 7
		out.Days = 0
	}
	return out
}

func (d Duration) String() string {
	var b strings.Builder
	if d.Negative {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	if d.IsZero() {
		b.WriteString("T0S")
		return b.String()
	}
	days := d.Days
	if d.Weeks > 0 {
		if days == 0 && d.Hours == 0 && d.Minutes == 0 && d.Seconds == 0 {
			fmt.Fprintf(&b, "%dW", d.Weeks)
			return b.String()
		}
		days += d.Weeks * 7
	}
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if d.Hours > 0 || d.Minutes > 0 || d.Seconds > 0 {
		b.WriteByte('T')
		if d.Hours > 0 {
			fmt.Fprintf(&b, "%dH", d.Hours)
		}
		if d.Minutes > 0 {
			fmt.Fprintf(&b, "%dM", d.Minutes)
		}
		if d.Seconds > 0 {
			fmt.Fprintf(&b, "%dS", d.Seconds)
		}
	}
	return b.String()
}

// ParseDuration parses an RFC 5545 DURATION such as "-PT15M" or "P1DT2H"
func ParseDuration(value string) (Duration, error) {
	var d Duration
	s := strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(s, "-"):
		d.Negative = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return Duration{}, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}
	s = s[1:]
	inTime := false
	num := ""
	seen := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'T':
			if inTime || num != "" {
				return Duration{}, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
			}
			inTime = true
		default:
			if num == "" {
				return Duration{}, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
			}
			n, err := strconv.Atoi(num)
			if err != nil {
				return Duration{}, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
			}
			num = ""
			seen = true
			switch {
			case r == 'W' && !inTime:
				d.Weeks = n
			case r == 'D' && !inTime:
				d.Days = n
			case r == 'H' && inTime:
				d.Hours = n
			case r == 'M' && inTime:
				d.Minutes = n
			case r == 'S' && inTime:
				d.Seconds = n
			default:
				return Duration{}, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
			}
		}
	}
	if num != "" || !seen {
		return Duration{}, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}
	if d.IsZero() {
		d.Negative = false
	}
	return d, nil
}

// Period is an RFC 5545 PERIOD value: a start plus either an end or a duration
type Period struct {
	Start       DateTime
	End         DateTime
	Duration    Duration
	HasDuration bool
}

func (p Period) String() string {
	if p.HasDuration {
		return p.Start.String() + "/" + p.Duration.String()
	}
	return p.Start.String() + "/" + p.End.String()
}

// ParsePeriod parses "start/end" or "start/duration"
func ParsePeriod(value string) (Period, error) {
	start, rest, ok := strings.Cut(value, "/")
	if !ok {
		return Period{}, fmt.Errorf("%w: period %q", ErrInvalidDateTime, value)
	}
	s, err := ParseDateTime(start)
	if err != nil {
		return Period{}, err
	}
	if strings.HasPrefix(rest, "P") || strings.HasPrefix(rest, "+P") || strings.HasPrefix(rest, "-P") {
		d, err := ParseDuration(rest)
		if err != nil {
			return Period{}, err
		}
		return Period{Start: s, Duration: d, HasDuration: true}, nil
	}
	e, err := ParseDateTime(rest)
	if err != nil {
		return Period{}, err
	}
	return Period{Start: s, End: e}, nil
}
