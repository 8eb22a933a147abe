package vcal

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/mo"
)

// ErrInvalidRecur is returned for RRULE values that cannot be parsed
var ErrInvalidRecur = errors.New("invalid recurrence rule")

// Frequencies accepted in FREQ
const (
	FreqSecondly = "SECONDLY"
	FreqMinutely = "MINUTELY"
	FreqHourly   = "HOURLY"
	FreqDaily    = "DAILY"
	FreqWeekly   = "WEEKLY"
	FreqMonthly  = "MONTHLY"
	FreqYearly   = "YEARLY"
)

var (
	frequencies = []string{FreqSecondly, FreqMinutely, FreqHourly, FreqDaily, FreqWeekly, FreqMonthly, FreqYearly}
	weekdays    = []string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}
	byDayRe     = regexp.MustCompile(`^([+-]?\d{1,2})?(MO|TU|WE|TH|FR|SA|SU)$`)
)

// Recur is a parsed RRULE value. Count and Until are optional; when both are
// present Count takes precedence during expansion.
type Recur struct {
	Freq       string
	Interval   int
	Count      mo.Option[int]
	Until      mo.Option[DateTime]
	BySecond   []int
	ByMinute   []int
	ByHour     []int
	ByDay      []string
	ByMonthDay []int
	ByYearDay  []int
	ByWeekNo   []int
	ByMonth    []int
	BySetPos   []int
	Wkst       string
}

// ParseRecur parses an RRULE value such as "FREQ=WEEKLY;BYDAY=MO,WE;COUNT=10"
func ParseRecur(value string) (*Recur, error) {
	r := &Recur{}
	for _, part := range strings.Split(strings.TrimSpace(value), ";") {
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRecur, part)
		}
		key = strings.ToUpper(key)
		val = strings.ToUpper(val)
		var err error
		switch key {
		case "FREQ":
			if !slices.Contains(frequencies, val) {
				return nil, fmt.Errorf("%w: unknown FREQ %q", ErrInvalidRecur, val)
			}
			r.Freq = val
		case "INTERVAL":
			r.Interval, err = strconv.Atoi(val)
			if err == nil && r.Interval < 1 {
				err = errors.New("interval must be positive")
			}
		case "COUNT":
			var n int
			n, err = strconv.Atoi(val)
			if err == nil && n < 1 {
				err = errors.New("count must be positive")
			}
			r.Count = mo.Some(n)
		case "UNTIL":
			var dt DateTime
			dt, err = ParseDateTime(val)
			r.Until = mo.Some(dt)
		case "BYSECOND":
			r.BySecond, err = parseIntList(val)
		case "BYMINUTE":
			r.ByMinute, err = parseIntList(val)
		case "BYHOUR":
			r.ByHour, err = parseIntList(val)
		case "BYDAY":
			for _, d := range strings.Split(val, ",") {
				if !byDayRe.MatchString(d) {
					err = fmt.Errorf("bad BYDAY entry %q", d)
					break
				}
				r.ByDay = append(r.ByDay, strings.TrimPrefix(d, "+"))
			}
		case "BYMONTHDAY":
			r.ByMonthDay, err = parseIntList(val)
		case "BYYEARDAY":
			r.ByYearDay, err = parseIntList(val)
		case "BYWEEKNO":
			r.ByWeekNo, err = parseIntList(val)
		case "BYMONTH":
			r.ByMonth, err = parseIntList(val)
		case "BYSETPOS":
			r.BySetPos, err = parseIntList(val)
		case "WKST":
			if !slices.Contains(weekdays, val) {
				err = fmt.Errorf("bad WKST %q", val)
			}
			r.Wkst = val
		default:
			return nil, fmt.Errorf("%w: unknown part %q", ErrInvalidRecur, key)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRecur, key, err)
		}
	}
	if r.Freq == "" {
		return nil, fmt.Errorf("%w: missing FREQ", ErrInvalidRecur)
	}
	return r, nil
}

func parseIntList(val string) ([]int, error) {
	var out []int
	for _, s := range strings.Split(val, ",") {
		n, err := strconv.Atoi(strings.TrimPrefix(s, "+"))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func formatIntList(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// String formats the rule in a stable part order
func (r *Recur) String() string {
	parts := []string{"FREQ=" + r.Freq}
	if r.Interval > 0 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if count, ok := r.Count.Get(); ok {
		parts = append(parts, "COUNT="+strconv.Itoa(count))
	}
	if until, ok := r.Until.Get(); ok {
		parts = append(parts, "UNTIL="+until.String())
	}
	lists := []struct {
		key  string
		vals []int
	}{
		{"BYSECOND", r.BySecond},
		{"BYMINUTE", r.ByMinute},
		{"BYHOUR", r.ByHour},
	}
	for _, l := range lists {
		if len(l.vals) > 0 {
			parts = append(parts, l.key+"="+formatIntList(l.vals))
		}
	}
	if len(r.ByDay) > 0 {
		parts = append(parts, "BYDAY="+strings.Join(r.ByDay, ","))
	}
	lists = []struct {
		key  string
		vals []int
	}{
		{"BYMONTHDAY", r.ByMonthDay},
		{"BYYEARDAY", r.ByYearDay},
		{"BYWEEKNO", r.ByWeekNo},
		{"BYMONTH", r.ByMonth},
		{"BYSETPOS", r.BySetPos},
	}
	for _, l := range lists {
		if len(l.vals) > 0 {
			parts = append(parts, l.key+"="+formatIntList(l.vals))
		}
	}
	if r.Wkst != "" {
		parts = append(parts, "WKST="+r.Wkst)
	}
	return strings.Join(parts, ";")
}

// Clone returns a deep copy
func (r *Recur) Clone() *Recur {
	if r == nil {
		return nil
	}
	out := *r
	out.BySecond = slices.Clone(r.BySecond)
	out.ByMinute = slices.Clone(r.ByMinute)
	out.ByHour = slices.Clone(r.ByHour)
	out.ByDay = slices.Clone(r.ByDay)
	out.ByMonthDay = slices.Clone(r.ByMonthDay)
	out.ByYearDay = slices.Clone(r.ByYearDay)
	out.ByWeekNo = slices.Clone(r.ByWeekNo)
	out.ByMonth = slices.Clone(r.ByMonth)
	out.BySetPos = slices.Clone(r.BySetPos)
	return &out
}

// IsUnbounded reports whether the rule has neither COUNT nor UNTIL
func (r *Recur) IsUnbounded() bool {
	return r.Count.IsAbsent() && r.Until.IsAbsent()
}

// EffectiveInterval returns INTERVAL, defaulting to 1
func (r *Recur) EffectiveInterval() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// Equal compares two rules after normalizing defaults (INTERVAL=1, WKST=MO)
// and the order of BY* lists.
func (r *Recur) Equal(o *Recur) bool {
	if r == nil || o == nil {
		return r == nil && o == nil
	}
	a, b := r.normalized(), o.normalized()
	return a.String() == b.String()
}

func (r *Recur) normalized() *Recur {
	n := r.Clone()
	n.Interval = r.EffectiveInterval()
	if n.Wkst == "" {
		n.Wkst = "MO"
	}
	if n.Count.IsPresent() {
		n.Until = mo.None[DateTime]()
	}
	for _, l := range [][]int{n.BySecond, n.ByMinute, n.ByHour, n.ByMonthDay, n.ByYearDay, n.ByWeekNo, n.ByMonth, n.BySetPos} {
		slices.Sort(l)
	}
	slices.Sort(n.ByDay)
	return n
}

// SplitByDay splits a BYDAY entry such as "-1FR" into its ordinal and weekday.
// The ordinal is zero when absent.
func SplitByDay(entry string) (int, string) {
	m := byDayRe.FindStringSubmatch(entry)
	if m == nil {
		return 0, ""
	}
	n := 0
	if m[1] != "" {
		n, _ = strconv.Atoi(strings.TrimPrefix(m[1], "+"))
	}
	return n, m[2]
}

// WeekdayCode returns the two letter RRULE code for a weekday index where
// Sunday is 0, as time.Weekday.
func WeekdayCode(wd int) string {
	return weekdays[(wd+6)%7]
}
