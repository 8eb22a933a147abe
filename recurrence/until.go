package recurrence

import (
	"time"

	"github.com/samber/mo"

	"github.com/cyp0633/libcalseal/vcal"
)

// WithRruleUntil normalizes the UNTIL of rule against dtstart and returns a
// new rule. All-day events and DATE values get the end of day in the shape of
// dtstart. Otherwise UNTIL moves to the end of its local day, or to the end
// of the previous day when the last day has no occurrence at all. The result
// always has the shape of dtstart.
func (e *Engine) WithRruleUntil(rule *vcal.Recur, dtstart *vcal.Property) (*vcal.Recur, error) {
	if rule == nil {
		return nil, nil
	}
	out := rule.Clone()
	until, ok := rule.Until.Get()
	if !ok {
		return out, nil
	}
	f, err := newFrame(dtstart)
	if err != nil {
		return nil, err
	}
	local, err := f.local(until, "")
	if err != nil {
		return nil, err
	}
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	inclusive := day.Add(24*time.Hour - time.Second)

	if f.allDay || until.IsDate {
		out.Until = mo.Some(f.shape(inclusive))
		return out, nil
	}

	exclusive := day.Add(-time.Second)
	gap, err := e.occurrencesIn(rule, f, exclusive, inclusive)
	if err != nil {
		return nil, err
	}
	if len(gap) == 0 {
		out.Until = mo.Some(f.shape(exclusive))
	} else {
		out.Until = mo.Some(f.shape(inclusive))
	}
	return out, nil
}

// occurrencesIn lists the local starts of rule, without its UNTIL, in
// (after, upTo].
func (e *Engine) occurrencesIn(rule *vcal.Recur, f frame, after, upTo time.Time) ([]time.Time, error) {
	unbounded := rule.Clone()
	unbounded.Until = mo.None[vcal.DateTime]()
	next, err := f.iterator(unbounded)
	if err != nil {
		return nil, err
	}
	var out []time.Time
	for i := 0; i < e.config.SubsetMaxOccurrences*10; i++ {
		t, ok := next()
		if !ok || t.After(upTo) {
			break
		}
		if t.After(after) {
			out = append(out, t)
		}
	}
	return out, nil
}
