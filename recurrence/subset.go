package recurrence

import (
	"slices"
	"time"

	"github.com/cyp0633/libcalseal/vcal"
)

// GetIsRruleEqual reports whether two events carry the same recurrence rule.
// Two events without a rule are equal.
func GetIsRruleEqual(newEvent, oldEvent *vcal.Component) bool {
	a, b := newEvent.RRule(), oldEvent.RRule()
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

// GetIsRruleSubset reports whether the occurrences of newEvent may replace
// those of oldEvent without creating new ones. An unbounded WEEKLY rule is
// checked on its BYDAY set only. Every other rule is compared by expanding
// both and requiring the same starts, so the check is stricter than set
// inclusion.
func (e *Engine) GetIsRruleSubset(newEvent, oldEvent *vcal.Component) bool {
	newRule, oldRule := newEvent.RRule(), oldEvent.RRule()
	if newRule == nil || oldRule == nil {
		return newRule == nil && oldRule == nil
	}
	if newRule.Equal(oldRule) {
		return true
	}
	if newRule.Freq != oldRule.Freq {
		return false
	}

	if newRule.IsUnbounded() && newRule.Freq == vcal.FreqWeekly {
		newDays, ok := weekdaySet(newRule, newEvent)
		if !ok {
			return false
		}
		oldDays, ok := weekdaySet(oldRule, oldEvent)
		if !ok {
			return false
		}
		if len(newDays) < 2 && oldRule.IsUnbounded() {
			return true
		}
		for _, d := range newDays {
			if !slices.Contains(oldDays, d) {
				return false
			}
		}
		return true
	}

	newOccurrences, err := e.expandAll(newEvent, expansionHorizon, e.config.SubsetMaxOccurrences)
	if err != nil || len(newOccurrences) == 0 {
		e.logger.Debug("subset check failed to expand new rule",
			"uid", newEvent.UID(),
			"error", err)
		return false
	}
	last := newOccurrences[len(newOccurrences)-1]
	oldOccurrences, err := e.expandAll(oldEvent, last, e.config.SubsetMaxOccurrences)
	if err != nil {
		e.logger.Debug("subset check failed to expand old rule",
			"uid", oldEvent.UID(),
			"error", err)
		return false
	}
	return slices.EqualFunc(newOccurrences, oldOccurrences, func(a, b time.Time) bool {
		return a.Equal(b)
	})
}

// weekdaySet returns the plain weekdays of a WEEKLY rule; an empty BYDAY
// means the weekday of DTSTART. Ordinal entries are not comparable.
func weekdaySet(r *vcal.Recur, event *vcal.Component) ([]string, bool) {
	if len(r.ByDay) == 0 {
		dtstart := event.DTStart()
		if dtstart == nil {
			return nil, false
		}
		return []string{vcal.WeekdayCode(int(dtstart.DateTime.Time().Weekday()))}, true
	}
	days := make([]string, 0, len(r.ByDay))
	for _, entry := range r.ByDay {
		n, code := vcal.SplitByDay(entry)
		if n != 0 {
			return nil, false
		}
		days = append(days, code)
	}
	return days, true
}
