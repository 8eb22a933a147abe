package recurrence

import (
	"fmt"
	"math"
	"time"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/libcalseal/timezone"
	"github.com/cyp0633/libcalseal/vcal"
)

// EventDuration returns the length of one occurrence: DTEND - DTSTART, else
// DURATION, else one day for all-day events and zero for timed ones.
func EventDuration(comp *vcal.Component) (time.Duration, error) {
	dtstart := comp.DTStart()
	if dtstart == nil {
		return 0, ErrMissingStart
	}
	if dtend := comp.DTEnd(); dtend != nil {
		start, err := timezone.PropertyToUTC(dtstart, "")
		if err != nil {
			return 0, err
		}
		end, err := timezone.PropertyToUTC(dtend, "")
		if err != nil {
			return 0, err
		}
		if end.Before(start) {
			return 0, nil
		}
		return end.Sub(start), nil
	}
	if p := comp.Get(ical.PropDuration); p != nil && p.Kind == vcal.KindDuration {
		return p.Duration.Std(), nil
	}
	if dtstart.IsAllDay() {
		return 24 * time.Hour, nil
	}
	return 0, nil
}

// OccurrencesInRange expands comp and returns the occurrences overlapping
// [rangeStart, rangeEnd].
func (e *Engine) OccurrencesInRange(comp *vcal.Component, rangeStart, rangeEnd time.Time) ([]TimeOccurrence, error) {
	duration, err := EventDuration(comp)
	if err != nil {
		return nil, err
	}
	starts, err := e.expandAll(comp, rangeEnd, math.MaxInt)
	if err != nil {
		return nil, fmt.Errorf("failed to expand %s: %w", comp.UID(), err)
	}
	var out []TimeOccurrence
	for _, t := range OccurrencesBetween(starts, duration, rangeStart, rangeEnd) {
		out = append(out, TimeOccurrence{Start: t, End: t.Add(duration)})
	}
	return out, nil
}

// HasOccurrenceInRange checks if an event has any occurrence in the time
// range. Answers are memoized when the engine cache is enabled.
func (e *Engine) HasOccurrenceInRange(comp *vcal.Component, rangeStart, rangeEnd time.Time) (bool, error) {
	var key string
	if e.cache != nil {
		key = cacheKey(comp, rangeStart, rangeEnd)
		if result, ok := e.cache.Get(key); ok {
			return result, nil
		}
	}
	occurrences, err := e.OccurrencesInRange(comp, rangeStart, rangeEnd)
	if err != nil {
		return false, err
	}
	result := len(occurrences) > 0
	if e.cache != nil {
		e.cache.Set(key, result)
	}
	return result, nil
}
