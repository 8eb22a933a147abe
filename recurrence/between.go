package recurrence

import (
	"sort"
	"time"
)

// OccurrencesBetween returns the starts in sorted whose interval
// [t, t+duration] overlaps [start, end]. Events lasting a day or more are
// filtered linearly so that long events starting before the window are not
// missed; shorter events are located with a binary search.
func OccurrencesBetween(sorted []time.Time, duration time.Duration, start, end time.Time) []time.Time {
	overlaps := func(t time.Time) bool {
		return !t.After(end) && !t.Add(duration).Before(start)
	}

	var out []time.Time
	if duration >= 24*time.Hour {
		for _, t := range sorted {
			if overlaps(t) {
				out = append(out, t)
			}
		}
		return out
	}

	lo := sort.Search(len(sorted), func(i int) bool {
		return !sorted[i].Add(duration).Before(start)
	})
	hi := sort.Search(len(sorted), func(i int) bool {
		return sorted[i].After(end)
	})
	for _, t := range sorted[lo:max(lo, hi)] {
		if overlaps(t) {
			out = append(out, t)
		}
	}
	return out
}
