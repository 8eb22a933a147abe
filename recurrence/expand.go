package recurrence

import (
	"time"

	"github.com/samber/mo"
	"github.com/teambition/rrule-go"

	"github.com/cyp0633/libcalseal/vcal"
)

// OccurrenceCache is the resumable state of one expansion. The zero value is
// ready to use; it belongs to a single caller and a single component, and is
// not safe for concurrent use.
type OccurrenceCache struct {
	initialized bool
	frame       frame
	startUTC    time.Time
	next        rrule.Next
	excluded    exclusions
	timestamps  []time.Time
	pending     mo.Option[time.Time]
	done        bool
}

// DTStartUTC returns the instant of the first occurrence seen by the cache
func (c *OccurrenceCache) DTStartUTC() time.Time {
	return c.startUTC
}

// Timestamps returns the occurrence starts accumulated so far, sorted, in UTC
func (c *OccurrenceCache) Timestamps() []time.Time {
	return c.timestamps
}

// Done reports whether the rule has no further occurrences
func (c *OccurrenceCache) Done() bool {
	return c.done
}

// covers reports whether the accumulated timestamps are complete up to end
func (c *OccurrenceCache) covers(end time.Time) bool {
	if c.done {
		return true
	}
	if p, ok := c.pending.Get(); ok {
		return p.After(end)
	}
	return false
}

func (e *Engine) initCache(comp *vcal.Component, cache *OccurrenceCache) error {
	f, err := newFrame(comp.DTStart())
	if err != nil {
		return err
	}
	ex, err := f.exclusions(comp)
	if err != nil {
		return err
	}
	cache.frame = f
	cache.excluded = ex
	cache.startUTC = f.toUTC(f.start)

	if r := comp.RRule(); r != nil {
		next, err := f.iterator(r)
		if err != nil {
			return err
		}
		cache.next = next
	} else {
		// a single occurrence
		emitted := false
		start := f.start
		cache.next = func() (time.Time, bool) {
			if emitted {
				return time.Time{}, false
			}
			emitted = true
			return start, true
		}
	}
	cache.initialized = true
	return nil
}

// ExpandUntil extends the expansion held in cache up to endUTC and returns
// every occurrence start accumulated so far. It returns nil if the first
// occurrence is after endUTC. A single call generates at most
// MaxGeneratedPerCall values; callers needing more call again with the same
// cache.
func (e *Engine) ExpandUntil(comp *vcal.Component, cache *OccurrenceCache, endUTC time.Time) ([]time.Time, error) {
	if !cache.initialized {
		if err := e.initCache(comp, cache); err != nil {
			return nil, err
		}
	}
	if cache.startUTC.After(endUTC) {
		return nil, nil
	}
	if cache.covers(endUTC) {
		return cache.timestamps, nil
	}
	if p, ok := cache.pending.Get(); ok {
		cache.timestamps = append(cache.timestamps, p)
		cache.pending = mo.None[time.Time]()
	}

	for generated := 0; ; generated++ {
		if generated >= e.config.MaxGeneratedPerCall {
			e.logger.Debug("expansion capped",
				"uid", comp.UID(),
				"generated", generated,
				"end", endUTC)
			break
		}
		local, ok := cache.next()
		if !ok {
			cache.done = true
			break
		}
		if cache.excluded.has(local) {
			continue
		}
		utc := cache.frame.toUTC(local)
		if utc.After(endUTC) {
			cache.pending = mo.Some(utc)
			break
		}
		cache.timestamps = append(cache.timestamps, utc)
	}
	return cache.timestamps, nil
}

// expandAll expands a component up to end, calling ExpandUntil until the
// cache covers end or limit occurrences are collected.
func (e *Engine) expandAll(comp *vcal.Component, end time.Time, limit int) ([]time.Time, error) {
	cache := &OccurrenceCache{}
	for {
		ts, err := e.ExpandUntil(comp, cache, end)
		if err != nil {
			return nil, err
		}
		if cache.startUTC.After(end) {
			return nil, nil
		}
		if cache.covers(end) || len(ts) >= limit {
			if len(ts) > limit {
				ts = ts[:limit]
			}
			return ts, nil
		}
	}
}
