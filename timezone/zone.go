// Package timezone converts between zoned wall clock values and UTC using
// per-zone transition tables.
package timezone

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
	_ "time/tzdata"
)

// ErrUnknownTimezone is returned for a TZID without transition data. There is
// no fallback to UTC.
var ErrUnknownTimezone = errors.New("unknown timezone")

var (
	// tables cover this window; outside of it the first and last offsets
	// apply
	probeStart = time.Date(1969, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	probeEnd   = time.Date(2040, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()

	zones sync.Map // map[string]*Zone
)

// Zone is a transition table: Offsets[i] (seconds east of UTC) is in effect
// for UTC instants before Untils[i] and at or after Untils[i-1]. The last
// entry of Untils is math.MaxInt64.
type Zone struct {
	ID      string
	Untils  []int64
	Offsets []int
	Names   []string
}

// Load returns the transition table for an IANA timezone id. Tables are built
// once per id and shared.
func Load(tzid string) (*Zone, error) {
	if tzid == "" {
		return nil, fmt.Errorf("%w: empty id", ErrUnknownTimezone)
	}
	if z, ok := zones.Load(tzid); ok {
		return z.(*Zone), nil
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTimezone, tzid)
	}
	z := buildZone(tzid, loc)
	actual, _ := zones.LoadOrStore(tzid, z)
	return actual.(*Zone), nil
}

// MustLoad is Load for ids known to exist
func MustLoad(tzid string) *Zone {
	z, err := Load(tzid)
	if err != nil {
		panic(err)
	}
	return z
}

func zoneAt(loc *time.Location, unix int64) (string, int) {
	return time.Unix(unix, 0).In(loc).Zone()
}

// buildZone walks the zone periods of loc with ZoneBounds, so transitions
// closer together than any probe step are all kept. Periods that only change
// the abbreviation are merged into their neighbour.
func buildZone(tzid string, loc *time.Location) *Zone {
	z := &Zone{ID: tzid}
	name, offset := zoneAt(loc, probeStart)
	for t := probeStart; t < probeEnd; {
		_, end := time.Unix(t, 0).In(loc).ZoneBounds()
		if end.IsZero() || end.Unix() <= t {
			break
		}
		t = end.Unix()
		nextName, nextOffset := zoneAt(loc, t)
		if nextOffset == offset {
			continue
		}
		z.Untils = append(z.Untils, t)
		z.Offsets = append(z.Offsets, offset)
		z.Names = append(z.Names, name)
		name, offset = nextName, nextOffset
	}
	z.Untils = append(z.Untils, math.MaxInt64)
	z.Offsets = append(z.Offsets, offset)
	z.Names = append(z.Names, name)
	return z
}

// index returns the table entry in effect at a UTC instant
func (z *Zone) index(unix int64) int {
	last := len(z.Untils) - 1
	for i := 0; i < last; i++ {
		if unix < z.Untils[i] {
			return i
		}
	}
	return last
}

// OffsetAt returns the UTC offset in seconds at a UTC instant
func (z *Zone) OffsetAt(t time.Time) int {
	return z.Offsets[z.index(t.Unix())]
}

// Options controls how wall clock values that do not map to exactly one
// instant are resolved.
type Options struct {
	// MoveAmbiguousForward picks the later of two instants for a wall clock
	// time repeated by a backward transition.
	MoveAmbiguousForward bool
	// MoveInvalidForward maps a wall clock time skipped by a forward
	// transition to the instant after the transition.
	MoveInvalidForward bool
}

// DefaultOptions resolves both cases forward
var DefaultOptions = Options{MoveAmbiguousForward: true, MoveInvalidForward: true}

// ToUTC converts a wall clock value, expressed as fake-UTC unix seconds, into
// a UTC instant.
func (z *Zone) ToUTC(local int64, opts Options) int64 {
	n := len(z.Untils)
	first, last := -1, -1
	for i := 0; i < n; i++ {
		utc := local - int64(z.Offsets[i])
		lower := int64(math.MinInt64)
		if i > 0 {
			lower = z.Untils[i-1]
		}
		if utc >= lower && utc < z.Untils[i] {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first >= 0 {
		if last != first && opts.MoveAmbiguousForward {
			return local - int64(z.Offsets[last])
		}
		return local - int64(z.Offsets[first])
	}
	for i := 0; i < n-1; i++ {
		before := local - int64(z.Offsets[i])
		after := local - int64(z.Offsets[i+1])
		if before >= z.Untils[i] && after < z.Untils[i] {
			if opts.MoveInvalidForward {
				return before
			}
			return after
		}
	}
	return local - int64(z.Offsets[n-1])
}

// FromUTC converts a UTC instant into fake-UTC wall clock seconds
func (z *Zone) FromUTC(utc int64) int64 {
	return utc + int64(z.Offsets[z.index(utc)])
}

// Transition is one offset change of a zone
type Transition struct {
	At         time.Time
	OffsetFrom int
	OffsetTo   int
	Name       string
}

// Transitions lists the offset changes with At in [from, to]
func (z *Zone) Transitions(from, to time.Time) []Transition {
	var out []Transition
	for i := 0; i < len(z.Untils)-1; i++ {
		at := time.Unix(z.Untils[i], 0).UTC()
		if at.Before(from) || at.After(to) {
			continue
		}
		out = append(out, Transition{
			At:         at,
			OffsetFrom: z.Offsets[i],
			OffsetTo:   z.Offsets[i+1],
			Name:       z.Names[i+1],
		})
	}
	return out
}
