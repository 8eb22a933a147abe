package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOccurrencesBetween(t *testing.T) {
	engine := NewEngine(WithConfig(DisabledCacheConfig))
	comp := event(t,
		"DTSTART:20190330T023000Z",
		"RRULE:FREQ=DAILY;COUNT=10")
	occurrences, err := engine.ExpandUntil(comp, &OccurrenceCache{}, utc(2019, 5, 1, 0, 0))
	require.NoError(t, err)
	require.Len(t, occurrences, 10)

	start, end := utc(2019, 4, 1, 0, 0), utc(2019, 4, 2, 0, 0)

	tests := []struct {
		name     string
		duration time.Duration
		want     []time.Time
	}{
		{
			name:     "half hour",
			duration: 30 * time.Minute,
			want:     []time.Time{utc(2019, 4, 1, 2, 30)},
		},
		{
			name:     "one day reaches back",
			duration: 24 * time.Hour,
			want:     []time.Time{utc(2019, 3, 31, 2, 30), utc(2019, 4, 1, 2, 30)},
		},
		{
			name:     "instant",
			duration: 0,
			want:     []time.Time{utc(2019, 4, 1, 2, 30)},
		},
		{
			name:     "three days",
			duration: 72 * time.Hour,
			want: []time.Time{
				utc(2019, 3, 30, 2, 30),
				utc(2019, 3, 31, 2, 30),
				utc(2019, 4, 1, 2, 30),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OccurrencesBetween(occurrences, tt.duration, start, end))
		})
	}
}

func TestOccurrencesBetween_Boundaries(t *testing.T) {
	ts := []time.Time{utc(2020, 1, 1, 10, 0), utc(2020, 1, 2, 10, 0)}

	// an occurrence ending exactly at the window start overlaps it
	got := OccurrencesBetween(ts, time.Hour, utc(2020, 1, 1, 11, 0), utc(2020, 1, 1, 12, 0))
	assert.Equal(t, []time.Time{utc(2020, 1, 1, 10, 0)}, got)

	// as does one starting exactly at the window end
	got = OccurrencesBetween(ts, time.Hour, utc(2020, 1, 2, 9, 0), utc(2020, 1, 2, 10, 0))
	assert.Equal(t, []time.Time{utc(2020, 1, 2, 10, 0)}, got)

	assert.Empty(t, OccurrencesBetween(ts, time.Hour, utc(2020, 1, 3, 0, 0), utc(2020, 1, 4, 0, 0)))
	assert.Empty(t, OccurrencesBetween(nil, time.Hour, utc(2020, 1, 3, 0, 0), utc(2020, 1, 4, 0, 0)))
}
