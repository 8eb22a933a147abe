package recurrence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetIsRruleSubset(t *testing.T) {
	engine := NewEngine(WithConfig(DisabledCacheConfig))
	const start = "DTSTART;TZID=Europe/Zurich:20200106T100000" // a Monday

	tests := []struct {
		name     string
		newRule  string
		oldRule  string
		expected bool
	}{
		{"both without rule", "", "", true},
		{"rule added", "RRULE:FREQ=DAILY", "", false},
		{"rule removed", "", "RRULE:FREQ=DAILY", false},
		{"identical", "RRULE:FREQ=DAILY;COUNT=3", "RRULE:FREQ=DAILY;COUNT=3", true},
		{"bounded inside unbounded", "RRULE:FREQ=DAILY;COUNT=10", "RRULE:FREQ=DAILY", true},
		{"unbounded over bounded", "RRULE:FREQ=DAILY", "RRULE:FREQ=DAILY;COUNT=10", false},
		{"shorter count", "RRULE:FREQ=DAILY;COUNT=5", "RRULE:FREQ=DAILY;COUNT=10", true},
		{"longer count", "RRULE:FREQ=DAILY;COUNT=10", "RRULE:FREQ=DAILY;COUNT=5", false},
		{"until inside count", "RRULE:FREQ=DAILY;UNTIL=20200108T090000Z", "RRULE:FREQ=DAILY;COUNT=5", true},
		{"different freq", "RRULE:FREQ=WEEKLY;COUNT=2", "RRULE:FREQ=DAILY", false},
		{"different interval", "RRULE:FREQ=DAILY;INTERVAL=2;COUNT=3", "RRULE:FREQ=DAILY", false},
		{"weekly fewer days", "RRULE:FREQ=WEEKLY;BYDAY=MO,WE", "RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR", true},
		{"weekly other days", "RRULE:FREQ=WEEKLY;BYDAY=MO,FR", "RRULE:FREQ=WEEKLY;BYDAY=MO,WE", false},
		{"weekly single day", "RRULE:FREQ=WEEKLY;BYDAY=TU", "RRULE:FREQ=WEEKLY;BYDAY=MO", true},
		{"weekly more days", "RRULE:FREQ=WEEKLY;BYDAY=MO,WE", "RRULE:FREQ=WEEKLY;BYDAY=WE", false},
		{"weekly single day against bounded", "RRULE:FREQ=WEEKLY;BYDAY=TU", "RRULE:FREQ=WEEKLY;BYDAY=MO;COUNT=4", false},
		{"weekly included days against bounded", "RRULE:FREQ=WEEKLY;BYDAY=MO", "RRULE:FREQ=WEEKLY;BYDAY=MO,WE;COUNT=4", true},
		{"weekly single day ignores interval", "RRULE:FREQ=WEEKLY;BYDAY=TU", "RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=MO", true},
		{"unbounded monthly with same days", "RRULE:FREQ=MONTHLY;BYMONTHDAY=6", "RRULE:FREQ=MONTHLY", true},
		{"unbounded monthly with other days", "RRULE:FREQ=MONTHLY;BYMONTHDAY=7", "RRULE:FREQ=MONTHLY", false},
		{"unbounded daily over bounded", "RRULE:FREQ=DAILY;INTERVAL=2", "RRULE:FREQ=DAILY;INTERVAL=2;COUNT=3", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newLines, oldLines := []string{start}, []string{start}
			if tt.newRule != "" {
				newLines = append(newLines, tt.newRule)
			}
			if tt.oldRule != "" {
				oldLines = append(oldLines, tt.oldRule)
			}
			assert.Equal(t, tt.expected, engine.GetIsRruleSubset(event(t, newLines...), event(t, oldLines...)))
		})
	}
}

func TestGetIsRruleEqual(t *testing.T) {
	a := event(t, "DTSTART:20200106T100000Z", "RRULE:FREQ=WEEKLY;BYDAY=WE,MO")
	b := event(t, "DTSTART:20200106T100000Z", "RRULE:FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,WE")
	c := event(t, "DTSTART:20200106T100000Z")

	assert.True(t, GetIsRruleEqual(a, b))
	assert.False(t, GetIsRruleEqual(a, c))
	assert.True(t, GetIsRruleEqual(c, c))
}
