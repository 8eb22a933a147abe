package invite

import (
	"fmt"
	"time"

	"github.com/cyp0633/libcalseal/vcal"
)

const (
	MaxUIDLength         = 191
	MaxSummaryLength     = 255
	MaxLocationLength    = 255
	MaxDescriptionLength = 3000
	MaxAttendees         = 100
	MaxAlarms            = 10
	MaxCount             = 500

	minDate = "19700101"
	maxDate = "20371231"
)

// maximum INTERVAL per supported FREQ
var maxIntervals = map[string]int{
	vcal.FreqDaily:   1000,
	vcal.FreqWeekly:  5000,
	vcal.FreqMonthly: 1000,
	vcal.FreqYearly:  100,
}

// alarms further than this from the event are dropped
const maxTriggerWeeks = 10000

var (
	// Parsed date limits, validated at package initialization
	minStart vcal.DateTime
	maxStart vcal.DateTime
)

func init() {
	var err error
	minStart, err = vcal.ParseDateTime(minDate)
	if err != nil {
		panic(fmt.Sprintf("invalid minDate constant: %v", err))
	}
	maxStart, err = vcal.ParseDateTime(maxDate)
	if err != nil {
		panic(fmt.Sprintf("invalid maxDate constant: %v", err))
	}
}

// inRange reports whether the day of t lies within [1970-01-01, 2037-12-31]
func inRange(t time.Time) bool {
	day := vcal.NewDate(t.Year(), t.Month(), t.Day())
	return day.Compare(minStart) >= 0 && day.Compare(maxStart) <= 0
}
