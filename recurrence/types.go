package recurrence

import (
	"time"
)

// TimeOccurrence represents a single occurrence of an event in time
type TimeOccurrence struct {
	Start time.Time // Start time of this occurrence, UTC
	End   time.Time // End time of this occurrence, UTC
}
