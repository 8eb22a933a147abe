package invite

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedMethod is returned for invite methods other than REQUEST and REPLY
	ErrUnsupportedMethod = errors.New("unsupported invite method")
	// ErrAttendeeNotFound is returned when a reply names an address that is not invited
	ErrAttendeeNotFound = errors.New("attendee not found")
	// ErrUnsupportedCalendar is returned for calendars using a non-Gregorian scale
	ErrUnsupportedCalendar = errors.New("unsupported calendar scale")
)

// ImportErrorKind classifies why a component was rejected
type ImportErrorKind string

const (
	KindUnsupportedComponent ImportErrorKind = "unsupported_component"
	KindMissingStart         ImportErrorKind = "missing_start"
	KindFloatingTime         ImportErrorKind = "floating_time"
	KindUnknownTimezone      ImportErrorKind = "unknown_timezone"
	KindOutOfRange           ImportErrorKind = "out_of_range"
	KindInvalidEnd           ImportErrorKind = "invalid_end"
	KindInvalidRecurrence    ImportErrorKind = "invalid_recurrence"
	KindInvalidExDate        ImportErrorKind = "invalid_exdate"
	KindTooManyAttendees     ImportErrorKind = "too_many_attendees"
	KindDuplicateAttendee    ImportErrorKind = "duplicate_attendee"
)

// ImportError reports one rejected component
type ImportError struct {
	Kind ImportErrorKind
	// ComponentID is the UID of the component, or its position when it has none
	ComponentID string
	Err         error
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.ComponentID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.ComponentID, e.Kind)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}
