package vcal

import (
	"strings"

	"github.com/emersion/go-ical"
)

// ValueKind tags the shape of a property value
type ValueKind int

const (
	KindText ValueKind = iota
	KindDate
	KindDateTime
	KindDuration
	KindPeriod
	KindRecur
	KindInteger
	KindCalAddress
	KindURI
	KindUTCOffset
	KindList
)

func (k ValueKind) String() string {
	switch k {
	case KindDate:
		return "date"
	case KindDateTime:
		return "date-time"
	case KindDuration:
		return "duration"
	case KindPeriod:
		return "period"
	case KindRecur:
		return "recur"
	case KindInteger:
		return "integer"
	case KindCalAddress:
		return "cal-address"
	case KindURI:
		return "uri"
	case KindUTCOffset:
		return "utc-offset"
	case KindList:
		return "list"
	default:
		return "text"
	}
}

// Property names used outside of go-ical's constant set
const (
	PropCategories    = "CATEGORIES"
	PropColor         = "COLOR"
	PropAttach        = "ATTACH"
	PropRepeat        = "REPEAT"
	PropFreeBusy      = "FREEBUSY"
	PropTimezoneName  = "TZNAME"
	PropXWRTimezone   = "X-WR-TIMEZONE"
	PropXPMSessionKey = "X-PM-SESSION-KEY"
)

// Parameter names specific to the encrypted event protocol
const (
	ParamToken       = "X-PM-TOKEN"
	ParamPermissions = "X-PM-PERMISSIONS"
)

// propertyKinds is the fixed property -> value type table. Properties absent
// from the table are extensions and always hold raw text.
var propertyKinds = map[string]ValueKind{
	ical.PropCalendarScale:      KindText,
	ical.PropMethod:             KindText,
	ical.PropProductID:          KindText,
	ical.PropVersion:            KindText,
	ical.PropUID:                KindText,
	ical.PropSummary:            KindText,
	ical.PropDescription:        KindText,
	ical.PropLocation:           KindText,
	ical.PropComment:            KindText,
	ical.PropStatus:             KindText,
	ical.PropTransparency:       KindText,
	ical.PropClass:              KindText,
	ical.PropAction:             KindText,
	ical.PropTimezoneID:         KindText,
	PropTimezoneName:            KindText,
	PropColor:                   KindText,
	PropCategories:              KindList,
	ical.PropDateTimeStart:      KindDateTime,
	ical.PropDateTimeEnd:        KindDateTime,
	ical.PropDateTimeStamp:      KindDateTime,
	ical.PropDue:                KindDateTime,
	ical.PropCreated:            KindDateTime,
	ical.PropLastModified:       KindDateTime,
	ical.PropRecurrenceID:       KindDateTime,
	ical.PropExceptionDates:     KindDateTime,
	ical.PropRecurrenceDates:    KindDateTime,
	ical.PropDuration:           KindDuration,
	ical.PropTrigger:            KindDuration,
	ical.PropRecurrenceRule:     KindRecur,
	ical.PropSequence:           KindInteger,
	ical.PropPriority:           KindInteger,
	PropRepeat:                  KindInteger,
	ical.PropOrganizer:          KindCalAddress,
	ical.PropAttendee:           KindCalAddress,
	ical.PropURL:                KindURI,
	PropAttach:                  KindURI,
	ical.PropTimezoneOffsetFrom: KindUTCOffset,
	ical.PropTimezoneOffsetTo:   KindUTCOffset,
	PropFreeBusy:                KindPeriod,
}

// uniqueProperties may appear at most once per component. Everything else,
// extensions included, is multi-valued.
var uniqueProperties = map[string]bool{
	ical.PropCalendarScale:      true,
	ical.PropMethod:             true,
	ical.PropProductID:          true,
	ical.PropVersion:            true,
	ical.PropUID:                true,
	ical.PropSummary:            true,
	ical.PropDescription:        true,
	ical.PropLocation:           true,
	ical.PropStatus:             true,
	ical.PropTransparency:       true,
	ical.PropClass:              true,
	ical.PropAction:             true,
	ical.PropTimezoneID:         true,
	PropColor:                   true,
	ical.PropDateTimeStart:      true,
	ical.PropDateTimeEnd:        true,
	ical.PropDateTimeStamp:      true,
	ical.PropDue:                true,
	ical.PropCreated:            true,
	ical.PropLastModified:       true,
	ical.PropRecurrenceID:       true,
	ical.PropDuration:           true,
	ical.PropTrigger:            true,
	ical.PropRecurrenceRule:     true,
	ical.PropSequence:           true,
	ical.PropPriority:           true,
	PropRepeat:                  true,
	ical.PropOrganizer:          true,
	ical.PropURL:                true,
	ical.PropTimezoneOffsetFrom: true,
	ical.PropTimezoneOffsetTo:   true,
	PropXPMSessionKey:           true,
}

// IsKnown reports whether name has an entry in the property type table
func IsKnown(name string) bool {
	_, ok := propertyKinds[strings.ToUpper(name)]
	return ok
}

// IsUnique reports whether the property may appear only once
func IsUnique(name string) bool {
	return uniqueProperties[strings.ToUpper(name)]
}

// kindOf resolves the value type of a property, honoring VALUE= overrides
func kindOf(name string, params ical.Params) ValueKind {
	kind, ok := propertyKinds[name]
	if !ok {
		return KindText
	}
	valueType := strings.ToUpper(params.Get(ical.ParamValue))
	switch kind {
	case KindDateTime:
		if valueType == string(ical.ValueDate) {
			return KindDate
		}
		if valueType == string(ical.ValuePeriod) {
			return KindPeriod
		}
	case KindDuration:
		if valueType == string(ical.ValueDateTime) {
			return KindDateTime
		}
	case KindURI:
		if valueType == string(ical.ValueBinary) {
			return KindText
		}
	}
	return kind
}
