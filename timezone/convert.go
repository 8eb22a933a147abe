package timezone

import (
	"fmt"
	"time"

	"github.com/cyp0633/libcalseal/vcal"
)

// ToUTC reads the fields of a value as a UTC instant, ignoring any zone
func ToUTC(dt vcal.DateTime) time.Time {
	return dt.Time()
}

// ToLocal reads the fields of a value in the process' local zone
func ToLocal(dt vcal.DateTime) time.Time {
	return time.Date(dt.Year, dt.Month, dt.Day, dt.Hour, dt.Minute, dt.Second, 0, time.Local)
}

// ConvertZonedToUTC converts a wall clock date-time in tzid into a UTC
// date-time. Options default to DefaultOptions.
func ConvertZonedToUTC(dt vcal.DateTime, tzid string, opts ...Options) (vcal.DateTime, error) {
	o := DefaultOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	z, err := Load(tzid)
	if err != nil {
		return vcal.DateTime{}, err
	}
	utc := z.ToUTC(dt.Time().Unix(), o)
	return vcal.FromUTCTime(time.Unix(utc, 0)), nil
}

// ConvertUTCToZoned converts a UTC date-time into wall clock fields in tzid.
// The result is a floating date-time meant to carry a TZID parameter.
func ConvertUTCToZoned(dt vcal.DateTime, tzid string) (vcal.DateTime, error) {
	z, err := Load(tzid)
	if err != nil {
		return vcal.DateTime{}, err
	}
	local := z.FromUTC(dt.Time().Unix())
	return vcal.FromTime(time.Unix(local, 0).UTC(), false), nil
}

// InstantToZoned converts a UTC instant into wall clock fields in tzid
func InstantToZoned(t time.Time, tzid string) (vcal.DateTime, error) {
	return ConvertUTCToZoned(vcal.FromUTCTime(t), tzid)
}

// PropertyToUTC resolves a DATE / DATE-TIME property to an instant. DATE
// values are floating and map to midnight UTC of their day. UTC values are
// returned as is, zoned values are converted through their TZID, and floating
// date-times are interpreted in floatingTZID (or as UTC when that is empty).
func PropertyToUTC(p *vcal.Property, floatingTZID string) (time.Time, error) {
	if p == nil {
		return time.Time{}, fmt.Errorf("missing date property")
	}
	switch p.Kind {
	case vcal.KindDate:
		return p.DateTime.Date().Time(), nil
	case vcal.KindDateTime:
	default:
		return time.Time{}, fmt.Errorf("property %s is not a date (%s)", p.Name, p.Kind)
	}
	if p.DateTime.IsUTC {
		return p.DateTime.Time(), nil
	}
	tzid := p.TZID()
	if tzid == "" {
		tzid = floatingTZID
	}
	if tzid == "" {
		return p.DateTime.Time(), nil
	}
	utc, err := ConvertZonedToUTC(p.DateTime, tzid)
	if err != nil {
		return time.Time{}, err
	}
	return utc.Time(), nil
}

// PropertyToLocal returns the wall clock of a property in the zone given by
// tzid as a fake-UTC time. UTC values are moved into tzid; all other shapes
// keep their fields.
func PropertyToLocal(p *vcal.Property, tzid string) (time.Time, error) {
	if p.Kind == vcal.KindDateTime && p.DateTime.IsUTC && tzid != "" {
		local, err := ConvertUTCToZoned(p.DateTime, tzid)
		if err != nil {
			return time.Time{}, err
		}
		return local.Time(), nil
	}
	if p.Kind == vcal.KindDateTime && p.TZID() != "" && tzid != "" && p.TZID() != tzid {
		utc, err := ConvertZonedToUTC(p.DateTime, p.TZID())
		if err != nil {
			return time.Time{}, err
		}
		local, err := ConvertUTCToZoned(utc, tzid)
		if err != nil {
			return time.Time{}, err
		}
		return local.Time(), nil
	}
	return p.DateTime.Time(), nil
}
