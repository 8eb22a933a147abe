package vcal

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/emersion/go-ical"
)

// ProductID is written into every VCALENDAR this package serializes when the
// component does not carry its own PRODID.
const ProductID = "-//github.com/cyp0633/libcalseal//NONSGML v1.0//EN"

// ErrNoEvent is returned by ParseEvent when the input holds no VEVENT
var ErrNoEvent = errors.New("no VEVENT found")

// PropertyError reports a property whose value did not match its type. The
// property is still kept with its raw value as text.
type PropertyError struct {
	Name  string
	Value string
	Err   error
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("property %s: value %q: %v", e.Name, e.Value, e.Err)
}

func (e *PropertyError) Unwrap() error {
	return e.Err
}

// Parse decodes iCalendar text. Empty input yields an empty component and no
// error. Input that cannot be tokenized yields an empty component and the
// decode error. Input that does not start with BEGIN:VCALENDAR is treated as
// a bare component and returned unwrapped.
//
// Properties whose value does not match the property type table are kept as
// raw text and reported through the returned error (a join of
// *PropertyError); the component is still usable in that case.
func Parse(text string) (*Component, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return NewComponent(""), nil
	}
	bare := !strings.HasPrefix(strings.ToUpper(trimmed), "BEGIN:"+ical.CompCalendar)
	if bare {
		trimmed = "BEGIN:" + ical.CompCalendar + "\r\n" + trimmed + "\r\nEND:" + ical.CompCalendar
	}
	cal, err := ical.NewDecoder(strings.NewReader(trimmed + "\r\n")).Decode()
	if err != nil {
		return NewComponent(""), fmt.Errorf("failed to decode calendar: %w", err)
	}
	var propErrs []error
	root := fromICal(cal.Component, &propErrs)
	if bare {
		if len(root.Children) == 0 {
			return NewComponent(""), errors.New("failed to decode calendar: no component")
		}
		root = root.Children[0]
	}
	return root, errors.Join(propErrs...)
}

// ParseEvent parses text and returns its first VEVENT
func ParseEvent(text string) (*Component, error) {
	root, err := Parse(text)
	if root.Name == ical.CompEvent {
		return root, err
	}
	if events := root.Components(ical.CompEvent); len(events) > 0 {
		return events[0], err
	}
	if err != nil {
		return nil, err
	}
	return nil, ErrNoEvent
}

func fromICal(comp *ical.Component, propErrs *[]error) *Component {
	out := NewComponent(comp.Name)
	for name, props := range comp.Props {
		name = strings.ToUpper(name)
		for _, raw := range props {
			for _, p := range fromICalProp(name, raw, propErrs) {
				if IsUnique(name) && out.Has(name) {
					continue
				}
				b := out.bucket(name)
				b[name] = append(b[name], p)
			}
		}
	}
	for _, child := range comp.Children {
		out.Children = append(out.Children, fromICal(child, propErrs))
	}
	return out
}

// fromICalProp converts one content line. EXDATE and RDATE lists are split
// so that every returned property holds exactly one value.
func fromICalProp(name string, raw ical.Prop, propErrs *[]error) []Property {
	params := cloneParams(raw.Params)
	kind := kindOf(name, params)
	if params != nil {
		params.Del(ical.ParamValue)
		if len(params) == 0 {
			params = nil
		}
	}
	base := Property{Name: name, Kind: kind, Params: params}

	fallback := func(err error) []Property {
		*propErrs = append(*propErrs, &PropertyError{Name: name, Value: raw.Value, Err: err})
		p := base
		p.Kind = KindText
		p.Text = raw.Value
		if raw.Params.Get(ical.ParamValue) != "" {
			p.SetParam(ical.ParamValue, raw.Params.Get(ical.ParamValue))
		}
		return []Property{p}
	}

	switch kind {
	case KindDate, KindDateTime:
		values := []string{raw.Value}
		if name == ical.PropExceptionDates || name == ical.PropRecurrenceDates {
			values = strings.Split(raw.Value, ",")
		}
		out := make([]Property, 0, len(values))
		for _, v := range values {
			dt, err := ParseDateTime(v)
			if err != nil {
				return fallback(err)
			}
			p := base.Clone()
			p.DateTime = dt
			p.Kind = KindDateTime
			if dt.IsDate {
				p.Kind = KindDate
				p.DelParam(ical.ParamTimezoneID)
			} else if dt.IsUTC {
				p.DelParam(ical.ParamTimezoneID)
			}
			out = append(out, p)
		}
		return out
	case KindDuration:
		d, err := ParseDuration(raw.Value)
		if err != nil {
			return fallback(err)
		}
		base.Duration = d
	case KindPeriod:
		pd, err := ParsePeriod(raw.Value)
		if err != nil {
			return fallback(err)
		}
		base.Period = pd
	case KindRecur:
		r, err := ParseRecur(raw.Value)
		if err != nil {
			return fallback(err)
		}
		base.Recur = r
	case KindInteger:
		n, err := strconv.Atoi(strings.TrimSpace(raw.Value))
		if err != nil {
			return fallback(err)
		}
		base.Int = n
	case KindList:
		for _, item := range splitTextList(raw.Value) {
			base.List = append(base.List, unescapeText(item))
		}
	case KindText:
		if IsKnown(name) {
			base.Text = unescapeText(raw.Value)
		} else {
			base.Text = raw.Value
		}
	default:
		base.Text = raw.Value
	}
	return []Property{base}
}

func cloneParams(params ical.Params) ical.Params {
	if len(params) == 0 {
		return nil
	}
	out := make(ical.Params, len(params))
	for k, v := range params {
		out[strings.ToUpper(k)] = append([]string(nil), v...)
	}
	return out
}

func unescapeText(raw string) string {
	p := ical.NewProp("X-TEXT")
	p.Value = raw
	text, err := p.Text()
	if err != nil {
		return raw
	}
	return text
}

func escapeText(text string) string {
	p := ical.NewProp("X-TEXT")
	p.SetText(text)
	return p.Value
}

// splitTextList splits on commas that are not escaped
func splitTextList(raw string) []string {
	var out []string
	var cur strings.Builder
	escaped := false
	for _, r := range raw {
		switch {
		case escaped:
			cur.WriteRune('\\')
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(out, cur.String())
}

// Serialize encodes a component as CRLF-delimited iCalendar text. Anything
// other than a VCALENDAR is wrapped in one.
func Serialize(c *Component) (string, error) {
	root := c
	if c.Name != ical.CompCalendar {
		root = NewComponent(ical.CompCalendar)
		root.Children = []*Component{c}
	}
	cal := ical.NewCalendar()
	cal.Component = toICal(root)
	if cal.Props.Get(ical.PropProductID) == nil {
		cal.Props.SetText(ical.PropProductID, ProductID)
	}
	if cal.Props.Get(ical.PropVersion) == nil {
		cal.Props.SetText(ical.PropVersion, "2.0")
	}
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.String(), nil
}

// MustSerialize is Serialize for components known to be valid, e.g. in tests
func MustSerialize(c *Component) string {
	s, err := Serialize(c)
	if err != nil {
		panic(err)
	}
	return s
}

func toICal(c *Component) *ical.Component {
	out := ical.NewComponent(c.Name)
	for _, bucket := range []map[string][]Property{c.Props, c.Extensions} {
		for name, vals := range bucket {
			for _, p := range vals {
				out.Props.Add(toICalProp(name, p))
				if IsUnique(name) {
					break
				}
			}
		}
	}
	for _, child := range c.Children {
		out.Children = append(out.Children, toICal(child))
	}
	return out
}

func toICalProp(name string, p Property) *ical.Prop {
	ip := ical.NewProp(name)
	for k, v := range p.Params {
		ip.Params[k] = append([]string(nil), v...)
	}
	switch p.Kind {
	case KindDate:
		ip.Value = p.DateTime.Date().String()
		ip.Params.Set(ical.ParamValue, string(ical.ValueDate))
	case KindDateTime:
		ip.Value = p.DateTime.String()
		if name == ical.PropTrigger {
			ip.Params.Set(ical.ParamValue, string(ical.ValueDateTime))
		}
	case KindDuration:
		ip.Value = p.Duration.String()
	case KindPeriod:
		ip.Value = p.Period.String()
		if name != PropFreeBusy {
			ip.Params.Set(ical.ParamValue, string(ical.ValuePeriod))
		}
	case KindRecur:
		if p.Recur != nil {
			ip.Value = p.Recur.String()
		}
	case KindInteger:
		ip.Value = strconv.Itoa(p.Int)
	case KindList:
		items := make([]string, len(p.List))
		for i, item := range p.List {
			items[i] = escapeText(item)
		}
		ip.Value = strings.Join(items, ",")
	case KindText:
		if IsKnown(name) {
			ip.Value = escapeText(p.Text)
		} else {
			ip.Value = p.Text
		}
	default:
		ip.Value = p.Text
	}
	return ip
}
