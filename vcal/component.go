package vcal

import (
	"maps"
	"slices"
	"strings"

	"github.com/emersion/go-ical"
)

// Property is one typed property value. Only the field matching Kind is
// meaningful; VALUE= parameters are folded into Kind.
type Property struct {
	Name     string
	Kind     ValueKind
	Params   ical.Params
	Text     string
	Int      int
	DateTime DateTime
	Duration Duration
	Period   Period
	Recur    *Recur
	List     []string
}

// NewText creates a text property (also used for URI, CAL-ADDRESS and UTC-OFFSET raw values)
func NewText(name, value string) Property {
	name = strings.ToUpper(name)
	kind := KindText
	if k, ok := propertyKinds[name]; ok && (k == KindCalAddress || k == KindURI || k == KindUTCOffset) {
		kind = k
	}
	return Property{Name: name, Kind: kind, Text: value}
}

// NewDateTimeProperty creates a DATE or DATE-TIME property. tzid is only
// attached to non-UTC date-times.
func NewDateTimeProperty(name string, value DateTime, tzid string) Property {
	p := Property{Name: strings.ToUpper(name), Kind: KindDateTime, DateTime: value}
	if value.IsDate {
		p.Kind = KindDate
		return p
	}
	if tzid != "" && !value.IsUTC {
		p.SetParam(ical.ParamTimezoneID, tzid)
	}
	return p
}

// NewDurationProperty creates a DURATION-typed property
func NewDurationProperty(name string, d Duration) Property {
	return Property{Name: strings.ToUpper(name), Kind: KindDuration, Duration: d}
}

// NewInteger creates an INTEGER property
func NewInteger(name string, n int) Property {
	return Property{Name: strings.ToUpper(name), Kind: KindInteger, Int: n}
}

// NewRecurProperty creates an RRULE property
func NewRecurProperty(r *Recur) Property {
	return Property{Name: ical.PropRecurrenceRule, Kind: KindRecur, Recur: r}
}

// Param returns the first value of a parameter
func (p *Property) Param(name string) string {
	if p.Params == nil {
		return ""
	}
	return p.Params.Get(name)
}

// SetParam replaces a parameter value, allocating the map if needed
func (p *Property) SetParam(name, value string) {
	if p.Params == nil {
		p.Params = make(ical.Params)
	}
	p.Params.Set(name, value)
}

// DelParam removes a parameter; the map is dropped when it becomes empty
func (p *Property) DelParam(name string) {
	if p.Params == nil {
		return
	}
	p.Params.Del(name)
	if len(p.Params) == 0 {
		p.Params = nil
	}
}

// TZID returns the TZID parameter of a zoned date-time, or ""
func (p *Property) TZID() string {
	if p.Kind != KindDateTime || p.DateTime.IsUTC {
		return ""
	}
	return p.Param(ical.ParamTimezoneID)
}

// IsAllDay reports whether the property holds a DATE value
func (p *Property) IsAllDay() bool {
	return p.Kind == KindDate
}

// IsFloating reports a date-time with neither UTC marker nor TZID
func (p *Property) IsFloating() bool {
	return p.Kind == KindDateTime && !p.DateTime.IsUTC && p.Param(ical.ParamTimezoneID) == ""
}

// Clone returns a deep copy of the property
func (p Property) Clone() Property {
	out := p
	if p.Params != nil {
		out.Params = make(ical.Params, len(p.Params))
		for k, v := range p.Params {
			out.Params[k] = slices.Clone(v)
		}
	}
	out.Recur = p.Recur.Clone()
	out.List = slices.Clone(p.List)
	return out
}

// Component is a typed calendar component. Properties from the fixed type
// table live in Props; anything else lands in Extensions as raw text.
type Component struct {
	Name       string
	Props      map[string][]Property
	Extensions map[string][]Property
	Children   []*Component
}

// NewComponent returns an empty component with initialized property maps
func NewComponent(name string) *Component {
	return &Component{
		Name:       strings.ToUpper(name),
		Props:      make(map[string][]Property),
		Extensions: make(map[string][]Property),
	}
}

func (c *Component) bucket(name string) map[string][]Property {
	if IsKnown(name) {
		return c.Props
	}
	return c.Extensions
}

// Get returns the first value of a property, or nil
func (c *Component) Get(name string) *Property {
	name = strings.ToUpper(name)
	vals := c.bucket(name)[name]
	if len(vals) == 0 {
		return nil
	}
	return &vals[0]
}

// All returns every value of a property
func (c *Component) All(name string) []Property {
	name = strings.ToUpper(name)
	return c.bucket(name)[name]
}

// Has reports whether the property is present
func (c *Component) Has(name string) bool {
	return len(c.All(name)) > 0
}

// Set replaces all values of a property with p
func (c *Component) Set(p Property) {
	p.Name = strings.ToUpper(p.Name)
	if !IsKnown(p.Name) && p.Kind != KindText {
		p = Property{Name: p.Name, Kind: KindText, Params: p.Params, Text: p.Text}
	}
	c.bucket(p.Name)[p.Name] = []Property{p}
}

// Add appends a value. Unique properties are replaced instead.
func (c *Component) Add(p Property) {
	p.Name = strings.ToUpper(p.Name)
	if IsUnique(p.Name) {
		c.Set(p)
		return
	}
	if !IsKnown(p.Name) && p.Kind != KindText {
		p = Property{Name: p.Name, Kind: KindText, Params: p.Params, Text: p.Text}
	}
	b := c.bucket(p.Name)
	b[p.Name] = append(b[p.Name], p)
}

// Del removes every value of a property
func (c *Component) Del(name string) {
	name = strings.ToUpper(name)
	delete(c.bucket(name), name)
}

// Names returns the sorted names of all present properties, extensions included
func (c *Component) Names() []string {
	names := slices.Collect(maps.Keys(c.Props))
	names = append(names, slices.Collect(maps.Keys(c.Extensions))...)
	slices.Sort(names)
	return names
}

// Components returns the children with the given name
func (c *Component) Components(name string) []*Component {
	var out []*Component
	for _, child := range c.Children {
		if child.Name == strings.ToUpper(name) {
			out = append(out, child)
		}
	}
	return out
}

// Clone returns a deep copy of the component tree
func (c *Component) Clone() *Component {
	out := NewComponent(c.Name)
	for name, vals := range c.Props {
		cloned := make([]Property, len(vals))
		for i, v := range vals {
			cloned[i] = v.Clone()
		}
		out.Props[name] = cloned
	}
	for name, vals := range c.Extensions {
		cloned := make([]Property, len(vals))
		for i, v := range vals {
			cloned[i] = v.Clone()
		}
		out.Extensions[name] = cloned
	}
	for _, child := range c.Children {
		out.Children = append(out.Children, child.Clone())
	}
	return out
}

// IsEmpty reports a component without name, properties or children
func (c *Component) IsEmpty() bool {
	return c.Name == "" && len(c.Props) == 0 && len(c.Extensions) == 0 && len(c.Children) == 0
}

// UID returns the UID text or ""
func (c *Component) UID() string {
	if p := c.Get(ical.PropUID); p != nil {
		return p.Text
	}
	return ""
}

// DTStart returns the DTSTART property or nil
func (c *Component) DTStart() *Property {
	return c.Get(ical.PropDateTimeStart)
}

// DTEnd returns the DTEND property or nil
func (c *Component) DTEnd() *Property {
	return c.Get(ical.PropDateTimeEnd)
}

// RRule returns the parsed RRULE or nil
func (c *Component) RRule() *Recur {
	if p := c.Get(ical.PropRecurrenceRule); p != nil && p.Kind == KindRecur {
		return p.Recur
	}
	return nil
}

// Sequence returns SEQUENCE, defaulting to 0
func (c *Component) Sequence() int {
	if p := c.Get(ical.PropSequence); p != nil && p.Kind == KindInteger {
		return p.Int
	}
	return 0
}

// Summary returns SUMMARY or ""
func (c *Component) Summary() string {
	if p := c.Get(ical.PropSummary); p != nil {
		return p.Text
	}
	return ""
}

// Attendees returns every ATTENDEE value
func (c *Component) Attendees() []Property {
	return c.All(ical.PropAttendee)
}

// ExDates returns every EXDATE value, one date per property
func (c *Component) ExDates() []Property {
	return c.All(ical.PropExceptionDates)
}

// Alarms returns the VALARM children
func (c *Component) Alarms() []*Component {
	return c.Components(ical.CompAlarm)
}

// IsAllDay reports whether DTSTART is a DATE value
func (c *Component) IsAllDay() bool {
	p := c.DTStart()
	return p != nil && p.IsAllDay()
}
