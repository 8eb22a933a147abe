package attendee

import (
	"strconv"
	"strings"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/libcalseal/vcal"
)

// Status is the wire code of an attendee's participation status
type Status int

const (
	StatusNeedsAction Status = 0
	StatusTentative   Status = 1
	StatusDeclined    Status = 2
	StatusAccepted    Status = 3
)

// PartStat values understood on the iCalendar side
const (
	PartStatNeedsAction = "NEEDS-ACTION"
	PartStatAccepted    = "ACCEPTED"
	PartStatDeclined    = "DECLINED"
	PartStatTentative   = "TENTATIVE"
	PartStatDelegated   = "DELEGATED"
)

var (
	statusToPartStat = map[Status]string{
		StatusNeedsAction: PartStatNeedsAction,
		StatusTentative:   PartStatTentative,
		StatusDeclined:    PartStatDeclined,
		StatusAccepted:    PartStatAccepted,
	}
	partStatToStatus = map[string]Status{
		PartStatNeedsAction: StatusNeedsAction,
		PartStatTentative:   StatusTentative,
		PartStatDeclined:    StatusDeclined,
		PartStatAccepted:    StatusAccepted,
	}
)

// PartStat maps a wire code to PARTSTAT; unknown codes are NEEDS-ACTION
func (s Status) PartStat() string {
	if p, ok := statusToPartStat[s]; ok {
		return p
	}
	return PartStatNeedsAction
}

// StatusFromPartStat maps PARTSTAT to a wire code. DELEGATED and unknown
// values have no code and map to StatusNeedsAction.
func StatusFromPartStat(partstat string) Status {
	if s, ok := partStatToStatus[strings.ToUpper(partstat)]; ok {
		return s
	}
	return StatusNeedsAction
}

// Permissions is a bit set of what an attendee may do
type Permissions int

const (
	PermissionSee    Permissions = 1
	PermissionInvite Permissions = 2

	// DefaultPermissions apply when an attendee carries none
	DefaultPermissions = PermissionSee | PermissionInvite
)

// Has reports whether every bit of p is set
func (perm Permissions) Has(p Permissions) bool {
	return perm&p == p
}

// PermissionsOf reads X-PM-PERMISSIONS, falling back to DefaultPermissions
func PermissionsOf(p *vcal.Property) Permissions {
	raw := p.Param(vcal.ParamPermissions)
	if raw == "" {
		return DefaultPermissions
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return DefaultPermissions
	}
	return Permissions(n)
}

// Clear is the unencrypted record kept per attendee next to the encrypted
// attendee list. The field names are part of the wire format.
type Clear struct {
	Token       string      `json:"Token"`
	Permissions Permissions `json:"Permissions"`
	Status      Status      `json:"Status,omitempty"`
}

// Protect strips PARTSTAT and X-PM-PERMISSIONS from an ATTENDEE property and
// sets its token, returning the matching clear record. The property is
// modified in place.
func Protect(p *vcal.Property, uid string) Clear {
	token := p.Param(vcal.ParamToken)
	if token == "" {
		token = GenerateToken(EmailFromAddress(p.Text), uid)
	}
	clear := Clear{
		Token:       token,
		Permissions: PermissionsOf(p),
		Status:      StatusFromPartStat(p.Param(ical.ParamParticipationStatus)),
	}
	p.DelParam(ical.ParamParticipationStatus)
	p.DelParam(vcal.ParamPermissions)
	p.SetParam(vcal.ParamToken, token)
	return clear
}

// Reattach restores PARTSTAT and X-PM-PERMISSIONS on an ATTENDEE property
// from the clear record sharing its token. It reports whether a record was
// found.
func Reattach(p *vcal.Property, records []Clear) bool {
	token := p.Param(vcal.ParamToken)
	for _, r := range records {
		if token == "" || r.Token != token {
			continue
		}
		p.SetParam(ical.ParamParticipationStatus, r.Status.PartStat())
		p.SetParam(vcal.ParamPermissions, strconv.Itoa(int(r.Permissions)))
		return true
	}
	return false
}
