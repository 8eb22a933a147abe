package calcrypto

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"

	gopenpgp "github.com/ProtonMail/gopenpgp/v2/crypto"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"

	"github.com/cyp0633/libcalseal/attendee"
	"github.com/cyp0633/libcalseal/parts"
	"github.com/cyp0633/libcalseal/vcal"
)

// VerificationStatus is the outcome of checking card signatures
type VerificationStatus int

const (
	// NotVerified means no key was available to check the signature
	NotVerified VerificationStatus = iota
	Successful
	Failed
)

func (s VerificationStatus) String() string {
	switch s {
	case Successful:
		return "successful"
	case Failed:
		return "failed"
	default:
		return "not-verified"
	}
}

// Aggregate combines per-card statuses: any failure fails the whole, all
// successes succeed, anything else is not verified.
func Aggregate(statuses []VerificationStatus) VerificationStatus {
	if len(statuses) == 0 {
		return NotVerified
	}
	if slices.Contains(statuses, Failed) {
		return Failed
	}
	for _, s := range statuses {
		if s != Successful {
			return NotVerified
		}
	}
	return Successful
}

// ReadParams are the inputs of ReadCalendarEvent
type ReadParams struct {
	SharedEvents    []WireCard
	CalendarEvents  []WireCard
	PersonalEvents  []WireCard
	AttendeesEvents []WireCard
	AttendeesClear  []attendee.Clear

	SharedSessionKey   mo.Option[SessionKey]
	CalendarSessionKey mo.Option[SessionKey]
	// PublicKeysByAuthor maps a card author to its verification keys
	PublicKeysByAuthor map[string]*gopenpgp.KeyRing
}

// CardResult is the outcome of opening one card
type CardResult struct {
	Group  parts.Group
	Type   CardType
	Author string
	Status VerificationStatus
	// Err is set when the card could not be opened or did not verify
	Err error

	event *vcal.Component
}

// ReadResult is a decrypted event with its verification status
type ReadResult struct {
	Event        *vcal.Component
	Verification VerificationStatus
	Cards        []CardResult
}

// IsVerified reports whether every protected card verified
func (r *ReadResult) IsVerified() bool {
	return r.Verification == Successful
}

type pendingCard struct {
	group parts.Group
	card  Card
	key   mo.Option[SessionKey]
}

var groupOrder = []parts.Group{parts.GroupShared, parts.GroupCalendar, parts.GroupPersonal, parts.GroupAttendees}

// ReadCalendarEvent opens every card, verifies it against its author's key
// and merges the contents. Malformed cards fail the read; a card that does
// not decrypt or verify is marked Failed and its content is left out.
func (c *Codec) ReadCalendarEvent(ctx context.Context, params ReadParams) (*ReadResult, error) {
	var pending []pendingCard
	for _, group := range groupOrder {
		var (
			cards []WireCard
			key   mo.Option[SessionKey]
		)
		switch group {
		case parts.GroupShared:
			cards, key = params.SharedEvents, params.SharedSessionKey
		case parts.GroupCalendar:
			cards, key = params.CalendarEvents, params.CalendarSessionKey
		case parts.GroupPersonal:
			cards = params.PersonalEvents
		case parts.GroupAttendees:
			cards, key = params.AttendeesEvents, params.SharedSessionKey
		}
		for _, w := range cards {
			card, err := DecodeCard(w)
			if err != nil {
				return nil, fmt.Errorf("%s card: %w", group, err)
			}
			if card.Type() == CardEncryptedAndSigned && key.IsAbsent() {
				return nil, fmt.Errorf("%s card: %w", group, ErrMissingSessionKey)
			}
			pending = append(pending, pendingCard{group: group, card: card, key: key})
		}
	}

	results := make([]CardResult, len(pending))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range pending {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = c.openCard(p, params.PublicKeysByAuthor)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// signed before encrypted within a group
	slices.SortStableFunc(results, func(a, b CardResult) int {
		if a.Group != b.Group {
			return slices.Index(groupOrder, a.Group) - slices.Index(groupOrder, b.Group)
		}
		return int(a.Type) - int(b.Type)
	})

	var (
		subsets  []*vcal.Component
		statuses []VerificationStatus
	)
	for _, r := range results {
		if r.Type != CardClearText {
			statuses = append(statuses, r.Status)
		}
		if r.Err != nil {
			c.logger.Warn("failed to open card",
				"group", r.Group,
				"type", r.Type,
				"author", r.Author,
				"error", r.Err)
		}
		subsets = append(subsets, r.event)
	}

	event := parts.Merge(subsets...)
	attendees := event.Props[ical.PropAttendee]
	for i := range attendees {
		attendee.Reattach(&attendees[i], params.AttendeesClear)
	}

	return &ReadResult{
		Event:        event,
		Verification: Aggregate(statuses),
		Cards:        results,
	}, nil
}

func (c *Codec) openCard(p pendingCard, keys map[string]*gopenpgp.KeyRing) CardResult {
	result := CardResult{Group: p.group, Type: p.card.Type()}

	var text, signature string
	switch card := p.card.(type) {
	case ClearTextCard:
		text = card.Data
	case SignedCard:
		text, signature, result.Author = card.Data, card.Signature, card.Author
	case EncryptedCard:
		signature, result.Author = card.Signature, card.Author
		plain, err := c.provider.Decrypt(card.DataPacket, p.key.MustGet())
		if err != nil {
			result.Status, result.Err = Failed, err
			return result
		}
		text = string(plain)
	}

	if p.card.Type() != CardClearText {
		verifier, ok := keys[result.Author]
		if !ok || verifier == nil {
			result.Status = NotVerified
		} else if err := c.provider.Verify([]byte(text), signature, verifier); err != nil {
			result.Status, result.Err = Failed, err
			return result
		} else {
			result.Status = Successful
		}
	}

	event, err := vcal.ParseEvent(text)
	if event == nil {
		result.Status, result.Err = Failed, fmt.Errorf("failed to parse card: %w", err)
		return result
	}
	if err != nil {
		c.logger.Debug("card parsed with property errors",
			"group", p.group,
			"error", err)
	}
	result.event = event
	return result
}

// ReadPayload unwraps the key packets of a payload with the calendar's
// private key and reads it.
func (c *Codec) ReadPayload(ctx context.Context, payload Payload, calendarKey *gopenpgp.KeyRing, publicKeysByAuthor map[string]*gopenpgp.KeyRing) (*ReadResult, error) {
	params := ReadParams{
		SharedEvents:       payload.SharedEventContent,
		CalendarEvents:     payload.CalendarEventContent,
		AttendeesClear:     payload.Attendees,
		PublicKeysByAuthor: publicKeysByAuthor,
	}
	if payload.PersonalEventContent != nil {
		params.PersonalEvents = []WireCard{*payload.PersonalEventContent}
	}
	if payload.AttendeesEventContent != nil {
		params.AttendeesEvents = []WireCard{*payload.AttendeesEventContent}
	}

	unwrap := func(encoded string) (mo.Option[SessionKey], error) {
		if encoded == "" {
			return mo.None[SessionKey](), nil
		}
		packet, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return mo.None[SessionKey](), fmt.Errorf("failed to decode key packet: %w", err)
		}
		key, err := c.provider.DecryptSessionKey(packet, calendarKey)
		if err != nil {
			return mo.None[SessionKey](), err
		}
		return mo.Some(key), nil
	}
	var err error
	if params.SharedSessionKey, err = unwrap(payload.SharedKeyPacket); err != nil {
		return nil, fmt.Errorf("shared key: %w", err)
	}
	if params.CalendarSessionKey, err = unwrap(payload.CalendarKeyPacket); err != nil {
		return nil, fmt.Errorf("calendar key: %w", err)
	}
	return c.ReadCalendarEvent(ctx, params)
}
