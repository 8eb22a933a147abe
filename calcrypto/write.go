package calcrypto

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"

	gopenpgp "github.com/ProtonMail/gopenpgp/v2/crypto"
	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"

	"github.com/cyp0633/libcalseal/attendee"
	"github.com/cyp0633/libcalseal/parts"
	"github.com/cyp0633/libcalseal/vcal"
)

// Codec writes and reads encrypted calendar events
type Codec struct {
	provider Provider
	logger   *slog.Logger
}

// Option configures a Codec
type Option func(*Codec)

// WithLogger sets the logger for the codec
func WithLogger(logger *slog.Logger) Option {
	return func(c *Codec) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCodec creates a codec on top of an OpenPGP provider
func NewCodec(provider Provider, opts ...Option) *Codec {
	c := &Codec{
		provider: provider,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateParams are the inputs of CreateCalendarEvent
type CreateParams struct {
	Event *vcal.Component
	// CalendarKey receives the wrapped session keys
	CalendarKey *gopenpgp.KeyRing
	// SigningKey is the author's private address key
	SigningKey *gopenpgp.KeyRing
	// Author is recorded on every signed card
	Author string

	SharedSessionKey   mo.Option[SessionKey]
	CalendarSessionKey mo.Option[SessionKey]
	// IsCalendarSwitch re-wraps reused keys for a new calendar
	IsCalendarSwitch bool
}

// Payload is the wire representation of one event
type Payload struct {
	SharedKeyPacket       string           `json:"SharedKeyPacket,omitempty"`
	CalendarKeyPacket     string           `json:"CalendarKeyPacket,omitempty"`
	SharedEventContent    []WireCard       `json:"SharedEventContent"`
	CalendarEventContent  []WireCard       `json:"CalendarEventContent,omitempty"`
	PersonalEventContent  *WireCard        `json:"PersonalEventContent,omitempty"`
	AttendeesEventContent *WireCard        `json:"AttendeesEventContent,omitempty"`
	Attendees             []attendee.Clear `json:"Attendees,omitempty"`
}

// CreateResult is the payload together with the session keys used for it
type CreateResult struct {
	Payload            Payload
	SharedSessionKey   SessionKey
	CalendarSessionKey mo.Option[SessionKey]
}

// CreateCalendarEvent splits an event, signs and encrypts every part, and
// wraps new session keys for the calendar. Card operations run concurrently;
// any failure aborts the whole write.
func (c *Codec) CreateCalendarEvent(ctx context.Context, params CreateParams) (*CreateResult, error) {
	split, err := parts.SplitEvent(params.Event)
	if err != nil {
		return nil, err
	}

	sharedKey, sharedReused := params.SharedSessionKey.Get()
	if !sharedReused {
		if sharedKey, err = c.provider.GenerateSessionKey(); err != nil {
			return nil, err
		}
	}
	calendarKey, calendarReused := params.CalendarSessionKey.Get()
	hasCalendarKey := calendarReused
	if split.Calendar.Encrypted != nil && !calendarReused {
		if calendarKey, err = c.provider.GenerateSessionKey(); err != nil {
			return nil, err
		}
		hasCalendarKey = true
	}

	var (
		payload       Payload
		sharedCards   [2]WireCard
		calendarCards [2]*WireCard
	)
	g, ctx := errgroup.WithContext(ctx)
	sign := func(sub *vcal.Component, out *WireCard) {
		g.Go(func() error {
			card, err := c.signCard(ctx, sub, params)
			if err != nil {
				return err
			}
			*out = card
			return nil
		})
	}
	encrypt := func(sub *vcal.Component, key SessionKey, out *WireCard) {
		g.Go(func() error {
			card, err := c.encryptCard(ctx, sub, key, params)
			if err != nil {
				return err
			}
			*out = card
			return nil
		})
	}

	sign(split.Shared.Signed, &sharedCards[0])
	encrypt(split.Shared.Encrypted, sharedKey, &sharedCards[1])

	if split.Calendar.Signed != nil {
		calendarCards[0] = &WireCard{}
		sign(split.Calendar.Signed, calendarCards[0])
	}
	if split.Calendar.Encrypted != nil {
		calendarCards[1] = &WireCard{}
		encrypt(split.Calendar.Encrypted, calendarKey, calendarCards[1])
	}
	if split.Personal.Signed != nil {
		payload.PersonalEventContent = &WireCard{}
		sign(split.Personal.Signed, payload.PersonalEventContent)
	}
	if split.Attendees.Encrypted != nil {
		payload.AttendeesEventContent = &WireCard{}
		encrypt(split.Attendees.Encrypted, sharedKey, payload.AttendeesEventContent)
	}

	if !sharedReused || params.IsCalendarSwitch {
		g.Go(func() error {
			packet, err := c.provider.EncryptSessionKey(sharedKey, params.CalendarKey)
			if err != nil {
				return fmt.Errorf("shared key: %w", err)
			}
			payload.SharedKeyPacket = base64.StdEncoding.EncodeToString(packet)
			return nil
		})
	}
	if hasCalendarKey && (!calendarReused || params.IsCalendarSwitch) {
		g.Go(func() error {
			packet, err := c.provider.EncryptSessionKey(calendarKey, params.CalendarKey)
			if err != nil {
				return fmt.Errorf("calendar key: %w", err)
			}
			payload.CalendarKeyPacket = base64.StdEncoding.EncodeToString(packet)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.logger.Error("failed to create calendar event",
			"uid", params.Event.UID(),
			"error", err)
		return nil, err
	}

	payload.SharedEventContent = sharedCards[:]
	for _, card := range calendarCards {
		if card != nil {
			payload.CalendarEventContent = append(payload.CalendarEventContent, *card)
		}
	}
	payload.Attendees = split.AttendeesClear

	result := &CreateResult{Payload: payload, SharedSessionKey: sharedKey}
	if hasCalendarKey {
		result.CalendarSessionKey = mo.Some(calendarKey)
	}
	c.logger.Debug("calendar event created",
		"uid", params.Event.UID(),
		"shared_key_reused", sharedReused,
		"calendar_cards", len(payload.CalendarEventContent))
	return result, nil
}

func (c *Codec) signCard(ctx context.Context, sub *vcal.Component, params CreateParams) (WireCard, error) {
	if err := ctx.Err(); err != nil {
		return WireCard{}, err
	}
	text, err := vcal.Serialize(sub)
	if err != nil {
		return WireCard{}, err
	}
	sig, err := c.provider.Sign([]byte(text), params.SigningKey)
	if err != nil {
		return WireCard{}, err
	}
	return SignedCard{Data: text, Signature: sig, Author: params.Author}.Wire(), nil
}

func (c *Codec) encryptCard(ctx context.Context, sub *vcal.Component, key SessionKey, params CreateParams) (WireCard, error) {
	if err := ctx.Err(); err != nil {
		return WireCard{}, err
	}
	text, err := vcal.Serialize(sub)
	if err != nil {
		return WireCard{}, err
	}
	packet, err := c.provider.Encrypt([]byte(text), key)
	if err != nil {
		return WireCard{}, err
	}
	sig, err := c.provider.Sign([]byte(text), params.SigningKey)
	if err != nil {
		return WireCard{}, err
	}
	return EncryptedCard{DataPacket: packet, Signature: sig, Author: params.Author}.Wire(), nil
}
