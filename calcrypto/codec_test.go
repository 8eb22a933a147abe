package calcrypto

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	gopenpgp "github.com/ProtonMail/gopenpgp/v2/crypto"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/libcalseal/attendee"
	"github.com/cyp0633/libcalseal/parts"
	"github.com/cyp0633/libcalseal/vcal"
)

const author = "m@mi6.org"

const roundTripEvent = `BEGIN:VEVENT
UID:uid@proton.me
DTSTAMP:20190719T130000Z
DTSTART;TZID=Europe/Zurich:20190719T120000
DTEND;TZID=Europe/Zurich:20190719T130000
RRULE:FREQ=WEEKLY;COUNT=5
EXDATE;TZID=Europe/Zurich:20190726T120000
SEQUENCE:1
ORGANIZER;CN=M:mailto:m@mi6.org
SUMMARY:Briefing
DESCRIPTION:Bring the file
LOCATION:London
COMMENT:internal note
STATUS:CONFIRMED
X-SECRET:hidden
BEGIN:VALARM
ACTION:DISPLAY
TRIGGER:-PT15M
END:VALARM
END:VEVENT
`

func keyRing(t *testing.T, name, email string) *gopenpgp.KeyRing {
	t.Helper()
	key, err := gopenpgp.GenerateKey(name, email, "x25519", 0)
	require.NoError(t, err)
	kr, err := gopenpgp.NewKeyRing(key)
	require.NoError(t, err)
	return kr
}

func TestCodec_RoundTrip(t *testing.T) {
	calKR := keyRing(t, "Calendar", "calendar@mi6.org")
	addrKR := keyRing(t, "M", author)
	codec := NewCodec(PGPProvider{})
	ctx := context.Background()

	ev, err := vcal.ParseEvent(roundTripEvent)
	require.NoError(t, err)

	created, err := codec.CreateCalendarEvent(ctx, CreateParams{
		Event:       ev,
		CalendarKey: calKR,
		SigningKey:  addrKR,
		Author:      author,
	})
	require.NoError(t, err)
	payload := created.Payload
	assert.NotEmpty(t, payload.SharedKeyPacket)
	assert.NotEmpty(t, payload.CalendarKeyPacket)
	assert.True(t, created.CalendarSessionKey.IsPresent())

	// the payload survives the JSON transport
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	var decoded Payload
	require.NoError(t, json.Unmarshal(raw, &decoded))

	read, err := codec.ReadPayload(ctx, decoded, calKR, map[string]*gopenpgp.KeyRing{author: addrKR})
	require.NoError(t, err)
	assert.True(t, read.IsVerified())
	assert.Equal(t, Successful, read.Verification)
	assert.Equal(t, ev, read.Event)
}

func TestCodec_RoundTripWithAttendees(t *testing.T) {
	calKR := keyRing(t, "Calendar", "calendar@mi6.org")
	addrKR := keyRing(t, "M", author)
	codec := NewCodec(PGPProvider{})
	ctx := context.Background()

	ev, err := vcal.ParseEvent(`BEGIN:VEVENT
UID:uid@proton.me
DTSTAMP:20190719T130000Z
DTSTART:20190719T120000Z
ATTENDEE;CN=James;PARTSTAT=TENTATIVE;X-PM-PERMISSIONS=1:mailto:james@mi6.org
END:VEVENT
`)
	require.NoError(t, err)

	created, err := codec.CreateCalendarEvent(ctx, CreateParams{Event: ev, CalendarKey: calKR, SigningKey: addrKR, Author: author})
	require.NoError(t, err)
	require.NotNil(t, created.Payload.AttendeesEventContent)
	assert.Equal(t, CardEncryptedAndSigned, created.Payload.AttendeesEventContent.Type)
	assert.NotContains(t, created.Payload.AttendeesEventContent.Data, "james")
	assert.Equal(t, []attendee.Clear{{
		Token:       "c2d3d0b4eb4ef80633f9cc7755991e79ca033016",
		Permissions: attendee.PermissionSee,
		Status:      attendee.StatusTentative,
	}}, created.Payload.Attendees)
	assert.Empty(t, created.Payload.CalendarKeyPacket)
	assert.True(t, created.CalendarSessionKey.IsAbsent())

	// unknown author: content is readable but not verified
	read, err := codec.ReadPayload(ctx, created.Payload, calKR, nil)
	require.NoError(t, err)
	assert.Equal(t, NotVerified, read.Verification)

	got := read.Event.Attendees()
	require.Len(t, got, 1)
	assert.Equal(t, "mailto:james@mi6.org", got[0].Text)
	assert.Equal(t, "TENTATIVE", got[0].Param(ical.ParamParticipationStatus))
	assert.Equal(t, "1", got[0].Param(vcal.ParamPermissions))
}

func TestCodec_TamperedSignature(t *testing.T) {
	calKR := keyRing(t, "Calendar", "calendar@mi6.org")
	addrKR := keyRing(t, "M", author)
	otherKR := keyRing(t, "Other", "other@mi6.org")
	codec := NewCodec(PGPProvider{})
	ctx := context.Background()

	ev, err := vcal.ParseEvent(roundTripEvent)
	require.NoError(t, err)
	created, err := codec.CreateCalendarEvent(ctx, CreateParams{Event: ev, CalendarKey: calKR, SigningKey: addrKR, Author: author})
	require.NoError(t, err)

	read, err := codec.ReadPayload(ctx, created.Payload, calKR, map[string]*gopenpgp.KeyRing{author: otherKR})
	require.NoError(t, err)
	assert.Equal(t, Failed, read.Verification)
	for _, card := range read.Cards {
		assert.Equal(t, Failed, card.Status)
		assert.ErrorIs(t, card.Err, ErrSignatureMismatch)
	}
	assert.False(t, read.Event.Has(ical.PropSummary))
}

func mockProvider() *MockProvider {
	m := &MockProvider{}
	m.On("GenerateSessionKey").Return(SessionKey{Key: []byte("generated"), Algorithm: "aes256"}, nil)
	m.On("EncryptSessionKey", mock.Anything, mock.Anything).Return([]byte("keypacket"), nil)
	m.On("Encrypt", mock.Anything, mock.Anything).Return([]byte("datapacket"), nil)
	m.On("Sign", mock.Anything, mock.Anything).Return("signature", nil)
	return m
}

func TestCreateCalendarEvent_Shape(t *testing.T) {
	ev, err := vcal.ParseEvent(`BEGIN:VEVENT
UID:123
DTSTAMP:20190719T130000Z
DTSTART:20190719T120000Z
DTEND:20190719T130000Z
SUMMARY:Meeting
COMMENT:calendar only
ATTENDEE;PARTSTAT=ACCEPTED;X-PM-TOKEN=abc;X-PM-PERMISSIONS=1:mailto:a@mi6.org
ATTENDEE;PARTSTAT=TENTATIVE;X-PM-TOKEN=bcd;X-PM-PERMISSIONS=1:mailto:b@mi6.org
ATTENDEE;X-PM-TOKEN=cde;X-PM-PERMISSIONS=2:mailto:c@mi6.org
BEGIN:VALARM
ACTION:DISPLAY
TRIGGER:-PT15M
END:VALARM
END:VEVENT
`)
	require.NoError(t, err)

	provider := mockProvider()
	codec := NewCodec(provider)
	created, err := codec.CreateCalendarEvent(context.Background(), CreateParams{Event: ev, Author: author})
	require.NoError(t, err)
	provider.AssertExpectations(t)
	provider.AssertNumberOfCalls(t, "GenerateSessionKey", 2)
	provider.AssertNumberOfCalls(t, "EncryptSessionKey", 2)

	p := created.Payload
	packet := base64.StdEncoding.EncodeToString([]byte("datapacket"))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("keypacket")), p.SharedKeyPacket)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("keypacket")), p.CalendarKeyPacket)

	require.Len(t, p.SharedEventContent, 2)
	assert.Equal(t, CardSigned, p.SharedEventContent[0].Type)
	assert.Contains(t, p.SharedEventContent[0].Data, "UID:123")
	assert.Contains(t, p.SharedEventContent[0].Data, "DTSTART:20190719T120000Z")
	assert.Contains(t, p.SharedEventContent[0].Data, "DTEND:20190719T130000Z")
	assert.NotContains(t, p.SharedEventContent[0].Data, "SUMMARY")
	assert.Equal(t, "signature", p.SharedEventContent[0].Signature)
	assert.Equal(t, author, p.SharedEventContent[0].Author)
	assert.Equal(t, WireCard{Type: CardEncryptedAndSigned, Data: packet, Signature: "signature", Author: author}, p.SharedEventContent[1])

	assert.Equal(t, []WireCard{{Type: CardEncryptedAndSigned, Data: packet, Signature: "signature", Author: author}}, p.CalendarEventContent)

	require.NotNil(t, p.PersonalEventContent)
	assert.Equal(t, CardSigned, p.PersonalEventContent.Type)
	assert.Contains(t, p.PersonalEventContent.Data, "BEGIN:VALARM")
	assert.NotContains(t, p.PersonalEventContent.Data, "DTSTART")

	require.NotNil(t, p.AttendeesEventContent)
	assert.Equal(t, WireCard{Type: CardEncryptedAndSigned, Data: packet, Signature: "signature", Author: author}, *p.AttendeesEventContent)

	assert.Equal(t, []attendee.Clear{
		{Token: "abc", Permissions: 1, Status: attendee.StatusAccepted},
		{Token: "bcd", Permissions: 1, Status: attendee.StatusTentative},
		{Token: "cde", Permissions: 2, Status: attendee.StatusNeedsAction},
	}, p.Attendees)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"Attendees":[{"Token":"abc","Permissions":1,"Status":3}`)
	assert.Contains(t, string(raw), `{"Token":"cde","Permissions":2}]`)
	assert.Contains(t, string(raw), `"CalendarKeyPacket"`)
}

func TestCreateCalendarEvent_ReusedKeys(t *testing.T) {
	ev, err := vcal.ParseEvent("BEGIN:VEVENT\r\nUID:1\r\nDTSTAMP:20190719T130000Z\r\nDTSTART:20190719T120000Z\r\nCOMMENT:x\r\nEND:VEVENT\r\n")
	require.NoError(t, err)
	shared := SessionKey{Key: []byte("old-shared"), Algorithm: "aes256"}
	calendar := SessionKey{Key: []byte("old-calendar"), Algorithm: "aes256"}

	provider := &MockProvider{}
	provider.On("Encrypt", mock.Anything, mock.Anything).Return([]byte("datapacket"), nil)
	provider.On("Sign", mock.Anything, mock.Anything).Return("signature", nil)

	codec := NewCodec(provider)
	created, err := codec.CreateCalendarEvent(context.Background(), CreateParams{
		Event:              ev,
		SharedSessionKey:   mo.Some(shared),
		CalendarSessionKey: mo.Some(calendar),
	})
	require.NoError(t, err)
	provider.AssertNotCalled(t, "GenerateSessionKey")
	provider.AssertNotCalled(t, "EncryptSessionKey", mock.Anything, mock.Anything)
	provider.AssertCalled(t, "Encrypt", mock.Anything, calendar)
	assert.Empty(t, created.Payload.SharedKeyPacket)
	assert.Empty(t, created.Payload.CalendarKeyPacket)
	assert.Equal(t, shared, created.SharedSessionKey)
	assert.Len(t, created.Payload.CalendarEventContent, 1)

	// moving to another calendar wraps both keys again
	provider.On("EncryptSessionKey", mock.Anything, mock.Anything).Return([]byte("keypacket"), nil)
	created, err = codec.CreateCalendarEvent(context.Background(), CreateParams{
		Event:              ev,
		SharedSessionKey:   mo.Some(shared),
		CalendarSessionKey: mo.Some(calendar),
		IsCalendarSwitch:   true,
	})
	require.NoError(t, err)
	provider.AssertNumberOfCalls(t, "EncryptSessionKey", 2)
	assert.NotEmpty(t, created.Payload.SharedKeyPacket)
	assert.NotEmpty(t, created.Payload.CalendarKeyPacket)
}

func TestCreateCalendarEvent_Failures(t *testing.T) {
	_, err := NewCodec(&MockProvider{}).CreateCalendarEvent(context.Background(), CreateParams{Event: vcal.NewComponent(ical.CompToDo)})
	assert.ErrorIs(t, err, parts.ErrNotVevent)

	ev, err := vcal.ParseEvent("BEGIN:VEVENT\r\nUID:1\r\nDTSTAMP:20190719T130000Z\r\nEND:VEVENT\r\n")
	require.NoError(t, err)

	signErr := errors.New("no key")
	provider := &MockProvider{}
	provider.On("GenerateSessionKey").Return(SessionKey{Key: []byte("k")}, nil)
	provider.On("EncryptSessionKey", mock.Anything, mock.Anything).Return([]byte("keypacket"), nil)
	provider.On("Encrypt", mock.Anything, mock.Anything).Return([]byte("datapacket"), nil)
	provider.On("Sign", mock.Anything, mock.Anything).Return("", signErr)

	_, err = NewCodec(provider).CreateCalendarEvent(context.Background(), CreateParams{Event: ev})
	assert.ErrorIs(t, err, signErr)
}

func TestReadCalendarEvent_FailureIsolation(t *testing.T) {
	key := SessionKey{Key: []byte("shared"), Algorithm: "aes256"}
	verifier := &gopenpgp.KeyRing{}
	signed := "BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nUID:1\r\nDTSTAMP:20190719T130000Z\r\nDTSTART:20190719T120000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

	provider := &MockProvider{}
	provider.On("Verify", []byte(signed), "good", verifier).Return(nil)
	provider.On("Decrypt", []byte("broken"), key).Return(nil, errors.New("bad packet"))

	read, err := NewCodec(provider).ReadCalendarEvent(context.Background(), ReadParams{
		SharedEvents: []WireCard{
			{Type: CardSigned, Data: signed, Signature: "good", Author: author},
			EncryptedCard{DataPacket: []byte("broken"), Signature: "s", Author: author}.Wire(),
		},
		SharedSessionKey:   mo.Some(key),
		PublicKeysByAuthor: map[string]*gopenpgp.KeyRing{author: verifier},
	})
	require.NoError(t, err)
	assert.Equal(t, Failed, read.Verification)
	require.Len(t, read.Cards, 2)
	assert.Equal(t, Successful, read.Cards[0].Status)
	assert.Equal(t, Failed, read.Cards[1].Status)
	assert.EqualError(t, read.Cards[1].Err, "bad packet")
	assert.Equal(t, "1", read.Event.UID())
	assert.True(t, read.Event.Has(ical.PropDateTimeStart))
	provider.AssertExpectations(t)
}

func TestReadCalendarEvent_StructuralErrors(t *testing.T) {
	codec := NewCodec(&MockProvider{})
	ctx := context.Background()

	_, err := codec.ReadCalendarEvent(ctx, ReadParams{
		SharedEvents: []WireCard{{Type: CardSigned, Data: "BEGIN:VCALENDAR"}},
	})
	assert.ErrorIs(t, err, ErrMissingSignature)

	_, err = codec.ReadCalendarEvent(ctx, ReadParams{
		CalendarEvents: []WireCard{{Type: 7, Data: "x", Signature: "s"}},
	})
	assert.ErrorIs(t, err, ErrUnknownCardType)

	_, err = codec.ReadCalendarEvent(ctx, ReadParams{
		CalendarEvents: []WireCard{EncryptedCard{DataPacket: []byte("p"), Signature: "s"}.Wire()},
	})
	assert.ErrorIs(t, err, ErrMissingSessionKey)
}

func TestReadCalendarEvent_ClearTextOnly(t *testing.T) {
	read, err := NewCodec(&MockProvider{}).ReadCalendarEvent(context.Background(), ReadParams{
		SharedEvents: []WireCard{{Type: CardClearText, Data: "BEGIN:VEVENT\r\nUID:1\r\nDTSTAMP:20190719T130000Z\r\nEND:VEVENT\r\n"}},
	})
	require.NoError(t, err)
	assert.Equal(t, NotVerified, read.Verification)
	assert.Equal(t, "1", read.Event.UID())
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		statuses []VerificationStatus
		want     VerificationStatus
	}{
		{"none", nil, NotVerified},
		{"all successful", []VerificationStatus{Successful, Successful}, Successful},
		{"one missing key", []VerificationStatus{Successful, NotVerified}, NotVerified},
		{"one failure wins", []VerificationStatus{NotVerified, Failed, Successful}, Failed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.statuses))
		})
	}
}

func TestDecodeCard(t *testing.T) {
	card, err := DecodeCard(WireCard{Type: CardClearText, Data: "x"})
	require.NoError(t, err)
	assert.Equal(t, ClearTextCard{Data: "x"}, card)

	enc := EncryptedCard{DataPacket: []byte{1, 2, 3}, Signature: "s", Author: "a"}
	card, err = DecodeCard(enc.Wire())
	require.NoError(t, err)
	assert.Equal(t, enc, card)

	_, err = DecodeCard(WireCard{Type: CardEncryptedAndSigned, Data: "%%%", Signature: "s"})
	assert.Error(t, err)

	_, err = DecodeCard(WireCard{Type: CardEncryptedAndSigned, Data: "AQID"})
	assert.ErrorIs(t, err, ErrMissingSignature)

	assert.Equal(t, "ENCRYPTED_AND_SIGNED", CardEncryptedAndSigned.String())
	assert.Equal(t, "CardType(9)", CardType(9).String())
}
