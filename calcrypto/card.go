// Package calcrypto signs, encrypts and wraps the parts of a calendar event
// into wire cards, and reads them back with per-card verification status.
package calcrypto

import (
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	// ErrMissingSignature is returned for a signed card without signature
	ErrMissingSignature = errors.New("card is missing its signature")
	// ErrUnknownCardType is returned for a card type outside 1..3
	ErrUnknownCardType = errors.New("unknown card type")
	// ErrMissingSessionKey is returned when an encrypted card has no key to open it
	ErrMissingSessionKey = errors.New("missing session key")
	// ErrSignatureMismatch is returned by providers when a signature does not verify
	ErrSignatureMismatch = errors.New("signature verification failed")
)

// CardType is the protection level of a card on the wire
type CardType int

const (
	CardClearText          CardType = 1
	CardSigned             CardType = 2
	CardEncryptedAndSigned CardType = 3
)

func (t CardType) String() string {
	switch t {
	case CardClearText:
		return "CLEAR_TEXT"
	case CardSigned:
		return "SIGNED"
	case CardEncryptedAndSigned:
		return "ENCRYPTED_AND_SIGNED"
	default:
		return fmt.Sprintf("CardType(%d)", int(t))
	}
}

// WireCard is a card as transmitted. Data holds the ICS text for clear and
// signed cards, and the base64 data packet for encrypted ones. Signature is
// an armored detached signature over the ICS text.
type WireCard struct {
	Type      CardType `json:"Type"`
	Data      string   `json:"Data"`
	Signature string   `json:"Signature,omitempty"`
	Author    string   `json:"Author,omitempty"`
}

// Card is a decoded wire card: ClearTextCard, SignedCard or EncryptedCard
type Card interface {
	Type() CardType
	Wire() WireCard
}

// ClearTextCard carries ICS text without protection
type ClearTextCard struct {
	Data string
}

// SignedCard carries ICS text and a detached signature by Author
type SignedCard struct {
	Data      string
	Signature string
	Author    string
}

// EncryptedCard carries a data packet and a signature over its plaintext
type EncryptedCard struct {
	DataPacket []byte
	Signature  string
	Author     string
}

func (ClearTextCard) Type() CardType { return CardClearText }
func (SignedCard) Type() CardType    { return CardSigned }
func (EncryptedCard) Type() CardType { return CardEncryptedAndSigned }

func (c ClearTextCard) Wire() WireCard {
	return WireCard{Type: CardClearText, Data: c.Data}
}

func (c SignedCard) Wire() WireCard {
	return WireCard{Type: CardSigned, Data: c.Data, Signature: c.Signature, Author: c.Author}
}

func (c EncryptedCard) Wire() WireCard {
	return WireCard{
		Type:      CardEncryptedAndSigned,
		Data:      base64.StdEncoding.EncodeToString(c.DataPacket),
		Signature: c.Signature,
		Author:    c.Author,
	}
}

// DecodeCard validates a wire card and converts it into its typed form.
// Structural problems are reported before any cryptographic work happens.
func DecodeCard(w WireCard) (Card, error) {
	switch w.Type {
	case CardClearText:
		return ClearTextCard{Data: w.Data}, nil
	case CardSigned:
		if w.Signature == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingSignature, w.Type)
		}
		return SignedCard{Data: w.Data, Signature: w.Signature, Author: w.Author}, nil
	case CardEncryptedAndSigned:
		if w.Signature == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingSignature, w.Type)
		}
		packet, err := base64.StdEncoding.DecodeString(w.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode data packet: %w", err)
		}
		return EncryptedCard{DataPacket: packet, Signature: w.Signature, Author: w.Author}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCardType, int(w.Type))
	}
}
