// Package storage describes the server-side collaborators of the event
// codec: a paged source of encrypted events and a store for calendar and
// address keys.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	gopenpgp "github.com/ProtonMail/gopenpgp/v2/crypto"

	"github.com/cyp0633/libcalseal/calcrypto"
)

// Error types
type ErrorType string

const (
	ErrNotFound      ErrorType = "not_found"
	ErrAlreadyExists ErrorType = "already_exists"
	ErrInvalidInput  ErrorType = "invalid_input"
)

// Error represents a storage-related error
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a storage error of type ErrNotFound
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Type == ErrNotFound
}

// EncryptedEvent is one event as the server keeps it: the wire payload plus
// the cleartext metadata the server needs for paging.
type EncryptedEvent struct {
	ID         string
	CalendarID string
	// Author is the address the payload was signed with
	Author   string
	Payload  calcrypto.Payload
	Modified time.Time
}

// EventSource pages through the encrypted events of a calendar. Events are
// ordered by ID; a page starts strictly after beginID ("" for the first
// page) and holds at most pageSize events. A short page ends the listing.
type EventSource interface {
	ListEvents(ctx context.Context, calendarID, beginID string, pageSize int) ([]EncryptedEvent, error)
}

// KeyStore hands out unlocked calendar keys and public address keys
type KeyStore interface {
	// CalendarKey returns the private key ring of a calendar
	CalendarKey(ctx context.Context, calendarID string) (*gopenpgp.KeyRing, error)
	// AddressKeys returns the public keys used to verify cards signed by email
	AddressKeys(ctx context.Context, email string) (*gopenpgp.KeyRing, error)
}
