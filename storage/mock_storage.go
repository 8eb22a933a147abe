package storage

import (
	"context"

	gopenpgp "github.com/ProtonMail/gopenpgp/v2/crypto"
	"github.com/stretchr/testify/mock"

	"github.com/cyp0633/libcalseal/calcrypto"
)

// MockEventSource implements the EventSource interface for testing
type MockEventSource struct {
	mock.Mock
}

// ListEvents implements the EventSource interface
func (m *MockEventSource) ListEvents(ctx context.Context, calendarID, beginID string, pageSize int) ([]EncryptedEvent, error) {
	args := m.Called(ctx, calendarID, beginID, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]EncryptedEvent), args.Error(1)
}

// MockKeyStore implements the KeyStore interface for testing
type MockKeyStore struct {
	mock.Mock
}

// CalendarKey implements the KeyStore interface
func (m *MockKeyStore) CalendarKey(ctx context.Context, calendarID string) (*gopenpgp.KeyRing, error) {
	args := m.Called(ctx, calendarID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gopenpgp.KeyRing), args.Error(1)
}

// AddressKeys implements the KeyStore interface
func (m *MockKeyStore) AddressKeys(ctx context.Context, email string) (*gopenpgp.KeyRing, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gopenpgp.KeyRing), args.Error(1)
}

// NewMockEvent creates a test EncryptedEvent with an opaque payload
func NewMockEvent(calendarID, id string) EncryptedEvent {
	return EncryptedEvent{
		ID:         id,
		CalendarID: calendarID,
		Payload: calcrypto.Payload{
			SharedEventContent: []calcrypto.WireCard{{Type: calcrypto.CardSigned, Data: id, Signature: "sig"}},
		},
	}
}
