package calcrypto

import (
	gopenpgp "github.com/ProtonMail/gopenpgp/v2/crypto"
	"github.com/stretchr/testify/mock"
)

// MockProvider implements the Provider interface for testing
type MockProvider struct {
	mock.Mock
}

// GenerateSessionKey implements the Provider interface
func (m *MockProvider) GenerateSessionKey() (SessionKey, error) {
	args := m.Called()
	return args.Get(0).(SessionKey), args.Error(1)
}

// EncryptSessionKey implements the Provider interface
func (m *MockProvider) EncryptSessionKey(key SessionKey, keyRing *gopenpgp.KeyRing) ([]byte, error) {
	args := m.Called(key, keyRing)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// DecryptSessionKey implements the Provider interface
func (m *MockProvider) DecryptSessionKey(packet []byte, keyRing *gopenpgp.KeyRing) (SessionKey, error) {
	args := m.Called(packet, keyRing)
	return args.Get(0).(SessionKey), args.Error(1)
}

// Encrypt implements the Provider interface
func (m *MockProvider) Encrypt(plaintext []byte, key SessionKey) ([]byte, error) {
	args := m.Called(plaintext, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// Decrypt implements the Provider interface
func (m *MockProvider) Decrypt(packet []byte, key SessionKey) ([]byte, error) {
	args := m.Called(packet, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// Sign implements the Provider interface
func (m *MockProvider) Sign(plaintext []byte, signer *gopenpgp.KeyRing) (string, error) {
	args := m.Called(plaintext, signer)
	return args.String(0), args.Error(1)
}

// Verify implements the Provider interface
func (m *MockProvider) Verify(plaintext []byte, signature string, verifier *gopenpgp.KeyRing) error {
	args := m.Called(plaintext, signature, verifier)
	return args.Error(0)
}
