package calcrypto

import (
	"errors"
	"fmt"

	gopenpgp "github.com/ProtonMail/gopenpgp/v2/crypto"
)

// SessionKey is a symmetric key shared by the cards of one group
type SessionKey struct {
	Key       []byte
	Algorithm string
}

// Provider is the set of OpenPGP primitives the codec needs
type Provider interface {
	GenerateSessionKey() (SessionKey, error)
	// EncryptSessionKey wraps a session key into a key packet for keyRing
	EncryptSessionKey(key SessionKey, keyRing *gopenpgp.KeyRing) ([]byte, error)
	DecryptSessionKey(packet []byte, keyRing *gopenpgp.KeyRing) (SessionKey, error)
	// Encrypt returns a symmetrically encrypted data packet
	Encrypt(plaintext []byte, key SessionKey) ([]byte, error)
	Decrypt(packet []byte, key SessionKey) ([]byte, error)
	// Sign returns an armored detached signature
	Sign(plaintext []byte, signer *gopenpgp.KeyRing) (string, error)
	// Verify returns an error wrapping ErrSignatureMismatch when the
	// signature does not match
	Verify(plaintext []byte, signature string, verifier *gopenpgp.KeyRing) error
}

// PGPProvider implements Provider with gopenpgp
type PGPProvider struct{}

// GenerateSessionKey implements Provider
func (PGPProvider) GenerateSessionKey() (SessionKey, error) {
	sk, err := gopenpgp.GenerateSessionKey()
	if err != nil {
		return SessionKey{}, fmt.Errorf("failed to generate session key: %w", err)
	}
	return SessionKey{Key: sk.Key, Algorithm: sk.Algo}, nil
}

// EncryptSessionKey implements Provider
func (PGPProvider) EncryptSessionKey(key SessionKey, keyRing *gopenpgp.KeyRing) ([]byte, error) {
	if keyRing == nil {
		return nil, errors.New("no key to wrap the session key for")
	}
	packet, err := keyRing.EncryptSessionKey(gopenpgp.NewSessionKeyFromToken(key.Key, key.Algorithm))
	if err != nil {
		return nil, fmt.Errorf("failed to wrap session key: %w", err)
	}
	return packet, nil
}

// DecryptSessionKey implements Provider
func (PGPProvider) DecryptSessionKey(packet []byte, keyRing *gopenpgp.KeyRing) (SessionKey, error) {
	if keyRing == nil {
		return SessionKey{}, errors.New("no key to unwrap the session key with")
	}
	sk, err := keyRing.DecryptSessionKey(packet)
	if err != nil {
		return SessionKey{}, fmt.Errorf("failed to unwrap session key: %w", err)
	}
	return SessionKey{Key: sk.Key, Algorithm: sk.Algo}, nil
}

// Encrypt implements Provider
func (PGPProvider) Encrypt(plaintext []byte, key SessionKey) ([]byte, error) {
	sk := gopenpgp.NewSessionKeyFromToken(key.Key, key.Algorithm)
	packet, err := sk.Encrypt(gopenpgp.NewPlainMessage(plaintext))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	return packet, nil
}

// Decrypt implements Provider
func (PGPProvider) Decrypt(packet []byte, key SessionKey) ([]byte, error) {
	sk := gopenpgp.NewSessionKeyFromToken(key.Key, key.Algorithm)
	msg, err := sk.Decrypt(packet)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return msg.GetBinary(), nil
}

// Sign implements Provider
func (PGPProvider) Sign(plaintext []byte, signer *gopenpgp.KeyRing) (string, error) {
	if signer == nil {
		return "", errors.New("no signing key")
	}
	sig, err := signer.SignDetached(gopenpgp.NewPlainMessage(plaintext))
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	return sig.GetArmored()
}

// Verify implements Provider
func (PGPProvider) Verify(plaintext []byte, signature string, verifier *gopenpgp.KeyRing) error {
	sig, err := gopenpgp.NewPGPSignatureFromArmored(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	err = verifier.VerifyDetached(gopenpgp.NewPlainMessage(plaintext), sig, gopenpgp.GetUnixTime())
	if err == nil {
		return nil
	}
	var sigErr gopenpgp.SignatureVerificationError
	if errors.As(err, &sigErr) {
		return fmt.Errorf("%w: %s", ErrSignatureMismatch, sigErr.Message)
	}
	return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
}
