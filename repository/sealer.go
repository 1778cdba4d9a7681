package repository

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "enc:v1:"

// Sealer encrypts token columns at rest.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(value string) (string, error)
}

// PlainSealer stores values as given.
type PlainSealer struct{}

func (PlainSealer) Seal(plaintext string) (string, error) { return plaintext, nil }

// Open returns value unchanged. Sealed values cannot be read without a key.
func (PlainSealer) Open(value string) (string, error) {
	if strings.HasPrefix(value, sealedPrefix) {
		return "", errors.New("sealed value found but no token key is configured")
	}
	return value, nil
}

// XChaChaSealer seals values with XChaCha20-Poly1305. Values written
// before a key was configured are read back as plaintext.
type XChaChaSealer struct {
	key []byte
}

// NewXChaChaSealer creates a sealer from a 32 byte key.
func NewXChaChaSealer(key []byte) (*XChaChaSealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("token key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &XChaChaSealer{key: append([]byte(nil), key...)}, nil
}

// NewSealerFromHex returns an XChaChaSealer for a hex encoded key, or a
// PlainSealer when the key is empty.
func NewSealerFromHex(hexKey string) (Sealer, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return PlainSealer{}, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("token key is not valid hex: %w", err)
	}
	return NewXChaChaSealer(key)
}

func (s *XChaChaSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

func (s *XChaChaSealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("sealed token is malformed: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("sealed token is too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed token: %w", err)
	}
	return string(plain), nil
}

func sealAll(s Sealer, values ...*string) error {
	for _, v := range values {
		out, err := s.Seal(*v)
		if err != nil {
			return err
		}
		*v = out
	}
	return nil
}

func openAll(s Sealer, values ...*string) error {
	for _, v := range values {
		out, err := s.Open(*v)
		if err != nil {
			return err
		}
		*v = out
	}
	return nil
}
