package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Sealer encrypts short strings with AES-256-GCM. Output is base64 of
// nonce||ciphertext.
type Sealer struct {
	gcm cipher.AEAD
}

// KeyFromConfig returns a 32-byte key.
// Priority:
// 1) encoded (base64-encoded 32 bytes)
// 2) Derive from secret (sha256)
func KeyFromConfig(encoded, secret string) ([]byte, error) {
	if v := strings.TrimSpace(encoded); v != "" {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, err
		}
		if len(b) != 32 {
			return nil, errors.New("session key must decode to 32 bytes")
		}
		return b, nil
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:], nil
}

func NewSealer(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	payload := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(payload), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	payload, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	ns := s.gcm.NonceSize()
	if len(payload) < ns {
		return "", ErrCiphertextTooShort
	}
	nonce, ct := payload[:ns], payload[ns:]

	pt, err := s.gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
