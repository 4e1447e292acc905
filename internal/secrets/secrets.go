// Package secrets generates webhook signing secrets and keeps them sealed at rest.
//
// A plaintext secret leaves this package exactly twice: when it is generated
// (create or rotate) and when the delivery worker opens it to sign a request.
// Storage only ever sees the sealed form and a BLAKE3 fingerprint.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
)

// SecretBytes is the amount of randomness in a generated secret.
const SecretBytes = 32

// fingerprintHexLen is how much of the BLAKE3 digest is kept for display.
const fingerprintHexLen = 16

var ErrBadMasterKey = errors.New("master key must decode to 32 bytes")

// Generate returns a new base64url (unpadded) encoded secret.
func Generate() (string, error) {
	buf := make([]byte, SecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Fingerprint is a short, non-reversible identifier for a secret, safe to show in UIs.
func Fingerprint(secret string) string {
	sum := blake3.Sum256([]byte(secret))
	return "blake3:" + hex.EncodeToString(sum[:])[:fingerprintHexLen]
}

// Box seals and opens secrets with XChaCha20-Poly1305.
type Box struct {
	key []byte
}

// NewBox builds a Box from a base64 (std or url, padded or not) 32-byte key.
func NewBox(masterKey string) (*Box, error) {
	key, err := decodeKey(masterKey)
	if err != nil {
		return nil, err
	}
	if _, err := chacha20poly1305.NewX(key); err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &Box{key: key}, nil
}

// NewKey returns a fresh master key encoded for config files.
func NewKey() (string, error) {
	buf := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Seal encrypts secret. The webhook id is bound as associated data so a sealed
// secret cannot be moved to another row.
func (b *Box) Seal(webhookID, secret string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(secret)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, []byte(secret), []byte(webhookID)), nil
}

// Open decrypts a value produced by Seal for the same webhook id.
func (b *Box) Open(webhookID string, sealed []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("sealed secret too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(webhookID))
	if err != nil {
		return "", fmt.Errorf("open sealed secret: %w", err)
	}
	return string(plain), nil
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		if key, err := enc.DecodeString(s); err == nil {
			if len(key) != chacha20poly1305.KeySize {
				return nil, ErrBadMasterKey
			}
			return key, nil
		}
	}
	return nil, ErrBadMasterKey
}
