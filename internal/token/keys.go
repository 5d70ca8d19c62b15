// keys.go — per-purpose key derivation from the master secret.
// One configured secret feeds every keyed operation in the service; HKDF
// separates the uses so a leak of one derived key does not expose the others.
package token

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const derivedKeyLen = 32

// DeriveSigningKey returns the 32-byte HMAC key used for media tokens.
func DeriveSigningKey(masterSecret string) ([]byte, error) {
	return derive(masterSecret, "mediagate/media-token/v1")
}

// DeriveFingerprintKey returns the 32-byte key used to hash device
// fingerprints before they are stored.
func DeriveFingerprintKey(masterSecret string) ([]byte, error) {
	return derive(masterSecret, "mediagate/device-fingerprint/v1")
}

func derive(masterSecret, info string) ([]byte, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("token: master secret must not be empty")
	}
	r := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte(info))
	key := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("token: derive key: %w", err)
	}
	return key, nil
}
