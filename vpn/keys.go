package vpn

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/curve25519"
)

// KeyLen is the length of a WireGuard key in bytes.
const KeyLen = 32

// ErrInvalidKey is returned when a key cannot be decoded.
var ErrInvalidKey = errors.New("invalid wireguard key")

// Key is a Curve25519 private, public or pre-shared key.
type Key [KeyLen]byte

// GeneratePrivateKey returns a new clamped Curve25519 private key.
func GeneratePrivateKey() (Key, error) {
	k, err := GeneratePresharedKey()
	if err != nil {
		return Key{}, err
	}
	k.clamp()
	return k, nil
}

// GeneratePresharedKey returns 32 random bytes.
func GeneratePresharedKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return k, nil
}

// ParseKey decodes a base64 key as written in wg-quick files.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Key{}, ErrInvalidKey
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(b) != KeyLen {
		return Key{}, ErrInvalidKey
	}
	var k Key
	copy(k[:], b)
	return k, nil
}

func (k *Key) clamp() {
	k[0] &= 248
	k[31] = (k[31] & 127) | 64
}

// PublicKey derives the public key of a private key.
func (k Key) PublicKey() Key {
	var pub Key
	priv := k
	priv.clamp()
	curve25519.ScalarBaseMult((*[KeyLen]byte)(&pub), (*[KeyLen]byte)(&priv))
	priv.Wipe()
	return pub
}

// IsZero reports whether the key is all zeroes.
func (k Key) IsZero() bool {
	var zero Key
	return subtle.ConstantTimeCompare(k[:], zero[:]) == 1
}

// Equal compares two keys in constant time.
func (k Key) Equal(other Key) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// Wipe zeroes the key in place.
func (k *Key) Wipe() {
	for i := range k {
		k[i] = 0
	}
}

// String returns the base64 encoding of the key.
func (k Key) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// Hex returns the lowercase hex encoding used by the UAPI protocol.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}
