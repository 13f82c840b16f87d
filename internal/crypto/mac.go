package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of a MAC key in bytes.
const KeySize = 32

var (
	ErrInvalidKeySize = errors.New("invalid MAC key size (must be 32 bytes)")
	ErrEmptySecret    = errors.New("secret must not be empty")
)

// DeriveKey stretches an operator supplied secret into a MAC key using HKDF-SHA256.
// info separates keys derived from the same secret for different purposes.
func DeriveKey(secret []byte, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// RandomKey returns a fresh random MAC key.
func RandomKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// MAC computes keyed BLAKE3 tags over ordered parts.
type MAC struct {
	key []byte
}

// NewMAC creates a MAC from a 32 byte key.
func NewMAC(key []byte) (*MAC, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &MAC{key: k}, nil
}

// Sum returns the tag over parts. Each part is length prefixed so that
// ("ab", "c") and ("a", "bc") produce different tags.
func (m *MAC) Sum(parts ...[]byte) []byte {
	h, err := blake3.NewKeyed(m.key)
	if err != nil {
		// key length is checked in NewMAC
		panic(err)
	}
	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}
	return h.Sum(nil)
}

// Equal compares two tags in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Digest returns the unkeyed BLAKE3-256 digest of b.
func Digest(b []byte) []byte {
	sum := blake3.Sum256(b)
	return sum[:]
}
