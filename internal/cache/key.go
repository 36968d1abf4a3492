package cache

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// KeySize is the digest length in bytes.
const KeySize = 32

// Key is the BLAKE3 digest of a model provider request.
//
// The short key (first 8 bytes, little-endian) is what the store indexes on;
// it is not collision free, so lookups always match the long key as well.
type Key [KeySize]byte

// ShortKey returns the first 8 bytes as a little-endian uint64.
func (k Key) ShortKey() (uint64, error) {
	return shortKey(k[:])
}

// LongKey returns the full digest as 64 lowercase hex characters.
func (k Key) LongKey() string {
	return hex.EncodeToString(k[:])
}

func (k Key) String() string {
	return k.LongKey()
}

// ParseKey parses a long key back into a Key.
func ParseKey(longKey string) (Key, error) {
	b, err := hex.DecodeString(longKey)
	if err != nil {
		return Key{}, &Error{Message: "invalid long cache key", Err: err}
	}
	return keyFromBytes(b)
}

func keyFromBytes(b []byte) (Key, error) {
	if len(b) != KeySize {
		return Key{}, &Error{Message: fmt.Sprintf("cache key must be %d bytes, got %d", KeySize, len(b))}
	}
	var k Key
	copy(k[:], b)
	return k, nil
}

func shortKey(digest []byte) (uint64, error) {
	if len(digest) < 8 {
		return 0, &Error{Message: fmt.Sprintf("failed to convert hash into u64 for short cache key: %d bytes", len(digest))}
	}
	return binary.LittleEndian.Uint64(digest[:8]), nil
}
