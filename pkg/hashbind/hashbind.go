// Package hashbind derives collision-resistant, replay-proof keys that
// bind a named action to a specific campaign and argument list.
//
// Keys are SHA3-256 digests of an RFC 8785 (JCS) canonical JSON
// envelope. Because the campaign id is unique per creation, binding it
// into the key makes keys globally unique even when name+arguments
// repeat across campaigns.
package hashbind

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/sha3"
)

// KeySize is the digest width in bytes.
const KeySize = 32

// Key is a content-derived binding key.
type Key [KeySize]byte

// String returns the lowercase hex encoding of the key.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether the key is the all-zero value.
func (k Key) IsZero() bool {
	return k == Key{}
}

// ParseKey decodes a 64-character hex string into a Key.
func ParseKey(s string) (Key, error) {
	var k Key
	raw, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("parse key: %w", err)
	}
	if len(raw) != KeySize {
		return k, fmt.Errorf("parse key: want %d bytes, got %d", KeySize, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// envelope is the canonical hashing input. Field names are part of the
// key derivation and must never change.
type envelope struct {
	Name     string `json:"name"`
	Campaign uint64 `json:"campaign"`
	Resolved bool   `json:"resolved"`
	Args     []any  `json:"args"`
}

// Bind derives the key for (name, campaignID, resolved, args).
//
// Bind is pure: identical inputs always produce identical keys. Two
// argument lists bind to the same key iff their canonical JSON forms
// are byte-identical, so any single-bit change in any argument yields
// a different key. Arguments must be JSON-serializable.
func Bind(name string, campaignID uint64, resolved bool, args []any) (Key, error) {
	if args == nil {
		args = []any{}
	}
	raw, err := json.Marshal(envelope{
		Name:     name,
		Campaign: campaignID,
		Resolved: resolved,
		Args:     args,
	})
	if err != nil {
		return Key{}, fmt.Errorf("hashbind: marshal envelope: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return Key{}, fmt.Errorf("hashbind: canonicalize envelope: %w", err)
	}
	return sha3.Sum256(canonical), nil
}

// Digest hashes arbitrary bytes with the same SHA3-256 function used
// for key derivation. Commitment construction builds on this so that a
// single hash underlies every binding in the engine.
func Digest(data []byte) Key {
	return sha3.Sum256(data)
}

// Commitment derives the commit-phase hash for a secret and the
// per-participant seed supplied alongside it. The same pair must be
// presented at reveal time; the seed is bound per participant, never
// shared globally.
func Commitment(secret int64, seed uint64) Key {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(secret))
	binary.BigEndian.PutUint64(buf[8:], seed)
	return sha3.Sum256(buf[:])
}
