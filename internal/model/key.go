// Package model holds the core data model (spec section 3): Key, Address,
// Node, SenderNode, and the wire Message variants.
package model

import (
	"github.com/frebib/kipa/internal/keyspace"
)

// Key is a public key plus its stable fingerprint string. Two keys are
// equal iff their fingerprints match. Key is a plain value type so it can
// be copied, used as a map key (via Fingerprint), and compared freely.
type Key struct {
	raw         []byte
	fingerprint string
}

// NewKey constructs a Key from its raw public-key bytes and a fingerprint
// computed by the crypto provider. The fingerprint is what equality and
// hashing are defined over; raw bytes are carried for wire encoding and for
// deriving the key-space coordinate.
func NewKey(raw []byte, fingerprint string) Key {
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return Key{raw: cp, fingerprint: fingerprint}
}

// Bytes returns the raw public-key bytes.
func (k Key) Bytes() []byte {
	cp := make([]byte, len(k.raw))
	copy(cp, k.raw)
	return cp
}

// Fingerprint returns the stable fingerprint string used for equality.
func (k Key) Fingerprint() string { return k.fingerprint }

// Equal reports whether two keys have the same fingerprint.
func (k Key) Equal(other Key) bool { return k.fingerprint == other.fingerprint }

// IsZero reports whether this is the zero-value Key (no fingerprint set).
func (k Key) IsZero() bool { return k.fingerprint == "" && len(k.raw) == 0 }

// Coordinate derives this key's key-space coordinate. It is computed on
// demand rather than stored on the Key, since only the neighbour store and
// search engine ever need it.
func (k Key) Coordinate() keyspace.Coordinate {
	return keyspace.FromKey(k.raw)
}
