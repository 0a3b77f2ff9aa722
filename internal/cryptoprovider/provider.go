// Package cryptoprovider implements the signing, verification, key-exchange
// and AEAD operations the secure envelope (internal/envelope) and identity
// loading (cmd/kipad) build on, per spec section 4.3's "crypto provider"
// component.
package cryptoprovider

import "github.com/frebib/kipa/internal/model"

// Provider is the cryptographic backend a daemon is configured with. One
// Provider instance holds exactly one identity (a signing keypair); all
// methods are safe for concurrent use.
type Provider interface {
	// PublicKey returns this identity's public key, including its
	// fingerprint.
	PublicKey() model.Key

	// Sign produces a detached signature over data using this identity's
	// private key.
	Sign(data []byte) ([]byte, error)

	// Verify reports whether sig is a valid signature over data under the
	// given public key.
	Verify(pub model.Key, data, sig []byte) bool

	// SharedSecret performs a Diffie-Hellman exchange between this
	// identity's private key and peer's public key, suitable as input
	// key material for Expand. Used only in private wire mode.
	SharedSecret(peer model.Key) ([]byte, error)

	// Expand derives a fixed-length symmetric key from secret, salted and
	// labeled by info so that keys derived for different purposes (or
	// different message ids) never collide.
	Expand(secret, salt []byte, info string, length int) ([]byte, error)

	// Seal encrypts and authenticates plaintext under key, binding
	// additionalData (e.g. the message id) into the authentication tag.
	Seal(key, plaintext, additionalData []byte) ([]byte, error)

	// Open authenticates and decrypts ciphertext produced by Seal.
	Open(key, ciphertext, additionalData []byte) ([]byte, error)
}
