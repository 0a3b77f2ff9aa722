package cryptoprovider

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/frebib/kipa/internal/kerr"
)

// identityMagic tags a sealed identity file so a corrupt or foreign file is
// rejected before the argon2 pass, the same framing the teacher uses for
// env.enc (see env_encrypt.go).
var identityMagic = [5]byte{'K', 'I', 'P', 'A', '1'}

const saltSize = 16

// SealIdentity encrypts an ed25519 seed and an X25519 private scalar under
// a passphrase-derived key, producing a self-contained blob suitable for
// storage at the config-supplied key path (spec section 6, "local key
// reference + private-key passphrase"). Layout: magic | salt | nonce |
// plaintext-length | ciphertext — directly modeled on the teacher's
// sealEnvSecrets/openEnvSecrets framing in env_encrypt.go.
func SealIdentity(passphrase []byte, edSeed []byte, xPriv [32]byte) ([]byte, error) {
	if len(edSeed) != ed25519.SeedSize {
		return nil, kerr.Configuration(nil, "ed25519 seed must be 32 bytes")
	}

	plain := make([]byte, 0, len(edSeed)+len(xPriv))
	plain = append(plain, edSeed...)
	plain = append(plain, xPriv[:]...)

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, kerr.Internal(err, "generate salt")
	}
	key := passphraseKey(passphrase, salt)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, kerr.Internal(err, "construct aead")
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, kerr.Internal(err, "generate nonce")
	}
	ct := aead.Seal(nil, nonce, plain, nil)

	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(plain)))

	out := make([]byte, 0, len(identityMagic)+saltSize+len(nonce)+4+len(ct))
	out = append(out, identityMagic[:]...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, lengthPrefix[:]...)
	out = append(out, ct...)
	return out, nil
}

// OpenIdentity reverses SealIdentity. A wrong passphrase or corrupt blob
// surfaces as a Configuration error — identity loading happens at startup,
// per spec section 7's "Configuration ... fatal at startup" rule.
func OpenIdentity(passphrase []byte, blob []byte) (edSeed []byte, xPriv [32]byte, err error) {
	min := len(identityMagic) + saltSize + chacha20poly1305.NonceSizeX + 4
	if len(blob) < min {
		return nil, xPriv, kerr.Configuration(nil, "identity blob too short")
	}
	if string(blob[:len(identityMagic)]) != string(identityMagic[:]) {
		return nil, xPriv, kerr.Configuration(nil, "identity blob has unrecognized magic header")
	}

	offset := len(identityMagic)
	salt := blob[offset : offset+saltSize]
	offset += saltSize
	nonce := blob[offset : offset+chacha20poly1305.NonceSizeX]
	offset += chacha20poly1305.NonceSizeX
	offset += 4 // length prefix is redundant with ciphertext framing, skipped
	ct := blob[offset:]

	key := passphraseKey(passphrase, salt)
	aead, aeadErr := chacha20poly1305.NewX(key)
	if aeadErr != nil {
		return nil, xPriv, kerr.Internal(aeadErr, "construct aead")
	}
	plain, openErr := aead.Open(nil, nonce, ct, nil)
	if openErr != nil {
		return nil, xPriv, kerr.Configuration(openErr, "identity blob decrypt failed, wrong passphrase?")
	}
	if len(plain) != ed25519.SeedSize+32 {
		return nil, xPriv, kerr.Configuration(nil, "identity blob plaintext has unexpected length")
	}

	edSeed = append([]byte(nil), plain[:ed25519.SeedSize]...)
	copy(xPriv[:], plain[ed25519.SeedSize:])
	return edSeed, xPriv, nil
}

// passphraseKey derives a 32-byte AEAD key from a passphrase via Argon2id,
// m=64 MiB, t=2, p=1 — the same parameters the teacher tuned in
// env_encrypt.go's kdf function.
func passphraseKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 2, 64*1024, 1, 32)
}
