package cryptoprovider

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/frebib/kipa/internal/kerr"
	"github.com/frebib/kipa/internal/model"
)

// rawKeyLength is the length of a Key's raw bytes: an ed25519 verify key
// (32 bytes) concatenated with an X25519 key-agreement key (32 bytes). The
// two are generated independently per identity, not derived from one
// another — following the teacher's own split between fingerprint.go's
// ed25519 node identity and mixnet.go's separate X25519 NodeKeypair, rather
// than attempting a birational edwards-to-montgomery conversion.
const rawKeyLength = ed25519.PublicKeySize + 32

// identity is the concrete cryptoprovider.Provider. It holds exactly one
// local keypair pair (ed25519 for signatures, X25519 for key agreement)
// and has no notion of other identities — per the Design Notes, peer
// public keys travel on the wire inside Node/Key values and are never
// cached in this type.
type identity struct {
	edPriv ed25519.PrivateKey
	edPub  ed25519.PublicKey
	xPriv  [32]byte
	xPub   [32]byte
	pub    model.Key
}

// Generate creates a fresh random identity: an ed25519 signing keypair and
// an independently generated X25519 key-agreement keypair.
func Generate() (Provider, error) {
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, kerr.Internal(err, "generate ed25519 keypair")
	}

	var xPriv [32]byte
	if _, err := io.ReadFull(rand.Reader, xPriv[:]); err != nil {
		return nil, kerr.Internal(err, "generate x25519 seed")
	}
	clamp(&xPriv)

	xPub, err := curve25519.X25519(xPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, kerr.Internal(err, "derive x25519 public key")
	}

	return newIdentity(edPriv, edPub, xPriv, xPub)
}

// FromSeeds reconstructs an identity from its raw private material, e.g.
// after unsealing it with a passphrase (see keyimport.go). edSeed is the
// 32-byte ed25519 seed (not the expanded 64-byte private key).
func FromSeeds(edSeed []byte, xPriv [32]byte) (Provider, error) {
	if len(edSeed) != ed25519.SeedSize {
		return nil, kerr.Configuration(nil, "ed25519 seed must be 32 bytes")
	}
	priv := ed25519.NewKeyFromSeed(edSeed)
	pub := priv.Public().(ed25519.PublicKey)

	clamp(&xPriv)
	xPub, err := curve25519.X25519(xPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, kerr.Internal(err, "derive x25519 public key")
	}

	return newIdentity(priv, pub, xPriv, xPub)
}

func newIdentity(edPriv ed25519.PrivateKey, edPub ed25519.PublicKey, xPriv [32]byte, xPub []byte) (Provider, error) {
	raw := make([]byte, 0, rawKeyLength)
	raw = append(raw, edPub...)
	raw = append(raw, xPub...)

	id := &identity{edPriv: edPriv, edPub: edPub}
	copy(id.xPriv[:], xPriv[:])
	copy(id.xPub[:], xPub)
	id.pub = model.NewKey(raw, fingerprintOf(raw))
	return id, nil
}

// clamp applies the X25519 private-scalar clamping from RFC 7748 section 5.
func clamp(priv *[32]byte) {
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
}

// fingerprintOf derives a stable, URL/log-safe fingerprint string from raw
// key bytes: lowercase unpadded base32 of the SHA-256 digest, truncated to
// 52 characters — the same shape as the teacher's device-fingerprint
// derivation in fingerprint.go (`deriveNodeKeyPair`), applied here to a
// public-key blob instead of a hardware fingerprint.
func fingerprintOf(raw []byte) string {
	sum := sha256.Sum256(raw)
	s := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:]))
	if len(s) > 52 {
		s = s[:52]
	}
	return s
}

// CandidateKeyFromEd25519 builds a stand-in model.Key from a peer's
// ed25519 signing key alone, padding the X25519 half with zeroes. It
// exists for internal/discovery: LAN mDNS only reveals a libp2p peer ID,
// from which the ed25519 half can be recovered exactly (the daemon uses
// the same signing key as both its KIPA and libp2p identity), but the
// X25519 half is unknown until a real Node carrying the peer's full
// advertised Key is learned through an actual wire exchange. A candidate
// built this way verifies signatures correctly (Verify only reads the
// ed25519 half) but cannot be used for private-mode encryption (key
// agreement against the zero X25519 half fails) and its fingerprint is not
// the peer's real one. internal/discovery connects through it in the
// daemon's configured wire mode, so in private mode that probe fails. The
// candidate is stored under its own fingerprint, and nothing removes or
// replaces it when the peer's real Node is learned later.
func CandidateKeyFromEd25519(edPub ed25519.PublicKey) model.Key {
	raw := make([]byte, 0, rawKeyLength)
	raw = append(raw, edPub...)
	raw = append(raw, make([]byte, 32)...)
	return model.NewKey(raw, fingerprintOf(raw))
}

func splitRaw(k model.Key) (edPub ed25519.PublicKey, xPub [32]byte, err error) {
	raw := k.Bytes()
	if len(raw) != rawKeyLength {
		return nil, xPub, errors.Errorf("key has %d raw bytes, want %d", len(raw), rawKeyLength)
	}
	edPub = ed25519.PublicKey(raw[:ed25519.PublicKeySize])
	copy(xPub[:], raw[ed25519.PublicKeySize:])
	return edPub, xPub, nil
}

// SeedMaterial exposes the raw ed25519 seed and X25519 private scalar this
// identity was built from, so cmd/kipad can seal a freshly generated
// identity to disk via keyimport.SealIdentity. Like
// Ed25519PrivateKeyBytes, this is wiring surface only: nothing under
// internal/envelope, internal/search, or internal/payload ever calls it.
func SeedMaterial(p Provider) (edSeed []byte, xPriv [32]byte, ok bool) {
	id, isIdentity := p.(*identity)
	if !isIdentity {
		return nil, xPriv, false
	}
	return append([]byte(nil), id.edPriv.Seed()...), id.xPriv, true
}

func (id *identity) PublicKey() model.Key { return id.pub }

func (id *identity) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(id.edPriv, data), nil
}

// Ed25519PrivateKeyBytes exposes the raw expanded ed25519 private key (the
// standard 64-byte seed+pubkey form) so the transport layer can reuse the
// same long-term identity as its libp2p host key rather than maintaining a
// second, unrelated keypair. This is an escape hatch for wiring code
// (cmd/kipad), not part of the Provider contract: nothing in
// internal/envelope, internal/search, or internal/payload ever calls it.
func Ed25519PrivateKeyBytes(p Provider) ([]byte, bool) {
	id, ok := p.(*identity)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), id.edPriv...), true
}

func (id *identity) Verify(pub model.Key, data, sig []byte) bool {
	edPub, _, err := splitRaw(pub)
	if err != nil {
		return false
	}
	return ed25519.Verify(edPub, data, sig)
}

func (id *identity) SharedSecret(peer model.Key) ([]byte, error) {
	_, peerXPub, err := splitRaw(peer)
	if err != nil {
		return nil, kerr.Parse(err, "peer key is not a valid kipa identity key")
	}
	shared, err := curve25519.X25519(id.xPriv[:], peerXPub[:])
	if err != nil {
		return nil, kerr.External(err, "x25519 key agreement failed")
	}
	return shared, nil
}

func (id *identity) Expand(secret, salt []byte, info string, length int) ([]byte, error) {
	h := hkdf.New(sha256.New, secret, salt, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, kerr.Internal(err, "hkdf expand")
	}
	return out, nil
}

func (id *identity) Seal(key, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, kerr.Internal(err, "construct aead")
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, kerr.Internal(err, "generate nonce")
	}
	ct := aead.Seal(nil, nonce, plaintext, additionalData)
	return append(nonce, ct...), nil
}

func (id *identity) Open(key, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, kerr.Internal(err, "construct aead")
	}
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, kerr.Parse(nil, "ciphertext shorter than nonce")
	}
	nonce := ciphertext[:chacha20poly1305.NonceSizeX]
	ct := ciphertext[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, additionalData)
	if err != nil {
		return nil, kerr.External(err, "aead open failed")
	}
	return plain, nil
}
