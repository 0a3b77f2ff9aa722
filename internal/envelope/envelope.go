// Package envelope implements the secure envelope (spec section 4.3): the
// layer between the codec's plain message bytes and the transport, which
// signs, encrypts, verifies, and decrypts per-message according to the
// caller-selected wire mode, and enforces the message-id/sender-key
// invariants that make the pipelines safe to trust.
package envelope

import (
	"encoding/binary"
	"fmt"

	"github.com/frebib/kipa/internal/cryptoprovider"
	"github.com/frebib/kipa/internal/kerr"
	"github.com/frebib/kipa/internal/model"
)

// Mode selects how an individual message is protected on the wire (spec
// section 4.3). It is a per-message property, never a connection-wide or
// daemon-wide setting.
type Mode string

const (
	// ModeFast signs only responses; requests travel as plaintext. Present
	// for latency experiments (spec section 9 Design Notes); a compliant
	// daemon may refuse it outright but must never silently downgrade it
	// to private mode or vice versa.
	ModeFast Mode = "fast"

	// ModePrivate signs and encrypts both directions.
	ModePrivate Mode = "private"
)

// ParseMode validates a wire mode string. An unrecognized mode is a Parse
// failure (spec section 8 scenario 6: "a daemon that receives a request in
// a mode it does not support responds with ApiError.Parse").
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFast:
		return ModeFast, nil
	case ModePrivate:
		return ModePrivate, nil
	default:
		return "", kerr.Parse(nil, fmt.Sprintf("unrecognized wire mode %q", s))
	}
}

// hkdfInfo namespaces key derivation so that a private-mode request key is
// never reused for anything else, and so that keys for distinct message
// ids never collide even when derived from the same long-term shared
// secret (spec section 4.3 rationale).
const hkdfInfo = "kipa/envelope/private/v1"

// Envelope applies and inverts the secure envelope for one local identity.
// It is stateless beyond the identity itself; all per-message state (mode,
// message id, peer key) is passed in on each call.
type Envelope struct {
	crypto cryptoprovider.Provider
}

// New constructs an Envelope bound to crypto, the local signing/encryption
// identity.
func New(crypto cryptoprovider.Provider) *Envelope {
	return &Envelope{crypto: crypto}
}

func messageIDBytes(id uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	return b[:]
}

func (e *Envelope) deriveKey(peer model.Key, messageID uint32) ([]byte, error) {
	shared, err := e.crypto.SharedSecret(peer)
	if err != nil {
		return nil, kerr.External(err, "derive shared secret with peer")
	}
	return e.crypto.Expand(shared, messageIDBytes(messageID), hkdfInfo, 32)
}

// EncodeRequest produces the wire bytes for an outbound request. senderPort
// is this daemon's own listening port (never its IP — spec section 4.4b);
// recipient is the peer the request is addressed to.
func (e *Envelope) EncodeRequest(mode Mode, recipient model.Key, messageID uint32, senderPort uint16, body []byte) ([]byte, error) {
	sender := model.SenderNode{Key: e.crypto.PublicKey(), Port: senderPort}

	switch mode {
	case ModeFast:
		return encodeWireRequest(wireRequest{
			MessageID: messageID,
			Mode:      string(ModeFast),
			Sender:    senderNodeToWire(sender),
			Plaintext: body,
		})
	case ModePrivate:
		key, err := e.deriveKey(recipient, messageID)
		if err != nil {
			return nil, err
		}
		ciphertext, err := e.crypto.Seal(key, body, messageIDBytes(messageID))
		if err != nil {
			return nil, kerr.Internal(err, "seal private-mode request body")
		}
		signature, err := e.crypto.Sign(body)
		if err != nil {
			return nil, kerr.Internal(err, "sign private-mode request body")
		}
		return encodeWireRequest(wireRequest{
			MessageID:  messageID,
			Mode:       string(ModePrivate),
			Sender:     senderNodeToWire(sender),
			Ciphertext: ciphertext,
			Signature:  signature,
		})
	default:
		return nil, kerr.Parse(nil, "unknown request mode")
	}
}

// DecodedRequest is the result of inverting an inbound request envelope.
type DecodedRequest struct {
	MessageID uint32
	Mode      Mode
	Sender    model.SenderNode
	Body      []byte
}

// DecodeRequest inverts an inbound request's wire bytes. It does not know
// the peer's IP; the caller (the incoming pipeline) combines Sender with
// the connection-inferred IP per spec section 4.5c.
func (e *Envelope) DecodeRequest(wire []byte) (DecodedRequest, error) {
	w, err := decodeWireRequest(wire)
	if err != nil {
		return DecodedRequest{}, kerr.Parse(err, "decode request envelope")
	}

	mode, err := ParseMode(w.Mode)
	if err != nil {
		return DecodedRequest{}, err
	}

	sender, err := w.Sender.toModel()
	if err != nil {
		return DecodedRequest{}, kerr.Parse(err, "decode sender node")
	}

	switch mode {
	case ModeFast:
		if len(w.Ciphertext) > 0 {
			return DecodedRequest{}, kerr.Parse(nil, "fast-mode request carries ciphertext, not plaintext")
		}
		return DecodedRequest{MessageID: w.MessageID, Mode: mode, Sender: sender, Body: w.Plaintext}, nil
	case ModePrivate:
		key, err := e.deriveKey(sender.Key, w.MessageID)
		if err != nil {
			return DecodedRequest{}, err
		}
		body, err := e.crypto.Open(key, w.Ciphertext, messageIDBytes(w.MessageID))
		if err != nil {
			return DecodedRequest{}, kerr.External(err, "decrypt private-mode request body")
		}
		if !e.crypto.Verify(sender.Key, body, w.Signature) {
			return DecodedRequest{}, kerr.External(nil, "private-mode request signature mismatch")
		}
		return DecodedRequest{MessageID: w.MessageID, Mode: mode, Sender: sender, Body: body}, nil
	default:
		return DecodedRequest{}, kerr.Parse(nil, "unknown request mode")
	}
}

// EncodeResponse produces the wire bytes for a response. recipient is the
// original requester's key — in private mode this is who the response is
// encrypted to; in both modes it is who the response must be signed for.
func (e *Envelope) EncodeResponse(mode Mode, recipient model.Key, messageID uint32, body []byte) ([]byte, error) {
	signature, err := e.crypto.Sign(body)
	if err != nil {
		return nil, kerr.Internal(err, "sign response body")
	}

	switch mode {
	case ModeFast:
		return encodeWireResponse(wireResponse{
			MessageID: messageID,
			Mode:      string(ModeFast),
			Plaintext: body,
			Signature: signature,
		})
	case ModePrivate:
		key, err := e.deriveKey(recipient, messageID)
		if err != nil {
			return nil, err
		}
		ciphertext, err := e.crypto.Seal(key, body, messageIDBytes(messageID))
		if err != nil {
			return nil, kerr.Internal(err, "seal private-mode response body")
		}
		return encodeWireResponse(wireResponse{
			MessageID:  messageID,
			Mode:       string(ModePrivate),
			Ciphertext: ciphertext,
			Signature:  signature,
		})
	default:
		return nil, kerr.Parse(nil, "unknown response mode")
	}
}

// DecodedResponse is the result of inverting an outbound request's reply.
type DecodedResponse struct {
	MessageID uint32
	Mode      Mode
	Body      []byte
}

// DecodeResponse inverts a response's wire bytes. expectedSender is the key
// the original request was addressed to; the response MUST be signed (and,
// in private mode, encrypted) by that key, per spec section 4.3's sender
// mismatch check. Message-id echo validation is the outgoing pipeline's
// job (it alone knows which id it sent); DecodeResponse only reports the
// id found on the wire.
func (e *Envelope) DecodeResponse(wire []byte, expectedSender model.Key) (DecodedResponse, error) {
	w, err := decodeWireResponse(wire)
	if err != nil {
		return DecodedResponse{}, kerr.Parse(err, "decode response envelope")
	}

	mode, err := ParseMode(w.Mode)
	if err != nil {
		return DecodedResponse{}, err
	}

	var body []byte
	switch mode {
	case ModeFast:
		body = w.Plaintext
	case ModePrivate:
		key, err := e.deriveKey(expectedSender, w.MessageID)
		if err != nil {
			return DecodedResponse{}, err
		}
		body, err = e.crypto.Open(key, w.Ciphertext, messageIDBytes(w.MessageID))
		if err != nil {
			return DecodedResponse{}, kerr.External(err, "decrypt private-mode response body")
		}
	default:
		return DecodedResponse{}, kerr.Parse(nil, "unknown response mode")
	}

	if len(w.Signature) == 0 {
		return DecodedResponse{}, kerr.External(nil, "response missing required signature")
	}
	if !e.crypto.Verify(expectedSender, body, w.Signature) {
		return DecodedResponse{}, kerr.External(nil, "response signature does not match addressed key")
	}

	return DecodedResponse{MessageID: w.MessageID, Mode: mode, Body: body}, nil
}
