package transport

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// maxFrameSize bounds a single frame so a misbehaving or malicious peer
// cannot force an unbounded allocation.
const maxFrameSize = 16 << 20 // 16 MiB

// writeFrame writes a 4-byte big-endian length prefix followed by payload.
func writeFrame(w io.Writer, payload []byte) error {
	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(payload)))
	if _, err := w.Write(lengthPrefix[:]); err != nil {
		return errors.Wrap(err, "write frame length")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "write frame body")
	}
	return nil
}

// WriteFrame writes a length-prefixed frame, the same framing LibP2P uses
// on its streams. Exported so internal/localipc can speak the identical
// framing over its Unix domain socket without duplicating it.
func WriteFrame(w io.Writer, payload []byte) error { return writeFrame(w, payload) }

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) { return readFrame(r) }

// readFrame reads one length-prefixed frame written by writeFrame.
func readFrame(r io.Reader) ([]byte, error) {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
		return nil, errors.Wrap(err, "read frame length")
	}
	length := binary.BigEndian.Uint32(lengthPrefix[:])
	if length > maxFrameSize {
		return nil, errors.Errorf("frame length %d exceeds maximum %d", length, maxFrameSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "read frame body")
	}
	return buf, nil
}
