package transport

import "io"

// WriteFrameForTest and ReadFrameForTest expose the unexported framing
// helpers to the external transport_test package.
func WriteFrameForTest(w io.Writer, payload []byte) error { return writeFrame(w, payload) }
func ReadFrameForTest(r io.Reader) ([]byte, error)         { return readFrame(r) }
