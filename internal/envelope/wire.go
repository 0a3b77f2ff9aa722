package envelope

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/frebib/kipa/internal/model"
)

// wireSenderNode mirrors model.SenderNode: the declared key (raw bytes +
// fingerprint) and port, carried in the clear on every request per spec
// section 6 ("Request (SenderNode + encrypted_or_plain body bytes)") — the
// IP is never part of this, it is always inferred from the connection.
type wireSenderNode struct {
	Raw         string `json:"raw"`
	Fingerprint string `json:"fingerprint"`
	Port        uint16 `json:"port"`
}

func senderNodeToWire(s model.SenderNode) wireSenderNode {
	return wireSenderNode{Raw: hex.EncodeToString(s.Key.Bytes()), Fingerprint: s.Key.Fingerprint(), Port: s.Port}
}

func (w wireSenderNode) toModel() (model.SenderNode, error) {
	raw, err := hex.DecodeString(w.Raw)
	if err != nil {
		return model.SenderNode{}, errors.Wrap(err, "sender.raw is not hex")
	}
	if w.Fingerprint == "" {
		return model.SenderNode{}, errors.New("sender.fingerprint is required")
	}
	return model.SenderNode{Key: model.NewKey(raw, w.Fingerprint), Port: w.Port}, nil
}

type wireRequest struct {
	MessageID  uint32         `json:"message_id"`
	Mode       string         `json:"mode"`
	Sender     wireSenderNode `json:"sender"`
	Plaintext  []byte         `json:"plaintext,omitempty"`
	Ciphertext []byte         `json:"ciphertext,omitempty"`
	Signature  []byte         `json:"signature,omitempty"`
}

type wireResponse struct {
	MessageID  uint32 `json:"message_id"`
	Mode       string `json:"mode"`
	Plaintext  []byte `json:"plaintext,omitempty"`
	Ciphertext []byte `json:"ciphertext,omitempty"`
	Signature  []byte `json:"signature,omitempty"`
}

func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func encodeWireRequest(w wireRequest) ([]byte, error) {
	return json.Marshal(w)
}

func decodeWireRequest(data []byte) (wireRequest, error) {
	var w wireRequest
	if err := strictUnmarshal(data, &w); err != nil {
		return wireRequest{}, err
	}
	return w, nil
}

func encodeWireResponse(w wireResponse) ([]byte, error) {
	return json.Marshal(w)
}

func decodeWireResponse(data []byte) (wireResponse, error) {
	var w wireResponse
	if err := strictUnmarshal(data, &w); err != nil {
		return wireResponse{}, err
	}
	return w, nil
}
