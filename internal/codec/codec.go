// Package codec provides the bijective mapping between in-memory message
// values and byte strings (spec section 4, "Codec"). The interface is the
// compatibility contract; the concrete JSON implementation is swappable for
// any other encoding, as long as both peers agree (spec section 6).
package codec

import "github.com/frebib/kipa/internal/model"

// Codec encodes and decodes the wire RequestBody/ResponseBody types. An
// implementation must be bijective (encode then decode returns an equal
// value) and must reject bytes carrying unknown required fields rather than
// silently ignoring them.
type Codec interface {
	EncodeRequest(model.RequestBody) ([]byte, error)
	DecodeRequest([]byte) (model.RequestBody, error)
	EncodeResponse(model.ResponseBody) ([]byte, error)
	DecodeResponse([]byte) (model.ResponseBody, error)
}
