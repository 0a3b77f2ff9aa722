// Package pipeline wires the secure envelope to the transport and payload
// handler (spec sections 4.4, 4.5): the outgoing pipeline turns a typed
// request into wire bytes and a validated typed response; the incoming
// pipeline turns inbound wire bytes into a dispatched response and the
// side effect of offering the sender to the neighbour store.
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/frebib/kipa/internal/codec"
	"github.com/frebib/kipa/internal/envelope"
	"github.com/frebib/kipa/internal/kerr"
	"github.com/frebib/kipa/internal/model"
	"github.com/frebib/kipa/internal/transport"
)

// Outgoing implements spec section 4.4 end to end: fresh message id, fill
// the sender port, apply the envelope, send, invert the envelope, and
// validate the message id echo and sender key before handing a typed
// response back to the caller.
type Outgoing struct {
	transport transport.Transport
	envelope  *envelope.Envelope
	codec     codec.Codec
	mode      envelope.Mode
	version   string
	log       *zap.Logger
}

// NewOutgoing constructs an Outgoing pipeline bound to one local identity,
// transport and wire mode. mode is fixed per pipeline instance rather than
// per call since a single daemon process typically picks one default mode
// (spec section 9 Design Notes); callers needing per-call mode selection
// can construct one Outgoing per mode.
func NewOutgoing(t transport.Transport, e *envelope.Envelope, c codec.Codec, mode envelope.Mode, version string, log *zap.Logger) *Outgoing {
	return &Outgoing{transport: t, envelope: e, codec: c, mode: mode, version: version, log: log}
}

func freshMessageID() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, kerr.Internal(err, "read random message id")
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// do is the shared core of every outgoing request: assign an id, encode,
// envelope, send, invert, and validate the echo (spec section 4.4 a–g).
func (o *Outgoing) do(ctx context.Context, to model.Node, build func(messageID uint32) model.RequestBody) (model.ResponseBody, error) {
	messageID, err := freshMessageID()
	if err != nil {
		return model.ResponseBody{}, err
	}
	body := build(messageID)

	bodyBytes, err := o.codec.EncodeRequest(body)
	if err != nil {
		return model.ResponseBody{}, kerr.Parse(err, "encode outgoing request body")
	}

	requestWire, err := o.envelope.EncodeRequest(o.mode, to.Key, messageID, o.transport.LocalPort(), bodyBytes)
	if err != nil {
		return model.ResponseBody{}, err
	}

	responseWire, err := o.transport.Send(ctx, to, requestWire)
	if err != nil {
		return model.ResponseBody{}, err
	}

	decoded, err := o.envelope.DecodeResponse(responseWire, to.Key)
	if err != nil {
		return model.ResponseBody{}, err
	}
	if decoded.MessageID != messageID {
		return model.ResponseBody{}, kerr.External(nil, "response message id does not echo the request")
	}

	respBody, err := o.codec.DecodeResponse(decoded.Body)
	if err != nil {
		return model.ResponseBody{}, kerr.Parse(err, "decode response body")
	}
	return respBody, nil
}

// apiErrorToErr turns a wire ApiError payload back into a typed error, the
// mirror image of payload.errorResponse.
func apiErrorToErr(e *model.ApiError) error {
	switch e.Kind {
	case model.ErrorParse:
		return kerr.Parse(nil, e.Message)
	case model.ErrorConfiguration:
		return kerr.Configuration(nil, e.Message)
	case model.ErrorExternal:
		return kerr.External(nil, e.Message)
	default:
		return kerr.Internal(nil, e.Message)
	}
}

// Query sends a Query(target) probe to to and returns the nodes it
// reported. It implements payload.Querier, closing the loop between the
// search engine and the outgoing pipeline.
func (o *Outgoing) Query(ctx context.Context, to model.Node, target model.Key) ([]model.Node, error) {
	resp, err := o.do(ctx, to, func(id uint32) model.RequestBody { return model.NewQueryRequest(id, o.version, target) })
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, apiErrorToErr(resp.Error)
	}
	if resp.Query == nil {
		return nil, kerr.Parse(nil, "query response missing query payload")
	}
	return resp.Query.Nodes, nil
}

// Search sends a Search(target) request to to and returns the matched
// node, or nil if the responder reports none.
func (o *Outgoing) Search(ctx context.Context, to model.Node, target model.Key) (*model.Node, error) {
	resp, err := o.do(ctx, to, func(id uint32) model.RequestBody { return model.NewSearchRequest(id, o.version, target) })
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, apiErrorToErr(resp.Error)
	}
	if resp.Search == nil {
		return nil, kerr.Parse(nil, "search response missing search payload")
	}
	return resp.Search.Found, nil
}

// Connect offers node as a bootstrap peer to to.
func (o *Outgoing) Connect(ctx context.Context, to model.Node, node model.Node) error {
	resp, err := o.do(ctx, to, func(id uint32) model.RequestBody { return model.NewConnectRequest(id, o.version, node) })
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return apiErrorToErr(resp.Error)
	}
	return nil
}

// ListNeighbours asks to for its full neighbour list.
func (o *Outgoing) ListNeighbours(ctx context.Context, to model.Node) ([]model.Node, error) {
	resp, err := o.do(ctx, to, func(id uint32) model.RequestBody { return model.NewListNeighboursRequest(id, o.version) })
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, apiErrorToErr(resp.Error)
	}
	if resp.ListNeighbours == nil {
		return nil, kerr.Parse(nil, "list-neighbours response missing payload")
	}
	return resp.ListNeighbours.Neighbours, nil
}

// Verify sends a liveness/authenticity probe to to. A nil error means to
// answered with a validly signed, message-id-matching reply (spec section
// 4.6's Verify row: the reply itself is the verification).
func (o *Outgoing) Verify(ctx context.Context, to model.Node) error {
	resp, err := o.do(ctx, to, func(id uint32) model.RequestBody { return model.NewVerifyRequest(id, o.version) })
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return apiErrorToErr(resp.Error)
	}
	return nil
}
