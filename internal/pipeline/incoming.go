package pipeline

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/frebib/kipa/internal/codec"
	"github.com/frebib/kipa/internal/envelope"
	"github.com/frebib/kipa/internal/model"
	"github.com/frebib/kipa/internal/neighbours"
)

// Handler is the dispatch contract the incoming pipeline drives requests
// through — satisfied directly by *payload.Handler. It is declared here,
// not imported from internal/payload, so the incoming pipeline can be
// wrapped by instrumentation (internal/metrics) without payload needing to
// know metrics exists.
type Handler interface {
	Handle(ctx context.Context, sender model.Node, req model.RequestBody) model.ResponseBody
}

// verifyTimeout bounds the asynchronous post-Consider Verify probe (spec
// section 4.5's side effect); it runs detached from the request that
// triggered it, so it gets its own short budget rather than the caller's.
const verifyTimeout = 10 * time.Second

// VerifyProber is the one outgoing-pipeline capability the incoming
// pipeline needs: confirming a newly considered neighbour actually
// answers at the address it claims (spec section 4.5/9).
type VerifyProber interface {
	Verify(ctx context.Context, to model.Node) error
}

// Incoming implements spec section 4.5 end to end: decode with the
// inferred peer IP, reconstruct the sender Node, dispatch to the payload
// handler, envelope the response in the same mode, and — as a side
// effect — offer the sender to the neighbour store and schedule an async
// Verify probe for newly considered entries.
type Incoming struct {
	envelope *envelope.Envelope
	codec    codec.Codec
	handler  Handler
	store    *neighbours.Store
	verify   VerifyProber
	version  string
	log      *zap.Logger
}

// NewIncoming constructs an Incoming pipeline.
func NewIncoming(e *envelope.Envelope, c codec.Codec, h Handler, store *neighbours.Store, verify VerifyProber, version string, log *zap.Logger) *Incoming {
	return &Incoming{envelope: e, codec: c, handler: h, store: store, verify: verify, version: version, log: log}
}

// Handle is a transport.InboundHandler: it never returns an error to the
// transport layer directly, since every failure this package can produce
// has a wire representation (an ApiError response), per spec section 7's
// propagation policy. The one exception is an envelope that cannot be
// decoded at all — in that case nothing is known about the sender or
// mode, so the best a compliant daemon can do is sign a fast-mode
// ApiError.Parse reply.
func (in *Incoming) Handle(ctx context.Context, peerIP net.IP, wire []byte) []byte {
	decoded, err := in.envelope.DecodeRequest(wire)
	if err != nil {
		return in.undecodableReply(err)
	}

	sender := decoded.Sender.Resolve(peerIP)
	req, err := in.codec.DecodeRequest(decoded.Body)
	if err != nil {
		return in.reply(decoded.Mode, sender.Key, decoded.MessageID, model.NewErrorResponse(decoded.MessageID, in.version, model.ErrorParse, err.Error()))
	}

	resp := in.handler.Handle(ctx, sender, req)
	resp.MessageID = decoded.MessageID

	if in.store.Consider(sender) {
		in.scheduleVerify(sender)
	}

	return in.reply(decoded.Mode, sender.Key, decoded.MessageID, resp)
}

func (in *Incoming) reply(mode envelope.Mode, recipient model.Key, messageID uint32, resp model.ResponseBody) []byte {
	bodyBytes, err := in.codec.EncodeResponse(resp)
	if err != nil {
		in.log.Error("encode response body", zap.Error(err))
		return nil
	}
	wire, err := in.envelope.EncodeResponse(mode, recipient, messageID, bodyBytes)
	if err != nil {
		in.log.Error("envelope response", zap.Error(err))
		return nil
	}
	return wire
}

func (in *Incoming) undecodableReply(cause error) []byte {
	in.log.Debug("inbound request envelope did not decode", zap.Error(cause))
	resp := model.NewErrorResponse(0, in.version, model.ErrorParse, "request envelope did not decode")
	bodyBytes, err := in.codec.EncodeResponse(resp)
	if err != nil {
		return nil
	}
	wire, err := in.envelope.EncodeResponse(envelope.ModeFast, model.Key{}, 0, bodyBytes)
	if err != nil {
		return nil
	}
	return wire
}

// scheduleVerify runs the Verify probe asynchronously so the inbound
// request's own response is never delayed by it (spec section 4.5's side
// effect is explicitly a SHOULD, not part of the request/response path).
func (in *Incoming) scheduleVerify(sender model.Node) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
		defer cancel()

		if err := in.verify.Verify(ctx, sender); err != nil {
			in.log.Debug("verify probe failed, leaving neighbour unverified",
				zap.String("peer", sender.Key.Fingerprint()), zap.Error(err))
			return
		}
		in.store.MarkVerified(sender.Key)
	}()
}
