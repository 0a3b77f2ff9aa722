// Package localipc implements the local control surface spec section 6
// calls for but leaves as an external collaborator: "A separate transport
// (e.g., local domain socket) carrying the same RequestBody/ResponseBody
// types ... used by the CLI to ask the daemon to perform Search,
// ListNeighbours or Connect. No envelope crypto is required." It is
// grounded on `keysaver-server/server.go`'s localhost-only HTTP control
// surface (method check, decode, dispatch, encode) adapted from HTTP/JSON
// to a raw Unix domain socket carrying the same length-prefixed framing
// internal/transport uses on the wire, and the same codec the daemon
// already has (internal/codec), rather than inventing a third wire shape.
package localipc

import (
	"context"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/frebib/kipa/internal/codec"
	"github.com/frebib/kipa/internal/kerr"
	"github.com/frebib/kipa/internal/model"
	"github.com/frebib/kipa/internal/transport"
)

// Handler is the narrow set of operations exposed locally — exactly the
// three spec section 6 names, never Query or Verify, which are only
// meaningful as answers to a remote peer. Satisfied by a thin adapter
// over *payload.Handler in internal/daemon.
type Handler interface {
	Search(ctx context.Context, target model.Key) (*model.Node, error)
	ListNeighbours(ctx context.Context) ([]model.Node, error)
	Connect(ctx context.Context, bootstrap model.Node) error
}

// Server accepts one request per connection on a Unix domain socket,
// dispatches it to Handler, and writes back one response — the same
// "one request, one response, then closed" discipline spec section 6
// requires of the network Transport, applied here too for consistency
// even though nothing mandates it for a local socket.
type Server struct {
	listener net.Listener
	handler  Handler
	codec    codec.Codec
	version  string
	log      *zap.Logger
}

// Listen creates (removing any stale socket file first) and binds a Unix
// domain socket at path.
func Listen(path string, handler Handler, c codec.Codec, version string, log *zap.Logger) (*Server, error) {
	_ = os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &Server{listener: l, handler: handler, codec: c, version: version, log: log}, nil
}

// Serve accepts connections until Close is called.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error { return s.listener.Close() }

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reqBytes, err := transport.ReadFrame(conn)
	if err != nil {
		s.log.Debug("local ipc: read request frame failed", zap.Error(err))
		return
	}

	req, err := s.codec.DecodeRequest(reqBytes)
	if err != nil {
		s.writeError(conn, 0, model.ErrorParse, "malformed request")
		return
	}

	resp := s.dispatch(req)
	respBytes, err := s.codec.EncodeResponse(resp)
	if err != nil {
		s.log.Error("local ipc: encode response failed", zap.Error(err))
		return
	}
	if err := transport.WriteFrame(conn, respBytes); err != nil {
		s.log.Debug("local ipc: write response frame failed", zap.Error(err))
	}
}

func (s *Server) dispatch(req model.RequestBody) model.ResponseBody {
	ctx := context.Background()
	switch req.Kind {
	case model.KindSearch:
		if req.Search == nil {
			return s.errorResponse(req.MessageID, model.ErrorParse, "search request missing payload")
		}
		found, err := s.handler.Search(ctx, req.Search.Target)
		if err != nil {
			return s.errorFromCause(req.MessageID, err)
		}
		return model.ResponseBody{
			MessageID: req.MessageID, Version: s.version, Kind: model.KindSearch,
			Search: &model.SearchResponse{Found: found},
		}
	case model.KindListNeighbours:
		nodes, err := s.handler.ListNeighbours(ctx)
		if err != nil {
			return s.errorFromCause(req.MessageID, err)
		}
		return model.ResponseBody{
			MessageID: req.MessageID, Version: s.version, Kind: model.KindListNeighbours,
			ListNeighbours: &model.ListNeighboursResponse{Neighbours: nodes},
		}
	case model.KindConnect:
		if req.Connect == nil {
			return s.errorResponse(req.MessageID, model.ErrorParse, "connect request missing payload")
		}
		if err := s.handler.Connect(ctx, req.Connect.Node); err != nil {
			return s.errorFromCause(req.MessageID, err)
		}
		return model.ResponseBody{
			MessageID: req.MessageID, Version: s.version, Kind: model.KindConnect,
			Connect: &model.ConnectResponse{},
		}
	default:
		return s.errorResponse(req.MessageID, model.ErrorParse, "local ipc only supports search, list_neighbours, and connect")
	}
}

func (s *Server) errorResponse(messageID uint32, kind model.ErrorKind, msg string) model.ResponseBody {
	return model.NewErrorResponse(messageID, s.version, kind, msg)
}

// errorFromCause maps a typed error from the handler onto its wire
// ApiError kind, the same translation internal/payload's errorResponse
// performs for the network path.
func (s *Server) errorFromCause(messageID uint32, err error) model.ResponseBody {
	kind := model.ErrorInternal
	switch kerr.KindOf(err) {
	case kerr.KindParse:
		kind = model.ErrorParse
	case kerr.KindConfiguration:
		kind = model.ErrorConfiguration
	case kerr.KindExternal:
		kind = model.ErrorExternal
	case kerr.KindInternal:
		kind = model.ErrorInternal
	}
	return s.errorResponse(messageID, kind, err.Error())
}

func (s *Server) writeError(conn net.Conn, messageID uint32, kind model.ErrorKind, msg string) {
	respBytes, err := s.codec.EncodeResponse(s.errorResponse(messageID, kind, msg))
	if err != nil {
		return
	}
	_ = transport.WriteFrame(conn, respBytes)
}
