package model

// Kind identifies which payload variant a request or response carries.
type Kind string

const (
	KindQuery          Kind = "query"
	KindSearch         Kind = "search"
	KindConnect        Kind = "connect"
	KindListNeighbours Kind = "list_neighbours"
	KindVerify         Kind = "verify"
)

// ErrorKind is the wire-level enum carried by an ApiError response payload
// (spec section 6). It mirrors kerr.Kind but is the serialization-stable
// form — kerr.Kind's int values are free to change; this string enum is the
// interoperability contract between daemons.
type ErrorKind string

const (
	ErrorNone          ErrorKind = "none"
	ErrorParse         ErrorKind = "parse"
	ErrorConfiguration ErrorKind = "configuration"
	ErrorExternal      ErrorKind = "external"
	ErrorInternal      ErrorKind = "internal"
)

// Request payload variants (spec section 3 table).

// QueryRequest asks the responder for nodes it considers close to Target.
type QueryRequest struct {
	Target Key
}

// SearchRequest asks the responder to run an end-to-end search for Target.
type SearchRequest struct {
	Target Key
}

// ConnectRequest offers Node as a bootstrap/candidate peer.
type ConnectRequest struct {
	Node Node
}

// ListNeighboursRequest has no fields; it asks for the responder's full
// neighbour list.
type ListNeighboursRequest struct{}

// VerifyRequest has no fields; a correctly signed, message-id-matching
// reply to it is itself the liveness/authenticity proof.
type VerifyRequest struct{}

// Response payload variants.

// QueryResponse carries zero or more nodes the responder considers close
// to the queried target.
type QueryResponse struct {
	Nodes []Node
}

// SearchResponse carries the exact match, if the search found one
// end-to-end.
type SearchResponse struct {
	Found *Node
}

// ConnectResponse is an empty acknowledgement.
type ConnectResponse struct{}

// ListNeighboursResponse carries the responder's full neighbour list.
type ListNeighboursResponse struct {
	Neighbours []Node
}

// VerifyResponse is empty.
type VerifyResponse struct{}

// ApiError is a response-only payload: an error kind plus a human-readable
// message. It is a valid response, not a transport failure.
type ApiError struct {
	Kind    ErrorKind
	Message string
}

// RequestBody is MessageID + Version + exactly one request payload variant.
type RequestBody struct {
	MessageID uint32
	Version   string
	Kind      Kind

	Query          *QueryRequest
	Search         *SearchRequest
	Connect        *ConnectRequest
	ListNeighbours *ListNeighboursRequest
	Verify         *VerifyRequest
}

// ResponseBody mirrors RequestBody plus the ApiError variant. Exactly one
// of the payload fields or Error is set; Kind says which, and
// Error != nil takes precedence regardless of Kind when present.
type ResponseBody struct {
	MessageID uint32
	Version   string
	Kind      Kind

	Query          *QueryResponse
	Search         *SearchResponse
	Connect        *ConnectResponse
	ListNeighbours *ListNeighboursResponse
	Verify         *VerifyResponse

	Error *ApiError
}

// NewQueryRequest builds a query RequestBody with a fresh message id left
// for the caller (pipelines assign ids, see internal/pipeline).
func NewQueryRequest(messageID uint32, version string, target Key) RequestBody {
	return RequestBody{MessageID: messageID, Version: version, Kind: KindQuery, Query: &QueryRequest{Target: target}}
}

// NewSearchRequest builds a search RequestBody.
func NewSearchRequest(messageID uint32, version string, target Key) RequestBody {
	return RequestBody{MessageID: messageID, Version: version, Kind: KindSearch, Search: &SearchRequest{Target: target}}
}

// NewConnectRequest builds a connect RequestBody.
func NewConnectRequest(messageID uint32, version string, node Node) RequestBody {
	return RequestBody{MessageID: messageID, Version: version, Kind: KindConnect, Connect: &ConnectRequest{Node: node}}
}

// NewListNeighboursRequest builds a list-neighbours RequestBody.
func NewListNeighboursRequest(messageID uint32, version string) RequestBody {
	return RequestBody{MessageID: messageID, Version: version, Kind: KindListNeighbours, ListNeighbours: &ListNeighboursRequest{}}
}

// NewVerifyRequest builds a verify RequestBody.
func NewVerifyRequest(messageID uint32, version string) RequestBody {
	return RequestBody{MessageID: messageID, Version: version, Kind: KindVerify, Verify: &VerifyRequest{}}
}

// NewErrorResponse builds a ResponseBody carrying only an ApiError.
func NewErrorResponse(messageID uint32, version string, kind ErrorKind, message string) ResponseBody {
	return ResponseBody{MessageID: messageID, Version: version, Error: &ApiError{Kind: kind, Message: message}}
}
