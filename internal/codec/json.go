package codec

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net"

	"github.com/pkg/errors"

	"github.com/frebib/kipa/internal/kerr"
	"github.com/frebib/kipa/internal/model"
)

// JSON is the Codec implementation used by every daemon in this codebase.
// It is grounded directly on the teacher's own habit of reaching for
// encoding/json for every wire struct (ChatMsg, FileManifest, Beacon,
// FinalEnvelope, ReplicateEnvelope in go-node) rather than a binary codec.
//
// JSON rejects any bytes carrying fields it does not know about
// (json.Decoder.DisallowUnknownFields). A request must carry exactly one
// payload variant, the one its declared Kind names; a non-error response
// must carry the variant its Kind names, and any other variant fields it
// carries are ignored on decode. Encode/decode is bijective over the set of
// values this package can produce.
type JSON struct{}

// NewJSON constructs the JSON codec. It holds no state.
func NewJSON() JSON { return JSON{} }

func (JSON) EncodeRequest(body model.RequestBody) ([]byte, error) {
	w, err := requestToWire(body)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(w)
	if err != nil {
		return nil, kerr.Internal(err, "marshal request")
	}
	return out, nil
}

func (JSON) DecodeRequest(data []byte) (model.RequestBody, error) {
	var w wireRequest
	if err := strictUnmarshal(data, &w); err != nil {
		return model.RequestBody{}, kerr.Parse(err, "decode request")
	}
	return w.toModel()
}

func (JSON) EncodeResponse(body model.ResponseBody) ([]byte, error) {
	w, err := responseToWire(body)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(w)
	if err != nil {
		return nil, kerr.Internal(err, "marshal response")
	}
	return out, nil
}

func (JSON) DecodeResponse(data []byte) (model.ResponseBody, error) {
	var w wireResponse
	if err := strictUnmarshal(data, &w); err != nil {
		return model.ResponseBody{}, kerr.Parse(err, "decode response")
	}
	return w.toModel()
}

func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// wireKey is Key's wire shape: raw bytes hex-encoded, fingerprint as-is.
type wireKey struct {
	Raw         string `json:"raw"`
	Fingerprint string `json:"fingerprint"`
}

func keyToWire(k model.Key) wireKey {
	return wireKey{Raw: hex.EncodeToString(k.Bytes()), Fingerprint: k.Fingerprint()}
}

func (w wireKey) toModel() (model.Key, error) {
	raw, err := hex.DecodeString(w.Raw)
	if err != nil {
		return model.Key{}, errors.Wrap(err, "key.raw is not hex")
	}
	if w.Fingerprint == "" {
		return model.Key{}, errors.New("key.fingerprint is required")
	}
	return model.NewKey(raw, w.Fingerprint), nil
}

type wireAddress struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

func addressToWire(a model.Address) wireAddress {
	return wireAddress{IP: a.IP.String(), Port: a.Port}
}

func (w wireAddress) toModel() (model.Address, error) {
	ip := net.ParseIP(w.IP)
	if ip == nil {
		return model.Address{}, errors.Errorf("address.ip %q is not a valid IP", w.IP)
	}
	return model.Address{IP: ip, Port: w.Port}, nil
}

type wireNode struct {
	Key     wireKey     `json:"key"`
	Address wireAddress `json:"address"`
}

func nodeToWire(n model.Node) wireNode {
	return wireNode{Key: keyToWire(n.Key), Address: addressToWire(n.Address)}
}

func (w wireNode) toModel() (model.Node, error) {
	k, err := w.Key.toModel()
	if err != nil {
		return model.Node{}, err
	}
	a, err := w.Address.toModel()
	if err != nil {
		return model.Node{}, err
	}
	return model.Node{Key: k, Address: a}, nil
}

func nodesToWire(ns []model.Node) []wireNode {
	out := make([]wireNode, len(ns))
	for i, n := range ns {
		out[i] = nodeToWire(n)
	}
	return out
}

func wireNodesToModel(ws []wireNode) ([]model.Node, error) {
	out := make([]model.Node, len(ws))
	for i, w := range ws {
		n, err := w.toModel()
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

type wireAPIError struct {
	Kind    model.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

// wireRequest is the JSON shape of model.RequestBody: envelope fields plus
// one pointer per payload variant. Exactly one of the pointers must be set
// and it must correspond to Kind.
type wireRequest struct {
	MessageID uint32    `json:"message_id"`
	Version   string    `json:"version"`
	Kind      model.Kind `json:"kind"`

	Query          *wireQueryRequest          `json:"query,omitempty"`
	Search         *wireSearchRequest         `json:"search,omitempty"`
	Connect        *wireConnectRequest        `json:"connect,omitempty"`
	ListNeighbours *wireListNeighboursRequest `json:"list_neighbours,omitempty"`
	Verify         *wireVerifyRequest         `json:"verify,omitempty"`
}

type wireQueryRequest struct {
	Target wireKey `json:"target"`
}

type wireSearchRequest struct {
	Target wireKey `json:"target"`
}

type wireConnectRequest struct {
	Node wireNode `json:"node"`
}

type wireListNeighboursRequest struct{}

type wireVerifyRequest struct{}

func requestToWire(b model.RequestBody) (wireRequest, error) {
	w := wireRequest{MessageID: b.MessageID, Version: b.Version, Kind: b.Kind}
	switch b.Kind {
	case model.KindQuery:
		if b.Query == nil {
			return wireRequest{}, errors.New("kind=query but Query is nil")
		}
		w.Query = &wireQueryRequest{Target: keyToWire(b.Query.Target)}
	case model.KindSearch:
		if b.Search == nil {
			return wireRequest{}, errors.New("kind=search but Search is nil")
		}
		w.Search = &wireSearchRequest{Target: keyToWire(b.Search.Target)}
	case model.KindConnect:
		if b.Connect == nil {
			return wireRequest{}, errors.New("kind=connect but Connect is nil")
		}
		w.Connect = &wireConnectRequest{Node: nodeToWire(b.Connect.Node)}
	case model.KindListNeighbours:
		if b.ListNeighbours == nil {
			return wireRequest{}, errors.New("kind=list_neighbours but ListNeighbours is nil")
		}
		w.ListNeighbours = &wireListNeighboursRequest{}
	case model.KindVerify:
		if b.Verify == nil {
			return wireRequest{}, errors.New("kind=verify but Verify is nil")
		}
		w.Verify = &wireVerifyRequest{}
	default:
		return wireRequest{}, errors.Errorf("unknown request kind %q", b.Kind)
	}
	return w, nil
}

func (w wireRequest) toModel() (model.RequestBody, error) {
	set := 0
	for _, present := range []bool{w.Query != nil, w.Search != nil, w.Connect != nil, w.ListNeighbours != nil, w.Verify != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		return model.RequestBody{}, errors.Errorf("request carries %d payload variants, want exactly one", set)
	}
	b := model.RequestBody{MessageID: w.MessageID, Version: w.Version, Kind: w.Kind}
	switch w.Kind {
	case model.KindQuery:
		if w.Query == nil {
			return model.RequestBody{}, errors.New("kind=query but query field missing")
		}
		target, err := w.Query.Target.toModel()
		if err != nil {
			return model.RequestBody{}, err
		}
		b.Query = &model.QueryRequest{Target: target}
	case model.KindSearch:
		if w.Search == nil {
			return model.RequestBody{}, errors.New("kind=search but search field missing")
		}
		target, err := w.Search.Target.toModel()
		if err != nil {
			return model.RequestBody{}, err
		}
		b.Search = &model.SearchRequest{Target: target}
	case model.KindConnect:
		if w.Connect == nil {
			return model.RequestBody{}, errors.New("kind=connect but connect field missing")
		}
		n, err := w.Connect.Node.toModel()
		if err != nil {
			return model.RequestBody{}, err
		}
		b.Connect = &model.ConnectRequest{Node: n}
	case model.KindListNeighbours:
		if w.ListNeighbours == nil {
			return model.RequestBody{}, errors.New("kind=list_neighbours but list_neighbours field missing")
		}
		b.ListNeighbours = &model.ListNeighboursRequest{}
	case model.KindVerify:
		if w.Verify == nil {
			return model.RequestBody{}, errors.New("kind=verify but verify field missing")
		}
		b.Verify = &model.VerifyRequest{}
	default:
		return model.RequestBody{}, errors.Errorf("unknown request kind %q", w.Kind)
	}
	return b, nil
}

type wireResponse struct {
	MessageID uint32     `json:"message_id"`
	Version   string     `json:"version"`
	Kind      model.Kind `json:"kind,omitempty"`

	Query          *wireQueryResponse          `json:"query,omitempty"`
	Search         *wireSearchResponse         `json:"search,omitempty"`
	Connect        *wireConnectResponse        `json:"connect,omitempty"`
	ListNeighbours *wireListNeighboursResponse `json:"list_neighbours,omitempty"`
	Verify         *wireVerifyResponse         `json:"verify,omitempty"`

	Error *wireAPIError `json:"error,omitempty"`
}

type wireQueryResponse struct {
	Nodes []wireNode `json:"nodes"`
}

type wireSearchResponse struct {
	Found *wireNode `json:"found,omitempty"`
}

type wireConnectResponse struct{}

type wireListNeighboursResponse struct {
	Neighbours []wireNode `json:"neighbours"`
}

type wireVerifyResponse struct{}

func responseToWire(b model.ResponseBody) (wireResponse, error) {
	w := wireResponse{MessageID: b.MessageID, Version: b.Version, Kind: b.Kind}
	if b.Error != nil {
		w.Error = &wireAPIError{Kind: b.Error.Kind, Message: b.Error.Message}
		return w, nil
	}
	switch b.Kind {
	case model.KindQuery:
		if b.Query == nil {
			return wireResponse{}, errors.New("kind=query but Query is nil")
		}
		w.Query = &wireQueryResponse{Nodes: nodesToWire(b.Query.Nodes)}
	case model.KindSearch:
		if b.Search == nil {
			return wireResponse{}, errors.New("kind=search but Search is nil")
		}
		sr := &wireSearchResponse{}
		if b.Search.Found != nil {
			n := nodeToWire(*b.Search.Found)
			sr.Found = &n
		}
		w.Search = sr
	case model.KindConnect:
		if b.Connect == nil {
			return wireResponse{}, errors.New("kind=connect but Connect is nil")
		}
		w.Connect = &wireConnectResponse{}
	case model.KindListNeighbours:
		if b.ListNeighbours == nil {
			return wireResponse{}, errors.New("kind=list_neighbours but ListNeighbours is nil")
		}
		w.ListNeighbours = &wireListNeighboursResponse{Neighbours: nodesToWire(b.ListNeighbours.Neighbours)}
	case model.KindVerify:
		if b.Verify == nil {
			return wireResponse{}, errors.New("kind=verify but Verify is nil")
		}
		w.Verify = &wireVerifyResponse{}
	default:
		return wireResponse{}, errors.Errorf("unknown response kind %q", b.Kind)
	}
	return w, nil
}

func (w wireResponse) toModel() (model.ResponseBody, error) {
	b := model.ResponseBody{MessageID: w.MessageID, Version: w.Version, Kind: w.Kind}
	if w.Error != nil {
		b.Error = &model.ApiError{Kind: w.Error.Kind, Message: w.Error.Message}
		return b, nil
	}
	switch w.Kind {
	case model.KindQuery:
		if w.Query == nil {
			return model.ResponseBody{}, errors.New("kind=query but query field missing")
		}
		nodes, err := wireNodesToModel(w.Query.Nodes)
		if err != nil {
			return model.ResponseBody{}, err
		}
		b.Query = &model.QueryResponse{Nodes: nodes}
	case model.KindSearch:
		if w.Search == nil {
			return model.ResponseBody{}, errors.New("kind=search but search field missing")
		}
		sr := &model.SearchResponse{}
		if w.Search.Found != nil {
			n, err := w.Search.Found.toModel()
			if err != nil {
				return model.ResponseBody{}, err
			}
			sr.Found = &n
		}
		b.Search = sr
	case model.KindConnect:
		if w.Connect == nil {
			return model.ResponseBody{}, errors.New("kind=connect but connect field missing")
		}
		b.Connect = &model.ConnectResponse{}
	case model.KindListNeighbours:
		if w.ListNeighbours == nil {
			return model.ResponseBody{}, errors.New("kind=list_neighbours but list_neighbours field missing")
		}
		neighbours, err := wireNodesToModel(w.ListNeighbours.Neighbours)
		if err != nil {
			return model.ResponseBody{}, err
		}
		b.ListNeighbours = &model.ListNeighboursResponse{Neighbours: neighbours}
	case model.KindVerify:
		if w.Verify == nil {
			return model.ResponseBody{}, errors.New("kind=verify but verify field missing")
		}
		b.Verify = &model.VerifyResponse{}
	default:
		return model.ResponseBody{}, errors.Errorf("unknown response kind %q", w.Kind)
	}
	return b, nil
}
