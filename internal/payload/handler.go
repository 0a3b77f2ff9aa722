// Package payload implements the dispatch table (spec section 4.6): it
// turns a decoded RequestBody plus the sender's reconstructed Node into a
// ResponseBody, consulting the neighbour store directly for Query/
// ListNeighbours and driving the search engine for Search/Connect.
package payload

import (
	"context"

	"go.uber.org/zap"

	"github.com/frebib/kipa/internal/kerr"
	"github.com/frebib/kipa/internal/model"
	"github.com/frebib/kipa/internal/neighbours"
	"github.com/frebib/kipa/internal/search"
)

// Querier sends a single Query(target) probe to a peer via the outgoing
// pipeline and returns the nodes it reported. It is the one dependency the
// search engine needs that payload does not own directly, since sending a
// probe requires the secure envelope and transport (internal/pipeline).
type Querier interface {
	Query(ctx context.Context, to model.Node, target model.Key) ([]model.Node, error)
}

// Config holds the payload handler's tunable return/seed widths (spec
// section 9: "The parameterization (α, β, N, k) must all be
// configurable" — these are the k's outside the neighbour store itself).
type Config struct {
	// Version is stamped on every response (spec section 3's message
	// version string).
	Version string
	// KReturn bounds how many nodes a Query response reports.
	KReturn int
	// KSeed bounds how many stored neighbours seed a Search's initial
	// frontier (spec section 4.7: "closest_to(target, k_seed)").
	KSeed int
	// KClosure is the k in the on_explored closure condition: "the k
	// nearest nodes to target in found are all in explored" (spec
	// section 4.7).
	KClosure int
}

// DefaultConfig returns reasonable widths for a small-to-medium network.
func DefaultConfig() Config {
	return Config{Version: "kipa/1", KReturn: 8, KSeed: 3, KClosure: 1}
}

// Handler dispatches decoded requests to the neighbour store and search
// engine and produces responses (spec section 4.6).
type Handler struct {
	local   model.Node
	store   *neighbours.Store
	engine  *search.Engine
	querier Querier
	cfg     Config
	log     *zap.Logger
}

// New constructs a Handler. local is this daemon's own (Key, Address),
// used as the Connect search's destination and to recognise its own key.
func New(local model.Node, store *neighbours.Store, engine *search.Engine, querier Querier, cfg Config, log *zap.Logger) *Handler {
	return &Handler{local: local, store: store, engine: engine, querier: querier, cfg: cfg, log: log}
}

// Handle dispatches req from sender and returns the response body, never
// an error — any failure is captured as an ApiError payload (spec section
// 7 propagation policy: "the only way the daemon reports 'nothing' is via
// an ApiError payload or an explicit empty response variant").
func (h *Handler) Handle(ctx context.Context, sender model.Node, req model.RequestBody) model.ResponseBody {
	switch req.Kind {
	case model.KindQuery:
		return h.handleQuery(req)
	case model.KindSearch:
		return h.handleSearch(ctx, req)
	case model.KindConnect:
		return h.handleConnect(ctx, req)
	case model.KindListNeighbours:
		return h.handleListNeighbours(req)
	case model.KindVerify:
		return h.handleVerify(req)
	default:
		return model.NewErrorResponse(req.MessageID, h.cfg.Version, model.ErrorParse, "unrecognized request kind")
	}
}

func (h *Handler) handleQuery(req model.RequestBody) model.ResponseBody {
	nodes := h.store.ClosestTo(req.Query.Target, h.cfg.KReturn)
	return model.ResponseBody{
		MessageID: req.MessageID, Version: h.cfg.Version, Kind: model.KindQuery,
		Query: &model.QueryResponse{Nodes: nodes},
	}
}

func (h *Handler) handleListNeighbours(req model.RequestBody) model.ResponseBody {
	return model.ResponseBody{
		MessageID: req.MessageID, Version: h.cfg.Version, Kind: model.KindListNeighbours,
		ListNeighbours: &model.ListNeighboursResponse{Neighbours: h.store.List()},
	}
}

func (h *Handler) handleVerify(req model.RequestBody) model.ResponseBody {
	return model.ResponseBody{
		MessageID: req.MessageID, Version: h.cfg.Version, Kind: model.KindVerify,
		Verify: &model.VerifyResponse{},
	}
}

// handleSearch runs the search engine toward coordinate(target) (spec
// section 4.6 Search row).
func (h *Handler) handleSearch(ctx context.Context, req model.RequestBody) model.ResponseBody {
	result, err := h.Search(ctx, req.Search.Target)
	if err != nil {
		return errorResponse(req.MessageID, h.cfg.Version, err)
	}
	return model.ResponseBody{
		MessageID: req.MessageID, Version: h.cfg.Version, Kind: model.KindSearch,
		Search: &model.SearchResponse{Found: result},
	}
}

// Search runs the search engine toward coordinate(target) and returns the
// matched node, or nil if the search completed without finding one (spec
// section 4.6 Search row). Exported so internal/localipc can drive the
// same operation a CLI-issued Search performs, without going through a
// wire RequestBody at all — spec section 6 names Search as one of the
// three operations the local control surface exposes directly.
func (h *Handler) Search(ctx context.Context, target model.Key) (*model.Node, error) {
	// "the local node acting as a pseudo-seed via its neighbour list" —
	// the local node itself is never probed, so its only contribution to
	// the frontier is indirect: the neighbours it already knows about.
	frontier := h.store.ClosestTo(target, h.cfg.KSeed)
	if len(frontier) == 0 {
		return nil, nil
	}

	c := newClosureTracker(target, h.cfg.KClosure)

	onFound := func(n model.Node) search.Outcome {
		c.onFound(n)
		if n.Key.Equal(target) {
			cp := n
			return search.FinishOutcome(&cp)
		}
		return search.ContinueOutcome()
	}
	onExplored := func(n model.Node) search.Outcome {
		c.onExplored(n)
		if c.closed() {
			return search.FinishOutcome(nil)
		}
		return search.ContinueOutcome()
	}

	return h.engine.Run(ctx, target.Coordinate(), frontier, onFound, onExplored, h.probe(target))
}

// handleConnect offers bootstrap to the neighbour store, then runs the
// search engine toward the local key, absorbing every discovered node
// (spec section 4.6 Connect row).
func (h *Handler) handleConnect(ctx context.Context, req model.RequestBody) model.ResponseBody {
	if err := h.Connect(ctx, req.Connect.Node); err != nil {
		return errorResponse(req.MessageID, h.cfg.Version, err)
	}
	return model.ResponseBody{
		MessageID: req.MessageID, Version: h.cfg.Version, Kind: model.KindConnect,
		Connect: &model.ConnectResponse{},
	}
}

// Connect offers bootstrap to the neighbour store, then runs the search
// engine toward the local key, absorbing every discovered node (spec
// section 4.6 Connect row). Exported for the same reason Search is:
// internal/localipc and internal/discovery both need to trigger this
// operation directly, one from the CLI's local socket, the other from a
// freshly mDNS-discovered LAN peer.
func (h *Handler) Connect(ctx context.Context, bootstrap model.Node) error {
	h.store.Consider(bootstrap)

	c := newClosureTracker(h.local.Key, h.cfg.KClosure)

	onFound := func(n model.Node) search.Outcome {
		c.onFound(n)
		h.store.Consider(n)
		return search.ContinueOutcome()
	}
	onExplored := func(n model.Node) search.Outcome {
		c.onExplored(n)
		if c.closed() {
			return search.FinishOutcome(nil)
		}
		return search.ContinueOutcome()
	}

	_, err := h.engine.Run(ctx, h.local.Key.Coordinate(), []model.Node{bootstrap}, onFound, onExplored, h.probe(h.local.Key))
	return err
}

// ListNeighbours returns the local neighbour store's current contents.
// Exported for the same reason as Search and Connect.
func (h *Handler) ListNeighbours() []model.Node {
	return h.store.List()
}

func (h *Handler) probe(target model.Key) search.ProbeFunc {
	return func(ctx context.Context, node model.Node) ([]model.Node, error) {
		return h.querier.Query(ctx, node, target)
	}
}

// errorResponse maps a typed error onto its wire ApiError kind (spec
// section 7 propagation policy).
func errorResponse(messageID uint32, version string, err error) model.ResponseBody {
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
	return model.NewErrorResponse(messageID, version, kind, err.Error())
}
