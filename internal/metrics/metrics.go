// Package metrics exposes operational counters and gauges on the daemon's
// control-only listener, mirroring `go-node/server-control.go`'s
// localhost-only operational endpoints (spec.md doesn't require this, but
// SPEC_FULL.md's AMBIENT STACK calls it out as implied by treating this as
// a production daemon). It uses its own prometheus.Registry rather than
// the global default one, the same "own instance, no global state" shape
// every other long-lived component here follows.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frebib/kipa/internal/model"
	"github.com/frebib/kipa/internal/neighbours"
)

// Metrics holds every counter/gauge this daemon exposes. A nil *Metrics is
// not valid; callers always construct one with New and pass it explicitly
// to the things it wraps, never through ambient global state.
type Metrics struct {
	registry *prometheus.Registry

	probesTotal   *prometheus.CounterVec
	searchesTotal *prometheus.CounterVec
	requestsTotal *prometheus.CounterVec
	requestErrors *prometheus.CounterVec
}

// New constructs a Metrics instance with all series registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kipa",
			Name:      "probes_total",
			Help:      "Query probes issued by the search engine, by result.",
		}, []string{"result"}),
		searchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kipa",
			Name:      "searches_total",
			Help:      "Search and Connect operations completed, by outcome.",
		}, []string{"kind", "outcome"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kipa",
			Name:      "requests_total",
			Help:      "Inbound requests dispatched by the payload handler, by kind.",
		}, []string{"kind"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kipa",
			Name:      "request_errors_total",
			Help:      "Inbound requests that resulted in an ApiError response, by error kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.probesTotal, m.searchesTotal, m.requestsTotal, m.requestErrors)
	return m
}

// Handler serves the Prometheus exposition format for this instance's
// registry, meant to be mounted on the daemon's localhost-only control
// mux (cmd/kipad), never the peer-facing listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NeighbourGaugeFunc registers a gauge that reads store.Size() on every
// scrape, so the neighbour count never needs an explicit update call from
// the code paths that mutate the store.
func (m *Metrics) NeighbourGaugeFunc(store *neighbours.Store) {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "kipa",
		Name:      "neighbours",
		Help:      "Current size of the local neighbour store.",
	}, func() float64 { return float64(store.Size()) })
	m.registry.MustRegister(g)
}

// querier is a payload.Querier decorator (internal/payload.Querier's
// method set is the same single-method shape declared locally, so no
// import of internal/payload is needed — see internal/pipeline.Handler
// for the identical reasoning) that counts probe outcomes.
type querier struct {
	inner Querier
	m     *Metrics
}

// Querier mirrors payload.Querier's contract.
type Querier interface {
	Query(ctx context.Context, to model.Node, target model.Key) ([]model.Node, error)
}

// WrapQuerier instruments a Querier (normally *pipeline.Outgoing, which the
// search engine calls once per probe) with the probes_total counter.
func (m *Metrics) WrapQuerier(q Querier) Querier {
	return &querier{inner: q, m: m}
}

func (q *querier) Query(ctx context.Context, to model.Node, target model.Key) ([]model.Node, error) {
	nodes, err := q.inner.Query(ctx, to, target)
	if err != nil {
		q.m.probesTotal.WithLabelValues("failed").Inc()
	} else {
		q.m.probesTotal.WithLabelValues("ok").Inc()
	}
	return nodes, err
}

// requestHandler is an internal/pipeline.Handler decorator that counts
// dispatched requests by kind, ApiError responses by error kind, and
// Search outcomes (found / not_found / error) and Connect outcomes
// (ok / error) specifically.
type requestHandler struct {
	inner Handler
	m     *Metrics
}

// Handler mirrors internal/pipeline.Handler's contract.
type Handler interface {
	Handle(ctx context.Context, sender model.Node, req model.RequestBody) model.ResponseBody
}

// WrapHandler instruments a Handler (normally *payload.Handler) with the
// requests_total, request_errors_total, and searches_total series.
func (m *Metrics) WrapHandler(h Handler) Handler {
	return &requestHandler{inner: h, m: m}
}

func (h *requestHandler) Handle(ctx context.Context, sender model.Node, req model.RequestBody) model.ResponseBody {
	resp := h.inner.Handle(ctx, sender, req)
	h.m.requestsTotal.WithLabelValues(string(req.Kind)).Inc()

	if resp.Error != nil {
		h.m.requestErrors.WithLabelValues(string(resp.Error.Kind)).Inc()
	}

	switch req.Kind {
	case model.KindSearch:
		outcome := "error"
		if resp.Error == nil {
			outcome = "not_found"
			if resp.Search != nil && resp.Search.Found != nil {
				outcome = "found"
			}
		}
		h.m.searchesTotal.WithLabelValues("search", outcome).Inc()
	case model.KindConnect:
		outcome := "ok"
		if resp.Error != nil {
			outcome = "error"
		}
		h.m.searchesTotal.WithLabelValues("connect", outcome).Inc()
	}

	return resp
}
