package metrics_test

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frebib/kipa/internal/metrics"
	"github.com/frebib/kipa/internal/model"
	"github.com/frebib/kipa/internal/neighbours"
)

func keyFor(seed string) model.Key {
	return model.NewKey([]byte(seed), seed)
}

func nodeFor(seed string) model.Node {
	return model.Node{Key: keyFor(seed), Address: model.Address{IP: net.ParseIP("10.0.0.1"), Port: 1}}
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

type fakeQuerier struct {
	err error
}

func (f fakeQuerier) Query(_ context.Context, _ model.Node, _ model.Key) ([]model.Node, error) {
	return nil, f.err
}

func TestWrapQuerierCountsOutcomes(t *testing.T) {
	m := metrics.New()
	ok := m.WrapQuerier(fakeQuerier{})
	failing := m.WrapQuerier(fakeQuerier{err: assert.AnError})

	_, err := ok.Query(context.Background(), nodeFor("x"), keyFor("target"))
	require.NoError(t, err)
	_, err = failing.Query(context.Background(), nodeFor("x"), keyFor("target"))
	require.Error(t, err)

	body := scrape(t, m)
	assert.Contains(t, body, `kipa_probes_total{result="ok"} 1`)
	assert.Contains(t, body, `kipa_probes_total{result="failed"} 1`)
}

type fakeHandler struct {
	resp model.ResponseBody
}

func (f fakeHandler) Handle(_ context.Context, _ model.Node, req model.RequestBody) model.ResponseBody {
	resp := f.resp
	resp.MessageID = req.MessageID
	return resp
}

func TestWrapHandlerCountsRequestsAndSearchOutcomes(t *testing.T) {
	m := metrics.New()
	found := nodeFor("found")
	h := m.WrapHandler(fakeHandler{resp: model.ResponseBody{
		Kind:   model.KindSearch,
		Search: &model.SearchResponse{Found: &found},
	}})

	req := model.NewSearchRequest(1, "kipa/1", keyFor("found"))
	resp := h.Handle(context.Background(), nodeFor("asker"), req)
	require.Equal(t, model.KindSearch, resp.Kind)

	body := scrape(t, m)
	assert.Contains(t, body, `kipa_requests_total{kind="search"} 1`)
	assert.Contains(t, body, `kipa_searches_total{kind="search",outcome="found"} 1`)
}

func TestWrapHandlerCountsApiErrors(t *testing.T) {
	m := metrics.New()
	h := m.WrapHandler(fakeHandler{resp: model.NewErrorResponse(0, "kipa/1", model.ErrorExternal, "boom")})

	h.Handle(context.Background(), nodeFor("asker"), model.NewVerifyRequest(1, "kipa/1"))

	body := scrape(t, m)
	assert.True(t, strings.Contains(body, `kipa_request_errors_total{kind="external"} 1`))
}

func TestNeighbourGaugeFuncReflectsStoreSize(t *testing.T) {
	m := metrics.New()
	store := neighbours.New(keyFor("local"), neighbours.DefaultConfig())
	m.NeighbourGaugeFunc(store)

	store.Consider(nodeFor("a"))
	store.Consider(nodeFor("b"))

	body := scrape(t, m)
	assert.Contains(t, body, "kipa_neighbours 2")
}
