package httpapi_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"cellxplore/internal/adapters/httpapi"
	"cellxplore/internal/anndata/anndatatest"
	"cellxplore/internal/blob"
	"cellxplore/internal/observability"
	"cellxplore/internal/query"
	"cellxplore/internal/selection"
	"cellxplore/internal/store"
	"cellxplore/internal/table"
	"cellxplore/internal/vizconfig"
	"cellxplore/internal/zarr/zarrtest"
)

const storePath = "brain.zarr"

type fixture struct {
	handler  *httpapi.Handler
	registry *selection.Registry
	metrics  *observability.Metrics
	files    *blob.MemoryStore
}

type fixtureOption func(o *httpapi.Options)

func writeBrain(t *testing.T, withInteractions bool) *blob.MemoryStore {
	t.Helper()
	mem := blob.NewMemory()
	b, err := zarrtest.New(context.Background(), mem, storePath)
	require.NoError(t, err)
	if withInteractions {
		require.NoError(t, anndatatest.WriteDataFrame(b, "uns/Cellchat_Interactions", []string{"0", "1", "2", "3"},
			anndatatest.Col("source", []string{"B", "B", "T", "T"}),
			anndatatest.Col("target", []string{"T", "NK", "B", "T"}),
			anndatatest.Col("ligand", []string{"L1", "L2", "L3", "L4"}),
			anndatatest.Col("receptor", []string{"R1", "R2", "R3", "R4"}),
			anndatatest.Col("lr_probs", []float64{0.3, 0.3, -1.0, 0.1}),
			anndatatest.Col("cellchat_pvals", []float64{0.5, 0.01, 0.01, 0.01}),
		))
	}
	require.NoError(t, anndatatest.WriteDataFrame(b, "obs", []string{"c1", "c2", "c3"},
		anndatatest.Cat("clusters", "B", "T", "NK"),
	))
	return mem
}

func newFixture(t *testing.T, mem *blob.MemoryStore, opts ...fixtureOption) fixture {
	t.Helper()
	h, err := store.New(mem, store.Options{Path: storePath})
	require.NoError(t, err)
	reg := selection.NewRegistry()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	settings := vizconfig.DefaultSettings()
	settings.StorePath = storePath
	o := httpapi.Options{
		Tables:     h,
		Selections: reg,
		Pipeline:   query.Default(),
		Files:      mem,
		Config:     vizconfig.Primary(settings).Document("http://localhost:5000/datasets"),
		Samples:    vizconfig.Samples(settings).Document("http://localhost:5000/datasets"),
		Logger:     zaptest.NewLogger(t),
		Metrics:    metrics,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return fixture{handler: httpapi.NewHandler(o), registry: reg, metrics: metrics, files: mem}
}

func (f fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func records(t *testing.T, resp *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &rows))
	return rows
}

func errorMessage(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body["error"]
}

func TestQueryEndpoints(t *testing.T) {
	f := newFixture(t, writeBrain(t, true))

	assert.Len(t, records(t, f.do(t, http.MethodGet, "/data-table", nil)), 4)
	assert.Len(t, records(t, f.do(t, http.MethodGet, "/data-table?significant=true", nil)), 2)
	assert.Len(t, records(t, f.do(t, http.MethodGet, "/prop-freq", nil)), 4)
	assert.Len(t, records(t, f.do(t, http.MethodGet, "/sankey", nil)), 4)
	assert.Len(t, records(t, f.do(t, http.MethodGet, "/circos", nil)), 2)

	endpoints := records(t, f.do(t, http.MethodGet, "/get_cellchat_data", nil))
	assert.Equal(t, []map[string]any{
		{"source": "B", "target": "NK"},
		{"source": "T", "target": "T"},
	}, endpoints)

	bubble := records(t, f.do(t, http.MethodGet, "/get_cellchat_bubble", nil))
	require.Len(t, bubble, 3)
	assert.Equal(t, "B -> T", bubble[0][query.InteractingPair])
	assert.Equal(t, "L1 - R1", bubble[0][query.InteractionLabel])
}

func TestSplitOrientAndFilteredMetadata(t *testing.T) {
	f := newFixture(t, writeBrain(t, true))

	for _, target := range []string{"/filtered_metadata", "/data-table?orient=split"} {
		resp := f.do(t, http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, resp.Code)
		var body struct {
			Columns []string `json:"columns"`
			Index   []string `json:"index"`
			Data    [][]any  `json:"data"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body), target)
		assert.Equal(t, []string{"source", "target", "ligand", "receptor", "lr_probs", "cellchat_pvals"}, body.Columns)
		assert.Equal(t, []string{"0", "1", "2", "3"}, body.Index)
		assert.Len(t, body.Data, 4)
	}

	resp := f.do(t, http.MethodGet, "/data-table?orient=columns", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCSVNegotiation(t *testing.T) {
	f := newFixture(t, writeBrain(t, true))

	resp := f.do(t, http.MethodGet, "/circos?format=csv", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/csv", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "attachment; filename=\"significant-")
	rows, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"source", "target", "ligand", "receptor", "lr_probs", "cellchat_pvals"}, rows[0])

	req := httptest.NewRequest(http.MethodGet, "/sankey", nil)
	req.Header.Set("Accept", "text/csv")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	resp = f.do(t, http.MethodGet, "/circos?format=xml", nil)
	assert.Equal(t, http.StatusNotAcceptable, resp.Code)
}

func TestBadSignificantFlag(t *testing.T) {
	f := newFixture(t, writeBrain(t, true))
	resp := f.do(t, http.MethodGet, "/data-table?significant=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "significant must be a boolean", errorMessage(t, resp))
}

func TestSelectionsFlow(t *testing.T) {
	f := newFixture(t, writeBrain(t, true))

	resp := f.do(t, http.MethodPost, "/process_selections", map[string]any{
		"selections": map[string][]string{"s1": {"c1", "c2", "zz"}, "empty": {}},
	})
	require.Equal(t, http.StatusOK, resp.Code)
	var ack selection.Ack
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &ack))
	assert.Equal(t, selection.Ack{Status: "success", Stored: []string{"empty", "s1"}}, ack)

	list := f.do(t, http.MethodGet, "/selections", nil)
	assert.JSONEq(t, `{"selections":["empty","s1"]}`, list.Body.String())

	rows := records(t, f.do(t, http.MethodPost, "/filter-table", map[string]string{"selection_name": "s1"}))
	require.Len(t, rows, 2)
	assert.Equal(t, "B -> T", rows[0][query.InteractingPair])
	assert.Equal(t, "T -> T", rows[1][query.InteractingPair])

	assert.Empty(t, records(t, f.do(t, http.MethodPost, "/filter-table", map[string]string{"selection_name": "empty"})))

	missing := f.do(t, http.MethodPost, "/filter-table", map[string]string{"selection_name": "nope"})
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Contains(t, errorMessage(t, missing), "selection not found")

	noName := f.do(t, http.MethodPost, "/filter-table", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, noName.Code)
}

func TestProcessSelectionsRejectsBadPayload(t *testing.T) {
	f := newFixture(t, writeBrain(t, true))

	resp := f.do(t, http.MethodPost, "/process_selections", map[string]any{"selections": map[string]any{"s1": "c1"}})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(t, http.MethodPost, "/process_selections", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, 0, f.registry.Len())
}

func TestMissingInteractionTable(t *testing.T) {
	f := newFixture(t, writeBrain(t, false))

	for _, target := range []string{"/data-table", "/circos", "/get_cellchat_data", "/get_cellchat_bubble"} {
		resp := f.do(t, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusOK, resp.Code, target)
		assert.Equal(t, "[]", resp.Body.String(), target)
	}

	split := f.do(t, http.MethodGet, "/filtered_metadata", nil)
	assert.Equal(t, http.StatusOK, split.Code)
	assert.JSONEq(t, `{"columns":[],"index":[],"data":[]}`, split.Body.String())

	split = f.do(t, http.MethodGet, "/circos?orient=split", nil)
	assert.JSONEq(t, `{"columns":[],"index":[],"data":[]}`, split.Body.String())

	f.registry.Store(map[string][]string{"s1": {"c1"}})
	resp := f.do(t, http.MethodPost, "/filter-table", map[string]string{"selection_name": "s1"})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "[]", resp.Body.String())

	resp = f.do(t, http.MethodPost, "/filter-table", map[string]string{"selection_name": "other"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestFilterTableWithoutTypeColumn(t *testing.T) {
	mem := blob.NewMemory()
	b, err := zarrtest.New(context.Background(), mem, storePath)
	require.NoError(t, err)
	require.NoError(t, anndatatest.WriteDataFrame(b, "uns/Cellchat_Interactions", []string{"0"},
		anndatatest.Col("source", []string{"B"}),
		anndatatest.Col("target", []string{"B"}),
		anndatatest.Col("lr_probs", []float64{0.5}),
	))
	require.NoError(t, anndatatest.WriteDataFrame(b, "obs", []string{"c1"},
		anndatatest.Cat("leiden", "0"),
	))
	f := newFixture(t, mem)
	f.registry.Store(map[string][]string{"s1": {"c1"}})

	resp := f.do(t, http.MethodPost, "/filter-table", map[string]string{"selection_name": "s1"})
	assert.Empty(t, records(t, resp))
}

// gatedStore blocks Get calls for one key until release is closed.
type gatedStore struct {
	blob.Store
	key     string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) Get(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	if key == g.key {
		g.once.Do(func() { close(g.entered) })
		<-g.release
		if err := ctx.Err(); err != nil {
			return blob.Info{}, nil, err
		}
	}
	return g.Store.Get(ctx, key)
}

func TestCanceledClientDoesNotFailSharedLoad(t *testing.T) {
	mem := writeBrain(t, true)
	gate := &gatedStore{
		Store:   mem,
		key:     storePath + "/uns/Cellchat_Interactions/source/.zarray",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	tables, err := store.New(gate, store.Options{Path: storePath})
	require.NoError(t, err)
	require.NoError(t, tables.Open(context.Background()))
	f := newFixture(t, mem, func(o *httpapi.Options) { o.Tables = tables })

	ctx, cancel := context.WithCancel(context.Background())
	first := httptest.NewRecorder()
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		f.handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/circos", nil).WithContext(ctx))
	}()
	<-gate.entered

	second := httptest.NewRecorder()
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		f.handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/circos", nil))
	}()
	// Give the second request time to join the in-flight load.
	time.Sleep(50 * time.Millisecond)

	cancel()
	close(gate.release)
	<-firstDone
	<-secondDone

	assert.Len(t, records(t, second), 2)
}

func TestStoreUnavailable(t *testing.T) {
	f := newFixture(t, blob.NewMemory())

	resp := f.do(t, http.MethodGet, "/circos", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Contains(t, errorMessage(t, resp), "store not loaded")

	health := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, health.Code)
}

func TestHealthy(t *testing.T) {
	f := newFixture(t, writeBrain(t, false))
	resp := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestMethodAndRouteErrors(t *testing.T) {
	f := newFixture(t, writeBrain(t, true))

	resp := f.do(t, http.MethodPost, "/circos", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
	assert.Equal(t, "GET", resp.Header().Get("Allow"))
	assert.Equal(t, "method not allowed", errorMessage(t, resp))

	resp = f.do(t, http.MethodGet, "/filter-table", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)

	resp = f.do(t, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestConfigDocuments(t *testing.T) {
	f := newFixture(t, writeBrain(t, true))

	for _, target := range []string{"/get_config", "/get_anndata"} {
		resp := f.do(t, http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, resp.Code)
		var doc vizconfig.Document
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &doc))
		assert.Equal(t, vizconfig.SchemaVersion, doc.Version)
		require.Len(t, doc.Datasets, 1)
		assert.Equal(t, "http://localhost:5000/datasets/brain.zarr", doc.Datasets[0].Files[0].URL)
	}

	resp := f.do(t, http.MethodGet, "/get_samples", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"version":"1.0.15"`)
}

func TestRequestIDAndMetricsEndpoint(t *testing.T) {
	f := newFixture(t, writeBrain(t, true))

	req := httptest.NewRequest(http.MethodGet, "/circos", nil)
	req.Header.Set(httpapi.RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(httpapi.RequestIDHeader))

	rec = f.do(t, http.MethodGet, "/circos", nil)
	assert.NotEmpty(t, rec.Header().Get(httpapi.RequestIDHeader))

	metrics := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), `cellxplore_http_requests_total{method="GET",route="/circos",status="200"} 2`)
	assert.Contains(t, metrics.Body.String(), `cellxplore_query_rows_returned_count{query="significant"} 2`)
}

type panickingTables struct{}

func (panickingTables) Open(context.Context) error { return nil }
func (panickingTables) Interactions(context.Context) (*table.Table, bool, error) {
	panic("corrupt chunk")
}
func (panickingTables) Labels(context.Context) (map[string]string, bool, error) {
	return nil, false, nil
}

type failingTables struct{ err error }

func (f failingTables) Open(context.Context) error { return nil }
func (f failingTables) Interactions(context.Context) (*table.Table, bool, error) {
	return nil, false, f.err
}
func (f failingTables) Labels(context.Context) (map[string]string, bool, error) {
	return nil, false, f.err
}

func TestPanicIsRecovered(t *testing.T) {
	f := newFixture(t, blob.NewMemory(), func(o *httpapi.Options) { o.Tables = panickingTables{} })
	resp := f.do(t, http.MethodGet, "/circos", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "internal error: corrupt chunk", errorMessage(t, resp))
}

func TestDecodeErrorIsServerError(t *testing.T) {
	f := newFixture(t, blob.NewMemory(), func(o *httpapi.Options) {
		o.Tables = failingTables{err: errors.New("decode uns/Cellchat_Interactions: bad chunk")}
	})
	resp := f.do(t, http.MethodGet, "/circos", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Contains(t, errorMessage(t, resp), "bad chunk")
}

func TestSchemaErrorIsBadRequest(t *testing.T) {
	f := newFixture(t, blob.NewMemory(), func(o *httpapi.Options) { o.Tables = noEndpointTables{} })
	f.registry.Store(map[string][]string{"s1": {"c1"}})
	resp := f.do(t, http.MethodPost, "/filter-table", map[string]string{"selection_name": "s1"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

type noEndpointTables struct{}

func (noEndpointTables) Open(context.Context) error { return nil }
func (noEndpointTables) Interactions(context.Context) (*table.Table, bool, error) {
	t := table.New(table.Column{Name: "prob", Kind: table.KindFloat})
	t.Append(0.5)
	return t, true, nil
}
func (noEndpointTables) Labels(context.Context) (map[string]string, bool, error) {
	return map[string]string{}, true, nil
}
