// Package httpapi exposes the interaction queries, the selection registry,
// the configuration documents and the raw store files over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"cellxplore/internal/blob"
	"cellxplore/internal/observability"
	"cellxplore/internal/query"
	"cellxplore/internal/selection"
	"cellxplore/internal/table"
	"cellxplore/internal/vizconfig"
)

// Tables is the read side of the opened store.
type Tables interface {
	Open(ctx context.Context) error
	Interactions(ctx context.Context) (*table.Table, bool, error)
	Labels(ctx context.Context) (map[string]string, bool, error)
}

// Selections is the named selection registry.
type Selections interface {
	Store(selections map[string][]string) selection.Ack
	Resolve(name string) ([]string, error)
	Names() []string
	Len() int
}

// Options wires a Handler. Tables and Selections are required.
type Options struct {
	Tables     Tables
	Selections Selections
	Pipeline   query.Pipeline
	// Files serves /datasets; nil disables the endpoint.
	Files blob.Store
	// Rewrites replaces a requested dataset path by exact match.
	Rewrites   map[string]string
	Presign    bool
	PresignTTL time.Duration
	Config     vizconfig.Document
	Samples    vizconfig.Document
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// Handler serves every route of the service.
type Handler struct {
	tables     Tables
	selections Selections
	pipeline   query.Pipeline
	files      blob.Store
	rewrites   map[string]string
	presign    bool
	presignTTL time.Duration
	config     vizconfig.Document
	samples    vizconfig.Document
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewHandler builds a Handler from opts. A nil logger discards logs and a
// nil Metrics records nothing.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Handler{
		tables:     opts.Tables,
		selections: opts.Selections,
		pipeline:   opts.Pipeline,
		files:      opts.Files,
		rewrites:   opts.Rewrites,
		presign:    opts.Presign,
		presignTTL: ttl,
		config:     opts.Config,
		samples:    opts.Samples,
		logger:     logger,
		metrics:    opts.Metrics,
	}
}

// Route names used for metrics and logs.
const (
	routeDataTable      = "/data-table"
	routeCellChat       = "/get_cellchat_data"
	routeBubble         = "/get_cellchat_bubble"
	routePropFreq       = "/prop-freq"
	routeSankey         = "/sankey"
	routeCircos         = "/circos"
	routeFiltered       = "/filtered_metadata"
	routeProcess        = "/process_selections"
	routeFilterTable    = "/filter-table"
	routeSelections     = "/selections"
	routeConfig         = "/get_config"
	routeAnnData        = "/get_anndata"
	routeSamples        = "/get_samples"
	routeDatasets       = "/datasets/"
	routeMetrics        = "/metrics"
	routeHealth         = "/healthz"
	routeUnmatched      = "unmatched"
	datasetsRoutePrefix = "/datasets/"
)

var knownRoutes = map[string]struct{}{
	routeDataTable: {}, routeCellChat: {}, routeBubble: {}, routePropFreq: {},
	routeSankey: {}, routeCircos: {}, routeFiltered: {}, routeProcess: {},
	routeFilterTable: {}, routeSelections: {}, routeConfig: {}, routeAnnData: {},
	routeSamples: {}, routeMetrics: {}, routeHealth: {},
}

func routeOf(path string) string {
	if strings.HasPrefix(path, datasetsRoutePrefix) {
		return routeDatasets
	}
	p := strings.TrimSuffix(path, "/")
	if _, ok := knownRoutes[p]; ok {
		return p
	}
	return routeUnmatched
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := routeOf(r.URL.Path)
	h.instrument(route, w, r, func(w http.ResponseWriter, r *http.Request) {
		h.dispatch(route, w, r)
	})
}

func (h *Handler) dispatch(route string, w http.ResponseWriter, r *http.Request) {
	switch route {
	case routeDataTable:
		h.only(w, r, h.handleDataTable, http.MethodGet)
	case routeCellChat:
		h.only(w, r, h.queryHandler(query.EndpointsOnly), http.MethodGet)
	case routeBubble:
		h.only(w, r, h.queryHandler(query.Positive), http.MethodGet)
	case routePropFreq, routeSankey:
		h.only(w, r, h.queryHandler(query.Raw), http.MethodGet)
	case routeCircos:
		h.only(w, r, h.queryHandler(query.Significant), http.MethodGet)
	case routeFiltered:
		h.only(w, r, h.handleFilteredMetadata, http.MethodGet)
	case routeProcess:
		h.only(w, r, h.handleProcessSelections, http.MethodPost)
	case routeFilterTable:
		h.only(w, r, h.handleFilterTable, http.MethodPost)
	case routeSelections:
		h.only(w, r, h.handleListSelections, http.MethodGet)
	case routeConfig, routeAnnData:
		h.only(w, r, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, h.config)
		}, http.MethodGet)
	case routeSamples:
		h.only(w, r, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, h.samples)
		}, http.MethodGet)
	case routeDatasets:
		h.only(w, r, h.handleDataset, http.MethodGet, http.MethodHead)
	case routeMetrics:
		h.only(w, r, h.metrics.Handler().ServeHTTP, http.MethodGet)
	case routeHealth:
		h.only(w, r, h.handleHealth, http.MethodGet)
	default:
		writeError(w, http.StatusNotFound, "endpoint not found")
	}
}

// only runs fn when the request method is one of methods and answers 405
// otherwise.
func (h *Handler) only(w http.ResponseWriter, r *http.Request, fn http.HandlerFunc, methods ...string) {
	for _, m := range methods {
		if r.Method == m {
			fn(w, r)
			return
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.tables.Open(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
