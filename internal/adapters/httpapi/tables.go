package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cellxplore/internal/format"
	"cellxplore/internal/query"
	"cellxplore/internal/table"
)

const (
	formatJSON = "json"
	formatCSV  = "csv"
)

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 32 << 20

func negotiateFormat(r *http.Request) string {
	wanted := strings.ToLower(r.URL.Query().Get("format"))
	if wanted == "" {
		if strings.Contains(r.Header.Get("Accept"), "text/csv") {
			return formatCSV
		}
		return formatJSON
	}
	switch wanted {
	case formatJSON, formatCSV:
		return wanted
	}
	return ""
}

// response carries the per-request output choices, validated before any
// table is read.
type response struct {
	format string
	shape  format.Shape
}

func (h *Handler) response(w http.ResponseWriter, r *http.Request, def format.Shape) (response, bool) {
	f := negotiateFormat(r)
	if f == "" {
		writeError(w, http.StatusNotAcceptable, "requested format not supported")
		return response{}, false
	}
	shape := def
	if orient := r.URL.Query().Get("orient"); orient != "" {
		s, err := format.ParseShape(orient)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return response{}, false
		}
		shape = s
	}
	return response{format: f, shape: shape}, true
}

func (h *Handler) writeTable(w http.ResponseWriter, res response, name string, t *table.Table) {
	if res.format == formatCSV {
		streamCSV(w, name, t)
		return
	}
	body, err := format.Encode(t, res.shape)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeRawJSON(w, http.StatusOK, body)
}

// writeMissing answers for an absent interaction table with an empty
// document in the requested shape.
func (h *Handler) writeMissing(w http.ResponseWriter, res response, name string) {
	h.writeTable(w, res, name, nil)
}

func streamCSV(w http.ResponseWriter, name string, t *table.Table) {
	filename := fmt.Sprintf("%s-%s.csv", name, time.Now().UTC().Format("20060102T150405Z"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.WriteHeader(http.StatusOK)
	_ = format.WriteCSV(w, t)
}

// serveQuery runs a named query against the interaction table.
func (h *Handler) serveQuery(w http.ResponseWriter, r *http.Request, name query.Name, def format.Shape) {
	res, ok := h.response(w, r, def)
	if !ok {
		return
	}
	t, found, err := h.tables.Interactions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		h.writeMissing(w, res, string(name))
		return
	}
	out, err := h.pipeline.Run(name, t)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.metrics.ObserveRows(string(name), out.Len())
	h.writeTable(w, res, string(name), out)
}

func (h *Handler) queryHandler(name query.Name) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serveQuery(w, r, name, format.ShapeRecords)
	}
}

func (h *Handler) handleDataTable(w http.ResponseWriter, r *http.Request) {
	name := query.Raw
	if v := r.URL.Query().Get("significant"); v != "" {
		sig, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "significant must be a boolean")
			return
		}
		if sig {
			name = query.Significant
		}
	}
	h.serveQuery(w, r, name, format.ShapeRecords)
}

func (h *Handler) handleFilteredMetadata(w http.ResponseWriter, r *http.Request) {
	h.serveQuery(w, r, query.Raw, format.ShapeSplit)
}

type filterRequest struct {
	SelectionName string `json:"selection_name"`
}

func (h *Handler) handleFilterTable(w http.ResponseWriter, r *http.Request) {
	res, ok := h.response(w, r, format.ShapeRecords)
	if !ok {
		return
	}
	var req filterRequest
	if !decodeBody(w, r, &req, "invalid filter request payload") {
		return
	}
	name := strings.TrimSpace(req.SelectionName)
	if name == "" {
		writeError(w, http.StatusBadRequest, "selection_name required")
		return
	}

	ctx := r.Context()
	t, found, err := h.tables.Interactions(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		// An unknown selection is still a 404 when there is nothing to filter.
		if _, err := h.selections.Resolve(name); err != nil {
			h.fail(w, r, err)
			return
		}
		h.writeMissing(w, res, string(query.SelectionFiltered))
		return
	}
	labels, _, err := h.tables.Labels(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.pipeline.SelectionFiltered(t, h.selections, name, labels)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.metrics.ObserveRows(string(query.SelectionFiltered), out.Len())
	h.writeTable(w, res, string(query.SelectionFiltered), out)
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, message string) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, message)
		return false
	}
	return true
}
