// Package vizconfig builds the declarative view configuration documents the
// frontend renderer loads: datasets, views, coordination scopes and a grid
// layout.
package vizconfig

import (
	"strings"
)

// SchemaVersion is the configuration schema the documents declare.
const SchemaVersion = "1.0.15"

// Grid dimensions of the layout.
const (
	gridWidth  = 12
	gridHeight = 12
)

// View components used by the documents.
const (
	Scatterplot     = "scatterplot"
	ObsSets         = "obsSets"
	Heatmap         = "heatmap"
	Spatial         = "spatial"
	LayerController = "layerController"
	FeatureList     = "featureList"
	Description     = "description"
)

// Coordination types.
const (
	CoordDataset         = "dataset"
	CoordEmbeddingType   = "embeddingType"
	CoordObsSetSelection = "obsSetSelection"
	CoordSpatialZoom     = "spatialZoom"
	CoordSpatialTargetX  = "spatialTargetX"
	CoordSpatialTargetY  = "spatialTargetY"
)

// Config accumulates datasets, views and coordination before rendering.
type Config struct {
	name        string
	description string
	datasets    []*Dataset
	views       []*View
	space       map[string]map[string]any
	scopeOrder  map[string][]string
}

// New starts an empty configuration.
func New(name, description string) *Config {
	return &Config{
		name:        name,
		description: description,
		space:       map[string]map[string]any{},
		scopeOrder:  map[string][]string{},
	}
}

// Scope is a named value in the coordination space.
type Scope struct {
	Type string
	Name string
}

// scopeName returns the n-th spreadsheet-style name: A..Z, AA, AB, ...
func scopeName(n int) string {
	var sb []byte
	for n >= 0 {
		sb = append([]byte{byte('A' + n%26)}, sb...)
		n = n/26 - 1
	}
	return string(sb)
}

// AddCoordination creates a new scope of ctype holding value. Scope names
// are allocated per type.
func (c *Config) AddCoordination(ctype string, value any) *Scope {
	name := scopeName(len(c.scopeOrder[ctype]))
	if c.space[ctype] == nil {
		c.space[ctype] = map[string]any{}
	}
	c.space[ctype][name] = value
	c.scopeOrder[ctype] = append(c.scopeOrder[ctype], name)
	return &Scope{Type: ctype, Name: name}
}

// SetValue updates the value held by s.
func (c *Config) SetValue(s *Scope, value any) {
	c.space[s.Type][s.Name] = value
}

// Dataset groups the files of one dataset.
type Dataset struct {
	UID   string
	Name  string
	scope *Scope
	files []File
}

// File is one data file entry of a dataset.
type File struct {
	FileType string         `json:"fileType"`
	Path     string         `json:"-"`
	URL      string         `json:"url,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// AddDataset registers a dataset and its dataset coordination scope.
func (c *Config) AddDataset(name string) *Dataset {
	uid := scopeName(len(c.datasets))
	d := &Dataset{UID: uid, Name: name}
	d.scope = c.AddCoordination(CoordDataset, uid)
	c.datasets = append(c.datasets, d)
	return d
}

// Embedding names a low-dimensional embedding stored under obsm.
type Embedding struct {
	Path string
	Name string
	Dims []int
}

// ObsSet names a categorical observation column used as a cell set.
type ObsSet struct {
	Path string
	Name string
}

// AnnDataOptions selects which parts of an AnnData store a view can use.
type AnnDataOptions struct {
	Embeddings       []Embedding
	ObsSets          []ObsSet
	FeatureMatrix    string
	Spots            string
	Locations        string
	FeatureLabelPath string
}

// AddAnnData adds an AnnData Zarr store located at path (relative to the
// document base URL).
func (d *Dataset) AddAnnData(path string, opts AnnDataOptions) *Dataset {
	o := map[string]any{}
	if len(opts.Embeddings) > 0 {
		var embs []map[string]any
		for _, e := range opts.Embeddings {
			dims := e.Dims
			if len(dims) == 0 {
				dims = []int{0, 1}
			}
			embs = append(embs, map[string]any{"path": e.Path, "dims": dims, "embeddingType": e.Name})
		}
		o["obsEmbedding"] = embs
	}
	if len(opts.ObsSets) > 0 {
		var sets []map[string]any
		for _, s := range opts.ObsSets {
			sets = append(sets, map[string]any{"name": s.Name, "path": s.Path})
		}
		o["obsSets"] = sets
	}
	if opts.FeatureMatrix != "" {
		fm := map[string]any{"path": opts.FeatureMatrix}
		o["obsFeatureMatrix"] = fm
	}
	if opts.FeatureLabelPath != "" {
		o["featureLabels"] = map[string]any{"path": opts.FeatureLabelPath}
	}
	if opts.Spots != "" {
		o["obsSpots"] = map[string]any{"path": opts.Spots}
	}
	if opts.Locations != "" {
		o["obsLocations"] = map[string]any{"path": opts.Locations}
	}
	d.files = append(d.files, File{FileType: "anndata.zarr", Path: path, Options: o})
	return d
}

// View is one panel of the layout.
type View struct {
	Component string
	Title     string
	scopes    map[string]string
	x, y      float64
	w, h      float64
}

func (v *View) isLayout() {}

// ViewOption customizes AddView.
type ViewOption func(c *Config, v *View)

// WithMapping sets the embedding displayed by a scatterplot.
func WithMapping(name string) ViewOption {
	return func(c *Config, v *View) {
		v.UseScope(c.AddCoordination(CoordEmbeddingType, name))
	}
}

// WithTitle sets the panel title.
func WithTitle(title string) ViewOption {
	return func(_ *Config, v *View) { v.Title = title }
}

// AddView adds a view of component bound to dataset d.
func (c *Config) AddView(d *Dataset, component string, opts ...ViewOption) *View {
	v := &View{Component: component, scopes: map[string]string{}}
	if d != nil {
		v.UseScope(d.scope)
	}
	for _, opt := range opts {
		opt(c, v)
	}
	c.views = append(c.views, v)
	return v
}

// UseScope binds the view to a coordination scope.
func (v *View) UseScope(s *Scope) *View {
	v.scopes[s.Type] = s.Name
	return v
}

// LinkViews creates one scope of ctype holding value and binds every view
// to it, so interactions in one view drive the others.
func (c *Config) LinkViews(views []*View, ctype string, value any) *Scope {
	s := c.AddCoordination(ctype, value)
	for _, v := range views {
		v.UseScope(s)
	}
	return s
}

// Layout is a view or a concatenation of layouts.
type Layout interface {
	isLayout()
}

type concat struct {
	horizontal bool
	items      []Layout
}

func (concat) isLayout() {}

// HConcat places items side by side with equal widths.
func HConcat(items ...Layout) Layout { return concat{horizontal: true, items: items} }

// VConcat stacks items with equal heights.
func VConcat(items ...Layout) Layout { return concat{items: items} }

// SetLayout assigns grid positions to the views in l.
func (c *Config) SetLayout(l Layout) {
	place(l, 0, gridWidth, 0, gridHeight)
}

func place(l Layout, x0, x1, y0, y1 float64) {
	switch n := l.(type) {
	case *View:
		n.x, n.y, n.w, n.h = x0, y0, x1-x0, y1-y0
	case concat:
		if len(n.items) == 0 {
			return
		}
		k := float64(len(n.items))
		for i, item := range n.items {
			f := float64(i)
			if n.horizontal {
				w := (x1 - x0) / k
				place(item, x0+f*w, x0+(f+1)*w, y0, y1)
			} else {
				h := (y1 - y0) / k
				place(item, x0, x1, y0+f*h, y0+(f+1)*h)
			}
		}
	}
}

// Document is the JSON-ready configuration.
type Document struct {
	Version           string                    `json:"version"`
	Name              string                    `json:"name"`
	Description       string                    `json:"description"`
	Datasets          []DatasetDoc              `json:"datasets"`
	CoordinationSpace map[string]map[string]any `json:"coordinationSpace"`
	Layout            []ViewDoc                 `json:"layout"`
	InitStrategy      string                    `json:"initStrategy"`
}

// DatasetDoc is a dataset entry of a Document.
type DatasetDoc struct {
	UID   string `json:"uid"`
	Name  string `json:"name"`
	Files []File `json:"files"`
}

// ViewDoc is a layout entry of a Document.
type ViewDoc struct {
	Component          string            `json:"component"`
	Title              string            `json:"title,omitempty"`
	CoordinationScopes map[string]string `json:"coordinationScopes"`
	X                  float64           `json:"x"`
	Y                  float64           `json:"y"`
	W                  float64           `json:"w"`
	H                  float64           `json:"h"`
}

// Document renders the configuration; file URLs are baseURL + "/" + path.
// Views never placed by SetLayout fill the whole grid.
func (c *Config) Document(baseURL string) Document {
	base := strings.TrimRight(baseURL, "/")
	doc := Document{
		Version:           SchemaVersion,
		Name:              c.name,
		Description:       c.description,
		Datasets:          make([]DatasetDoc, 0, len(c.datasets)),
		CoordinationSpace: map[string]map[string]any{},
		Layout:            make([]ViewDoc, 0, len(c.views)),
		InitStrategy:      "auto",
	}
	for _, d := range c.datasets {
		files := make([]File, len(d.files))
		for i, f := range d.files {
			f.URL = base + "/" + strings.TrimLeft(f.Path, "/")
			files[i] = f
		}
		doc.Datasets = append(doc.Datasets, DatasetDoc{UID: d.UID, Name: d.Name, Files: files})
	}
	for ctype, scopes := range c.space {
		m := make(map[string]any, len(scopes))
		for k, v := range scopes {
			m[k] = v
		}
		doc.CoordinationSpace[ctype] = m
	}
	for _, v := range c.views {
		w, h := v.w, v.h
		if w == 0 && h == 0 {
			w, h = gridWidth, gridHeight
		}
		scopes := make(map[string]string, len(v.scopes))
		for k, s := range v.scopes {
			scopes[k] = s
		}
		doc.Layout = append(doc.Layout, ViewDoc{
			Component:          v.Component,
			Title:              v.Title,
			CoordinationScopes: scopes,
			X:                  v.x, Y: v.y, W: w, H: h,
		})
	}
	return doc
}
