package vizconfig

import "path"

// Sample is one additional dataset shown by the samples document.
type Sample struct {
	Name string
	Path string
}

// Settings describes the store layout the documents point at.
type Settings struct {
	Name          string
	Description   string
	DatasetName   string
	StorePath     string
	EmbeddingPath string
	EmbeddingName string
	ObsSetPath    string
	ObsSetName    string
	FeatureMatrix string
	SpatialPath   string
	Samples       []Sample
}

// DefaultSettings matches the layout written by the standard preprocessing
// notebooks: UMAP in obsm, cluster labels in obs and the expression matrix X.
func DefaultSettings() Settings {
	return Settings{
		Name:          "cellxplore",
		DatasetName:   "dataset",
		EmbeddingPath: "obsm/X_umap",
		EmbeddingName: "UMAP",
		ObsSetPath:    "obs/clusters",
		ObsSetName:    "Cell Type",
		FeatureMatrix: "X",
	}
}

func (s Settings) annData(spatial bool) AnnDataOptions {
	opts := AnnDataOptions{FeatureMatrix: s.FeatureMatrix}
	if s.EmbeddingPath != "" {
		opts.Embeddings = []Embedding{{Path: s.EmbeddingPath, Name: s.EmbeddingName}}
	}
	if s.ObsSetPath != "" {
		opts.ObsSets = []ObsSet{{Path: s.ObsSetPath, Name: s.ObsSetName}}
	}
	if spatial && s.SpatialPath != "" {
		opts.Spots = s.SpatialPath
	}
	return opts
}

// Primary builds the main document: an embedding scatterplot next to the
// cell sets and expression heatmap, plus a spatial view when the store
// carries spot coordinates.
func Primary(s Settings) *Config {
	c := New(s.Name, s.Description)
	d := c.AddDataset(s.DatasetName).AddAnnData(s.StorePath, s.annData(true))

	scatter := c.AddView(d, Scatterplot, WithMapping(s.EmbeddingName))
	sets := c.AddView(d, ObsSets)
	heat := c.AddView(d, Heatmap)
	if s.SpatialPath == "" {
		c.SetLayout(HConcat(scatter, VConcat(sets, heat)))
		return c
	}
	spatial := c.AddView(d, Spatial)
	c.SetLayout(HConcat(VConcat(scatter, spatial), VConcat(sets, heat)))
	return c
}

// Samples builds one dataset per sample, each with its own spatial view and
// zoom/target scopes. A single obsSetSelection scope links every sample so a
// cell-type selection applies to all slides at once.
func Samples(s Settings) *Config {
	c := New(s.Name, s.Description)
	var layout []Layout
	var linked []*View
	for _, sm := range s.Samples {
		name := sm.Name
		if name == "" {
			name = path.Base(sm.Path)
		}
		d := c.AddDataset(name).AddAnnData(sm.Path, s.annData(true))
		v := c.AddView(d, Spatial, WithTitle(name))
		v.UseScope(c.AddCoordination(CoordSpatialZoom, -2.5))
		v.UseScope(c.AddCoordination(CoordSpatialTargetX, nil))
		v.UseScope(c.AddCoordination(CoordSpatialTargetY, nil))
		sets := c.AddView(d, ObsSets)
		linked = append(linked, v, sets)
		layout = append(layout, VConcat(v, sets))
	}
	if len(linked) > 0 {
		c.LinkViews(linked, CoordObsSetSelection, nil)
	}
	if len(layout) > 0 {
		c.SetLayout(HConcat(layout...))
	}
	return c
}
