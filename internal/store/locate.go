package store

import (
	"context"
	"errors"
	"fmt"

	"cellxplore/internal/anndata"
	"cellxplore/internal/table"
	"cellxplore/internal/zarr"
)

// Candidate is one layout the store may follow. Prefix is the namespace root
// holding uns/ and obs ("" for the flat AnnData layout).
type Candidate struct {
	Label  string
	Prefix string
}

// Annotation returns the path of an unstructured annotation table.
func (c Candidate) Annotation(name string) string { return c.Prefix + "uns/" + name }

// Observations returns the path of the observation metadata dataframe.
func (c Candidate) Observations() string { return c.Prefix + "obs" }

// Candidates returns the probe order: the flat layout first, then one nested
// layout per sub-table name.
func Candidates(subTables []string) []Candidate {
	out := []Candidate{{Label: "flat"}}
	for _, t := range subTables {
		out = append(out, Candidate{Label: "nested:" + t, Prefix: "tables/" + t + "/"})
	}
	return out
}

// Locate finds the named annotation table. A table present in none of the
// candidate locations reports found=false with a nil error.
func (h *Handle) Locate(ctx context.Context, name string) (*table.Table, bool, error) {
	return h.locate(ctx, "uns:"+name, func(c Candidate) string { return c.Annotation(name) })
}

// Interactions locates the configured interaction table.
func (h *Handle) Interactions(ctx context.Context) (*table.Table, bool, error) {
	return h.Locate(ctx, h.opts.InteractionTable)
}

// Observations locates the observation metadata restricted to the type
// column. An obs dataframe without that column counts as not found.
func (h *Handle) Observations(ctx context.Context) (*table.Table, bool, error) {
	col := h.opts.ObsTypeColumn
	return h.locate(ctx, "obs:"+col, func(c Candidate) string { return c.Observations() }, col)
}

// Labels maps observation identifiers (the obs index) to their type label.
// Observations with a missing label are left out.
func (h *Handle) Labels(ctx context.Context) (map[string]string, bool, error) {
	obs, found, err := h.Observations(ctx)
	if err != nil || !found {
		return nil, found, err
	}
	labels := make(map[string]string, obs.Len())
	for i, row := range obs.Rows {
		id, ok := obs.IndexLabel(i)
		if !ok {
			break
		}
		switch v := row[0].(type) {
		case nil:
		case string:
			labels[id] = v
		default:
			labels[id] = fmt.Sprint(v)
		}
	}
	return labels, true, nil
}

func (h *Handle) locate(ctx context.Context, key string, pathFor func(Candidate) string, columns ...string) (*table.Table, bool, error) {
	if c, ok := h.cache.Get(key); ok {
		return c.table, c.found, nil
	}
	root, err := h.rootGroup(ctx)
	if err != nil {
		return nil, false, err
	}
	// Shared by every waiting caller; detached from the starter's cancellation.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := h.loads.Do(key, func() (any, error) {
		for _, cand := range Candidates(h.opts.SubTables) {
			p := pathFor(cand)
			g, err := root.Group(loadCtx, p)
			if errors.Is(err, zarr.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("locate %s: %w", p, err)
			}
			t, err := anndata.ReadDataFrame(loadCtx, g, columns...)
			if len(columns) > 0 && errors.Is(err, anndata.ErrColumnNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", p, err)
			}
			c := cached{table: t, found: true}
			h.cache.Add(key, c)
			return c, nil
		}
		c := cached{}
		h.cache.Add(key, c)
		return c, nil
	})
	if err != nil {
		return nil, false, err
	}
	c := v.(cached)
	return c.table, c.found, nil
}
