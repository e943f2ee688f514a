// Package anndatatest writes AnnData-encoded dataframes through a
// zarrtest.Builder for tests.
package anndatatest

import (
	"path"
	"sort"

	"cellxplore/internal/zarr/zarrtest"
)

// Column is one dataframe column to write.
type Column struct {
	Name string
	// Values is any slice type zarrtest.Builder.Array accepts.
	Values any
	// Labels, when set, writes a categorical column; "" marks a missing value.
	Labels []string
	// Mask, when set, writes a nullable column (true marks a missing value).
	Mask []bool
}

// Col is a plain array column.
func Col(name string, values any) Column { return Column{Name: name, Values: values} }

// Cat is a categorical column.
func Cat(name string, labels ...string) Column { return Column{Name: name, Labels: labels} }

// Nullable is a nullable-integer column.
func Nullable(name string, values []int64, mask []bool) Column {
	return Column{Name: name, Values: values, Mask: mask}
}

// WriteDataFrame writes a dataframe group with encoding-type "dataframe".
func WriteDataFrame(b *zarrtest.Builder, p string, index []string, cols ...Column) error {
	order := make([]string, len(cols))
	for i, c := range cols {
		order[i] = c.Name
	}
	attrs := map[string]any{
		"encoding-type":    "dataframe",
		"encoding-version": "0.2.0",
		"_index":           "_index",
		"column-order":     order,
	}
	if err := b.Group(p, attrs); err != nil {
		return err
	}
	if err := b.Array(path.Join(p, "_index"), index, map[string]any{"encoding-type": "string-array"}); err != nil {
		return err
	}
	return writeColumns(b, p, cols)
}

// WritePlainGroup writes a group of bare arrays without dataframe attributes.
func WritePlainGroup(b *zarrtest.Builder, p string, cols ...Column) error {
	if err := b.Group(p, nil); err != nil {
		return err
	}
	return writeColumns(b, p, cols)
}

func writeColumns(b *zarrtest.Builder, p string, cols []Column) error {
	for _, c := range cols {
		cp := path.Join(p, c.Name)
		switch {
		case c.Labels != nil:
			cats, codes := encodeCategories(c.Labels)
			if err := b.Group(cp, map[string]any{
				"encoding-type":    "categorical",
				"encoding-version": "0.2.0",
				"ordered":          false,
			}); err != nil {
				return err
			}
			if err := b.Array(path.Join(cp, "categories"), cats, nil); err != nil {
				return err
			}
			if err := b.Array(path.Join(cp, "codes"), codes, nil); err != nil {
				return err
			}
		case c.Mask != nil:
			if err := b.Group(cp, map[string]any{
				"encoding-type":    "nullable-integer",
				"encoding-version": "0.1.0",
			}); err != nil {
				return err
			}
			if err := b.Array(path.Join(cp, "values"), c.Values, nil); err != nil {
				return err
			}
			if err := b.Array(path.Join(cp, "mask"), c.Mask, nil); err != nil {
				return err
			}
		default:
			if err := b.Array(cp, c.Values, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func encodeCategories(labels []string) ([]string, []int32) {
	seen := map[string]bool{}
	var cats []string
	for _, l := range labels {
		if l != "" && !seen[l] {
			seen[l] = true
			cats = append(cats, l)
		}
	}
	sort.Strings(cats)
	pos := make(map[string]int32, len(cats))
	for i, c := range cats {
		pos[c] = int32(i)
	}
	codes := make([]int32, len(labels))
	for i, l := range labels {
		if l == "" {
			codes[i] = -1
			continue
		}
		codes[i] = pos[l]
	}
	if cats == nil {
		cats = []string{}
	}
	return cats, codes
}
