// Package anndata decodes AnnData-encoded dataframes stored in a Zarr
// hierarchy into tables.
package anndata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"cellxplore/internal/table"
	"cellxplore/internal/zarr"
)

// ErrColumnNotFound reports a requested column the dataframe does not have.
var ErrColumnNotFound = errors.New("anndata: column not found")

const (
	encodingDataFrame     = "dataframe"
	encodingCategorical   = "categorical"
	encodingNullableInt   = "nullable-integer"
	encodingNullableBool  = "nullable-boolean"
	encodingNullableStr   = "nullable-string-array"
	defaultIndexKey       = "_index"
	columnReadConcurrency = 4
)

type column struct {
	meta table.Column
	n    int
	at   func(i int) any
}

// ReadDataFrame decodes the dataframe stored at g. When columns are given
// only those are read, in the given order; otherwise every column is read in
// the stored column order.
//
// Two layouts are accepted: a group with encoding-type "dataframe" (index
// array plus column-order), and a plain group of 1-D arrays whose columns
// are taken in name order with a positional index.
func ReadDataFrame(ctx context.Context, g *zarr.Group, columns ...string) (*table.Table, error) {
	attrs, err := g.Attrs(ctx)
	if err != nil {
		return nil, err
	}
	var (
		order    []string
		indexKey string
	)
	if enc, _ := attrs["encoding-type"].(string); enc == encodingDataFrame {
		indexKey = defaultIndexKey
		if s, ok := attrs["_index"].(string); ok && s != "" {
			indexKey = s
		}
		order = stringList(attrs["column-order"])
	} else {
		order, err = plainColumns(ctx, g)
		if err != nil {
			return nil, err
		}
	}

	if len(columns) > 0 {
		known := make(map[string]bool, len(order))
		for _, c := range order {
			known[c] = true
		}
		for _, c := range columns {
			if !known[c] {
				return nil, fmt.Errorf("%s: %q: %w", g.Path(), c, ErrColumnNotFound)
			}
		}
		order = columns
	}

	cols := make([]column, len(order))
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(columnReadConcurrency)
	for i, name := range order {
		grp.Go(func() error {
			c, err := readColumn(gctx, g, name)
			if err != nil {
				return fmt.Errorf("%s column %q: %w", g.Path(), name, err)
			}
			cols[i] = c
			return nil
		})
	}
	var index []string
	if indexKey != "" {
		grp.Go(func() error {
			idx, err := readIndex(gctx, g, indexKey)
			if err != nil {
				return fmt.Errorf("%s index: %w", g.Path(), err)
			}
			index = idx
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return assemble(g.Path(), cols, index)
}

func assemble(where string, cols []column, index []string) (*table.Table, error) {
	n := -1
	if index != nil {
		n = len(index)
	}
	for _, c := range cols {
		if n < 0 {
			n = c.n
		}
		if c.n != n {
			return nil, fmt.Errorf("%s: column %q has %d rows, expected %d", where, c.meta.Name, c.n, n)
		}
	}
	if n < 0 {
		n = 0
	}
	t := &table.Table{
		Columns: make([]table.Column, len(cols)),
		Index:   index,
		Rows:    make([][]any, n),
	}
	for j, c := range cols {
		t.Columns[j] = c.meta
	}
	for i := 0; i < n; i++ {
		row := make([]any, len(cols))
		for j, c := range cols {
			row[j] = c.at(i)
		}
		t.Rows[i] = row
	}
	return t, nil
}

// plainColumns lists the array members of a legacy dict-of-arrays group.
func plainColumns(ctx context.Context, g *zarr.Group) ([]string, error) {
	members, err := g.Members(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, m := range members {
		// __categories holds pre-0.8 categorical levels, not a column.
		if strings.HasPrefix(m.Name, "__") {
			continue
		}
		names = append(names, m.Name)
	}
	return names, nil
}

func readIndex(ctx context.Context, g *zarr.Group, key string) ([]string, error) {
	a, err := g.Array(ctx, key)
	if err != nil {
		return nil, err
	}
	v, err := a.Read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, v.Len())
	for i := range out {
		out[i] = label(v.At(i))
	}
	return out, nil
}

func readColumn(ctx context.Context, g *zarr.Group, name string) (column, error) {
	a, err := g.Array(ctx, name)
	if err == nil {
		return readArrayColumn(ctx, g, a, name)
	}
	if !errors.Is(err, zarr.ErrNotFound) {
		return column{}, err
	}
	sub, err := g.Group(ctx, name)
	if err != nil {
		return column{}, err
	}
	attrs, err := sub.Attrs(ctx)
	if err != nil {
		return column{}, err
	}
	enc, _ := attrs["encoding-type"].(string)
	switch enc {
	case encodingCategorical:
		codes, err := readArray(ctx, sub, "codes")
		if err != nil {
			return column{}, err
		}
		cats, err := readArray(ctx, sub, "categories")
		if err != nil {
			return column{}, err
		}
		return categorical(name, codes, cats)
	case encodingNullableInt, encodingNullableBool, encodingNullableStr:
		values, err := readArray(ctx, sub, "values")
		if err != nil {
			return column{}, err
		}
		mask, err := readArray(ctx, sub, "mask")
		if err != nil {
			return column{}, err
		}
		return nullable(name, values, mask)
	default:
		return column{}, fmt.Errorf("column encoding %q: %w", enc, zarr.ErrUnsupported)
	}
}

// readArrayColumn decodes a plain array column. Arrays carrying a
// "categories" attribute use the pre-0.8 layout where the attribute names the
// categories array (under __categories) relative to the dataframe.
func readArrayColumn(ctx context.Context, g *zarr.Group, a *zarr.Array, name string) (column, error) {
	v, err := a.Read(ctx)
	if err != nil {
		return column{}, err
	}
	attrs, err := a.Attrs(ctx)
	if err != nil {
		return column{}, err
	}
	if ref, ok := attrs["categories"].(string); ok && ref != "" {
		cats, err := readArray(ctx, g, ref)
		if err != nil {
			return column{}, err
		}
		return categorical(name, v, cats)
	}
	return column{
		meta: table.Column{Name: name, Kind: kindOf(v)},
		n:    v.Len(),
		at:   v.At,
	}, nil
}

func readArray(ctx context.Context, g *zarr.Group, name string) (zarr.Values, error) {
	a, err := g.Array(ctx, name)
	if err != nil {
		return nil, err
	}
	return a.Read(ctx)
}

func categorical(name string, codes, cats zarr.Values) (column, error) {
	ints, ok := codes.(zarr.Int64s)
	if !ok {
		return column{}, fmt.Errorf("categorical codes are %T, want integers", codes)
	}
	for i, c := range ints {
		if c >= int64(cats.Len()) {
			return column{}, fmt.Errorf("categorical code %d at row %d out of range (%d categories)", c, i, cats.Len())
		}
	}
	return column{
		meta: table.Column{Name: name, Kind: kindOf(cats), Categorical: true},
		n:    len(ints),
		at: func(i int) any {
			if ints[i] < 0 {
				return nil
			}
			return cats.At(int(ints[i]))
		},
	}, nil
}

func nullable(name string, values, mask zarr.Values) (column, error) {
	m, ok := mask.(zarr.Bools)
	if !ok {
		return column{}, fmt.Errorf("nullable mask is %T, want booleans", mask)
	}
	if len(m) != values.Len() {
		return column{}, fmt.Errorf("nullable mask has %d entries, values %d", len(m), values.Len())
	}
	return column{
		meta: table.Column{Name: name, Kind: kindOf(values)},
		n:    values.Len(),
		at: func(i int) any {
			if m[i] {
				return nil
			}
			return values.At(i)
		},
	}, nil
}

func kindOf(v zarr.Values) table.Kind {
	switch v.(type) {
	case zarr.Float64s:
		return table.KindFloat
	case zarr.Int64s:
		return table.KindInt
	case zarr.Bools:
		return table.KindBool
	default:
		return table.KindString
	}
}

func label(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		// A single-column dataframe may store column-order as a scalar.
		if x == "" {
			return nil
		}
		return []string{x}
	}
	return nil
}
