package query

import (
	"cellxplore/internal/table"
)

// Derived appends (or overwrites) a computed column.
type Derived struct {
	Name  string
	Kind  table.Kind
	Value func(row []any) any
}

// Step is the single filtering primitive behind every query: keep the rows
// Keep accepts (all when nil), compute Derive columns on the survivors, then
// project to Project (all columns when nil).
type Step struct {
	Keep    func(row []any) bool
	Derive  []Derived
	Project []string
}

// Apply evaluates s against t and returns a new table; t is not modified.
// A nil t is treated as an empty table.
func Apply(t *table.Table, s Step) *table.Table {
	if t == nil {
		t = table.New()
	}

	cols := append([]table.Column(nil), t.Columns...)
	slot := make([]int, len(s.Derive))
	for k, d := range s.Derive {
		kind := d.Kind
		if kind == "" {
			kind = table.KindString
		}
		if i := t.ColumnIndex(d.Name); i >= 0 {
			slot[k] = i
			cols[i] = table.Column{Name: d.Name, Kind: kind}
			continue
		}
		slot[k] = len(cols)
		cols = append(cols, table.Column{Name: d.Name, Kind: kind})
	}

	var proj []int
	if s.Project != nil {
		proj = make([]int, 0, len(s.Project))
		for _, name := range s.Project {
			for i, c := range cols {
				if c.Name == name {
					proj = append(proj, i)
					break
				}
			}
		}
	}

	out := &table.Table{Rows: make([][]any, 0, len(t.Rows))}
	if proj == nil {
		out.Columns = cols
	} else {
		out.Columns = make([]table.Column, len(proj))
		for j, i := range proj {
			out.Columns[j] = cols[i]
		}
	}
	if t.Index != nil {
		out.Index = make([]string, 0, len(t.Rows))
	}

	for r, row := range t.Rows {
		if s.Keep != nil && !s.Keep(row) {
			continue
		}
		full := row
		if len(s.Derive) > 0 {
			full = make([]any, len(cols))
			copy(full, row)
			for k, d := range s.Derive {
				full[slot[k]] = d.Value(row)
			}
		}
		if proj == nil {
			if len(s.Derive) == 0 {
				full = append([]any(nil), row...)
			}
			out.Rows = append(out.Rows, full)
		} else {
			projected := make([]any, len(proj))
			for j, i := range proj {
				projected[j] = full[i]
			}
			out.Rows = append(out.Rows, projected)
		}
		if t.Index != nil && r < len(t.Index) {
			out.Index = append(out.Index, t.Index[r])
		}
	}
	return out
}
