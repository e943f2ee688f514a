// Package query turns the interaction table into the per-view results the
// HTTP layer serves. Every named query is a Step applied through Apply, so
// threshold semantics live in one place.
package query

import (
	"errors"
	"fmt"

	"cellxplore/internal/table"
)

// ErrInvalidRequest reports a request the table cannot answer structurally,
// such as a missing source or target column.
var ErrInvalidRequest = errors.New("invalid request")

// Derived column names.
const (
	InteractingPair  = "interacting_pair"
	InteractionLabel = "interaction_label"
)

// Name identifies a named query.
type Name string

const (
	Raw               Name = "raw"
	Significant       Name = "significant"
	Positive          Name = "positive"
	EndpointsOnly     Name = "endpoints-only"
	SelectionFiltered Name = "selection-filtered"
)

// Schema lists, per logical field, the physical column names that may carry
// it. The first alias present in a table wins.
type Schema struct {
	Source      []string
	Target      []string
	Ligand      []string
	Receptor    []string
	Probability []string
	PValue      []string
}

// DefaultSchema covers the column names written by the common
// cell-communication tools.
func DefaultSchema() Schema {
	return Schema{
		Source:      []string{"source"},
		Target:      []string{"target"},
		Ligand:      []string{"ligand"},
		Receptor:    []string{"receptor"},
		Probability: []string{"probability", "prob", "lr_probs"},
		PValue:      []string{"p_value", "pval", "pvals", "cellchat_pvals"},
	}
}

// Thresholds are the significance cut-offs. A record is positive when its
// probability is strictly greater than MinProbability and significant when
// additionally its p-value is at most MaxPValue.
type Thresholds struct {
	MinProbability float64
	MaxPValue      float64
}

// DefaultThresholds returns probability > 0 and p-value <= 0.05.
func DefaultThresholds() Thresholds {
	return Thresholds{MinProbability: 0, MaxPValue: 0.05}
}

// Pipeline evaluates named queries against interaction tables.
type Pipeline struct {
	Schema     Schema
	Thresholds Thresholds
}

// New returns a pipeline with the given schema and thresholds.
func New(schema Schema, th Thresholds) Pipeline {
	return Pipeline{Schema: schema, Thresholds: th}
}

// Default returns a pipeline with DefaultSchema and DefaultThresholds.
func Default() Pipeline { return New(DefaultSchema(), DefaultThresholds()) }

// fields holds the resolved column positions of one table; -1 marks absence.
type fields struct {
	source, target, ligand, receptor, prob, pval int
}

func (p Pipeline) bind(t *table.Table) fields {
	pos := func(aliases []string) int {
		i, _ := t.Lookup(aliases...)
		return i
	}
	return fields{
		source:   pos(p.Schema.Source),
		target:   pos(p.Schema.Target),
		ligand:   pos(p.Schema.Ligand),
		receptor: pos(p.Schema.Receptor),
		prob:     pos(p.Schema.Probability),
		pval:     pos(p.Schema.PValue),
	}
}

func cell(row []any, i int) any {
	if i < 0 || i >= len(row) {
		return nil
	}
	return row[i]
}

// positive reports probability > MinProbability; a missing or NaN
// probability fails.
func (p Pipeline) positive(f fields) func([]any) bool {
	return func(row []any) bool {
		v, ok := table.Float(cell(row, f.prob))
		return ok && v > p.Thresholds.MinProbability
	}
}

// significant adds p-value <= MaxPValue; a missing or NaN p-value fails.
func (p Pipeline) significant(f fields) func([]any) bool {
	pos := p.positive(f)
	return func(row []any) bool {
		if !pos(row) {
			return false
		}
		v, ok := table.Float(cell(row, f.pval))
		return ok && v <= p.Thresholds.MaxPValue
	}
}

func (p Pipeline) derived(f fields) []Derived {
	var out []Derived
	if f.source >= 0 && f.target >= 0 {
		out = append(out, Derived{Name: InteractingPair, Value: joinCells(f.source, f.target, " -> ")})
	}
	if f.ligand >= 0 && f.receptor >= 0 {
		out = append(out, Derived{Name: InteractionLabel, Value: joinCells(f.ligand, f.receptor, " - ")})
	}
	return out
}

// joinCells concatenates two string cells; a missing side yields nil.
func joinCells(a, b int, sep string) func([]any) any {
	return func(row []any) any {
		l, ok := table.String(cell(row, a))
		if !ok {
			return nil
		}
		r, ok := table.String(cell(row, b))
		if !ok {
			return nil
		}
		return l + sep + r
	}
}

// Step returns the Step implementing a named query other than
// SelectionFiltered.
func (p Pipeline) Step(name Name, t *table.Table) (Step, error) {
	f := p.bind(t)
	switch name {
	case Raw:
		return Step{}, nil
	case Significant:
		return Step{Keep: p.significant(f)}, nil
	case Positive:
		return Step{Keep: p.positive(f), Derive: p.derived(f)}, nil
	case EndpointsOnly:
		if f.source < 0 || f.target < 0 {
			// Project what exists; a table without endpoints yields empty rows.
			return Step{Keep: p.significant(f), Project: presentColumns(t, f.source, f.target)}, nil
		}
		return Step{Keep: p.significant(f), Project: []string{t.Columns[f.source].Name, t.Columns[f.target].Name}}, nil
	default:
		return Step{}, fmt.Errorf("query %q: %w", name, ErrInvalidRequest)
	}
}

func presentColumns(t *table.Table, idx ...int) []string {
	out := []string{}
	for _, i := range idx {
		if i >= 0 {
			out = append(out, t.Columns[i].Name)
		}
	}
	return out
}

// Run evaluates a named query other than SelectionFiltered.
func (p Pipeline) Run(name Name, t *table.Table) (*table.Table, error) {
	step, err := p.Step(name, t)
	if err != nil {
		return nil, err
	}
	return Apply(t, step), nil
}

// Raw returns every record unchanged.
func (p Pipeline) Raw(t *table.Table) *table.Table { return Apply(t, Step{}) }

// Significant keeps records passing both thresholds.
func (p Pipeline) Significant(t *table.Table) *table.Table {
	out, _ := p.Run(Significant, t)
	return out
}

// Positive keeps records with positive probability and adds the display
// fields.
func (p Pipeline) Positive(t *table.Table) *table.Table {
	out, _ := p.Run(Positive, t)
	return out
}

// EndpointsOnly keeps significant records projected to source and target.
func (p Pipeline) EndpointsOnly(t *table.Table) *table.Table {
	out, _ := p.Run(EndpointsOnly, t)
	return out
}

// Resolver resolves a selection name to observation identifiers.
type Resolver interface {
	Resolve(name string) ([]string, error)
}

// Labels maps observation identifiers to their type label.
type Labels map[string]string

// SelectionFiltered resolves the selection, maps its identifiers to type
// labels (unknown identifiers are dropped) and keeps the positive records
// whose source and target both carry one of those labels.
func (p Pipeline) SelectionFiltered(t *table.Table, sel Resolver, name string, labels Labels) (*table.Table, error) {
	ids, err := sel.Resolve(name)
	if err != nil {
		return nil, err
	}
	f := p.bind(t)
	if f.source < 0 || f.target < 0 {
		return nil, fmt.Errorf("interaction table has no source/target columns: %w", ErrInvalidRequest)
	}
	types := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if l, ok := labels[id]; ok {
			types[l] = struct{}{}
		}
	}
	member := func(v any) bool {
		s, ok := table.String(v)
		if !ok {
			return false
		}
		_, ok = types[s]
		return ok
	}
	pos := p.positive(f)
	return Apply(t, Step{
		Keep: func(row []any) bool {
			return pos(row) && member(cell(row, f.source)) && member(cell(row, f.target))
		},
		Derive: p.derived(f),
	}), nil
}
