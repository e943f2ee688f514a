package query

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellxplore/internal/table"
)

func interactionTable(rows ...[]any) *table.Table {
	t := table.New(
		table.Column{Name: "source", Kind: table.KindString},
		table.Column{Name: "target", Kind: table.KindString},
		table.Column{Name: "ligand", Kind: table.KindString},
		table.Column{Name: "receptor", Kind: table.KindString},
		table.Column{Name: "probability", Kind: table.KindFloat},
		table.Column{Name: "p_value", Kind: table.KindFloat},
	)
	for _, r := range rows {
		t.Append(r...)
	}
	return t
}

// scenarioTable is the two-record example: one significant, one negative.
func scenarioTable() *table.Table {
	return interactionTable(
		[]any{"A", "B", "L1", "R1", 0.5, 0.01},
		[]any{"A", "B", "L2", "R2", -0.2, 0.5},
	)
}

var tableOpts = cmp.Options{cmpopts.EquateNaNs(), cmpopts.EquateEmpty()}

func TestScenarioRawSignificantPositive(t *testing.T) {
	p := Default()
	in := scenarioTable()

	raw := p.Raw(in)
	if diff := cmp.Diff(in, raw, tableOpts); diff != "" {
		t.Fatalf("raw mismatch (-want +got):\n%s", diff)
	}

	sig := p.Significant(in)
	want := interactionTable([]any{"A", "B", "L1", "R1", 0.5, 0.01})
	if diff := cmp.Diff(want, sig, tableOpts); diff != "" {
		t.Fatalf("significant mismatch (-want +got):\n%s", diff)
	}

	pos := p.Positive(in)
	require.Equal(t, 1, pos.Len())
	assert.Equal(t, []string{"source", "target", "ligand", "receptor", "probability", "p_value", InteractingPair, InteractionLabel}, pos.Names())
	assert.Equal(t, "A -> B", pos.Rows[0][6])
	assert.Equal(t, "L1 - R1", pos.Rows[0][7])
}

func TestInputTableIsNotModified(t *testing.T) {
	in := scenarioTable()
	before := scenarioTable()
	p := Default()
	_ = p.Positive(in)
	_ = p.EndpointsOnly(in)
	_ = p.Raw(in).Rows[0]
	if diff := cmp.Diff(before, in, tableOpts); diff != "" {
		t.Fatalf("input mutated (-want +got):\n%s", diff)
	}
}

func TestSignificantHandlesMissingPValue(t *testing.T) {
	in := interactionTable(
		[]any{"A", "B", "L", "R", 0.4, nil},
		[]any{"A", "C", "L", "R", 0.4, math.NaN()},
		[]any{"A", "D", "L", "R", 0.4, 0.05},
		[]any{"A", "E", "L", "R", math.NaN(), 0.01},
		[]any{"A", "F", "L", "R", 0.0, 0.01},
	)
	sig := Default().Significant(in)
	require.Equal(t, 1, sig.Len())
	assert.Equal(t, "D", sig.Rows[0][1])
}

func TestSignificantProperty(t *testing.T) {
	var rows [][]any
	for i := 0; i < 200; i++ {
		prob := float64(i%11)/10 - 0.5
		var pv any = float64(i%7) / 50
		if i%13 == 0 {
			pv = nil
		}
		rows = append(rows, []any{fmt.Sprint("s", i%5), fmt.Sprint("t", i%3), "L", "R", prob, pv})
	}
	in := interactionTable(rows...)
	p := Default()
	sig := p.Significant(in)
	for _, r := range sig.Rows {
		prob, _ := table.Float(r[4])
		pv, ok := table.Float(r[5])
		require.True(t, ok)
		assert.Greater(t, prob, 0.0)
		assert.LessOrEqual(t, pv, 0.05)
	}
	kept := 0
	for _, r := range in.Rows {
		prob, _ := table.Float(r[4])
		pv, ok := table.Float(r[5])
		if prob > 0 && ok && pv <= 0.05 {
			kept++
		}
	}
	assert.Equal(t, kept, sig.Len())

	// Positive is a strict superset whenever a positive record fails the p-value cut.
	pos := p.Positive(in)
	assert.Greater(t, pos.Len(), sig.Len())
}

func TestProbabilityAliases(t *testing.T) {
	in := table.New(
		table.Column{Name: "source"}, table.Column{Name: "target"},
		table.Column{Name: "lr_probs", Kind: table.KindFloat},
		table.Column{Name: "cellchat_pvals", Kind: table.KindFloat},
	)
	in.Append("A", "B", 0.2, 0.01)
	in.Append("A", "C", 0.2, 0.2)
	sig := Default().Significant(in)
	require.Equal(t, 1, sig.Len())
	assert.Equal(t, "B", sig.Rows[0][1])
}

func TestMissingProbabilityColumnYieldsEmpty(t *testing.T) {
	in := table.New(table.Column{Name: "source"}, table.Column{Name: "target"})
	in.Append("A", "B")
	p := Default()
	assert.Equal(t, 0, p.Significant(in).Len())
	assert.Equal(t, 0, p.Positive(in).Len())
	assert.Equal(t, 1, p.Raw(in).Len())
}

func TestEndpointsOnlyProjects(t *testing.T) {
	out := Default().EndpointsOnly(scenarioTable())
	assert.Equal(t, []string{"source", "target"}, out.Names())
	assert.Equal(t, [][]any{{"A", "B"}}, out.Rows)
}

func TestThresholdsAreConfigurable(t *testing.T) {
	p := New(DefaultSchema(), Thresholds{MinProbability: -1, MaxPValue: 1})
	assert.Equal(t, 2, p.Significant(scenarioTable()).Len())
}

func TestRunUnknownQuery(t *testing.T) {
	_, err := Default().Run(Name("bogus"), scenarioTable())
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestApplyNilTable(t *testing.T) {
	out := Apply(nil, Step{})
	require.NotNil(t, out)
	assert.Equal(t, 0, out.Len())
}

func TestApplyOverwritesExistingDerivedColumn(t *testing.T) {
	in := table.New(table.Column{Name: "source"}, table.Column{Name: "target"}, table.Column{Name: InteractingPair})
	in.Append("A", "B", "stale")
	out := Apply(in, Step{Derive: Default().derived(Default().bind(in))})
	assert.Equal(t, []string{"source", "target", InteractingPair}, out.Names())
	assert.Equal(t, "A -> B", out.Rows[0][2])
}

func TestApplyKeepsIndex(t *testing.T) {
	in := scenarioTable()
	in.Index = []string{"r0", "r1"}
	out := Default().Significant(in)
	assert.Equal(t, []string{"r0"}, out.Index)
}

type fakeSelections map[string][]string

func (f fakeSelections) Resolve(name string) ([]string, error) {
	ids, ok := f[name]
	if !ok {
		return nil, errNoSelection
	}
	return ids, nil
}

var errNoSelection = errors.New("no such selection")

func TestSelectionFiltered(t *testing.T) {
	in := interactionTable(
		[]any{"B", "T", "L", "R", 0.3, 0.5},
		[]any{"B", "NK", "L", "R", 0.3, 0.01},
		[]any{"T", "B", "L", "R", -1.0, 0.01},
		[]any{"T", "T", "L", "R", 0.1, 0.01},
	)
	labels := Labels{"c1": "B", "c2": "T", "c3": "NK"}
	sel := fakeSelections{"s1": {"c1", "c2", "unknown"}, "none": {"zz"}}
	p := Default()

	out, err := p.SelectionFiltered(in, sel, "s1", labels)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, "B -> T", out.Rows[0][6])
	assert.Equal(t, "T -> T", out.Rows[1][6])

	empty, err := p.SelectionFiltered(in, sel, "none", labels)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	_, err = p.SelectionFiltered(in, sel, "missing", labels)
	assert.ErrorIs(t, err, errNoSelection)

	noEndpoints := table.New(table.Column{Name: "probability"})
	_, err = p.SelectionFiltered(noEndpoints, sel, "s1", labels)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
