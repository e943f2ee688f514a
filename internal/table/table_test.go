package table

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupPrefersFirstAlias(t *testing.T) {
	tbl := New(
		Column{Name: "source", Kind: KindString},
		Column{Name: "prob", Kind: KindFloat},
		Column{Name: "lr_probs", Kind: KindFloat},
	)
	i, ok := tbl.Lookup("probability", "lr_probs", "prob")
	require.True(t, ok)
	assert.Equal(t, 2, i)

	_, ok = tbl.Lookup("p_value")
	assert.False(t, ok)
	assert.Equal(t, []string{"source", "prob", "lr_probs"}, tbl.Names())
}

func TestNilTableIsEmpty(t *testing.T) {
	var tbl *Table
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, -1, tbl.ColumnIndex("x"))
	assert.Nil(t, tbl.Names())
	_, ok := tbl.IndexLabel(0)
	assert.False(t, ok)
}

func TestFloatRejectsMissing(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{0.5, 0.5, true},
		{int64(3), 3, true},
		{math.NaN(), 0, false},
		{nil, 0, false},
		{"0.1", 0, false},
	}
	for _, c := range cases {
		got, ok := Float(c.in)
		assert.Equal(t, c.ok, ok, "%v", c.in)
		assert.Equal(t, c.want, got, "%v", c.in)
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindFloat, KindOf(1.5))
	assert.Equal(t, KindInt, KindOf(int64(1)))
	assert.Equal(t, KindBool, KindOf(true))
	assert.Equal(t, KindString, KindOf("x"))
}
