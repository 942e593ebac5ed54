package decision

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SGIModel/MUSE-OS/internal/asset"
	"github.com/SGIModel/MUSE-OS/internal/objectives"
	"github.com/SGIModel/MUSE-OS/internal/registry"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
)

// testTable builds a two-column table over one asset and three candidates:
// cost favors d markedly, quality favors c.
func testTable() *objectives.Table {
	grid := func(vals ...float64) *tensor.Array {
		arr := tensor.New(
			tensor.NewAxis(asset.AxisName, []string{"a"}),
			tensor.NewAxis(objectives.AxisReplacement, []string{"b", "c", "d"}),
		)
		copy(arr.Values(), vals)
		return arr
	}
	t := objectives.NewTable()
	t.Add("cost", grid(10, 8, 2))
	t.Add("quality", grid(1, 5, 2))
	return t
}

func score(t *testing.T, name string, criteria ...Criterion) *tensor.Array {
	t.Helper()
	rule, err := New(name)
	require.NoError(t, err)
	out, err := rule(testTable(), criteria)
	require.NoError(t, err)
	return out
}

func TestSingleObjective(t *testing.T) {
	out := score(t, "single_objective", Criterion{Name: "cost"})
	assert.Equal(t, []float64{10, 8, 2}, out.Values())

	// Maximizing flips the sign so ranking still prefers low scores.
	out = score(t, "single_objective", Criterion{Name: "quality", Maximize: true})
	assert.Equal(t, []float64{-1, -5, -2}, out.Values())
}

func TestMeanIgnoresWeights(t *testing.T) {
	out := score(t, "mean",
		Criterion{Name: "cost", Weight: 100},
		Criterion{Name: "quality", Maximize: true, Weight: 100},
	)
	assert.InDelta(t, (10-1)/2.0, out.MustAt("a", "b"), 1e-12)
	assert.InDelta(t, (8-5)/2.0, out.MustAt("a", "c"), 1e-12)
	assert.InDelta(t, (2-2)/2.0, out.MustAt("a", "d"), 1e-12)
}

func TestWeightedSum(t *testing.T) {
	out := score(t, "weighted_sum",
		Criterion{Name: "cost", Weight: 2},
		Criterion{Name: "quality", Maximize: true, Weight: 3},
	)
	assert.InDelta(t, 2*10-3*1, out.MustAt("a", "b"), 1e-12)
	assert.InDelta(t, 2*8-3*5, out.MustAt("a", "c"), 1e-12)
	assert.InDelta(t, 2*2-3*2, out.MustAt("a", "d"), 1e-12)
}

func TestDefaultCriteriaUseAllColumns(t *testing.T) {
	out := score(t, "weighted_sum")
	// Every column minimized at weight 1.
	assert.InDelta(t, 11, out.MustAt("a", "b"), 1e-12)
	assert.InDelta(t, 13, out.MustAt("a", "c"), 1e-12)
	assert.InDelta(t, 4, out.MustAt("a", "d"), 1e-12)
}

func TestLexicalOrdering(t *testing.T) {
	// Coarse cost bins make b and c tie on cost; quality then separates them.
	out := score(t, "lexical",
		Criterion{Name: "cost", Weight: 8},
		Criterion{Name: "quality"},
	)
	b := out.MustAt("a", "b")
	c := out.MustAt("a", "c")
	d := out.MustAt("a", "d")
	assert.Less(t, d, b, "d has the lowest cost bin")
	assert.Less(t, d, c)
	assert.Less(t, b, c, "within the shared cost bin, b's quality is lower")
}

func TestLexicalTiesShareARank(t *testing.T) {
	out := score(t, "lexical", Criterion{Name: "cost", Weight: 100})
	// One bin swallows every cost, so all cells tie.
	assert.Equal(t, []float64{0, 0, 0}, out.Values())
}

func TestEpsilonConstraints(t *testing.T) {
	out := score(t, "epsilon_constraints",
		Criterion{Name: "cost"},
		Criterion{Name: "quality", Maximize: true, Weight: -2},
	)
	// The constraint -quality <= -2 keeps only quality >= 2.
	assert.True(t, math.IsInf(out.MustAt("a", "b"), 1), "quality 1 violates the bound")
	assert.Equal(t, 8.0, out.MustAt("a", "c"))
	assert.Equal(t, 2.0, out.MustAt("a", "d"))
}

func TestUnknownRuleAndColumn(t *testing.T) {
	_, err := New("no_such_rule")
	assert.ErrorIs(t, err, registry.ErrUnknownName)

	rule, err := New("mean")
	require.NoError(t, err)
	_, err = rule(testTable(), []Criterion{{Name: "no_such_column"}})
	assert.Error(t, err)
}
