// Package decision reduces a multi-objective table to one score per
// (asset, replacement) pair. Scores are cost-like: the investment ranking
// prefers lower values. Each rule takes the evaluated table plus per-criterion
// parameters and is selected by name through the registry.
package decision

import (
	"fmt"
	"math"
	"sort"

	"github.com/SGIModel/MUSE-OS/internal/objectives"
	"github.com/SGIModel/MUSE-OS/internal/registry"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
)

// Criterion parameterizes one objective inside a rule: its direction, its
// weight (also the bin size for lexical ordering and the bound for epsilon
// constraints), and whether larger values are better.
type Criterion struct {
	Name     string
	Weight   float64
	Maximize bool
}

func (c Criterion) weight() float64 {
	if c.Weight == 0 {
		return 1
	}
	return c.Weight
}

// sign folds the direction into the cost convention.
func (c Criterion) sign() float64 {
	if c.Maximize {
		return -1
	}
	return 1
}

// Rule combines the named objective columns into a single score array over
// the table's (asset, replacement) grid.
type Rule func(table *objectives.Table, criteria []Criterion) (*tensor.Array, error)

var ruleRegistry = registry.New[Rule]("decision rule")

func init() {
	ruleRegistry.Register(singleObjective, "single_objective")
	ruleRegistry.Register(mean, "mean")
	ruleRegistry.Register(weightedSum, "weighted_sum")
	ruleRegistry.Register(lexical, "lexical_comparison", "lexical")
	ruleRegistry.Register(epsilonConstraints, "epsilon_constraints", "epsilon")
}

// Register adds a rule under the given names.
func Register(r Rule, names ...string) { ruleRegistry.Register(r, names...) }

// New resolves a rule by name.
func New(name string) (Rule, error) { return ruleRegistry.Lookup(name) }

// Names lists every registered rule name.
func Names() []string { return ruleRegistry.Names() }

// resolve pairs each criterion with its table column; with no criteria every
// column is minimized at weight 1, in table order.
func resolve(table *objectives.Table, criteria []Criterion) ([]Criterion, []*tensor.Array, error) {
	if len(criteria) == 0 {
		for _, name := range table.Names() {
			criteria = append(criteria, Criterion{Name: name})
		}
	}
	if len(criteria) == 0 {
		return nil, nil, fmt.Errorf("decision rule needs at least one objective column")
	}
	cols := make([]*tensor.Array, len(criteria))
	for i, c := range criteria {
		col, ok := table.Column(c.Name)
		if !ok {
			return nil, nil, fmt.Errorf("decision rule references objective %q absent from the table (have %v)",
				c.Name, table.Names())
		}
		cols[i] = col
	}
	return criteria, cols, nil
}

// singleObjective scores by the first criterion alone.
func singleObjective(table *objectives.Table, criteria []Criterion) (*tensor.Array, error) {
	criteria, cols, err := resolve(table, criteria)
	if err != nil {
		return nil, err
	}
	c := criteria[0]
	return cols[0].Scale(c.sign() * c.weight()), nil
}

// mean averages the direction-normalized criteria, ignoring weights.
func mean(table *objectives.Table, criteria []Criterion) (*tensor.Array, error) {
	criteria, cols, err := resolve(table, criteria)
	if err != nil {
		return nil, err
	}
	var sum *tensor.Array
	for i, c := range criteria {
		term := cols[i].Scale(c.sign())
		if sum == nil {
			sum = term
		} else {
			sum = sum.Add(term)
		}
	}
	return sum.Scale(1 / float64(len(criteria))), nil
}

// weightedSum scores by the weighted sum of direction-normalized criteria.
func weightedSum(table *objectives.Table, criteria []Criterion) (*tensor.Array, error) {
	criteria, cols, err := resolve(table, criteria)
	if err != nil {
		return nil, err
	}
	var sum *tensor.Array
	for i, c := range criteria {
		term := cols[i].Scale(c.sign() * c.weight())
		if sum == nil {
			sum = term
		} else {
			sum = sum.Add(term)
		}
	}
	return sum, nil
}

// lexical orders pairs by the tuple of quantized criteria: each column is
// direction-normalized and binned by its weight, and the score is the rank of
// the cell's tuple in lexicographic order. Ties share a rank.
func lexical(table *objectives.Table, criteria []Criterion) (*tensor.Array, error) {
	criteria, cols, err := resolve(table, criteria)
	if err != nil {
		return nil, err
	}
	grid := cols[0]
	n := grid.Size()
	tuples := make([][]float64, n)
	for i := range tuples {
		tuples[i] = make([]float64, len(criteria))
	}
	for k, c := range criteria {
		vals := cols[k].Values()
		for i := 0; i < n; i++ {
			tuples[i][k] = math.Floor(c.sign() * vals[i] / c.weight())
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	less := func(a, b []float64) int {
		for k := range a {
			if a[k] != b[k] {
				if a[k] < b[k] {
					return -1
				}
				return 1
			}
		}
		return 0
	}
	sort.SliceStable(order, func(i, j int) bool {
		return less(tuples[order[i]], tuples[order[j]]) < 0
	})

	out := grid.Scale(0)
	scores := out.Values()
	rank := 0.0
	for i, cell := range order {
		if i > 0 && less(tuples[order[i-1]], tuples[cell]) != 0 {
			rank++
		}
		scores[cell] = rank
	}
	return out, nil
}

// epsilonConstraints optimizes the first criterion subject to every later
// criterion staying within its weight bound; violating cells score +Inf.
func epsilonConstraints(table *objectives.Table, criteria []Criterion) (*tensor.Array, error) {
	criteria, cols, err := resolve(table, criteria)
	if err != nil {
		return nil, err
	}
	first := criteria[0]
	out := cols[0].Scale(first.sign() * first.weight())
	scores := out.Values()
	for k := 1; k < len(criteria); k++ {
		c := criteria[k]
		vals := cols[k].Values()
		for i, v := range vals {
			if c.sign()*v > c.weight() {
				scores[i] = math.Inf(1)
			}
		}
	}
	return out, nil
}
