// Package objectives scores replacement technologies for an investing agent.
// Each objective is a pure function from the agent's decision context to an
// array over {asset, replacement}; a registration wrapper enforces that
// output contract, and the evaluator assembles the named columns every
// decision rule consumes.
package objectives

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/SGIModel/MUSE-OS/internal/asset"
	"github.com/SGIModel/MUSE-OS/internal/filters"
	"github.com/SGIModel/MUSE-OS/internal/market"
	"github.com/SGIModel/MUSE-OS/internal/registry"
	"github.com/SGIModel/MUSE-OS/internal/technology"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
)

// AxisReplacement names the candidate axis of every objective result.
// Replacement technologies are never addressed through the technology axis,
// which keeps an asset's own technology distinguishable from the candidate
// that happens to share its name.
const AxisReplacement = "replacement"

// ErrContractViolation reports an objective whose result does not fit the
// {asset, replacement} output contract. Fatal to the run.
var ErrContractViolation = errors.New("objective breaks its output contract")

// Context is everything an objective may consult: the deciding agent's
// coordinates, its demand share, the filtered search space, and the frozen
// market and technology data. The demand array carries (asset, commodity,
// timeslice) with asset labels naming technologies, like the search space
// rows.
type Context struct {
	Region       string
	Year         int
	ForecastYear int

	Demand *tensor.Array
	Space  *filters.SearchSpace
	Market *market.Snapshot
	Tech   *technology.Dataset
}

func (c *Context) forecast() int {
	if c.ForecastYear > c.Year {
		return c.ForecastYear
	}
	return c.Year + 5
}

// Objective scores every candidate replacement, optionally per asset.
type Objective func(ctx *Context) (*tensor.Array, error)

var objectiveRegistry = registry.New[Objective]("objective")

// Register wires an objective into the registry under one or more names,
// wrapped with the output-contract check.
func Register(f Objective, names ...string) {
	objectiveRegistry.Register(wrap(names[0], f), names...)
}

// Names lists every registered objective name.
func Names() []string { return objectiveRegistry.Names() }

func wrap(name string, f Objective) Objective {
	return func(ctx *Context) (*tensor.Array, error) {
		scoped, err := ctx.scoped()
		if err != nil {
			return nil, fmt.Errorf("objective %s: %w", name, err)
		}
		out, err := f(scoped)
		if err != nil {
			return nil, fmt.Errorf("objective %s: %w", name, err)
		}
		if err := checkContract(name, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// scoped narrows the demand share to the search space's asset rows, so
// objectives never see demand for assets the agent dropped.
func (c *Context) scoped() (*Context, error) {
	reduced, err := c.Demand.Sel(asset.AxisName, c.Space.Assets()...)
	if err != nil {
		return nil, err
	}
	cc := *c
	cc.Demand = reduced
	return &cc, nil
}

func checkContract(name string, out *tensor.Array) error {
	for _, ax := range out.AxisNames() {
		if ax == technology.AxisTechnology {
			return fmt.Errorf("%w: objective %s returned a technology axis; candidates belong on %q",
				ErrContractViolation, name, AxisReplacement)
		}
		if ax != asset.AxisName && ax != AxisReplacement {
			return fmt.Errorf("%w: objective %s returned axis %q outside {%s, %s}",
				ErrContractViolation, name, ax, asset.AxisName, AxisReplacement)
		}
	}
	nonfinite := 0
	for _, v := range out.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			nonfinite++
		}
	}
	if nonfinite > 0 {
		// Advisory only: boolean or engineering-unit objectives are legal.
		slog.Warn("objective produced non-finite values",
			"objective", name, "count", nonfinite)
	}
	return nil
}

// Table is the evaluated objective set: one named column per objective, all
// normalized to (asset, replacement) over the search-space coordinates.
type Table struct {
	names []string
	cols  map[string]*tensor.Array
}

func NewTable() *Table {
	return &Table{cols: make(map[string]*tensor.Array)}
}

// Names returns the column names in evaluation order.
func (t *Table) Names() []string { return append([]string(nil), t.names...) }

// Column returns one objective column.
func (t *Table) Column(name string) (*tensor.Array, bool) {
	col, ok := t.cols[name]
	return col, ok
}

// Add inserts a column, replacing any previous column of the same name.
func (t *Table) Add(name string, col *tensor.Array) {
	if _, dup := t.cols[name]; !dup {
		t.names = append(t.names, name)
	}
	t.cols[name] = col
}

// Evaluator computes an ordered list of named objectives into a Table.
type Evaluator struct {
	names []string
	fns   []Objective
}

// NewEvaluator resolves objective names against the registry. A name listed
// twice logs a warning and keeps the later evaluation, since ranking becomes
// order-dependent. Unknown names fail construction.
func NewEvaluator(names ...string) (*Evaluator, error) {
	if len(names) == 0 {
		names = []string{"fixed_costs"}
	}
	seen := make(map[string]bool, len(names))
	e := &Evaluator{names: append([]string(nil), names...)}
	for _, name := range names {
		if seen[name] {
			slog.Warn("objective listed twice; the later evaluation wins", "objective", name)
		}
		seen[name] = true
		f, err := objectiveRegistry.Lookup(name)
		if err != nil {
			return nil, err
		}
		e.fns = append(e.fns, f)
	}
	return e, nil
}

// Names returns the configured objective names in order.
func (e *Evaluator) Names() []string { return append([]string(nil), e.names...) }

// Evaluate runs every objective and assembles the normalized table.
func (e *Evaluator) Evaluate(ctx *Context) (*Table, error) {
	t := NewTable()
	for i, f := range e.fns {
		col, err := f(ctx)
		if err != nil {
			return nil, err
		}
		normalized, err := normalizeColumn(col, ctx.Space)
		if err != nil {
			return nil, fmt.Errorf("objective %s: %w", e.names[i], err)
		}
		t.Add(e.names[i], normalized)
	}
	return t, nil
}

// normalizeColumn broadcasts missing axes so every column spans the full
// (asset, replacement) grid in canonical order.
func normalizeColumn(col *tensor.Array, space *filters.SearchSpace) (*tensor.Array, error) {
	if !col.HasAxis(AxisReplacement) {
		col = col.Expand(tensor.NewAxis(AxisReplacement, space.Replacements()))
	}
	if !col.HasAxis(asset.AxisName) {
		col = col.Expand(tensor.NewAxis(asset.AxisName, space.Assets()))
	}
	return col.Transpose(asset.AxisName, AxisReplacement)
}
