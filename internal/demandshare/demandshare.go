// Package demandshare apportions the demand a sector must satisfy among its
// agents. The default method splits the forecast consumption into a growth
// part for new agents and a decommissioning part for retrofit agents, then
// divides each part within a region in proportion to every agent's share of
// a reference quantity: production potential for new agents, capacity lost
// to retirement for retrofit agents.
package demandshare

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/SGIModel/MUSE-OS/internal/agent"
	"github.com/SGIModel/MUSE-OS/internal/asset"
	"github.com/SGIModel/MUSE-OS/internal/commodities"
	"github.com/SGIModel/MUSE-OS/internal/market"
	"github.com/SGIModel/MUSE-OS/internal/quantities"
	"github.com/SGIModel/MUSE-OS/internal/registry"
	"github.com/SGIModel/MUSE-OS/internal/technology"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
	"github.com/SGIModel/MUSE-OS/internal/timeslice"
)

// splitTolerance bounds the reference mass below which a slice of demand
// counts as unassignable and is split equally instead of proportionally.
const splitTolerance = 1e-12

// Options tune a share method. The zero value selects maximum_production,
// the market's first year, and a five year forecast.
type Options struct {
	Production string
	Year       int
	Forecast   int
}

func (o Options) withDefaults(m *market.Snapshot) (Options, error) {
	if o.Production == "" {
		o.Production = "maximum_production"
	}
	if o.Forecast <= 0 {
		o.Forecast = 5
	}
	if o.Year == 0 {
		years, err := m.Years()
		if err != nil {
			return o, err
		}
		if len(years) == 0 {
			return o, fmt.Errorf("market has no years")
		}
		o.Year = years[0]
		for _, y := range years[1:] {
			if y < o.Year {
				o.Year = y
			}
		}
	}
	return o, nil
}

// Method splits the demand owed to a sector across its agents, keyed by
// agent identity. Share arrays have axes (asset, commodity, timeslice) with
// assets aggregated per technology, so vintages of one technology count
// once.
type Method func(agents []*agent.Agent, m *market.Snapshot, tech *technology.Dataset, opts Options) (map[uuid.UUID]*tensor.Array, error)

var methods = newMethodRegistry()

func newMethodRegistry() *registry.Registry[Method] {
	r := registry.New[Method]("demand share")
	r.Register(NewAndRetro, "new_and_retro", "default")
	r.Register(StandardDemand, "standard_demand")
	return r
}

// RegisterMethod adds a share method under the given names.
func RegisterMethod(fn Method, names ...string) {
	methods.Register(fn, names...)
}

// MethodNamed resolves a share method; unknown names are configuration
// errors.
func MethodNamed(name string) (Method, error) {
	return methods.Lookup(name)
}

// NewAndRetro splits the forecast demand between new and retrofit agents.
// New agents compete for the growth in consumption the installed base cannot
// service, in proportion to the production potential of a reference capacity
// borrowed from their retrofit counterpart. Retrofit agents compete for the
// demand freed by decommissioning, in proportion to the capacity each one
// loses over the forecast window. Non-enduse commodities get no share.
func NewAndRetro(agents []*agent.Agent, m *market.Snapshot, tech *technology.Dataset, opts Options) (map[uuid.UUID]*tensor.Array, error) {
	opts, err := opts.withDefaults(m)
	if err != nil {
		return nil, err
	}
	y, fy := opts.Year, opts.Year+opts.Forecast
	results := make(map[uuid.UUID]*tensor.Array)
	if len(agents) == 0 {
		return results, nil
	}

	caps := make([]*tensor.Array, len(agents))
	for i, a := range agents {
		caps[i] = a.Assets.Capacity()
	}
	capacity, err := asset.Reduce(caps...)
	if err != nil {
		return nil, fmt.Errorf("demand share: %w", err)
	}

	newDem, retroDem, err := Demands(capacity, m, tech, opts)
	if err != nil {
		return nil, fmt.Errorf("demand share: %w", err)
	}
	mask := enduseMask(m.Comms)
	newDem, retroDem = newDem.Mul(mask), retroDem.Mul(mask)

	decommissioning := func(c *tensor.Array) (*tensor.Array, error) {
		return quantities.DecommissioningDemand(tech, c, m.Slices, y, fy)
	}
	produce := func(c *tensor.Array) (*tensor.Array, error) {
		return productionAt(tech, c, m, y)
	}

	for _, region := range m.Regions() {
		var retros []entry
		counterpart := make(map[string]*tensor.Array)
		for _, a := range agents {
			if a.Category != agent.CategoryRetrofit || a.Region != region {
				continue
			}
			if _, dup := counterpart[a.Name]; dup {
				return nil, fmt.Errorf("demand share: two retrofit agents named %q in region %s", a.Name, region)
			}
			counterpart[a.Name] = a.Assets.Capacity()
			retros = append(retros, entry{id: a.ID, cap: a.Assets.Capacity()})
		}
		// A region can drop out of the unmet demand entirely when nothing
		// produces there; its agents then simply get no share.
		if rax, _ := retroDem.Axis(technology.AxisRegion); rax.Has(region) {
			regional, err := retroDem.Pick(technology.AxisRegion, region)
			if err != nil {
				return nil, err
			}
			shares, err := innerSplit(retros, regional, decommissioning)
			if err != nil {
				return nil, fmt.Errorf("demand share: region %s: retrofit: %w", region, err)
			}
			for id, share := range shares {
				results[id] = share
			}
		}

		var fresh []entry
		for _, a := range agents {
			if a.Category == agent.CategoryRetrofit || a.Region != region {
				continue
			}
			ref, ok := counterpart[a.Name]
			if !ok {
				return nil, fmt.Errorf("demand share: new agent %q has no retrofit counterpart in region %s", a.Name, region)
			}
			fresh = append(fresh, entry{id: a.ID, cap: ref.Scale(a.Quantity)})
		}
		if nax, _ := newDem.Axis(technology.AxisRegion); nax.Has(region) {
			regional, err := newDem.Pick(technology.AxisRegion, region)
			if err != nil {
				return nil, err
			}
			shares, err := innerSplit(fresh, regional, produce)
			if err != nil {
				return nil, fmt.Errorf("demand share: region %s: new: %w", region, err)
			}
			for id, share := range shares {
				results[id] = share
			}
		}
	}
	return results, nil
}

// StandardDemand hands every agent a share of the forecast demand the
// installed base cannot service, in proportion to its own production
// potential, with no new against retrofit distinction.
func StandardDemand(agents []*agent.Agent, m *market.Snapshot, tech *technology.Dataset, opts Options) (map[uuid.UUID]*tensor.Array, error) {
	opts, err := opts.withDefaults(m)
	if err != nil {
		return nil, err
	}
	y, fy := opts.Year, opts.Year+opts.Forecast
	results := make(map[uuid.UUID]*tensor.Array)
	if len(agents) == 0 {
		return results, nil
	}

	prodFn, err := quantities.ProductionMethodNamed(opts.Production)
	if err != nil {
		return nil, fmt.Errorf("demand share: %w", err)
	}
	caps := make([]*tensor.Array, len(agents))
	for i, a := range agents {
		caps[i] = a.Assets.Capacity()
	}
	capacity, err := asset.Reduce(caps...)
	if err != nil {
		return nil, fmt.Errorf("demand share: %w", err)
	}
	missing, err := unmetForecast(capacity, m, tech, prodFn, y, fy)
	if err != nil {
		return nil, fmt.Errorf("demand share: %w", err)
	}
	missing = missing.Mul(enduseMask(m.Comms))

	produce := func(c *tensor.Array) (*tensor.Array, error) {
		return productionAt(tech, c, m, y)
	}
	for _, region := range m.Regions() {
		if rax, _ := missing.Axis(technology.AxisRegion); !rax.Has(region) {
			continue
		}
		var entries []entry
		for _, a := range agents {
			if a.Region == region {
				entries = append(entries, entry{id: a.ID, cap: a.Assets.Capacity()})
			}
		}
		regional, err := missing.Pick(technology.AxisRegion, region)
		if err != nil {
			return nil, err
		}
		shares, err := innerSplit(entries, regional, produce)
		if err != nil {
			return nil, fmt.Errorf("demand share: region %s: %w", region, err)
		}
		for id, share := range shares {
			results[id] = share
		}
	}
	return results, nil
}

// Demands splits the forecast-year consumption three ways and returns the
// parts owed to new and to retrofit agents, both over
// (region, commodity, timeslice). The rest is serviced by capacity still
// standing at the forecast year.
func Demands(capacity *tensor.Array, m *market.Snapshot, tech *technology.Dataset, opts Options) (newDem, retroDem *tensor.Array, err error) {
	opts, err = opts.withDefaults(m)
	if err != nil {
		return nil, nil, err
	}
	y, fy := opts.Year, opts.Year+opts.Forecast
	prodFn, err := quantities.ProductionMethodNamed(opts.Production)
	if err != nil {
		return nil, nil, err
	}

	sm, err := m.InterpYears([]int{y, fy})
	if err != nil {
		return nil, nil, err
	}
	consY, err := sm.Consumption.Pick(technology.AxisYear, strconv.Itoa(y))
	if err != nil {
		return nil, nil, err
	}
	consF, err := sm.Consumption.Pick(technology.AxisYear, strconv.Itoa(fy))
	if err != nil {
		return nil, nil, err
	}

	// Growth that current capacity cannot already produce at the forecast
	// year goes to new agents.
	missing, err := unmetForecast(capacity, m, tech, prodFn, y, fy)
	if err != nil {
		return nil, nil, err
	}
	newDem = consF.Sub(consY).ClipMin(0).Combine(missing, func(delta, missed float64) float64 {
		if delta < missed {
			return delta
		}
		return missed
	})

	// Whatever survives decommissioning still services the rest; retrofit
	// agents pick up the remainder.
	capF, err := capacity.InterpYears(technology.AxisYear, []int{fy})
	if err != nil {
		return nil, nil, err
	}
	fm, err := m.InterpYears([]int{fy})
	if err != nil {
		return nil, nil, err
	}
	prodF, err := prodFn(fm, capF, tech)
	if err != nil {
		return nil, nil, err
	}
	if prodF, err = prodF.Pick(technology.AxisYear, strconv.Itoa(fy)); err != nil {
		return nil, nil, err
	}
	retroDem, err = quantities.UnmetDemand(consF.Sub(newDem), prodF)
	if err != nil {
		return nil, nil, err
	}
	return newDem, retroDem, nil
}

// unmetForecast is the forecast-year consumption the current capacity cannot
// satisfy, over (region, commodity, timeslice).
func unmetForecast(capacity *tensor.Array, m *market.Snapshot, tech *technology.Dataset, prodFn quantities.ProductionMethod, y, fy int) (*tensor.Array, error) {
	sm, err := m.InterpYears([]int{y, fy})
	if err != nil {
		return nil, err
	}
	consF, err := sm.Consumption.Pick(technology.AxisYear, strconv.Itoa(fy))
	if err != nil {
		return nil, err
	}
	capY, err := capacity.InterpYears(technology.AxisYear, []int{y})
	if err != nil {
		return nil, err
	}

	// The production method sees the forecast consumption on the current
	// year's label so demand-capped methods align with the capacity.
	fm, err := m.InterpYears([]int{y})
	if err != nil {
		return nil, err
	}
	fm.Consumption, err = consF.Expand(tensor.YearAxis([]int{y})).
		Transpose(technology.AxisRegion, technology.AxisCommodity, timeslice.AxisName, technology.AxisYear)
	if err != nil {
		return nil, err
	}
	prod, err := prodFn(fm, capY, tech)
	if err != nil {
		return nil, err
	}
	if prod, err = prod.Pick(technology.AxisYear, strconv.Itoa(y)); err != nil {
		return nil, err
	}
	return quantities.UnmetDemand(consF, prod)
}

// productionAt is the maximum production of a capacity trajectory at one
// year, the reference quantity for splitting demand among new agents.
func productionAt(tech *technology.Dataset, capacity *tensor.Array, m *market.Snapshot, year int) (*tensor.Array, error) {
	capY, err := capacity.InterpYears(technology.AxisYear, []int{year})
	if err != nil {
		return nil, err
	}
	prod, err := quantities.MaximumProduction(tech, capY, m.Slices)
	if err != nil {
		return nil, err
	}
	return prod.Pick(technology.AxisYear, strconv.Itoa(year))
}

// entry pairs one agent with the reference capacity backing its claim.
type entry struct {
	id  uuid.UUID
	cap *tensor.Array
}

// innerSplit divides a region's demand among agents in proportion to each
// one's share of a reference quantity, aggregated per technology. Where the
// pooled reference vanishes while demand does not, the demand is split
// equally over all agents and assets instead of being dropped, so the shares
// always add back up to the input demand.
func innerSplit(entries []entry, demand *tensor.Array, method func(*tensor.Array) (*tensor.Array, error)) (map[uuid.UUID]*tensor.Array, error) {
	out := make(map[uuid.UUID]*tensor.Array, len(entries))
	if len(entries) == 0 {
		return out, nil
	}
	shares := make([]*tensor.Array, len(entries))
	for i, e := range entries {
		ref, err := method(e.cap)
		if err != nil {
			return nil, err
		}
		if shares[i], err = asset.GroupByTechnology(ref); err != nil {
			return nil, err
		}
	}

	pool := shares[0]
	for _, s := range shares[1:] {
		pool = pool.Add(s)
	}
	ax, _ := pool.Axis(asset.AxisName)
	if ax.Len() == 0 {
		slog.Warn("agents share no reference assets, demand stays unassigned", "agents", len(entries))
	}
	total := pool.SumOver(asset.AxisName)
	n := float64(len(entries) * ax.Len())
	unassigned := demand.Combine(total, func(d, t float64) float64 {
		if n > 0 && d > splitTolerance && t <= splitTolerance {
			return d / n
		}
		return 0
	})
	for i, e := range entries {
		out[e.id] = shares[i].DivFill(total, 0).Mul(demand).Add(unassigned)
	}
	return out, nil
}

// enduseMask is 1 on enduse commodities and 0 elsewhere, over the table's
// commodity axis.
func enduseMask(table commodities.Table) *tensor.Array {
	mask := tensor.New(tensor.NewAxis(technology.AxisCommodity, table.Names()))
	for _, name := range table.Enduses() {
		mask.MustSet(1, name)
	}
	return mask
}
