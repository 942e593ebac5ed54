// Package filters builds and narrows the candidate-replacement search space
// of an investing agent. An initializer seeds the matrix from the agent's
// demand share; a chain of named filters then narrows it. All stages are
// pure and composed by name through the registry.
package filters

import (
	"fmt"
	"strconv"

	"github.com/SGIModel/MUSE-OS/internal/market"
	"github.com/SGIModel/MUSE-OS/internal/registry"
	"github.com/SGIModel/MUSE-OS/internal/technology"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
)

// DefaultTolerance bounds below which an asset's demand share does not even
// put it on the search-space axis.
const DefaultTolerance = 1e-8

// Context carries everything a stage may query: the deciding agent's
// parameters, its demand share, and the frozen market and technology data.
// The demand array's asset axis is labeled with technology names.
type Context struct {
	Region            string
	Year              int
	Tolerance         float64
	MaturityThreshold float64

	Demand *tensor.Array
	Market *market.Snapshot
	Tech   *technology.Dataset
}

func (c *Context) tolerance() float64 {
	if c.Tolerance == 0 {
		return DefaultTolerance
	}
	return c.Tolerance
}

// Filter narrows (or, for the two special stages, reshapes) a search space.
type Filter func(ctx *Context, space *SearchSpace) (*SearchSpace, error)

// Initializer seeds the search space from the demand share.
type Initializer func(ctx *Context) (*SearchSpace, error)

var (
	filterRegistry      = registry.New[Filter]("search-space filter")
	initializerRegistry = registry.New[Initializer]("search-space initializer")
)

func init() {
	initializerRegistry.Register(initializeFromTechnologies, "initialize_from_technologies")

	filterRegistry.Register(identity, "all")
	filterRegistry.Register(sameEnduse, "same_enduse")
	filterRegistry.Register(similarTechnology, "similar_technology", "similar")
	filterRegistry.Register(sameFuels, "same_fuels", "fueltype")
	filterRegistry.Register(currentlyExistingTech, "currently_existing_tech", "existing")
	filterRegistry.Register(currentlyReferencedTech, "currently_referenced_tech")
	filterRegistry.Register(maturity, "maturity")
	filterRegistry.Register(compress, "compress")
	filterRegistry.Register(withAssetTechnology, "with_asset_technology")
}

// RegisterFilter adds a filter under the given names.
func RegisterFilter(f Filter, names ...string) { filterRegistry.Register(f, names...) }

// RegisterInitializer adds an initializer under the given names.
func RegisterInitializer(f Initializer, names ...string) { initializerRegistry.Register(f, names...) }

// Pipeline is a resolved search-rule chain: one initializer followed by
// filters, applied in order.
type Pipeline struct {
	names  []string
	init   Initializer
	stages []Filter
}

// NewPipeline resolves stage names against the registries. When the first
// name is not a registered initializer, the default initializer is silently
// prepended. Unknown names fail construction.
func NewPipeline(names ...string) (*Pipeline, error) {
	if len(names) == 0 {
		names = []string{"initialize_from_technologies"}
	}
	p := &Pipeline{names: append([]string(nil), names...)}
	rest := names
	if initializerRegistry.Has(names[0]) {
		init, err := initializerRegistry.Lookup(names[0])
		if err != nil {
			return nil, err
		}
		p.init = init
		rest = names[1:]
	} else {
		init, err := initializerRegistry.Lookup("initialize_from_technologies")
		if err != nil {
			return nil, err
		}
		p.init = init
	}
	for _, name := range rest {
		f, err := filterRegistry.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("search rule: %w", err)
		}
		p.stages = append(p.stages, f)
	}
	return p, nil
}

// Names returns the configured stage names.
func (p *Pipeline) Names() []string { return append([]string(nil), p.names...) }

// Run seeds the search space and threads it through every stage.
func (p *Pipeline) Run(ctx *Context) (*SearchSpace, error) {
	space, err := p.init(ctx)
	if err != nil {
		return nil, err
	}
	for i, stage := range p.stages {
		if space, err = stage(ctx, space); err != nil {
			return nil, fmt.Errorf("search-rule stage %d: %w", i+1, err)
		}
	}
	return space, nil
}

// initializeFromTechnologies retains the assets whose demand share clears
// the agent's tolerance, dropped from the axis otherwise, and allows every
// known technology as replacement.
func initializeFromTechnologies(ctx *Context) (*SearchSpace, error) {
	ax, ok := ctx.Demand.Axis("asset")
	if !ok {
		return nil, fmt.Errorf("initializing search space: %w: demand lacks asset axis", tensor.ErrDimensionMismatch)
	}
	others := make([]string, 0, 3)
	for _, name := range ctx.Demand.AxisNames() {
		if name != "asset" {
			others = append(others, name)
		}
	}
	perAsset := ctx.Demand.SumOver(others...)

	var kept []string
	for _, label := range ax.Labels() {
		if perAsset.MustAt(label) > ctx.tolerance() {
			kept = append(kept, label)
		}
	}
	return NewSearchSpace(kept, ctx.Tech.Technologies(), true), nil
}

func identity(_ *Context, space *SearchSpace) (*SearchSpace, error) {
	return space, nil
}

// enduseFlags marks which enduse commodities a technology produces at the
// context year and region.
func (c *Context) enduseFlags() (map[string]map[string]bool, error) {
	ds, err := c.Tech.InterpYears([]int{c.Year})
	if err != nil {
		return nil, err
	}
	yl := strconv.Itoa(c.Year)
	outputs := ds.EnduseOutputs()
	ax, _ := outputs.Axis(technology.AxisCommodity)

	flags := make(map[string]map[string]bool)
	for _, tc := range c.Tech.Technologies() {
		m := make(map[string]bool, ax.Len())
		for _, comm := range ax.Labels() {
			m[comm] = outputs.MustAt(tc, c.Region, yl, comm) > 0
		}
		flags[tc] = m
	}
	return flags, nil
}

// sameEnduse keeps candidates covering at least the asset's enduses.
func sameEnduse(ctx *Context, space *SearchSpace) (*SearchSpace, error) {
	flags, err := ctx.enduseFlags()
	if err != nil {
		return nil, err
	}
	return space.Narrow(func(a, r string) bool {
		for comm, has := range flags[a] {
			if has && !flags[r][comm] {
				return false
			}
		}
		return true
	}), nil
}

func similarTechnology(ctx *Context, space *SearchSpace) (*SearchSpace, error) {
	return space.Narrow(func(a, r string) bool {
		return ctx.Tech.Type(a) == ctx.Tech.Type(r)
	}), nil
}

func sameFuels(ctx *Context, space *SearchSpace) (*SearchSpace, error) {
	return space.Narrow(func(a, r string) bool {
		return ctx.Tech.Fuel(a) == ctx.Tech.Fuel(r)
	}), nil
}

// marketCapacity returns installed capacity per technology at the context
// year and region, with presence information for technologies the market
// references at all.
func (c *Context) marketCapacity() (map[string]float64, error) {
	installed := c.Market.Capacity
	ax, ok := installed.Axis(technology.AxisTechnology)
	if !ok {
		return nil, fmt.Errorf("market capacity: %w: no technology axis", tensor.ErrDimensionMismatch)
	}
	if ax.Len() == 0 {
		return map[string]float64{}, nil
	}
	interp, err := installed.InterpYears(technology.AxisYear, []int{c.Year})
	if err != nil {
		return nil, err
	}
	atYear, err := interp.Pick(technology.AxisYear, strconv.Itoa(c.Year))
	if err != nil {
		return nil, err
	}
	atRegion, err := atYear.Pick(technology.AxisRegion, c.Region)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, ax.Len())
	for _, tc := range ax.Labels() {
		out[tc] = atRegion.MustAt(tc)
	}
	return out, nil
}

// currentlyExistingTech keeps candidates with installed capacity above the
// agent's tolerance right now.
func currentlyExistingTech(ctx *Context, space *SearchSpace) (*SearchSpace, error) {
	caps, err := ctx.marketCapacity()
	if err != nil {
		return nil, err
	}
	return space.Narrow(func(_, r string) bool {
		v, referenced := caps[r]
		return referenced && v > ctx.tolerance()
	}), nil
}

// currentlyReferencedTech keeps candidates the market references at all,
// even at zero capacity.
func currentlyReferencedTech(ctx *Context, space *SearchSpace) (*SearchSpace, error) {
	caps, err := ctx.marketCapacity()
	if err != nil {
		return nil, err
	}
	return space.Narrow(func(_, r string) bool {
		_, referenced := caps[r]
		return referenced
	}), nil
}

// maturity keeps candidates whose installed capacity has reached the
// threshold share of every enduse's total production capability. Entrants
// below the threshold stay blocked.
func maturity(ctx *Context, space *SearchSpace) (*SearchSpace, error) {
	caps, err := ctx.marketCapacity()
	if err != nil {
		return nil, err
	}
	ds, err := ctx.Tech.InterpYears([]int{ctx.Year})
	if err != nil {
		return nil, err
	}
	yl := strconv.Itoa(ctx.Year)
	outputs := ds.EnduseOutputs()
	ax, _ := outputs.Axis(technology.AxisCommodity)

	production := make(map[string]float64, ax.Len())
	for _, comm := range ax.Labels() {
		total := 0.0
		for tc, v := range caps {
			// Capacity for technologies outside the dataset contributes nothing.
			if hasTech(ctx.Tech, tc) {
				total += v * outputs.MustAt(tc, ctx.Region, yl, comm)
			}
		}
		production[comm] = total
	}

	return space.Narrow(func(_, r string) bool {
		for _, comm := range ax.Labels() {
			if ctx.MaturityThreshold*production[comm] > caps[r] {
				return false
			}
		}
		return true
	}), nil
}

func hasTech(ds *technology.Dataset, name string) bool {
	for _, tc := range ds.Technologies() {
		if tc == name {
			return true
		}
	}
	return false
}

// compress is a projection: replacement columns no asset considers are
// dropped, nothing else changes.
func compress(_ *Context, space *SearchSpace) (*SearchSpace, error) {
	return space.Compress(), nil
}

// withAssetTechnology guarantees staying put remains an option.
func withAssetTechnology(_ *Context, space *SearchSpace) (*SearchSpace, error) {
	return space.Widen(func(a, r string) bool { return a == r }), nil
}
