// Package sector couples one technology dataset and the agents owning its
// assets to the market clearing loop. Each period a sector converts the
// inbound market to its own timeslices, splits the forecast demand across
// its agents, lets them invest, and answers with the supply, fuel
// consumption, and costs of the post-investment capacity.
package sector

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/SGIModel/MUSE-OS/internal/agent"
	"github.com/SGIModel/MUSE-OS/internal/asset"
	"github.com/SGIModel/MUSE-OS/internal/demandshare"
	"github.com/SGIModel/MUSE-OS/internal/market"
	"github.com/SGIModel/MUSE-OS/internal/quantities"
	"github.com/SGIModel/MUSE-OS/internal/technology"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
	"github.com/SGIModel/MUSE-OS/internal/timeslice"
)

// Config names the pluggable pieces of one sector. All fields except Name
// have working defaults, so a bare {Name: "residential"} is a valid sector.
type Config struct {
	Name        string `yaml:"name"`
	Interaction string `yaml:"interaction"` // agent exchange run before investment
	Production  string `yaml:"production"`  // production method behind the demand shares
	Supply      string `yaml:"supply"`      // production method behind the reported supply
	Share       string `yaml:"share"`       // demand share method
}

// Report carries one period of post-investment state to an output sink,
// still on the sector's own timeslices and at per-asset resolution.
type Report struct {
	Sector      string
	Year        int
	Capacity    *tensor.Array // (asset, year)
	Supply      *tensor.Array // (asset, commodity, timeslice, year)
	Consumption *tensor.Array // (asset, commodity, timeslice, year)
	Costs       *tensor.Array // (region, commodity, year)
}

// Sink consumes per-period reports. Sinks must not mutate the arrays.
type Sink func(Report)

// Sector is one market participant: a set of technologies, the agents that
// invest in them, and the timeslice resolution the sector operates at.
type Sector struct {
	name   string
	tech   *technology.Dataset
	agents []*agent.Agent
	slices *timeslice.Scheme // nil means operate at the caller's resolution

	interact agent.Interaction
	share    demandshare.Method
	supply   quantities.ProductionMethod
	produce  string
	sink     Sink
}

// New builds a sector, resolving every configured name against its
// registry. A nil scheme keeps the sector on the caller's timeslices.
func New(cfg Config, tech *technology.Dataset, slices *timeslice.Scheme, agents []*agent.Agent) (*Sector, error) {
	if cfg.Name == "" {
		return nil, errors.New("sector: name is required")
	}
	if cfg.Interaction == "" {
		cfg.Interaction = "none"
	}
	if cfg.Production == "" {
		cfg.Production = "maximum_production"
	}
	if cfg.Supply == "" {
		cfg.Supply = cfg.Production
	}
	if cfg.Share == "" {
		cfg.Share = "default"
	}
	interact, err := agent.InteractionNamed(cfg.Interaction)
	if err != nil {
		return nil, fmt.Errorf("sector %s: %w", cfg.Name, err)
	}
	share, err := demandshare.MethodNamed(cfg.Share)
	if err != nil {
		return nil, fmt.Errorf("sector %s: %w", cfg.Name, err)
	}
	supply, err := quantities.ProductionMethodNamed(cfg.Supply)
	if err != nil {
		return nil, fmt.Errorf("sector %s: %w", cfg.Name, err)
	}
	// The share method resolves the production name itself; fail at
	// construction rather than deep inside the first Next.
	if _, err := quantities.ProductionMethodNamed(cfg.Production); err != nil {
		return nil, fmt.Errorf("sector %s: %w", cfg.Name, err)
	}
	return &Sector{
		name:     cfg.Name,
		tech:     tech,
		agents:   agents,
		slices:   slices,
		interact: interact,
		share:    share,
		supply:   supply,
		produce:  cfg.Production,
		sink:     func(Report) {},
	}, nil
}

func (s *Sector) Name() string { return s.name }

// Technologies exposes the sector's dataset for output writers.
func (s *Sector) Technologies() *technology.Dataset { return s.tech }

func (s *Sector) Agents() []*agent.Agent { return s.agents }

// SetSink installs the output callback invoked at the end of every Next.
func (s *Sector) SetSink(fn Sink) {
	if fn == nil {
		fn = func(Report) {}
	}
	s.sink = fn
}

// Checkpoint snapshots every agent's clock and assets and returns a
// function restoring them. The clearing loop uses it to discard the
// investments of a rejected iteration.
func (s *Sector) Checkpoint() func() {
	years := make([]int, len(s.agents))
	pools := make([]*agent.Pool, len(s.agents))
	for i, a := range s.agents {
		years[i] = a.Year
		pools[i] = a.Assets.Clone()
	}
	return func() {
		for i, a := range s.agents {
			a.Year = years[i]
			a.Assets = pools[i].Clone()
		}
	}
}

// Forecast is the sector's investment horizon: the largest agent forecast,
// never less than one year, five when the sector has no agents.
func (s *Sector) Forecast() int {
	if len(s.agents) == 0 {
		return 5
	}
	f := 1
	for _, a := range s.agents {
		if a.Forecast > f {
			f = a.Forecast
		}
	}
	return f
}

// Capacity pools every agent's assets into one (asset, year) array. Agents
// with empty pools contribute nothing; the pools of the rest must share one
// year grid.
func (s *Sector) Capacity() (*tensor.Array, error) {
	arrs := make([]*tensor.Array, 0, len(s.agents))
	for _, a := range s.agents {
		if a.Assets.Empty() {
			continue
		}
		arrs = append(arrs, a.Assets.Capacity())
	}
	if len(arrs) == 0 {
		return tensor.New(asset.Axis(nil), tensor.YearAxis(nil)), nil
	}
	pooled, err := asset.Reduce(arrs...)
	if err != nil {
		return nil, fmt.Errorf("sector %s: pooling agent assets: %w", s.name, err)
	}
	return pooled, nil
}

// Next advances the sector one period. The inbound snapshot is converted to
// the sector's timeslices and resampled to the decision, next, and forecast
// years; the agents invest against it; and the returned snapshot carries
// the sector's supply, consumption, costs, and capacity back on the
// caller's timeslices, with assets aggregated per region.
func (s *Sector) Next(m *market.Snapshot, period int) (*market.Snapshot, error) {
	if period <= 0 {
		return nil, fmt.Errorf("sector %s: period must be positive, got %d", s.name, period)
	}
	years, err := m.Years()
	if err != nil {
		return nil, fmt.Errorf("sector %s: %w", s.name, err)
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("sector %s: market has no years", s.name)
	}
	y := years[0]
	for _, yr := range years[1:] {
		if yr < y {
			y = yr
		}
	}

	want := yearSet(y, y+period, y+s.Forecast())
	inbound, err := m.InterpYears(want)
	if err != nil {
		return nil, fmt.Errorf("sector %s: %w", s.name, err)
	}
	if s.slices != nil {
		if inbound, err = inbound.ConvertSlices(s.slices); err != nil {
			return nil, fmt.Errorf("sector %s: %w", s.name, err)
		}
	}

	if err := s.interact(s.agents); err != nil {
		return nil, fmt.Errorf("sector %s: %w", s.name, err)
	}

	if err := s.invest(inbound, y, period); err != nil {
		return nil, err
	}

	out, report, err := s.marketVariables(inbound)
	if err != nil {
		return nil, fmt.Errorf("sector %s: %w", s.name, err)
	}
	report.Sector = s.name
	report.Year = y
	s.sink(report)

	if s.slices != nil {
		if out, err = out.ConvertSlices(m.Slices); err != nil {
			return nil, fmt.Errorf("sector %s: %w", s.name, err)
		}
	}
	return out, nil
}

// invest splits the market demand across the agents and runs each agent's
// investment once. Empty shares are reported and skipped by the agent; they
// never abort the period.
func (s *Sector) invest(inbound *market.Snapshot, year, period int) error {
	if len(s.agents) == 0 {
		return nil
	}
	agentMarket, err := s.agentMarket(inbound)
	if err != nil {
		return fmt.Errorf("sector %s: %w", s.name, err)
	}
	opts := demandshare.Options{Production: s.produce, Year: year, Forecast: s.Forecast()}
	shares, err := s.share(s.agents, agentMarket, s.tech, opts)
	if err != nil {
		return fmt.Errorf("sector %s: sharing demand: %w", s.name, err)
	}
	for _, a := range s.agents {
		if a.Year != year {
			return fmt.Errorf("sector %s: agent %s clock at %d, market at %d",
				s.name, a.Name, a.Year, year)
		}
		share := shares[a.ID]
		if share == nil {
			slog.Warn("agent received no demand share",
				"sector", s.name, "agent", a.Name, "category", a.Category, "region", a.Region)
		}
		if err := a.Invest(share, s.tech, agentMarket, period); err != nil {
			return fmt.Errorf("sector %s: agent %s: %w", s.name, a.Name, err)
		}
	}
	return nil
}

// agentMarket is the frozen snapshot agents decide against: the inbound
// market plus the sector's pre-investment capacity aggregated per
// technology, which the maturity and existing-capacity filters read.
func (s *Sector) agentMarket(inbound *market.Snapshot) (*market.Snapshot, error) {
	pooled, err := s.Capacity()
	if err != nil {
		return nil, err
	}
	years, err := inbound.Years()
	if err != nil {
		return nil, err
	}
	cap, err := capacityByTechnology(pooled, inbound.Regions(), years)
	if err != nil {
		return nil, err
	}
	am := inbound.Clone()
	am.Capacity = cap
	return am, nil
}

// marketVariables computes the sector's answer to the market from the
// post-investment capacity: supply by the configured method, the fuel
// consumption that supply implies, and supply costs weighted by the annual
// levelized cost of energy. Pollutant commodities are excluded from costs.
func (s *Sector) marketVariables(inbound *market.Snapshot) (*market.Snapshot, Report, error) {
	years, err := inbound.Years()
	if err != nil {
		return nil, Report{}, err
	}
	out := market.New(inbound.Regions(), inbound.Comms, inbound.Slices, years)
	out.Prices = inbound.Prices.Clone()

	pooled, err := s.Capacity()
	if err != nil {
		return nil, Report{}, err
	}
	report := Report{Capacity: pooled}
	ax, _ := pooled.Axis(asset.AxisName)
	if ax.Len() == 0 {
		report.Supply = tensor.New(asset.Axis(nil),
			out.Supply.Axes()[1], out.Supply.Axes()[2], out.Supply.Axes()[3])
		report.Consumption = report.Supply.Clone()
		report.Costs = out.Costs.Clone()
		return out, report, nil
	}

	capI, err := pooled.InterpYears(technology.AxisYear, years)
	if err != nil {
		return nil, Report{}, err
	}
	supply, err := s.supply(inbound, capI, s.tech)
	if err != nil {
		return nil, Report{}, err
	}
	cons, err := quantities.Consumption(s.tech, supply, inbound.Prices)
	if err != nil {
		return nil, Report{}, err
	}
	lcoe, err := quantities.AnnualLevelizedCostOfEnergy(s.tech, inbound.Prices)
	if err != nil {
		return nil, Report{}, err
	}
	costs, err := quantities.SupplyCost(supply.Mul(nonPollutantMask(s.tech)), lcoe)
	if err != nil {
		return nil, Report{}, err
	}
	report.Supply = supply
	report.Consumption = cons
	report.Costs = costs

	if out.Supply, err = regional(supply, out.Supply); err != nil {
		return nil, Report{}, err
	}
	if out.Consumption, err = regional(cons, out.Consumption); err != nil {
		return nil, Report{}, err
	}
	costsFull, err := costs.Reindex(technology.AxisRegion, inbound.Regions(), 0)
	if err != nil {
		return nil, Report{}, err
	}
	out.Costs = out.Costs.Add(costsFull)
	if out.Capacity, err = capacityByTechnology(pooled, inbound.Regions(), years); err != nil {
		return nil, Report{}, err
	}
	return out, report, nil
}

// regional collapses the asset axis into regions and lands the result on
// the zero-filled template, so regions the sector never served stay present
// with zero values.
func regional(arr, template *tensor.Array) (*tensor.Array, error) {
	g, err := arr.GroupSum(asset.AxisName, asset.RegionOf)
	if err != nil {
		return nil, err
	}
	r := g.Rename(asset.AxisName, technology.AxisRegion)
	ax, _ := template.Axis(technology.AxisRegion)
	r, err = r.Reindex(technology.AxisRegion, ax.Labels(), 0)
	if err != nil {
		return nil, err
	}
	return template.Add(r), nil
}

// capacityByTechnology re-expresses pooled asset capacity on the market's
// (technology, region, year) coordinates, summing vintages.
func capacityByTechnology(pooled *tensor.Array, regions []string, years []int) (*tensor.Array, error) {
	ax, ok := pooled.Axis(asset.AxisName)
	if !ok {
		return nil, fmt.Errorf("%w: pooled capacity lacks asset axis", tensor.ErrDimensionMismatch)
	}
	keys, err := asset.Keys(ax)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(keys))
	techs := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k.Technology] {
			seen[k.Technology] = true
			techs = append(techs, k.Technology)
		}
	}
	sort.Strings(techs)
	yearAxis := tensor.YearAxis(years)
	out := tensor.New(
		tensor.NewAxis(technology.AxisTechnology, techs),
		tensor.NewAxis(technology.AxisRegion, regions),
		yearAxis,
	)
	if len(keys) == 0 {
		return out, nil
	}
	p, err := pooled.InterpYears(technology.AxisYear, years)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		for i := 0; i < yearAxis.Len(); i++ {
			yl := yearAxis.Label(i)
			v := p.MustAt(k.Label(), yl)
			if v == 0 {
				continue
			}
			cur, err := out.At(k.Technology, k.Region, yl)
			if err != nil {
				return nil, fmt.Errorf("asset %s outside market coordinates: %w", k.Label(), err)
			}
			out.MustSet(cur+v, k.Technology, k.Region, yl)
		}
	}
	return out, nil
}

// nonPollutantMask is 1 on every commodity except the pollutants.
func nonPollutantMask(tech *technology.Dataset) *tensor.Array {
	table := tech.Commodities()
	mask := tensor.Full(1, tensor.NewAxis(technology.AxisCommodity, table.Names()))
	for _, name := range table.Pollutants() {
		mask.MustSet(0, name)
	}
	return mask
}

// yearSet sorts and deduplicates the decision, next, and forecast years.
func yearSet(ys ...int) []int {
	sort.Ints(ys)
	out := ys[:0]
	for i, y := range ys {
		if i == 0 || y != out[len(out)-1] {
			out = append(out, y)
		}
	}
	return out
}
