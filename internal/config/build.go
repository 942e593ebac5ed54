package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/SGIModel/MUSE-OS/internal/agent"
	"github.com/SGIModel/MUSE-OS/internal/asset"
	"github.com/SGIModel/MUSE-OS/internal/commodities"
	"github.com/SGIModel/MUSE-OS/internal/decision"
	"github.com/SGIModel/MUSE-OS/internal/ingest"
	"github.com/SGIModel/MUSE-OS/internal/market"
	"github.com/SGIModel/MUSE-OS/internal/mca"
	"github.com/SGIModel/MUSE-OS/internal/outputs"
	"github.com/SGIModel/MUSE-OS/internal/projection"
	"github.com/SGIModel/MUSE-OS/internal/sector"
	"github.com/SGIModel/MUSE-OS/internal/technology"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
	"github.com/SGIModel/MUSE-OS/internal/timeslice"
)

// Model is the fully assembled simulation: every table read, every name
// resolved, every agent seeded with its share of the existing stock.
type Model struct {
	Settings *Settings
	Comms    commodities.Table
	Scheme   *timeslice.Scheme
	Sectors  []*sector.Sector
	Base     *market.Snapshot
	Options  mca.Options
	Cache    *outputs.Cache
}

// Build reads the input tables and assembles the model.
func (s *Settings) Build() (*Model, error) {
	scheme, err := timeslice.NewScheme(s.sliceDefs()...)
	if err != nil {
		return nil, fmt.Errorf("config: timeslices: %w", err)
	}
	comms, err := s.loadCommodities()
	if err != nil {
		return nil, err
	}
	base := market.New(s.Regions, comms, scheme, s.Years)
	if err := s.loadPrices(base); err != nil {
		return nil, err
	}
	if err := s.loadDemand(base); err != nil {
		return nil, err
	}
	sectors := make([]*sector.Sector, 0, len(s.Sectors))
	for _, def := range s.Sectors {
		sec, err := s.buildSector(def, comms, scheme)
		if err != nil {
			return nil, err
		}
		sectors = append(sectors, sec)
	}
	cache, err := s.buildOutputs()
	if err != nil {
		return nil, err
	}
	for _, sec := range sectors {
		sec.SetSink(cache.Record)
	}
	return &Model{
		Settings: s,
		Comms:    comms,
		Scheme:   scheme,
		Sectors:  sectors,
		Base:     base,
		Options: mca.Options{
			MaxIter:   s.Equilibrium.MaxIterations,
			Tolerance: s.Equilibrium.Tolerance,
			TolUnmet:  s.Equilibrium.ToleranceUnmet,
			Damping:   s.Equilibrium.Damping,
			Variable:  s.Equilibrium.Variable,
			Excluded:  s.Equilibrium.Excluded,
		},
		Cache: cache,
	}, nil
}

// readTable opens one input table and runs a reader over it.
func readTable[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	v, err := read(f)
	if err != nil {
		return zero, fmt.Errorf("config: %s: %w", path, err)
	}
	return v, nil
}

func (s *Settings) loadCommodities() (commodities.Table, error) {
	if s.CommoditiesFile != "" {
		list, err := readTable(s.path(s.CommoditiesFile), ingest.ReadCommodities)
		if err != nil {
			return nil, err
		}
		return commodities.NewTable(list...), nil
	}
	list := make([]commodities.Commodity, 0, len(s.Commodities))
	for _, def := range s.Commodities {
		usage, err := commodities.ParseUsage(def.Type)
		if err != nil {
			return nil, fmt.Errorf("config: commodity %s: %w", def.Name, err)
		}
		list = append(list, commodities.Commodity{Name: def.Name, Unit: def.Unit, Usage: usage})
	}
	return commodities.NewTable(list...), nil
}

type trajectory struct {
	years  []int
	values []float64
}

// loadPrices seeds the base market's prices from the projections table,
// extended onto the milestone grid. Prices are uniform across timeslices at
// this point; the clearing loop differentiates them. Rows for regions
// outside the run are skipped.
func (s *Settings) loadPrices(base *market.Snapshot) error {
	rows, err := readTable(s.path(s.Market.Projections), ingest.ReadProjections)
	if err != nil {
		return err
	}
	series := make(map[[2]string]*trajectory)
	for _, row := range rows {
		if row.Attribute != "" && !strings.EqualFold(row.Attribute, "CommodityPrice") {
			continue
		}
		if !s.inRun(row.Region) {
			continue
		}
		for comm, v := range row.Values {
			if _, ok := base.Comms[comm]; !ok {
				return fmt.Errorf("config: projections: unknown commodity %q", comm)
			}
			key := [2]string{row.Region, comm}
			t := series[key]
			if t == nil {
				t = &trajectory{}
				series[key] = t
			}
			t.years = append(t.years, row.Year)
			t.values = append(t.values, v)
		}
	}
	names := base.Slices.Names()
	for key, t := range series {
		ext, err := projection.Extend(t.years, t.values, s.Years, s.Market.Trend)
		if err != nil {
			return fmt.Errorf("config: projecting %s prices in %s: %w", key[1], key[0], err)
		}
		for i, y := range s.Years {
			label := strconv.Itoa(y)
			for _, ts := range names {
				base.Prices.MustSet(ext[i], key[0], key[1], ts, label)
			}
		}
	}
	return nil
}

// loadDemand seeds the base market's consumption from the demand table, one
// trajectory per (region, commodity, timeslice), extended onto the milestone
// grid.
func (s *Settings) loadDemand(base *market.Snapshot) error {
	rows, err := readTable(s.path(s.Market.Demand), ingest.ReadDemand)
	if err != nil {
		return err
	}
	series := make(map[[3]string]*trajectory)
	for _, row := range rows {
		if !s.inRun(row.Region) {
			continue
		}
		if _, ok := base.Comms[row.Commodity]; !ok {
			return fmt.Errorf("config: demand: unknown commodity %q", row.Commodity)
		}
		if _, ok := base.Slices.Hours(row.Timeslice); !ok {
			return fmt.Errorf("config: demand: unknown timeslice %q", row.Timeslice)
		}
		key := [3]string{row.Region, row.Commodity, row.Timeslice}
		t := series[key]
		if t == nil {
			t = &trajectory{}
			series[key] = t
		}
		t.years = append(t.years, row.Year)
		t.values = append(t.values, row.Value)
	}
	for key, t := range series {
		ext, err := projection.Extend(t.years, t.values, s.Years, s.Market.Trend)
		if err != nil {
			return fmt.Errorf("config: projecting %s demand in %s: %w", key[1], key[0], err)
		}
		for i, y := range s.Years {
			base.Consumption.MustSet(ext[i], key[0], key[1], key[2], strconv.Itoa(y))
		}
	}
	return nil
}

func (s *Settings) buildSector(def SectorDef, comms commodities.Table, scheme *timeslice.Scheme) (*sector.Sector, error) {
	params, err := readTable(s.path(def.Technodata), ingest.ReadTechnodata)
	if err != nil {
		return nil, err
	}
	outs, err := readTable(s.path(def.CommodityOutputs), ingest.ReadCommodityOutputs)
	if err != nil {
		return nil, err
	}
	ins, err := readTable(s.path(def.CommodityInputs), ingest.ReadCommodityInputs)
	if err != nil {
		return nil, err
	}
	tech, err := technology.New(comms, params, ingest.MergeCoefficients(outs, ins))
	if err != nil {
		return nil, fmt.Errorf("config: sector %s: %w", def.Name, err)
	}
	var stock []ingest.ExistingCapacity
	if def.ExistingCapacity != "" {
		stock, err = readTable(s.path(def.ExistingCapacity), ingest.ReadExistingCapacity)
		if err != nil {
			return nil, err
		}
	}
	roster := make([]*agent.Agent, 0, len(def.Agents))
	for i, ad := range def.Agents {
		pool, err := s.poolFor(stock, ad.Region, stockShare(def.Agents, i))
		if err != nil {
			return nil, fmt.Errorf("config: agent %s: %w", ad.Name, err)
		}
		forecast := ad.Forecast
		if forecast <= 0 {
			forecast = s.Foresight
		}
		roster = append(roster, agent.New(agent.Config{
			Name:              ad.Name,
			Region:            ad.Region,
			Category:          ad.Category,
			Year:              s.Years[0],
			Forecast:          forecast,
			SearchRules:       ad.SearchRules,
			Objectives:        criteria(ad.Objectives),
			DecisionRule:      ad.DecisionRule,
			MaturityThreshold: ad.MaturityThreshold,
			Quantity:          ad.Quantity,
		}, pool))
	}
	sec, err := sector.New(sector.Config{
		Name:        def.Name,
		Interaction: def.Interaction,
		Production:  def.Production,
		Supply:      def.Supply,
		Share:       def.Share,
	}, tech, scheme, roster)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return sec, nil
}

// stockShare returns the fraction of the existing stock seeded into the
// i-th agent of a roster. New agents start empty; retrofit agents split the
// stock in proportion to their quantities. A roster with no retrofit agents
// splits it across everyone, so the stock is never dropped.
func stockShare(roster []AgentDef, i int) float64 {
	if roster[i].Category == agent.CategoryNew {
		return 0
	}
	holders := make([]int, 0, len(roster))
	for j, a := range roster {
		if a.Category != agent.CategoryNew {
			holders = append(holders, j)
		}
	}
	if len(holders) == 0 {
		for j := range roster {
			holders = append(holders, j)
		}
	}
	weight := func(a AgentDef) float64 {
		if a.Quantity > 0 {
			return a.Quantity
		}
		return agent.DefaultQuantity
	}
	total := 0.0
	for _, j := range holders {
		total += weight(roster[j])
	}
	return weight(roster[i]) / total
}

// poolFor seeds one agent's pool with its share of the existing stock in its
// region. Each record becomes one asset installed at the base year, its
// capacity resampled onto the milestone grid; records for the same
// technology sum.
func (s *Settings) poolFor(stock []ingest.ExistingCapacity, region string, share float64) (*agent.Pool, error) {
	if share == 0 {
		return agent.NewPool(s.Years), nil
	}
	keys := make([]asset.Key, 0, len(stock))
	values := make(map[string][]float64, len(stock))
	for _, rec := range stock {
		if rec.Region != region {
			continue
		}
		given := tensor.New(tensor.YearAxis(rec.Years))
		for i, y := range rec.Years {
			given.MustSet(rec.Capacity[i], strconv.Itoa(y))
		}
		onGrid, err := given.InterpYears(technology.AxisYear, s.Years)
		if err != nil {
			return nil, fmt.Errorf("existing capacity for %s in %s: %w", rec.Technology, region, err)
		}
		k := asset.Key{Technology: rec.Technology, Region: region, InstallYear: s.Years[0]}
		row, ok := values[k.Label()]
		if !ok {
			keys = append(keys, k)
			row = make([]float64, len(s.Years))
			values[k.Label()] = row
		}
		for i, y := range s.Years {
			row[i] += share * onGrid.MustAt(strconv.Itoa(y))
		}
	}
	capacity := tensor.New(asset.Axis(keys), tensor.YearAxis(s.Years))
	for label, row := range values {
		for i, y := range s.Years {
			capacity.MustSet(row[i], label, strconv.Itoa(y))
		}
	}
	return agent.PoolOf(capacity)
}

func criteria(defs []ObjectiveDef) []decision.Criterion {
	if len(defs) == 0 {
		return nil
	}
	out := make([]decision.Criterion, len(defs))
	for i, d := range defs {
		out[i] = decision.Criterion{Name: d.Name, Weight: d.Weight, Maximize: d.Maximize}
	}
	return out
}

func (s *Settings) buildOutputs() (*outputs.Cache, error) {
	names := s.Outputs.Quantities
	if len(names) == 0 {
		names = outputs.QuantityNames()
	}
	var sink outputs.Sink = outputs.Discard
	if s.Outputs.Directory != "" {
		cs, err := outputs.NewCSVSink(s.path(s.Outputs.Directory))
		if err != nil {
			return nil, fmt.Errorf("config: outputs: %w", err)
		}
		sink = cs
	}
	cache, err := outputs.NewCache(names, sink)
	if err != nil {
		return nil, fmt.Errorf("config: outputs: %w", err)
	}
	return cache, nil
}

func (s *Settings) inRun(region string) bool {
	for _, r := range s.Regions {
		if r == region {
			return true
		}
	}
	return false
}
