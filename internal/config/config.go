// Package config loads the YAML settings file that describes one simulation:
// milestone years, regions, the timeslice scheme, the commodity catalog, the
// market tables, the sector rosters with their agents, and the equilibrium
// options. Load validates every pluggable name against the engine registries
// up front so a bad settings file fails before any table is read; Build then
// assembles the typed model the runner consumes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/SGIModel/MUSE-OS/internal/agent"
	"github.com/SGIModel/MUSE-OS/internal/decision"
	"github.com/SGIModel/MUSE-OS/internal/demandshare"
	"github.com/SGIModel/MUSE-OS/internal/filters"
	"github.com/SGIModel/MUSE-OS/internal/objectives"
	"github.com/SGIModel/MUSE-OS/internal/outputs"
	"github.com/SGIModel/MUSE-OS/internal/projection"
	"github.com/SGIModel/MUSE-OS/internal/quantities"
	"github.com/SGIModel/MUSE-OS/internal/timeslice"
)

// Settings is the decoded settings file.
type Settings struct {
	Years     []int    `yaml:"years"`
	Regions   []string `yaml:"regions"`
	Foresight int      `yaml:"foresight"`

	Timeslices []TimesliceDef `yaml:"timeslices"`

	// The commodity catalog comes from exactly one of these.
	Commodities     []CommodityDef `yaml:"commodities"`
	CommoditiesFile string         `yaml:"commodities_file"`

	Market      MarketDef      `yaml:"market"`
	Equilibrium EquilibriumDef `yaml:"equilibrium"`
	Sectors     []SectorDef    `yaml:"sectors"`
	Outputs     OutputsDef     `yaml:"outputs"`

	dir string // directory of the settings file, anchors relative paths
}

// TimesliceDef is one slice of the year.
type TimesliceDef struct {
	Name  string  `yaml:"name"`
	Hours float64 `yaml:"hours"`
}

// CommodityDef declares a commodity inline instead of through a CSV catalog.
type CommodityDef struct {
	Name string `yaml:"name"`
	Unit string `yaml:"unit"`
	Type string `yaml:"type"`
}

// MarketDef names the tables seeding the base market and the trend form used
// to extend their trajectories onto the milestone grid.
type MarketDef struct {
	Projections string `yaml:"projections"`
	Demand      string `yaml:"demand"`
	Trend       string `yaml:"trend"`
}

// EquilibriumDef carries the market clearing options. Zero values fall back
// to the solver defaults.
type EquilibriumDef struct {
	MaxIterations  int      `yaml:"max_iterations"`
	Tolerance      float64  `yaml:"tolerance"`
	ToleranceUnmet float64  `yaml:"tolerance_unmet"`
	Damping        float64  `yaml:"damping"`
	Variable       string   `yaml:"variable"`
	Excluded       []string `yaml:"excluded"`
}

// SectorDef describes one sector: its input tables, its method names, and
// its agent roster.
type SectorDef struct {
	Name             string `yaml:"name"`
	Technodata       string `yaml:"technodata"`
	CommodityOutputs string `yaml:"commodity_outputs"`
	CommodityInputs  string `yaml:"commodity_inputs"`
	ExistingCapacity string `yaml:"existing_capacity"`

	Interaction string `yaml:"interaction"`
	Production  string `yaml:"production"`
	Supply      string `yaml:"supply"`
	Share       string `yaml:"share"`

	Agents []AgentDef `yaml:"agents"`
}

// AgentDef describes one investor.
type AgentDef struct {
	Name              string         `yaml:"name"`
	Region            string         `yaml:"region"`
	Category          string         `yaml:"category"`
	Quantity          float64        `yaml:"quantity"`
	SearchRules       []string       `yaml:"search_rules"`
	Objectives        []ObjectiveDef `yaml:"objectives"`
	DecisionRule      string         `yaml:"decision_rule"`
	Forecast          int            `yaml:"forecast"`
	MaturityThreshold float64        `yaml:"maturity_threshold"`
}

// ObjectiveDef is one ranking criterion.
type ObjectiveDef struct {
	Name     string  `yaml:"name"`
	Weight   float64 `yaml:"weight"`
	Maximize bool    `yaml:"maximize"`
}

// OutputsDef selects the quantities written after each period and where the
// tables go. An empty directory discards them; empty quantities select the
// whole registered set.
type OutputsDef struct {
	Directory  string   `yaml:"directory"`
	Quantities []string `yaml:"quantities"`
}

// Load reads, parses, and validates a settings file. Relative paths inside
// the file resolve against the file's own directory.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading settings: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	s.dir = filepath.Dir(path)
	return s, nil
}

// Parse decodes and validates settings from raw YAML.
func Parse(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("config: parsing settings: %w", err)
	}
	if s.Foresight <= 0 {
		s.Foresight = 5
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings' shape and resolves every pluggable name
// against its registry, without touching any input table.
func (s *Settings) Validate() error {
	if len(s.Years) < 2 {
		return errors.New("config: need at least two milestone years")
	}
	for i := 1; i < len(s.Years); i++ {
		if s.Years[i] <= s.Years[i-1] {
			return fmt.Errorf("config: years must be strictly increasing, got %d after %d", s.Years[i], s.Years[i-1])
		}
	}
	if len(s.Regions) == 0 {
		return errors.New("config: need at least one region")
	}
	if _, err := timeslice.NewScheme(s.sliceDefs()...); err != nil {
		return fmt.Errorf("config: timeslices: %w", err)
	}
	if (len(s.Commodities) == 0) == (s.CommoditiesFile == "") {
		return errors.New("config: declare commodities inline or name a commodities_file, one of the two")
	}
	if s.Market.Projections == "" {
		return errors.New("config: market needs a projections table")
	}
	if s.Market.Demand == "" {
		return errors.New("config: market needs a demand table")
	}
	switch s.Market.Trend {
	case "", projection.Linear, projection.Exponential, projection.Best:
	default:
		return fmt.Errorf("config: unknown trend form %q", s.Market.Trend)
	}
	switch s.Equilibrium.Variable {
	case "", "demand", "prices":
	default:
		return fmt.Errorf("config: unknown equilibrium variable %q", s.Equilibrium.Variable)
	}
	if len(s.Sectors) == 0 {
		return errors.New("config: need at least one sector")
	}
	seen := make(map[string]bool, len(s.Sectors))
	for _, def := range s.Sectors {
		if err := def.validate(s.Regions); err != nil {
			return err
		}
		if seen[def.Name] {
			return fmt.Errorf("config: duplicate sector %q", def.Name)
		}
		seen[def.Name] = true
	}
	if _, err := outputs.NewCache(s.Outputs.Quantities, outputs.Discard); err != nil {
		return fmt.Errorf("config: outputs: %w", err)
	}
	return nil
}

func (s *Settings) sliceDefs() []timeslice.Slice {
	defs := make([]timeslice.Slice, len(s.Timeslices))
	for i, t := range s.Timeslices {
		defs[i] = timeslice.Slice{Name: t.Name, Hours: t.Hours}
	}
	return defs
}

// path anchors a relative table path at the settings file's directory.
func (s *Settings) path(name string) string {
	if filepath.IsAbs(name) || s.dir == "" {
		return name
	}
	return filepath.Join(s.dir, name)
}

func (d SectorDef) validate(regions []string) error {
	if d.Name == "" {
		return errors.New("config: sector without a name")
	}
	if d.Technodata == "" {
		return fmt.Errorf("config: sector %s needs a technodata table", d.Name)
	}
	if d.CommodityOutputs == "" {
		return fmt.Errorf("config: sector %s needs a commodity_outputs table", d.Name)
	}
	if d.CommodityInputs == "" {
		return fmt.Errorf("config: sector %s needs a commodity_inputs table", d.Name)
	}
	if d.Interaction != "" {
		if _, err := agent.InteractionNamed(d.Interaction); err != nil {
			return fmt.Errorf("config: sector %s: %w", d.Name, err)
		}
	}
	if d.Share != "" {
		if _, err := demandshare.MethodNamed(d.Share); err != nil {
			return fmt.Errorf("config: sector %s: %w", d.Name, err)
		}
	}
	for _, name := range []string{d.Production, d.Supply} {
		if name == "" {
			continue
		}
		if _, err := quantities.ProductionMethodNamed(name); err != nil {
			return fmt.Errorf("config: sector %s: %w", d.Name, err)
		}
	}
	if len(d.Agents) == 0 {
		return fmt.Errorf("config: sector %s needs at least one agent", d.Name)
	}
	for _, a := range d.Agents {
		if err := a.validate(d.Name, regions); err != nil {
			return err
		}
	}
	return nil
}

func (a AgentDef) validate(sector string, regions []string) error {
	if a.Name == "" {
		return fmt.Errorf("config: sector %s has an agent without a name", sector)
	}
	known := false
	for _, r := range regions {
		if r == a.Region {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("config: agent %s: region %q is not part of the run", a.Name, a.Region)
	}
	switch a.Category {
	case "", agent.CategoryNew, agent.CategoryRetrofit:
	default:
		return fmt.Errorf("config: agent %s: unknown category %q", a.Name, a.Category)
	}
	if a.Quantity < 0 {
		return fmt.Errorf("config: agent %s: negative quantity", a.Name)
	}
	if len(a.SearchRules) > 0 {
		if _, err := filters.NewPipeline(a.SearchRules...); err != nil {
			return fmt.Errorf("config: agent %s: %w", a.Name, err)
		}
	}
	if len(a.Objectives) > 0 {
		names := make([]string, len(a.Objectives))
		for i, o := range a.Objectives {
			names[i] = o.Name
		}
		if _, err := objectives.NewEvaluator(names...); err != nil {
			return fmt.Errorf("config: agent %s: %w", a.Name, err)
		}
	}
	if a.DecisionRule != "" {
		if _, err := decision.New(a.DecisionRule); err != nil {
			return fmt.Errorf("config: agent %s: %w", a.Name, err)
		}
	}
	return nil
}
