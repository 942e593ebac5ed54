// Package agent implements the autonomous investors that populate a sector.
// Each agent owns a pool of assets and, once per period, turns its share of
// forecast demand into new capacity by running the search space, objective
// and decision pipeline over the candidate replacement technologies.
package agent

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/SGIModel/MUSE-OS/internal/asset"
	"github.com/SGIModel/MUSE-OS/internal/decision"
	"github.com/SGIModel/MUSE-OS/internal/filters"
	"github.com/SGIModel/MUSE-OS/internal/market"
	"github.com/SGIModel/MUSE-OS/internal/objectives"
	"github.com/SGIModel/MUSE-OS/internal/technology"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
)

// Agent categories. New agents service demand growth, retrofit agents
// replace capacity lost to decommissioning.
const (
	CategoryNew      = "new"
	CategoryRetrofit = "retrofit"
)

// DefaultQuantity sizes a new agent's reference capacity relative to its
// retrofit counterpart when the configuration gives none.
const DefaultQuantity = 0.3

// Config holds the user-configurable parameters of one agent.
type Config struct {
	Name     string
	Region   string
	Category string
	Year     int
	Forecast int

	SearchRules  []string
	Objectives   []decision.Criterion
	DecisionRule string

	Tolerance         float64
	MaturityThreshold float64
	Quantity          float64
}

// Agent is one autonomous investor.
type Agent struct {
	Config
	ID     uuid.UUID
	Assets *Pool
}

// New builds an agent around a pool, filling configuration defaults: a
// retrofit category, a five year forecast, the levelized cost objective
// under single_objective, and the standard tolerance and quantity.
func New(cfg Config, pool *Pool) *Agent {
	if cfg.Category == "" {
		cfg.Category = CategoryRetrofit
	}
	if cfg.Forecast <= 0 {
		cfg.Forecast = 5
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = filters.DefaultTolerance
	}
	if cfg.Quantity == 0 {
		cfg.Quantity = DefaultQuantity
	}
	if cfg.DecisionRule == "" {
		cfg.DecisionRule = "single_objective"
	}
	if len(cfg.Objectives) == 0 {
		cfg.Objectives = []decision.Criterion{{Name: "lifetime_levelized_cost_of_energy"}}
	}
	if pool == nil {
		pool = NewPool(nil)
	}
	return &Agent{Config: cfg, ID: uuid.New(), Assets: pool}
}

// Invest runs one investment cycle against the agent's demand share: build
// the search space, score the candidates, rank them with the decision rule,
// and commit the capacity needed to service the share, installed when the
// period ends. A sub-tolerance share or an empty search space is logged and
// skipped. The agent's clock advances by period either way.
func (a *Agent) Invest(share *tensor.Array, tech *technology.Dataset, m *market.Snapshot, period int) error {
	defer func() { a.Year += period }()

	if share == nil || floats.Norm(share.Values(), 1) <= a.Tolerance {
		slog.Info("agent has no demand to invest for",
			"agent", a.Name, "category", a.Category, "region", a.Region, "year", a.Year)
		return nil
	}

	pipe, err := filters.NewPipeline(a.SearchRules...)
	if err != nil {
		return fmt.Errorf("agent %s: %w", a.Name, err)
	}
	space, err := pipe.Run(&filters.Context{
		Region:            a.Region,
		Year:              a.Year,
		Tolerance:         a.Tolerance,
		MaturityThreshold: a.MaturityThreshold,
		Demand:            share,
		Market:            m,
		Tech:              tech,
	})
	if err != nil {
		return fmt.Errorf("agent %s: search space: %w", a.Name, err)
	}
	if space.IsEmpty() {
		slog.Info("agent search space is empty, skipping investment",
			"agent", a.Name, "category", a.Category, "region", a.Region, "year", a.Year)
		return nil
	}

	ctx := &objectives.Context{
		Region:       a.Region,
		Year:         a.Year,
		ForecastYear: a.Year + a.Forecast,
		Demand:       share,
		Space:        space,
		Market:       m,
		Tech:         tech,
	}
	names := make([]string, len(a.Objectives))
	for i, c := range a.Objectives {
		names[i] = c.Name
	}
	eval, err := objectives.NewEvaluator(names...)
	if err != nil {
		return fmt.Errorf("agent %s: %w", a.Name, err)
	}
	table, err := eval.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("agent %s: objectives: %w", a.Name, err)
	}
	rule, err := decision.New(a.DecisionRule)
	if err != nil {
		return fmt.Errorf("agent %s: %w", a.Name, err)
	}
	scores, err := rule(table, a.Objectives)
	if err != nil {
		return fmt.Errorf("agent %s: decision: %w", a.Name, err)
	}
	if scores, err = scores.Transpose(asset.AxisName, objectives.AxisReplacement); err != nil {
		return fmt.Errorf("agent %s: %w", a.Name, err)
	}

	required, err := requiredCapacity(ctx)
	if err != nil {
		return fmt.Errorf("agent %s: %w", a.Name, err)
	}
	return a.commit(allocate(space, scores, required, a.Tolerance), tech, period)
}

// requiredCapacity sizes every candidate against the share it would have to
// service, one capacity_to_service_demand value per (asset, replacement).
func requiredCapacity(ctx *objectives.Context) (*tensor.Array, error) {
	eval, err := objectives.NewEvaluator("capacity_to_service_demand")
	if err != nil {
		return nil, err
	}
	table, err := eval.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	col, ok := table.Column("capacity_to_service_demand")
	if !ok {
		return nil, fmt.Errorf("capacity objective produced no column")
	}
	return col, nil
}

type addition struct {
	tech     string
	quantity float64
}

// allocate walks the assets in axis order, picks each one's best-scored
// allowed replacement, and books the capacity needed to service its share.
// A candidate scored +Inf was rejected by the decision rule and is never
// picked; an asset whose candidates were all rejected gets nothing.
func allocate(space *filters.SearchSpace, scores, required *tensor.Array, tolerance float64) []addition {
	index := make(map[string]int)
	var adds []addition
	for _, al := range space.Assets() {
		best := ""
		bestScore := math.Inf(1)
		for _, r := range space.CandidatesFor(al) {
			if v := scores.MustAt(al, r); v < bestScore {
				best, bestScore = r, v
			}
		}
		if best == "" {
			continue
		}
		q := required.MustAt(al, best)
		if q <= tolerance || math.IsInf(q, 1) || math.IsNaN(q) {
			continue
		}
		if i, ok := index[best]; ok {
			adds[i].quantity += q
		} else {
			index[best] = len(adds)
			adds = append(adds, addition{tech: best, quantity: q})
		}
	}
	return adds
}

// commit books the additions into the pool as assets installed when the
// period ends, each with a cliff retirement profile over its technical life.
func (a *Agent) commit(adds []addition, tech *technology.Dataset, period int) error {
	if len(adds) == 0 {
		return nil
	}
	install := a.Year + period
	ds, err := tech.InterpYears([]int{install})
	if err != nil {
		return err
	}
	yl := strconv.Itoa(install)
	for _, add := range adds {
		v, err := ds.TechnicalLife().At(add.tech, a.Region, yl)
		if err != nil {
			return fmt.Errorf("agent %s: %w", a.Name, err)
		}
		life := int(v)
		if life <= 0 {
			return fmt.Errorf("agent %s: technology %s has no technical life at %d", a.Name, add.tech, install)
		}
		k := asset.Key{Technology: add.tech, Region: a.Region, InstallYear: install}
		if err := a.Assets.Add(k, add.quantity, life); err != nil {
			return fmt.Errorf("agent %s: %w", a.Name, err)
		}
		slog.Debug("agent invested",
			"agent", a.Name, "technology", add.tech, "capacity", add.quantity, "installed", install)
	}
	return nil
}
