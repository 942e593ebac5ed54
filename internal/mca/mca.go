// Package mca runs the market clearing loop: a damped fixed point iteration
// over the sectors' market responses, period by period.
package mca

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/SGIModel/MUSE-OS/internal/market"
	"github.com/SGIModel/MUSE-OS/internal/technology"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
	"github.com/SGIModel/MUSE-OS/internal/timeslice"
)

// Sector is one market participant in the clearing loop. Next advances the
// sector's own state, so the loop calls it exactly once per iteration and
// rolls the state back between iterations through Checkpoint.
type Sector interface {
	Name() string
	Forecast() int
	Next(m *market.Snapshot, period int) (*market.Snapshot, error)
	// Checkpoint returns a function restoring the sector's mutable state
	// to the moment of the call.
	Checkpoint() func()
}

// Event describes one clearing iteration for run monitors.
type Event struct {
	Year      int     `json:"year"`
	Iteration int     `json:"iteration"`
	MaxDelta  float64 `json:"max_delta"`
	Unmet     float64 `json:"unmet"`
	Converged bool    `json:"converged"`
}

// Options tune the equilibrium search. The zero value selects the defaults:
// demand as the equilibrium variable, tolerance 0.1, unmet floor -0.1,
// damping 0.5, and a three iteration budget.
type Options struct {
	MaxIter   int
	Tolerance float64
	TolUnmet  float64
	Damping   float64
	Variable  string   // "demand" or "prices"
	Excluded  []string // commodities ignored by the fulfillment check
	Observer  func(Event)
}

func (o Options) withDefaults() (Options, error) {
	if o.MaxIter <= 0 {
		o.MaxIter = 3
	}
	if o.Tolerance <= 0 {
		o.Tolerance = 0.1
	}
	if o.TolUnmet == 0 {
		o.TolUnmet = -0.1
	}
	if o.Damping <= 0 || o.Damping > 1 {
		o.Damping = 0.5
	}
	switch o.Variable {
	case "":
		o.Variable = "demand"
	case "demand", "prices":
	default:
		return o, fmt.Errorf("mca: unknown equilibrium variable %q", o.Variable)
	}
	return o, nil
}

// Result is the outcome of one equilibrium search. Converged=false after an
// exhausted budget is a normal result, not an error; Market then holds the
// damped guess instead of the raw sector aggregate.
type Result struct {
	Market     *market.Snapshot
	Converged  bool
	Iterations int
}

// FindEquilibrium iterates the sectors to a fixed point of the market. Each
// iteration calls every sector once with the current guess, aggregates the
// returned supply, consumption, and costs, discovers prices from the costs
// on served commodities, and checks both convergence criteria; between
// iterations sector state is rolled back so investment decisions from
// discarded iterations never accumulate. ctx is checked between iterations.
func FindEquilibrium(ctx context.Context, m *market.Snapshot, sectors []Sector, period int, opts Options) (*Result, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if period <= 0 {
		return nil, fmt.Errorf("mca: period must be positive, got %d", period)
	}
	years, err := m.Years()
	if err != nil {
		return nil, fmt.Errorf("mca: %w", err)
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("mca: market has no years")
	}
	year := minOf(years)

	restore := checkpoints(sectors)
	prior := m.Clone()
	prev := m.Clone()
	var agg *market.Snapshot
	for i := 1; i <= opts.MaxIter; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("mca: %w", err)
		}
		if i > 1 {
			restore()
		}

		if agg, err = aggregate(prior, sectors, period, years); err != nil {
			return nil, err
		}
		if agg.Prices, err = discoverPrices(prior.Prices, agg.Costs, m.Slices); err != nil {
			return nil, err
		}

		delta := deviation(agg, prev, opts.Variable)
		unmet, err := unmetFloor(agg, opts.Excluded)
		if err != nil {
			return nil, err
		}
		converged := delta < opts.Tolerance && unmet >= opts.TolUnmet
		slog.Debug("market clearing iteration",
			"year", year, "iteration", i, "max_delta", delta, "unmet_floor", unmet)
		if opts.Observer != nil {
			opts.Observer(Event{Year: year, Iteration: i, MaxDelta: delta, Unmet: unmet, Converged: converged})
		}
		if converged {
			slog.Info("market cleared", "year", year, "iterations", i)
			return &Result{Market: agg, Converged: true, Iterations: i}, nil
		}
		prior = prior.Blend(agg, opts.Damping)
		prev = agg
	}
	slog.Info("iteration budget exhausted without equilibrium",
		"year", year, "iterations", opts.MaxIter)
	return &Result{Market: prior, Converged: false, Iterations: opts.MaxIter}, nil
}

// aggregate runs every sector once against the guess and sums their answers
// onto the guess's coordinates.
func aggregate(prior *market.Snapshot, sectors []Sector, period int, years []int) (*market.Snapshot, error) {
	agg := market.New(prior.Regions(), prior.Comms, prior.Slices, years)
	agg.Prices = prior.Prices.Clone()
	for _, s := range sectors {
		r, err := s.Next(prior, period)
		if err != nil {
			return nil, fmt.Errorf("mca: sector %s: %w", s.Name(), err)
		}
		// Sectors with shorter forecasts answer on fewer years.
		if r, err = r.InterpYears(years); err != nil {
			return nil, fmt.Errorf("mca: sector %s: %w", s.Name(), err)
		}
		agg = agg.Accumulate(r)
	}
	return agg, nil
}

// discoverPrices overlays the aggregate supply costs onto the price guess:
// where a commodity is served at nonzero cost, that cost becomes its price
// on every timeslice of the year.
func discoverPrices(prices, costs *tensor.Array, slices *timeslice.Scheme) (*tensor.Array, error) {
	spread := costs.Mul(tensor.Full(1, slices.Axis()))
	out := prices.Combine(spread, func(p, c float64) float64 {
		if c > 0 {
			return c
		}
		return p
	})
	return out.Transpose(technology.AxisRegion, technology.AxisCommodity, timeslice.AxisName, technology.AxisYear)
}

// deviation is the largest absolute change of the equilibrium variable
// between two aggregates.
func deviation(next, prev *market.Snapshot, variable string) float64 {
	if variable == "prices" {
		return next.Prices.MaxAbsDiff(prev.Prices)
	}
	return next.Consumption.Sub(next.Supply).MaxAbsDiff(prev.Consumption.Sub(prev.Supply))
}

// unmetFloor is the most negative supply minus consumption outside the
// excluded commodities. Zero or positive everywhere means every demand is
// met.
func unmetFloor(m *market.Snapshot, excluded []string) (float64, error) {
	slack := m.Supply.Sub(m.Consumption)
	if len(excluded) > 0 {
		drop := make(map[string]bool, len(excluded))
		for _, c := range excluded {
			drop[c] = true
		}
		kept, err := slack.SelWhere(technology.AxisCommodity, func(c string) bool { return !drop[c] })
		if err != nil {
			return 0, fmt.Errorf("mca: %w", err)
		}
		slack = kept
	}
	return slack.Min(), nil
}

func checkpoints(sectors []Sector) func() {
	restores := make([]func(), len(sectors))
	for i, s := range sectors {
		restores[i] = s.Checkpoint()
	}
	return func() {
		for _, r := range restores {
			r()
		}
	}
}

func minOf(years []int) int {
	y := years[0]
	for _, v := range years[1:] {
		if v < y {
			y = v
		}
	}
	return y
}

// yearSpan builds the sorted, deduplicated year set a clearing window needs.
func yearSpan(ys ...int) []int {
	sort.Ints(ys)
	out := ys[:0]
	for i, y := range ys {
		if i == 0 || y != out[len(out)-1] {
			out = append(out, y)
		}
	}
	return out
}
