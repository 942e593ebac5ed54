package mca

import (
	"context"
	"fmt"
	"sort"

	"github.com/SGIModel/MUSE-OS/internal/market"
	"github.com/SGIModel/MUSE-OS/internal/technology"
)

// Period summarizes one simulated period after clearing.
type Period struct {
	Year        int     `json:"year"`
	Next        int     `json:"next"`
	Converged   bool    `json:"converged"`
	Iterations  int     `json:"iterations"`
	Supply      float64 `json:"supply"`
	Consumption float64 `json:"consumption"`
}

// Callback receives run events as the simulation advances. Implementations
// must not mutate the market snapshots they are handed.
type Callback interface {
	OnIteration(e Event)
	OnPeriod(p Period, m *market.Snapshot)
}

type noCallback struct{}

func (noCallback) OnIteration(Event)                 {}
func (noCallback) OnPeriod(Period, *market.Snapshot) {}

// Runner drives the clearing loop across every milestone year of the base
// market, carrying discovered prices forward from one period into the next.
// Installed capacity carries itself: it lives in the sectors' agents.
type Runner struct {
	sectors  []Sector
	callback Callback
	opts     Options
}

// NewRunner validates the options up front; a nil callback is allowed.
func NewRunner(sectors []Sector, opts Options, cb Callback) (*Runner, error) {
	if len(sectors) == 0 {
		return nil, fmt.Errorf("mca: runner needs at least one sector")
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if cb == nil {
		cb = noCallback{}
	}
	return &Runner{sectors: sectors, callback: cb, opts: opts}, nil
}

// Run clears the market period by period over the base market's year grid
// and returns the final period's market. The base market supplies the
// exogenous consumption trajectory and the initial price guess; each
// period's window extends to the longest sector forecast, clamped at the
// base grid's edge.
func (r *Runner) Run(ctx context.Context, base *market.Snapshot) (*market.Snapshot, error) {
	years, err := base.Years()
	if err != nil {
		return nil, fmt.Errorf("mca: %w", err)
	}
	if len(years) < 2 {
		return nil, fmt.Errorf("mca: base market needs at least two milestone years, got %d", len(years))
	}
	years = append([]int(nil), years...)
	sort.Ints(years)

	maxF := 1
	for _, s := range r.sectors {
		if f := s.Forecast(); f > maxF {
			maxF = f
		}
	}

	prices := base.Prices.Clone()
	var last *market.Snapshot
	for i := 0; i+1 < len(years); i++ {
		y, next := years[i], years[i+1]
		window, err := base.InterpYears(yearSpan(y, next, y+maxF))
		if err != nil {
			return nil, fmt.Errorf("mca: period %d: %w", y, err)
		}
		wyears, err := window.Years()
		if err != nil {
			return nil, fmt.Errorf("mca: period %d: %w", y, err)
		}
		if window.Prices, err = prices.InterpYears(technology.AxisYear, wyears); err != nil {
			return nil, fmt.Errorf("mca: period %d: %w", y, err)
		}

		opts := r.opts
		inner := r.opts.Observer
		opts.Observer = func(e Event) {
			if inner != nil {
				inner(e)
			}
			r.callback.OnIteration(e)
		}
		res, err := FindEquilibrium(ctx, window, r.sectors, next-y, opts)
		if err != nil {
			return nil, err
		}

		prices = res.Market.Prices
		last = res.Market
		r.callback.OnPeriod(Period{
			Year:        y,
			Next:        next,
			Converged:   res.Converged,
			Iterations:  res.Iterations,
			Supply:      res.Market.Supply.Total(),
			Consumption: res.Market.Consumption.Total(),
		}, res.Market)
	}
	return last, nil
}
