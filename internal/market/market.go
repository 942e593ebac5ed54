// Package market holds the shared market state exchanged between the
// clearing loop and the sectors. Snapshots are value-semantics data: every
// transformation returns a new snapshot, nothing mutates one in place.
package market

import (
	"fmt"

	"github.com/SGIModel/MUSE-OS/internal/commodities"
	"github.com/SGIModel/MUSE-OS/internal/technology"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
	"github.com/SGIModel/MUSE-OS/internal/timeslice"
)

// Snapshot is one complete market state: demand, supply, prices, and supply
// costs over (region, commodity, timeslice, year), plus the installed
// capacity backing it. The commodity axes of all arrays share the usage tags
// of the commodity table.
type Snapshot struct {
	Consumption *tensor.Array
	Supply      *tensor.Array
	Prices      *tensor.Array
	Costs       *tensor.Array // (region, commodity, year)
	Capacity    *tensor.Array // (technology, region, year)

	Slices *timeslice.Scheme
	Comms  commodities.Table
}

// New returns a zero-filled snapshot over the given coordinates.
func New(regions []string, comms commodities.Table, slices *timeslice.Scheme, years []int) *Snapshot {
	regionAxis := tensor.NewAxis(technology.AxisRegion, regions)
	commAxis := tensor.NewAxis(technology.AxisCommodity, comms.Names())
	yearAxis := tensor.YearAxis(years)
	full := func() *tensor.Array {
		return tensor.New(regionAxis, commAxis, slices.Axis(), yearAxis)
	}
	return &Snapshot{
		Consumption: full(),
		Supply:      full(),
		Prices:      full(),
		Costs:       tensor.New(regionAxis, commAxis, yearAxis),
		Capacity:    tensor.New(tensor.NewAxis(technology.AxisTechnology, nil), regionAxis, yearAxis),
		Slices:      slices,
		Comms:       comms,
	}
}

func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Consumption = s.Consumption.Clone()
	c.Supply = s.Supply.Clone()
	c.Prices = s.Prices.Clone()
	c.Costs = s.Costs.Clone()
	c.Capacity = s.Capacity.Clone()
	return &c
}

// Years parses the year axis of the consumption array.
func (s *Snapshot) Years() ([]int, error) {
	ax, ok := s.Consumption.Axis(technology.AxisYear)
	if !ok {
		return nil, fmt.Errorf("%w: snapshot has no year axis", tensor.ErrDimensionMismatch)
	}
	return ax.Years()
}

// Regions returns the region labels of the consumption array.
func (s *Snapshot) Regions() []string {
	ax, _ := s.Consumption.Axis(technology.AxisRegion)
	return ax.Labels()
}

// Validate checks that all quantity arrays carry the table's commodities, so
// usage-tag driven selections stay consistent across the run.
func (s *Snapshot) Validate() error {
	want := s.Comms.Names()
	for name, arr := range map[string]*tensor.Array{
		"consumption": s.Consumption,
		"supply":      s.Supply,
		"prices":      s.Prices,
		"costs":       s.Costs,
	} {
		ax, ok := arr.Axis(technology.AxisCommodity)
		if !ok {
			return fmt.Errorf("%w: %s has no commodity axis", tensor.ErrDimensionMismatch, name)
		}
		if ax.Len() != len(want) {
			return fmt.Errorf("%s carries %d commodities, table has %d", name, ax.Len(), len(want))
		}
		for _, c := range want {
			if !ax.Has(c) {
				return fmt.Errorf("%s lacks commodity %q", name, c)
			}
		}
	}
	return nil
}

// ConvertSlices re-expresses the snapshot on another timeslice scheme.
// Prices are intensive; consumption and supply are extensive. Costs and
// capacity carry no timeslice axis and pass through.
func (s *Snapshot) ConvertSlices(to *timeslice.Scheme) (*Snapshot, error) {
	if s.Slices.Same(to) {
		return s.Clone(), nil
	}
	out := s.Clone()
	var err error
	if out.Consumption, err = timeslice.Convert(s.Consumption, s.Slices, to, timeslice.Extensive); err != nil {
		return nil, fmt.Errorf("consumption: %w", err)
	}
	if out.Supply, err = timeslice.Convert(s.Supply, s.Slices, to, timeslice.Extensive); err != nil {
		return nil, fmt.Errorf("supply: %w", err)
	}
	if out.Prices, err = timeslice.Convert(s.Prices, s.Slices, to, timeslice.Intensive); err != nil {
		return nil, fmt.Errorf("prices: %w", err)
	}
	out.Slices = to
	return out, nil
}

// InterpYears resamples every year-indexed array to the requested years.
func (s *Snapshot) InterpYears(years []int) (*Snapshot, error) {
	out := s.Clone()
	var err error
	resample := func(arr *tensor.Array) *tensor.Array {
		if err != nil {
			return nil
		}
		var r *tensor.Array
		r, err = arr.InterpYears(technology.AxisYear, years)
		return r
	}
	out.Consumption = resample(s.Consumption)
	out.Supply = resample(s.Supply)
	out.Prices = resample(s.Prices)
	out.Costs = resample(s.Costs)
	out.Capacity = resample(s.Capacity)
	if err != nil {
		return nil, fmt.Errorf("interpolating market: %w", err)
	}
	return out, nil
}

// Blend mixes the snapshot toward next by the damping factor: damp=1 adopts
// next outright, damp=0 keeps the receiver. Capacity and the coordinate
// tables always come from next.
func (s *Snapshot) Blend(next *Snapshot, damp float64) *Snapshot {
	mix := func(old, new *tensor.Array) *tensor.Array {
		return old.Scale(1 - damp).Add(new.Scale(damp))
	}
	out := next.Clone()
	out.Consumption = mix(s.Consumption, next.Consumption)
	out.Supply = mix(s.Supply, next.Supply)
	out.Prices = mix(s.Prices, next.Prices)
	out.Costs = mix(s.Costs, next.Costs)
	return out
}

// Accumulate adds another snapshot's supply, consumption, costs, and
// capacity into a copy of the receiver. Prices are left as the receiver's.
// Quantity arrays must share region, commodity, and timeslice coordinates;
// capacity merges over the union of technologies.
func (s *Snapshot) Accumulate(o *Snapshot) *Snapshot {
	out := s.Clone()
	out.Consumption = s.Consumption.Add(o.Consumption)
	out.Supply = s.Supply.Add(o.Supply)
	out.Costs = s.Costs.Add(o.Costs)
	out.Capacity = MergeCapacity(s.Capacity, o.Capacity)
	return out
}

// MergeCapacity sums two capacity arrays over the union of their technology
// labels, treating missing technologies as zero.
func MergeCapacity(a, b *tensor.Array) *tensor.Array {
	axA, _ := a.Axis(technology.AxisTechnology)
	axB, _ := b.Axis(technology.AxisTechnology)
	labels := axA.Labels()
	for _, l := range axB.Labels() {
		if !axA.Has(l) {
			labels = append(labels, l)
		}
	}
	ra, err := a.Reindex(technology.AxisTechnology, labels, 0)
	if err != nil {
		panic(err)
	}
	rb, err := b.Reindex(technology.AxisTechnology, labels, 0)
	if err != nil {
		panic(err)
	}
	return ra.Add(rb)
}
