// Package timeslice defines sub-annual time partitions and converts
// quantities between partitions of differing granularity.
package timeslice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/SGIModel/MUSE-OS/internal/tensor"
)

// AxisName is the canonical axis name for timeslice dimensions.
const AxisName = "timeslice"

// ErrIncompatible reports two schemes with no refinement relation between
// them; converting across them would not conserve totals.
var ErrIncompatible = errors.New("incompatible timeslice schemes")

// Mode selects how a quantity behaves under re-partitioning.
type Mode int

const (
	// Intensive quantities are rate-like (prices): aggregation takes the
	// hour-weighted mean, refinement copies the value.
	Intensive Mode = iota
	// Extensive quantities are volume-like (energy): aggregation sums,
	// refinement distributes proportionally to hours so totals are
	// conserved.
	Extensive
)

func (m Mode) String() string {
	if m == Extensive {
		return "extensive"
	}
	return "intensive"
}

// Slice is one named bucket with its share of the year in hours. Names are
// dot-separated levels: "winter.day" refines "winter".
type Slice struct {
	Name  string
	Hours float64
}

// Scheme is an ordered partition of the year into slices.
type Scheme struct {
	slices []Slice
	byName map[string]int
}

func NewScheme(slices ...Slice) (*Scheme, error) {
	s := &Scheme{
		slices: append([]Slice(nil), slices...),
		byName: make(map[string]int, len(slices)),
	}
	for i, sl := range s.slices {
		if sl.Name == "" {
			return nil, fmt.Errorf("timeslice %d has no name", i)
		}
		if sl.Hours <= 0 {
			return nil, fmt.Errorf("timeslice %q has non-positive hours", sl.Name)
		}
		if _, dup := s.byName[sl.Name]; dup {
			return nil, fmt.Errorf("duplicate timeslice %q", sl.Name)
		}
		s.byName[sl.Name] = i
	}
	return s, nil
}

func (s *Scheme) Len() int { return len(s.slices) }

func (s *Scheme) Names() []string {
	names := make([]string, len(s.slices))
	for i, sl := range s.slices {
		names[i] = sl.Name
	}
	return names
}

func (s *Scheme) Hours(name string) (float64, bool) {
	i, ok := s.byName[name]
	if !ok {
		return 0, false
	}
	return s.slices[i].Hours, true
}

func (s *Scheme) TotalHours() float64 {
	total := 0.0
	for _, sl := range s.slices {
		total += sl.Hours
	}
	return total
}

// Axis returns the scheme as a tensor axis.
func (s *Scheme) Axis() tensor.Axis {
	return tensor.NewAxis(AxisName, s.Names())
}

// HourWeights returns the slice hours as an array over the scheme's axis.
func (s *Scheme) HourWeights() *tensor.Array {
	w := tensor.New(s.Axis())
	for _, sl := range s.slices {
		w.MustSet(sl.Hours, sl.Name)
	}
	return w
}

// Same reports whether o partitions the year into the same named slices in
// the same order.
func (s *Scheme) Same(o *Scheme) bool {
	if s.Len() != o.Len() {
		return false
	}
	for i, sl := range s.slices {
		if o.slices[i].Name != sl.Name {
			return false
		}
	}
	return true
}

// parentIn returns the slice of coarse that name refines, if any. Coarse
// names are assumed prefix-free.
func parentIn(coarse *Scheme, name string) (string, bool) {
	if _, ok := coarse.byName[name]; ok {
		return name, true
	}
	for _, sl := range coarse.slices {
		if strings.HasPrefix(name, sl.Name+".") {
			return sl.Name, true
		}
	}
	return "", false
}

// refines reports whether every slice of fine maps to a slice of coarse, and
// returns the mapping.
func refines(fine, coarse *Scheme) (map[string]string, bool) {
	m := make(map[string]string, fine.Len())
	for _, sl := range fine.slices {
		p, ok := parentIn(coarse, sl.Name)
		if !ok {
			return nil, false
		}
		m[sl.Name] = p
	}
	return m, true
}

// Convert re-expresses arr, defined over the from scheme, on the to scheme.
// The two schemes must be related by refinement in one direction or the
// other. Converting onto the same scheme returns the values unchanged.
func Convert(arr *tensor.Array, from, to *Scheme, mode Mode) (*tensor.Array, error) {
	ax, ok := arr.Axis(AxisName)
	if !ok {
		return nil, fmt.Errorf("%s conversion: %w: array has no %s axis",
			mode, tensor.ErrDimensionMismatch, AxisName)
	}
	if ax.Len() != from.Len() {
		return nil, fmt.Errorf("%s conversion: %w: array has %d timeslices, scheme has %d",
			mode, tensor.ErrDimensionMismatch, ax.Len(), from.Len())
	}
	for _, name := range from.Names() {
		if !ax.Has(name) {
			return nil, fmt.Errorf("%s conversion: %w: array lacks timeslice %q",
				mode, tensor.ErrDimensionMismatch, name)
		}
	}

	if from.Same(to) {
		return arr.Clone(), nil
	}

	if mapping, ok := refines(to, from); ok {
		return disaggregate(arr, from, to, mapping, mode)
	}
	if mapping, ok := refines(from, to); ok {
		return aggregate(arr, from, to, mapping, mode)
	}
	return nil, fmt.Errorf("%s conversion: %w", mode, ErrIncompatible)
}

func disaggregate(arr *tensor.Array, from, to *Scheme, mapping map[string]string, mode Mode) (*tensor.Array, error) {
	out, err := arr.Gather(AxisName, to.Names(), func(name string) string { return mapping[name] })
	if err != nil {
		return nil, err
	}
	if mode == Intensive {
		return out, nil
	}
	// Share of the parent's hours carried by each child slice.
	groupHours := make(map[string]float64, from.Len())
	for _, sl := range to.slices {
		groupHours[mapping[sl.Name]] += sl.Hours
	}
	weights := tensor.New(to.Axis())
	for _, sl := range to.slices {
		weights.MustSet(sl.Hours/groupHours[mapping[sl.Name]], sl.Name)
	}
	return out.Mul(weights), nil
}

func aggregate(arr *tensor.Array, from, to *Scheme, mapping map[string]string, mode Mode) (*tensor.Array, error) {
	key := func(name string) string { return mapping[name] }
	if mode == Extensive {
		summed, err := arr.GroupSum(AxisName, key)
		if err != nil {
			return nil, err
		}
		return summed.Sel(AxisName, to.Names()...)
	}
	// Hour-weighted mean per group.
	hours := from.HourWeights()
	num, err := arr.Mul(hours).GroupSum(AxisName, key)
	if err != nil {
		return nil, err
	}
	den, err := hours.GroupSum(AxisName, key)
	if err != nil {
		return nil, err
	}
	mean := num.DivFill(den, 0)
	return mean.Sel(AxisName, to.Names()...)
}
