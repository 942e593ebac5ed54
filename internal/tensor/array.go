package tensor

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// ErrDimensionMismatch reports an array used with an axis layout it does not
// carry. Callers treat it as fatal; broadcasting over a missing axis would
// silently corrupt totals.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Array is a dense multi-dimensional array with named, label-indexed axes.
// All operations return new arrays; an Array is never mutated after it has
// been shared, except through Set/Values during construction by its owner.
type Array struct {
	axes    []Axis
	strides []int
	data    []float64
}

// New returns a zero-filled array over the given axes.
func New(axes ...Axis) *Array {
	a := &Array{axes: append([]Axis(nil), axes...)}
	size := 1
	a.strides = make([]int, len(axes))
	for i := len(axes) - 1; i >= 0; i-- {
		a.strides[i] = size
		size *= axes[i].Len()
	}
	a.data = make([]float64, size)
	return a
}

// Full returns an array over the given axes with every element set to v.
func Full(v float64, axes ...Axis) *Array {
	a := New(axes...)
	for i := range a.data {
		a.data[i] = v
	}
	return a
}

// Scalar wraps a single value as a zero-dimensional array.
func Scalar(v float64) *Array {
	a := New()
	a.data[0] = v
	return a
}

func (a *Array) Clone() *Array {
	c := &Array{
		axes:    append([]Axis(nil), a.axes...),
		strides: append([]int(nil), a.strides...),
		data:    append([]float64(nil), a.data...),
	}
	return c
}

// Rank returns the number of axes.
func (a *Array) Rank() int { return len(a.axes) }

// Size returns the number of elements.
func (a *Array) Size() int { return len(a.data) }

// Axes returns the axes in order.
func (a *Array) Axes() []Axis { return append([]Axis(nil), a.axes...) }

// AxisNames returns the axis names in order.
func (a *Array) AxisNames() []string {
	names := make([]string, len(a.axes))
	for i, ax := range a.axes {
		names[i] = ax.Name
	}
	return names
}

// Axis returns the named axis.
func (a *Array) Axis(name string) (Axis, bool) {
	for _, ax := range a.axes {
		if ax.Name == name {
			return ax, true
		}
	}
	return Axis{}, false
}

func (a *Array) HasAxis(name string) bool {
	_, ok := a.Axis(name)
	return ok
}

func (a *Array) axisPos(name string) int {
	for i, ax := range a.axes {
		if ax.Name == name {
			return i
		}
	}
	return -1
}

// Values exposes the backing slice in row-major order. It is live: writes are
// visible to the array. Reserved for construction and read-only kernels.
func (a *Array) Values() []float64 { return a.data }

// At returns the element at the given full coordinate, one label per axis in
// axis order.
func (a *Array) At(labels ...string) (float64, error) {
	off, err := a.offset(labels)
	if err != nil {
		return 0, err
	}
	return a.data[off], nil
}

// MustAt is At for coordinates known to exist.
func (a *Array) MustAt(labels ...string) float64 {
	v, err := a.At(labels...)
	if err != nil {
		panic(err)
	}
	return v
}

// Set writes the element at the given full coordinate.
func (a *Array) Set(v float64, labels ...string) error {
	off, err := a.offset(labels)
	if err != nil {
		return err
	}
	a.data[off] = v
	return nil
}

// MustSet is Set for coordinates known to exist.
func (a *Array) MustSet(v float64, labels ...string) {
	if err := a.Set(v, labels...); err != nil {
		panic(err)
	}
}

func (a *Array) offset(labels []string) (int, error) {
	if len(labels) != len(a.axes) {
		return 0, fmt.Errorf("%w: got %d labels for %d axes", ErrDimensionMismatch, len(labels), len(a.axes))
	}
	off := 0
	for i, l := range labels {
		j, ok := a.axes[i].Index(l)
		if !ok {
			return 0, fmt.Errorf("axis %s has no label %q", a.axes[i].Name, l)
		}
		off += j * a.strides[i]
	}
	return off, nil
}

// Sel restricts the named axis to the given labels, in the given order.
// Labels missing from the axis are an error.
func (a *Array) Sel(axis string, labels ...string) (*Array, error) {
	pos := a.axisPos(axis)
	if pos < 0 {
		return nil, fmt.Errorf("%w: no axis %q", ErrDimensionMismatch, axis)
	}
	src := a.axes[pos]
	picks := make([]int, len(labels))
	for i, l := range labels {
		j, ok := src.Index(l)
		if !ok {
			return nil, fmt.Errorf("axis %s has no label %q", axis, l)
		}
		picks[i] = j
	}
	return a.take(pos, NewAxis(axis, labels), picks), nil
}

// SelWhere restricts the named axis to labels satisfying keep, preserving
// axis order.
func (a *Array) SelWhere(axis string, keep func(label string) bool) (*Array, error) {
	pos := a.axisPos(axis)
	if pos < 0 {
		return nil, fmt.Errorf("%w: no axis %q", ErrDimensionMismatch, axis)
	}
	src := a.axes[pos]
	labels := make([]string, 0, src.Len())
	picks := make([]int, 0, src.Len())
	for i := 0; i < src.Len(); i++ {
		if keep(src.Label(i)) {
			labels = append(labels, src.Label(i))
			picks = append(picks, i)
		}
	}
	return a.take(pos, NewAxis(axis, labels), picks), nil
}

// take rebuilds the array keeping the rows of axis pos listed in picks.
func (a *Array) take(pos int, newAxis Axis, picks []int) *Array {
	axes := append([]Axis(nil), a.axes...)
	axes[pos] = newAxis
	out := New(axes...)
	idx := make([]int, len(axes))
	for flat := range out.data {
		out.unravel(flat, idx)
		srcOff := 0
		for d := range a.axes {
			j := idx[d]
			if d == pos {
				j = picks[idx[d]]
			}
			srcOff += j * a.strides[d]
		}
		out.data[flat] = a.data[srcOff]
	}
	return out
}

func (a *Array) unravel(flat int, idx []int) {
	for d := range a.axes {
		if a.axes[d].Len() == 0 {
			idx[d] = 0
			continue
		}
		idx[d] = flat / a.strides[d] % a.axes[d].Len()
	}
}

// Transpose reorders the axes into the given name order. Every axis must be
// named exactly once.
func (a *Array) Transpose(names ...string) (*Array, error) {
	if len(names) != len(a.axes) {
		return nil, fmt.Errorf("%w: transpose names %d axes, array has %d", ErrDimensionMismatch, len(names), len(a.axes))
	}
	axes := make([]Axis, len(names))
	perm := make([]int, len(names))
	for i, n := range names {
		pos := a.axisPos(n)
		if pos < 0 {
			return nil, fmt.Errorf("%w: no axis %q", ErrDimensionMismatch, n)
		}
		axes[i] = a.axes[pos]
		perm[i] = pos
	}
	out := New(axes...)
	idx := make([]int, len(axes))
	for flat := range out.data {
		out.unravel(flat, idx)
		srcOff := 0
		for i, j := range idx {
			srcOff += j * a.strides[perm[i]]
		}
		out.data[flat] = a.data[srcOff]
	}
	return out, nil
}

// Reindex rebuilds the named axis with the given labels, filling positions
// absent from the source axis with fill.
func (a *Array) Reindex(axis string, labels []string, fill float64) (*Array, error) {
	pos := a.axisPos(axis)
	if pos < 0 {
		return nil, fmt.Errorf("%w: no axis %q", ErrDimensionMismatch, axis)
	}
	src := a.axes[pos]
	axes := append([]Axis(nil), a.axes...)
	axes[pos] = NewAxis(axis, labels)
	out := Full(fill, axes...)
	idx := make([]int, len(axes))
	for flat := range out.data {
		out.unravel(flat, idx)
		j, ok := src.Index(axes[pos].Label(idx[pos]))
		if !ok {
			continue
		}
		srcOff := 0
		for d := range a.axes {
			k := idx[d]
			if d == pos {
				k = j
			}
			srcOff += k * a.strides[d]
		}
		out.data[flat] = a.data[srcOff]
	}
	return out, nil
}

// Squeeze drops the named axes, which must all have exactly one label. With
// no names, every single-label axis is dropped. The element order is
// unchanged.
func (a *Array) Squeeze(names ...string) (*Array, error) {
	drop := make(map[string]bool, len(names))
	if len(names) == 0 {
		for _, ax := range a.axes {
			if ax.Len() == 1 {
				drop[ax.Name] = true
			}
		}
	} else {
		for _, n := range names {
			ax, ok := a.Axis(n)
			if !ok {
				return nil, fmt.Errorf("%w: no axis %q", ErrDimensionMismatch, n)
			}
			if ax.Len() != 1 {
				return nil, fmt.Errorf("%w: axis %q has %d labels, cannot squeeze", ErrDimensionMismatch, n, ax.Len())
			}
			drop[n] = true
		}
	}
	kept := make([]Axis, 0, len(a.axes))
	for _, ax := range a.axes {
		if !drop[ax.Name] {
			kept = append(kept, ax)
		}
	}
	out := New(kept...)
	copy(out.data, a.data)
	return out, nil
}

// Pick selects a single label on the named axis and drops the axis.
func (a *Array) Pick(axis, label string) (*Array, error) {
	sub, err := a.Sel(axis, label)
	if err != nil {
		return nil, err
	}
	return sub.Squeeze(axis)
}

// Gather rebuilds the named axis with the given labels, filling each new
// position from the source label pick(label). Every picked label must exist
// on the source axis.
func (a *Array) Gather(axis string, labels []string, pick func(label string) string) (*Array, error) {
	pos := a.axisPos(axis)
	if pos < 0 {
		return nil, fmt.Errorf("%w: no axis %q", ErrDimensionMismatch, axis)
	}
	src := a.axes[pos]
	picks := make([]int, len(labels))
	for i, l := range labels {
		from := pick(l)
		j, ok := src.Index(from)
		if !ok {
			return nil, fmt.Errorf("axis %s has no label %q", axis, from)
		}
		picks[i] = j
	}
	return a.take(pos, NewAxis(axis, labels), picks), nil
}

// Rename returns the array with one axis renamed.
func (a *Array) Rename(old, new string) *Array {
	c := a.Clone()
	for i := range c.axes {
		if c.axes[i].Name == old {
			c.axes[i] = NewAxis(new, c.axes[i].labels)
		}
	}
	return c
}

// Expand broadcasts the array along a new leading axis.
func (a *Array) Expand(axis Axis) *Array {
	out := New(append([]Axis{axis}, a.axes...)...)
	for i := 0; i < axis.Len(); i++ {
		copy(out.data[i*len(a.data):(i+1)*len(a.data)], a.data)
	}
	return out
}

// Apply returns a new array with f applied element-wise.
func (a *Array) Apply(f func(float64) float64) *Array {
	c := a.Clone()
	for i, v := range c.data {
		c.data[i] = f(v)
	}
	return c
}

// Scale multiplies every element by s.
func (a *Array) Scale(s float64) *Array {
	return a.Apply(func(v float64) float64 { return v * s })
}

// ClipMin raises every element to at least min.
func (a *Array) ClipMin(min float64) *Array {
	return a.Apply(func(v float64) float64 { return math.Max(v, min) })
}

// FillNaN replaces NaN elements with fill.
func (a *Array) FillNaN(fill float64) *Array {
	return a.Apply(func(v float64) float64 {
		if math.IsNaN(v) {
			return fill
		}
		return v
	})
}

// Total sums every element.
func (a *Array) Total() float64 { return floats.Sum(a.data) }

// MaxAbs returns the largest absolute element, 0 for empty arrays.
func (a *Array) MaxAbs() float64 {
	m := 0.0
	for _, v := range a.data {
		if av := math.Abs(v); av > m {
			m = av
		}
	}
	return m
}

// Min returns the smallest element, +Inf for empty arrays.
func (a *Array) Min() float64 {
	m := math.Inf(1)
	for _, v := range a.data {
		if v < m {
			m = v
		}
	}
	return m
}

func (a *Array) reduce(names []string, init float64, merge func(acc, v float64) float64, finish func(acc float64, n int) float64) *Array {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := make([]Axis, 0, len(a.axes))
	for _, ax := range a.axes {
		if !drop[ax.Name] {
			kept = append(kept, ax)
		}
	}
	out := Full(init, kept...)
	counts := make([]int, len(out.data))
	idx := make([]int, len(a.axes))
	for flat, v := range a.data {
		a.unravel(flat, idx)
		off := 0
		k := 0
		for d, ax := range a.axes {
			if drop[ax.Name] {
				continue
			}
			off += idx[d] * out.strides[k]
			k++
		}
		out.data[off] = merge(out.data[off], v)
		counts[off]++
	}
	if finish != nil {
		for i := range out.data {
			out.data[i] = finish(out.data[i], counts[i])
		}
	}
	return out
}

// SumOver sums out the named axes.
func (a *Array) SumOver(names ...string) *Array {
	return a.reduce(names, 0, func(acc, v float64) float64 { return acc + v }, nil)
}

// MaxOver takes the maximum over the named axes. Reducing an empty axis
// yields -Inf, as with an empty max.
func (a *Array) MaxOver(names ...string) *Array {
	return a.reduce(names, math.Inf(-1), math.Max, nil)
}

// MeanOver averages over the named axes.
func (a *Array) MeanOver(names ...string) *Array {
	return a.reduce(names, 0,
		func(acc, v float64) float64 { return acc + v },
		func(acc float64, n int) float64 {
			if n == 0 {
				return 0
			}
			return acc / float64(n)
		})
}

// GroupSum relabels the named axis through key and sums entries sharing a
// key. Group labels come out sorted.
func (a *Array) GroupSum(axis string, key func(label string) string) (*Array, error) {
	pos := a.axisPos(axis)
	if pos < 0 {
		return nil, fmt.Errorf("%w: no axis %q", ErrDimensionMismatch, axis)
	}
	src := a.axes[pos]
	keys := make([]string, src.Len())
	seen := make(map[string]bool, src.Len())
	groups := make([]string, 0, src.Len())
	for i := 0; i < src.Len(); i++ {
		keys[i] = key(src.Label(i))
		if !seen[keys[i]] {
			seen[keys[i]] = true
			groups = append(groups, keys[i])
		}
	}
	sort.Strings(groups)
	grouped := NewAxis(axis, groups)

	axes := append([]Axis(nil), a.axes...)
	axes[pos] = grouped
	out := New(axes...)
	idx := make([]int, len(a.axes))
	for flat, v := range a.data {
		a.unravel(flat, idx)
		off := 0
		for d := range a.axes {
			j := idx[d]
			if d == pos {
				j, _ = grouped.Index(keys[idx[d]])
			}
			off += j * out.strides[d]
		}
		out.data[off] += v
	}
	return out, nil
}
