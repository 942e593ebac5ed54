package tensor

import (
	"fmt"
	"math"
)

// Binary arithmetic aligns operands the way labeled arrays align: shared axes
// are restricted to the labels both operands carry (in the left operand's
// order), axes present on one side only are broadcast across the other. The
// result's axes are the left operand's followed by the right operand's extra
// axes.

type alignment struct {
	out     *Array
	aOff    []int // per result element, offset into a
	bOff    []int // per result element, offset into b
}

func align(a, b *Array) alignment {
	outAxes := make([]Axis, 0, len(a.axes)+len(b.axes))
	for _, ax := range a.axes {
		if bx, ok := b.Axis(ax.Name); ok && !ax.sameAs(bx) {
			outAxes = append(outAxes, ax.intersect(bx))
		} else {
			outAxes = append(outAxes, ax)
		}
	}
	for _, bx := range b.axes {
		if !a.HasAxis(bx.Name) {
			outAxes = append(outAxes, bx)
		}
	}
	out := New(outAxes...)

	// Per result axis: the operand stride (0 when the operand lacks the
	// axis) and the label mapping from result position to operand position.
	type side struct {
		stride int
		remap  []int
	}
	mapSide := func(op *Array) []side {
		sides := make([]side, len(outAxes))
		for d, ax := range outAxes {
			pos := op.axisPos(ax.Name)
			if pos < 0 {
				continue
			}
			s := side{stride: op.strides[pos], remap: make([]int, ax.Len())}
			for i := 0; i < ax.Len(); i++ {
				j, _ := op.axes[pos].Index(ax.Label(i))
				s.remap[i] = j
			}
			sides[d] = s
		}
		return sides
	}
	aSides, bSides := mapSide(a), mapSide(b)

	al := alignment{out: out, aOff: make([]int, len(out.data)), bOff: make([]int, len(out.data))}
	idx := make([]int, len(outAxes))
	for flat := range out.data {
		out.unravel(flat, idx)
		ao, bo := 0, 0
		for d := range outAxes {
			if s := aSides[d]; s.remap != nil {
				ao += s.stride * s.remap[idx[d]]
			}
			if s := bSides[d]; s.remap != nil {
				bo += s.stride * s.remap[idx[d]]
			}
		}
		al.aOff[flat] = ao
		al.bOff[flat] = bo
	}
	return al
}

func (a *Array) zipWith(b *Array, f func(x, y float64) float64) *Array {
	// Fast path: identical layout.
	if len(a.axes) == len(b.axes) {
		same := true
		for i := range a.axes {
			if !a.axes[i].sameAs(b.axes[i]) {
				same = false
				break
			}
		}
		if same {
			c := a.Clone()
			for i := range c.data {
				c.data[i] = f(c.data[i], b.data[i])
			}
			return c
		}
	}
	al := align(a, b)
	for flat := range al.out.data {
		al.out.data[flat] = f(a.data[al.aOff[flat]], b.data[al.bOff[flat]])
	}
	return al.out
}

// Combine applies f element-wise over the aligned operands.
func (a *Array) Combine(b *Array, f func(x, y float64) float64) *Array {
	return a.zipWith(b, f)
}

func (a *Array) Add(b *Array) *Array {
	return a.zipWith(b, func(x, y float64) float64 { return x + y })
}

func (a *Array) Sub(b *Array) *Array {
	return a.zipWith(b, func(x, y float64) float64 { return x - y })
}

func (a *Array) Mul(b *Array) *Array {
	return a.zipWith(b, func(x, y float64) float64 { return x * y })
}

// Div divides element-wise with IEEE semantics.
func (a *Array) Div(b *Array) *Array {
	return a.zipWith(b, func(x, y float64) float64 { return x / y })
}

// DivFill divides element-wise, yielding fill wherever the divisor is zero.
func (a *Array) DivFill(b *Array, fill float64) *Array {
	return a.zipWith(b, func(x, y float64) float64 {
		if y == 0 {
			return fill
		}
		return x / y
	})
}

// Maximum takes the element-wise maximum.
func (a *Array) Maximum(b *Array) *Array {
	return a.zipWith(b, math.Max)
}

// Minimum takes the element-wise minimum.
func (a *Array) Minimum(b *Array) *Array {
	return a.zipWith(b, math.Min)
}

// Where keeps a's elements wherever cond is nonzero and takes other
// elsewhere. cond aligns like any arithmetic operand.
func (a *Array) Where(cond *Array, other float64) *Array {
	return a.zipWith(cond, func(x, c float64) float64 {
		if c != 0 {
			return x
		}
		return other
	})
}

// MaxAbsDiff returns the largest |a-b| over the aligned elements.
func (a *Array) MaxAbsDiff(b *Array) float64 {
	return a.Sub(b).MaxAbs()
}

// Stack joins arrays of identical layout along a new leading axis. The axis
// must have one label per part.
func Stack(axis Axis, parts []*Array) (*Array, error) {
	if axis.Len() != len(parts) {
		return nil, fmt.Errorf("%w: axis %s has %d labels for %d parts", ErrDimensionMismatch, axis.Name, axis.Len(), len(parts))
	}
	if len(parts) == 0 {
		return New(axis), nil
	}
	first := parts[0]
	for _, p := range parts[1:] {
		if len(p.axes) != len(first.axes) {
			return nil, fmt.Errorf("%w: stacked parts differ in rank", ErrDimensionMismatch)
		}
		for i := range p.axes {
			if !p.axes[i].sameAs(first.axes[i]) {
				return nil, fmt.Errorf("%w: stacked parts differ on axis %q", ErrDimensionMismatch, first.axes[i].Name)
			}
		}
	}
	out := New(append([]Axis{axis}, first.axes...)...)
	for i, p := range parts {
		copy(out.data[i*len(p.data):(i+1)*len(p.data)], p.data)
	}
	return out, nil
}
