package tensor

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// InterpYears resamples the named year axis to the requested years by linear
// interpolation, holding the boundary values outside the covered range. The
// source axis must be sorted ascending.
func (a *Array) InterpYears(axis string, years []int) (*Array, error) {
	pos := a.axisPos(axis)
	if pos < 0 {
		return nil, fmt.Errorf("%w: no axis %q", ErrDimensionMismatch, axis)
	}
	src := a.axes[pos]
	srcYears, err := src.Years()
	if err != nil {
		return nil, err
	}
	if !sort.IntsAreSorted(srcYears) {
		return nil, fmt.Errorf("axis %s: years not sorted", axis)
	}

	axes := append([]Axis(nil), a.axes...)
	axes[pos] = YearAxis(years)
	out := New(axes...)

	if len(srcYears) == 1 {
		// Single sample: constant in year.
		idx := make([]int, len(axes))
		for flat := range out.data {
			out.unravel(flat, idx)
			srcOff := 0
			for d := range a.axes {
				j := idx[d]
				if d == pos {
					j = 0
				}
				srcOff += j * a.strides[d]
			}
			out.data[flat] = a.data[srcOff]
		}
		return out, nil
	}

	xs := make([]float64, len(srcYears))
	for i, y := range srcYears {
		xs[i] = float64(y)
	}
	ys := make([]float64, len(srcYears))

	// Interpolate each 1-D lane along the year axis independently.
	lane := make([]int, len(a.axes))
	var walk func(d int) error
	walk = func(d int) error {
		if d == len(a.axes) {
			base := 0
			for i, j := range lane {
				if i != pos {
					base += j * a.strides[i]
				}
			}
			for i := range srcYears {
				ys[i] = a.data[base+i*a.strides[pos]]
			}
			var pl interp.PiecewiseLinear
			if err := pl.Fit(xs, ys); err != nil {
				return fmt.Errorf("axis %s: %w", axis, err)
			}
			outBase := 0
			for i, j := range lane {
				if i != pos {
					outBase += j * out.strides[i]
				}
			}
			for i, y := range years {
				x := float64(y)
				var v float64
				switch {
				case x <= xs[0]:
					v = ys[0]
				case x >= xs[len(xs)-1]:
					v = ys[len(ys)-1]
				default:
					v = pl.Predict(x)
				}
				out.data[outBase+i*out.strides[pos]] = v
			}
			return nil
		}
		if d == pos {
			lane[d] = 0
			return walk(d + 1)
		}
		for j := 0; j < a.axes[d].Len(); j++ {
			lane[d] = j
			if err := walk(d + 1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0); err != nil {
		return nil, err
	}
	return out, nil
}
