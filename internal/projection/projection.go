// Package projection extends sparse exogenous trajectories across a run's
// year grid. Inside the sampled range the samples speak for themselves;
// beyond it a fitted trend continues from the boundary sample, so extended
// trajectories never jump where data ends.
package projection

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"
)

// Trend forms understood by Fit.
const (
	Linear      = "linear"
	Exponential = "exponential"
	Best        = "best"
)

// Trend is a fitted trajectory trend: a linear level change per year or a
// constant relative growth rate.
type Trend struct {
	form  string
	alpha float64
	beta  float64
}

// Fit fits a trend of the given form to samples. The empty form means
// linear; Best tries both and keeps the better fit, falling back to linear
// when the data cannot carry an exponential.
func Fit(years []int, values []float64, form string) (*Trend, error) {
	if len(years) != len(values) {
		return nil, fmt.Errorf("projection: %d years against %d values", len(years), len(values))
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("projection: no samples")
	}
	xs := make([]float64, len(years))
	for i, y := range years {
		xs[i] = float64(y)
	}

	switch form {
	case "", Linear:
		return fitLinear(xs, values), nil
	case Exponential:
		return fitExponential(xs, values)
	case Best:
		lin := fitLinear(xs, values)
		exp, err := fitExponential(xs, values)
		if err != nil {
			return lin, nil
		}
		if sse(exp, xs, values) < sse(lin, xs, values) {
			return exp, nil
		}
		return lin, nil
	default:
		return nil, fmt.Errorf("projection: unknown trend form %q", form)
	}
}

func fitLinear(xs, ys []float64) *Trend {
	if len(xs) < 2 || degenerate(xs) {
		return &Trend{form: Linear, alpha: stat.Mean(ys, nil)}
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	return &Trend{form: Linear, alpha: alpha, beta: beta}
}

func fitExponential(xs, ys []float64) (*Trend, error) {
	logs := make([]float64, len(ys))
	for i, v := range ys {
		if v <= 0 {
			return nil, fmt.Errorf("projection: exponential trend needs positive values, got %g", v)
		}
		logs[i] = math.Log(v)
	}
	if len(xs) < 2 || degenerate(xs) {
		return &Trend{form: Exponential, alpha: stat.Mean(logs, nil)}, nil
	}
	alpha, beta := stat.LinearRegression(xs, logs, nil, false)
	return &Trend{form: Exponential, alpha: alpha, beta: beta}, nil
}

func (t *Trend) eval(x float64) float64 {
	v := t.alpha + t.beta*x
	if t.form == Exponential {
		return math.Exp(v)
	}
	return v
}

// At evaluates the trend at a year.
func (t *Trend) At(year int) float64 { return t.eval(float64(year)) }

// Form reports which form the trend ended up with.
func (t *Trend) Form() string { return t.form }

// Growth is the change per year: an absolute slope for linear trends, a
// multiplicative factor for exponential ones.
func (t *Trend) Growth() float64 {
	if t.form == Exponential {
		return math.Exp(t.beta)
	}
	return t.beta
}

func sse(t *Trend, xs, ys []float64) float64 {
	var s float64
	for i, x := range xs {
		d := t.eval(x) - ys[i]
		s += d * d
	}
	return s
}

func degenerate(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}

// Extend resamples a trajectory onto the requested years. Years inside the
// sampled range interpolate the samples directly; years outside continue the
// fitted trend anchored at the nearest boundary sample.
func Extend(years []int, values []float64, to []int, form string) ([]float64, error) {
	if len(years) != len(values) {
		return nil, fmt.Errorf("projection: %d years against %d values", len(years), len(values))
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("projection: no samples")
	}

	idx := make([]int, len(years))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return years[idx[i]] < years[idx[j]] })
	xs := make([]float64, len(years))
	ys := make([]float64, len(years))
	for i, j := range idx {
		xs[i] = float64(years[j])
		ys[i] = values[j]
	}
	for i := 1; i < len(xs); i++ {
		if xs[i] == xs[i-1] {
			return nil, fmt.Errorf("projection: duplicate year %d", int(xs[i]))
		}
	}

	t, err := Fit(years, values, form)
	if err != nil {
		return nil, err
	}
	var pl interp.PiecewiseLinear
	if len(xs) > 1 {
		if err := pl.Fit(xs, ys); err != nil {
			return nil, fmt.Errorf("projection: %w", err)
		}
	}

	first, last := xs[0], xs[len(xs)-1]
	out := make([]float64, len(to))
	for i, y := range to {
		x := float64(y)
		switch {
		case x < first:
			out[i] = t.anchor(ys[0], first, x)
		case x > last:
			out[i] = t.anchor(ys[len(ys)-1], last, x)
		case len(xs) == 1:
			out[i] = ys[0]
		default:
			out[i] = pl.Predict(x)
		}
	}
	return out, nil
}

// anchor continues the trend from a boundary sample instead of the fitted
// intercept, keeping the extension continuous with the data.
func (t *Trend) anchor(v, from, to float64) float64 {
	if t.form == Exponential {
		return v * math.Exp(t.beta*(to-from))
	}
	return v + t.beta*(to-from)
}
