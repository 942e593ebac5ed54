package agent

import (
	"fmt"

	"github.com/SGIModel/MUSE-OS/internal/asset"
	"github.com/SGIModel/MUSE-OS/internal/technology"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
)

// Pool is the set of assets owned by one agent. Capacity lives on an
// (asset, year) array over a fixed year grid; every pool taking part in one
// sector shares that grid.
type Pool struct {
	capacity *tensor.Array
}

// NewPool returns an empty pool over the given year grid.
func NewPool(years []int) *Pool {
	return &Pool{capacity: tensor.New(asset.Axis(nil), tensor.YearAxis(years))}
}

// PoolOf wraps an existing (asset, year) capacity array.
func PoolOf(capacity *tensor.Array) (*Pool, error) {
	for _, name := range []string{asset.AxisName, technology.AxisYear} {
		if !capacity.HasAxis(name) {
			return nil, fmt.Errorf("%w: pool capacity lacks %s axis", tensor.ErrDimensionMismatch, name)
		}
	}
	return &Pool{capacity: capacity}, nil
}

// Capacity returns the pool's (asset, year) array. Callers treat it as
// read-only; the pool changes only through Add and Absorb.
func (p *Pool) Capacity() *tensor.Array { return p.capacity }

// Clone returns an independent copy of the pool.
func (p *Pool) Clone() *Pool {
	return &Pool{capacity: p.capacity.Clone()}
}

// Empty reports whether the pool holds no assets.
func (p *Pool) Empty() bool {
	ax, _ := p.capacity.Axis(asset.AxisName)
	return ax.Len() == 0
}

// Keys lists the pool's assets.
func (p *Pool) Keys() ([]asset.Key, error) {
	ax, _ := p.capacity.Axis(asset.AxisName)
	return asset.Keys(ax)
}

// Years returns the pool's year grid.
func (p *Pool) Years() ([]int, error) {
	ax, _ := p.capacity.Axis(technology.AxisYear)
	return ax.Years()
}

// Add books quantity for the asset from its installation year until the end
// of its technical life, a cliff retirement profile sampled on the pool's
// year grid. Adding to an asset the pool already owns sums the trajectories.
func (p *Pool) Add(k asset.Key, quantity float64, life int) error {
	if quantity < 0 {
		return fmt.Errorf("negative capacity %g for asset %s", quantity, k.Label())
	}
	yearAx, ok := p.capacity.Axis(technology.AxisYear)
	if !ok {
		return fmt.Errorf("%w: pool has no year axis", tensor.ErrDimensionMismatch)
	}
	years, err := yearAx.Years()
	if err != nil {
		return err
	}
	one := tensor.New(asset.Axis([]asset.Key{k}), yearAx)
	for i, y := range years {
		if y >= k.InstallYear && y < k.InstallYear+life {
			one.Values()[i] = quantity
		}
	}
	merged, err := asset.Reduce(p.capacity, one)
	if err != nil {
		return err
	}
	p.capacity = merged
	return nil
}

// Absorb moves every asset of the donor pool into p and leaves the donor
// empty. Both pools must share a year grid.
func (p *Pool) Absorb(o *Pool) error {
	if o.Empty() {
		return nil
	}
	merged, err := asset.Reduce(p.capacity, o.capacity)
	if err != nil {
		return err
	}
	yearAx, _ := o.capacity.Axis(technology.AxisYear)
	p.capacity = merged
	o.capacity = tensor.New(asset.Axis(nil), yearAx)
	return nil
}
