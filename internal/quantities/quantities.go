// Package quantities computes the physical and economic quantities the
// investment and clearing logic is built from: feasible production, implied
// fuel draw, decommissioning losses, and levelized costs. Every function is
// pure; divisions are guarded so degenerate inputs yield zeros, never NaN.
package quantities

import (
	"fmt"
	"math"

	"github.com/SGIModel/MUSE-OS/internal/asset"
	"github.com/SGIModel/MUSE-OS/internal/commodities"
	"github.com/SGIModel/MUSE-OS/internal/market"
	"github.com/SGIModel/MUSE-OS/internal/registry"
	"github.com/SGIModel/MUSE-OS/internal/technology"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
	"github.com/SGIModel/MUSE-OS/internal/timeslice"
)

// enduseMask returns 1 over enduse commodities and 0 elsewhere, on the full
// commodity axis of the table.
func enduseMask(table commodities.Table) *tensor.Array {
	mask := tensor.New(tensor.NewAxis(technology.AxisCommodity, table.Names()))
	for _, name := range table.Enduses() {
		mask.MustSet(1, name)
	}
	return mask
}

// shareOfYear distributes annual quantities extensively over timeslices.
func shareOfYear(slices *timeslice.Scheme) *tensor.Array {
	return slices.HourWeights().Scale(1 / slices.TotalHours())
}

// MaximumProduction bounds what installed capacity can produce: utilization
// factor times capacity times fixed output coefficients, distributed over
// timeslices by hours. Non-enduse commodities are zeroed, keeping the axis.
// capacity has axes (asset, year).
func MaximumProduction(tech *technology.Dataset, capacity *tensor.Array, slices *timeslice.Scheme) (*tensor.Array, error) {
	ax, ok := capacity.Axis(asset.AxisName)
	if !ok {
		return nil, fmt.Errorf("maximum production: %w: capacity lacks asset axis", tensor.ErrDimensionMismatch)
	}
	keys, err := asset.Keys(ax)
	if err != nil {
		return nil, fmt.Errorf("maximum production: %w", err)
	}
	yearAx, ok := capacity.Axis(technology.AxisYear)
	if !ok {
		return nil, fmt.Errorf("maximum production: %w: capacity lacks year axis", tensor.ErrDimensionMismatch)
	}
	years, err := yearAx.Years()
	if err != nil {
		return nil, err
	}
	ds, err := tech.InterpYears(years)
	if err != nil {
		return nil, err
	}

	ufac, err := asset.Broadcast(ds.UtilizationFactor(), keys)
	if err != nil {
		return nil, err
	}
	outputs, err := asset.Broadcast(ds.FixedOutputs(), keys)
	if err != nil {
		return nil, err
	}
	annual := capacity.Mul(ufac).Mul(outputs).Mul(enduseMask(tech.Commodities()))
	return annual.Mul(shareOfYear(slices)).
		Transpose(asset.AxisName, technology.AxisCommodity, timeslice.AxisName, technology.AxisYear)
}

// DecommissioningDemand is the enduse output lost to capacity retiring
// between year0 and year1, per asset, distributed over timeslices. Capacity
// growth never yields negative demand.
func DecommissioningDemand(tech *technology.Dataset, capacity *tensor.Array, slices *timeslice.Scheme, year0, year1 int) (*tensor.Array, error) {
	ax, ok := capacity.Axis(asset.AxisName)
	if !ok {
		return nil, fmt.Errorf("decommissioning demand: %w: capacity lacks asset axis", tensor.ErrDimensionMismatch)
	}
	keys, err := asset.Keys(ax)
	if err != nil {
		return nil, err
	}
	span, err := capacity.InterpYears(technology.AxisYear, []int{year0, year1})
	if err != nil {
		return nil, err
	}
	at := func(year int) *tensor.Array {
		v, err := span.Pick(technology.AxisYear, tensor.YearAxis([]int{year}).Label(0))
		if err != nil {
			panic(err)
		}
		return v
	}
	lost := at(year0).Sub(at(year1)).ClipMin(0)

	ds, err := tech.InterpYears([]int{year1})
	if err != nil {
		return nil, err
	}
	ufac, err := asset.Broadcast(ds.UtilizationFactor(), keys)
	if err != nil {
		return nil, err
	}
	outputs, err := asset.Broadcast(ds.FixedOutputs(), keys)
	if err != nil {
		return nil, err
	}
	yl := tensor.YearAxis([]int{year1}).Label(0)
	if ufac, err = ufac.Pick(technology.AxisYear, yl); err != nil {
		return nil, err
	}
	if outputs, err = outputs.Pick(technology.AxisYear, yl); err != nil {
		return nil, err
	}
	annual := lost.Mul(ufac).Mul(outputs).Mul(enduseMask(tech.Commodities()))
	return annual.Mul(shareOfYear(slices)).
		Transpose(asset.AxisName, technology.AxisCommodity, timeslice.AxisName)
}

// Consumption is the commodity draw implied by a production level: the fixed
// input coefficients scale with enduse output, and flexible inputs are
// allocated to the cheapest eligible fuel at each region and timeslice.
// Commodities with no declared coefficient draw nothing. production has axes
// (asset, commodity, timeslice, year); prices may be nil when no technology
// declares flexible inputs.
func Consumption(tech *technology.Dataset, production, prices *tensor.Array) (*tensor.Array, error) {
	assetAx, ok := production.Axis(asset.AxisName)
	if !ok {
		return nil, fmt.Errorf("consumption: %w: production lacks asset axis", tensor.ErrDimensionMismatch)
	}
	keys, err := asset.Keys(assetAx)
	if err != nil {
		return nil, err
	}
	yearAx, ok := production.Axis(technology.AxisYear)
	if !ok {
		return nil, fmt.Errorf("consumption: %w: production lacks year axis", tensor.ErrDimensionMismatch)
	}
	years, err := yearAx.Years()
	if err != nil {
		return nil, err
	}
	tsAx, ok := production.Axis(timeslice.AxisName)
	if !ok {
		return nil, fmt.Errorf("consumption: %w: production lacks timeslice axis", tensor.ErrDimensionMismatch)
	}
	production, err = production.Transpose(asset.AxisName, technology.AxisCommodity, timeslice.AxisName, technology.AxisYear)
	if err != nil {
		return nil, fmt.Errorf("consumption: %w", err)
	}

	ds, err := tech.InterpYears(years)
	if err != nil {
		return nil, err
	}
	fixedIn, err := asset.Broadcast(ds.FixedInputs(), keys)
	if err != nil {
		return nil, err
	}
	flexIn, err := asset.Broadcast(ds.FlexibleInputs(), keys)
	if err != nil {
		return nil, err
	}

	// Activity per asset: total enduse output.
	activity := production.Mul(enduseMask(tech.Commodities())).SumOver(technology.AxisCommodity)

	out := production.Scale(0)
	comms := tech.Commodities().Names()
	for _, k := range keys {
		for _, ts := range tsAx.Labels() {
			for _, yl := range yearAx.Labels() {
				act := activity.MustAt(k.Label(), ts, yl)
				if act == 0 {
					continue
				}
				// Fixed inputs scale directly with activity.
				for _, c := range comms {
					coef := fixedIn.MustAt(k.Label(), yl, c)
					if coef != 0 {
						out.MustSet(out.MustAt(k.Label(), c, ts, yl)+act*coef, k.Label(), c, ts, yl)
					}
				}
				// Flexible inputs go wholly to the cheapest declared fuel.
				best, bestPrice := "", math.Inf(1)
				var bestCoef float64
				for _, c := range comms {
					coef := flexIn.MustAt(k.Label(), yl, c)
					if coef == 0 {
						continue
					}
					p := 0.0
					if prices != nil {
						p = prices.MustAt(k.Region, c, ts, yl)
					}
					if p < bestPrice {
						best, bestPrice, bestCoef = c, p, coef
					}
				}
				if best != "" {
					out.MustSet(out.MustAt(k.Label(), best, ts, yl)+act*bestCoef, k.Label(), best, ts, yl)
				}
			}
		}
	}
	return out, nil
}

// SupplyCost weights production by its levelized cost and aggregates assets
// into their regions, summing over timeslices. production has axes (asset,
// commodity, timeslice, year); lcoe has axes (technology, region, year,
// timeslice).
func SupplyCost(production, lcoe *tensor.Array) (*tensor.Array, error) {
	ax, ok := production.Axis(asset.AxisName)
	if !ok {
		return nil, fmt.Errorf("supply cost: %w: production lacks asset axis", tensor.ErrDimensionMismatch)
	}
	keys, err := asset.Keys(ax)
	if err != nil {
		return nil, err
	}
	lcoeAssets, err := asset.Broadcast(lcoe, keys)
	if err != nil {
		return nil, err
	}
	cost := production.Mul(lcoeAssets)
	byRegion, err := cost.GroupSum(asset.AxisName, asset.RegionOf)
	if err != nil {
		return nil, err
	}
	return byRegion.Rename(asset.AxisName, technology.AxisRegion).SumOver(timeslice.AxisName), nil
}

// capitalRecoveryFactor converts an overnight cost into an equal annual
// payment over the technical life.
func capitalRecoveryFactor(rate, life float64) float64 {
	if life <= 0 {
		return 0
	}
	if rate == 0 {
		return 1 / life
	}
	return rate / (1 - math.Pow(1+rate, -life))
}

// AnnualLevelizedCostOfEnergy is the cost per unit of energy produced in a
// single year: annualized capital plus operation plus fuel plus emission
// costs. The result has axes (technology, region, year, timeslice).
func AnnualLevelizedCostOfEnergy(tech *technology.Dataset, prices *tensor.Array) (*tensor.Array, error) {
	yearAx, ok := prices.Axis(technology.AxisYear)
	if !ok {
		return nil, fmt.Errorf("annual lcoe: %w: prices lack year axis", tensor.ErrDimensionMismatch)
	}
	years, err := yearAx.Years()
	if err != nil {
		return nil, err
	}
	ds, err := tech.InterpYears(years)
	if err != nil {
		return nil, err
	}

	crf := ds.InterestRate().Combine(ds.TechnicalLife(), capitalRecoveryFactor)
	annualCapital := ds.CapPar().Mul(crf).DivFill(ds.UtilizationFactor(), 0)
	oAndM := ds.FixPar().Add(ds.VarPar()).DivFill(ds.UtilizationFactor(), 0)

	fuel := ds.FixedInputs().Mul(prices).SumOver(technology.AxisCommodity)
	pollutantMask := tensor.New(tensor.NewAxis(technology.AxisCommodity, tech.Commodities().Names()))
	for _, name := range tech.Commodities().Pollutants() {
		pollutantMask.MustSet(1, name)
	}
	env := ds.FixedOutputs().Mul(pollutantMask).Mul(prices).SumOver(technology.AxisCommodity)

	return annualCapital.Add(oAndM).Add(fuel).Add(env), nil
}

// LifetimeLevelizedCostOfEnergy is the discounted total cost of building and
// running one unit of capacity at baseYear, per unit of discounted energy
// produced over the technical life. The result has axes (technology,
// region).
func LifetimeLevelizedCostOfEnergy(tech *technology.Dataset, prices *tensor.Array, baseYear int) (*tensor.Array, error) {
	ds, err := tech.InterpYears([]int{baseYear})
	if err != nil {
		return nil, err
	}
	baseLabel := tensor.YearAxis([]int{baseYear}).Label(0)
	at := func(arr *tensor.Array, tc, region string) float64 {
		return arr.MustAt(tc, region, baseLabel)
	}

	techAx := tensor.NewAxis(technology.AxisTechnology, tech.Technologies())
	regionAx := tensor.NewAxis(technology.AxisRegion, tech.Regions())
	out := tensor.New(techAx, regionAx)

	// Intensive annual mean prices per commodity and region.
	meanPrices := prices.MeanOver(timeslice.AxisName)
	comms := tech.Commodities()

	for _, tc := range tech.Technologies() {
		for _, region := range tech.Regions() {
			life := int(at(ds.TechnicalLife(), tc, region))
			if life <= 0 {
				continue
			}
			rate := at(ds.InterestRate(), tc, region)
			ufac := at(ds.UtilizationFactor(), tc, region)

			unitProduction := 0.0
			for _, c := range comms.Enduses() {
				unitProduction += ds.FixedOutputs().MustAt(tc, region, baseLabel, c)
			}
			unitProduction *= ufac

			yrs := make([]int, life)
			for i := range yrs {
				yrs[i] = baseYear + i
			}
			priceAtYears, err := meanPrices.InterpYears(technology.AxisYear, yrs)
			if err != nil {
				return nil, err
			}

			costs := at(ds.CapPar(), tc, region)
			energy := 0.0
			for i, y := range yrs {
				df := math.Pow(1+rate, -float64(i+1))
				yl := tensor.YearAxis([]int{y}).Label(0)
				running := at(ds.FixPar(), tc, region)
				variable := at(ds.VarPar(), tc, region) * unitProduction
				fuel := 0.0
				for _, c := range comms.Names() {
					in := ds.FixedInputs().MustAt(tc, region, baseLabel, c)
					if in != 0 {
						fuel += in * unitProduction * priceAtYears.MustAt(region, c, yl)
					}
					if comms.Usage(c).IsPollutant() {
						outCoef := ds.FixedOutputs().MustAt(tc, region, baseLabel, c)
						if outCoef != 0 {
							fuel += outCoef * unitProduction * priceAtYears.MustAt(region, c, yl)
						}
					}
				}
				costs += df * (running + variable + fuel)
				energy += df * unitProduction
			}
			if energy > 0 {
				out.MustSet(costs/energy, tc, region)
			}
		}
	}
	return out, nil
}

// CapitalRecoveryFactor exposes the annuity factor used across cost
// computations.
func CapitalRecoveryFactor(rate, life float64) float64 {
	return capitalRecoveryFactor(rate, life)
}

// UnmetDemand is the demand left unserved by a given production level:
// max(consumption - production, 0) element-wise, with asset production
// aggregated into regions. production has axes (asset, commodity, timeslice,
// year).
func UnmetDemand(consumption, production *tensor.Array) (*tensor.Array, error) {
	byRegion, err := production.GroupSum(asset.AxisName, asset.RegionOf)
	if err != nil {
		return nil, err
	}
	regional := byRegion.Rename(asset.AxisName, technology.AxisRegion)
	return consumption.Sub(regional).ClipMin(0), nil
}

// ProductionMethod computes sector production from capacity, selected by
// name from the registry.
type ProductionMethod func(m *market.Snapshot, capacity *tensor.Array, tech *technology.Dataset) (*tensor.Array, error)

var productionMethods = newProductionRegistry()

func newProductionRegistry() *registry.Registry[ProductionMethod] {
	r := registry.New[ProductionMethod]("production method")
	r.Register(maximumProductionMethod, "maximum_production")
	r.Register(supplyMethod, "supply")
	return r
}

// RegisterProductionMethod adds a production method under the given names.
func RegisterProductionMethod(fn ProductionMethod, names ...string) {
	productionMethods.Register(fn, names...)
}

// maximumProductionMethod dispatches every asset at full utilization.
func maximumProductionMethod(m *market.Snapshot, capacity *tensor.Array, tech *technology.Dataset) (*tensor.Array, error) {
	return MaximumProduction(tech, capacity, m.Slices)
}

// supplyMethod dispatches at full utilization, then scales each region's
// output down so it never exceeds the demand actually there.
func supplyMethod(m *market.Snapshot, capacity *tensor.Array, tech *technology.Dataset) (*tensor.Array, error) {
	maxProd, err := MaximumProduction(tech, capacity, m.Slices)
	if err != nil {
		return nil, err
	}
	byRegion, err := maxProd.GroupSum(asset.AxisName, asset.RegionOf)
	if err != nil {
		return nil, err
	}
	regional := byRegion.Rename(asset.AxisName, technology.AxisRegion)
	scale := m.Consumption.DivFill(regional, 0).Apply(func(v float64) float64 {
		return math.Min(v, 1)
	})

	ax, _ := maxProd.Axis(asset.AxisName)
	scaleAssets, err := scale.Gather(technology.AxisRegion, ax.Labels(), asset.RegionOf)
	if err != nil {
		return nil, err
	}
	return maxProd.Mul(scaleAssets.Rename(technology.AxisRegion, asset.AxisName)), nil
}

// ProductionMethodNamed resolves a production method; unknown names are
// configuration errors.
func ProductionMethodNamed(name string) (ProductionMethod, error) {
	return productionMethods.Lookup(name)
}
