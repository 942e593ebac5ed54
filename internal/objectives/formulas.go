package objectives

import (
	"math"
	"strconv"

	"github.com/SGIModel/MUSE-OS/internal/asset"
	"github.com/SGIModel/MUSE-OS/internal/quantities"
	"github.com/SGIModel/MUSE-OS/internal/technology"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
	"github.com/SGIModel/MUSE-OS/internal/timeslice"
)

func init() {
	Register(capacityToServiceDemand, "capacity_to_service_demand", "capacity")
	Register(fixedCosts, "fixed_costs")
	Register(capitalCosts, "capital_costs")
	Register(emissionCost, "emission_cost", "emissions")
	Register(fuelConsumptionCost, "fuel_consumption_cost")
	Register(netPresentValue, "net_present_value", "NPV")
	Register(netPresentCost, "net_present_cost", "NPC")
	Register(equivalentAnnualCost, "equivalent_annual_cost", "EAC")
	Register(lifetimeLevelizedCost, "lifetime_levelized_cost_of_energy", "LCOE")
	Register(annualLevelizedCost, "annual_levelized_cost_of_energy", "ALCOE")
	Register(efficiency, "efficiency")
}

// replParam narrows a (technology, region, year, ...) parameter array to the
// candidate columns at the decision year, relabeled onto the replacement
// axis.
func replParam(ctx *Context, arr *tensor.Array) (*tensor.Array, error) {
	interp, err := arr.InterpYears(technology.AxisYear, []int{ctx.Year})
	if err != nil {
		return nil, err
	}
	sel, err := interp.Sel(technology.AxisTechnology, ctx.Space.Replacements()...)
	if err != nil {
		return nil, err
	}
	atRegion, err := sel.Pick(technology.AxisRegion, ctx.Region)
	if err != nil {
		return nil, err
	}
	atYear, err := atRegion.Pick(technology.AxisYear, strconv.Itoa(ctx.Year))
	if err != nil {
		return nil, err
	}
	return atYear.Rename(technology.AxisTechnology, AxisReplacement), nil
}

// forecastPrices returns commodity prices at the agent's forecast year in its
// region, clamped to the market's year range: (commodity, timeslice).
func forecastPrices(ctx *Context) (*tensor.Array, error) {
	year := ctx.forecast()
	interp, err := ctx.Market.Prices.InterpYears(technology.AxisYear, []int{year})
	if err != nil {
		return nil, err
	}
	atYear, err := interp.Pick(technology.AxisYear, strconv.Itoa(year))
	if err != nil {
		return nil, err
	}
	return atYear.Pick(technology.AxisRegion, ctx.Region)
}

// enduseDemand sums the demand share over enduse commodities: (asset,
// timeslice).
func enduseDemand(ctx *Context) (*tensor.Array, error) {
	table := ctx.Tech.Commodities()
	sel, err := ctx.Demand.SelWhere(technology.AxisCommodity, func(name string) bool {
		return table.Usage(name).IsEnduse()
	})
	if err != nil {
		return nil, err
	}
	return sel.SumOver(technology.AxisCommodity), nil
}

// capacityToServiceDemand is the smallest capacity able to serve the demand
// share in its tightest timeslice, per candidate.
func capacityToServiceDemand(ctx *Context) (*tensor.Array, error) {
	outputs, err := replParam(ctx, ctx.Tech.FixedOutputs())
	if err != nil {
		return nil, err
	}
	ufac, err := replParam(ctx, ctx.Tech.UtilizationFactor())
	if err != nil {
		return nil, err
	}
	hours := ctx.Market.Slices.HourWeights()
	maxShare := hours.MaxAbs() / hours.Total()

	// Demand per unit output, zero where the candidate does not produce the
	// commodity, maximized over commodity and timeslice.
	need := ctx.Demand.DivFill(outputs, 0).
		MaxOver(technology.AxisCommodity, timeslice.AxisName)
	return need.Div(ufac).Scale(1 / maxShare), nil
}

// fixedCosts is fix_par * C^fix_exp over the capacity C serving the demand.
func fixedCosts(ctx *Context) (*tensor.Array, error) {
	cfd, err := capacityToServiceDemand(ctx)
	if err != nil {
		return nil, err
	}
	fixPar, err := replParam(ctx, ctx.Tech.FixPar())
	if err != nil {
		return nil, err
	}
	fixExp, err := replParam(ctx, ctx.Tech.FixExp())
	if err != nil {
		return nil, err
	}
	return cfd.Combine(fixExp, math.Pow).Mul(fixPar), nil
}

// capitalCosts is cap_par * scaling_size^cap_exp, constant through the run.
func capitalCosts(ctx *Context) (*tensor.Array, error) {
	capPar, err := replParam(ctx, ctx.Tech.CapPar())
	if err != nil {
		return nil, err
	}
	capExp, err := replParam(ctx, ctx.Tech.CapExp())
	if err != nil {
		return nil, err
	}
	size, err := replParam(ctx, ctx.Tech.ScalingSize())
	if err != nil {
		return nil, err
	}
	return size.Combine(capExp, math.Pow).Mul(capPar), nil
}

// emissionCost prices the pollutants emitted were the candidate to serve the
// whole demand share, at forecast-year prices.
func emissionCost(ctx *Context) (*tensor.Array, error) {
	total, err := enduseDemand(ctx)
	if err != nil {
		return nil, err
	}
	outputs, err := replParam(ctx, ctx.Tech.FixedOutputs())
	if err != nil {
		return nil, err
	}
	table := ctx.Tech.Commodities()
	pollutant := func(name string) bool { return table.Usage(name).IsPollutant() }
	emissions, err := outputs.SelWhere(technology.AxisCommodity, pollutant)
	if err != nil {
		return nil, err
	}
	prices, err := forecastPrices(ctx)
	if err != nil {
		return nil, err
	}
	envPrices, err := prices.SelWhere(technology.AxisCommodity, pollutant)
	if err != nil {
		return nil, err
	}
	rate := emissions.Mul(envPrices).SumOver(technology.AxisCommodity)
	return total.Mul(rate).SumOver(timeslice.AxisName), nil
}

// fuelConsumptionCost prices the fuel draw were the candidate to serve the
// whole demand share: fixed inputs scale with activity, flexible inputs go
// wholly to the cheapest declared commodity in each timeslice, and only fuel
// commodities are priced.
func fuelConsumptionCost(ctx *Context) (*tensor.Array, error) {
	fixedIn, err := replParam(ctx, ctx.Tech.FixedInputs())
	if err != nil {
		return nil, err
	}
	flexIn, err := replParam(ctx, ctx.Tech.FlexibleInputs())
	if err != nil {
		return nil, err
	}
	prices, err := forecastPrices(ctx)
	if err != nil {
		return nil, err
	}
	activity, err := enduseDemand(ctx)
	if err != nil {
		return nil, err
	}

	table := ctx.Tech.Commodities()
	comms := table.Names()
	assets := ctx.Space.Assets()
	repls := ctx.Space.Replacements()
	out := tensor.New(
		tensor.NewAxis(asset.AxisName, assets),
		tensor.NewAxis(AxisReplacement, repls),
	)
	for _, a := range assets {
		for _, r := range repls {
			if !ctx.Space.Allowed(a, r) {
				continue
			}
			cost := 0.0
			for _, ts := range ctx.Market.Slices.Names() {
				act := activity.MustAt(a, ts)
				if act == 0 {
					continue
				}
				for _, c := range comms {
					if coef := fixedIn.MustAt(r, c); coef != 0 && table.Usage(c).IsFuel() {
						cost += act * coef * prices.MustAt(c, ts)
					}
				}
				best, bestPrice, bestCoef := "", math.Inf(1), 0.0
				for _, c := range comms {
					coef := flexIn.MustAt(r, c)
					if coef == 0 {
						continue
					}
					if p := prices.MustAt(c, ts); p < bestPrice {
						best, bestPrice, bestCoef = c, p, coef
					}
				}
				if best != "" && table.Usage(best).IsFuel() {
					cost += act * bestCoef * bestPrice
				}
			}
			out.MustSet(cost, a, r)
		}
	}
	return out, nil
}

// netPresentValue discounts lifetime revenues minus lifetime costs for a
// candidate installed in the decision year and sized to the demand share.
func netPresentValue(ctx *Context) (*tensor.Array, error) {
	capacity, err := capacityToServiceDemand(ctx)
	if err != nil {
		return nil, err
	}
	outputs, err := replParam(ctx, ctx.Tech.FixedOutputs())
	if err != nil {
		return nil, err
	}
	ufac, err := replParam(ctx, ctx.Tech.UtilizationFactor())
	if err != nil {
		return nil, err
	}
	life, err := replParam(ctx, ctx.Tech.TechnicalLife())
	if err != nil {
		return nil, err
	}
	rate, err := replParam(ctx, ctx.Tech.InterestRate())
	if err != nil {
		return nil, err
	}
	capPar, err := replParam(ctx, ctx.Tech.CapPar())
	if err != nil {
		return nil, err
	}
	capExp, err := replParam(ctx, ctx.Tech.CapExp())
	if err != nil {
		return nil, err
	}
	fixPar, err := replParam(ctx, ctx.Tech.FixPar())
	if err != nil {
		return nil, err
	}
	fixExp, err := replParam(ctx, ctx.Tech.FixExp())
	if err != nil {
		return nil, err
	}
	varPar, err := replParam(ctx, ctx.Tech.VarPar())
	if err != nil {
		return nil, err
	}
	varExp, err := replParam(ctx, ctx.Tech.VarExp())
	if err != nil {
		return nil, err
	}

	// Maximum production at that capacity: (asset, replacement, commodity).
	production := capacity.Mul(outputs).Mul(ufac)

	repls := ctx.Space.Replacements()
	maxLife := 1
	for _, r := range repls {
		if n := int(life.MustAt(r)); n > maxLife {
			maxLife = n
		}
	}
	years := make([]int, maxLife)
	for i := range years {
		years[i] = ctx.Year + i
	}

	// Discount factors per candidate, masked beyond its technical life.
	rates := tensor.New(tensor.NewAxis(AxisReplacement, repls), tensor.YearAxis(years))
	for _, r := range repls {
		n := int(life.MustAt(r))
		ir := rate.MustAt(r)
		for _, y := range years {
			if y <= ctx.Year+n {
				rates.MustSet(math.Pow(1+ir, -float64(y-ctx.Year+1)), r, strconv.Itoa(y))
			}
		}
	}
	ratesSum := rates.SumOver(technology.AxisYear)

	pricesAll, err := ctx.Market.Prices.InterpYears(technology.AxisYear, years)
	if err != nil {
		return nil, err
	}
	prices, err := pricesAll.Pick(technology.AxisRegion, ctx.Region)
	if err != nil {
		return nil, err
	}

	table := ctx.Tech.Commodities()
	discounted := func(pred func(string) bool) (*tensor.Array, error) {
		prod, err := production.SelWhere(technology.AxisCommodity, pred)
		if err != nil {
			return nil, err
		}
		pr, err := prices.SelWhere(technology.AxisCommodity, pred)
		if err != nil {
			return nil, err
		}
		return prod.Mul(pr).Mul(rates).
			SumOver(technology.AxisCommodity, timeslice.AxisName, technology.AxisYear), nil
	}

	rawRevenues, err := discounted(func(n string) bool { return table.Usage(n).IsEnduse() })
	if err != nil {
		return nil, err
	}
	environmentalCosts, err := discounted(func(n string) bool { return table.Usage(n).IsPollutant() })
	if err != nil {
		return nil, err
	}
	materialCosts, err := discounted(func(n string) bool { return table.Usage(n).IsMaterial() })
	if err != nil {
		return nil, err
	}

	installedCapacityCosts := capacity.Combine(capExp, math.Pow).Mul(capPar)

	fuel, err := fuelConsumptionCost(ctx)
	if err != nil {
		return nil, err
	}
	fuelCosts := fuel.Mul(ratesSum)

	prodEnduse, err := production.SelWhere(technology.AxisCommodity, func(n string) bool {
		return table.Usage(n).IsEnduse()
	})
	if err != nil {
		return nil, err
	}
	fixedAnnual := capacity.Combine(fixExp, math.Pow).Mul(fixPar)
	variableAnnual := prodEnduse.Combine(varExp, math.Pow).Mul(varPar).
		SumOver(technology.AxisCommodity)
	fixedAndVariableCosts := fixedAnnual.Add(variableAnnual).Mul(ratesSum)

	npv := rawRevenues.
		Sub(installedCapacityCosts).
		Sub(fuelCosts).
		Sub(environmentalCosts).
		Sub(materialCosts).
		Sub(fixedAndVariableCosts)
	return npv.Transpose(asset.AxisName, AxisReplacement)
}

func netPresentCost(ctx *Context) (*tensor.Array, error) {
	npv, err := netPresentValue(ctx)
	if err != nil {
		return nil, err
	}
	return npv.Scale(-1), nil
}

// equivalentAnnualCost spreads the net present cost into the equal annual
// payment implied by the candidate's capital recovery factor.
func equivalentAnnualCost(ctx *Context) (*tensor.Array, error) {
	npc, err := netPresentCost(ctx)
	if err != nil {
		return nil, err
	}
	life, err := replParam(ctx, ctx.Tech.TechnicalLife())
	if err != nil {
		return nil, err
	}
	rate, err := replParam(ctx, ctx.Tech.InterestRate())
	if err != nil {
		return nil, err
	}
	crf := life.Combine(rate, func(l, ir float64) float64 {
		return quantities.CapitalRecoveryFactor(ir, float64(int(l)))
	})
	return npc.Mul(crf), nil
}

func lifetimeLevelizedCost(ctx *Context) (*tensor.Array, error) {
	lcoe, err := quantities.LifetimeLevelizedCostOfEnergy(ctx.Tech, ctx.Market.Prices, ctx.Year)
	if err != nil {
		return nil, err
	}
	sel, err := lcoe.Sel(technology.AxisTechnology, ctx.Space.Replacements()...)
	if err != nil {
		return nil, err
	}
	atRegion, err := sel.Pick(technology.AxisRegion, ctx.Region)
	if err != nil {
		return nil, err
	}
	return atRegion.Rename(technology.AxisTechnology, AxisReplacement), nil
}

// annualLevelizedCost is the hour-weighted mean of the single-year levelized
// cost at the decision year.
func annualLevelizedCost(ctx *Context) (*tensor.Array, error) {
	ds, err := ctx.Tech.InterpYears([]int{ctx.Year})
	if err != nil {
		return nil, err
	}
	prices, err := ctx.Market.Prices.InterpYears(technology.AxisYear, []int{ctx.Year})
	if err != nil {
		return nil, err
	}
	lcoe, err := quantities.AnnualLevelizedCostOfEnergy(ds, prices)
	if err != nil {
		return nil, err
	}
	sel, err := lcoe.Sel(technology.AxisTechnology, ctx.Space.Replacements()...)
	if err != nil {
		return nil, err
	}
	atRegion, err := sel.Pick(technology.AxisRegion, ctx.Region)
	if err != nil {
		return nil, err
	}
	atYear, err := atRegion.Pick(technology.AxisYear, strconv.Itoa(ctx.Year))
	if err != nil {
		return nil, err
	}
	w := ctx.Market.Slices.HourWeights()
	avg := atYear.Mul(w).SumOver(timeslice.AxisName).Scale(1 / w.Total())
	return avg.Rename(technology.AxisTechnology, AxisReplacement), nil
}

func efficiency(ctx *Context) (*tensor.Array, error) {
	return replParam(ctx, ctx.Tech.Efficiency())
}
