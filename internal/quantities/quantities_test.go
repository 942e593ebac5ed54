package quantities

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SGIModel/MUSE-OS/internal/asset"
	"github.com/SGIModel/MUSE-OS/internal/modeltest"
	"github.com/SGIModel/MUSE-OS/internal/technology"
)

var (
	boiler2015 = asset.Key{Technology: "gasboiler", Region: "R1", InstallYear: 2015}
	pump2020   = asset.Key{Technology: "heatpump", Region: "R1", InstallYear: 2020}
)

func TestMaximumProduction(t *testing.T) {
	tech := modeltest.Dataset(t)
	capacity := modeltest.Capacity(t, []int{2020, 2025}, map[asset.Key][]float64{
		boiler2015: {10, 10},
	})

	prod, err := MaximumProduction(tech, capacity, modeltest.Scheme(t))
	require.NoError(t, err)
	assert.Equal(t, []string{asset.AxisName, technology.AxisCommodity, "timeslice", "year"}, prod.AxisNames())

	// 10 capacity at 0.9 utilization, unit heat output, split over two
	// equal timeslices.
	assert.InDelta(t, 4.5, prod.MustAt(boiler2015.Label(), "heat", "winter", "2020"), 1e-9)
	assert.InDelta(t, 4.5, prod.MustAt(boiler2015.Label(), "heat", "summer", "2020"), 1e-9)
	// Pollutant and fuel rows are zeroed, not dropped.
	assert.InDelta(t, 0, prod.MustAt(boiler2015.Label(), "CO2f", "winter", "2020"), 1e-12)
	assert.InDelta(t, 0, prod.MustAt(boiler2015.Label(), "gas", "winter", "2020"), 1e-12)
}

func TestDecommissioningDemand(t *testing.T) {
	tech := modeltest.Dataset(t)
	capacity := modeltest.Capacity(t, []int{2020, 2025}, map[asset.Key][]float64{
		boiler2015: {10, 4},
		pump2020:   {2, 6}, // grows, must not go negative
	})

	demand, err := DecommissioningDemand(tech, capacity, modeltest.Scheme(t), 2020, 2025)
	require.NoError(t, err)

	// 6 units retired at 0.9 utilization across two slices.
	assert.InDelta(t, 2.7, demand.MustAt(boiler2015.Label(), "heat", "winter"), 1e-9)
	assert.InDelta(t, 0, demand.MustAt(pump2020.Label(), "heat", "winter"), 1e-12)
	assert.GreaterOrEqual(t, demand.Min(), 0.0)
}

func TestConsumptionFixedInputs(t *testing.T) {
	tech := modeltest.Dataset(t)
	capacity := modeltest.Capacity(t, []int{2020}, map[asset.Key][]float64{
		boiler2015: {10},
	})
	prod, err := MaximumProduction(tech, capacity, modeltest.Scheme(t))
	require.NoError(t, err)

	cons, err := Consumption(tech, prod, nil)
	require.NoError(t, err)

	// Gas draw scales the 4.5 heat output by the 1.16 input coefficient.
	assert.InDelta(t, 4.5*1.16, cons.MustAt(boiler2015.Label(), "gas", "winter", "2020"), 1e-9)
	// No declared coefficient, no draw.
	assert.InDelta(t, 0, cons.MustAt(boiler2015.Label(), "electricity", "winter", "2020"), 1e-12)
	assert.InDelta(t, 0, cons.MustAt(boiler2015.Label(), "heat", "winter", "2020"), 1e-12)
}

func TestConsumptionFlexibleInputsPickCheapestFuel(t *testing.T) {
	comms := modeltest.Comms()
	params := []technology.Parameters{{
		Technology: "hybridheater", Region: "R1", Year: 2020,
		CapPar: 5, CapExp: 1, FixPar: 0.5, FixExp: 1, VarPar: 0.05, VarExp: 1,
		UtilizationFactor: 1, TechnicalLife: 10, InterestRate: 0.1, ScalingSize: 1,
		Type: "energy", Fuel: "gas",
	}}
	coeffs := []technology.Coefficient{
		{Technology: "hybridheater", Region: "R1", Year: 2020, Commodity: "heat", FixedOutput: 1},
		{Technology: "hybridheater", Region: "R1", Year: 2020, Commodity: "gas", FlexibleInput: 1.1},
		{Technology: "hybridheater", Region: "R1", Year: 2020, Commodity: "electricity", FlexibleInput: 0.4},
	}
	tech, err := technology.New(comms, params, coeffs)
	require.NoError(t, err)

	hybrid := asset.Key{Technology: "hybridheater", Region: "R1", InstallYear: 2020}
	capacity := modeltest.Capacity(t, []int{2020}, map[asset.Key][]float64{hybrid: {10}})
	prod, err := MaximumProduction(tech, capacity, modeltest.Scheme(t))
	require.NoError(t, err)

	prices := modeltest.Snapshot(t, 2020).Prices
	cons, err := Consumption(tech, prod, prices)
	require.NoError(t, err)

	// Gas at 2 beats electricity at 5: the whole flexible draw goes to gas.
	assert.InDelta(t, 5*1.1, cons.MustAt(hybrid.Label(), "gas", "winter", "2020"), 1e-9)
	assert.InDelta(t, 0, cons.MustAt(hybrid.Label(), "electricity", "winter", "2020"), 1e-12)
}

func TestUnmetDemand(t *testing.T) {
	m := modeltest.Snapshot(t, 2020)
	tech := modeltest.Dataset(t)
	capacity := modeltest.Capacity(t, []int{2020}, map[asset.Key][]float64{
		boiler2015: {5},
	})
	prod, err := MaximumProduction(tech, capacity, modeltest.Scheme(t))
	require.NoError(t, err)

	unmet, err := UnmetDemand(m.Consumption, prod)
	require.NoError(t, err)

	// Winter heat demand 10 against 2.25 produced.
	assert.InDelta(t, 10-2.25, unmet.MustAt("R1", "heat", "winter", "2020"), 1e-9)
	// Cook demand untouched by heating assets.
	assert.InDelta(t, 2, unmet.MustAt("R1", "cook", "winter", "2020"), 1e-9)
	assert.GreaterOrEqual(t, unmet.Min(), 0.0)
}

func TestCapitalRecoveryFactor(t *testing.T) {
	assert.InDelta(t, 0.1/(1-math.Pow(1.1, -10)), CapitalRecoveryFactor(0.1, 10), 1e-12)
	assert.InDelta(t, 0.1, CapitalRecoveryFactor(0, 10), 1e-12)
	assert.InDelta(t, 0, CapitalRecoveryFactor(0.1, 0), 1e-12)
}

func TestAnnualLevelizedCostOfEnergy(t *testing.T) {
	tech := modeltest.Dataset(t)
	prices := modeltest.Snapshot(t, 2020).Prices

	lcoe, err := AnnualLevelizedCostOfEnergy(tech, prices)
	require.NoError(t, err)

	crf := CapitalRecoveryFactor(0.1, 10)
	want := 3.8*crf/0.9 + (0.38+0.04)/0.9 + 1.16*2 + 64.7*0.01
	assert.InDelta(t, want, lcoe.MustAt("gasboiler", "R1", "2020", "winter"), 1e-9)
}

func TestLifetimeLevelizedCostOfEnergy(t *testing.T) {
	tech := modeltest.Dataset(t)
	prices := modeltest.Snapshot(t, 2020, 2030).Prices

	lcoe, err := LifetimeLevelizedCostOfEnergy(tech, prices, 2020)
	require.NoError(t, err)

	boiler := lcoe.MustAt("gasboiler", "R1")
	pump := lcoe.MustAt("heatpump", "R1")
	assert.Greater(t, boiler, 0.0)
	assert.Greater(t, pump, 0.0)
	// The boiler burns expensive fuel with CO2 charges; the pump's draw is
	// small. The pump must come out cheaper over its lifetime.
	assert.Greater(t, boiler, pump)
}

func TestProductionMethods(t *testing.T) {
	m := modeltest.Snapshot(t, 2020)
	tech := modeltest.Dataset(t)
	capacity := modeltest.Capacity(t, []int{2020}, map[asset.Key][]float64{
		boiler2015: {100}, // far more than demand
	})

	maxMethod, err := ProductionMethodNamed("maximum_production")
	require.NoError(t, err)
	maxProd, err := maxMethod(m, capacity, tech)
	require.NoError(t, err)
	assert.InDelta(t, 45, maxProd.MustAt(boiler2015.Label(), "heat", "winter", "2020"), 1e-9)

	supply, err := ProductionMethodNamed("supply")
	require.NoError(t, err)
	sup, err := supply(m, capacity, tech)
	require.NoError(t, err)
	// Clamped to the 10 units of winter demand.
	assert.InDelta(t, 10, sup.MustAt(boiler2015.Label(), "heat", "winter", "2020"), 1e-9)

	_, err = ProductionMethodNamed("alchemy")
	assert.Error(t, err)
}
