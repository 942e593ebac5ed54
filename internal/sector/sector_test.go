package sector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SGIModel/MUSE-OS/internal/agent"
	"github.com/SGIModel/MUSE-OS/internal/asset"
	"github.com/SGIModel/MUSE-OS/internal/market"
	"github.com/SGIModel/MUSE-OS/internal/modeltest"
	"github.com/SGIModel/MUSE-OS/internal/registry"
	"github.com/SGIModel/MUSE-OS/internal/technology"
	"github.com/SGIModel/MUSE-OS/internal/timeslice"
)

var poolYears = []int{2020, 2025}

func poolWith(tb testing.TB, values map[asset.Key][]float64) *agent.Pool {
	tb.Helper()
	p, err := agent.PoolOf(modeltest.Capacity(tb, poolYears, values))
	if err != nil {
		tb.Fatalf("building pool: %v", err)
	}
	return p
}

func TestNewDefaultsAndValidation(t *testing.T) {
	tech := modeltest.Dataset(t)

	_, err := New(Config{}, tech, nil, nil)
	require.Error(t, err)

	for _, cfg := range []Config{
		{Name: "res", Interaction: "bogus"},
		{Name: "res", Share: "bogus"},
		{Name: "res", Supply: "bogus"},
		{Name: "res", Production: "bogus"},
	} {
		_, err := New(cfg, tech, nil, nil)
		assert.ErrorIs(t, err, registry.ErrUnknownName)
	}

	s, err := New(Config{Name: "res"}, tech, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "res", s.Name())
	assert.Equal(t, 5, s.Forecast(), "agentless sectors look five years out")

	_, err = s.Next(modeltest.Snapshot(t), 0)
	require.ErrorContains(t, err, "period")
}

func TestForecastTracksAgents(t *testing.T) {
	near := agent.New(agent.Config{Name: "near", Region: "R1", Year: 2020, Forecast: 3}, nil)
	far := agent.New(agent.Config{Name: "far", Region: "R1", Year: 2020, Forecast: 7}, nil)
	s, err := New(Config{Name: "res"}, modeltest.Dataset(t), nil, []*agent.Agent{near, far})
	require.NoError(t, err)
	assert.Equal(t, 7, s.Forecast())
}

func TestCapacityPoolsAgents(t *testing.T) {
	boilers := agent.New(agent.Config{Name: "a", Region: "R1", Year: 2020}, poolWith(t, map[asset.Key][]float64{
		{Technology: "gasboiler", Region: "R1", InstallYear: 2012}: {5, 5},
	}))
	pumps := agent.New(agent.Config{Name: "b", Region: "R1", Year: 2020}, poolWith(t, map[asset.Key][]float64{
		{Technology: "heatpump", Region: "R1", InstallYear: 2018}: {2, 2},
	}))
	idle := agent.New(agent.Config{Name: "c", Region: "R1", Year: 2020}, agent.NewPool(poolYears))

	s, err := New(Config{Name: "res"}, modeltest.Dataset(t), nil, []*agent.Agent{boilers, pumps, idle})
	require.NoError(t, err)

	pooled, err := s.Capacity()
	require.NoError(t, err)
	ax, _ := pooled.Axis(asset.AxisName)
	assert.Equal(t, 2, ax.Len())
	assert.Equal(t, 5.0, pooled.MustAt("gasboiler|R1|2012", "2020"))
	assert.Equal(t, 2.0, pooled.MustAt("heatpump|R1|2018", "2025"))
}

func TestNextInvestsAndReportsMarketVariables(t *testing.T) {
	retro := agent.New(agent.Config{
		Name: "resi", Region: "R1", Category: agent.CategoryRetrofit, Year: 2020,
		SearchRules: []string{"same_enduse"},
	}, poolWith(t, map[asset.Key][]float64{
		{Technology: "gasboiler", Region: "R1", InstallYear: 2012}: {5, 0},
	}))

	s, err := New(Config{Name: "residential"}, modeltest.Dataset(t), nil, []*agent.Agent{retro})
	require.NoError(t, err)
	var got Report
	s.SetSink(func(r Report) { got = r })

	m := modeltest.Snapshot(t)
	out, err := s.Next(m, 5)
	require.NoError(t, err)
	require.NoError(t, out.Validate())
	assert.Equal(t, 2025, retro.Year, "investing advances the agent clock")

	// The boiler serves 2020; the pump bought for the winter peak serves
	// 2025 flat out.
	assert.InDelta(t, 5*0.9*0.5, out.Supply.MustAt("R1", "heat", "winter", "2020"), 1e-9)
	assert.InDelta(t, 10.0, out.Supply.MustAt("R1", "heat", "winter", "2025"), 1e-9)
	assert.InDelta(t, 10.0, out.Supply.MustAt("R1", "heat", "summer", "2025"), 1e-9)
	assert.Zero(t, out.Supply.MustAt("R1", "CO2f", "winter", "2020"))

	// Fuel draw follows whichever technology is active.
	assert.InDelta(t, 5*0.9*0.5*1.16, out.Consumption.MustAt("R1", "gas", "winter", "2020"), 1e-9)
	assert.InDelta(t, 10*0.32, out.Consumption.MustAt("R1", "electricity", "winter", "2025"), 1e-9)
	assert.Zero(t, out.Consumption.MustAt("R1", "gas", "winter", "2025"))

	assert.Greater(t, out.Costs.MustAt("R1", "heat", "2020"), 0.0)
	assert.Zero(t, out.Costs.MustAt("R1", "cook", "2020"))

	assert.InDelta(t, 5.0, out.Capacity.MustAt("gasboiler", "R1", "2020"), 1e-9)
	assert.InDelta(t, 10/0.9/0.5, out.Capacity.MustAt("heatpump", "R1", "2025"), 1e-9)

	assert.InDelta(t, 2.0, out.Prices.MustAt("R1", "gas", "winter", "2020"), 1e-12,
		"prices pass through a sector unchanged")

	// The sink sees the asset level picture before aggregation.
	assert.Equal(t, "residential", got.Sector)
	assert.Equal(t, 2020, got.Year)
	assert.InDelta(t, 2.25, got.Supply.MustAt("gasboiler|R1|2012", "heat", "winter", "2020"), 1e-9)
}

func TestNextRunsOnOwnTimeslices(t *testing.T) {
	retro := agent.New(agent.Config{
		Name: "resi", Region: "R1", Category: agent.CategoryRetrofit, Year: 2020,
		SearchRules: []string{"same_enduse"},
	}, poolWith(t, map[asset.Key][]float64{
		{Technology: "gasboiler", Region: "R1", InstallYear: 2012}: {5, 0},
	}))

	s, err := New(Config{Name: "res"}, modeltest.Dataset(t), modeltest.FineScheme(t), []*agent.Agent{retro})
	require.NoError(t, err)
	var got Report
	s.SetSink(func(r Report) { got = r })

	m := modeltest.Snapshot(t)
	out, err := s.Next(m, 5)
	require.NoError(t, err)

	assert.True(t, out.Slices.Same(m.Slices), "the caller gets its own resolution back")
	ax, _ := got.Supply.Axis(timeslice.AxisName)
	assert.Equal(t, 4, ax.Len(), "the sink sees the sector's resolution")

	// A uniform refinement leaves the peak sizing unchanged.
	assert.InDelta(t, 10/0.9/0.5, retro.Assets.Capacity().MustAt("heatpump|R1|2025", "2025"), 1e-9)
	assert.InDelta(t, 10.0, out.Supply.MustAt("R1", "heat", "winter", "2025"), 1e-9)
}

// twoRegionWorld extends the reference model with a second region that has
// heating demand but never any installed assets.
func twoRegionWorld(t *testing.T) (*technology.Dataset, *market.Snapshot) {
	t.Helper()
	var params []technology.Parameters
	var coeffs []technology.Coefficient
	for _, region := range []string{"R1", "R2"} {
		for _, year := range []int{2020, 2030} {
			params = append(params,
				technology.Parameters{
					Technology: "gasboiler", Region: region, Year: year,
					CapPar: 3.8, CapExp: 1, FixPar: 0.38, FixExp: 1, VarPar: 0.04, VarExp: 1,
					UtilizationFactor: 0.9, TechnicalLife: 10, InterestRate: 0.1, ScalingSize: 1,
					Efficiency: 0.86, Type: "energy", Fuel: "gas",
				},
				technology.Parameters{
					Technology: "heatpump", Region: region, Year: year,
					CapPar: 8.9, CapExp: 1, FixPar: 0.89, FixExp: 1, VarPar: 0.09, VarExp: 1,
					UtilizationFactor: 0.9, TechnicalLife: 12, InterestRate: 0.08, ScalingSize: 1,
					Efficiency: 3.1, Type: "energy", Fuel: "electricity",
				},
			)
			coeffs = append(coeffs,
				technology.Coefficient{Technology: "gasboiler", Region: region, Year: year, Commodity: "heat", FixedOutput: 1},
				technology.Coefficient{Technology: "gasboiler", Region: region, Year: year, Commodity: "gas", FixedInput: 1.16},
				technology.Coefficient{Technology: "gasboiler", Region: region, Year: year, Commodity: "CO2f", FixedOutput: 64.7},
				technology.Coefficient{Technology: "heatpump", Region: region, Year: year, Commodity: "heat", FixedOutput: 1},
				technology.Coefficient{Technology: "heatpump", Region: region, Year: year, Commodity: "electricity", FixedInput: 0.32},
			)
		}
	}
	tech, err := technology.New(modeltest.Comms(), params, coeffs)
	require.NoError(t, err)

	m := market.New([]string{"R1", "R2"}, modeltest.Comms(), modeltest.Scheme(t), []int{2020, 2025})
	for _, y := range []string{"2020", "2025"} {
		for _, ts := range []string{"winter", "summer"} {
			demand := map[string]float64{"winter": 10, "summer": 5}[ts]
			m.Consumption.MustSet(demand, "R1", "heat", ts, y)
			m.Consumption.MustSet(demand*0.8, "R2", "heat", ts, y)
			for _, region := range []string{"R1", "R2"} {
				m.Prices.MustSet(2, region, "gas", ts, y)
				m.Prices.MustSet(5, region, "electricity", ts, y)
				m.Prices.MustSet(0.01, region, "CO2f", ts, y)
			}
		}
	}
	return tech, m
}

func TestNextLeavesAssetFreeRegionZero(t *testing.T) {
	tech, m := twoRegionWorld(t)
	resi := agent.New(agent.Config{
		Name: "resi", Region: "R1", Category: agent.CategoryRetrofit, Year: 2020,
		SearchRules: []string{"same_enduse"},
	}, poolWith(t, map[asset.Key][]float64{
		{Technology: "gasboiler", Region: "R1", InstallYear: 2012}: {5, 0},
	}))
	rural := agent.New(agent.Config{
		Name: "rural", Region: "R2", Category: agent.CategoryRetrofit, Year: 2020,
	}, agent.NewPool(poolYears))

	s, err := New(Config{Name: "residential"}, tech, nil, []*agent.Agent{resi, rural})
	require.NoError(t, err)

	out, err := s.Next(m, 5)
	require.NoError(t, err)
	require.NoError(t, out.Validate())

	// Nothing produces in R2 and nothing retires there, so it earns no
	// share and stays at zero, but keeps its coordinates.
	assert.Zero(t, out.Supply.MustAt("R2", "heat", "winter", "2025"))
	assert.Zero(t, out.Costs.MustAt("R2", "heat", "2020"))
	assert.True(t, rural.Assets.Empty())
	assert.Equal(t, 2025, rural.Year, "skipped agents still advance their clock")

	assert.InDelta(t, 10.0, out.Supply.MustAt("R1", "heat", "winter", "2025"), 1e-9)
}

func TestNextRejectsClockSkew(t *testing.T) {
	late := agent.New(agent.Config{
		Name: "late", Region: "R1", Category: agent.CategoryRetrofit, Year: 2025,
	}, poolWith(t, map[asset.Key][]float64{
		{Technology: "gasboiler", Region: "R1", InstallYear: 2012}: {5, 0},
	}))
	s, err := New(Config{Name: "res"}, modeltest.Dataset(t), nil, []*agent.Agent{late})
	require.NoError(t, err)

	_, err = s.Next(modeltest.Snapshot(t), 5)
	require.ErrorContains(t, err, "clock")
}

func TestNextWithoutAgentsReturnsZeroSnapshot(t *testing.T) {
	s, err := New(Config{Name: "void"}, modeltest.Dataset(t), nil, nil)
	require.NoError(t, err)
	var got Report
	s.SetSink(func(r Report) { got = r })

	m := modeltest.Snapshot(t)
	out, err := s.Next(m, 5)
	require.NoError(t, err)

	assert.Zero(t, out.Supply.MaxAbs())
	assert.Zero(t, out.Consumption.MaxAbs())
	assert.Zero(t, out.Costs.MaxAbs())
	assert.InDelta(t, 2.0, out.Prices.MustAt("R1", "gas", "winter", "2020"), 1e-12)

	assert.Equal(t, "void", got.Sector)
	require.NotNil(t, got.Capacity)
	require.NotNil(t, got.Supply)
	ax, _ := got.Capacity.Axis(asset.AxisName)
	assert.Zero(t, ax.Len())
}
