package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SGIModel/MUSE-OS/internal/registry"
)

const baseSettings = `years: [2020, 2025, 2030]
regions: [R1]
timeslices:
  - {name: winter, hours: 4380}
  - {name: summer, hours: 4380}
commodities:
  - {name: heat, unit: PJ, type: product}
  - {name: gas, unit: PJ, type: fuel}
  - {name: CO2f, unit: kt, type: environmental}
market:
  projections: projections.csv
  demand: demand.csv
equilibrium:
  max_iterations: 5
  excluded: [CO2f]
sectors:
  - name: residential
    technodata: technodata.csv
    commodity_outputs: commout.csv
    commodity_inputs: commin.csv
    existing_capacity: existing.csv
    agents:
      - name: bulk
        region: R1
        quantity: 0.75
        forecast: 10
        search_rules: [same_enduse, currently_existing_tech]
        objectives:
          - {name: LCOE}
        decision_rule: single_objective
      - {name: niche, region: R1, quantity: 0.25}
`

const technodataCSV = `ProcessName,RegionName,Time,cap_par,fix_par,var_par,TechnicalLife,UtilizationFactor,InterestRate,Fuel,Type
Unit,-,Year,MUS$2010/PJ_a,MUS$2010/PJ,MUS$2010/PJ,Years,-,-,-,-
gasboiler,R1,2020,3.8,0.38,0.04,10,0.9,0.1,gas,energy
`

const commodityOutputsCSV = `ProcessName,RegionName,Time,heat,CO2f
Unit,-,Year,PJ,kt
gasboiler,R1,2020,1,64.7
`

const commodityInputsCSV = `ProcessName,RegionName,Time,Level,gas
Unit,-,Year,-,PJ
gasboiler,R1,2020,fixed,1.16
`

const existingCapacityCSV = `ProcessName,RegionName,Unit,2020,2025
gasboiler,R1,PJ/y,10,5
`

const projectionsCSV = `RegionName,Attribute,Time,gas,heat,CO2f
Unit,-,Year,MUS$2010/PJ,MUS$2010/PJ,MUS$2010/kt
R1,CommodityPrice,2020,2,3,0
R1,CommodityPrice,2025,2.5,3.5,0
R2,CommodityPrice,2020,9,9,9
`

const demandCSV = `RegionName,CommodityName,Timeslice,Time,Value
R1,heat,winter,2020,10
R1,heat,winter,2025,12
R1,heat,summer,2020,5
R1,heat,summer,2025,6
`

// writeModelDir lays out a settings file and its tables in one directory.
func writeModelDir(t *testing.T, settings string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"settings.yaml":   settings,
		"technodata.csv":  technodataCSV,
		"commout.csv":     commodityOutputsCSV,
		"commin.csv":      commodityInputsCSV,
		"existing.csv":    existingCapacityCSV,
		"projections.csv": projectionsCSV,
		"demand.csv":      demandCSV,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func loadModel(t *testing.T, settings string) *Model {
	t.Helper()
	dir := writeModelDir(t, settings)
	s, err := Load(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, err)
	m, err := s.Build()
	require.NoError(t, err)
	return m
}

func TestParseFillsDefaults(t *testing.T) {
	s, err := Parse([]byte(baseSettings))
	require.NoError(t, err)

	assert.Equal(t, 5, s.Foresight)
	assert.Equal(t, 5, s.Equilibrium.MaxIterations)
	assert.Equal(t, []string{"CO2f"}, s.Equilibrium.Excluded)
	require.Len(t, s.Sectors, 1)
	require.Len(t, s.Sectors[0].Agents, 2)
	assert.Equal(t, 0.25, s.Sectors[0].Agents[1].Quantity)
}

func TestParseRejectsBadSettings(t *testing.T) {
	cases := []struct {
		name string
		old  string
		new  string
		want string
	}{
		{"single year", "years: [2020, 2025, 2030]", "years: [2020]", "two milestone years"},
		{"unsorted years", "years: [2020, 2025, 2030]", "years: [2025, 2020, 2030]", "strictly increasing"},
		{"no regions", "regions: [R1]", "regions: []", "at least one region"},
		{"duplicate timeslice", "{name: summer, hours: 4380}", "{name: winter, hours: 4380}", "duplicate timeslice"},
		{"two commodity sources", "market:", "commodities_file: comms.csv\nmarket:", "one of the two"},
		{"missing demand table", "  demand: demand.csv\n", "", "demand table"},
		{"bad trend", "  demand: demand.csv", "  demand: demand.csv\n  trend: wiggly", `unknown trend form "wiggly"`},
		{"bad variable", "  max_iterations: 5", "  max_iterations: 5\n  variable: momentum", "unknown equilibrium variable"},
		{"no sectors", "sectors:", "sectors: []\nignored:", "at least one sector"},
		{"unknown category", "{name: niche, region: R1, quantity: 0.25}",
			"{name: niche, region: R1, quantity: 0.25, category: refurb}", `unknown category "refurb"`},
		{"foreign region", "{name: niche, region: R1, quantity: 0.25}",
			"{name: niche, region: R9, quantity: 0.25}", "not part of the run"},
		{"unknown search rule", "search_rules: [same_enduse, currently_existing_tech]",
			"search_rules: [best_vintage]", "best_vintage"},
		{"unknown objective", "- {name: LCOE}", "- {name: charisma}", "charisma"},
		{"unknown decision rule", "decision_rule: single_objective", "decision_rule: coin_flip", "coin_flip"},
		{"unknown share method", "    agents:", "    share: fuzzy\n    agents:", "fuzzy"},
		{"unknown output quantity", "", "outputs:\n  quantities: [wealth]\n", "wealth"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := baseSettings
			if tc.old == "" {
				doc += tc.new
			} else {
				doc = strings.Replace(doc, tc.old, tc.new, 1)
				require.NotEqual(t, baseSettings, doc, "fixture mutation missed its anchor")
			}
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseSurfacesRegistryErrors(t *testing.T) {
	doc := strings.Replace(baseSettings,
		"search_rules: [same_enduse, currently_existing_tech]",
		"search_rules: [best_vintage]", 1)
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrUnknownName)
}

func TestLoadReportsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "settings.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading settings")
}

func TestBuildAssemblesModel(t *testing.T) {
	m := loadModel(t, baseSettings)

	assert.Equal(t, []string{"winter", "summer"}, m.Scheme.Names())
	assert.ElementsMatch(t, []string{"heat", "gas", "CO2f"}, m.Comms.Names())

	// Projections extend linearly past their last sample.
	assert.InDelta(t, 2.0, m.Base.Prices.MustAt("R1", "gas", "winter", "2020"), 1e-9)
	assert.InDelta(t, 2.5, m.Base.Prices.MustAt("R1", "gas", "summer", "2025"), 1e-9)
	assert.InDelta(t, 3.0, m.Base.Prices.MustAt("R1", "gas", "winter", "2030"), 1e-9)
	assert.InDelta(t, 3.0, m.Base.Prices.MustAt("R1", "heat", "winter", "2020"), 1e-9)

	// So does demand.
	assert.InDelta(t, 10.0, m.Base.Consumption.MustAt("R1", "heat", "winter", "2020"), 1e-9)
	assert.InDelta(t, 14.0, m.Base.Consumption.MustAt("R1", "heat", "winter", "2030"), 1e-9)
	assert.InDelta(t, 7.0, m.Base.Consumption.MustAt("R1", "heat", "summer", "2030"), 1e-9)

	require.Len(t, m.Sectors, 1)
	sec := m.Sectors[0]
	assert.Equal(t, "residential", sec.Name())

	roster := sec.Agents()
	require.Len(t, roster, 2)
	bulk, niche := roster[0], roster[1]
	assert.Equal(t, "bulk", bulk.Name)
	assert.Equal(t, 10, bulk.Forecast)
	assert.Equal(t, []string{"same_enduse", "currently_existing_tech"}, bulk.SearchRules)
	assert.Equal(t, "single_objective", bulk.DecisionRule)
	require.Len(t, bulk.Objectives, 1)
	assert.Equal(t, "LCOE", bulk.Objectives[0].Name)
	assert.Equal(t, 5, niche.Forecast)

	// Existing stock splits 3:1 and holds its boundary value past 2025.
	label := "gasboiler|R1|2020"
	assert.InDelta(t, 7.5, bulk.Assets.Capacity().MustAt(label, "2020"), 1e-9)
	assert.InDelta(t, 3.75, bulk.Assets.Capacity().MustAt(label, "2025"), 1e-9)
	assert.InDelta(t, 3.75, bulk.Assets.Capacity().MustAt(label, "2030"), 1e-9)
	assert.InDelta(t, 2.5, niche.Assets.Capacity().MustAt(label, "2020"), 1e-9)

	assert.Equal(t, 5, m.Options.MaxIter)
	assert.Equal(t, []string{"CO2f"}, m.Options.Excluded)
	require.NotNil(t, m.Cache)
}

func TestBuildLeavesNewAgentsEmpty(t *testing.T) {
	doc := strings.Replace(baseSettings, "quantity: 0.75", "quantity: 1", 1)
	doc = strings.Replace(doc,
		"{name: niche, region: R1, quantity: 0.25}",
		"{name: pioneer, region: R1, category: new, quantity: 0.5}", 1)
	m := loadModel(t, doc)

	roster := m.Sectors[0].Agents()
	require.Len(t, roster, 2)
	assert.InDelta(t, 10.0, roster[0].Assets.Capacity().MustAt("gasboiler|R1|2020", "2020"), 1e-9)
	assert.True(t, roster[1].Assets.Empty())
}

func TestBuildReportsTableErrors(t *testing.T) {
	t.Run("missing technodata column", func(t *testing.T) {
		dir := writeModelDir(t, baseSettings)
		broken := "ProcessName,RegionName,Time,cap_par,fix_par,var_par,TechnicalLife,InterestRate\n" +
			"gasboiler,R1,2020,3.8,0.38,0.04,10,0.1\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "technodata.csv"), []byte(broken), 0o644))

		s, err := Load(filepath.Join(dir, "settings.yaml"))
		require.NoError(t, err)
		_, err = s.Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "technodata.csv")
		assert.Contains(t, err.Error(), "UtilizationFactor")
	})

	t.Run("unknown projection commodity", func(t *testing.T) {
		dir := writeModelDir(t, baseSettings)
		broken := "RegionName,Attribute,Time,oil\nR1,CommodityPrice,2020,1\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "projections.csv"), []byte(broken), 0o644))

		s, err := Load(filepath.Join(dir, "settings.yaml"))
		require.NoError(t, err)
		_, err = s.Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown commodity "oil"`)
	})
}

func TestBuildCreatesOutputDirectory(t *testing.T) {
	doc := baseSettings + "outputs:\n  directory: results\n  quantities: [capacity, prices]\n"
	dir := writeModelDir(t, doc)

	s, err := Load(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, err)
	m, err := s.Build()
	require.NoError(t, err)

	require.NotNil(t, m.Cache)
	info, err := os.Stat(filepath.Join(dir, "results"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
