package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SGIModel/MUSE-OS/internal/commodities"
	"github.com/SGIModel/MUSE-OS/internal/technology"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
	"github.com/SGIModel/MUSE-OS/internal/timeslice"
)

func testComms() commodities.Table {
	return commodities.NewTable(
		commodities.Commodity{Name: "heat", Unit: "PJ", Usage: commodities.Product},
		commodities.Commodity{Name: "gas", Unit: "PJ", Usage: commodities.Consumable},
	)
}

func testSlices(t *testing.T) *timeslice.Scheme {
	t.Helper()
	s, err := timeslice.NewScheme(
		timeslice.Slice{Name: "winter", Hours: 4380},
		timeslice.Slice{Name: "summer", Hours: 4380},
	)
	require.NoError(t, err)
	return s
}

func testSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	return New([]string{"R1"}, testComms(), testSlices(t), []int{2020, 2025})
}

func TestNewAndValidate(t *testing.T) {
	s := testSnapshot(t)
	require.NoError(t, s.Validate())

	years, err := s.Years()
	require.NoError(t, err)
	assert.Equal(t, []int{2020, 2025}, years)
	assert.Equal(t, []string{"R1"}, s.Regions())
}

func TestCloneIsIndependent(t *testing.T) {
	s := testSnapshot(t)
	c := s.Clone()
	c.Consumption.MustSet(9, "R1", "heat", "winter", "2020")
	assert.InDelta(t, 0, s.Consumption.MustAt("R1", "heat", "winter", "2020"), 1e-12)
}

func TestBlend(t *testing.T) {
	s := testSnapshot(t)
	n := testSnapshot(t)
	s.Supply.MustSet(10, "R1", "heat", "winter", "2020")
	n.Supply.MustSet(20, "R1", "heat", "winter", "2020")

	half := s.Blend(n, 0.5)
	assert.InDelta(t, 15, half.Supply.MustAt("R1", "heat", "winter", "2020"), 1e-12)

	keep := s.Blend(n, 0)
	assert.InDelta(t, 10, keep.Supply.MustAt("R1", "heat", "winter", "2020"), 1e-12)

	adopt := s.Blend(n, 1)
	assert.InDelta(t, 20, adopt.Supply.MustAt("R1", "heat", "winter", "2020"), 1e-12)
}

func TestAccumulate(t *testing.T) {
	a := testSnapshot(t)
	b := testSnapshot(t)
	a.Supply.MustSet(3, "R1", "heat", "winter", "2020")
	b.Supply.MustSet(4, "R1", "heat", "winter", "2020")
	b.Consumption.MustSet(2, "R1", "gas", "summer", "2025")

	sum := a.Accumulate(b)
	assert.InDelta(t, 7, sum.Supply.MustAt("R1", "heat", "winter", "2020"), 1e-12)
	assert.InDelta(t, 2, sum.Consumption.MustAt("R1", "gas", "summer", "2025"), 1e-12)
	// Inputs untouched.
	assert.InDelta(t, 3, a.Supply.MustAt("R1", "heat", "winter", "2020"), 1e-12)
}

func TestMergeCapacity(t *testing.T) {
	region := tensor.NewAxis(technology.AxisRegion, []string{"R1"})
	year := tensor.YearAxis([]int{2020})

	a := tensor.New(tensor.NewAxis(technology.AxisTechnology, []string{"gasboiler"}), region, year)
	a.MustSet(5, "gasboiler", "R1", "2020")
	b := tensor.New(tensor.NewAxis(technology.AxisTechnology, []string{"gasboiler", "heatpump"}), region, year)
	b.MustSet(1, "gasboiler", "R1", "2020")
	b.MustSet(2, "heatpump", "R1", "2020")

	m := MergeCapacity(a, b)
	assert.InDelta(t, 6, m.MustAt("gasboiler", "R1", "2020"), 1e-12)
	assert.InDelta(t, 2, m.MustAt("heatpump", "R1", "2020"), 1e-12)
}

func TestConvertSlices(t *testing.T) {
	s := testSnapshot(t)
	s.Consumption.MustSet(100, "R1", "heat", "winter", "2020")
	s.Prices.MustSet(30, "R1", "gas", "winter", "2020")
	s.Prices.MustSet(30, "R1", "gas", "summer", "2020")

	fine, err := timeslice.NewScheme(
		timeslice.Slice{Name: "winter.day", Hours: 2190},
		timeslice.Slice{Name: "winter.night", Hours: 2190},
		timeslice.Slice{Name: "summer.day", Hours: 2190},
		timeslice.Slice{Name: "summer.night", Hours: 2190},
	)
	require.NoError(t, err)

	out, err := s.ConvertSlices(fine)
	require.NoError(t, err)
	// Demand split by hours, prices carried as rates.
	assert.InDelta(t, 50, out.Consumption.MustAt("R1", "heat", "winter.day", "2020"), 1e-9)
	assert.InDelta(t, 30, out.Prices.MustAt("R1", "gas", "winter.night", "2020"), 1e-9)
	assert.InDelta(t, s.Consumption.Total(), out.Consumption.Total(), 1e-9)

	// Round trip back to the coarse scheme.
	back, err := out.ConvertSlices(s.Slices)
	require.NoError(t, err)
	assert.InDelta(t, 100, back.Consumption.MustAt("R1", "heat", "winter", "2020"), 1e-9)
}

func TestInterpYearsSnapshot(t *testing.T) {
	s := testSnapshot(t)
	s.Consumption.MustSet(10, "R1", "heat", "winter", "2020")
	s.Consumption.MustSet(20, "R1", "heat", "winter", "2025")

	out, err := s.InterpYears([]int{2020, 2022, 2025})
	require.NoError(t, err)
	assert.InDelta(t, 14, out.Consumption.MustAt("R1", "heat", "winter", "2022"), 1e-9)
}
