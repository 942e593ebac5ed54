package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitLinear(t *testing.T) {
	tr, err := Fit([]int{2020, 2025, 2030}, []float64{10, 15, 20}, Linear)
	require.NoError(t, err)

	assert.Equal(t, Linear, tr.Form())
	assert.InDelta(t, 1.0, tr.Growth(), 1e-9)
	assert.InDelta(t, 30.0, tr.At(2040), 1e-9)
	assert.InDelta(t, 8.0, tr.At(2018), 1e-9)
}

func TestFitExponential(t *testing.T) {
	tr, err := Fit([]int{2020, 2025}, []float64{100, 121}, Exponential)
	require.NoError(t, err)

	assert.Equal(t, Exponential, tr.Form())
	assert.InDelta(t, 146.41, tr.At(2030), 1e-6)

	_, err = Fit([]int{2020, 2025}, []float64{100, -1}, Exponential)
	require.ErrorContains(t, err, "positive")
}

func TestFitBestPicksTheTighterForm(t *testing.T) {
	tr, err := Fit([]int{2020, 2025, 2030}, []float64{100, 200, 400}, Best)
	require.NoError(t, err)
	assert.Equal(t, Exponential, tr.Form(), "doubling data is exponential")
	assert.InDelta(t, 800.0, tr.At(2035), 1e-6)

	tr, err = Fit([]int{2020, 2025, 2030}, []float64{-5, 0, 5}, Best)
	require.NoError(t, err)
	assert.Equal(t, Linear, tr.Form(), "negative values rule the exponential out")
}

func TestFitDegenerateSamples(t *testing.T) {
	tr, err := Fit([]int{2020}, []float64{7}, Linear)
	require.NoError(t, err)
	assert.InDelta(t, 7.0, tr.At(2050), 1e-12)
	assert.Zero(t, tr.Growth())

	_, err = Fit([]int{2020, 2025}, []float64{1}, Linear)
	require.Error(t, err)
	_, err = Fit(nil, nil, Linear)
	require.Error(t, err)
	_, err = Fit([]int{2020}, []float64{1}, "wiggly")
	require.ErrorContains(t, err, "wiggly")
}

func TestExtendInterpolatesInsideAndTrendsOutside(t *testing.T) {
	got, err := Extend(
		[]int{2020, 2025, 2030}, []float64{10, 15, 20},
		[]int{2018, 2022, 2030, 2040}, Linear)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.InDelta(t, 8.0, got[0], 1e-9, "backward extension follows the slope")
	assert.InDelta(t, 12.0, got[1], 1e-9, "inside the range the samples interpolate")
	assert.InDelta(t, 20.0, got[2], 1e-9)
	assert.InDelta(t, 30.0, got[3], 1e-9)
}

func TestExtendAnchorsAtTheBoundarySample(t *testing.T) {
	// The last sample sits off the fitted line; the extension still starts
	// from it rather than jumping onto the trend.
	got, err := Extend(
		[]int{2020, 2025, 2030}, []float64{10, 15, 26},
		[]int{2035}, Linear)
	require.NoError(t, err)
	tr, err := Fit([]int{2020, 2025, 2030}, []float64{10, 15, 26}, Linear)
	require.NoError(t, err)
	assert.InDelta(t, 26+5*tr.Growth(), got[0], 1e-9)
}

func TestExtendExponentialGrowth(t *testing.T) {
	got, err := Extend([]int{2020, 2025}, []float64{100, 121}, []int{2030, 2035}, Exponential)
	require.NoError(t, err)
	assert.InDelta(t, 146.41, got[0], 1e-6)
	assert.InDelta(t, 177.1561, got[1], 1e-6)
}

func TestExtendSingleSampleIsConstant(t *testing.T) {
	got, err := Extend([]int{2020}, []float64{7}, []int{2010, 2020, 2050}, Linear)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 7, 7}, got)
}

func TestExtendRejectsDuplicateYears(t *testing.T) {
	_, err := Extend([]int{2020, 2020}, []float64{1, 2}, []int{2025}, Linear)
	require.ErrorContains(t, err, "duplicate year")
}

func TestExtendUnsortedSamples(t *testing.T) {
	got, err := Extend([]int{2030, 2020}, []float64{20, 10}, []int{2025, 2035}, Linear)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, got[0], 1e-9)
	assert.InDelta(t, 25.0, got[1], 1e-9)
}
