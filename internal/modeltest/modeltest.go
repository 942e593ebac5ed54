// Package modeltest builds the small reference model used across test
// suites: two heating technologies and a cooking technology in one region,
// with a two-slice year.
package modeltest

import (
	"testing"

	"github.com/SGIModel/MUSE-OS/internal/asset"
	"github.com/SGIModel/MUSE-OS/internal/commodities"
	"github.com/SGIModel/MUSE-OS/internal/market"
	"github.com/SGIModel/MUSE-OS/internal/technology"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
	"github.com/SGIModel/MUSE-OS/internal/timeslice"
)

// Comms returns the reference commodity table: heat and cook as enduses, gas
// and electricity as fuels, CO2f as pollutant.
func Comms() commodities.Table {
	return commodities.NewTable(
		commodities.Commodity{Name: "heat", Unit: "PJ", Usage: commodities.Product},
		commodities.Commodity{Name: "cook", Unit: "PJ", Usage: commodities.Product},
		commodities.Commodity{Name: "gas", Unit: "PJ", Usage: commodities.Consumable},
		commodities.Commodity{Name: "electricity", Unit: "PJ", Usage: commodities.Consumable},
		commodities.Commodity{Name: "CO2f", Unit: "kt", Usage: commodities.Environmental},
	)
}

// Scheme returns the coarse two-slice year.
func Scheme(tb testing.TB) *timeslice.Scheme {
	tb.Helper()
	s, err := timeslice.NewScheme(
		timeslice.Slice{Name: "winter", Hours: 4380},
		timeslice.Slice{Name: "summer", Hours: 4380},
	)
	if err != nil {
		tb.Fatalf("building scheme: %v", err)
	}
	return s
}

// FineScheme refines Scheme into day and night slices.
func FineScheme(tb testing.TB) *timeslice.Scheme {
	tb.Helper()
	s, err := timeslice.NewScheme(
		timeslice.Slice{Name: "winter.day", Hours: 2190},
		timeslice.Slice{Name: "winter.night", Hours: 2190},
		timeslice.Slice{Name: "summer.day", Hours: 2190},
		timeslice.Slice{Name: "summer.night", Hours: 2190},
	)
	if err != nil {
		tb.Fatalf("building fine scheme: %v", err)
	}
	return s
}

// Dataset returns the reference technology data: gasboiler and heatpump
// produce heat, estove produces cook, characterized at 2020 and 2030.
func Dataset(tb testing.TB) *technology.Dataset {
	tb.Helper()
	params := make([]technology.Parameters, 0, 6)
	for _, year := range []int{2020, 2030} {
		params = append(params,
			technology.Parameters{
				Technology: "gasboiler", Region: "R1", Year: year,
				CapPar: 3.8, CapExp: 1, FixPar: 0.38, FixExp: 1, VarPar: 0.04, VarExp: 1,
				UtilizationFactor: 0.9, TechnicalLife: 10, InterestRate: 0.1, ScalingSize: 1,
				Efficiency: 0.86, Type: "energy", Fuel: "gas",
			},
			technology.Parameters{
				Technology: "heatpump", Region: "R1", Year: year,
				CapPar: 8.9, CapExp: 1, FixPar: 0.89, FixExp: 1, VarPar: 0.09, VarExp: 1,
				UtilizationFactor: 0.9, TechnicalLife: 12, InterestRate: 0.08, ScalingSize: 1,
				Efficiency: 3.1, Type: "energy", Fuel: "electricity",
			},
			technology.Parameters{
				Technology: "estove", Region: "R1", Year: year,
				CapPar: 1.5, CapExp: 1, FixPar: 0.15, FixExp: 1, VarPar: 0.02, VarExp: 1,
				UtilizationFactor: 0.8, TechnicalLife: 8, InterestRate: 0.1, ScalingSize: 1,
				Efficiency: 1.1, Type: "cooking", Fuel: "electricity",
			},
		)
	}
	coeffs := make([]technology.Coefficient, 0, 12)
	for _, year := range []int{2020, 2030} {
		coeffs = append(coeffs,
			technology.Coefficient{Technology: "gasboiler", Region: "R1", Year: year, Commodity: "heat", FixedOutput: 1},
			technology.Coefficient{Technology: "gasboiler", Region: "R1", Year: year, Commodity: "gas", FixedInput: 1.16},
			technology.Coefficient{Technology: "gasboiler", Region: "R1", Year: year, Commodity: "CO2f", FixedOutput: 64.7},
			technology.Coefficient{Technology: "heatpump", Region: "R1", Year: year, Commodity: "heat", FixedOutput: 1},
			technology.Coefficient{Technology: "heatpump", Region: "R1", Year: year, Commodity: "electricity", FixedInput: 0.32},
			technology.Coefficient{Technology: "estove", Region: "R1", Year: year, Commodity: "cook", FixedOutput: 1},
			technology.Coefficient{Technology: "estove", Region: "R1", Year: year, Commodity: "electricity", FixedInput: 0.9},
		)
	}
	d, err := technology.New(Comms(), params, coeffs)
	if err != nil {
		tb.Fatalf("building dataset: %v", err)
	}
	return d
}

// Snapshot returns a market over the reference coordinates with nonzero heat
// demand and fuel prices. Years default to 2020 and 2025.
func Snapshot(tb testing.TB, years ...int) *market.Snapshot {
	tb.Helper()
	if len(years) == 0 {
		years = []int{2020, 2025}
	}
	m := market.New([]string{"R1"}, Comms(), Scheme(tb), years)
	for _, y := range tensor.YearAxis(years).Labels() {
		for _, ts := range []string{"winter", "summer"} {
			demand := 10.0
			if ts == "summer" {
				demand = 5.0
			}
			m.Consumption.MustSet(demand, "R1", "heat", ts, y)
			m.Consumption.MustSet(2, "R1", "cook", ts, y)
			m.Prices.MustSet(2, "R1", "gas", ts, y)
			m.Prices.MustSet(5, "R1", "electricity", ts, y)
			m.Prices.MustSet(0.01, "R1", "CO2f", ts, y)
		}
	}
	return m
}

// Capacity builds an (asset, year) trajectory from per-asset year-value
// pairs.
func Capacity(tb testing.TB, years []int, values map[asset.Key][]float64) *tensor.Array {
	tb.Helper()
	keys := make([]asset.Key, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	// Deterministic order.
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j].Label() < keys[i].Label() {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	arr := tensor.New(asset.Axis(keys), tensor.YearAxis(years))
	yl := tensor.YearAxis(years).Labels()
	for _, k := range keys {
		vals := values[k]
		if len(vals) != len(years) {
			tb.Fatalf("asset %s has %d values for %d years", k.Label(), len(vals), len(years))
		}
		for i, v := range vals {
			arr.MustSet(v, k.Label(), yl[i])
		}
	}
	return arr
}
