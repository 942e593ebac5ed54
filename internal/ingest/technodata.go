package ingest

import (
	"fmt"
	"io"

	"github.com/SGIModel/MUSE-OS/internal/technology"
)

// ReadTechnodata reads a Technodata.csv-shaped table into parameter records.
// Cost exponents, scaling size, and efficiency default to 1 when their
// columns are missing; Type and Fuel are free-form tags.
func ReadTechnodata(r io.Reader) ([]technology.Parameters, error) {
	t, err := readTable(r, "ProcessName", "RegionName", "Time",
		"cap_par", "fix_par", "var_par",
		"TechnicalLife", "UtilizationFactor", "InterestRate")
	if err != nil {
		return nil, err
	}

	out := make([]technology.Parameters, 0, len(t.rows))
	for i, row := range t.rows {
		var rerr error
		f := func(col string) float64 {
			v, err := t.float(row, col)
			if err != nil && rerr == nil {
				rerr = err
			}
			return v
		}
		fOr := func(col string, def float64) float64 {
			v, err := t.floatOr(row, col, def)
			if err != nil && rerr == nil {
				rerr = err
			}
			return v
		}

		p := technology.Parameters{
			Technology: t.get(row, "ProcessName"),
			Region:     t.get(row, "RegionName"),

			CapPar: f("cap_par"),
			CapExp: fOr("cap_exp", 1),
			FixPar: f("fix_par"),
			FixExp: fOr("fix_exp", 1),
			VarPar: f("var_par"),
			VarExp: fOr("var_exp", 1),

			UtilizationFactor: f("UtilizationFactor"),
			TechnicalLife:     f("TechnicalLife"),
			InterestRate:      f("InterestRate"),
			ScalingSize:       fOr("ScalingSize", 1),
			Efficiency:        fOr("efficiency", 1),

			Type: t.get(row, "Type"),
			Fuel: t.get(row, "Fuel"),
		}
		year, yerr := t.year(row, "Time")
		if yerr != nil && rerr == nil {
			rerr = yerr
		}
		p.Year = year
		if p.Technology == "" && rerr == nil {
			rerr = fmt.Errorf("column %q: empty", "ProcessName")
		}
		if rerr != nil {
			return nil, fmt.Errorf("ingest: technodata row %d: %w", i+1, rerr)
		}
		out = append(out, p)
	}
	return out, nil
}
