package ingest

import (
	"fmt"
	"io"
	"sort"

	"github.com/SGIModel/MUSE-OS/internal/technology"
)

// Key columns shared by the flow tables; every other column names a
// commodity.
var flowKeyColumns = map[string]bool{
	"ProcessName": true,
	"RegionName":  true,
	"Time":        true,
	"Level":       true,
	"Unit":        true,
}

// ReadCommodityOutputs reads a CommOut.csv-shaped table: one column per
// commodity holding the fixed production coefficient per unit of activity.
// Zero cells produce no record.
func ReadCommodityOutputs(r io.Reader) ([]technology.Coefficient, error) {
	return readFlows(r, "commodity outputs", func(c *technology.Coefficient, v float64, level string) error {
		c.FixedOutput = v
		return nil
	})
}

// ReadCommodityInputs reads a CommIn.csv-shaped table of consumption
// coefficients. The Level column separates fixed inputs from flexible ones;
// a missing column or empty cell means fixed.
func ReadCommodityInputs(r io.Reader) ([]technology.Coefficient, error) {
	return readFlows(r, "commodity inputs", func(c *technology.Coefficient, v float64, level string) error {
		switch level {
		case "", "fixed":
			c.FixedInput = v
		case "flexible":
			c.FlexibleInput = v
		default:
			return fmt.Errorf("column %q: unknown level %q", "Level", level)
		}
		return nil
	})
}

func readFlows(r io.Reader, kind string, apply func(*technology.Coefficient, float64, string) error) ([]technology.Coefficient, error) {
	t, err := readTable(r, "ProcessName", "RegionName", "Time")
	if err != nil {
		return nil, err
	}
	comms := make([]string, 0, len(t.header))
	for col := range t.header {
		if !flowKeyColumns[col] {
			comms = append(comms, col)
		}
	}
	sort.Strings(comms)
	if len(comms) == 0 {
		return nil, fmt.Errorf("ingest: %s: no commodity columns", kind)
	}

	var out []technology.Coefficient
	for i, row := range t.rows {
		year, err := t.year(row, "Time")
		if err != nil {
			return nil, fmt.Errorf("ingest: %s row %d: %w", kind, i+1, err)
		}
		level := t.get(row, "Level")
		for _, comm := range comms {
			v, err := t.float(row, comm)
			if err != nil {
				return nil, fmt.Errorf("ingest: %s row %d: %w", kind, i+1, err)
			}
			if v == 0 {
				continue
			}
			c := technology.Coefficient{
				Technology: t.get(row, "ProcessName"),
				Region:     t.get(row, "RegionName"),
				Year:       year,
				Commodity:  comm,
			}
			if err := apply(&c, v, level); err != nil {
				return nil, fmt.Errorf("ingest: %s row %d: %w", kind, i+1, err)
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// MergeCoefficients folds partial records from separate input and output
// tables into one record per (technology, region, year, commodity), nonzero
// fields winning. The result is sorted for deterministic dataset assembly.
func MergeCoefficients(lists ...[]technology.Coefficient) []technology.Coefficient {
	type key struct {
		tech, region, comm string
		year               int
	}
	merged := make(map[key]technology.Coefficient)
	order := make([]key, 0)
	for _, list := range lists {
		for _, c := range list {
			k := key{c.Technology, c.Region, c.Commodity, c.Year}
			m, seen := merged[k]
			if !seen {
				m = technology.Coefficient{Technology: c.Technology, Region: c.Region, Year: c.Year, Commodity: c.Commodity}
				order = append(order, k)
			}
			if c.FixedOutput != 0 {
				m.FixedOutput = c.FixedOutput
			}
			if c.FixedInput != 0 {
				m.FixedInput = c.FixedInput
			}
			if c.FlexibleInput != 0 {
				m.FlexibleInput = c.FlexibleInput
			}
			merged[k] = m
		}
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.tech != b.tech {
			return a.tech < b.tech
		}
		if a.region != b.region {
			return a.region < b.region
		}
		if a.year != b.year {
			return a.year < b.year
		}
		return a.comm < b.comm
	})
	out := make([]technology.Coefficient, len(order))
	for i, k := range order {
		out[i] = merged[k]
	}
	return out
}
