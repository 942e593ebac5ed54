package ingest

import (
	"fmt"
	"io"
)

// Demand is one exogenous consumption entry in long format.
type Demand struct {
	Region    string
	Commodity string
	Timeslice string
	Year      int
	Value     float64
}

// ReadDemand reads a long-format demand table with one value per
// (region, commodity, timeslice, year) row.
func ReadDemand(r io.Reader) ([]Demand, error) {
	t, err := readTable(r, "RegionName", "CommodityName", "Timeslice", "Time", "Value")
	if err != nil {
		return nil, err
	}
	out := make([]Demand, 0, len(t.rows))
	for i, row := range t.rows {
		year, err := t.year(row, "Time")
		if err != nil {
			return nil, fmt.Errorf("ingest: demand row %d: %w", i+1, err)
		}
		v, err := t.float(row, "Value")
		if err != nil {
			return nil, fmt.Errorf("ingest: demand row %d: %w", i+1, err)
		}
		out = append(out, Demand{
			Region:    t.get(row, "RegionName"),
			Commodity: t.get(row, "CommodityName"),
			Timeslice: t.get(row, "Timeslice"),
			Year:      year,
			Value:     v,
		})
	}
	return out, nil
}
