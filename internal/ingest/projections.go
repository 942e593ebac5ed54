package ingest

import (
	"fmt"
	"io"
	"sort"
)

// Projection is one region/year row of a Projections.csv-shaped table: a
// named attribute (conventionally CommodityPrice) with one value per
// commodity column.
type Projection struct {
	Region    string
	Attribute string
	Year      int
	Values    map[string]float64
}

var projectionKeyColumns = map[string]bool{
	"RegionName": true,
	"Attribute":  true,
	"Time":       true,
	"Unit":       true,
}

// ReadProjections reads exogenous trajectories. Every column beyond the keys
// names a commodity.
func ReadProjections(r io.Reader) ([]Projection, error) {
	t, err := readTable(r, "RegionName", "Attribute", "Time")
	if err != nil {
		return nil, err
	}
	comms := make([]string, 0, len(t.header))
	for col := range t.header {
		if !projectionKeyColumns[col] {
			comms = append(comms, col)
		}
	}
	sort.Strings(comms)
	if len(comms) == 0 {
		return nil, fmt.Errorf("ingest: projections: no commodity columns")
	}

	out := make([]Projection, 0, len(t.rows))
	for i, row := range t.rows {
		year, err := t.year(row, "Time")
		if err != nil {
			return nil, fmt.Errorf("ingest: projections row %d: %w", i+1, err)
		}
		p := Projection{
			Region:    t.get(row, "RegionName"),
			Attribute: t.get(row, "Attribute"),
			Year:      year,
			Values:    make(map[string]float64, len(comms)),
		}
		for _, comm := range comms {
			v, err := t.float(row, comm)
			if err != nil {
				return nil, fmt.Errorf("ingest: projections row %d: %w", i+1, err)
			}
			p.Values[comm] = v
		}
		out = append(out, p)
	}
	return out, nil
}
