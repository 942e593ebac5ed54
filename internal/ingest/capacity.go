package ingest

import (
	"fmt"
	"io"
	"sort"
	"strconv"
)

// ExistingCapacity is one installed asset's capacity trajectory as read from
// an ExistingCapacity.csv-shaped table: decommissioning is encoded directly
// in the year columns.
type ExistingCapacity struct {
	Technology string
	Region     string
	Unit       string
	Years      []int
	Capacity   []float64
}

// ReadExistingCapacity reads the installed base. Every all-digit column is a
// year; years are returned sorted.
func ReadExistingCapacity(r io.Reader) ([]ExistingCapacity, error) {
	t, err := readTable(r, "ProcessName", "RegionName")
	if err != nil {
		return nil, err
	}
	type yearCol struct {
		year int
		name string
	}
	var cols []yearCol
	for col := range t.header {
		if y, err := strconv.Atoi(col); err == nil {
			cols = append(cols, yearCol{year: y, name: col})
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("ingest: existing capacity: no year columns")
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].year < cols[j].year })

	out := make([]ExistingCapacity, 0, len(t.rows))
	for i, row := range t.rows {
		rec := ExistingCapacity{
			Technology: t.get(row, "ProcessName"),
			Region:     t.get(row, "RegionName"),
			Unit:       t.get(row, "Unit"),
			Years:      make([]int, len(cols)),
			Capacity:   make([]float64, len(cols)),
		}
		for j, c := range cols {
			v, err := t.float(row, c.name)
			if err != nil {
				return nil, fmt.Errorf("ingest: existing capacity row %d: %w", i+1, err)
			}
			rec.Years[j] = c.year
			rec.Capacity[j] = v
		}
		out = append(out, rec)
	}
	return out, nil
}
