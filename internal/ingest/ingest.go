// Package ingest reads the CSV input tables describing a model: technology
// parameters, commodity flow coefficients, existing capacity, the commodity
// catalog, and price or demand trajectories. Tables follow the layout of the
// original model data: a header row naming the columns, an optional units row
// directly beneath it, then one record per row.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// table is one parsed CSV file with a column index.
type table struct {
	header map[string]int
	rows   [][]string
}

func readTable(r io.Reader, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("ingest: table is empty")
	}
	t := &table{header: make(map[string]int, len(records[0]))}
	for i, name := range records[0] {
		t.header[strings.TrimSpace(name)] = i
	}
	for _, col := range required {
		if _, ok := t.header[col]; !ok {
			return nil, fmt.Errorf("ingest: missing column %q", col)
		}
	}
	t.rows = records[1:]
	if len(t.rows) > 0 && len(t.rows[0]) > 0 && strings.EqualFold(strings.TrimSpace(t.rows[0][0]), "unit") {
		t.rows = t.rows[1:]
	}
	return t, nil
}

func (t *table) has(col string) bool {
	_, ok := t.header[col]
	return ok
}

// get returns the trimmed cell under col, empty when the column is absent.
func (t *table) get(row []string, col string) string {
	i, ok := t.header[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t *table) float(row []string, col string) (float64, error) {
	s := t.get(row, col)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("column %q: bad number %q", col, s)
	}
	return v, nil
}

// floatOr parses the cell under col, falling back to def when the whole
// column is absent. Present but malformed cells are still errors.
func (t *table) floatOr(row []string, col string, def float64) (float64, error) {
	if !t.has(col) {
		return def, nil
	}
	return t.float(row, col)
}

func (t *table) year(row []string, col string) (int, error) {
	s := t.get(row, col)
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("column %q: bad year %q", col, s)
	}
	return y, nil
}
