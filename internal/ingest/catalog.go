package ingest

import (
	"fmt"
	"io"

	"github.com/SGIModel/MUSE-OS/internal/commodities"
)

// ReadCommodities reads a GlobalCommodities.csv-shaped catalog. The
// CommodityType column takes usage declarations such as "product" or
// "product|environmental".
func ReadCommodities(r io.Reader) ([]commodities.Commodity, error) {
	t, err := readTable(r, "Commodity", "CommodityType")
	if err != nil {
		return nil, err
	}
	out := make([]commodities.Commodity, 0, len(t.rows))
	for i, row := range t.rows {
		name := t.get(row, "Commodity")
		if name == "" {
			return nil, fmt.Errorf("ingest: commodities row %d: column %q: empty", i+1, "Commodity")
		}
		usage, err := commodities.ParseUsage(t.get(row, "CommodityType"))
		if err != nil {
			return nil, fmt.Errorf("ingest: commodities row %d: %w", i+1, err)
		}
		out = append(out, commodities.Commodity{
			Name:  name,
			Unit:  t.get(row, "Unit"),
			Usage: usage,
		})
	}
	return out, nil
}
