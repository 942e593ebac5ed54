package outputs

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/SGIModel/MUSE-OS/internal/tensor"
)

// Sink receives consolidated tables.
type Sink interface {
	Write(Table) error
}

// Discard drops every table.
var Discard Sink = discard{}

type discard struct{}

func (discard) Write(Table) error { return nil }

// CSVSink writes each table to <dir>/<sector>_<quantity>_<year>.csv in long
// format: one column per axis plus a value column, one row per element.
type CSVSink struct {
	dir string
}

func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("outputs: creating %s: %w", dir, err)
	}
	return &CSVSink{dir: dir}, nil
}

func (s *CSVSink) Write(t Table) error {
	name := fmt.Sprintf("%s_%s_%d.csv", t.Sector, t.Quantity, t.Year)
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := writeLong(w, t.Data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return f.Close()
}

func writeLong(w *csv.Writer, a *tensor.Array) error {
	axes := a.Axes()
	if len(axes) == 0 {
		return nil
	}
	header := make([]string, len(axes)+1)
	for i, ax := range axes {
		header[i] = ax.Name
	}
	header[len(axes)] = "value"
	if err := w.Write(header); err != nil {
		return err
	}
	for _, ax := range axes {
		if ax.Len() == 0 {
			return nil
		}
	}

	idx := make([]int, len(axes))
	labels := make([]string, len(axes))
	record := make([]string, len(axes)+1)
	for {
		for i, ax := range axes {
			labels[i] = ax.Label(idx[i])
			record[i] = labels[i]
		}
		record[len(axes)] = strconv.FormatFloat(a.MustAt(labels...), 'g', -1, 64)
		if err := w.Write(record); err != nil {
			return err
		}
		p := len(idx) - 1
		for p >= 0 {
			idx[p]++
			if idx[p] < axes[p].Len() {
				break
			}
			idx[p] = 0
			p--
		}
		if p < 0 {
			return nil
		}
	}
}
