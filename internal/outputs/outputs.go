// Package outputs caches named result quantities as the simulation runs and
// flushes them to a sink once a period is settled. Sectors report after every
// market response; because iterations before the last are rolled back, the
// cache keeps only the latest table per (quantity, sector, year) and a
// consolidated year holds exactly the converged state.
package outputs

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/SGIModel/MUSE-OS/internal/market"
	"github.com/SGIModel/MUSE-OS/internal/mca"
	"github.com/SGIModel/MUSE-OS/internal/registry"
	"github.com/SGIModel/MUSE-OS/internal/sector"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
)

// Table is one named output array for one sector and period. Market level
// quantities carry the sector name "market".
type Table struct {
	Quantity string
	Sector   string
	Year     int
	Data     *tensor.Array
}

// Extract pulls one quantity out of the run. A quantity comes either from
// sector reports or from the cleared market, so exactly one field is set.
type Extract struct {
	Report func(sector.Report) *tensor.Array
	Market func(*market.Snapshot) *tensor.Array
}

var quantities = registry.New[Extract]("output quantity")

// RegisterQuantity adds a named output quantity. Duplicate names panic.
func RegisterQuantity(name string, e Extract) { quantities.Register(e, name) }

// QuantityNames lists every registered quantity.
func QuantityNames() []string { return quantities.Names() }

func init() {
	RegisterQuantity("capacity", Extract{Report: func(r sector.Report) *tensor.Array { return r.Capacity }})
	RegisterQuantity("supply", Extract{Report: func(r sector.Report) *tensor.Array { return r.Supply }})
	RegisterQuantity("consumption", Extract{Report: func(r sector.Report) *tensor.Array { return r.Consumption }})
	RegisterQuantity("costs", Extract{Report: func(r sector.Report) *tensor.Array { return r.Costs }})
	RegisterQuantity("prices", Extract{Market: func(m *market.Snapshot) *tensor.Array { return m.Prices }})
}

// Cache collects tables for the enabled quantities, newest write winning,
// until Consolidate flushes a year to the sink. It implements mca.Callback so
// it can be handed straight to the runner.
type Cache struct {
	mu      sync.Mutex
	enabled map[string]Extract
	sink    Sink
	tables  map[tableKey]Table
}

type tableKey struct {
	quantity string
	sector   string
	year     int
}

// NewCache validates the quantity names against the registry; unknown names
// are configuration errors. A nil sink discards everything.
func NewCache(names []string, sink Sink) (*Cache, error) {
	if sink == nil {
		sink = Discard
	}
	enabled := make(map[string]Extract, len(names))
	for _, name := range names {
		e, err := quantities.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("outputs: %w", err)
		}
		enabled[name] = e
	}
	return &Cache{enabled: enabled, sink: sink, tables: make(map[tableKey]Table)}, nil
}

// Record caches the enabled report quantities for the report's sector and
// year, replacing anything an earlier iteration left behind. Its signature
// matches sector.Sink.
func (c *Cache) Record(r sector.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, e := range c.enabled {
		if e.Report == nil {
			continue
		}
		data := e.Report(r)
		if data == nil {
			continue
		}
		k := tableKey{quantity: name, sector: r.Sector, year: r.Year}
		c.tables[k] = Table{Quantity: name, Sector: r.Sector, Year: r.Year, Data: data}
	}
}

// RecordMarket caches the enabled market quantities under the sector name
// "market".
func (c *Cache) RecordMarket(year int, m *market.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, e := range c.enabled {
		if e.Market == nil {
			continue
		}
		data := e.Market(m)
		if data == nil {
			continue
		}
		k := tableKey{quantity: name, sector: "market", year: year}
		c.tables[k] = Table{Quantity: name, Sector: "market", Year: year, Data: data}
	}
}

// Consolidate flushes every cached table for the year to the sink, ordered by
// quantity then sector, and drops them from the cache.
func (c *Cache) Consolidate(year int) error {
	c.mu.Lock()
	flush := make([]Table, 0, len(c.tables))
	for k, t := range c.tables {
		if k.year != year {
			continue
		}
		flush = append(flush, t)
		delete(c.tables, k)
	}
	c.mu.Unlock()

	sort.Slice(flush, func(i, j int) bool {
		if flush[i].Quantity != flush[j].Quantity {
			return flush[i].Quantity < flush[j].Quantity
		}
		return flush[i].Sector < flush[j].Sector
	})
	for _, t := range flush {
		if err := c.sink.Write(t); err != nil {
			return fmt.Errorf("outputs: writing %s/%s/%d: %w", t.Quantity, t.Sector, t.Year, err)
		}
	}
	return nil
}

// Pending returns the number of cached, not yet consolidated tables.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tables)
}

// OnIteration is part of mca.Callback. Iterations need no caching: the sector
// sinks already fire once per iteration and overwrite each other.
func (c *Cache) OnIteration(mca.Event) {}

// OnPeriod records the cleared market's quantities and consolidates the
// period's tables.
func (c *Cache) OnPeriod(p mca.Period, m *market.Snapshot) {
	c.RecordMarket(p.Year, m)
	if err := c.Consolidate(p.Year); err != nil {
		slog.Error("consolidating outputs", "year", p.Year, "err", err)
	}
}
