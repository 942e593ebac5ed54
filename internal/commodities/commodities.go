package commodities

import (
	"fmt"
	"sort"
	"strings"
)

// Usage classifies what role a commodity plays for a technology. A commodity
// may play several roles at once, so Usage is a bit set.
type Usage uint8

const (
	Consumable Usage = 1 << iota
	Product
	Environmental
	Material
)

// Other marks commodities that carry no modelled role.
const Other Usage = 0

// Enduse is the conventional name for final-demand products.
const Enduse = Product

var usageNames = map[Usage]string{
	Consumable:    "consumable",
	Product:       "product",
	Environmental: "environmental",
	Material:      "material",
}

var usageValues = map[string]Usage{
	"consumable":    Consumable,
	"fuel":          Consumable,
	"product":       Product,
	"enduse":        Product,
	"environmental": Environmental,
	"pollutant":     Environmental,
	"material":      Material,
	"other":         Other,
}

// ParseUsage reads a usage declaration such as "product" or
// "product|environmental". Names are case-insensitive.
func ParseUsage(s string) (Usage, error) {
	u := Other
	for _, part := range strings.Split(s, "|") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		v, ok := usageValues[part]
		if !ok {
			return Other, fmt.Errorf("unknown commodity usage %q", part)
		}
		u |= v
	}
	return u, nil
}

func (u Usage) Has(flag Usage) bool { return u&flag != 0 }

// IsEnduse reports whether the commodity is a final service output. Pollutant
// outputs never count as enduses even when tagged as products.
func (u Usage) IsEnduse() bool { return u.Has(Product) && !u.Has(Environmental) }

func (u Usage) IsPollutant() bool  { return u.Has(Environmental) }
func (u Usage) IsFuel() bool       { return u.Has(Consumable) }
func (u Usage) IsMaterial() bool   { return u.Has(Material) }

func (u Usage) String() string {
	if u == Other {
		return "other"
	}
	parts := make([]string, 0, 4)
	for _, flag := range []Usage{Consumable, Product, Environmental, Material} {
		if u.Has(flag) {
			parts = append(parts, usageNames[flag])
		}
	}
	return strings.Join(parts, "|")
}

// Commodity is one tradeable or emitted good known to the model.
type Commodity struct {
	Name  string
	Unit  string
	Usage Usage
}

// Table indexes every commodity of a model run by name. It is built once at
// load time and never mutated afterwards; every dataset referencing a
// commodity shares the same table so usage tags stay consistent.
type Table map[string]Commodity

func NewTable(comms ...Commodity) Table {
	t := make(Table, len(comms))
	for _, c := range comms {
		t[c.Name] = c
	}
	return t
}

// Usage returns the usage tag for name, Other when unknown.
func (t Table) Usage(name string) Usage {
	return t[name].Usage
}

// Names returns every commodity name in sorted order.
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t Table) selectNames(keep func(Usage) bool) []string {
	names := make([]string, 0, len(t))
	for name, c := range t {
		if keep(c.Usage) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Enduses returns the names of final-demand commodities in sorted order.
func (t Table) Enduses() []string {
	return t.selectNames(Usage.IsEnduse)
}

// Pollutants returns the names of emitted commodities in sorted order.
func (t Table) Pollutants() []string {
	return t.selectNames(Usage.IsPollutant)
}

// Fuels returns the names of consumable commodities in sorted order.
func (t Table) Fuels() []string {
	return t.selectNames(Usage.IsFuel)
}

// Materials returns the names of material commodities in sorted order.
func (t Table) Materials() []string {
	return t.selectNames(Usage.IsMaterial)
}
