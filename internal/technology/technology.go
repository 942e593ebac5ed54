// Package technology holds the immutable descriptive dataset for candidate
// and installed technologies: input/output coefficients, cost parameters, and
// lifetime/financing data, indexed by technology, region, year, and
// commodity.
package technology

import (
	"fmt"
	"sort"

	"github.com/SGIModel/MUSE-OS/internal/commodities"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
)

// Canonical axis names used by the dataset arrays.
const (
	AxisTechnology = "technology"
	AxisRegion     = "region"
	AxisYear       = "year"
	AxisCommodity  = "commodity"
)

// Parameters carries the scalar descriptors of one technology in one region
// and characterization year.
type Parameters struct {
	Technology string
	Region     string
	Year       int

	CapPar float64
	CapExp float64
	FixPar float64
	FixExp float64
	VarPar float64
	VarExp float64

	UtilizationFactor float64
	TechnicalLife     float64
	InterestRate      float64
	ScalingSize       float64
	Efficiency        float64

	Type string
	Fuel string
}

// Coefficient carries one technology-commodity coupling: production per unit
// capacity and consumption per unit production.
type Coefficient struct {
	Technology string
	Region     string
	Year       int
	Commodity  string

	FixedOutput   float64
	FixedInput    float64
	FlexibleInput float64
}

// Dataset is the loaded technology data. It is immutable once constructed;
// year resampling returns a new dataset.
type Dataset struct {
	comms   commodities.Table
	techs   []string
	regions []string
	years   []int

	fixedOutputs   *tensor.Array // (technology, region, year, commodity)
	fixedInputs    *tensor.Array
	flexibleInputs *tensor.Array

	utilization   *tensor.Array // (technology, region, year)
	technicalLife *tensor.Array
	interestRate  *tensor.Array
	scalingSize   *tensor.Array
	efficiency    *tensor.Array
	capPar        *tensor.Array
	capExp        *tensor.Array
	fixPar        *tensor.Array
	fixExp        *tensor.Array
	varPar        *tensor.Array
	varExp        *tensor.Array

	techType map[string]string
	fuel     map[string]string
}

// New builds a dataset from parameter and coefficient records. Every
// coefficient must reference a commodity from the table and a (technology,
// region, year) present in the parameters.
func New(table commodities.Table, params []Parameters, coeffs []Coefficient) (*Dataset, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("technology dataset has no parameters")
	}

	techSet := map[string]bool{}
	regionSet := map[string]bool{}
	yearSet := map[int]bool{}
	for _, p := range params {
		techSet[p.Technology] = true
		regionSet[p.Region] = true
		yearSet[p.Year] = true
	}
	d := &Dataset{
		comms:    table,
		techs:    sortedKeys(techSet),
		regions:  sortedKeys(regionSet),
		techType: make(map[string]string, len(techSet)),
		fuel:     make(map[string]string, len(techSet)),
	}
	for y := range yearSet {
		d.years = append(d.years, y)
	}
	sort.Ints(d.years)

	techAxis := tensor.NewAxis(AxisTechnology, d.techs)
	regionAxis := tensor.NewAxis(AxisRegion, d.regions)
	yearAxis := tensor.YearAxis(d.years)
	commAxis := tensor.NewAxis(AxisCommodity, table.Names())

	scalar := func() *tensor.Array { return tensor.New(techAxis, regionAxis, yearAxis) }
	d.utilization = scalar()
	d.technicalLife = scalar()
	d.interestRate = scalar()
	d.scalingSize = scalar()
	d.efficiency = scalar()
	d.capPar = scalar()
	d.capExp = scalar()
	d.fixPar = scalar()
	d.fixExp = scalar()
	d.varPar = scalar()
	d.varExp = scalar()

	d.fixedOutputs = tensor.New(techAxis, regionAxis, yearAxis, commAxis)
	d.fixedInputs = tensor.New(techAxis, regionAxis, yearAxis, commAxis)
	d.flexibleInputs = tensor.New(techAxis, regionAxis, yearAxis, commAxis)

	for _, p := range params {
		yl := yearLabel(p.Year)
		set := func(arr *tensor.Array, v float64) {
			arr.MustSet(v, p.Technology, p.Region, yl)
		}
		set(d.utilization, p.UtilizationFactor)
		set(d.technicalLife, p.TechnicalLife)
		set(d.interestRate, p.InterestRate)
		set(d.scalingSize, p.ScalingSize)
		set(d.efficiency, p.Efficiency)
		set(d.capPar, p.CapPar)
		set(d.capExp, p.CapExp)
		set(d.fixPar, p.FixPar)
		set(d.fixExp, p.FixExp)
		set(d.varPar, p.VarPar)
		set(d.varExp, p.VarExp)
		if p.Type != "" {
			d.techType[p.Technology] = p.Type
		}
		if p.Fuel != "" {
			d.fuel[p.Technology] = p.Fuel
		}
	}

	for _, c := range coeffs {
		if _, known := table[c.Commodity]; !known {
			return nil, fmt.Errorf("coefficient for %s references unknown commodity %q", c.Technology, c.Commodity)
		}
		if !techSet[c.Technology] || !regionSet[c.Region] || !yearSet[c.Year] {
			return nil, fmt.Errorf("coefficient references %s/%s/%d absent from parameters", c.Technology, c.Region, c.Year)
		}
		yl := yearLabel(c.Year)
		d.fixedOutputs.MustSet(c.FixedOutput, c.Technology, c.Region, yl, c.Commodity)
		d.fixedInputs.MustSet(c.FixedInput, c.Technology, c.Region, yl, c.Commodity)
		d.flexibleInputs.MustSet(c.FlexibleInput, c.Technology, c.Region, yl, c.Commodity)
	}
	return d, nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func yearLabel(y int) string {
	return tensor.YearAxis([]int{y}).Label(0)
}

func (d *Dataset) Commodities() commodities.Table { return d.comms }
func (d *Dataset) Technologies() []string         { return append([]string(nil), d.techs...) }
func (d *Dataset) Regions() []string              { return append([]string(nil), d.regions...) }

func (d *Dataset) Years() []int { return append([]int(nil), d.years...) }

// Type returns the technology-type tag, "" when untagged.
func (d *Dataset) Type(tech string) string { return d.techType[tech] }

// Fuel returns the primary fuel tag, "" when untagged.
func (d *Dataset) Fuel(tech string) string { return d.fuel[tech] }

func (d *Dataset) FixedOutputs() *tensor.Array   { return d.fixedOutputs }
func (d *Dataset) FixedInputs() *tensor.Array    { return d.fixedInputs }
func (d *Dataset) FlexibleInputs() *tensor.Array { return d.flexibleInputs }

func (d *Dataset) UtilizationFactor() *tensor.Array { return d.utilization }
func (d *Dataset) TechnicalLife() *tensor.Array     { return d.technicalLife }
func (d *Dataset) InterestRate() *tensor.Array      { return d.interestRate }
func (d *Dataset) ScalingSize() *tensor.Array       { return d.scalingSize }
func (d *Dataset) Efficiency() *tensor.Array        { return d.efficiency }
func (d *Dataset) CapPar() *tensor.Array            { return d.capPar }
func (d *Dataset) CapExp() *tensor.Array            { return d.capExp }
func (d *Dataset) FixPar() *tensor.Array            { return d.fixPar }
func (d *Dataset) FixExp() *tensor.Array            { return d.fixExp }
func (d *Dataset) VarPar() *tensor.Array            { return d.varPar }
func (d *Dataset) VarExp() *tensor.Array            { return d.varExp }

// EnduseOutputs returns fixed outputs restricted to enduse commodities.
func (d *Dataset) EnduseOutputs() *tensor.Array {
	out, err := d.fixedOutputs.SelWhere(AxisCommodity, func(name string) bool {
		return d.comms.Usage(name).IsEnduse()
	})
	if err != nil {
		panic(err)
	}
	return out
}

// PollutantOutputs returns fixed outputs restricted to pollutant commodities.
func (d *Dataset) PollutantOutputs() *tensor.Array {
	out, err := d.fixedOutputs.SelWhere(AxisCommodity, func(name string) bool {
		return d.comms.Usage(name).IsPollutant()
	})
	if err != nil {
		panic(err)
	}
	return out
}

// InterpYears resamples every year-indexed parameter to the requested years,
// holding boundary values outside the covered range.
func (d *Dataset) InterpYears(years []int) (*Dataset, error) {
	out := &Dataset{
		comms:    d.comms,
		techs:    d.techs,
		regions:  d.regions,
		techType: d.techType,
		fuel:     d.fuel,
		years:    append([]int(nil), years...),
	}
	sort.Ints(out.years)

	var err error
	resample := func(arr *tensor.Array) *tensor.Array {
		if err != nil {
			return nil
		}
		var r *tensor.Array
		r, err = arr.InterpYears(AxisYear, out.years)
		return r
	}
	out.fixedOutputs = resample(d.fixedOutputs)
	out.fixedInputs = resample(d.fixedInputs)
	out.flexibleInputs = resample(d.flexibleInputs)
	out.utilization = resample(d.utilization)
	out.technicalLife = resample(d.technicalLife)
	out.interestRate = resample(d.interestRate)
	out.scalingSize = resample(d.scalingSize)
	out.efficiency = resample(d.efficiency)
	out.capPar = resample(d.capPar)
	out.capExp = resample(d.capExp)
	out.fixPar = resample(d.fixPar)
	out.fixExp = resample(d.fixExp)
	out.varPar = resample(d.varPar)
	out.varExp = resample(d.varExp)
	if err != nil {
		return nil, fmt.Errorf("interpolating technology data: %w", err)
	}
	return out, nil
}
