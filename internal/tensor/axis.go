package tensor

import (
	"fmt"
	"strconv"
)

// Axis is one named dimension of an Array with an ordered set of string
// labels. Axes are value types; the label slice is copied on construction and
// never mutated afterwards.
type Axis struct {
	Name   string
	labels []string
	index  map[string]int
}

func NewAxis(name string, labels []string) Axis {
	ls := make([]string, len(labels))
	copy(ls, labels)
	idx := make(map[string]int, len(ls))
	for i, l := range ls {
		idx[l] = i
	}
	return Axis{Name: name, labels: ls, index: idx}
}

// YearAxis builds an axis named "year" whose labels are decimal years.
func YearAxis(years []int) Axis {
	labels := make([]string, len(years))
	for i, y := range years {
		labels[i] = strconv.Itoa(y)
	}
	return NewAxis("year", labels)
}

func (a Axis) Len() int { return len(a.labels) }

// Labels returns a copy of the axis labels.
func (a Axis) Labels() []string {
	ls := make([]string, len(a.labels))
	copy(ls, a.labels)
	return ls
}

func (a Axis) Label(i int) string { return a.labels[i] }

// Index returns the position of label on the axis.
func (a Axis) Index(label string) (int, bool) {
	i, ok := a.index[label]
	return i, ok
}

func (a Axis) Has(label string) bool {
	_, ok := a.index[label]
	return ok
}

// Years parses the axis labels as decimal years.
func (a Axis) Years() ([]int, error) {
	years := make([]int, len(a.labels))
	for i, l := range a.labels {
		y, err := strconv.Atoi(l)
		if err != nil {
			return nil, fmt.Errorf("axis %s: label %q is not a year: %w", a.Name, l, err)
		}
		years[i] = y
	}
	return years, nil
}

// sameAs reports whether b has the same name and identical labels in the same
// order.
func (a Axis) sameAs(b Axis) bool {
	if a.Name != b.Name || len(a.labels) != len(b.labels) {
		return false
	}
	for i, l := range a.labels {
		if b.labels[i] != l {
			return false
		}
	}
	return true
}

// intersect keeps a's labels that also appear on b, preserving a's order.
func (a Axis) intersect(b Axis) Axis {
	kept := make([]string, 0, len(a.labels))
	for _, l := range a.labels {
		if b.Has(l) {
			kept = append(kept, l)
		}
	}
	return NewAxis(a.Name, kept)
}
