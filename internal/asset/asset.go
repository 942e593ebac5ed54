// Package asset identifies installed capacity. An asset is one (technology,
// region, installation year) unit; its capacity trajectory lives on a tensor
// axis labeled with the asset's canonical key.
package asset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/SGIModel/MUSE-OS/internal/technology"
	"github.com/SGIModel/MUSE-OS/internal/tensor"
)

// AxisName is the canonical axis name for asset dimensions.
const AxisName = "asset"

// Key identifies one asset. Two assets with equal keys are the same asset
// and their capacities may be summed.
type Key struct {
	Technology  string
	Region      string
	InstallYear int
}

// Label renders the key in its canonical axis-label form.
func (k Key) Label() string {
	return k.Technology + "|" + k.Region + "|" + strconv.Itoa(k.InstallYear)
}

// ParseLabel reads a canonical asset label back into a key.
func ParseLabel(label string) (Key, error) {
	parts := strings.Split(label, "|")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("malformed asset label %q", label)
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return Key{}, fmt.Errorf("malformed asset label %q: %w", label, err)
	}
	return Key{Technology: parts[0], Region: parts[1], InstallYear: year}, nil
}

// TechnologyOf extracts the technology from a canonical asset label.
func TechnologyOf(label string) string {
	if i := strings.IndexByte(label, '|'); i >= 0 {
		return label[:i]
	}
	return label
}

// RegionOf extracts the region from a canonical asset label.
func RegionOf(label string) string {
	parts := strings.Split(label, "|")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// Axis builds an asset axis for the given keys.
func Axis(keys []Key) tensor.Axis {
	labels := make([]string, len(keys))
	for i, k := range keys {
		labels[i] = k.Label()
	}
	return tensor.NewAxis(AxisName, labels)
}

// Keys parses every label of an asset axis.
func Keys(ax tensor.Axis) ([]Key, error) {
	keys := make([]Key, ax.Len())
	for i := 0; i < ax.Len(); i++ {
		k, err := ParseLabel(ax.Label(i))
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	return keys, nil
}

// Broadcast re-expresses a (technology, region, ...)-indexed array on an
// asset axis: asset i takes the values of its own technology and region. The
// remaining axes are kept.
func Broadcast(arr *tensor.Array, keys []Key) (*tensor.Array, error) {
	parts := make([]*tensor.Array, len(keys))
	for i, k := range keys {
		byTech, err := arr.Pick(technology.AxisTechnology, k.Technology)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", k.Label(), err)
		}
		part := byTech
		if byTech.HasAxis(technology.AxisRegion) {
			if part, err = byTech.Pick(technology.AxisRegion, k.Region); err != nil {
				return nil, fmt.Errorf("asset %s: %w", k.Label(), err)
			}
		}
		parts[i] = part
	}
	if len(parts) == 0 {
		return tensor.New(Axis(nil)), nil
	}
	return tensor.Stack(Axis(keys), parts)
}

// GroupByTechnology sums an asset-indexed array over assets sharing a
// technology, relabeling the axis with bare technology names.
func GroupByTechnology(arr *tensor.Array) (*tensor.Array, error) {
	return arr.GroupSum(AxisName, TechnologyOf)
}

// Reduce merges capacity arrays over the union of their asset labels,
// summing the capacities of genuinely identical assets. All arrays must
// share their non-asset axes.
func Reduce(arrs ...*tensor.Array) (*tensor.Array, error) {
	var labels []string
	seen := map[string]bool{}
	for _, arr := range arrs {
		ax, ok := arr.Axis(AxisName)
		if !ok {
			return nil, fmt.Errorf("%w: no asset axis", tensor.ErrDimensionMismatch)
		}
		for _, l := range ax.Labels() {
			if !seen[l] {
				seen[l] = true
				labels = append(labels, l)
			}
		}
	}
	if len(arrs) == 0 {
		return tensor.New(Axis(nil)), nil
	}
	var total *tensor.Array
	for _, arr := range arrs {
		r, err := arr.Reindex(AxisName, labels, 0)
		if err != nil {
			return nil, err
		}
		if total == nil {
			total = r
		} else {
			total = total.Add(r)
		}
	}
	return total, nil
}
