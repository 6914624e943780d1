package device

import (
	"fmt"
	"sort"
)

// Order is the caller's priority list of kinds, highest priority first.
type Order []Kind

// DefaultOrder prefers a headset of any sort over the built-in hardware.
func DefaultOrder() Order { return Order(Kinds()) }

// NewOrder validates kinds and appends any missing kind in default order, so
// the result always ranks every kind exactly once.
func NewOrder(kinds ...Kind) (Order, error) {
	seen := make(map[Kind]bool, len(kinds))
	out := make(Order, 0, len(kindNames))
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("preferred order: unknown device kind %d", int(k))
		}
		if seen[k] {
			return nil, fmt.Errorf("preferred order: %s listed twice", k)
		}
		seen[k] = true
		out = append(out, k)
	}
	for _, k := range Kinds() {
		if !seen[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

// Rank returns the position of k; unknown kinds rank last.
func (o Order) Rank(k Kind) int {
	for i, ok := range o {
		if ok == k {
			return i
		}
	}
	return len(o)
}

// Sort orders devices by priority in place.
func (o Order) Sort(devices []Device) {
	sort.SliceStable(devices, func(i, j int) bool {
		return o.Rank(devices[i].Kind) < o.Rank(devices[j].Kind)
	})
}

func (o Order) String() string {
	return fmt.Sprint([]Kind(o))
}
