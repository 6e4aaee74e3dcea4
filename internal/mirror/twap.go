package mirror

import (
	"strconv"
	"time"
)

// TWAPAggregator groups fills sharing one TWAP identifier into one logical
// parent and exposes running totals so notifications can report "slice i of
// N". State lives for the engine's lifetime: the source never declares a
// TWAP parent complete, so — per the Open Question resolution recorded in
// SPEC_FULL.md/DESIGN.md — this implementation preserves that behavior
// rather than inventing a watermark-based GC.
type TWAPAggregator struct {
	orders map[string]*TWAPOrder
}

// NewTWAPAggregator wraps the per-account TWAP map owned by State.
func NewTWAPAggregator(orders map[string]*TWAPOrder) *TWAPAggregator {
	return &TWAPAggregator{orders: orders}
}

// IsParent reports whether oid is already known as a TWAP parent.
func (a *TWAPAggregator) IsParent(oid string) bool {
	_, ok := a.orders[oid]
	return ok
}

// Slice records a new observed slice for oid, creating the parent on first
// sight, and returns the (possibly new) TWAPOrder.
func (a *TWAPAggregator) Slice(oid string, size float64, at time.Time) *TWAPOrder {
	order, ok := a.orders[oid]
	if !ok {
		order = &TWAPOrder{FirstSeen: at}
		a.orders[oid] = order
	}
	order.SliceCount++
	order.TotalSize += size
	order.LastSeen = at
	return order
}

// Followed records that the destination venue successfully executed a
// slice belonging to oid.
func (a *TWAPAggregator) Followed(oid string, filledSize float64) {
	order, ok := a.orders[oid]
	if !ok {
		return
	}
	order.FollowedCount++
	order.FollowedSize += filledSize
}

// Progress renders the "followed_count/slice_count" notification text.
func (a *TWAPAggregator) Progress(oid string) string {
	order, ok := a.orders[oid]
	if !ok {
		return ""
	}
	return progressString(order.FollowedCount, order.SliceCount)
}

func progressString(followed, total int) string {
	return strconv.Itoa(followed) + "/" + strconv.Itoa(total)
}
