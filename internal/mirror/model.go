// Package mirror implements the per-account trade-mirroring engine: event
// classification, position bookkeeping, and the handlers that turn a
// classified source event into one or more destination-venue actions.
package mirror

import (
	"time"

	"mirror-engine/pkg/types"
)

// SourceFill is one execution reported by the source venue. Direction is a
// free-form label (the source venue is dynamically typed); Kind lets a
// record carry its shape explicitly rather than being distinguished only by
// which optional fields are set.
type SourceFill struct {
	Kind string // always "fill"

	ID            int64  // monotonic local id, 0 if not yet assigned
	TxHash        string // opaque; the sentinel all-zeros value means "synthetic"
	Timestamp     time.Time
	Coin          string
	Side          types.Side
	Size          float64 // positive
	Price         float64 // positive
	Direction     string  // e.g. "Open Long", "Close Short", "Long > Short"
	StartPosition float64 // signed; position size before this fill
	ClosedPnL     float64 // signed; nonzero implies realized
	OID           string  // optional TWAP parent id
}

// SentinelTxHash is the all-zeros value meaning "synthetic, not a real chain
// transaction" — such fills are never deduplicated via ProcessedTxHashSet.
const SentinelTxHash = "0x0000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000"

// IsSentinelTxHash reports whether hash is the all-zeros sentinel.
func IsSentinelTxHash(hash string) bool {
	if hash == "" {
		return true
	}
	for _, c := range hash {
		if c != '0' && c != 'x' {
			return false
		}
	}
	return true
}

// OrderAction enumerates the lifecycle actions a SourceOrder can carry.
type OrderAction string

const (
	OrderPlaced   OrderAction = "placed"
	OrderCanceled OrderAction = "canceled"
)

// SourceOrder is one order event reported by the source venue.
type SourceOrder struct {
	Kind string // always "order"

	ID        int64
	Timestamp time.Time
	Coin      string
	Action    OrderAction
	Side      types.Side
	Size      float64
	Price     float64
	OrderID   string // source-side order id
}

// DestinationPosition is a snapshot read live from the destination venue.
// It is never cached across operations; every handler re-queries it.
type DestinationPosition struct {
	Symbol   string
	Side     types.Side
	Size     float64 // >= 0
	AvgPrice float64
}

// ForcedLiquidationMemoKind distinguishes a bot-initiated close that
// followed the source trader from one forced by a destination-venue
// constraint (e.g. a reduce that fell below the minimum lot).
type ForcedLiquidationMemoKind string

const (
	MemoFollow ForcedLiquidationMemoKind = "follow"
	MemoForced ForcedLiquidationMemoKind = "forced"
)

// ForcedLiquidationMemo records why a position was closed, for a short
// window, so downstream analytics can tell a bot-initiated close from a
// user-initiated one.
type ForcedLiquidationMemo struct {
	Time   time.Time
	Kind   ForcedLiquidationMemoKind
	Reason string
	Sizes  string
}

// TWAPOrder aggregates the slices of one source-side TWAP parent, keyed by
// (account, oid) at the caller's level.
type TWAPOrder struct {
	SliceCount    int
	FollowedCount int
	TotalSize     float64
	FollowedSize  float64
	FirstSeen     time.Time
	LastSeen      time.Time
}
