package mirror

import "mirror-engine/pkg/types"

// EngineEvent is the typed replacement for the source's position-opened /
// position-closed callbacks (§9): each worker emits one per finished fill on
// the channel the supervisor hands it (cmd/mirrord drains and logs it),
// directly the teacher's dashboardEvents chan DashboardEvent pattern renamed
// to this domain. Notifications do not pass through this channel; the worker
// sends them to its notify.Sink directly.
type EngineEvent struct {
	Account        string
	Classification types.Classification
	Symbol         string
	Side           types.Side
	Size           float64
	Price          float64
	Leverage       int
	RealizedPnL    float64
	Reason         string
	TWAPProgress   string // e.g. "3/5" when part of a TWAP parent
	Err            error
}
