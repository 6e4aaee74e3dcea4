package mirror

import (
	"context"
	"time"

	"mirror-engine/pkg/types"
)

// EventKind discriminates which per-account table a stored event belongs
// to — the local event store keeps fills and orders in separate append-only
// logs (§6).
type EventKind string

const (
	EventFill  EventKind = "fill"
	EventOrder EventKind = "order"
)

// ProcessedRecord is one row of the "processed events, paginated by
// timestamp desc" query (§6) — used by the notification/audit surface, not
// by the dispatch loop itself.
type ProcessedRecord struct {
	Kind      EventKind
	ID        int64
	Account   string
	Timestamp time.Time
	Status    types.Status
}

// EventStore is the local event store's query surface (§6): a
// database/sql-shaped interface so the actual storage engine stays
// swappable. It is declared here, not in package store, so worker.go can be
// tested against an in-memory double without pulling in a storage backend —
// the same pattern as VenueAdapter in venue_adapter.go.
type EventStore interface {
	// PendingFills returns account's fills with status=pending, ordered by
	// (timestamp, id).
	PendingFills(ctx context.Context, account string) ([]SourceFill, error)

	// PendingOrders returns account's orders with status=pending, ordered
	// by (timestamp, id).
	PendingOrders(ctx context.Context, account string) ([]SourceOrder, error)

	// UpdateStatus flips the status column for one event by id. It is the
	// only write the engine issues against the store.
	UpdateStatus(ctx context.Context, account string, kind EventKind, id int64, status types.Status) error

	// ProcessedPage returns a page of already-dispatched events for
	// account, paginated by timestamp desc.
	ProcessedPage(ctx context.Context, account string, offset, limit int) ([]ProcessedRecord, error)
}
