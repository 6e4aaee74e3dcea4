// Package store persists the local event log: an append-only record of
// SourceFills and SourceOrders per account, with a status column the engine
// flips as it dispatches each one. The storage engine itself is an external
// collaborator (§1 Non-goals); this package only defines the query surface
// the engine needs (mirror.EventStore) and a couple of concrete, swappable
// backings for running the repo standalone.
package store

import (
	"context"
	"fmt"
	"sync"

	"mirror-engine/internal/mirror"
	"mirror-engine/pkg/types"
)

// record is one stored fill or order, keyed by (account, kind, id).
type record struct {
	kind   mirror.EventKind
	id     int64
	status types.Status
	fill   mirror.SourceFill
	order  mirror.SourceOrder
}

// MemStore is an in-memory EventStore used by tests; cmd/mirrord uses
// FileStore instead. All operations
// are mutex-protected — the store is written by the source listener
// goroutine and read by the engine loop concurrently (§5).
type MemStore struct {
	mu      sync.Mutex
	records map[string][]*record // account -> records, insertion order
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string][]*record)}
}

// AppendFill appends a new pending fill for account. Test/seed helper —
// the real source listener is out of scope.
func (s *MemStore) AppendFill(account string, f mirror.SourceFill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[account] = append(s.records[account], &record{kind: mirror.EventFill, id: f.ID, status: types.StatusPending, fill: f})
}

// AppendOrder appends a new pending order for account.
func (s *MemStore) AppendOrder(account string, o mirror.SourceOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[account] = append(s.records[account], &record{kind: mirror.EventOrder, id: o.ID, status: types.StatusPending, order: o})
}

// PendingFills implements mirror.EventStore.
func (s *MemStore) PendingFills(ctx context.Context, account string) ([]mirror.SourceFill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []mirror.SourceFill
	for _, r := range s.records[account] {
		if r.kind == mirror.EventFill && r.status == types.StatusPending {
			out = append(out, r.fill)
		}
	}
	sortFills(out)
	return out, nil
}

// PendingOrders implements mirror.EventStore.
func (s *MemStore) PendingOrders(ctx context.Context, account string) ([]mirror.SourceOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []mirror.SourceOrder
	for _, r := range s.records[account] {
		if r.kind == mirror.EventOrder && r.status == types.StatusPending {
			out = append(out, r.order)
		}
	}
	sortOrders(out)
	return out, nil
}

// UpdateStatus implements mirror.EventStore: the single write the engine
// issues, flipping one record's status column by id.
func (s *MemStore) UpdateStatus(ctx context.Context, account string, kind mirror.EventKind, id int64, status types.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records[account] {
		if r.kind == kind && r.id == id {
			r.status = status
			return nil
		}
	}
	return fmt.Errorf("store: no %s record %d for account %q", kind, id, account)
}

// ProcessedPage implements mirror.EventStore: a page of terminal-status
// records for account, paginated by timestamp desc.
func (s *MemStore) ProcessedPage(ctx context.Context, account string, offset, limit int) ([]mirror.ProcessedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []mirror.ProcessedRecord
	for _, r := range s.records[account] {
		if !r.status.Terminal() {
			continue
		}
		ts := r.fill.Timestamp
		if r.kind == mirror.EventOrder {
			ts = r.order.Timestamp
		}
		all = append(all, mirror.ProcessedRecord{Kind: r.kind, ID: r.id, Account: account, Timestamp: ts, Status: r.status})
	}
	sortProcessedDesc(all)

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) || limit <= 0 {
		end = len(all)
	}
	return all[offset:end], nil
}

var _ mirror.EventStore = (*MemStore)(nil)
