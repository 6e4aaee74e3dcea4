package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"mirror-engine/internal/mirror"
	"mirror-engine/pkg/types"
)

// fileRecord is the on-disk shape of one stored event.
type fileRecord struct {
	Kind   mirror.EventKind   `json:"kind"`
	Status types.Status       `json:"status"`
	Fill   *mirror.SourceFill  `json:"fill,omitempty"`
	Order  *mirror.SourceOrder `json:"order,omitempty"`
}

// FileStore persists each account's event log as a JSON file, following
// the teacher's store.Store: atomic write-then-rename so a crash never
// leaves a partially-written file, all operations serialized by a mutex.
// It is a stand-in for a real database — adequate for running the repo
// standalone, not a production storage engine (§1 Non-goals).
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// Open creates a FileStore backed by dir, creating it if necessary.
func Open(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(account string) string {
	return filepath.Join(s.dir, "events_"+account+".json")
}

func (s *FileStore) load(account string) ([]fileRecord, error) {
	data, err := os.ReadFile(s.path(account))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read event log: %w", err)
	}
	var recs []fileRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("unmarshal event log: %w", err)
	}
	return recs, nil
}

func (s *FileStore) save(account string, recs []fileRecord) error {
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("marshal event log: %w", err)
	}
	path := s.path(account)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write event log: %w", err)
	}
	return os.Rename(tmp, path)
}

// AppendFill appends a new pending fill for account.
func (s *FileStore) AppendFill(account string, f mirror.SourceFill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load(account)
	if err != nil {
		return err
	}
	recs = append(recs, fileRecord{Kind: mirror.EventFill, Status: types.StatusPending, Fill: &f})
	return s.save(account, recs)
}

// AppendOrder appends a new pending order for account.
func (s *FileStore) AppendOrder(account string, o mirror.SourceOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load(account)
	if err != nil {
		return err
	}
	recs = append(recs, fileRecord{Kind: mirror.EventOrder, Status: types.StatusPending, Order: &o})
	return s.save(account, recs)
}

// PendingFills implements mirror.EventStore.
func (s *FileStore) PendingFills(ctx context.Context, account string) ([]mirror.SourceFill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load(account)
	if err != nil {
		return nil, err
	}
	var out []mirror.SourceFill
	for _, r := range recs {
		if r.Kind == mirror.EventFill && r.Status == types.StatusPending && r.Fill != nil {
			out = append(out, *r.Fill)
		}
	}
	sortFills(out)
	return out, nil
}

// PendingOrders implements mirror.EventStore.
func (s *FileStore) PendingOrders(ctx context.Context, account string) ([]mirror.SourceOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load(account)
	if err != nil {
		return nil, err
	}
	var out []mirror.SourceOrder
	for _, r := range recs {
		if r.Kind == mirror.EventOrder && r.Status == types.StatusPending && r.Order != nil {
			out = append(out, *r.Order)
		}
	}
	sortOrders(out)
	return out, nil
}

// UpdateStatus implements mirror.EventStore.
func (s *FileStore) UpdateStatus(ctx context.Context, account string, kind mirror.EventKind, id int64, status types.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load(account)
	if err != nil {
		return err
	}
	for i := range recs {
		r := &recs[i]
		if r.Kind != kind {
			continue
		}
		if (r.Kind == mirror.EventFill && r.Fill != nil && r.Fill.ID == id) ||
			(r.Kind == mirror.EventOrder && r.Order != nil && r.Order.ID == id) {
			r.Status = status
			return s.save(account, recs)
		}
	}
	return fmt.Errorf("store: no %s record %d for account %q", kind, id, account)
}

// ProcessedPage implements mirror.EventStore.
func (s *FileStore) ProcessedPage(ctx context.Context, account string, offset, limit int) ([]mirror.ProcessedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load(account)
	if err != nil {
		return nil, err
	}

	var all []mirror.ProcessedRecord
	for _, r := range recs {
		if !r.Status.Terminal() {
			continue
		}
		switch r.Kind {
		case mirror.EventFill:
			if r.Fill != nil {
				all = append(all, mirror.ProcessedRecord{Kind: r.Kind, ID: r.Fill.ID, Account: account, Timestamp: r.Fill.Timestamp, Status: r.Status})
			}
		case mirror.EventOrder:
			if r.Order != nil {
				all = append(all, mirror.ProcessedRecord{Kind: r.Kind, ID: r.Order.ID, Account: account, Timestamp: r.Order.Timestamp, Status: r.Status})
			}
		}
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

var _ mirror.EventStore = (*FileStore)(nil)
